// Package jsonfs implements a FUSE filesystem whose entire state lives in a
// single JSON document.
//
// Every directory and file, with its stat metadata and contents, is a node in
// that document. The package has two layers:
//
//   - Engine runs filesystem operations (getattr, readdir, create, open,
//     read, write, truncate, mkdir, unlink, rmdir, rename, chmod, chown,
//     utimens) against the document. Each call loads the document, applies
//     the operation and, if it mutated anything, saves it atomically before
//     returning. Calls are serialised by one process-wide mutex.
//   - FS, Dir, File and FileHandle adapt the Engine to bazil.org/fuse and
//     translate engine errors into errno values.
//
// The main entry point is NewEngine() followed by NewFS(), mounted with the
// options from MountConfig.
package jsonfs
