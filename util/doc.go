// Package util provides the tree model and persistence layer for jsonfs.
//
// A jsonfs filesystem is a single JSON document. This package holds the
// in-memory form of that document and the code that moves it to and from
// disk.
//
// Key Components:
//
// Nodes:
//   - Dir and File, the two implementations of Node
//   - Attrs, the stat fields kept for every node (st_size, st_mode, ...)
//   - Name-indexed children that keep their insertion order
//
// Tree Store:
//   - Tree rooted at "/" with Resolve, ResolveParent, ResolveFile, ResolveDir
//   - Move with rename(2) replacement rules
//   - Walk for depth-first traversal
//
// Persistence:
//   - EncodeTree / DecodeTree for the JSON document
//   - SaveTree writes through a temporary file and rename, never leaving a
//     torn document behind
//   - Contents that are not valid UTF-8 are stored base64-encoded
//
// Errors:
//   - A closed set of sentinel errors (ErrNotFound, ErrNotADirectory, ...)
//     checked with errors.Is()
//
// Handles and Metadata:
//   - Process-wide file handle counter
//   - Tree summaries used by the CLI
//
// Nothing in this package locks. Callers that share a tree between
// goroutines serialise access themselves; the jsonfs package does so with a
// single mutex around every load-operate-save sequence.
package util
