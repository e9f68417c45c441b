// Package main provides the jsonfs command-line interface.
//
// jsonfs is a FUSE filesystem whose entire state lives in a single JSON
// document. Every filesystem call loads the document, applies the change and
// saves it atomically before returning, so the document on disk always holds
// the latest completed operation.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a storage document at a specified mountpoint
//   - seed: Populate a storage document with generated test files
//   - validate: Check a storage document for corruption and consistency
//   - count: Count files, directories and bytes in a storage document
//   - convert: Import a host directory tree into a storage document
//   - export: Write a storage document out as a host directory tree
package main
