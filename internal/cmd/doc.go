// Package cmd provides the command-line interface implementation for jsonfs.
//
// This package contains all the subcommand implementations for the jsonfs CLI tool.
// It uses the Cobra library for command structure and Fang for styling.
//
// The package is organized into the following commands:
//   - root: Main command coordinator and the shared --log-level flag
//   - mount: FUSE filesystem mounting functionality
//   - seed: Test document generation through the filesystem engine
//   - validate: Document validation and consistency checking
//   - count: File, directory and byte counting on the raw document
//   - convert: Host directory tree import
//   - export: Host directory tree export
//
// Each command is implemented as a separate file with its own constructor function
// that returns a *cobra.Command.
package cmd
