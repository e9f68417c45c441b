package util

import "errors"

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Path resolution errors
	ErrNotFound      = errors.New("no such file or directory")
	ErrNotADirectory = errors.New("not a directory")
	ErrIsADirectory  = errors.New("is a directory")

	// Mutation errors
	ErrAlreadyExists   = errors.New("file exists")
	ErrNotEmpty        = errors.New("directory not empty")
	ErrInvalidArgument = errors.New("invalid argument")

	// Storage errors
	ErrStorageCorrupt = errors.New("storage document is corrupt")
	ErrIOFailure      = errors.New("storage i/o failure")
)
