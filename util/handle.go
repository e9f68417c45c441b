package util

import "sync/atomic"

var lastHandle atomic.Uint64

// GetNewHandle returns the next file handle. Handles start at 1, increase
// monotonically and are never reused while the process runs.
func GetNewHandle() uint64 {
	return lastHandle.Add(1)
}

// CurrentHandle returns the most recently issued handle, or 0 if none was.
func CurrentHandle() uint64 {
	return lastHandle.Load()
}
