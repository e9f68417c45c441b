package jsonfs

import (
	"errors"

	"bazil.org/fuse"
)

// DefaultFSName is the source name shown in the mount table.
const DefaultFSName = "jsonfs"

// MountConfig describes one mount of a storage document.
type MountConfig struct {
	StoragePath string
	Mountpoint  string
	FSName      string
	AllowOther  bool
	ReadOnly    bool
}

// Validate checks that both paths are set.
func (c MountConfig) Validate() error {
	var err error
	if c.StoragePath == "" {
		err = errors.Join(err, errors.New("storage path is required"))
	}
	if c.Mountpoint == "" {
		err = errors.Join(err, errors.New("mountpoint is required"))
	}
	return err
}

// Options returns the fuse mount options for c.
func (c MountConfig) Options() []fuse.MountOption {
	name := c.FSName
	if name == "" {
		name = DefaultFSName
	}
	opts := []fuse.MountOption{
		fuse.FSName(name),
		fuse.Subtype("jsonfs"),
		fuse.DefaultPermissions(),
	}
	if c.AllowOther {
		opts = append(opts, fuse.AllowOther())
	}
	if c.ReadOnly {
		opts = append(opts, fuse.ReadOnly())
	}
	return opts
}
