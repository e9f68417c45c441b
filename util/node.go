package util

import (
	"fmt"
	"os"
	"slices"
	"syscall"
)

// File type bits as stored in st_mode.
const (
	ModeTypeMask uint32 = syscall.S_IFMT
	ModeDir      uint32 = syscall.S_IFDIR
	ModeRegular  uint32 = syscall.S_IFREG
)

// MaxFileSize bounds the length a write or truncate may grow a file to.
// The whole document lives in memory, so this is the practical ceiling.
const MaxFileSize = 1 << 30

type (
	// Attrs mirrors the stat fields persisted for every node.
	// Timestamps are whole seconds since the Unix epoch.
	Attrs struct {
		Size  uint64 `json:"st_size"`
		Mode  uint32 `json:"st_mode"`
		Nlink uint32 `json:"st_nlink"`
		Uid   uint32 `json:"st_uid"`
		Gid   uint32 `json:"st_gid"`
		Atime int64  `json:"st_atime"`
		Ctime int64  `json:"st_ctime"`
		Mtime int64  `json:"st_mtime"`
	}

	// Node is a single tree entry. The only implementations are *Dir and *File.
	Node interface {
		Name() string
		Attr() *Attrs
		rename(name string)
	}

	// Dir is a directory node. Children keep their insertion order; index
	// maps a child name to its position in children.
	Dir struct {
		name     string
		attrs    Attrs
		children []Node
		index    map[string]int
	}

	// File is a regular file node. attrs.Size always equals len(contents).
	File struct {
		name     string
		attrs    Attrs
		contents []byte
	}
)

// IsDir reports whether the mode carries the directory type bit.
func (a Attrs) IsDir() bool {
	return a.Mode&ModeTypeMask == ModeDir
}

// IsRegular reports whether the mode carries the regular-file type bit.
func (a Attrs) IsRegular() bool {
	return a.Mode&ModeTypeMask == ModeRegular
}

// Perm returns the permission bits as an os.FileMode.
func (a Attrs) Perm() os.FileMode {
	return os.FileMode(a.Mode & 0o7777).Perm()
}

// Touch sets the modification and change times.
func (a *Attrs) Touch(now int64) {
	a.Mtime = now
	a.Ctime = now
}

// DropLink decrements the link count without letting it underflow.
func (a *Attrs) DropLink() {
	if a.Nlink > 1 {
		a.Nlink--
	}
}

// NewDir returns an empty directory. The directory type bit is forced on.
func NewDir(name string, attrs Attrs) *Dir {
	attrs.Mode = attrs.Mode&^ModeTypeMask | ModeDir
	return &Dir{
		name:  name,
		attrs: attrs,
		index: make(map[string]int),
	}
}

func (d *Dir) Name() string       { return d.name }
func (d *Dir) Attr() *Attrs       { return &d.attrs }
func (d *Dir) rename(name string) { d.name = name }

// Len returns the number of children.
func (d *Dir) Len() int {
	return len(d.children)
}

// Iterate yields children in stored order.
func (d *Dir) Iterate(yield func(Node) bool) {
	for _, child := range d.children {
		if !yield(child) {
			return
		}
	}
}

// Child looks up a direct child by name.
func (d *Dir) Child(name string) (Node, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.children[i], true
}

// Add appends n to the children. Sibling names must be unique.
func (d *Dir) Add(n Node) error {
	if _, exists := d.index[n.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, n.Name())
	}
	d.index[n.Name()] = len(d.children)
	d.children = append(d.children, n)
	return nil
}

// Remove detaches the named child and returns it. The remaining children
// keep their relative order.
func (d *Dir) Remove(name string) (Node, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	n := d.children[i]
	d.children = slices.Delete(d.children, i, i+1)
	delete(d.index, name)
	for j := i; j < len(d.children); j++ {
		d.index[d.children[j].Name()] = j
	}
	return n, nil
}

// contains reports whether n is d or lives somewhere beneath it.
func (d *Dir) contains(n Node) bool {
	if Node(d) == n {
		return true
	}
	for child := range d.Iterate {
		if sub, ok := child.(*Dir); ok && sub.contains(n) {
			return true
		}
	}
	return false
}

// NewFile returns a file holding contents. The regular-file type bit is
// forced on and the size is taken from contents.
func NewFile(name string, attrs Attrs, contents []byte) *File {
	attrs.Mode = attrs.Mode&^ModeTypeMask | ModeRegular
	attrs.Size = uint64(len(contents))
	if contents == nil {
		contents = []byte{}
	}
	return &File{
		name:     name,
		attrs:    attrs,
		contents: contents,
	}
}

func (f *File) Name() string       { return f.name }
func (f *File) Attr() *Attrs       { return &f.attrs }
func (f *File) rename(name string) { f.name = name }

// Contents returns the file bytes. Callers must not modify the slice.
func (f *File) Contents() []byte {
	return f.contents
}

// ReadAt returns up to length bytes starting at offset. Reads past the end
// return an empty slice and reads spanning the end are clamped.
func (f *File) ReadAt(length int, offset int64) ([]byte, error) {
	if length < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: read length %d offset %d", ErrInvalidArgument, length, offset)
	}
	size := int64(len(f.contents))
	if offset >= size {
		return []byte{}, nil
	}
	n := size - offset
	if int64(length) < n {
		n = int64(length)
	}
	out := make([]byte, n)
	copy(out, f.contents[offset:offset+n])
	return out, nil
}

// WriteAt overwrites the range [offset, offset+len(data)). A gap between the
// current end and offset is zero-filled; bytes after the range are kept.
// An empty write never changes the file.
func (f *File) WriteAt(data []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: write offset %d", ErrInvalidArgument, offset)
	}
	if len(data) == 0 {
		return 0, nil
	}
	if offset > MaxFileSize-int64(len(data)) {
		return 0, fmt.Errorf("%w: write of %d bytes at offset %d exceeds %d bytes", ErrInvalidArgument, len(data), offset, MaxFileSize)
	}
	end := offset + int64(len(data))
	if end > int64(len(f.contents)) {
		grown := make([]byte, end)
		copy(grown, f.contents)
		f.contents = grown
	}
	copy(f.contents[offset:end], data)
	f.attrs.Size = uint64(len(f.contents))
	return len(data), nil
}

// Truncate drops trailing bytes or zero-extends the file to length.
func (f *File) Truncate(length uint64) error {
	if length > MaxFileSize {
		return fmt.Errorf("%w: truncate to %d bytes", ErrInvalidArgument, length)
	}
	switch cur := uint64(len(f.contents)); {
	case length < cur:
		f.contents = slices.Clone(f.contents[:length])
	case length > cur:
		grown := make([]byte, length)
		copy(grown, f.contents)
		f.contents = grown
	}
	f.attrs.Size = uint64(len(f.contents))
	return nil
}
