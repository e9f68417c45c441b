package util

import (
	"fmt"
	"os"
	"path"
	"strings"
)

// Tree is the in-memory forest rooted at "/". It owns every node.
type Tree struct {
	Root *Dir
}

// WalkFunc is called for every node visited by Tree.Walk with the node's
// absolute path. Returning an error stops the walk.
type WalkFunc func(p string, n Node) error

// NewTree returns a tree holding only a root directory with the given attrs.
func NewTree(rootAttrs Attrs) *Tree {
	return &Tree{Root: NewDir("/", rootAttrs)}
}

// DefaultRootAttrs are the attributes of the root of a fresh document: a
// 0755 directory owned by the current process.
func DefaultRootAttrs(now int64) Attrs {
	return Attrs{
		Mode:  ModeDir | 0o755,
		Nlink: 2,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: now,
		Ctime: now,
		Mtime: now,
	}
}

// SplitPath breaks an absolute path into its non-empty components.
// "/" and "" yield no components.
func SplitPath(p string) []string {
	parts := strings.Split(p, "/")
	components := parts[:0]
	for _, part := range parts {
		if part != "" {
			components = append(components, part)
		}
	}
	return components
}

// Resolve walks the components of p from the root.
func (t *Tree) Resolve(p string) (Node, error) {
	return t.resolve(p, SplitPath(p))
}

func (t *Tree) resolve(p string, components []string) (Node, error) {
	var cur Node = t.Root
	for i, name := range components {
		dir, ok := cur.(*Dir)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotADirectory, "/"+strings.Join(components[:i], "/"))
		}
		child, ok := dir.Child(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		cur = child
	}
	return cur, nil
}

// ResolveDir resolves p and requires a directory.
func (t *Tree) ResolveDir(p string) (*Dir, error) {
	n, err := t.Resolve(p)
	if err != nil {
		return nil, err
	}
	dir, ok := n.(*Dir)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, p)
	}
	return dir, nil
}

// ResolveFile resolves p and requires a regular file.
func (t *Tree) ResolveFile(p string) (*File, error) {
	n, err := t.Resolve(p)
	if err != nil {
		return nil, err
	}
	file, ok := n.(*File)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIsADirectory, p)
	}
	return file, nil
}

// ResolveParent resolves every component of p but the last one, which must
// all be directories, and returns that directory with the leaf name. The
// leaf itself need not exist.
func (t *Tree) ResolveParent(p string) (*Dir, string, error) {
	components := SplitPath(p)
	if len(components) == 0 {
		return nil, "", fmt.Errorf("%w: %q has no parent", ErrInvalidArgument, p)
	}
	leaf := components[len(components)-1]
	if leaf == "." || leaf == ".." {
		return nil, "", fmt.Errorf("%w: reserved name %q", ErrInvalidArgument, leaf)
	}
	n, err := t.resolve(p, components[:len(components)-1])
	if err != nil {
		return nil, "", err
	}
	parent, ok := n.(*Dir)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotADirectory, path.Dir(path.Clean("/"+p)))
	}
	return parent, leaf, nil
}

// Walk visits every node depth first, parents before children, children in
// stored order.
func (t *Tree) Walk(fn WalkFunc) error {
	return walk("/", t.Root, fn)
}

func walk(p string, n Node, fn WalkFunc) error {
	if err := fn(p, n); err != nil {
		return err
	}
	dir, ok := n.(*Dir)
	if !ok {
		return nil
	}
	for child := range dir.Iterate {
		if err := walk(path.Join(p, child.Name()), child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Move detaches the node at oldPath and attaches it under newPath, replacing
// an existing target the way rename(2) does: a file may replace a file and a
// directory may replace an empty directory. Directory link counts follow the
// move. Every check happens before the tree is touched.
func (t *Tree) Move(oldPath, newPath string) (replaced Node, err error) {
	srcParent, srcName, err := t.ResolveParent(oldPath)
	if err != nil {
		return nil, err
	}
	src, ok := srcParent.Child(srcName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, oldPath)
	}
	dstParent, dstName, err := t.ResolveParent(newPath)
	if err != nil {
		return nil, err
	}
	srcDir, srcIsDir := src.(*Dir)
	if srcIsDir && srcDir.contains(dstParent) {
		return nil, fmt.Errorf("%w: cannot move %s beneath itself", ErrInvalidArgument, oldPath)
	}

	if dst, exists := dstParent.Child(dstName); exists {
		if dst == src {
			return nil, nil
		}
		switch d := dst.(type) {
		case *Dir:
			if !srcIsDir {
				return nil, fmt.Errorf("%w: %s", ErrIsADirectory, newPath)
			}
			if d.Len() > 0 {
				return nil, fmt.Errorf("%w: %s", ErrNotEmpty, newPath)
			}
		case *File:
			if srcIsDir {
				return nil, fmt.Errorf("%w: %s", ErrNotADirectory, newPath)
			}
		}
		if _, err := dstParent.Remove(dstName); err != nil {
			return nil, err
		}
		if _, ok := dst.(*Dir); ok {
			dstParent.attrs.DropLink()
		}
		replaced = dst
	}

	if _, err := srcParent.Remove(srcName); err != nil {
		return nil, err
	}
	src.rename(dstName)
	if err := dstParent.Add(src); err != nil {
		return nil, err
	}
	if srcIsDir {
		srcParent.attrs.DropLink()
		dstParent.attrs.Nlink++
	}
	return replaced, nil
}
