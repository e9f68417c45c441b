package jsonfs

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/dendrascience/jsonfs/util"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("jsonfs")

type (
	// Handle identifies an open file session. Handles carry no access
	// rights; every operation is addressed by path.
	Handle uint64

	// Kind tells directories and files apart in an Entry.
	Kind int

	// Caller identifies the user issuing a request.
	Caller struct {
		Uid uint32
		Gid uint32
	}

	// Entry is a snapshot of one node.
	Entry struct {
		Name  string
		Kind  Kind
		Attrs util.Attrs
	}

	// AttrChanges lists the metadata a Setattr call changes. Nil fields are
	// left alone.
	AttrChanges struct {
		Size  *uint64
		Mode  *uint32
		Uid   *uint32
		Gid   *uint32
		Atime *time.Time
		Mtime *time.Time
	}

	// Engine is the filesystem operation surface over one storage document.
	//
	// Every operation holds mu for its whole load-operate-save sequence: the
	// document is loaded into a fresh tree, the operation runs against it,
	// and a mutating operation saves the tree before mu is released. A tree is
	// never kept between calls.
	Engine struct {
		storagePath string
		mu          sync.Mutex
		now         func() time.Time
	}
)

const (
	KindDir Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "directory"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// NewEngine returns an engine backed by the document at storagePath,
// creating a document with an empty root if none exists.
func NewEngine(storagePath string) (*Engine, error) {
	e := &Engine{
		storagePath: storagePath,
		now:         time.Now,
	}
	created, err := util.InitTree(storagePath, e.now().Unix())
	if err != nil {
		return nil, err
	}
	if created {
		log.Infow("created storage document", "path", storagePath)
	}
	return e, nil
}

// StoragePath returns the path of the backing document.
func (e *Engine) StoragePath() string {
	return e.storagePath
}

func (e *Engine) load(op string) (*util.Tree, error) {
	t, err := util.LoadTree(e.storagePath)
	if err != nil {
		log.Errorw("load failed", "op", op, "storage", e.storagePath, "err", err)
		return nil, err
	}
	return t, nil
}

// view runs fn against a freshly loaded tree. Nothing is saved.
func (e *Engine) view(op string, fn func(t *util.Tree) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.load(op)
	if err != nil {
		return err
	}
	return fn(t)
}

// update runs fn against a freshly loaded tree and saves the tree if fn
// succeeds. A failed fn leaves the document untouched.
func (e *Engine) update(op, p string, fn func(t *util.Tree, now int64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.load(op)
	if err != nil {
		return err
	}
	if err := fn(t, e.now().Unix()); err != nil {
		log.Debugw("operation rejected", "op", op, "path", p, "err", err)
		return err
	}
	if err := util.SaveTree(e.storagePath, t); err != nil {
		log.Errorw("save failed", "op", op, "path", p, "storage", e.storagePath, "err", err)
		return err
	}
	log.Debugw("operation applied", "op", op, "path", p)
	return nil
}

func entryOf(n util.Node) Entry {
	entry := Entry{Name: n.Name(), Attrs: *n.Attr()}
	if _, ok := n.(*util.File); ok {
		entry.Kind = KindFile
	}
	return entry
}

// Readdir lists a directory as ".", ".." and the child names in stored order.
func (e *Engine) Readdir(p string) ([]string, error) {
	var names []string
	err := e.view("readdir", func(t *util.Tree) error {
		dir, err := t.ResolveDir(p)
		if err != nil {
			return err
		}
		names = make([]string, 0, dir.Len()+2)
		names = append(names, ".", "..")
		for child := range dir.Iterate {
			names = append(names, child.Name())
		}
		return nil
	})
	return names, err
}

// List returns the children of a directory with their kinds and attributes.
func (e *Engine) List(p string) ([]Entry, error) {
	var entries []Entry
	err := e.view("list", func(t *util.Tree) error {
		dir, err := t.ResolveDir(p)
		if err != nil {
			return err
		}
		entries = make([]Entry, 0, dir.Len())
		for child := range dir.Iterate {
			entries = append(entries, entryOf(child))
		}
		return nil
	})
	return entries, err
}

// Getattr returns the stored attributes of the node at p.
func (e *Engine) Getattr(p string) (util.Attrs, error) {
	entry, err := e.Lookup(p)
	return entry.Attrs, err
}

// Lookup returns the kind and attributes of the node at p.
func (e *Engine) Lookup(p string) (Entry, error) {
	var entry Entry
	err := e.view("lookup", func(t *util.Tree) error {
		n, err := t.Resolve(p)
		if err != nil {
			return err
		}
		entry = entryOf(n)
		return nil
	})
	return entry, err
}

// Create adds an empty file at p owned by the caller and returns a new
// handle for it.
func (e *Engine) Create(p string, mode uint32, c Caller) (Handle, error) {
	err := e.update("create", p, func(t *util.Tree, now int64) error {
		parent, name, err := t.ResolveParent(p)
		if err != nil {
			return err
		}
		if _, exists := parent.Child(name); exists {
			return fmt.Errorf("%w: %s", util.ErrAlreadyExists, p)
		}
		file := util.NewFile(name, util.Attrs{
			Mode:  mode,
			Nlink: 1,
			Uid:   c.Uid,
			Gid:   c.Gid,
			Atime: now,
			Ctime: now,
			Mtime: now,
		}, nil)
		if err := parent.Add(file); err != nil {
			return err
		}
		parent.Attr().Touch(now)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return Handle(util.GetNewHandle()), nil
}

// Mkdir adds an empty directory at p owned by the caller.
func (e *Engine) Mkdir(p string, mode uint32, c Caller) error {
	return e.update("mkdir", p, func(t *util.Tree, now int64) error {
		parent, name, err := t.ResolveParent(p)
		if err != nil {
			return err
		}
		if _, exists := parent.Child(name); exists {
			return fmt.Errorf("%w: %s", util.ErrAlreadyExists, p)
		}
		dir := util.NewDir(name, util.Attrs{
			Mode:  mode,
			Nlink: 2,
			Uid:   c.Uid,
			Gid:   c.Gid,
			Atime: now,
			Ctime: now,
			Mtime: now,
		})
		if err := parent.Add(dir); err != nil {
			return err
		}
		parent.Attr().Nlink++
		parent.Attr().Touch(now)
		return nil
	})
}

// Open checks that p exists and returns a new handle. The flags are
// recorded in the log only.
func (e *Engine) Open(p string, flags int) (Handle, error) {
	err := e.view("open", func(t *util.Tree) error {
		_, err := t.Resolve(p)
		return err
	})
	if err != nil {
		return 0, err
	}
	h := Handle(util.GetNewHandle())
	log.Debugw("opened", "path", p, "flags", flags, "handle", h)
	return h, nil
}

// Read returns up to length bytes of the file at p starting at offset.
func (e *Engine) Read(p string, length int, offset int64) ([]byte, error) {
	var data []byte
	err := e.view("read", func(t *util.Tree) error {
		file, err := t.ResolveFile(p)
		if err != nil {
			return err
		}
		data, err = file.ReadAt(length, offset)
		return err
	})
	return data, err
}

// Write stores data at offset in the file at p and returns len(data).
func (e *Engine) Write(p string, data []byte, offset int64) (int, error) {
	var written int
	err := e.update("write", p, func(t *util.Tree, now int64) error {
		file, err := t.ResolveFile(p)
		if err != nil {
			return err
		}
		if written, err = file.WriteAt(data, offset); err != nil {
			return err
		}
		file.Attr().Touch(now)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Truncate sets the length of the file at p, dropping or zero-filling bytes.
func (e *Engine) Truncate(p string, length uint64) error {
	_, err := e.Setattr(p, AttrChanges{Size: &length})
	return err
}

// Chmod replaces the permission bits of the node at p.
func (e *Engine) Chmod(p string, mode uint32) error {
	_, err := e.Setattr(p, AttrChanges{Mode: &mode})
	return err
}

// Chown changes the owner of the node at p. A negative uid or gid leaves
// that field unchanged.
func (e *Engine) Chown(p string, uid, gid int) error {
	var changes AttrChanges
	if uid >= 0 {
		u := uint32(uid)
		changes.Uid = &u
	}
	if gid >= 0 {
		g := uint32(gid)
		changes.Gid = &g
	}
	_, err := e.Setattr(p, changes)
	return err
}

// Utimens sets the access and modification times of the node at p. A zero
// time leaves that field unchanged.
func (e *Engine) Utimens(p string, atime, mtime time.Time) error {
	var changes AttrChanges
	if !atime.IsZero() {
		changes.Atime = &atime
	}
	if !mtime.IsZero() {
		changes.Mtime = &mtime
	}
	_, err := e.Setattr(p, changes)
	return err
}

// Setattr applies every requested change in one load-operate-save sequence
// and returns the resulting attributes. Size changes require a file.
func (e *Engine) Setattr(p string, changes AttrChanges) (util.Attrs, error) {
	var attrs util.Attrs
	err := e.update("setattr", p, func(t *util.Tree, now int64) error {
		n, err := t.Resolve(p)
		if err != nil {
			return err
		}
		a := n.Attr()
		if changes.Size != nil {
			file, ok := n.(*util.File)
			if !ok {
				return fmt.Errorf("%w: %s", util.ErrIsADirectory, p)
			}
			if err := file.Truncate(*changes.Size); err != nil {
				return err
			}
			a.Touch(now)
		}
		if changes.Mode != nil {
			a.Mode = a.Mode&util.ModeTypeMask | *changes.Mode&^util.ModeTypeMask
			a.Ctime = now
		}
		if changes.Uid != nil {
			a.Uid = *changes.Uid
			a.Ctime = now
		}
		if changes.Gid != nil {
			a.Gid = *changes.Gid
			a.Ctime = now
		}
		if changes.Atime != nil {
			a.Atime = changes.Atime.Unix()
			a.Ctime = now
		}
		if changes.Mtime != nil {
			a.Mtime = changes.Mtime.Unix()
			a.Ctime = now
		}
		attrs = *a
		return nil
	})
	return attrs, err
}

// Unlink removes the file at p.
func (e *Engine) Unlink(p string) error {
	return e.update("unlink", p, func(t *util.Tree, now int64) error {
		parent, name, err := t.ResolveParent(p)
		if err != nil {
			return err
		}
		child, ok := parent.Child(name)
		if !ok {
			return fmt.Errorf("%w: %s", util.ErrNotFound, p)
		}
		if _, isDir := child.(*util.Dir); isDir {
			return fmt.Errorf("%w: %s", util.ErrIsADirectory, p)
		}
		if _, err := parent.Remove(name); err != nil {
			return err
		}
		parent.Attr().Touch(now)
		return nil
	})
}

// Rmdir removes the empty directory at p. The root cannot be removed.
func (e *Engine) Rmdir(p string) error {
	return e.update("rmdir", p, func(t *util.Tree, now int64) error {
		parent, name, err := t.ResolveParent(p)
		if err != nil {
			return err
		}
		child, ok := parent.Child(name)
		if !ok {
			return fmt.Errorf("%w: %s", util.ErrNotFound, p)
		}
		dir, isDir := child.(*util.Dir)
		if !isDir {
			return fmt.Errorf("%w: %s", util.ErrNotADirectory, p)
		}
		if dir.Len() > 0 {
			return fmt.Errorf("%w: %s", util.ErrNotEmpty, p)
		}
		if _, err := parent.Remove(name); err != nil {
			return err
		}
		parent.Attr().DropLink()
		parent.Attr().Touch(now)
		return nil
	})
}

// Rename moves the node at oldPath to newPath, replacing a compatible
// existing target.
func (e *Engine) Rename(oldPath, newPath string) error {
	return e.update("rename", oldPath, func(t *util.Tree, now int64) error {
		replaced, err := t.Move(oldPath, newPath)
		if err != nil {
			return err
		}
		for _, p := range []string{path.Dir(path.Clean("/" + oldPath)), path.Dir(path.Clean("/" + newPath))} {
			if dir, err := t.ResolveDir(p); err == nil {
				dir.Attr().Touch(now)
			}
		}
		if moved, err := t.Resolve(newPath); err == nil {
			moved.Attr().Ctime = now
		}
		if replaced != nil {
			log.Debugw("rename replaced target", "path", newPath, "name", replaced.Name())
		}
		return nil
	})
}

// Snapshot loads the document under the guard and returns the tree. The
// caller owns the returned tree; changes to it are not persisted.
func (e *Engine) Snapshot() (*util.Tree, error) {
	var tree *util.Tree
	err := e.view("snapshot", func(t *util.Tree) error {
		tree = t
		return nil
	})
	return tree, err
}
