package jsonfs

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/jsonfs/util"
)

// FS implements the jsonfs FUSE filesystem on top of an Engine.
type FS struct {
	Engine   *Engine
	ReadOnly bool

	// mu guards nodes and the path of every node in it.
	mu    sync.Mutex
	root  *Dir
	nodes map[string]fs.Node
}

// Dir implements both Node and Handle for directories
type Dir struct {
	fs *FS
	p  string
}

// File is the node for a regular file.
type File struct {
	fs *FS
	p  string
}

// FileHandle is an open session on a File.
type FileHandle struct {
	file *File
	id   Handle
}

var (
	_ fs.FS = (*FS)(nil)

	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeCreater        = (*Dir)(nil)
	_ fs.NodeMkdirer        = (*Dir)(nil)
	_ fs.NodeRemover        = (*Dir)(nil)
	_ fs.NodeRenamer        = (*Dir)(nil)
	_ fs.NodeSetattrer      = (*Dir)(nil)
	_ fs.NodeForgetter      = (*Dir)(nil)

	_ fs.Node          = (*File)(nil)
	_ fs.NodeOpener    = (*File)(nil)
	_ fs.NodeSetattrer = (*File)(nil)
	_ fs.NodeFsyncer   = (*File)(nil)
	_ fs.NodeForgetter = (*File)(nil)

	_ fs.HandleReader   = (*FileHandle)(nil)
	_ fs.HandleWriter   = (*FileHandle)(nil)
	_ fs.HandleFlusher  = (*FileHandle)(nil)
	_ fs.HandleReleaser = (*FileHandle)(nil)
)

// NewFS creates a new jsonfs filesystem instance
func NewFS(engine *Engine, readOnly bool) *FS {
	f := &FS{Engine: engine, ReadOnly: readOnly, nodes: make(map[string]fs.Node)}
	f.root = &Dir{fs: f, p: "/"}
	f.nodes["/"] = f.root
	return f
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return f.root, nil
}

// node returns the live node at p, registering a new one when none of the
// right kind exists. The kernel keeps a node across renames, so one path maps
// to one node.
func (f *FS) node(p string, kind Kind) fs.Node {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[p]; ok {
		if _, isDir := n.(*Dir); isDir == (kind == KindDir) {
			return n
		}
	}
	var n fs.Node
	if kind == KindDir {
		n = &Dir{fs: f, p: p}
	} else {
		n = &File{fs: f, p: p}
	}
	f.nodes[p] = n
	return n
}

// moved re-keys the node at oldPath and every node below it under newPath.
// Whatever was registered at newPath has been replaced and is dropped.
func (f *FS) moved(oldPath, newPath string) {
	if oldPath == newPath {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for p := range f.nodes {
		if p == newPath || strings.HasPrefix(p, newPath+"/") {
			delete(f.nodes, p)
		}
	}
	renamed := make(map[string]fs.Node)
	for p, n := range f.nodes {
		if p != oldPath && !strings.HasPrefix(p, oldPath+"/") {
			continue
		}
		np := newPath + strings.TrimPrefix(p, oldPath)
		switch n := n.(type) {
		case *Dir:
			n.p = np
		case *File:
			n.p = np
		}
		delete(f.nodes, p)
		renamed[np] = n
	}
	for p, n := range renamed {
		f.nodes[p] = n
	}
}

// removed drops the node registered at p.
func (f *FS) removed(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, p)
}

// forget drops n once the kernel no longer references it.
func (f *FS) forget(n fs.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var p string
	switch n := n.(type) {
	case *Dir:
		p = n.p
	case *File:
		p = n.p
	}
	if f.nodes[p] == n {
		delete(f.nodes, p)
	}
}

func (d *Dir) path() string {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	return d.p
}

func (f *File) path() string {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.p
}

// toErrno maps engine errors onto the errno the kernel reports.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, util.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, util.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, util.ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, util.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, util.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, util.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, util.ErrStorageCorrupt), errors.Is(err, util.ErrIOFailure):
		return syscall.EIO
	}
	log.Errorw("unexpected engine error", "err", err)
	return syscall.EIO
}

// fileMode converts st_mode bits into an os.FileMode.
func fileMode(a util.Attrs) os.FileMode {
	mode := os.FileMode(a.Mode & 0o777)
	if a.IsDir() {
		mode |= os.ModeDir
	}
	if a.Mode&syscall.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if a.Mode&syscall.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if a.Mode&syscall.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// posixMode converts the permission part of an os.FileMode into st_mode bits.
func posixMode(m os.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= syscall.S_ISUID
	}
	if m&os.ModeSetgid != 0 {
		mode |= syscall.S_ISGID
	}
	if m&os.ModeSticky != 0 {
		mode |= syscall.S_ISVTX
	}
	return mode
}

func fillAttr(a *fuse.Attr, attrs util.Attrs) {
	a.Size = attrs.Size
	a.Blocks = (attrs.Size + 511) / 512
	a.Mode = fileMode(attrs)
	a.Nlink = attrs.Nlink
	a.Uid = attrs.Uid
	a.Gid = attrs.Gid
	a.Atime = time.Unix(attrs.Atime, 0)
	a.Mtime = time.Unix(attrs.Mtime, 0)
	a.Ctime = time.Unix(attrs.Ctime, 0)
}

func attrChanges(req *fuse.SetattrRequest) AttrChanges {
	var changes AttrChanges
	if req.Valid.Size() {
		size := req.Size
		changes.Size = &size
	}
	if req.Valid.Mode() {
		mode := posixMode(req.Mode)
		changes.Mode = &mode
	}
	if req.Valid.Uid() {
		uid := req.Uid
		changes.Uid = &uid
	}
	if req.Valid.Gid() {
		gid := req.Gid
		changes.Gid = &gid
	}
	now := time.Now()
	if req.Valid.AtimeNow() {
		changes.Atime = &now
	} else if req.Valid.Atime() {
		atime := req.Atime
		changes.Atime = &atime
	}
	if req.Valid.MtimeNow() {
		changes.Mtime = &now
	} else if req.Valid.Mtime() {
		mtime := req.Mtime
		changes.Mtime = &mtime
	}
	return changes
}

func setattr(f *FS, p string, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if f.ReadOnly {
		return syscall.EROFS
	}
	attrs, err := f.Engine.Setattr(p, attrChanges(req))
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&resp.Attr, attrs)
	return nil
}

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrs, err := d.fs.Engine.Getattr(d.path())
	if err != nil {
		return toErrno(err)
	}
	fillAttr(a, attrs)
	return nil
}

// Lookup resolves a child name to a node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	p := path.Join(d.path(), name)
	entry, err := d.fs.Engine.Lookup(p)
	if err != nil {
		return nil, toErrno(err)
	}
	return d.fs.node(p, entry.Kind), nil
}

// ReadDirAll lists directory contents
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.Engine.List(d.path())
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirent := fuse.Dirent{Name: entry.Name, Type: fuse.DT_File}
		if entry.Kind == KindDir {
			dirent.Type = fuse.DT_Dir
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// Create creates a new file
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if d.fs.ReadOnly {
		return nil, nil, syscall.EROFS
	}
	p := path.Join(d.path(), req.Name)
	id, err := d.fs.Engine.Create(p, posixMode(req.Mode), Caller{Uid: req.Uid, Gid: req.Gid})
	if err != nil {
		return nil, nil, toErrno(err)
	}
	attrs, err := d.fs.Engine.Getattr(p)
	if err != nil {
		return nil, nil, toErrno(err)
	}
	fillAttr(&resp.Attr, attrs)

	file := d.fs.node(p, KindFile).(*File)
	return file, &FileHandle{file: file, id: id}, nil
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if d.fs.ReadOnly {
		return nil, syscall.EROFS
	}
	p := path.Join(d.path(), req.Name)
	if err := d.fs.Engine.Mkdir(p, posixMode(req.Mode), Caller{Uid: req.Uid, Gid: req.Gid}); err != nil {
		return nil, toErrno(err)
	}
	return d.fs.node(p, KindDir), nil
}

// Remove unlinks a file or removes an empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if d.fs.ReadOnly {
		return syscall.EROFS
	}
	p := path.Join(d.path(), req.Name)
	var err error
	if req.Dir {
		err = d.fs.Engine.Rmdir(p)
	} else {
		err = d.fs.Engine.Unlink(p)
	}
	if err != nil {
		return toErrno(err)
	}
	d.fs.removed(p)
	return nil
}

// Rename moves a child of d into newDir
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	if d.fs.ReadOnly {
		return syscall.EROFS
	}
	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.EXDEV
	}
	oldPath := path.Join(d.path(), req.OldName)
	newPath := path.Join(target.path(), req.NewName)
	if err := d.fs.Engine.Rename(oldPath, newPath); err != nil {
		return toErrno(err)
	}
	d.fs.moved(oldPath, newPath)
	return nil
}

// Setattr sets directory attributes
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(d.fs, d.path(), req, resp)
}

// Forget drops the directory from the node table
func (d *Dir) Forget() {
	if d != d.fs.root {
		d.fs.forget(d)
	}
}

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	attrs, err := f.fs.Engine.Getattr(f.path())
	if err != nil {
		return toErrno(err)
	}
	fillAttr(a, attrs)
	return nil
}

// Open starts a new session on the file
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if f.fs.ReadOnly && !req.Flags.IsReadOnly() {
		return nil, syscall.EROFS
	}
	id, err := f.fs.Engine.Open(f.path(), int(req.Flags))
	if err != nil {
		return nil, toErrno(err)
	}
	return &FileHandle{file: f, id: id}, nil
}

// Setattr sets file attributes, including truncation
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(f.fs, f.path(), req, resp)
}

// Forget drops the file from the node table
func (f *File) Forget() {
	f.fs.forget(f)
}

// Fsync is a no-op: every write is saved before it returns.
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

// Read reads a range of the file
func (h *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := h.file.fs.Engine.Read(h.file.path(), req.Size, req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

// Write writes data to the file
func (h *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if h.file.fs.ReadOnly {
		return syscall.EROFS
	}
	n, err := h.file.fs.Engine.Write(h.file.path(), req.Data, req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = n
	return nil
}

// Flush is a no-op for the same reason as Fsync.
func (h *FileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return nil
}

// Release ends the session
func (h *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	log.Debugw("released", "path", h.file.path(), "handle", h.id)
	return nil
}
