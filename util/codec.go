package util

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/facebookgo/atomicfile"
)

const (
	fileType       = "f"
	dirType        = "d"
	base64Encoding = "base64"
)

type (
	// seconds accepts both integer and fractional timestamps on load.
	// Fractions are truncated.
	seconds int64

	diskAttrs struct {
		Size  uint64  `json:"st_size"`
		Mode  uint32  `json:"st_mode"`
		Nlink *uint32 `json:"st_nlink,omitempty"`
		Uid   uint32  `json:"st_uid"`
		Gid   uint32  `json:"st_gid"`
		Atime seconds `json:"st_atime"`
		Ctime seconds `json:"st_ctime"`
		Mtime seconds `json:"st_mtime"`
	}

	// diskNode is the persisted shape of both kinds. Directories carry
	// children, files carry type "f" and contents; the root has no name.
	diskNode struct {
		Name     *string     `json:"name,omitempty"`
		Type     string      `json:"type,omitempty"`
		Attrs    diskAttrs   `json:"attrs"`
		Contents *string     `json:"contents,omitempty"`
		Encoding string      `json:"encoding,omitempty"`
		Children *[]diskNode `json:"children,omitempty"`
	}
)

func (s *seconds) UnmarshalJSON(data []byte) error {
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*s = seconds(i)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = seconds(int64(f))
	return nil
}

func toDiskAttrs(a Attrs) diskAttrs {
	nlink := a.Nlink
	return diskAttrs{
		Size:  a.Size,
		Mode:  a.Mode,
		Nlink: &nlink,
		Uid:   a.Uid,
		Gid:   a.Gid,
		Atime: seconds(a.Atime),
		Ctime: seconds(a.Ctime),
		Mtime: seconds(a.Mtime),
	}
}

func fromDiskAttrs(d diskAttrs, defaultNlink uint32) Attrs {
	a := Attrs{
		Size:  d.Size,
		Mode:  d.Mode,
		Nlink: defaultNlink,
		Uid:   d.Uid,
		Gid:   d.Gid,
		Atime: int64(d.Atime),
		Ctime: int64(d.Ctime),
		Mtime: int64(d.Mtime),
	}
	if d.Nlink != nil {
		a.Nlink = *d.Nlink
	}
	return a
}

func toDiskNode(n Node, root bool) diskNode {
	var dn diskNode
	if !root {
		name := n.Name()
		dn.Name = &name
	}
	dn.Attrs = toDiskAttrs(*n.Attr())
	switch n := n.(type) {
	case *Dir:
		children := make([]diskNode, 0, n.Len())
		for child := range n.Iterate {
			children = append(children, toDiskNode(child, false))
		}
		dn.Children = &children
	case *File:
		dn.Type = fileType
		contents := string(n.contents)
		if !utf8.Valid(n.contents) {
			contents = base64.StdEncoding.EncodeToString(n.contents)
			dn.Encoding = base64Encoding
		}
		dn.Contents = &contents
	}
	return dn
}

func fromDiskDir(dn diskNode, name, p string) (*Dir, error) {
	if dn.Contents != nil {
		return nil, fmt.Errorf("directory %s carries contents", p)
	}
	dir := NewDir(name, fromDiskAttrs(dn.Attrs, 2))
	if dn.Children == nil {
		return dir, nil
	}
	for _, child := range *dn.Children {
		if child.Name == nil || *child.Name == "" {
			return nil, fmt.Errorf("unnamed entry under %s", p)
		}
		childName := *child.Name
		if strings.Contains(childName, "/") || childName == "." || childName == ".." {
			return nil, fmt.Errorf("invalid entry name %q under %s", childName, p)
		}
		childPath := path.Join(p, childName)

		var n Node
		switch child.Type {
		case fileType:
			f, err := fromDiskFile(child, childName, childPath)
			if err != nil {
				return nil, err
			}
			n = f
		case dirType, "":
			d, err := fromDiskDir(child, childName, childPath)
			if err != nil {
				return nil, err
			}
			n = d
		default:
			return nil, fmt.Errorf("entry %s has unknown type %q", childPath, child.Type)
		}
		if err := dir.Add(n); err != nil {
			return nil, fmt.Errorf("duplicate entry %s", childPath)
		}
	}
	return dir, nil
}

func fromDiskFile(dn diskNode, name, p string) (*File, error) {
	if dn.Children != nil {
		return nil, fmt.Errorf("file %s carries children", p)
	}
	var contents []byte
	if dn.Contents != nil {
		switch dn.Encoding {
		case "":
			contents = []byte(*dn.Contents)
		case base64Encoding:
			decoded, err := base64.StdEncoding.DecodeString(*dn.Contents)
			if err != nil {
				return nil, fmt.Errorf("file %s: %w", p, err)
			}
			contents = decoded
		default:
			return nil, fmt.Errorf("file %s has unknown encoding %q", p, dn.Encoding)
		}
	}
	return NewFile(name, fromDiskAttrs(dn.Attrs, 1), contents), nil
}

// EncodeTree writes t as a JSON document.
func EncodeTree(w io.Writer, t *Tree) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(toDiskNode(t.Root, true))
}

// DecodeTree reads a JSON document into a fresh tree. A failure reading r is
// reported as ErrIOFailure. Any syntax error or structural violation is
// reported as ErrStorageCorrupt.
func DecodeTree(r io.Reader) (*Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(ErrIOFailure, err)
	}
	return decodeDocument(data)
}

func decodeDocument(data []byte) (*Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var root *diskNode
	if err := dec.Decode(&root); err != nil {
		return nil, errors.Join(ErrStorageCorrupt, err)
	}
	if root == nil {
		return nil, errors.Join(ErrStorageCorrupt, errors.New("document is null"))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Join(ErrStorageCorrupt, errors.New("trailing data after document"))
	}
	if root.Type == fileType {
		return nil, errors.Join(ErrStorageCorrupt, errors.New("root is not a directory"))
	}
	dir, err := fromDiskDir(*root, "/", "/")
	if err != nil {
		return nil, errors.Join(ErrStorageCorrupt, err)
	}
	return &Tree{Root: dir}, nil
}

// LoadTree reads the storage document at storagePath.
func LoadTree(storagePath string) (*Tree, error) {
	data, err := os.ReadFile(storagePath)
	if err != nil {
		return nil, errors.Join(ErrIOFailure, err)
	}
	t, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", storagePath, err)
	}
	return t, nil
}

// SaveTree replaces the storage document at storagePath with t. The document is
// written to a temporary file in the same directory and renamed into place,
// so a reader sees either the old document or the new one.
func SaveTree(storagePath string, t *Tree) error {
	if err := os.MkdirAll(filepath.Dir(storagePath), 0o755); err != nil {
		return errors.Join(ErrIOFailure, err)
	}

	f, err := atomicfile.New(storagePath, 0o600)
	if err != nil {
		return errors.Join(ErrIOFailure, err)
	}

	w := bufio.NewWriter(f)
	if err := EncodeTree(w, t); err != nil {
		f.Abort()
		return errors.Join(ErrIOFailure, err)
	}
	if err := w.Flush(); err != nil {
		f.Abort()
		return errors.Join(ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		f.Abort()
		return errors.Join(ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		return errors.Join(ErrIOFailure, err)
	}
	return nil
}

// InitTree writes a document holding only the default root when no file
// exists at storagePath. It reports whether a document was created.
func InitTree(storagePath string, now int64) (bool, error) {
	_, err := os.Stat(storagePath)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, errors.Join(ErrIOFailure, err)
	}
	if err := SaveTree(storagePath, NewTree(DefaultRootAttrs(now))); err != nil {
		return false, err
	}
	return true, nil
}
