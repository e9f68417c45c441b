package jsonfs

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dendrascience/jsonfs/util"
	"github.com/stretchr/testify/require"
)

var testCaller = Caller{Uid: 1000, Gid: 1000}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "fs.json"))
	require.NoError(t, err)
	return e
}

func TestNewEngine_CreatesDefaultRoot(t *testing.T) {
	e := newTestEngine(t)

	_, err := os.Stat(e.StoragePath())
	require.NoError(t, err)

	attrs, err := e.Getattr("/")
	require.NoError(t, err)
	require.True(t, attrs.IsDir())
	require.Equal(t, uint32(2), attrs.Nlink)

	names, err := e.Readdir("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", ".."}, names)
}

func TestNewEngine_KeepsExistingDocument(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/keep", 0o644, testCaller)
	require.NoError(t, err)

	again, err := NewEngine(e.StoragePath())
	require.NoError(t, err)
	names, err := again.Readdir("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "keep"}, names)
}

func TestCreate(t *testing.T) {
	e := newTestEngine(t)
	fixed := time.Unix(1700000000, 0)
	e.now = func() time.Time { return fixed }

	h, err := e.Create("/a", 0o640, testCaller)
	require.NoError(t, err)
	require.NotZero(t, h)

	attrs, err := e.Getattr("/a")
	require.NoError(t, err)
	require.True(t, attrs.IsRegular())
	require.Equal(t, os.FileMode(0o640), attrs.Perm())
	require.Equal(t, uint64(0), attrs.Size)
	require.Equal(t, uint32(1), attrs.Nlink)
	require.Equal(t, testCaller.Uid, attrs.Uid)
	require.Equal(t, testCaller.Gid, attrs.Gid)
	require.Equal(t, fixed.Unix(), attrs.Atime)
	require.Equal(t, fixed.Unix(), attrs.Ctime)
	require.Equal(t, fixed.Unix(), attrs.Mtime)
}

func TestCreate_HandlesIncrease(t *testing.T) {
	e := newTestEngine(t)

	first, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)
	second, err := e.Create("/b", 0o644, testCaller)
	require.NoError(t, err)
	third, err := e.Open("/a", os.O_RDONLY)
	require.NoError(t, err)

	require.Greater(t, second, first)
	require.Greater(t, third, second)
}

func TestCreate_ExistingNameLeavesTreeUnchanged(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Write("/a", []byte("payload"), 0)
	require.NoError(t, err)

	before, err := os.ReadFile(e.StoragePath())
	require.NoError(t, err)

	_, err = e.Create("/a", 0o600, testCaller)
	require.ErrorIs(t, err, util.ErrAlreadyExists)

	after, err := os.ReadFile(e.StoragePath())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestCreate_MissingParent(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Create("/missing/a", 0o644, testCaller)
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestCreate_ParentIsFile(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)

	_, err = e.Create("/a/b", 0o644, testCaller)
	require.ErrorIs(t, err, util.ErrNotADirectory)
}

func TestCreate_RootAndReservedNames(t *testing.T) {
	e := newTestEngine(t)

	for _, p := range []string{"/", "/.", "/.."} {
		_, err := e.Create(p, 0o644, testCaller)
		require.ErrorIs(t, err, util.ErrInvalidArgument, p)
	}
}

func TestReaddir_StoredOrder(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Create("/b", 0o644, testCaller)
	require.NoError(t, err)

	names, err := e.Readdir("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "a", "b"}, names)
}

func TestReaddir_Errors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)

	_, err = e.Readdir("/a")
	require.ErrorIs(t, err, util.ErrNotADirectory)

	_, err = e.Readdir("/nope")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestGetattr_Traversal(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)

	_, err = e.Getattr("/a/b")
	require.ErrorIs(t, err, util.ErrNotADirectory)

	_, err = e.Getattr("/x/y")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestWrite_ExtendsWithZeros(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)

	n, err := e.Write("/f", []byte("AB"), 5)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	data, err := e.Read("/f", 100, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 'A', 'B'}, data)

	attrs, err := e.Getattr("/f")
	require.NoError(t, err)
	require.Equal(t, uint64(7), attrs.Size)
}

func TestWrite_OverwriteKeepsTail(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Write("/f", []byte("hello world"), 0)
	require.NoError(t, err)

	_, err = e.Write("/f", []byte("J"), 0)
	require.NoError(t, err)
	_, err = e.Write("/f", []byte("!"), 11)
	require.NoError(t, err)

	data, err := e.Read("/f", 64, 0)
	require.NoError(t, err)
	require.Equal(t, "Jello world!", string(data))
}

func TestWrite_UpdatesMtime(t *testing.T) {
	e := newTestEngine(t)
	e.now = func() time.Time { return time.Unix(100, 0) }
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)

	e.now = func() time.Time { return time.Unix(200, 0) }
	_, err = e.Write("/f", []byte("x"), 0)
	require.NoError(t, err)

	attrs, err := e.Getattr("/f")
	require.NoError(t, err)
	require.Equal(t, int64(200), attrs.Mtime)
	require.Equal(t, int64(100), attrs.Atime)
}

func TestRead_ClampsAtEnd(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Write("/f", []byte("12345"), 0)
	require.NoError(t, err)

	data, err := e.Read("/f", 100, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("45"), data)

	data, err = e.Read("/f", 10, 9)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestWrite_OffsetOverflowRejected(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Write("/f", []byte("12345"), 0)
	require.NoError(t, err)

	_, err = e.Write("/f", []byte("x"), math.MaxInt64)
	require.ErrorIs(t, err, util.ErrInvalidArgument)

	data, err := e.Read("/f", math.MaxInt, 1)
	require.NoError(t, err)
	require.Equal(t, "2345", string(data))

	data, err = e.Read("/f", math.MaxInt, math.MaxInt64)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestWrite_EmptyPastEndKeepsSize(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Write("/f", []byte("abc"), 0)
	require.NoError(t, err)

	n, err := e.Write("/f", nil, 10)
	require.NoError(t, err)
	require.Zero(t, n)

	attrs, err := e.Getattr("/f")
	require.NoError(t, err)
	require.Equal(t, uint64(3), attrs.Size)
}

func TestRead_Directory(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Read("/", 10, 0)
	require.ErrorIs(t, err, util.ErrIsADirectory)

	_, err = e.Write("/", []byte("x"), 0)
	require.ErrorIs(t, err, util.ErrIsADirectory)

	err = e.Truncate("/", 0)
	require.ErrorIs(t, err, util.ErrIsADirectory)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		length uint64
		want   []byte
	}{
		{name: "shrink", length: 2, want: []byte("ab")},
		{name: "same", length: 4, want: []byte("abcd")},
		{name: "grow", length: 6, want: []byte{'a', 'b', 'c', 'd', 0, 0}},
		{name: "empty", length: 0, want: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			_, err := e.Create("/f", 0o644, testCaller)
			require.NoError(t, err)
			_, err = e.Write("/f", []byte("abcd"), 0)
			require.NoError(t, err)

			require.NoError(t, e.Truncate("/f", tt.length))

			data, err := e.Read("/f", 100, 0)
			require.NoError(t, err)
			require.Equal(t, tt.want, data)

			attrs, err := e.Getattr("/f")
			require.NoError(t, err)
			require.Equal(t, uint64(len(tt.want)), attrs.Size)
		})
	}
}

func TestSizeInvariant(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)

	ops := []func() error{
		func() error { _, err := e.Write("/f", nil, 0); return err },
		func() error { _, err := e.Write("/f", []byte("abc"), 10); return err },
		func() error { return e.Truncate("/f", 4) },
		func() error { _, err := e.Write("/f", []byte("zz"), 3); return err },
		func() error { return e.Truncate("/f", 0) },
		func() error { _, err := e.Write("/f", nil, 7); return err },
	}
	for i, op := range ops {
		require.NoError(t, op(), "op %d", i)
		attrs, err := e.Getattr("/f")
		require.NoError(t, err)
		data, err := e.Read("/f", util.MaxFileSize, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(len(data)), attrs.Size, "op %d", i)
	}
}

func TestMkdirAndNested(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir("/d", 0o750, testCaller))
	require.NoError(t, e.Mkdir("/d/e", 0o755, testCaller))
	_, err := e.Create("/d/e/f", 0o644, testCaller)
	require.NoError(t, err)

	attrs, err := e.Getattr("/d")
	require.NoError(t, err)
	require.True(t, attrs.IsDir())
	require.Equal(t, uint32(3), attrs.Nlink)

	root, err := e.Getattr("/")
	require.NoError(t, err)
	require.Equal(t, uint32(3), root.Nlink)

	names, err := e.Readdir("/d/e")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "f"}, names)

	require.ErrorIs(t, e.Mkdir("/d", 0o755, testCaller), util.ErrAlreadyExists)
}

func TestUnlinkAndRmdir(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir("/d", 0o755, testCaller))
	_, err := e.Create("/d/f", 0o644, testCaller)
	require.NoError(t, err)

	require.ErrorIs(t, e.Rmdir("/d"), util.ErrNotEmpty)
	require.ErrorIs(t, e.Unlink("/d"), util.ErrIsADirectory)
	require.ErrorIs(t, e.Rmdir("/d/f"), util.ErrNotADirectory)
	require.ErrorIs(t, e.Rmdir("/"), util.ErrInvalidArgument)

	require.NoError(t, e.Unlink("/d/f"))
	require.ErrorIs(t, e.Unlink("/d/f"), util.ErrNotFound)
	require.NoError(t, e.Rmdir("/d"))

	names, err := e.Readdir("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", ".."}, names)

	root, err := e.Getattr("/")
	require.NoError(t, err)
	require.Equal(t, uint32(2), root.Nlink)
}

func TestRename(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir("/src", 0o755, testCaller))
	require.NoError(t, e.Mkdir("/dst", 0o755, testCaller))
	_, err := e.Create("/src/a", 0o644, testCaller)
	require.NoError(t, err)
	_, err = e.Write("/src/a", []byte("moved"), 0)
	require.NoError(t, err)

	require.NoError(t, e.Rename("/src/a", "/dst/b"))

	_, err = e.Getattr("/src/a")
	require.ErrorIs(t, err, util.ErrNotFound)
	data, err := e.Read("/dst/b", 10, 0)
	require.NoError(t, err)
	require.Equal(t, "moved", string(data))
}

func TestRename_ReplaceRules(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir("/d", 0o755, testCaller))
	require.NoError(t, e.Mkdir("/empty", 0o755, testCaller))
	require.NoError(t, e.Mkdir("/full", 0o755, testCaller))
	for _, p := range []string{"/f", "/g", "/full/x"} {
		_, err := e.Create(p, 0o644, testCaller)
		require.NoError(t, err)
	}
	_, err := e.Write("/f", []byte("new"), 0)
	require.NoError(t, err)

	require.ErrorIs(t, e.Rename("/f", "/d"), util.ErrIsADirectory)
	require.ErrorIs(t, e.Rename("/d", "/f"), util.ErrNotADirectory)
	require.ErrorIs(t, e.Rename("/d", "/full"), util.ErrNotEmpty)
	require.ErrorIs(t, e.Rename("/d", "/d/inner"), util.ErrInvalidArgument)
	require.ErrorIs(t, e.Rename("/missing", "/x"), util.ErrNotFound)

	require.NoError(t, e.Rename("/f", "/g"))
	data, err := e.Read("/g", 10, 0)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))

	require.NoError(t, e.Rename("/d", "/empty"))
	names, err := e.Readdir("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "full", "g", "empty"}, names)

	root, err := e.Getattr("/")
	require.NoError(t, err)
	require.Equal(t, uint32(4), root.Nlink)
}

func TestSetattr(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/f", 0o644, testCaller)
	require.NoError(t, err)

	require.NoError(t, e.Chmod("/f", 0o600))
	require.NoError(t, e.Chown("/f", 42, -1))
	atime := time.Unix(1000, 0)
	mtime := time.Unix(2000, 0)
	require.NoError(t, e.Utimens("/f", atime, mtime))

	attrs, err := e.Getattr("/f")
	require.NoError(t, err)
	require.True(t, attrs.IsRegular())
	require.Equal(t, os.FileMode(0o600), attrs.Perm())
	require.Equal(t, uint32(42), attrs.Uid)
	require.Equal(t, testCaller.Gid, attrs.Gid)
	require.Equal(t, int64(1000), attrs.Atime)
	require.Equal(t, int64(2000), attrs.Mtime)
}

func TestChmod_KeepsDirectoryBit(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Chmod("/", 0o700))

	attrs, err := e.Getattr("/")
	require.NoError(t, err)
	require.True(t, attrs.IsDir())
	require.Equal(t, os.FileMode(0o700), attrs.Perm())
}

func TestCorruptDocument_FailsClosedThenRecovers(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/a", 0o644, testCaller)
	require.NoError(t, err)
	good, err := os.ReadFile(e.StoragePath())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(e.StoragePath(), []byte(`{"attrs": {`), 0o600))

	_, err = e.Readdir("/")
	require.ErrorIs(t, err, util.ErrStorageCorrupt)
	_, err = e.Create("/b", 0o644, testCaller)
	require.ErrorIs(t, err, util.ErrStorageCorrupt)

	require.NoError(t, os.WriteFile(e.StoragePath(), good, 0o600))
	names, err := e.Readdir("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "a"}, names)
}

func TestMissingDocument_IOFailure(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, os.Remove(e.StoragePath()))

	_, err := e.Getattr("/")
	require.ErrorIs(t, err, util.ErrIOFailure)
}

func TestConcurrentCreate(t *testing.T) {
	e := newTestEngine(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Create(fmt.Sprintf("/file-%02d", i), 0o644, testCaller)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tree, err := util.LoadTree(e.StoragePath())
	require.NoError(t, err)
	require.Equal(t, workers, tree.Root.Len())
	for i := range workers {
		_, ok := tree.Root.Child(fmt.Sprintf("file-%02d", i))
		require.True(t, ok, "file-%02d missing", i)
	}
}

func TestConcurrentWrite_NoLostUpdate(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("/log", 0o644, testCaller)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Write("/log", []byte{byte('a' + i)}, int64(i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := e.Read("/log", workers, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdefgh"), data)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir("/d", 0o755, testCaller))
	_, err := e.Create("/d/bin", 0o644, testCaller)
	require.NoError(t, err)
	binary := []byte{0xff, 0x00, 0xfe, 'x'}
	_, err = e.Write("/d/bin", binary, 0)
	require.NoError(t, err)

	snap, err := e.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, util.EncodeTree(&buf, snap))
	again, err := util.DecodeTree(&buf)
	require.NoError(t, err)

	f, err := again.ResolveFile("/d/bin")
	require.NoError(t, err)
	require.Equal(t, binary, f.Contents())
}
