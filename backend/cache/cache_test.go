package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hraban/kennyfs/brick"
)

// fakeNode is one path entry in a fakeVolume's in-memory tree.
type fakeNode struct {
	mode   uint32
	target string // symlink target
	xattr  map[string][]byte
}

// fakeVolume is a minimal in-memory brick.Ops implementation good enough
// to exercise the cache brick's per-operation contracts without touching
// a real filesystem.
type fakeVolume struct {
	nodes map[string]*fakeNode

	// dirBatches scripts successive Readdir calls per path: each call to
	// Readdir pops and delivers the next queued batch; an exhausted or
	// never-populated queue delivers zero entries. Used to script
	// multi-call readdir sequences a real subvolume's buffering would
	// produce.
	dirBatches map[string][][]brick.DirEntry
}

func newFakeVolume() *fakeVolume {
	return &fakeVolume{
		nodes: map[string]*fakeNode{
			"/": {mode: brick.SIFDIR | 0755, xattr: map[string][]byte{}},
		},
		dirBatches: map[string][][]brick.DirEntry{},
	}
}

func (v *fakeVolume) instance(name string) *brick.Instance {
	return &brick.Instance{Name: name, Ops: v.ops(), State: v}
}

func (v *fakeVolume) ops() *brick.Ops {
	ops := brick.NewOps()
	ops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		n, ok := v.nodes[path]
		if !ok {
			return nil, brick.ENOENT
		}
		return &brick.Stat{Mode: n.mode, Size: uint32(len(n.target))}, brick.OK
	}
	ops.Readlink = func(ctx *brick.Context, path string, size int) (string, brick.Errno) {
		n, ok := v.nodes[path]
		if !ok {
			return "", brick.ENOENT
		}
		if n.mode&brick.SIFMT != brick.SIFLNK {
			return "", brick.EINVAL
		}
		return n.target, brick.OK
	}
	ops.Mknod = func(ctx *brick.Context, path string, mode, dev uint32) brick.Errno {
		if _, ok := v.nodes[path]; ok {
			return brick.EEXIST
		}
		v.nodes[path] = &fakeNode{mode: mode, xattr: map[string][]byte{}}
		return brick.OK
	}
	ops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		if _, ok := v.nodes[path]; ok {
			return brick.EEXIST
		}
		v.nodes[path] = &fakeNode{mode: brick.SIFDIR | mode, xattr: map[string][]byte{}}
		return brick.OK
	}
	ops.Symlink = func(ctx *brick.Context, target, path string) brick.Errno {
		if _, ok := v.nodes[path]; ok {
			return brick.EEXIST
		}
		v.nodes[path] = &fakeNode{mode: brick.SIFLNK | 0777, target: target, xattr: map[string][]byte{}}
		return brick.OK
	}
	ops.Unlink = func(ctx *brick.Context, path string) brick.Errno {
		if _, ok := v.nodes[path]; !ok {
			return brick.ENOENT
		}
		delete(v.nodes, path)
		return brick.OK
	}
	ops.Rmdir = ops.Unlink
	ops.Rename = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		n, ok := v.nodes[oldpath]
		if !ok {
			return brick.ENOENT
		}
		v.nodes[newpath] = n
		delete(v.nodes, oldpath)
		return brick.OK
	}
	ops.Truncate = func(ctx *brick.Context, path string, size int64) brick.Errno {
		if _, ok := v.nodes[path]; !ok {
			return brick.ENOENT
		}
		return brick.OK
	}
	ops.Setxattr = func(ctx *brick.Context, path, name string, value []byte, flags int) brick.Errno {
		n, ok := v.nodes[path]
		if !ok {
			return brick.ENOENT
		}
		buf := make([]byte, len(value))
		copy(buf, value)
		n.xattr[name] = buf
		return brick.OK
	}
	ops.Getxattr = func(ctx *brick.Context, path, name string, size int) ([]byte, brick.Errno) {
		n, ok := v.nodes[path]
		if !ok {
			return nil, brick.ENOENT
		}
		val, ok := n.xattr[name]
		if !ok {
			return nil, brick.ENOENT
		}
		return val, brick.OK
	}
	ops.Opendir = func(ctx *brick.Context, path string) (brick.DirHandle, brick.Errno) {
		if _, ok := v.nodes[path]; !ok {
			return nil, brick.ENOENT
		}
		return path, brick.OK
	}
	ops.Readdir = func(ctx *brick.Context, path string, fh brick.DirHandle, collector brick.DirEntryCollector) brick.Errno {
		queue := v.dirBatches[path]
		if len(queue) == 0 {
			return brick.OK
		}
		batch := queue[0]
		v.dirBatches[path] = queue[1:]
		for _, e := range batch {
			if !collector.Add(e) {
				return brick.OK
			}
		}
		return brick.OK
	}
	ops.Releasedir = func(ctx *brick.Context, path string, fh brick.DirHandle) brick.Errno {
		return brick.OK
	}
	return ops
}

func newTestState() (*state, *fakeVolume, *fakeVolume) {
	origin := newFakeVolume()
	cache := newFakeVolume()
	s := &state{origin: origin.instance("origin"), cache: cache.instance("cache")}
	return s, origin, cache
}

func testCtx(s *state) *brick.Context {
	return &brick.Context{UID: 0, GID: 0, State: s}
}

func TestGetattrPopulatesCache(t *testing.T) {
	s, origin, _ := newTestState()
	origin.nodes["/foo"] = &fakeNode{mode: brick.SIFREG | 0644, xattr: map[string][]byte{}}

	ctx := testCtx(s)
	st, errno := doGetattr(ctx, "/foo")
	require.Equal(t, brick.OK, errno)
	assert.Equal(t, brick.SIFREG|0644, st.Mode)

	// Second call must come from the cache xattr, not origin, so delete
	// origin's node and confirm getattr still succeeds.
	delete(origin.nodes, "/foo")
	st2, errno2 := doGetattr(ctx, "/foo")
	require.Equal(t, brick.OK, errno2)
	assert.Equal(t, st.Mode, st2.Mode)
}

func TestGetattrCreatesPlaceholderForDir(t *testing.T) {
	s, origin, cache := newTestState()
	origin.nodes["/dir"] = &fakeNode{mode: brick.SIFDIR | 0755, xattr: map[string][]byte{}}

	ctx := testCtx(s)
	_, errno := doGetattr(ctx, "/dir")
	require.Equal(t, brick.OK, errno)

	n, ok := cache.nodes["/dir"]
	require.True(t, ok)
	assert.Equal(t, brick.SIFDIR, n.mode&brick.SIFMT)
}

func TestMknodMirrorsToCache(t *testing.T) {
	s, _, cache := newTestState()
	ctx := testCtx(s)

	errno := ops.Mknod(ctx, "/new", brick.SIFREG|0644, 0)
	require.Equal(t, brick.OK, errno)

	n, ok := cache.nodes["/new"]
	require.True(t, ok)
	assert.Equal(t, placeholderMode, int(n.mode&0777))
}

func TestMknodFailsOnOriginError(t *testing.T) {
	s, origin, cache := newTestState()
	origin.nodes["/dup"] = &fakeNode{mode: brick.SIFREG | 0644, xattr: map[string][]byte{}}
	ctx := testCtx(s)

	errno := ops.Mknod(ctx, "/dup", brick.SIFREG|0644, 0)
	assert.Equal(t, brick.EEXIST, errno)
	_, ok := cache.nodes["/dup"]
	assert.False(t, ok, "cache must not be touched when origin fails")
}

func TestReadlinkTruncationHeuristic(t *testing.T) {
	s, origin, cache := newTestState()
	origin.nodes["/link"] = &fakeNode{mode: brick.SIFLNK | 0777, target: "target-of-exact-size"}
	ctx := testCtx(s)

	target := "target-of-exact-size"
	got, errno := ops.Readlink(ctx, "/link", len(target))
	require.Equal(t, brick.OK, errno)
	assert.Equal(t, target, got)
	_, cached := cache.nodes["/link"]
	assert.False(t, cached, "a target that exactly fills the buffer must not be cached")

	got2, errno2 := ops.Readlink(ctx, "/link", len(target)+16)
	require.Equal(t, brick.OK, errno2)
	assert.Equal(t, target, got2)
	_, cached2 := cache.nodes["/link"]
	assert.True(t, cached2, "a target with room to spare should be cached")
}

func TestReaddirMarksCompletionOnlyOnCleanPass(t *testing.T) {
	s, origin, cache := newTestState()
	origin.nodes["/d"] = &fakeNode{mode: brick.SIFDIR | 0755, xattr: map[string][]byte{}}
	cache.nodes["/d"] = &fakeNode{mode: brick.SIFDIR | 0755, xattr: map[string][]byte{}}
	origin.dirBatches["/d"] = [][]brick.DirEntry{
		{{Name: "a", Mode: brick.SIFREG}, {Name: "b", Mode: brick.SIFREG}, {Name: "c", Mode: brick.SIFREG}},
	}
	ctx := testCtx(s)

	fh, errno := doOpendir(ctx, "/d")
	require.Equal(t, brick.OK, errno)

	collector := brick.CollectorFunc(func(brick.DirEntry) bool { return true })
	errno2 := doReaddir(ctx, "/d", fh, collector)
	require.Equal(t, brick.OK, errno2)

	for _, name := range []string{"a", "b", "c"} {
		_, ok := cache.nodes["/d/"+name]
		assert.True(t, ok, "entry %q should have been mirrored to cache", name)
	}

	_, marked := cache.nodes["/d"].xattr[readdirXattrName]
	assert.True(t, marked)
}

// TestReaddirNonSequentialPartialCallMarksPrematurely reproduces the known,
// documented hazard at cache.go's cacheMirrorCollector and doReaddir: a
// single call in what is meant to be a multi-call readdir session can
// under-deliver a non-contiguous subset of the true directory contents
// (here "a" and "c", skipping "b") while still reporting brick.OK with no
// local failure or buffer-full signal. doReaddir has no way to distinguish
// that from a truly exhaustive pass, so it marks the directory complete
// after this single partial call — and a later, fresh Opendir on the same
// path then wrongly trusts the cache-side listing, which is missing "b"
// entirely. This is preserved, documented behavior, not something this
// test is meant to fix.
func TestReaddirNonSequentialPartialCallMarksPrematurely(t *testing.T) {
	s, origin, cache := newTestState()
	origin.nodes["/d"] = &fakeNode{mode: brick.SIFDIR | 0755, xattr: map[string][]byte{}}
	cache.nodes["/d"] = &fakeNode{mode: brick.SIFDIR | 0755, xattr: map[string][]byte{}}
	// The origin only ever delivers this one non-sequential batch: "b" is
	// never sent, as if a later call in the session (that never happens)
	// was going to supply it.
	origin.dirBatches["/d"] = [][]brick.DirEntry{
		{{Name: "a", Mode: brick.SIFREG}, {Name: "c", Mode: brick.SIFREG}},
	}
	ctx := testCtx(s)

	fh, errno := doOpendir(ctx, "/d")
	require.Equal(t, brick.OK, errno)

	collector := brick.CollectorFunc(func(brick.DirEntry) bool { return true })
	errno2 := doReaddir(ctx, "/d", fh, collector)
	require.Equal(t, brick.OK, errno2)

	_, gotA := cache.nodes["/d/a"]
	_, gotB := cache.nodes["/d/b"]
	_, gotC := cache.nodes["/d/c"]
	assert.True(t, gotA)
	assert.False(t, gotB, "b was never delivered by the origin and must not appear")
	assert.True(t, gotC)

	_, marked := cache.nodes["/d"].xattr[readdirXattrName]
	assert.True(t, marked, "the marker is set even though the enumeration only covered 2 of the directory's real entries")

	fh2, errno3 := doOpendir(ctx, "/d")
	require.Equal(t, brick.OK, errno3)
	dh2, ok := fh2.(*dirHandle)
	require.True(t, ok)
	assert.True(t, dh2.cacheSide, "a later opendir trusts the premature marker and serves the incomplete cache listing")
}
