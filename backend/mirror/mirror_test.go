package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hraban/kennyfs/brick"
)

// fakeVolume is a tiny in-memory brick good enough to exercise the
// mirror brick's fan-out/rollback/ejection logic without touching a
// real filesystem. Each instance can be told to fail specific paths.
type fakeVolume struct {
	name   string
	nodes  map[string]bool
	failOn map[string]brick.Errno
}

func newFakeVolume(name string) *fakeVolume {
	return &fakeVolume{name: name, nodes: map[string]bool{}, failOn: map[string]brick.Errno{}}
}

func (v *fakeVolume) instance() *brick.Instance {
	return &brick.Instance{Name: v.name, Ops: v.ops(), State: v}
}

func (v *fakeVolume) ops() *brick.Ops {
	ops := brick.NewOps()
	ops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		if errno, bad := v.failOn[path]; bad {
			return errno
		}
		v.nodes[path] = true
		return brick.OK
	}
	ops.Rmdir = func(ctx *brick.Context, path string) brick.Errno {
		if errno, bad := v.failOn["rmdir:"+path]; bad {
			return errno
		}
		delete(v.nodes, path)
		return brick.OK
	}
	ops.Unlink = func(ctx *brick.Context, path string) brick.Errno {
		if errno, bad := v.failOn["unlink:"+path]; bad {
			return errno
		}
		delete(v.nodes, path)
		return brick.OK
	}
	ops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		if !v.nodes[path] {
			return nil, brick.ENOENT
		}
		return &brick.Stat{Mode: brick.SIFDIR | 0755}, brick.OK
	}
	return ops
}

func newMirrorState(vols ...*fakeVolume) *state {
	subvols := make([]*subvol, len(vols))
	for i, v := range vols {
		subvols[i] = &subvol{inst: v.instance(), active: true}
	}
	return &state{subvols: subvols}
}

func testCtx(s *state) *brick.Context {
	return &brick.Context{UID: 0, GID: 0, State: s}
}

func TestMkdirReplicatesToAllActive(t *testing.T) {
	a, b := newFakeVolume("a"), newFakeVolume("b")
	s := newMirrorState(a, b)
	ctx := testCtx(s)

	errno := ops.Mkdir(ctx, "/x", 0755)
	require.Equal(t, brick.OK, errno)
	assert.True(t, a.nodes["/x"])
	assert.True(t, b.nodes["/x"])
}

func TestMkdirRollsBackOnPartialFailure(t *testing.T) {
	a, b := newFakeVolume("a"), newFakeVolume("b")
	b.failOn["/x"] = brick.EIO
	s := newMirrorState(a, b)
	ctx := testCtx(s)

	errno := ops.Mkdir(ctx, "/x", 0755)
	assert.Equal(t, brick.EIO, errno)
	assert.False(t, a.nodes["/x"], "successful subvolume must be rolled back")
	assert.False(t, b.nodes["/x"])
}

func TestUnlinkAbortsOnFirstFailure(t *testing.T) {
	a, b := newFakeVolume("a"), newFakeVolume("b")
	a.nodes["/f"] = true
	b.nodes["/f"] = true
	a.failOn["unlink:/f"] = brick.EIO
	s := newMirrorState(a, b)
	ctx := testCtx(s)

	errno := ops.Unlink(ctx, "/f")
	assert.Equal(t, brick.EIO, errno)
	assert.True(t, b.nodes["/f"], "a later subvolume must be untouched when the first fails")
}

func TestUnlinkEjectsLaterFailure(t *testing.T) {
	a, b := newFakeVolume("a"), newFakeVolume("b")
	a.nodes["/f"] = true
	b.nodes["/f"] = true
	b.failOn["unlink:/f"] = brick.EIO
	s := newMirrorState(a, b)
	ctx := testCtx(s)

	errno := ops.Unlink(ctx, "/f")
	require.Equal(t, brick.OK, errno)
	assert.False(t, s.subvols[1].active, "subvolume failing after the first success should be ejected")
	assert.True(t, s.subvols[0].active)
}

func TestAllSubvolumesEjectedReturnsNoSubvolumes(t *testing.T) {
	a := newFakeVolume("a")
	s := newMirrorState(a)
	s.subvols[0].active = false
	ctx := testCtx(s)

	_, errno := ops.Getattr(ctx, "/anything")
	assert.Equal(t, brick.ENOSUBVOLS, errno)
}

func TestGetattrUsesFirstActiveSubvolume(t *testing.T) {
	a, b := newFakeVolume("a"), newFakeVolume("b")
	a.nodes["/d"] = true
	b.nodes["/d"] = true
	s := newMirrorState(a, b)
	s.subvols[0].active = false
	ctx := testCtx(s)

	_, errno := ops.Getattr(ctx, "/d")
	require.Equal(t, brick.OK, errno)
}
