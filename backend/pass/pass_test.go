package pass

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hraban/kennyfs/brick"
)

// fakeState is the stub subvolume state, recording the last call it saw.
type fakeState struct {
	lastPath string
}

func newFakeSubvolume() *brick.Instance {
	fops := brick.NewOps()
	fops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		ctx.State.(*fakeState).lastPath = path
		return &brick.Stat{Mode: brick.SIFREG, Size: 42}, brick.OK
	}
	fops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		ctx.State.(*fakeState).lastPath = path
		return brick.OK
	}
	return &brick.Instance{Name: "fake", Ops: fops, State: &fakeState{}}
}

func TestGetattrForwardsUnchanged(t *testing.T) {
	sub := newFakeSubvolume()
	raw, err := initBrick("root", nil, []*brick.Instance{sub})
	require.NoError(t, err)
	s := raw.(*state)

	ctx := &brick.Context{State: s}
	st, errno := ops.Getattr(ctx, "/foo")
	require.Equal(t, brick.OK, errno)
	require.Equal(t, uint32(42), st.Size)
	require.Equal(t, "/foo", sub.State.(*fakeState).lastPath)
}

func TestMkdirForwardsUnchanged(t *testing.T) {
	sub := newFakeSubvolume()
	raw, err := initBrick("root", nil, []*brick.Instance{sub})
	require.NoError(t, err)
	s := raw.(*state)

	ctx := &brick.Context{State: s}
	require.Equal(t, brick.OK, ops.Mkdir(ctx, "/bar", 0755))
	require.Equal(t, "/bar", sub.State.(*fakeState).lastPath)
}

func TestUnimplementedSlotForwardsENOSYS(t *testing.T) {
	sub := newFakeSubvolume()
	raw, err := initBrick("root", nil, []*brick.Instance{sub})
	require.NoError(t, err)
	s := raw.(*state)

	ctx := &brick.Context{State: s}
	_, errno := ops.Bmap(ctx, "/foo", 4096, 0)
	require.Equal(t, brick.ENOSYS, errno)
}
