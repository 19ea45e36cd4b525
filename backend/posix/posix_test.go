package posix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hraban/kennyfs/brick"
)

func newTestState(t *testing.T) *state {
	t.Helper()
	raw, err := initBrick("root", map[string]string{"path": t.TempDir()}, nil)
	require.NoError(t, err)
	return raw.(*state)
}

func TestInitBrickRequiresPath(t *testing.T) {
	_, err := initBrick("root", map[string]string{}, nil)
	require.Error(t, err)
}

func TestMkdirGetattrRoundTrip(t *testing.T) {
	s := newTestState(t)
	ctx := &brick.Context{State: s}

	require.Equal(t, brick.OK, ops.Mkdir(ctx, "/sub", 0755))

	st, errno := ops.Getattr(ctx, "/sub")
	require.Equal(t, brick.OK, errno)
	require.True(t, st.IsDir())
}

func TestCreateWriteReadFile(t *testing.T) {
	s := newTestState(t)
	ctx := &brick.Context{State: s}

	fh, errno := ops.Create(ctx, "/hello.txt", os.O_RDWR, 0644)
	require.Equal(t, brick.OK, errno)

	n, errno := ops.Write(ctx, "/hello.txt", fh, []byte("hello"), 0)
	require.Equal(t, brick.OK, errno)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, errno = ops.Read(ctx, "/hello.txt", fh, buf, 0)
	require.Equal(t, brick.OK, errno)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	require.Equal(t, brick.OK, ops.Release(ctx, "/hello.txt", fh))

	st, errno := ops.Getattr(ctx, "/hello.txt")
	require.Equal(t, brick.OK, errno)
	require.True(t, st.Mode&brick.SIFMT == brick.SIFREG)
	require.Equal(t, uint32(5), st.Size)
}

func TestGetattrMissingFileIsENOENT(t *testing.T) {
	s := newTestState(t)
	ctx := &brick.Context{State: s}
	_, errno := ops.Getattr(ctx, "/nope")
	require.Equal(t, brick.ENOENT, errno)
}

func TestSetGetRemoveXattr(t *testing.T) {
	s := newTestState(t)
	ctx := &brick.Context{State: s}
	require.NoError(t, os.WriteFile(filepath.Join(s.base, "f"), []byte("x"), 0644))

	require.Equal(t, brick.OK, ops.Setxattr(ctx, "/f", "user.test", []byte("val"), 0))

	v, errno := ops.Getxattr(ctx, "/f", "user.test", 0)
	require.Equal(t, brick.OK, errno)
	require.Equal(t, "val", string(v))

	require.Equal(t, brick.OK, ops.Removexattr(ctx, "/f", "user.test"))

	_, errno = ops.Getxattr(ctx, "/f", "user.test", 0)
	require.Equal(t, brick.ENOENT, errno)
}

func TestReaddirListsEntries(t *testing.T) {
	s := newTestState(t)
	ctx := &brick.Context{State: s}
	require.Equal(t, brick.OK, ops.Mkdir(ctx, "/d", 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.base, "d", "a"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.base, "d", "b"), []byte("x"), 0644))

	dh, errno := ops.Opendir(ctx, "/d")
	require.Equal(t, brick.OK, errno)

	var names []string
	collector := brick.CollectorFunc(func(e brick.DirEntry) bool {
		names = append(names, e.Name)
		return true
	})
	require.Equal(t, brick.OK, ops.Readdir(ctx, "/d", dh, collector))
	require.ElementsMatch(t, []string{"a", "b"}, names)
}
