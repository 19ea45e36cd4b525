// Package pass implements the passthrough brick (spec §2): a minimal
// one-subvolume forwarder that relays every operation unchanged to its
// single subvolume. It exists as the template every other brick's
// init/state/subctx scaffolding follows, and is useful on its own as an
// inert point in a brick tree (renaming a section, inserting a future
// interposer without touching the rest of the config).
package pass

import (
	"time"

	"github.com/hraban/kennyfs/brick"
)

func init() {
	brick.Register("pass", brick.Kind{
		Init:          initBrick,
		GetOps:        getOps,
		Halt:          func(any) {},
		MinSubvolumes: 1,
		MaxSubvolumes: 1,
	})
}

type state struct {
	sub *brick.Instance
}

func initBrick(name string, params map[string]string, subvolumes []*brick.Instance) (any, error) {
	return &state{sub: subvolumes[0]}, nil
}

func self(ctx *brick.Context) *state { return ctx.State.(*state) }

func subCtx(ctx *brick.Context, s *state) *brick.Context { return ctx.WithState(s.sub.State) }

var ops *brick.Ops

func getOps() *brick.Ops { return ops }

func init() {
	ops = brick.NewOps()

	ops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Getattr(subCtx(ctx, s), path)
	}

	ops.Readlink = func(ctx *brick.Context, path string, size int) (string, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Readlink(subCtx(ctx, s), path, size)
	}

	ops.Mknod = func(ctx *brick.Context, path string, mode, dev uint32) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Mknod(subCtx(ctx, s), path, mode, dev)
	}

	ops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Mkdir(subCtx(ctx, s), path, mode)
	}

	ops.Unlink = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Unlink(subCtx(ctx, s), path)
	}

	ops.Rmdir = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Rmdir(subCtx(ctx, s), path)
	}

	ops.Symlink = func(ctx *brick.Context, target, path string) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Symlink(subCtx(ctx, s), target, path)
	}

	ops.Rename = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Rename(subCtx(ctx, s), oldpath, newpath)
	}

	ops.Link = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Link(subCtx(ctx, s), oldpath, newpath)
	}

	ops.Chmod = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Chmod(subCtx(ctx, s), path, mode)
	}

	ops.Chown = func(ctx *brick.Context, path string, uid, gid uint32) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Chown(subCtx(ctx, s), path, uid, gid)
	}

	ops.Truncate = func(ctx *brick.Context, path string, size int64) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Truncate(subCtx(ctx, s), path, size)
	}

	ops.Open = func(ctx *brick.Context, path string, flags int) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Open(subCtx(ctx, s), path, flags)
	}

	ops.Read = func(ctx *brick.Context, path string, fh brick.FileHandle, buf []byte, off int64) (int, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Read(subCtx(ctx, s), path, fh, buf, off)
	}

	ops.Write = func(ctx *brick.Context, path string, fh brick.FileHandle, data []byte, off int64) (int, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Write(subCtx(ctx, s), path, fh, data, off)
	}

	ops.Statfs = func(ctx *brick.Context, path string) (*brick.StatfsResult, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Statfs(subCtx(ctx, s), path)
	}

	ops.Flush = func(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Flush(subCtx(ctx, s), path, fh)
	}

	ops.Release = func(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Release(subCtx(ctx, s), path, fh)
	}

	ops.Fsync = func(ctx *brick.Context, path string, fh brick.FileHandle, datasync bool) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Fsync(subCtx(ctx, s), path, fh, datasync)
	}

	ops.Setxattr = func(ctx *brick.Context, path, name string, value []byte, flags int) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Setxattr(subCtx(ctx, s), path, name, value, flags)
	}

	ops.Getxattr = func(ctx *brick.Context, path, name string, size int) ([]byte, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Getxattr(subCtx(ctx, s), path, name, size)
	}

	ops.Listxattr = func(ctx *brick.Context, path string, size int) ([]string, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Listxattr(subCtx(ctx, s), path, size)
	}

	ops.Removexattr = func(ctx *brick.Context, path, name string) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Removexattr(subCtx(ctx, s), path, name)
	}

	ops.Opendir = func(ctx *brick.Context, path string) (brick.DirHandle, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Opendir(subCtx(ctx, s), path)
	}

	ops.Readdir = func(ctx *brick.Context, path string, fh brick.DirHandle, collector brick.DirEntryCollector) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Readdir(subCtx(ctx, s), path, fh, collector)
	}

	ops.Releasedir = func(ctx *brick.Context, path string, fh brick.DirHandle) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Releasedir(subCtx(ctx, s), path, fh)
	}

	ops.Fsyncdir = func(ctx *brick.Context, path string, fh brick.DirHandle, datasync bool) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Fsyncdir(subCtx(ctx, s), path, fh, datasync)
	}

	ops.Access = func(ctx *brick.Context, path string, mode int) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Access(subCtx(ctx, s), path, mode)
	}

	ops.Create = func(ctx *brick.Context, path string, flags int, mode uint32) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Create(subCtx(ctx, s), path, flags, mode)
	}

	ops.Ftruncate = func(ctx *brick.Context, path string, fh brick.FileHandle, size int64) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Ftruncate(subCtx(ctx, s), path, fh, size)
	}

	ops.Fgetattr = func(ctx *brick.Context, path string, fh brick.FileHandle) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Fgetattr(subCtx(ctx, s), path, fh)
	}

	ops.Lock = func(ctx *brick.Context, path string, fh brick.FileHandle, cmd int, lock *brick.FileLock) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Lock(subCtx(ctx, s), path, fh, cmd, lock)
	}

	ops.Utimens = func(ctx *brick.Context, path string, atime, mtime time.Time) brick.Errno {
		s := self(ctx)
		return s.sub.Ops.Utimens(subCtx(ctx, s), path, atime, mtime)
	}

	ops.Bmap = func(ctx *brick.Context, path string, blocksize uint32, idx uint64) (uint64, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Bmap(subCtx(ctx, s), path, blocksize, idx)
	}

	ops.Ioctl = func(ctx *brick.Context, path string, cmd int, arg uint64, fh brick.FileHandle, flags uint32, data []byte) ([]byte, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Ioctl(subCtx(ctx, s), path, cmd, arg, fh, flags, data)
	}

	ops.Poll = func(ctx *brick.Context, path string, fh brick.FileHandle) (uint32, brick.Errno) {
		s := self(ctx)
		return s.sub.Ops.Poll(subCtx(ctx, s), path, fh)
	}
}
