// Package posix implements the terminal leaf brick that maps every
// operation onto the host filesystem under a configured base path (spec
// §4.4). It is an external collaborator to the core: its correctness is
// bog-standard os/syscall plumbing, not a subsystem under test here.
package posix

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/xattr"

	"github.com/hraban/kennyfs/brick"
)

func init() {
	brick.Register("posix", brick.Kind{
		Init:          initBrick,
		GetOps:        getOps,
		Halt:          func(any) {},
		MinSubvolumes: 0,
		MaxSubvolumes: 0,
	})
}

type state struct {
	base string
}

func initBrick(name string, params map[string]string, subvolumes []*brick.Instance) (any, error) {
	base, ok := params["path"]
	if !ok || base == "" {
		return nil, errMissingPath
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	return &state{base: abs}, nil
}

var errMissingPath = brick.EINVAL

func self(ctx *brick.Context) *state { return ctx.State.(*state) }

func (s *state) full(path string) string {
	return filepath.Join(s.base, filepath.FromSlash(path))
}

type fileHandle struct {
	f *os.File
}

type dirHandle struct {
	mu      sync.Mutex
	entries []os.DirEntry
	pos     int
}

func toStat(fi os.FileInfo) *brick.Stat {
	sys, _ := fi.Sys().(*syscall.Stat_t)
	st := &brick.Stat{
		Mode: uint32(fi.Mode().Perm()),
		Size: uint32(fi.Size()),
		Mtime: uint32(fi.ModTime().Unix()),
	}
	switch {
	case fi.IsDir():
		st.Mode |= brick.SIFDIR
	case fi.Mode()&os.ModeSymlink != 0:
		st.Mode |= brick.SIFLNK
	default:
		st.Mode |= brick.SIFREG
	}
	if sys != nil {
		st.Dev = uint32(sys.Dev)
		st.Ino = uint32(sys.Ino)
		st.Nlink = uint32(sys.Nlink)
		st.UID = sys.Uid
		st.GID = sys.Gid
		st.Rdev = uint32(sys.Rdev)
		st.Blksize = uint32(sys.Blksize)
		st.Blocks = uint32(sys.Blocks)
		st.Atime = uint32(sys.Atim.Sec)
		st.Ctime = uint32(sys.Ctim.Sec)
	}
	return st
}

func getOps() *brick.Ops { return ops }

var ops *brick.Ops

func init() {
	ops = brick.NewOps()

	ops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		fi, err := os.Lstat(s.full(path))
		if err != nil {
			return nil, brick.FromOSError(err)
		}
		return toStat(fi), brick.OK
	}

	ops.Readlink = func(ctx *brick.Context, path string, size int) (string, brick.Errno) {
		s := self(ctx)
		target, err := os.Readlink(s.full(path))
		if err != nil {
			return "", brick.FromOSError(err)
		}
		if size > 0 && len(target) > size {
			target = target[:size]
		}
		return target, brick.OK
	}

	ops.Mknod = func(ctx *brick.Context, path string, mode, dev uint32) brick.Errno {
		s := self(ctx)
		if mode&brick.SIFMT == brick.SIFDIR {
			return brick.FromOSError(os.Mkdir(s.full(path), os.FileMode(mode&0777)))
		}
		f, err := os.OpenFile(s.full(path), os.O_CREATE|os.O_EXCL, os.FileMode(mode&0777))
		if err != nil {
			return brick.FromOSError(err)
		}
		return brick.FromOSError(f.Close())
	}

	ops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Mkdir(s.full(path), os.FileMode(mode&0777)))
	}

	ops.Unlink = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Remove(s.full(path)))
	}

	ops.Rmdir = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Remove(s.full(path)))
	}

	ops.Symlink = func(ctx *brick.Context, target, path string) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Symlink(target, s.full(path)))
	}

	ops.Rename = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Rename(s.full(oldpath), s.full(newpath)))
	}

	ops.Link = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Link(s.full(oldpath), s.full(newpath)))
	}

	ops.Chmod = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Chmod(s.full(path), os.FileMode(mode&07777)))
	}

	ops.Chown = func(ctx *brick.Context, path string, uid, gid uint32) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Lchown(s.full(path), int(uid), int(gid)))
	}

	ops.Truncate = func(ctx *brick.Context, path string, size int64) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Truncate(s.full(path), size))
	}

	ops.Open = func(ctx *brick.Context, path string, flags int) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		f, err := os.OpenFile(s.full(path), flags, 0)
		if err != nil {
			return nil, brick.FromOSError(err)
		}
		return &fileHandle{f: f}, brick.OK
	}

	ops.Create = func(ctx *brick.Context, path string, flags int, mode uint32) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		f, err := os.OpenFile(s.full(path), flags|os.O_CREATE, os.FileMode(mode&0777))
		if err != nil {
			return nil, brick.FromOSError(err)
		}
		return &fileHandle{f: f}, brick.OK
	}

	ops.Read = func(ctx *brick.Context, path string, fh brick.FileHandle, buf []byte, off int64) (int, brick.Errno) {
		h := fh.(*fileHandle)
		n, err := h.f.ReadAt(buf, off)
		if err != nil && err.Error() != "EOF" {
			return n, brick.FromOSError(err)
		}
		return n, brick.OK
	}

	ops.Write = func(ctx *brick.Context, path string, fh brick.FileHandle, data []byte, off int64) (int, brick.Errno) {
		h := fh.(*fileHandle)
		n, err := h.f.WriteAt(data, off)
		if err != nil {
			return n, brick.FromOSError(err)
		}
		return n, brick.OK
	}

	ops.Statfs = func(ctx *brick.Context, path string) (*brick.StatfsResult, brick.Errno) {
		s := self(ctx)
		var st syscall.Statfs_t
		if err := syscall.Statfs(s.full(path), &st); err != nil {
			return nil, brick.FromOSError(err)
		}
		return &brick.StatfsResult{
			Bsize:   uint32(st.Bsize),
			Frsize:  uint32(st.Bsize),
			Blocks:  st.Blocks,
			Bfree:   st.Bfree,
			Bavail:  st.Bavail,
			Files:   st.Files,
			Ffree:   st.Ffree,
			NameMax: uint32(st.Namelen),
		}, brick.OK
	}

	ops.Flush = func(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
		return brick.OK
	}

	ops.Release = func(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
		h := fh.(*fileHandle)
		return brick.FromOSError(h.f.Close())
	}

	ops.Fsync = func(ctx *brick.Context, path string, fh brick.FileHandle, datasync bool) brick.Errno {
		h := fh.(*fileHandle)
		return brick.FromOSError(h.f.Sync())
	}

	ops.Setxattr = func(ctx *brick.Context, path, name string, value []byte, flags int) brick.Errno {
		s := self(ctx)
		if err := xattr.LSet(s.full(path), name, value); err != nil {
			return xattrErrno(err)
		}
		return brick.OK
	}

	ops.Getxattr = func(ctx *brick.Context, path, name string, size int) ([]byte, brick.Errno) {
		s := self(ctx)
		v, err := xattr.LGet(s.full(path), name)
		if err != nil {
			return nil, xattrErrno(err)
		}
		if size > 0 && len(v) > size {
			v = v[:size]
		}
		return v, brick.OK
	}

	ops.Listxattr = func(ctx *brick.Context, path string, size int) ([]string, brick.Errno) {
		s := self(ctx)
		names, err := xattr.LList(s.full(path))
		if err != nil {
			return nil, xattrErrno(err)
		}
		return names, brick.OK
	}

	ops.Removexattr = func(ctx *brick.Context, path, name string) brick.Errno {
		s := self(ctx)
		if err := xattr.LRemove(s.full(path), name); err != nil {
			return xattrErrno(err)
		}
		return brick.OK
	}

	ops.Opendir = func(ctx *brick.Context, path string) (brick.DirHandle, brick.Errno) {
		s := self(ctx)
		entries, err := os.ReadDir(s.full(path))
		if err != nil {
			return nil, brick.FromOSError(err)
		}
		return &dirHandle{entries: entries}, brick.OK
	}

	ops.Readdir = func(ctx *brick.Context, path string, fh brick.DirHandle, collector brick.DirEntryCollector) brick.Errno {
		h := fh.(*dirHandle)
		h.mu.Lock()
		defer h.mu.Unlock()
		for h.pos < len(h.entries) {
			e := h.entries[h.pos]
			mode := uint32(0)
			switch {
			case e.IsDir():
				mode = brick.SIFDIR
			case e.Type()&os.ModeSymlink != 0:
				mode = brick.SIFLNK
			default:
				mode = brick.SIFREG
			}
			if !collector.Add(brick.DirEntry{Name: e.Name(), Mode: mode}) {
				return brick.OK
			}
			h.pos++
		}
		return brick.OK
	}

	ops.Releasedir = func(ctx *brick.Context, path string, fh brick.DirHandle) brick.Errno {
		return brick.OK
	}

	ops.Fsyncdir = func(ctx *brick.Context, path string, fh brick.DirHandle, datasync bool) brick.Errno {
		return brick.OK
	}

	ops.Access = func(ctx *brick.Context, path string, mode int) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(syscall.Access(s.full(path), uint32(mode)))
	}

	ops.Ftruncate = func(ctx *brick.Context, path string, fh brick.FileHandle, size int64) brick.Errno {
		h := fh.(*fileHandle)
		return brick.FromOSError(h.f.Truncate(size))
	}

	ops.Fgetattr = func(ctx *brick.Context, path string, fh brick.FileHandle) (*brick.Stat, brick.Errno) {
		h := fh.(*fileHandle)
		fi, err := h.f.Stat()
		if err != nil {
			return nil, brick.FromOSError(err)
		}
		return toStat(fi), brick.OK
	}

	ops.Lock = func(ctx *brick.Context, path string, fh brick.FileHandle, cmd int, lock *brick.FileLock) brick.Errno {
		return brick.ENOSYS
	}

	ops.Utimens = func(ctx *brick.Context, path string, atime, mtime time.Time) brick.Errno {
		s := self(ctx)
		return brick.FromOSError(os.Chtimes(s.full(path), atime, mtime))
	}

	ops.Bmap = func(ctx *brick.Context, path string, blocksize uint32, idx uint64) (uint64, brick.Errno) {
		return 0, brick.ENOSYS
	}

	ops.Ioctl = func(ctx *brick.Context, path string, cmd int, arg uint64, fh brick.FileHandle, flags uint32, data []byte) ([]byte, brick.Errno) {
		return nil, brick.ENOSYS
	}

	ops.Poll = func(ctx *brick.Context, path string, fh brick.FileHandle) (uint32, brick.Errno) {
		return 0, brick.ENOSYS
	}
}

func xattrErrno(err error) brick.Errno {
	xe, ok := err.(*xattr.Error)
	if !ok {
		return brick.FromOSError(err)
	}
	if xe.Err == xattr.ENOATTR || xe.Err == syscall.ENODATA {
		return brick.ENOENT
	}
	if xe.Err == syscall.EINVAL || xe.Err == syscall.ENOTSUP {
		return brick.ENOTSUP
	}
	if errno, ok := xe.Err.(syscall.Errno); ok {
		return brick.FromOSError(errno)
	}
	return brick.EIO
}
