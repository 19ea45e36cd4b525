// Package cache implements the write-through cache brick (spec §4.2): two
// subvolumes, "origin" and "cache", where the cache subvolume stores a
// shadow copy of origin's tree plus metadata persisted as xattrs. There is
// no expiration; a cached entry is always considered valid once written.
package cache

import (
	"path"
	"time"

	"github.com/hraban/kennyfs/brick"
	"github.com/hraban/kennyfs/internal/log"
)

// Xattr names the cache brick uses on the cache subvolume itself (grounded
// on rclone's backend/local/xattr.go use of pkg/xattr, here routed through
// the cache subvolume's own Ops rather than the host directly).
const (
	statXattrName    = "kfs.brick.cache.stat"
	readdirXattrName = "kfs.brick.cache.readdir"
)

func init() {
	brick.Register("cache", brick.Kind{
		Init:          initBrick,
		GetOps:        getOps,
		Halt:          func(any) {},
		MinSubvolumes: 2,
		MaxSubvolumes: 2,
	})
}

// state holds the two subvolumes. By convention subvolumes[0] is the
// origin and subvolumes[1] is the cache (config examples list origin
// first).
type state struct {
	origin *brick.Instance
	cache  *brick.Instance
}

func initBrick(name string, params map[string]string, subvolumes []*brick.Instance) (any, error) {
	return &state{origin: subvolumes[0], cache: subvolumes[1]}, nil
}

func self(ctx *brick.Context) *state { return ctx.State.(*state) }

func originCtx(ctx *brick.Context, s *state) *brick.Context { return ctx.WithState(s.origin.State) }
func cacheCtx(ctx *brick.Context, s *state) *brick.Context  { return ctx.WithState(s.cache.State) }

func isDirMode(mode uint32) bool  { return mode&brick.SIFMT == brick.SIFDIR }
func isLinkMode(mode uint32) bool { return mode&brick.SIFMT == brick.SIFLNK }

// placeholderMode is the permissive owner-only mode new cache-side nodes
// are created with (spec §4.2, mknod/mkdir/symlink/link/create).
const placeholderMode = 0700

var ops *brick.Ops

func getOps() *brick.Ops { return ops }

func init() {
	ops = brick.NewOps()

	ops.Getattr = doGetattr

	ops.Readlink = func(ctx *brick.Context, p string, size int) (string, brick.Errno) {
		s := self(ctx)
		cc, oc := cacheCtx(ctx, s), originCtx(ctx, s)

		target, errno := s.cache.Ops.Readlink(cc, p, size)
		if errno == brick.EINVAL {
			// Cache entry exists but is not a symlink: stale placeholder
			// from an earlier type, discard and continue to origin.
			s.cache.Ops.Unlink(cc, p)
		} else if errno == brick.OK {
			return target, brick.OK
		}

		origTarget, oerrno := s.origin.Ops.Readlink(oc, p, size)
		if oerrno != brick.OK {
			return "", oerrno
		}
		if len(origTarget) >= size {
			// Might be truncated: do not cache a possibly-partial target.
			return origTarget, brick.OK
		}
		if cerrno := s.cache.Ops.Symlink(cc, origTarget, p); cerrno != brick.OK && cerrno != brick.ENOTSUP {
			log.Warningf(s, "cache: readlink: failed to cache symlink %s: %v", p, cerrno)
		}
		return origTarget, brick.OK
	}

	ops.Mknod = func(ctx *brick.Context, p string, mode, dev uint32) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Mknod(originCtx(ctx, s), p, mode, dev); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Mknod(cacheCtx(ctx, s), p, placeholderMode|(mode&brick.SIFMT), dev); errno != brick.OK {
			log.Warningf(s, "cache: mknod: failed to mirror %s: %v", p, errno)
		}
		return brick.OK
	}

	ops.Mkdir = func(ctx *brick.Context, p string, mode uint32) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Mkdir(originCtx(ctx, s), p, mode); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Mkdir(cacheCtx(ctx, s), p, placeholderMode); errno != brick.OK {
			log.Warningf(s, "cache: mkdir: failed to mirror %s: %v", p, errno)
		}
		return brick.OK
	}

	ops.Symlink = func(ctx *brick.Context, target, p string) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Symlink(originCtx(ctx, s), target, p); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Symlink(cacheCtx(ctx, s), target, p); errno != brick.OK {
			log.Warningf(s, "cache: symlink: failed to mirror %s: %v", p, errno)
		}
		return brick.OK
	}

	ops.Link = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Link(originCtx(ctx, s), oldpath, newpath); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Link(cacheCtx(ctx, s), oldpath, newpath); errno != brick.OK {
			log.Warningf(s, "cache: link: failed to mirror %s: %v", newpath, errno)
		}
		return brick.OK
	}

	ops.Create = func(ctx *brick.Context, p string, flags int, mode uint32) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		fh, errno := s.origin.Ops.Create(originCtx(ctx, s), p, flags, mode)
		if errno != brick.OK {
			return nil, errno
		}
		if cerrno := s.cache.Ops.Mknod(cacheCtx(ctx, s), p, placeholderMode|brick.SIFREG, 0); cerrno != brick.OK {
			log.Warningf(s, "cache: create: failed to mirror node %s: %v", p, cerrno)
		}
		return fh, brick.OK
	}

	ops.Unlink = func(ctx *brick.Context, p string) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Unlink(originCtx(ctx, s), p); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Unlink(cacheCtx(ctx, s), p); errno != brick.OK && errno != brick.ENOENT {
			log.Warningf(s, "cache: unlink: cache inconsistency for %s: %v", p, errno)
		}
		return brick.OK
	}

	ops.Rmdir = func(ctx *brick.Context, p string) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Rmdir(originCtx(ctx, s), p); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Rmdir(cacheCtx(ctx, s), p); errno != brick.OK && errno != brick.ENOENT {
			log.Warningf(s, "cache: rmdir: cache inconsistency for %s: %v", p, errno)
		}
		return brick.OK
	}

	ops.Rename = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Rename(originCtx(ctx, s), oldpath, newpath); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Rename(cacheCtx(ctx, s), oldpath, newpath); errno != brick.OK && errno != brick.ENOENT {
			log.Warningf(s, "cache: rename: cache inconsistency for %s -> %s: %v", oldpath, newpath, errno)
		}
		return brick.OK
	}

	ops.Truncate = func(ctx *brick.Context, p string, size int64) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Truncate(originCtx(ctx, s), p, size); errno != brick.OK {
			return errno
		}
		if errno := s.cache.Ops.Truncate(cacheCtx(ctx, s), p, size); errno != brick.OK {
			if derrno := s.cache.Ops.Unlink(cacheCtx(ctx, s), p); derrno != brick.OK && derrno != brick.ENOENT {
				log.Warningf(s, "cache: truncate: failed to evict stale cache entry %s: %v", p, derrno)
			}
		}
		return brick.OK
	}

	ops.Chmod = func(ctx *brick.Context, p string, mode uint32) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Chmod(originCtx(ctx, s), p, mode); errno != brick.OK {
			return errno
		}
		s.restat(ctx, p, func(st *brick.Stat) { st.Mode = (st.Mode &^ 07777) | (mode & 07777) })
		return brick.OK
	}

	ops.Chown = func(ctx *brick.Context, p string, uid, gid uint32) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Chown(originCtx(ctx, s), p, uid, gid); errno != brick.OK {
			return errno
		}
		s.restat(ctx, p, func(st *brick.Stat) { st.UID = uid; st.GID = gid })
		return brick.OK
	}

	ops.Utimens = func(ctx *brick.Context, p string, atime, mtime time.Time) brick.Errno {
		s := self(ctx)
		if errno := s.origin.Ops.Utimens(originCtx(ctx, s), p, atime, mtime); errno != brick.OK {
			return errno
		}
		s.restat(ctx, p, func(st *brick.Stat) {
			st.Atime = uint32(atime.Unix())
			st.Mtime = uint32(mtime.Unix())
		})
		return brick.OK
	}

	ops.Opendir = doOpendir
	ops.Readdir = doReaddir
	ops.Releasedir = doReleasedir

	// Everything else forwards to origin unchanged (spec §4.2).
	ops.Open = func(ctx *brick.Context, p string, flags int) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Open(originCtx(ctx, s), p, flags)
	}
	ops.Read = func(ctx *brick.Context, p string, fh brick.FileHandle, buf []byte, off int64) (int, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Read(originCtx(ctx, s), p, fh, buf, off)
	}
	ops.Write = func(ctx *brick.Context, p string, fh brick.FileHandle, data []byte, off int64) (int, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Write(originCtx(ctx, s), p, fh, data, off)
	}
	ops.Flush = func(ctx *brick.Context, p string, fh brick.FileHandle) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Flush(originCtx(ctx, s), p, fh)
	}
	ops.Release = func(ctx *brick.Context, p string, fh brick.FileHandle) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Release(originCtx(ctx, s), p, fh)
	}
	ops.Fsync = func(ctx *brick.Context, p string, fh brick.FileHandle, datasync bool) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Fsync(originCtx(ctx, s), p, fh, datasync)
	}
	ops.Statfs = func(ctx *brick.Context, p string) (*brick.StatfsResult, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Statfs(originCtx(ctx, s), p)
	}
	ops.Lock = func(ctx *brick.Context, p string, fh brick.FileHandle, cmd int, lock *brick.FileLock) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Lock(originCtx(ctx, s), p, fh, cmd, lock)
	}
	ops.Fgetattr = func(ctx *brick.Context, p string, fh brick.FileHandle) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Fgetattr(originCtx(ctx, s), p, fh)
	}
	ops.Ftruncate = func(ctx *brick.Context, p string, fh brick.FileHandle, size int64) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Ftruncate(originCtx(ctx, s), p, fh, size)
	}
	ops.Bmap = func(ctx *brick.Context, p string, blocksize uint32, idx uint64) (uint64, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Bmap(originCtx(ctx, s), p, blocksize, idx)
	}
	ops.Access = func(ctx *brick.Context, p string, mode int) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Access(originCtx(ctx, s), p, mode)
	}
	ops.Ioctl = func(ctx *brick.Context, p string, cmd int, arg uint64, fh brick.FileHandle, flags uint32, data []byte) ([]byte, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Ioctl(originCtx(ctx, s), p, cmd, arg, fh, flags, data)
	}
	ops.Poll = func(ctx *brick.Context, p string, fh brick.FileHandle) (uint32, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Poll(originCtx(ctx, s), p, fh)
	}
	ops.Setxattr = func(ctx *brick.Context, p, name string, value []byte, flags int) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Setxattr(originCtx(ctx, s), p, name, value, flags)
	}
	ops.Getxattr = func(ctx *brick.Context, p, name string, size int) ([]byte, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Getxattr(originCtx(ctx, s), p, name, size)
	}
	ops.Listxattr = func(ctx *brick.Context, p string, size int) ([]string, brick.Errno) {
		s := self(ctx)
		return s.origin.Ops.Listxattr(originCtx(ctx, s), p, size)
	}
	ops.Removexattr = func(ctx *brick.Context, p, name string) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Removexattr(originCtx(ctx, s), p, name)
	}
	ops.Fsyncdir = func(ctx *brick.Context, p string, fh brick.DirHandle, datasync bool) brick.Errno {
		s := self(ctx)
		return s.origin.Ops.Fsyncdir(originCtx(ctx, s), p, fh, datasync)
	}
}

func doGetattr(ctx *brick.Context, p string) (*brick.Stat, brick.Errno) {
	s := self(ctx)
	cc := cacheCtx(ctx, s)

	if val, errno := s.cache.Ops.Getxattr(cc, p, statXattrName, brick.StatSize); errno == brick.OK && len(val) == brick.StatSize {
		if st, ok := brick.DeserializeStat(val); ok {
			return st, brick.OK
		}
	}

	st, oerrno := s.origin.Ops.Getattr(originCtx(ctx, s), p)
	if oerrno != brick.OK {
		return nil, oerrno
	}
	s.populateCacheStat(ctx, p, st)
	return st, brick.OK
}

// populateCacheStat writes st as the cache subvolume's stat xattr,
// creating a type-appropriate placeholder node first if none exists yet.
// Cache-side failure never alters the value returned to the getattr
// caller (spec §4.2).
func (s *state) populateCacheStat(ctx *brick.Context, p string, st *brick.Stat) {
	cc, oc := cacheCtx(ctx, s), originCtx(ctx, s)
	data := brick.SerializeStat(st)

	errno := s.cache.Ops.Setxattr(cc, p, statXattrName, data, 0)
	switch errno {
	case brick.OK:
		return
	case brick.ENOTSUP:
		return
	case brick.ENOENT:
		switch {
		case st.IsDir():
			s.cache.Ops.Mkdir(cc, p, placeholderMode)
		case st.IsSymlink():
			if target, lerrno := s.origin.Ops.Readlink(oc, p, 4096); lerrno == brick.OK {
				s.cache.Ops.Symlink(cc, target, p)
			}
		default:
			s.cache.Ops.Mknod(cc, p, placeholderMode|brick.SIFREG, 0)
		}
		if errno2 := s.cache.Ops.Setxattr(cc, p, statXattrName, data, 0); errno2 != brick.OK && errno2 != brick.ENOTSUP {
			log.Warningf(s, "cache: getattr: failed to populate cache stat for %s: %v", p, errno2)
		}
	default:
		log.Warningf(s, "cache: getattr: failed to populate cache stat for %s: %v", p, errno)
	}
}

// restat loads the current stat via this brick's own getattr, applies
// mutate, and re-persists it. Used by chmod/chown/utimens (spec §4.2).
func (s *state) restat(ctx *brick.Context, p string, mutate func(*brick.Stat)) {
	st, errno := doGetattr(ctx, p)
	if errno != brick.OK {
		return
	}
	mutate(st)
	s.populateCacheStat(ctx, p, st)
}

// dirHandle wraps either a cache-backed or origin-backed directory
// handle, tracking whether the origin-backed enumeration completed
// cleanly enough to mark the cache copy complete (spec §4.2).
type dirHandle struct {
	path       string
	cacheSide  bool
	sub        brick.DirHandle
	failed     bool
	bufferFull bool
}

func doOpendir(ctx *brick.Context, p string) (brick.DirHandle, brick.Errno) {
	s := self(ctx)
	cc := cacheCtx(ctx, s)

	if _, errno := s.cache.Ops.Getxattr(cc, p, readdirXattrName, 0); errno == brick.OK {
		sub, cerrno := s.cache.Ops.Opendir(cc, p)
		if cerrno != brick.OK {
			return nil, cerrno
		}
		return &dirHandle{path: p, cacheSide: true, sub: sub}, brick.OK
	}

	sub, errno := s.origin.Ops.Opendir(originCtx(ctx, s), p)
	if errno != brick.OK {
		return nil, errno
	}
	return &dirHandle{path: p, cacheSide: false, sub: sub}, brick.OK
}

// cacheMirrorCollector wraps the caller's collector for an origin-backed
// readdir, creating a placeholder node in the cache for each entry seen
// (spec §4.2). This is the source of the documented readdir hazard: a
// caller that abandons a non-sequential multi-call enumeration before
// exhausting it still leaves behind a partially-populated cache copy
// that a later opendir may wrongly treat as complete, because the
// completeness marker is only ever set, never revisited once set.
type cacheMirrorCollector struct {
	ctx  *brick.Context
	s    *state
	dh   *dirHandle
	orig brick.DirEntryCollector
}

func (c *cacheMirrorCollector) Add(entry brick.DirEntry) bool {
	ok := c.orig.Add(entry)
	if !ok {
		c.dh.bufferFull = true
		return ok
	}

	cc := cacheCtx(c.ctx, c.s)
	childPath := path.Join(c.dh.path, entry.Name)
	var errno brick.Errno
	switch {
	case isDirMode(entry.Mode):
		errno = c.s.cache.Ops.Mkdir(cc, childPath, placeholderMode)
	case isLinkMode(entry.Mode):
		target, lerrno := c.s.origin.Ops.Readlink(originCtx(c.ctx, c.s), childPath, 4096)
		if lerrno != brick.OK {
			c.dh.failed = true
			return ok
		}
		errno = c.s.cache.Ops.Symlink(cc, target, childPath)
	default:
		errno = c.s.cache.Ops.Mknod(cc, childPath, placeholderMode|brick.SIFREG, 0)
	}
	if errno != brick.OK && errno != brick.ENOTSUP && errno != brick.EEXIST {
		c.dh.failed = true
	}
	return ok
}

func doReaddir(ctx *brick.Context, p string, fh brick.DirHandle, collector brick.DirEntryCollector) brick.Errno {
	s := self(ctx)
	dh, ok := fh.(*dirHandle)
	if !ok {
		return brick.EINVAL
	}

	if dh.cacheSide {
		return s.cache.Ops.Readdir(cacheCtx(ctx, s), p, dh.sub, collector)
	}

	wrapped := &cacheMirrorCollector{ctx: ctx, s: s, dh: dh, orig: collector}
	errno := s.origin.Ops.Readdir(originCtx(ctx, s), p, dh.sub, wrapped)
	if errno == brick.OK && !dh.failed && !dh.bufferFull {
		if merrno := s.cache.Ops.Setxattr(cacheCtx(ctx, s), p, readdirXattrName, []byte{}, 0); merrno != brick.OK && merrno != brick.ENOTSUP {
			log.Warningf(s, "cache: readdir: failed to mark %s complete: %v", p, merrno)
		}
	}
	return errno
}

func doReleasedir(ctx *brick.Context, p string, fh brick.DirHandle) brick.Errno {
	s := self(ctx)
	dh, ok := fh.(*dirHandle)
	if !ok {
		return brick.EINVAL
	}
	if dh.cacheSide {
		return s.cache.Ops.Releasedir(cacheCtx(ctx, s), p, dh.sub)
	}
	return s.origin.Ops.Releasedir(originCtx(ctx, s), p, dh.sub)
}
