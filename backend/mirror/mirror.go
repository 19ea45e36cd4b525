// Package mirror implements the N-way replicating brick (spec §4.3): it
// forwards every mutating operation to all of its active subvolumes,
// serves reads from one of them, and ejects subvolumes that fall out of
// sync rather than let one bad remote wedge the whole mirror.
package mirror

import (
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hraban/kennyfs/brick"
	"github.com/hraban/kennyfs/internal/errs"
	"github.com/hraban/kennyfs/internal/log"
)

func init() {
	brick.Register("mirror", brick.Kind{
		Init:          initBrick,
		GetOps:        getOps,
		Halt:          func(any) {},
		MinSubvolumes: 1,
		MaxSubvolumes: -1,
	})
}

// subvol is one mirrored subvolume and its Active/Ejected state (spec
// §4.3, "Activity state machine"). Transitions are one-way: once ejected,
// a subvol never becomes active again.
type subvol struct {
	inst   *brick.Instance
	active bool
}

// state holds every subvolume plus the reader/writer lock protecting the
// active-set. The lock is held only for active-set reads and updates,
// never across a subvolume call (spec §5, "Suspension points").
type state struct {
	mu      sync.RWMutex
	subvols []*subvol
}

func initBrick(name string, params map[string]string, subvolumes []*brick.Instance) (any, error) {
	subvols := make([]*subvol, len(subvolumes))
	for i, inst := range subvolumes {
		subvols[i] = &subvol{inst: inst, active: true}
	}
	return &state{subvols: subvols}, nil
}

func self(ctx *brick.Context) *state { return ctx.State.(*state) }

func subctx(ctx *brick.Context, sv *subvol) *brick.Context {
	return ctx.WithState(sv.inst.State)
}

// activeSnapshot returns the currently active subvolumes in configured
// order. Subsequent per-subvolume calls recheck sv.active themselves
// since a subvolume may be ejected concurrently between the snapshot and
// the call (spec §5).
func (s *state) activeSnapshot() []*subvol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*subvol, 0, len(s.subvols))
	for _, sv := range s.subvols {
		if sv.active {
			out = append(out, sv)
		}
	}
	return out
}

func (s *state) firstActive() (*subvol, brick.Errno) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sv := range s.subvols {
		if sv.active {
			return sv, brick.OK
		}
	}
	return nil, brick.ENOSUBVOLS
}

// eject atomically moves sv to the Ejected state (spec §4.3).
func (s *state) eject(name string, sv *subvol) {
	s.mu.Lock()
	wasActive := sv.active
	sv.active = false
	s.mu.Unlock()
	if wasActive {
		log.Warningf(name, "mirror: ejecting subvolume %s", sv.inst.Name)
	}
}

// isActive re-reads sv's current state under the reader lock rather than
// trusting a stale snapshot, since a concurrent operation may have
// ejected it in the meantime (spec §5).
func (s *state) isActive(sv *subvol) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sv.active
}

var ops *brick.Ops

func getOps() *brick.Ops { return ops }

func init() {
	ops = brick.NewOps()

	ops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return nil, errno
		}
		return sv.inst.Ops.Getattr(subctx(ctx, sv), path)
	}

	ops.Readlink = func(ctx *brick.Context, path string, size int) (string, brick.Errno) {
		s := self(ctx)
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return "", errno
		}
		return sv.inst.Ops.Readlink(subctx(ctx, sv), path, size)
	}

	ops.Statfs = func(ctx *brick.Context, path string) (*brick.StatfsResult, brick.Errno) {
		s := self(ctx)
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return nil, errno
		}
		return sv.inst.Ops.Statfs(subctx(ctx, sv), path)
	}

	ops.Getxattr = func(ctx *brick.Context, path, name string, size int) ([]byte, brick.Errno) {
		s := self(ctx)
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return nil, errno
		}
		return sv.inst.Ops.Getxattr(subctx(ctx, sv), path, name, size)
	}

	ops.Listxattr = func(ctx *brick.Context, path string, size int) ([]string, brick.Errno) {
		s := self(ctx)
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return nil, errno
		}
		return sv.inst.Ops.Listxattr(subctx(ctx, sv), path, size)
	}

	ops.Access = func(ctx *brick.Context, path string, mode int) brick.Errno {
		s := self(ctx)
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return errno
		}
		return sv.inst.Ops.Access(subctx(ctx, sv), path, mode)
	}

	ops.Mknod = func(ctx *brick.Context, path string, mode, dev uint32) brick.Errno {
		s := self(ctx)
		return s.additive(ctx,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Mknod(subctx(ctx, sv), path, mode, dev) },
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Unlink(subctx(ctx, sv), path) })
	}

	ops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		return s.additive(ctx,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Mkdir(subctx(ctx, sv), path, mode) },
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Rmdir(subctx(ctx, sv), path) })
	}

	ops.Symlink = func(ctx *brick.Context, target, path string) brick.Errno {
		s := self(ctx)
		return s.additive(ctx,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Symlink(subctx(ctx, sv), target, path) },
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Unlink(subctx(ctx, sv), path) })
	}

	ops.Link = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		return s.additive(ctx,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Link(subctx(ctx, sv), oldpath, newpath) },
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Unlink(subctx(ctx, sv), newpath) })
	}

	ops.Rename = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		return s.additive(ctx,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Rename(subctx(ctx, sv), oldpath, newpath) },
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Rename(subctx(ctx, sv), newpath, oldpath) })
	}

	ops.Unlink = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		return s.destructive(ctx, func(sv *subvol) brick.Errno {
			return sv.inst.Ops.Unlink(subctx(ctx, sv), path)
		})
	}

	ops.Rmdir = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		return s.destructive(ctx, func(sv *subvol) brick.Errno {
			return sv.inst.Ops.Rmdir(subctx(ctx, sv), path)
		})
	}

	ops.Truncate = func(ctx *brick.Context, path string, size int64) brick.Errno {
		s := self(ctx)
		return s.destructive(ctx, func(sv *subvol) brick.Errno {
			return sv.inst.Ops.Truncate(subctx(ctx, sv), path, size)
		})
	}

	ops.Chmod = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		return s.attribute(ctx, path,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Chmod(subctx(ctx, sv), path, mode) },
			func(sv *subvol, rollback *brick.Stat) brick.Errno {
				return sv.inst.Ops.Chmod(subctx(ctx, sv), path, rollback.Mode&07777)
			})
	}

	ops.Chown = func(ctx *brick.Context, path string, uid, gid uint32) brick.Errno {
		s := self(ctx)
		return s.attribute(ctx, path,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Chown(subctx(ctx, sv), path, uid, gid) },
			func(sv *subvol, rollback *brick.Stat) brick.Errno {
				return sv.inst.Ops.Chown(subctx(ctx, sv), path, rollback.UID, rollback.GID)
			})
	}

	ops.Utimens = func(ctx *brick.Context, path string, atime, mtime time.Time) brick.Errno {
		s := self(ctx)
		return s.attribute(ctx, path,
			func(sv *subvol) brick.Errno { return sv.inst.Ops.Utimens(subctx(ctx, sv), path, atime, mtime) },
			func(sv *subvol, rollback *brick.Stat) brick.Errno {
				at := time.Unix(int64(rollback.Atime), 0)
				mt := time.Unix(int64(rollback.Mtime), 0)
				return sv.inst.Ops.Utimens(subctx(ctx, sv), path, at, mt)
			})
	}

	ops.Open = doOpen
	ops.Create = doCreate
	ops.Read = doRead
	ops.Write = doWrite
	ops.Flush = doFlush
	ops.Release = doRelease
	ops.Fsync = doFsync
	ops.Fgetattr = doFgetattr
	ops.Ftruncate = doFtruncate

	ops.Opendir = doOpendir
	ops.Readdir = doReaddir
	ops.Releasedir = doReleasedir
	ops.Fsyncdir = doFsyncdir

	ops.Setxattr = doSetxattr
	ops.Removexattr = func(ctx *brick.Context, path, name string) brick.Errno {
		s := self(ctx)
		return s.destructive(ctx, func(sv *subvol) brick.Errno {
			return sv.inst.Ops.Removexattr(subctx(ctx, sv), path, name)
		})
	}

	// Lock is permanently unimplemented: the mirror brick never actually
	// arbitrates POSIX locks across subvolumes, it only uses the ENOTSUP
	// this returns as a private "proceed without a real lock" signal to
	// its own write/setxattr internals (spec §4.3, "Mirror locking").
	ops.Lock = func(ctx *brick.Context, path string, fh brick.FileHandle, cmd int, lock *brick.FileLock) brick.Errno {
		return brick.ENOTSUP
	}
}

// additive runs forward on every active subvolume in order, aborting and
// rolling back (via inverse, in reverse order) on the first failure (spec
// §4.3, "Additive write operations").
func (s *state) additive(ctx *brick.Context, forward, inverse func(*subvol) brick.Errno) brick.Errno {
	snapshot := s.activeSnapshot()
	var succeeded []*subvol
	firstErr := brick.OK
	for _, sv := range snapshot {
		if !s.isActive(sv) {
			continue
		}
		if errno := forward(sv); errno != brick.OK {
			firstErr = errno
			break
		}
		succeeded = append(succeeded, sv)
	}
	if firstErr == brick.OK {
		return brick.OK
	}
	for i := len(succeeded) - 1; i >= 0; i-- {
		sv := succeeded[i]
		if errno := inverse(sv); errno != brick.OK {
			s.eject("mirror", sv)
		}
	}
	return firstErr
}

// destructive invokes forward on every active subvolume. A failure on the
// very first one aborts the whole operation; a failure on any later one
// only ejects that subvolume and continues (spec §4.3, "Destructive
// operations").
func (s *state) destructive(ctx *brick.Context, forward func(*subvol) brick.Errno) brick.Errno {
	snapshot := s.activeSnapshot()
	if len(snapshot) == 0 {
		return brick.ENOSUBVOLS
	}
	if errno := forward(snapshot[0]); errno != brick.OK {
		return errno
	}
	for _, sv := range snapshot[1:] {
		if errno := forward(sv); errno != brick.OK {
			log.Warningf("mirror", "destructive op failed on %s: %v", sv.inst.Name, errno)
			s.eject("mirror", sv)
		}
	}
	return brick.OK
}

// attribute loads a rollback value via the brick's own getattr, applies
// change to every active subvolume, and restores the rollback value on
// already-changed subvolumes if any invocation fails partway. When no
// rollback value could be obtained, a mid-sequence failure just ejects
// that subvolume and the operation keeps going (spec §4.3, "Attribute
// operations").
func (s *state) attribute(ctx *brick.Context, path string, change func(*subvol) brick.Errno, restore func(*subvol, *brick.Stat) brick.Errno) brick.Errno {
	rollback, rerrno := ops.Getattr(ctx, path)
	haveRollback := rerrno == brick.OK

	snapshot := s.activeSnapshot()
	var changed []*subvol
	firstErr := brick.OK
	for _, sv := range snapshot {
		if errno := change(sv); errno != brick.OK {
			firstErr = errno
			if !haveRollback {
				s.eject("mirror", sv)
				continue
			}
			break
		}
		changed = append(changed, sv)
	}
	if firstErr == brick.OK {
		return brick.OK
	}
	if !haveRollback {
		return brick.OK
	}
	for _, sv := range changed {
		if errno := restore(sv, rollback); errno != brick.OK {
			s.eject("mirror", sv)
		}
	}
	return firstErr
}

// fileHandle is a mirror's own per-open state: one entry per subvolume
// the open call succeeded on, in the order they were opened.
type fileHandle struct {
	entries []handleEntry
}

type handleEntry struct {
	sv *subvol
	fh brick.FileHandle
}

const oAccmode = syscall.O_ACCMODE

func doOpen(ctx *brick.Context, path string, flags int) (brick.FileHandle, brick.Errno) {
	s := self(ctx)
	if flags&oAccmode == syscall.O_RDONLY {
		sv, errno := s.firstActive()
		if errno != brick.OK {
			return nil, errno
		}
		fh, oerrno := sv.inst.Ops.Open(subctx(ctx, sv), path, flags)
		if oerrno != brick.OK {
			return nil, oerrno
		}
		return &fileHandle{entries: []handleEntry{{sv: sv, fh: fh}}}, brick.OK
	}
	return s.openWrite(ctx, path, flags, func(sv *subvol, ctx *brick.Context) (brick.FileHandle, brick.Errno) {
		return sv.inst.Ops.Open(ctx, path, flags)
	})
}

func doCreate(ctx *brick.Context, path string, flags int, mode uint32) (brick.FileHandle, brick.Errno) {
	s := self(ctx)
	return s.openWrite(ctx, path, flags, func(sv *subvol, ctx *brick.Context) (brick.FileHandle, brick.Errno) {
		return sv.inst.Ops.Create(ctx, path, flags, mode)
	})
}

// openWrite snapshots the active set and opens on each in order,
// rolling back (releasing already-opened entries in reverse order) on
// the first failure (spec §4.3, "Open").
func (s *state) openWrite(ctx *brick.Context, path string, flags int, open func(*subvol, *brick.Context) (brick.FileHandle, brick.Errno)) (brick.FileHandle, brick.Errno) {
	snapshot := s.activeSnapshot()
	var entries []handleEntry
	firstErr := brick.OK
	for _, sv := range snapshot {
		fh, errno := open(sv, subctx(ctx, sv))
		if errno != brick.OK {
			firstErr = errno
			break
		}
		entries = append(entries, handleEntry{sv: sv, fh: fh})
	}
	if firstErr != brick.OK {
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if errno := e.sv.inst.Ops.Release(subctx(ctx, e.sv), path, e.fh); errno != brick.OK {
				s.eject("mirror", e.sv)
			}
		}
		return nil, firstErr
	}
	return &fileHandle{entries: entries}, brick.OK
}

func doRead(ctx *brick.Context, path string, fh brick.FileHandle, buf []byte, off int64) (int, brick.Errno) {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return 0, brick.EINVAL
	}
	for _, e := range mfh.entries {
		if s.isActive(e.sv) {
			return e.sv.inst.Ops.Read(subctx(ctx, e.sv), path, e.fh, buf, off)
		}
	}
	return 0, brick.ENOSUBVOLS
}

// doWrite is the sensitive operation of spec §4.3. It backs up the written
// region for rollback only when ensureLock lets it proceed; this brick's
// own lock() always returns ENOTSUP, so no backup is taken, and a failure
// after at least one successful write ejects the failing subvolume and
// carries on with the rest instead of rolling back.
func doWrite(ctx *brick.Context, path string, fh brick.FileHandle, data []byte, off int64) (int, brick.Errno) {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return 0, brick.EINVAL
	}

	hasActive := false
	for _, e := range mfh.entries {
		if s.isActive(e.sv) {
			hasActive = true
			break
		}
	}
	if !hasActive {
		return 0, brick.ENOSUBVOLS
	}

	acquired, proceedWithBackup := s.ensureLock(ctx, path, fh)
	haveBackup := false
	backup := make([]byte, len(data))
	if proceedWithBackup {
		if n, errno := doRead(ctx, path, fh, backup, off); errno == brick.OK {
			backup = backup[:n]
			haveBackup = true
		}
	}

	var succeeded []handleEntry
	firstErr := brick.OK
	n := 0
	for _, e := range mfh.entries {
		if !s.isActive(e.sv) {
			continue
		}
		wn, errno := e.sv.inst.Ops.Write(subctx(ctx, e.sv), path, e.fh, data, off)
		if errno != brick.OK {
			firstErr = errno
			if len(succeeded) > 0 && !haveBackup {
				s.eject("mirror", e.sv)
				continue
			}
			for j := len(succeeded) - 1; j >= 0; j-- {
				pe := succeeded[j]
				if _, rerrno := pe.sv.inst.Ops.Write(subctx(ctx, pe.sv), path, pe.fh, backup, off); rerrno != brick.OK {
					s.eject("mirror", pe.sv)
				}
			}
			break
		}
		n = wn
		succeeded = append(succeeded, e)
	}

	if acquired {
		s.unlock(ctx, path, fh)
	}
	if firstErr != brick.OK {
		return 0, firstErr
	}
	return n, brick.OK
}

// ensureLock calls the brick's own (permanently ENOTSUP) lock operation.
// EACCES/EAGAIN are treated as "already held by this caller" and the
// caller proceeds without having acquired anything of its own; any other
// error (including the ENOTSUP this brick always actually returns) means
// locking failed entirely, so the caller must skip backup and rollback
// (spec §4.3, "Mirror locking").
func (s *state) ensureLock(ctx *brick.Context, path string, fh brick.FileHandle) (acquired, proceed bool) {
	lock := &brick.FileLock{Type: syscall.F_WRLCK}
	errno := ops.Lock(ctx, path, fh, syscall.F_SETLK, lock)
	switch errno {
	case brick.OK:
		return true, true
	case brick.EACCES, brick.EAGAIN:
		return false, true
	default:
		return false, false
	}
}

func (s *state) unlock(ctx *brick.Context, path string, fh brick.FileHandle) {
	lock := &brick.FileLock{Type: syscall.F_UNLCK}
	ops.Lock(ctx, path, fh, syscall.F_SETLK, lock)
}

func doFlush(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return brick.EINVAL
	}
	return s.fanoutActive(ctx, mfh, func(ctx *brick.Context, sv *subvol, fh brick.FileHandle) brick.Errno {
		return sv.inst.Ops.Flush(ctx, path, fh)
	})
}

func doFsync(ctx *brick.Context, path string, fh brick.FileHandle, datasync bool) brick.Errno {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return brick.EINVAL
	}
	return s.fanoutActive(ctx, mfh, func(ctx *brick.Context, sv *subvol, fh brick.FileHandle) brick.Errno {
		return sv.inst.Ops.Fsync(ctx, path, fh, datasync)
	})
}

// fanoutActive forwards op to every currently active entry concurrently
// (grounded on the teacher's errgroup-based PutStream fan-out), ejecting
// any subvolume that fails after at least one success (spec §4.3,
// "Flush, release, fsync").
func (s *state) fanoutActive(ctx *brick.Context, mfh *fileHandle, op func(*brick.Context, *subvol, brick.FileHandle) brick.Errno) brick.Errno {
	var eg errgroup.Group
	results := make(errs.Multi, len(mfh.entries))
	for i, e := range mfh.entries {
		i, e := i, e
		if !s.isActive(e.sv) {
			continue
		}
		eg.Go(func() error {
			results[i] = errnoToErr(op(subctx(ctx, e.sv), e.sv, e.fh))
			return nil
		})
	}
	_ = eg.Wait()

	successCount := 0
	for i, e := range mfh.entries {
		if !s.isActive(e.sv) || results[i] == nil {
			if s.isActive(e.sv) {
				successCount++
			}
			continue
		}
		if successCount > 0 {
			s.eject("mirror", e.sv)
		}
	}
	if first := results.First(); first != nil {
		return errToErrno(first)
	}
	return brick.OK
}

// errnoToErr adapts an Errno onto the error interface errs.Multi expects,
// collapsing OK to a true nil slot.
func errnoToErr(e brick.Errno) error {
	if e == brick.OK {
		return nil
	}
	return e
}

func errToErrno(err error) brick.Errno {
	if e, ok := err.(brick.Errno); ok {
		return e
	}
	return brick.EIO
}

// doRelease releases every entry regardless of active state, so a
// previously ejected subvolume still gets to free its handle; only
// active-subvolume failures cause ejection (spec §4.3).
func doRelease(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return brick.EINVAL
	}
	var eg errgroup.Group
	results := make(errs.Multi, len(mfh.entries))
	for i, e := range mfh.entries {
		i, e := i, e
		eg.Go(func() error {
			results[i] = errnoToErr(e.sv.inst.Ops.Release(subctx(ctx, e.sv), path, e.fh))
			return nil
		})
	}
	_ = eg.Wait()
	for i, e := range mfh.entries {
		if s.isActive(e.sv) && results[i] != nil {
			s.eject("mirror", e.sv)
		}
	}
	return brick.OK
}

func doFgetattr(ctx *brick.Context, path string, fh brick.FileHandle) (*brick.Stat, brick.Errno) {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return nil, brick.EINVAL
	}
	for _, e := range mfh.entries {
		if s.isActive(e.sv) {
			return e.sv.inst.Ops.Fgetattr(subctx(ctx, e.sv), path, e.fh)
		}
	}
	return nil, brick.ENOSUBVOLS
}

func doFtruncate(ctx *brick.Context, path string, fh brick.FileHandle, size int64) brick.Errno {
	s := self(ctx)
	mfh, ok := fh.(*fileHandle)
	if !ok {
		return brick.EINVAL
	}
	for _, e := range mfh.entries {
		if s.isActive(e.sv) {
			return e.sv.inst.Ops.Ftruncate(subctx(ctx, e.sv), path, e.fh, size)
		}
	}
	return brick.ENOSUBVOLS
}

// dirHandle records the single (subvolume, handle) pair a directory was
// opened on (spec §4.3, "Directory read").
type dirHandle struct {
	sv *subvol
	fh brick.DirHandle
}

func doOpendir(ctx *brick.Context, path string) (brick.DirHandle, brick.Errno) {
	s := self(ctx)
	sv, errno := s.firstActive()
	if errno != brick.OK {
		return nil, errno
	}
	fh, oerrno := sv.inst.Ops.Opendir(subctx(ctx, sv), path)
	if oerrno != brick.OK {
		return nil, oerrno
	}
	return &dirHandle{sv: sv, fh: fh}, brick.OK
}

func doReaddir(ctx *brick.Context, path string, fh brick.DirHandle, collector brick.DirEntryCollector) brick.Errno {
	dh, ok := fh.(*dirHandle)
	if !ok {
		return brick.EINVAL
	}
	return dh.sv.inst.Ops.Readdir(subctx(ctx, dh.sv), path, dh.fh, collector)
}

func doReleasedir(ctx *brick.Context, path string, fh brick.DirHandle) brick.Errno {
	dh, ok := fh.(*dirHandle)
	if !ok {
		return brick.EINVAL
	}
	return dh.sv.inst.Ops.Releasedir(subctx(ctx, dh.sv), path, dh.fh)
}

func doFsyncdir(ctx *brick.Context, path string, fh brick.DirHandle, datasync bool) brick.Errno {
	dh, ok := fh.(*dirHandle)
	if !ok {
		return brick.EINVAL
	}
	return dh.sv.inst.Ops.Fsyncdir(subctx(ctx, dh.sv), path, dh.fh, datasync)
}

// doSetxattr mirrors the write protocol: a temporary read-only handle
// provides something to lock against, the previous value is backed up via
// getxattr, the new value is applied everywhere, and partial failure
// rolls back the backup with an xattr-replace flag (spec §4.3,
// "setxattr").
func doSetxattr(ctx *brick.Context, path, name string, value []byte, flags int) brick.Errno {
	s := self(ctx)
	tmpFh, operr := ops.Open(ctx, path, syscall.O_RDONLY)
	if operr != brick.OK {
		return operr
	}
	defer ops.Release(ctx, path, tmpFh)

	acquired, proceed := s.ensureLock(ctx, path, tmpFh)
	var backup []byte
	haveBackup := false
	if proceed {
		if val, errno := ops.Getxattr(ctx, path, name, 1<<20); errno == brick.OK {
			backup = val
			haveBackup = true
		}
	}

	snapshot := s.activeSnapshot()
	var changed []*subvol
	firstErr := brick.OK
	for _, sv := range snapshot {
		if errno := sv.inst.Ops.Setxattr(subctx(ctx, sv), path, name, value, flags); errno != brick.OK {
			firstErr = errno
			if !haveBackup {
				s.eject("mirror", sv)
				continue
			}
			break
		}
		changed = append(changed, sv)
	}
	if firstErr != brick.OK && haveBackup {
		const xattrReplace = 2
		for i := len(changed) - 1; i >= 0; i-- {
			sv := changed[i]
			if errno := sv.inst.Ops.Setxattr(subctx(ctx, sv), path, name, backup, xattrReplace); errno != brick.OK {
				s.eject("mirror", sv)
			}
		}
	}

	if acquired {
		s.unlock(ctx, path, tmpFh)
	}
	return firstErr
}
