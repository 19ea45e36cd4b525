package tcp

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hraban/kennyfs/brick"
	"github.com/hraban/kennyfs/internal/log"
)

func init() {
	brick.Register("tcp", brick.Kind{
		Init:          initBrick,
		GetOps:        getOps,
		Halt:          haltBrick,
		MinSubvolumes: 0,
		MaxSubvolumes: 0,
	})
}

const (
	defaultRetries    = 5
	defaultRetryDelay = 200 * time.Millisecond
)

type state struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

func initBrick(name string, params map[string]string, subvolumes []*brick.Instance) (any, error) {
	host, ok := params["hostname"]
	if !ok || host == "" {
		return nil, errors.New("tcp brick requires 'hostname'")
	}
	port, ok := params["port"]
	if !ok || port == "" {
		return nil, errors.New("tcp brick requires 'port'")
	}
	return &state{addr: net.JoinHostPort(host, port)}, nil
}

func haltBrick(st any) {
	s := st.(*state)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.sendQuitLocked()
		_ = s.conn.Close()
		s.conn = nil
	}
}

func self(ctx *brick.Context) *state { return ctx.State.(*state) }

// connectLocked dials, exchanging the fixed 5-byte banner both ways
// (spec §6), assuming s.mu is held.
func (s *state) connectLocked() error {
	conn, err := net.DialTimeout("tcp", s.addr, 5*time.Second)
	if err != nil {
		return err
	}
	if _, err := conn.Write(Banner[:]); err != nil {
		conn.Close()
		return err
	}
	var peer [5]byte
	if _, err := io.ReadFull(conn, peer[:]); err != nil {
		conn.Close()
		return err
	}
	s.conn = conn
	return nil
}

func (s *state) sendQuitLocked() error {
	if s.conn == nil {
		return nil
	}
	hdr := EncodeRequestHeader(OpQuit, 0)
	_, err := s.conn.Write(hdr)
	return err
}

// roundTrip sends one request and reads back its reply, redialing and
// retrying the whole exchange up to defaultRetries times with
// defaultRetryDelay between attempts whenever the failure is one of the
// distinguished transient-connection codes (spec §7).
func (s *state) roundTrip(op OpID, payload []byte) (errno brick.Errno, body []byte, err error) {
	if len(payload) > MaxMessageSize {
		return brick.EINVAL, nil, nil
	}
	var lastErr error
	for attempt := 0; attempt <= defaultRetries; attempt++ {
		errno, body, err = s.roundTripOnce(op, payload)
		if err == nil {
			return errno, body, nil
		}
		lastErr = err
		if !isTransientNetErr(err) {
			return 0, nil, err
		}
		log.Warningf(s.addr, "tcp brick: transient error on attempt %d: %v", attempt, err)
		time.Sleep(defaultRetryDelay)
	}
	return 0, nil, lastErr
}

func (s *state) roundTripOnce(op OpID, payload []byte) (brick.Errno, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return 0, nil, err
		}
	}

	hdr := EncodeRequestHeader(op, uint32(len(payload)))
	if _, err := s.conn.Write(hdr); err != nil {
		s.conn.Close()
		s.conn = nil
		return 0, nil, err
	}
	if len(payload) > 0 {
		if _, err := s.conn.Write(payload); err != nil {
			s.conn.Close()
			s.conn = nil
			return 0, nil, err
		}
	}

	var replyHdr [ReplyHeaderSize]byte
	if _, err := io.ReadFull(s.conn, replyHdr[:]); err != nil {
		s.conn.Close()
		s.conn = nil
		return 0, nil, err
	}
	errno, bodySize := DecodeReplyHeader(replyHdr[:])
	if bodySize > MaxMessageSize {
		s.conn.Close()
		s.conn = nil
		return 0, nil, brick.EREMOTEIO
	}
	body := make([]byte, bodySize)
	if bodySize > 0 {
		if _, err := io.ReadFull(s.conn, body); err != nil {
			s.conn.Close()
			s.conn = nil
			return 0, nil, err
		}
	}
	return brick.Errno(errno), body, nil
}

// isTransientNetErr reports whether err carries one of the codes
// brick.IsTransientConnectionError recognizes; a network timeout counts as
// ETIMEDOUT.
func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return brick.IsTransientConnectionError(brick.FromOSError(err))
}

func getOps() *brick.Ops { return ops }

var ops *brick.Ops

func init() {
	ops = brick.NewOps()

	ops.Getattr = func(ctx *brick.Context, path string) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		errno, body, err := s.roundTrip(OpGetattr, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		st, ok := brick.DeserializeStat(body)
		if !ok {
			return nil, brick.EREMOTEIO
		}
		return st, brick.OK
	}

	ops.Readlink = func(ctx *brick.Context, path string, size int) (string, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uint32(size))
		errno, body, err := s.roundTrip(OpReadlink, w.bytes())
		if err != nil {
			return "", brick.EREMOTEIO
		}
		if errno != brick.OK {
			return "", errno
		}
		return string(body), brick.OK
	}

	ops.Mknod = func(ctx *brick.Context, path string, mode, dev uint32) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(mode)
		w.putUint32(dev)
		errno, _, err := s.roundTrip(OpMknod, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Mkdir = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(mode)
		errno, _, err := s.roundTrip(OpMkdir, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Unlink = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		errno, _, err := s.roundTrip(OpUnlink, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Rmdir = func(ctx *brick.Context, path string) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		errno, _, err := s.roundTrip(OpRmdir, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Symlink = func(ctx *brick.Context, target, path string) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(target)
		w.putString(path)
		errno, _, err := s.roundTrip(OpSymlink, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Rename = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(oldpath)
		w.putString(newpath)
		errno, _, err := s.roundTrip(OpRename, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Link = func(ctx *brick.Context, oldpath, newpath string) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(oldpath)
		w.putString(newpath)
		errno, _, err := s.roundTrip(OpLink, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Chmod = func(ctx *brick.Context, path string, mode uint32) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(mode)
		errno, _, err := s.roundTrip(OpChmod, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Chown = func(ctx *brick.Context, path string, uid, gid uint32) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uid)
		w.putUint32(gid)
		errno, _, err := s.roundTrip(OpChown, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Truncate = func(ctx *brick.Context, path string, size int64) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint64(uint64(size))
		errno, _, err := s.roundTrip(OpTruncate, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Open = func(ctx *brick.Context, path string, flags int) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uint32(flags))
		errno, body, err := s.roundTrip(OpOpen, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		r := wireReader{buf: body}
		fh, rerr := r.uint64()
		if rerr != nil {
			return nil, brick.EREMOTEIO
		}
		return fh, brick.OK
	}

	ops.Create = func(ctx *brick.Context, path string, flags int, mode uint32) (brick.FileHandle, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uint32(flags))
		w.putUint32(mode)
		errno, body, err := s.roundTrip(OpCreate, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		r := wireReader{buf: body}
		fh, rerr := r.uint64()
		if rerr != nil {
			return nil, brick.EREMOTEIO
		}
		return fh, brick.OK
	}

	ops.Read = func(ctx *brick.Context, path string, fh brick.FileHandle, buf []byte, off int64) (int, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		w.putUint64(uint64(off))
		w.putUint32(uint32(len(buf)))
		errno, body, err := s.roundTrip(OpRead, w.bytes())
		if err != nil {
			return 0, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return 0, errno
		}
		n := copy(buf, body)
		return n, brick.OK
	}

	ops.Write = func(ctx *brick.Context, path string, fh brick.FileHandle, data []byte, off int64) (int, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		w.putUint64(uint64(off))
		w.putBytes(data)
		errno, body, err := s.roundTrip(OpWrite, w.bytes())
		if err != nil {
			return 0, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return 0, errno
		}
		r := wireReader{buf: body}
		n, rerr := r.uint32()
		if rerr != nil {
			return 0, brick.EREMOTEIO
		}
		return int(n), brick.OK
	}

	ops.Flush = func(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, _, err := s.roundTrip(OpFlush, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Release = func(ctx *brick.Context, path string, fh brick.FileHandle) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, _, err := s.roundTrip(OpRelease, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Fsync = func(ctx *brick.Context, path string, fh brick.FileHandle, datasync bool) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, _, err := s.roundTrip(OpFsync, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Setxattr = func(ctx *brick.Context, path, name string, value []byte, flags int) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putString(name)
		w.putBytes(value)
		w.putUint32(uint32(flags))
		errno, _, err := s.roundTrip(OpSetxattr, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Getxattr = func(ctx *brick.Context, path, name string, size int) ([]byte, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putString(name)
		w.putUint32(uint32(size))
		errno, body, err := s.roundTrip(OpGetxattr, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		return body, errno
	}

	ops.Listxattr = func(ctx *brick.Context, path string, size int) ([]string, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uint32(size))
		errno, body, err := s.roundTrip(OpListxattr, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		r := wireReader{buf: body}
		count, _ := r.uint32()
		names := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			name, rerr := r.string()
			if rerr != nil {
				return nil, brick.EREMOTEIO
			}
			names = append(names, name)
		}
		return names, brick.OK
	}

	ops.Removexattr = func(ctx *brick.Context, path, name string) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putString(name)
		errno, _, err := s.roundTrip(OpRemovexattr, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Opendir = func(ctx *brick.Context, path string) (brick.DirHandle, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		errno, body, err := s.roundTrip(OpOpendir, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		r := wireReader{buf: body}
		fh, rerr := r.uint64()
		if rerr != nil {
			return nil, brick.EREMOTEIO
		}
		return fh, brick.OK
	}

	ops.Readdir = func(ctx *brick.Context, path string, fh brick.DirHandle, collector brick.DirEntryCollector) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, body, err := s.roundTrip(OpReaddir, w.bytes())
		if err != nil {
			return brick.EREMOTEIO
		}
		if errno != brick.OK {
			return errno
		}
		r := wireReader{buf: body}
		count, rerr := r.uint32()
		if rerr != nil {
			return brick.EREMOTEIO
		}
		for i := uint32(0); i < count; i++ {
			name, rerr := r.string()
			if rerr != nil {
				return brick.EREMOTEIO
			}
			mode, rerr := r.uint32()
			if rerr != nil {
				return brick.EREMOTEIO
			}
			if !collector.Add(brick.DirEntry{Name: name, Mode: mode}) {
				break
			}
		}
		return brick.OK
	}

	ops.Releasedir = func(ctx *brick.Context, path string, fh brick.DirHandle) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, _, err := s.roundTrip(OpReleasedir, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Fsyncdir = func(ctx *brick.Context, path string, fh brick.DirHandle, datasync bool) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, _, err := s.roundTrip(OpFsyncdir, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Access = func(ctx *brick.Context, path string, mode int) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uint32(mode))
		errno, _, err := s.roundTrip(OpAccess, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Ftruncate = func(ctx *brick.Context, path string, fh brick.FileHandle, size int64) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		w.putUint64(uint64(size))
		errno, _, err := s.roundTrip(OpFtruncate, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Fgetattr = func(ctx *brick.Context, path string, fh brick.FileHandle) (*brick.Stat, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putUint64(fh.(uint64))
		errno, body, err := s.roundTrip(OpFgetattr, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		st, ok := brick.DeserializeStat(body)
		if !ok {
			return nil, brick.EREMOTEIO
		}
		return st, brick.OK
	}

	ops.Utimens = func(ctx *brick.Context, path string, atime, mtime time.Time) brick.Errno {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		w.putUint32(uint32(atime.Unix()))
		w.putUint32(uint32(mtime.Unix()))
		errno, _, err := s.roundTrip(OpUtimens, w.bytes())
		return networkErrno(errno, err)
	}

	ops.Statfs = func(ctx *brick.Context, path string) (*brick.StatfsResult, brick.Errno) {
		s := self(ctx)
		var w wireWriter
		w.putString(path)
		errno, body, err := s.roundTrip(OpStatfs, w.bytes())
		if err != nil {
			return nil, brick.EREMOTEIO
		}
		if errno != brick.OK {
			return nil, errno
		}
		r := wireReader{buf: body}
		var fields [8]uint64
		for i := range fields {
			v, rerr := r.uint64()
			if rerr != nil {
				return nil, brick.EREMOTEIO
			}
			fields[i] = v
		}
		return &brick.StatfsResult{
			Bsize:   uint32(fields[0]),
			Frsize:  uint32(fields[1]),
			Blocks:  fields[2],
			Bfree:   fields[3],
			Bavail:  fields[4],
			Files:   fields[5],
			Ffree:   fields[6],
			NameMax: uint32(fields[7]),
		}, brick.OK
	}

	// Lock, Bmap, Ioctl and Poll are not exercised by the reference server
	// (there being none in scope here, see the package doc comment); they
	// keep the ENOSYS filler NewOps already installed.
}

func networkErrno(errno brick.Errno, err error) brick.Errno {
	if err != nil {
		return brick.EREMOTEIO
	}
	return errno
}
