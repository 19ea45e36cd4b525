// Package mount adapts an assembled brick tree onto the host kernel's FUSE
// interface (spec §4.4, "Mount bridge"). Grounded on the teacher's own
// cmd/mount machinery in spirit (translate host calls into one library's
// session loop), concretely implemented against
// github.com/hanwen/go-fuse/v2's pathfs API since that is the FUSE binding
// already pinned in go.mod rather than the teacher's platform-specific
// mount backends.
package mount

import (
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/hraban/kennyfs/brick"
)

// bridge implements pathfs.FileSystem by forwarding every call onto the
// root brick instance's Ops. Host paths arrive without a leading slash;
// every method normalizes to the brick/Context contract of absolute,
// slash-rooted paths.
type bridge struct {
	pathfs.FileSystem
	root *brick.Instance
}

// New wraps root so it can be passed to pathfs.NewPathNodeFs.
func New(root *brick.Instance) pathfs.FileSystem {
	return &bridge{FileSystem: pathfs.NewDefaultFileSystem(), root: root}
}

func normalize(name string) string {
	if name == "" || name == "." {
		return "/"
	}
	return "/" + name
}

func (b *bridge) ctx(fctx *fuse.Context) *brick.Context {
	var uid, gid uint32
	if fctx != nil {
		uid, gid = fctx.Owner.Uid, fctx.Owner.Gid
	}
	return b.root.Call(uid, gid)
}

func toStatus(errno brick.Errno) fuse.Status {
	if errno == brick.OK {
		return fuse.OK
	}
	return fuse.Status(-int(errno))
}

func toAttr(st *brick.Stat) *fuse.Attr {
	return &fuse.Attr{
		Ino:     uint64(st.Ino),
		Size:    uint64(st.Size),
		Blocks:  uint64(st.Blocks),
		Atime:   uint64(st.Atime),
		Mtime:   uint64(st.Mtime),
		Ctime:   uint64(st.Ctime),
		Mode:    st.Mode,
		Nlink:   st.Nlink,
		Owner:   fuse.Owner{Uid: st.UID, Gid: st.GID},
		Rdev:    st.Rdev,
		Blksize: st.Blksize,
	}
}

func (b *bridge) GetAttr(name string, fctx *fuse.Context) (*fuse.Attr, fuse.Status) {
	st, errno := b.root.Ops.Getattr(b.ctx(fctx), normalize(name))
	if errno != brick.OK {
		return nil, toStatus(errno)
	}
	return toAttr(st), fuse.OK
}

func (b *bridge) Readlink(name string, fctx *fuse.Context) (string, fuse.Status) {
	target, errno := b.root.Ops.Readlink(b.ctx(fctx), normalize(name), 4096)
	return target, toStatus(errno)
}

func (b *bridge) Mknod(name string, mode uint32, dev uint32, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Mknod(b.ctx(fctx), normalize(name), mode, dev))
}

func (b *bridge) Mkdir(name string, mode uint32, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Mkdir(b.ctx(fctx), normalize(name), mode))
}

func (b *bridge) Unlink(name string, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Unlink(b.ctx(fctx), normalize(name)))
}

func (b *bridge) Rmdir(name string, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Rmdir(b.ctx(fctx), normalize(name)))
}

func (b *bridge) Symlink(value string, linkName string, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Symlink(b.ctx(fctx), value, normalize(linkName)))
}

func (b *bridge) Rename(oldName string, newName string, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Rename(b.ctx(fctx), normalize(oldName), normalize(newName)))
}

func (b *bridge) Link(orig string, newName string, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Link(b.ctx(fctx), normalize(orig), normalize(newName)))
}

func (b *bridge) Chmod(name string, mode uint32, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Chmod(b.ctx(fctx), normalize(name), mode))
}

func (b *bridge) Chown(name string, uid uint32, gid uint32, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Chown(b.ctx(fctx), normalize(name), uid, gid))
}

func (b *bridge) Truncate(name string, size uint64, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Truncate(b.ctx(fctx), normalize(name), int64(size)))
}

func (b *bridge) Access(name string, mode uint32, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Access(b.ctx(fctx), normalize(name), int(mode)))
}

func (b *bridge) Utimens(name string, atime *time.Time, mtime *time.Time, fctx *fuse.Context) fuse.Status {
	var a, m time.Time
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}
	return toStatus(b.root.Ops.Utimens(b.ctx(fctx), normalize(name), a, m))
}

func (b *bridge) GetXAttr(name string, attr string, fctx *fuse.Context) ([]byte, fuse.Status) {
	data, errno := b.root.Ops.Getxattr(b.ctx(fctx), normalize(name), attr, 65536)
	return data, toStatus(errno)
}

func (b *bridge) SetXAttr(name string, attr string, data []byte, flags int, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Setxattr(b.ctx(fctx), normalize(name), attr, data, flags))
}

func (b *bridge) ListXAttr(name string, fctx *fuse.Context) ([]string, fuse.Status) {
	names, errno := b.root.Ops.Listxattr(b.ctx(fctx), normalize(name), 65536)
	return names, toStatus(errno)
}

func (b *bridge) RemoveXAttr(name string, attr string, fctx *fuse.Context) fuse.Status {
	return toStatus(b.root.Ops.Removexattr(b.ctx(fctx), normalize(name), attr))
}

func (b *bridge) StatFs(name string) *fuse.StatfsOut {
	result, errno := b.root.Ops.Statfs(b.ctx(nil), normalize(name))
	if errno != brick.OK {
		return nil
	}
	return &fuse.StatfsOut{
		Blocks:  result.Blocks,
		Bfree:   result.Bfree,
		Bavail:  result.Bavail,
		Files:   result.Files,
		Ffree:   result.Ffree,
		Bsize:   result.Bsize,
		NameLen: result.NameMax,
		Frsize:  result.Frsize,
	}
}

// Open and Create both hand back a nodefs.File that keeps the brick-owned
// handle in Go memory; go-fuse gives the kernel its own number for that
// File, so the brick-owned value never goes through the kernel's 64-bit
// handle slot. Each File also carries a uuid (see fileHandle).
func (b *bridge) Open(name string, flags uint32, fctx *fuse.Context) (nodefs.File, fuse.Status) {
	fh, errno := b.root.Ops.Open(b.ctx(fctx), normalize(name), int(flags))
	if errno != brick.OK {
		return nil, toStatus(errno)
	}
	return newFileHandle(b, normalize(name), fh), fuse.OK
}

func (b *bridge) Create(name string, flags uint32, mode uint32, fctx *fuse.Context) (nodefs.File, fuse.Status) {
	fh, errno := b.root.Ops.Create(b.ctx(fctx), normalize(name), int(flags), mode)
	if errno != brick.OK {
		return nil, toStatus(errno)
	}
	return newFileHandle(b, normalize(name), fh), fuse.OK
}

// OpenDir drains the brick's streaming Opendir/Readdir/Releasedir triple
// into the one-shot slice pathfs expects; it does not expose the
// directory handle across calls the way the POSIX API it is modeled on
// does.
func (b *bridge) OpenDir(name string, fctx *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	path := normalize(name)
	ctx := b.ctx(fctx)
	dh, errno := b.root.Ops.Opendir(ctx, path)
	if errno != brick.OK {
		return nil, toStatus(errno)
	}
	defer b.root.Ops.Releasedir(ctx, path, dh)

	var entries []fuse.DirEntry
	collector := brick.CollectorFunc(func(e brick.DirEntry) bool {
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
		return true
	})
	if errno := b.root.Ops.Readdir(ctx, path, dh, collector); errno != brick.OK {
		return nil, toStatus(errno)
	}
	return entries, fuse.OK
}

// fileHandle adapts one open brick.FileHandle to nodefs.File. id exists
// only for diagnostics; the handle itself is the brick-owned fh value.
type fileHandle struct {
	nodefs.File
	b    *bridge
	path string
	fh   brick.FileHandle
	id   uuid.UUID
}

func newFileHandle(b *bridge, path string, fh brick.FileHandle) *fileHandle {
	return &fileHandle{File: nodefs.NewDefaultFile(), b: b, path: path, fh: fh, id: uuid.New()}
}

func (f *fileHandle) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, errno := f.b.root.Ops.Read(f.b.ctx(nil), f.path, f.fh, dest, off)
	if errno != brick.OK {
		return nil, toStatus(errno)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *fileHandle) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, errno := f.b.root.Ops.Write(f.b.ctx(nil), f.path, f.fh, data, off)
	return uint32(n), toStatus(errno)
}

func (f *fileHandle) Flush() fuse.Status {
	return toStatus(f.b.root.Ops.Flush(f.b.ctx(nil), f.path, f.fh))
}

func (f *fileHandle) Release() {
	f.b.root.Ops.Release(f.b.ctx(nil), f.path, f.fh)
}

func (f *fileHandle) Fsync(flags int) fuse.Status {
	return toStatus(f.b.root.Ops.Fsync(f.b.ctx(nil), f.path, f.fh, flags != 0))
}

func (f *fileHandle) Truncate(size uint64) fuse.Status {
	return toStatus(f.b.root.Ops.Ftruncate(f.b.ctx(nil), f.path, f.fh, int64(size)))
}

func (f *fileHandle) GetAttr(out *fuse.Attr) fuse.Status {
	st, errno := f.b.root.Ops.Fgetattr(f.b.ctx(nil), f.path, f.fh)
	if errno != brick.OK {
		return toStatus(errno)
	}
	*out = *toAttr(st)
	return fuse.OK
}

// Mount mounts root at mountpoint and returns the server without serving
// requests; the caller's server.Serve() is what blocks until the host
// unmounts it or Unmount is called on the server.
func Mount(mountpoint string, root *brick.Instance) (*fuse.Server, error) {
	nodeFs := pathfs.NewPathNodeFs(New(root), nil)
	server, _, err := nodefs.MountRoot(mountpoint, nodeFs.Root(), nil)
	if err != nil {
		return nil, err
	}
	return server, nil
}
