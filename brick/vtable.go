package brick

import "time"

// FileHandle and DirHandle are opaque, brick-owned handle values created by
// Open/Create/Opendir and destroyed by Release/Releasedir. Per the design
// note on tagged handles (spec §9), the mount bridge stores only an
// identifier-sized token in the host's 64-bit handle slot and keeps the
// real value — whatever shape a particular brick needs — here in Go memory
// behind the interface.
type FileHandle any

// DirHandle is the directory analogue of FileHandle.
type DirHandle any

// DirEntry is one entry yielded during readdir.
type DirEntry struct {
	Name string
	Mode uint32 // type bits only (S_IFDIR/S_IFLNK/S_IFREG/...) need be set
}

// DirEntryCollector receives entries from Readdir. Add returns false when
// the caller's buffer is full and enumeration should stop; a brick must
// not treat that as an error.
type DirEntryCollector interface {
	Add(entry DirEntry) bool
}

// CollectorFunc adapts a plain function to DirEntryCollector.
type CollectorFunc func(entry DirEntry) bool

// Add implements DirEntryCollector.
func (f CollectorFunc) Add(entry DirEntry) bool { return f(entry) }

// StatfsResult mirrors struct statvfs's fields that matter to callers.
type StatfsResult struct {
	Bsize, Frsize          uint32
	Blocks, Bfree, Bavail  uint64
	Files, Ffree           uint64
	NameMax                uint32
}

// FileLock mirrors struct flock for the lock() operation.
type FileLock struct {
	Type   int16 // F_RDLCK / F_WRLCK / F_UNLCK
	Whence int16
	Start  int64
	Len    int64
	PID    uint32
}

// Ops is the fixed operation vtable every brick exposes (spec §3). Every
// slot is always callable: NewOps populates every field with a filler
// that returns ENOSYS, and a brick's init overwrites only the slots it
// implements.
type Ops struct {
	Getattr     func(ctx *Context, path string) (*Stat, Errno)
	Readlink    func(ctx *Context, path string, size int) (string, Errno)
	Mknod       func(ctx *Context, path string, mode, dev uint32) Errno
	Mkdir       func(ctx *Context, path string, mode uint32) Errno
	Unlink      func(ctx *Context, path string) Errno
	Rmdir       func(ctx *Context, path string) Errno
	Symlink     func(ctx *Context, target, path string) Errno
	Rename      func(ctx *Context, oldpath, newpath string) Errno
	Link        func(ctx *Context, oldpath, newpath string) Errno
	Chmod       func(ctx *Context, path string, mode uint32) Errno
	Chown       func(ctx *Context, path string, uid, gid uint32) Errno
	Truncate    func(ctx *Context, path string, size int64) Errno
	Open        func(ctx *Context, path string, flags int) (FileHandle, Errno)
	Read        func(ctx *Context, path string, fh FileHandle, buf []byte, off int64) (int, Errno)
	Write       func(ctx *Context, path string, fh FileHandle, data []byte, off int64) (int, Errno)
	Statfs      func(ctx *Context, path string) (*StatfsResult, Errno)
	Flush       func(ctx *Context, path string, fh FileHandle) Errno
	Release     func(ctx *Context, path string, fh FileHandle) Errno
	Fsync       func(ctx *Context, path string, fh FileHandle, datasync bool) Errno
	Setxattr    func(ctx *Context, path, name string, value []byte, flags int) Errno
	Getxattr    func(ctx *Context, path, name string, size int) ([]byte, Errno)
	Listxattr   func(ctx *Context, path string, size int) ([]string, Errno)
	Removexattr func(ctx *Context, path, name string) Errno
	Opendir     func(ctx *Context, path string) (DirHandle, Errno)
	Readdir     func(ctx *Context, path string, fh DirHandle, collector DirEntryCollector) Errno
	Releasedir  func(ctx *Context, path string, fh DirHandle) Errno
	Fsyncdir    func(ctx *Context, path string, fh DirHandle, datasync bool) Errno
	Access      func(ctx *Context, path string, mode int) Errno
	Create      func(ctx *Context, path string, flags int, mode uint32) (FileHandle, Errno)
	Ftruncate   func(ctx *Context, path string, fh FileHandle, size int64) Errno
	Fgetattr    func(ctx *Context, path string, fh FileHandle) (*Stat, Errno)
	Lock        func(ctx *Context, path string, fh FileHandle, cmd int, lock *FileLock) Errno
	Utimens     func(ctx *Context, path string, atime, mtime time.Time) Errno
	Bmap        func(ctx *Context, path string, blocksize uint32, idx uint64) (uint64, Errno)
	// Ioctl and Poll are optional per spec §3; their fillers are the same
	// ENOSYS stub as every other slot.
	Ioctl func(ctx *Context, path string, cmd int, arg uint64, fh FileHandle, flags uint32, data []byte) ([]byte, Errno)
	Poll  func(ctx *Context, path string, fh FileHandle) (uint32, Errno)
}

// NewOps returns a vtable with every slot set to its "not supported"
// filler, ready for a brick's init to override the slots it implements.
func NewOps() *Ops {
	return &Ops{
		Getattr:     func(*Context, string) (*Stat, Errno) { return nil, ENOSYS },
		Readlink:    func(*Context, string, int) (string, Errno) { return "", ENOSYS },
		Mknod:       func(*Context, string, uint32, uint32) Errno { return ENOSYS },
		Mkdir:       func(*Context, string, uint32) Errno { return ENOSYS },
		Unlink:      func(*Context, string) Errno { return ENOSYS },
		Rmdir:       func(*Context, string) Errno { return ENOSYS },
		Symlink:     func(*Context, string, string) Errno { return ENOSYS },
		Rename:      func(*Context, string, string) Errno { return ENOSYS },
		Link:        func(*Context, string, string) Errno { return ENOSYS },
		Chmod:       func(*Context, string, uint32) Errno { return ENOSYS },
		Chown:       func(*Context, string, uint32, uint32) Errno { return ENOSYS },
		Truncate:    func(*Context, string, int64) Errno { return ENOSYS },
		Open:        func(*Context, string, int) (FileHandle, Errno) { return nil, ENOSYS },
		Read:        func(*Context, string, FileHandle, []byte, int64) (int, Errno) { return 0, ENOSYS },
		Write:       func(*Context, string, FileHandle, []byte, int64) (int, Errno) { return 0, ENOSYS },
		Statfs:      func(*Context, string) (*StatfsResult, Errno) { return nil, ENOSYS },
		Flush:       func(*Context, string, FileHandle) Errno { return ENOSYS },
		Release:     func(*Context, string, FileHandle) Errno { return ENOSYS },
		Fsync:       func(*Context, string, FileHandle, bool) Errno { return ENOSYS },
		Setxattr:    func(*Context, string, string, []byte, int) Errno { return ENOSYS },
		Getxattr:    func(*Context, string, string, int) ([]byte, Errno) { return nil, ENOSYS },
		Listxattr:   func(*Context, string, int) ([]string, Errno) { return nil, ENOSYS },
		Removexattr: func(*Context, string, string) Errno { return ENOSYS },
		Opendir:     func(*Context, string) (DirHandle, Errno) { return nil, ENOSYS },
		Readdir:     func(*Context, string, DirHandle, DirEntryCollector) Errno { return ENOSYS },
		Releasedir:  func(*Context, string, DirHandle) Errno { return ENOSYS },
		Fsyncdir:    func(*Context, string, DirHandle, bool) Errno { return ENOSYS },
		Access:      func(*Context, string, int) Errno { return ENOSYS },
		Create:      func(*Context, string, int, uint32) (FileHandle, Errno) { return nil, ENOSYS },
		Ftruncate:   func(*Context, string, FileHandle, int64) Errno { return ENOSYS },
		Fgetattr:    func(*Context, string, FileHandle) (*Stat, Errno) { return nil, ENOSYS },
		Lock:        func(*Context, string, FileHandle, int, *FileLock) Errno { return ENOSYS },
		Utimens:     func(*Context, string, time.Time, time.Time) Errno { return ENOSYS },
		Bmap:        func(*Context, string, uint32, uint64) (uint64, Errno) { return 0, ENOSYS },
		Ioctl:       func(*Context, string, int, uint64, FileHandle, uint32, []byte) ([]byte, Errno) { return nil, ENOSYS },
		Poll:        func(*Context, string, FileHandle) (uint32, Errno) { return 0, ENOSYS },
	}
}
