package brick

import "encoding/binary"

// File type bits of St.Mode that bricks test against, matching the POSIX
// S_IFMT family used throughout spec §4.2.
const (
	SIFMT  uint32 = 0170000
	SIFDIR uint32 = 0040000
	SIFLNK uint32 = 0120000
	SIFREG uint32 = 0100000
)

// StatSize is the exact byte length of the serialized form (spec §3, §6):
// thirteen 32-bit fields.
const StatSize = 52

// Stat is the fixed 52-byte stat record shape defined in spec §3: thirteen
// 32-bit fields, used both as the general getattr() result and as the
// cache brick's persisted xattr payload. Keeping one type for both avoids
// a lossy conversion between "the stat the caller sees" and "the stat the
// cache brick persists".
type Stat struct {
	Dev     uint32
	Ino     uint32
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint32
	Size    uint32
	Blksize uint32
	Blocks  uint32
	Atime   uint32
	Mtime   uint32
	Ctime   uint32
}

// IsDir reports whether Mode's type bits are S_IFDIR.
func (s *Stat) IsDir() bool { return s.Mode&SIFMT == SIFDIR }

// IsSymlink reports whether Mode's type bits are S_IFLNK.
func (s *Stat) IsSymlink() bool { return s.Mode&SIFMT == SIFLNK }

// SerializeStat encodes s as the 52-byte big-endian layout from spec §3,
// in field order: device, inode, mode, nlink, uid, gid, rdev, size,
// blksize, blocks, atime, mtime, ctime.
func SerializeStat(s *Stat) []byte {
	buf := make([]byte, StatSize)
	fields := [...]uint32{
		s.Dev, s.Ino, s.Mode, s.Nlink, s.UID, s.GID, s.Rdev,
		s.Size, s.Blksize, s.Blocks, s.Atime, s.Mtime, s.Ctime,
	}
	for i, v := range fields {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

// DeserializeStat decodes a 52-byte buffer produced by SerializeStat. It
// returns false if buf is not exactly StatSize bytes, per the invariant in
// spec §8 that a cached stat xattr is either absent or exactly complete.
func DeserializeStat(buf []byte) (*Stat, bool) {
	if len(buf) != StatSize {
		return nil, false
	}
	read := func(i int) uint32 { return binary.BigEndian.Uint32(buf[i*4 : i*4+4]) }
	return &Stat{
		Dev:     read(0),
		Ino:     read(1),
		Mode:    read(2),
		Nlink:   read(3),
		UID:     read(4),
		GID:     read(5),
		Rdev:    read(6),
		Size:    read(7),
		Blksize: read(8),
		Blocks:  read(9),
		Atime:   read(10),
		Mtime:   read(11),
		Ctime:   read(12),
	}, true
}
