// Package tcp implements the client side of the wire protocol described in
// spec §6. The server side is explicitly out of scope (spec §1
// Non-goals); this package only speaks the protocol well enough to act as
// a terminal leaf brick.
package tcp

import "encoding/binary"

// Banner is the fixed 5-byte handshake exchanged by both sides on
// connect, before any request/reply traffic.
var Banner = [5]byte{'K', 'F', 'S', 0x01, 0x00}

// MaxMessageSize bounds both request and reply payloads (spec §6).
const MaxMessageSize = 1 << 20

// returnCodeBias is the offset added to a (always <= 0) Errno before
// putting it on the wire as an unsigned uint32, and subtracted back off on
// the way in. The exact bias value is a protocol implementation detail
// not fixed by spec §6 beyond "biased representation"; 1<<16 comfortably
// covers every POSIX errno magnitude while leaving OK (0) unambiguous.
const returnCodeBias = 1 << 16

// OpID identifies one wire operation (spec §6).
type OpID uint16

// The fixed operation enumeration, one ID per filesystem operation plus
// the QUIT sentinel that ends a connection.
const (
	OpGetattr OpID = iota
	OpReadlink
	OpMknod
	OpMkdir
	OpUnlink
	OpRmdir
	OpSymlink
	OpRename
	OpLink
	OpChmod
	OpChown
	OpTruncate
	OpOpen
	OpRead
	OpWrite
	OpStatfs
	OpFlush
	OpRelease
	OpFsync
	OpSetxattr
	OpGetxattr
	OpListxattr
	OpRemovexattr
	OpOpendir
	OpReaddir
	OpReleasedir
	OpFsyncdir
	OpAccess
	OpCreate
	OpFtruncate
	OpFgetattr
	OpLock
	OpUtimens
	OpBmap
	OpIoctl
	OpPoll
	OpQuit
)

// EncodeRequestHeader writes the 6-byte request header (payload size,
// then op ID) spec §6 defines ahead of the payload bytes.
func EncodeRequestHeader(op OpID, payloadSize uint32) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint32(buf[0:4], payloadSize)
	binary.BigEndian.PutUint16(buf[4:6], uint16(op))
	return buf
}

// DecodeRequestHeader is the inverse of EncodeRequestHeader.
func DecodeRequestHeader(buf []byte) (op OpID, payloadSize uint32) {
	payloadSize = binary.BigEndian.Uint32(buf[0:4])
	op = OpID(binary.BigEndian.Uint16(buf[4:6]))
	return
}

// EncodeReturnCode biases errno onto the wire per returnCodeBias.
func EncodeReturnCode(errno int32) uint32 {
	return uint32(int64(errno) + returnCodeBias)
}

// DecodeReturnCode is the inverse of EncodeReturnCode.
func DecodeReturnCode(wire uint32) int32 {
	return int32(int64(wire) - returnCodeBias)
}

// ReplyHeaderSize is the byte length of a reply's fixed header (return
// code, then body size), ahead of the body bytes.
const ReplyHeaderSize = 8

// EncodeReplyHeader writes the 8-byte reply header.
func EncodeReplyHeader(errno int32, bodySize uint32) []byte {
	buf := make([]byte, ReplyHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], EncodeReturnCode(errno))
	binary.BigEndian.PutUint32(buf[4:8], bodySize)
	return buf
}

// DecodeReplyHeader is the inverse of EncodeReplyHeader.
func DecodeReplyHeader(buf []byte) (errno int32, bodySize uint32) {
	errno = DecodeReturnCode(binary.BigEndian.Uint32(buf[0:4]))
	bodySize = binary.BigEndian.Uint32(buf[4:8])
	return
}
