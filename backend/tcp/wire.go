package tcp

import (
	"encoding/binary"
	"errors"
)

// wireWriter is a small growable buffer for building request payloads, and
// wireReader its counterpart for parsing reply bodies. Kept minimal on
// purpose: the wire protocol only ever needs strings, byte blobs and
// fixed-width integers.
type wireWriter struct {
	buf []byte
}

func (w *wireWriter) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *wireWriter) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *wireWriter) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *wireWriter) putString(s string) {
	w.putBytes([]byte(s))
}

func (w *wireWriter) bytes() []byte { return w.buf }

type wireReader struct {
	buf []byte
	pos int
}

var errShortBuffer = errors.New("tcp: reply body too short")

func (r *wireReader) uint32() (uint32, error) {
	if len(r.buf)-r.pos < 4 {
		return 0, errShortBuffer
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *wireReader) uint64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, errShortBuffer
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *wireReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.buf)-r.pos) < n {
		return nil, errShortBuffer
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *wireReader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
