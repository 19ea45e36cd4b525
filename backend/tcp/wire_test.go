package tcp

import "testing"

func TestWireRoundTrip(t *testing.T) {
	var w wireWriter
	w.putUint32(42)
	w.putUint64(1 << 40)
	w.putString("hello")
	w.putBytes([]byte{1, 2, 3})

	r := wireReader{buf: w.bytes()}
	u32, err := r.uint32()
	if err != nil || u32 != 42 {
		t.Fatalf("uint32: got %d, %v", u32, err)
	}
	u64, err := r.uint64()
	if err != nil || u64 != 1<<40 {
		t.Fatalf("uint64: got %d, %v", u64, err)
	}
	s, err := r.string()
	if err != nil || s != "hello" {
		t.Fatalf("string: got %q, %v", s, err)
	}
	b, err := r.bytes()
	if err != nil || len(b) != 3 || b[0] != 1 || b[1] != 2 || b[2] != 3 {
		t.Fatalf("bytes: got %v, %v", b, err)
	}
}

func TestWireReaderShortBuffer(t *testing.T) {
	r := wireReader{buf: []byte{0, 0}}
	if _, err := r.uint32(); err != errShortBuffer {
		t.Fatalf("want errShortBuffer, got %v", err)
	}
}

func TestWireReaderStringTruncatedLength(t *testing.T) {
	var w wireWriter
	w.putUint32(10) // claims 10 bytes but none follow
	r := wireReader{buf: w.bytes()}
	if _, err := r.string(); err != errShortBuffer {
		t.Fatalf("want errShortBuffer, got %v", err)
	}
}
