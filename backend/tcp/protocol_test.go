package tcp

import "testing"

func TestRequestHeaderRoundTrip(t *testing.T) {
	hdr := EncodeRequestHeader(OpMkdir, 123)
	op, size := DecodeRequestHeader(hdr)
	if op != OpMkdir || size != 123 {
		t.Fatalf("got op=%d size=%d", op, size)
	}
}

func TestReturnCodeRoundTrip(t *testing.T) {
	for _, errno := range []int32{0, -2, -95, -5000} {
		wire := EncodeReturnCode(errno)
		got := DecodeReturnCode(wire)
		if got != errno {
			t.Fatalf("errno %d: round trip gave %d", errno, got)
		}
	}
}

func TestReplyHeaderRoundTrip(t *testing.T) {
	hdr := EncodeReplyHeader(-2, 4096)
	errno, size := DecodeReplyHeader(hdr)
	if errno != -2 || size != 4096 {
		t.Fatalf("got errno=%d size=%d", errno, size)
	}
}
