package tcp

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hraban/kennyfs/brick"
)

// fakeServer runs just enough of the wire protocol server side (explicitly
// out of scope for this package itself, see protocol.go's doc comment) to
// exercise the client against a real socket: it echoes the banner then
// answers every Getattr request with a fixed stat record.
func fakeServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var banner [5]byte
		if _, err := io.ReadFull(conn, banner[:]); err != nil {
			return
		}
		if _, err := conn.Write(Banner[:]); err != nil {
			return
		}
		for {
			var hdr [6]byte
			if _, err := io.ReadFull(conn, hdr[:]); err != nil {
				return
			}
			op, size := DecodeRequestHeader(hdr[:])
			payload := make([]byte, size)
			if size > 0 {
				if _, err := io.ReadFull(conn, payload); err != nil {
					return
				}
			}
			if op == OpQuit {
				return
			}
			if op != OpGetattr {
				conn.Write(EncodeReplyHeader(int32(brick.ENOSYS), 0))
				continue
			}
			st := &brick.Stat{Mode: brick.SIFREG | 0644, Size: 7}
			body := brick.SerializeStat(st)
			conn.Write(EncodeReplyHeader(0, uint32(len(body))))
			conn.Write(body)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func newTestState(t *testing.T, addr string) *state {
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return &state{addr: net.JoinHostPort(host, port)}
}

func TestGetattrRoundTripsOverSocket(t *testing.T) {
	addr, stop := fakeServer(t)
	defer stop()

	s := newTestState(t, addr)
	ctx := &brick.Context{State: s}
	st, errno := ops.Getattr(ctx, "/foo")
	require.Equal(t, brick.OK, errno)
	require.Equal(t, uint32(7), st.Size)
}

// TestRoundTripReturnsRemoteIOOnGarbage verifies that a reply body which is
// truncated mid-stream (a short read, not one of the transient connection
// codes, so it is not retried) surfaces as EREMOTEIO, not a hang.
func TestRoundTripReturnsRemoteIOOnGarbage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			func() {
				defer conn.Close()
				var banner [5]byte
				if _, err := io.ReadFull(conn, banner[:]); err != nil {
					return
				}
				if _, err := conn.Write(Banner[:]); err != nil {
					return
				}
				var hdr [6]byte
				if _, err := io.ReadFull(conn, hdr[:]); err != nil {
					return
				}
				_, size := DecodeRequestHeader(hdr[:])
				payload := make([]byte, size)
				if size > 0 {
					io.ReadFull(conn, payload)
				}
				// Claim a body far larger than what follows, then close,
				// forcing a short read on the client side.
				buf := make([]byte, ReplyHeaderSize)
				binary.BigEndian.PutUint32(buf[0:4], EncodeReturnCode(0))
				binary.BigEndian.PutUint32(buf[4:8], 1<<10)
				conn.Write(buf)
			}()
		}
	}()

	s := newTestState(t, ln.Addr().String())
	ctx := &brick.Context{State: s}
	_, errno := ops.Getattr(ctx, "/foo")
	require.Equal(t, brick.EREMOTEIO, errno)
}

func TestHaltReturnsAfterUse(t *testing.T) {
	addr, stop := fakeServer(t)
	defer stop()

	s := newTestState(t, addr)
	ctx := &brick.Context{State: s}
	_, errno := ops.Getattr(ctx, "/foo")
	require.Equal(t, brick.OK, errno)

	done := make(chan struct{})
	go func() { haltBrick(s); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("haltBrick did not return")
	}
}
