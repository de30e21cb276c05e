package device

import (
	"errors"
	"io"
)

// Loopback is an in-memory, bidirectional Device backed by byte-slice
// channels. It lets the demux/conn/cmd layers be exercised by tests without
// a TUN device or root privileges.
//
// Two Loopbacks created with NewLoopbackPair are cross-wired: frames sent
// on one arrive as Recv on the other, modeling two peers talking over a
// shared point-to-point link.
type Loopback struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

// NewLoopbackPair returns two cross-wired Loopback devices.
func NewLoopbackPair(queueDepth int) (a, b *Loopback) {
	c1 := make(chan []byte, queueDepth)
	c2 := make(chan []byte, queueDepth)
	a = &Loopback{out: c1, in: c2, closed: make(chan struct{})}
	b = &Loopback{out: c2, in: c1, closed: make(chan struct{})}
	return a, b
}

// Recv blocks until a frame sent by the peer is available.
func (l *Loopback) Recv(buf []byte) (int, error) {
	select {
	case frame, ok := <-l.in:
		if !ok {
			return 0, io.EOF
		}
		return copy(buf, frame), nil
	case <-l.closed:
		return 0, io.EOF
	}
}

// Send delivers frame to the peer's Recv queue. It copies frame, since the
// caller's scratch buffer is reused on the next iteration of the receive
// loop.
func (l *Loopback) Send(frame []byte) (int, error) {
	select {
	case <-l.closed:
		return 0, errors.New("device: loopback closed")
	default:
	}
	cp := append([]byte(nil), frame...)
	select {
	case l.out <- cp:
		return len(frame), nil
	case <-l.closed:
		return 0, errors.New("device: loopback closed")
	default:
		return 0, errors.New("device: loopback queue full")
	}
}

// Close unblocks any pending Recv and makes further Send calls fail.
func (l *Loopback) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
