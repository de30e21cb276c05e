// Package device specifies and implements the TUN device boundary: an
// abstract bidirectional IPv4 frame channel, plus a Linux /dev/net/tun
// backing and an in-memory Loopback for tests.
package device

import "io"

// Device is the abstract contract required of a point-to-point IPv4 link: a
// blocking, bidirectional channel of whole IPv4 datagrams, no link-layer
// framing.
type Device interface {
	// Recv blocks until exactly one IPv4 datagram is available, fills
	// buf[:n], and returns n. An error here is fatal to the receive loop.
	Recv(buf []byte) (n int, err error)
	// Send writes exactly one IPv4 datagram. A Send error is logged and
	// swallowed by the caller: best-effort emission.
	Send(frame []byte) (n int, err error)
	io.Closer
}
