//go:build !linux

package device

import "errors"

// TUN is unsupported outside Linux; /dev/net/tun is a Linux-specific
// interface. Use Loopback for cross-platform tests.
type TUN struct{}

// Open always fails on non-Linux builds.
func Open(name string) (*TUN, error) {
	return nil, errors.ErrUnsupported
}

func (t *TUN) Recv(buf []byte) (int, error)  { return 0, errors.ErrUnsupported }
func (t *TUN) Send(frame []byte) (int, error) { return 0, errors.ErrUnsupported }
func (t *TUN) Close() error                   { return errors.ErrUnsupported }
func (t *TUN) Name() string                   { return "" }
