//go:build linux

package device

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// TUN is a point-to-point IPv4 device backed by Linux's /dev/net/tun,
// opened in "no packet-info prefix" mode so Recv/Send deal in bare IPv4
// datagrams with no link-layer framing. Uses golang.org/x/sys/unix's
// ioctl/ifreq helpers rather than hand-rolled syscall constants.
type TUN struct {
	fd   int
	name string
}

// Open creates or attaches to the named TUN interface. name must fit within
// IFNAMSIZ. The interface is left administratively down; bringing it up and
// assigning an address is the operator's job (e.g. via `ip link`/`ip addr`).
func Open(name string) (*TUN, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("device: interface name too long")
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open /dev/net/tun: %w", err)
	}
	ifr := unix.NewIfreq(name)
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("device: TUNSETIFF %s: %w", name, err)
	}
	return &TUN{fd: fd, name: name}, nil
}

// Recv implements Device.
func (t *TUN) Recv(buf []byte) (int, error) {
	return unix.Read(t.fd, buf)
}

// Send implements Device.
func (t *TUN) Send(frame []byte) (int, error) {
	return unix.Write(t.fd, frame)
}

// Close implements Device.
func (t *TUN) Close() error {
	return unix.Close(t.fd)
}

// Name returns the interface name passed to Open.
func (t *TUN) Name() string { return t.name }
