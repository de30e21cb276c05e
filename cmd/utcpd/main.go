// Command utcpd opens a point-to-point TUN device and drives the userspace
// TCP kernel's receive loop against it. It takes no flags, reads no
// environment variables, and persists no state. The receive loop never
// returns on its own, so the process never exits with status 0; it exits
// non-zero on device-open failure or a device receive error.
package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gopherkernel/utcp/conn"
	"github.com/gopherkernel/utcp/demux"
	"github.com/gopherkernel/utcp/device"
	"github.com/gopherkernel/utcp/isn"
)

const (
	ifaceName = "utcp0"
	mtu       = conn.MTU
)

func main() {
	if err := run(); err != nil {
		log.Fatalln("utcpd:", err)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tun, err := device.Open(ifaceName)
	if err != nil {
		return err
	}
	defer tun.Close()

	seed, err := isn.NewKeyed()
	if err != nil {
		return err
	}
	table := demux.NewTable(seed, logger)

	ticker := time.NewTicker(conn.TimeWaitQuiet / 4)
	defer ticker.Stop()

	recvBuf := make([]byte, mtu)
	scratch := make([]byte, mtu)
	for {
		select {
		case now := <-ticker.C:
			if n := table.Tick(now); n > 0 {
				logger.Info("reaped time-wait connections", slog.Int("n", n))
			}
		default:
		}

		n, err := tun.Recv(recvBuf)
		if err != nil {
			// Device I/O error on recv is fatal: the receive loop cannot
			// continue without a working device.
			return err
		}
		if n == 0 {
			continue
		}

		replyLen, err := table.Dispatch(scratch, recvBuf[:n])
		if err != nil {
			logger.Error("dispatch", slog.String("err", err.Error()))
			continue
		}
		if replyLen == 0 {
			continue
		}
		if _, err := tun.Send(scratch[:replyLen]); err != nil {
			// Device I/O error on send is logged and swallowed: best-effort
			// emission.
			logger.Error("send", slog.String("err", err.Error()))
		}
	}
}
