// Package internal holds small helpers shared by the kernel's packages that
// do not deserve their own import path.
package internal

import (
	"context"
	"encoding/binary"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug for the very chatty per-segment
// records emitted by conn and demux. Most deployments never enable it.
const LevelTrace slog.Level = slog.LevelDebug - 2

// SlogAddr4 returns a slog.Attr for a 4-byte IPv4 address packed into a
// uint64, avoiding a string allocation on the hot path.
func SlogAddr4(key string, addr *[4]byte) slog.Attr {
	return slog.Uint64(key, uint64(binary.BigEndian.Uint32(addr[:])))
}

// Enabled reports whether log would emit a record at lvl. A nil logger is
// never enabled.
func Enabled(log *slog.Logger, lvl slog.Level) bool {
	return log != nil && log.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs emits msg at lvl through log if non-nil. Safe to call with a nil
// logger, in which case it is a no-op.
func LogAttrs(log *slog.Logger, lvl slog.Level, msg string, attrs ...slog.Attr) {
	if log == nil {
		return
	}
	log.LogAttrs(context.Background(), lvl, msg, attrs...)
}
