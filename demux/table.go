// Package demux implements the process-wide 4-tuple demultiplexing table.
// It owns every conn.Connection, routes parsed segments to the right one,
// and creates new connections on first SYN.
package demux

import (
	"log/slog"
	"time"

	"github.com/gopherkernel/utcp/conn"
	"github.com/gopherkernel/utcp/internal"
	"github.com/gopherkernel/utcp/ipv4"
	"github.com/gopherkernel/utcp/isn"
	"github.com/gopherkernel/utcp/seq"
	"github.com/gopherkernel/utcp/tcpwire"
)

// LocalWindow is the window this kernel advertises on every outgoing
// segment for the lifetime of a connection.
const LocalWindow = 10

// TTL is stamped on every outgoing IP datagram.
const TTL = 64

// Table is a mapping from conn.FourTuple to *conn.Connection with no
// ordering requirement; iteration order is irrelevant. The table exclusively
// owns every connection and is not safe for concurrent use — a
// single-threaded cooperative receive loop is its only caller.
type Table struct {
	conns map[conn.FourTuple]*conn.Connection

	// ISN is consulted by Accept for every new passive open. NewTable sets
	// it to isn.Fixed(0) when passed a nil Source; the zero value of Table
	// has neither an ISN source nor a connection map and is not usable —
	// construct tables with NewTable. Callers wanting RFC 9293 §3.4.1 ISN
	// generation pass an isn.Keyed.
	ISN isn.Source

	// Log receives one trace record per dispatched segment and one info
	// record per connection created/reaped. Nil disables logging.
	Log *slog.Logger
}

// NewTable returns an empty demultiplexing table using src for ISN
// generation. Pass isn.Fixed(0) for a deterministic ISN, or an *isn.Keyed
// for RFC 9293-style unpredictable ISNs.
func NewTable(src isn.Source, log *slog.Logger) *Table {
	if src == nil {
		src = isn.Fixed(0)
	}
	return &Table{conns: make(map[conn.FourTuple]*conn.Connection), ISN: src, Log: log}
}

// Len returns the number of connections currently tracked.
func (t *Table) Len() int { return len(t.conns) }

// Lookup returns the connection for tuple, if any.
func (t *Table) Lookup(tuple conn.FourTuple) (*conn.Connection, bool) {
	c, ok := t.conns[tuple]
	return c, ok
}

// Dispatch parses IPv4, filters on protocol=TCP, parses TCP, forms the
// 4-tuple, and either routes to an existing connection or attempts a
// passive open. It returns the number of reply octets written into scratch
// (0 if none), and a nil error for every case classified as a silent drop
// — parse failures and non-TCP datagrams never surface as errors.
func (t *Table) Dispatch(scratch []byte, frame []byte) (int, error) {
	ipf, err := ipv4.NewFrame(frame)
	if err != nil {
		internal.LogAttrs(t.Log, internal.LevelTrace, "demux:short-ip", slog.Int("len", len(frame)))
		return 0, nil
	}
	hdrLen := ipf.HeaderLength()
	if hdrLen < ipv4.HeaderLen || len(frame) < hdrLen || int(ipf.TotalLength()) > len(frame) || int(ipf.TotalLength()) < hdrLen {
		return 0, nil
	}
	if ipf.Protocol() != ipv4.ProtoTCP {
		return 0, nil
	}

	tcpBuf := frame[hdrLen:ipf.TotalLength()]
	tfrm, err := tcpwire.NewFrame(tcpBuf)
	if err != nil {
		internal.LogAttrs(t.Log, internal.LevelTrace, "demux:short-tcp", slog.Int("len", len(tcpBuf)))
		return 0, nil
	}
	tcpHdrLen := tfrm.DataOffset()
	if tcpHdrLen < tcpwire.HeaderLen || tcpHdrLen > len(tcpBuf) {
		return 0, nil
	}

	tuple := conn.FourTuple{
		SrcIP:   *ipf.SourceAddr(),
		SrcPort: tfrm.SourcePort(),
		DstIP:   *ipf.DestinationAddr(),
		DstPort: tfrm.DestinationPort(),
	}
	payload := tfrm.Payload(len(tcpBuf))
	seg := conn.Segment{
		SEQ:     tfrm.Seq(),
		ACK:     tfrm.Ack(),
		Flags:   tfrm.Flags(),
		DataLen: seq.Size(len(payload)),
		WND:     tfrm.WindowSize(),
		Payload: payload,
	}

	if c, ok := t.conns[tuple]; ok {
		n, err := c.OnSegment(scratch, seg)
		internal.LogAttrs(t.Log, internal.LevelTrace, "demux:dispatch",
			internal.SlogAddr4("src", &tuple.SrcIP), slog.Uint64("srcport", uint64(tuple.SrcPort)))
		return n, err
	}

	c, n, err := conn.Accept(scratch, tuple, seg, t.ISN, LocalWindow, TTL, t.Log)
	if err != nil {
		// accept refusal (no SYN, or a malformed/ACK-only first segment)
		// is silently dropped at this layer.
		return 0, nil
	}
	t.conns[tuple] = c
	internal.LogAttrs(t.Log, slog.LevelInfo, "demux:new-connection",
		internal.SlogAddr4("src", &tuple.SrcIP), slog.Uint64("srcport", uint64(tuple.SrcPort)))
	return n, nil
}

// Tick reaps connections that have sat in TIME-WAIT past their 2MSL quiet
// period (conn.TimeWaitQuiet), per RFC 793 §3.5. The process entry point
// drives this from a time.Ticker alongside the blocking device receive; no
// goroutine is spawned per connection, preserving the single-threaded
// cooperative receive loop.
func (t *Table) Tick(now time.Time) (reaped int) {
	for tuple, c := range t.conns {
		if c.State == conn.StateTimeWait && !c.TimeWaitDeadline.IsZero() && now.After(c.TimeWaitDeadline) {
			delete(t.conns, tuple)
			reaped++
			internal.LogAttrs(t.Log, slog.LevelInfo, "demux:reap-timewait",
				internal.SlogAddr4("src", &tuple.SrcIP), slog.Uint64("srcport", uint64(tuple.SrcPort)))
		}
	}
	return reaped
}
