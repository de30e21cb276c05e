// Package conn implements the per-flow TCP connection state machine: RFC
// 793's sequence-space bookkeeping and state transitions. A Connection owns
// its send/receive sequence spaces and a reply header template, performs
// passive open (Accept) and segment reception (OnSegment), and encodes
// properly checksummed IP+TCP reply datagrams.
package conn

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gopherkernel/utcp/checksum"
	"github.com/gopherkernel/utcp/internal"
	"github.com/gopherkernel/utcp/ipv4"
	"github.com/gopherkernel/utcp/isn"
	"github.com/gopherkernel/utcp/seq"
	"github.com/gopherkernel/utcp/tcpwire"
)

// MTU bounds the size of any single emitted IP datagram.
const MTU = 1500

// TimeWaitQuiet is the 2MSL quiet period a connection spends in TIME-WAIT
// before demux.Table.Tick may reap it, per RFC 793 §3.5.
const TimeWaitQuiet = 60 * time.Second

var (
	// ErrNotSYN is returned by Accept when the inbound segment does not
	// carry SYN: a passive open refuses and creates no connection.
	ErrNotSYN = errors.New("conn: accept requires SYN")
)

// State enumerates the subset of the RFC 793 state machine this kernel
// drives: a passive-open server that accepts once and closes immediately.
// CLOSE-WAIT and CLOSING are enumerated alongside the states this
// implementation actually produces so OnSegment's state switch stays
// exhaustive and has no silent fallthrough, even though the canned dialog
// here never receives a passive close request and so never produces them.
type State uint8

const (
	StateSynRcvd State = iota
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateSynRcvd:
		return "SYN-RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

// FourTuple identifies a flow as seen on the wire from the peer's side:
// (SrcIP, SrcPort) is the peer, (DstIP, DstPort) is us. It is the key
// demux.Table uses; equality and hashing are purely structural (it is a
// plain comparable struct, usable directly as a Go map key).
type FourTuple struct {
	SrcIP   [4]byte
	SrcPort uint16
	DstIP   [4]byte
	DstPort uint16
}

// Reversed returns the tuple as seen from our reply's point of view: our
// source is the peer's destination and vice versa.
func (t FourTuple) Reversed() FourTuple {
	return FourTuple{SrcIP: t.DstIP, SrcPort: t.DstPort, DstIP: t.SrcIP, DstPort: t.SrcPort}
}

// Segment is an inbound TCP segment as parsed off the wire, reduced to the
// fields the state machine needs.
type Segment struct {
	SEQ     seq.Value
	ACK     seq.Value
	Flags   tcpwire.Flags
	DataLen seq.Size
	WND     uint16
	Payload []byte
}

// Len returns SEG.LEN: the segment's length in sequence-space octets,
// counting SYN and FIN as one octet each in addition to the payload.
func (s Segment) Len() seq.Size {
	l := s.DataLen
	if s.Flags.HasAll(tcpwire.FlagSYN) {
		l++
	}
	if s.Flags.HasAll(tcpwire.FlagFIN) {
		l++
	}
	return l
}

// replyTemplate holds the parts of the outgoing header that never change
// across a connection's lifetime: the reversed addresses/ports and TTL.
// Per-segment fields (flags, seq, ack, checksum, IP total length) are
// computed fresh by write on every call.
type replyTemplate struct {
	localIP, remoteIP     [4]byte
	localPort, remotePort uint16
	ttl                   uint8
}

// Connection is a single TCP flow's state: state, both sequence spaces, and
// the reply template. It is owned exclusively by whatever demux.Table
// dispatches segments to it; nothing else holds a reference between
// dispatches.
type Connection struct {
	State    State
	Send     seq.SendSpace
	Recv     seq.RecvSpace
	template replyTemplate

	// TimeWaitDeadline is set when State transitions to StateTimeWait and
	// consulted by demux.Table.Tick to decide when the connection may be
	// reaped. Zero until then.
	TimeWaitDeadline time.Time

	// Clock lets tests fake time; defaults to time.Now in Accept.
	Clock func() time.Time

	log *slog.Logger
}

// Accept implements passive open per RFC 793 §3.4. The inbound segment must
// carry SYN and match no existing connection (the latter is demux's job to
// ensure before calling Accept). On success it builds a fresh Connection in
// SYN-RCVD, encodes the SYN+ACK reply into scratch, and returns the bytes
// written. wnd is the local window advertised in every outgoing segment for
// the lifetime of the connection; ttl is the TTL stamped on every outgoing
// IP datagram.
func Accept(scratch []byte, tuple FourTuple, seg Segment, iss isn.Source, wnd uint16, ttl uint8, log *slog.Logger) (*Connection, int, error) {
	if !seg.Flags.HasAll(tcpwire.FlagSYN) {
		return nil, 0, ErrNotSYN
	}
	reply := tuple.Reversed()
	initial := iss.ISS(tuple.SrcIP, tuple.DstIP, tuple.SrcPort, tuple.DstPort)
	c := &Connection{
		State: StateSynRcvd,
		Send: seq.SendSpace{
			ISS: initial,
			UNA: initial,
			NXT: initial,
			WND: seq.Size(wnd),
		},
		Recv: seq.RecvSpace{
			IRS: seg.SEQ,
			NXT: seq.Add(seg.SEQ, 1),
			WND: seq.Size(seg.WND),
		},
		template: replyTemplate{
			localIP:    reply.SrcIP,
			localPort:  reply.SrcPort,
			remoteIP:   reply.DstIP,
			remotePort: reply.DstPort,
			ttl:        ttl,
		},
		Clock: time.Now,
		log:   log,
	}
	internal.LogAttrs(log, slog.LevelInfo, "conn:accept",
		slog.Uint64("iss", uint64(initial)), slog.Uint64("irs", uint64(c.Recv.IRS)))
	n, err := c.write(scratch, tcpwire.FlagSYN|tcpwire.FlagACK, nil)
	if err != nil {
		return nil, 0, err
	}
	return c, n, nil
}

// OnSegment implements segment reception: the ordered acceptability/ACK/
// state checks of RFC 793 §3.9's event processing section. It returns the
// number of reply octets written into scratch, 0 if no reply is produced
// for this segment.
func (c *Connection) OnSegment(scratch []byte, seg Segment) (int, error) {
	internal.LogAttrs(c.log, internal.LevelTrace, "conn:on-segment",
		slog.String("state", c.State.String()),
		slog.Uint64("seg.seq", uint64(seg.SEQ)), slog.Uint64("seg.ack", uint64(seg.ACK)))

	// A. Segment-acceptability test.
	if !c.Recv.Acceptable(seg.SEQ, seg.Len()) {
		if seg.Flags.HasAll(tcpwire.FlagRST) {
			return 0, nil // unacceptable segment carrying RST: drop silently.
		}
		// RFC 793 §3.9 requires an empty ACK reply to an unacceptable
		// non-RST segment, carrying the current SND.NXT/RCV.NXT.
		return c.write(scratch, tcpwire.FlagACK, nil)
	}

	// B. Advance RCV.NXT over the accepted segment.
	c.Recv.NXT = seq.Add(seg.SEQ, seg.Len())

	if !seg.Flags.HasAll(tcpwire.FlagACK) {
		return 0, nil // no ACK bit: nothing further to do with this segment.
	}

	// C. ACK-acceptability test.
	if !c.Send.Acceptable(seg.ACK) {
		if c.State == StateSynRcvd {
			// Unsynchronized: RFC 793 §3.4 reset generation.
			return c.writeRST(scratch, seg)
		}
		return c.write(scratch, tcpwire.FlagACK, nil)
	}

	// D. Acceptable ACK.
	c.Send.UNA = seg.ACK

	// E. State-specific handling, exhaustively.
	switch c.State {
	case StateSynRcvd:
		c.State = StateEstablished
		// This kernel drives no application above it, so the moment a
		// connection reaches ESTABLISHED it closes its own half immediately
		// (RFC 793 §3.5 active close, initiated locally with no data to send).
		n, err := c.write(scratch, tcpwire.FlagFIN|tcpwire.FlagACK, nil)
		c.State = StateFinWait1
		return n, err

	case StateEstablished:
		// Payload delivery and FIN handling from the open state are not
		// implemented at this layer: there is no application data path.
		return 0, nil

	case StateFinWait1:
		if seg.Flags.HasAll(tcpwire.FlagFIN) && seg.DataLen == 0 {
			c.State = StateFinWait2
		}
		return 0, nil

	case StateFinWait2:
		n, err := c.write(scratch, tcpwire.FlagACK, nil)
		c.State = StateTimeWait
		c.TimeWaitDeadline = c.now().Add(TimeWaitQuiet)
		return n, err

	case StateCloseWait, StateClosing, StateTimeWait:
		// Accepted by the state enumeration; transitions beyond TIME-WAIT
		// (and from passive-close states this kernel never enters) are out
		// of scope. Drop rather than panic since a stray late segment from
		// a peer is ordinary network behavior, not a programmer error.
		return 0, nil

	default:
		panic("conn: unhandled state")
	}
}

func (c *Connection) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// write builds and emits exactly one IP+TCP datagram: SEG.SEQ=SND.NXT,
// SEG.ACK=RCV.NXT, the given flags and payload (truncated to MTU), computes
// the checksum, and advances SND.NXT by the phantom-octet contribution of
// SYN/FIN plus the payload actually written, per RFC 793 §3.3.
func (c *Connection) write(scratch []byte, flags tcpwire.Flags, payload []byte) (int, error) {
	n, err := c.encode(scratch, c.Send.NXT, c.Recv.NXT, flags, payload)
	if err != nil {
		return 0, err
	}
	written := n - ipv4.HeaderLen - tcpwire.HeaderLen
	adv := seq.Size(written)
	if flags.HasAll(tcpwire.FlagSYN) {
		adv++
	}
	if flags.HasAll(tcpwire.FlagFIN) {
		adv++
	}
	c.Send.NXT = seq.Add(c.Send.NXT, adv)
	return n, nil
}

// writeRST emits a RST for an offending segment per RFC 793 §3.4's reset
// generation rule:
//
//	offending carries ACK: SEG.SEQ = SEG.ACK(offending), no ACK bit.
//	otherwise:              SEG.SEQ = 0, SEG.ACK = SEG.SEQ(offending)+SEG.LEN, ACK bit set.
//
// A RST never carries a payload and does not advance SND.NXT: it
// terminates this exchange rather than extending it.
func (c *Connection) writeRST(scratch []byte, offending Segment) (int, error) {
	var rstSeq, rstAck seq.Value
	flags := tcpwire.FlagRST
	if offending.Flags.HasAll(tcpwire.FlagACK) {
		rstSeq = offending.ACK
	} else {
		rstSeq = 0
		rstAck = seq.Add(offending.SEQ, offending.Len())
		flags |= tcpwire.FlagACK
	}
	return c.encode(scratch, rstSeq, rstAck, flags, nil)
}

// encode is the shared low-level segment assembler: it fills in the IP and
// TCP headers from the template, the given seq/ack/flags, caps the segment
// to MTU, computes the checksum, and serializes everything into scratch.
func (c *Connection) encode(scratch []byte, segSeq, segAck seq.Value, flags tcpwire.Flags, payload []byte) (int, error) {
	const ipHdrLen = ipv4.HeaderLen
	const tcpHdrLen = tcpwire.HeaderLen

	maxPayload := MTU - ipHdrLen - tcpHdrLen
	if maxPayload < 0 {
		maxPayload = 0
	}
	if len(payload) > maxPayload {
		payload = payload[:maxPayload]
	}
	total := ipHdrLen + tcpHdrLen + len(payload)
	if len(scratch) < total {
		return 0, errScratchTooSmall
	}

	ipf, err := ipv4.WriteHeader(scratch[:total], c.template.localIP, c.template.remoteIP, c.template.ttl, uint16(total))
	if err != nil {
		return 0, err
	}

	tfrm, err := tcpwire.NewFrame(scratch[ipHdrLen:total])
	if err != nil {
		return 0, err
	}
	tfrm.SetSourcePort(c.template.localPort)
	tfrm.SetDestinationPort(c.template.remotePort)
	tfrm.SetSeq(segSeq)
	tfrm.SetAck(segAck)
	tfrm.SetDataOffset(5)
	tfrm.SetFlags(flags)
	tfrm.SetWindowSize(uint16(c.Send.WND))
	tfrm.SetUrgentPtr(0)
	copy(scratch[ipHdrLen+tcpHdrLen:total], payload)

	tfrm.SetCRC(0)
	tcpLen := uint16(tcpHdrLen + len(payload))
	cs := tcpwire.CalculateChecksum(scratch[ipHdrLen:total], func(c *checksum.CRC791) {
		ipf.CRCWriteTCPPseudo(c, tcpLen)
	})
	tfrm.SetCRC(cs)

	internal.LogAttrs(c.log, internal.LevelTrace, "conn:emit",
		slog.String("flags", flagString(flags)),
		slog.Uint64("seq", uint64(segSeq)), slog.Uint64("ack", uint64(segAck)),
		slog.Int("datalen", len(payload)))
	return total, nil
}

var errScratchTooSmall = errors.New("conn: scratch buffer too small for segment")

func flagString(f tcpwire.Flags) string {
	b := make([]byte, 0, 16)
	add := func(name string, bit tcpwire.Flags) {
		if f.HasAll(bit) {
			if len(b) > 0 {
				b = append(b, ',')
			}
			b = append(b, name...)
		}
	}
	add("SYN", tcpwire.FlagSYN)
	add("ACK", tcpwire.FlagACK)
	add("FIN", tcpwire.FlagFIN)
	add("RST", tcpwire.FlagRST)
	return string(b)
}
