// Package tcpwire is a minimal off-the-shelf-grade TCP segment codec (RFC
// 793 / RFC 9293). It emits and expects a fixed 20-octet header with no
// options; any option bytes in an incoming segment are skipped over via
// DataOffset and never interpreted, matching the spec's "no TCP options
// beyond what the header codec surfaces" non-goal.
package tcpwire

import (
	"encoding/binary"
	"errors"

	"github.com/gopherkernel/utcp/checksum"
	"github.com/gopherkernel/utcp/seq"
)

// HeaderLen is the fixed TCP header length this codec emits.
const HeaderLen = 20

// ErrShortBuffer is returned by NewFrame when buf cannot hold a TCP header.
var ErrShortBuffer = errors.New("tcpwire: short buffer")

// Flags is the TCP control-bit field.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// HasAll reports whether every bit in mask is set.
func (f Flags) HasAll(mask Flags) bool { return f&mask == mask }

// Frame is a thin accessor over a TCP header plus payload backed by buf.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a TCP frame. Returns ErrShortBuffer if buf is
// smaller than the fixed 20-octet header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the slice backing the frame.
func (f Frame) RawData() []byte { return f.buf }

// SourcePort returns the TCP source port.
func (f Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetSourcePort sets the TCP source port.
func (f Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(f.buf[0:2], p) }

// DestinationPort returns the TCP destination port.
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetDestinationPort sets the TCP destination port.
func (f Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(f.buf[2:4], p) }

// Seq returns SEG.SEQ.
func (f Frame) Seq() seq.Value { return seq.Value(binary.BigEndian.Uint32(f.buf[4:8])) }

// SetSeq sets SEG.SEQ.
func (f Frame) SetSeq(v seq.Value) { binary.BigEndian.PutUint32(f.buf[4:8], uint32(v)) }

// Ack returns SEG.ACK.
func (f Frame) Ack() seq.Value { return seq.Value(binary.BigEndian.Uint32(f.buf[8:12])) }

// SetAck sets SEG.ACK.
func (f Frame) SetAck(v seq.Value) { binary.BigEndian.PutUint32(f.buf[8:12], uint32(v)) }

// DataOffset returns the header length in octets, including any options, as
// calculated from the 4-bit data-offset field.
func (f Frame) DataOffset() int { return int(f.buf[12]>>4) * 4 }

// SetDataOffset sets the data-offset field to offsetWords 32-bit words
// (5 for a bare 20-octet header).
func (f Frame) SetDataOffset(offsetWords uint8) { f.buf[12] = offsetWords << 4 }

// Flags returns the control bits.
func (f Frame) Flags() Flags { return Flags(f.buf[13] & 0x3f) }

// SetFlags sets the control bits.
func (f Frame) SetFlags(flags Flags) { f.buf[13] = byte(flags) & 0x3f }

// WindowSize returns SEG.WND.
func (f Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

// SetWindowSize sets SEG.WND.
func (f Frame) SetWindowSize(w uint16) { binary.BigEndian.PutUint16(f.buf[14:16], w) }

// CRC returns the checksum field.
func (f Frame) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

// SetCRC sets the checksum field.
func (f Frame) SetCRC(c uint16) { binary.BigEndian.PutUint16(f.buf[16:18], c) }

// UrgentPtr returns the urgent pointer field. Unused: Non-goal.
func (f Frame) UrgentPtr() uint16 { return binary.BigEndian.Uint16(f.buf[18:20]) }

// SetUrgentPtr sets the urgent pointer field.
func (f Frame) SetUrgentPtr(u uint16) { binary.BigEndian.PutUint16(f.buf[18:20], u) }

// Payload returns the octets after the header, given the segment's total
// length (header+options+payload) as known from the carrying IP datagram.
func (f Frame) Payload(segTotalLen int) []byte {
	return f.buf[f.DataOffset():segTotalLen]
}

// CalculateChecksum computes the TCP checksum over the pseudo-header (via
// pseudoWrite) plus the header and payload.
func CalculateChecksum(buf []byte, pseudoWrite func(c *checksum.CRC791)) uint16 {
	var c checksum.CRC791
	pseudoWrite(&c)
	return checksum.NeverZero(c.PayloadSum16(buf))
}
