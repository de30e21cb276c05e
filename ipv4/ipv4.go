// Package ipv4 is a minimal off-the-shelf-grade IPv4 header codec (RFC 791).
// It knows nothing about TCP; callers slice out the payload and hand it to
// whatever protocol the Protocol field names. No options are emitted and
// incoming options are treated as opaque header bytes skipped over by
// HeaderLength.
package ipv4

import (
	"encoding/binary"
	"errors"

	"github.com/gopherkernel/utcp/checksum"
)

const (
	// HeaderLen is the fixed IPv4 header length this codec emits: no
	// options, 5 32-bit words.
	HeaderLen = 20

	// ProtoTCP is the IPv4 protocol number for TCP (RFC 793).
	ProtoTCP = 6
)

// ErrShortBuffer is returned by NewFrame when buf is too small to hold a
// fixed IPv4 header.
var ErrShortBuffer = errors.New("ipv4: short buffer")

// Frame is a thin accessor over an IPv4 header plus payload backed by buf.
// All fields are read directly from/written directly to buf; Frame itself
// holds no state.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an IPv4 frame. Returns ErrShortBuffer if buf is
// smaller than a minimal 20-octet header; callers must still check
// HeaderLength() against len(buf) before trusting option bytes or payload.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the slice backing the frame.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) ihl() uint8 { return f.buf[0] & 0xf }

// HeaderLength returns the IPv4 header length in octets, including options,
// as calculated from IHL.
func (f Frame) HeaderLength() int { return int(f.ihl()) * 4 }

// SetVersionAndIHL sets the version (always 4 here) and IHL fields.
func (f Frame) SetVersionAndIHL(ihl uint8) { f.buf[0] = 4<<4 | ihl&0xf }

// TotalLength is the entire datagram size in octets, header plus payload.
func (f Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets TotalLength. See Frame.TotalLength.
func (f Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(f.buf[2:4], tl) }

// Protocol names the payload protocol: 6 for TCP.
func (f Frame) Protocol() uint8 { return f.buf[9] }

// SetProtocol sets the Protocol field.
func (f Frame) SetProtocol(proto uint8) { f.buf[9] = proto }

// TTL is the time-to-live / hop limit.
func (f Frame) TTL() uint8 { return f.buf[8] }

// SetTTL sets TTL.
func (f Frame) SetTTL(ttl uint8) { f.buf[8] = ttl }

// CRC returns the header checksum field.
func (f Frame) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetCRC sets the header checksum field.
func (f Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(f.buf[10:12], crc) }

// SourceAddr returns a pointer to the 4-byte source address.
func (f Frame) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// DestinationAddr returns a pointer to the 4-byte destination address.
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// CalculateHeaderCRC computes the RFC 1071 checksum over the 20-octet header,
// CRC field included. With the CRC field zeroed it yields the value to store
// there; over a header whose CRC field is finalized it folds to zero.
func (f Frame) CalculateHeaderCRC() uint16 {
	var c checksum.CRC791
	c.Write(f.buf[0:HeaderLen])
	return c.Sum16()
}

// CRCWriteTCPPseudo folds the IPv4 pseudo-header (RFC 793 §3.1) used for the
// TCP checksum into c: source/destination address, zero octet, protocol,
// and TCP segment length (header+payload).
func (f Frame) CRCWriteTCPPseudo(c *checksum.CRC791, tcpLen uint16) {
	c.Write(f.SourceAddr()[:])
	c.Write(f.DestinationAddr()[:])
	c.AddUint16(uint16(ProtoTCP))
	c.AddUint16(tcpLen)
}

// Payload returns the octets after the IPv4 header, bounded by TotalLength.
// Callers must validate HeaderLength() and TotalLength() against len(buf)
// before calling Payload.
func (f Frame) Payload() []byte {
	return f.buf[f.HeaderLength():f.TotalLength()]
}

// WriteHeader fills in a 20-octet, no-options IPv4 header for an outgoing
// datagram of the given total length (header+payload) and finalizes the
// header checksum. src and dst are copied in as-is.
func WriteHeader(buf []byte, src, dst [4]byte, ttl uint8, totalLen uint16) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	f.SetVersionAndIHL(5)
	f.buf[1] = 0 // ToS, unused.
	f.SetTotalLength(totalLen)
	binary.BigEndian.PutUint16(f.buf[4:6], 0) // ID, unused for a stateless kernel.
	binary.BigEndian.PutUint16(f.buf[6:8], 0) // Flags/FragOffset: no fragmentation.
	f.SetTTL(ttl)
	f.SetProtocol(ProtoTCP)
	*f.SourceAddr() = src
	*f.DestinationAddr() = dst
	f.SetCRC(0)
	f.SetCRC(f.CalculateHeaderCRC())
	return f, nil
}
