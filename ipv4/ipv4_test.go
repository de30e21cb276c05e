package ipv4

import "testing"

func TestNewFrameShortBuffer(t *testing.T) {
	_, err := NewFrame(make([]byte, 10))
	if err != ErrShortBuffer {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}

func TestWriteHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderLen+8)
	src := [4]byte{192, 168, 1, 1}
	dst := [4]byte{192, 168, 1, 2}
	f, err := WriteHeader(buf, src, dst, 64, uint16(len(buf)))
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if f.HeaderLength() != HeaderLen {
		t.Fatalf("HeaderLength() = %d, want %d", f.HeaderLength(), HeaderLen)
	}
	if f.TotalLength() != uint16(len(buf)) {
		t.Fatalf("TotalLength() = %d, want %d", f.TotalLength(), len(buf))
	}
	if f.Protocol() != ProtoTCP {
		t.Fatalf("Protocol() = %d, want %d", f.Protocol(), ProtoTCP)
	}
	if f.TTL() != 64 {
		t.Fatalf("TTL() = %d, want 64", f.TTL())
	}
	if *f.SourceAddr() != src || *f.DestinationAddr() != dst {
		t.Fatalf("addresses round-trip failed: got %v/%v", *f.SourceAddr(), *f.DestinationAddr())
	}
	if f.CalculateHeaderCRC() != 0 {
		t.Fatalf("header checksum over a finalized header must fold to zero, got %#x", f.CalculateHeaderCRC())
	}
}

func TestWriteHeaderDetectsCorruption(t *testing.T) {
	buf := make([]byte, HeaderLen)
	f, err := WriteHeader(buf, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 64, HeaderLen)
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	buf[15] ^= 0xff // flip a bit in the destination address.
	if f.CalculateHeaderCRC() == 0 {
		t.Fatal("corrupting the header must no longer fold to a zero checksum")
	}
}

func TestPayload(t *testing.T) {
	buf := make([]byte, HeaderLen+4)
	f, err := WriteHeader(buf, [4]byte{}, [4]byte{}, 64, uint16(len(buf)))
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	copy(buf[HeaderLen:], []byte{1, 2, 3, 4})
	if got := f.Payload(); len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("Payload() = %v, want [1 2 3 4]", got)
	}
}
