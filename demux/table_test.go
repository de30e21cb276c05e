package demux

import (
	"testing"
	"time"

	"github.com/gopherkernel/utcp/conn"
	"github.com/gopherkernel/utcp/ipv4"
	"github.com/gopherkernel/utcp/isn"
	"github.com/gopherkernel/utcp/seq"
	"github.com/gopherkernel/utcp/tcpwire"
)

func buildIPTCP(t *testing.T, proto uint8, srcPort, dstPort uint16, segSeq uint32, flags tcpwire.Flags, wnd uint16, payload []byte) []byte {
	t.Helper()
	total := ipv4.HeaderLen + tcpwire.HeaderLen + len(payload)
	buf := make([]byte, total)
	_, err := ipv4.WriteHeader(buf, [4]byte{10, 0, 0, 2}, [4]byte{10, 0, 0, 1}, 64, uint16(total))
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	ipf, _ := ipv4.NewFrame(buf)
	ipf.SetProtocol(proto)
	ipf.SetCRC(0)
	ipf.SetCRC(ipf.CalculateHeaderCRC())

	tfrm, err := tcpwire.NewFrame(buf[ipv4.HeaderLen:])
	if err != nil {
		t.Fatalf("tcpwire.NewFrame: %v", err)
	}
	tfrm.SetSourcePort(srcPort)
	tfrm.SetDestinationPort(dstPort)
	tfrm.SetSeq(seq.Value(segSeq))
	tfrm.SetDataOffset(5)
	tfrm.SetFlags(flags)
	tfrm.SetWindowSize(wnd)
	copy(buf[ipv4.HeaderLen+tcpwire.HeaderLen:], payload)
	return buf
}

func TestDispatchCreatesConnectionOnSYN(t *testing.T) {
	table := NewTable(isn.Fixed(0), nil)
	frame := buildSYN(t)

	scratch := make([]byte, conn.MTU)
	n, err := table.Dispatch(scratch, frame)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a SYN+ACK reply")
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
}

func TestDispatchRoutesToExistingConnection(t *testing.T) {
	table := NewTable(isn.Fixed(0), nil)
	scratch := make([]byte, conn.MTU)
	table.Dispatch(scratch, buildSYN(t))
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after SYN", table.Len())
	}

	ackFrame := buildIPTCP(t, ipv4.ProtoTCP, 50000, 80, 0x1001, tcpwire.FlagACK, 4096, nil)
	tfrm, _ := tcpwire.NewFrame(ackFrame[ipv4.HeaderLen:])
	tfrm.SetAck(1)
	n, err := table.Dispatch(scratch, ackFrame)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a FIN+ACK reply")
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (no duplicate connection)", table.Len())
	}
}

func TestDispatchDropsNonTCP(t *testing.T) {
	table := NewTable(isn.Fixed(0), nil)
	frame := buildIPTCP(t, 17 /* UDP */, 50000, 80, 0x1000, tcpwire.FlagSYN, 4096, nil)
	scratch := make([]byte, conn.MTU)
	n, err := table.Dispatch(scratch, frame)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no reply for a non-TCP datagram, got %d bytes", n)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 (no side effect)", table.Len())
	}
}

func TestDispatchDropsShortFrame(t *testing.T) {
	table := NewTable(isn.Fixed(0), nil)
	scratch := make([]byte, conn.MTU)
	n, err := table.Dispatch(scratch, make([]byte, 5))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 0 || table.Len() != 0 {
		t.Fatalf("short frame must be silently dropped, got n=%d len=%d", n, table.Len())
	}
}

func TestTickReapsExpiredTimeWait(t *testing.T) {
	table := NewTable(isn.Fixed(0), nil)
	scratch := make([]byte, conn.MTU)
	table.Dispatch(scratch, buildSYN(t))

	var tuple conn.FourTuple
	for k := range table.conns {
		tuple = k
	}
	c := table.conns[tuple]
	c.State = conn.StateTimeWait
	c.TimeWaitDeadline = fixedPast()

	reaped := table.Tick(fixedNow())
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after reap", table.Len())
	}
}

func buildSYN(t *testing.T) []byte {
	return buildIPTCP(t, ipv4.ProtoTCP, 50000, 80, 0x1000, tcpwire.FlagSYN, 4096, nil)
}

func fixedNow() time.Time  { return time.Unix(1700000000, 0) }
func fixedPast() time.Time { return fixedNow().Add(-2 * time.Minute) }
