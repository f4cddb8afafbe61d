package ecfr

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestFrameCommitOverlay(t *testing.T) {
	buf := make([]byte, 256)
	f, err := PointFrameTo(buf)
	if err != nil {
		t.Fatal(err)
	}

	brd, err := f.NewDatagram(2)
	if err != nil {
		t.Fatal(err)
	}
	brd.Command = BRD
	brd.Addr32 = BroadcastAddress(0x0130).Addr32()

	lrw, err := f.NewDatagram(5)
	if err != nil {
		t.Fatal(err)
	}
	lrw.Command = LRW
	lrw.Index = 7
	lrw.Addr32 = LogicalAddress(0x10000).Addr32()
	copy(lrw.Data(), []byte{1, 2, 3, 4, 5})
	lrw.WorkingCounter = 3

	wire, err := f.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if len(wire) != FrameOverheadLen+2*DatagramOverheadLength+2+5 {
		t.Fatalf("unexpected wire length %d", len(wire))
	}
	// length word little endian, type 1 in the top nibble
	if wire[0] != byte(len(wire)-2) || wire[1] != 0x10 {
		t.Fatalf("unexpected frame header % x", wire[:2])
	}

	var in Frame
	if _, err = in.Overlay(append([]byte(nil), wire...)); err != nil {
		t.Fatal(err)
	}
	if len(in.Datagrams) != 2 {
		t.Fatalf("expected 2 datagrams, got %d", len(in.Datagrams))
	}

	got := in.Datagrams[1]
	if got.Command != LRW || got.Index != 7 || got.WorkingCounter != 3 || !got.Last() ||
		!bytes.Equal(got.Data(), []byte{1, 2, 3, 4, 5}) {
		spew.Dump(got)
		t.Fatalf("second datagram mismatch: %s", got.Summary())
	}
	if in.Datagrams[0].Last() {
		t.Fatalf("first datagram must announce a follower")
	}
	if in.Datagrams[0].OffsetAddr() != 0x0130 {
		t.Fatalf("expected offset 0x0130, got %#04x", in.Datagrams[0].OffsetAddr())
	}
}

func TestNewDatagramOverflow(t *testing.T) {
	f, err := PointFrameTo(make([]byte, FrameOverheadLen+DatagramOverheadLength+4))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = f.NewDatagram(4); err != nil {
		t.Fatalf("datagram filling the frame exactly should fit: %v", err)
	}
	if _, err = f.NewDatagram(0); err == nil {
		t.Fatalf("expected an error for a datagram that does not fit")
	}
}

func TestPositionalAddressIncrement(t *testing.T) {
	a := PositionalAddress(2, 0x0120)
	if a.PositionOrAddress() != 0xfffe {
		t.Fatalf("position 2 should be ADP 0xfffe, got %#04x", a.PositionOrAddress())
	}
	a.IncrementSlaveAddr()
	a.IncrementSlaveAddr()
	if a.PositionOrAddress() != 0 || a.Offset() != 0x0120 {
		t.Fatalf("unexpected address after two hops: %v", a)
	}
	if a.ReadCommand() != APRD || a.WriteCommand() != APWR {
		t.Fatalf("unexpected commands for positional address")
	}
}
