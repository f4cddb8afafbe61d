package ecfr

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	datagramHeaderByteLen  = 10
	workingCounterByteLen  = 2
	DatagramOverheadLength = datagramHeaderByteLen + workingCounterByteLen

	MaxDatagramDataLength = (1 << 11) - 1
)

type Datagram struct {
	DatagramHeader
	WorkingCounter uint16

	// starts at the first header byte
	buffer []byte
}

// PointDatagramTo creates a datagram with zero data length backed by d. The
// data length can be grown with SetDataLen up to len(d) minus overhead.
func PointDatagramTo(d []byte) (dg Datagram, err error) {
	if len(d) < DatagramOverheadLength {
		err = errors.Errorf("need at least %d bytes for a datagram, have %d", DatagramOverheadLength, len(d))
		return
	}
	dg.buffer = d
	return
}

func (dg *Datagram) Overlay(d []byte) (b []byte, err error) {
	b, err = dg.DatagramHeader.Overlay(d)
	if err != nil {
		return
	}

	n := int(dg.DataLength())
	if len(b) < n {
		err = errors.Errorf("overlaying ecat dgram: need %d bytes of data, have %d", n, len(b))
		return
	}
	b = b[n:]

	if len(b) < workingCounterByteLen {
		err = errors.Errorf("overlaying ecat dgram: need 2 bytes for working counter, got %d", len(b))
		return
	}

	// guarded by condition above
	dg.WorkingCounter, b = getUint16(b)
	dg.buffer = d
	return
}

func (dg *Datagram) Data() []byte {
	return dg.buffer[datagramHeaderByteLen : datagramHeaderByteLen+int(dg.DataLength())]
}

func (dg *Datagram) SetDataLen(n int) error {
	if n < 0 || n > MaxDatagramDataLength {
		return errors.Errorf("datagram data length %d out of range", n)
	}
	if n+DatagramOverheadLength > len(dg.buffer) {
		return errors.Errorf("datagram buffer holds %d data bytes at most, want %d", len(dg.buffer)-DatagramOverheadLength, n)
	}
	dg.LenWord &^= lengthMask
	dg.LenWord |= uint16(n)
	return nil
}

// SetLast clears the "more datagrams follow" flag when last is true.
func (dg *Datagram) SetLast(last bool) {
	if last {
		dg.LenWord &^= 1 << moreFollowsBit
	} else {
		dg.LenWord |= 1 << moreFollowsBit
	}
}

func (dg *Datagram) ByteLen() int {
	return int(dg.DataLength()) + DatagramOverheadLength
}

func (dg *Datagram) Commit() (d []byte, err error) {
	l := dg.ByteLen()
	if len(dg.buffer) < l {
		err = errors.Errorf("datagram needs %d bytes, buffer has %d", l, len(dg.buffer))
		return
	}

	b := dg.buffer
	b = putUint8(b, uint8(dg.Command))
	b = putUint8(b, dg.Index)
	b = putUint32(b, dg.Addr32)
	b = putUint16(b, dg.LenWord)
	b = putUint16(b, dg.Interrupt)
	b = b[dg.DataLength():]
	putUint16(b, dg.WorkingCounter)

	d = dg.buffer[:l]
	return
}

func (dg *Datagram) Summary() string {
	return fmt.Sprintf("%v idx %d addr %#08x len %d wkc %d last %v",
		dg.Command, dg.Index, dg.Addr32, dg.DataLength(), dg.WorkingCounter, dg.Last())
}

type DatagramHeader struct {
	Command   CommandType
	Index     uint8
	Addr32    uint32
	LenWord   uint16
	Interrupt uint16
}

func (dh *DatagramHeader) Overlay(d []byte) (b []byte, err error) {
	b = d
	if len(b) < datagramHeaderByteLen {
		err = errors.Errorf("need %d bytes for dgram header, have %d", datagramHeaderByteLen, len(b))
		return
	}

	var c8 uint8
	c8, b = getUint8(b)
	dh.Command = CommandType(c8)
	dh.Index, b = getUint8(b)
	dh.Addr32, b = getUint32(b)
	dh.LenWord, b = getUint16(b)
	dh.Interrupt, b = getUint16(b)

	return
}

func (dh *DatagramHeader) SlaveAddr() uint16 {
	return uint16(dh.Addr32)
}

func (dh *DatagramHeader) OffsetAddr() uint16 {
	return uint16(dh.Addr32 >> 16)
}

func (dh *DatagramHeader) LogicalAddr() uint32 {
	return dh.Addr32
}

func (dh *DatagramHeader) DataLength() uint16 {
	return dh.LenWord & lengthMask
}

func (dh *DatagramHeader) Roundtrip() bool {
	return (dh.LenWord & (1 << roundtripBit)) != 0
}

func (dh *DatagramHeader) Last() bool {
	return (dh.LenWord & (1 << moreFollowsBit)) == 0
}

const (
	lengthMask     = (1 << 11) - 1
	roundtripBit   = 14
	moreFollowsBit = 15
)

type CommandType uint8

func (ct CommandType) String() string {
	if cts, ok := commandTypeName[ct]; ok {
		return cts
	}
	return fmt.Sprintf("CommandType(%d)", uint(ct))
}

func (ct CommandType) DoesRead() bool {
	switch ct {
	case APRD, APRW, FPRD, FPRW, BRD, BRW, LRD, LRW, ARMW, FRMW:
		return true
	}
	return false
}

func (ct CommandType) DoesWrite() bool {
	switch ct {
	case APWR, APRW, FPWR, FPRW, BWR, BRW, LWR, LRW, ARMW, FRMW:
		return true
	}
	return false
}

const (
	NOP  CommandType = 0
	APRD CommandType = 1
	APWR CommandType = 2
	APRW CommandType = 3
	FPRD CommandType = 4
	FPWR CommandType = 5
	FPRW CommandType = 6
	BRD  CommandType = 7
	BWR  CommandType = 8
	BRW  CommandType = 9
	LRD  CommandType = 10
	LWR  CommandType = 11
	LRW  CommandType = 12
	ARMW CommandType = 13
	FRMW CommandType = 14
)

var commandTypeName = map[CommandType]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPWR: "FPWR",
	FPRW: "FPRW",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}
