package ecfr

import "fmt"

type AddressType uint8

const (
	NoAddress AddressType = iota
	Positional
	Fixed
	Broadcast
	Logical
)

func (t AddressType) String() string {
	switch t {
	case Positional:
		return "positional"
	case Fixed:
		return "fixed"
	case Broadcast:
		return "broadcast"
	case Logical:
		return "logical"
	}
	return "none"
}

// DatagramAddress is the 32 bit address field of a datagram together with
// the addressing mode it is interpreted in. For physical addressing the low
// 16 bits are the slave address (ADP), the high 16 bits the register offset
// (ADO).
type DatagramAddress struct {
	typ    AddressType
	addr32 uint32
}

// PositionalAddress addresses the slave at the zero based ring position pos.
func PositionalAddress(pos uint16, offset uint16) DatagramAddress {
	return DatagramAddress{Positional, uint32(offset)<<16 | uint32(-pos)}
}

func FixedAddress(station uint16, offset uint16) DatagramAddress {
	return DatagramAddress{Fixed, uint32(offset)<<16 | uint32(station)}
}

func BroadcastAddress(offset uint16) DatagramAddress {
	return DatagramAddress{Broadcast, uint32(offset) << 16}
}

func LogicalAddress(addr uint32) DatagramAddress {
	return DatagramAddress{Logical, addr}
}

func DatagramAddressFromCommand(addr32 uint32, ct CommandType) DatagramAddress {
	return DatagramAddress{ct.AddressType(), addr32}
}

func (a DatagramAddress) Addr32() uint32    { return a.addr32 }
func (a DatagramAddress) Type() AddressType { return a.typ }

func (a DatagramAddress) IsPhysical() bool {
	return a.typ == Positional || a.typ == Fixed || a.typ == Broadcast
}

func (a DatagramAddress) Offset() uint16 {
	return uint16(a.addr32 >> 16)
}

func (a *DatagramAddress) SetOffset(offset uint16) {
	a.addr32 = uint32(offset)<<16 | a.addr32&0xffff
}

func (a DatagramAddress) PositionOrAddress() uint16 {
	return uint16(a.addr32)
}

// IncrementSlaveAddr is what every slave does to ADP on the way through for
// positional and broadcast commands.
func (a *DatagramAddress) IncrementSlaveAddr() {
	if a.typ != Positional && a.typ != Broadcast {
		return
	}
	adp := uint16(a.addr32) + 1
	a.addr32 = a.addr32&0xffff0000 | uint32(adp)
}

func (a DatagramAddress) ReadCommand() CommandType {
	return [...]CommandType{NOP, APRD, FPRD, BRD, LRD}[a.typ]
}

func (a DatagramAddress) WriteCommand() CommandType {
	return [...]CommandType{NOP, APWR, FPWR, BWR, LWR}[a.typ]
}

func (a DatagramAddress) ReadWriteCommand() CommandType {
	return [...]CommandType{NOP, APRW, FPRW, BRW, LRW}[a.typ]
}

func (a DatagramAddress) String() string {
	if a.typ == Logical {
		return fmt.Sprintf("logical %#08x", a.addr32)
	}
	return fmt.Sprintf("%v %#04x:%#04x", a.typ, a.PositionOrAddress(), a.Offset())
}

func (ct CommandType) AddressType() AddressType {
	switch ct {
	case APRD, APWR, APRW, ARMW:
		return Positional
	case FPRD, FPWR, FPRW, FRMW:
		return Fixed
	case BRD, BWR, BRW:
		return Broadcast
	case LRD, LWR, LRW:
		return Logical
	}
	return NoAddress
}
