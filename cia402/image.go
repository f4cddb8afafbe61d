package cia402

import (
	"encoding/binary"
)

// Per drive layout of the process image. Outputs (master to drive) come
// first, inputs follow. Drives are packed back to back in slave order.
const (
	OffMode    = 0  // 0x6060:00, int8
	OffControl = 1  // 0x6040:00, uint16
	OffTarget  = 3  // 0x607A:00, int32
	OffError   = 7  // 0x603F:00, uint16
	OffStatus  = 9  // 0x6041:00, uint16
	OffActual  = 11 // 0x6064:00, int32

	OutputsLen = OffError
	InputsLen  = Stride - OutputsLen
	Stride     = 15
)

// The fields have to be contiguous, a gap or overlap fails to compile.
var (
	_ = [1]struct{}{}[OffControl-(OffMode+1)]
	_ = [1]struct{}{}[OffTarget-(OffControl+2)]
	_ = [1]struct{}{}[OffError-(OffTarget+4)]
	_ = [1]struct{}{}[OffStatus-(OffError+2)]
	_ = [1]struct{}{}[OffActual-(OffStatus+2)]
	_ = [1]struct{}{}[Stride-(OffActual+4)]
)

// Image is the process data buffer exchanged with all drives each cycle.
type Image struct {
	buf []byte
	n   int
}

func NewImage(drives int) *Image {
	if drives < 0 {
		drives = 0
	}
	return &Image{buf: make([]byte, drives*Stride), n: drives}
}

// Bytes is the buffer handed to the transport. It aliases the drive views.
func (img *Image) Bytes() []byte { return img.buf }

func (img *Image) Drives() int { return img.n }

// Drive returns the view of the i-th drive, counting from 0 for slave 1.
func (img *Image) Drive(i int) Drive {
	return Drive{img.buf[i*Stride : (i+1)*Stride : (i+1)*Stride]}
}

// Idle zeroes the control word of every drive.
func (img *Image) Idle() {
	for i := 0; i < img.n; i++ {
		img.Drive(i).SetControl(CtlIdle)
	}
}

// SetMode writes the mode of operation of every drive.
func (img *Image) SetMode(m Mode) {
	for i := 0; i < img.n; i++ {
		img.Drive(i).SetMode(m)
	}
}

// Drive is one drive's window into the process image.
type Drive struct {
	b []byte
}

func (d Drive) Mode() Mode               { return Mode(int8(d.b[OffMode])) }
func (d Drive) SetMode(m Mode)           { d.b[OffMode] = uint8(m) }
func (d Drive) Control() ControlWord     { return ControlWord(binary.LittleEndian.Uint16(d.b[OffControl:])) }
func (d Drive) SetControl(c ControlWord) { binary.LittleEndian.PutUint16(d.b[OffControl:], uint16(c)) }
func (d Drive) Target() int32            { return int32(binary.LittleEndian.Uint32(d.b[OffTarget:])) }
func (d Drive) SetTarget(p int32)        { binary.LittleEndian.PutUint32(d.b[OffTarget:], uint32(p)) }
func (d Drive) ErrorCode() uint16        { return binary.LittleEndian.Uint16(d.b[OffError:]) }
func (d Drive) Status() uint16           { return binary.LittleEndian.Uint16(d.b[OffStatus:]) }
func (d Drive) Actual() int32            { return int32(binary.LittleEndian.Uint32(d.b[OffActual:])) }

// Input setters, used by transports that fill the image themselves.

func (d Drive) SetErrorCode(e uint16) { binary.LittleEndian.PutUint16(d.b[OffError:], e) }
func (d Drive) SetStatus(s uint16)    { binary.LittleEndian.PutUint16(d.b[OffStatus:], s) }
func (d Drive) SetActual(p int32)     { binary.LittleEndian.PutUint32(d.b[OffActual:], uint32(p)) }
