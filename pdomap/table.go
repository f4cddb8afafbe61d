// Package pdomap describes the process data mapping of the drives and
// writes it into their object dictionaries.
package pdomap

import (
	"fmt"

	"github.com/distributed/ecatservo/cia402"
	"github.com/pkg/errors"
)

// Entry is one object mapped into a PDO, encoded as index:16 sub:8 bits:8.
type Entry struct {
	Index    uint16
	Subindex uint8
	Bits     uint8
}

func (e Entry) Encode() uint32 {
	return uint32(e.Index)<<16 | uint32(e.Subindex)<<8 | uint32(e.Bits)
}

func DecodeEntry(v uint32) Entry {
	return Entry{uint16(v >> 16), uint8(v >> 8), uint8(v)}
}

func (e Entry) String() string {
	return fmt.Sprintf("%04x:%02x/%d", e.Index, e.Subindex, e.Bits)
}

type PDO struct {
	Index   uint16
	Entries []Entry
}

// Table is the mapping of one drive: a receive PDO (outputs) assigned
// through RxAssign and a transmit PDO (inputs) assigned through TxAssign.
type Table struct {
	RxAssign uint16
	Rx       PDO
	TxAssign uint16
	Tx       PDO
}

// CSP is the mapping for cyclic synchronous position.
var CSP = Table{
	RxAssign: 0x1c12,
	Rx: PDO{0x1600, []Entry{
		{0x6060, 0, 8},  // mode of operation
		{0x6040, 0, 16}, // control word
		{0x607a, 0, 32}, // target position
	}},
	TxAssign: 0x1c13,
	Tx: PDO{0x1a00, []Entry{
		{0x603f, 0, 16}, // error code
		{0x6041, 0, 16}, // status word
		{0x6064, 0, 32}, // position actual value
	}},
}

// Field is where a mapped object ends up within a drive's part of the
// process image.
type Field struct {
	Entry
	Offset int
	Len    int
}

type Layout struct {
	Outputs    []Field
	Inputs     []Field
	OutputsLen int
	InputsLen  int
}

// Layout places the entries the way the slave packs them: outputs from
// offset 0, inputs right after the outputs.
func (t Table) Layout() (l Layout, err error) {
	off := 0
	for _, e := range t.Rx.Entries {
		if e.Bits%8 != 0 {
			err = errors.Errorf("entry %v is not byte sized", e)
			return
		}
		l.Outputs = append(l.Outputs, Field{e, off, int(e.Bits) / 8})
		off += int(e.Bits) / 8
	}
	l.OutputsLen = off

	for _, e := range t.Tx.Entries {
		if e.Bits%8 != 0 {
			err = errors.Errorf("entry %v is not byte sized", e)
			return
		}
		l.Inputs = append(l.Inputs, Field{e, off, int(e.Bits) / 8})
		off += int(e.Bits) / 8
	}
	l.InputsLen = off - l.OutputsLen
	return
}

// what the process image expects to find where
var imageFields = []Field{
	{Entry{0x6060, 0, 8}, cia402.OffMode, 1},
	{Entry{0x6040, 0, 16}, cia402.OffControl, 2},
	{Entry{0x607a, 0, 32}, cia402.OffTarget, 4},
	{Entry{0x603f, 0, 16}, cia402.OffError, 2},
	{Entry{0x6041, 0, 16}, cia402.OffStatus, 2},
	{Entry{0x6064, 0, 32}, cia402.OffActual, 4},
}

// Verify refuses a table whose layout differs from the cia402 image.
// Mapping such a table would make image fields alias other objects.
func (t Table) Verify() error {
	l, err := t.Layout()
	if err != nil {
		return err
	}

	if l.OutputsLen != cia402.OutputsLen || l.InputsLen != cia402.InputsLen {
		return errors.Errorf("layout has %d output and %d input bytes, image has %d and %d",
			l.OutputsLen, l.InputsLen, cia402.OutputsLen, cia402.InputsLen)
	}

	have := append(append([]Field(nil), l.Outputs...), l.Inputs...)
	if len(have) != len(imageFields) {
		return errors.Errorf("layout maps %d objects, image has %d", len(have), len(imageFields))
	}
	for i, f := range imageFields {
		if have[i] != f {
			return errors.Errorf("object %v at offset %d, image expects %v at offset %d",
				have[i].Entry, have[i].Offset, f.Entry, f.Offset)
		}
	}
	return nil
}
