package ecee

import (
	"encoding/binary"
	"time"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/pkg/errors"
)

const DefaultBusyTimeout = 250 * time.Millisecond

// ErrBusy is returned when the ESC keeps its EEPROM interface busy for
// longer than the busy timeout.
var ErrBusy = errors.New("EEPROM interface stays busy")

type blindEEPROM struct {
	addr      ecfr.DatagramAddress
	commander ecmd.Commander
	timeout   time.Duration
	closed    bool
}

// EEPROM gives word access to the SII EEPROM of a single slave through its
// ESC EEPROM interface registers.
type EEPROM interface {
	ReadWord(addr uint32) (word uint16, err error)
	ReadDWord(addr uint32) (dword uint32, err error)
	WriteWord(addr uint32, word uint16) (err error)
	Close() error
}

// New opens the EEPROM of the slave at addr. Only the slave part of addr is
// used, the register offset is set per access.
func New(commander ecmd.Commander, addr ecfr.DatagramAddress) (EEPROM, error) {
	ee := &blindEEPROM{
		addr:      addr,
		commander: commander,
		timeout:   DefaultBusyTimeout,
	}

	err := ee.waitForIdle()
	if err != nil {
		return nil, err
	}

	return ee, nil
}

func (ee *blindEEPROM) waitForIdle() error {
	tot := time.Now().Add(ee.timeout)

	for {
		addr := ee.addr
		addr.SetOffset(ecad.EEPROMControlStatus)
		rb, err := ecmd.ExecuteRead(ee.commander, addr, 2, 1)
		if err != nil {
			return err
		}

		if rb[1]&0x80 == 0 {
			return nil
		}

		if time.Now().After(tot) {
			return errors.Wrapf(ErrBusy, "slave %v", ee.addr)
		}
	}
}

// readData issues a read command for addr and returns the 4 data bytes the
// ESC fetched.
func (ee *blindEEPROM) readData(addr uint32) (rb []byte, err error) {
	if ee.closed {
		err = errors.New("ecee eeprom is already closed")
		return
	}

	err = ee.waitForIdle()
	if err != nil {
		return
	}

	dgaddr := ee.addr

	// write EEPROM address to ESC
	dgaddr.SetOffset(ecad.EEPROMAddress)
	wb := make([]byte, 4)
	binary.LittleEndian.PutUint32(wb, addr)
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	// write "read command"
	dgaddr.SetOffset(ecad.EEPROMControlStatus)
	wb = []byte{0x00, 0x01}
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	err = ee.checkDone()
	if err != nil {
		return
	}

	dgaddr.SetOffset(ecad.EEPROMData)
	rb, err = ecmd.ExecuteRead(ee.commander, dgaddr, 4, 1)
	return
}

func (ee *blindEEPROM) checkDone() (err error) {
	err = ee.waitForIdle()
	if err != nil {
		return
	}

	// check error bits
	dgaddr := ee.addr
	dgaddr.SetOffset(ecad.EEPROMControlStatus)
	var rb []byte
	rb, err = ecmd.ExecuteRead(ee.commander, dgaddr, 2, 1)
	if err != nil {
		return
	}

	if rb[1]&0xE0 != 0x00 {
		err = errors.Errorf("EEPROM status word bits indicate error, bytes are % x", rb)
	}
	return
}

func (ee *blindEEPROM) ReadWord(addr uint32) (word uint16, err error) {
	rb, err := ee.readData(addr)
	if err != nil {
		return
	}
	word = binary.LittleEndian.Uint16(rb)
	return
}

func (ee *blindEEPROM) ReadDWord(addr uint32) (dword uint32, err error) {
	rb, err := ee.readData(addr)
	if err != nil {
		return
	}
	dword = binary.LittleEndian.Uint32(rb)
	return
}

func (ee *blindEEPROM) WriteWord(addr uint32, word uint16) (err error) {
	if ee.closed {
		err = errors.New("ecee eeprom is already closed")
		return
	}

	err = ee.waitForIdle()
	if err != nil {
		return
	}

	dgaddr := ee.addr

	dgaddr.SetOffset(ecad.EEPROMAddress)
	wb := make([]byte, 4)
	binary.LittleEndian.PutUint32(wb, addr)
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	dgaddr.SetOffset(ecad.EEPROMData)
	wb = []byte{uint8(word), uint8(word >> 8)}
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	// write "write command", with write enable
	dgaddr.SetOffset(ecad.EEPROMControlStatus)
	wb = []byte{0x01, 0x02}
	err = ecmd.ExecuteWrite(ee.commander, dgaddr, wb, 1)
	if err != nil {
		return
	}

	return ee.checkDone()
}

func (ee *blindEEPROM) Close() error {
	ee.closed = true
	return nil
}

// Identity is the part of the SII a master uses to tell devices apart.
type Identity struct {
	VendorID    uint32
	ProductCode uint32
	Revision    uint32
	Serial      uint32
}

func ReadIdentity(ee EEPROM) (id Identity, err error) {
	id.VendorID, err = ee.ReadDWord(ecad.SIIVendorID)
	if err != nil {
		return
	}
	id.ProductCode, err = ee.ReadDWord(ecad.SIIProductCode)
	if err != nil {
		return
	}
	id.Revision, err = ee.ReadDWord(ecad.SIIRevision)
	if err != nil {
		return
	}
	id.Serial, err = ee.ReadDWord(ecad.SIISerial)
	return
}
