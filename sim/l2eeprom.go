package sim

import (
	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecee"
)

type L2EEPROM struct {
	Array [8 * 1024]uint16

	Addr        uint32
	DataScratch [8]byte // already in wire encoding

	PDIControl         bool
	WriteEnable        bool
	ChecksumError      bool
	EENotLoaded        bool
	MissingAcknowledge bool
	ErrorWriteEnable   bool
	Busy               bool
}

func NewL2EEPROM() *L2EEPROM {
	ee := &L2EEPROM{}

	for i := 0; i < len(ee.Array); i++ {
		ee.Array[i] = 0xee00 + uint16(i)
	}

	return ee
}

func (ee *L2EEPROM) SetDWord(addr uint32, v uint32) {
	ee.Array[int(addr)%len(ee.Array)] = uint16(v)
	ee.Array[int(addr+1)%len(ee.Array)] = uint16(v >> 16)
}

func (ee *L2EEPROM) SetIdentity(id ecee.Identity) {
	ee.SetDWord(ecad.SIIVendorID, id.VendorID)
	ee.SetDWord(ecad.SIIProductCode, id.ProductCode)
	ee.SetDWord(ecad.SIIRevision, id.Revision)
	ee.SetDWord(ecad.SIISerial, id.Serial)
}

func (ee *L2EEPROM) Reg() *L2EEPROMRegisterSet {
	return &L2EEPROMRegisterSet{ee}
}

type L2EEPROMRegisterSet struct{ *L2EEPROM }

func (ee *L2EEPROMRegisterSet) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		if ee.PDIControl {
			*dp = 0x01
		} else {
			*dp = 0x00
		}
	case 1:
		*dp = 0x00
	case 2:
		*dp = 0xc0 // 2 address bytes, support 8 bytes
		if ee.WriteEnable {
			*dp |= 0x01
		}
	case 3:
		// lower 3 bits are command
		*dp = 0
		if ee.ChecksumError {
			*dp |= 1 << (11 - 8)
		}
		if ee.EENotLoaded {
			*dp |= 1 << (12 - 8)
		}
		if ee.MissingAcknowledge {
			*dp |= 1 << (13 - 8)
		}
		if ee.ErrorWriteEnable {
			*dp |= 1 << (14 - 8)
		}
		if ee.Busy {
			*dp |= 1 << (15 - 8)
		}
	case 4:
		*dp = uint8(ee.Addr)
	case 5:
		*dp = uint8(ee.Addr >> 8)
	case 6:
		*dp = uint8(ee.Addr >> 16)
	case 7:
		*dp = uint8(ee.Addr >> 24)
	default:
		if offs >= 16 {
			panic("invalid use of ee reg area, read past end")
		}
		*dp = ee.DataScratch[offs-8]
	}

	return true
}

func (ee *L2EEPROMRegisterSet) WriteInteract(offs uint16) bool {
	if offs == 2 || offs == 3 {
		return !ee.Busy
	}
	return true
}

func (ee *L2EEPROMRegisterSet) Latch(shadow []byte, shadowWriteMask []bool) {
	// address and data first, the command in offs 3 acts on them
	for offs := 4; offs < len(shadow); offs++ {
		if !shadowWriteMask[offs] {
			continue
		}
		switch {
		case offs < 8:
			shift := uint(offs-4) * 8
			ee.Addr &^= 0xff << shift
			ee.Addr |= uint32(shadow[offs]) << shift
		case offs < 16:
			ee.DataScratch[offs-8] = shadow[offs]
		}
	}

	if shadowWriteMask[0] {
		ee.PDIControl = shadow[0]&0x01 != 0
	}
	// offs 1 is the pdi access state. we don't even fake that
	if shadowWriteMask[2] {
		ee.WriteEnable = shadow[2]&0x01 != 0
	}
	if shadowWriteMask[3] {
		switch shadow[3] & 0x07 {
		case 0x00:
			ee.ChecksumError = false
			ee.EENotLoaded = false
			ee.MissingAcknowledge = false
			ee.ErrorWriteEnable = false
		case 0x01:
			ee.readIntoScratch()
		case 0x02:
			ee.write()
		default:
			// reload not supported
		}
	}
}

func (ee *L2EEPROM) readIntoScratch() {
	for i := 0; i < 4; i++ {
		w16 := ee.Array[(int(ee.Addr)+i)%len(ee.Array)]
		ee.DataScratch[i*2] = uint8(w16)
		ee.DataScratch[i*2+1] = uint8(w16 >> 8)
	}
}

func (ee *L2EEPROM) write() {
	if !ee.WriteEnable {
		ee.ErrorWriteEnable = true
		return
	}
	ee.Array[int(ee.Addr)%len(ee.Array)] = uint16(ee.DataScratch[0]) | uint16(ee.DataScratch[1])<<8
	ee.WriteEnable = false
}
