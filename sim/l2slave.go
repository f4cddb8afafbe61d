package sim

import (
	"encoding/binary"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecfr"
)

const (
	memLength = 1 << 16
	numFMMUs  = 8
)

type FrameProcessor interface {
	ProcessFrame(*ecfr.Frame) *ecfr.Frame
}

// L2Slave simulates the ESC of one slave: registers, sync managers, FMMUs
// and the application behind them.
type L2Slave struct {
	BackingMemory [memLength]byte

	shadow          [memLength]byte
	shadowWriteMask [memLength]bool
	dirty           []uint16

	regMappings []MMapping

	ALStatusControl *ALStatusControl
	EEPROM          *L2EEPROM
	Mailbox         *Mailbox

	App Application
}

func NewL2Slave(app Application) *L2Slave {
	s := &L2Slave{App: app}

	// ET1100 signature
	copy(s.BackingMemory[:0x10], []byte{0x11, 0x00, 0x02, 0x00, 0x08, 0x08, 0x08, 0x0b, 0xfc})

	s.ALStatusControl = NewALStatusControl()
	s.ALStatusControl.Transition = s.transition
	s.regMappings = append(s.regMappings, DevMapping{ecad.ALControl, 0x02, s.ALStatusControl.ControlReg()})
	s.regMappings = append(s.regMappings, DevMapping{ecad.ALStatus, 0x06, s.ALStatusControl.StatusReg()})

	s.EEPROM = NewL2EEPROM()
	s.regMappings = append(s.regMappings, DevMapping{ecad.ESIEEPROMInterface, 0x10, s.EEPROM.Reg()})

	s.Mailbox = &Mailbox{s: s}
	// the input mailbox latches first so a read and a new request in one
	// frame do not lose the new response
	s.regMappings = append(s.regMappings, smMapping{s, 1, mailboxIn{s.Mailbox}})
	s.regMappings = append(s.regMappings, smMapping{s, 0, mailboxOut{s.Mailbox}})

	return s
}

func (s *L2Slave) transition(from, to ecad.ALState) uint16 {
	if s.App == nil {
		return alCodeNone
	}
	var outl, inl int
	if sm := s.syncManager(2); sm.active {
		outl = int(sm.length)
	}
	if sm := s.syncManager(3); sm.active {
		inl = int(sm.length)
	}
	return s.App.Transition(from, to, outl, inl)
}

func (s *L2Slave) StationAddress() uint16 {
	return binary.LittleEndian.Uint16(s.BackingMemory[ecad.ConfiguredStationAddress:])
}

// returns true if interaction happened
func (s *L2Slave) llread8p(addr uint16, dp *uint8) bool {
	m := s.addrToMapping(addr)
	if m != nil {
		return m.Device().Read(addr-m.Start(), dp)
	}

	*dp = s.BackingMemory[addr]
	return true
}

// returns true if interaction happened.
func (s *L2Slave) llwrite8(addr uint16, d uint8) bool {
	m := s.addrToMapping(addr)
	if m != nil {
		s.shadow[addr] = d
		if !s.shadowWriteMask[addr] {
			s.shadowWriteMask[addr] = true
			s.dirty = append(s.dirty, addr)
		}
		return m.Device().WriteInteract(addr - m.Start())
	}

	s.BackingMemory[addr] = d
	return true
}

func (s *L2Slave) addrToMapping(addr uint16) MMapping {
	for _, m := range s.regMappings {
		start := int(m.Start())
		if int(addr) >= start && int(addr) < start+int(m.Length()) {
			return m
		}
	}

	return nil
}

func (s *L2Slave) ProcessFrame(infr *ecfr.Frame) (ofr *ecfr.Frame) {
	ofr = infr

	for _, dg := range infr.Datagrams {
		dga := ecfr.DatagramAddressFromCommand(dg.Addr32, dg.Command)
		switch {
		case dga.IsPhysical():
			s.processPhysical(dg, dga)
		case dga.Type() == ecfr.Logical:
			s.processLogical(dg)
		}
	}

	// latch register shadow into registers
	s.latchRegs()
	s.ALStatusControl.tick()
	s.runApplication()

	return
}

func (s *L2Slave) processPhysical(dg *ecfr.Datagram, dga ecfr.DatagramAddress) {
	physaddressed := s.isPhysicallyAdressed(dga)
	dga.IncrementSlaveAddr()
	dg.Addr32 = dga.Addr32()
	if !physaddressed {
		return
	}

	ct := dg.Command
	data := dg.Data()
	physbase := dga.Offset()

	var wdata []byte
	if ct.DoesWrite() {
		wdata = append([]byte(nil), data...)
	}

	readUnmasked := true
	if ct.DoesRead() {
		for i := range data {
			var b uint8
			readUnmasked = s.llread8p(physbase+uint16(i), &b) && readUnmasked
			if ct == ecfr.BRD || ct == ecfr.BRW {
				// broadcast reads OR the data of all slaves
				data[i] |= b
			} else {
				data[i] = b
			}
		}
	}

	writeUnmasked := true
	if ct.DoesWrite() {
		for i, b := range wdata {
			writeUnmasked = s.llwrite8(physbase+uint16(i), b) && writeUnmasked
		}
	}

	// working counter update logic
	switch {
	case ct.DoesRead() && ct.DoesWrite():
		if readUnmasked {
			dg.WorkingCounter++
		}
		if writeUnmasked {
			dg.WorkingCounter += 2
		}
	case ct.DoesRead():
		if readUnmasked {
			dg.WorkingCounter++
		}
	case ct.DoesWrite():
		if writeUnmasked {
			dg.WorkingCounter++
		}
	}
}

type fmmu struct {
	logStart  uint32
	length    uint16
	physStart uint16
	typ       uint8
	active    bool
}

func (s *L2Slave) fmmu(n int) fmmu {
	b := s.BackingMemory[ecad.FMMU(n):]
	return fmmu{
		logStart:  binary.LittleEndian.Uint32(b[ecad.FMMULogStartOffset:]),
		length:    binary.LittleEndian.Uint16(b[ecad.FMMULengthOffset:]),
		physStart: binary.LittleEndian.Uint16(b[ecad.FMMUPhysStartOffset:]),
		typ:       b[ecad.FMMUTypeOffset],
		active:    b[ecad.FMMUActivateOffset]&0x01 != 0,
	}
}

// processLogical moves data between the datagram and process memory for
// every active FMMU overlapping the datagram. Bit granular mappings are not
// simulated.
func (s *L2Slave) processLogical(dg *ecfr.Datagram) {
	ct := dg.Command
	data := dg.Data()
	la := dg.LogicalAddr()
	le := la + uint32(len(data))

	var wdata []byte
	if ct.DoesWrite() {
		wdata = append([]byte(nil), data...)
	}

	readHit, writeHit := false, false
	for i := 0; i < numFMMUs; i++ {
		f := s.fmmu(i)
		if !f.active || f.length == 0 {
			continue
		}

		lo, hi := f.logStart, f.logStart+uint32(f.length)
		if la > lo {
			lo = la
		}
		if le < hi {
			hi = le
		}
		if lo >= hi {
			continue
		}

		for a := lo; a < hi; a++ {
			di := a - la
			pa := f.physStart + uint16(a-f.logStart)
			if f.typ&ecad.FMMURead != 0 && ct.DoesRead() {
				var b uint8
				if s.llread8p(pa, &b) {
					data[di] = b
					readHit = true
				}
			}
			if f.typ&ecad.FMMUWrite != 0 && ct.DoesWrite() {
				if s.llwrite8(pa, wdata[di]) {
					writeHit = true
				}
			}
		}
	}

	if readHit {
		dg.WorkingCounter++
	}
	if writeHit {
		if ct.DoesRead() {
			dg.WorkingCounter += 2
		} else {
			dg.WorkingCounter++
		}
	}
}

func (s *L2Slave) latchRegs() {
	for _, m := range s.regMappings {
		start := int(m.Start())
		end := start + int(m.Length())
		if end > memLength {
			end = memLength
		}
		m.Device().Latch(s.shadow[start:end],
			s.shadowWriteMask[start:end])
	}

	for _, addr := range s.dirty {
		s.shadowWriteMask[addr] = false
	}
	s.dirty = s.dirty[:0]
}

func (s *L2Slave) runApplication() {
	if s.App == nil {
		return
	}

	var outputs, inputs []byte
	if sm := s.syncManager(2); sm.active {
		outputs = s.area(sm)
	}
	if sm := s.syncManager(3); sm.active {
		inputs = s.area(sm)
	}

	s.App.Cycle(s.ALStatusControl.State(), outputs, inputs)
}

func (s *L2Slave) area(sm syncManager) []byte {
	end := int(sm.start) + int(sm.length)
	if end > memLength {
		end = memLength
	}
	return s.BackingMemory[sm.start:end]
}

type syncManager struct {
	start   uint16
	length  uint16
	control uint8
	active  bool
}

func (s *L2Slave) syncManager(n int) syncManager {
	b := s.BackingMemory[ecad.SyncManager(n):]
	return syncManager{
		start:   binary.LittleEndian.Uint16(b[ecad.SyncManagerPhysStartAddrOffset:]),
		length:  binary.LittleEndian.Uint16(b[ecad.SyncManagerLengthOffset:]),
		control: b[ecad.SyncManagerControlOffset],
		active:  b[ecad.SyncManagerActivateOffset]&0x01 != 0,
	}
}

func (s *L2Slave) setSyncManagerStatus(n int, mask uint8, set bool) {
	a := ecad.SyncManager(n) + ecad.SyncManagerStatusOffset
	if set {
		s.BackingMemory[a] |= mask
	} else {
		s.BackingMemory[a] &^= mask
	}
}

func (s *L2Slave) isPhysicallyAdressed(addr ecfr.DatagramAddress) bool {
	switch addr.Type() {
	case ecfr.Broadcast:
		return true
	case ecfr.Positional:
		return addr.PositionOrAddress() == 0
	case ecfr.Fixed:
		return addr.PositionOrAddress() == s.StationAddress()
	}

	return false
}
