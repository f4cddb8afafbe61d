package sim

import (
	"encoding/binary"
	"sync"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecoe"
)

// Application is the firmware behind a simulated ESC.
type Application interface {
	// Transition is asked before the AL state changes. outputsLen and
	// inputsLen are the sizes of the process data areas configured in sync
	// managers 2 and 3. A non zero AL status code refuses the transition.
	Transition(from, to ecad.ALState, outputsLen, inputsLen int) uint16
	// Cycle runs after every frame.
	Cycle(state ecad.ALState, outputs, inputs []byte)

	Download(index uint16, subindex uint8, data []byte) uint32
	Upload(index uint16, subindex uint8) ([]byte, uint32)
}

// CiA-402 status words the drive reports.
const (
	StatusSwitchOnDisabled = 0x0250
	StatusReadyToSwitchOn  = 0x0231
	StatusSwitchedOn       = 0x0233
	StatusOperationEnabled = 0x0237
	StatusQuickStopActive  = 0x0217
	StatusFault            = 0x0218
)

const (
	alCodeInvalidOutputConfig = 0x001d
	alCodeInvalidInputConfig  = 0x001e
)

const modeCSP = 8

type objectKey struct {
	index    uint16
	subindex uint8
}

type object struct {
	data     []byte
	readOnly bool
}

type pdoEntry struct {
	index    uint16
	subindex uint8
	bits     uint8
}

// Drive is a CiA-402 servo drive supporting cyclic synchronous position
// mode. In CSP the actual position follows the target position.
type Drive struct {
	mu sync.Mutex

	Status    uint16
	Control   uint16
	Mode      int8
	Target    int32
	Actual    int32
	ErrorCode uint16

	// number of cycles the drive spent with outputs applied
	OpCycles int

	state       ecad.ALState
	lastControl uint16
	objects     map[objectKey]*object
	rx, tx      []pdoEntry
}

func NewDrive(actual int32) *Drive {
	d := &Drive{
		Status:  StatusSwitchOnDisabled,
		Actual:  actual,
		Target:  actual,
		state:   ecad.StateInit,
		objects: make(map[objectKey]*object),
	}

	d.define(0x1000, 0, 4, true, 0x00020192) // servo drive
	for _, idx := range []uint16{0x1600, 0x1a00} {
		d.define(idx, 0, 1, false, 0)
		for sub := uint8(1); sub <= 8; sub++ {
			d.define(idx, sub, 4, false, 0)
		}
	}
	for _, idx := range []uint16{0x1c12, 0x1c13} {
		d.define(idx, 0, 1, false, 0)
		d.define(idx, 1, 2, false, 0)
	}
	d.define(0x200d, 0, 1, true, 2)
	d.define(0x200d, 1, 2, false, 0)
	d.define(0x200d, 2, 2, false, 0)

	return d
}

func (d *Drive) define(index uint16, subindex uint8, size int, ro bool, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	d.objects[objectKey{index, subindex}] = &object{data: b[:size], readOnly: ro}
}

// Fault latches a drive fault with the given error code.
func (d *Drive) Fault(code uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Status = StatusFault
	d.ErrorCode = code
}

func (d *Drive) Snapshot() (status uint16, target, actual int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Status, d.Target, d.Actual
}

// Object returns the raw value of an entry of the object dictionary.
func (d *Drive) Object(index uint16, subindex uint8) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, _ := d.upload(index, subindex)
	return data
}

func (d *Drive) Transition(from, to ecad.ALState, outputsLen, inputsLen int) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if from == ecad.StatePreOp && to == ecad.StateSafeOp {
		d.rx = d.assigned(0x1c12)
		d.tx = d.assigned(0x1c13)
		if entriesLen(d.rx) != outputsLen {
			return alCodeInvalidOutputConfig
		}
		if entriesLen(d.tx) != inputsLen {
			return alCodeInvalidInputConfig
		}
	}

	if to < ecad.StateOp && d.Status&0x0008 == 0 {
		// outputs are gone, power stage goes off
		d.Status = StatusSwitchOnDisabled
	}

	d.state = to
	return alCodeNone
}

// assigned collects the entries of the PDOs assigned in a 0x1C12/0x1C13
// style object.
func (d *Drive) assigned(assign uint16) (entries []pdoEntry) {
	n := d.u(assign, 0)
	for i := uint32(1); i <= n; i++ {
		pdo := uint16(d.u(assign, uint8(i)))
		m := d.u(pdo, 0)
		for j := uint32(1); j <= m; j++ {
			e := d.u(pdo, uint8(j))
			entries = append(entries, pdoEntry{uint16(e >> 16), uint8(e >> 8), uint8(e)})
		}
	}
	return
}

func entriesLen(es []pdoEntry) int {
	n := 0
	for _, e := range es {
		n += int(e.bits) / 8
	}
	return n
}

func (d *Drive) u(index uint16, subindex uint8) uint32 {
	o, ok := d.objects[objectKey{index, subindex}]
	if !ok {
		return 0
	}
	var b [4]byte
	copy(b[:], o.data)
	return binary.LittleEndian.Uint32(b[:])
}

func (d *Drive) Cycle(state ecad.ALState, outputs, inputs []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state == ecad.StateOp && len(outputs) >= entriesLen(d.rx) {
		off := 0
		for _, e := range d.rx {
			b := outputs[off:]
			switch e.index {
			case 0x6060:
				d.Mode = int8(b[0])
			case 0x6040:
				d.Control = binary.LittleEndian.Uint16(b)
			case 0x607a:
				d.Target = int32(binary.LittleEndian.Uint32(b))
			}
			off += int(e.bits) / 8
		}
		d.step()
		d.OpCycles++
	}

	if state >= ecad.StateSafeOp && len(inputs) >= entriesLen(d.tx) {
		off := 0
		for _, e := range d.tx {
			b := inputs[off:]
			switch e.index {
			case 0x603f:
				binary.LittleEndian.PutUint16(b, d.ErrorCode)
			case 0x6041:
				binary.LittleEndian.PutUint16(b, d.Status)
			case 0x6061:
				b[0] = uint8(d.Mode)
			case 0x6064:
				binary.LittleEndian.PutUint32(b, uint32(d.Actual))
			}
			off += int(e.bits) / 8
		}
	}
}

// step runs the CiA-402 device state machine for the current control word.
func (d *Drive) step() {
	ctl := d.Control
	defer func() { d.lastControl = ctl }()

	switch {
	case d.Status&0x0008 != 0:
		// fault reset on the rising edge of bit 7
		if ctl&0x80 != 0 && d.lastControl&0x80 == 0 {
			d.Status = StatusSwitchOnDisabled
			d.ErrorCode = 0
		}
		return
	case ctl&0x02 == 0:
		d.Status = StatusSwitchOnDisabled
		return
	}

	switch d.Status {
	case StatusSwitchOnDisabled:
		if ctl&0x87 == 0x06 {
			d.Status = StatusReadyToSwitchOn
		}
	case StatusReadyToSwitchOn:
		if ctl&0x87 == 0x07 {
			d.Status = StatusSwitchedOn
		}
	case StatusSwitchedOn:
		switch {
		case ctl&0x8f == 0x0f:
			d.Status = StatusOperationEnabled
		case ctl&0x87 == 0x06:
			d.Status = StatusReadyToSwitchOn
		}
	case StatusOperationEnabled:
		switch {
		case ctl&0x86 == 0x02:
			d.Status = StatusQuickStopActive
		case ctl&0x8f == 0x07:
			d.Status = StatusSwitchedOn
		case ctl&0x87 == 0x06:
			d.Status = StatusReadyToSwitchOn
		}
	}

	if d.Status == StatusOperationEnabled && d.Mode == modeCSP {
		d.Actual = d.Target
	}
}

func (d *Drive) Download(index uint16, subindex uint8, data []byte) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch index {
	case 0x6060:
		if len(data) != 1 {
			return ecoe.AbortLengthMismatch
		}
		d.Mode = int8(data[0])
		return 0
	case 0x6040:
		if len(data) != 2 {
			return ecoe.AbortLengthMismatch
		}
		d.Control = binary.LittleEndian.Uint16(data)
		return 0
	case 0x607a:
		if len(data) != 4 {
			return ecoe.AbortLengthMismatch
		}
		d.Target = int32(binary.LittleEndian.Uint32(data))
		return 0
	case 0x603f, 0x6041, 0x6061, 0x6064:
		return ecoe.AbortWriteReadOnly
	}

	o, code := d.lookup(index, subindex)
	if code != 0 {
		return code
	}
	if o.readOnly {
		return ecoe.AbortWriteReadOnly
	}
	if len(data) != len(o.data) {
		return ecoe.AbortLengthMismatch
	}

	if isPDOObject(index) {
		if d.state != ecad.StatePreOp {
			return ecoe.AbortDeviceState
		}
		// entries only change while the count is zero
		if subindex != 0 && d.u(index, 0) != 0 {
			return ecoe.AbortDeviceState
		}
		if subindex == 0 && data[0] != 0 && !d.validCount(index, uint32(data[0])) {
			return ecoe.AbortParameterMismatch
		}
	}

	copy(o.data, data)

	// vendor specific fault latch reset
	if index == 0x200d && subindex == 2 && data[0] == 1 && d.Status&0x0008 != 0 {
		d.Status = StatusSwitchOnDisabled
		d.ErrorCode = 0
	}
	return 0
}

func isPDOObject(index uint16) bool {
	return index == 0x1600 || index == 0x1a00 || index == 0x1c12 || index == 0x1c13
}

// validCount checks that the first n entries of a PDO or assignment object
// are usable.
func (d *Drive) validCount(index uint16, n uint32) bool {
	for i := uint32(1); i <= n; i++ {
		v := d.u(index, uint8(i))
		switch index {
		case 0x1c12:
			if v != 0x1600 {
				return false
			}
		case 0x1c13:
			if v != 0x1a00 {
				return false
			}
		case 0x1600:
			if !mappable(v, rxMappable) {
				return false
			}
		case 0x1a00:
			if !mappable(v, txMappable) {
				return false
			}
		}
	}
	return true
}

var rxMappable = map[uint16]uint8{0x6060: 8, 0x6040: 16, 0x607a: 32}
var txMappable = map[uint16]uint8{0x603f: 16, 0x6041: 16, 0x6061: 8, 0x6064: 32}

func mappable(entry uint32, objs map[uint16]uint8) bool {
	bits, ok := objs[uint16(entry>>16)]
	return ok && uint8(entry>>8) == 0 && uint8(entry) == bits
}

func (d *Drive) lookup(index uint16, subindex uint8) (*object, uint32) {
	o, ok := d.objects[objectKey{index, subindex}]
	if ok {
		return o, 0
	}
	if _, ok := d.objects[objectKey{index, 0}]; ok {
		return nil, ecoe.AbortSubindexMissing
	}
	return nil, ecoe.AbortObjectMissing
}

func (d *Drive) Upload(index uint16, subindex uint8) ([]byte, uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upload(index, subindex)
}

func (d *Drive) upload(index uint16, subindex uint8) ([]byte, uint32) {
	b := make([]byte, 4)
	switch index {
	case 0x603f:
		binary.LittleEndian.PutUint16(b, d.ErrorCode)
		return b[:2], 0
	case 0x6040:
		binary.LittleEndian.PutUint16(b, d.Control)
		return b[:2], 0
	case 0x6041:
		binary.LittleEndian.PutUint16(b, d.Status)
		return b[:2], 0
	case 0x6060, 0x6061:
		return []byte{uint8(d.Mode)}, 0
	case 0x6064:
		binary.LittleEndian.PutUint32(b, uint32(d.Actual))
		return b, 0
	case 0x607a:
		binary.LittleEndian.PutUint32(b, uint32(d.Target))
		return b, 0
	}

	o, code := d.lookup(index, subindex)
	if code != 0 {
		return nil, code
	}
	return append([]byte(nil), o.data...), 0
}
