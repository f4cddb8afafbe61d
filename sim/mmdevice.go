package sim

// MMDevice is a piece of ESC logic behind a range of the slave's memory.
// Read and WriteInteract report whether the access counts for the working
// counter. Writes go to a shadow first and are handed to Latch once the
// whole frame went through the slave, together with a mask of the bytes
// that were written.
type MMDevice interface {
	Read(offs uint16, dp *uint8) bool
	WriteInteract(offs uint16) bool
	Latch(shadow []byte, shadowWriteMask []bool)
}

type MMapping interface {
	Start() uint16
	Length() uint16
	Device() MMDevice
}

type DevMapping struct {
	StartAddr   uint16
	LengthField uint16
	DeviceField MMDevice
}

func (d DevMapping) Start() uint16    { return d.StartAddr }
func (d DevMapping) Length() uint16   { return d.LengthField }
func (d DevMapping) Device() MMDevice { return d.DeviceField }

// smMapping follows the physical area a sync manager channel is configured
// to. It is empty while the channel is not activated.
type smMapping struct {
	s   *L2Slave
	n   int
	dev MMDevice
}

func (m smMapping) Start() uint16 {
	sm := m.s.syncManager(m.n)
	return sm.start
}

func (m smMapping) Length() uint16 {
	sm := m.s.syncManager(m.n)
	if !sm.active {
		return 0
	}
	return sm.length
}

func (m smMapping) Device() MMDevice { return m.dev }
