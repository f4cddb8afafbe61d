// Package ecal is the application layer side of a master: it finds and
// addresses the slaves, drives their AL state machines, sets up mailboxes,
// process data and distributed clocks, and exchanges the process image.
package ecal

import (
	"encoding/binary"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecee"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/distributed/ecatservo/ecoe"
	"github.com/distributed/ecatservo/master"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	FirstStationAddress = 0x1001

	// process data sync manager buffers in slave memory
	OutputsStart = 0x1100
	InputsStart  = 0x1400
)

type Config struct {
	// start of the process image in the logical address space
	LogicalBase uint32
	Mailbox     ecoe.Mailbox

	// frame timeout for everything but the cyclic exchange
	FrameTimeout      time.Duration
	StatePollInterval time.Duration

	// slave generating SYNC0, 0 disables it
	SyncSlave int
	SyncCycle time.Duration
}

var DefaultConfig = Config{
	LogicalBase:       0x00010000,
	Mailbox:           ecoe.DefaultMailbox,
	FrameTimeout:      10 * time.Millisecond,
	StatePollInterval: time.Millisecond,
	SyncSlave:         1,
	SyncCycle:         5 * time.Millisecond,
}

// Slave is what configuration learned about one slave.
type Slave struct {
	Index    int
	Station  uint16
	Identity ecee.Identity
	DC       bool
}

// TimeoutSetter is implemented by framers whose receive window can be
// changed between cycles.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
}

// Master implements master.Transport on top of a link layer framer.
type Master struct {
	framer ecmd.Framer
	c      *ecmd.CommandFramer
	cfg    Config
	log    logrus.FieldLogger

	timeout time.Duration
	slaves  []Slave
}

var _ master.Transport = (*Master)(nil)

func New(framer ecmd.Framer, cfg Config, log logrus.FieldLogger) *Master {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Master{
		framer: framer,
		c:      ecmd.NewCommandFramer(framer),
		cfg:    cfg,
		log:    log,
	}
}

// Commander gives access to the command layer, e.g. for mailbox clients.
func (m *Master) Commander() ecmd.Commander { return m.c }

func (m *Master) Slaves() []Slave { return m.slaves }

// Station returns the configured station address of slave, counting from 1.
func (m *Master) Station(slave int) uint16 {
	return uint16(FirstStationAddress + slave - 1)
}

// ObjectDictionary returns an SDO client for the configured slaves.
func (m *Master) ObjectDictionary() *ecoe.Client {
	return ecoe.NewClient(m, m.cfg.Mailbox, m.Station, m.log)
}

// New, Cycle and Close make the master an ecmd.Commander that keeps the
// acyclic frame timeout in place.
func (m *Master) New(datalen int) (*ecmd.ExecutingCommand, error) {
	return m.c.New(datalen)
}

func (m *Master) Cycle() error {
	m.setTimeout(m.cfg.FrameTimeout)
	return m.c.Cycle()
}

func (m *Master) setTimeout(d time.Duration) {
	if d == m.timeout {
		return
	}
	if ts, ok := m.framer.(TimeoutSetter); ok {
		ts.SetTimeout(d)
	}
	m.timeout = d
}

func (m *Master) Close() error {
	return m.c.Close()
}

func (m *Master) Configure() (n int, err error) {
	m.slaves = nil

	ec, err := ecmd.Execute(m, ecfr.BRD, ecfr.BroadcastAddress(ecad.Type), nil, 1, ecmd.Options{})
	if err != nil {
		err = errors.Wrap(err, "count slaves")
		return
	}
	n = int(ec.DatagramIn.WorkingCounter)
	if n == 0 {
		return
	}

	for k := 0; k < n; k++ {
		s := Slave{Index: k + 1, Station: m.Station(k + 1)}

		addr := ecfr.PositionalAddress(uint16(k), ecad.ConfiguredStationAddress)
		err = ecmd.ExecuteWriteOptions(m, addr, le16(s.Station), 1, m.wcOptions())
		if err != nil {
			err = errors.Wrapf(err, "slave %d: set station address", s.Index)
			return
		}

		err = m.setupMailbox(s.Station)
		if err != nil {
			err = errors.Wrapf(err, "slave %d: mailbox", s.Index)
			return
		}

		s.Identity, err = m.identity(s.Station)
		if err != nil {
			m.log.WithError(err).WithField("slave", s.Index).Warn("reading identity")
			err = nil
		} else {
			m.log.WithFields(logrus.Fields{
				"slave":    s.Index,
				"station":  s.Station,
				"vendor":   s.Identity.VendorID,
				"product":  s.Identity.ProductCode,
				"revision": s.Identity.Revision,
				"serial":   s.Identity.Serial,
			}).Info("slave identity")
		}

		m.slaves = append(m.slaves, s)
	}

	return
}

func (m *Master) identity(station uint16) (id ecee.Identity, err error) {
	ee, err := ecee.New(m, ecfr.FixedAddress(station, 0))
	if err != nil {
		return
	}
	defer ee.Close()
	return ecee.ReadIdentity(ee)
}

// syncManager encodes one sync manager channel.
func syncManager(start, length uint16, control uint8) []byte {
	b := make([]byte, ecad.SyncManagerChannelLen)
	binary.LittleEndian.PutUint16(b[ecad.SyncManagerPhysStartAddrOffset:], start)
	binary.LittleEndian.PutUint16(b[ecad.SyncManagerLengthOffset:], length)
	b[ecad.SyncManagerControlOffset] = control
	b[ecad.SyncManagerActivateOffset] = 0x01
	return b
}

func (m *Master) setupMailbox(station uint16) error {
	mbx := m.cfg.Mailbox
	w := append(
		syncManager(mbx.OutStart, mbx.OutLen, ecad.SMControlMailboxOut),
		syncManager(mbx.InStart, mbx.InLen, ecad.SMControlMailboxIn)...)
	return ecmd.ExecuteWriteOptions(m, ecfr.FixedAddress(station, ecad.SyncManager(0)), w, 1, m.wcOptions())
}

// wcOptions lets a command repeat for one frame timeout until the working
// counter is right.
func (m *Master) wcOptions() ecmd.Options {
	return ecmd.Options{WCDeadline: time.Now().Add(m.cfg.FrameTimeout)}
}

// MapProcessData gives every slave a window of cia402.Stride bytes in the
// logical address space: outputs first, then inputs.
func (m *Master) MapProcessData(img *cia402.Image) (seg master.Segments, err error) {
	if img.Drives() != len(m.slaves) {
		err = errors.Errorf("image holds %d drives, network has %d slaves", img.Drives(), len(m.slaves))
		return
	}

	for k, s := range m.slaves {
		w := append(
			syncManager(OutputsStart, cia402.OutputsLen, ecad.SMControlOutputs),
			syncManager(InputsStart, cia402.InputsLen, ecad.SMControlInputs)...)
		err = ecmd.ExecuteWriteOptions(m, ecfr.FixedAddress(s.Station, ecad.SyncManager(2)), w, 1, m.wcOptions())
		if err != nil {
			err = errors.Wrapf(err, "slave %d: process data sync managers", s.Index)
			return
		}

		logical := m.cfg.LogicalBase + uint32(k*cia402.Stride)
		w = append(
			fmmu(logical, cia402.OutputsLen, OutputsStart, ecad.FMMUWrite),
			fmmu(logical+cia402.OutputsLen, cia402.InputsLen, InputsStart, ecad.FMMURead)...)
		err = ecmd.ExecuteWriteOptions(m, ecfr.FixedAddress(s.Station, ecad.FMMU(0)), w, 1, m.wcOptions())
		if err != nil {
			err = errors.Wrapf(err, "slave %d: FMMUs", s.Index)
			return
		}
	}

	seg = master.Segments{OutputsWKC: len(m.slaves), InputsWKC: len(m.slaves)}
	return
}

func fmmu(logical uint32, length uint16, phys uint16, typ uint8) []byte {
	b := make([]byte, ecad.FMMUChannelLen)
	binary.LittleEndian.PutUint32(b[ecad.FMMULogStartOffset:], logical)
	binary.LittleEndian.PutUint16(b[ecad.FMMULengthOffset:], length)
	b[ecad.FMMULogEndBit] = 7
	binary.LittleEndian.PutUint16(b[ecad.FMMUPhysStartOffset:], phys)
	b[ecad.FMMUTypeOffset] = typ
	b[ecad.FMMUActivateOffset] = 0x01
	return b
}

// Exchange sends the image as one LRW and copies what came back into buf.
// A lost frame is reported as working counter 0.
func (m *Master) Exchange(buf []byte, timeout time.Duration) (int, error) {
	m.setTimeout(timeout)

	ec, err := m.c.New(len(buf))
	if err != nil {
		return 0, err
	}
	dgo := ec.DatagramOut
	if err = dgo.SetDataLen(len(buf)); err != nil {
		return 0, err
	}
	copy(dgo.Data(), buf)
	dgo.Command = ecfr.LRW
	dgo.Addr32 = m.cfg.LogicalBase

	if err = m.c.Cycle(); err != nil {
		return 0, err
	}
	if !ec.Arrived {
		return 0, nil
	}
	if err = ecmd.ChooseDefaultError(ec); err != nil {
		return 0, err
	}

	copy(buf, ec.DatagramIn.Data())
	return int(ec.DatagramIn.WorkingCounter), nil
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
