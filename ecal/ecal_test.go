package ecal

import (
	"context"
	"testing"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/distributed/ecatservo/master"
	"github.com/distributed/ecatservo/sim"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func newTestMaster(t *testing.T, drives int) (*Master, *sim.L2Bus, []*sim.Drive) {
	t.Helper()
	log, _ := test.NewNullLogger()
	bus, ds := sim.NewDriveBus(drives)
	cfg := DefaultConfig
	cfg.StatePollInterval = 0
	return New(bus, cfg, log), bus, ds
}

func escOf(bus *sim.L2Bus, k int) *sim.L2Slave {
	return bus.Slaves[k].(*sim.L2Slave)
}

func TestConfigureAddressesSlaves(t *testing.T) {
	m, bus, _ := newTestMaster(t, 3)

	n, err := m.Configure()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, m.Slaves(), 3)

	for k, s := range m.Slaves() {
		require.Equal(t, k+1, s.Index)
		require.EqualValues(t, FirstStationAddress+k, s.Station)
		require.Equal(t, s.Station, escOf(bus, k).StationAddress())
		require.EqualValues(t, k+1, s.Identity.Serial)
		require.EqualValues(t, 0x00100000, s.Identity.VendorID)
	}
}

func TestConfigureWithoutSlaves(t *testing.T) {
	m, _, _ := newTestMaster(t, 0)

	n, err := m.Configure()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestStateMachine(t *testing.T) {
	m, bus, _ := newTestMaster(t, 2)
	_, err := m.Configure()
	require.NoError(t, err)

	st, err := m.CheckState(0, ecad.StateInit, 0)
	require.NoError(t, err)
	require.Equal(t, ecad.StateInit, st)

	require.NoError(t, m.RequestState(0, ecad.StatePreOp))
	st, err = m.CheckState(0, ecad.StatePreOp, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, ecad.StatePreOp, st)

	// PRE-OP to OP skips SAFE-OP
	require.NoError(t, m.RequestState(2, ecad.StateOp))
	st, err = m.CheckState(2, ecad.StateOp, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, ecad.StatePreOp|ecad.StateErrorFlag, st)

	ss, err := m.ReadStates()
	require.NoError(t, err)
	require.Equal(t, []master.SlaveState{
		{Index: 1, State: ecad.StatePreOp},
		{Index: 2, State: ecad.StatePreOp | ecad.StateErrorFlag, ALStatusCode: 0x0011},
	}, ss)
	require.True(t, escOf(bus, 1).ALStatusControl.InError())

	// going down needs no acknowledge
	require.NoError(t, m.RequestState(0, ecad.StateInit))
	st, err = m.CheckState(0, ecad.StateInit, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, ecad.StateInit, st)
}

func TestCheckStateCountsMissingSlaves(t *testing.T) {
	m, bus, _ := newTestMaster(t, 2)
	_, err := m.Configure()
	require.NoError(t, err)

	// the second slave drops out of the line
	bus.Slaves = bus.Slaves[:1]
	st, err := m.CheckState(0, ecad.StateInit, 0)
	require.NoError(t, err)
	require.NotEqual(t, ecad.StateInit, st)
}

// wcMiss takes back the working counter a slave gave to the first misses
// datagrams for offset at its station.
type wcMiss struct {
	sim.FrameProcessor
	station uint16
	offset  uint16
	misses  int
}

func (w *wcMiss) ProcessFrame(f *ecfr.Frame) *ecfr.Frame {
	f = w.FrameProcessor.ProcessFrame(f)
	for _, dg := range f.Datagrams {
		a := ecfr.DatagramAddressFromCommand(dg.Addr32, dg.Command)
		if w.misses == 0 || a.Type() != ecfr.Fixed || a.PositionOrAddress() != w.station || a.Offset() != w.offset {
			continue
		}
		if dg.WorkingCounter > 0 {
			dg.WorkingCounter--
			w.misses--
		}
	}
	return f
}

func TestConfigureRepeatsMissedWorkingCounter(t *testing.T) {
	m, bus, _ := newTestMaster(t, 2)
	miss := &wcMiss{FrameProcessor: bus.Slaves[1], station: FirstStationAddress + 1, offset: ecad.SyncManager(0), misses: 1}
	bus.Slaves[1] = miss

	n, err := m.Configure()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Zero(t, miss.misses)

	miss.offset = ecad.ALStatus
	miss.misses = 1
	ss, err := m.ReadStates()
	require.NoError(t, err)
	require.Equal(t, []master.SlaveState{
		{Index: 1, State: ecad.StateInit},
		{Index: 2, State: ecad.StateInit},
	}, ss)
	require.Zero(t, miss.misses)
}

func TestConfigureWithoutWorkingCounterDeadline(t *testing.T) {
	log, _ := test.NewNullLogger()
	bus, _ := sim.NewDriveBus(2)
	bus.Slaves[1] = &wcMiss{FrameProcessor: bus.Slaves[1], station: FirstStationAddress + 1, offset: ecad.SyncManager(0), misses: 1}
	cfg := DefaultConfig
	cfg.FrameTimeout = 0
	m := New(bus, cfg, log)

	_, err := m.Configure()
	require.Error(t, err)
	require.True(t, ecmd.IsWorkingCounterError(err), "%v", err)
	require.Contains(t, err.Error(), "slave 2: mailbox")
}

func TestReadStatesListsSilentSlave(t *testing.T) {
	m, bus, _ := newTestMaster(t, 2)
	_, err := m.Configure()
	require.NoError(t, err)

	bus.Slaves = bus.Slaves[:1]
	ss, err := m.ReadStates()
	require.NoError(t, err)
	require.Equal(t, []master.SlaveState{
		{Index: 1, State: ecad.StateInit},
		{Index: 2, State: ecad.StateNone},
	}, ss)
}

func TestConfigureDC(t *testing.T) {
	m, bus, _ := newTestMaster(t, 2)
	_, err := m.Configure()
	require.NoError(t, err)

	require.NoError(t, m.ConfigureDC())
	for _, s := range m.Slaves() {
		require.True(t, s.DC)
	}

	esc := escOf(bus, 0)
	require.EqualValues(t, 0x03, esc.BackingMemory[ecad.DCActivation])
	require.EqualValues(t, 0, escOf(bus, 1).BackingMemory[ecad.DCActivation])
	require.NotZero(t, esc.BackingMemory[ecad.DCSystemTimeOffset+7])
}

func TestMapProcessData(t *testing.T) {
	m, bus, _ := newTestMaster(t, 2)
	_, err := m.Configure()
	require.NoError(t, err)

	_, err = m.MapProcessData(cia402.NewImage(3))
	require.Error(t, err)

	seg, err := m.MapProcessData(cia402.NewImage(2))
	require.NoError(t, err)
	require.Equal(t, 6, seg.ExpectedWKC())

	mem := escOf(bus, 1).BackingMemory[:]
	fmmu0 := mem[ecad.FMMU(0):]
	require.Equal(t, []byte{0x0f, 0x00, 0x01, 0x00}, fmmu0[:4])
	require.EqualValues(t, ecad.FMMUWrite, fmmu0[ecad.FMMUTypeOffset])
	fmmu1 := mem[ecad.FMMU(1):]
	require.Equal(t, []byte{0x16, 0x00, 0x01, 0x00}, fmmu1[:4])
	require.EqualValues(t, ecad.FMMURead, fmmu1[ecad.FMMUTypeOffset])
}

func TestExchangeLostFrame(t *testing.T) {
	m, bus, _ := newTestMaster(t, 1)
	_, err := m.Configure()
	require.NoError(t, err)
	_, err = m.MapProcessData(cia402.NewImage(1))
	require.NoError(t, err)

	bus.Lose = func(fr *ecfr.Frame) bool { return true }
	wkc, err := m.Exchange(cia402.NewImage(1).Bytes(), time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 0, wkc)
}

func TestObjectDictionaryOverMailbox(t *testing.T) {
	m, _, ds := newTestMaster(t, 2)
	_, err := m.Configure()
	require.NoError(t, err)
	require.NoError(t, m.RequestState(0, ecad.StatePreOp))

	od := m.ObjectDictionary()
	od.PollInterval = 0

	ack, err := od.Write(2, 0x6060, 0, []byte{8}, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, ack)
	require.Equal(t, []byte{8}, ds[1].Object(0x6060, 0))
	require.NotEqual(t, []byte{8}, ds[0].Object(0x6060, 0))

	d, ack, err := od.Read(2, 0x6060, 0, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, ack)
	require.Equal(t, []byte{8}, d)
}

func TestCoordinatorDrivesSimulatedNetwork(t *testing.T) {
	m, bus, ds := newTestMaster(t, 2)
	od := m.ObjectDictionary()
	od.PollInterval = 0

	opts := master.DefaultOptions()
	opts.Cycles = 50
	opts.CyclePeriod = 200 * time.Microsecond
	opts.BaseTimeout = 50 * time.Millisecond
	opts.ObjectTimeout = 50 * time.Millisecond

	log := logrus.New()
	log.SetOutput(testWriter{t})
	log.SetLevel(logrus.DebugLevel)

	c := master.NewCoordinator(m, od, opts, log)
	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Operational)
	require.Equal(t, 2, rep.Slaves)
	require.Equal(t, 6, rep.ExpectedWKC)
	require.Equal(t, 0, rep.ObjectWriteFailures)
	require.Equal(t, 50, rep.Stats.Cycles)
	require.Equal(t, 50, rep.Stats.Ok)

	for k, d := range ds {
		_, target, actual := d.Snapshot()
		start := int32(k+1) * 100000
		require.Less(t, actual, start, "drive %d", k)
		require.Equal(t, target, actual, "drive %d", k)
		require.Equal(t, ecad.StateInit, escOf(bus, k).ALStatusControl.State())
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
