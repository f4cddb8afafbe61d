package ecal

import (
	"encoding/binary"
	"time"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// system time counts nanoseconds from here
var dcEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// SYNC0 starts this long after the distributed clocks are set
const syncStartDelay = 100 * time.Millisecond

// ConfigureDC aligns the system time of every slave that supports
// distributed clocks to the host clock and starts SYNC0 on the sync slave.
// Problems with single slaves do not stop the others, they come back
// combined.
func (m *Master) ConfigureDC() (err error) {
	var dc []Slave
	for i, s := range m.slaves {
		d, rerr := ecmd.ExecuteRead(m, ecfr.FixedAddress(s.Station, ecad.ESCFeaturesSupported), 2, 1)
		if rerr != nil {
			err = multierr.Append(err, errors.Wrapf(rerr, "slave %d: ESC features", s.Index))
			continue
		}
		m.slaves[i].DC = binary.LittleEndian.Uint16(d)&ecad.FeatureDC != 0
		if m.slaves[i].DC {
			dc = append(dc, m.slaves[i])
		}
	}
	if len(dc) == 0 {
		m.log.Info("no slave supports distributed clocks")
		return
	}

	// latch the receive times
	_, lerr := ecmd.Execute(m, ecfr.BWR, ecfr.BroadcastAddress(ecad.DCReceiveTime), make([]byte, 4), 4, ecmd.Options{})
	if lerr != nil {
		err = multierr.Append(err, errors.Wrap(lerr, "latch receive times"))
		return
	}

	sync := false
	for _, s := range dc {
		serr := m.alignClock(s)
		if serr != nil {
			err = multierr.Append(err, errors.Wrapf(serr, "slave %d", s.Index))
			continue
		}
		if s.Index == m.cfg.SyncSlave {
			serr = m.startSync0(s)
			if serr != nil {
				err = multierr.Append(err, errors.Wrapf(serr, "slave %d: SYNC0", s.Index))
				continue
			}
			sync = true
		}
	}

	m.log.WithField("dc_slaves", len(dc)).WithField("sync0", sync).Info("distributed clocks configured")
	return
}

func hostSystemTime() uint64 {
	return uint64(time.Since(dcEpoch))
}

func (m *Master) alignClock(s Slave) error {
	d, err := ecmd.ExecuteRead(m, ecfr.FixedAddress(s.Station, ecad.DCSystemTime), 8, 1)
	if err != nil {
		return errors.Wrap(err, "read system time")
	}
	local := binary.LittleEndian.Uint64(d)

	w := make([]byte, 8)
	binary.LittleEndian.PutUint64(w, hostSystemTime()-local)
	return errors.Wrap(ecmd.ExecuteWrite(m, ecfr.FixedAddress(s.Station, ecad.DCSystemTimeOffset), w, 1),
		"write system time offset")
}

func (m *Master) startSync0(s Slave) error {
	addr := func(offset uint16) ecfr.DatagramAddress {
		return ecfr.FixedAddress(s.Station, offset)
	}

	err := ecmd.ExecuteWrite(m, addr(ecad.DCActivation), []byte{0}, 1)
	if err != nil {
		return err
	}

	w := make([]byte, 4)
	binary.LittleEndian.PutUint32(w, uint32(m.cfg.SyncCycle))
	err = ecmd.ExecuteWrite(m, addr(ecad.DCSync0CycleTime), w, 1)
	if err != nil {
		return err
	}

	d, err := ecmd.ExecuteRead(m, addr(ecad.DCSystemTime), 8, 1)
	if err != nil {
		return err
	}
	w = make([]byte, 8)
	binary.LittleEndian.PutUint64(w, binary.LittleEndian.Uint64(d)+uint64(syncStartDelay))
	err = ecmd.ExecuteWrite(m, addr(ecad.DCSync0StartTime), w, 1)
	if err != nil {
		return err
	}

	// cyclic unit and SYNC0 on
	return ecmd.ExecuteWrite(m, addr(ecad.DCActivation), []byte{0x03}, 1)
}
