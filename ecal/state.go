package ecal

import (
	"encoding/binary"
	"time"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/distributed/ecatservo/master"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// RequestState writes target to AL control of slave, or of all slaves when
// slave is 0.
func (m *Master) RequestState(slave int, target ecad.ALState) error {
	w := []byte{uint8(target), 0}
	if slave == 0 {
		// slaves that are not counted yet still take the broadcast
		_, err := ecmd.Execute(m, ecfr.BWR, ecfr.BroadcastAddress(ecad.ALControl), w, len(w), ecmd.Options{})
		return errors.Wrapf(err, "request %v", target)
	}
	err := ecmd.ExecuteWrite(m, ecfr.FixedAddress(m.Station(slave), ecad.ALControl), w, 1)
	return errors.Wrapf(err, "slave %d: request %v", slave, target)
}

// CheckState polls AL status until slave, or every slave when slave is 0,
// reports target or timeout passes. The status is read at least once. For
// slave 0 the returned state is the OR of all slaves' states and only counts
// when every slave answered.
func (m *Master) CheckState(slave int, target ecad.ALState, timeout time.Duration) (st ecad.ALState, err error) {
	deadline := time.Now().Add(timeout)
	for {
		st, err = m.readState(slave)
		if err == nil && st == target {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		if m.cfg.StatePollInterval > 0 {
			time.Sleep(m.cfg.StatePollInterval)
		}
	}
}

func (m *Master) readState(slave int) (ecad.ALState, error) {
	addr := ecfr.BroadcastAddress(ecad.ALStatus)
	expwc := len(m.slaves)
	if slave != 0 {
		addr = ecfr.FixedAddress(m.Station(slave), ecad.ALStatus)
		expwc = 1
	}

	ec, err := ecmd.Execute(m, addr.ReadCommand(), addr, nil, 2, ecmd.Options{})
	if err != nil {
		return ecad.StateNone, err
	}
	st := ecad.ALState(ec.DatagramIn.Data()[0])
	if expwc > 0 && int(ec.DatagramIn.WorkingCounter) < expwc {
		// someone did not answer, that cannot be the state asked for
		st &^= 0x0f
	}
	return st, nil
}

// ReadStates reads AL status and AL status code of every configured slave.
// Slaves that do not answer are listed with StateNone.
func (m *Master) ReadStates() (ss []master.SlaveState, err error) {
	for _, s := range m.slaves {
		state := master.SlaveState{Index: s.Index}

		d, rerr := ecmd.ExecuteReadOptions(m, ecfr.FixedAddress(s.Station, ecad.ALStatus), 6, 1, m.wcOptions())
		switch {
		case ecmd.IsWorkingCounterError(rerr):
			m.log.WithField("slave", s.Index).Debug("no AL status")
		case rerr != nil:
			err = multierr.Append(err, errors.Wrapf(rerr, "slave %d", s.Index))
		default:
			state.State = ecad.ALState(d[0])
			state.ALStatusCode = binary.LittleEndian.Uint16(d[ecad.ALStatusCode-ecad.ALStatus:])
		}

		ss = append(ss, state)
	}
	return
}
