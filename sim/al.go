package sim

import (
	"github.com/distributed/ecatservo/ecad"
)

// AL status codes the simulated ESC reports.
const (
	alCodeNone               = 0x0000
	alCodeInvalidStateChange = 0x0011
	alCodeUnknownState       = 0x0012
	alCodeBootNotSupported   = 0x0013
)

// ALStatusControl is the application layer state machine of a slave.
// Requested transitions are checked against the EtherCAT state diagram and
// then offered to the transition hook, which may refuse them with an AL
// status code.
type ALStatusControl struct {
	Store   uint16 // AL status: state and error flag
	Code    uint16 // AL status code
	Control uint16 // last AL control written

	// number of frames a transition to OP takes
	OpDelay int

	// consulted for every valid transition, returns an AL status code
	Transition func(from, to ecad.ALState) uint16

	pending ecad.ALState
	delay   int
}

func NewALStatusControl() *ALStatusControl {
	return &ALStatusControl{Store: uint16(ecad.StateInit)}
}

func (a *ALStatusControl) State() ecad.ALState {
	return ecad.ALState(a.Store).Base()
}

func (a *ALStatusControl) InError() bool {
	return (a.Store & uint16(ecad.StateErrorFlag)) != 0
}

func (a *ALStatusControl) SetError(seterr bool) {
	if seterr {
		a.Store |= uint16(ecad.StateErrorFlag)
	} else {
		a.Store &^= uint16(ecad.StateErrorFlag)
	}
}

func (a *ALStatusControl) fail(code uint16) {
	a.SetError(true)
	a.Code = code
	a.pending = ecad.StateNone
}

func (a *ALStatusControl) setState(s ecad.ALState) {
	a.Store &^= 0x0f
	a.Store |= uint16(s)
	a.Code = alCodeNone
}

// request handles a write to AL control.
func (a *ALStatusControl) request(ctl uint8) {
	a.Control = uint16(ctl)
	to := ecad.ALState(ctl).Base()
	ack := ecad.ALState(ctl)&ecad.StateErrorFlag != 0
	from := a.State()

	if a.InError() {
		// going down is always possible, anything else needs the error
		// acknowledged
		if !ack && to >= from {
			return
		}
		a.SetError(false)
		a.Code = alCodeNone
	}

	if a.pending != ecad.StateNone {
		if to == a.pending {
			return
		}
		a.pending = ecad.StateNone
	}

	switch to {
	case ecad.StateInit, ecad.StatePreOp, ecad.StateSafeOp, ecad.StateOp:
	case ecad.StateBoot:
		a.fail(alCodeBootNotSupported)
		return
	default:
		a.fail(alCodeUnknownState)
		return
	}

	if to == from {
		return
	}

	if !validTransition(from, to) {
		a.fail(alCodeInvalidStateChange)
		return
	}

	if a.Transition != nil {
		if code := a.Transition(from, to); code != alCodeNone {
			a.fail(code)
			return
		}
	}

	if to == ecad.StateOp && a.OpDelay > 0 {
		a.pending = to
		a.delay = a.OpDelay
		return
	}

	a.pending = ecad.StateNone
	a.setState(to)
}

// tick advances a pending transition, called once per frame.
func (a *ALStatusControl) tick() {
	if a.pending == ecad.StateNone {
		return
	}
	a.delay--
	if a.delay <= 0 {
		a.setState(a.pending)
		a.pending = ecad.StateNone
	}
}

func validTransition(from, to ecad.ALState) bool {
	if to == ecad.StateInit {
		return true
	}
	switch from {
	case ecad.StateInit:
		return to == ecad.StatePreOp
	case ecad.StatePreOp:
		return to == ecad.StateSafeOp
	case ecad.StateSafeOp:
		return to == ecad.StatePreOp || to == ecad.StateOp
	case ecad.StateOp:
		return to == ecad.StatePreOp || to == ecad.StateSafeOp
	}
	return false
}

type ALControl struct{ *ALStatusControl }

func (sc *ALStatusControl) ControlReg() ALControl { return ALControl{sc} }

func (c ALControl) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		*dp = uint8(c.Control)
	case 1:
		*dp = uint8(c.Control >> 8)
	default:
		panic("invalid mapping for ALControl exceeds possible length")
	}

	return true
}

func (c ALControl) WriteInteract(offs uint16) bool {
	return true
}

func (c ALControl) Latch(shadow []byte, shadowWriteMask []bool) {
	if shadowWriteMask[0] {
		c.request(shadow[0])
	}
}

type ALStatus struct{ *ALStatusControl }

func (sc *ALStatusControl) StatusReg() ALStatus { return ALStatus{sc} }

func (s ALStatus) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		*dp = uint8(s.Store)
	case 1:
		*dp = uint8(s.Store >> 8)
	case 4:
		*dp = uint8(s.Code)
	case 5:
		*dp = uint8(s.Code >> 8)
	default:
		*dp = 0x00
	}
	return true
}

func (s ALStatus) WriteInteract(offs uint16) bool {
	return false
}

func (s ALStatus) Latch(shadow []byte, shadowWriteMask []bool) {}
