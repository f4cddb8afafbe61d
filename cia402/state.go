package cia402

import "fmt"

// State is the CiA-402 device state decoded from a status word.
type State int

const (
	Unknown State = iota
	FaultReactionActive
	Fault
	SwitchOnDisabled
	ReadyToSwitchOn
	SwitchedOn
	OperationEnabled
	QuickStopActive
)

var stateName = map[State]string{
	Unknown:             "unknown",
	FaultReactionActive: "fault reaction active",
	Fault:               "fault",
	SwitchOnDisabled:    "switch on disabled",
	ReadyToSwitchOn:     "ready to switch on",
	SwitchedOn:          "switched on",
	OperationEnabled:    "operation enabled",
	QuickStopActive:     "quick stop active",
}

func (s State) String() string {
	if n, ok := stateName[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	statusFault     = 0x0008
	statusStateMask = 0x03ff
)

// Decode maps a status word to a device state. A set fault bit wins over
// every other bit.
func Decode(status uint16) State {
	if status&statusFault != 0 {
		if status&0x004f == 0x000f {
			return FaultReactionActive
		}
		return Fault
	}

	switch status & statusStateMask {
	case 0x0250, 0x0270:
		return SwitchOnDisabled
	case 0x0231:
		return ReadyToSwitchOn
	case 0x0233:
		return SwitchedOn
	case 0x0237:
		return OperationEnabled
	case 0x0217:
		return QuickStopActive
	}
	return Unknown
}

type ControlWord uint16

const (
	CtlIdle            ControlWord = 0x0000
	CtlShutdown        ControlWord = 0x0006
	CtlSwitchOn        ControlWord = 0x0007
	CtlEnableOperation ControlWord = 0x000f
	CtlFaultReset      ControlWord = 0x0080
)

// Command returns the control word that moves a drive in state s towards
// operation enabled. ok is false when the previous control word is to be
// kept.
func Command(s State) (cw ControlWord, ok bool) {
	switch s {
	case FaultReactionActive, Fault:
		return CtlFaultReset, true
	case SwitchOnDisabled:
		return CtlShutdown, true
	case ReadyToSwitchOn:
		return CtlSwitchOn, true
	case SwitchedOn:
		return CtlEnableOperation, true
	}
	return 0, false
}

// Advance decodes status and returns the next control word, previous if
// the state calls for no change.
func Advance(status uint16, previous ControlWord) ControlWord {
	if cw, ok := Command(Decode(status)); ok {
		return cw
	}
	return previous
}
