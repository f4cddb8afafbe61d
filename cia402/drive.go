package cia402

// Mode is the mode of operation, object 0x6060.
type Mode int8

const (
	ModeNone                      Mode = 0
	ModeProfilePosition           Mode = 1
	ModeCyclicSynchronousPosition Mode = 8
)

const DefaultJogStep = 3000

// Advance runs the state machine for this drive and writes the resulting
// control word.
func (d Drive) Advance() ControlWord {
	cw := Advance(d.Status(), d.Control())
	d.SetControl(cw)
	return cw
}

// Jog moves the target for the control word just written: switch on holds
// the current position, enable operation steps the target down by step.
func (d Drive) Jog(step int32) {
	switch d.Control() {
	case CtlSwitchOn:
		d.SetTarget(d.Actual())
	case CtlEnableOperation:
		d.SetTarget(d.Target() - step)
	}
}

// State decodes the status word last received.
func (d Drive) State() State {
	return Decode(d.Status())
}
