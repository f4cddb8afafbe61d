package cia402

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriveAdvanceAndJog(t *testing.T) {
	img := NewImage(1)
	d := img.Drive(0)
	d.SetTarget(77)

	steps := []struct {
		status uint16
		actual int32
		cw     ControlWord
		target int32
	}{
		{0x0231, 5000, CtlSwitchOn, 5000},
		{0x0233, 5000, CtlEnableOperation, 5000 - DefaultJogStep},
		{0x0237, 2000, CtlEnableOperation, 5000 - 2*DefaultJogStep},
	}

	for i, s := range steps {
		d.SetStatus(s.status)
		d.SetActual(s.actual)
		cw := d.Advance()
		d.Jog(DefaultJogStep)
		require.Equal(t, s.cw, cw, "cycle %d", i)
		require.Equal(t, s.cw, d.Control(), "cycle %d", i)
		require.Equal(t, s.target, d.Target(), "cycle %d", i)
	}
}

func TestDriveFaultResetDoesNotMove(t *testing.T) {
	img := NewImage(1)
	d := img.Drive(0)
	d.SetTarget(10)
	d.SetStatus(0x0218)

	require.Equal(t, CtlFaultReset, d.Advance())
	d.Jog(DefaultJogStep)
	require.Equal(t, int32(10), d.Target())
}
