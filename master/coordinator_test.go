package master

import (
	"context"
	"testing"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecad"
	"github.com/stretchr/testify/require"
)

func testCoordinator(tr *fakeTransport, od *fakeOD) *Coordinator {
	log, _ := quietLogger()
	opts := DefaultOptions()
	opts.Cycles = 20
	opts.BaseTimeout = 10 * time.Millisecond
	c := NewCoordinator(tr, od, opts, log)
	c.Clock = newStepClock(100 * time.Microsecond)
	return c
}

func TestCoordinatorReachesOperational(t *testing.T) {
	tr := &fakeTransport{slaves: 2, wkc: 6, opAfter: 3}
	od := &fakeOD{}
	c := testCoordinator(tr, od)

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Operational)
	require.Equal(t, 2, rep.Slaves)
	require.Equal(t, 6, rep.ExpectedWKC)
	require.Equal(t, 20, rep.Stats.Cycles)
	require.Equal(t, 20, rep.Stats.Ok)
	require.Empty(t, rep.Stragglers)
	require.NotEmpty(t, rep.RunID)

	require.Equal(t, []ecad.ALState{
		ecad.StateInit,
		ecad.StatePreOp,
		ecad.StateSafeOp,
		ecad.StateOp,
		ecad.StateInit,
	}, tr.requests)
	require.Equal(t, []string{
		"request INIT", "configure", "dc", "request PRE_OP", "map",
		"request SAFE_OP", "request OPERATIONAL", "request INIT", "close",
	}, tr.log)

	// reset pulse, then mapping and mode for each drive
	require.Len(t, od.writes, 2+2*17)
	require.Equal(t, odWrite{1, 0x200d, 2, []byte{1, 0}}, od.writes[0])
	require.Equal(t, odWrite{1, 0x200d, 2, []byte{0, 0}}, od.writes[1])
	require.Equal(t, odWrite{2, 0x6060, 0, []byte{1}}, od.writes[len(od.writes)-1])

	for d := 0; d < tr.img.Drives(); d++ {
		drive := tr.img.Drive(d)
		// left idle after the run
		require.EqualValues(t, 0, drive.Control())
		require.Less(t, drive.Target(), int32(0))
	}
}

func TestCoordinatorNoSlaves(t *testing.T) {
	tr := &fakeTransport{slaves: 0}
	od := &fakeOD{}
	c := testCoordinator(tr, od)

	rep, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrNoSlaves)
	require.False(t, rep.Operational)
	require.Empty(t, od.writes)
	require.NotContains(t, tr.log, "map")
	require.Equal(t, 0, tr.exchanges)
	require.True(t, tr.closed)
	require.Equal(t, ecad.StateInit, tr.requests[len(tr.requests)-1])
}

func TestCoordinatorStrictTransitions(t *testing.T) {
	tr := &fakeTransport{slaves: 2, wkc: 6, stuck: map[ecad.ALState][]int{ecad.StatePreOp: {2}}}
	od := &fakeOD{}
	c := testCoordinator(tr, od)
	c.Options.StrictTransitions = true

	_, err := c.Run(context.Background())
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, ecad.StatePreOp, te.Target)
	require.Len(t, te.Stragglers, 1)
	require.Equal(t, 2, te.Stragglers[0].Index)
	require.EqualValues(t, 0x0011, te.Stragglers[0].ALStatusCode)
	require.Empty(t, od.writes)
	require.True(t, tr.closed)
}

func TestCoordinatorToleratesMissedTransition(t *testing.T) {
	tr := &fakeTransport{slaves: 2, wkc: 6, stuck: map[ecad.ALState][]int{ecad.StatePreOp: {2}}}
	od := &fakeOD{}
	c := testCoordinator(tr, od)

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Operational)
	require.NotEmpty(t, od.writes)
}

func TestCoordinatorOpNotReached(t *testing.T) {
	tr := &fakeTransport{slaves: 1, wkc: 3, opAfter: 1000}
	c := testCoordinator(tr, &fakeOD{})
	c.Options.OpPollAttempts = 5

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Operational)
	require.Equal(t, 0, rep.Stats.Cycles)
	require.Equal(t, 5, tr.opChecks)
	require.True(t, tr.closed)
}

func TestCoordinatorCountsFailedWrites(t *testing.T) {
	tr := &fakeTransport{slaves: 1, wkc: 3}
	od := &fakeOD{fail: func(w odWrite) bool { return w.index == 0x200d }}
	c := testCoordinator(tr, od)
	c.Options.ObjectAttempts = 3

	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.ObjectWriteFailures)
	require.True(t, rep.Operational)
	// both pulse values tried three times each
	require.Len(t, od.writes, 2*3+17)
}

func TestCoordinatorStopsOnLostExchange(t *testing.T) {
	tr := &fakeTransport{slaves: 1, wkc: 0}
	c := testCoordinator(tr, &fakeOD{})
	c.Options.Cycles = 5

	rep, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrExchangeLost)
	require.True(t, rep.Operational)
	require.Equal(t, 1, rep.Stats.Cycles)
	require.Equal(t, ecad.StateInit, tr.requests[len(tr.requests)-1])
}

func TestCoordinatorReadsBackMode(t *testing.T) {
	tr := &fakeTransport{slaves: 2, wkc: 6}
	od := &fakeOD{}
	c := testCoordinator(tr, od)
	log, hook := quietLogger()
	c.Log = log

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []odRead{{1, 0x6060, 0}, {2, 0x6060, 0}}, od.reads)
	// reads do not count as writes
	require.Len(t, od.writes, 2+2*17)

	var modes []interface{}
	for _, e := range hook.AllEntries() {
		if e.Message == "mode of operation read back" {
			modes = append(modes, e.Data["mode"])
		}
	}
	require.Equal(t, []interface{}{cia402.ModeProfilePosition, cia402.ModeProfilePosition}, modes)
}

func TestCoordinatorStopsBetweenPhases(t *testing.T) {
	tr := &fakeTransport{slaves: 2, wkc: 6}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	od := &fakeOD{fail: func(w odWrite) bool {
		cancel()
		return false
	}}
	c := testCoordinator(tr, od)

	rep, err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, rep.Operational)
	// the reset pulse is written, no slave is configured
	require.Len(t, od.writes, 2)
	require.Empty(t, od.reads)
	require.NotContains(t, tr.log, "map")
	require.Equal(t, []string{
		"request INIT", "configure", "dc", "request PRE_OP", "request INIT", "close",
	}, tr.log)
}

func TestCoordinatorCancelledBeforeConfigure(t *testing.T) {
	tr := &fakeTransport{slaves: 2, wkc: 6}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := testCoordinator(tr, &fakeOD{})

	_, err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"request INIT", "request INIT", "close"}, tr.log)
	require.Equal(t, 0, tr.exchanges)
}
