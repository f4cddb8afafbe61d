package master

import (
	"context"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stats summarises a cyclic run.
type Stats struct {
	Cycles   int
	Ok       int
	Degraded int
	// ticks started more than one period late; the schedule was reset
	Overruns int
	LastWKC  int
	Duration time.Duration
}

// Engine runs the fixed period process data loop. It owns the image for
// the duration of Run.
type Engine struct {
	Exchanger       Exchanger
	Image           *cia402.Image
	Clock           Clock
	Period          time.Duration
	Cycles          int
	ExchangeTimeout time.Duration
	ExpectedWKC     int
	JogStep         int32
	Log             logrus.FieldLogger
}

// Run does up to Cycles iterations of: wait for the deadline, rearm it,
// advance and jog every drive, exchange, classify. A failed exchange ends
// the run with ErrExchangeLost, a cancelled ctx with ctx.Err().
func (e *Engine) Run(ctx context.Context) (st Stats, err error) {
	start := e.Clock.Now()
	defer func() {
		st.Duration = e.Clock.Now().Sub(start)
	}()

	deadline := start.Add(e.Period)
	last := Ok

	for i := 0; i < e.Cycles; i++ {
		err = e.wait(ctx, deadline)
		if err != nil {
			return
		}

		now := e.Clock.Now()
		deadline = deadline.Add(e.Period)
		if now.After(deadline) {
			st.Overruns++
			deadline = now.Add(e.Period)
		}

		for d := 0; d < e.Image.Drives(); d++ {
			drive := e.Image.Drive(d)
			drive.Advance()
			drive.Jog(e.JogStep)
		}

		wkc, xerr := e.Exchanger.Exchange(e.Image.Bytes(), e.ExchangeTimeout)
		st.Cycles++
		st.LastWKC = wkc

		h := Classify(wkc, e.ExpectedWKC)
		if xerr != nil {
			h = Failed
		}

		switch h {
		case Ok:
			st.Ok++
		case Degraded:
			st.Degraded++
			if last != Degraded {
				e.Log.WithFields(logrus.Fields{
					"cycle":    st.Cycles,
					"wkc":      wkc,
					"expected": e.ExpectedWKC,
				}).Warn("exchange degraded")
			}
		case Failed:
			err = errors.Wrapf(ErrExchangeLost, "cycle %d, wkc %d", st.Cycles, wkc)
			if xerr != nil {
				err = errors.Wrapf(ErrExchangeLost, "cycle %d: %v", st.Cycles, xerr)
			}
			return
		}
		if h != last && last == Degraded {
			e.Log.WithField("cycle", st.Cycles).Info("exchange recovered")
		}
		last = h
	}

	return
}

// wait spins until deadline passes. It never sleeps.
func (e *Engine) wait(ctx context.Context, deadline time.Time) error {
	done := ctx.Done()
	for e.Clock.Now().Before(deadline) {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
	}
	select {
	case <-done:
		return ctx.Err()
	default:
	}
	return nil
}
