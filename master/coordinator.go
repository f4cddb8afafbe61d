package master

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/pdomap"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type Options struct {
	BaseTimeout     time.Duration
	CyclePeriod     time.Duration
	Cycles          int
	ExchangeTimeout time.Duration

	OpPollAttempts int
	OpPollInterval time.Duration

	ObjectAttempts int
	ObjectTimeout  time.Duration

	// the drive whose fault latch is pulsed before mapping
	ResetSlave    int
	ResetIndex    uint16
	ResetSubindex uint8

	InitialMode cia402.Mode
	JogStep     int32

	// missing PreOp or SafeOp aborts the startup when set
	StrictTransitions bool

	Table pdomap.Table
}

func DefaultOptions() Options {
	return Options{
		BaseTimeout:     2 * time.Second,
		CyclePeriod:     time.Millisecond,
		Cycles:          10000,
		ExchangeTimeout: 2 * time.Millisecond,
		OpPollAttempts:  200,
		OpPollInterval:  2 * time.Millisecond,
		ObjectAttempts:  pdomap.DefaultAttempts,
		ObjectTimeout:   pdomap.DefaultTimeout,
		ResetSlave:      1,
		ResetIndex:      0x200d,
		ResetSubindex:   0x02,
		InitialMode:     cia402.ModeProfilePosition,
		JogStep:         cia402.DefaultJogStep,
		Table:           pdomap.CSP,
	}
}

// Report is what a run of the coordinator found and did.
type Report struct {
	RunID       string
	Slaves      int
	ExpectedWKC int
	Operational bool
	// slaves that missed the last state that was not reached
	Stragglers          []SlaveState
	ObjectWriteFailures int
	Stats               Stats
	Duration            time.Duration
}

// Coordinator brings the network from Init to Op, runs the cyclic phase
// and always returns the network to Init.
type Coordinator struct {
	Transport Transport
	OD        ObjectDictionary
	Clock     Clock
	Options   Options
	Log       logrus.FieldLogger
	RunID     string
}

func NewCoordinator(t Transport, od ObjectDictionary, opts Options, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		Transport: t,
		OD:        od,
		Clock:     SystemClock{},
		Options:   opts,
		Log:       log,
		RunID:     uuid.NewString(),
	}
}

// Run brings the network to Op and runs the cyclic phase. ctx is checked
// between phases. The network is returned to Init in any case.
func (c *Coordinator) Run(ctx context.Context) (rep Report, err error) {
	o := c.Options
	log := c.Log.WithField("run", c.RunID)
	rep.RunID = c.RunID
	start := c.Clock.Now()

	var img *cia402.Image
	mapped := false
	defer func() {
		err = multierr.Append(err, c.shutdown(log, img, mapped))
		rep.Duration = c.Clock.Now().Sub(start)
		log.WithField("duration", rep.Duration).Info("transport closed")
	}()

	err = o.Table.Verify()
	if err != nil {
		err = errors.Wrap(err, "process data mapping table")
		return
	}

	log.Info("request init state for all slaves")
	c.request(log, ecad.StateInit)
	c.await(log, &rep, ecad.StateInit, 3*o.BaseTimeout)
	if err = ctx.Err(); err != nil {
		return
	}

	n, cerr := c.Transport.Configure()
	if cerr != nil {
		err = multierr.Combine(ErrNoSlaves, errors.Wrap(cerr, "configure"))
		return
	}
	if n <= 0 {
		err = ErrNoSlaves
		return
	}
	rep.Slaves = n
	img = cia402.NewImage(n)
	img.Idle()
	log.WithFields(logrus.Fields{"slaves": n, "elapsed": c.Clock.Now().Sub(start)}).Info("slaves found and configured")

	if derr := c.Transport.ConfigureDC(); derr != nil {
		for _, e := range multierr.Errors(derr) {
			log.WithError(e).Warn("distributed clock configuration")
		}
	}
	if err = ctx.Err(); err != nil {
		return
	}

	log.Info("request pre-op state for all slaves")
	c.request(log, ecad.StatePreOp)
	if !c.await(log, &rep, ecad.StatePreOp, 3*o.BaseTimeout) && o.StrictTransitions {
		err = &TransitionError{ecad.StatePreOp, rep.Stragglers}
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	w := pdomap.NewWriter(c.OD, log)
	w.Attempts = o.ObjectAttempts
	w.Timeout = o.ObjectTimeout

	// fault latch reset pulse
	for _, v := range []uint16{1, 0} {
		c.objectFailure(log, &rep, w.WriteU16(o.ResetSlave, o.ResetIndex, o.ResetSubindex, v))
	}

	for slave := 1; slave <= n; slave++ {
		if err = ctx.Err(); err != nil {
			return
		}
		c.objectFailure(log, &rep, w.Configure(slave, o.Table))
		c.objectFailure(log, &rep, w.WriteU8(slave, 0x6060, 0, uint8(o.InitialMode)))
		c.modeReadBack(log, w, slave)
	}
	if err = ctx.Err(); err != nil {
		return
	}

	seg, merr := c.Transport.MapProcessData(img)
	if merr != nil {
		err = errors.Wrap(merr, "map process data")
		return
	}
	mapped = true

	log.Info("request safe-op state for all slaves")
	c.request(log, ecad.StateSafeOp)
	rep.ExpectedWKC = seg.ExpectedWKC()
	log.WithField("expected_wkc", rep.ExpectedWKC).Info("calculated working counter")
	if !c.await(log, &rep, ecad.StateSafeOp, 3*o.BaseTimeout) && o.StrictTransitions {
		err = &TransitionError{ecad.StateSafeOp, rep.Stragglers}
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	img.SetMode(cia402.ModeCyclicSynchronousPosition)
	// one valid exchange before Op, drives refuse Op on stale outputs
	wkc, xerr := c.Transport.Exchange(img.Bytes(), 3*o.ExchangeTimeout)
	log.WithFields(logrus.Fields{"wkc": wkc, "error": xerr}).Debug("priming exchange")

	log.Info("request operational state for all slaves")
	c.request(log, ecad.StateOp)
	reached := false
	for i := 0; i < o.OpPollAttempts && !reached; i++ {
		if err = ctx.Err(); err != nil {
			return
		}
		for d := 0; d < img.Drives(); d++ {
			img.Drive(d).Advance()
		}
		wkc, xerr = c.Transport.Exchange(img.Bytes(), o.ExchangeTimeout)
		if xerr != nil {
			log.WithError(xerr).Debug("exchange while waiting for op")
		}
		st, serr := c.Transport.CheckState(0, ecad.StateOp, o.OpPollInterval)
		reached = serr == nil && st == ecad.StateOp
	}

	if !reached {
		rep.Stragglers = c.stragglers(log, ecad.StateOp)
		log.Warn("not all slaves reached operational state")
		return
	}
	rep.Stragglers = nil
	rep.Operational = true
	log.Info("operational state reached for all slaves")

	e := &Engine{
		Exchanger:       c.Transport,
		Image:           img,
		Clock:           c.Clock,
		Period:          o.CyclePeriod,
		Cycles:          o.Cycles,
		ExchangeTimeout: o.ExchangeTimeout,
		ExpectedWKC:     rep.ExpectedWKC,
		JogStep:         o.JogStep,
		Log:             log,
	}
	rep.Stats, err = e.Run(ctx)
	log.WithFields(logrus.Fields{
		"cycles":   rep.Stats.Cycles,
		"degraded": rep.Stats.Degraded,
		"overruns": rep.Stats.Overruns,
	}).Info("cyclic phase done")
	return
}

func (c *Coordinator) request(log logrus.FieldLogger, target ecad.ALState) {
	if err := c.Transport.RequestState(0, target); err != nil {
		log.WithError(err).WithField("state", target).Warn("state request")
	}
}

// await checks that all slaves reach target and lists the ones that did
// not. The result is a diagnostic, the caller decides whether to go on.
func (c *Coordinator) await(log logrus.FieldLogger, rep *Report, target ecad.ALState, timeout time.Duration) bool {
	st, err := c.Transport.CheckState(0, target, timeout)
	if err == nil && st == target {
		rep.Stragglers = nil
		return true
	}
	if err != nil {
		log.WithError(err).WithField("state", target).Warn("state check")
	}
	log.Warnf("not all slaves reached %v", target)
	rep.Stragglers = c.stragglers(log, target)
	return false
}

func (c *Coordinator) stragglers(log logrus.FieldLogger, target ecad.ALState) (out []SlaveState) {
	states, err := c.Transport.ReadStates()
	if err != nil {
		log.WithError(err).Warn("read slave states")
		return
	}
	for _, s := range states {
		if s.State == target {
			continue
		}
		out = append(out, s)
		log.WithFields(logrus.Fields{
			"slave":          s.Index,
			"state":          s.State,
			"al_status":      fmt.Sprintf("%#04x", s.ALStatusCode),
			"al_status_text": ecad.ALStatusCodeString(s.ALStatusCode),
		}).Warn("slave not in requested state")
	}
	return
}

func (c *Coordinator) objectFailure(log logrus.FieldLogger, rep *Report, err error) {
	for _, e := range multierr.Errors(err) {
		rep.ObjectWriteFailures++
		log.WithError(e).Warn("object write")
	}
}

// modeReadBack logs the mode of operation slave reports after configuration.
func (c *Coordinator) modeReadBack(log logrus.FieldLogger, w *pdomap.Writer, slave int) {
	l := log.WithField("slave", slave)
	d, err := w.Read(slave, 0x6060, 0)
	if err == nil && len(d) == 0 {
		err = errors.New("empty answer")
	}
	if err != nil {
		l.WithError(err).Debug("mode of operation read back")
		return
	}
	l.WithField("mode", cia402.Mode(int8(d[0]))).Debug("mode of operation read back")
}

// shutdown takes command authority away from the drives and returns the
// network to Init before the transport is closed.
func (c *Coordinator) shutdown(log logrus.FieldLogger, img *cia402.Image, mapped bool) (err error) {
	if img != nil && mapped {
		img.Idle()
		if _, xerr := c.Transport.Exchange(img.Bytes(), c.Options.ExchangeTimeout); xerr != nil {
			log.WithError(xerr).Debug("idle exchange")
		}
		b := img.Bytes()
		if len(b) > 32 {
			b = b[:32]
		}
		log.Debugf("process image:\n%s", hex.Dump(b))
	}

	log.Info("request init state for all slaves")
	err = multierr.Append(err, errors.Wrap(c.Transport.RequestState(0, ecad.StateInit), "request init"))
	err = multierr.Append(err, errors.Wrap(c.Transport.Close(), "close transport"))
	return
}
