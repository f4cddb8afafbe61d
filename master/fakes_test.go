package master

import (
	"sync"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecad"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// scriptedExchanger returns the scripted working counters in order and
// lets a hook play the slaves.
type scriptedExchanger struct {
	wkcs  []int
	calls int
	play  func(call int, buf []byte)
}

func (x *scriptedExchanger) Exchange(buf []byte, timeout time.Duration) (int, error) {
	call := x.calls
	x.calls++
	if x.play != nil {
		x.play(call, buf)
	}
	if call < len(x.wkcs) {
		return x.wkcs[call], nil
	}
	return x.wkcs[len(x.wkcs)-1], nil
}

// fakeTransport is a network whose slaves follow state requests unless told
// otherwise.
type fakeTransport struct {
	slaves   int
	confErr  error
	stuck    map[ecad.ALState][]int // slaves that never reach the state
	opAfter  int                    // CheckState polls before Op shows up
	wkc      int
	requests []ecad.ALState
	log      []string

	state     ecad.ALState
	opChecks  int
	img       *cia402.Image
	closed    bool
	exchanges int
}

func (t *fakeTransport) note(s string) { t.log = append(t.log, s) }

func (t *fakeTransport) Exchange(buf []byte, timeout time.Duration) (int, error) {
	t.exchanges++
	if t.img == nil {
		return 0, errors.New("not mapped")
	}
	// buf is the mapped image
	for d := 0; d < t.img.Drives(); d++ {
		drive := t.img.Drive(d)
		drive.SetActual(drive.Target())
		switch drive.Control() {
		case cia402.CtlShutdown:
			drive.SetStatus(0x0231)
		case cia402.CtlSwitchOn:
			drive.SetStatus(0x0233)
		case cia402.CtlEnableOperation:
			drive.SetStatus(0x0237)
		default:
			drive.SetStatus(0x0250)
		}
	}
	return t.wkc, nil
}

func (t *fakeTransport) RequestState(slave int, target ecad.ALState) error {
	t.note("request " + target.String())
	t.requests = append(t.requests, target)
	t.state = target
	return nil
}

func (t *fakeTransport) CheckState(slave int, target ecad.ALState, timeout time.Duration) (ecad.ALState, error) {
	if len(t.stuck[target]) > 0 {
		return ecad.StateInit, nil
	}
	if target == ecad.StateOp {
		t.opChecks++
		if t.opChecks <= t.opAfter {
			return ecad.StateSafeOp, nil
		}
	}
	return t.state, nil
}

func (t *fakeTransport) ReadStates() (ss []SlaveState, err error) {
	for i := 1; i <= t.slaves; i++ {
		s := SlaveState{Index: i, State: t.state}
		for _, k := range t.stuck[t.state] {
			if k == i {
				s.State = ecad.StateInit | ecad.StateErrorFlag
				s.ALStatusCode = 0x0011
			}
		}
		ss = append(ss, s)
	}
	return
}

func (t *fakeTransport) Configure() (int, error) {
	t.note("configure")
	return t.slaves, t.confErr
}

func (t *fakeTransport) ConfigureDC() error {
	t.note("dc")
	return nil
}

func (t *fakeTransport) MapProcessData(img *cia402.Image) (Segments, error) {
	t.note("map")
	t.img = img
	return Segments{OutputsWKC: t.slaves, InputsWKC: t.slaves}, nil
}

func (t *fakeTransport) Close() error {
	t.note("close")
	t.closed = true
	return nil
}

type odWrite struct {
	slave    int
	index    uint16
	subindex uint8
	data     []byte
}

type odRead struct {
	slave    int
	index    uint16
	subindex uint8
}

type fakeOD struct {
	writes []odWrite
	reads  []odRead
	fail   func(w odWrite) bool
}

func (od *fakeOD) Write(slave int, index uint16, subindex uint8, data []byte, timeout time.Duration) (int, error) {
	w := odWrite{slave, index, subindex, append([]byte(nil), data...)}
	od.writes = append(od.writes, w)
	if od.fail != nil && od.fail(w) {
		return 0, nil
	}
	return 1, nil
}

// Read answers with the last data written to the object.
func (od *fakeOD) Read(slave int, index uint16, subindex uint8, timeout time.Duration) ([]byte, int, error) {
	od.reads = append(od.reads, odRead{slave, index, subindex})
	for i := len(od.writes) - 1; i >= 0; i-- {
		w := od.writes[i]
		if w.slave == slave && w.index == index && w.subindex == subindex {
			return w.data, 1, nil
		}
	}
	return nil, 0, errors.New("object not written")
}

func quietLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}
