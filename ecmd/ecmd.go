package ecmd

import (
	"fmt"
	"time"

	"github.com/distributed/ecatservo/ecfr"
	"github.com/pkg/errors"
)

type Commander interface {
	New(datalen int) (*ExecutingCommand, error)
	Cycle() error
	Close() error
}

type ExecutingCommand struct {
	DatagramOut *ecfr.Datagram

	DatagramIn *ecfr.Datagram
	Arrived    bool
	Overlayed  bool
	Error      error
}

var NoFrame = errors.New("frame did not arrive")
var NoOverlay = errors.New("failed to overlay")

type WorkingCounterError struct {
	Command    ecfr.CommandType
	Addr32     uint32
	Want, Have uint16
}

func (e WorkingCounterError) Error() string {
	return fmt.Sprintf("working counter error, want %d, have %d on %v %#08x", e.Want,
		e.Have,
		e.Command,
		e.Addr32)
}

func ChooseDefaultError(cmd *ExecutingCommand) error {
	if !cmd.Arrived {
		return NoFrame
	}

	if !cmd.Overlayed {
		return NoOverlay
	}

	return cmd.Error
}

func IsNoFrame(err error) bool {
	return errors.Is(err, NoFrame)
}

func IsWorkingCounterError(err error) bool {
	var wce WorkingCounterError
	return errors.As(err, &wce)
}

func ChooseWorkingCounterError(ec *ExecutingCommand, expwc uint16) error {
	havewc := ec.DatagramIn.WorkingCounter
	if expwc != havewc {
		return WorkingCounterError{
			ec.DatagramOut.Command,
			ec.DatagramOut.Addr32,
			expwc, havewc,
		}
	}

	return nil
}

const (
	DefaultFramelossTries = 3
)

type Options struct {
	FramelossTries int
	WCDeadline     time.Time
}

func (o Options) getFramelossTries() int {
	if o.FramelossTries == 0 {
		return DefaultFramelossTries
	}
	return o.FramelossTries
}
func (o Options) getWCDeadline() time.Time { return o.WCDeadline }

// Execute sends one datagram with command ct to addr, carrying w and
// reserving n data bytes (n >= len(w)), and returns the arrived command.
// Lost frames are retried; the working counter is left to the caller.
func Execute(c Commander, ct ecfr.CommandType, addr ecfr.DatagramAddress, w []byte, n int, opts Options) (ec *ExecutingCommand, err error) {
	if n < len(w) {
		n = len(w)
	}

	nFrameLoss := 0
	for {
		ec, err = c.New(n)
		if err != nil {
			return
		}

		dgo := ec.DatagramOut
		err = dgo.SetDataLen(n)
		if err != nil {
			return
		}
		d := dgo.Data()
		copy(d, w)
		for i := len(w); i < len(d); i++ {
			d[i] = 0
		}

		dgo.Command = ct
		dgo.Addr32 = addr.Addr32()

		err = c.Cycle()
		if err != nil {
			return
		}

		err = ChooseDefaultError(ec)
		if err != nil {
			if IsNoFrame(err) {
				nFrameLoss++
				if nFrameLoss < opts.getFramelossTries() {
					continue
				}
			}
			return
		}

		return
	}
}

func ExecuteRead(c Commander, addr ecfr.DatagramAddress, n int, expwc uint16) (d []byte, err error) {
	return ExecuteReadOptions(c, addr, n, expwc, Options{})
}

func ExecuteReadOptions(c Commander, addr ecfr.DatagramAddress, n int, expwc uint16, opts Options) (d []byte, err error) {
	return executeChecked(c, addr.ReadCommand(), addr, nil, n, expwc, opts)
}

func ExecuteWrite(c Commander, addr ecfr.DatagramAddress, w []byte, expwc uint16) (err error) {
	return ExecuteWriteOptions(c, addr, w, expwc, Options{})
}

func ExecuteWriteOptions(c Commander, addr ecfr.DatagramAddress, w []byte, expwc uint16, opts Options) (err error) {
	_, err = executeChecked(c, addr.WriteCommand(), addr, w, len(w), expwc, opts)
	return
}

// executeChecked repeats the command while the working counter is off and
// the deadline in opts has not passed. On a final working counter mismatch
// the data is returned together with a WorkingCounterError.
func executeChecked(c Commander, ct ecfr.CommandType, addr ecfr.DatagramAddress, w []byte, n int, expwc uint16, opts Options) (d []byte, err error) {
	for {
		var ec *ExecutingCommand
		ec, err = Execute(c, ct, addr, w, n, opts)
		if err != nil {
			return
		}

		d = append([]byte(nil), ec.DatagramIn.Data()...)

		err = ChooseWorkingCounterError(ec, expwc)
		if err != nil {
			if time.Now().Before(opts.getWCDeadline()) {
				continue
			}
		}
		return
	}
}
