package master

import (
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecad"
)

// SlaveState is the AL state a slave reported, valid right after it was read.
type SlaveState struct {
	Index        int
	State        ecad.ALState
	ALStatusCode uint16
}

// Segments is what mapping the process data produced: how many slaves take
// part in the output and in the input part of the exchange.
type Segments struct {
	OutputsWKC int
	InputsWKC  int
}

// ExpectedWKC is the working counter a complete exchange returns. Every
// slave with outputs counts 2 for the write, every slave with inputs 1.
func (s Segments) ExpectedWKC() int {
	return 2*s.OutputsWKC + s.InputsWKC
}

// Exchanger moves the process image once: outputs out, inputs in. The
// returned working counter is zero or less when nothing came back. buf must
// be updated before Exchange returns.
type Exchanger interface {
	Exchange(buf []byte, timeout time.Duration) (int, error)
}

// Transport is the network side of the master. Slave 0 addresses all
// slaves, slaves are counted from 1.
type Transport interface {
	Exchanger

	RequestState(slave int, target ecad.ALState) error
	// CheckState waits up to timeout for slave to report target and returns
	// the state seen last.
	CheckState(slave int, target ecad.ALState, timeout time.Duration) (ecad.ALState, error)
	ReadStates() ([]SlaveState, error)

	// Configure finds and sets up the slaves, returns their number.
	Configure() (int, error)
	ConfigureDC() error
	MapProcessData(img *cia402.Image) (Segments, error)

	Close() error
}

// ObjectDictionary accesses the object dictionaries of the slaves. The int
// results are acknowledgement counters, zero or less for no answer.
type ObjectDictionary interface {
	Write(slave int, index uint16, subindex uint8, data []byte, timeout time.Duration) (int, error)
	Read(slave int, index uint16, subindex uint8, timeout time.Duration) ([]byte, int, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
