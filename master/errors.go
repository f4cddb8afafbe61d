package master

import (
	"fmt"
	"strings"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/pdomap"
	"github.com/pkg/errors"
)

// ErrNoSlaves aborts the startup before anything is configured.
var ErrNoSlaves = errors.New("no slaves found")

// ErrExchangeLost ends the cyclic phase.
var ErrExchangeLost = errors.New("process data exchange lost")

// TransitionError lists the slaves that did not reach Target in time.
type TransitionError struct {
	Target     ecad.ALState
	Stragglers []SlaveState
}

func (e *TransitionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "not all slaves reached %v", e.Target)
	for i, s := range e.Stragglers {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "slave %d %v (%#04x)", s.Index, s.State, s.ALStatusCode)
	}
	return sb.String()
}

type ObjectWriteError = pdomap.ObjectWriteError
