//go:build linux

package cpupin

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its thread and restricts the thread
// to cpu.
func Pin(cpu int) error {
	Lock()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrapf(err, "pin to cpu %d", cpu)
	}
	return nil
}

// Allowed lists the CPUs the calling thread may run on.
func Allowed() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var cpus []int
	for i := 0; len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
