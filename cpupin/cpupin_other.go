//go:build !linux

package cpupin

// Pin only locks the thread, affinity is not available here.
func Pin(cpu int) error {
	Lock()
	return nil
}

func Allowed() ([]int, error) { return nil, nil }
