// Package cpupin keeps the calling goroutine on one OS thread and, where
// the platform allows it, that thread on one CPU.
package cpupin

import "runtime"

// Lock wires the calling goroutine to its OS thread. Unlock undoes it.
func Lock() { runtime.LockOSThread() }

func Unlock() { runtime.UnlockOSThread() }
