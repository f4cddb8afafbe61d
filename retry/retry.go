// Package retry runs fallible operations a bounded number of times.
package retry

import (
	"github.com/pkg/errors"
)

var ErrExhausted = errors.New("attempts exhausted")

// Outcome tells how a bounded retry ended.
type Outcome struct {
	Attempts int
	// error of the last attempt, nil when an attempt succeeded
	Last error
}

func (o Outcome) Ok() bool { return o.Last == nil }

// Err is nil on success, otherwise ErrExhausted carrying the last error.
func (o Outcome) Err() error {
	if o.Last == nil {
		return nil
	}
	return &exhaustedError{o.Attempts, o.Last}
}

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return errors.Wrapf(ErrExhausted, "%d attempts, last: %v", e.attempts, e.last).Error()
}

func (e *exhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *exhaustedError) Unwrap() error { return e.last }

// Do calls op with attempt numbers counting from 1 until it returns nil or
// attempts calls were made. At least one call is made.
func Do(attempts int, op func(attempt int) error) Outcome {
	_, o := Value(attempts, func(attempt int) (struct{}, error) {
		return struct{}{}, op(attempt)
	})
	return o
}

// Value is Do for operations producing a value. The value of the last
// attempt is returned in any case.
func Value[T any](attempts int, op func(attempt int) (T, error)) (v T, o Outcome) {
	if attempts < 1 {
		attempts = 1
	}
	for o.Attempts < attempts {
		o.Attempts++
		v, o.Last = op(o.Attempts)
		if o.Last == nil {
			return
		}
	}
	return
}
