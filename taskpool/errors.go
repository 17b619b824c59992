package taskpool

import (
	"errors"
	"fmt"
)

// ErrCapacityExhausted is returned by TrySubmit when the task arena has no
// free node (spec §7, "Arena exhaustion"). Submit itself never returns this —
// it spins, per the source's original contract — but TrySubmit surfaces it
// so a narrow-phase caller can elide a tick's work instead of livelocking.
var ErrCapacityExhausted = errors.New("taskpool: task arena exhausted")

// ErrPendingWork is returned by StopNow, the variant that skips the implicit
// final Wait, when called while issued > completed (spec §7, "Shutdown with
// pending work").
var ErrPendingWork = errors.New("taskpool: stop called with pending work")

// ErrClosed is returned by TrySubmit, and is the value Submit panics with,
// once the pool has stopped accepting new work.
var ErrClosed = errors.New("taskpool: pool is stopped")

// PanicError wraps a task's recovered panic value, grounded on the teacher's
// eventloop.PanicError cause-chain pattern: Unwrap lets callers use
// errors.Is/errors.As against whatever the task panicked with, when it was
// itself an error.
type PanicError struct {
	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("taskpool: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if Value is an error, else nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
