package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports that a Job was cancelled, either before it
	// started or cooperatively while running. Await returns it for jobs
	// whose scope or handle was cancelled.
	ErrCancelled = errors.New("looper: job cancelled")

	// ErrRejected reports that a submission was refused: the pool is shut
	// down, the work queue is at capacity, or the scope was already
	// cancelled.
	ErrRejected = errors.New("looper: submission rejected")

	// ErrTimeout reports that a deadline continuation won the race against
	// a job's delivery.
	ErrTimeout = errors.New("looper: deadline exceeded")

	// ErrLoopStopped reports an operation against a Loop whose Run has
	// been stopped.
	ErrLoopStopped = errors.New("looper: loop stopped")
)

// ClosureError wraps an error raised inside background work. Panicked
// reports whether the closure panicked rather than returning an error;
// Stack holds the stack trace captured at recovery time.
type ClosureError struct {
	JobID    uint64
	Cause    error
	Panicked bool
	Stack    []byte
}

func (e *ClosureError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("looper: job %d panicked: %v", e.JobID, e.Cause)
	}
	return fmt.Sprintf("looper: job %d failed: %v", e.JobID, e.Cause)
}

func (e *ClosureError) Unwrap() error {
	return e.Cause
}
