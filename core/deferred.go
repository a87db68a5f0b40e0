package core

import (
	"context"
)

// Deferred is a Job whose typed result is retrieved asynchronously with
// Await.
type Deferred[T any] struct {
	job   *Job
	value T
}

// Job returns the underlying Job handle.
func (d *Deferred[T]) Job() *Job {
	return d.job
}

// Await blocks until the job reaches a terminal state, then returns the
// value or the stored error. The first Await surfaces a failure; repeated
// calls return the same cached terminal result without re-running the
// closure. A cancelled job yields ErrCancelled.
//
// The context only bounds the wait: ctx expiring returns ctx.Err()
// without affecting the job.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-d.job.Done():
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	d.job.observed.Store(true)
	if err := d.job.Err(); err != nil {
		return zero, err
	}
	return d.value, nil
}
