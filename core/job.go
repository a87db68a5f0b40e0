package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// JobState is the lifecycle state of a Job. Transitions are monotonic:
// Created -> Running -> {Completed | Failed | Cancelled}, with Cancelled
// also reachable directly from Created. There is no transition out of a
// terminal state.
type JobState int32

const (
	JobCreated JobState = iota
	JobRunning
	JobCompleted
	JobFailed
	JobCancelled
)

// Terminal reports whether the state is Completed, Failed or Cancelled.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "created"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var jobSeq atomic.Uint64

// Job is the handle for one scheduled unit of background work. Its fields
// are mutated only by the worker executing it or by a cancel request; all
// state changes go through guarded transitions, so observers may read the
// handle from any goroutine.
type Job struct {
	id uint64

	mu     sync.Mutex
	state  JobState
	result any
	err    error

	// done is closed exactly once, at the terminal transition.
	done chan struct{}

	// ctx is the cooperative cancellation flag handed to the closure.
	ctx    context.Context
	cancel context.CancelFunc

	// scope is a back-reference only; the Scope owns the Job.
	scope      *Scope
	returnLoop *Loop

	// delivered gates the race between the delivery continuation and a
	// timeout continuation: whichever wins the swap takes effect, the
	// loser is a no-op.
	delivered atomic.Bool

	// observed records that the result or error has been seen by a reply
	// or an Await, so unobserved failures can be reported at teardown.
	observed atomic.Bool

	async bool
}

func newJob(scope *Scope, returnLoop *Loop, async bool) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		id:         jobSeq.Add(1),
		state:      JobCreated,
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		scope:      scope,
		returnLoop: returnLoop,
		async:      async,
	}
}

// ID returns the job's process-unique identifier.
func (j *Job) ID() uint64 {
	return j.id
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the job's error: nil while non-terminal or after success,
// ErrCancelled after cancellation, or a *ClosureError after failure.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Result returns the job's result and error once terminal, marking the
// result observed. Before a terminal state both returns are zero.
func (j *Job) Result() (any, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		j.observed.Store(true)
	}
	return j.result, j.err
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Context is the cooperative cancellation signal for the job's closure.
// It is cancelled when the job is cancelled; closures observe it at
// natural suspension points via ctx.Err() or ctx.Done().
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel requests cancellation. A job not yet picked up by a worker never
// runs; a running job keeps executing until its closure observes the
// cancelled context, but its result is discarded either way. Cancelling a
// terminal job is a no-op.
func (j *Job) Cancel() {
	j.tryTransition(JobCancelled, nil, ErrCancelled, JobCreated, JobRunning)
	// Always fire the cooperative flag so an in-flight closure can bail
	// out even if the state race was lost.
	j.cancel()
}

// tryTransition moves the job to state `to` when its current state is one
// of `from`. A terminal transition records result and error, closes done
// and releases the job context. Returns false when the current state does
// not allow the transition.
func (j *Job) tryTransition(to JobState, result any, err error, from ...JobState) bool {
	j.mu.Lock()
	allowed := false
	for _, s := range from {
		if j.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		j.mu.Unlock()
		return false
	}

	j.state = to
	if to.Terminal() {
		j.result = result
		j.err = err
		close(j.done)
	}
	j.mu.Unlock()

	if to.Terminal() {
		j.cancel()
	}
	return true
}
