package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrorHandler receives unhandled failures from Launch-created jobs.
type ErrorHandler func(scope *Scope, job *Job, err error)

// ScopeOption configures a Scope at construction.
type ScopeOption func(*Scope)

// WithScopeLogger sets the logger used for failure reports.
func WithScopeLogger(log Logger) ScopeOption {
	return func(s *Scope) { s.logger = log }
}

// WithErrorHandler replaces the default failure policy (log and cancel
// siblings) for Launch-created jobs.
func WithErrorHandler(h ErrorHandler) ScopeOption {
	return func(s *Scope) { s.onError = h }
}

// Scope is a structured-concurrency boundary owning a group of Jobs and
// child Scopes. Cancelling a Scope cancels every owned Job and every child
// Scope, transitively, exactly once each; a cancelled Scope rejects new
// submissions. A Scope is quiescent once every owned Job is terminal.
type Scope struct {
	pool    *Pool
	logger  Logger
	onError ErrorHandler

	mu        sync.Mutex
	jobs      []*Job
	children  []*Scope
	parent    *Scope
	cancelled bool
}

// NewScope creates a root Scope bound to the given Pool.
func NewScope(pool *Pool, opts ...ScopeOption) *Scope {
	s := &Scope{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = pool.logger
	}
	return s
}

// NewChild creates a nested Scope. The child inherits the pool, logger and
// error handler unless overridden, and is cancelled along with its parent.
// A child of an already-cancelled parent starts cancelled.
func (s *Scope) NewChild(opts ...ScopeOption) *Scope {
	child := &Scope{
		pool:    s.pool,
		logger:  s.logger,
		onError: s.onError,
		parent:  s,
	}
	for _, opt := range opts {
		opt(child)
	}

	s.mu.Lock()
	if s.cancelled {
		child.cancelled = true
	} else {
		s.children = append(s.children, child)
	}
	s.mu.Unlock()
	return child
}

// Cancelled reports whether Cancel has been called (directly or through a
// parent).
func (s *Scope) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Cancel marks the scope cancelled, cancels every owned Job and every
// child Scope transitively, and makes later submissions fail with
// ErrRejected. Cancelling twice is a no-op.
func (s *Scope) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	jobs := append([]*Job(nil), s.jobs...)
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()

	for _, c := range children {
		c.Cancel()
	}
	for _, j := range jobs {
		j.Cancel()
	}
}

// register adds a Job to the scope, rejecting it when the scope is already
// cancelled. Terminal, observed jobs are reclaimed on the way.
func (s *Scope) register(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return ErrRejected
	}
	s.compactLocked()
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *Scope) remove(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, owned := range s.jobs {
		if owned == j {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return
		}
	}
}

// compactLocked drops jobs whose result has been observed and that have
// reached a terminal state, releasing their handles.
func (s *Scope) compactLocked() {
	kept := s.jobs[:0]
	for _, j := range s.jobs {
		if j.State().Terminal() && j.observed.Load() {
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = kept
}

// handleFailure routes a launch failure to the configured handler. The
// default policy logs the error and cancels the job's siblings.
func (s *Scope) handleFailure(job *Job, err error) {
	if s.onError != nil {
		s.onError(s, job, err)
		return
	}
	s.logger.Error("scoped job failed",
		F("job", job.ID()),
		F("error", err))
	s.cancelOthers(job)
}

// cancelOthers cancels every owned Job except the given one, plus child
// scopes.
func (s *Scope) cancelOthers(except *Job) {
	s.mu.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()

	for _, c := range children {
		c.Cancel()
	}
	for _, j := range jobs {
		if j != except {
			j.Cancel()
		}
	}
}

// AwaitQuiescence blocks until every owned Job, including those of child
// scopes, has reached a terminal state. A positive timeout bounds the
// wait; a non-positive timeout waits indefinitely. Returns false when the
// deadline passed with jobs still pending.
func (s *Scope) AwaitQuiescence(timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		job, pending := s.nextPending()
		if !pending {
			return true
		}

		if deadline.IsZero() {
			<-job.Done()
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-job.Done():
			timer.Stop()
		case <-timer.C:
			return false
		}
	}
}

// nextPending returns some non-terminal Job owned by this scope or a
// descendant, if one exists.
func (s *Scope) nextPending() (*Job, bool) {
	s.mu.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()

	for _, j := range jobs {
		if !j.State().Terminal() {
			return j, true
		}
	}
	for _, c := range children {
		if j, ok := c.nextPending(); ok {
			return j, true
		}
	}
	return nil, false
}

// Teardown waits for quiescence up to the timeout, force-cancels whatever
// is still pending, seals the scope against further submissions, and
// reports failed async jobs whose error was never awaited.
func (s *Scope) Teardown(timeout time.Duration) {
	if !s.AwaitQuiescence(timeout) {
		s.Cancel()
	}
	s.Cancel()
	s.reportUnobserved()
}

// reportUnobserved logs failed async jobs nobody awaited, so their errors
// are never silently dropped.
func (s *Scope) reportUnobserved() {
	s.mu.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()

	for _, j := range jobs {
		if j.async && j.State() == JobFailed && j.observed.CompareAndSwap(false, true) {
			s.logger.Error("unobserved deferred failure",
				F("job", j.ID()),
				F("error", j.Err()))
		}
	}
	for _, c := range children {
		c.reportUnobserved()
	}
}

// Stats returns a snapshot of the scope's bookkeeping.
func (s *Scope) Stats() ScopeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, j := range s.jobs {
		if !j.State().Terminal() {
			pending++
		}
	}
	return ScopeStats{
		Jobs:      len(s.jobs),
		Pending:   pending,
		Children:  len(s.children),
		Cancelled: s.cancelled,
	}
}

// =============================================================================
// Launch / Async
// =============================================================================

// Launch schedules fn on the scope's pool and posts reply with the typed
// result to returnLoop once fn finishes. The result and error cross
// goroutines through closure capture; the pool's delivery post provides
// the happens-before edge, so reply always sees the final values.
//
// An error returned by fn is routed to the scope's error handler (default:
// log and cancel siblings) before reply runs. A cancelled job posts no
// reply at all. A nil returnLoop means no reply delivery, but failures
// still reach the scope's handler.
func Launch[T any](s *Scope, fn TaskWithResult[T], reply ReplyWithResult[T], returnLoop *Loop) (*Job, error) {
	job := newJob(s, returnLoop, false)
	if err := s.register(job); err != nil {
		return nil, err
	}

	var result T
	closure := func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		result = v
		return v, err
	}
	deliver := func(ctx context.Context, _ any, err error) {
		if err != nil && !isCancellation(err) {
			s.handleFailure(job, err)
		}
		if reply != nil {
			var value T
			if err == nil {
				value = result
			}
			reply(ctx, value, err)
		}
	}

	if err := s.pool.submitJob(job, closure, deliver); err != nil {
		s.remove(job)
		return nil, err
	}
	return job, nil
}

// LaunchWithTimeout is Launch racing a deadline: a cancellation
// continuation is posted to returnLoop after timeout, and whichever of the
// delivery and the deadline arrives first wins. The loser is a no-op — a
// late result produces no observable effect, and a deadline firing after
// delivery changes nothing.
func LaunchWithTimeout[T any](s *Scope, fn TaskWithResult[T], timeout time.Duration, reply ReplyWithResult[T], returnLoop *Loop) (*Job, error) {
	if returnLoop == nil {
		return nil, fmt.Errorf("looper: LaunchWithTimeout requires a return loop for its deadline")
	}
	job, err := Launch(s, fn, reply, returnLoop)
	if err != nil {
		return nil, err
	}

	returnLoop.PostDelayed(func(ctx context.Context) {
		if !job.delivered.CompareAndSwap(false, true) {
			return
		}
		job.Cancel()
		if reply != nil {
			var zero T
			reply(ctx, zero, ErrTimeout)
		}
	}, timeout)
	return job, nil
}

// Async schedules fn on the scope's pool and returns a Deferred whose
// result is retrieved with Await. Errors are stored, not routed to the
// scope handler: they surface when awaited, or at Teardown if never
// awaited.
func Async[T any](s *Scope, fn TaskWithResult[T]) (*Deferred[T], error) {
	job := newJob(s, nil, true)
	if err := s.register(job); err != nil {
		return nil, err
	}

	d := &Deferred[T]{job: job}
	closure := func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		// Written before the terminal transition closes Done, so Await
		// reads it safely.
		d.value = v
		return v, err
	}

	if err := s.pool.submitJob(job, closure, nil); err != nil {
		s.remove(job)
		return nil, err
	}
	return d, nil
}
