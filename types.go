package looper

import (
	"time"

	"github.com/loopkit/looper/core"
)

// Re-export commonly used types from core for convenience, so most users
// only import the looper package.

// Task is the unit of work (Closure) executed by a Loop.
type Task = core.Task

// TaskWithResult is a background closure producing a typed result.
type TaskWithResult[T any] = core.TaskWithResult[T]

// ReplyWithResult receives a task's result on the return Loop.
type ReplyWithResult[T any] = core.ReplyWithResult[T]

// Closure is the untyped background work item the Pool executes.
type Closure = core.Closure

// Loop is a single-threaded execution context with an ordered mailbox.
type Loop = core.Loop

// LoopConfig configures a Loop.
type LoopConfig = core.LoopConfig

// Pool executes background closures on a bounded set of workers.
type Pool = core.Pool

// PoolConfig configures a Pool.
type PoolConfig = core.PoolConfig

// Scope is a structured-concurrency boundary owning Jobs and child Scopes.
type Scope = core.Scope

// ScopeOption configures a Scope.
type ScopeOption = core.ScopeOption

// Job is the cancellable handle for one unit of background work.
type Job = core.Job

// JobState is a Job's lifecycle state.
type JobState = core.JobState

// Deferred is a Job whose typed result is retrieved with Await.
type Deferred[T any] = core.Deferred[T]

// Clock abstracts time for delayed posts.
type Clock = core.Clock

// Job lifecycle states.
const (
	JobCreated   = core.JobCreated
	JobRunning   = core.JobRunning
	JobCompleted = core.JobCompleted
	JobFailed    = core.JobFailed
	JobCancelled = core.JobCancelled
)

// Error values.
var (
	ErrCancelled   = core.ErrCancelled
	ErrRejected    = core.ErrRejected
	ErrTimeout     = core.ErrTimeout
	ErrLoopStopped = core.ErrLoopStopped
)

// Constructors and option helpers.
var (
	NewLoop           = core.NewLoop
	NewLoopWithConfig = core.NewLoopWithConfig
	NewPool           = core.NewPool
	NewPoolWithConfig = core.NewPoolWithConfig
	NewScope          = core.NewScope
	WithScopeLogger   = core.WithScopeLogger
	WithErrorHandler  = core.WithErrorHandler
	SystemClock       = core.SystemClock
	NewManualClock    = core.NewManualClock
	CurrentLoop       = core.CurrentLoop
)

// Launch schedules fn on the scope's pool and posts reply with the typed
// result to returnLoop.
func Launch[T any](s *Scope, fn TaskWithResult[T], reply ReplyWithResult[T], returnLoop *Loop) (*Job, error) {
	return core.Launch(s, fn, reply, returnLoop)
}

// LaunchWithTimeout is Launch racing a deadline posted to returnLoop.
func LaunchWithTimeout[T any](s *Scope, fn TaskWithResult[T], timeout time.Duration, reply ReplyWithResult[T], returnLoop *Loop) (*Job, error) {
	return core.LaunchWithTimeout(s, fn, timeout, reply, returnLoop)
}

// Async schedules fn and returns a Deferred for its result.
func Async[T any](s *Scope, fn TaskWithResult[T]) (*Deferred[T], error) {
	return core.Async(s, fn)
}
