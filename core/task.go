package core

import (
	"context"
)

// Task is the unit of work (Closure) executed by a Loop.
type Task func(ctx context.Context)

// TaskWithResult is a background closure that produces a typed result.
// The context is cancelled when the owning Job is cancelled; closures that
// want cooperative cancellation should check ctx.Err() at natural
// suspension points.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives a task's result on the return Loop.
type ReplyWithResult[T any] func(ctx context.Context, value T, err error)

// Closure is the untyped background work item the Pool executes.
type Closure func(ctx context.Context) (any, error)

// Deliver is the untyped delivery continuation the Pool posts to a Job's
// return Loop once the closure reaches a terminal state.
type Deliver func(ctx context.Context, value any, err error)

// =============================================================================
// Context Helper
// =============================================================================

type loopKeyType struct{}

var loopKey loopKeyType

// CurrentLoop returns the Loop executing the current continuation, or nil
// when the context does not belong to a Loop.
func CurrentLoop(ctx context.Context) *Loop {
	if v := ctx.Value(loopKey); v != nil {
		return v.(*Loop)
	}
	return nil
}
