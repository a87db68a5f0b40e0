// Package looper provides a cooperative task-scheduling core for Go:
// single-threaded run loops with ordered mailboxes, a bounded worker pool
// for background closures, and structured-concurrency scopes that marshal
// results back to the loop they belong to.
//
// # Quick Start
//
// Create a main loop and a pool, then launch scoped background work whose
// reply runs on the main loop:
//
//	main := looper.NewLoop("main")
//	pool := looper.NewPool(4)
//	scope := looper.NewScope(pool)
//
//	looper.Launch(scope,
//		func(ctx context.Context) (int, error) {
//			return fetchCount(ctx) // background work
//		},
//		func(ctx context.Context, n int, err error) {
//			render(n) // always on the main loop
//		},
//		main)
//
//	main.Run() // drains the mailbox in strict FIFO order
//
// # Key Concepts
//
// Loop: a single-threaded execution context. Continuations posted to the
// same Loop run in strict FIFO order on the goroutine that calls Run;
// a continuation posted from within another continuation is appended,
// never run inline. A panicking continuation is recovered and reported
// without stopping the loop.
//
// Pool: a bounded set of workers executing background closures. Work is
// dequeued in submission order; delivery continuations are posted to each
// Job's return Loop, so results are only ever observed on the context
// they belong to.
//
// Scope: a structured-concurrency boundary. Cancelling a Scope cancels
// its Jobs and child Scopes transitively and rejects later submissions.
// Launch routes failures to the scope's error handler; Async defers them
// until Await.
//
// Job: the cancellable handle for one unit of background work, with a
// monotonic state machine (Created -> Running -> Completed/Failed/
// Cancelled). Cancellation is cooperative: a running closure observes it
// through its context, and a cancelled job's result is discarded.
//
// # Global Pool
//
// Applications that want a single shared pool can use the global helpers:
//
//	looper.InitGlobalPool(4)
//	defer looper.ShutdownGlobalPool()
//
//	scope := looper.NewGlobalScope()
package looper
