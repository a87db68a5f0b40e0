package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a single-threaded execution context: an ordered mailbox of
// continuations drained by one cooperative run loop. All continuations
// posted to the same Loop execute in strict FIFO order on the goroutine
// that calls Run; a continuation posted from within another continuation
// is appended after everything already queued, never executed inline.
//
// The "main" context of an application is simply a Loop whose Run is
// called from the main goroutine.
type Loop struct {
	name    string
	mailbox *Mailbox
	signal  chan struct{}

	clock  Clock
	timers *timerQueue

	logger          Logger
	panicHandler    PanicHandler
	metrics         Metrics
	rejectedHandler RejectedTaskHandler
	history         executionHistory

	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	runDone  chan struct{}
	started  atomic.Bool

	executing atomic.Bool
	executed  atomic.Int64
	rejected  atomic.Int64
}

// NewLoop creates a Loop with the given name and default configuration.
// Run must be called (or Start) before posted continuations execute.
func NewLoop(name string) *Loop {
	return NewLoopWithConfig(&LoopConfig{Name: name})
}

// NewLoopWithConfig creates a Loop from a LoopConfig. Nil or zero-value
// fields fall back to defaults.
func NewLoopWithConfig(config *LoopConfig) *Loop {
	cfg := config.withDefaults()
	return &Loop{
		name:            cfg.Name,
		mailbox:         NewMailbox(),
		signal:          make(chan struct{}, 1),
		clock:           cfg.Clock,
		timers:          newTimerQueue(cfg.Clock),
		logger:          cfg.Logger,
		panicHandler:    cfg.PanicHandler,
		metrics:         cfg.Metrics,
		rejectedHandler: cfg.RejectedTaskHandler,
		history:         newExecutionHistory(cfg.HistoryCapacity),
		stopCh:          make(chan struct{}),
		runDone:         make(chan struct{}),
	}
}

// Name returns the loop's label.
func (l *Loop) Name() string {
	return l.name
}

// Post enqueues a continuation. It never blocks the caller; the mailbox is
// unbounded. Posts after Stop are dropped and reported to the rejected
// handler.
func (l *Loop) Post(task Task) {
	if task == nil {
		return
	}
	if l.stopped.Load() {
		l.rejected.Add(1)
		l.rejectedHandler.HandleRejectedTask(l.name, "stopped")
		l.metrics.RecordTaskRejected(l.name, "stopped")
		return
	}

	l.mailbox.Push(task)
	l.metrics.RecordQueueDepth(l.name, l.mailbox.Len())

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// PostDelayed enqueues a continuation after the given delay, measured by
// the loop's Clock. A non-positive delay posts immediately.
func (l *Loop) PostDelayed(task Task, delay time.Duration) {
	if task == nil {
		return
	}
	if delay <= 0 {
		l.Post(task)
		return
	}
	if l.stopped.Load() {
		l.rejected.Add(1)
		l.rejectedHandler.HandleRejectedTask(l.name, "stopped")
		l.metrics.RecordTaskRejected(l.name, "stopped")
		return
	}
	l.timers.Schedule(task, delay, l)
}

// Run is the cooperative loop. It drains the mailbox in FIFO order,
// executing each continuation to completion before removing the next, and
// returns after Stop or Shutdown once the current continuation finishes.
// Run must be called exactly once, on the goroutine that should own the
// loop's continuations.
func (l *Loop) Run() {
	if !l.started.CompareAndSwap(false, true) {
		panic("looper: Loop.Run called more than once")
	}
	defer close(l.runDone)

	ctx := context.WithValue(context.Background(), loopKey, l)

	for {
		if l.stopped.Load() {
			return
		}
		if task, ok := l.mailbox.Pop(); ok {
			l.execute(ctx, task)
			continue
		}

		select {
		case <-l.signal:
		case <-l.stopCh:
			return
		}
	}
}

// Start runs the loop on its own goroutine. Convenience for contexts that
// are not the caller's main goroutine.
func (l *Loop) Start() {
	go l.Run()
}

// Shutdown marks the loop stopped without waiting for Run to return, so it
// is safe to call from a continuation running on this loop. Pending
// mailbox items are not drained; later posts are rejected.
func (l *Loop) Shutdown() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		l.timers.Stop()
		close(l.stopCh)
	})
}

// Stop marks the loop stopped and waits for Run to return, which happens
// once the currently executing continuation (if any) finishes. Call
// Shutdown instead when stopping the loop from one of its own
// continuations.
func (l *Loop) Stop() {
	wasStarted := l.started.Load()
	l.Shutdown()
	if wasStarted {
		<-l.runDone
	}
}

// IsStopped reports whether Stop or Shutdown has been called.
func (l *Loop) IsStopped() bool {
	return l.stopped.Load()
}

// WaitIdle blocks until every continuation queued before the call has
// executed, by posting a barrier continuation and waiting for it. It
// returns ErrLoopStopped if the loop stops before the barrier runs, since
// a stopped loop drops its queue and the barrier would never execute.
func (l *Loop) WaitIdle(ctx context.Context) error {
	if l.stopped.Load() {
		return ErrLoopStopped
	}

	done := make(chan struct{})
	l.Post(func(context.Context) {
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-l.stopCh:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush posts a barrier that invokes callback on the loop once all prior
// continuations complete. Non-blocking alternative to WaitIdle.
func (l *Loop) Flush(callback func()) {
	l.Post(func(context.Context) {
		callback()
	})
}

// Stats returns a snapshot of the loop's observable state.
func (l *Loop) Stats() LoopStats {
	last, _ := l.history.Last()
	return LoopStats{
		Name:     l.name,
		Pending:  l.mailbox.Len(),
		Running:  l.executing.Load(),
		Executed: l.executed.Load(),
		Rejected: l.rejected.Load(),
		Stopped:  l.stopped.Load(),
		LastTask: last,
	}
}

// RecentExecutions returns up to limit recent execution records, most
// recent first.
func (l *Loop) RecentExecutions(limit int) []ExecutionRecord {
	return l.history.Recent(limit)
}

// execute runs one continuation with panic isolation. A panicking
// continuation is reported to the panic handler; the loop keeps going.
func (l *Loop) execute(ctx context.Context, task Task) {
	start := l.clock.Now()
	l.executing.Store(true)

	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				stack := debug.Stack()
				l.metrics.RecordTaskPanic(l.name, r)
				l.panicHandler.HandlePanic(ctx, l.name, -1, r, stack)
			}
		}()
		task(ctx)
	}()

	l.executing.Store(false)
	finished := l.clock.Now()
	l.executed.Add(1)
	l.metrics.RecordTaskDuration(l.name, finished.Sub(start))
	l.metrics.RecordQueueDepth(l.name, l.mailbox.Len())
	l.history.Add(ExecutionRecord{
		LoopName:   l.name,
		StartedAt:  start,
		FinishedAt: finished,
		Duration:   finished.Sub(start),
		Panicked:   panicked,
	})
}
