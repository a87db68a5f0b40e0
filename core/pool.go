package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// workItem pairs a Job with its closure and delivery continuation while it
// waits in the pool's queue.
type workItem struct {
	job     *Job
	closure Closure
	deliver Deliver
}

// Pool executes background closures on a bounded set of persistent
// workers. Work is dequeued in submission order; completion order across
// workers is not guaranteed. Each finished Job posts its delivery
// continuation to the Job's return Loop, so results are always observed on
// the context they belong to.
type Pool struct {
	name     string
	workers  int
	capacity int

	mu    sync.Mutex
	items []workItem

	signal chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	logger          Logger
	panicHandler    PanicHandler
	metrics         Metrics
	rejectedHandler RejectedTaskHandler

	shuttingDown atomic.Bool
	stopOnce     sync.Once
	queued       atomic.Int32
	active       atomic.Int32
	rejected     atomic.Int64
}

// NewPool creates a Pool with the given worker count and default
// configuration. Workers start immediately. A non-positive count uses the
// available hardware parallelism.
func NewPool(workers int) *Pool {
	return NewPoolWithConfig(&PoolConfig{Workers: workers})
}

// NewPoolWithConfig creates a Pool from a PoolConfig. Nil or zero-value
// fields fall back to defaults.
func NewPoolWithConfig(config *PoolConfig) *Pool {
	cfg := config.withDefaults(runtime.GOMAXPROCS(0))

	p := &Pool{
		name:            cfg.Name,
		workers:         cfg.Workers,
		capacity:        cfg.QueueCapacity,
		signal:          make(chan struct{}, cfg.Workers*2),
		stopCh:          make(chan struct{}),
		logger:          cfg.Logger,
		panicHandler:    cfg.PanicHandler,
		metrics:         cfg.Metrics,
		rejectedHandler: cfg.RejectedTaskHandler,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

// Name returns the pool's label.
func (p *Pool) Name() string {
	return p.name
}

// Submit schedules a background closure and returns its Job handle
// immediately. The closure receives the Job's context, which is cancelled
// when the Job is cancelled. On completion the deliver continuation is
// posted to returnLoop with the result or error; pass a nil deliver (or
// nil returnLoop) when no delivery is wanted.
//
// Submit fails with ErrRejected once the pool is shut down or when a
// configured queue capacity is reached.
func (p *Pool) Submit(closure Closure, returnLoop *Loop, deliver Deliver) (*Job, error) {
	job := newJob(nil, returnLoop, false)
	if err := p.submitJob(job, closure, deliver); err != nil {
		return nil, err
	}
	return job, nil
}

// submitJob enqueues a pre-built Job. Used by Scope so the Job can be
// registered before it becomes runnable.
//
// The shuttingDown check must happen under p.mu: Shutdown flips the flag
// and drains the queue inside the same critical section, so a submission
// either lands before the drain (and is cancelled by it) or observes the
// flag and is rejected. An accepted Job is never stranded non-terminal.
func (p *Pool) submitJob(job *Job, closure Closure, deliver Deliver) error {
	p.mu.Lock()
	if p.shuttingDown.Load() {
		p.mu.Unlock()
		p.reject(job, "shutdown")
		return ErrRejected
	}
	if p.capacity > 0 && len(p.items) >= p.capacity {
		p.mu.Unlock()
		p.reject(job, "capacity")
		return ErrRejected
	}
	p.items = append(p.items, workItem{job: job, closure: closure, deliver: deliver})
	depth := len(p.items)
	p.queued.Add(1)
	p.mu.Unlock()

	p.metrics.RecordQueueDepth(p.name, depth)

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pool) reject(job *Job, reason string) {
	job.tryTransition(JobCancelled, nil, ErrRejected, JobCreated)
	p.rejected.Add(1)
	p.rejectedHandler.HandleRejectedTask(p.name, reason)
	p.metrics.RecordTaskRejected(p.name, reason)
}

// workerLoop pulls items in submission order and runs them to a terminal
// state.
func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()

	for {
		item, ok := p.getWork()
		if !ok {
			return
		}
		p.queued.Add(-1)

		job := item.job
		// A job cancelled before pickup never executes its closure.
		if !job.tryTransition(JobRunning, nil, nil, JobCreated) {
			p.metrics.RecordJobFinished(job.State())
			continue
		}

		p.active.Add(1)
		value, err := p.runClosure(id, item.closure, job)
		p.active.Add(-1)

		p.finalize(item, value, err)
	}
}

// getWork blocks until an item is available or the pool stops.
func (p *Pool) getWork() (workItem, bool) {
	for {
		p.mu.Lock()
		if len(p.items) > 0 {
			item := p.items[0]
			p.items[0] = workItem{}
			p.items = p.items[1:]
			p.mu.Unlock()
			return item, true
		}
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-p.stopCh:
			return workItem{}, false
		}
	}
}

// runClosure executes the closure with panic isolation, wrapping failures
// in *ClosureError. Cancellation errors pass through unwrapped.
func (p *Pool) runClosure(workerID int, closure Closure, job *Job) (value any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.metrics.RecordTaskPanic(p.name, r)
			p.panicHandler.HandlePanic(job.Context(), p.name, workerID, r, stack)
			value = nil
			err = &ClosureError{JobID: job.ID(), Cause: fmt.Errorf("%v", r), Panicked: true, Stack: stack}
		}
		p.metrics.RecordTaskDuration(p.name, time.Since(start))
	}()

	value, err = closure(job.Context())
	if err != nil && !isCancellation(err) {
		err = &ClosureError{JobID: job.ID(), Cause: err}
	}
	return value, err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// finalize records the terminal state and posts the delivery continuation.
// A job cancelled while running keeps no result and posts nothing.
func (p *Pool) finalize(item workItem, value any, err error) {
	job := item.job

	switch {
	case err == nil:
		if !job.tryTransition(JobCompleted, value, nil, JobRunning) {
			p.metrics.RecordJobFinished(JobCancelled)
			return
		}
	case isCancellation(err):
		job.tryTransition(JobCancelled, nil, ErrCancelled, JobRunning)
		p.metrics.RecordJobFinished(JobCancelled)
		return
	default:
		if !job.tryTransition(JobFailed, nil, err, JobRunning) {
			p.metrics.RecordJobFinished(JobCancelled)
			return
		}
	}
	p.metrics.RecordJobFinished(job.State())

	if item.deliver == nil || job.returnLoop == nil {
		// With nowhere to post a delivery, a launch failure still reaches
		// its scope's handler. Deferred jobs keep their error for Await.
		if job.scope != nil && !job.async && job.State() == JobFailed {
			job.scope.handleFailure(job, err)
		}
		return
	}
	// The delivered swap races delivery against a timeout continuation;
	// only the winner posts.
	if !job.delivered.CompareAndSwap(false, true) {
		return
	}
	deliver := item.deliver
	job.returnLoop.Post(func(ctx context.Context) {
		job.observed.Store(true)
		deliver(ctx, value, err)
	})
}

// Shutdown stops accepting submissions, cancels queued-but-unstarted jobs,
// lets in-flight closures finish and returns once all workers have exited.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.shuttingDown.Store(true)
		pending := p.items
		p.items = nil
		p.mu.Unlock()

		for _, item := range pending {
			item.job.tryTransition(JobCancelled, nil, ErrCancelled, JobCreated)
			p.queued.Add(-1)
			p.metrics.RecordJobFinished(JobCancelled)
		}

		close(p.stopCh)
		p.wg.Wait()
	})
}

// ShutdownGraceful stops accepting submissions and waits for queued and
// in-flight work to finish. On timeout the remaining queued jobs are
// cancelled and an error is returned.
func (p *Pool) ShutdownGraceful(timeout time.Duration) error {
	p.shuttingDown.Store(true)

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			p.Shutdown()
			return fmt.Errorf("looper: graceful shutdown timed out after %v", timeout)
		case <-ticker.C:
			if p.queued.Load() == 0 && p.active.Load() == 0 {
				p.Shutdown()
				return nil
			}
		}
	}
}

// WorkerCount returns the configured number of workers.
func (p *Pool) WorkerCount() int {
	return p.workers
}

// QueuedTaskCount returns the number of items waiting in the queue.
func (p *Pool) QueuedTaskCount() int {
	return int(p.queued.Load())
}

// ActiveTaskCount returns the number of closures currently executing.
func (p *Pool) ActiveTaskCount() int {
	return int(p.active.Load())
}

// Stats returns a snapshot of the pool's observable state.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:     p.name,
		Workers:  p.workers,
		Queued:   int(p.queued.Load()),
		Active:   int(p.active.Load()),
		Rejected: p.rejected.Load(),
		Running:  !p.shuttingDown.Load(),
	}
}
