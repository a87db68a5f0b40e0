package core

import (
	"container/heap"
	"sync"
	"time"
)

// Poster accepts continuations for later execution. Loop implements it.
type Poster interface {
	Post(task Task)
}

// delayedTask is a continuation scheduled for the future.
type delayedTask struct {
	runAt  time.Time
	task   Task
	target Poster
	index  int // for heap interface
}

type delayedTaskHeap []*delayedTask

func (h delayedTaskHeap) Len() int           { return len(h) }
func (h delayedTaskHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayedTaskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedTaskHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedTask)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedTaskHeap) Peek() *delayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// timerQueue drives delayed posts for one Loop. A single goroutine sleeps
// until the earliest deadline and re-posts due tasks to their target.
// The goroutine is started on first use and stopped with the Loop.
type timerQueue struct {
	clock    Clock
	mu       sync.Mutex
	pq       delayedTaskHeap
	wakeup   chan struct{}
	stop     chan struct{}
	start    sync.Once
	stopOnce sync.Once
}

func newTimerQueue(clock Clock) *timerQueue {
	tq := &timerQueue{
		clock:  clock,
		pq:     make(delayedTaskHeap, 0),
		wakeup: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	heap.Init(&tq.pq)
	return tq
}

// Schedule enqueues task to be posted to target after delay.
func (tq *timerQueue) Schedule(task Task, delay time.Duration, target Poster) {
	tq.start.Do(func() { go tq.loop() })

	tq.mu.Lock()
	item := &delayedTask{
		runAt:  tq.clock.Now().Add(delay),
		task:   task,
		target: target,
	}
	heap.Push(&tq.pq, item)
	atHead := item.index == 0
	tq.mu.Unlock()

	if atHead {
		select {
		case tq.wakeup <- struct{}{}:
		default:
		}
	}
}

func (tq *timerQueue) loop() {
	const idleWait = 1000 * time.Hour

	timer := tq.clock.NewTimer(idleWait)
	defer timer.Stop()

	for {
		next, ok := tq.nextRun()
		if ok && next <= 0 {
			tq.processExpired()
			continue
		}
		if !ok {
			next = idleWait
		}
		timer.Reset(next)

		select {
		case <-tq.stop:
			return
		case <-timer.C():
			tq.processExpired()
		case <-tq.wakeup:
			// Head changed, recalculate the wait.
			if !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
		}
	}
}

// nextRun returns the wait until the earliest task, and whether any task
// is pending.
func (tq *timerQueue) nextRun() (time.Duration, bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	item := tq.pq.Peek()
	if item == nil {
		return 0, false
	}
	return item.runAt.Sub(tq.clock.Now()), true
}

func (tq *timerQueue) processExpired() {
	tq.mu.Lock()

	now := tq.clock.Now()
	// Collect expired tasks so targets are posted to outside the lock.
	var expired []*delayedTask

	for tq.pq.Len() > 0 {
		item := tq.pq.Peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&tq.pq)
		expired = append(expired, item)
	}

	tq.mu.Unlock()

	for _, item := range expired {
		item.target.Post(item.task)
	}
}

func (tq *timerQueue) Stop() {
	tq.stopOnce.Do(func() {
		close(tq.stop)
	})

	// Release task and target references.
	tq.mu.Lock()
	tq.pq = make(delayedTaskHeap, 0)
	heap.Init(&tq.pq)
	tq.mu.Unlock()
}

func (tq *timerQueue) Pending() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return len(tq.pq)
}
