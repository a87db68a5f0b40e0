package core

import (
	"sync"
)

const (
	defaultMailboxCap   = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// Mailbox is the ordered, thread-safe queue of continuations owned by a
// Loop. Push never blocks; the mailbox grows as needed. Strict FIFO order
// is preserved for all producers.
type Mailbox struct {
	mu    sync.Mutex
	tasks []Task
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		tasks: make([]Task, 0, defaultMailboxCap),
	}
}

// Push appends a task. It never blocks the caller.
func (q *Mailbox) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

// Pop removes and returns the oldest task, if any.
func (q *Mailbox) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	task := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()

	return task, true
}

// Len returns the number of pending tasks.
func (q *Mailbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// IsEmpty reports whether the mailbox has no pending tasks.
func (q *Mailbox) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all pending tasks and releases their references.
func (q *Mailbox) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = make([]Task, 0, defaultMailboxCap)
}

// MaybeCompact shrinks the backing array when most of it is unused.
func (q *Mailbox) MaybeCompact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maybeCompactLocked()
}

func (q *Mailbox) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]Task, 0, defaultMailboxCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultMailboxCap), n)

	newSlice := make([]Task, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}
