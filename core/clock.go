package core

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for the timer queue so delayed posts can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the waitable handle returned by Clock.NewTimer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// =============================================================================
// System clock (default)
// =============================================================================

type systemClock struct{}

// SystemClock returns the Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (t *systemTimer) C() <-chan time.Time        { return t.t.C }
func (t *systemTimer) Stop() bool                 { return t.t.Stop() }
func (t *systemTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }

// =============================================================================
// Manual clock (tests)
// =============================================================================

// ManualClock is a Clock whose time only moves when Advance is called.
// Timers created from it fire synchronously inside Advance.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManualClock creates a ManualClock starting at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{
		clock: c,
		when:  c.now.Add(d),
		ch:    make(chan time.Time, 1),
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer whose deadline has
// been reached, in deadline order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*manualTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.when.After(now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		select {
		case t.ch <- t.when:
		default:
		}
	}
}

type manualTimer struct {
	clock   *ManualClock
	when    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTimer) C() <-chan time.Time {
	return t.ch
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped && t.when.After(t.clock.now)
	t.stopped = true
	return wasActive
}

func (t *manualTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped && t.when.After(t.clock.now)
	t.stopped = false
	t.when = t.clock.now.Add(d)

	// Re-register in case the timer already fired and was dropped.
	found := false
	for _, reg := range t.clock.timers {
		if reg == t {
			found = true
			break
		}
	}
	if !found {
		t.clock.timers = append(t.clock.timers, t)
	}
	return wasActive
}
