package core

import "time"

// ExecutionRecord captures one completed continuation execution on a Loop.
type ExecutionRecord struct {
	LoopName   string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// LoopStats represents runtime observability state for a Loop.
type LoopStats struct {
	Name     string
	Pending  int
	Running  bool
	Executed int64
	Rejected int64
	Stopped  bool
	LastTask ExecutionRecord
}

// PoolStats represents runtime observability state for a Pool.
type PoolStats struct {
	Name     string
	Workers  int
	Queued   int
	Active   int
	Rejected int64
	Running  bool
}

// ScopeStats represents bookkeeping state for a Scope.
type ScopeStats struct {
	Jobs      int
	Pending   int
	Children  int
	Cancelled bool
}
