package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: error sink for panicking continuations and closures
// =============================================================================

// PanicHandler is called when a continuation or background closure panics.
// A panic never stops the Loop or a Pool worker; it is recovered, handed to
// the PanicHandler, and the loop moves on to the next item.
//
// Implementations must be safe for concurrent use.
type PanicHandler interface {
	// HandlePanic is called with the name of the loop or pool where the
	// panic occurred, the worker ID (-1 for a Loop), the recovered value
	// and the captured stack trace.
	HandlePanic(ctx context.Context, where string, workerID int, panicInfo any, stackTrace []byte)
}

// LogPanicHandler reports panics through a Logger.
type LogPanicHandler struct {
	Log Logger
}

func (h *LogPanicHandler) HandlePanic(ctx context.Context, where string, workerID int, panicInfo any, stackTrace []byte) {
	log := h.Log
	if log == nil {
		log = NewDefaultLogger()
	}
	log.Error("recovered panic",
		F("where", where),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: observability hooks
// =============================================================================

// Metrics collects execution metrics. Implementations can forward to
// monitoring systems (see observability/prometheus). Methods must be fast
// and non-blocking; NilMetrics is the default.
type Metrics interface {
	// RecordTaskDuration records how long a continuation or closure ran.
	RecordTaskDuration(name string, duration time.Duration)

	// RecordTaskPanic records that a continuation or closure panicked.
	RecordTaskPanic(name string, panicInfo any)

	// RecordQueueDepth records the current mailbox or work-queue depth.
	RecordQueueDepth(name string, depth int)

	// RecordTaskRejected records a refused post or submission.
	RecordTaskRejected(name string, reason string)

	// RecordJobFinished records a Job reaching a terminal state.
	RecordJobFinished(state JobState)
}

// NilMetrics is a no-op Metrics implementation.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(name string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(name string, panicInfo any)             {}
func (m *NilMetrics) RecordQueueDepth(name string, depth int)                {}
func (m *NilMetrics) RecordTaskRejected(name string, reason string)          {}
func (m *NilMetrics) RecordJobFinished(state JobState)                      {}

// =============================================================================
// RejectedTaskHandler
// =============================================================================

// RejectedTaskHandler is called when a post or submission is refused:
// the loop was stopped, the pool is shutting down, or the work queue is at
// its configured capacity.
//
// Implementations must be safe for concurrent use.
type RejectedTaskHandler interface {
	HandleRejectedTask(name string, reason string)
}

// LogRejectedTaskHandler reports rejections through a Logger.
type LogRejectedTaskHandler struct {
	Log Logger
}

func (h *LogRejectedTaskHandler) HandleRejectedTask(name string, reason string) {
	log := h.Log
	if log == nil {
		log = NewDefaultLogger()
	}
	log.Warn("task rejected", F("name", name), F("reason", reason))
}

// =============================================================================
// Configuration
// =============================================================================

// LoopConfig holds optional knobs for a Loop. Zero-value fields fall back
// to defaults.
type LoopConfig struct {
	// Name labels the loop in logs, metrics and stats.
	Name string

	// Clock drives PostDelayed. Defaults to SystemClock.
	Clock Clock

	// Logger receives loop lifecycle events. Defaults to the zap-backed
	// production logger.
	Logger Logger

	// PanicHandler receives recovered continuation panics.
	PanicHandler PanicHandler

	// Metrics receives execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler receives posts dropped after Stop.
	RejectedTaskHandler RejectedTaskHandler

	// HistoryCapacity bounds the ring of recent execution records.
	// Defaults to 100.
	HistoryCapacity int
}

// PoolConfig holds optional knobs for a Pool. Zero-value fields fall back
// to defaults.
type PoolConfig struct {
	// Name labels the pool in logs, metrics and stats.
	Name string

	// Workers is the number of worker goroutines. Defaults to
	// runtime.GOMAXPROCS(0).
	Workers int

	// QueueCapacity bounds the pending work queue. Zero means unbounded;
	// submissions over a positive capacity fail with ErrRejected.
	QueueCapacity int

	Logger              Logger
	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
}

func (c *LoopConfig) withDefaults() LoopConfig {
	out := LoopConfig{}
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = "loop"
	}
	if out.Clock == nil {
		out.Clock = SystemClock()
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &LogPanicHandler{Log: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &LogRejectedTaskHandler{Log: out.Logger}
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = defaultHistoryCapacity
	}
	return out
}

func (c *PoolConfig) withDefaults(defaultWorkers int) PoolConfig {
	out := PoolConfig{}
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = "pool"
	}
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &LogPanicHandler{Log: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &LogRejectedTaskHandler{Log: out.Logger}
	}
	return out
}
