package looper

import (
	"sync"

	"github.com/loopkit/looper/core"
)

// =============================================================================
// Global Pool Helper (Singleton)
// =============================================================================

var (
	globalPool *core.Pool
	globalMu   sync.Mutex
)

// InitGlobalPool initializes the shared pool with the given worker count.
// Workers start immediately. Calling it twice is a no-op.
func InitGlobalPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		return
	}
	globalPool = core.NewPoolWithConfig(&core.PoolConfig{
		Name:    "global-pool",
		Workers: workers,
	})
}

// GetGlobalPool returns the shared pool. It panics when InitGlobalPool has
// not been called.
func GetGlobalPool() *core.Pool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool == nil {
		panic("looper: global pool not initialized, call InitGlobalPool first")
	}
	return globalPool
}

// ShutdownGlobalPool shuts the shared pool down and releases it.
func ShutdownGlobalPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		globalPool.Shutdown()
		globalPool = nil
	}
}

// NewGlobalScope creates a Scope bound to the shared pool. This is the
// recommended way to tie background work to a component lifetime when the
// application uses one pool.
func NewGlobalScope(opts ...core.ScopeOption) *core.Scope {
	return core.NewScope(GetGlobalPool(), opts...)
}
