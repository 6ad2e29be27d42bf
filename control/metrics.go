// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Lock-free subsystem counters. Statistics are observability only and
// never drive control flow.

package control

import (
	"sync/atomic"
	"time"

	"github.com/momentics/samm/api"
)

// Counters accumulates subsystem events.
type Counters struct {
	ScopesEntered       atomic.Uint64
	ScopesExited        atomic.Uint64
	ObjectsAllocated    atomic.Uint64
	ObjectsFreed        atomic.Uint64
	ObjectsCleaned      atomic.Uint64
	CleanupBatches      atomic.Uint64
	SyncFallbacks       atomic.Uint64
	DoubleFreeAttempts  atomic.Uint64
	RetainCalls         atomic.Uint64
	TotalBytesAllocated atomic.Uint64
	TotalBytesFreed     atomic.Uint64
	StringsTracked      atomic.Uint64
	StringsCleaned      atomic.Uint64

	cleanupNanos atomic.Int64
}

// AddCleanupTime accumulates time spent releasing batches.
func (c *Counters) AddCleanupTime(d time.Duration) {
	c.cleanupNanos.Add(int64(d))
}

// Snapshot copies the counters into an api.Stats. Gauges (depth, queue,
// worker liveness, Bloom memory) are filled in by the caller.
func (c *Counters) Snapshot() api.Stats {
	return api.Stats{
		ScopesEntered:       c.ScopesEntered.Load(),
		ScopesExited:        c.ScopesExited.Load(),
		ObjectsAllocated:    c.ObjectsAllocated.Load(),
		ObjectsFreed:        c.ObjectsFreed.Load(),
		ObjectsCleaned:      c.ObjectsCleaned.Load(),
		CleanupBatches:      c.CleanupBatches.Load(),
		SyncFallbacks:       c.SyncFallbacks.Load(),
		DoubleFreeAttempts:  c.DoubleFreeAttempts.Load(),
		RetainCalls:         c.RetainCalls.Load(),
		TotalBytesAllocated: c.TotalBytesAllocated.Load(),
		TotalBytesFreed:     c.TotalBytesFreed.Load(),
		StringsTracked:      c.StringsTracked.Load(),
		StringsCleaned:      c.StringsCleaned.Load(),
		TotalCleanupTime:    time.Duration(c.cleanupNanos.Load()),
	}
}
