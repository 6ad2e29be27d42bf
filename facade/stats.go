// File: facade/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Point-in-time statistics and their human-readable reports.

package facade

import (
	"errors"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/momentics/samm/api"
)

// Stats returns a snapshot of the subsystem counters and gauges.
func (m *Manager) Stats() api.Stats {
	s := m.counters.Snapshot()

	m.scopeMu.Lock()
	s.CurrentScopeDepth = m.main.s.Depth()
	s.BloomMemoryBytes = m.filter.SizeBytes()
	m.scopeMu.Unlock()

	s.PeakScopeDepth = int(m.peak.Load())
	s.PendingBatches = m.queue.Len()
	s.BackgroundWorkerActive = m.worker != nil && m.worker.Running()
	return s
}

// PoolStats returns the statistics of every slab pool.
func (m *Manager) PoolStats() []api.PoolStats {
	if m.closed.Load() {
		return nil
	}
	pools := m.pools.All()
	out := make([]api.PoolStats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	return out
}

// Validate runs the consistency check of every slab pool.
func (m *Manager) Validate() error {
	if m.closed.Load() {
		return api.ErrNotInitialized
	}
	var errs []error
	for _, p := range m.pools.All() {
		errs = append(errs, p.Validate())
	}
	return errors.Join(errs...)
}

// PrintStats writes the counter report to w.
func (m *Manager) PrintStats(w io.Writer) {
	s := m.Stats()
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\n=== SAMM Statistics ===\n")
	p.Fprintf(w, "  Scopes entered:       %d\n", s.ScopesEntered)
	p.Fprintf(w, "  Scopes exited:        %d\n", s.ScopesExited)
	p.Fprintf(w, "  Objects allocated:    %d\n", s.ObjectsAllocated)
	p.Fprintf(w, "  Objects freed:        %d\n", s.ObjectsFreed)
	p.Fprintf(w, "  Objects cleaned:      %d\n", s.ObjectsCleaned)
	p.Fprintf(w, "  Strings tracked:      %d\n", s.StringsTracked)
	p.Fprintf(w, "  Strings cleaned:      %d\n", s.StringsCleaned)
	p.Fprintf(w, "  Cleanup batches:      %d\n", s.CleanupBatches)
	p.Fprintf(w, "  Sync fallbacks:       %d\n", s.SyncFallbacks)
	p.Fprintf(w, "  Double-free catches:  %d\n", s.DoubleFreeAttempts)
	p.Fprintf(w, "  Retain calls:         %d\n", s.RetainCalls)
	p.Fprintf(w, "  Bytes allocated:      %d\n", s.TotalBytesAllocated)
	p.Fprintf(w, "  Bytes freed:          %d\n", s.TotalBytesFreed)
	p.Fprintf(w, "  Current scope depth:  %d\n", s.CurrentScopeDepth)
	p.Fprintf(w, "  Peak scope depth:     %d\n", s.PeakScopeDepth)
	p.Fprintf(w, "  Pending batches:      %d\n", s.PendingBatches)
	if s.BloomMemoryBytes > 0 {
		p.Fprintf(w, "  Bloom filter memory:  %d bytes (%.1f KB)\n", s.BloomMemoryBytes, float64(s.BloomMemoryBytes)/1024)
	} else {
		p.Fprintf(w, "  Bloom filter:         not allocated (no overflow objects)\n")
	}
	p.Fprintf(w, "  Cleanup time:         %.3f ms\n", float64(s.TotalCleanupTime.Microseconds())/1000)
	worker := "stopped"
	if s.BackgroundWorkerActive {
		worker = "active"
	}
	p.Fprintf(w, "  Background worker:    %s\n", worker)
	p.Fprintf(w, "=======================\n\n")
}

// PrintPoolStats writes one line per slab pool to w.
func (m *Manager) PrintPoolStats(w io.Writer) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "=== SAMM Pools ===\n")
	p.Fprintf(w, "  %-11s %6s %6s %6s %9s %9s %9s %6s %12s\n",
		"pool", "slot", "slabs", "cap", "in use", "peak", "allocs", "spill", "footprint")
	for _, s := range m.PoolStats() {
		p.Fprintf(w, "  %-11s %6d %6d %6d %9d %9d %9d %6d %12d  (%.1f%%)\n",
			s.Name, s.SlotSize, s.Slabs, s.Capacity, s.InUse, s.PeakUse, s.TotalAllocs,
			s.Fallbacks, s.FootprintBytes, s.UsagePercent())
	}
	p.Fprintf(w, "==================\n")
}
