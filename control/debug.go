// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Probe registry for pool, queue and platform introspection.

package control

import (
	"sort"
	"sync"

	"github.com/momentics/samm/api"
)

var _ api.Debug = (*DebugProbes)(nil)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]api.Probe
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]api.Probe),
	}
}

// RegisterProbe inserts a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn api.Probe) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// Names returns the registered probe names in sorted order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}

// PoolStats returns every probe that reports pool statistics, keyed by
// probe name.
func (dp *DebugProbes) PoolStats() map[string]api.PoolStats {
	out := make(map[string]api.PoolStats)
	for k, v := range dp.DumpState() {
		if ps, ok := v.(api.PoolStats); ok {
			out[k] = ps
		}
	}
	return out
}
