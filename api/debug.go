// Package api
// Author: momentics
//
// Live introspection of allocator state.

package api

// Probe returns a point-in-time value for diagnostics, typically PoolStats.
type Probe func() any

// Debug exposes named probes over pools, queue and platform.
type Debug interface {
	// DumpState evaluates every registered probe.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a named probe.
	RegisterProbe(name string, fn Probe)
}
