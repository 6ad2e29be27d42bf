// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// Ptr is the address of a tracked allocation. Zero is the null pointer.
type Ptr uintptr

// Kind tags a tracked pointer with the release routine it needs.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindObject
	KindString
	KindArray
	KindList
	KindListAtom
	KindGeneric

	// NumKinds bounds the per-kind cleanup registry.
	NumKinds = 8
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindList:
		return "list"
	case KindListAtom:
		return "list-atom"
	case KindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// SizeClass selects one of the object slab pools.
type SizeClass uint8

const (
	// NumSizeClasses is the number of object slab pools.
	NumSizeClasses = 6

	// ClassNone marks overflow objects served by the general allocator.
	ClassNone SizeClass = 0xFF
)

// Pooled reports whether c names an object slab pool.
func (c SizeClass) Pooled() bool { return c < NumSizeClasses }

// Allocation is the result of a size-classed object allocation. The class
// must be handed back to TrackObject so the eventual free is routed to the
// right pool.
type Allocation struct {
	Ptr   Ptr
	Class SizeClass
	Size  int
}

// Stats is a point-in-time snapshot of subsystem counters.
type Stats struct {
	ScopesEntered       uint64 `json:"scopes_entered"`
	ScopesExited        uint64 `json:"scopes_exited"`
	ObjectsAllocated    uint64 `json:"objects_allocated"`
	ObjectsFreed        uint64 `json:"objects_freed"`
	ObjectsCleaned      uint64 `json:"objects_cleaned"`
	CleanupBatches      uint64 `json:"cleanup_batches"`
	SyncFallbacks       uint64 `json:"sync_fallbacks"`
	DoubleFreeAttempts  uint64 `json:"double_free_attempts"`
	RetainCalls         uint64 `json:"retain_calls"`
	TotalBytesAllocated uint64 `json:"total_bytes_allocated"`
	TotalBytesFreed     uint64 `json:"total_bytes_freed"`
	StringsTracked      uint64 `json:"strings_tracked"`
	StringsCleaned      uint64 `json:"strings_cleaned"`

	CurrentScopeDepth int `json:"current_scope_depth"`
	PeakScopeDepth    int `json:"peak_scope_depth"`
	PendingBatches    int `json:"pending_batches"`

	BloomMemoryBytes       int           `json:"bloom_memory_bytes"`
	TotalCleanupTime       time.Duration `json:"total_cleanup_time"`
	BackgroundWorkerActive bool          `json:"background_worker_active"`
}

// PoolStats describes one slab pool.
type PoolStats struct {
	Name               string `json:"name"`
	SlotSize           int    `json:"slot_size"`
	SlotsPerSlab       int    `json:"slots_per_slab"`
	Slabs              int    `json:"slabs"`
	Capacity           int    `json:"capacity"`
	InUse              int    `json:"in_use"`
	PeakUse            int    `json:"peak_use"`
	TotalAllocs        uint64 `json:"total_allocs"`
	TotalFrees         uint64 `json:"total_frees"`
	Fallbacks          int    `json:"fallbacks"`
	FootprintBytes     int    `json:"footprint_bytes"`
	PeakFootprintBytes int    `json:"peak_footprint_bytes"`
}

// UsagePercent returns the share of capacity currently handed out.
func (s PoolStats) UsagePercent() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.InUse) * 100 / float64(s.Capacity)
}
