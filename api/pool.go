// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract allocation APIs shared by the slab pools, the overflow
// heap and the cleanup dispatch.

package api

// SlotAllocator hands out fixed-size slots.
type SlotAllocator interface {
	// Alloc returns a zeroed slot.
	Alloc() (Ptr, error)

	// Free returns a slot. Contents are left as they are until reuse.
	Free(p Ptr) error

	// Bytes returns the slot's backing memory.
	Bytes(p Ptr) ([]byte, bool)

	// Owns reports whether p was handed out by this allocator.
	Owns(p Ptr) bool

	// Stats returns pool counters.
	Stats() PoolStats
}

// CleanupFunc releases one tracked pointer. Registered per Kind, it replaces
// the default release routine for that kind entirely.
type CleanupFunc func(p Ptr)

// Destructor runs type-specific teardown for an object before its storage
// goes back to the pool.
type Destructor interface {
	Destroy(p Ptr)
}

// DestructorFunc adapts a function to Destructor.
type DestructorFunc func(p Ptr)

// Destroy calls f(p).
func (f DestructorFunc) Destroy(p Ptr) { f(p) }
