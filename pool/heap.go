// File: pool/heap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// General-purpose allocator for overflow objects and pool exhaustion
// fallbacks. Blocks stay referenced from the heap map until freed, which
// keeps their addresses valid.

package pool

import (
	"sync"
	"unsafe"

	"github.com/momentics/samm/api"
)

// Heap serves allocations that do not fit any slab pool.
type Heap struct {
	mu     sync.Mutex
	blocks map[api.Ptr][]byte
	bytes  int
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{blocks: make(map[api.Ptr][]byte)}
}

// Alloc returns a zeroed block of size bytes.
func (h *Heap) Alloc(size int) (api.Ptr, error) {
	if size <= 0 {
		return 0, api.ErrInvalidSize
	}
	buf := make([]byte, size)
	p := api.Ptr(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))

	h.mu.Lock()
	h.blocks[p] = buf
	h.bytes += size
	h.mu.Unlock()
	return p, nil
}

// Free releases p and returns the size of the block.
func (h *Heap) Free(p api.Ptr) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.blocks[p]
	if !ok {
		return 0, api.ErrUnknownPointer
	}
	delete(h.blocks, p)
	h.bytes -= len(buf)
	return len(buf), nil
}

// Bytes returns the block's memory.
func (h *Heap) Bytes(p api.Ptr) ([]byte, bool) {
	h.mu.Lock()
	buf, ok := h.blocks[p]
	h.mu.Unlock()
	return buf, ok
}

// Owns reports whether p is a live heap block.
func (h *Heap) Owns(p api.Ptr) bool {
	h.mu.Lock()
	_, ok := h.blocks[p]
	h.mu.Unlock()
	return ok
}

// Len returns the number of live blocks.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}

// InUseBytes returns the total size of live blocks.
func (h *Heap) InUseBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytes
}

// Release drops every block and returns how many were still live.
func (h *Heap) Release() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.blocks)
	h.blocks = make(map[api.Ptr][]byte)
	h.bytes = 0
	return n
}
