// File: pool/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Router dispatches object allocations to the size-class pools or to the
// overflow heap, and routes frees back by class.

package pool

import (
	"errors"
	"fmt"

	"github.com/momentics/samm/api"
)

// Router owns one SlabPool per size class plus the overflow heap.
type Router struct {
	pools [api.NumSizeClasses]*SlabPool
	heap  *Heap
}

// NewRouter creates the six object pools.
func NewRouter(opts ...Option) (*Router, error) {
	r := &Router{heap: NewHeap()}
	for c := 0; c < api.NumSizeClasses; c++ {
		p, err := NewSlabPool(classNames[c], classSlotSizes[c], classSlotsPerSlab[c], opts...)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.pools[c] = p
	}
	return r, nil
}

// Alloc returns a zeroed block of at least size bytes and the class that
// served it. Size must be positive.
func (r *Router) Alloc(size int) (api.Allocation, error) {
	if size <= 0 {
		return api.Allocation{}, api.ErrInvalidSize
	}
	c := ClassFor(size)
	if c.Pooled() {
		p, err := r.pools[c].Alloc()
		if err != nil {
			return api.Allocation{}, err
		}
		return api.Allocation{Ptr: p, Class: c, Size: size}, nil
	}
	p, err := r.heap.Alloc(size)
	if err != nil {
		return api.Allocation{}, err
	}
	return api.Allocation{Ptr: p, Class: api.ClassNone, Size: size}, nil
}

// Free releases p using class c and returns the number of bytes released.
// A class that does not own p is corrected by address lookup.
func (r *Router) Free(p api.Ptr, c api.SizeClass) (int, error) {
	if p == 0 {
		return 0, nil
	}
	if c.Pooled() {
		err := r.pools[c].Free(p)
		if err == nil {
			return classSlotSizes[c], nil
		}
		if !errors.Is(err, api.ErrUnknownPointer) {
			return 0, err
		}
	} else if n, err := r.heap.Free(p); err == nil {
		return n, nil
	}

	owner, ok := r.ClassOf(p)
	if !ok || owner == c {
		return 0, api.ErrUnknownPointer
	}
	if owner == api.ClassNone {
		return r.heap.Free(p)
	}
	if err := r.pools[owner].Free(p); err != nil {
		return 0, err
	}
	return classSlotSizes[owner], nil
}

// ClassOf finds the class that owns p. Overflow blocks report ClassNone.
func (r *Router) ClassOf(p api.Ptr) (api.SizeClass, bool) {
	for c, pl := range r.pools {
		if pl != nil && pl.Owns(p) {
			return api.SizeClass(c), true
		}
	}
	if r.heap.Owns(p) {
		return api.ClassNone, true
	}
	return api.ClassNone, false
}

// Bytes returns the memory behind p.
func (r *Router) Bytes(p api.Ptr, c api.SizeClass) ([]byte, bool) {
	if c.Pooled() {
		if b, ok := r.pools[c].Bytes(p); ok {
			return b, true
		}
	}
	if b, ok := r.heap.Bytes(p); ok {
		return b, true
	}
	if owner, ok := r.ClassOf(p); ok && owner.Pooled() {
		return r.pools[owner].Bytes(p)
	}
	return nil, false
}

// Pool returns the pool for class c, or nil for overflow.
func (r *Router) Pool(c api.SizeClass) *SlabPool {
	if !c.Pooled() {
		return nil
	}
	return r.pools[c]
}

// Pools returns all class pools in class order.
func (r *Router) Pools() []*SlabPool {
	out := make([]*SlabPool, 0, api.NumSizeClasses)
	for _, p := range r.pools {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Heap returns the overflow heap.
func (r *Router) Heap() *Heap { return r.heap }

// Destroy tears down every pool and the overflow heap and returns the
// number of leaked blocks.
func (r *Router) Destroy() (int, error) {
	var (
		leaked int
		errs   []error
	)
	for c, p := range r.pools {
		if p == nil {
			continue
		}
		n, err := p.Destroy()
		leaked += n
		if err != nil {
			errs = append(errs, fmt.Errorf("class %d: %w", c, err))
		}
		r.pools[c] = nil
	}
	leaked += r.heap.Release()
	return leaked, errors.Join(errs...)
}
