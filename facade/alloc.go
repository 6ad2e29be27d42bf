// File: facade/alloc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed object allocation, explicit frees with double-free
// detection, and the pooled domain types: reference-counted string
// descriptors, list headers and list atoms.

package facade

import (
	"encoding/binary"
	"errors"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/internal/scope"
	"github.com/momentics/samm/pool"
)

// StringPayloadOffset is where string descriptor payload starts; the first
// bytes of the slot hold the reference count.
const StringPayloadOffset = 4

// AllocObject returns a zeroed block of at least size bytes together with
// the size class that must be passed to TrackObject.
func (m *Manager) AllocObject(size int) (api.Allocation, error) {
	if m.closing.Load() {
		return api.Allocation{}, api.ErrNotInitialized
	}
	a, err := m.pools.Objects.Alloc(size)
	if err != nil {
		return api.Allocation{}, err
	}
	m.counters.ObjectsAllocated.Add(1)
	m.counters.TotalBytesAllocated.Add(uint64(size))
	if m.tracing() {
		m.logger.Debug("alloc object", "ptr", hexPtr(a.Ptr), "size", size, "class", pool.ClassName(a.Class))
	}
	return a, nil
}

// FreeObject explicitly releases an object allocated by AllocObject. The
// object is untracked from whichever stack holds it. An untracked address
// that no allocator owns and that the Bloom filter has seen released is
// reported as a likely double free and not released.
// Destructors are not run on this path.
func (st *Stack) FreeObject(p api.Ptr) error {
	m := st.m
	if p == 0 {
		return nil
	}
	if m.closed.Load() {
		return api.ErrNotInitialized
	}

	class := api.ClassNone
	if m.switches.Enabled() {
		m.scopeMu.Lock()
		e, d, found := st.s.Untrack(p)
		if !found {
			e, d, found = m.untrackElsewhere(st, p)
		}
		if found {
			class = e.Class
			if m.tracing() {
				m.logger.Debug("free object untracked", "ptr", hexPtr(p), "depth", d)
			}
		} else {
			c, owned := m.pools.Objects.ClassOf(p)
			class = c
			if !owned && m.filter.Check(p) {
				m.scopeMu.Unlock()
				m.counters.DoubleFreeAttempts.Add(1)
				m.logger.Warn("possible double free (Bloom filter hit, not tracked)", "ptr", hexPtr(p))
				return api.ErrDoubleFree
			}
			if m.tracing() {
				m.logger.Debug("free object: untracked pointer", "ptr", hexPtr(p))
			}
		}
		m.scopeMu.Unlock()
	} else if c, ok := m.pools.Objects.ClassOf(p); ok {
		class = c
	}

	n, err := m.pools.Objects.Free(p, class)
	if err != nil {
		if errors.Is(err, api.ErrDoubleFree) {
			m.counters.DoubleFreeAttempts.Add(1)
		}
		m.logger.Warn("free object failed", "ptr", hexPtr(p), "error", err)
		return err
	}
	if !class.Pooled() && m.switches.Enabled() {
		m.scopeMu.Lock()
		m.filter.Add(p)
		m.scopeMu.Unlock()
	}
	m.dropDestructor(p)
	m.counters.TotalBytesFreed.Add(uint64(n))
	m.counters.ObjectsFreed.Add(1)
	return nil
}

// untrackElsewhere removes p from whichever registered stack other than st
// holds it. The caller holds scopeMu.
func (m *Manager) untrackElsewhere(st *Stack, p api.Ptr) (scope.Entry, int, bool) {
	for other := range m.stacks {
		if other == st {
			continue
		}
		if e, d, ok := other.s.Untrack(p); ok {
			return e, d, true
		}
	}
	return scope.Entry{}, -1, false
}

// FreeObject releases p, untracking it from whichever stack holds it.
func (m *Manager) FreeObject(p api.Ptr) error { return m.main.FreeObject(p) }

// SetDestructor registers d to run when the object at p is released by
// scope cleanup.
func (m *Manager) SetDestructor(p api.Ptr, d api.Destructor) {
	if p == 0 {
		return
	}
	m.dtorMu.Lock()
	if d == nil {
		delete(m.destructors, p)
	} else {
		m.destructors[p] = d
	}
	m.dtorMu.Unlock()
}

func (m *Manager) takeDestructor(p api.Ptr) api.Destructor {
	m.dtorMu.Lock()
	d := m.destructors[p]
	delete(m.destructors, p)
	m.dtorMu.Unlock()
	return d
}

func (m *Manager) dropDestructor(p api.Ptr) { m.takeDestructor(p) }

// IsProbablyFreed queries the Bloom filter for p.
func (m *Manager) IsProbablyFreed(p api.Ptr) bool {
	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()
	return m.filter.Check(p)
}

// RecordBytesFreed accounts bytes released by collaborator types outside
// the pools.
func (m *Manager) RecordBytesFreed(n uint64) { m.counters.TotalBytesFreed.Add(n) }

// Bytes returns the memory behind any live pointer handed out by the
// manager.
func (m *Manager) Bytes(p api.Ptr) ([]byte, bool) {
	if m.closed.Load() {
		return nil, false
	}
	for _, sp := range []*pool.SlabPool{m.pools.Strings, m.pools.ListHeaders, m.pools.ListAtoms} {
		if sp.Owns(p) {
			return sp.Bytes(p)
		}
	}
	return m.pools.Objects.Bytes(p, api.ClassNone)
}

// AllocString allocates a string descriptor with reference count 1 and
// tracks it in the stack's current scope.
func (st *Stack) AllocString() (api.Ptr, error) {
	m := st.m
	if m.closing.Load() {
		return 0, api.ErrNotInitialized
	}
	if st.closed {
		return 0, api.ErrStackClosed
	}
	p, err := m.pools.Strings.Alloc()
	if err != nil {
		return 0, err
	}
	if err := m.pools.Strings.WithSlot(p, func(slot []byte) {
		binary.LittleEndian.PutUint32(slot, 1)
	}); err != nil {
		m.pools.Strings.Free(p)
		return 0, err
	}
	m.counters.ObjectsAllocated.Add(1)
	m.counters.TotalBytesAllocated.Add(pool.StringSlotSize)
	st.TrackString(p)
	return p, nil
}

// AllocList allocates a list header and tracks it.
func (st *Stack) AllocList() (api.Ptr, error) {
	p, err := st.allocPooled(st.m.pools.ListHeaders)
	if err == nil {
		st.TrackList(p)
	}
	return p, err
}

// AllocListAtom allocates a list atom and tracks it.
func (st *Stack) AllocListAtom() (api.Ptr, error) {
	p, err := st.allocPooled(st.m.pools.ListAtoms)
	if err == nil {
		st.TrackListAtom(p)
	}
	return p, err
}

func (st *Stack) allocPooled(sp *pool.SlabPool) (api.Ptr, error) {
	m := st.m
	if m.closing.Load() {
		return 0, api.ErrNotInitialized
	}
	if st.closed {
		return 0, api.ErrStackClosed
	}
	p, err := sp.Alloc()
	if err != nil {
		return 0, err
	}
	m.counters.ObjectsAllocated.Add(1)
	m.counters.TotalBytesAllocated.Add(uint64(sp.SlotSize()))
	return p, nil
}

// AllocString allocates and tracks a string descriptor on the main stack.
func (m *Manager) AllocString() (api.Ptr, error) { return m.main.AllocString() }

// AllocList allocates and tracks a list header on the main stack.
func (m *Manager) AllocList() (api.Ptr, error) { return m.main.AllocList() }

// AllocListAtom allocates and tracks a list atom on the main stack.
func (m *Manager) AllocListAtom() (api.Ptr, error) { return m.main.AllocListAtom() }

// RetainString adds a reference to the string at p.
func (m *Manager) RetainString(p api.Ptr) error {
	if m.closed.Load() {
		return api.ErrNotInitialized
	}
	return m.pools.Strings.WithSlot(p, func(slot []byte) {
		binary.LittleEndian.PutUint32(slot, binary.LittleEndian.Uint32(slot)+1)
	})
}

// ReleaseString drops a reference to the string at p and frees the
// descriptor when the count reaches zero. It reports whether the
// descriptor was freed.
func (m *Manager) ReleaseString(p api.Ptr) (bool, error) {
	if m.closed.Load() {
		return false, api.ErrNotInitialized
	}
	var refs uint32
	err := m.pools.Strings.WithSlot(p, func(slot []byte) {
		refs = binary.LittleEndian.Uint32(slot)
		if refs > 0 {
			refs--
		}
		binary.LittleEndian.PutUint32(slot, refs)
	})
	if err == nil && refs == 0 {
		err = m.pools.Strings.Free(p)
		if err == nil {
			m.counters.TotalBytesFreed.Add(pool.StringSlotSize)
			return true, nil
		}
	}
	if err != nil {
		if errors.Is(err, api.ErrDoubleFree) {
			m.counters.DoubleFreeAttempts.Add(1)
		}
		return false, err
	}
	return false, nil
}

// StringRefs returns the reference count of the string at p.
func (m *Manager) StringRefs(p api.Ptr) (uint32, error) {
	var refs uint32
	err := m.pools.Strings.WithSlot(p, func(slot []byte) {
		refs = binary.LittleEndian.Uint32(slot)
	})
	return refs, err
}

// FreeListHeader returns a list header to its pool.
func (m *Manager) FreeListHeader(p api.Ptr) error {
	return m.freePooled(m.pools.ListHeaders, p)
}

// FreeListAtom returns a list atom to its pool.
func (m *Manager) FreeListAtom(p api.Ptr) error {
	return m.freePooled(m.pools.ListAtoms, p)
}

func (m *Manager) freePooled(sp *pool.SlabPool, p api.Ptr) error {
	if m.closed.Load() {
		return api.ErrNotInitialized
	}
	if err := sp.Free(p); err != nil {
		if errors.Is(err, api.ErrDoubleFree) {
			m.counters.DoubleFreeAttempts.Add(1)
		}
		return err
	}
	m.counters.TotalBytesFreed.Add(uint64(sp.SlotSize()))
	return nil
}
