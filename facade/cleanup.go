// File: facade/cleanup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cleanup dispatch. Detached scope batches go to the bounded queue; when
// it is full, closed or the manager runs synchronously, the producer
// releases the batch itself. Each live entry is released by the function
// registered for its kind, or by the kind's default routine.

package facade

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/internal/scope"
)

// RegisterCleanup overrides the release routine for kind. A nil fn
// restores the default.
func (m *Manager) RegisterCleanup(kind api.Kind, fn api.CleanupFunc) {
	if int(kind) >= api.NumKinds {
		return
	}
	m.cleanupMu.Lock()
	m.cleanupFns[kind] = fn
	m.cleanupMu.Unlock()
}

func (m *Manager) cleanupFor(kind api.Kind) api.CleanupFunc {
	if int(kind) >= api.NumKinds {
		return nil
	}
	m.cleanupMu.RLock()
	defer m.cleanupMu.RUnlock()
	return m.cleanupFns[kind]
}

// submit hands b to the worker, or releases it inline under backpressure.
func (m *Manager) submit(b scope.Batch) {
	if b.Empty() {
		return
	}
	if m.worker == nil {
		m.processBatch(b)
		return
	}
	err := m.queue.TryEnqueue(b)
	if err == nil {
		return
	}
	if errors.Is(err, api.ErrQueueFull) {
		m.counters.SyncFallbacks.Add(1)
		if m.tracing() {
			m.logger.Debug("cleanup queue full, releasing inline", "depth", b.Depth, "entries", b.Live)
		}
	}
	m.processBatch(b)
}

// processBatch releases every live entry of b exactly once.
func (m *Manager) processBatch(b scope.Batch) {
	start := time.Now()
	for i := range b.Entries {
		e := b.Entries[i]
		if e.Tombstone() {
			continue
		}
		err := m.releaseEntry(e)
		b.Entries[i].Ptr = 0
		if err != nil {
			m.logger.Warn("release failed", "ptr", hexPtr(e.Ptr), "kind", e.Kind, "error", err)
			continue
		}
		m.counters.ObjectsCleaned.Add(1)
	}
	m.counters.CleanupBatches.Add(1)
	m.counters.AddCleanupTime(time.Since(start))
	if m.tracing() {
		m.logger.Debug("cleanup batch done", "depth", b.Depth, "entries", b.Live, "took", time.Since(start))
	}
}

// releaseEntry runs the release routine for e, recovering panics so the
// rest of the batch is still released. Only the default routines report
// errors; a custom routine that returns or panics counts as released.
func (m *Manager) releaseEntry(e scope.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("cleanup routine panicked", "ptr", hexPtr(e.Ptr), "kind", e.Kind, "panic", fmt.Sprint(r))
		}
	}()

	if fn := m.cleanupFor(e.Kind); fn != nil {
		if e.Kind == api.KindObject {
			m.dropDestructor(e.Ptr)
		}
		fn(e.Ptr)
	} else if err = m.defaultRelease(e); err != nil {
		return err
	}

	if e.Kind == api.KindObject && !e.Class.Pooled() {
		m.scopeMu.Lock()
		m.filter.Add(e.Ptr)
		m.scopeMu.Unlock()
	}
	return nil
}

// defaultRelease frees e by kind. Double frees are counted by the free
// routines themselves.
func (m *Manager) defaultRelease(e scope.Entry) error {
	switch e.Kind {
	case api.KindObject:
		if d := m.takeDestructor(e.Ptr); d != nil {
			d.Destroy(e.Ptr)
		}
		return m.freeObjectSlot(e.Ptr, e.Class)
	case api.KindString:
		if _, err := m.ReleaseString(e.Ptr); err != nil {
			return err
		}
		m.counters.StringsCleaned.Add(1)
		return nil
	case api.KindList:
		return m.FreeListHeader(e.Ptr)
	case api.KindListAtom:
		return m.FreeListAtom(e.Ptr)
	default:
		return m.genericFree(e.Ptr)
	}
}

// freeObjectSlot returns an object to the router, counting double frees.
func (m *Manager) freeObjectSlot(p api.Ptr, c api.SizeClass) error {
	n, err := m.pools.Objects.Free(p, c)
	if err != nil {
		if errors.Is(err, api.ErrDoubleFree) {
			m.counters.DoubleFreeAttempts.Add(1)
		}
		return err
	}
	m.counters.TotalBytesFreed.Add(uint64(n))
	return nil
}

// genericFree returns p to whichever allocator owns it.
func (m *Manager) genericFree(p api.Ptr) error {
	switch {
	case m.pools.Strings.Owns(p):
		return m.freePooled(m.pools.Strings, p)
	case m.pools.ListHeaders.Owns(p):
		return m.FreeListHeader(p)
	case m.pools.ListAtoms.Owns(p):
		return m.FreeListAtom(p)
	}
	c, ok := m.pools.Objects.ClassOf(p)
	if !ok {
		return api.ErrUnknownPointer
	}
	return m.freeObjectSlot(p, c)
}

// Wait blocks until every submitted batch has been released.
func (m *Manager) Wait() {
	if m.worker != nil && m.worker.Running() {
		m.queue.Wait()
	}
	if m.tracing() {
		m.logger.Debug("all pending cleanup complete")
	}
}
