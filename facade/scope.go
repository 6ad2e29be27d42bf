// File: facade/scope.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scope bracketing, tracking and ownership transfer. Every goroutine that
// runs nested blocks owns a Stack; the Manager's own methods use its main
// stack. All stacks share the scope lock and feed the one cleanup queue.

package facade

import (
	"fmt"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/internal/scope"
)

// Stack is one goroutine's scope stack. A Stack must not be used from two
// goroutines at once.
type Stack struct {
	m      *Manager
	s      *scope.Stack
	closed bool
}

func (m *Manager) newStack() *Stack {
	st := &Stack{m: m, s: scope.NewStack(m.cfg.MaxScopeDepth, m.cfg.ScopeInitialCapacity)}
	m.scopeMu.Lock()
	m.stacks[st] = struct{}{}
	m.scopeMu.Unlock()
	return st
}

// NewStack returns a private scope stack for the calling goroutine,
// positioned at its own global scope.
func (m *Manager) NewStack() *Stack { return m.newStack() }

// Main returns the manager's default stack.
func (m *Manager) Main() *Stack { return m.main }

func hexPtr(p api.Ptr) string { return fmt.Sprintf("%#x", uintptr(p)) }

// EnterScope opens a nested block. Exceeding the maximum depth terminates
// the process.
func (st *Stack) EnterScope() {
	m := st.m
	if !m.active() || st.closed {
		return
	}
	m.scopeMu.Lock()
	d, err := st.s.Enter()
	m.scopeMu.Unlock()
	if err != nil {
		m.fatal("maximum scope depth exceeded", "max_depth", st.s.MaxDepth(), "error", err)
		return
	}
	m.counters.ScopesEntered.Add(1)
	for {
		p := m.peak.Load()
		if int64(d) <= p || m.peak.CompareAndSwap(p, int64(d)) {
			break
		}
	}
	if m.tracing() {
		m.logger.Debug("enter scope", "depth", d)
	}
}

// ExitScope closes the innermost block and hands its allocations to the
// cleanup queue. Exiting the global scope is a no-op.
func (st *Stack) ExitScope() {
	m := st.m
	if !m.active() || st.closed {
		return
	}
	m.scopeMu.Lock()
	if m.closing.Load() {
		m.scopeMu.Unlock()
		return
	}
	b, err := st.s.Exit()
	depth := st.s.Depth()
	if err == nil {
		m.submitting.Add(1)
	}
	m.scopeMu.Unlock()
	if err != nil {
		if m.tracing() {
			m.logger.Debug("cannot exit global scope")
		}
		return
	}
	defer m.submitting.Done()
	m.counters.ScopesExited.Add(1)
	if m.tracing() {
		m.logger.Debug("exit scope", "depth", b.Depth, "entries", b.Live, "now", depth)
	}
	m.submit(b)
}

// ScopeDepth returns the current nesting depth, 0 being global.
func (st *Stack) ScopeDepth() int {
	st.m.scopeMu.Lock()
	defer st.m.scopeMu.Unlock()
	return st.s.Depth()
}

// Track registers p with the current scope. Object pointers are routed to
// their size class by address.
func (st *Stack) Track(p api.Ptr, kind api.Kind) {
	class := api.ClassNone
	if kind == api.KindObject {
		if c, ok := st.m.pools.Objects.ClassOf(p); ok {
			class = c
		}
	}
	st.track(scope.Entry{Ptr: p, Kind: kind, Class: class})
}

// TrackObject registers an object allocation, carrying its size class.
func (st *Stack) TrackObject(a api.Allocation) {
	st.track(scope.Entry{Ptr: a.Ptr, Kind: api.KindObject, Class: a.Class})
}

// TrackString registers a string descriptor.
func (st *Stack) TrackString(p api.Ptr) { st.track(scope.Entry{Ptr: p, Kind: api.KindString, Class: api.ClassNone}) }

// TrackList registers a list header.
func (st *Stack) TrackList(p api.Ptr) { st.track(scope.Entry{Ptr: p, Kind: api.KindList, Class: api.ClassNone}) }

// TrackListAtom registers a list atom.
func (st *Stack) TrackListAtom(p api.Ptr) {
	st.track(scope.Entry{Ptr: p, Kind: api.KindListAtom, Class: api.ClassNone})
}

func (st *Stack) track(e scope.Entry) {
	m := st.m
	if !m.active() || st.closed || e.Ptr == 0 {
		return
	}
	m.scopeMu.Lock()
	ok := st.s.Track(e)
	depth := st.s.Depth()
	m.scopeMu.Unlock()
	if ok && e.Kind == api.KindString {
		m.counters.StringsTracked.Add(1)
	}
	if m.tracing() {
		m.logger.Debug("track", "ptr", hexPtr(e.Ptr), "kind", e.Kind, "depth", depth, "added", ok)
	}
}

// Untrack removes p from the innermost scope holding it, looking at other
// stacks when this one does not track it. A pointer found in no scope is
// ignored.
func (st *Stack) Untrack(p api.Ptr) {
	m := st.m
	if !m.active() || st.closed || p == 0 {
		return
	}
	m.scopeMu.Lock()
	_, d, ok := st.s.Untrack(p)
	if !ok {
		_, d, ok = m.untrackElsewhere(st, p)
	}
	m.scopeMu.Unlock()
	if m.tracing() {
		if ok {
			m.logger.Debug("untrack", "ptr", hexPtr(p), "depth", d)
		} else {
			m.logger.Debug("untrack: pointer not tracked", "ptr", hexPtr(p))
		}
	}
}

// Retain moves p to the scope offset levels above the one that owns it,
// clamped to global. Untracked pointers and offset <= 0 are ignored.
func (st *Stack) Retain(p api.Ptr, offset int) {
	m := st.m
	if !m.active() || st.closed || p == 0 || offset <= 0 {
		return
	}
	m.counters.RetainCalls.Add(1)
	m.scopeMu.Lock()
	from, to, ok := st.s.Retain(p, offset)
	m.scopeMu.Unlock()
	if !ok {
		m.logger.Debug("retain: pointer not tracked", "ptr", hexPtr(p))
		return
	}
	if m.tracing() {
		m.logger.Debug("retain", "ptr", hexPtr(p), "from", from, "to", to)
	}
}

// RetainParent moves p to its owner's parent scope.
func (st *Stack) RetainParent(p api.Ptr) { st.Retain(p, 1) }

// Close releases every scope of the stack, including its global scope, and
// detaches it from the manager. Closing the main stack is a no-op; it is
// drained by Shutdown.
func (st *Stack) Close() {
	m := st.m
	if st.closed || st == m.main {
		return
	}
	st.closed = true
	m.scopeMu.Lock()
	if m.closing.Load() {
		// Shutdown drains every registered stack.
		m.scopeMu.Unlock()
		return
	}
	batches := st.s.DrainAll()
	delete(m.stacks, st)
	m.submitting.Add(1)
	m.scopeMu.Unlock()
	defer m.submitting.Done()
	for _, b := range batches {
		m.submit(b)
	}
}

// EnterScope opens a block on the main stack.
func (m *Manager) EnterScope() { m.main.EnterScope() }

// ExitScope closes the innermost block of the main stack.
func (m *Manager) ExitScope() { m.main.ExitScope() }

// ScopeDepth returns the main stack depth.
func (m *Manager) ScopeDepth() int { return m.main.ScopeDepth() }

// Track registers p in the current main-stack scope.
func (m *Manager) Track(p api.Ptr, kind api.Kind) { m.main.Track(p, kind) }

// TrackObject registers an object allocation in the main stack.
func (m *Manager) TrackObject(a api.Allocation) { m.main.TrackObject(a) }

// TrackString registers a string descriptor in the main stack.
func (m *Manager) TrackString(p api.Ptr) { m.main.TrackString(p) }

// TrackList registers a list header in the main stack.
func (m *Manager) TrackList(p api.Ptr) { m.main.TrackList(p) }

// TrackListAtom registers a list atom in the main stack.
func (m *Manager) TrackListAtom(p api.Ptr) { m.main.TrackListAtom(p) }

// Untrack removes p from the main stack.
func (m *Manager) Untrack(p api.Ptr) { m.main.Untrack(p) }

// Retain extends p's lifetime by offset enclosing scopes.
func (m *Manager) Retain(p api.Ptr, offset int) { m.main.Retain(p, offset) }

// RetainParent extends p's lifetime by one scope.
func (m *Manager) RetainParent(p api.Ptr) { m.main.RetainParent(p) }
