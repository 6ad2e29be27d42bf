// File: internal/scope/stack.go
// Package scope
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stack of per-depth tables. Depth 0 is the global scope and is always
// active. Stack is not safe for concurrent use; the owner serializes access
// with its scope lock.

package scope

import "github.com/momentics/samm/api"

const (
	// DefaultMaxDepth bounds nesting. Depths 0..DefaultMaxDepth-1 are valid.
	DefaultMaxDepth = 256

	// DefaultInitialCapacity is the first backing allocation of a table.
	DefaultInitialCapacity = 32
)

// Stack tracks allocations per lexical nesting depth.
type Stack struct {
	tables   []*Table
	depth    int
	peak     int
	maxDepth int
	initCap  int
}

// NewStack returns a stack positioned at the global scope.
func NewStack(maxDepth, initCap int) *Stack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if initCap <= 0 {
		initCap = DefaultInitialCapacity
	}
	s := &Stack{maxDepth: maxDepth, initCap: initCap}
	s.tables = append(s.tables, newTable(initCap))
	return s
}

// Depth returns the current depth.
func (s *Stack) Depth() int { return s.depth }

// Peak returns the deepest depth reached.
func (s *Stack) Peak() int { return s.peak }

// MaxDepth returns the nesting bound.
func (s *Stack) MaxDepth() int { return s.maxDepth }

// Table returns the table at depth d, or nil if d is not active.
func (s *Stack) Table(d int) *Table {
	if d < 0 || d > s.depth {
		return nil
	}
	return s.tables[d]
}

// Enter activates a new, empty depth and returns it.
func (s *Stack) Enter() (int, error) {
	next := s.depth + 1
	if next >= s.maxDepth {
		return s.depth, api.ErrMaxScopeDepth
	}
	if next == len(s.tables) {
		s.tables = append(s.tables, newTable(s.initCap))
	}
	s.depth = next
	if next > s.peak {
		s.peak = next
	}
	return next, nil
}

// Exit detaches the current depth and moves to its parent. The global
// scope cannot be exited.
func (s *Stack) Exit() (Batch, error) {
	if s.depth == 0 {
		return Batch{}, api.ErrGlobalScope
	}
	b := s.tables[s.depth].detach(s.depth)
	s.depth--
	return b, nil
}

// Track adds e to the current depth. It returns false for a null pointer or
// a pointer already live at any active depth; a pointer has one owner.
func (s *Stack) Track(e Entry) bool {
	if _, live := s.Find(e.Ptr); live {
		return false
	}
	return s.tables[s.depth].track(e)
}

// Find locates p, searching from the current depth outward.
func (s *Stack) Find(p api.Ptr) (int, bool) {
	for d := s.depth; d >= 0; d-- {
		if s.tables[d].Contains(p) {
			return d, true
		}
	}
	return -1, false
}

// Untrack removes p from the innermost depth holding it.
func (s *Stack) Untrack(p api.Ptr) (Entry, int, bool) {
	if p == 0 {
		return Entry{}, -1, false
	}
	for d := s.depth; d >= 0; d-- {
		if e, ok := s.tables[d].remove(p); ok {
			return e, d, true
		}
	}
	return Entry{}, -1, false
}

// Retain moves p from its owning depth to offset levels above it, clamped
// to the global scope. It returns the source and target depths.
func (s *Stack) Retain(p api.Ptr, offset int) (from, to int, ok bool) {
	if p == 0 || offset <= 0 {
		return -1, -1, false
	}
	e, from, ok := s.Untrack(p)
	if !ok {
		return -1, -1, false
	}
	to = max(0, from-offset)
	// A pointer already live at the target collapses into that entry.
	s.tables[to].track(e)
	return from, to, true
}

// Live returns the number of live entries across all active depths.
func (s *Stack) Live() int {
	n := 0
	for d := 0; d <= s.depth; d++ {
		n += s.tables[d].Live()
	}
	return n
}

// DrainAll detaches every active depth, innermost first, including the
// global scope, and leaves the stack at depth 0.
func (s *Stack) DrainAll() []Batch {
	out := make([]Batch, 0, s.depth+1)
	for d := s.depth; d >= 0; d-- {
		out = append(out, s.tables[d].detach(d))
	}
	s.depth = 0
	return out
}
