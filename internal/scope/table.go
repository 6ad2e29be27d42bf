// File: internal/scope/table.go
// Package scope
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-depth tracking table. Entries are appended in tracking order; a
// removed entry keeps its slot with a zero Ptr (tombstone) so indices stay
// stable until the table is detached.

package scope

import "github.com/momentics/samm/api"

// Entry is one tracked allocation.
type Entry struct {
	Ptr   api.Ptr
	Kind  api.Kind
	Class api.SizeClass
}

// Tombstone reports whether the entry was removed.
func (e Entry) Tombstone() bool { return e.Ptr == 0 }

// Table holds the entries of one scope depth.
type Table struct {
	entries []Entry
	pos     map[api.Ptr]int
	live    int
	initCap int
}

func newTable(initCap int) *Table {
	return &Table{initCap: initCap, pos: make(map[api.Ptr]int)}
}

// Len returns the number of slots including tombstones.
func (t *Table) Len() int { return len(t.entries) }

// Live returns the number of non-tombstoned entries.
func (t *Table) Live() int { return t.live }

// Contains reports whether p is live in the table.
func (t *Table) Contains(p api.Ptr) bool {
	_, ok := t.pos[p]
	return ok
}

// track appends e. A pointer already live in the table is not added twice.
func (t *Table) track(e Entry) bool {
	if e.Ptr == 0 {
		return false
	}
	if _, dup := t.pos[e.Ptr]; dup {
		return false
	}
	if t.entries == nil {
		t.entries = make([]Entry, 0, t.initCap)
	}
	t.pos[e.Ptr] = len(t.entries)
	t.entries = append(t.entries, e)
	t.live++
	return true
}

// remove tombstones p and returns its entry.
func (t *Table) remove(p api.Ptr) (Entry, bool) {
	i, ok := t.pos[p]
	if !ok {
		return Entry{}, false
	}
	e := t.entries[i]
	t.entries[i].Ptr = 0
	delete(t.pos, p)
	t.live--
	return e, true
}

// detach hands the entries to a batch and leaves the table empty.
func (t *Table) detach(depth int) Batch {
	b := Batch{Depth: depth, Entries: t.entries, Live: t.live}
	t.entries = nil
	t.live = 0
	clear(t.pos)
	return b
}

// Batch is the detached content of one scope, processed exactly once.
type Batch struct {
	Depth   int
	Entries []Entry
	Live    int
}

// Empty reports whether the batch has nothing to release.
func (b Batch) Empty() bool { return b.Live == 0 }
