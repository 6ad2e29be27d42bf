// Package fake
// Author: momentics <momentics@gmail.com>
//
// Recording cleanup functions and destructors for testing.

package fake

import (
	"sync"

	"github.com/momentics/samm/api"
)

// Recorder counts every pointer passed to its cleanup function.
type Recorder struct {
	mu      sync.Mutex
	calls   map[api.Ptr]int
	order   []api.Ptr
	panicOn map[api.Ptr]bool
	next    api.CleanupFunc
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		calls:   make(map[api.Ptr]int),
		panicOn: make(map[api.Ptr]bool),
	}
}

// Chain forwards every recorded call to fn, e.g. a real free routine.
func (r *Recorder) Chain(fn api.CleanupFunc) *Recorder {
	r.mu.Lock()
	r.next = fn
	r.mu.Unlock()
	return r
}

// PanicOn makes the cleanup function panic after recording p.
func (r *Recorder) PanicOn(p api.Ptr) *Recorder {
	r.mu.Lock()
	r.panicOn[p] = true
	r.mu.Unlock()
	return r
}

// Func returns the cleanup function to register.
func (r *Recorder) Func() api.CleanupFunc {
	return func(p api.Ptr) {
		r.mu.Lock()
		r.calls[p]++
		r.order = append(r.order, p)
		next, boom := r.next, r.panicOn[p]
		r.mu.Unlock()
		if boom {
			panic("fake: cleanup panic")
		}
		if next != nil {
			next(p)
		}
	}
}

// Count returns how often p was released.
func (r *Recorder) Count(p api.Ptr) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[p]
}

// Total returns the number of recorded calls.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Order returns the recorded pointers in call order.
func (r *Recorder) Order() []api.Ptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Ptr(nil), r.order...)
}

// Duplicates returns pointers released more than once.
func (r *Recorder) Duplicates() []api.Ptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []api.Ptr
	for p, n := range r.calls {
		if n > 1 {
			out = append(out, p)
		}
	}
	return out
}

// Destructor records Destroy calls.
type Destructor struct {
	mu    sync.Mutex
	calls []api.Ptr
}

var _ api.Destructor = (*Destructor)(nil)

// Destroy records p.
func (d *Destructor) Destroy(p api.Ptr) {
	d.mu.Lock()
	d.calls = append(d.calls, p)
	d.mu.Unlock()
}

// Calls returns the destroyed pointers in call order.
func (d *Destructor) Calls() []api.Ptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Ptr(nil), d.calls...)
}
