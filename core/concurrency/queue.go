// File: core/concurrency/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CleanupQueue is a bounded FIFO of cleanup batches guarded by one mutex and
// a "not empty" condition. Producers never block: TryEnqueue fails fast when
// the queue is full and the caller processes the item itself.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"

	"github.com/momentics/samm/api"
)

// CleanupQueue holds at most capacity items.
type CleanupQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	idle     *sync.Cond
	items    *queue.Queue
	capacity int
	inFlight int
	closed   bool

	_ cpu.CacheLinePad

	enqueued atomic.Uint64
	rejected atomic.Uint64
	peak     atomic.Int64
}

// NewCleanupQueue creates a queue with the given capacity.
func NewCleanupQueue[T any](capacity int) (*CleanupQueue[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	q := &CleanupQueue[T]{items: queue.New(), capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q, nil
}

// TryEnqueue appends v and wakes one consumer. It returns api.ErrQueueFull
// at capacity and api.ErrQueueClosed after Close.
func (q *CleanupQueue[T]) TryEnqueue(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.rejected.Add(1)
		return api.ErrQueueClosed
	}
	if q.items.Length() >= q.capacity {
		q.mu.Unlock()
		q.rejected.Add(1)
		return api.ErrQueueFull
	}
	q.items.Add(v)
	n := int64(q.items.Length())
	q.notEmpty.Signal()
	q.mu.Unlock()

	q.enqueued.Add(1)
	for {
		p := q.peak.Load()
		if n <= p || q.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Dequeue blocks until an item is available or the queue is closed and
// empty. A returned item counts as in flight until Done is called.
func (q *CleanupQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	return q.popLocked()
}

// TryDequeue returns the head item without waiting.
func (q *CleanupQueue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *CleanupQueue[T]) popLocked() (T, bool) {
	var zero T
	if q.items.Length() == 0 {
		return zero, false
	}
	v := q.items.Remove().(T)
	q.inFlight++
	return v, true
}

// Done marks one dequeued item as processed.
func (q *CleanupQueue[T]) Done() {
	q.mu.Lock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	if q.inFlight == 0 && q.items.Length() == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}

// Wait blocks until the queue is empty and nothing is in flight.
func (q *CleanupQueue[T]) Wait() {
	q.mu.Lock()
	for q.items.Length() > 0 || q.inFlight > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Idle reports whether the queue is empty with nothing in flight.
func (q *CleanupQueue[T]) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length() == 0 && q.inFlight == 0
}

// Close stops accepting items and wakes every waiting consumer. Items
// already queued remain available to Dequeue.
func (q *CleanupQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Closed reports whether Close was called.
func (q *CleanupQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *CleanupQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Cap returns the queue capacity.
func (q *CleanupQueue[T]) Cap() int { return q.capacity }

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Enqueued uint64
	Rejected uint64
	Peak     int
	Pending  int
	InFlight int
}

// Stats returns the queue counters.
func (q *CleanupQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	pending, inFlight := q.items.Length(), q.inFlight
	q.mu.Unlock()
	return QueueStats{
		Enqueued: q.enqueued.Load(),
		Rejected: q.rejected.Load(),
		Peak:     int(q.peak.Load()),
		Pending:  pending,
		InFlight: inFlight,
	}
}
