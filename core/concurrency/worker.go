// File: core/concurrency/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker is the single background consumer of a CleanupQueue. It processes
// items until the queue is closed and fully drained.

package concurrency

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Worker drains a queue on its own goroutine.
type Worker[T any] struct {
	q       *CleanupQueue[T]
	handle  func(T)
	logger  *slog.Logger
	running atomic.Bool
	panics  atomic.Uint64
	stopped chan struct{}
}

// StartWorker launches a goroutine that calls handle for every item of q.
func StartWorker[T any](q *CleanupQueue[T], handle func(T), logger *slog.Logger) *Worker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker[T]{
		q:       q,
		handle:  handle,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	w.running.Store(true)
	go w.run()
	return w
}

func (w *Worker[T]) run() {
	defer func() {
		w.running.Store(false)
		close(w.stopped)
	}()
	for {
		v, ok := w.q.Dequeue()
		if !ok {
			return
		}
		w.safeExecute(v)
		w.q.Done()
	}
}

func (w *Worker[T]) safeExecute(v T) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.logger.Error("cleanup handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	w.handle(v)
}

// Stop closes the queue and waits for the worker to drain it and exit.
func (w *Worker[T]) Stop() {
	w.q.Close()
	<-w.stopped
}

// Running reports whether the worker goroutine is alive.
func (w *Worker[T]) Running() bool { return w.running.Load() }

// Panics returns the number of recovered handler panics.
func (w *Worker[T]) Panics() uint64 { return w.panics.Load() }
