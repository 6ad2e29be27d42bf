// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for samm components.

package benchmarks

import (
	"io"
	"log/slog"
	"testing"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/control"
	"github.com/momentics/samm/core/concurrency"
	"github.com/momentics/samm/facade"
	"github.com/momentics/samm/internal/bloom"
	"github.com/momentics/samm/pool"
)

func newManager(b *testing.B, sync bool) *facade.Manager {
	b.Helper()
	cfg := control.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Output = io.Discard
	cfg.Synchronous = sync
	m, err := facade.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { m.Shutdown() })
	return m
}

// BenchmarkSlabPoolAllocFree measures one slot round trip.
func BenchmarkSlabPoolAllocFree(b *testing.B) {
	p, err := pool.NewSlabPool("bench", 64, 128)
	if err != nil {
		b.Fatal(err)
	}
	defer p.Destroy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr, err := p.Alloc()
		if err != nil {
			b.Fatal(err)
		}
		p.Free(ptr)
	}
}

// BenchmarkRouterParallel exercises every size class from many goroutines.
func BenchmarkRouterParallel(b *testing.B) {
	r, err := pool.NewRouter()
	if err != nil {
		b.Fatal(err)
	}
	defer r.Destroy()
	sizes := []int{24, 48, 100, 200, 400, 900}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			a, err := r.Alloc(sizes[i%len(sizes)])
			if err != nil {
				b.Error(err)
				return
			}
			r.Free(a.Ptr, a.Class)
			i++
		}
	})
}

// BenchmarkBloomCheck measures a membership probe on a populated filter.
func BenchmarkBloomCheck(b *testing.B) {
	f := bloom.NewDefault()
	for i := 1; i <= 10000; i++ {
		f.Add(api.Ptr(i * 64))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(api.Ptr(i * 8))
	}
}

// BenchmarkCleanupQueue measures enqueue/dequeue throughput.
func BenchmarkCleanupQueue(b *testing.B) {
	q, err := concurrency.NewCleanupQueue[int](1024)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := q.TryEnqueue(i); err != nil {
			b.Fatal(err)
		}
		q.TryDequeue()
		q.Done()
	}
}

// BenchmarkScopeEnterExit measures an empty block.
func BenchmarkScopeEnterExit(b *testing.B) {
	m := newManager(b, false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.EnterScope()
		m.ExitScope()
	}
}

// BenchmarkScopedObjects measures a block that allocates and tracks four
// objects, with cleanup on the background worker.
func BenchmarkScopedObjects(b *testing.B) {
	benchScopedObjects(b, false)
}

// BenchmarkScopedObjectsSync is BenchmarkScopedObjects with inline cleanup.
func BenchmarkScopedObjectsSync(b *testing.B) {
	benchScopedObjects(b, true)
}

func benchScopedObjects(b *testing.B, sync bool) {
	m := newManager(b, sync)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.EnterScope()
		for j := 0; j < 4; j++ {
			a, err := m.AllocObject(16 << j)
			if err != nil {
				b.Fatal(err)
			}
			m.TrackObject(a)
		}
		m.ExitScope()
	}
	m.Wait()
}

// BenchmarkConcurrentStacks runs independent stacks in parallel.
func BenchmarkConcurrentStacks(b *testing.B) {
	m := newManager(b, false)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		st := m.NewStack()
		defer st.Close()
		for pb.Next() {
			st.EnterScope()
			st.EnterScope()
			p, err := st.AllocString()
			if err != nil {
				b.Error(err)
				return
			}
			st.RetainParent(p)
			st.ExitScope()
			st.ExitScope()
		}
	})
	m.Wait()
}
