package facade

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/control"
	"github.com/momentics/samm/fake"
)

func newTestManager(t *testing.T, mutate ...func(*control.Config)) *Manager {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Output = io.Discard
	for _, f := range mutate {
		f(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func inUse(m *Manager) int {
	n := 0
	for _, s := range m.PoolStats() {
		n += s.InUse
	}
	return n
}

func TestStringReleasedOnScopeExit(t *testing.T) {
	m := newTestManager(t)

	m.EnterScope()
	_, err := m.AllocString()
	require.NoError(t, err)
	m.ExitScope()
	m.Wait()

	st := m.Stats()
	assert.Equal(t, uint64(1), st.ObjectsAllocated)
	assert.Equal(t, uint64(1), st.ObjectsCleaned)
	assert.Equal(t, uint64(0), st.ObjectsFreed)
	assert.Equal(t, uint64(1), st.StringsTracked)
	assert.Equal(t, uint64(1), st.StringsCleaned)
	assert.Equal(t, uint64(1), st.CleanupBatches)
	assert.Zero(t, inUse(m))
}

func TestRetainDefersReleaseToAncestor(t *testing.T) {
	m := newTestManager(t)
	rec := fake.NewRecorder().Chain(func(p api.Ptr) { m.genericFree(p) })
	m.RegisterCleanup(api.KindObject, rec.Func())

	m.EnterScope()
	m.EnterScope()
	a, err := m.AllocObject(16)
	require.NoError(t, err)
	m.TrackObject(a)
	m.Retain(a.Ptr, 1)

	m.ExitScope()
	m.Wait()
	assert.Equal(t, 0, rec.Count(a.Ptr), "released when the inner scope exited")
	assert.Equal(t, 1, m.ScopeDepth())

	m.ExitScope()
	m.Wait()
	assert.Equal(t, 1, rec.Count(a.Ptr))
	assert.Equal(t, uint64(1), m.Stats().RetainCalls)
	assert.Zero(t, inUse(m))
}

func TestRetainParentClampsToGlobal(t *testing.T) {
	m := newTestManager(t)
	rec := fake.NewRecorder()
	m.RegisterCleanup(api.KindGeneric, rec.Func())

	m.EnterScope()
	m.Track(api.Ptr(0x1000), api.KindGeneric)
	m.RetainParent(api.Ptr(0x1000))
	m.RetainParent(api.Ptr(0x1000))
	m.ExitScope()
	m.Wait()
	assert.Zero(t, rec.Total())

	require.NoError(t, m.Shutdown())
	assert.Equal(t, 1, rec.Count(api.Ptr(0x1000)))
}

func TestExitGlobalScopeIsNoop(t *testing.T) {
	m := newTestManager(t)
	rec := fake.NewRecorder()
	m.RegisterCleanup(api.KindGeneric, rec.Func())
	m.Track(api.Ptr(0x2000), api.KindGeneric)

	m.ExitScope()
	m.Wait()

	st := m.Stats()
	assert.Equal(t, 0, st.CurrentScopeDepth)
	assert.Zero(t, st.ScopesExited)
	assert.Zero(t, st.CleanupBatches)
	assert.Zero(t, rec.Total())
}

func TestMaxScopeDepthAborts(t *testing.T) {
	if os.Getenv("SAMM_ABORT_CHILD") == "1" {
		cfg := control.DefaultConfig()
		cfg.MaxScopeDepth = 4
		m, err := New(cfg)
		if err != nil {
			os.Exit(3)
		}
		for i := 0; i < 8; i++ {
			m.EnterScope()
		}
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestMaxScopeDepthAborts$")
	cmd.Env = append(os.Environ(), "SAMM_ABORT_CHILD=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
	assert.Contains(t, stderr.String(), "maximum scope depth exceeded")
}

func TestAllocFreeRoundTrip(t *testing.T) {
	m := newTestManager(t)
	for _, size := range []int{8, 60, 100, 250, 500, 1000, 4000} {
		before := inUse(m)
		a, err := m.AllocObject(size)
		require.NoError(t, err)
		require.NoError(t, m.FreeObject(a.Ptr))
		assert.Equal(t, before, inUse(m), "size %d", size)
	}
	st := m.Stats()
	assert.Equal(t, uint64(7), st.ObjectsAllocated)
	assert.Equal(t, uint64(7), st.ObjectsFreed)
	assert.Zero(t, st.DoubleFreeAttempts)
	require.NoError(t, m.Validate())
}

func TestFreeObjectUntracksFromScope(t *testing.T) {
	m := newTestManager(t)
	m.EnterScope()
	a, err := m.AllocObject(64)
	require.NoError(t, err)
	m.TrackObject(a)
	require.NoError(t, m.FreeObject(a.Ptr))
	m.ExitScope()
	m.Wait()

	st := m.Stats()
	assert.Equal(t, uint64(1), st.ObjectsFreed)
	assert.Zero(t, st.ObjectsCleaned)
	assert.Zero(t, st.DoubleFreeAttempts)
}

func TestBackpressureDropsNothing(t *testing.T) {
	m := newTestManager(t, func(c *control.Config) { c.QueueCapacity = 1 })

	gate := make(chan struct{})
	var first api.Ptr
	var once sync.Once
	rec := fake.NewRecorder().Chain(func(p api.Ptr) {
		if p == first {
			<-gate
		}
		m.genericFree(p)
	})
	m.RegisterCleanup(api.KindObject, rec.Func())

	const batches = 50
	for i := 0; i < batches; i++ {
		m.EnterScope()
		for j := 0; j < 3; j++ {
			a, err := m.AllocObject(32 + j*100)
			require.NoError(t, err)
			once.Do(func() { first = a.Ptr })
			m.TrackObject(a)
		}
		m.ExitScope()
	}
	close(gate)
	m.Wait()

	st := m.Stats()
	assert.Equal(t, st.ObjectsAllocated, st.ObjectsFreed+st.ObjectsCleaned)
	assert.Equal(t, uint64(batches*3), st.ObjectsCleaned)
	assert.GreaterOrEqual(t, st.SyncFallbacks, uint64(batches-2))
	assert.Empty(t, rec.Duplicates())
	assert.Zero(t, inUse(m))
}

func TestUntrackedFreeIsLegal(t *testing.T) {
	m := newTestManager(t)
	a, err := m.AllocObject(2000)
	require.NoError(t, err)
	require.Equal(t, api.ClassNone, a.Class)

	require.NoError(t, m.FreeObject(a.Ptr))
	st := m.Stats()
	assert.Zero(t, st.DoubleFreeAttempts)
	assert.Equal(t, uint64(1), st.ObjectsFreed)
	assert.True(t, m.IsProbablyFreed(a.Ptr))

	assert.ErrorIs(t, m.FreeObject(a.Ptr), api.ErrDoubleFree)
	assert.Equal(t, uint64(1), m.Stats().DoubleFreeAttempts)
	assert.Equal(t, uint64(1), m.Stats().ObjectsFreed)
}

func TestPooledDoubleFreeDetected(t *testing.T) {
	m := newTestManager(t)
	a, err := m.AllocObject(40)
	require.NoError(t, err)
	require.NoError(t, m.FreeObject(a.Ptr))
	assert.ErrorIs(t, m.FreeObject(a.Ptr), api.ErrDoubleFree)
	assert.Equal(t, uint64(1), m.Stats().DoubleFreeAttempts)
	require.NoError(t, m.Validate())
}

func TestOverflowCleanupFeedsBloomFilter(t *testing.T) {
	m := newTestManager(t)
	assert.Zero(t, m.Stats().BloomMemoryBytes)

	m.EnterScope()
	a, err := m.AllocObject(5000)
	require.NoError(t, err)
	m.TrackObject(a)
	m.ExitScope()
	m.Wait()

	assert.True(t, m.IsProbablyFreed(a.Ptr))
	assert.Equal(t, 524288/8, m.Stats().BloomMemoryBytes)
	assert.ErrorIs(t, m.FreeObject(a.Ptr), api.ErrDoubleFree)
}

func TestDisabledIsPassthrough(t *testing.T) {
	m := newTestManager(t)
	m.SetEnabled(false)
	assert.False(t, m.IsEnabled())

	m.EnterScope()
	assert.Equal(t, 0, m.ScopeDepth())
	p, err := m.AllocString()
	require.NoError(t, err)
	m.Retain(p, 1)
	m.ExitScope()
	m.Wait()

	st := m.Stats()
	assert.Zero(t, st.ScopesEntered)
	assert.Zero(t, st.StringsTracked)
	assert.Zero(t, st.RetainCalls)
	assert.Equal(t, 1, m.pools.Strings.Stats().InUse)

	freed, err := m.ReleaseString(p)
	require.NoError(t, err)
	assert.True(t, freed)

	m.SetEnabled(true)
	m.EnterScope()
	assert.Equal(t, 1, m.ScopeDepth())
	m.ExitScope()
}

func TestCustomCleanupPanicDoesNotStopBatch(t *testing.T) {
	m := newTestManager(t)
	rec := fake.NewRecorder().PanicOn(api.Ptr(0x10))
	m.RegisterCleanup(api.KindGeneric, rec.Func())

	m.EnterScope()
	m.Track(api.Ptr(0x10), api.KindGeneric)
	m.Track(api.Ptr(0x20), api.KindGeneric)
	m.ExitScope()
	m.Wait()

	assert.Equal(t, []api.Ptr{0x10, 0x20}, rec.Order())
	assert.Equal(t, uint64(2), m.Stats().ObjectsCleaned)

	m.RegisterCleanup(api.KindGeneric, nil)
	assert.Nil(t, m.cleanupFor(api.KindGeneric))
}

func TestDestructorRunsBeforePoolReturn(t *testing.T) {
	m := newTestManager(t)
	d := &fake.Destructor{}

	m.EnterScope()
	a, err := m.AllocObject(128)
	require.NoError(t, err)
	m.SetDestructor(a.Ptr, d)
	m.TrackObject(a)
	m.ExitScope()
	m.Wait()

	assert.Equal(t, []api.Ptr{a.Ptr}, d.Calls())
	assert.Zero(t, inUse(m))
	assert.Equal(t, uint64(128), m.Stats().TotalBytesFreed)
}

func TestStringRefcount(t *testing.T) {
	m := newTestManager(t)

	m.EnterScope()
	p, err := m.AllocString()
	require.NoError(t, err)
	require.NoError(t, m.RetainString(p))
	refs, err := m.StringRefs(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), refs)
	m.ExitScope()
	m.Wait()

	refs, err = m.StringRefs(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), refs)
	assert.Equal(t, uint64(1), m.Stats().StringsCleaned)

	freed, err := m.ReleaseString(p)
	require.NoError(t, err)
	assert.True(t, freed)
	_, err = m.StringRefs(p)
	assert.ErrorIs(t, err, api.ErrDoubleFree)
}

func TestListsReturnToPools(t *testing.T) {
	m := newTestManager(t)

	m.EnterScope()
	h, err := m.AllocList()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := m.AllocListAtom()
		require.NoError(t, err)
	}
	b, ok := m.Bytes(h)
	require.True(t, ok)
	assert.Len(t, b, 32)
	m.ExitScope()
	m.Wait()

	assert.Zero(t, m.pools.ListHeaders.Stats().InUse)
	assert.Zero(t, m.pools.ListAtoms.Stats().InUse)
	assert.Equal(t, uint64(11), m.Stats().ObjectsCleaned)
}

func TestSynchronousMode(t *testing.T) {
	m := newTestManager(t, func(c *control.Config) { c.Synchronous = true })
	assert.False(t, m.Stats().BackgroundWorkerActive)

	m.EnterScope()
	_, err := m.AllocString()
	require.NoError(t, err)
	m.ExitScope()

	assert.Equal(t, uint64(1), m.Stats().ObjectsCleaned)
	assert.Zero(t, m.pools.Strings.Stats().InUse)
}

func TestConcurrentStacks(t *testing.T) {
	m := newTestManager(t, func(c *control.Config) { c.QueueCapacity = 8 })
	assert.True(t, m.Stats().BackgroundWorkerActive)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := m.NewStack()
			defer st.Close()
			for i := 0; i < 200; i++ {
				st.EnterScope()
				a, err := m.AllocObject(24 + i%900)
				if err != nil {
					t.Error(err)
					return
				}
				st.TrackObject(a)
				if _, err := st.AllocString(); err != nil {
					t.Error(err)
					return
				}
				st.EnterScope()
				inner, _ := m.AllocObject(64)
				st.TrackObject(inner)
				if i%5 == 0 {
					st.Retain(inner.Ptr, 1)
				}
				st.ExitScope()
				st.ExitScope()
			}
		}()
	}
	wg.Wait()
	m.Wait()

	st := m.Stats()
	assert.Equal(t, uint64(8*200*3), st.ObjectsAllocated)
	assert.Equal(t, st.ObjectsAllocated, st.ObjectsCleaned)
	assert.Zero(t, st.DoubleFreeAttempts)
	assert.Equal(t, 2, st.PeakScopeDepth)
	assert.Zero(t, inUse(m))
	require.NoError(t, m.Validate())
}

func TestStackCloseDrainsItsGlobalScope(t *testing.T) {
	m := newTestManager(t)
	st := m.NewStack()
	_, err := st.AllocString()
	require.NoError(t, err)
	st.EnterScope()
	st.Close()
	m.Wait()

	assert.Equal(t, uint64(1), m.Stats().StringsCleaned)
	assert.Zero(t, m.pools.Strings.Stats().InUse)

	st.EnterScope()
	assert.Equal(t, 0, st.ScopeDepth())
	_, err = st.AllocList()
	assert.ErrorIs(t, err, api.ErrStackClosed)
}

func TestShutdownDrainsEverything(t *testing.T) {
	m := newTestManager(t)
	rec := fake.NewRecorder()
	m.RegisterCleanup(api.KindGeneric, rec.Func())

	m.Track(api.Ptr(0x100), api.KindGeneric)
	m.EnterScope()
	m.Track(api.Ptr(0x200), api.KindGeneric)
	m.EnterScope()
	m.Track(api.Ptr(0x300), api.KindGeneric)

	require.NoError(t, m.Shutdown())
	assert.Equal(t, 3, rec.Total())
	assert.True(t, m.Closed())
	assert.False(t, m.Stats().BackgroundWorkerActive)

	require.NoError(t, m.Shutdown())
	_, err := m.AllocObject(10)
	assert.ErrorIs(t, err, api.ErrNotInitialized)
}

func TestShutdownPrintsStats(t *testing.T) {
	var out bytes.Buffer
	m := newTestManager(t, func(c *control.Config) {
		c.Stats = true
		c.Output = &out
	})
	for i := 0; i < 1500; i++ {
		m.EnterScope()
		m.ExitScope()
	}
	require.NoError(t, m.Shutdown())

	assert.Contains(t, out.String(), "=== SAMM Statistics ===")
	assert.Contains(t, out.String(), "1,500")
	assert.Contains(t, out.String(), "Object1024")
	assert.Contains(t, out.String(), "StringDesc")
}

func TestDebugProbes(t *testing.T) {
	m := newTestManager(t)
	state := m.Debug().DumpState()
	assert.Contains(t, state, "pool.Object32")
	assert.Contains(t, state, "pool.ListAtom")
	assert.Contains(t, state, "queue")
	assert.Contains(t, state, "platform.cpus")
}

func TestSetTrace(t *testing.T) {
	m := newTestManager(t)
	m.SetTrace(true)
	assert.True(t, m.tracing())
	m.EnterScope()
	m.ExitScope()
	m.SetTrace(false)
	assert.False(t, m.tracing())
}

func TestRecordBytesFreed(t *testing.T) {
	m := newTestManager(t)
	m.RecordBytesFreed(100)
	assert.Equal(t, uint64(100), m.Stats().TotalBytesFreed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.QueueCapacity = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestDefaultInstance(t *testing.T) {
	t.Setenv(control.EnvSync, "1")
	require.NoError(t, Shutdown())

	m := Init()
	assert.Same(t, m, Init())
	assert.Same(t, m, Default())
	assert.False(t, m.Stats().BackgroundWorkerActive)

	EnterScope()
	a, err := AllocObject(100)
	require.NoError(t, err)
	TrackObject(a)
	ExitScope()
	Wait()
	assert.Equal(t, uint64(1), Stats().ObjectsCleaned)

	require.NoError(t, Shutdown())
	require.NoError(t, Shutdown())
	assert.True(t, m.Closed())
}

func TestNestedRetrackKeepsSingleOwner(t *testing.T) {
	m := newTestManager(t)

	m.EnterScope()
	a, err := m.AllocObject(64)
	require.NoError(t, err)
	m.TrackObject(a)
	m.EnterScope()
	m.TrackObject(a)
	m.ExitScope()
	m.Wait()

	b, err := m.AllocObject(64)
	require.NoError(t, err)
	assert.NotEqual(t, a.Ptr, b.Ptr, "slot still owned by the outer scope")
	m.ExitScope()
	m.Wait()
	require.NoError(t, m.FreeObject(b.Ptr))

	st := m.Stats()
	assert.Equal(t, uint64(1), st.ObjectsCleaned)
	assert.Equal(t, uint64(1), st.ObjectsFreed)
	assert.Zero(t, st.DoubleFreeAttempts)
	assert.Zero(t, inUse(m))
}

func TestFreeObjectUntracksOtherStack(t *testing.T) {
	m := newTestManager(t)
	rec := fake.NewRecorder()
	m.RegisterCleanup(api.KindGeneric, rec.Func())
	st := m.NewStack()
	defer st.Close()

	st.EnterScope()
	a, err := m.AllocObject(64)
	require.NoError(t, err)
	st.TrackObject(a)
	st.Track(api.Ptr(0x4000), api.KindGeneric)

	require.NoError(t, m.FreeObject(a.Ptr))
	m.Untrack(api.Ptr(0x4000))
	b, err := m.AllocObject(64)
	require.NoError(t, err)
	st.ExitScope()
	m.Wait()

	require.NoError(t, m.FreeObject(b.Ptr))
	s := m.Stats()
	assert.Equal(t, uint64(2), s.ObjectsFreed)
	assert.Zero(t, s.ObjectsCleaned)
	assert.Zero(t, s.DoubleFreeAttempts)
	assert.Zero(t, rec.Total())
	assert.Zero(t, inUse(m))
}

func TestLiveOverflowBlockFreesDespiteFilterHit(t *testing.T) {
	m := newTestManager(t)
	a, err := m.AllocObject(3000)
	require.NoError(t, err)

	// Stands in for a released block whose address the heap re-issued.
	m.scopeMu.Lock()
	m.filter.Add(a.Ptr)
	m.scopeMu.Unlock()

	require.NoError(t, m.FreeObject(a.Ptr))
	assert.Zero(t, m.Stats().DoubleFreeAttempts)
	assert.Zero(t, m.pools.Objects.Heap().Len())

	assert.ErrorIs(t, m.FreeObject(a.Ptr), api.ErrDoubleFree)
	assert.Equal(t, uint64(1), m.Stats().DoubleFreeAttempts)
}

func TestFailedCleanupIsNotCountedAsCleaned(t *testing.T) {
	m := newTestManager(t)

	m.EnterScope()
	a, err := m.AllocObject(64)
	require.NoError(t, err)
	m.TrackObject(a)
	s, err := m.AllocString()
	require.NoError(t, err)
	_, err = m.pools.Objects.Free(a.Ptr, a.Class)
	require.NoError(t, err)
	require.NoError(t, m.pools.Strings.Free(s))
	m.ExitScope()
	m.Wait()

	st := m.Stats()
	assert.Zero(t, st.ObjectsCleaned)
	assert.Zero(t, st.StringsCleaned)
	assert.Equal(t, uint64(2), st.DoubleFreeAttempts)
	assert.Equal(t, uint64(1), st.CleanupBatches)
	assert.Zero(t, inUse(m))
}

func TestAllocStringStartsWithOneReference(t *testing.T) {
	m := newTestManager(t)

	m.EnterScope()
	for i := 0; i < 300; i++ {
		p, err := m.AllocString()
		require.NoError(t, err)
		refs, err := m.StringRefs(p)
		require.NoError(t, err)
		require.Equal(t, uint32(1), refs)
	}
	m.ExitScope()
	m.Wait()

	assert.Equal(t, uint64(300), m.Stats().StringsCleaned)
	assert.Zero(t, m.pools.Strings.Stats().InUse)
}

func TestShutdownMakesLateCallsInert(t *testing.T) {
	m := newTestManager(t)
	gate := make(chan struct{})
	rec := fake.NewRecorder().Chain(func(p api.Ptr) {
		if p == api.Ptr(0x10) {
			<-gate
		}
	})
	m.RegisterCleanup(api.KindGeneric, rec.Func())

	m.EnterScope()
	m.Track(api.Ptr(0x10), api.KindGeneric)
	m.ExitScope()

	done := make(chan error, 1)
	go func() { done <- m.Shutdown() }()
	require.Eventually(t, m.closing.Load, time.Second, time.Millisecond)

	m.EnterScope()
	assert.Equal(t, 0, m.ScopeDepth())
	m.Track(api.Ptr(0x20), api.KindGeneric)
	m.ExitScope()
	_, err := m.AllocObject(64)
	assert.ErrorIs(t, err, api.ErrNotInitialized)
	_, err = m.AllocString()
	assert.ErrorIs(t, err, api.ErrNotInitialized)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, rec.Count(api.Ptr(0x10)))
	assert.Zero(t, rec.Count(api.Ptr(0x20)))
	assert.Equal(t, uint64(1), m.Stats().ScopesEntered)
	assert.Equal(t, uint64(1), m.Stats().ScopesExited)
}
