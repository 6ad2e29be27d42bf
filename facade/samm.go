// File: facade/samm.go
// Unified facade layer for the samm memory subsystem.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager aggregates the slab pools, the scope stacks, the Bloom filter,
// the cleanup queue and its background worker behind one API. Generated
// code brackets every lexical block with EnterScope/ExitScope and tracks
// each allocation made inside it; on exit the block's allocations are
// detached into a batch and released by the worker.
//
// Two locks cover shared state: scopeMu guards every scope stack and the
// Bloom filter, the cleanup queue carries its own. Statistics are atomic.

package facade

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/control"
	"github.com/momentics/samm/core/concurrency"
	"github.com/momentics/samm/internal/bloom"
	"github.com/momentics/samm/internal/scope"
	"github.com/momentics/samm/pool"
)

// Manager is the SAMM facade.
type Manager struct {
	cfg      control.Config
	switches *control.Switches
	logger   *slog.Logger
	counters control.Counters
	probes   *control.DebugProbes

	pools *pool.Set

	scopeMu sync.Mutex
	main    *Stack
	stacks  map[*Stack]struct{}
	filter  *bloom.Filter
	peak    atomic.Int64

	queue  *concurrency.CleanupQueue[scope.Batch]
	worker *concurrency.Worker[scope.Batch]

	cleanupMu  sync.RWMutex
	cleanupFns [api.NumKinds]api.CleanupFunc

	dtorMu      sync.Mutex
	destructors map[api.Ptr]api.Destructor

	lifeMu     sync.Mutex
	closing    atomic.Bool
	closed     atomic.Bool
	submitting sync.WaitGroup
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Manager)(nil)

// osExit terminates the process on fatal conditions.
var osExit = os.Exit

// New validates cfg, creates every pool and starts the cleanup worker
// unless cfg.Synchronous is set.
func New(cfg control.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("samm config: %w", err)
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	m := &Manager{
		cfg:         cfg,
		switches:    control.NewSwitches(cfg.Trace),
		probes:      control.NewDebugProbes(),
		stacks:      make(map[*Stack]struct{}),
		filter:      bloom.New(cfg.BloomBits, cfg.BloomHashes),
		destructors: make(map[api.Ptr]api.Destructor),
	}
	m.logger = cfg.NewLogger(m.switches.Level()).With("component", "samm")

	pools, err := pool.NewSet(
		pool.WithMaxSlabs(cfg.MaxSlabs),
		pool.WithLogger(m.logger.With("component", "pool")),
	)
	if err != nil {
		return nil, fmt.Errorf("samm pools: %w", err)
	}
	m.pools = pools

	m.queue, err = concurrency.NewCleanupQueue[scope.Batch](cfg.QueueCapacity)
	if err != nil {
		pools.Destroy()
		return nil, fmt.Errorf("samm queue: %w", err)
	}
	if !cfg.Synchronous {
		m.worker = concurrency.StartWorker(m.queue, m.processBatch, m.logger.With("component", "cleanup"))
	}

	m.main = m.newStack()
	m.registerProbes()
	m.switches.RegisterReloadHook(func() {
		m.logger.Info("switches changed", "enabled", m.switches.Enabled(), "trace", m.switches.Trace())
	})

	m.logger.Debug("initialised",
		"bloom_bytes", cfg.BloomBits/8,
		"max_scopes", cfg.MaxScopeDepth,
		"queue_capacity", cfg.QueueCapacity,
		"synchronous", cfg.Synchronous)
	return m, nil
}

func (m *Manager) registerProbes() {
	for _, p := range m.pools.All() {
		m.probes.RegisterProbe("pool."+p.Name(), func() any { return p.Stats() })
	}
	m.probes.RegisterProbe("queue", func() any { return m.queue.Stats() })
	control.RegisterPlatformProbes(m.probes)
}

// active reports whether tracking operations take effect. They stop as
// soon as Shutdown begins.
func (m *Manager) active() bool {
	return m.switches.Enabled() && !m.closing.Load()
}

// tracing reports whether per-call trace lines are emitted.
func (m *Manager) tracing() bool { return m.switches.Trace() }

// IsEnabled reports whether tracking is on.
func (m *Manager) IsEnabled() bool { return m.switches.Enabled() }

// SetEnabled turns tracking on or off. While disabled, scope and tracking
// calls are inert and allocations are caller-managed.
func (m *Manager) SetEnabled(on bool) { m.switches.SetEnabled(on) }

// SetTrace toggles per-call trace logging.
func (m *Manager) SetTrace(on bool) { m.switches.SetTrace(on) }

// Debug returns the probe registry.
func (m *Manager) Debug() api.Debug { return m.probes }

// Config returns the configuration the manager was built with.
func (m *Manager) Config() control.Config { return m.cfg }

// fatal logs msg and terminates the process.
func (m *Manager) fatal(msg string, args ...any) {
	m.logger.Error("FATAL: "+msg, args...)
	osExit(2)
}

// Shutdown stops the worker, drains the queue and every scope (including
// global) synchronously, reports statistics if enabled and destroys the
// pools. It is idempotent.
func (m *Manager) Shutdown() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed.Load() {
		return nil
	}
	m.logger.Debug("shutting down")

	// Exits that detached a batch before closing was set are counted in
	// submitting; later ones see closing under scopeMu and stay inert.
	m.closing.Store(true)
	m.scopeMu.Lock()
	m.scopeMu.Unlock()
	m.submitting.Wait()

	if m.worker != nil {
		m.worker.Stop()
	} else {
		m.queue.Close()
	}
	for {
		b, ok := m.queue.TryDequeue()
		if !ok {
			break
		}
		m.processBatch(b)
		m.queue.Done()
	}

	m.scopeMu.Lock()
	batches := m.main.s.DrainAll()
	for st := range m.stacks {
		if st != m.main {
			batches = append(batches, st.s.DrainAll()...)
		}
	}
	m.scopeMu.Unlock()
	for _, b := range batches {
		if !b.Empty() {
			m.processBatch(b)
		}
	}

	if m.cfg.Trace || m.cfg.Stats || m.tracing() {
		m.PrintStats(m.cfg.Output)
		m.PrintPoolStats(m.cfg.Output)
	}
	m.closed.Store(true)

	leaked, err := m.pools.Destroy()
	if leaked > 0 {
		m.logger.Warn("pools destroyed with leaked slots", "leaked", leaked)
	} else {
		m.logger.Debug("pools destroyed", "leaked", 0)
	}
	m.dtorMu.Lock()
	clear(m.destructors)
	m.dtorMu.Unlock()
	if err != nil {
		return fmt.Errorf("samm shutdown: %w", err)
	}
	return nil
}

// Closed reports whether Shutdown has completed.
func (m *Manager) Closed() bool { return m.closed.Load() }
