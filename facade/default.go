// File: facade/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide manager for callers that use the package-level API, such as
// generated code. Init and Shutdown are idempotent; Init after Shutdown
// starts a fresh manager.

package facade

import (
	"sync"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/control"
)

var (
	defaultMu  sync.Mutex
	defaultMgr *Manager
)

// Init creates the process-wide manager from the default configuration and
// the environment. Pool setup failure is fatal.
func Init() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMgr != nil {
		return defaultMgr
	}
	m, err := New(control.FromEnv(control.DefaultConfig()))
	if err != nil {
		bootstrapFatal(err)
		return nil
	}
	defaultMgr = m
	return m
}

// Default returns the process-wide manager, initialising it on first use.
func Default() *Manager {
	defaultMu.Lock()
	m := defaultMgr
	defaultMu.Unlock()
	if m != nil {
		return m
	}
	return Init()
}

// Shutdown tears down the process-wide manager if one is running.
func Shutdown() error {
	defaultMu.Lock()
	m := defaultMgr
	defaultMgr = nil
	defaultMu.Unlock()
	if m == nil {
		return nil
	}
	return m.Shutdown()
}

func bootstrapFatal(err error) {
	m := &Manager{logger: control.DefaultConfig().NewLogger(nil)}
	m.fatal("initialisation failed", "error", err)
}

// EnterScope opens a block on the process-wide manager.
func EnterScope() { Default().EnterScope() }

// ExitScope closes the innermost block on the process-wide manager.
func ExitScope() { Default().ExitScope() }

// Track registers p with the current scope.
func Track(p api.Ptr, kind api.Kind) { Default().Track(p, kind) }

// TrackObject registers an object allocation with the current scope.
func TrackObject(a api.Allocation) { Default().TrackObject(a) }

// Untrack removes p from the scope stack.
func Untrack(p api.Ptr) { Default().Untrack(p) }

// Retain extends p's lifetime by offset enclosing scopes.
func Retain(p api.Ptr, offset int) { Default().Retain(p, offset) }

// AllocObject allocates a size-classed object.
func AllocObject(size int) (api.Allocation, error) { return Default().AllocObject(size) }

// FreeObject explicitly releases an object.
func FreeObject(p api.Ptr) error { return Default().FreeObject(p) }

// AllocString allocates and tracks a string descriptor.
func AllocString() (api.Ptr, error) { return Default().AllocString() }

// AllocList allocates and tracks a list header.
func AllocList() (api.Ptr, error) { return Default().AllocList() }

// AllocListAtom allocates and tracks a list atom.
func AllocListAtom() (api.Ptr, error) { return Default().AllocListAtom() }

// RegisterCleanup overrides the release routine for kind.
func RegisterCleanup(kind api.Kind, fn api.CleanupFunc) { Default().RegisterCleanup(kind, fn) }

// IsEnabled reports whether tracking is on.
func IsEnabled() bool { return Default().IsEnabled() }

// SetEnabled turns tracking on or off.
func SetEnabled(on bool) { Default().SetEnabled(on) }

// Stats returns the process-wide counters.
func Stats() api.Stats { return Default().Stats() }

// Wait blocks until all queued cleanup is done.
func Wait() { Default().Wait() }
