// control/hotreload.go
// Runtime switches that can be flipped while the subsystem is live.
// Hooks run synchronously on every change for deterministic tests.

package control

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Switches holds the enabled and trace flags and the log level they drive.
type Switches struct {
	enabled atomic.Bool
	trace   atomic.Bool
	level   slog.LevelVar

	mu    sync.Mutex
	hooks []func()
}

// NewSwitches returns switches with the subsystem enabled.
func NewSwitches(trace bool) *Switches {
	s := &Switches{}
	s.enabled.Store(true)
	s.SetTrace(trace)
	return s
}

// Level returns the level variable shared with the logger.
func (s *Switches) Level() *slog.LevelVar { return &s.level }

// Enabled reports whether tracking is active.
func (s *Switches) Enabled() bool { return s.enabled.Load() }

// Trace reports whether per-call tracing is on.
func (s *Switches) Trace() bool { return s.trace.Load() }

// SetEnabled flips tracking and runs the reload hooks.
func (s *Switches) SetEnabled(on bool) {
	if s.enabled.Swap(on) != on {
		s.triggerReload()
	}
}

// SetTrace flips tracing, moves the log level between debug and info and
// runs the reload hooks.
func (s *Switches) SetTrace(on bool) {
	if on {
		s.level.Set(slog.LevelDebug)
	} else {
		s.level.Set(slog.LevelInfo)
	}
	if s.trace.Swap(on) != on {
		s.triggerReload()
	}
}

// RegisterReloadHook adds a listener called after every switch change.
func (s *Switches) RegisterReloadHook(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *Switches) triggerReload() {
	s.mu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
