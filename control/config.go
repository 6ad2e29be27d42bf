// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Subsystem configuration: defaults, environment overlay, validation and
// logger construction.

package control

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Environment variables read by FromEnv. Presence enables the switch.
const (
	EnvTrace       = "SAMM_TRACE"
	EnvStats       = "SAMM_STATS"
	EnvLegacyStats = "BASIC_MEMORY_STATS"
	EnvSync        = "SAMM_SYNC"
)

// Config holds subsystem settings.
type Config struct {
	// MaxScopeDepth bounds nesting; entering depth MaxScopeDepth is fatal.
	MaxScopeDepth int
	// ScopeInitialCapacity is the first table allocation per depth.
	ScopeInitialCapacity int
	// QueueCapacity is the cleanup queue bound K.
	QueueCapacity int
	// BloomBits sizes the double-free filter. Zero disables detection.
	BloomBits uint64
	// BloomHashes is the number of probe positions per pointer.
	BloomHashes int
	// MaxSlabs caps slab growth per pool.
	MaxSlabs int
	// Synchronous runs every cleanup on the exiting goroutine, with no
	// background worker.
	Synchronous bool
	// Trace logs every scope and tracking operation at debug level.
	Trace bool
	// Stats prints counters at shutdown.
	Stats bool
	// Output receives PrintStats output at shutdown. Defaults to stderr.
	Output io.Writer
	// Logger overrides the default text logger.
	Logger *slog.Logger
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		MaxScopeDepth:        256,
		ScopeInitialCapacity: 32,
		QueueCapacity:        1024,
		BloomBits:            524288,
		BloomHashes:          7,
		MaxSlabs:             1024,
		Output:               os.Stderr,
	}
}

// FromEnv overlays the process environment on cfg.
func FromEnv(cfg Config) Config {
	return WithEnv(cfg, os.LookupEnv)
}

// WithEnv overlays variables resolved by lookup on cfg.
func WithEnv(cfg Config, lookup func(string) (string, bool)) Config {
	if _, ok := lookup(EnvTrace); ok {
		cfg.Trace = true
	}
	if _, ok := lookup(EnvStats); ok {
		cfg.Stats = true
	}
	if _, ok := lookup(EnvLegacyStats); ok {
		cfg.Stats = true
	}
	if _, ok := lookup(EnvSync); ok {
		cfg.Synchronous = true
	}
	return cfg
}

// Validate checks the numeric bounds.
func (c Config) Validate() error {
	switch {
	case c.MaxScopeDepth < 2:
		return fmt.Errorf("max scope depth %d: need at least 2", c.MaxScopeDepth)
	case c.ScopeInitialCapacity <= 0:
		return fmt.Errorf("scope initial capacity %d: must be positive", c.ScopeInitialCapacity)
	case c.QueueCapacity <= 0:
		return fmt.Errorf("queue capacity %d: must be positive", c.QueueCapacity)
	case c.BloomBits > 0 && c.BloomHashes <= 0:
		return fmt.Errorf("bloom hashes %d: must be positive", c.BloomHashes)
	case c.MaxSlabs <= 0:
		return fmt.Errorf("max slabs %d: must be positive", c.MaxSlabs)
	}
	return nil
}

// NewLogger returns cfg.Logger, or a stderr text logger whose level follows
// level.
func (c Config) NewLogger(level *slog.LevelVar) *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if level != nil {
		opts.Level = level
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
