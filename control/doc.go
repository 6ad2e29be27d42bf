// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime switches, counters and debug introspection for the
// samm memory subsystem.
//
// Provides concurrent-safe state handling primitives including:
//   - Config defaults with an environment overlay (SAMM_TRACE, SAMM_STATS)
//   - Runtime switches for enabling tracking and tracing, with reload hooks
//   - Atomic counters snapshotted into api.Stats
//   - Probe registration for pool and platform state
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
