// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that own background work
// and memory that must be drained and released at process exit.
type GracefulShutdown interface {
	// Shutdown stops background work, drains pending cleanup and releases
	// all pooled memory. It returns an error when releasing memory fails.
	Shutdown() error
}
