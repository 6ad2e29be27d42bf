// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types used across the samm library.

package api

import "errors"

// Common errors used across the library.
var (
	ErrNotInitialized = errors.New("samm: not initialized")
	ErrInvalidSize    = errors.New("samm: allocation size must be positive")
	ErrMaxScopeDepth  = errors.New("samm: maximum scope depth exceeded")
	ErrGlobalScope    = errors.New("samm: cannot exit global scope")
	ErrDoubleFree     = errors.New("samm: double free detected")
	ErrUnknownPointer = errors.New("samm: pointer not owned by allocator")
	ErrPoolExhausted  = errors.New("samm: pool maximum slabs reached")
	ErrQueueFull      = errors.New("samm: cleanup queue full")
	ErrQueueClosed    = errors.New("samm: cleanup queue closed")
	ErrStackClosed    = errors.New("samm: scope stack closed")
)
