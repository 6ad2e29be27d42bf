// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrInvalidCapacity indicates a non-positive queue capacity
	ErrInvalidCapacity = errors.New("invalid queue capacity")
)
