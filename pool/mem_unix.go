//go:build unix

// File: pool/mem_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Anonymous mmap backing for slabs.

package pool

import "golang.org/x/sys/unix"

func mapSlab(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapSlab(mem []byte) error {
	return unix.Munmap(mem)
}
