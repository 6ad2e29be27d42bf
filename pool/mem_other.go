//go:build !unix

// File: pool/mem_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap backing for slabs on platforms without anonymous mmap. The Go heap
// does not move objects, so slot addresses stay valid while the slab is
// referenced from its pool.

package pool

func mapSlab(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapSlab(_ []byte) error {
	return nil
}
