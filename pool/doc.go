// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-slot slab pools, size-class routing and the overflow heap that back
// every allocation made through samm.
//
// A SlabPool owns slabs of N equally sized slots. Free slots are kept on an
// explicit index stack; a per-slab used bitmap catches frees of slots that
// are not handed out. Slots are zeroed when they are allocated, not when
// they are freed. Pools never shrink until Destroy.
//
// The Router maps a byte size onto one of six object pools
// (32/64/128/256/512/1024 bytes). Larger requests are served by the Heap
// and tagged api.ClassNone.
//
// On unix platforms slab memory comes from anonymous mmap so slot addresses
// stay stable and outside the Go heap.
package pool
