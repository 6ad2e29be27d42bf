// File: internal/bloom/filter.go
// Package bloom
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Probabilistic set of freed addresses used for double-free detection.
// The bit array is allocated on the first Add. False positives are
// possible, false negatives are not. Filter is not safe for concurrent use;
// callers serialize access.

package bloom

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/willf/bitset"

	"github.com/momentics/samm/api"
)

const (
	// DefaultBits is the bit array size (64 KiB of memory).
	DefaultBits = 524288

	// DefaultHashes is the number of probe positions per item.
	DefaultHashes = 7
)

// Filter holds the bit array and its geometry.
type Filter struct {
	bits  *bitset.BitSet
	m     uint64
	k     int
	items uint64
}

// New creates a filter with m bits and k hashes. m == 0 yields a filter that
// never records anything and always reports "not present".
func New(m uint64, k int) *Filter {
	if k <= 0 {
		k = DefaultHashes
	}
	return &Filter{m: m, k: k}
}

// NewDefault creates a filter with the default geometry.
func NewDefault() *Filter { return New(DefaultBits, DefaultHashes) }

// Enabled reports whether the filter has a non-empty geometry.
func (f *Filter) Enabled() bool { return f.m > 0 }

// Allocated reports whether the bit array exists yet.
func (f *Filter) Allocated() bool { return f.bits != nil }

// Items returns the number of Add calls recorded.
func (f *Filter) Items() uint64 { return f.items }

// SizeBytes returns the memory held by the bit array, 0 before first Add.
func (f *Filter) SizeBytes() int {
	if f.bits == nil {
		return 0
	}
	return int(f.m / 8)
}

// Add records p. The first call allocates the bit array.
func (f *Filter) Add(p api.Ptr) {
	if f.m == 0 {
		return
	}
	if f.bits == nil {
		f.bits = bitset.New(uint(f.m))
	}
	h1, h2 := hashes(p)
	for i := 0; i < f.k; i++ {
		f.bits.Set(uint((h1 + uint64(i)*h2) % f.m))
	}
	f.items++
}

// Check reports whether p may have been added. Before the first Add it is
// always false.
func (f *Filter) Check(p api.Ptr) bool {
	if f.bits == nil {
		return false
	}
	h1, h2 := hashes(p)
	for i := 0; i < f.k; i++ {
		if !f.bits.Test(uint((h1 + uint64(i)*h2) % f.m)) {
			return false
		}
	}
	return true
}

// Reset clears every bit but keeps the array.
func (f *Filter) Reset() {
	if f.bits != nil {
		f.bits.ClearAll()
	}
	f.items = 0
}

// hashes derives the double hashing pair: h1 is FNV-1a over the address
// bytes, h2 is FNV-1a over h1.
func hashes(p api.Ptr) (uint64, uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p))
	h := fnv.New64a()
	h.Write(buf[:])
	h1 := h.Sum64()

	binary.LittleEndian.PutUint64(buf[:], h1)
	h.Reset()
	h.Write(buf[:])
	return h1, h.Sum64()
}
