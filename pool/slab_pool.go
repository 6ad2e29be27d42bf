// File: pool/slab_pool.go
// Package pool implements fixed-slot slab allocation with size class support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unsafe"

	"github.com/willf/bitset"

	"github.com/momentics/samm/api"
)

const (
	// DefaultMaxSlabs caps slab growth per pool.
	DefaultMaxSlabs = 1024

	// DefaultInitialSlabs are mapped when a pool is created.
	DefaultInitialSlabs = 1

	minSlotSize = 8
)

// slab is one contiguous run of slots.
type slab struct {
	id   int
	base uintptr
	mem  []byte
	used *bitset.BitSet
}

// SlabPool: fixed-size slot allocation backed by a growing set of slabs.
type SlabPool struct {
	mu           sync.Mutex
	name         string
	slotSize     int
	slotsPerSlab int
	maxSlabs     int
	logger       *slog.Logger

	slabs  []*slab   // creation order, index == slab id
	byBase []*slab   // ascending base address, for pointer lookup
	free   []uint32  // global slot indices, top of stack is next to hand out
	spill  *Heap     // used once maxSlabs is reached
	warned bool

	inUse         int
	peakUse       int
	totalAllocs   uint64
	totalFrees    uint64
	peakFootprint int
}

var _ api.SlotAllocator = (*SlabPool)(nil)

// Option configures a SlabPool.
type Option func(*poolConfig)

type poolConfig struct {
	maxSlabs     int
	initialSlabs int
	logger       *slog.Logger
}

// WithMaxSlabs caps the number of slabs a pool may map.
func WithMaxSlabs(n int) Option {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxSlabs = n
		}
	}
}

// WithInitialSlabs sets how many slabs are mapped up front.
func WithInitialSlabs(n int) Option {
	return func(c *poolConfig) {
		if n >= 0 {
			c.initialSlabs = n
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *poolConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func buildConfig(opts []Option) poolConfig {
	cfg := poolConfig{
		maxSlabs:     DefaultMaxSlabs,
		initialSlabs: DefaultInitialSlabs,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewSlabPool creates a pool of slotSize-byte slots, slotsPerSlab per slab,
// and maps the initial slabs.
func NewSlabPool(name string, slotSize, slotsPerSlab int, opts ...Option) (*SlabPool, error) {
	if slotSize < minSlotSize {
		return nil, fmt.Errorf("pool %s: slot size %d below minimum %d", name, slotSize, minSlotSize)
	}
	if slotsPerSlab <= 0 {
		return nil, fmt.Errorf("pool %s: slots per slab must be positive", name)
	}
	cfg := buildConfig(opts)
	p := &SlabPool{
		name:         name,
		slotSize:     slotSize,
		slotsPerSlab: slotsPerSlab,
		maxSlabs:     cfg.maxSlabs,
		logger:       cfg.logger.With("component", "pool", "pool", name),
		spill:        NewHeap(),
	}
	for i := 0; i < cfg.initialSlabs; i++ {
		if err := p.addSlabLocked(); err != nil {
			p.Destroy()
			return nil, fmt.Errorf("pool %s: pre-allocate slab %d: %w", name, i, err)
		}
	}
	return p, nil
}

// Name returns the pool name.
func (p *SlabPool) Name() string { return p.name }

// SlotSize returns the slot size in bytes.
func (p *SlabPool) SlotSize() int { return p.slotSize }

// addSlabLocked maps a new slab and pushes its slots so that slot 0 is
// handed out first. Caller holds p.mu.
func (p *SlabPool) addSlabLocked() error {
	if len(p.slabs) >= p.maxSlabs {
		return api.ErrPoolExhausted
	}
	mem, err := mapSlab(p.slotSize * p.slotsPerSlab)
	if err != nil {
		return err
	}
	s := &slab{
		id:   len(p.slabs),
		base: uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		mem:  mem,
		used: bitset.New(uint(p.slotsPerSlab)),
	}
	p.slabs = append(p.slabs, s)

	at := sort.Search(len(p.byBase), func(i int) bool { return p.byBase[i].base > s.base })
	p.byBase = append(p.byBase, nil)
	copy(p.byBase[at+1:], p.byBase[at:])
	p.byBase[at] = s

	first := uint32(s.id * p.slotsPerSlab)
	for i := p.slotsPerSlab - 1; i >= 0; i-- {
		p.free = append(p.free, first+uint32(i))
	}

	if fp := p.footprintLocked(); fp > p.peakFootprint {
		p.peakFootprint = fp
	}
	p.logger.Debug("added slab", "slab", s.id, "capacity", len(p.slabs)*p.slotsPerSlab)
	return nil
}

func (p *SlabPool) footprintLocked() int {
	return len(p.slabs) * p.slotSize * p.slotsPerSlab
}

// locateLocked resolves ptr to its slab and slot index. Interior pointers
// do not resolve.
func (p *SlabPool) locateLocked(ptr api.Ptr) (*slab, int, bool) {
	addr := uintptr(ptr)
	i := sort.Search(len(p.byBase), func(i int) bool { return p.byBase[i].base > addr }) - 1
	if i < 0 {
		return nil, 0, false
	}
	s := p.byBase[i]
	off := addr - s.base
	if off >= uintptr(len(s.mem)) || off%uintptr(p.slotSize) != 0 {
		return nil, 0, false
	}
	return s, int(off / uintptr(p.slotSize)), true
}

// Alloc pops a free slot, zeroes it and returns its address. When the
// pool cannot grow the slot comes from the spill heap instead.
func (p *SlabPool) Alloc() (api.Ptr, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		if err := p.addSlabLocked(); err != nil {
			warn := !p.warned
			p.warned = true
			p.mu.Unlock()
			if warn {
				p.logger.Warn("pool exhausted, falling back to heap", "error", err)
			}
			return p.spill.Alloc(p.slotSize)
		}
	}
	g := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	s := p.slabs[int(g)/p.slotsPerSlab]
	idx := int(g) % p.slotsPerSlab
	s.used.Set(uint(idx))

	p.inUse++
	p.totalAllocs++
	if p.inUse > p.peakUse {
		p.peakUse = p.inUse
	}
	off := idx * p.slotSize
	clear(s.mem[off : off+p.slotSize])
	p.mu.Unlock()
	return api.Ptr(s.base + uintptr(off)), nil
}

// Free pushes ptr back onto the free stack. Freeing a slot that is not
// handed out returns api.ErrDoubleFree and leaves the pool untouched.
func (p *SlabPool) Free(ptr api.Ptr) error {
	if ptr == 0 {
		return nil
	}
	p.mu.Lock()
	s, idx, ok := p.locateLocked(ptr)
	if !ok {
		p.mu.Unlock()
		if _, err := p.spill.Free(ptr); err != nil {
			return err
		}
		return nil
	}
	if !s.used.Test(uint(idx)) {
		p.mu.Unlock()
		p.logger.Warn("free of slot not in use (double free?)", "ptr", fmt.Sprintf("%#x", uintptr(ptr)))
		return api.ErrDoubleFree
	}
	s.used.Clear(uint(idx))
	p.free = append(p.free, uint32(s.id*p.slotsPerSlab+idx))
	p.inUse--
	p.totalFrees++
	p.mu.Unlock()
	return nil
}

// Bytes returns the slot memory behind ptr.
func (p *SlabPool) Bytes(ptr api.Ptr) ([]byte, bool) {
	p.mu.Lock()
	s, idx, ok := p.locateLocked(ptr)
	if ok {
		off := idx * p.slotSize
		b := s.mem[off : off+p.slotSize : off+p.slotSize]
		p.mu.Unlock()
		return b, true
	}
	p.mu.Unlock()
	return p.spill.Bytes(ptr)
}

// WithSlot runs fn on a live slot while holding the pool lock, so fn's
// read-modify-write is atomic against other WithSlot, Alloc and Free calls.
func (p *SlabPool) WithSlot(ptr api.Ptr, fn func(slot []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, idx, ok := p.locateLocked(ptr)
	if !ok {
		b, ok := p.spill.Bytes(ptr)
		if !ok {
			return api.ErrUnknownPointer
		}
		fn(b)
		return nil
	}
	if !s.used.Test(uint(idx)) {
		return api.ErrDoubleFree
	}
	off := idx * p.slotSize
	fn(s.mem[off : off+p.slotSize : off+p.slotSize])
	return nil
}

// Owns reports whether ptr is a slot of this pool or one of its spills.
func (p *SlabPool) Owns(ptr api.Ptr) bool {
	p.mu.Lock()
	_, _, ok := p.locateLocked(ptr)
	p.mu.Unlock()
	return ok || p.spill.Owns(ptr)
}

// Validate recomputes free + in-use against capacity and the used bitmaps.
func (p *SlabPool) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	capacity := len(p.slabs) * p.slotsPerSlab
	if len(p.free)+p.inUse != capacity {
		return fmt.Errorf("pool %s: free(%d) + in_use(%d) != capacity(%d)", p.name, len(p.free), p.inUse, capacity)
	}
	var marked uint
	for _, s := range p.slabs {
		marked += s.used.Count()
	}
	if int(marked) != p.inUse {
		return fmt.Errorf("pool %s: used bitmap count %d != in_use %d", p.name, marked, p.inUse)
	}
	return nil
}

// Stats returns a snapshot of pool counters.
func (p *SlabPool) Stats() api.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.PoolStats{
		Name:               p.name,
		SlotSize:           p.slotSize,
		SlotsPerSlab:       p.slotsPerSlab,
		Slabs:              len(p.slabs),
		Capacity:           len(p.slabs) * p.slotsPerSlab,
		InUse:              p.inUse,
		PeakUse:            p.peakUse,
		TotalAllocs:        p.totalAllocs,
		TotalFrees:         p.totalFrees,
		Fallbacks:          p.spill.Len(),
		FootprintBytes:     p.footprintLocked(),
		PeakFootprintBytes: p.peakFootprint,
	}
}

// Destroy reports leaked slots, then unmaps every slab. It returns the
// number of slots (including spills) still in use.
func (p *SlabPool) Destroy() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	leaked := p.inUse + p.spill.Release()
	if leaked > 0 {
		p.logger.Warn("pool has leaked slots at shutdown", "leaked", leaked)
	}
	var errs []error
	for _, s := range p.slabs {
		if err := unmapSlab(s.mem); err != nil {
			errs = append(errs, fmt.Errorf("pool %s: unmap slab %d: %w", p.name, s.id, err))
		}
	}
	p.slabs = nil
	p.byBase = nil
	p.free = nil
	p.inUse = 0
	return leaked, errors.Join(errs...)
}
