// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Standard pool set used by the samm facade: the object router plus one
// pool per pooled domain type.

package pool

import (
	"errors"
	"fmt"
)

// Domain type slot geometry.
const (
	StringSlotSize     = 40
	StringSlotsPerSlab = 256

	ListHeaderSlotSize     = 32
	ListHeaderSlotsPerSlab = 256

	ListAtomSlotSize     = 24
	ListAtomSlotsPerSlab = 512
)

// Set groups every pool the subsystem allocates from.
type Set struct {
	Objects     *Router
	Strings     *SlabPool
	ListHeaders *SlabPool
	ListAtoms   *SlabPool
}

// NewSet creates the object router and the domain type pools.
func NewSet(opts ...Option) (*Set, error) {
	s := &Set{}
	var err error
	if s.Objects, err = NewRouter(opts...); err != nil {
		return nil, err
	}
	if s.Strings, err = NewSlabPool("StringDesc", StringSlotSize, StringSlotsPerSlab, opts...); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.ListHeaders, err = NewSlabPool("ListHeader", ListHeaderSlotSize, ListHeaderSlotsPerSlab, opts...); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.ListAtoms, err = NewSlabPool("ListAtom", ListAtomSlotSize, ListAtomSlotsPerSlab, opts...); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// All returns every slab pool in reporting order.
func (s *Set) All() []*SlabPool {
	var out []*SlabPool
	for _, p := range []*SlabPool{s.Strings, s.ListHeaders, s.ListAtoms} {
		if p != nil {
			out = append(out, p)
		}
	}
	if s.Objects != nil {
		out = append(out, s.Objects.Pools()...)
	}
	return out
}

// Destroy releases every pool and returns the total leak count.
func (s *Set) Destroy() (int, error) {
	var (
		leaked int
		errs   []error
	)
	for _, p := range []*SlabPool{s.Strings, s.ListHeaders, s.ListAtoms} {
		if p == nil {
			continue
		}
		n, err := p.Destroy()
		leaked += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if s.Objects != nil {
		n, err := s.Objects.Destroy()
		leaked += n
		if err != nil {
			errs = append(errs, fmt.Errorf("objects: %w", err))
		}
	}
	return leaked, errors.Join(errs...)
}
