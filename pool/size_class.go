// File: pool/size_class.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Object size classes.
//
//	Class  Slot   Covers        Slots/Slab
//	  0     32 B    0–32 B        128
//	  1     64 B   33–64 B        128
//	  2    128 B   65–128 B       128
//	  3    256 B  129–256 B       128
//	  4    512 B  257–512 B        64
//	  5   1024 B  513–1024 B       32
//
// Anything larger is overflow (api.ClassNone).

package pool

import "github.com/momentics/samm/api"

var (
	classSlotSizes    = [api.NumSizeClasses]int{32, 64, 128, 256, 512, 1024}
	classSlotsPerSlab = [api.NumSizeClasses]int{128, 128, 128, 128, 64, 32}
	classNames        = [api.NumSizeClasses]string{
		"Object32", "Object64", "Object128", "Object256", "Object512", "Object1024",
	}
)

// MaxClassSize is the largest size served by a slab pool.
const MaxClassSize = 1024

// ClassFor maps a byte size to its size class.
func ClassFor(size int) api.SizeClass {
	for i, s := range classSlotSizes {
		if size <= s {
			return api.SizeClass(i)
		}
	}
	return api.ClassNone
}

// SlotSize returns the slot size of class c, or 0 for overflow.
func SlotSize(c api.SizeClass) int {
	if !c.Pooled() {
		return 0
	}
	return classSlotSizes[c]
}

// SlotsPerSlab returns the slab geometry of class c, or 0 for overflow.
func SlotsPerSlab(c api.SizeClass) int {
	if !c.Pooled() {
		return 0
	}
	return classSlotsPerSlab[c]
}

// ClassName returns the pool name of class c.
func ClassName(c api.SizeClass) string {
	if !c.Pooled() {
		return "Overflow"
	}
	return classNames[c]
}
