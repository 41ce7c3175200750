package vm

import (
	"fmt"
)

// Object sizing. An instance occupies a fixed header plus one slot per
// declared property.
const (
	ObjectHeaderSize = 24
	SlotSize         = 16
)

// SizeForNProps returns the allocation size of an object with n declared
// property slots.
func SizeForNProps(n int) int {
	return ObjectHeaderSize + n*SlotSize
}

// Allocator accounts for object memory. Free must be called with exactly the
// size passed to the matching Alloc.
type Allocator interface {
	Alloc(size int) error
	Free(size int)
}

// HeapStats reports allocator activity.
type HeapStats struct {
	Allocs    uint64
	Frees     uint64
	InUse     int64
	PeakInUse int64
}

// Heap is the default Allocator: it tracks bytes in use against an optional
// limit.
type Heap struct {
	limit int64
	stats HeapStats
}

// NewHeap creates a heap. A limit of zero means unlimited.
func NewHeap(limit int64) *Heap {
	return &Heap{limit: limit}
}

// Alloc reserves size bytes.
func (h *Heap) Alloc(size int) error {
	if h.limit > 0 && h.stats.InUse+int64(size) > h.limit {
		return fmt.Errorf("%w: allowed memory size of %d bytes exhausted (tried to allocate %d bytes)",
			ErrOutOfMemory, h.limit, size)
	}
	h.stats.Allocs++
	h.stats.InUse += int64(size)
	if h.stats.InUse > h.stats.PeakInUse {
		h.stats.PeakInUse = h.stats.InUse
	}
	return nil
}

// Free returns size bytes.
func (h *Heap) Free(size int) {
	if int64(size) > h.stats.InUse {
		panic(fmt.Errorf("%w: freeing %d bytes with %d in use", ErrSizeMismatch, size, h.stats.InUse))
	}
	h.stats.Frees++
	h.stats.InUse -= int64(size)
}

// Stats returns a copy of the heap counters.
func (h *Heap) Stats() HeapStats {
	return h.stats
}
