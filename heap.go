package secmon

import (
	"fmt"
	"math/bits"
	"slices"
	"sync"
)

// HeapOrder bounds the largest heap block to 1<<(HeapOrder-1) bytes.
const HeapOrder = 32

// minBlock is the smallest heap block, one machine word.
const minBlock = 8

// HeapStats reports heap capacity and usage in bytes.
type HeapStats struct {
	Total  uint64 `json:"total"`  // bytes added to the heap
	User   uint64 `json:"user"`   // bytes requested by callers
	Actual uint64 `json:"actual"` // bytes consumed including buddy rounding
}

// HeapArena is the unlocked buddy allocator behind a Heap. Buddies are
// computed relative to origin, which need not be aligned; returned addresses
// are shifted inside their block so they are aligned absolutely.
//
// A RescueFunc only ever sees the arena, never the Heap, so it cannot
// re-enter Heap.Alloc while the heap lock is held.
type HeapArena struct {
	origin uint64
	free   [HeapOrder][]uint64 // sorted block offsets per order
	stats  HeapStats
}

// RescueFunc grows arena so that a failed request of size bytes can be
// retried. It runs with the heap lock held.
type RescueFunc func(arena *HeapArena, size, align uint64)

// blockSize returns the buddy block size serving a size/align request.
func blockSize(size, align uint64) uint64 {
	sz := max(size, align, minBlock)
	if bits.OnesCount64(sz) != 1 {
		sz = 1 << bits.Len64(sz)
	}
	return sz
}

// skew is the shift from a block start to the next absolute align boundary.
// Every block of at least align bytes shares it.
func (a *HeapArena) skew(align uint64) uint64 {
	return (align - a.origin%align) % align
}

func (a *HeapArena) push(order int, off uint64) {
	i, _ := slices.BinarySearch(a.free[order], off)
	a.free[order] = slices.Insert(a.free[order], i, off)
}

func (a *HeapArena) remove(order int, off uint64) bool {
	i, found := slices.BinarySearch(a.free[order], off)
	if found {
		a.free[order] = slices.Delete(a.free[order], i, i+1)
	}
	return found
}

// Add donates the address range [start, end) to the arena.
func (a *HeapArena) Add(start, end uint64) {
	if start < a.origin || end < start {
		panic(fmt.Sprintf("sm: heap range 0x%x..0x%x below origin 0x%x", start, end, a.origin))
	}

	cur := (start - a.origin + minBlock - 1) &^ (minBlock - 1)
	stop := (end - a.origin) &^ (minBlock - 1)

	for cur+minBlock <= stop {
		size := uint64(1) << (HeapOrder - 1)
		if cur != 0 {
			size = min(size, cur&-cur)
		}
		for size > stop-cur {
			size >>= 1
		}
		a.push(bits.TrailingZeros64(size), cur)
		a.stats.Total += size
		cur += size
	}
}

// alloc carves a block for size bytes aligned to align.
func (a *HeapArena) alloc(size, align uint64) (uint64, bool) {
	if size > 1<<(HeapOrder-1) {
		return 0, false
	}
	skew := a.skew(align)
	sz := blockSize(size+skew, align)
	class := bits.TrailingZeros64(sz)
	if class >= HeapOrder {
		return 0, false
	}

	for i := class; i < HeapOrder; i++ {
		if len(a.free[i]) == 0 {
			continue
		}

		blk := a.free[i][0]
		a.free[i] = a.free[i][1:]
		for j := i; j > class; j-- {
			a.push(j-1, blk+(1<<(j-1)))
		}

		a.stats.User += size
		a.stats.Actual += sz
		return a.origin + blk + skew, true
	}

	return 0, false
}

// dealloc returns a block and merges it with its free buddies.
func (a *HeapArena) dealloc(addr, size, align uint64) {
	skew := a.skew(align)
	sz := blockSize(size+skew, align)
	class := bits.TrailingZeros64(sz)
	off := addr - skew - a.origin

	for class < HeapOrder-1 {
		buddy := off ^ (1 << class)
		if !a.remove(class, buddy) {
			break
		}
		off = min(off, buddy)
		class++
	}
	a.push(class, off)

	a.stats.User -= size
	a.stats.Actual -= sz
}

// Stats returns the arena counters.
func (a *HeapArena) Stats() HeapStats { return a.stats }

// Heap is the monitor metadata allocator. A request that does not fit invokes
// the rescue callback once and retries; if it still does not fit the monitor
// faults, since callers of Alloc have no error path.
type Heap struct {
	mu     sync.Mutex
	arena  HeapArena
	rescue RescueFunc
}

// NewHeap creates a heap whose initial capacity is [start, end).
func NewHeap(origin, start, end uint64, rescue RescueFunc) *Heap {
	h := &Heap{
		arena:  HeapArena{origin: origin},
		rescue: rescue,
	}
	h.arena.Add(start, end)
	return h
}

// Alloc returns the address of a block of at least size bytes aligned to
// align, which must be a power of two.
func (h *Heap) Alloc(size, align uint64) uint64 {
	if bits.OnesCount64(align) != 1 {
		panic(fmt.Sprintf("sm: heap alignment 0x%x is not a power of two", align))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if addr, ok := h.arena.alloc(size, align); ok {
		return addr
	}

	if h.rescue != nil {
		h.rescue(&h.arena, size, align)
		if addr, ok := h.arena.alloc(size, align); ok {
			return addr
		}
	}

	panic(fmt.Sprintf("sm: heap cannot satisfy 0x%x bytes (align 0x%x)", size, align))
}

// Dealloc releases a block obtained from Alloc with the same size and align.
func (h *Heap) Dealloc(addr, size, align uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.arena.dealloc(addr, size, align)
}

// Stats returns heap capacity and usage.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.arena.Stats()
}
