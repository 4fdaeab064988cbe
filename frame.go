package secmon

import (
	"fmt"
	"math/bits"
	"sync"
)

const (
	// FrameSize is the physical allocation unit handed to enclaves (2 MiB).
	FrameSize uint64 = 0x20_0000
	// FrameOrder is log2(FrameSize).
	FrameOrder = 21
)

// bitmap is a fixed-size bit set indexed by frame number.
type bitmap []uint64

func newBitmap(n uint64) bitmap { return make(bitmap, (n+63)/64) }

func (b bitmap) get(i uint64) bool { return b[i/64]&(1<<(i%64)) != 0 }
func (b bitmap) set(i uint64)      { b[i/64] |= 1 << (i % 64) }
func (b bitmap) clear(i uint64)    { b[i/64] &^= 1 << (i % 64) }

// FrameAllocator hands out runs of contiguous frames from a pool of nframes
// frames. Frames must be registered with AddFrames before they can be
// allocated.
type FrameAllocator struct {
	mu      sync.Mutex
	nframes uint64
	managed bitmap // frame was registered with AddFrames
	free    bitmap // frame is available
	total   uint64
	nfree   uint64
}

// NewFrameAllocator creates an allocator able to track frames [0, nframes).
func NewFrameAllocator(nframes uint64) *FrameAllocator {
	return &FrameAllocator{
		nframes: nframes,
		managed: newBitmap(nframes),
		free:    newBitmap(nframes),
	}
}

// AddFrames registers frames [start, end) as free.
func (fa *FrameAllocator) AddFrames(start, end uint64) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if start > end || end > fa.nframes {
		panic(fmt.Sprintf("sm: frame range %d..%d outside allocator (%d frames)", start, end, fa.nframes))
	}
	for i := start; i < end; i++ {
		if fa.managed.get(i) {
			panic(fmt.Sprintf("sm: frame %d registered twice", i))
		}
		fa.managed.set(i)
		fa.free.set(i)
	}
	fa.total += end - start
	fa.nfree += end - start
}

// Alloc reserves count contiguous frames and returns the first frame index.
func (fa *FrameAllocator) Alloc(count uint64) (uint64, bool) {
	return fa.AllocAligned(count, 1)
}

// AllocAligned reserves count contiguous frames starting at a frame index
// that is a multiple of align. align must be a power of two.
func (fa *FrameAllocator) AllocAligned(count, align uint64) (uint64, bool) {
	if count == 0 || align == 0 || bits.OnesCount64(align) != 1 {
		return 0, false
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if count > fa.nfree {
		return 0, false
	}

	for start := uint64(0); start+count <= fa.nframes; start += align {
		if n := fa.freeRun(start, count); n == count {
			for i := start; i < start+count; i++ {
				fa.free.clear(i)
			}
			fa.nfree -= count
			return start, true
		}
	}

	return 0, false
}

// freeRun returns how many frames starting at start are free, up to limit.
func (fa *FrameAllocator) freeRun(start, limit uint64) uint64 {
	var n uint64
	for n < limit && fa.free.get(start+n) {
		n++
	}
	return n
}

// Dealloc returns count frames starting at frame. Returning a frame that is
// not allocated is a monitor defect and faults.
func (fa *FrameAllocator) Dealloc(frame, count uint64) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if count == 0 || frame+count < frame || frame+count > fa.nframes {
		panic(fmt.Sprintf("sm: dealloc of frames %d+%d outside allocator", frame, count))
	}
	for i := frame; i < frame+count; i++ {
		if !fa.managed.get(i) || fa.free.get(i) {
			panic(fmt.Sprintf("sm: frame %d freed twice or never allocated", i))
		}
	}
	for i := frame; i < frame+count; i++ {
		fa.free.set(i)
	}
	fa.nfree += count
}

// Free returns the number of available frames.
func (fa *FrameAllocator) Free() uint64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.nfree
}

// Total returns the number of frames registered with AddFrames.
func (fa *FrameAllocator) Total() uint64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.total
}
