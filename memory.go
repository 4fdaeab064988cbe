package secmon

import (
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
)

// Pool describes the physical memory region handed to the monitor at
// initialization.
type Pool struct {
	Start uint64 `json:"start"`
	Size  uint64 `json:"size"`
}

// Validate checks the pool geometry.
func (p Pool) Validate() error {
	// Security: frame 0 backs the heap, so at least two frames are required
	if p.Start == 0 || p.Size <= FrameSize || p.Size%FrameSize != 0 {
		return fmt.Errorf("pool 0x%x+0x%x: %w", p.Start, p.Size, ErrInvalidPoolGeometry)
	}
	if p.Start > math.MaxUint64-p.Size {
		return fmt.Errorf("pool 0x%x+0x%x overflows: %w", p.Start, p.Size, ErrInvalidPoolGeometry)
	}
	return nil
}

// Frames returns the number of frames in the pool.
func (p Pool) Frames() uint64 { return p.Size / FrameSize }

// End returns the first address past the pool.
func (p Pool) End() uint64 { return p.Start + p.Size }

// FrameToPaddr returns the physical address of frame.
func (p Pool) FrameToPaddr(frame uint64) uint64 { return p.Start + frame<<FrameOrder }

// PaddrToFrame returns the frame starting at addr.
func (p Pool) PaddrToFrame(addr uint64) (uint64, bool) {
	if !p.Contains(addr) || (addr-p.Start)%FrameSize != 0 {
		return 0, false
	}
	return (addr - p.Start) >> FrameOrder, true
}

// Contains reports whether addr lies within the pool.
func (p Pool) Contains(addr uint64) bool {
	return addr >= p.Start && addr-p.Start < p.Size
}

// MemoryStats is a point-in-time view of pool usage.
type MemoryStats struct {
	Pool        Pool      `json:"pool"`
	TotalFrames uint64    `json:"total_frames"`
	FreeFrames  uint64    `json:"free_frames"`
	Allocations int       `json:"allocations"`
	Heap        HeapStats `json:"heap"`
	Rescues     uint64    `json:"rescues"`
}

// allocation records one mem_alloc result, keyed by its first frame.
type allocation struct {
	eid    uint64
	frames uint64
}

// Memory owns the pool: frame 0 backs the metadata heap and the remaining
// frames are handed to enclaves.
type Memory struct {
	pool   Pool
	frames *FrameAllocator
	heap   *Heap

	mu     sync.Mutex
	owners map[uint64]allocation

	rescues uint64
	phys    PhysMem
	logger  *log.Logger
	metrics *metrics
}

// MemoryOption configures optional Memory collaborators.
type MemoryOption func(*Memory)

// WithLogger routes memory subsystem messages to l.
func WithLogger(l *log.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPhysMem scrubs frames through p before handing them out.
func WithPhysMem(p PhysMem) MemoryOption {
	return func(m *Memory) { m.phys = p }
}

func withMetrics(mt *metrics) MemoryOption {
	return func(m *Memory) { m.metrics = mt }
}

// NewMemory validates the pool geometry and builds the frame allocator and
// heap over it.
func NewMemory(start, size uint64, opts ...MemoryOption) (*Memory, error) {
	pool := Pool{Start: start, Size: size}
	if err := pool.Validate(); err != nil {
		return nil, err
	}

	m := &Memory{
		pool:   pool,
		frames: NewFrameAllocator(pool.Frames()),
		owners: make(map[uint64]allocation),
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.heap = NewHeap(pool.Start, pool.Start, pool.Start+FrameSize, m.rescueHeap)
	m.frames.AddFrames(1, pool.Frames())

	m.logger.Printf("SM memory pool 0x%x-0x%x frames:%d heap:0x%x",
		pool.Start, pool.End(), pool.Frames(), FrameSize)

	return m, nil
}

// rescueHeap donates one frame to the heap. It runs under the heap lock and
// takes the frame lock, so the frame allocator must never call into the heap.
func (m *Memory) rescueHeap(arena *HeapArena, size, align uint64) {
	if size > FrameSize || align > FrameSize {
		panic(fmt.Sprintf("sm: heap request of 0x%x bytes exceeds frame size", size))
	}

	frame, ok := m.frames.Alloc(1)
	if !ok {
		panic("sm: heap out of memory")
	}

	addr := m.pool.FrameToPaddr(frame)
	arena.Add(addr, addr+FrameSize)

	atomic.AddUint64(&m.rescues, 1)
	m.metrics.recordRescue()
	m.logger.Printf("SM heap rescued with frame %d (0x%x)", frame, addr)
}

// Pool returns the pool geometry.
func (m *Memory) Pool() Pool { return m.pool }

// Frames returns the frame allocator.
func (m *Memory) Frames() *FrameAllocator { return m.frames }

// Heap returns the metadata heap.
func (m *Memory) Heap() *Heap { return m.heap }

// Alloc reserves size bytes, rounded up to whole frames, on behalf of enclave
// eid and returns the physical address of the first frame.
func (m *Memory) Alloc(eid, size uint64) (uint64, error) {
	if size == 0 || size > math.MaxUint64-(FrameSize-1) {
		return 0, fmt.Errorf("alloc 0x%x bytes: %w", size, ErrInvalidSize)
	}
	count := (size + FrameSize - 1) >> FrameOrder

	frame, ok := m.frames.Alloc(count)
	if !ok {
		return 0, fmt.Errorf("alloc %d frames for enclave %d: %w", count, eid, ErrNoFrames)
	}
	addr := m.pool.FrameToPaddr(frame)

	if m.phys != nil {
		if err := m.phys.Zero(addr, count<<FrameOrder); err != nil {
			m.frames.Dealloc(frame, count)
			return 0, fmt.Errorf("scrub 0x%x: %v: %w", addr, err, ErrFailed)
		}
	}

	m.mu.Lock()
	m.owners[frame] = allocation{eid: eid, frames: count}
	m.mu.Unlock()

	m.metrics.recordFrames(count, 0)
	return addr, nil
}

// Free returns an allocation made by Alloc for the same enclave.
func (m *Memory) Free(eid, addr uint64) error {
	frame, ok := m.pool.PaddrToFrame(addr)
	if !ok {
		return fmt.Errorf("free 0x%x: %w", addr, ErrInvalidAddress)
	}

	m.mu.Lock()
	a, ok := m.owners[frame]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("free 0x%x: %w", addr, ErrInvalidAddress)
	}
	if a.eid != eid {
		m.mu.Unlock()
		return fmt.Errorf("free 0x%x by enclave %d: %w", addr, eid, ErrNotOwner)
	}
	delete(m.owners, frame)
	m.mu.Unlock()

	m.frames.Dealloc(frame, a.frames)
	m.metrics.recordFrames(0, a.frames)
	return nil
}

// Owner returns the enclave owning the allocation starting at addr.
func (m *Memory) Owner(addr uint64) (uint64, bool) {
	frame, ok := m.pool.PaddrToFrame(addr)
	if !ok {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.owners[frame]
	return a.eid, ok
}

// Stats returns pool usage.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	n := len(m.owners)
	m.mu.Unlock()

	return MemoryStats{
		Pool:        m.pool,
		TotalFrames: m.pool.Frames(),
		FreeFrames:  m.frames.Free(),
		Allocations: n,
		Heap:        m.heap.Stats(),
		Rescues:     atomic.LoadUint64(&m.rescues),
	}
}
