//go:build unix

package secmon

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	cachedPageSize int
	cachedPageMask uint64 // For fast alignment checks: addr & mask == 0
	pageSizeOnce   sync.Once
)

// pageSize returns the system page size, cached for performance
func pageSize() int {
	pageSizeOnce.Do(func() {
		cachedPageSize = unix.Getpagesize()
		cachedPageMask = uint64(cachedPageSize - 1)
	})
	return cachedPageSize
}

// isPageAligned returns true if addr is page-aligned
func isPageAligned(addr uint64) bool {
	pageSize()
	return addr&cachedPageMask == 0
}

// HostMemory backs a pool with an anonymous host mapping so that frames can
// be scrubbed and inspected outside real hardware.
type HostMemory struct {
	mu   sync.RWMutex
	pool Pool
	mem  []byte
}

var _ PhysMem = (*HostMemory)(nil)

// NewHostMemory maps pool.Size bytes of zeroed host memory.
func NewHostMemory(pool Pool) (*HostMemory, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	if !isPageAligned(pool.Size) {
		return nil, fmt.Errorf("sm: pool size not page multiple: %d (page size: %d)", pool.Size, pageSize())
	}

	mem, err := unix.Mmap(-1, 0, int(pool.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to map %d bytes of host memory: %w", pool.Size, err)
	}

	return &HostMemory{pool: pool, mem: mem}, nil
}

// span translates [paddr, paddr+n) into an offset into the mapping.
func (h *HostMemory) span(paddr, n uint64) (uint64, error) {
	if h.mem == nil {
		return 0, fmt.Errorf("sm: host memory is closed")
	}
	if !h.pool.Contains(paddr) || n > h.pool.End()-paddr {
		return 0, fmt.Errorf("sm: range 0x%x+%d outside pool: %w", paddr, n, ErrInvalidAddress)
	}
	return paddr - h.pool.Start, nil
}

func (h *HostMemory) ReadAt(p []byte, off int64) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("sm: negative address %d", off)
	}
	paddr := uint64(off)
	if paddr == h.pool.End() && len(p) > 0 {
		return 0, io.EOF
	}
	o, err := h.span(paddr, 0)
	if err != nil {
		return 0, err
	}

	n := copy(p, h.mem[o:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *HostMemory) WriteAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("sm: negative address %d", off)
	}
	o, err := h.span(uint64(off), uint64(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(h.mem[o:], p), nil
}

// Zero clears size bytes starting at paddr.
func (h *HostMemory) Zero(paddr, size uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, err := h.span(paddr, size)
	if err != nil {
		return err
	}
	clear(h.mem[o : o+size])
	return nil
}

// Pool returns the geometry the mapping was created for.
func (h *HostMemory) Pool() Pool { return h.pool }

// Close unmaps the host memory. Idempotent.
func (h *HostMemory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mem == nil {
		return nil
	}
	if err := unix.Munmap(h.mem); err != nil {
		return fmt.Errorf("failed to unmap host memory: %w", err)
	}
	h.mem = nil
	return nil
}
