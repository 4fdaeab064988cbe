//go:build !unix

package secmon

import "fmt"

// HostMemory is not available on this platform.
type HostMemory struct{}

// NewHostMemory returns an error on non-unix platforms.
func NewHostMemory(pool Pool) (*HostMemory, error) {
	return nil, fmt.Errorf("sm: host memory not supported on this platform")
}

// Stub implementations for HostMemory methods
func (h *HostMemory) ReadAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("sm: host memory not supported on this platform")
}

func (h *HostMemory) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("sm: host memory not supported on this platform")
}

func (h *HostMemory) Zero(paddr, size uint64) error {
	return fmt.Errorf("sm: host memory not supported on this platform")
}

func (h *HostMemory) Pool() Pool { return Pool{} }

func (h *HostMemory) Close() error {
	return fmt.Errorf("sm: host memory not supported on this platform")
}
