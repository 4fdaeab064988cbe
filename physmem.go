package secmon

import "io"

// PhysMem gives the monitor byte access to the pool. Offsets passed to
// ReadAt and WriteAt are physical addresses.
type PhysMem interface {
	io.ReaderAt
	io.WriterAt
	Zero(paddr, size uint64) error
}
