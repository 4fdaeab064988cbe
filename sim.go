package secmon

// SimHart is an in-memory RegisterFile standing in for a hart's trap frame,
// FP register bank and CSRs.
type SimHart struct {
	gpr GPRs
	fpr FPRs
	csr CSRs
}

var _ RegisterFile = (*SimHart)(nil)

// NewSimHart returns a hart with every register zeroed.
func NewSimHart() *SimHart { return &SimHart{} }

func (h *SimHart) GPRs() *GPRs       { return &h.gpr }
func (h *SimHart) ReadFPRs(f *FPRs)  { *f = h.fpr }
func (h *SimHart) WriteFPRs(f *FPRs) { h.fpr = *f }
func (h *SimHart) ReadCSRs(c *CSRs)  { *c = h.csr }
func (h *SimHart) WriteCSRs(c *CSRs) { h.csr = *c }
func (h *SimHart) GetPC() uint64     { return h.gpr.PC }
func (h *SimHart) SetPC(pc uint64)   { h.gpr.PC = pc }

func (h *SimHart) FPR(i int) float64       { return h.fpr[i&31] }
func (h *SimHart) SetFPR(i int, f float64) { h.fpr[i&31] = f }

// GetReg reads a general purpose register.
func (h *SimHart) GetReg(r Reg) (uint64, error) { return h.gpr.Get(r) }

// SetReg writes a general purpose register.
func (h *SimHart) SetReg(r Reg, v uint64) error { return h.gpr.Set(r, v) }

// ReadCSR reads a tracked CSR by number.
func (h *SimHart) ReadCSR(csr CSR) (uint64, error) { return h.csr.Get(csr) }

// WriteCSR writes a tracked CSR by number.
func (h *SimHart) WriteCSR(csr CSR, v uint64) error { return h.csr.Set(csr, v) }

// Snapshot captures the full hart state, FPRs included.
func (h *SimHart) Snapshot() VCpuState {
	return VCpuState{GPR: h.gpr, FPR: h.fpr, CSR: h.csr, FP: true}
}
