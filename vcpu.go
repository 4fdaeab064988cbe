package secmon

import (
	"fmt"
	"math"
	"strings"
)

// Status register fields.
const (
	StatusSIE         uint64 = 1 << 1
	StatusMPPShift           = 11
	StatusMPPUser     uint64 = 0b00 << StatusMPPShift
	StatusMPPSuper    uint64 = 0b01 << StatusMPPShift
	StatusMPPMachine  uint64 = 0b11 << StatusMPPShift
	StatusFSShift            = 13
	StatusFSOff       uint64 = 0b00 << StatusFSShift
	StatusFSDirty     uint64 = 0b11 << StatusFSShift
	StatusSUM         uint64 = 1 << 18
	defaultMstatus           = StatusFSDirty | StatusMPPSuper | StatusSIE | StatusSUM
	defaultSstatus           = StatusFSDirty
	defaultInterrupts        = IntSSI | IntMSI | IntSTI | IntMTI | IntSEI
	defaultIntDeleg          = IntSSI | IntSTI | IntSEI
	defaultExcDeleg          = 1<<ExcInstMisaligned | 1<<ExcBreakpoint | 1<<ExcLoadMisaligned | 1<<ExcStoreMisaligned
)

// Interrupt bits shared by mie/mip/mideleg.
const (
	IntSSI uint64 = 1 << 1
	IntMSI uint64 = 1 << 3
	IntSTI uint64 = 1 << 5
	IntMTI uint64 = 1 << 7
	IntSEI uint64 = 1 << 9
	IntMEI uint64 = 1 << 11
)

// Exception causes.
const (
	ExcInstMisaligned  = 0
	ExcInstFault       = 1
	ExcIllegalInst     = 2
	ExcBreakpoint      = 3
	ExcLoadMisaligned  = 4
	ExcLoadFault       = 5
	ExcStoreMisaligned = 6
	ExcStoreFault      = 7
	ExcEcallU          = 8
	ExcEcallS          = 9
	ExcEcallM          = 11
)

// VCpuState is a full register snapshot of one virtual hart. FPRs are moved
// only when FP is set.
type VCpuState struct {
	GPR GPRs `json:"gpr"`
	FPR FPRs `json:"fpr"`
	CSR CSRs `json:"csr"`
	FP  bool `json:"fp"`
}

// InitContext returns the state an enclave hart starts from: zeroed
// registers, supervisor mode with FP dirty, and the standard delegation of
// supervisor interrupts and misaligned/breakpoint exceptions.
func InitContext(pc uint64) *VCpuState {
	v := &VCpuState{FP: true}
	v.GPR.PC = pc
	v.CSR.S.Sstatus = defaultSstatus
	v.CSR.M.Mstatus = defaultMstatus
	v.CSR.M.Mepc = pc
	v.CSR.M.Mie = defaultInterrupts
	v.CSR.M.Medeleg = defaultExcDeleg
	v.CSR.M.Mideleg = defaultIntDeleg
	return v
}

// Save captures the live register state. Traps must be quiesced on the
// hart while Save runs.
func (v *VCpuState) Save(rf RegisterFile) {
	v.GPR = *rf.GPRs()
	if v.FP {
		rf.ReadFPRs(&v.FPR)
	}
	rf.ReadCSRs(&v.CSR)
}

// Load writes the snapshot into the live register file. Loading a snapshot
// that was never saved replays its initial values; loading twice replays
// stale values.
func (v *VCpuState) Load(rf RegisterFile) {
	*rf.GPRs() = v.GPR
	if v.FP {
		rf.WriteFPRs(&v.FPR)
	}
	rf.WriteCSRs(&v.CSR)
}

// Equal reports whether two snapshots hold the same bits.
func (v *VCpuState) Equal(o *VCpuState) bool {
	if v.GPR != o.GPR || v.CSR != o.CSR || v.FP != o.FP {
		return false
	}
	for i := range v.FPR {
		if math.Float64bits(v.FPR[i]) != math.Float64bits(o.FPR[i]) {
			return false
		}
	}
	return true
}

func (v *VCpuState) String() string {
	var sb strings.Builder

	sb.WriteString("GPR:\n")
	for r := RegRA; r <= RegPC; r++ {
		val, _ := v.GPR.Get(r)
		fmt.Fprintf(&sb, "  %-4s 0x%016x", r, val)
		if r%4 == 0 || r == RegPC {
			sb.WriteByte('\n')
		}
	}

	if v.FP {
		sb.WriteString("FPR:\n")
		for i, f := range v.FPR {
			fmt.Fprintf(&sb, "  f%-3d %-18g", i, f)
			if i%4 == 3 {
				sb.WriteByte('\n')
			}
		}
	}

	s, m := v.CSR.S, v.CSR.M
	sb.WriteString("SCSR:\n")
	fmt.Fprintf(&sb, "  sstatus 0x%016x  sscratch 0x%016x  sepc 0x%016x\n", s.Sstatus, s.Sscratch, s.Sepc)
	fmt.Fprintf(&sb, "  stvec   0x%016x  satp     0x%016x  scause 0x%016x\n", s.Stvec, s.Satp, s.Scause)
	fmt.Fprintf(&sb, "  stval   0x%016x  sip      0x%016x  sie 0x%016x\n", s.Stval, s.Sip, s.Sie)
	sb.WriteString("MCSR:\n")
	fmt.Fprintf(&sb, "  mstatus 0x%016x  mepc     0x%016x  mip 0x%016x\n", m.Mstatus, m.Mepc, m.Mip)
	fmt.Fprintf(&sb, "  mie     0x%016x  medeleg  0x%016x  mideleg 0x%016x\n", m.Mie, m.Medeleg, m.Mideleg)

	return sb.String()
}
