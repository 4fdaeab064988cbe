package secmon

import (
	"fmt"
	"strconv"
	"strings"
)

// GPRs is the general purpose register frame of a hart. x0 is hardwired to
// zero and has no slot.
type GPRs struct {
	RA uint64     `json:"ra"`
	T  [7]uint64  `json:"t"`
	A  [8]uint64  `json:"a"`
	S  [12]uint64 `json:"s"`
	GP uint64     `json:"gp"`
	TP uint64     `json:"tp"`
	SP uint64     `json:"sp"`
	PC uint64     `json:"pc"`
}

// FPRs holds the 32 floating point registers.
type FPRs [32]float64

// SupervisorCSRs are the S-mode CSRs tracked across a context switch.
type SupervisorCSRs struct {
	Sstatus  uint64 `json:"sstatus"`
	Sscratch uint64 `json:"sscratch"`
	Sepc     uint64 `json:"sepc"`
	Stvec    uint64 `json:"stvec"`
	Satp     uint64 `json:"satp"`
	Scause   uint64 `json:"scause"`
	Stval    uint64 `json:"stval"`
	Sip      uint64 `json:"sip"`
	Sie      uint64 `json:"sie"`
}

// MachineCSRs are the M-mode CSRs tracked across a context switch.
type MachineCSRs struct {
	Mstatus uint64 `json:"mstatus"`
	Mepc    uint64 `json:"mepc"`
	Mip     uint64 `json:"mip"`
	Mie     uint64 `json:"mie"`
	Medeleg uint64 `json:"medeleg"`
	Mideleg uint64 `json:"mideleg"`
}

// CSRs groups every tracked CSR.
type CSRs struct {
	S SupervisorCSRs `json:"supervisor"`
	M MachineCSRs    `json:"machine"`
}

// RegisterFile is the live register state of the trapping hart. GPRs points
// at the trap frame saved by the trap entry path; FPRs and CSRs are moved in
// bulk. Implementations are used by one hart at a time and need no locking.
type RegisterFile interface {
	GPRs() *GPRs
	ReadFPRs(*FPRs)
	WriteFPRs(*FPRs)
	ReadCSRs(*CSRs)
	WriteCSRs(*CSRs)
}

// Reg identifies a general purpose register by its x number; RegPC follows
// x31.
type Reg int

const (
	RegZero Reg = iota // x0
	RegRA              // x1
	RegSP              // x2
	RegGP              // x3
	RegTP              // x4
	RegT0              // x5
	RegT1              // x6
	RegT2              // x7
	RegS0              // x8
	RegS1              // x9
	RegA0              // x10
	RegA1              // x11
	RegA2              // x12
	RegA3              // x13
	RegA4              // x14
	RegA5              // x15
	RegA6              // x16
	RegA7              // x17
	RegS2              // x18
	RegS3              // x19
	RegS4              // x20
	RegS5              // x21
	RegS6              // x22
	RegS7              // x23
	RegS8              // x24
	RegS9              // x25
	RegS10             // x26
	RegS11             // x27
	RegT3              // x28
	RegT4              // x29
	RegT5              // x30
	RegT6              // x31
	RegPC
)

var regNames = [...]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
	"pc",
}

func (r Reg) String() string {
	if r < RegZero || r > RegPC {
		return "Reg(" + strconv.Itoa(int(r)) + ")"
	}
	return regNames[r]
}

// ParseReg accepts an ABI name ("a0"), an x name ("x10"), "fp" or "pc".
func ParseReg(name string) (Reg, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "fp" {
		return RegS0, nil
	}
	for i, n := range regNames {
		if n == name {
			return Reg(i), nil
		}
	}
	if num, ok := strings.CutPrefix(name, "x"); ok {
		if i, err := strconv.Atoi(num); err == nil && i >= 0 && i < 32 {
			return Reg(i), nil
		}
	}
	return 0, fmt.Errorf("sm: unknown register %q", name)
}

// slot returns the storage for r, or nil for x0.
func (g *GPRs) slot(r Reg) *uint64 {
	switch {
	case r == RegRA:
		return &g.RA
	case r == RegSP:
		return &g.SP
	case r == RegGP:
		return &g.GP
	case r == RegTP:
		return &g.TP
	case r >= RegT0 && r <= RegT2:
		return &g.T[r-RegT0]
	case r >= RegT3 && r <= RegT6:
		return &g.T[3+r-RegT3]
	case r == RegS0 || r == RegS1:
		return &g.S[r-RegS0]
	case r >= RegS2 && r <= RegS11:
		return &g.S[2+r-RegS2]
	case r >= RegA0 && r <= RegA7:
		return &g.A[r-RegA0]
	case r == RegPC:
		return &g.PC
	}
	return nil
}

// Get returns the value of r. x0 always reads as zero.
func (g *GPRs) Get(r Reg) (uint64, error) {
	if r < RegZero || r > RegPC {
		return 0, fmt.Errorf("sm: invalid register %d (must be %d-%d)", r, RegZero, RegPC)
	}
	if r == RegZero {
		return 0, nil
	}
	return *g.slot(r), nil
}

// Set writes v to r. x0 is read-only.
func (g *GPRs) Set(r Reg, v uint64) error {
	if r <= RegZero || r > RegPC {
		return fmt.Errorf("sm: register %v is not writable", r)
	}
	*g.slot(r) = v
	return nil
}

// CSR is a RISC-V CSR number.
type CSR uint16

const (
	CSRSstatus  CSR = 0x100
	CSRSie      CSR = 0x104
	CSRStvec    CSR = 0x105
	CSRSscratch CSR = 0x140
	CSRSepc     CSR = 0x141
	CSRScause   CSR = 0x142
	CSRStval    CSR = 0x143
	CSRSip      CSR = 0x144
	CSRSatp     CSR = 0x180
	CSRMstatus  CSR = 0x300
	CSRMedeleg  CSR = 0x302
	CSRMideleg  CSR = 0x303
	CSRMie      CSR = 0x304
	CSRMepc     CSR = 0x341
	CSRMip      CSR = 0x344
)

var csrNames = map[CSR]string{
	CSRSstatus:  "sstatus",
	CSRSie:      "sie",
	CSRStvec:    "stvec",
	CSRSscratch: "sscratch",
	CSRSepc:     "sepc",
	CSRScause:   "scause",
	CSRStval:    "stval",
	CSRSip:      "sip",
	CSRSatp:     "satp",
	CSRMstatus:  "mstatus",
	CSRMedeleg:  "medeleg",
	CSRMideleg:  "mideleg",
	CSRMie:      "mie",
	CSRMepc:     "mepc",
	CSRMip:      "mip",
}

func (c CSR) String() string {
	if n, ok := csrNames[c]; ok {
		return n
	}
	return fmt.Sprintf("csr(0x%03x)", uint16(c))
}

// ParseCSR accepts a CSR name or a number such as "0x300".
func ParseCSR(name string) (CSR, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range csrNames {
		if n == name {
			return c, nil
		}
	}
	if v, err := strconv.ParseUint(name, 0, 12); err == nil {
		if _, ok := csrNames[CSR(v)]; ok {
			return CSR(v), nil
		}
	}
	return 0, fmt.Errorf("sm: unknown csr %q", name)
}

func (c *CSRs) slot(csr CSR) *uint64 {
	switch csr {
	case CSRSstatus:
		return &c.S.Sstatus
	case CSRSie:
		return &c.S.Sie
	case CSRStvec:
		return &c.S.Stvec
	case CSRSscratch:
		return &c.S.Sscratch
	case CSRSepc:
		return &c.S.Sepc
	case CSRScause:
		return &c.S.Scause
	case CSRStval:
		return &c.S.Stval
	case CSRSip:
		return &c.S.Sip
	case CSRSatp:
		return &c.S.Satp
	case CSRMstatus:
		return &c.M.Mstatus
	case CSRMedeleg:
		return &c.M.Medeleg
	case CSRMideleg:
		return &c.M.Mideleg
	case CSRMie:
		return &c.M.Mie
	case CSRMepc:
		return &c.M.Mepc
	case CSRMip:
		return &c.M.Mip
	}
	return nil
}

// Get returns the value of a tracked CSR.
func (c *CSRs) Get(csr CSR) (uint64, error) {
	p := c.slot(csr)
	if p == nil {
		return 0, fmt.Errorf("sm: csr 0x%03x is not tracked", uint16(csr))
	}
	return *p, nil
}

// Set writes a tracked CSR.
func (c *CSRs) Set(csr CSR, v uint64) error {
	p := c.slot(csr)
	if p == nil {
		return fmt.Errorf("sm: csr 0x%03x is not tracked", uint16(csr))
	}
	*p = v
	return nil
}
