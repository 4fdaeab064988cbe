package secmon

import "fmt"

// Function numbers carried in a7.
const (
	FuncInitialize uint64 = 0x0
	FuncAllocate   uint64 = 0x1
	FuncFree       uint64 = 0x2
	FuncCreate     uint64 = 0x10
	FuncEnter      uint64 = 0x11
	FuncExit       uint64 = 0x12
	FuncSelfTest   uint64 = 0x1000
)

var funcNames = map[uint64]string{
	FuncInitialize: "initialize",
	FuncAllocate:   "allocate",
	FuncFree:       "free",
	FuncCreate:     "create",
	FuncEnter:      "enter",
	FuncExit:       "exit",
	FuncSelfTest:   "self_test",
}

// FuncName returns the name of function number fn.
func FuncName(fn uint64) string {
	if n, ok := funcNames[fn]; ok {
		return n
	}
	return fmt.Sprintf("func(0x%x)", fn)
}

// Ret is the two-register result of a monitor call.
type Ret struct {
	Error int64  `json:"error"`
	Value uint64 `json:"value"`
	// Switched is set when the call replaced the register file with another
	// context, whose a0/a1 must not be clobbered.
	Switched bool `json:"switched"`
}

// Err returns the result as a Go error.
func (r Ret) Err() error {
	if r.Error == SBI_SUCCESS {
		return nil
	}
	return SBIError{Code: r.Error}
}

// WriteTo stores the result in a0/a1.
func (r Ret) WriteTo(g *GPRs) {
	if r.Switched {
		return
	}
	g.A[0] = uint64(r.Error)
	g.A[1] = r.Value
}

func ret(v uint64, err error) Ret {
	return Ret{Error: ErrorCode(err), Value: v}
}

// Call runs function fn with parameters a0..a6 against the hart behind rf.
func (m *Monitor) Call(fn uint64, params [7]uint64, rf RegisterFile) Ret {
	switch fn {
	case FuncInitialize:
		return ret(0, m.Initialize(params[0], params[1]))
	case FuncAllocate:
		return ret(m.Allocate(params[0], params[1]))
	case FuncFree:
		return ret(0, m.Free(params[0], params[1]))
	case FuncCreate:
		idx, err := m.Create(params[0])
		return ret(uint64(idx), err)
	case FuncEnter:
		idx, vcpu, err := indices(params[0], params[1])
		if err == nil {
			err = m.EnterVCPU(idx, vcpu, rf)
		}
		r := ret(0, err)
		r.Switched = err == nil
		return r
	case FuncExit:
		idx, _, err := indices(params[0], 0)
		if err == nil {
			err = m.Exit(idx, rf)
		}
		r := ret(0, err)
		r.Switched = err == nil
		return r
	case FuncSelfTest:
		return ret(0, m.SelfTest(params[0], rf))
	default:
		return ret(0, m.metrics.recordError(fmt.Errorf("%s: %w", FuncName(fn), ErrUnknownFunction)))
	}
}

// Trap decodes a call from the trap frame of rf (function in a7, parameters
// in a0..a6), runs it and writes the result back.
func (m *Monitor) Trap(rf RegisterFile) Ret {
	g := rf.GPRs()
	var params [7]uint64
	copy(params[:], g.A[:7])

	r := m.Call(g.A[7], params, rf)
	r.WriteTo(rf.GPRs())
	return r
}

// indices narrows register values to table indices.
func indices(a, b uint64) (int, int, error) {
	const limit = 1<<31 - 1
	if a > limit {
		return 0, 0, fmt.Errorf("enclave %d: %w", a, ErrEnclaveNotFound)
	}
	if b > limit {
		return 0, 0, fmt.Errorf("vcpu %d: %w", b, ErrVCPUNotFound)
	}
	return int(a), int(b), nil
}
