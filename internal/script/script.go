// Package script runs starlark scenarios against a monitor. Every monitor
// builtin returns an (error, value) tuple, the pair a0/a1 would hold after
// the matching ecall.
package script

import (
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/blacktop/go-secmon"
)

// Runner executes scenarios on one simulated hart.
type Runner struct {
	Monitor *secmon.Monitor
	Hart    *secmon.SimHart
	// Out receives print() output
	Out io.Writer
}

// New returns a runner driving sm through hart.
func New(sm *secmon.Monitor, hart *secmon.SimHart, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{Monitor: sm, Hart: hart, Out: out}
}

// Exec runs the scenario in src (a filename is read when src is nil) and
// returns its globals.
func (r *Runner) Exec(filename string, src any) (starlark.StringDict, error) {
	thread := &starlark.Thread{
		Name:  filename,
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(r.Out, msg) },
	}
	opts := syntax.FileOptions{
		While:           true,
		TopLevelControl: true,
	}

	globals, err := starlark.ExecFileOptions(&opts, thread, filename, src, r.predeclared())
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("%s", evalErr.Backtrace())
		}
		return nil, err
	}
	return globals, nil
}

func (r *Runner) predeclared() starlark.StringDict {
	pred := starlark.StringDict{
		"initialize": starlark.NewBuiltin("initialize", r.call(secmon.FuncInitialize, "start", "size")),
		"allocate":   starlark.NewBuiltin("allocate", r.call(secmon.FuncAllocate, "eid", "size")),
		"free":       starlark.NewBuiltin("free", r.call(secmon.FuncFree, "eid", "addr")),
		"create":     starlark.NewBuiltin("create", r.call(secmon.FuncCreate, "pc")),
		"enter":      starlark.NewBuiltin("enter", r.call(secmon.FuncEnter, "idx", "vcpu?")),
		"leave":      starlark.NewBuiltin("leave", r.call(secmon.FuncExit, "idx")),
		"self_test":  starlark.NewBuiltin("self_test", r.call(secmon.FuncSelfTest, "id")),
		"reg":        starlark.NewBuiltin("reg", r.reg),
		"set_reg":    starlark.NewBuiltin("set_reg", r.setReg),
		"enclaves":   starlark.NewBuiltin("enclaves", r.enclaves),

		"FRAME_SIZE": starlark.MakeUint64(secmon.FrameSize),
	}

	for name, code := range map[string]int64{
		"SBI_SUCCESS":               secmon.SBI_SUCCESS,
		"SBI_ERR_FAILED":            secmon.SBI_ERR_FAILED,
		"SBI_ERR_NOT_SUPPORTED":     secmon.SBI_ERR_NOT_SUPPORTED,
		"SBI_ERR_INVALID_PARAM":     secmon.SBI_ERR_INVALID_PARAM,
		"SBI_ERR_DENIED":            secmon.SBI_ERR_DENIED,
		"SBI_ERR_INVALID_ADDRESS":   secmon.SBI_ERR_INVALID_ADDRESS,
		"SBI_ERR_ALREADY_AVAILABLE": secmon.SBI_ERR_ALREADY_AVAILABLE,
		"SBI_ERR_ALREADY_STARTED":   secmon.SBI_ERR_ALREADY_STARTED,
		"SBI_ERR_ALREADY_STOPPED":   secmon.SBI_ERR_ALREADY_STOPPED,
	} {
		pred[name] = starlark.MakeInt64(code)
	}

	for id, name := range secmon.SelfTestNames {
		pred["SELF_TEST_"+strings.ToUpper(name)] = starlark.MakeUint64(id)
	}

	return pred
}

type builtinFn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

// call binds a builtin to monitor function fn, its parameters filling a0
// upwards. A trailing "?" marks an optional parameter.
func (r *Runner) call(fn uint64, names ...string) builtinFn {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		vals := make([]starlark.Int, len(names))
		pairs := make([]any, 0, 2*len(names))
		for i, name := range names {
			pairs = append(pairs, name, &vals[i])
		}
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, pairs...); err != nil {
			return nil, err
		}

		var params [7]uint64
		for i, v := range vals {
			if v == (starlark.Int{}) {
				continue
			}
			u, ok := v.Uint64()
			if !ok {
				return nil, fmt.Errorf("%s: %s out of range: %s", b.Name(), names[i], v)
			}
			params[i] = u
		}

		return result(r.Monitor.Call(fn, params, r.Hart)), nil
	}
}

func result(ret secmon.Ret) starlark.Tuple {
	return starlark.Tuple{starlark.MakeInt64(ret.Error), starlark.MakeUint64(ret.Value)}
}

func (r *Runner) reg(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}

	var (
		v   uint64
		err error
	)
	if reg, perr := secmon.ParseReg(name); perr == nil {
		v, err = r.Hart.GetReg(reg)
	} else if csr, perr := secmon.ParseCSR(name); perr == nil {
		v, err = r.Hart.ReadCSR(csr)
	} else {
		err = fmt.Errorf("register %q: %w", name, secmon.ErrFailed)
	}

	return result(secmon.Ret{Error: secmon.ErrorCode(err), Value: v}), nil
}

func (r *Runner) setReg(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name  string
		value starlark.Int
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &value); err != nil {
		return nil, err
	}
	v, ok := value.Uint64()
	if !ok {
		return nil, fmt.Errorf("%s: value out of range: %s", b.Name(), value)
	}

	var err error
	if reg, perr := secmon.ParseReg(name); perr == nil {
		err = r.Hart.SetReg(reg, v)
	} else if csr, perr := secmon.ParseCSR(name); perr == nil {
		err = r.Hart.WriteCSR(csr, v)
	} else {
		err = fmt.Errorf("register %q: %w", name, secmon.ErrFailed)
	}

	return result(secmon.Ret{Error: secmon.ErrorCode(err)}), nil
}

func (r *Runner) enclaves(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if !r.Monitor.Initialized() {
		return result(secmon.Ret{Error: secmon.ErrorCode(secmon.ErrNotInitialized)}), nil
	}
	return result(secmon.Ret{Value: uint64(r.Monitor.Enclaves())}), nil
}
