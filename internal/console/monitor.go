package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/blacktop/go-secmon"
	"github.com/blacktop/go-secmon/internal/translate"
	"github.com/blacktop/go-secmon/internal/units"
)

var errNotEntered = errors.New("no enclave entered")

func init() {
	Add(Cmd{
		Name:    "alloc",
		Args:    2,
		Pattern: regexp.MustCompile(`^alloc (\d+) (\S+)$`),
		Syntax:  "<eid> <size>",
		Help:    "allocate frames for an enclave",
		Fn:      allocCmd,
	})

	Add(Cmd{
		Name:    "free",
		Args:    2,
		Pattern: regexp.MustCompile(`^free (\d+) (0x[[:xdigit:]]+)$`),
		Syntax:  "<eid> <hex addr>",
		Help:    "release an allocation",
		Fn:      freeCmd,
	})

	Add(Cmd{
		Name:    "create",
		Args:    1,
		Pattern: regexp.MustCompile(`^create (0x[[:xdigit:]]+)$`),
		Syntax:  "<hex pc>",
		Help:    "create an enclave",
		Fn:      createCmd,
	})

	Add(Cmd{
		Name:    "enter",
		Args:    2,
		Pattern: regexp.MustCompile(`^enter (\d+)(?: (\d+))?$`),
		Syntax:  "<index> (vcpu)",
		Help:    "switch the hart into an enclave",
		Fn:      enterCmd,
	})

	Add(Cmd{
		Name: "leave",
		Help: "switch the hart back to the host",
		Fn:   leaveCmd,
	})

	Add(Cmd{
		Name:    "regs",
		Args:    1,
		Pattern: regexp.MustCompile(`^regs(?: (\S+))?$`),
		Syntax:  "(reg|csr)",
		Help:    "show hart registers",
		Fn:      regsCmd,
	})

	Add(Cmd{
		Name:    "set",
		Args:    2,
		Pattern: regexp.MustCompile(`^set (\S+) (0x[[:xdigit:]]+|\d+)$`),
		Syntax:  "<reg|csr> <value>",
		Help:    "write a hart register",
		Fn:      setCmd,
	})

	Add(Cmd{
		Name: "stats",
		Help: "memory and monitor counters",
		Fn:   statsCmd,
	})

	Add(Cmd{
		Name:    "selftest",
		Args:    1,
		Pattern: regexp.MustCompile(`^selftest(?: (\d+))?$`),
		Syntax:  "(id)",
		Help:    "run monitor self tests",
		Fn:      selftestCmd,
	})
}

func allocCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	eid, err := strconv.ParseUint(arg[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid enclave id, %v", err)
	}

	size, err := units.ParseSize(arg[1], "")
	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	addr, err := c.Monitor.Allocate(eid, size)
	if err != nil {
		return "", err
	}

	return translate.From("allocated %s at %#x", translate.Bytes(size), addr), nil
}

func freeCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	eid, err := strconv.ParseUint(arg[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid enclave id, %v", err)
	}

	addr, err := strconv.ParseUint(arg[1], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	return "", c.Monitor.Free(eid, addr)
}

func createCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	pc, err := strconv.ParseUint(arg[0], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid pc, %v", err)
	}

	idx, err := c.Monitor.Create(pc)
	if err != nil {
		return "", err
	}

	return translate.From("enclave %d created", idx), nil
}

func enterCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	if c.entered >= 0 {
		return "", fmt.Errorf("enclave %d already entered, use leave", c.entered)
	}

	idx, err := strconv.Atoi(arg[0])
	if err != nil {
		return "", fmt.Errorf("invalid index, %v", err)
	}

	var vcpu int
	if arg[1] != "" {
		if vcpu, err = strconv.Atoi(arg[1]); err != nil {
			return "", fmt.Errorf("invalid vcpu, %v", err)
		}
	}

	if err := c.Monitor.EnterVCPU(idx, vcpu, c.Hart); err != nil {
		return "", err
	}
	c.entered = idx

	return translate.From("enclave %d entered at pc %#x", idx, c.Hart.GetPC()), nil
}

func leaveCmd(c *Console, _ *term.Terminal, _ []string) (string, error) {
	if c.entered < 0 {
		return "", errNotEntered
	}

	if err := c.Monitor.Exit(c.entered, c.Hart); err != nil {
		return "", err
	}

	res := translate.From("enclave %d left, host pc %#x", c.entered, c.Hart.GetPC())
	c.entered = -1
	return res, nil
}

func regsCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	if arg[0] == "" {
		state := c.Hart.Snapshot()
		return strings.TrimRight(state.String(), "\n"), nil
	}

	if r, err := secmon.ParseReg(arg[0]); err == nil {
		v, err := c.Hart.GetReg(r)
		return fmt.Sprintf("%-8s 0x%016x", r, v), err
	}

	csr, err := secmon.ParseCSR(arg[0])
	if err != nil {
		return "", fmt.Errorf("unknown register %q", arg[0])
	}
	v, err := c.Hart.ReadCSR(csr)
	return fmt.Sprintf("%-8s 0x%016x", csr, v), err
}

func setCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	v, err := strconv.ParseUint(arg[1], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid value, %v", err)
	}

	if r, err := secmon.ParseReg(arg[0]); err == nil {
		return "", c.Hart.SetReg(r, v)
	}

	csr, err := secmon.ParseCSR(arg[0])
	if err != nil {
		return "", fmt.Errorf("unknown register %q", arg[0])
	}
	return "", c.Hart.WriteCSR(csr, v)
}

func statsCmd(c *Console, _ *term.Terminal, _ []string) (string, error) {
	mem, err := c.Monitor.MemoryStats()
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(struct {
		Enclaves int                `json:"enclaves"`
		Memory   secmon.MemoryStats `json:"memory"`
		Metrics  secmon.Metrics     `json:"metrics"`
	}{c.Monitor.Enclaves(), mem, c.Monitor.Metrics()}, "", "  ")
	if err != nil {
		return "", err
	}

	return string(out), nil
}

func selftestCmd(c *Console, _ *term.Terminal, arg []string) (string, error) {
	ids := []uint64{secmon.SelfTestMemory, secmon.SelfTestEnclave, secmon.SelfTestContext}
	if arg[0] != "" {
		id, err := strconv.ParseUint(arg[0], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid test id, %v", err)
		}
		ids = []uint64{id}
	}

	var res []string
	for _, id := range ids {
		status := "ok"
		if err := c.Monitor.SelfTest(id, c.Hart); err != nil {
			status = err.Error()
		}
		name, ok := secmon.SelfTestNames[id]
		if !ok {
			name = strconv.FormatUint(id, 10)
		}
		res = append(res, fmt.Sprintf("%-8s %s", name, status))
	}

	return strings.Join(res, "\n"), nil
}
