// Package console implements an interactive monitor console on top of a
// simulated hart, usable on a local terminal or over SSH.
package console

import (
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/term"

	"github.com/blacktop/go-secmon"
)

// Console binds console commands to a monitor and the hart they operate on.
type Console struct {
	// Banner is the login welcome banner
	Banner string
	// Monitor receives the console's calls
	Monitor *secmon.Monitor
	// Hart is the register file switched by enter and leave
	Hart *secmon.SimHart
	// Mem backs peek, nil when the pool has no host mapping
	Mem secmon.PhysMem

	mu      sync.Mutex
	entered int // enclave loaded in Hart, -1 for the host
}

// New returns a console operating on hart.
func New(sm *secmon.Monitor, hart *secmon.SimHart, mem secmon.PhysMem) *Console {
	return &Console{
		Banner:  "go-secmon console",
		Monitor: sm,
		Hart:    hart,
		Mem:     mem,
		entered: -1,
	}
}

// Serve runs the command loop on rw until the session is closed.
func (c *Console) Serve(rw io.ReadWriter) error {
	return c.session(term.NewTerminal(rw, ""))
}

func (c *Console) session(t *term.Terminal) error {
	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))

	fmt.Fprintf(t, "%s\n", c.Banner)
	fmt.Fprintf(t, "%s\n", Help(t))

	for {
		line, err := t.ReadLine()

		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		res, err := c.Handle(t, line)
		if res != "" {
			fmt.Fprintln(t, res)
		}

		if err == io.EOF {
			return nil
		}

		if err != nil {
			log.Printf("error: %v", err)
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}
