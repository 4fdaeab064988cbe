/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-secmon"
	"github.com/blacktop/go-secmon/internal/units"
)

var (
	poolStart uint64
	poolSize  uint64
	maxVCPUs  int
	noFP      bool
	hostMem   bool
	verbose   bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	units.SizeVarP(pf, &poolStart, "pool-start", "s", 0x8000_0000, "Physical address of the monitor pool")
	units.SizeVarP(pf, &poolSize, "pool-size", "p", 0x100_0000, "Size of the monitor pool (num[gGmMkK])")
	pf.IntVar(&maxVCPUs, "max-vcpus", secmon.DefaultConfig().MaxVCPUs, "Harts per enclave")
	pf.BoolVar(&noFP, "no-fp", false, "Do not save floating point registers on context switches")
	pf.BoolVarP(&hostMem, "host-mem", "m", false, "Back the pool with anonymous host memory")
	pf.BoolVarP(&verbose, "verbose", "V", false, "Print monitor log messages to stderr")
}

var rootCmd = &cobra.Command{
	Use:           "smctl",
	Short:         "Drive a RISC-V security monitor on a simulated hart",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is an initialized monitor with the hart and memory that back it.
type session struct {
	sm   *secmon.Monitor
	hart *secmon.SimHart
	mem  *secmon.HostMemory
}

func (s *session) physMem() secmon.PhysMem {
	if s.mem == nil {
		return nil
	}
	return s.mem
}

func (s *session) Close() error {
	if s.mem != nil {
		return s.mem.Close()
	}
	return nil
}

func config(stderr io.Writer) secmon.Config {
	cfg := secmon.DefaultConfig()
	cfg.FloatingPoint = !noFP
	cfg.MaxVCPUs = maxVCPUs
	if verbose {
		cfg.Logger = log.New(stderr, "", log.Ltime|log.Lmicroseconds)
	}
	return cfg
}

// newSession builds a monitor from the persistent flags and hands it the pool.
func newSession(cmd *cobra.Command) (*session, error) {
	cfg := config(cmd.ErrOrStderr())
	s := &session{hart: secmon.NewSimHart()}

	if hostMem {
		mem, err := secmon.NewHostMemory(secmon.Pool{Start: poolStart, Size: poolSize})
		if err != nil {
			return nil, fmt.Errorf("failed to map pool: %w", err)
		}
		s.mem = mem
		cfg.Memory = mem
	}

	s.sm = secmon.New(cfg)
	if err := s.sm.Initialize(poolStart, poolSize); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize monitor: %w", err)
	}

	return s, nil
}
