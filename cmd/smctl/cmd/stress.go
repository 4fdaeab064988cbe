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
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blacktop/go-secmon"
)

var (
	stressHarts      int
	stressIterations int
)

func init() {
	rootCmd.AddCommand(stressCmd)
	stressCmd.Flags().IntVarP(&stressHarts, "harts", "n", 4, "Simulated harts calling into the monitor")
	stressCmd.Flags().IntVarP(&stressIterations, "iterations", "i", 1000, "Round trips per hart")
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run concurrent enclave round trips and allocations from several harts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stressHarts <= 0 || stressIterations <= 0 {
			return fmt.Errorf("--harts and --iterations must be positive")
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var exhausted atomic.Uint64
		start := time.Now()

		g := new(errgroup.Group)

		for hart := range stressHarts {
			g.Go(func() error {
				return stressHart(s.sm, hart, &exhausted)
			})
		}

		err = g.Wait()

		out := cmd.OutOrStdout()
		m := s.sm.Metrics()
		fmt.Fprintf(out, "harts: %d iterations: %d elapsed: %s\n", stressHarts, stressIterations, time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "entries: %d exits: %d avg switch: %dns\n", m.Entries, m.Exits, m.AvgSwitchTimeNs)
		fmt.Fprintf(out, "frames allocated: %d freed: %d exhausted: %d heap rescues: %d\n",
			m.FramesAllocated, m.FramesFreed, exhausted.Load(), m.HeapRescues)

		if err != nil {
			fmt.Fprintf(out, "%s %v\n", failColor("FAIL"), err)
			return err
		}
		fmt.Fprintf(out, "%s\n", passColor("PASS"))
		return nil
	},
}

// stressHart owns one enclave and repeatedly enters and leaves it, checking
// that the host context survives every round trip.
func stressHart(sm *secmon.Monitor, hart int, exhausted *atomic.Uint64) error {
	rf := secmon.NewSimHart()
	entry := uint64(0x8020_0000 + hart*0x1000)

	idx, err := sm.Create(entry)
	if err != nil {
		return fmt.Errorf("hart %d: create: %w", hart, err)
	}

	for i := range stressIterations {
		g := rf.GPRs()
		g.PC = rand.Uint64() &^ 1
		g.A[0] = uint64(i)
		g.SP = rand.Uint64()
		host := rf.Snapshot()

		if err := sm.Enter(idx, rf); err != nil {
			return fmt.Errorf("hart %d iteration %d: enter: %w", hart, i, err)
		}
		if pc := rf.GetPC(); i == 0 && pc != entry {
			return fmt.Errorf("hart %d: entered at 0x%x, want 0x%x", hart, pc, entry)
		}
		rf.GPRs().S[1] = uint64(i)

		if err := sm.Exit(idx, rf); err != nil {
			return fmt.Errorf("hart %d iteration %d: exit: %w", hart, i, err)
		}
		if after := rf.Snapshot(); !after.Equal(&host) {
			return fmt.Errorf("hart %d iteration %d: host context not restored", hart, i)
		}

		addr, err := sm.Allocate(uint64(idx), secmon.FrameSize)
		if errors.Is(err, secmon.ErrNoFrames) {
			exhausted.Add(1)
			continue
		}
		if err != nil {
			return fmt.Errorf("hart %d iteration %d: allocate: %w", hart, i, err)
		}
		if err := sm.Free(uint64(idx), addr); err != nil {
			return fmt.Errorf("hart %d iteration %d: free: %w", hart, i, err)
		}
	}

	return nil
}
