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

	"github.com/spf13/cobra"

	"github.com/blacktop/go-secmon/internal/translate"
	"github.com/blacktop/go-secmon/internal/units"
)

var (
	allocEID   uint64
	allocSize  uint64
	allocCount int
	allocFree  bool
)

func init() {
	rootCmd.AddCommand(allocCmd)
	allocCmd.Flags().Uint64VarP(&allocEID, "eid", "e", 1, "Enclave id charged for the allocation")
	units.SizeVarP(allocCmd.Flags(), &allocSize, "size", "z", 0x20_0000, "Bytes per allocation (num[gGmMkK])")
	allocCmd.Flags().IntVarP(&allocCount, "count", "n", 1, "Number of allocations")
	allocCmd.Flags().BoolVar(&allocFree, "free", false, "Free the allocations again")
}

var allocCmd = &cobra.Command{
	Use:   "alloc",
	Short: "Allocate pool frames on behalf of an enclave",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()

		var addrs []uint64
		for range allocCount {
			addr, err := s.sm.Allocate(allocEID, allocSize)
			if err != nil {
				return fmt.Errorf("allocation %d failed: %w", len(addrs), err)
			}
			addrs = append(addrs, addr)
			translate.Fprintf(out, "0x%x %s\n", addr, translate.Bytes(allocSize))
		}

		if allocFree {
			for _, addr := range addrs {
				if err := s.sm.Free(allocEID, addr); err != nil {
					return fmt.Errorf("free of 0x%x failed: %w", addr, err)
				}
			}
		}

		stats, err := s.sm.MemoryStats()
		if err != nil {
			return err
		}
		translate.Fprintf(out, "frames: %d free of %d, heap rescues: %d\n",
			stats.FreeFrames, stats.TotalFrames, stats.Rescues)

		return nil
	},
}
