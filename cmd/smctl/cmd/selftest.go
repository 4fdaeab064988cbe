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
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blacktop/go-secmon"
)

var (
	passColor = color.New(color.FgGreen, color.Bold).SprintFunc()
	failColor = color.New(color.FgRed, color.Bold).SprintFunc()
)

func init() {
	rootCmd.AddCommand(selftestCmd)
}

var selftestCmd = &cobra.Command{
	Use:   "selftest [ID...]",
	Short: "Run monitor self tests (0=memory 1=enclave 2=context)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := []uint64{secmon.SelfTestMemory, secmon.SelfTestEnclave, secmon.SelfTestContext}
		if len(args) > 0 {
			ids = ids[:0]
			for _, arg := range args {
				id, err := strconv.ParseUint(arg, 0, 64)
				if err != nil {
					return fmt.Errorf("invalid test id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var failed int
		for _, id := range ids {
			name, ok := secmon.SelfTestNames[id]
			if !ok {
				name = "unknown"
			}
			if err := s.sm.SelfTest(id, s.hart); err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d %-8s %v\n", failColor("FAIL"), id, name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n", passColor("PASS"), id, name)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d self tests failed", failed, len(ids))
		}
		return nil
	},
}
