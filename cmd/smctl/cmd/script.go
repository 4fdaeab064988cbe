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
	"os"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-secmon"
	"github.com/blacktop/go-secmon/internal/script"
)

var scriptInit bool

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.Flags().BoolVarP(&scriptInit, "init", "i", true, "Initialize the monitor with the pool flags before running")
}

var scriptCmd = &cobra.Command{
	Use:   "script FILE.star",
	Short: "Run a starlark scenario against the monitor",
	Long: `Run a starlark scenario against the monitor.

Monitor calls are builtins returning (error, value) tuples:

  initialize(start, size)  allocate(eid, size)  free(eid, addr)
  create(pc)  enter(idx[, vcpu])  leave(idx)  self_test(id)
  reg(name)  set_reg(name, value)  enclaves()

Use --init=false to let the scenario call initialize itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}

		var r *script.Runner
		if scriptInit {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			r = script.New(s.sm, s.hart, cmd.OutOrStdout())
		} else {
			r = script.New(secmon.New(config(cmd.ErrOrStderr())), secmon.NewSimHart(), cmd.OutOrStdout())
		}

		if _, err := r.Exec(args[0], src); err != nil {
			return fmt.Errorf("script failed: %w", err)
		}
		return nil
	},
}
