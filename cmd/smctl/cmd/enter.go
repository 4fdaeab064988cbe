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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-secmon"
)

// EnterResult is the register state around one enclave round trip.
type EnterResult struct {
	Enclave   secmon.EnclaveInfo `json:"enclave"`
	Host      secmon.VCpuState   `json:"host"`
	Entered   secmon.VCpuState   `json:"entered"`
	Restored  secmon.VCpuState   `json:"restored"`
	Unchanged bool               `json:"unchanged"`
	Metrics   secmon.Metrics     `json:"metrics"`
}

var (
	entryPC   uint64
	hostPC    uint64
	enterVCPU int
)

func init() {
	rootCmd.AddCommand(enterCmd)
	enterCmd.Flags().Uint64VarP(&entryPC, "entry", "e", 0x8020_0000, "Enclave entry point")
	enterCmd.Flags().Uint64Var(&hostPC, "host-pc", 0x8000_1000, "Host pc at the time of the call")
	enterCmd.Flags().IntVar(&enterVCPU, "vcpu", 0, "Enclave hart to enter")
}

var enterCmd = &cobra.Command{
	Use:   "enter",
	Short: "Create an enclave, enter and exit it, and print the register state as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := roundTrip(s)
		if err != nil {
			return err
		}

		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	},
}

func roundTrip(s *session) (*EnterResult, error) {
	s.hart.SetPC(hostPC)

	idx, err := s.sm.Create(entryPC)
	if err != nil {
		return nil, fmt.Errorf("failed to create enclave: %w", err)
	}
	for i := 1; i <= enterVCPU; i++ {
		if _, err := s.sm.AddVCPU(idx, entryPC); err != nil {
			return nil, fmt.Errorf("failed to add vcpu %d: %w", i, err)
		}
	}

	result := &EnterResult{Host: s.hart.Snapshot()}

	if err := s.sm.EnterVCPU(idx, enterVCPU, s.hart); err != nil {
		return nil, fmt.Errorf("failed to enter enclave: %w", err)
	}
	result.Entered = s.hart.Snapshot()

	if result.Enclave, err = s.sm.Enclave(idx); err != nil {
		return nil, err
	}

	if err := s.sm.Exit(idx, s.hart); err != nil {
		return nil, fmt.Errorf("failed to exit enclave: %w", err)
	}
	result.Restored = s.hart.Snapshot()
	result.Unchanged = result.Restored.Equal(&result.Host)
	result.Metrics = s.sm.Metrics()

	return result, nil
}
