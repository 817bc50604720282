// Copyright The amdgpu-test Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luraess/amdgpu-test/pkg/transfer"
)

func newBenchCmd(p *probe) *cobra.Command {
	var (
		size       string
		iterations int
		cpu, gpu   int
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure locked host memory copies from device memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bcfg := &p.cfg.Spec.Bench
			flags := cmd.Flags()
			if flags.Changed("size") {
				bcfg.Size = size
			}
			if flags.Changed("iterations") {
				bcfg.Iterations = iterations
			}
			if flags.Changed("cpu") {
				bcfg.CPU = cpu
			}
			if flags.Changed("gpu") {
				bcfg.GPU = gpu
			}
			if flags.Changed("timeout") {
				bcfg.Timeout.Duration = timeout
			}

			bytes, err := bcfg.SizeBytes()
			if err != nil {
				return err
			}

			return p.run(cmd.Context(), func(ctx context.Context) error {
				res, err := transfer.Bench(ctx, p.rt, &transfer.BenchConfig{
					Size:             bytes,
					Iterations:       bcfg.Iterations,
					Seed:             bcfg.Seed,
					CPUIndex:         bcfg.CPU,
					GPUIndex:         bcfg.GPU,
					Timeout:          bcfg.Timeout.Duration,
					ProgressInterval: bcfg.ProgressInterval.Duration,
					Observer:         p.met.transfer,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(p.out, res)
				if !res.Verified {
					return fmt.Errorf("data copied back from %s does not match the source", res.Region.Handle)
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&size, "size", "64 MiB", "bytes transferred per round")
	flags.IntVar(&iterations, "iterations", transfer.DefaultIterations, "number of rounds")
	flags.IntVar(&cpu, "cpu", 0, "index of the CPU agent")
	flags.IntVar(&gpu, "gpu", 0, "index of the GPU agent")
	flags.DurationVar(&timeout, "timeout", 0, "per round completion timeout, 0 for none")

	return cmd
}
