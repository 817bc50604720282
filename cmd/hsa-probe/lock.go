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

func newLockCmd(p *probe) *cobra.Command {
	var (
		nx, ny    int
		seed      int64
		cpu, gpu  int
		streaming bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock host memory and copy a matrix into it from device memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lcfg := &p.cfg.Spec.Lock
			flags := cmd.Flags()
			if flags.Changed("nx") {
				lcfg.Nx = nx
			}
			if flags.Changed("ny") {
				lcfg.Ny = ny
			}
			if flags.Changed("seed") {
				lcfg.Seed = seed
			}
			if flags.Changed("cpu") {
				lcfg.CPU = cpu
			}
			if flags.Changed("gpu") {
				lcfg.GPU = gpu
			}
			if flags.Changed("streaming") {
				lcfg.Streaming = streaming
			}
			if flags.Changed("timeout") {
				lcfg.Timeout.Duration = timeout
			}

			return p.run(cmd.Context(), func(ctx context.Context) error {
				res, err := transfer.Run(ctx, p.rt, &transfer.Config{
					Nx:        lcfg.Nx,
					Ny:        lcfg.Ny,
					Seed:      lcfg.Seed,
					CPUIndex:  lcfg.CPU,
					GPUIndex:  lcfg.GPU,
					Streaming: lcfg.Streaming,
					Timeout:   lcfg.Timeout.Duration,
					Output:    p.out,
				})
				if err != nil {
					return err
				}
				if !res.Verified {
					return fmt.Errorf("matrix copied back from %s does not match the source", res.Region.Handle)
				}
				fmt.Fprintln(p.out, "\nMatrix verified")
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&nx, "nx", transfer.DefaultNx, "number of matrix columns")
	flags.IntVar(&ny, "ny", transfer.DefaultNy, "number of matrix rows")
	flags.Int64Var(&seed, "seed", 0, "seed of the matrix contents")
	flags.IntVar(&cpu, "cpu", 0, "index of the CPU agent")
	flags.IntVar(&gpu, "gpu", 0, "index of the GPU agent")
	flags.BoolVar(&streaming, "streaming", false, "look agents and regions up without enumerating them first")
	flags.DurationVar(&timeout, "timeout", 0, "copy completion timeout, 0 for none")

	return cmd
}
