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

	"github.com/spf13/cobra"

	"github.com/luraess/amdgpu-test/pkg/inventory"
)

func newAgentsCmd(p *probe) *cobra.Command {
	var (
		format       string
		gpuOnly      bool
		noHostAccess bool
	)

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents and their memory regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			icfg := &p.cfg.Spec.Inventory
			flags := cmd.Flags()
			if flags.Changed("output") {
				icfg.Format = format
			}
			if flags.Changed("gpu-only") && gpuOnly {
				icfg.Variant = "gpu"
			}
			if flags.Changed("no-host-access") {
				enabled := !noHostAccess
				icfg.HostAccess = &enabled
			}

			f, err := inventory.ParseFormat(icfg.Format)
			if err != nil {
				return err
			}

			return p.run(cmd.Context(), func(context.Context) error {
				inv, err := p.inv.get()
				if err != nil {
					return err
				}
				data, err := inv.Marshal(f)
				if err != nil {
					return err
				}
				_, err = p.out.Write(data)
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "output", "o", "text", "output format: text, yaml or json")
	flags.BoolVar(&gpuOnly, "gpu-only", false, "list GPUs only, named by UUID, with coherency forced on")
	flags.BoolVar(&noHostAccess, "no-host-access", false, "do not query host accessibility of regions")

	return cmd
}
