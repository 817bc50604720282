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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1"
	"github.com/luraess/amdgpu-test/pkg/config"
	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/hsa/libhsa"
	"github.com/luraess/amdgpu-test/pkg/hsa/simulated"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

// probe is the state shared by all subcommands.
type probe struct {
	configFile string
	backend    string
	topology   string
	debug      []string
	dump       bool

	cfg *cfgapi.ProbeConfig
	rt  hsa.Runtime
	out io.Writer
	met *probeMetrics
	inv *snapshot
}

func newRootCmd(out io.Writer) *cobra.Command {
	p := &probe{out: out}

	cmd := &cobra.Command{
		Use:   "hsa-probe",
		Short: "Probe the agents and memory of the HSA runtime",
		Long: `hsa-probe enumerates the compute agents and memory regions reported by
the HSA runtime, and exercises host memory locking with asynchronous copies
between device and host memory.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: p.setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&p.configFile, "config", "c", "", "configuration file")
	flags.StringVar(&p.backend, "backend", "", "runtime backend: auto, hsa or simulated")
	flags.StringVar(&p.topology, "topology", "", "topology description for the simulated runtime")
	flags.StringSliceVar(&p.debug, "debug", nil, "enable debug messages for the given logger sources")
	flags.BoolVar(&p.dump, "metrics", false, "dump collected metrics when done")

	cmd.AddCommand(
		newAgentsCmd(p),
		newLockCmd(p),
		newBenchCmd(p),
		newServeCmd(p),
		newConfigCmd(p),
		newVersionCmd(p),
	)

	return cmd
}

// setup loads the configuration and applies command line overrides.
func (p *probe) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(p.configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Spec.Runtime.Backend = p.backend
	}
	if flags.Changed("topology") {
		cfg.Spec.Runtime.Topology = p.topology
	}
	if flags.Changed("debug") {
		cfg.Spec.Log.Debug = append(cfg.Spec.Log.Debug, p.debug...)
	}
	if flags.Changed("metrics") {
		cfg.Spec.Metrics.Dump = p.dump
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Configure(&cfg.Spec.Log); err != nil {
		return err
	}

	p.cfg = cfg
	return nil
}

// newRuntime creates the configured runtime backend.
func (p *probe) newRuntime() (hsa.Runtime, error) {
	rcfg := &p.cfg.Spec.Runtime

	if rcfg.Backend == "auto" || rcfg.Backend == "hsa" {
		rt, err := libhsa.New()
		if err == nil {
			return rt, nil
		}
		if rcfg.Backend == "hsa" || !errors.Is(err, hsa.ErrNotSupported) {
			return nil, err
		}
		log.Warn("%v, using simulated runtime", err)
	}

	opts := []simulated.Option{}
	if rcfg.Topology != "" {
		topo, err := simulated.LoadTopology(rcfg.Topology)
		if err != nil {
			return nil, err
		}
		opts = append(opts, simulated.WithTopology(topo))
	}
	if rcfg.MemoryLocking {
		opts = append(opts, simulated.WithMemoryLocking())
	}

	return simulated.New(opts...)
}

// run initializes the runtime, runs fn and shuts the runtime down.
func (p *probe) run(ctx context.Context, fn func(context.Context) error) (retErr error) {
	rt, err := p.newRuntime()
	if err != nil {
		return err
	}

	fmt.Fprint(p.out, "Initialising HSA...")
	if err := rt.Init(); err != nil {
		fmt.Fprintln(p.out)
		return hsa.Check(rt, "hsa_init", err)
	}
	fmt.Fprintln(p.out, " done")

	p.rt = rt
	p.inv = p.newSnapshot()
	defer func() {
		if err := rt.ShutDown(); err != nil && retErr == nil {
			retErr = hsa.Check(rt, "hsa_shut_down", err)
		}
		p.rt, p.inv = nil, nil
	}()

	if p.met, err = p.newMetrics(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if p.cfg.Spec.Metrics.Dump {
		fmt.Fprintln(p.out)
		return p.met.dump(p.out)
	}

	return nil
}
