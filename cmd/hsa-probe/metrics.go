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
	"io"
	"sync"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/hsa/simulated"
	"github.com/luraess/amdgpu-test/pkg/inventory"
	"github.com/luraess/amdgpu-test/pkg/metrics"
	"github.com/luraess/amdgpu-test/pkg/metrics/collectors"
)

type probeMetrics struct {
	transfer *metrics.TransferCollector
	gatherer *metrics.Gatherer
}

func (p *probe) newMetrics() (*probeMetrics, error) {
	var (
		r   = metrics.NewRegistry()
		m   = &probeMetrics{transfer: metrics.NewTransferCollector()}
		inv = metrics.NewInventoryCollector(func() (*inventory.Inventory, error) {
			return p.inv.get()
		})
	)

	err := r.Register("regions", inv,
		metrics.WithGroup("inventory"),
		metrics.WithCollectorOptions(metrics.WithPolled(), metrics.WithoutSubsystem()),
	)
	if err != nil {
		return nil, err
	}
	if err := r.Register("rounds", m.transfer, metrics.WithGroup("transfer")); err != nil {
		return nil, err
	}
	if err := collectors.RegisterRuntime(r, p.rt, backendName(p.rt)); err != nil {
		return nil, err
	}
	if err := collectors.RegisterStandard(r); err != nil {
		return nil, err
	}

	mcfg := &p.cfg.Spec.Metrics
	m.gatherer, err = r.NewGatherer(
		metrics.WithNamespace(mcfg.Namespace),
		metrics.WithMetrics(mcfg.Enabled),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func backendName(rt hsa.Runtime) string {
	if _, ok := rt.(*simulated.Runtime); ok {
		return "simulated"
	}
	return "hsa"
}

func (m *probeMetrics) dump(w io.Writer) error {
	return metrics.WriteText(w, m.gatherer)
}

// snapshot enumerates the agents of a runtime session at most once.
// Enumerating GPUs may force their coherency type, so repeated reads
// must not touch the runtime again.
type snapshot struct {
	once sync.Once
	enum func() (*inventory.Inventory, error)
	inv  *inventory.Inventory
	err  error
}

func (p *probe) newSnapshot() *snapshot {
	rt, opts := p.rt, p.inventoryOptions()
	return &snapshot{
		enum: func() (*inventory.Inventory, error) {
			return inventory.EnumerateAgents(rt, opts...)
		},
	}
}

func (s *snapshot) get() (*inventory.Inventory, error) {
	s.once.Do(func() {
		s.inv, s.err = s.enum()
	})
	return s.inv, s.err
}

func (p *probe) inventoryOptions() []inventory.Option {
	icfg := &p.cfg.Spec.Inventory

	opts := []inventory.Option{}
	if icfg.Variant == "gpu" {
		opts = append(opts, inventory.GPUOnly())
	}
	if !icfg.HostAccessEnabled() {
		opts = append(opts, inventory.WithoutHostAccess())
	}
	if icfg.MaxAgents > 0 {
		opts = append(opts, inventory.WithMaxAgents(icfg.MaxAgents))
	}
	if icfg.MaxRegions > 0 {
		opts = append(opts, inventory.WithMaxRegions(icfg.MaxRegions))
	}

	return opts
}
