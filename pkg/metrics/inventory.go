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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luraess/amdgpu-test/pkg/inventory"
)

// InventorySource produces the inventory an InventoryCollector reports.
type InventorySource func() (*inventory.Inventory, error)

// InventoryCollector reports the agents and memory regions of a runtime.
type InventoryCollector struct {
	source       InventorySource
	agents       *prometheus.Desc
	regionSize   *prometheus.Desc
	regionMax    *prometheus.Desc
	regionAlloc  *prometheus.Desc
	regionGlobal *prometheus.Desc
}

var regionLabels = []string{"agent", "agent_type", "region", "segment"}

// NewInventoryCollector creates a collector for the inventory produced
// by source. The collector enumerates on every collection, so it is
// best registered polled.
func NewInventoryCollector(source InventorySource) *InventoryCollector {
	return &InventoryCollector{
		source: source,
		agents: prometheus.NewDesc(
			"agents",
			"Number of agents by device type.",
			[]string{"type"}, nil,
		),
		regionSize: prometheus.NewDesc(
			"region_size_bytes",
			"Size of a memory region.",
			regionLabels, nil,
		),
		regionMax: prometheus.NewDesc(
			"region_max_alloc_bytes",
			"Largest single allocation from a memory region.",
			regionLabels, nil,
		),
		regionAlloc: prometheus.NewDesc(
			"region_alloc_allowed",
			"Whether the runtime allocates from a memory region.",
			regionLabels, nil,
		),
		regionGlobal: prometheus.NewDesc(
			"region_global_flag",
			"Global sub-kind flags of global memory regions.",
			append(append([]string{}, regionLabels...), "flag"), nil,
		),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *InventoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agents
	ch <- c.regionSize
	ch <- c.regionMax
	ch <- c.regionAlloc
	ch <- c.regionGlobal
}

// Collect implements the prometheus.Collector interface.
func (c *InventoryCollector) Collect(ch chan<- prometheus.Metric) {
	inv, err := c.source()
	if err != nil {
		log.Error("failed to collect inventory: %v", err)
		ch <- prometheus.NewInvalidMetric(c.agents, err)
		return
	}

	counts := map[string]int{}
	for _, a := range inv.Agents {
		counts[a.Type.String()]++

		for _, r := range a.Regions {
			labels := []string{a.Name, a.Type.String(), r.Handle.String(), r.Segment.String()}

			ch <- prometheus.MustNewConstMetric(c.regionSize, prometheus.GaugeValue, float64(r.Size), labels...)
			ch <- prometheus.MustNewConstMetric(c.regionMax, prometheus.GaugeValue, float64(r.MaxAllocSize), labels...)
			ch <- prometheus.MustNewConstMetric(c.regionAlloc, prometheus.GaugeValue, boolValue(r.AllocAllowed), labels...)

			if g, ok := r.GlobalFlags(); ok {
				for flag, set := range map[string]bool{
					"coarse-grained": g.CoarseGrained,
					"fine-grained":   g.FineGrained,
					"kernarg":        g.KernArg,
				} {
					ch <- prometheus.MustNewConstMetric(c.regionGlobal, prometheus.GaugeValue, boolValue(set),
						append(labels, flag)...)
				}
			}
		}
	}

	for t, cnt := range counts {
		ch <- prometheus.MustNewConstMetric(c.agents, prometheus.GaugeValue, float64(cnt), t)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
