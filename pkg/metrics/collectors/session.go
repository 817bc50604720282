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

package collectors

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/metrics"
)

type sessionCollector struct {
	rt   hsa.Runtime
	desc *prometheus.Desc
}

// NewSessionCollector returns a gauge which is 1 while the runtime
// session of rt is open and 0 otherwise.
func NewSessionCollector(rt hsa.Runtime, backend string) prometheus.Collector {
	return &sessionCollector{
		rt: rt,
		desc: prometheus.NewDesc(
			"session",
			"Whether the HSA runtime session is open.",
			nil,
			prometheus.Labels{"backend": backend},
		),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	v := 0.0
	if c.rt.Initialized() {
		v = 1
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, v)
}

// RegisterRuntime registers the runtime session collector of rt in the
// "runtime" group of the registry.
func RegisterRuntime(r *metrics.Registry, rt hsa.Runtime, backend string) error {
	return r.Register("session", NewSessionCollector(rt, backend), metrics.WithGroup("runtime"))
}
