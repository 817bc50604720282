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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransferCollector tracks the durations and volume of transfers.
type TransferCollector struct {
	rounds *prometheus.HistogramVec
	bytes  prometheus.Counter
}

// NewTransferCollector creates a collector for transfer measurements.
func NewTransferCollector() *TransferCollector {
	return &TransferCollector{
		rounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "round_seconds",
				Help:    "Duration of lock, copy and unlock rounds.",
				Buckets: prometheus.ExponentialBuckets(10e-6, 4, 10),
			},
			[]string{"size"},
		),
		bytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bytes_total",
				Help: "Number of bytes transferred.",
			},
		),
	}
}

// ObserveTransfer records a transfer of size bytes taking d.
func (c *TransferCollector) ObserveTransfer(size uint64, d time.Duration) {
	c.rounds.WithLabelValues(sizeLabel(size)).Observe(d.Seconds())
	c.bytes.Add(float64(size))
}

// Describe implements the prometheus.Collector interface.
func (c *TransferCollector) Describe(ch chan<- *prometheus.Desc) {
	c.rounds.Describe(ch)
	c.bytes.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (c *TransferCollector) Collect(ch chan<- prometheus.Metric) {
	c.rounds.Collect(ch)
	c.bytes.Collect(ch)
}
