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

package v1alpha1

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1/log"
)

const (
	// GroupVersion is the apiVersion of probe configuration files.
	GroupVersion = "config.amdgpu-test.io/v1alpha1"
	// Kind is the kind of probe configuration files.
	Kind = "ProbeConfig"
)

// ProbeConfig is the configuration of the hsa-probe tool.
type ProbeConfig struct {
	metav1.TypeMeta `json:",inline"`
	Spec            ProbeConfigSpec `json:"spec"`
}

// ProbeConfigSpec describes what and how the probes run.
type ProbeConfigSpec struct {
	// +optional
	Runtime RuntimeConfig `json:"runtime,omitempty"`
	// +optional
	Inventory InventoryConfig `json:"inventory,omitempty"`
	// +optional
	Lock LockConfig `json:"lock,omitempty"`
	// +optional
	Bench BenchConfig `json:"bench,omitempty"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Metrics MetricsConfig `json:"metrics,omitempty"`
}

// RuntimeConfig selects the runtime backend.
type RuntimeConfig struct {
	// Backend is the runtime to use. The auto backend uses the HSA runtime
	// library if the binary has support for it and falls back to the
	// simulated runtime otherwise.
	// +optional
	// +kubebuilder:validation:Enum=auto;hsa;simulated
	// +kubebuilder:default=auto
	Backend string `json:"backend,omitempty"`
	// Topology is the path of the simulated topology description. If
	// omitted a single CPU, single GPU node is simulated.
	// +optional
	Topology string `json:"topology,omitempty"`
	// MemoryLocking makes the simulated runtime mlock(2) locked memory.
	// +optional
	MemoryLocking bool `json:"memoryLocking,omitempty"`
}

// InventoryConfig configures agent and region enumeration.
type InventoryConfig struct {
	// Variant selects all agents, or GPUs only named by UUID with
	// coherency forced on.
	// +optional
	// +kubebuilder:validation:Enum=all;gpu
	// +kubebuilder:default=all
	Variant string `json:"variant,omitempty"`
	// HostAccess controls querying host accessibility of regions.
	// +optional
	// +kubebuilder:default=true
	HostAccess *bool `json:"hostAccess,omitempty"`
	// Format is the output format of the inventory.
	// +optional
	// +kubebuilder:validation:Enum=text;yaml;json
	// +kubebuilder:default=text
	Format string `json:"format,omitempty"`
	// MaxAgents limits the number of enumerated agents, 0 for no limit.
	// +optional
	MaxAgents int `json:"maxAgents,omitempty"`
	// MaxRegions limits the number of regions per agent, 0 for no limit.
	// +optional
	MaxRegions int `json:"maxRegions,omitempty"`
}

// LockConfig configures the lock and copy probe.
type LockConfig struct {
	// Nx is the number of matrix columns.
	// +optional
	// +kubebuilder:default=10
	Nx int `json:"nx,omitempty"`
	// Ny is the number of matrix rows.
	// +optional
	// +kubebuilder:default=11
	Ny int `json:"ny,omitempty"`
	// Seed seeds the matrix contents.
	// +optional
	Seed int64 `json:"seed,omitempty"`
	// CPU is the index of the CPU agent among CPU agents.
	// +optional
	CPU int `json:"cpu,omitempty"`
	// GPU is the index of the GPU agent among GPU agents.
	// +optional
	GPU int `json:"gpu,omitempty"`
	// Streaming looks agents up by walking the runtime instead of
	// materializing an inventory first.
	// +optional
	Streaming bool `json:"streaming,omitempty"`
	// Timeout bounds the wait for copy completion.
	// +optional
	// +kubebuilder:validation:Format="duration"
	Timeout metav1.Duration `json:"timeout,omitempty"`
}

// BenchConfig configures the lock and copy benchmark.
type BenchConfig struct {
	// Size is the size of a transfer, as a number of bytes or in human
	// readable form like "64 MiB".
	// +optional
	// +kubebuilder:default="64 MiB"
	Size string `json:"size,omitempty"`
	// Iterations is the number of benchmark rounds.
	// +optional
	// +kubebuilder:default=10
	Iterations int `json:"iterations,omitempty"`
	// Seed seeds the transferred data.
	// +optional
	Seed int64 `json:"seed,omitempty"`
	// CPU is the index of the CPU agent among CPU agents.
	// +optional
	CPU int `json:"cpu,omitempty"`
	// GPU is the index of the GPU agent among GPU agents.
	// +optional
	GPU int `json:"gpu,omitempty"`
	// Timeout bounds the wait for each round.
	// +optional
	// +kubebuilder:validation:Format="duration"
	Timeout metav1.Duration `json:"timeout,omitempty"`
	// ProgressInterval is the minimum interval between progress messages.
	// +optional
	// +kubebuilder:validation:Format="duration"
	// +kubebuilder:default="1s"
	ProgressInterval metav1.Duration `json:"progressInterval,omitempty"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled lists glob patterns of enabled collector groups or names.
	// +optional
	// +kubebuilder:default={"inventory", "transfer", "runtime"}
	Enabled []string `json:"enabled,omitempty"`
	// Namespace prefixes collected metrics.
	// +optional
	// +kubebuilder:default=hsa
	Namespace string `json:"namespace,omitempty"`
	// Dump prints the collected metrics after running a probe.
	// +optional
	Dump bool `json:"dump,omitempty"`
	// HTTPEndpoint is the address metrics and health checks are served at.
	// +optional
	// +kubebuilder:default=":8891"
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
}

// SetDefaults fills in defaults for unset fields.
func (c *ProbeConfig) SetDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = GroupVersion
	}
	if c.Kind == "" {
		c.Kind = Kind
	}

	s := &c.Spec
	if s.Runtime.Backend == "" {
		s.Runtime.Backend = "auto"
	}
	if s.Inventory.Variant == "" {
		s.Inventory.Variant = "all"
	}
	if s.Inventory.HostAccess == nil {
		enabled := true
		s.Inventory.HostAccess = &enabled
	}
	if s.Inventory.Format == "" {
		s.Inventory.Format = "text"
	}
	if s.Lock.Nx == 0 {
		s.Lock.Nx = 10
	}
	if s.Lock.Ny == 0 {
		s.Lock.Ny = 11
	}
	if s.Bench.Size == "" {
		s.Bench.Size = "64 MiB"
	}
	if s.Bench.Iterations == 0 {
		s.Bench.Iterations = 10
	}
	if s.Bench.ProgressInterval.Duration == 0 {
		s.Bench.ProgressInterval.Duration = time.Second
	}
	if s.Metrics.Enabled == nil {
		s.Metrics.Enabled = []string{"inventory", "transfer", "runtime"}
	}
	if s.Metrics.Namespace == "" {
		s.Metrics.Namespace = "hsa"
	}
	if s.Metrics.HTTPEndpoint == "" {
		s.Metrics.HTTPEndpoint = ":8891"
	}
}

// Validate checks the configuration for errors.
func (c *ProbeConfig) Validate() error {
	if c.APIVersion != GroupVersion || c.Kind != Kind {
		return fmt.Errorf("%w: unsupported %s/%s", ErrInvalidConfig, c.APIVersion, c.Kind)
	}

	s := &c.Spec
	switch s.Runtime.Backend {
	case "auto", "hsa", "simulated":
	default:
		return fmt.Errorf("%w: runtime backend %q", ErrInvalidConfig, s.Runtime.Backend)
	}
	switch s.Inventory.Variant {
	case "all", "gpu":
	default:
		return fmt.Errorf("%w: inventory variant %q", ErrInvalidConfig, s.Inventory.Variant)
	}
	switch s.Inventory.Format {
	case "text", "yaml", "json":
	default:
		return fmt.Errorf("%w: inventory format %q", ErrInvalidConfig, s.Inventory.Format)
	}
	if s.Inventory.MaxAgents < 0 || s.Inventory.MaxRegions < 0 {
		return fmt.Errorf("%w: negative inventory limit", ErrInvalidConfig)
	}
	if s.Lock.Nx < 0 || s.Lock.Ny < 0 {
		return fmt.Errorf("%w: matrix %dx%d", ErrInvalidConfig, s.Lock.Nx, s.Lock.Ny)
	}
	if _, err := s.Bench.SizeBytes(); err != nil {
		return err
	}
	if s.Bench.Iterations < 0 {
		return fmt.Errorf("%w: %d bench iterations", ErrInvalidConfig, s.Bench.Iterations)
	}

	return nil
}

// SizeBytes returns the bench transfer size in bytes.
func (c *BenchConfig) SizeBytes() (uint64, error) {
	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return 0, fmt.Errorf("%w: bench size %q: %w", ErrInvalidConfig, c.Size, err)
	}
	return size, nil
}

// HostAccessEnabled returns true if host accessibility is queried.
func (c *InventoryConfig) HostAccessEnabled() bool {
	return c.HostAccess == nil || *c.HostAccess
}
