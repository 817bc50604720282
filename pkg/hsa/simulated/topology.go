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

package simulated

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"sigs.k8s.io/yaml"

	"github.com/luraess/amdgpu-test/pkg/hsa"
)

// Topology describes the agents and memory regions of a simulated node.
type Topology struct {
	Agents []*AgentSpec `json:"agents"`
}

// AgentSpec describes a simulated agent.
type AgentSpec struct {
	// Name is the marketing or ISA name reported for the agent.
	Name string `json:"name"`
	// UUID is the unique identifier reported for the agent.
	// +optional
	UUID string `json:"uuid,omitempty"`
	// Type is the device type of the agent (CPU, GPU, DSP).
	Type hsa.DeviceType `json:"type"`
	// Coherency is the initial coherency type of a GPU agent.
	// +optional
	Coherency string `json:"coherency,omitempty"`
	// Regions are the memory regions of the agent, in iteration order.
	// +optional
	Regions []*RegionSpec `json:"regions,omitempty"`
}

// RegionSpec describes a simulated memory region.
type RegionSpec struct {
	Segment hsa.Segment `json:"segment"`
	// GlobalFlags lists coarse-grained, fine-grained, kernarg.
	// +optional
	GlobalFlags []string `json:"globalFlags,omitempty"`
	// +optional
	AllocAllowed bool `json:"allocAllowed,omitempty"`
	// +optional
	HostAccessible bool     `json:"hostAccessible,omitempty"`
	Size           ByteSize `json:"size"`
	// MaxAllocSize defaults to Size for allocatable regions.
	// +optional
	MaxAllocSize ByteSize `json:"maxAllocSize,omitempty"`
}

// ByteSize is a size in bytes, given either as a number or a human
// readable string like "8 GiB".
type ByteSize uint64

// MarshalJSON is the json.Marshaller for ByteSize.
func (s ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(humanize.IBytes(uint64(s)))
}

// UnmarshalJSON is the json.Unmarshaller for ByteSize.
func (s *ByteSize) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = ByteSize(n)
		return nil
	}

	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: size: %w", hsa.ErrInvalidValue, err)
	}

	n, err := humanize.ParseBytes(str)
	if err != nil {
		return fmt.Errorf("%w: size %q: %w", hsa.ErrInvalidValue, str, err)
	}

	*s = ByteSize(n)
	return nil
}

// ParseTopology parses a YAML (or JSON) topology description.
func ParseTopology(data []byte) (*Topology, error) {
	topo := &Topology{}
	if err := yaml.UnmarshalStrict(data, topo); err != nil {
		return nil, fmt.Errorf("simulated: failed to parse topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

// LoadTopology reads a topology description from the given file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simulated: failed to read topology: %w", err)
	}
	return ParseTopology(data)
}

// Validate checks the topology for consistency.
func (t *Topology) Validate() error {
	for i, a := range t.Agents {
		if a == nil {
			return fmt.Errorf("simulated: agent #%d: empty agent", i)
		}
		if a.Type == hsa.DeviceTypeGPU {
			if _, err := a.coherency(); err != nil {
				return fmt.Errorf("simulated: agent #%d: %w", i, err)
			}
		}
		for j, r := range a.Regions {
			if r == nil {
				return fmt.Errorf("simulated: agent #%d region #%d: empty region", i, j)
			}
			if len(r.GlobalFlags) > 0 && r.Segment != hsa.SegmentGlobal {
				return fmt.Errorf("simulated: agent #%d region #%d: global flags for %s segment",
					i, j, r.Segment)
			}
			if _, err := hsa.ParseGlobalFlags(r.GlobalFlags...); err != nil {
				return fmt.Errorf("simulated: agent #%d region #%d: %w", i, j, err)
			}
			if r.MaxAllocSize > r.Size {
				return fmt.Errorf("simulated: agent #%d region #%d: max alloc size %d > size %d",
					i, j, r.MaxAllocSize, r.Size)
			}
		}
	}
	return nil
}

// Marshal renders the topology as YAML.
func (t *Topology) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

func (a *AgentSpec) coherency() (hsa.CoherencyType, error) {
	if a.Coherency == "" {
		return hsa.CoherencyTypeNonCoherent, nil
	}
	return hsa.ParseCoherencyType(a.Coherency)
}

func (r *RegionSpec) flags() hsa.GlobalFlag {
	f, _ := hsa.ParseGlobalFlags(r.GlobalFlags...)
	return f
}

func (r *RegionSpec) maxAllocSize() uint64 {
	switch {
	case !r.AllocAllowed:
		return 0
	case r.MaxAllocSize == 0:
		return uint64(r.Size)
	}
	return uint64(r.MaxAllocSize)
}

// DefaultTopology returns a single-socket, single-GPU node.
func DefaultTopology() *Topology {
	return &Topology{
		Agents: []*AgentSpec{
			{
				Name: "AMD EPYC 7A53 64-Core Processor",
				UUID: "CPU-XX",
				Type: hsa.DeviceTypeCPU,
				Regions: []*RegionSpec{
					{
						Segment:        hsa.SegmentGlobal,
						GlobalFlags:    []string{"fine-grained", "kernarg"},
						AllocAllowed:   true,
						HostAccessible: true,
						Size:           512 << 30,
					},
					{
						Segment:        hsa.SegmentGlobal,
						GlobalFlags:    []string{"coarse-grained"},
						AllocAllowed:   true,
						HostAccessible: true,
						Size:           512 << 30,
					},
				},
			},
			{
				Name: "gfx90a",
				UUID: "GPU-5d3a2bc1a2e4f6d8",
				Type: hsa.DeviceTypeGPU,
				Regions: []*RegionSpec{
					{
						Segment:      hsa.SegmentGlobal,
						GlobalFlags:  []string{"coarse-grained"},
						AllocAllowed: true,
						Size:         64 << 30,
					},
					{
						Segment: hsa.SegmentGroup,
						Size:    64 << 10,
					},
				},
			},
		},
	}
}
