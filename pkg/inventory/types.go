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

package inventory

import (
	"github.com/luraess/amdgpu-test/pkg/hsa"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

var (
	log = logger.Get("inventory")
)

// Inventory is an ordered snapshot of agents and their memory regions.
type Inventory struct {
	Agents []*Agent `json:"agents"`
}

// Agent is one compute agent with its memory regions.
type Agent struct {
	// Handle is a non-owning reference into the runtime session.
	Handle hsa.Agent `json:"handle"`
	// Name is the runtime name, or the UUID for the GPU variant.
	Name string `json:"name"`
	// Type is the device class of the agent.
	Type hsa.DeviceType `json:"type"`
	// Coherency is the coherency type read back after forcing it,
	// only set by the GPU variant.
	Coherency *hsa.CoherencyType `json:"coherency,omitempty"`
	// Regions are the memory regions of the agent in runtime order.
	Regions []*Region `json:"regions"`
}

// Region is one memory region of an agent.
type Region struct {
	// Handle is a non-owning reference into the runtime session.
	Handle hsa.Region `json:"handle"`
	// Segment is the segment kind of the region.
	Segment hsa.Segment `json:"segment"`
	// AllocAllowed tells if the runtime allocates from the region.
	AllocAllowed bool `json:"allocAllowed"`
	// HostAccessible tells if the host can access the region, nil if it
	// was not queried.
	HostAccessible *bool `json:"hostAccessible,omitempty"`
	// Size is the size of the region in bytes.
	Size uint64 `json:"size"`
	// MaxAllocSize is the largest single allocation in bytes.
	MaxAllocSize uint64 `json:"maxAllocSize"`
	// Global is the global sub-kind of the region, nil for non-global
	// segments.
	Global *GlobalFlags `json:"global,omitempty"`
}

// GlobalFlags is the decoded sub-kind of a global region.
type GlobalFlags struct {
	CoarseGrained bool `json:"coarseGrained"`
	FineGrained   bool `json:"fineGrained"`
	KernArg       bool `json:"kernarg"`
}

// DecodeGlobalFlags decodes a raw global flag mask.
func DecodeGlobalFlags(f hsa.GlobalFlag) GlobalFlags {
	return GlobalFlags{
		CoarseGrained: f.Has(hsa.GlobalFlagCoarseGrained),
		FineGrained:   f.Has(hsa.GlobalFlagFineGrained),
		KernArg:       f.Has(hsa.GlobalFlagKernArg),
	}
}

// Mask encodes the flags into a raw global flag mask.
func (g GlobalFlags) Mask() hsa.GlobalFlag {
	var f hsa.GlobalFlag
	if g.CoarseGrained {
		f |= hsa.GlobalFlagCoarseGrained
	}
	if g.FineGrained {
		f |= hsa.GlobalFlagFineGrained
	}
	if g.KernArg {
		f |= hsa.GlobalFlagKernArg
	}
	return f
}

// GlobalFlags returns the global sub-kind flags of a global region. The
// second return value is false for any other segment.
func (r *Region) GlobalFlags() (GlobalFlags, bool) {
	if r.Global == nil {
		return GlobalFlags{}, false
	}
	return *r.Global, true
}

// RawGlobalFlags returns the raw global flag mask, or
// hsa.GlobalFlagsNotApplicable for non-global regions.
func (r *Region) RawGlobalFlags() hsa.GlobalFlag {
	if r.Global == nil {
		return hsa.GlobalFlagsNotApplicable
	}
	return r.Global.Mask()
}

// IsGlobal returns true for global regions.
func (r *Region) IsGlobal() bool {
	return r.Segment == hsa.SegmentGlobal
}

// IsHostAccessible returns true if the region is known to be accessible
// by the host.
func (r *Region) IsHostAccessible() bool {
	return r.HostAccessible != nil && *r.HostAccessible
}

// IsCoherent returns true if the agent coherency was read back as coherent.
func (a *Agent) IsCoherent() bool {
	return a.Coherency != nil && *a.Coherency == hsa.CoherencyTypeCoherent
}

// Select returns the agents of the given device type in inventory order.
func (inv *Inventory) Select(t hsa.DeviceType) []*Agent {
	var agents []*Agent
	for _, a := range inv.Agents {
		if a.Type == t {
			agents = append(agents, a)
		}
	}
	return agents
}

// Agent returns the index-th (0-based) agent of the given device type.
// The second return value is false if there is no such agent.
func (inv *Inventory) Agent(t hsa.DeviceType, index int) (*Agent, bool) {
	if index < 0 {
		return nil, false
	}
	for _, a := range inv.Agents {
		if a.Type != t {
			continue
		}
		if index == 0 {
			return a, true
		}
		index--
	}
	return nil, false
}

// RegionCount returns the total number of regions in the inventory.
func (inv *Inventory) RegionCount() int {
	cnt := 0
	for _, a := range inv.Agents {
		cnt += len(a.Regions)
	}
	return cnt
}
