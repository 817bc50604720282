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
	"fmt"

	"github.com/luraess/amdgpu-test/pkg/hsa"
)

// Option is an option for enumeration.
type Option func(*options)

type options struct {
	types      map[hsa.DeviceType]struct{} // retained device types, nil for all
	uuidNames  bool                        // name agents by UUID
	coherency  *hsa.CoherencyType          // coherency to force on GPU agents
	hostAccess bool                        // query host accessibility
	maxAgents  int                         // agent limit, 0 for none
	maxRegions int                         // per-agent region limit, 0 for none
}

func newOptions(opts ...Option) *options {
	o := &options{
		hostAccess: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDeviceTypes retains only agents of the given device types.
func WithDeviceTypes(types ...hsa.DeviceType) Option {
	return func(o *options) {
		o.types = make(map[hsa.DeviceType]struct{}, len(types))
		for _, t := range types {
			o.types[t] = struct{}{}
		}
	}
}

// WithUUIDNames names agents by their UUID instead of their runtime name.
func WithUUIDNames() Option {
	return func(o *options) {
		o.uuidNames = true
	}
}

// WithCoherency forces the coherency type of retained GPU agents and
// records the type read back afterwards.
func WithCoherency(t hsa.CoherencyType) Option {
	return func(o *options) {
		o.coherency = &t
	}
}

// WithoutHostAccess skips querying the host accessibility of regions, for
// runtimes lacking that attribute.
func WithoutHostAccess() Option {
	return func(o *options) {
		o.hostAccess = false
	}
}

// WithMaxAgents limits the number of retained agents. Exceeding the limit
// fails with ErrTooManyAgents.
func WithMaxAgents(limit int) Option {
	return func(o *options) {
		o.maxAgents = limit
	}
}

// WithMaxRegions limits the number of regions per agent. Exceeding the
// limit fails with ErrTooManyRegions.
func WithMaxRegions(limit int) Option {
	return func(o *options) {
		o.maxRegions = limit
	}
}

// GPUOnly selects the GPU variant of enumeration: only GPU agents, named
// by UUID, with coherency forced to coherent.
func GPUOnly() Option {
	return func(o *options) {
		WithDeviceTypes(hsa.DeviceTypeGPU)(o)
		WithUUIDNames()(o)
		WithCoherency(hsa.CoherencyTypeCoherent)(o)
	}
}

func (o *options) retains(t hsa.DeviceType) bool {
	if o.types == nil {
		return true
	}
	_, ok := o.types[t]
	return ok
}

func checkSession(rt hsa.Runtime) error {
	if rt == nil || !rt.Initialized() {
		return inventoryError("runtime session: %w", hsa.ErrNotInitialized)
	}
	return nil
}

// EnumerateAgents collects the agents of the runtime, and the memory
// regions of each of them, in runtime order.
func EnumerateAgents(rt hsa.Runtime, opts ...Option) (*Inventory, error) {
	if err := checkSession(rt); err != nil {
		return nil, err
	}

	o := newOptions(opts...)
	inv := &Inventory{}

	err := rt.IterateAgents(func(handle hsa.Agent) error {
		t, err := hsa.AgentDeviceType(rt, handle)
		if err != nil {
			return err
		}
		if !o.retains(t) {
			log.Debug("skipping %s agent %s", t, handle)
			return nil
		}
		if o.maxAgents > 0 && len(inv.Agents) >= o.maxAgents {
			return fmt.Errorf("%w: more than %d", ErrTooManyAgents, o.maxAgents)
		}

		a, err := readAgent(rt, handle, t, o)
		if err != nil {
			return err
		}

		inv.Agents = append(inv.Agents, a)
		return nil
	})
	if err != nil {
		return nil, hsa.Check(rt, "hsa_iterate_agents", err)
	}

	log.Debug("enumerated %d agents with %d regions", len(inv.Agents), inv.RegionCount())
	return inv, nil
}

func readAgent(rt hsa.Runtime, handle hsa.Agent, t hsa.DeviceType, o *options) (*Agent, error) {
	var (
		a = &Agent{
			Handle: handle,
			Type:   t,
		}
		err error
	)

	if o.uuidNames {
		a.Name, err = hsa.AgentUUID(rt, handle)
	} else {
		a.Name, err = hsa.AgentName(rt, handle)
	}
	if err != nil {
		return nil, err
	}

	if o.coherency != nil && t == hsa.DeviceTypeGPU {
		if err := rt.CoherencySetType(handle, *o.coherency); err != nil {
			return nil, hsa.Check(rt, "hsa_amd_coherency_set_type", err)
		}
		c, err := rt.CoherencyGetType(handle)
		if err != nil {
			return nil, hsa.Check(rt, "hsa_amd_coherency_get_type", err)
		}
		a.Coherency = &c
	}

	a.Regions, err = enumerateRegions(rt, handle, o)
	if err != nil {
		return nil, err
	}

	log.Debug("%s agent %s (%s): %d regions", t, a.Name, handle, len(a.Regions))
	return a, nil
}

// EnumerateRegions collects the memory regions of an agent in runtime order.
func EnumerateRegions(rt hsa.Runtime, agent hsa.Agent, opts ...Option) ([]*Region, error) {
	if err := checkSession(rt); err != nil {
		return nil, err
	}
	return enumerateRegions(rt, agent, newOptions(opts...))
}

func enumerateRegions(rt hsa.Runtime, agent hsa.Agent, o *options) ([]*Region, error) {
	regions := []*Region{}

	err := rt.IterateRegions(agent, func(handle hsa.Region) error {
		if o.maxRegions > 0 && len(regions) >= o.maxRegions {
			return fmt.Errorf("%w: %s has more than %d", ErrTooManyRegions, agent, o.maxRegions)
		}

		r, err := readRegion(rt, handle, o)
		if err != nil {
			return err
		}

		regions = append(regions, r)
		return nil
	})
	if err != nil {
		return nil, hsa.Check(rt, "hsa_agent_iterate_regions", err)
	}

	return regions, nil
}

func readRegion(rt hsa.Runtime, handle hsa.Region, o *options) (*Region, error) {
	var (
		r   = &Region{Handle: handle}
		err error
	)

	if r.Segment, err = hsa.RegionSegment(rt, handle); err != nil {
		return nil, err
	}
	if r.AllocAllowed, err = hsa.RegionAllocAllowed(rt, handle); err != nil {
		return nil, err
	}
	if o.hostAccess {
		accessible, err := hsa.RegionHostAccessible(rt, handle)
		if err != nil {
			return nil, err
		}
		r.HostAccessible = &accessible
	}
	if r.MaxAllocSize, err = hsa.RegionAllocMaxSize(rt, handle); err != nil {
		return nil, err
	}
	if r.Size, err = hsa.RegionSize(rt, handle); err != nil {
		return nil, err
	}

	if r.Segment == hsa.SegmentGlobal {
		flags, err := hsa.RegionGlobalFlags(rt, handle)
		if err != nil {
			return nil, err
		}
		g := DecodeGlobalFlags(flags)
		r.Global = &g
	}

	return r, nil
}
