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
)

// FindAgent returns the index-th (0-based) agent of the given device type
// in runtime order, without enumerating regions. The second return value
// is false if the runtime reports fewer matching agents.
func FindAgent(rt hsa.Runtime, t hsa.DeviceType, index int) (hsa.Agent, bool, error) {
	if err := checkSession(rt); err != nil {
		return hsa.Agent{}, false, err
	}
	if index < 0 {
		return hsa.Agent{}, false, inventoryError("%w %d", ErrInvalidIndex, index)
	}

	var (
		found   hsa.Agent
		ok      bool
		matches int
	)

	err := rt.IterateAgents(func(handle hsa.Agent) error {
		dt, err := hsa.AgentDeviceType(rt, handle)
		if err != nil {
			return err
		}
		if dt != t {
			return nil
		}
		if matches == index {
			found, ok = handle, true
			return hsa.ErrBreak
		}
		matches++
		return nil
	})
	if err != nil {
		return hsa.Agent{}, false, hsa.Check(rt, "hsa_iterate_agents", err)
	}

	if !ok {
		log.Debug("no %s agent #%d (found %d)", t, index, matches)
	}

	return found, ok, nil
}

// RegionMatcher selects a region.
type RegionMatcher func(*Region) bool

// DeviceLocal matches allocatable global regions the host cannot access.
func DeviceLocal(r *Region) bool {
	return r.IsGlobal() && r.AllocAllowed && r.HostAccessible != nil && !*r.HostAccessible
}

// HostLocal matches allocatable global regions the host can access.
func HostLocal(r *Region) bool {
	return r.IsGlobal() && r.AllocAllowed && r.IsHostAccessible()
}

// Allocatable matches any global region the runtime allocates from.
func Allocatable(r *Region) bool {
	return r.IsGlobal() && r.AllocAllowed
}

// FindRegion returns the first region of agent, in runtime order, that
// match accepts. Only host-accessibility querying options apply. The
// second return value is false if no region matches.
func FindRegion(rt hsa.Runtime, agent hsa.Agent, match RegionMatcher, opts ...Option) (*Region, bool, error) {
	if err := checkSession(rt); err != nil {
		return nil, false, err
	}

	var (
		o     = newOptions(opts...)
		found *Region
	)

	err := rt.IterateRegions(agent, func(handle hsa.Region) error {
		r, err := readRegion(rt, handle, o)
		if err != nil {
			return err
		}
		if match(r) {
			found = r
			return hsa.ErrBreak
		}
		return nil
	})
	if err != nil {
		return nil, false, hsa.Check(rt, "hsa_agent_iterate_regions", err)
	}

	return found, found != nil, nil
}

// FindPreferredRegion tries each matcher in turn with FindRegion and
// returns the first region found.
func FindPreferredRegion(rt hsa.Runtime, agent hsa.Agent, matchers []RegionMatcher, opts ...Option) (*Region, bool, error) {
	for _, match := range matchers {
		r, ok, err := FindRegion(rt, agent, match, opts...)
		if err != nil || ok {
			return r, ok, err
		}
	}
	return nil, false, nil
}
