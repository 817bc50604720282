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

package hsa

import (
	"fmt"
)

// Typed accessors for agent and region attributes. Failures are annotated
// with the failing call and attribute.

func agentInfo[T any](rt Runtime, agent Agent, attr AgentAttribute) (T, error) {
	var zero T

	call := "hsa_agent_get_info(" + attr.String() + ")"
	v, err := rt.AgentInfo(agent, attr)
	if err != nil {
		return zero, Check(rt, call, err)
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w: unexpected %T value", call, ErrInvalidValue, v)
	}

	return t, nil
}

func regionInfo[T any](rt Runtime, region Region, attr RegionAttribute) (T, error) {
	var zero T

	call := "hsa_region_get_info(" + attr.String() + ")"
	v, err := rt.RegionInfo(region, attr)
	if err != nil {
		return zero, Check(rt, call, err)
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w: unexpected %T value", call, ErrInvalidValue, v)
	}

	return t, nil
}

// AgentName returns the name of the agent.
func AgentName(rt Runtime, agent Agent) (string, error) {
	return agentInfo[string](rt, agent, AgentInfoName)
}

// AgentUUID returns the UUID of the agent.
func AgentUUID(rt Runtime, agent Agent) (string, error) {
	return agentInfo[string](rt, agent, AgentInfoUUID)
}

// AgentDeviceType returns the device type of the agent.
func AgentDeviceType(rt Runtime, agent Agent) (DeviceType, error) {
	return agentInfo[DeviceType](rt, agent, AgentInfoDevice)
}

// RegionSegment returns the segment kind of the region.
func RegionSegment(rt Runtime, region Region) (Segment, error) {
	return regionInfo[Segment](rt, region, RegionInfoSegment)
}

// RegionGlobalFlags returns the global flags of a global region.
func RegionGlobalFlags(rt Runtime, region Region) (GlobalFlag, error) {
	return regionInfo[GlobalFlag](rt, region, RegionInfoGlobalFlags)
}

// RegionSize returns the size of the region in bytes.
func RegionSize(rt Runtime, region Region) (uint64, error) {
	return regionInfo[uint64](rt, region, RegionInfoSize)
}

// RegionAllocMaxSize returns the largest single allocation size of the region.
func RegionAllocMaxSize(rt Runtime, region Region) (uint64, error) {
	return regionInfo[uint64](rt, region, RegionInfoAllocMaxSize)
}

// RegionAllocAllowed returns true if the runtime can allocate from the region.
func RegionAllocAllowed(rt Runtime, region Region) (bool, error) {
	return regionInfo[bool](rt, region, RegionInfoRuntimeAllocAllowed)
}

// RegionHostAccessible returns true if the host can access the region directly.
func RegionHostAccessible(rt Runtime, region Region) (bool, error) {
	return regionInfo[bool](rt, region, RegionInfoHostAccessible)
}
