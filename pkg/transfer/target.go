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

package transfer

import (
	"fmt"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/inventory"
)

// target is the agent pair and device region a probe operates on.
type target struct {
	cpu    hsa.Agent
	gpu    hsa.Agent
	region *inventory.Region
}

// preferred device regions, best first
var deviceRegions = []inventory.RegionMatcher{
	inventory.DeviceLocal,
	inventory.Allocatable,
}

func selectTarget(rt hsa.Runtime, cpuIdx, gpuIdx int, streaming bool) (*target, error) {
	if streaming {
		return findTarget(rt, cpuIdx, gpuIdx)
	}

	inv, err := inventory.EnumerateAgents(rt)
	if err != nil {
		return nil, err
	}
	inv.DumpLog("  ")

	cpu, ok := inv.Agent(hsa.DeviceTypeCPU, cpuIdx)
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", ErrNoAgent, hsa.DeviceTypeCPU, cpuIdx)
	}
	gpu, ok := inv.Agent(hsa.DeviceTypeGPU, gpuIdx)
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", ErrNoAgent, hsa.DeviceTypeGPU, gpuIdx)
	}

	for _, match := range deviceRegions {
		for _, r := range gpu.Regions {
			if match(r) {
				log.Debug("using %s of %s agent %s", r.Handle, gpu.Type, gpu.Name)
				return &target{cpu: cpu.Handle, gpu: gpu.Handle, region: r}, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s agent %s", ErrNoRegion, gpu.Type, gpu.Name)
}

func findTarget(rt hsa.Runtime, cpuIdx, gpuIdx int) (*target, error) {
	cpu, ok, err := inventory.FindAgent(rt, hsa.DeviceTypeCPU, cpuIdx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", ErrNoAgent, hsa.DeviceTypeCPU, cpuIdx)
	}

	gpu, ok, err := inventory.FindAgent(rt, hsa.DeviceTypeGPU, gpuIdx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", ErrNoAgent, hsa.DeviceTypeGPU, gpuIdx)
	}

	r, ok, err := inventory.FindPreferredRegion(rt, gpu, deviceRegions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRegion, gpu)
	}

	log.Debug("using %s of %s", r.Handle, gpu)
	return &target{cpu: cpu, gpu: gpu, region: r}, nil
}
