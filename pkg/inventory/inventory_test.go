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

package inventory_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/hsa/simulated"
	. "github.com/luraess/amdgpu-test/pkg/inventory"
)

const (
	// one CPU, one GPU with a host-accessible 8 GiB and a device-local
	// 16 GiB global region
	cpuAndGPU = `
agents:
  - name: AMD EPYC 7A53 64-Core Processor
    uuid: CPU-XX
    type: CPU
    regions:
      - segment: global
        globalFlags: [fine-grained, kernarg]
        allocAllowed: true
        hostAccessible: true
        size: 64 GiB
  - name: gfx90a
    uuid: GPU-5d3a2bc1a2e4f6d8
    type: GPU
    regions:
      - segment: global
        globalFlags: [coarse-grained]
        allocAllowed: true
        hostAccessible: true
        size: 8 GiB
      - segment: global
        globalFlags: [coarse-grained, kernarg]
        allocAllowed: true
        size: 16 GiB
`
	// GPUs around a CPU, GPUs with non-global segments
	gpuCPUGPU = `
agents:
  - name: gfx90a
    uuid: GPU-0000000000000001
    type: GPU
    regions:
      - segment: global
        globalFlags: [coarse-grained]
        allocAllowed: true
        size: 64 GiB
        maxAllocSize: 32 GiB
      - segment: group
        size: 64 KiB
      - segment: kernarg
        size: 4 KiB
  - name: AMD EPYC 7A53 64-Core Processor
    type: CPU
    regions:
      - segment: global
        globalFlags: [fine-grained]
        allocAllowed: true
        hostAccessible: true
        size: 256 GiB
      - segment: read-only
        size: 1 MiB
  - name: gfx90a
    uuid: GPU-0000000000000002
    type: GPU
    coherency: coherent
    regions:
      - segment: private
        size: 16 KiB
      - segment: global
        globalFlags: [coarse-grained]
        allocAllowed: true
        size: 64 GiB
`
)

func newRuntime(t *testing.T, topology string) *simulated.Runtime {
	t.Helper()

	topo, err := simulated.ParseTopology([]byte(topology))
	require.NoError(t, err)
	rt, err := simulated.New(simulated.WithTopology(topo))
	require.NoError(t, err)
	require.NoError(t, rt.Init())
	t.Cleanup(func() {
		if rt.Initialized() {
			require.NoError(t, rt.ShutDown())
		}
	})

	return rt
}

func TestEnumerateCPUAndGPU(t *testing.T) {
	rt := newRuntime(t, cpuAndGPU)

	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)
	require.Len(t, inv.Agents, 2)

	cpu, gpu := inv.Agents[0], inv.Agents[1]
	require.Equal(t, hsa.DeviceTypeCPU, cpu.Type)
	require.Equal(t, "AMD EPYC 7A53 64-Core Processor", cpu.Name)
	require.Nil(t, cpu.Coherency)
	require.Equal(t, hsa.DeviceTypeGPU, gpu.Type)
	require.Equal(t, "gfx90a", gpu.Name)

	require.Len(t, gpu.Regions, 2)
	require.Equal(t, uint64(8<<30), gpu.Regions[0].Size)
	require.True(t, gpu.Regions[0].IsHostAccessible())
	require.True(t, gpu.Regions[0].AllocAllowed)
	require.Equal(t, uint64(16<<30), gpu.Regions[1].Size)
	require.NotNil(t, gpu.Regions[1].HostAccessible)
	require.False(t, gpu.Regions[1].IsHostAccessible())
}

func TestEnumerationCountsMatchRuntime(t *testing.T) {
	for name, topology := range map[string]string{
		"cpu and gpu":   cpuAndGPU,
		"gpu, cpu, gpu": gpuCPUGPU,
		"default":       "",
	} {
		t.Run(name, func(t *testing.T) {
			var rt *simulated.Runtime
			if topology == "" {
				r, err := simulated.New()
				require.NoError(t, err)
				require.NoError(t, r.Init())
				defer r.ShutDown()
				rt = r
			} else {
				rt = newRuntime(t, topology)
			}

			inv, err := EnumerateAgents(rt)
			require.NoError(t, err)

			topo := rt.Topology()
			require.Len(t, inv.Agents, len(topo.Agents))
			for i, a := range inv.Agents {
				require.Len(t, a.Regions, len(topo.Agents[i].Regions), "agent #%d", i)

				regions, err := EnumerateRegions(rt, a.Handle)
				require.NoError(t, err)
				require.Empty(t, cmp.Diff(a.Regions, regions))
			}
		})
	}
}

func TestEnumerationIsIdempotent(t *testing.T) {
	rt := newRuntime(t, gpuCPUGPU)

	first, err := EnumerateAgents(rt)
	require.NoError(t, err)
	second, err := EnumerateAgents(rt)
	require.NoError(t, err)

	require.Empty(t, cmp.Diff(first, second))
}

func TestNonGlobalRegionsHaveNoGlobalFlags(t *testing.T) {
	rt := newRuntime(t, gpuCPUGPU)

	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)

	nonGlobal := 0
	for _, a := range inv.Agents {
		for _, r := range a.Regions {
			_, ok := r.GlobalFlags()
			if r.Segment == hsa.SegmentGlobal {
				require.True(t, ok)
				require.NotEqual(t, hsa.GlobalFlagsNotApplicable, r.RawGlobalFlags())
				continue
			}
			nonGlobal++
			require.False(t, ok)
			require.Nil(t, r.Global)
			require.Equal(t, hsa.GlobalFlagsNotApplicable, r.RawGlobalFlags())
		}
	}
	require.Equal(t, 4, nonGlobal)
}

func TestGlobalFlagsDecoding(t *testing.T) {
	require.Equal(t,
		GlobalFlags{CoarseGrained: true, FineGrained: false, KernArg: true},
		DecodeGlobalFlags(hsa.GlobalFlagCoarseGrained|hsa.GlobalFlagKernArg),
	)

	rt := newRuntime(t, cpuAndGPU)
	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)

	g, ok := inv.Agents[1].Regions[1].GlobalFlags()
	require.True(t, ok)
	require.Equal(t, GlobalFlags{CoarseGrained: true, FineGrained: false, KernArg: true}, g)
	require.Equal(t, hsa.GlobalFlagCoarseGrained|hsa.GlobalFlagKernArg, inv.Agents[1].Regions[1].RawGlobalFlags())
}

func TestUninitializedSessionIsRejected(t *testing.T) {
	rt, err := simulated.New()
	require.NoError(t, err)

	check := func(t *testing.T) {
		inv, err := EnumerateAgents(rt)
		require.ErrorIs(t, err, hsa.ErrNotInitialized)
		require.Nil(t, inv)

		regions, err := EnumerateRegions(rt, hsa.Agent{Handle: 0x5a5000})
		require.ErrorIs(t, err, hsa.ErrNotInitialized)
		require.Nil(t, regions)

		_, found, err := FindAgent(rt, hsa.DeviceTypeGPU, 0)
		require.ErrorIs(t, err, hsa.ErrNotInitialized)
		require.False(t, found)

		_, found, err = FindRegion(rt, hsa.Agent{Handle: 0x5a5000}, Allocatable)
		require.ErrorIs(t, err, hsa.ErrNotInitialized)
		require.False(t, found)
	}

	t.Run("before init", check)

	require.NoError(t, rt.Init())
	_, err = EnumerateAgents(rt)
	require.NoError(t, err)
	require.NoError(t, rt.ShutDown())

	t.Run("after shutdown", check)
}

func TestFindAgent(t *testing.T) {
	rt := newRuntime(t, cpuAndGPU)

	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)

	gpu, found, err := FindAgent(rt, hsa.DeviceTypeGPU, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, inv.Agents[1].Handle, gpu)

	cpu, found, err := FindAgent(rt, hsa.DeviceTypeCPU, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, inv.Agents[0].Handle, cpu)

	missing, found, err := FindAgent(rt, hsa.DeviceTypeGPU, 1)
	require.NoError(t, err)
	require.False(t, found)
	require.NotEqual(t, cpu, missing)
	require.True(t, missing.IsZero())

	_, _, err = FindAgent(rt, hsa.DeviceTypeGPU, -1)
	require.ErrorIs(t, err, ErrInvalidIndex)
}

func TestFindAgentCountsOnlyMatchingAgents(t *testing.T) {
	rt := newRuntime(t, gpuCPUGPU)

	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)

	second, found, err := FindAgent(rt, hsa.DeviceTypeGPU, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, inv.Agents[2].Handle, second)

	a, ok := inv.Agent(hsa.DeviceTypeGPU, 1)
	require.True(t, ok)
	require.Equal(t, second, a.Handle)
	require.Len(t, inv.Select(hsa.DeviceTypeGPU), 2)
	require.Len(t, inv.Select(hsa.DeviceTypeDSP), 0)
}

func TestFailedQueryAbortsEnumeration(t *testing.T) {
	for _, call := range []string{
		"hsa_iterate_agents",
		"hsa_agent_get_info(HSA_AGENT_INFO_NAME)",
		"hsa_agent_iterate_regions",
		"hsa_region_get_info(HSA_REGION_INFO_SIZE)",
		"hsa_region_get_info(HSA_REGION_INFO_GLOBAL_FLAGS)",
		"hsa_region_get_info(HSA_AMD_REGION_INFO_HOST_ACCESSIBLE)",
	} {
		t.Run(call, func(t *testing.T) {
			rt := newRuntime(t, cpuAndGPU)
			rt.FailOn(call, hsa.StatusErrorInvalidArgument)

			inv, err := EnumerateAgents(rt)
			require.Error(t, err)
			require.Nil(t, inv)
			require.ErrorIs(t, err, hsa.StatusErrorInvalidArgument)

			var ce *hsa.CallError
			require.True(t, errors.As(err, &ce))
			require.Equal(t, call, ce.Call)
			require.Contains(t, err.Error(), "HSA_STATUS_ERROR_INVALID_ARGUMENT")
		})
	}
}

func TestGPUOnlyEnumeration(t *testing.T) {
	rt := newRuntime(t, gpuCPUGPU)

	inv, err := EnumerateAgents(rt, GPUOnly())
	require.NoError(t, err)
	require.Len(t, inv.Agents, 2)

	for i, uuid := range []string{"GPU-0000000000000001", "GPU-0000000000000002"} {
		a := inv.Agents[i]
		require.Equal(t, hsa.DeviceTypeGPU, a.Type)
		require.Equal(t, uuid, a.Name)
		require.NotNil(t, a.Coherency)
		require.True(t, a.IsCoherent())
	}
	require.Equal(t, 2, rt.Calls("hsa_amd_coherency_set_type"))
	require.Equal(t, 2, rt.Calls("hsa_amd_coherency_get_type"))
}

func TestEnumerationWithoutHostAccess(t *testing.T) {
	rt := newRuntime(t, cpuAndGPU)
	rt.FailOn("hsa_region_get_info(HSA_AMD_REGION_INFO_HOST_ACCESSIBLE)", hsa.StatusErrorInvalidArgument)

	inv, err := EnumerateAgents(rt, WithoutHostAccess())
	require.NoError(t, err)
	for _, a := range inv.Agents {
		for _, r := range a.Regions {
			require.Nil(t, r.HostAccessible)
			require.False(t, r.IsHostAccessible())
		}
	}
}

func TestEnumerationLimits(t *testing.T) {
	rt := newRuntime(t, gpuCPUGPU)

	_, err := EnumerateAgents(rt, WithMaxAgents(2))
	require.ErrorIs(t, err, ErrTooManyAgents)

	_, err = EnumerateAgents(rt, WithMaxRegions(2))
	require.ErrorIs(t, err, ErrTooManyRegions)

	inv, err := EnumerateAgents(rt, WithMaxAgents(3), WithMaxRegions(3))
	require.NoError(t, err)
	require.Len(t, inv.Agents, 3)

	inv, err = EnumerateAgents(rt, GPUOnly(), WithMaxAgents(2))
	require.NoError(t, err)
	require.Len(t, inv.Agents, 2)
}

func TestFindRegion(t *testing.T) {
	rt := newRuntime(t, cpuAndGPU)

	cpu, _, err := FindAgent(rt, hsa.DeviceTypeCPU, 0)
	require.NoError(t, err)
	gpu, _, err := FindAgent(rt, hsa.DeviceTypeGPU, 0)
	require.NoError(t, err)

	r, found, err := FindRegion(rt, gpu, DeviceLocal)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(16<<30), r.Size)

	r, found, err = FindRegion(rt, gpu, HostLocal)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(8<<30), r.Size)

	r, found, err = FindRegion(rt, cpu, DeviceLocal)
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, r)

	r, found, err = FindPreferredRegion(rt, cpu, []RegionMatcher{DeviceLocal, Allocatable})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(64<<30), r.Size)

	// without host accessibility nothing qualifies as device local
	_, found, err = FindRegion(rt, gpu, DeviceLocal, WithoutHostAccess())
	require.NoError(t, err)
	require.False(t, found)
}

func TestDump(t *testing.T) {
	rt := newRuntime(t, cpuAndGPU)

	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, inv.Dump(buf))
	require.Equal(t, `Agent # 0:
  Name: AMD EPYC 7A53 64-Core Processor
  Type: CPU
  Regions:
    Region # 0:
      Handle: 7F3A28C00000
      Accessible by host: yes
      Segment: global
        Coarse-grained: no
        Fine-grained: yes
        Kernel arguments: yes
      Allocation allowed: yes
      Size: 65536 MiB
      Max allocation size: 65536 MiB
Agent # 1:
  Name: gfx90a
  Type: GPU
  Regions:
    Region # 0:
      Handle: 7F3A28C00040
      Accessible by host: yes
      Segment: global
        Coarse-grained: yes
        Fine-grained: no
        Kernel arguments: no
      Allocation allowed: yes
      Size: 8192 MiB
      Max allocation size: 8192 MiB
    Region # 1:
      Handle: 7F3A28C00080
      Accessible by host: no
      Segment: global
        Coarse-grained: yes
        Fine-grained: no
        Kernel arguments: yes
      Allocation allowed: yes
      Size: 16384 MiB
      Max allocation size: 16384 MiB
`, buf.String())

	inv, err = EnumerateAgents(rt, GPUOnly())
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, inv.Dump(buf))
	require.Contains(t, buf.String(), "  Name: GPU-5d3a2bc1a2e4f6d8\n  Type: GPU\n  Coherent: yes\n")
}

func TestMarshal(t *testing.T) {
	rt := newRuntime(t, gpuCPUGPU)

	inv, err := EnumerateAgents(rt, WithCoherency(hsa.CoherencyTypeCoherent))
	require.NoError(t, err)

	data, err := inv.Marshal(FormatJSON)
	require.NoError(t, err)
	parsed := &Inventory{}
	require.NoError(t, json.Unmarshal(data, parsed))
	require.Empty(t, cmp.Diff(inv, parsed))

	data, err = inv.Marshal(FormatYAML)
	require.NoError(t, err)
	require.Contains(t, string(data), "segment: kernel arguments")
	require.Contains(t, string(data), "coherency: coherent")

	_, err = ParseFormat("xml")
	require.ErrorIs(t, err, ErrInvalidFormat)
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatText, f)
}

func TestVendorSegmentRoundTrip(t *testing.T) {
	rt := newRuntime(t, `
agents:
  - name: gfx942
    type: GPU
    regions:
      - segment: global
        globalFlags: [coarse-grained]
        allocAllowed: true
        size: 1 GiB
      - segment: other(7)
        size: 2 MiB
`)

	inv, err := EnumerateAgents(rt)
	require.NoError(t, err)
	require.Len(t, inv.Agents[0].Regions, 2)

	vendor := inv.Agents[0].Regions[1]
	require.Equal(t, hsa.Segment(7), vendor.Segment)
	require.False(t, vendor.Segment.IsKnown())
	require.False(t, vendor.IsGlobal())
	require.Nil(t, vendor.Global)
	require.Equal(t, hsa.GlobalFlagsNotApplicable, vendor.RawGlobalFlags())

	for _, format := range []Format{FormatJSON, FormatYAML} {
		data, err := inv.Marshal(format)
		require.NoError(t, err)
		require.Contains(t, string(data), "other(7)")

		parsed := &Inventory{}
		if format == FormatJSON {
			require.NoError(t, json.Unmarshal(data, parsed))
		} else {
			require.NoError(t, yaml.Unmarshal(data, parsed))
		}
		require.Empty(t, cmp.Diff(inv, parsed), "format %s", format)
	}

	buf := &bytes.Buffer{}
	require.NoError(t, inv.Dump(buf))
	require.Contains(t, buf.String(), "other(7)")
}
