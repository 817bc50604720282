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

package simulated_test

import (
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	. "github.com/luraess/amdgpu-test/pkg/hsa/simulated"
)

const smallNode = `
agents:
  - name: host
    type: cpu
    regions:
      - segment: global
        globalFlags: [fine-grained]
        allocAllowed: true
        hostAccessible: true
        size: 1 MiB
  - name: gfx90a
    uuid: GPU-1
    type: gpu
    regions:
      - segment: global
        globalFlags: [coarse-grained]
        allocAllowed: true
        size: 4096
        maxAllocSize: 3 KiB
      - segment: group
        size: 64 KiB
`

func newRuntime(t *testing.T, topology string) *Runtime {
	t.Helper()

	var opts []Option
	if topology != "" {
		topo, err := ParseTopology([]byte(topology))
		require.NoError(t, err)
		opts = append(opts, WithTopology(topo))
	}

	rt, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, rt.Init())
	t.Cleanup(func() {
		for rt.Initialized() {
			require.NoError(t, rt.ShutDown())
		}
	})

	return rt
}

func agents(t *testing.T, rt *Runtime) []hsa.Agent {
	t.Helper()
	var list []hsa.Agent
	require.NoError(t, rt.IterateAgents(func(a hsa.Agent) error {
		list = append(list, a)
		return nil
	}))
	return list
}

func regions(t *testing.T, rt *Runtime, a hsa.Agent) []hsa.Region {
	t.Helper()
	var list []hsa.Region
	require.NoError(t, rt.IterateRegions(a, func(r hsa.Region) error {
		list = append(list, r)
		return nil
	}))
	return list
}

func TestParseTopology(t *testing.T) {
	topo, err := ParseTopology([]byte(smallNode))
	require.NoError(t, err)
	require.Len(t, topo.Agents, 2)
	require.Equal(t, hsa.DeviceTypeCPU, topo.Agents[0].Type)
	require.Equal(t, ByteSize(1<<20), topo.Agents[0].Regions[0].Size)
	require.Equal(t, ByteSize(4096), topo.Agents[1].Regions[0].Size)
	require.Equal(t, ByteSize(3<<10), topo.Agents[1].Regions[0].MaxAllocSize)
	require.Equal(t, hsa.SegmentGroup, topo.Agents[1].Regions[1].Segment)

	for name, data := range map[string]string{
		"unknown field":     "agents:\n  - name: x\n    type: cpu\n    cores: 8\n",
		"bad device type":   "agents:\n  - name: x\n    type: fpga\n",
		"bad segment":       "agents:\n  - name: x\n    type: cpu\n    regions:\n      - segment: heap\n        size: 1\n",
		"bad size":          "agents:\n  - name: x\n    type: cpu\n    regions:\n      - segment: global\n        size: lots\n",
		"bad global flag":   "agents:\n  - name: x\n    type: cpu\n    regions:\n      - segment: global\n        globalFlags: [sticky]\n        size: 1\n",
		"flags on group":    "agents:\n  - name: x\n    type: gpu\n    regions:\n      - segment: group\n        globalFlags: [kernarg]\n        size: 1\n",
		"bad coherency":     "agents:\n  - name: x\n    type: gpu\n    coherency: sometimes\n",
		"max alloc too big": "agents:\n  - name: x\n    type: cpu\n    regions:\n      - segment: global\n        size: 1 KiB\n        maxAllocSize: 2 KiB\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTopology([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestTopologyMarshal(t *testing.T) {
	data, err := DefaultTopology().Marshal()
	require.NoError(t, err)
	require.Contains(t, string(data), "size: 512 GiB")

	topo, err := ParseTopology(data)
	require.NoError(t, err)
	require.Equal(t, DefaultTopology(), topo)
}

func TestSessionRefcounting(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	require.False(t, rt.Initialized())

	err = rt.IterateAgents(func(hsa.Agent) error { return nil })
	require.ErrorIs(t, err, hsa.ErrNotInitialized)
	require.ErrorIs(t, rt.ShutDown(), hsa.ErrNotInitialized)

	require.NoError(t, rt.Init())
	require.NoError(t, rt.Init())
	require.NoError(t, rt.ShutDown())
	require.True(t, rt.Initialized())
	require.NoError(t, rt.ShutDown())
	require.False(t, rt.Initialized())

	_, err = rt.SignalCreate(1, nil)
	require.ErrorIs(t, err, hsa.ErrNotInitialized)
	require.Equal(t, 2, rt.Calls("hsa_init"))
	require.Equal(t, 3, rt.Calls("hsa_shut_down"))
}

func TestIterationBreak(t *testing.T) {
	rt := newRuntime(t, "")

	visited := 0
	err := rt.IterateAgents(func(hsa.Agent) error {
		visited++
		return hsa.ErrBreak
	})
	require.NoError(t, err)
	require.Equal(t, 1, visited)

	failure := errors.New("visitor failure")
	visited = 0
	err = rt.IterateAgents(func(hsa.Agent) error {
		visited++
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, 1, visited)

	err = rt.IterateRegions(hsa.Agent{Handle: 0x1234}, func(hsa.Region) error { return nil })
	require.ErrorIs(t, err, hsa.StatusErrorInvalidAgent)
}

func TestAgentAndRegionInfo(t *testing.T) {
	rt := newRuntime(t, "")

	list := agents(t, rt)
	require.Len(t, list, 2)
	cpu, gpu := list[0], list[1]

	name, err := hsa.AgentName(rt, gpu)
	require.NoError(t, err)
	require.Equal(t, "gfx90a", name)
	uuid, err := hsa.AgentUUID(rt, gpu)
	require.NoError(t, err)
	require.Equal(t, "GPU-5d3a2bc1a2e4f6d8", uuid)
	dt, err := hsa.AgentDeviceType(rt, cpu)
	require.NoError(t, err)
	require.Equal(t, hsa.DeviceTypeCPU, dt)

	gpuRegions := regions(t, rt, gpu)
	require.Len(t, gpuRegions, 2)

	flags, err := hsa.RegionGlobalFlags(rt, gpuRegions[0])
	require.NoError(t, err)
	require.Equal(t, hsa.GlobalFlagCoarseGrained, flags)
	size, err := hsa.RegionSize(rt, gpuRegions[0])
	require.NoError(t, err)
	require.Equal(t, uint64(64<<30), size)
	host, err := hsa.RegionHostAccessible(rt, gpuRegions[0])
	require.NoError(t, err)
	require.False(t, host)

	seg, err := hsa.RegionSegment(rt, gpuRegions[1])
	require.NoError(t, err)
	require.Equal(t, hsa.SegmentGroup, seg)
	_, err = hsa.RegionGlobalFlags(rt, gpuRegions[1])
	require.ErrorIs(t, err, hsa.StatusErrorInvalidArgument)
	maxSize, err := hsa.RegionAllocMaxSize(rt, gpuRegions[1])
	require.NoError(t, err)
	require.Zero(t, maxSize)

	_, err = hsa.RegionSize(rt, hsa.Region{Handle: 1})
	require.ErrorIs(t, err, hsa.StatusErrorInvalidRegion)
}

func TestCoherency(t *testing.T) {
	rt := newRuntime(t, "")
	list := agents(t, rt)
	cpu, gpu := list[0], list[1]

	c, err := rt.CoherencyGetType(gpu)
	require.NoError(t, err)
	require.Equal(t, hsa.CoherencyTypeNonCoherent, c)

	require.NoError(t, rt.CoherencySetType(gpu, hsa.CoherencyTypeCoherent))
	c, err = rt.CoherencyGetType(gpu)
	require.NoError(t, err)
	require.Equal(t, hsa.CoherencyTypeCoherent, c)

	require.ErrorIs(t, rt.CoherencySetType(cpu, hsa.CoherencyTypeCoherent), hsa.StatusErrorInvalidAgent)
	require.ErrorIs(t, rt.CoherencySetType(gpu, hsa.CoherencyType(7)), hsa.StatusErrorInvalidArgument)
}

func TestFailOn(t *testing.T) {
	rt := newRuntime(t, "")
	gpu := agents(t, rt)[1]
	reg := regions(t, rt, gpu)[0]

	rt.FailOn("hsa_region_get_info(HSA_REGION_INFO_SIZE)", hsa.StatusErrorOutOfResources)
	_, err := hsa.RegionSize(rt, reg)
	require.ErrorIs(t, err, hsa.StatusErrorOutOfResources)
	_, err = hsa.RegionSegment(rt, reg)
	require.NoError(t, err)

	rt.FailOn("hsa_region_get_info(HSA_REGION_INFO_SIZE)", hsa.StatusSuccess)
	_, err = hsa.RegionSize(rt, reg)
	require.NoError(t, err)

	rt.FailOn("hsa_region_get_info", hsa.StatusError)
	_, err = hsa.RegionSegment(rt, reg)
	require.ErrorIs(t, err, hsa.StatusError)
}

func TestMemoryAllocate(t *testing.T) {
	rt := newRuntime(t, smallNode)
	gpu := agents(t, rt)[1]
	list := regions(t, rt, gpu)
	device, group := list[0], list[1]

	_, err := rt.MemoryAllocate(device, 0)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidArgument)
	_, err = rt.MemoryAllocate(group, 16)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidAllocation)
	_, err = rt.MemoryAllocate(device, 3<<10+1)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidAllocation)

	first, err := rt.MemoryAllocate(device, 3<<10)
	require.NoError(t, err)
	require.NotNil(t, first)
	_, err = rt.MemoryAllocate(device, 2<<10)
	require.ErrorIs(t, err, hsa.StatusErrorOutOfResources)

	require.NoError(t, rt.MemoryFree(first))
	require.ErrorIs(t, rt.MemoryFree(first), hsa.StatusErrorInvalidArgument)

	second, err := rt.MemoryAllocate(device, 2<<10)
	require.NoError(t, err)
	require.NoError(t, rt.MemoryFree(second))
}

func TestMemoryLock(t *testing.T) {
	rt := newRuntime(t, "")
	list := agents(t, rt)

	buf := make([]float64, 16)
	host := unsafe.Pointer(&buf[0])
	size := uint64(len(buf) * 8)

	locked, err := rt.MemoryLock(host, size, list)
	require.NoError(t, err)
	require.Equal(t, host, locked)

	again, err := rt.MemoryLock(host, size, list[1:])
	require.NoError(t, err)
	require.Equal(t, locked, again)

	_, err = rt.MemoryLock(host, size/2, list)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidArgument)
	_, err = rt.MemoryLock(nil, size, list)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidArgument)
	_, err = rt.MemoryLock(host, size, []hsa.Agent{{Handle: 0x42}})
	require.ErrorIs(t, err, hsa.StatusErrorInvalidAgent)

	require.NoError(t, rt.MemoryUnlock(host))
	require.NoError(t, rt.MemoryUnlock(host))
	require.ErrorIs(t, rt.MemoryUnlock(host), hsa.StatusErrorInvalidArgument)
}

func TestAsyncCopy(t *testing.T) {
	rt := newRuntime(t, "")
	list := agents(t, rt)
	cpu, gpu := list[0], list[1]

	const n = 64
	size := uint64(n * 8)

	dev, err := rt.MemoryAllocate(regions(t, rt, gpu)[0], size)
	require.NoError(t, err)
	defer rt.MemoryFree(dev)

	src := make([]float64, n)
	for i := range src {
		src[i] = float64(i) / 3
	}
	require.NoError(t, rt.MemoryCopy(dev, unsafe.Pointer(&src[0]), size))

	dst := make([]float64, n)
	host := unsafe.Pointer(&dst[0])

	sig, err := rt.SignalCreate(1, []hsa.Agent{cpu})
	require.NoError(t, err)
	defer rt.SignalDestroy(sig)

	// host memory must be locked first
	err = rt.AsyncCopy(host, cpu, dev, gpu, size, nil, sig)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidArgument)

	locked, err := rt.MemoryLock(host, size, []hsa.Agent{gpu, cpu})
	require.NoError(t, err)
	defer rt.MemoryUnlock(host)

	require.NoError(t, rt.AsyncCopy(locked, cpu, dev, gpu, size, nil, sig))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := rt.SignalWait(ctx, sig, hsa.SignalConditionLt, 1, hsa.WaitStateBlocked)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
	require.Equal(t, src, dst)

	v, err = rt.SignalLoad(sig)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestAsyncCopyDependencies(t *testing.T) {
	rt := newRuntime(t, "")
	list := agents(t, rt)
	cpu, gpu := list[0], list[1]

	const n = 32
	size := uint64(n * 8)

	var (
		a = make([]float64, n)
		b = make([]float64, n)
		c = make([]float64, n)
	)
	for i := range a {
		a[i] = float64(i * i)
	}
	for _, buf := range [][]float64{a, b, c} {
		_, err := rt.MemoryLock(unsafe.Pointer(&buf[0]), size, list)
		require.NoError(t, err)
	}

	first, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)
	second, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)

	// b -> c waits for a -> b
	require.NoError(t, rt.AsyncCopy(unsafe.Pointer(&c[0]), cpu, unsafe.Pointer(&b[0]), cpu,
		size, []hsa.Signal{first}, second))
	require.NoError(t, rt.AsyncCopy(unsafe.Pointer(&b[0]), cpu, unsafe.Pointer(&a[0]), gpu,
		size, nil, first))

	_, err = rt.SignalWait(context.Background(), second, hsa.SignalConditionEq, 0, hsa.WaitStateActive)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, a, c)
}

func TestSignalWaitHonorsContext(t *testing.T) {
	rt := newRuntime(t, "")

	sig, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	v, err := rt.SignalWait(ctx, sig, hsa.SignalConditionLt, 1, hsa.WaitStateBlocked)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(1), v)

	require.NoError(t, rt.SignalDestroy(sig))
	_, err = rt.SignalLoad(sig)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidSignal)
}

func TestShutDownReleasesResources(t *testing.T) {
	rt := newRuntime(t, smallNode)
	list := agents(t, rt)
	device := regions(t, rt, list[1])[0]

	_, err := rt.MemoryAllocate(device, 3<<10)
	require.NoError(t, err)
	sig, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)
	require.NoError(t, rt.CoherencySetType(list[1], hsa.CoherencyTypeCoherent))

	require.NoError(t, rt.ShutDown())
	require.NoError(t, rt.Init())

	ptr, err := rt.MemoryAllocate(device, 3<<10)
	require.NoError(t, err)
	require.NoError(t, rt.MemoryFree(ptr))

	_, err = rt.SignalLoad(sig)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidSignal)

	c, err := rt.CoherencyGetType(list[1])
	require.NoError(t, err)
	require.Equal(t, hsa.CoherencyTypeNonCoherent, c)
}

func TestHeldCopyCompletesOnRelease(t *testing.T) {
	rt := newRuntime(t, "")
	list := agents(t, rt)
	cpu, gpu := list[0], list[1]

	src, dst := []byte("held copy payload"), make([]byte, 17)
	for _, buf := range [][]byte{src, dst} {
		_, err := rt.MemoryLock(unsafe.Pointer(&buf[0]), uint64(len(buf)), list)
		require.NoError(t, err)
	}

	sig, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)

	release := rt.HoldCopies()
	require.NoError(t, rt.AsyncCopy(unsafe.Pointer(&dst[0]), cpu, unsafe.Pointer(&src[0]), gpu,
		uint64(len(src)), nil, sig))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rt.SignalWait(ctx, sig, hsa.SignalConditionLt, 1, hsa.WaitStateActive)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, make([]byte, 17), dst)

	release()
	release()
	_, err = rt.SignalWait(context.Background(), sig, hsa.SignalConditionLt, 1, hsa.WaitStateActive)
	require.NoError(t, err)
	require.Equal(t, src, dst)
}

func TestInitDuringShutDownKeepsNewSession(t *testing.T) {
	rt := newRuntime(t, smallNode)
	list := agents(t, rt)
	cpu, gpu := list[0], list[1]
	device := regions(t, rt, gpu)[0]

	src, dst := []byte("in-flight during shutdown"), make([]byte, 25)
	for _, buf := range [][]byte{src, dst} {
		_, err := rt.MemoryLock(unsafe.Pointer(&buf[0]), uint64(len(buf)), list)
		require.NoError(t, err)
	}
	sig, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)

	release := rt.HoldCopies()
	require.NoError(t, rt.AsyncCopy(unsafe.Pointer(&dst[0]), cpu, unsafe.Pointer(&src[0]), gpu,
		uint64(len(src)), nil, sig))

	done := make(chan error, 1)
	go func() {
		done <- rt.ShutDown()
	}()
	require.Eventually(t, func() bool { return !rt.Initialized() }, 5*time.Second, time.Millisecond)

	// new session while the old one waits for its copy to drain
	require.NoError(t, rt.Init())
	ptr, err := rt.MemoryAllocate(device, 3<<10)
	require.NoError(t, err)
	fresh, err := rt.SignalCreate(1, nil)
	require.NoError(t, err)

	release()
	require.NoError(t, <-done)
	require.Equal(t, src, dst)

	require.True(t, rt.Initialized())
	v, err := rt.SignalLoad(fresh)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
	require.NoError(t, rt.MemoryFree(ptr))

	_, err = rt.SignalLoad(sig)
	require.ErrorIs(t, err, hsa.StatusErrorInvalidSignal)
}
