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

// Package hsa describes the call surface of the HSA runtime as used by the
// probes in this repository. The runtime itself is external: the libhsa
// package binds the real libhsa-runtime64, the simulated package provides
// an in-process stand-in. Agents, regions and signals are non-owning
// references into runtime-owned state and are only valid between Init and
// the matching ShutDown.
package hsa

import (
	"context"
	"unsafe"
)

// Runtime is the HSA runtime call surface.
type Runtime interface {
	// Init opens (or reference counts) the runtime session.
	Init() error
	// ShutDown closes one reference to the runtime session.
	ShutDown() error
	// Initialized returns true while a runtime session is open.
	Initialized() bool
	// StatusString returns the runtime's description of a status code.
	StatusString(Status) string

	// IterateAgents calls fn for each agent in runtime order. Returning
	// ErrBreak from fn stops the iteration without an error. Any other
	// error stops the iteration and is returned.
	IterateAgents(fn func(Agent) error) error
	// IterateRegions calls fn for each memory region of agent in runtime
	// order, with the same semantics as IterateAgents.
	IterateRegions(agent Agent, fn func(Region) error) error
	// AgentInfo returns the value of an agent attribute.
	AgentInfo(agent Agent, attr AgentAttribute) (interface{}, error)
	// RegionInfo returns the value of a region attribute.
	RegionInfo(region Region, attr RegionAttribute) (interface{}, error)
	// CoherencySetType sets the coherency type of a GPU agent.
	CoherencySetType(agent Agent, t CoherencyType) error
	// CoherencyGetType returns the coherency type of a GPU agent.
	CoherencyGetType(agent Agent) (CoherencyType, error)

	// MemoryAllocate allocates size bytes from region.
	MemoryAllocate(region Region, size uint64) (unsafe.Pointer, error)
	// MemoryFree frees memory allocated with MemoryAllocate.
	MemoryFree(ptr unsafe.Pointer) error
	// MemoryCopy copies size bytes synchronously from src to dst.
	MemoryCopy(dst, src unsafe.Pointer, size uint64) error
	// MemoryLock pins host memory and makes it accessible to agents,
	// returning the agent-accessible address of the pinned range.
	MemoryLock(host unsafe.Pointer, size uint64, agents []Agent) (unsafe.Pointer, error)
	// MemoryUnlock unpins host memory pinned with MemoryLock.
	MemoryUnlock(host unsafe.Pointer) error

	// SignalCreate creates a signal with the given initial value.
	SignalCreate(initial int64, consumers []Agent) (Signal, error)
	// SignalDestroy destroys a signal.
	SignalDestroy(s Signal) error
	// SignalLoad returns the current value of a signal.
	SignalLoad(s Signal) (int64, error)
	// AsyncCopy starts copying size bytes from src to dst once all deps
	// reach zero, decrementing completion when done.
	AsyncCopy(dst unsafe.Pointer, dstAgent Agent, src unsafe.Pointer, srcAgent Agent,
		size uint64, deps []Signal, completion Signal) error
	// SignalWait blocks until the signal value satisfies cond against
	// compare, or ctx is done. It returns the last observed value.
	SignalWait(ctx context.Context, s Signal, cond SignalCondition, compare int64, state WaitState) (int64, error)
}

// AgentAttribute identifies an agent attribute.
type AgentAttribute int

const (
	AgentInfoName   AgentAttribute = 0      // string
	AgentInfoDevice AgentAttribute = 17     // DeviceType
	AgentInfoUUID   AgentAttribute = 0xA011 // string
)

// String returns the runtime name of the attribute.
func (a AgentAttribute) String() string {
	switch a {
	case AgentInfoName:
		return "HSA_AGENT_INFO_NAME"
	case AgentInfoDevice:
		return "HSA_AGENT_INFO_DEVICE"
	case AgentInfoUUID:
		return "HSA_AMD_AGENT_INFO_UUID"
	}
	return "HSA_AGENT_INFO_<unknown>"
}

// RegionAttribute identifies a region attribute.
type RegionAttribute int

const (
	RegionInfoSegment             RegionAttribute = 0      // Segment
	RegionInfoGlobalFlags         RegionAttribute = 1      // GlobalFlag
	RegionInfoSize                RegionAttribute = 2      // uint64
	RegionInfoAllocMaxSize        RegionAttribute = 4      // uint64
	RegionInfoRuntimeAllocAllowed RegionAttribute = 5      // bool
	RegionInfoHostAccessible      RegionAttribute = 0xA000 // bool
)

// String returns the runtime name of the attribute.
func (a RegionAttribute) String() string {
	switch a {
	case RegionInfoSegment:
		return "HSA_REGION_INFO_SEGMENT"
	case RegionInfoGlobalFlags:
		return "HSA_REGION_INFO_GLOBAL_FLAGS"
	case RegionInfoSize:
		return "HSA_REGION_INFO_SIZE"
	case RegionInfoAllocMaxSize:
		return "HSA_REGION_INFO_ALLOC_MAX_SIZE"
	case RegionInfoRuntimeAllocAllowed:
		return "HSA_REGION_INFO_RUNTIME_ALLOC_ALLOWED"
	case RegionInfoHostAccessible:
		return "HSA_AMD_REGION_INFO_HOST_ACCESSIBLE"
	}
	return "HSA_REGION_INFO_<unknown>"
}
