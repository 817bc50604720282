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

//go:build hsa && cgo

package libhsa

/*
#cgo CFLAGS: -I/opt/rocm/include
#cgo LDFLAGS: -L/opt/rocm/lib -lhsa-runtime64
#include <stdint.h>
#include <hsa/hsa.h>
#include <hsa/hsa_ext_amd.h>

extern hsa_status_t agentVisitor(hsa_agent_t agent, void *data);
extern hsa_status_t regionVisitor(hsa_region_t region, void *data);

static hsa_status_t iterate_agents(uintptr_t data) {
	return hsa_iterate_agents(agentVisitor, (void *)data);
}

static hsa_status_t iterate_regions(hsa_agent_t agent, uintptr_t data) {
	return hsa_agent_iterate_regions(agent, regionVisitor, (void *)data);
}
*/
import "C"

import (
	"context"
	"errors"
	"runtime"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

const (
	// waitTimeoutHint bounds a single runtime wait so that context
	// cancellation is noticed.
	waitTimeoutHint = 1 << 24
	// nameLength is the size of the agent name and UUID buffers.
	nameLength = 64
)

var (
	log = logger.Get("libhsa")
)

// Runtime is the HSA runtime provided by libhsa-runtime64.
type Runtime struct {
	refs   atomic.Int32
	mu     sync.Mutex
	pinned map[uintptr]*runtime.Pinner
}

var _ hsa.Runtime = &Runtime{}

// New returns the libhsa-runtime64 backed runtime.
func New() (hsa.Runtime, error) {
	return &Runtime{
		pinned: make(map[uintptr]*runtime.Pinner),
	}, nil
}

func status(st C.hsa_status_t) error {
	if st == C.HSA_STATUS_SUCCESS {
		return nil
	}
	return hsa.Status(st)
}

func cAgent(a hsa.Agent) C.hsa_agent_t {
	return C.hsa_agent_t{handle: C.uint64_t(a.Handle)}
}

func cRegion(r hsa.Region) C.hsa_region_t {
	return C.hsa_region_t{handle: C.uint64_t(r.Handle)}
}

func cSignal(s hsa.Signal) C.hsa_signal_t {
	return C.hsa_signal_t{handle: C.uint64_t(s.Handle)}
}

func cAgents(agents []hsa.Agent) []C.hsa_agent_t {
	out := make([]C.hsa_agent_t, 0, len(agents))
	for _, a := range agents {
		out = append(out, cAgent(a))
	}
	return out
}

func (r *Runtime) Init() error {
	if err := status(C.hsa_init()); err != nil {
		return err
	}
	r.refs.Add(1)
	return nil
}

func (r *Runtime) ShutDown() error {
	if err := status(C.hsa_shut_down()); err != nil {
		return err
	}
	r.refs.Add(-1)
	return nil
}

func (r *Runtime) Initialized() bool {
	return r.refs.Load() > 0
}

func (r *Runtime) StatusString(st hsa.Status) string {
	var msg *C.char
	if C.hsa_status_string(C.hsa_status_t(st), &msg) != C.HSA_STATUS_SUCCESS || msg == nil {
		return st.Error()
	}
	return C.GoString(msg)
}

func (r *Runtime) IterateAgents(fn func(hsa.Agent) error) error {
	v := &visitor{
		fn: func(h uint64) error { return fn(hsa.Agent{Handle: h}) },
	}
	h := cgo.NewHandle(v)
	defer h.Delete()

	return v.result(C.iterate_agents(C.uintptr_t(h)))
}

func (r *Runtime) IterateRegions(a hsa.Agent, fn func(hsa.Region) error) error {
	v := &visitor{
		fn: func(h uint64) error { return fn(hsa.Region{Handle: h}) },
	}
	h := cgo.NewHandle(v)
	defer h.Delete()

	return v.result(C.iterate_regions(cAgent(a), C.uintptr_t(h)))
}

func (r *Runtime) AgentInfo(a hsa.Agent, attr hsa.AgentAttribute) (interface{}, error) {
	switch attr {
	case hsa.AgentInfoName, hsa.AgentInfoUUID:
		var buf [nameLength]C.char
		st := C.hsa_agent_get_info(cAgent(a), C.hsa_agent_info_t(attr), unsafe.Pointer(&buf[0]))
		if err := status(st); err != nil {
			return nil, err
		}
		buf[nameLength-1] = 0
		return C.GoString(&buf[0]), nil

	case hsa.AgentInfoDevice:
		var t C.hsa_device_type_t
		st := C.hsa_agent_get_info(cAgent(a), C.HSA_AGENT_INFO_DEVICE, unsafe.Pointer(&t))
		if err := status(st); err != nil {
			return nil, err
		}
		return hsa.DeviceType(t), nil
	}

	return nil, hsa.StatusErrorInvalidArgument
}

func (r *Runtime) RegionInfo(reg hsa.Region, attr hsa.RegionAttribute) (interface{}, error) {
	var (
		region = cRegion(reg)
		info   = C.hsa_region_info_t(attr)
	)

	switch attr {
	case hsa.RegionInfoSegment:
		var seg C.hsa_region_segment_t
		if err := status(C.hsa_region_get_info(region, info, unsafe.Pointer(&seg))); err != nil {
			return nil, err
		}
		return hsa.Segment(seg), nil

	case hsa.RegionInfoGlobalFlags:
		var flags C.uint32_t
		if err := status(C.hsa_region_get_info(region, info, unsafe.Pointer(&flags))); err != nil {
			return nil, err
		}
		return hsa.GlobalFlag(flags), nil

	case hsa.RegionInfoSize, hsa.RegionInfoAllocMaxSize:
		var size C.size_t
		if err := status(C.hsa_region_get_info(region, info, unsafe.Pointer(&size))); err != nil {
			return nil, err
		}
		return uint64(size), nil

	case hsa.RegionInfoRuntimeAllocAllowed, hsa.RegionInfoHostAccessible:
		var b C.bool
		if err := status(C.hsa_region_get_info(region, info, unsafe.Pointer(&b))); err != nil {
			return nil, err
		}
		return bool(b), nil
	}

	return nil, hsa.StatusErrorInvalidArgument
}

func (r *Runtime) CoherencySetType(a hsa.Agent, t hsa.CoherencyType) error {
	return status(C.hsa_amd_coherency_set_type(cAgent(a), C.hsa_amd_coherency_type_t(t)))
}

func (r *Runtime) CoherencyGetType(a hsa.Agent) (hsa.CoherencyType, error) {
	var t C.hsa_amd_coherency_type_t
	if err := status(C.hsa_amd_coherency_get_type(cAgent(a), &t)); err != nil {
		return 0, err
	}
	return hsa.CoherencyType(t), nil
}

func (r *Runtime) MemoryAllocate(reg hsa.Region, size uint64) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	if err := status(C.hsa_memory_allocate(cRegion(reg), C.size_t(size), &ptr)); err != nil {
		return nil, err
	}
	return ptr, nil
}

func (r *Runtime) MemoryFree(ptr unsafe.Pointer) error {
	return status(C.hsa_memory_free(ptr))
}

func (r *Runtime) MemoryCopy(dst, src unsafe.Pointer, size uint64) error {
	return status(C.hsa_memory_copy(dst, src, C.size_t(size)))
}

// MemoryLock pins the Go memory at host for the runtime, which keeps
// referring to it until MemoryUnlock.
func (r *Runtime) MemoryLock(host unsafe.Pointer, size uint64, agents []hsa.Agent) (unsafe.Pointer, error) {
	var (
		locked unsafe.Pointer
		list   = cAgents(agents)
		first  *C.hsa_agent_t
		pinner = &runtime.Pinner{}
	)

	if len(list) > 0 {
		first = &list[0]
	}

	pinner.Pin(host)
	st := C.hsa_amd_memory_lock(host, C.size_t(size), first, C.int(len(list)), &locked)
	if err := status(st); err != nil {
		pinner.Unpin()
		return nil, err
	}

	r.mu.Lock()
	r.pinned[uintptr(host)] = pinner
	r.pinned[uintptr(locked)] = pinner
	r.mu.Unlock()

	log.Debug("locked %d bytes at %p (agent address %p)", size, host, locked)
	return locked, nil
}

func (r *Runtime) MemoryUnlock(host unsafe.Pointer) error {
	if err := status(C.hsa_amd_memory_unlock(host)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pinner, ok := r.pinned[uintptr(host)]; ok {
		for ptr, p := range r.pinned {
			if p == pinner {
				delete(r.pinned, ptr)
			}
		}
		pinner.Unpin()
	}
	return nil
}

func (r *Runtime) SignalCreate(initial int64, consumers []hsa.Agent) (hsa.Signal, error) {
	var (
		sig   C.hsa_signal_t
		list  = cAgents(consumers)
		first *C.hsa_agent_t
	)

	if len(list) > 0 {
		first = &list[0]
	}

	st := C.hsa_signal_create(C.hsa_signal_value_t(initial), C.uint32_t(len(list)), first, &sig)
	if err := status(st); err != nil {
		return hsa.Signal{}, err
	}
	return hsa.Signal{Handle: uint64(sig.handle)}, nil
}

func (r *Runtime) SignalDestroy(s hsa.Signal) error {
	return status(C.hsa_signal_destroy(cSignal(s)))
}

func (r *Runtime) SignalLoad(s hsa.Signal) (int64, error) {
	return int64(C.hsa_signal_load_scacquire(cSignal(s))), nil
}

func (r *Runtime) AsyncCopy(dst unsafe.Pointer, dstAgent hsa.Agent, src unsafe.Pointer, srcAgent hsa.Agent,
	size uint64, deps []hsa.Signal, completion hsa.Signal) error {
	var (
		list  = make([]C.hsa_signal_t, 0, len(deps))
		first *C.hsa_signal_t
	)

	for _, d := range deps {
		list = append(list, cSignal(d))
	}
	if len(list) > 0 {
		first = &list[0]
	}

	st := C.hsa_amd_memory_async_copy(dst, cAgent(dstAgent), src, cAgent(srcAgent), C.size_t(size),
		C.uint32_t(len(list)), first, cSignal(completion))
	return status(st)
}

func (r *Runtime) SignalWait(ctx context.Context, s hsa.Signal, cond hsa.SignalCondition, compare int64,
	state hsa.WaitState) (int64, error) {
	for {
		value := int64(C.hsa_signal_wait_scacquire(cSignal(s), C.hsa_signal_condition_t(cond),
			C.hsa_signal_value_t(compare), C.uint64_t(waitTimeoutHint), C.hsa_wait_state_t(state)))
		if cond.Satisfied(value, compare) {
			return value, nil
		}
		if err := ctx.Err(); err != nil {
			return value, err
		}
	}
}

// visitor relays runtime iteration callbacks to a Go function.
type visitor struct {
	fn  func(uint64) error
	err error
}

func (v *visitor) visit(handle uint64) C.hsa_status_t {
	err := v.fn(handle)
	switch {
	case err == nil:
		return C.HSA_STATUS_SUCCESS
	case errors.Is(err, hsa.ErrBreak):
		return C.HSA_STATUS_INFO_BREAK
	}
	v.err = err
	return C.HSA_STATUS_ERROR
}

func (v *visitor) result(st C.hsa_status_t) error {
	if v.err != nil {
		return v.err
	}
	if st == C.HSA_STATUS_INFO_BREAK {
		return nil
	}
	return status(st)
}
