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
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/luraess/amdgpu-test/pkg/hsa"
)

// allocation is device memory handed out by MemoryAllocate.
type allocation struct {
	buf    []byte
	region *region
	size   uint64
}

// lockedRange is host memory pinned by MemoryLock.
type lockedRange struct {
	buf     []byte
	agents  []hsa.Agent
	refs    int
	mlocked bool
}

func (l *lockedRange) release() {
	if l.mlocked {
		if err := unix.Munlock(l.buf); err != nil {
			log.Warn("munlock of %d bytes at %p failed: %v", len(l.buf), unsafe.Pointer(&l.buf[0]), err)
		}
		l.mlocked = false
	}
}

func bytesAt(ptr unsafe.Pointer, size uint64) []byte {
	return unsafe.Slice((*byte)(ptr), int(size))
}

func contains(buf []byte, ptr unsafe.Pointer, size uint64) bool {
	if len(buf) == 0 {
		return false
	}
	var (
		base = uintptr(unsafe.Pointer(&buf[0]))
		beg  = uintptr(ptr)
		end  = beg + uintptr(size)
	)
	return base <= beg && end <= base+uintptr(len(buf)) && beg <= end
}

// accessible returns true if [ptr, ptr+size) lies in device memory or
// in locked host memory. Must be called with the lock held.
func (r *Runtime) accessible(ptr unsafe.Pointer, size uint64) bool {
	for _, a := range r.allocs {
		if contains(a.buf, ptr, size) {
			return true
		}
	}
	for _, l := range r.locks {
		if contains(l.buf, ptr, size) {
			return true
		}
	}
	return false
}

func (r *Runtime) MemoryAllocate(reg hsa.Region, size uint64) (unsafe.Pointer, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_memory_allocate"); err != nil {
		return nil, err
	}
	rg, err := r.region(reg)
	if err != nil {
		return nil, err
	}

	switch {
	case size == 0:
		return nil, hsa.StatusErrorInvalidArgument
	case !rg.spec.AllocAllowed:
		return nil, hsa.StatusErrorInvalidAllocation
	case size > rg.spec.maxAllocSize():
		return nil, hsa.StatusErrorInvalidAllocation
	case rg.used+size > uint64(rg.spec.Size):
		return nil, hsa.StatusErrorOutOfResources
	}

	buf := make([]byte, size)
	ptr := unsafe.Pointer(&buf[0])
	r.allocs[uintptr(ptr)] = &allocation{
		buf:    buf,
		region: rg,
		size:   size,
	}
	rg.used += size

	log.Debug("allocated %d bytes at %p from %s", size, ptr, reg)
	return ptr, nil
}

func (r *Runtime) MemoryFree(ptr unsafe.Pointer) error {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_memory_free"); err != nil {
		return err
	}
	a, ok := r.allocs[uintptr(ptr)]
	if !ok {
		return hsa.StatusErrorInvalidArgument
	}

	a.region.used -= a.size
	delete(r.allocs, uintptr(ptr))
	return nil
}

func (r *Runtime) MemoryCopy(dst, src unsafe.Pointer, size uint64) error {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_memory_copy"); err != nil {
		return err
	}
	if dst == nil || src == nil {
		return hsa.StatusErrorInvalidArgument
	}
	if size == 0 {
		return nil
	}

	copy(bytesAt(dst, size), bytesAt(src, size))
	return nil
}

func (r *Runtime) MemoryLock(host unsafe.Pointer, size uint64, agents []hsa.Agent) (unsafe.Pointer, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_amd_memory_lock"); err != nil {
		return nil, err
	}
	if host == nil || size == 0 {
		return nil, hsa.StatusErrorInvalidArgument
	}
	for _, a := range agents {
		if _, err := r.agent(a); err != nil {
			return nil, err
		}
	}

	if l, ok := r.locks[uintptr(host)]; ok {
		if uint64(len(l.buf)) != size {
			return nil, hsa.StatusErrorInvalidArgument
		}
		l.refs++
		return host, nil
	}

	l := &lockedRange{
		buf:    bytesAt(host, size),
		agents: append([]hsa.Agent(nil), agents...),
		refs:   1,
	}
	if r.mlock {
		if err := unix.Mlock(l.buf); err != nil {
			log.Error("mlock of %d bytes at %p failed: %v", size, host, err)
			return nil, hsa.StatusErrorOutOfResources
		}
		l.mlocked = true
	}
	r.locks[uintptr(host)] = l

	log.Debug("locked %d bytes at %p for %d agents", size, host, len(agents))
	return host, nil
}

func (r *Runtime) MemoryUnlock(host unsafe.Pointer) error {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_amd_memory_unlock"); err != nil {
		return err
	}
	l, ok := r.locks[uintptr(host)]
	if !ok {
		return hsa.StatusErrorInvalidArgument
	}

	l.refs--
	if l.refs == 0 {
		l.release()
		delete(r.locks, uintptr(host))
	}
	return nil
}
