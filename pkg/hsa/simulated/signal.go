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
	"context"
	"sync"
	"unsafe"

	"github.com/luraess/amdgpu-test/pkg/hsa"
)

type signal struct {
	sync.Mutex
	value     int64
	changed   chan struct{}
	destroyed bool
}

func newSignal(value int64) *signal {
	return &signal{
		value:   value,
		changed: make(chan struct{}),
	}
}

func (s *signal) load() int64 {
	s.Lock()
	defer s.Unlock()
	return s.value
}

func (s *signal) add(delta int64) {
	s.Lock()
	defer s.Unlock()

	if s.destroyed {
		return
	}
	s.value += delta
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *signal) destroy() {
	s.Lock()
	defer s.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true
	close(s.changed)
}

func (s *signal) wait(ctx context.Context, cond hsa.SignalCondition, compare int64) (int64, error) {
	for {
		s.Lock()
		value, changed, destroyed := s.value, s.changed, s.destroyed
		s.Unlock()

		if cond.Satisfied(value, compare) {
			return value, nil
		}
		if destroyed {
			return value, hsa.StatusErrorInvalidSignal
		}

		select {
		case <-ctx.Done():
			return value, ctx.Err()
		case <-changed:
		}
	}
}

func (r *Runtime) signal(sig hsa.Signal) (*signal, error) {
	s, ok := r.signals[sig.Handle]
	if !ok {
		return nil, hsa.StatusErrorInvalidSignal
	}
	return s, nil
}

func (r *Runtime) SignalCreate(initial int64, consumers []hsa.Agent) (hsa.Signal, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_signal_create"); err != nil {
		return hsa.Signal{}, err
	}
	for _, a := range consumers {
		if _, err := r.agent(a); err != nil {
			return hsa.Signal{}, err
		}
	}

	sig := hsa.Signal{Handle: signalHandleBase + r.nextSig*signalHandleStep}
	r.nextSig++
	r.signals[sig.Handle] = newSignal(initial)

	return sig, nil
}

func (r *Runtime) SignalDestroy(sig hsa.Signal) error {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_signal_destroy"); err != nil {
		return err
	}
	s, err := r.signal(sig)
	if err != nil {
		return err
	}

	s.destroy()
	delete(r.signals, sig.Handle)
	return nil
}

func (r *Runtime) SignalLoad(sig hsa.Signal) (int64, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_signal_load_scacquire"); err != nil {
		return 0, err
	}
	s, err := r.signal(sig)
	if err != nil {
		return 0, err
	}

	return s.load(), nil
}

func (r *Runtime) AsyncCopy(dst unsafe.Pointer, dstAgent hsa.Agent, src unsafe.Pointer, srcAgent hsa.Agent,
	size uint64, deps []hsa.Signal, completion hsa.Signal) error {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_amd_memory_async_copy"); err != nil {
		return err
	}
	if _, err := r.agent(dstAgent); err != nil {
		return err
	}
	if _, err := r.agent(srcAgent); err != nil {
		return err
	}
	done, err := r.signal(completion)
	if err != nil {
		return err
	}
	waits := make([]*signal, 0, len(deps))
	for _, d := range deps {
		s, err := r.signal(d)
		if err != nil {
			return err
		}
		waits = append(waits, s)
	}
	if r.gate != nil {
		waits = append(waits, r.gate)
	}
	if dst == nil || src == nil {
		return hsa.StatusErrorInvalidArgument
	}
	if size > 0 && (!r.accessible(dst, size) || !r.accessible(src, size)) {
		log.Error("async copy of %d bytes %p -> %p: memory not accessible to agents", size, src, dst)
		return hsa.StatusErrorInvalidArgument
	}

	r.copies.Add(1)
	go func() {
		defer r.copies.Done()

		for _, s := range waits {
			if _, err := s.wait(context.Background(), hsa.SignalConditionEq, 0); err != nil {
				log.Warn("async copy %p -> %p abandoned: %v", src, dst, err)
				return
			}
		}
		if size > 0 {
			copy(bytesAt(dst, size), bytesAt(src, size))
		}
		done.add(-1)
	}()

	return nil
}

func (r *Runtime) SignalWait(ctx context.Context, sig hsa.Signal, cond hsa.SignalCondition, compare int64,
	_ hsa.WaitState) (int64, error) {
	r.Lock()
	if err := r.enter("hsa_signal_wait_scacquire"); err != nil {
		r.Unlock()
		return 0, err
	}
	s, err := r.signal(sig)
	r.Unlock()
	if err != nil {
		return 0, err
	}

	return s.wait(ctx, cond, compare)
}
