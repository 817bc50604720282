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

// Package simulated implements an in-process HSA runtime stand-in. It
// reports agents and regions from a Topology, backs device memory with Go
// memory and runs asynchronous copies on goroutines. It is safe for
// concurrent use.
package simulated

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

const (
	agentHandleBase  = 0x5a5000
	agentHandleStep  = 0x140
	regionHandleBase = 0x7f3a28c00000
	regionHandleStep = 0x40
	signalHandleBase = 0x7f3a31200000
	signalHandleStep = 0x80
)

var (
	log = logger.Get("simulated")
)

// Option is an option for a simulated Runtime.
type Option func(*Runtime)

// WithTopology sets the topology of the runtime.
func WithTopology(topo *Topology) Option {
	return func(r *Runtime) {
		r.topo = topo
	}
}

// WithMemoryLocking makes MemoryLock pin host pages with mlock(2).
func WithMemoryLocking() Option {
	return func(r *Runtime) {
		r.mlock = true
	}
}

// Runtime is a simulated HSA runtime.
type Runtime struct {
	sync.Mutex
	topo     *Topology
	refs     int
	agents   []*agent
	regions  map[uint64]*region
	allocs   map[uintptr]*allocation
	locks    map[uintptr]*lockedRange
	signals  map[uint64]*signal
	nextSig  uint64
	failures map[string]hsa.Status
	calls    map[string]int
	mlock    bool
	copies   sync.WaitGroup
	gate     *signal
}

type agent struct {
	handle    uint64
	spec      *AgentSpec
	coherency hsa.CoherencyType
	regions   []*region
}

type region struct {
	handle uint64
	agent  *agent
	spec   *RegionSpec
	used   uint64
}

var _ hsa.Runtime = &Runtime{}

// New creates a simulated runtime. Without a topology option the
// runtime uses DefaultTopology.
func New(options ...Option) (*Runtime, error) {
	r := &Runtime{
		regions:  make(map[uint64]*region),
		allocs:   make(map[uintptr]*allocation),
		locks:    make(map[uintptr]*lockedRange),
		signals:  make(map[uint64]*signal),
		failures: make(map[string]hsa.Status),
		calls:    make(map[string]int),
	}

	for _, o := range options {
		o(r)
	}

	if r.topo == nil {
		r.topo = DefaultTopology()
	}
	if err := r.topo.Validate(); err != nil {
		return nil, err
	}

	regionHandle := uint64(regionHandleBase)
	for i, spec := range r.topo.Agents {
		a := &agent{
			handle: agentHandleBase + uint64(i)*agentHandleStep,
			spec:   spec,
		}
		if spec.Type == hsa.DeviceTypeGPU {
			a.coherency, _ = spec.coherency()
		}
		for _, rspec := range spec.Regions {
			reg := &region{
				handle: regionHandle,
				agent:  a,
				spec:   rspec,
			}
			regionHandle += regionHandleStep
			a.regions = append(a.regions, reg)
			r.regions[reg.handle] = reg
		}
		r.agents = append(r.agents, a)
	}

	return r, nil
}

// FailOn makes subsequent calls matching call fail with status. A call
// matches either by its plain name (hsa_region_get_info) or by name and
// attribute (hsa_region_get_info(HSA_REGION_INFO_SIZE)). A success status
// clears the failure.
func (r *Runtime) FailOn(call string, status hsa.Status) {
	r.Lock()
	defer r.Unlock()

	if status.IsSuccess() {
		delete(r.failures, call)
	} else {
		r.failures[call] = status
	}
}

// HoldCopies makes async copies started from now on wait, as if they
// depended on one more signal, until the returned release function is
// called. Held copies are not released by ShutDown.
func (r *Runtime) HoldCopies() (release func()) {
	gate := newSignal(1)

	r.Lock()
	r.gate = gate
	r.Unlock()

	once := sync.Once{}
	return func() {
		once.Do(func() {
			r.Lock()
			if r.gate == gate {
				r.gate = nil
			}
			r.Unlock()
			gate.add(-1)
		})
	}
}

// Calls returns the number of times the named call has been made.
func (r *Runtime) Calls(call string) int {
	r.Lock()
	defer r.Unlock()
	return r.calls[call]
}

// Topology returns the topology of the runtime.
func (r *Runtime) Topology() *Topology {
	return r.topo
}

// enter records a call, checks the session and any injected failure.
// Must be called with the lock held.
func (r *Runtime) enter(call string, attr ...fmt.Stringer) error {
	r.calls[call]++

	if r.refs == 0 {
		return hsa.StatusErrorNotInitialized
	}
	if st, ok := r.failures[call]; ok {
		return st
	}
	for _, a := range attr {
		if st, ok := r.failures[call+"("+a.String()+")"]; ok {
			return st
		}
	}
	return nil
}

func (r *Runtime) Init() error {
	r.Lock()
	defer r.Unlock()

	r.calls["hsa_init"]++
	if st, ok := r.failures["hsa_init"]; ok {
		return st
	}
	if r.refs == int(^uint32(0)>>1) {
		return hsa.StatusErrorRefcountOverflow
	}

	r.refs++
	if r.refs == 1 {
		log.Debug("runtime initialized with %d agents", len(r.agents))
	}
	return nil
}

func (r *Runtime) ShutDown() error {
	r.Lock()
	if err := r.enter("hsa_shut_down"); err != nil {
		r.Unlock()
		return err
	}
	r.refs--
	if r.refs > 0 {
		r.Unlock()
		return nil
	}

	// Destroying signals releases copies blocked on dependencies, then
	// in-flight copies are let to drain before releasing memory.
	for h, s := range r.signals {
		s.destroy()
		delete(r.signals, h)
	}
	r.Unlock()

	r.copies.Wait()

	r.Lock()
	defer r.Unlock()

	// A session started while copies drained owns what is left.
	if r.refs > 0 {
		log.Debug("runtime reinitialized during shutdown, keeping session state")
		return nil
	}

	for ptr, l := range r.locks {
		l.release()
		delete(r.locks, ptr)
	}
	for ptr, a := range r.allocs {
		a.region.used -= a.size
		delete(r.allocs, ptr)
	}
	for _, a := range r.agents {
		if a.spec.Type == hsa.DeviceTypeGPU {
			a.coherency, _ = a.spec.coherency()
		}
	}

	log.Debug("runtime shut down")
	return nil
}

func (r *Runtime) Initialized() bool {
	r.Lock()
	defer r.Unlock()
	return r.refs > 0
}

func (r *Runtime) StatusString(st hsa.Status) string {
	return st.Error()
}

func (r *Runtime) IterateAgents(fn func(hsa.Agent) error) error {
	r.Lock()
	if err := r.enter("hsa_iterate_agents"); err != nil {
		r.Unlock()
		return err
	}
	agents := make([]hsa.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, hsa.Agent{Handle: a.handle})
	}
	r.Unlock()

	return iterate(agents, fn)
}

func (r *Runtime) IterateRegions(a hsa.Agent, fn func(hsa.Region) error) error {
	r.Lock()
	if err := r.enter("hsa_agent_iterate_regions"); err != nil {
		r.Unlock()
		return err
	}
	ag, err := r.agent(a)
	if err != nil {
		r.Unlock()
		return err
	}
	regions := make([]hsa.Region, 0, len(ag.regions))
	for _, reg := range ag.regions {
		regions = append(regions, hsa.Region{Handle: reg.handle})
	}
	r.Unlock()

	return iterate(regions, fn)
}

// iterate visits items without holding the runtime lock, so visitors can
// call back into the runtime.
func iterate[T any](items []T, fn func(T) error) error {
	for _, item := range items {
		if err := fn(item); err != nil {
			if errors.Is(err, hsa.ErrBreak) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (r *Runtime) AgentInfo(a hsa.Agent, attr hsa.AgentAttribute) (interface{}, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_agent_get_info", attr); err != nil {
		return nil, err
	}
	ag, err := r.agent(a)
	if err != nil {
		return nil, err
	}

	switch attr {
	case hsa.AgentInfoName:
		return ag.spec.Name, nil
	case hsa.AgentInfoUUID:
		return ag.spec.UUID, nil
	case hsa.AgentInfoDevice:
		return ag.spec.Type, nil
	}

	return nil, hsa.StatusErrorInvalidArgument
}

func (r *Runtime) RegionInfo(reg hsa.Region, attr hsa.RegionAttribute) (interface{}, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_region_get_info", attr); err != nil {
		return nil, err
	}
	rg, err := r.region(reg)
	if err != nil {
		return nil, err
	}

	switch attr {
	case hsa.RegionInfoSegment:
		return rg.spec.Segment, nil
	case hsa.RegionInfoGlobalFlags:
		if rg.spec.Segment != hsa.SegmentGlobal {
			return nil, hsa.StatusErrorInvalidArgument
		}
		return rg.spec.flags(), nil
	case hsa.RegionInfoSize:
		return uint64(rg.spec.Size), nil
	case hsa.RegionInfoAllocMaxSize:
		return rg.spec.maxAllocSize(), nil
	case hsa.RegionInfoRuntimeAllocAllowed:
		return rg.spec.AllocAllowed, nil
	case hsa.RegionInfoHostAccessible:
		return rg.spec.HostAccessible, nil
	}

	return nil, hsa.StatusErrorInvalidArgument
}

func (r *Runtime) CoherencySetType(a hsa.Agent, t hsa.CoherencyType) error {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_amd_coherency_set_type"); err != nil {
		return err
	}
	ag, err := r.gpuAgent(a)
	if err != nil {
		return err
	}
	if t != hsa.CoherencyTypeCoherent && t != hsa.CoherencyTypeNonCoherent {
		return hsa.StatusErrorInvalidArgument
	}

	ag.coherency = t
	return nil
}

func (r *Runtime) CoherencyGetType(a hsa.Agent) (hsa.CoherencyType, error) {
	r.Lock()
	defer r.Unlock()

	if err := r.enter("hsa_amd_coherency_get_type"); err != nil {
		return 0, err
	}
	ag, err := r.gpuAgent(a)
	if err != nil {
		return 0, err
	}

	return ag.coherency, nil
}

func (r *Runtime) agent(a hsa.Agent) (*agent, error) {
	if a.Handle < agentHandleBase || (a.Handle-agentHandleBase)%agentHandleStep != 0 {
		return nil, hsa.StatusErrorInvalidAgent
	}
	idx := int((a.Handle - agentHandleBase) / agentHandleStep)
	if idx >= len(r.agents) {
		return nil, hsa.StatusErrorInvalidAgent
	}
	return r.agents[idx], nil
}

func (r *Runtime) gpuAgent(a hsa.Agent) (*agent, error) {
	ag, err := r.agent(a)
	if err != nil {
		return nil, err
	}
	if ag.spec.Type != hsa.DeviceTypeGPU {
		return nil, hsa.StatusErrorInvalidAgent
	}
	return ag, nil
}

func (r *Runtime) region(reg hsa.Region) (*region, error) {
	rg, ok := r.regions[reg.Handle]
	if !ok {
		return nil, hsa.StatusErrorInvalidRegion
	}
	return rg, nil
}
