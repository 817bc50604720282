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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Agent is an opaque, non-owning reference to a runtime agent. It is only
// valid while the runtime session that reported it is initialized.
type Agent struct {
	Handle uint64
}

// Region is an opaque, non-owning reference to a memory region of an agent.
type Region struct {
	Handle uint64
}

// Signal is an opaque reference to a runtime signal.
type Signal struct {
	Handle uint64
}

// IsZero returns true if the agent reference is the zero handle.
func (a Agent) IsZero() bool {
	return a.Handle == 0
}

// String returns a string representation of the agent reference.
func (a Agent) String() string {
	return fmt.Sprintf("agent:%X", a.Handle)
}

// IsZero returns true if the region reference is the zero handle.
func (r Region) IsZero() bool {
	return r.Handle == 0
}

// String returns a string representation of the region reference.
func (r Region) String() string {
	return fmt.Sprintf("region:%X", r.Handle)
}

// MarshalText renders the agent reference as a hex handle.
func (a Agent) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%X", a.Handle)), nil
}

// UnmarshalText parses a hex handle into the agent reference.
func (a *Agent) UnmarshalText(text []byte) error {
	h, err := parseHandle(text)
	if err != nil {
		return err
	}
	a.Handle = h
	return nil
}

// MarshalText renders the region reference as a hex handle.
func (r Region) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%X", r.Handle)), nil
}

// UnmarshalText parses a hex handle into the region reference.
func (r *Region) UnmarshalText(text []byte) error {
	h, err := parseHandle(text)
	if err != nil {
		return err
	}
	r.Handle = h
	return nil
}

func parseHandle(text []byte) (uint64, error) {
	h, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: handle %q: %w", ErrInvalidValue, string(text), err)
	}
	return h, nil
}

// DeviceType is the class of device behind an agent.
type DeviceType int

const (
	DeviceTypeCPU DeviceType = 0 // CPU agent
	DeviceTypeGPU DeviceType = 1 // GPU agent
	DeviceTypeDSP DeviceType = 2 // DSP or other accelerator agent
)

var (
	deviceTypeNames = map[DeviceType]string{
		DeviceTypeCPU: "CPU",
		DeviceTypeGPU: "GPU",
		DeviceTypeDSP: "DSP",
	}
	deviceTypeByName = map[string]DeviceType{
		"CPU": DeviceTypeCPU,
		"GPU": DeviceTypeGPU,
		"DSP": DeviceTypeDSP,
	}
)

// ParseDeviceType parses a device type name (cpu, gpu, dsp).
func ParseDeviceType(str string) (DeviceType, error) {
	if t, ok := deviceTypeByName[strings.ToUpper(strings.TrimSpace(str))]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: device type %q", ErrInvalidValue, str)
}

// String returns the name of the device type.
func (t DeviceType) String() string {
	if name, ok := deviceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("%%!(hsa:Bad-DeviceType %d)", t)
}

// MarshalJSON is the json.Marshaller for DeviceType.
func (t DeviceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON is the json.Unmarshaller for DeviceType.
func (t *DeviceType) UnmarshalJSON(data []byte) error {
	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: device type: %w", ErrInvalidValue, err)
	}
	dt, err := ParseDeviceType(str)
	if err != nil {
		return err
	}
	*t = dt
	return nil
}

// Segment is the memory segment kind of a region.
type Segment int

const (
	SegmentGlobal   Segment = 0 // shared by all agents
	SegmentReadOnly Segment = 1 // read-only, constant data
	SegmentPrivate  Segment = 2 // private to a work-item
	SegmentGroup    Segment = 3 // shared by a work-group
	SegmentKernArg  Segment = 4 // kernel arguments
)

var (
	segmentNames = map[Segment]string{
		SegmentGlobal:   "global",
		SegmentReadOnly: "read-only",
		SegmentPrivate:  "private",
		SegmentGroup:    "group",
		SegmentKernArg:  "kernel arguments",
	}
	segmentByName = map[string]Segment{
		"global":           SegmentGlobal,
		"read-only":        SegmentReadOnly,
		"readonly":         SegmentReadOnly,
		"private":          SegmentPrivate,
		"group":            SegmentGroup,
		"kernarg":          SegmentKernArg,
		"kernel arguments": SegmentKernArg,
	}
)

// ParseSegment parses a segment name. Segments without a name are given
// as "other(<raw value>)".
func ParseSegment(str string) (Segment, error) {
	name := strings.ToLower(strings.TrimSpace(str))
	if s, ok := segmentByName[name]; ok {
		return s, nil
	}
	if raw, ok := strings.CutPrefix(name, "other("); ok {
		if raw, ok = strings.CutSuffix(raw, ")"); ok {
			v, err := strconv.ParseUint(raw, 0, 31)
			if err != nil {
				return 0, fmt.Errorf("%w: segment %q: %w", ErrInvalidValue, str, err)
			}
			return Segment(v), nil
		}
	}
	return 0, fmt.Errorf("%w: segment %q", ErrInvalidValue, str)
}

// String returns the name of the segment, "other(<raw value>)" for
// unknown ones.
func (s Segment) String() string {
	if name, ok := segmentNames[s]; ok {
		return name
	}
	return "other(" + strconv.Itoa(int(s)) + ")"
}

// IsKnown returns true if the segment is one of the well-known kinds.
func (s Segment) IsKnown() bool {
	_, ok := segmentNames[s]
	return ok
}

// MarshalJSON is the json.Marshaller for Segment.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is the json.Unmarshaller for Segment.
func (s *Segment) UnmarshalJSON(data []byte) error {
	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: segment: %w", ErrInvalidValue, err)
	}
	seg, err := ParseSegment(str)
	if err != nil {
		return err
	}
	*s = seg
	return nil
}

// GlobalFlag is a bit mask of global segment sub-kinds.
type GlobalFlag uint32

const (
	GlobalFlagKernArg       GlobalFlag = 1 << 0 // usable for kernel arguments
	GlobalFlagFineGrained   GlobalFlag = 1 << 1 // fine-grained coherence
	GlobalFlagCoarseGrained GlobalFlag = 1 << 2 // coarse-grained coherence

	// GlobalFlagsNotApplicable is the raw flag value of non-global regions.
	GlobalFlagsNotApplicable GlobalFlag = 0xffffffff
)

var (
	globalFlagNames = []struct {
		flag GlobalFlag
		name string
	}{
		{GlobalFlagCoarseGrained, "coarse-grained"},
		{GlobalFlagFineGrained, "fine-grained"},
		{GlobalFlagKernArg, "kernarg"},
	}
)

// ParseGlobalFlags parses a list of global flag names into a mask.
func ParseGlobalFlags(names ...string) (GlobalFlag, error) {
	var mask GlobalFlag
NEXT:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		for _, f := range globalFlagNames {
			if f.name == n {
				mask |= f.flag
				continue NEXT
			}
		}
		return 0, fmt.Errorf("%w: global flag %q", ErrInvalidValue, n)
	}
	return mask, nil
}

// Has returns true if all the given flags are set in the mask.
func (f GlobalFlag) Has(flags GlobalFlag) bool {
	return f&flags == flags
}

// Names returns the names of the flags set in the mask.
func (f GlobalFlag) Names() []string {
	names := []string{}
	for _, n := range globalFlagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

// String returns a string representation of the mask.
func (f GlobalFlag) String() string {
	if f == GlobalFlagsNotApplicable {
		return "n/a"
	}
	return strings.Join(f.Names(), ",")
}

// CoherencyType is the cross-device coherency mode of a GPU agent.
type CoherencyType int

const (
	CoherencyTypeCoherent    CoherencyType = 0
	CoherencyTypeNonCoherent CoherencyType = 1
)

// String returns the name of the coherency type.
func (c CoherencyType) String() string {
	switch c {
	case CoherencyTypeCoherent:
		return "coherent"
	case CoherencyTypeNonCoherent:
		return "non-coherent"
	}
	return fmt.Sprintf("%%!(hsa:Bad-CoherencyType %d)", c)
}

// MarshalText renders the coherency type by name.
func (c CoherencyType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a coherency type name.
func (c *CoherencyType) UnmarshalText(text []byte) error {
	t, err := ParseCoherencyType(string(text))
	if err != nil {
		return err
	}
	*c = t
	return nil
}

// ParseCoherencyType parses a coherency type name.
func ParseCoherencyType(str string) (CoherencyType, error) {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "coherent":
		return CoherencyTypeCoherent, nil
	case "non-coherent", "noncoherent":
		return CoherencyTypeNonCoherent, nil
	}
	return 0, fmt.Errorf("%w: coherency type %q", ErrInvalidValue, str)
}

// SignalCondition is the condition a signal wait is satisfied by.
type SignalCondition int

const (
	SignalConditionEq  SignalCondition = 0
	SignalConditionNe  SignalCondition = 1
	SignalConditionLt  SignalCondition = 2
	SignalConditionGte SignalCondition = 3
)

// Satisfied returns true if value satisfies the condition against compare.
func (c SignalCondition) Satisfied(value, compare int64) bool {
	switch c {
	case SignalConditionEq:
		return value == compare
	case SignalConditionNe:
		return value != compare
	case SignalConditionLt:
		return value < compare
	case SignalConditionGte:
		return value >= compare
	}
	return false
}

// WaitState is the hint for how a waiter should wait.
type WaitState int

const (
	WaitStateBlocked WaitState = 0
	WaitStateActive  WaitState = 1
)
