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

// #include <hsa/hsa.h>
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

//export agentVisitor
func agentVisitor(agent C.hsa_agent_t, data unsafe.Pointer) C.hsa_status_t {
	v := cgo.Handle(uintptr(data)).Value().(*visitor)
	return v.visit(uint64(agent.handle))
}

//export regionVisitor
func regionVisitor(region C.hsa_region_t, data unsafe.Pointer) C.hsa_status_t {
	v := cgo.Handle(uintptr(data)).Value().(*visitor)
	return v.visit(uint64(region.handle))
}
