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

// Package inventory collects the agents and memory regions reported by an
// HSA runtime into an ordered, read-only snapshot.
//
// # Enumeration
//
// EnumerateAgents walks the agents of the runtime in the order the runtime
// reports them and, for every agent it retains, walks the agent's memory
// regions with EnumerateRegions. Every attribute query must succeed: the
// first failing query aborts the enumeration and no partial result is
// returned. By default every agent is retained and named after its runtime
// name. GPUOnly selects the GPU variant, which retains only GPU agents,
// names them by UUID and forces their coherency type to coherent before
// reading it back. Note that forcing coherency reconfigures the device.
//
// # Lookup
//
// FindAgent and FindRegion walk the runtime without materializing a full
// inventory and stop at the first match. Both report explicitly whether
// a match was found; the returned reference must not be used otherwise.
//
// # Regions
//
// The global sub-kind flags of a region are only meaningful for global
// segments. Region.Global is set for global regions and nil for all
// others, and RawGlobalFlags reports hsa.GlobalFlagsNotApplicable for
// non-global regions.
//
// All operations require an initialized runtime session and fail with
// hsa.ErrNotInitialized otherwise.
package inventory
