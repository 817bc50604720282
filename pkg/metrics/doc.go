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

// Package metrics wraps prometheus collectors into named groups which can
// be enabled by glob patterns and prefixed with a common namespace and
// their group name. Collectors which are expensive to evaluate, like the
// inventory collector walking the runtime, can be registered polled so
// that they are evaluated once per gathering.
//
// Typical use:
//
//	r := metrics.NewRegistry()
//	_ = r.Register("regions", metrics.NewInventoryCollector(source),
//		metrics.WithGroup("inventory"),
//		metrics.WithCollectorOptions(metrics.WithPolled()))
//
//	g, err := r.NewGatherer(metrics.WithNamespace("hsa"))
//	if err != nil {
//		return err
//	}
//	return metrics.WriteText(os.Stdout, g)
package metrics
