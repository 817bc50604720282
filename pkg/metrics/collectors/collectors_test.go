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

package collectors_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luraess/amdgpu-test/pkg/hsa/simulated"
	"github.com/luraess/amdgpu-test/pkg/metrics"
	"github.com/luraess/amdgpu-test/pkg/metrics/collectors"
)

func TestRegisterStandard(t *testing.T) {
	r := metrics.NewRegistry()
	require.NoError(t, collectors.RegisterStandard(r))
	require.Equal(t, []string{
		"standard/buildinfo",
		"standard/golang",
		"standard/process",
		"standard/versioninfo",
	}, r.Collectors())

	g, err := r.NewGatherer(metrics.WithNamespace("hsa"), metrics.WithMetrics([]string{"standard/versioninfo"}))
	require.NoError(t, err)

	mfs, err := g.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "version_info", mfs[0].GetName())

	require.Error(t, collectors.RegisterStandard(r))
}

func TestSessionCollector(t *testing.T) {
	rt, err := simulated.New()
	require.NoError(t, err)

	c := collectors.NewSessionCollector(rt, "simulated")
	require.Equal(t, 0.0, testutil.ToFloat64(c))
	require.NoError(t, rt.Init())
	require.Equal(t, 1.0, testutil.ToFloat64(c))

	r := metrics.NewRegistry()
	require.NoError(t, collectors.RegisterRuntime(r, rt, "simulated"))
	g, err := r.NewGatherer(metrics.WithNamespace("hsa"), metrics.WithMetrics([]string{"runtime"}))
	require.NoError(t, err)

	mfs, err := g.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "hsa_runtime_session", mfs[0].GetName())
	require.Len(t, mfs[0].GetMetric(), 1)
	m := mfs[0].GetMetric()[0]
	require.Equal(t, "backend", m.GetLabel()[0].GetName())
	require.Equal(t, "simulated", m.GetLabel()[0].GetValue())
	require.Equal(t, 1.0, m.GetGauge().GetValue())

	require.NoError(t, rt.ShutDown())
	require.Equal(t, 0.0, testutil.ToFloat64(c))
}
