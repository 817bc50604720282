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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "auto", cfg.Spec.Runtime.Backend)
	require.Equal(t, "all", cfg.Spec.Inventory.Variant)
	require.True(t, cfg.Spec.Inventory.HostAccessEnabled())
	require.Equal(t, 10, cfg.Spec.Lock.Nx)
	require.Equal(t, 11, cfg.Spec.Lock.Ny)
	require.Equal(t, time.Second, cfg.Spec.Bench.ProgressInterval.Duration)
	require.Equal(t, ":8891", cfg.Spec.Metrics.HTTPEndpoint)

	size, err := cfg.Spec.Bench.SizeBytes()
	require.NoError(t, err)
	require.Equal(t, uint64(64<<20), size)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
apiVersion: config.amdgpu-test.io/v1alpha1
kind: ProbeConfig
spec:
  runtime:
    backend: simulated
    topology: /etc/hsa-probe/node.yaml
  inventory:
    variant: gpu
    hostAccess: false
    format: yaml
  lock:
    nx: 4
    ny: 3
    timeout: 2s
  bench:
    size: 1 GiB
    iterations: 3
  log:
    debug: [inventory, transfer]
  metrics:
    dump: true
`))
	require.NoError(t, err)
	require.Equal(t, "simulated", cfg.Spec.Runtime.Backend)
	require.Equal(t, "/etc/hsa-probe/node.yaml", cfg.Spec.Runtime.Topology)
	require.Equal(t, "gpu", cfg.Spec.Inventory.Variant)
	require.False(t, cfg.Spec.Inventory.HostAccessEnabled())
	require.Equal(t, 4, cfg.Spec.Lock.Nx)
	require.Equal(t, 2*time.Second, cfg.Spec.Lock.Timeout.Duration)
	require.Equal(t, []string{"inventory", "transfer"}, cfg.Spec.Log.Debug)
	require.Equal(t, []string{"inventory", "transfer", "runtime"}, cfg.Spec.Metrics.Enabled)
	require.True(t, cfg.Spec.Metrics.Dump)

	size, err := cfg.Spec.Bench.SizeBytes()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<30), size)
}

func TestParseErrors(t *testing.T) {
	for name, data := range map[string]string{
		"unknown field": "spec:\n  runtime:\n    engine: rocm\n",
		"bad backend":   "spec:\n  runtime:\n    backend: cuda\n",
		"bad variant":   "spec:\n  inventory:\n    variant: dsp\n",
		"bad format":    "spec:\n  inventory:\n    format: xml\n",
		"bad size":      "spec:\n  bench:\n    size: huge\n",
		"bad kind":      "kind: Pod\n",
		"bad duration":  "spec:\n  lock:\n    timeout: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}

	_, err := Parse([]byte("spec:\n  inventory:\n    maxAgents: -1\n"))
	require.ErrorIs(t, err, cfgapi.ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	data, err := Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
