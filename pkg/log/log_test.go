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

package log_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1/log"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

func TestDebugConfiguration(t *testing.T) {
	var (
		inv = logger.Get("test-inventory")
		xfr = logger.Get("test-transfer")
	)

	require.NoError(t, logger.Configure(&cfgapi.Config{Debug: []string{"on:test-inventory"}}))
	require.True(t, inv.DebugEnabled())
	require.False(t, xfr.DebugEnabled())

	require.NoError(t, logger.Configure(&cfgapi.Config{Debug: []string{"all"}}))
	require.True(t, inv.DebugEnabled())
	require.True(t, xfr.DebugEnabled())

	require.NoError(t, logger.Configure(&cfgapi.Config{Debug: []string{"all,off:test-transfer"}}))
	require.True(t, inv.DebugEnabled())
	require.False(t, xfr.DebugEnabled())

	require.Error(t, logger.Configure(&cfgapi.Config{Debug: []string{"maybe:test-inventory"}}))

	require.NoError(t, logger.Configure(nil))
	require.False(t, inv.DebugEnabled())
}

func TestGetReturnsSameLogger(t *testing.T) {
	require.Equal(t, logger.Get("test-same"), logger.NewLogger("test-same"))
	require.Equal(t, "test-same", logger.Get("test-same").Source())
}

func TestLevelConfiguration(t *testing.T) {
	for name, level := range map[string]logger.Level{
		"debug":   logger.LevelDebug,
		"":        logger.LevelInfo,
		"Info":    logger.LevelInfo,
		"warning": logger.LevelWarn,
		"error":   logger.LevelError,
	} {
		l, err := logger.ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, level, l, "level %q", name)
	}

	_, err := logger.ParseLevel("loud")
	require.Error(t, err)

	require.Error(t, logger.Configure(&cfgapi.Config{Level: "loud"}))
	require.NoError(t, logger.Configure(&cfgapi.Config{Level: "warn"}))
	require.NoError(t, logger.Configure(nil))
}
