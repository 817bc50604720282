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

package klogcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1/log/klogcontrol"
)

func TestConfigure(t *testing.T) {
	var (
		c       = newControl()
		verbose = 3
		skip    = true
		bad     = "loud"
	)

	require.NoError(t, c.Configure(nil))
	require.NoError(t, c.Configure(&cfgapi.Config{V: &verbose, Skip_headers: &skip}))
	require.Equal(t, "3", c.Lookup("v").Value.String())
	require.Equal(t, "true", c.Lookup("skip_headers").Value.String())

	err := c.Configure(&cfgapi.Config{Stderrthreshold: &bad})
	require.ErrorContains(t, err, "stderrthreshold")
}

func TestSeedFromEnv(t *testing.T) {
	t.Setenv("LOGGER_ONE_OUTPUT", "true")
	t.Setenv("JOURNAL_STREAM", "8:1234")

	c := newControl()
	require.NoError(t, c.seedFromEnv())
	require.Equal(t, "true", c.Lookup("one_output").Value.String())
	require.Equal(t, "true", c.Lookup("skip_headers").Value.String())

	t.Setenv("LOGGER_V", "many")
	require.Error(t, c.seedFromEnv())
}
