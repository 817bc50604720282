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

// Package config loads probe configuration files.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

var (
	log = logger.Get("config")
)

// Default returns the default configuration.
func Default() *cfgapi.ProbeConfig {
	cfg := &cfgapi.ProbeConfig{}
	cfg.SetDefaults()
	return cfg
}

// Parse parses a YAML or JSON configuration, filling in defaults.
func Parse(data []byte) (*cfgapi.ProbeConfig, error) {
	log.Debug("parsing configuration\n---8<---\n%s\n--->8---", data)

	cfg := &cfgapi.ProbeConfig{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads the configuration from the given file. An empty path
// yields the default configuration.
func Load(path string) (*cfgapi.ProbeConfig, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info("loaded configuration from %s", path)
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *cfgapi.ProbeConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
