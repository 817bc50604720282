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

package log

import (
	"os"
	"sort"
	"strings"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1/log"
	"github.com/luraess/amdgpu-test/pkg/log/klogcontrol"
	"github.com/luraess/amdgpu-test/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// debugEnvVar seeds per-source debugging, for instance "on:inventory,transfer".
	debugEnvVar = "LOGGER_DEBUG"
	// logSourceEnvVar turns on source prefixing if set to a non-empty value.
	logSourceEnvVar = "LOGGER_LOG_SOURCE"
	// levelEnvVar seeds the lowest emitted severity level.
	levelEnvVar = "LOGGER_LEVEL"
)

// srcmap tracks debugging settings for sources.
type srcmap map[string]bool

var klogctl = klogcontrol.Get()

// ParseLevel parses the name of a severity level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return DefaultLevel, loggerError("invalid log level %q", name)
}

// parse updates the srcmap from a comma-separated list of sources. Each
// source can be prefixed by a state ("on:", "off:") which then sticks
// for subsequent unprefixed sources.
func (m srcmap) parse(value string) error {
	state := "on"
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		src := entry
		if prefix, rest, ok := strings.Cut(entry, ":"); ok {
			if strings.Contains(rest, ":") {
				return loggerError("invalid debug source %q", entry)
			}
			state, src = strings.TrimSpace(prefix), strings.TrimSpace(rest)
		}

		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid debug state %q for source %q", state, src)
		}
		if src == "all" {
			src = "*"
		}
		m[src] = enabled
	}

	return nil
}

// String returns the srcmap in the format accepted by parse.
func (m srcmap) String() string {
	var on, off []string
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	parts := []string{}
	if len(on) > 0 {
		parts = append(parts, "on:"+strings.Join(on, ","))
	}
	if len(off) > 0 {
		parts = append(parts, "off:"+strings.Join(off, ","))
	}
	return strings.Join(parts, ",")
}

// Configure updates the logging configuration.
func Configure(cfg *cfgapi.Config) error {
	if cfg == nil {
		cfg = &cfgapi.Config{}
	}

	deflog.Debug("logger configuration update %+v", cfg)

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	debugFlags := make(srcmap)
	for _, value := range cfg.Debug {
		if err := debugFlags.parse(value); err != nil {
			return loggerError("failed to parse debug setting %q: %v", value, err)
		}
	}

	// Without klog headers nothing tells sources apart.
	prefix := cfg.LogSource
	if skip := cfg.Klog.Skip_headers; skip != nil && *skip {
		prefix = true
	}

	log.Lock()
	log.level = level
	log.setDbgMap(debugFlags)
	log.setPrefix(prefix)
	log.Unlock()

	return klogctl.Configure(&cfg.Klog)
}

func init() {
	cfg := &cfgapi.Config{
		LogSource: os.Getenv(logSourceEnvVar) != "",
		Level:     os.Getenv(levelEnvVar),
	}

	if value, ok := os.LookupEnv(debugEnvVar); ok {
		debugFlags := make(srcmap)
		if err := debugFlags.parse(value); err != nil {
			deflog.Error("failed to parse $%s %q: %v", debugEnvVar, value, err)
		} else {
			cfg.Debug = []string{debugFlags.String()}
			deflog.Info("seeded debug flags ($%s): %s", debugEnvVar, cfg.Debug[0])
		}
	}

	if err := Configure(cfg); err != nil {
		deflog.Error("initial logging configuration failed: %v", err)
	}
}
