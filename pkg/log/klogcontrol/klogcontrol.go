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

// Package klogcontrol configures the klog backend at runtime through its
// command line flags, without exposing them on our own command line.
package klogcontrol

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	cfgapi "github.com/luraess/amdgpu-test/pkg/apis/config/v1alpha1/log/klogcontrol"
)

const (
	// envPrefix prefixes environment variables that seed klog flags,
	// for instance LOGGER_SKIP_HEADERS=true.
	envPrefix = "LOGGER_"
	// journalEnvVar is set by systemd for services logging to the journal.
	journalEnvVar = "JOURNAL_STREAM"
)

// Control is a private set of klog flags.
type Control struct {
	*flag.FlagSet
}

var ctl = newControl()

// Get returns the klog Control instance.
func Get() *Control {
	return ctl
}

func newControl() *Control {
	c := &Control{FlagSet: flag.NewFlagSet("klog", flag.ContinueOnError)}
	c.SetOutput(io.Discard)
	klog.InitFlags(c.FlagSet)
	return c
}

// Configure sets every klog flag that is set in the configuration.
func (c *Control) Configure(cfg *cfgapi.Config) error {
	if cfg == nil {
		return nil
	}

	var errs *multierror.Error
	c.VisitAll(func(f *flag.Flag) {
		value, ok := cfg.GetByFlag(f.Name)
		if !ok {
			return
		}
		if err := c.Set(f.Name, value); err != nil {
			errs = multierror.Append(errs,
				klogError("failed to set klog flag %s to %q: %w", f.Name, value, err))
		}
	})

	return errs.ErrorOrNil()
}

// seedFromEnv sets klog flags from the environment. Headers are turned
// off when logging to the journal, unless the environment says otherwise.
func (c *Control) seedFromEnv() error {
	var errs *multierror.Error
	c.VisitAll(func(f *flag.Flag) {
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		value, ok := os.LookupEnv(name)
		if !ok {
			if f.Name != "skip_headers" || os.Getenv(journalEnvVar) == "" {
				return
			}
			value = "true"
		}
		if err := c.Set(f.Name, value); err != nil {
			errs = multierror.Append(errs,
				klogError("invalid klog flag default $%s=%q: %w", name, value, err))
		}
	})

	return errs.ErrorOrNil()
}

func klogError(format string, args ...interface{}) error {
	return fmt.Errorf("klogcontrol: "+format, args...)
}

func init() {
	if err := ctl.seedFromEnv(); err != nil {
		klog.Errorf("%v", err)
	}
}
