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

package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	logger "github.com/luraess/amdgpu-test/pkg/log"
)

var log = logger.Get("health-check")

// CheckFn checks the health of a single component.
type CheckFn func() (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("<unknown status %d>", s)
}

// Checks is a set of named health checks.
type Checks struct {
	sync.Mutex
	checkers map[string]CheckFn
	sorted   []string
}

// NewChecks creates an empty set of health checks.
func NewChecks() *Checks {
	return &Checks{
		checkers: map[string]CheckFn{},
	}
}

// Register registers the given health checker function.
func (c *Checks) Register(name string, fn CheckFn) error {
	c.Lock()
	defer c.Unlock()

	if _, conflict := c.checkers[name]; conflict {
		return fmt.Errorf("health checker %q already registered", name)
	}

	c.checkers[name] = fn
	c.sorted = append(c.sorted, name)
	sort.Strings(c.sorted)

	return nil
}

// Setup prepares the given HTTP request multiplexer for serving healthz.
func (c *Checks) Setup(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", c.serve)
}

// serve serves a single HTTP request.
func (c *Checks) serve(w http.ResponseWriter, _ *http.Request) {
	status, details := c.Check()
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("failed to write response: %v", err)
		}
		return
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := strings.Builder{}
	fmt.Fprintf(&msg, "%s\n", status)
	for _, name := range names {
		fmt.Fprintf(&msg, "%s: %v\n", name, details[name])
	}

	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(msg.String())); err != nil {
		log.Error("failed to write response: %v", err)
	}
}

// Check runs all registered checks, returning the worst status and
// the details of all unhealthy components.
func (c *Checks) Check() (Status, map[string]error) {
	status := Healthy
	details := map[string]error{}

	c.Lock()
	defer c.Unlock()

	for _, name := range c.sorted {
		if s, err := c.checkers[name](); s != Healthy {
			if s > status {
				status = s
			}
			if err != nil {
				details[name] = err
				log.Error("component %s reported %s: %v", name, s, err)
			}
		}
	}

	return status, details
}
