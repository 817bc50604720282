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

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luraess/amdgpu-test/pkg/healthz"
	"github.com/luraess/amdgpu-test/pkg/hsa"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(p *probe) *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve inventory metrics and runtime health over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mcfg := &p.cfg.Spec.Metrics
			if cmd.Flags().Changed("listen") {
				mcfg.HTTPEndpoint = endpoint
			}

			return p.run(cmd.Context(), func(ctx context.Context) error {
				return p.serve(ctx, mcfg.HTTPEndpoint)
			})
		},
	}

	cmd.Flags().StringVar(&endpoint, "listen", ":8891", "address to serve metrics and health checks at")

	return cmd
}

func (p *probe) serve(ctx context.Context, endpoint string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.met.gatherer,
		promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		},
	))

	rt := p.rt
	checks := healthz.NewChecks()
	err := checks.Register("runtime", func() (healthz.Status, error) {
		if !rt.Initialized() {
			return healthz.NonFunctional, hsa.ErrNotInitialized
		}
		return healthz.Healthy, nil
	})
	if err != nil {
		return err
	}
	checks.Setup(mux)

	lsn, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen at %s: %w", endpoint, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(lsn)
	}()

	log.Info("serving metrics and health checks at %s", lsn.Addr())

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
