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

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"
	"unsafe"

	"github.com/hashicorp/go-multierror"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/inventory"
	logger "github.com/luraess/amdgpu-test/pkg/log"
)

var (
	log = logger.Get("transfer")

	// ErrNoAgent is returned when a requested agent does not exist.
	ErrNoAgent = errors.New("transfer: no such agent")
	// ErrNoRegion is returned when an agent has no usable device region.
	ErrNoRegion = errors.New("transfer: no usable region")
	// ErrInvalidConfig is returned for unusable configuration.
	ErrInvalidConfig = errors.New("transfer: invalid configuration")
	// ErrCopyInFlight is returned when waiting for an async copy failed
	// and the copy did not finish afterwards either. The memory and the
	// signal of such a copy are leaked instead of released.
	ErrCopyInFlight = errors.New("transfer: async copy still in flight")
)

const (
	// DefaultNx is the default number of matrix columns.
	DefaultNx = 10
	// DefaultNy is the default number of matrix rows.
	DefaultNy = 11
	// DefaultDrainTimeout is the default time given to an abandoned copy.
	DefaultDrainTimeout = 5 * time.Second
)

// Config is the configuration of a lock and copy probe.
type Config struct {
	// Nx and Ny are the dimensions of the transferred matrix.
	Nx, Ny int
	// Seed seeds the matrix contents.
	Seed int64
	// CPUIndex and GPUIndex select the agents among agents of their type.
	CPUIndex, GPUIndex int
	// Streaming selects agents and regions with streaming walks instead
	// of a materialized inventory.
	Streaming bool
	// Timeout bounds the wait for copy completion, 0 waits forever.
	Timeout time.Duration
	// DrainTimeout bounds waiting for a copy whose wait was cut short
	// before its memory is leaked.
	DrainTimeout time.Duration
	// Output receives the matrix snapshots, nil discards them.
	Output io.Writer
}

// Result is the outcome of a lock and copy probe.
type Result struct {
	CPU    hsa.Agent
	GPU    hsa.Agent
	Region *inventory.Region
	// Before is the host matrix before copying it to the device.
	Before *Matrix
	// AfterMemset is the host matrix after clearing it.
	AfterMemset *Matrix
	// AfterCopy is the host matrix after copying it back from the device.
	AfterCopy *Matrix
	// Verified is true if the matrix survived the round trip intact.
	Verified bool
}

func (c *Config) withDefaults() (*Config, error) {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.Nx == 0 {
		cfg.Nx = DefaultNx
	}
	if cfg.Ny == 0 {
		cfg.Ny = DefaultNy
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Nx < 0 || cfg.Ny < 0 {
		return nil, fmt.Errorf("%w: matrix %dx%d", ErrInvalidConfig, cfg.Nx, cfg.Ny)
	}
	if cfg.CPUIndex < 0 || cfg.GPUIndex < 0 {
		return nil, fmt.Errorf("%w: agent index cpu #%d, gpu #%d", ErrInvalidConfig, cfg.CPUIndex, cfg.GPUIndex)
	}
	return &cfg, nil
}

// Run copies a random matrix to device memory, clears the host copy,
// locks the host memory and copies the matrix back asynchronously,
// waiting for the copy to complete. Resources are released even if
// the probe fails, and all failures are reported, except memory an
// unfinished copy may still write to.
func Run(ctx context.Context, rt hsa.Runtime, c *Config) (res *Result, retErr error) {
	cfg, err := c.withDefaults()
	if err != nil {
		return nil, err
	}

	tgt, err := selectTarget(rt, cfg.CPUIndex, cfg.GPUIndex, cfg.Streaming)
	if err != nil {
		return nil, err
	}

	res = &Result{
		CPU:    tgt.cpu,
		GPU:    tgt.gpu,
		Region: tgt.region,
	}

	host := NewMatrix(cfg.Nx, cfg.Ny)
	size := host.Size()
	inflight := false

	dev, err := rt.MemoryAllocate(tgt.region.Handle, size)
	if err != nil {
		return nil, hsa.Check(rt, "hsa_memory_allocate", err)
	}
	defer func() {
		if inflight {
			log.Warn("leaking %d bytes of device memory at %p", size, dev)
			return
		}
		if err := rt.MemoryFree(dev); err != nil {
			retErr = multierror.Append(retErr, hsa.Check(rt, "hsa_memory_free", err))
		}
	}()

	host.Fill(rand.New(rand.NewSource(cfg.Seed)))
	res.Before = host.Clone()
	if err := snapshot(cfg.Output, "Matrix (before copy to device)", host); err != nil {
		return nil, err
	}

	if err := rt.MemoryCopy(dev, host.Pointer(), size); err != nil {
		return nil, hsa.Check(rt, "hsa_memory_copy", err)
	}
	host.Zero()
	res.AfterMemset = host.Clone()
	if err := snapshot(cfg.Output, "Matrix (after memset)", host); err != nil {
		return nil, err
	}

	locked, err := rt.MemoryLock(host.Pointer(), size, []hsa.Agent{tgt.gpu, tgt.cpu})
	if err != nil {
		return nil, hsa.Check(rt, "hsa_amd_memory_lock", err)
	}
	defer func() {
		if inflight {
			log.Warn("leaving %d bytes of host memory at %p locked", size, locked)
			return
		}
		if err := rt.MemoryUnlock(locked); err != nil {
			retErr = multierror.Append(retErr, hsa.Check(rt, "hsa_amd_memory_unlock", err))
		}
	}()

	err = copyAndWait(ctx, rt, locked, tgt.cpu, dev, tgt.gpu, size, cfg.Timeout, cfg.DrainTimeout)
	if err != nil {
		inflight = errors.Is(err, ErrCopyInFlight)
		return nil, err
	}

	res.AfterCopy = host.Clone()
	res.Verified = res.AfterCopy.Equal(res.Before)
	if err := snapshot(cfg.Output, "Matrix (after copy to host)", host); err != nil {
		return nil, err
	}

	if !res.Verified {
		log.Warn("matrix changed during round trip through %s", tgt.region.Handle)
	}

	return res, nil
}

// copyAndWait starts an async copy of size bytes and waits until its
// completion signal drops below 1. A started copy cannot be cancelled, so
// if the wait fails the copy gets up to drain to finish. If it does not,
// ErrCopyInFlight is returned and the signal is leaked.
func copyAndWait(ctx context.Context, rt hsa.Runtime, dst unsafe.Pointer, dstAgent hsa.Agent,
	src unsafe.Pointer, srcAgent hsa.Agent, size uint64, timeout, drain time.Duration) (retErr error) {
	sig, err := rt.SignalCreate(1, []hsa.Agent{dstAgent})
	if err != nil {
		return hsa.Check(rt, "hsa_signal_create", err)
	}
	inflight := false
	defer func() {
		if inflight {
			log.Warn("leaking completion signal 0x%X of unfinished copy %p -> %p", sig.Handle, src, dst)
			return
		}
		if err := rt.SignalDestroy(sig); err != nil {
			retErr = multierror.Append(retErr, hsa.Check(rt, "hsa_signal_destroy", err))
		}
	}()

	if err := rt.AsyncCopy(dst, dstAgent, src, srcAgent, size, nil, sig); err != nil {
		return hsa.Check(rt, "hsa_amd_memory_async_copy", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, err = rt.SignalWait(ctx, sig, hsa.SignalConditionLt, 1, hsa.WaitStateActive)
	if err == nil {
		return nil
	}
	err = hsa.Check(rt, "hsa_signal_wait_scacquire", err)

	dctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if _, derr := rt.SignalWait(dctx, sig, hsa.SignalConditionLt, 1, hsa.WaitStateBlocked); derr != nil {
		inflight = true
		return fmt.Errorf("%w: %w", ErrCopyInFlight, err)
	}

	return err
}

func snapshot(w io.Writer, title string, m *Matrix) error {
	if _, err := fmt.Fprintf(w, "\n  %s:\n", title); err != nil {
		return err
	}
	return m.Print(w)
}
