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
	"math/rand"
	"time"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/luraess/amdgpu-test/pkg/hsa"
	"github.com/luraess/amdgpu-test/pkg/inventory"
)

const (
	// DefaultBenchSize is the default size of a benchmark transfer.
	DefaultBenchSize = 64 << 20
	// DefaultIterations is the default number of benchmark rounds.
	DefaultIterations = 10
	// DefaultProgressInterval is the default minimum interval between
	// progress messages.
	DefaultProgressInterval = time.Second
)

// Observer receives the duration of every benchmark round.
type Observer interface {
	ObserveTransfer(size uint64, d time.Duration)
}

// BenchConfig is the configuration of a lock and copy benchmark.
type BenchConfig struct {
	// Size is the number of bytes transferred per round.
	Size uint64
	// Iterations is the number of rounds.
	Iterations int
	// Seed seeds the transferred data.
	Seed int64
	// CPUIndex and GPUIndex select the agents among agents of their type.
	CPUIndex, GPUIndex int
	// Timeout bounds the wait for each round, 0 waits forever.
	Timeout time.Duration
	// DrainTimeout bounds waiting for a copy whose wait was cut short
	// before its memory is leaked.
	DrainTimeout time.Duration
	// ProgressInterval limits the rate of progress messages.
	ProgressInterval time.Duration
	// Observer, if set, is notified of every finished round.
	Observer Observer
}

// BenchResult is the outcome of a lock and copy benchmark.
type BenchResult struct {
	CPU       hsa.Agent
	GPU       hsa.Agent
	Region    *inventory.Region
	Size      uint64
	Durations []time.Duration
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	// Bandwidth is the mean transfer rate in bytes per second.
	Bandwidth float64
	// Verified is true if the data survived the last round intact.
	Verified bool
}

func (c *BenchConfig) withDefaults() (*BenchConfig, error) {
	cfg := BenchConfig{}
	if c != nil {
		cfg = *c
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultBenchSize
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Iterations < 0 {
		return nil, fmt.Errorf("%w: %d iterations", ErrInvalidConfig, cfg.Iterations)
	}
	if cfg.Size%8 != 0 {
		return nil, fmt.Errorf("%w: size %d is not a multiple of 8", ErrInvalidConfig, cfg.Size)
	}
	if cfg.CPUIndex < 0 || cfg.GPUIndex < 0 {
		return nil, fmt.Errorf("%w: agent index cpu #%d, gpu #%d", ErrInvalidConfig, cfg.CPUIndex, cfg.GPUIndex)
	}
	return &cfg, nil
}

// Bench repeatedly locks host memory, copies device memory into it and
// unlocks it again, measuring the duration of every round.
func Bench(ctx context.Context, rt hsa.Runtime, c *BenchConfig) (res *BenchResult, retErr error) {
	cfg, err := c.withDefaults()
	if err != nil {
		return nil, err
	}

	tgt, err := selectTarget(rt, cfg.CPUIndex, cfg.GPUIndex, true)
	if err != nil {
		return nil, err
	}

	res = &BenchResult{
		CPU:       tgt.cpu,
		GPU:       tgt.gpu,
		Region:    tgt.region,
		Size:      cfg.Size,
		Durations: make([]time.Duration, 0, cfg.Iterations),
	}

	src := NewMatrix(int(cfg.Size/8), 1)
	src.Fill(rand.New(rand.NewSource(cfg.Seed)))
	host := NewMatrix(src.Nx, 1)

	inflight := false
	dev, err := rt.MemoryAllocate(tgt.region.Handle, cfg.Size)
	if err != nil {
		return nil, hsa.Check(rt, "hsa_memory_allocate", err)
	}
	defer func() {
		if inflight {
			log.Warn("leaking %d bytes of device memory at %p", cfg.Size, dev)
			return
		}
		if err := rt.MemoryFree(dev); err != nil {
			retErr = multierror.Append(retErr, hsa.Check(rt, "hsa_memory_free", err))
		}
	}()

	if err := rt.MemoryCopy(dev, src.Pointer(), cfg.Size); err != nil {
		return nil, hsa.Check(rt, "hsa_memory_copy", err)
	}

	log.Info("benchmarking %d rounds of %s from %s to %s", cfg.Iterations,
		humanize.IBytes(cfg.Size), tgt.gpu, tgt.cpu)

	progress := rate.NewLimiter(rate.Every(cfg.ProgressInterval), 1)
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := benchRound(ctx, rt, tgt, dev, host, cfg)
		if err != nil {
			inflight = errors.Is(err, ErrCopyInFlight)
			return nil, fmt.Errorf("round #%d: %w", i, err)
		}

		res.Durations = append(res.Durations, d)
		if cfg.Observer != nil {
			cfg.Observer.ObserveTransfer(cfg.Size, d)
		}
		if progress.Allow() {
			log.Info("round %d/%d: %s in %v", i+1, cfg.Iterations, humanize.IBytes(cfg.Size), d)
		}
	}

	res.summarize()
	res.Verified = cfg.Iterations == 0 || host.Equal(src)

	return res, nil
}

// benchRound times one lock, copy and unlock cycle into host.
func benchRound(ctx context.Context, rt hsa.Runtime, tgt *target, dev unsafe.Pointer, host *Matrix,
	cfg *BenchConfig) (time.Duration, error) {
	host.Zero()
	start := time.Now()

	locked, err := rt.MemoryLock(host.Pointer(), cfg.Size, []hsa.Agent{tgt.gpu, tgt.cpu})
	if err != nil {
		return 0, hsa.Check(rt, "hsa_amd_memory_lock", err)
	}

	err = copyAndWait(ctx, rt, locked, tgt.cpu, dev, tgt.gpu, cfg.Size, cfg.Timeout, cfg.DrainTimeout)
	if errors.Is(err, ErrCopyInFlight) {
		log.Warn("leaving %d bytes of host memory at %p locked", cfg.Size, locked)
		return 0, err
	}
	if uerr := rt.MemoryUnlock(locked); uerr != nil {
		err = multierror.Append(err, hsa.Check(rt, "hsa_amd_memory_unlock", uerr))
	}
	if err != nil {
		return 0, err
	}

	return time.Since(start), nil
}

func (r *BenchResult) summarize() {
	if len(r.Durations) == 0 {
		return
	}

	var total time.Duration
	r.Min, r.Max = r.Durations[0], r.Durations[0]
	for _, d := range r.Durations {
		total += d
		if d < r.Min {
			r.Min = d
		}
		if d > r.Max {
			r.Max = d
		}
	}
	r.Mean = total / time.Duration(len(r.Durations))
	if r.Mean > 0 {
		r.Bandwidth = float64(r.Size) / r.Mean.Seconds()
	}
}

// String returns a one-line summary of the benchmark.
func (r *BenchResult) String() string {
	return fmt.Sprintf("%d rounds of %s: min %v, mean %v, max %v, %s/s",
		len(r.Durations), humanize.IBytes(r.Size), r.Min, r.Mean, r.Max,
		humanize.IBytes(uint64(r.Bandwidth)))
}
