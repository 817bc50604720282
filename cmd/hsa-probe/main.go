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

// hsa-probe enumerates the agents and memory regions of the HSA runtime
// and exercises host memory locking and asynchronous copies.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/luraess/amdgpu-test/pkg/log"
)

var log = logger.Default()

func main() {
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
	logger.SetSlogLogger("")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	logger.Flush()

	if err != nil {
		log.Error("Error: %v", err)
		logger.Flush()
		os.Exit(1)
	}
}
