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

package hsa

import (
	"errors"
	"fmt"
)

// Status is a runtime status code. Every non-success status is an error.
type Status uint32

const (
	StatusSuccess                     Status = 0x0
	StatusInfoBreak                   Status = 0x1
	StatusError                       Status = 0x1000
	StatusErrorInvalidArgument        Status = 0x1001
	StatusErrorInvalidQueueCreation   Status = 0x1002
	StatusErrorInvalidAllocation      Status = 0x1003
	StatusErrorInvalidAgent           Status = 0x1004
	StatusErrorInvalidRegion          Status = 0x1005
	StatusErrorInvalidSignal          Status = 0x1006
	StatusErrorInvalidQueue           Status = 0x1007
	StatusErrorOutOfResources         Status = 0x1008
	StatusErrorInvalidPacketFormat    Status = 0x1009
	StatusErrorResourceFree           Status = 0x100A
	StatusErrorNotInitialized         Status = 0x100B
	StatusErrorRefcountOverflow       Status = 0x100C
	StatusErrorIncompatibleArguments  Status = 0x100D
	StatusErrorInvalidIndex           Status = 0x100E
	StatusErrorInvalidISA             Status = 0x100F
	StatusErrorInvalidISAName         Status = 0x1017
	StatusErrorInvalidCodeObject      Status = 0x1010
	StatusErrorInvalidExecutable      Status = 0x1011
	StatusErrorFrozenExecutable       Status = 0x1012
	StatusErrorInvalidSymbolName      Status = 0x1013
	StatusErrorVariableAlreadyDefined Status = 0x1014
	StatusErrorVariableUndefined      Status = 0x1015
	StatusErrorException              Status = 0x1016
)

var (
	// ErrBreak is returned by iteration visitors to stop the iteration early.
	ErrBreak error = StatusInfoBreak
	// ErrNotInitialized is returned for calls outside of an initialized session.
	ErrNotInitialized error = StatusErrorNotInitialized
	// ErrInvalidValue is returned for values which can't be parsed or converted.
	ErrInvalidValue = errors.New("hsa: invalid value")
	// ErrNotSupported is returned by runtimes lacking support for an operation.
	ErrNotSupported = errors.New("hsa: not supported")
)

var statusText = map[Status]string{
	StatusSuccess:                     "HSA_STATUS_SUCCESS: The function has been executed successfully.",
	StatusInfoBreak:                   "HSA_STATUS_INFO_BREAK: A traversal over a list of elements has been interrupted by the application before completing.",
	StatusError:                       "HSA_STATUS_ERROR: A generic error has occurred.",
	StatusErrorInvalidArgument:        "HSA_STATUS_ERROR_INVALID_ARGUMENT: One of the actual arguments does not meet a precondition stated in the documentation of the corresponding formal argument.",
	StatusErrorInvalidQueueCreation:   "HSA_STATUS_ERROR_INVALID_QUEUE_CREATION: The requested queue creation is not valid.",
	StatusErrorInvalidAllocation:      "HSA_STATUS_ERROR_INVALID_ALLOCATION: The requested allocation is not valid.",
	StatusErrorInvalidAgent:           "HSA_STATUS_ERROR_INVALID_AGENT: The agent is invalid.",
	StatusErrorInvalidRegion:          "HSA_STATUS_ERROR_INVALID_REGION: The memory region is invalid.",
	StatusErrorInvalidSignal:          "HSA_STATUS_ERROR_INVALID_SIGNAL: The signal is invalid.",
	StatusErrorInvalidQueue:           "HSA_STATUS_ERROR_INVALID_QUEUE: The queue is invalid.",
	StatusErrorOutOfResources:         "HSA_STATUS_ERROR_OUT_OF_RESOURCES: The runtime failed to allocate the necessary resources.",
	StatusErrorInvalidPacketFormat:    "HSA_STATUS_ERROR_INVALID_PACKET_FORMAT: The AQL packet is malformed.",
	StatusErrorResourceFree:           "HSA_STATUS_ERROR_RESOURCE_FREE: An error has been detected while releasing a resource.",
	StatusErrorNotInitialized:         "HSA_STATUS_ERROR_NOT_INITIALIZED: An API other than hsa_init has been invoked while the reference count of the HSA runtime is zero.",
	StatusErrorRefcountOverflow:       "HSA_STATUS_ERROR_REFCOUNT_OVERFLOW: The maximum reference count for the object has been reached.",
	StatusErrorIncompatibleArguments:  "HSA_STATUS_ERROR_INCOMPATIBLE_ARGUMENTS: The arguments passed to a functions are not compatible.",
	StatusErrorInvalidIndex:           "HSA_STATUS_ERROR_INVALID_INDEX: The index is invalid.",
	StatusErrorInvalidISA:             "HSA_STATUS_ERROR_INVALID_ISA: The instruction set architecture is invalid.",
	StatusErrorInvalidISAName:         "HSA_STATUS_ERROR_INVALID_ISA_NAME: The instruction set architecture name is invalid.",
	StatusErrorInvalidCodeObject:      "HSA_STATUS_ERROR_INVALID_CODE_OBJECT: The code object is invalid.",
	StatusErrorInvalidExecutable:      "HSA_STATUS_ERROR_INVALID_EXECUTABLE: The executable is invalid.",
	StatusErrorFrozenExecutable:       "HSA_STATUS_ERROR_FROZEN_EXECUTABLE: The executable is frozen.",
	StatusErrorInvalidSymbolName:      "HSA_STATUS_ERROR_INVALID_SYMBOL_NAME: There is no symbol with the given name.",
	StatusErrorVariableAlreadyDefined: "HSA_STATUS_ERROR_VARIABLE_ALREADY_DEFINED: The variable is already defined.",
	StatusErrorVariableUndefined:      "HSA_STATUS_ERROR_VARIABLE_UNDEFINED: The variable is undefined.",
	StatusErrorException:              "HSA_STATUS_ERROR_EXCEPTION: An HSAIL operation resulted in a hardware exception.",
}

// Error returns the textual description of the status.
func (s Status) Error() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return fmt.Sprintf("HSA status 0x%x", uint32(s))
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// CallError is a failed runtime call. It names the call site and carries
// the runtime's own description of the failure.
type CallError struct {
	Call    string
	Status  Status
	Message string
}

// Error returns the call site and the runtime description of the failure.
func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Status.Error()
	}
	return e.Call + ": " + msg
}

// Unwrap returns the status of the failed call.
func (e *CallError) Unwrap() error {
	return e.Status
}

// Check annotates an error returned by a runtime call with the call site.
// Statuses are turned into a *CallError carrying the runtime's description,
// other errors are wrapped as is.
func Check(rt Runtime, call string, err error) error {
	if err == nil {
		return nil
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}

	var st Status
	if errors.As(err, &st) {
		if st.IsSuccess() {
			return nil
		}
		msg := ""
		if rt != nil {
			msg = rt.StatusString(st)
		}
		return &CallError{Call: call, Status: st, Message: msg}
	}

	return fmt.Errorf("%s: %w", call, err)
}

// StatusOf returns the runtime status carried by err, StatusError for
// errors not originating from the runtime, and StatusSuccess for nil.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var st Status
	if errors.As(err, &st) {
		return st
	}
	return StatusError
}
