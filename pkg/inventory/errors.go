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

package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrTooManyAgents  = errors.New("inventory: too many agents")
	ErrTooManyRegions = errors.New("inventory: too many regions")
	ErrInvalidIndex   = errors.New("inventory: invalid agent index")
	ErrInvalidFormat  = errors.New("inventory: invalid output format")
)

// inventoryError returns a package-specific formatted error.
func inventoryError(format string, args ...interface{}) error {
	return fmt.Errorf("inventory: "+format, args...)
}
