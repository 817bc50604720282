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
	"fmt"
	"io"
	"math/rand"
	"unsafe"
)

// Matrix is a dense nx*ny matrix of float64 stored row by row.
type Matrix struct {
	Nx   int       `json:"nx"`
	Ny   int       `json:"ny"`
	Data []float64 `json:"data"`
}

// NewMatrix creates a zeroed nx*ny matrix.
func NewMatrix(nx, ny int) *Matrix {
	return &Matrix{
		Nx:   nx,
		Ny:   ny,
		Data: make([]float64, nx*ny),
	}
}

// Fill sets every element to a pseudo-random value in [0, 1).
func (m *Matrix) Fill(rng *rand.Rand) {
	for i := range m.Data {
		m.Data[i] = rng.Float64()
	}
}

// Zero clears every element.
func (m *Matrix) Zero() {
	for i := range m.Data {
		m.Data[i] = 0
	}
}

// Clone returns a deep copy of the matrix.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{Nx: m.Nx, Ny: m.Ny, Data: make([]float64, len(m.Data))}
	copy(c.Data, m.Data)
	return c
}

// Equal returns true if both matrices have the same shape and elements.
func (m *Matrix) Equal(o *Matrix) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Nx != o.Nx || m.Ny != o.Ny || len(m.Data) != len(o.Data) {
		return false
	}
	for i, v := range m.Data {
		if o.Data[i] != v {
			return false
		}
	}
	return true
}

// Size returns the size of the matrix data in bytes.
func (m *Matrix) Size() uint64 {
	return uint64(len(m.Data)) * uint64(unsafe.Sizeof(float64(0)))
}

// Pointer returns the address of the matrix data.
func (m *Matrix) Pointer() unsafe.Pointer {
	if len(m.Data) == 0 {
		return nil
	}
	return unsafe.Pointer(&m.Data[0])
}

// Print writes the matrix one row per line, each row indented by six
// spaces and every element printed with three decimals.
func (m *Matrix) Print(w io.Writer) error {
	for iy, idx := 0, 0; iy < m.Ny; iy++ {
		if _, err := io.WriteString(w, "      "); err != nil {
			return err
		}
		for ix := 0; ix < m.Nx; ix, idx = ix+1, idx+1 {
			if _, err := fmt.Fprintf(w, "%.3f  ", m.Data[idx]); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
