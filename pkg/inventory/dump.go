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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"sigs.k8s.io/yaml"
)

// Format is an output format for an inventory.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat parses an output format name.
func ParseFormat(str string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(str))); f {
	case FormatText, FormatYAML, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", inventoryError("%w %q", ErrInvalidFormat, str)
}

// Marshal renders the inventory in the given format.
func (inv *Inventory) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatText, "":
		buf := &bytes.Buffer{}
		if err := inv.Dump(buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(inv)
	case FormatJSON:
		return json.MarshalIndent(inv, "", "  ")
	}
	return nil, inventoryError("%w %q", ErrInvalidFormat, format)
}

// Dump prints the inventory in human readable form.
func (inv *Inventory) Dump(w io.Writer) error {
	p := &printer{w: w}

	for idx, a := range inv.Agents {
		p.printf("Agent # %d:\n", idx)
		p.printf("  Name: %s\n", a.Name)
		p.printf("  Type: %s\n", a.Type)
		if a.Coherency != nil {
			p.printf("  Coherent: %s\n", yesNo(a.IsCoherent()))
		}
		p.printf("  Regions:\n")
		for ridx, r := range a.Regions {
			p.printf("    Region # %d:\n", ridx)
			r.dump(p)
		}
	}

	return p.err
}

func (r *Region) dump(p *printer) {
	p.printf("      Handle: %X\n", r.Handle.Handle)
	if r.HostAccessible != nil {
		p.printf("      Accessible by host: %s\n", yesNo(*r.HostAccessible))
	}
	p.printf("      Segment: %s\n", r.Segment)
	if g, ok := r.GlobalFlags(); ok {
		p.printf("        Coarse-grained: %s\n", yesNo(g.CoarseGrained))
		p.printf("        Fine-grained: %s\n", yesNo(g.FineGrained))
		p.printf("        Kernel arguments: %s\n", yesNo(g.KernArg))
	}
	p.printf("      Allocation allowed: %s\n", yesNo(r.AllocAllowed))
	p.printf("      Size: %d MiB\n", r.Size>>20)
	p.printf("      Max allocation size: %d MiB\n", r.MaxAllocSize>>20)
}

// printer writes formatted output, remembering the first error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// DumpLog logs the inventory at debug level.
func (inv *Inventory) DumpLog(prefix string) {
	if !log.DebugEnabled() {
		return
	}
	buf := &bytes.Buffer{}
	if err := inv.Dump(buf); err != nil {
		log.Error("failed to dump inventory: %v", err)
		return
	}
	log.DebugBlock(prefix, "%s", strings.TrimRight(buf.String(), "\n"))
}
