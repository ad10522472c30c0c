// Copyright 2026 The gVisor Authors.
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

package mapping

import (
	"fmt"
	"io"
	"strings"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
)

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// humanSize renders size rounded up to the largest fitting binary unit,
// e.g. "512 KiB" or " 64 KiB".
func humanSize(size uint64) string {
	var (
		unit string
		div  uint64
	)
	switch {
	case size >= gib:
		unit, div = "GiB", gib
	case size >= mib:
		unit, div = "MiB", mib
	case size >= kib:
		unit, div = "KiB", kib
	default:
		unit, div = "Byte", 1
	}
	return fmt.Sprintf("%3d %s", (size+div-1)/div, unit)
}

// Column widths of a row: regions, size and attributes.
const (
	virtWidth = len("0x0000_0000_0000_0000..0x0000_0000_0000_0000")
	physWidth = len("0x00_0000_0000..0x00_0000_0000")
	sizeWidth = len("512 KiB")
	attrWidth = len("Dev RW XN")
)

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-len(s)-left)
}

// Lines renders the record as the boot-log table:
//
//	virt_start..virt_end --> phys_start..phys_end | size | attr | names
//
// Rows shared by several names list the extra names on continuation lines.
func (r *Record) Lines() []string {
	header := fmt.Sprintf("%s     %s | %s | %s | %s",
		center("Virtual", virtWidth), center("Physical", physWidth),
		center("Size", sizeWidth), center("Attr", attrWidth), "Entity")
	rule := strings.Repeat("-", len(header)+8)

	lines := []string{rule, header, rule}
	r.Ascend(func(row *Row) bool {
		lines = append(lines, row.Lines()...)
		return true
	})
	return append(lines, rule)
}

// Lines renders a single row of the boot-log table.
func (row *Row) Lines() []string {
	prefix := fmt.Sprintf("%v --> %v | %s | %v | ", row.Virt(), row.Phys(), humanSize(row.Pages<<memory.PageShift), row.Attr)
	lines := []string{prefix + row.Names[0]}
	indent := strings.Repeat(" ", len(prefix)-2)
	for _, name := range row.Names[1:] {
		lines = append(lines, indent+"| "+name)
	}
	return lines
}

// Fprint writes the table to w.
func (r *Record) Fprint(w io.Writer) error {
	for _, l := range r.Lines() {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// Print logs the table at info level.
func (r *Record) Print() {
	for _, l := range r.Lines() {
		log.Infof("      %s", l)
	}
}

// WriteJSON writes the rows to w as a JSON array, one object per row.
func (r *Record) WriteJSON(w io.Writer) error {
	jw := jwriter.NewWriter()
	arr := jw.Array()
	r.Ascend(func(row *Row) bool {
		obj := arr.Object()
		defer obj.End()

		obj.Name("virt_start").String(row.Virt().Start().String())
		obj.Name("virt_end").String(row.Virt().EndInclusive().String())
		obj.Name("phys_start").String(row.Phys().Start().String())
		obj.Name("phys_end").String(row.Phys().EndInclusive().String())
		obj.Name("pages").Int(int(row.Pages))
		obj.Name("attr").String(row.Attr.String())
		names := obj.Name("names").Array()
		for _, n := range row.Names {
			names.String(n)
		}
		names.End()
		return true
	})
	arr.End()
	if err := jw.Error(); err != nil {
		return err
	}
	_, err := w.Write(jw.Bytes())
	return err
}
