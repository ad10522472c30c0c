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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kernelvm/pkg/errors"
	"gvisor.dev/kernelvm/pkg/memory"
)

func vregion(start, end uint64) memory.Region[memory.Virtual] {
	return memory.MustRegion[memory.Virtual](start, end)
}

func pregion(start, end uint64) memory.Region[memory.Physical] {
	return memory.MustRegion[memory.Physical](start, end)
}

func referenceRecord(t *testing.T) *Record {
	t.Helper()
	r := New()
	for _, m := range []struct {
		name       string
		start, end uint64
		attr       memory.AttributeFields
	}{
		// Added out of order; rows must still print by virtual address.
		{"Kernel data and bss", 0x9_0000, 0xF_0000, memory.DataAttributes},
		{"Kernel boot-core stack", 0x0, 0x8_0000, memory.DataAttributes},
		{"Kernel code and RO data", 0x8_0000, 0x9_0000, memory.CodeAttributes},
	} {
		if err := r.Add(m.name, vregion(m.start, m.end), pregion(m.start, m.end), m.attr); err != nil {
			t.Fatalf("Add(%q): %v", m.name, err)
		}
	}
	return r
}

func TestUARTAndGPIOShareRow(t *testing.T) {
	r := referenceRecord(t)
	uart := memory.MustMMIODescriptor(0x3F20_1000, 0x48)
	gpio := memory.MustMMIODescriptor(0x3F20_0000, 0xA0)

	if _, ok, err := r.FindMMIODuplicate(uart, "BCM PL011 UART"); ok || err != nil {
		t.Fatalf("FindMMIODuplicate on empty MMIO record = %v, %v", ok, err)
	}
	if err := r.Add("BCM PL011 UART", vregion(0xF_0000, 0x10_0000), uart.PageRegion(), memory.DeviceAttributes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	virt, ok, err := r.FindMMIODuplicate(gpio, "BCM GPIO")
	if err != nil || !ok {
		t.Fatalf("FindMMIODuplicate(gpio) = %v, %v", ok, err)
	}
	if virt.Uint64() != 0xF_0000 {
		t.Errorf("GPIO shares virtual page %v, want 0xF0000", virt)
	}
	if r.Len() != 4 {
		t.Errorf("Len = %d, want 4", r.Len())
	}

	want := []Row{
		{Names: []string{"Kernel boot-core stack"}, VirtStart: 0x0, PhysStart: 0x0, Pages: 8, Attr: memory.DataAttributes},
		{Names: []string{"Kernel code and RO data"}, VirtStart: 0x8_0000, PhysStart: 0x8_0000, Pages: 1, Attr: memory.CodeAttributes},
		{Names: []string{"Kernel data and bss"}, VirtStart: 0x9_0000, PhysStart: 0x9_0000, Pages: 6, Attr: memory.DataAttributes},
		{Names: []string{"BCM PL011 UART", "BCM GPIO"}, VirtStart: 0xF_0000, PhysStart: 0x3F20_0000, Pages: 1, Attr: memory.DeviceAttributes},
	}
	if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestAddMergesSamePage(t *testing.T) {
	r := New()
	v, p := vregion(0x10_0000, 0x11_0000), pregion(0x3F00_0000, 0x3F01_0000)
	if err := r.Add("BCM Interrupt Controller", v, p, memory.DeviceAttributes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("BCM Local Interrupt Controller", v, p, memory.DeviceAttributes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	got := r.Snapshot()[0].Names
	if diff := cmp.Diff([]string{"BCM Interrupt Controller", "BCM Local Interrupt Controller"}, got); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestAddConflictingRow(t *testing.T) {
	r := New()
	v := vregion(0x10_0000, 0x11_0000)
	if err := r.Add("first", v, pregion(0x3F00_0000, 0x3F01_0000), memory.DeviceAttributes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("second", v, pregion(0x4000_0000, 0x4001_0000), memory.DeviceAttributes); !errors.IsKind(err, errors.AlreadyMapped) {
		t.Errorf("Add with different translation = %v, want AlreadyMapped", err)
	}
	if got := r.Snapshot()[0].Names; len(got) != 1 || got[0] != "first" {
		t.Errorf("row names = %v, want [first]", got)
	}
}

func TestAddSameRegionTwice(t *testing.T) {
	r := referenceRecord(t)
	for i := 0; i < 3; i++ {
		if err := r.Add("Kernel code and RO data", vregion(0x8_0000, 0x9_0000), pregion(0x8_0000, 0x9_0000), memory.CodeAttributes); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
	if got := r.Snapshot()[1].Names; len(got) != 1 {
		t.Errorf("code row names = %v, want one name", got)
	}
}

func TestAddCoveredSubRange(t *testing.T) {
	for _, tc := range []struct {
		name       string
		start, end uint64
	}{
		{"same start", 0x9_0000, 0xA_0000},
		{"inner", 0xA_0000, 0xB_0000},
		{"same end", 0xE_0000, 0xF_0000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := referenceRecord(t)
			if err := r.Add("heap", vregion(tc.start, tc.end), pregion(tc.start, tc.end), memory.DataAttributes); err != nil {
				t.Fatalf("Add: %v", err)
			}
			want := []Row{
				{Names: []string{"Kernel boot-core stack"}, VirtStart: 0x0, PhysStart: 0x0, Pages: 8, Attr: memory.DataAttributes},
				{Names: []string{"Kernel code and RO data"}, VirtStart: 0x8_0000, PhysStart: 0x8_0000, Pages: 1, Attr: memory.CodeAttributes},
				{Names: []string{"Kernel data and bss", "heap"}, VirtStart: 0x9_0000, PhysStart: 0x9_0000, Pages: 6, Attr: memory.DataAttributes},
			}
			if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
				t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddGrowsOverlappingRows(t *testing.T) {
	r := New()
	if err := r.Add("a", vregion(0x10_0000, 0x12_0000), pregion(0x50_0000, 0x52_0000), memory.DataAttributes); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if err := r.Add("b", vregion(0x13_0000, 0x14_0000), pregion(0x53_0000, 0x54_0000), memory.DataAttributes); err != nil {
		t.Fatalf("Add(b): %v", err)
	}
	if err := r.Add("c", vregion(0x11_0000, 0x14_0000), pregion(0x51_0000, 0x54_0000), memory.DataAttributes); err != nil {
		t.Fatalf("Add(c): %v", err)
	}
	want := []Row{
		{Names: []string{"a", "b", "c"}, VirtStart: 0x10_0000, PhysStart: 0x50_0000, Pages: 4, Attr: memory.DataAttributes},
	}
	if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestAddOverlapMustMatch(t *testing.T) {
	for _, tc := range []struct {
		name string
		phys memory.Region[memory.Physical]
		attr memory.AttributeFields
	}{
		{"translation", pregion(0x40_0000, 0x41_0000), memory.DataAttributes},
		{"attributes", pregion(0xA_0000, 0xB_0000), memory.CodeAttributes},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := referenceRecord(t)
			before := r.Snapshot()
			v := vregion(0xA_0000, 0xB_0000)
			if err := r.Check("x", v, tc.phys, tc.attr); !errors.IsKind(err, errors.AlreadyMapped) {
				t.Errorf("Check = %v, want AlreadyMapped", err)
			}
			if err := r.Add("x", v, tc.phys, tc.attr); !errors.IsKind(err, errors.AlreadyMapped) {
				t.Errorf("Add = %v, want AlreadyMapped", err)
			}
			if diff := cmp.Diff(before, r.Snapshot()); diff != "" {
				t.Errorf("record changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestCheckDoesNotModify(t *testing.T) {
	r := referenceRecord(t)
	before := r.Snapshot()
	if err := r.Check("heap", vregion(0xA_0000, 0xB_0000), pregion(0xA_0000, 0xB_0000), memory.DataAttributes); err != nil {
		t.Errorf("Check: %v", err)
	}
	if err := r.Check("new", vregion(0x20_0000, 0x21_0000), pregion(0x20_0000, 0x21_0000), memory.DataAttributes); err != nil {
		t.Errorf("Check: %v", err)
	}
	if diff := cmp.Diff(before, r.Snapshot()); diff != "" {
		t.Errorf("record changed (-before +after):\n%s", diff)
	}
}

func TestCapacity(t *testing.T) {
	r := New()
	for i := 0; i < Capacity; i++ {
		start := uint64(i) << memory.PageShift
		if err := r.Add(fmt.Sprintf("m%d", i), vregion(start, start+memory.PageSize), pregion(start, start+memory.PageSize), memory.DataAttributes); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}
	if !r.Full() {
		t.Errorf("Full = false after %d rows", Capacity)
	}
	start := uint64(Capacity) << memory.PageShift
	err := r.Add("overflow", vregion(start, start+memory.PageSize), pregion(start, start+memory.PageSize), memory.DataAttributes)
	if !errors.IsKind(err, errors.CapacityExceeded) {
		t.Errorf("Add beyond capacity = %v, want CapacityExceeded", err)
	}
	if r.Len() != Capacity {
		t.Errorf("Len = %d, want %d", r.Len(), Capacity)
	}
}

func TestNameCapacity(t *testing.T) {
	r := New()
	desc := memory.MustMMIODescriptor(0x3F20_0000, 0x10)
	if err := r.Add("dev0", vregion(0xF_0000, 0x10_0000), desc.PageRegion(), memory.DeviceAttributes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for i := 1; i < MaxNamesPerRow; i++ {
		if _, _, err := r.FindMMIODuplicate(desc, fmt.Sprintf("dev%d", i)); err != nil {
			t.Fatalf("FindMMIODuplicate #%d: %v", i, err)
		}
	}
	if _, _, err := r.FindMMIODuplicate(desc, "one too many"); !errors.IsKind(err, errors.CapacityExceeded) {
		t.Errorf("FindMMIODuplicate beyond name capacity = %v, want CapacityExceeded", err)
	}
}

func TestDuplicateRequiresDevice(t *testing.T) {
	r := referenceRecord(t)
	// Same physical page as code, but that row is not device memory.
	desc := memory.MustMMIODescriptor(0x8_0000, 0x10)
	if _, ok, err := r.FindMMIODuplicate(desc, "bogus"); ok || err != nil {
		t.Errorf("FindMMIODuplicate on normal memory = %v, %v; want no duplicate", ok, err)
	}
}

func TestSizeMismatch(t *testing.T) {
	r := New()
	if err := r.Add("x", vregion(0, 0x2_0000), pregion(0, 0x1_0000), memory.DataAttributes); !errors.IsKind(err, errors.RegionSizeMismatch) {
		t.Errorf("Add = %v, want RegionSizeMismatch", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := referenceRecord(t)
	snap := r.Snapshot()
	snap[0].Names[0] = "changed"
	if got := r.Snapshot()[0].Names[0]; got != "Kernel boot-core stack" {
		t.Errorf("record changed through snapshot: %q", got)
	}
}

func TestHumanSize(t *testing.T) {
	for _, tc := range []struct {
		size uint64
		want string
	}{
		{512 << 10, "512 KiB"},
		{64 << 10, " 64 KiB"},
		{8 << 20, "  8 MiB"},
		{1 << 30, "  1 GiB"},
		{0x48, " 72 Byte"},
		{(1 << 20) + 1, "  2 MiB"},
	} {
		if got := humanSize(tc.size); got != tc.want {
			t.Errorf("humanSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

func TestFprint(t *testing.T) {
	r := referenceRecord(t)
	uart := memory.MustMMIODescriptor(0x3F20_1000, 0x48)
	if err := r.Add("BCM PL011 UART", vregion(0xF_0000, 0x10_0000), uart.PageRegion(), memory.DeviceAttributes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, _, err := r.FindMMIODuplicate(memory.MustMMIODescriptor(0x3F20_0000, 0xA0), "BCM GPIO"); err != nil {
		t.Fatalf("FindMMIODuplicate: %v", err)
	}

	var buf bytes.Buffer
	if err := r.Fprint(&buf); err != nil {
		t.Fatalf("Fprint: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	// rule, header, rule, five rows, rule.
	if len(lines) != 9 {
		t.Fatalf("got %d lines, want 9:\n%s", len(lines), buf.String())
	}
	want := []string{
		"0x0000_0000_0000_0000..0x0000_0000_0007_FFFF --> 0x00_0000_0000..0x00_0007_FFFF | 512 KiB | C   RW XN | Kernel boot-core stack",
		"0x0000_0000_0008_0000..0x0000_0000_0008_FFFF --> 0x00_0008_0000..0x00_0008_FFFF |  64 KiB | C   RO X  | Kernel code and RO data",
		"0x0000_0000_0009_0000..0x0000_0000_000E_FFFF --> 0x00_0009_0000..0x00_000E_FFFF | 384 KiB | C   RW XN | Kernel data and bss",
		"0x0000_0000_000F_0000..0x0000_0000_000F_FFFF --> 0x00_3F20_0000..0x00_3F20_FFFF |  64 KiB | Dev RW XN | BCM PL011 UART",
		strings.Repeat(" ", 102) + "| BCM GPIO",
	}
	if diff := cmp.Diff(want, lines[3:8]); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(lines[1], "Virtual") || !strings.Contains(lines[1], "Entity") {
		t.Errorf("unexpected header %q", lines[1])
	}
}

func TestWriteJSON(t *testing.T) {
	r := referenceRecord(t)
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got []struct {
		VirtStart string   `json:"virt_start"`
		PhysEnd   string   `json:"phys_end"`
		Pages     int      `json:"pages"`
		Attr      string   `json:"attr"`
		Names     []string `json:"names"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if got[1].VirtStart != "0x0000_0000_0008_0000" || got[1].Pages != 1 || got[1].Attr != "C   RO X " {
		t.Errorf("unexpected code row %+v", got[1])
	}
	if got[0].PhysEnd != "0x00_0007_FFFF" || got[0].Names[0] != "Kernel boot-core stack" {
		t.Errorf("unexpected stack row %+v", got[0])
	}
}
