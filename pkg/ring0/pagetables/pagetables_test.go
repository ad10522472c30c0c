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

package pagetables

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kernelvm/pkg/errors"
	"gvisor.dev/kernelvm/pkg/memory"
)

// tablesBase is where tests place the tables: just past the reference
// kernel image.
const tablesBase = 0x10_0000

func vregion(start, end uint64) memory.Region[memory.Virtual] {
	return memory.MustRegion[memory.Virtual](start, end)
}

func pregion(start, end uint64) memory.Region[memory.Physical] {
	return memory.MustRegion[memory.Physical](start, end)
}

func newTables(t *testing.T) *Tables {
	t.Helper()
	pt := New(FixedTranslator(tablesBase))
	if err := pt.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return pt
}

type run struct {
	virtStart uint64
	physStart uint64
	pages     uint64
	attr      memory.AttributeFields
}

func checkRuns(t *testing.T, pt *Tables, want []run) {
	t.Helper()
	runs, err := pt.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	var got []run
	for _, r := range runs {
		got = append(got, run{
			virtStart: r.Virt.Start().Uint64(),
			physStart: r.Phys.Start().Uint64(),
			pages:     r.Virt.NumPages(),
			attr:      r.Attr,
		})
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(run{})); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

// referenceSegments is the identity-mapped reference kernel layout.
func referenceSegments() []Segment {
	return []Segment{
		IdentitySegment("boot-core stack", vregion(0x0, 0x8_0000), memory.DataAttributes),
		IdentitySegment("code and RO data", vregion(0x8_0000, 0x9_0000), memory.CodeAttributes),
		IdentitySegment("data and bss", vregion(0x9_0000, 0xF_0000), memory.DataAttributes),
	}
}

func TestLayout(t *testing.T) {
	if NumTables != 2 {
		t.Errorf("NumTables = %d, want 2", NumTables)
	}
	if EntriesPerTable != 8192 {
		t.Errorf("EntriesPerTable = %d, want 8192", EntriesPerTable)
	}
	if ImageSize != 2*64*1024+16 {
		t.Errorf("ImageSize = %d, want %d", ImageSize, 2*64*1024+16)
	}
}

func TestInit(t *testing.T) {
	pt := newTables(t)
	for i, d := range pt.lvl2 {
		if want := TableDescriptor(tablesBase + uint64(i)*0x1_0000 | 0b11); d != want {
			t.Errorf("lvl2[%d] = %#x, want %#x", i, uint64(d), uint64(want))
		}
	}
	base, err := pt.PhysBaseAddress()
	if err != nil {
		t.Fatalf("PhysBaseAddress: %v", err)
	}
	if got, want := base.Uint64(), uint64(tablesBase+Lvl2Offset); got != want {
		t.Errorf("PhysBaseAddress = %#x, want %#x", got, want)
	}
	if err := pt.Init(); !errors.IsKind(err, errors.DoubleInit) {
		t.Errorf("second Init = %v, want DoubleInit", err)
	}
}

func TestInitErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		base uint64
		kind errors.Kind
	}{
		{"misaligned", tablesBase + 0x1000, errors.MisalignedRegion},
		{"outside physical space", memory.PhysicalAddrSpaceSize - memory.PageSize, errors.CapacityExceeded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pt := New(FixedTranslator(tc.base))
			if err := pt.Init(); !errors.IsKind(err, tc.kind) {
				t.Errorf("Init = %v, want %v", err, tc.kind)
			}
			if pt.Initialized() {
				t.Errorf("tables marked initialized after failed Init")
			}
		})
	}
}

func TestNotInitialized(t *testing.T) {
	pt := New(FixedTranslator(tablesBase))
	if err := pt.MapAt(vregion(0, 0x1_0000), pregion(0, 0x1_0000), memory.DataAttributes); !errors.IsKind(err, errors.NotInitialized) {
		t.Errorf("MapAt = %v, want NotInitialized", err)
	}
	if _, err := pt.PhysBaseAddress(); !errors.IsKind(err, errors.NotInitialized) {
		t.Errorf("PhysBaseAddress = %v, want NotInitialized", err)
	}
}

func TestDescriptorEncoding(t *testing.T) {
	for _, tc := range []struct {
		name string
		out  uint64
		attr memory.AttributeFields
		want PageDescriptor
	}{
		{"code", 0x8_0000, memory.CodeAttributes, 0x0040_0000_0008_0787},
		{"data", 0x9_0000, memory.DataAttributes, 0x0060_0000_0009_0707},
		{"device", 0x3F20_0000, memory.DeviceAttributes, 0x0060_0000_3F20_0603},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := newPageDescriptor(tc.out, tc.attr)
			if d != tc.want {
				t.Errorf("descriptor = %#x, want %#x", uint64(d), uint64(tc.want))
			}
			if d.Address() != tc.out {
				t.Errorf("Address = %#x, want %#x", d.Address(), tc.out)
			}
			attr, err := d.Attributes()
			if err != nil {
				t.Fatalf("Attributes: %v", err)
			}
			if attr != tc.attr {
				t.Errorf("Attributes = %v, want %v", attr, tc.attr)
			}
		})
	}
}

func TestMapAt(t *testing.T) {
	pt := newTables(t)
	for _, s := range referenceSegments() {
		if err := pt.MapAt(s.Virt, s.Phys, s.Attr); err != nil {
			t.Fatalf("MapAt(%s): %v", s.Name, err)
		}
	}
	checkRuns(t, pt, []run{
		{0x0, 0x0, 8, memory.DataAttributes},
		{0x8_0000, 0x8_0000, 1, memory.CodeAttributes},
		{0x9_0000, 0x9_0000, 6, memory.DataAttributes},
	})
}

func TestMapAtSecondTable(t *testing.T) {
	pt := newTables(t)
	// The last page of the first table and the first of the second.
	virt := vregion(Lvl2Span-memory.PageSize, Lvl2Span+memory.PageSize)
	phys := pregion(0x3F00_0000, 0x3F02_0000)
	if err := pt.MapAt(virt, phys, memory.DeviceAttributes); err != nil {
		t.Fatalf("MapAt: %v", err)
	}
	if !pt.lvl3[1][0].Valid() || !pt.lvl3[0][EntriesPerTable-1].Valid() {
		t.Errorf("mapping did not straddle both level-3 tables")
	}
	checkRuns(t, pt, []run{
		{Lvl2Span - memory.PageSize, 0x3F00_0000, 2, memory.DeviceAttributes},
	})
}

func TestMapAtIdempotent(t *testing.T) {
	pt := newTables(t)
	virt, phys := vregion(0x8_0000, 0x9_0000), pregion(0x8_0000, 0x9_0000)
	for i := 0; i < 2; i++ {
		if err := pt.MapAt(virt, phys, memory.CodeAttributes); err != nil {
			t.Fatalf("MapAt #%d: %v", i, err)
		}
	}
}

func TestMapAtAllOrNothing(t *testing.T) {
	pt := newTables(t)
	if err := pt.MapAt(vregion(0x2_0000, 0x3_0000), pregion(0x2_0000, 0x3_0000), memory.DataAttributes); err != nil {
		t.Fatalf("MapAt: %v", err)
	}
	before, err := pt.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	// The third page conflicts; the first two must stay unmapped.
	err = pt.MapAt(vregion(0x0, 0x4_0000), pregion(0x50_0000, 0x54_0000), memory.DataAttributes)
	if !errors.IsKind(err, errors.AlreadyMapped) {
		t.Fatalf("conflicting MapAt = %v, want AlreadyMapped", err)
	}
	after, err := pt.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("failed MapAt modified the tables")
	}

	// Same output, different attributes.
	err = pt.MapAt(vregion(0x2_0000, 0x3_0000), pregion(0x2_0000, 0x3_0000), memory.CodeAttributes)
	if !errors.IsKind(err, errors.AlreadyMapped) {
		t.Errorf("MapAt with new attributes = %v, want AlreadyMapped", err)
	}
}

func TestMapAtErrors(t *testing.T) {
	pt := newTables(t)
	for _, tc := range []struct {
		name string
		virt memory.Region[memory.Virtual]
		phys memory.Region[memory.Physical]
		attr memory.AttributeFields
		kind errors.Kind
	}{
		{
			name: "size mismatch",
			virt: vregion(0x0, 0x2_0000),
			phys: pregion(0x0, 0x1_0000),
			attr: memory.DataAttributes,
			kind: errors.RegionSizeMismatch,
		},
		{
			name: "executable device",
			virt: vregion(0x0, 0x1_0000),
			phys: pregion(0x3F20_0000, 0x3F21_0000),
			attr: memory.AttributeFields{MemAttributes: memory.Device, AccessPermissions: memory.ReadWrite},
			kind: errors.UnsupportedAttributes,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := pt.MapAt(tc.virt, tc.phys, tc.attr); !errors.IsKind(err, tc.kind) {
				t.Errorf("MapAt = %v, want %v", err, tc.kind)
			}
		})
	}
	checkRuns(t, pt, nil)
}

func TestTranslate(t *testing.T) {
	pt := newTables(t)
	if err := pt.MapAt(vregion(0xF_0000, 0x10_0000), pregion(0x3F20_0000, 0x3F21_0000), memory.DeviceAttributes); err != nil {
		t.Fatalf("MapAt: %v", err)
	}
	phys, err := pt.TryVirtToPhys(memory.MustAddress[memory.Virtual](0xF_1000))
	if err != nil {
		t.Fatalf("TryVirtToPhys: %v", err)
	}
	if phys.Uint64() != 0x3F20_1000 {
		t.Errorf("TryVirtToPhys = %v, want 0x3F20_1000", phys)
	}
	attr, err := pt.TryPageAttributes(memory.MustPageAddress[memory.Virtual](0xF_0000))
	if err != nil {
		t.Fatalf("TryPageAttributes: %v", err)
	}
	if attr != memory.DeviceAttributes {
		t.Errorf("TryPageAttributes = %v, want %v", attr, memory.DeviceAttributes)
	}
	if _, err := pt.TryVirtToPhys(memory.MustAddress[memory.Virtual](0x10_0000)); !errors.IsKind(err, errors.NotMapped) {
		t.Errorf("TryVirtToPhys of unmapped page = %v, want NotMapped", err)
	}
	if _, err := pt.TryPageAttributes(memory.MustPageAddress[memory.Virtual](0)); !errors.IsKind(err, errors.NotMapped) {
		t.Errorf("TryPageAttributes of unmapped page = %v, want NotMapped", err)
	}
}

func TestPrecomputeMatchesRuntime(t *testing.T) {
	runtime := newTables(t)
	for _, s := range referenceSegments() {
		if err := runtime.MapAt(s.Virt, s.Phys, s.Attr); err != nil {
			t.Fatalf("MapAt(%s): %v", s.Name, err)
		}
	}
	pre, err := Precompute(tablesBase, referenceSegments())
	if err != nil {
		t.Fatalf("Precompute: %v", err)
	}

	a, err := runtime.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	b, err := pre.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("precomputed image differs from runtime image")
	}
}

func TestImageRoundTrip(t *testing.T) {
	pre, err := Precompute(tablesBase, referenceSegments())
	if err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	img, err := pre.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(img) != ImageSize {
		t.Fatalf("image is %d bytes, want %d", len(img), ImageSize)
	}

	// Load the image as a patched kernel would find it.
	loaded := New(FixedTranslator(tablesBase))
	if err := loaded.UnmarshalBinary(img); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if loaded.Initialized() {
		t.Errorf("loaded image is marked initialized")
	}
	if err := loaded.Init(); err != nil {
		t.Fatalf("Init on loaded image: %v", err)
	}
	if err := loaded.UnmarshalBinary(img); !errors.IsKind(err, errors.DoubleInit) {
		t.Errorf("UnmarshalBinary into initialized tables = %v, want DoubleInit", err)
	}

	want, err := pre.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	got, err := loaded.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b Run) bool { return a == b })); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadedImageAtWrongBase(t *testing.T) {
	pre, err := Precompute(tablesBase, referenceSegments())
	if err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	img, err := pre.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	loaded := New(FixedTranslator(tablesBase + 0x10_0000))
	if err := loaded.UnmarshalBinary(img); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if err := loaded.Init(); !errors.IsKind(err, errors.AlreadyMapped) {
		t.Errorf("Init at a different base = %v, want AlreadyMapped", err)
	}
	if err := loaded.Walk(func(Mapping) bool { return true }); !errors.IsKind(err, errors.NotMapped) {
		t.Errorf("Walk at a different base = %v, want NotMapped", err)
	}
}

func TestUnmarshalBadSize(t *testing.T) {
	pt := New(FixedTranslator(tablesBase))
	if err := pt.UnmarshalBinary(make([]byte, ImageSize-8)); !errors.IsKind(err, errors.RegionSizeMismatch) {
		t.Errorf("UnmarshalBinary = %v, want RegionSizeMismatch", err)
	}
}

func TestWalkStops(t *testing.T) {
	pt, err := Precompute(tablesBase, referenceSegments())
	if err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	n := 0
	if err := pt.Walk(func(Mapping) bool {
		n++
		return n < 3
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if n != 3 {
		t.Errorf("Walk visited %d pages after stopping, want 3", n)
	}
}
