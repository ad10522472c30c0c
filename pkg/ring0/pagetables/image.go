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
	"fmt"

	"gvisor.dev/kernelvm/pkg/binary"
	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/memory"
)

// MarshalBinary implements encoding.BinaryMarshaler.MarshalBinary.
//
// The image holds the level-3 tables in order followed by the level-2
// array, each descriptor as a little-endian 64-bit word.
func (t *Tables) MarshalBinary() ([]byte, error) {
	words := make([]uint64, 0, ImageSize/8)
	for i := range t.lvl3 {
		for _, d := range &t.lvl3[i] {
			words = append(words, uint64(d))
		}
	}
	for _, d := range t.lvl2 {
		words = append(words, uint64(d))
	}
	return binary.AppendUint64s(make([]byte, 0, ImageSize), binary.LittleEndian, words), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.UnmarshalBinary.
//
// It loads an image as the boot loader would have patched it in. The
// tables remain uninitialized.
func (t *Tables) UnmarshalBinary(data []byte) error {
	if t.initialized {
		return fmt.Errorf("loading image into initialized tables: %w", mmuerr.DoubleInit)
	}
	if len(data) != ImageSize {
		return fmt.Errorf("table image of %d bytes, want %d: %w", len(data), ImageSize, mmuerr.RegionSizeMismatch)
	}
	words := make([]uint64, ImageSize/8)
	if err := binary.DecodeUint64s(data, binary.LittleEndian, words); err != nil {
		return err
	}
	for i := range t.lvl3 {
		for j := range t.lvl3[i] {
			t.lvl3[i][j] = PageDescriptor(words[i*EntriesPerTable+j])
		}
	}
	for i := range t.lvl2 {
		t.lvl2[i] = TableDescriptor(words[NumTables*EntriesPerTable+i])
	}
	return nil
}

// Segment is one contiguous region of the kernel image with its placement
// and attributes.
type Segment struct {
	Name string
	Virt memory.Region[memory.Virtual]
	Phys memory.Region[memory.Physical]
	Attr memory.AttributeFields
}

// IdentitySegment returns a segment mapped at its own physical address.
func IdentitySegment(name string, virt memory.Region[memory.Virtual], attr memory.AttributeFields) Segment {
	return Segment{Name: name, Virt: virt, Phys: memory.IdentityPhys(virt), Attr: attr}
}

// Precompute builds tables that will be loaded at physical address base and
// map segs. It uses the same Init and MapAt path as the kernel, so the
// image is byte-identical to tables built at runtime from the same
// segments.
func Precompute(base uint64, segs []Segment) (*Tables, error) {
	t := New(FixedTranslator(base))
	if err := t.Init(); err != nil {
		return nil, err
	}
	for _, s := range segs {
		if err := t.MapAt(s.Virt, s.Phys, s.Attr); err != nil {
			return nil, fmt.Errorf("segment %q: %w", s.Name, err)
		}
	}
	return t, nil
}
