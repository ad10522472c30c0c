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

	"gvisor.dev/kernelvm/pkg/bits"
	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/memory"
)

// Bits common to table and page descriptors.
const (
	descValid = 1 << 0

	// descTable marks a table descriptor at level 2 and a page descriptor
	// at level 3.
	descTable = 1 << 1

	// Output and next-level addresses occupy bits [47:16] with the 64 KiB
	// granule.
	addrShift = memory.PageShift
	addrWidth = 48 - memory.PageShift
)

// Page descriptor fields.
const (
	attrIndxShift = 2
	attrIndxWidth = 3

	apShift = 6
	apWidth = 2

	shShift = 8
	shWidth = 2

	pageAF  = 1 << 10
	pagePXN = 1 << 53
	pageUXN = 1 << 54
)

// MAIR_EL1 attribute indices referenced by page descriptors. The register
// itself is programmed by package ring0.
const (
	MAIRIndexDevice = 0
	MAIRIndexNormal = 1
)

// Access permission and shareability encodings.
const (
	apRWEL1 = 0b00
	apROEL1 = 0b10

	shOuter = 0b10
	shInner = 0b11
)

// TableDescriptor is a level-2 descriptor pointing to a level-3 table.
type TableDescriptor uint64

func newTableDescriptor(next uint64) TableDescriptor {
	d := uint64(descValid | descTable)
	return TableDescriptor(bits.SetField(d, addrShift, addrWidth, next>>addrShift))
}

// Valid returns true iff the descriptor is valid.
func (d TableDescriptor) Valid() bool {
	return bits.IsOn(uint64(d), descValid)
}

// IsTable returns true iff the descriptor refers to a next-level table.
func (d TableDescriptor) IsTable() bool {
	return bits.IsOn(uint64(d), descValid|descTable)
}

// Address returns the physical address of the next-level table.
func (d TableDescriptor) Address() uint64 {
	return bits.Field(uint64(d), addrShift, addrWidth) << addrShift
}

// PageDescriptor is a level-3 descriptor mapping one 64 KiB page.
type PageDescriptor uint64

// newPageDescriptor encodes a mapping of the page at out.
//
// Precondition: attr.Validate() == nil.
func newPageDescriptor(out uint64, attr memory.AttributeFields) PageDescriptor {
	d := uint64(descValid | descTable | pageAF | pageUXN)
	switch attr.MemAttributes {
	case memory.CacheableDRAM:
		d = bits.SetField(d, attrIndxShift, attrIndxWidth, MAIRIndexNormal)
		d = bits.SetField(d, shShift, shWidth, shInner)
	case memory.Device:
		d = bits.SetField(d, attrIndxShift, attrIndxWidth, MAIRIndexDevice)
		d = bits.SetField(d, shShift, shWidth, shOuter)
	}
	switch attr.AccessPermissions {
	case memory.ReadOnly:
		d = bits.SetField(d, apShift, apWidth, apROEL1)
	case memory.ReadWrite:
		d = bits.SetField(d, apShift, apWidth, apRWEL1)
	}
	if attr.ExecuteNever {
		d |= pagePXN
	}
	return PageDescriptor(bits.SetField(d, addrShift, addrWidth, out>>addrShift))
}

// Valid returns true iff the descriptor is valid.
func (d PageDescriptor) Valid() bool {
	return bits.IsOn(uint64(d), descValid)
}

// Address returns the physical address of the mapped page.
func (d PageDescriptor) Address() uint64 {
	return bits.Field(uint64(d), addrShift, addrWidth) << addrShift
}

// Attributes decodes the attribute fields of a valid descriptor.
func (d PageDescriptor) Attributes() (memory.AttributeFields, error) {
	var attr memory.AttributeFields
	v := uint64(d)
	switch idx := bits.Field(v, attrIndxShift, attrIndxWidth); idx {
	case MAIRIndexNormal:
		attr.MemAttributes = memory.CacheableDRAM
	case MAIRIndexDevice:
		attr.MemAttributes = memory.Device
	default:
		return attr, fmt.Errorf("descriptor %#x: AttrIndx %d: %w", v, idx, mmuerr.UnsupportedAttributes)
	}
	switch ap := bits.Field(v, apShift, apWidth); ap {
	case apROEL1:
		attr.AccessPermissions = memory.ReadOnly
	case apRWEL1:
		attr.AccessPermissions = memory.ReadWrite
	default:
		return attr, fmt.Errorf("descriptor %#x: AP %#b: %w", v, ap, mmuerr.UnsupportedAttributes)
	}
	attr.ExecuteNever = bits.IsOn(v, pagePXN)
	return attr, nil
}

// String implements fmt.Stringer.String.
func (d PageDescriptor) String() string {
	if !d.Valid() {
		return "invalid"
	}
	attr, err := d.Attributes()
	if err != nil {
		return fmt.Sprintf("%#x (undecodable)", uint64(d))
	}
	return fmt.Sprintf("%#x %v", d.Address(), attr)
}
