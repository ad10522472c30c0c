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

// Package memory provides the typed address model used throughout the kernel.
//
// Virtual and physical addresses are distinct types: Address[Virtual] and
// Address[Physical] can be neither compared nor converted into each other.
// The only way across is an explicit, named translation.
package memory

import (
	"fmt"

	"golang.org/x/exp/constraints"
	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
)

const (
	// PageShift is the binary log of the translation granule.
	PageShift = 16

	// PageSize is the translation granule: 64 KiB.
	PageSize = 1 << PageShift

	// KernelVirtAddrSpaceSize is the size of the kernel's single virtual
	// address space. It mirrors kernel_virt_addr_space_size in the linker
	// script and must be a power of two.
	KernelVirtAddrSpaceSize = 1 << 30

	// PhysicalAddressBits is the number of bits available for physical
	// addresses.
	PhysicalAddressBits = 40

	// PhysicalAddrSpaceSize is the size of the physical address space.
	PhysicalAddrSpaceSize = 1 << PhysicalAddressBits
)

// KernelVirtAddrSpaceSize must be a power of two no smaller than a page.
var _ [0]struct{} = [KernelVirtAddrSpaceSize & (KernelVirtAddrSpaceSize - 1)]struct{}{}

const _ uint64 = KernelVirtAddrSpaceSize - PageSize

// Virtual tags virtual addresses.
type Virtual struct{}

// Physical tags physical addresses.
type Physical struct{}

func (Virtual) spaceSize() uint64 { return KernelVirtAddrSpaceSize }

func (Physical) spaceSize() uint64 { return PhysicalAddrSpaceSize }

func (Virtual) name() string { return "virtual" }

func (Physical) name() string { return "physical" }

// format renders the address as printed in the boot log: four groups of
// four hex digits for virtual addresses.
func (Virtual) format(v uint64) string {
	return fmt.Sprintf("0x%04X_%04X_%04X_%04X", v>>48, (v>>32)&0xffff, (v>>16)&0xffff, v&0xffff)
}

// format renders physical addresses as a 40-bit value.
func (Physical) format(v uint64) string {
	return fmt.Sprintf("0x%02X_%04X_%04X", (v>>32)&0xff, (v>>16)&0xffff, v&0xffff)
}

// AddressType is the set of address kinds.
type AddressType interface {
	Virtual | Physical

	spaceSize() uint64
	name() string
	format(v uint64) string
}

// SpaceSize returns the size of the address space of kind T.
func SpaceSize[T AddressType]() uint64 {
	var k T
	return k.spaceSize()
}

// KindName returns "virtual" or "physical".
func KindName[T AddressType]() string {
	var k T
	return k.name()
}

// Address is an address of kind T.
//
// The zero-length T array makes the underlying types of Address[Virtual] and
// Address[Physical] differ, so that a plain conversion between them does not
// compile.
type Address[T AddressType] struct {
	_ [0]T
	v uint64
}

// NewAddress returns the address v of kind T.
//
// It fails with CapacityExceeded when v lies outside of the kind's address
// space.
func NewAddress[T AddressType](v uint64) (Address[T], error) {
	if v >= SpaceSize[T]() {
		return Address[T]{}, fmt.Errorf("%s address %#x: %w", KindName[T](), v, mmuerr.CapacityExceeded)
	}
	return Address[T]{v: v}, nil
}

// MustAddress is like NewAddress but panics on error. It is meant for
// platform constants.
func MustAddress[T AddressType](v uint64) Address[T] {
	a, err := NewAddress[T](v)
	if err != nil {
		panic(err)
	}
	return a
}

// Uint64 returns the raw value of the address.
func (a Address[T]) Uint64() uint64 {
	return a.v
}

// Add returns a+n. ok is false if the result leaves the address space.
func (a Address[T]) Add(n uint64) (addr Address[T], ok bool) {
	v := a.v + n
	if v < a.v || v >= SpaceSize[T]() {
		return Address[T]{}, false
	}
	return Address[T]{v: v}, true
}

// Sub returns a-b. ok is false if b is above a.
func (a Address[T]) Sub(b Address[T]) (n uint64, ok bool) {
	if b.v > a.v {
		return 0, false
	}
	return a.v - b.v, true
}

// Compare returns -1, 0 or +1 as a is below, equal to or above b.
func (a Address[T]) Compare(b Address[T]) int {
	switch {
	case a.v < b.v:
		return -1
	case a.v > b.v:
		return 1
	default:
		return 0
	}
}

// AlignDownPage returns the address rounded down to the nearest page
// boundary.
func (a Address[T]) AlignDownPage() Address[T] {
	return Address[T]{v: alignDown(a.v, PageSize)}
}

// AlignUpPage returns the address rounded up to the nearest page boundary.
// ok is true iff rounding up stayed within the address space.
func (a Address[T]) AlignUpPage() (addr Address[T], ok bool) {
	v, ok := alignUp(a.v, PageSize)
	if !ok || v >= SpaceSize[T]() {
		return Address[T]{}, false
	}
	return Address[T]{v: v}, true
}

// IsPageAligned returns true iff the address is page aligned.
func (a Address[T]) IsPageAligned() bool {
	return a.v&(PageSize-1) == 0
}

// OffsetIntoPage returns the offset of the address within its page.
func (a Address[T]) OffsetIntoPage() uint64 {
	return a.v & (PageSize - 1)
}

// String implements fmt.Stringer.String.
func (a Address[T]) String() string {
	var k T
	return k.format(a.v)
}

func alignDown[U constraints.Unsigned](v, align U) U {
	return v &^ (align - 1)
}

// alignUp rounds v up to align. ok is false if the addition wrapped.
func alignUp[U constraints.Unsigned](v, align U) (r U, ok bool) {
	r = (v + align - 1) &^ (align - 1)
	return r, r >= v
}
