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

// Package pagetables implements the kernel's arm64 translation tables for
// the 64 KiB granule.
//
// The kernel's virtual address space is covered by NumTables level-2
// descriptors of 512 MiB each, every one pointing to a level-3 table of
// 8192 page descriptors. Tables has a single in-memory layout which is also
// its byte image: all level-3 tables followed by the level-2 array. The
// offline table generator produces the same image through Precompute.
package pagetables

import (
	"fmt"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/memory"
)

const (
	// lvl2Shift is the log2 of the span of one level-2 descriptor.
	lvl2Shift = 29

	// Lvl2Span is the span of one level-2 descriptor.
	Lvl2Span = 1 << lvl2Shift

	// EntriesPerTable is the number of descriptors in one level-3 table.
	EntriesPerTable = Lvl2Span >> memory.PageShift

	// NumTables is the number of level-2 descriptors and level-3 tables
	// needed to cover the kernel's virtual address space.
	NumTables = memory.KernelVirtAddrSpaceSize >> lvl2Shift

	// lvl3TableSize is the size in bytes of one level-3 table.
	lvl3TableSize = EntriesPerTable * 8

	// Lvl2Offset is the byte offset of the level-2 array in the image. The
	// translation base register is programmed with the image's physical
	// address plus Lvl2Offset.
	Lvl2Offset = NumTables * lvl3TableSize

	// ImageSize is the size in bytes of the table image.
	ImageSize = Lvl2Offset + NumTables*8
)

// The virtual address space must be an exact, non-zero multiple of the
// level-2 span.
var _ [0]struct{} = [memory.KernelVirtAddrSpaceSize % Lvl2Span]struct{}{}

const _ uint64 = NumTables - 1

// Each level-3 table is exactly one granule, so consecutive tables stay
// granule aligned.
var _ [0]struct{} = [lvl3TableSize - memory.PageSize]struct{}{}

// Translator translates the location of a Tables to the physical address
// the MMU sees.
type Translator interface {
	// PhysicalFor returns the physical address of the first byte of t.
	PhysicalFor(t *Tables) uint64
}

// FixedTranslator places tables at a fixed physical address, regardless of
// where the Go value lives. It is used when the image is built on a host.
type FixedTranslator uint64

// PhysicalFor implements Translator.PhysicalFor.
func (f FixedTranslator) PhysicalFor(*Tables) uint64 {
	return uint64(f)
}

// Tables is a complete set of kernel translation tables.
//
// The zero value is a set of empty tables placed by the identity
// translator; Init must be called before MapAt.
type Tables struct {
	lvl3 [NumTables][EntriesPerTable]PageDescriptor
	lvl2 [NumTables]TableDescriptor

	// translator is not part of the image.
	translator Translator

	// initialized is set by Init. It is not part of the image; a patched
	// image is unmarked until Init validates it.
	initialized bool
}

// New returns empty tables placed by t. A nil t selects the identity
// translator.
func New(t Translator) *Tables {
	return &Tables{translator: t}
}

// SetTranslator changes the placement of tables that have not been
// initialized.
func (t *Tables) SetTranslator(tr Translator) {
	if t.initialized {
		panic("pagetables: SetTranslator after Init")
	}
	t.translator = tr
}

func (t *Tables) physicalBase() uint64 {
	if t.translator == nil {
		return identityTranslator{}.PhysicalFor(t)
	}
	return t.translator.PhysicalFor(t)
}

// checkedBase returns the physical address of the image, checking that it
// is granule aligned and fits into the physical address space.
func (t *Tables) checkedBase() (uint64, error) {
	base := t.physicalBase()
	if base&(memory.PageSize-1) != 0 {
		return 0, fmt.Errorf("tables at %#x: %w", base, mmuerr.MisalignedRegion)
	}
	if base >= memory.PhysicalAddrSpaceSize || memory.PhysicalAddrSpaceSize-base < ImageSize {
		return 0, fmt.Errorf("tables at %#x: %w", base, mmuerr.CapacityExceeded)
	}
	return base, nil
}

// Init points each level-2 descriptor at its level-3 table and marks the
// tables initialized.
//
// On tables whose image was patched in, Init only accepts level-2
// descriptors that already hold exactly these values.
func (t *Tables) Init() error {
	if t.initialized {
		return fmt.Errorf("translation tables: %w", mmuerr.DoubleInit)
	}
	base, err := t.checkedBase()
	if err != nil {
		return err
	}
	var want [NumTables]TableDescriptor
	for i := range want {
		want[i] = newTableDescriptor(base + uint64(i)*lvl3TableSize)
		if d := t.lvl2[i]; d != 0 && d != want[i] {
			return fmt.Errorf("level-2 entry %d holds %#x, want %#x: %w", i, uint64(d), uint64(want[i]), mmuerr.AlreadyMapped)
		}
	}
	t.lvl2 = want
	t.initialized = true
	return nil
}

// Initialized returns true iff Init succeeded.
func (t *Tables) Initialized() bool {
	return t.initialized
}

// PhysBaseAddress returns the address to program into TTBR0_EL1.
func (t *Tables) PhysBaseAddress() (memory.Address[memory.Physical], error) {
	if !t.initialized {
		return memory.Address[memory.Physical]{}, fmt.Errorf("translation tables: %w", mmuerr.NotInitialized)
	}
	return memory.NewAddress[memory.Physical](t.physicalBase() + Lvl2Offset)
}

// entry returns the level-3 descriptor for the virtual page at v.
//
// Precondition: v < NumTables*Lvl2Span.
func (t *Tables) entry(v uint64) *PageDescriptor {
	return &t.lvl3[v>>lvl2Shift][(v>>memory.PageShift)&(EntriesPerTable-1)]
}

// MapAt maps the pages of virt to the pages of phys with attr.
//
// Either every page is mapped or none is. A page that already maps to the
// same output page with the same attributes is left as is; any other
// existing mapping fails with AlreadyMapped.
//
// Precondition: IRQs are masked and the caller serializes access.
func (t *Tables) MapAt(virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) error {
	if !t.initialized {
		return fmt.Errorf("translation tables: %w", mmuerr.NotInitialized)
	}
	if virt.NumPages() != phys.NumPages() {
		return fmt.Errorf("mapping %v (%d pages) to %v (%d pages): %w", virt, virt.NumPages(), phys, phys.NumPages(), mmuerr.RegionSizeMismatch)
	}
	if err := attr.Validate(); err != nil {
		return err
	}
	if virt.EndExclusive() > NumTables*Lvl2Span {
		return fmt.Errorf("mapping %v: beyond %d level-2 entries: %w", virt, NumTables, mmuerr.CapacityExceeded)
	}

	for i := uint64(0); i < virt.NumPages(); i++ {
		v, p := virt.Page(i).Uint64(), phys.Page(i).Uint64()
		d := *t.entry(v)
		if d.Valid() && d != newPageDescriptor(p, attr) {
			return fmt.Errorf("virtual page %#x maps %v: %w", v, d, mmuerr.AlreadyMapped)
		}
	}
	for i := uint64(0); i < virt.NumPages(); i++ {
		v, p := virt.Page(i).Uint64(), phys.Page(i).Uint64()
		*t.entry(v) = newPageDescriptor(p, attr)
	}
	return nil
}

// lookup returns the valid descriptor for the virtual page at v.
func (t *Tables) lookup(v uint64) (PageDescriptor, error) {
	if v >= NumTables*Lvl2Span {
		return 0, fmt.Errorf("virtual address %#x: %w", v, mmuerr.NotMapped)
	}
	d := *t.entry(v)
	if !d.Valid() {
		return 0, fmt.Errorf("virtual page %#x: %w", v&^(memory.PageSize-1), mmuerr.NotMapped)
	}
	return d, nil
}

// TryVirtPageToPhysPage returns the physical page mapped at page.
func (t *Tables) TryVirtPageToPhysPage(page memory.PageAddress[memory.Virtual]) (memory.PageAddress[memory.Physical], error) {
	d, err := t.lookup(page.Uint64())
	if err != nil {
		return memory.PageAddress[memory.Physical]{}, err
	}
	return memory.PageAddressOf[memory.Physical](d.Address())
}

// TryVirtToPhys translates addr through the tables.
func (t *Tables) TryVirtToPhys(addr memory.Address[memory.Virtual]) (memory.Address[memory.Physical], error) {
	page, err := t.TryVirtPageToPhysPage(addr.Page())
	if err != nil {
		return memory.Address[memory.Physical]{}, err
	}
	return memory.NewAddress[memory.Physical](page.Uint64() + addr.OffsetIntoPage())
}

// TryPageAttributes returns the attributes of the mapping at page.
func (t *Tables) TryPageAttributes(page memory.PageAddress[memory.Virtual]) (memory.AttributeFields, error) {
	d, err := t.lookup(page.Uint64())
	if err != nil {
		return memory.AttributeFields{}, err
	}
	return d.Attributes()
}
