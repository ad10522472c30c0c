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

// Package mapping keeps the record of every mapping the kernel made, for
// boot diagnostics and for sharing MMIO pages between devices.
package mapping

import (
	"fmt"
	"slices"

	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/mohae/deepcopy"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/memory"
)

const (
	// Capacity is the maximum number of rows. Boot maps three kernel
	// segments plus one row per distinct MMIO page.
	Capacity = 12

	// MaxNamesPerRow is the maximum number of names sharing one row.
	MaxNamesPerRow = 5
)

// Row describes one mapping and the names of everything using it.
type Row struct {
	Names     []string
	VirtStart uint64
	PhysStart uint64
	Pages     uint64
	Attr      memory.AttributeFields
}

// Virt returns the virtual region of the row.
func (r *Row) Virt() memory.Region[memory.Virtual] {
	return mustRegion[memory.Virtual](r.VirtStart, r.Pages)
}

// Phys returns the physical region of the row.
func (r *Row) Phys() memory.Region[memory.Physical] {
	return mustRegion[memory.Physical](r.PhysStart, r.Pages)
}

// mustRegion rebuilds a region that was valid when the row was added.
func mustRegion[T memory.AddressType](start, pages uint64) memory.Region[T] {
	p, err := memory.PageAddressOf[T](start)
	if err != nil {
		panic(err)
	}
	r, err := memory.RegionFromPages(p, pages)
	if err != nil {
		panic(err)
	}
	return r
}

// firstPage and endPage bound the row in virtual page numbers.
func (r *Row) firstPage() uint64 { return r.VirtStart >> memory.PageShift }
func (r *Row) endPage() uint64   { return r.firstPage() + r.Pages }

// offset is the distance from virtual to physical, modulo 2^64.
func (r *Row) offset() uint64 { return r.PhysStart - r.VirtStart }

func (r *Row) addName(name string) error {
	if slices.Contains(r.Names, name) {
		return nil
	}
	if len(r.Names) >= MaxNamesPerRow {
		return fmt.Errorf("adding %q to mapping %v shared by %v: %w", name, r.Virt(), r.Names, mmuerr.CapacityExceeded)
	}
	r.Names = append(r.Names, name)
	return nil
}

func rowLess(a, b *Row) bool {
	return a.VirtStart < b.VirtStart
}

// physKey identifies a physical region.
type physKey struct {
	start, pages uint64
}

// Record is the append-only ledger of mappings.
//
// The zero value is not usable; use New. Record is not synchronized.
type Record struct {
	// rows are ordered by virtual start.
	rows *btree.BTreeG[*Row]

	// devices indexes Device rows by physical region.
	devices *swiss.Map[physKey, *Row]
}

// New returns an empty record.
func New() *Record {
	return &Record{
		rows:    btree.NewG[*Row](2, rowLess),
		devices: swiss.NewMap[physKey, *Row](Capacity),
	}
}

// Len returns the number of rows.
func (r *Record) Len() int {
	return r.rows.Len()
}

// Full reports whether every row is in use.
func (r *Record) Full() bool {
	return r.rows.Len() >= Capacity
}

// change is the effect Add has on the record. Either cover is set, or the
// rows in absorb are replaced by merged.
type change struct {
	cover  *Row
	absorb []*Row
	merged *Row
}

// plan works out how name, virt, phys and attr fit into the record without
// modifying it.
func (r *Record) plan(name string, virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) (change, error) {
	if virt.NumPages() != phys.NumPages() {
		return change{}, fmt.Errorf("recording %q: %v and %v: %w", name, virt, phys, mmuerr.RegionSizeMismatch)
	}
	add := &Row{
		VirtStart: virt.Start().Uint64(),
		PhysStart: phys.Start().Uint64(),
		Pages:     virt.NumPages(),
		Attr:      attr,
	}
	lo, hi := add.firstPage(), add.endPage()

	var (
		c   change
		err error
	)
	r.rows.Ascend(func(row *Row) bool {
		if row.endPage() <= add.firstPage() || row.firstPage() >= add.endPage() {
			return true
		}
		if row.Attr != attr || row.offset() != add.offset() {
			err = fmt.Errorf("recording %q at %v: overlaps %q at %v: %w", name, virt, row.Names[0], row.Virt(), mmuerr.AlreadyMapped)
			return false
		}
		if row.firstPage() <= add.firstPage() && row.endPage() >= add.endPage() {
			c.cover = row
		}
		c.absorb = append(c.absorb, row)
		lo, hi = min(lo, row.firstPage()), max(hi, row.endPage())
		return true
	})
	if err != nil {
		return change{}, err
	}

	if c.cover != nil {
		c.absorb = nil
		if !slices.Contains(c.cover.Names, name) && len(c.cover.Names) >= MaxNamesPerRow {
			return change{}, fmt.Errorf("adding %q to mapping %v shared by %v: %w", name, c.cover.Virt(), c.cover.Names, mmuerr.CapacityExceeded)
		}
		return c, nil
	}

	if len(c.absorb) == 0 && r.Full() {
		return change{}, fmt.Errorf("recording %q: all %d rows used: %w", name, Capacity, mmuerr.CapacityExceeded)
	}
	merged := &Row{
		Names:     make([]string, 0, MaxNamesPerRow),
		VirtStart: lo << memory.PageShift,
		PhysStart: lo<<memory.PageShift + add.offset(),
		Pages:     hi - lo,
		Attr:      attr,
	}
	for _, row := range c.absorb {
		for _, n := range row.Names {
			if !slices.Contains(merged.Names, n) {
				merged.Names = append(merged.Names, n)
			}
		}
	}
	if !slices.Contains(merged.Names, name) {
		merged.Names = append(merged.Names, name)
	}
	if len(merged.Names) > MaxNamesPerRow {
		return change{}, fmt.Errorf("recording %q at %v: merged mapping needs %d names: %w", name, virt, len(merged.Names), mmuerr.CapacityExceeded)
	}
	c.merged = merged
	return c, nil
}

// Check reports the error Add would return, without changing the record.
func (r *Record) Check(name string, virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) error {
	_, err := r.plan(name, virt, phys, attr)
	return err
}

// Add records that name uses virt mapped to phys with attr.
//
// Adding a region that an existing row already covers with the same
// translation only adds name to that row, once. A region that overlaps rows
// with the same translation grows them into a single row. Overlapping a row
// with a different translation or attributes fails with AlreadyMapped.
// Running out of rows or names fails with CapacityExceeded. On error the
// record is unchanged.
func (r *Record) Add(name string, virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) error {
	c, err := r.plan(name, virt, phys, attr)
	if err != nil {
		return err
	}
	if c.cover != nil {
		return c.cover.addName(name)
	}
	for _, row := range c.absorb {
		r.rows.Delete(row)
		k := physKey{row.PhysStart, row.Pages}
		if cur, ok := r.devices.Get(k); ok && cur == row {
			r.devices.Delete(k)
		}
	}
	r.rows.ReplaceOrInsert(c.merged)
	if attr.MemAttributes == memory.Device {
		k := physKey{c.merged.PhysStart, c.merged.Pages}
		if !r.devices.Has(k) {
			r.devices.Put(k, c.merged)
		}
	}
	return nil
}

// FindMMIODuplicate looks for a Device row whose physical region is the
// page-rounded region of desc. If there is one, name is added to it and the
// row's first virtual page is returned.
func (r *Record) FindMMIODuplicate(desc memory.MMIODescriptor, name string) (memory.PageAddress[memory.Virtual], bool, error) {
	pr := desc.PageRegion()
	row, ok := r.devices.Get(physKey{pr.Start().Uint64(), pr.NumPages()})
	if !ok {
		return memory.PageAddress[memory.Virtual]{}, false, nil
	}
	if err := row.addName(name); err != nil {
		return memory.PageAddress[memory.Virtual]{}, false, err
	}
	return row.Virt().Start(), true, nil
}

// Ascend calls fn for each row in virtual address order until fn returns
// false. fn must not retain or modify the row.
func (r *Record) Ascend(fn func(*Row) bool) {
	r.rows.Ascend(func(row *Row) bool { return fn(row) })
}

// Snapshot returns a copy of all rows in virtual address order that shares
// no memory with the record.
func (r *Record) Snapshot() []Row {
	rows := make([]Row, 0, r.rows.Len())
	r.Ascend(func(row *Row) bool {
		rows = append(rows, *row)
		return true
	})
	return deepcopy.Copy(rows).([]Row)
}
