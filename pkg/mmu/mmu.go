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

// Package mmu is the kernel's interface to virtual memory. It owns the
// translation tables, the MMIO remap allocator and the mapping record, and
// drives the address space through its one-way bring-up states.
package mmu

import (
	"fmt"
	"io"
	"time"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/mmu/mapping"
	"gvisor.dev/kernelvm/pkg/mmu/pgalloc"
	"gvisor.dev/kernelvm/pkg/ring0"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
	"gvisor.dev/kernelvm/pkg/sync"
)

// TranslationTable is a set of translation tables the MMU can walk.
//
// Implementations are not synchronized; Manager serializes access.
type TranslationTable interface {
	// Init prepares the tables for MapAt and for PhysBaseAddress. It may
	// be called only once.
	Init() error

	// Initialized reports whether Init succeeded.
	Initialized() bool

	// PhysBaseAddress returns the value for the translation base register.
	PhysBaseAddress() (memory.Address[memory.Physical], error)

	// MapAt maps virt to phys with attr, atomically.
	MapAt(virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) error

	// TryVirtToPhys translates a virtual address.
	TryVirtToPhys(addr memory.Address[memory.Virtual]) (memory.Address[memory.Physical], error)

	// TryPageAttributes returns the attributes a virtual page is mapped with.
	TryPageAttributes(page memory.PageAddress[memory.Virtual]) (memory.AttributeFields, error)
}

// Tables must satisfy TranslationTable.
var _ TranslationTable = (*pagetables.Tables)(nil)

// State is the bring-up state of the kernel address space.
type State uint32

// States, in the only order they are entered.
const (
	// Uninitialized is the state at boot.
	Uninitialized State = iota

	// TablesPrepared means the kernel image is mapped.
	TablesPrepared

	// TranslationEnabled means the MMU and caches are on.
	TranslationEnabled

	// AllocatorReady means MapMMIO may be used.
	AllocatorReady
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case TablesPrepared:
		return "TablesPrepared"
	case TranslationEnabled:
		return "TranslationEnabled"
	case AllocatorReady:
		return "AllocatorReady"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Layout is the platform's reservation of the kernel address space.
type Layout struct {
	// Segments are the parts of the kernel image, in ascending virtual
	// order, with their placement and policy attributes.
	Segments []pagetables.Segment

	// MMIORemap is the virtual window reserved for MapMMIO.
	MMIORemap memory.Region[memory.Virtual]
}

// Validate checks that segments are disjoint from each other and from the
// MMIO remap window.
func (l *Layout) Validate() error {
	if l.MMIORemap.NumPages() == 0 {
		return fmt.Errorf("no MMIO remap window: %w", mmuerr.RegionSizeMismatch)
	}
	for i, s := range l.Segments {
		if s.Virt.Overlaps(l.MMIORemap) {
			return fmt.Errorf("segment %q at %v overlaps MMIO remap window %v: %w", s.Name, s.Virt, l.MMIORemap, mmuerr.ReservedWindowViolation)
		}
		for _, o := range l.Segments[:i] {
			if s.Virt.Overlaps(o.Virt) {
				return fmt.Errorf("segments %q and %q overlap: %w", o.Name, s.Name, mmuerr.AlreadyMapped)
			}
		}
	}
	return nil
}

// Config configures a Manager.
type Config struct {
	// Table receives all mappings.
	Table TranslationTable

	// Hardware is used to turn the MMU on.
	Hardware ring0.SystemRegisters

	// Layout is the platform's address space reservation.
	Layout Layout

	// Guard permits mutation only during kernel init with IRQs masked.
	Guard sync.Guard
}

// addressSpace is the state guarded by Manager.as.
type addressSpace struct {
	state  State
	table  TranslationTable
	alloc  pgalloc.Allocator
	record *mapping.Record

	// binaryRecorded is set once the kernel segments are in the record.
	binaryRecorded bool
}

// Manager orchestrates the kernel address space.
type Manager struct {
	hw     ring0.SystemRegisters
	layout Layout
	as     *sync.InitStateLock[addressSpace]

	// dedupLog reports MMIO page sharing at most once per second.
	dedupLog log.Logger
}

// New returns a Manager in state Uninitialized.
func New(c Config) (*Manager, error) {
	if c.Table == nil || c.Hardware == nil || c.Guard == nil {
		return nil, fmt.Errorf("incomplete MMU configuration: %w", mmuerr.NotInitialized)
	}
	if err := c.Layout.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		hw:     c.Hardware,
		layout: c.Layout,
		as: sync.NewInitStateLock(c.Guard, addressSpace{
			table:  c.Table,
			record: mapping.New(),
		}),
		dedupLog: log.BasicRateLimitedLogger(time.Second),
	}, nil
}

// State returns the current bring-up state.
func (m *Manager) State() State {
	return sync.ReadValue(m.as, func(as *addressSpace) State { return as.state })
}

// advance moves the address space from one of from to to. Any other
// transition is a kernel bug.
func (as *addressSpace) advance(op string, to State, from ...State) {
	for _, f := range from {
		if as.state == f {
			as.state = to
			return
		}
	}
	panic(fmt.Sprintf("mmu: %s in state %v", op, as.state))
}

// require panics unless the address space is in one of states.
func (as *addressSpace) require(op string, states ...State) {
	for _, s := range states {
		if as.state == s {
			return
		}
	}
	panic(fmt.Sprintf("mmu: %s in state %v", op, as.state))
}

func (m *Manager) mapAt(as *addressSpace, name string, virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) error {
	if virt.Overlaps(m.layout.MMIORemap) {
		return fmt.Errorf("mapping %q at %v: inside MMIO remap window %v: %w", name, virt, m.layout.MMIORemap, mmuerr.ReservedWindowViolation)
	}
	if err := as.record.Check(name, virt, phys, attr); err != nil {
		return err
	}
	if err := as.table.MapAt(virt, phys, attr); err != nil {
		return fmt.Errorf("mapping %q: %w", name, err)
	}
	return as.record.Add(name, virt, phys, attr)
}

// MapAt maps virt to phys with attr and records the mapping under name.
//
// The MMIO remap window is reserved for MapMMIO; regions touching it fail
// with ReservedWindowViolation.
func (m *Manager) MapAt(name string, virt memory.Region[memory.Virtual], phys memory.Region[memory.Physical], attr memory.AttributeFields) error {
	return sync.WriteErr(m.as, func(as *addressSpace) error {
		return m.mapAt(as, name, virt, phys, attr)
	})
}

// MapMMIO maps the registers described by desc and returns the virtual
// address of desc's first byte. Devices whose registers share a physical
// page share its mapping.
func (m *Manager) MapMMIO(name string, desc memory.MMIODescriptor) (memory.Address[memory.Virtual], error) {
	var page memory.PageAddress[memory.Virtual]
	err := sync.WriteErr(m.as, func(as *addressSpace) error {
		as.require("MapMMIO", AllocatorReady)

		virt, dup, err := as.record.FindMMIODuplicate(desc, name)
		if err != nil {
			return err
		}
		if dup {
			m.dedupLog.Infof("%s shares MMIO page %v", name, virt)
			page = virt
			return nil
		}

		if as.record.Full() {
			return fmt.Errorf("remapping %q at %v: mapping record full: %w", name, desc, mmuerr.CapacityExceeded)
		}
		phys := desc.PageRegion()
		region, err := as.alloc.Alloc(int(phys.NumPages()))
		if err != nil {
			return fmt.Errorf("remapping %q at %v: %w", name, desc, err)
		}
		if err := as.table.MapAt(region, phys, memory.DeviceAttributes); err != nil {
			return fmt.Errorf("remapping %q at %v: %w", name, desc, err)
		}
		if err := as.record.Add(name, region, phys, memory.DeviceAttributes); err != nil {
			return err
		}
		page = region.Start()
		return nil
	})
	if err != nil {
		return memory.Address[memory.Virtual]{}, err
	}
	addr, ok := page.Addr().Add(desc.Start().OffsetIntoPage())
	if !ok {
		return memory.Address[memory.Virtual]{}, fmt.Errorf("remapping %q: %w", name, mmuerr.CapacityExceeded)
	}
	log.Debugf("MMIO %s: %v -> %v", name, desc, addr)
	return addr, nil
}

// MapBinary initializes the tables and maps the kernel image segments. It
// returns the physical base address of the tables.
func (m *Manager) MapBinary() (memory.Address[memory.Physical], error) {
	var base memory.Address[memory.Physical]
	err := sync.WriteErr(m.as, func(as *addressSpace) error {
		as.require("MapBinary", Uninitialized)
		if err := as.table.Init(); err != nil {
			return err
		}
		for _, s := range m.layout.Segments {
			if err := m.mapAt(as, s.Name, s.Virt, s.Phys, s.Attr); err != nil {
				return err
			}
		}
		var err error
		if base, err = as.table.PhysBaseAddress(); err != nil {
			return err
		}
		as.binaryRecorded = true
		as.advance("MapBinary", TablesPrepared, Uninitialized)
		return nil
	})
	return base, err
}

// EnableAndCaching turns on translation through the tables at physBase,
// with caching. There is no way back.
//
// In the runtime lifecycle it follows MapBinary. In the precomputed
// lifecycle it is the first call: the patched tables are validated by Init
// and physBase must be their base address.
func (m *Manager) EnableAndCaching(physBase memory.Address[memory.Physical]) error {
	return sync.WriteErr(m.as, func(as *addressSpace) error {
		as.require("EnableAndCaching", Uninitialized, TablesPrepared)
		// A failed enable may be retried with the tables already checked.
		if as.state == Uninitialized && !as.table.Initialized() {
			if err := as.table.Init(); err != nil {
				return fmt.Errorf("precomputed tables: %w", err)
			}
		}
		want, err := as.table.PhysBaseAddress()
		if err != nil {
			return err
		}
		if want != physBase {
			return fmt.Errorf("enabling with tables at %v, tables are at %v: %w", physBase, want, mmuerr.HardwareEnableFailed)
		}
		if err := ring0.EnableMMU(m.hw, physBase); err != nil {
			return err
		}
		as.advance("EnableAndCaching", TranslationEnabled, Uninitialized, TablesPrepared)
		return nil
	})
}

// PostEnableInit readies MapMMIO. It runs once, right after
// EnableAndCaching.
func (m *Manager) PostEnableInit() error {
	return sync.WriteErr(m.as, func(as *addressSpace) error {
		as.require("PostEnableInit", TranslationEnabled)
		if err := as.alloc.Init(m.layout.MMIORemap); err != nil {
			return err
		}
		as.advance("PostEnableInit", AllocatorReady, TranslationEnabled)
		return nil
	})
}

// RecordPrecomputed adds the kernel segments of patched tables to the
// mapping record. Each segment must be mapped exactly as the layout says.
func (m *Manager) RecordPrecomputed() error {
	return sync.WriteErr(m.as, func(as *addressSpace) error {
		as.require("RecordPrecomputed", TranslationEnabled, AllocatorReady)
		if as.binaryRecorded {
			return fmt.Errorf("kernel segments already recorded: %w", mmuerr.DoubleInit)
		}
		for _, s := range m.layout.Segments {
			if err := verifySegment(as.table, s); err != nil {
				return err
			}
			if err := as.record.Add(s.Name, s.Virt, s.Phys, s.Attr); err != nil {
				return err
			}
		}
		as.binaryRecorded = true
		return nil
	})
}

// verifySegment checks that every page of s is mapped as s describes.
func verifySegment(t TranslationTable, s pagetables.Segment) error {
	for i := uint64(0); i < s.Virt.NumPages(); i++ {
		v, p := s.Virt.Page(i), s.Phys.Page(i)
		got, err := t.TryVirtToPhys(v.Addr())
		if err != nil {
			return fmt.Errorf("segment %q: %w", s.Name, err)
		}
		attr, err := t.TryPageAttributes(v)
		if err != nil {
			return fmt.Errorf("segment %q: %w", s.Name, err)
		}
		if got != p.Addr() || attr != s.Attr {
			return fmt.Errorf("segment %q: page %v maps %v %v, want %v %v: %w", s.Name, v, got, attr, p, s.Attr, mmuerr.AlreadyMapped)
		}
	}
	return nil
}

// TryVirtToPhys translates addr through the kernel tables.
func (m *Manager) TryVirtToPhys(addr memory.Address[memory.Virtual]) (memory.Address[memory.Physical], error) {
	var (
		phys memory.Address[memory.Physical]
		err  error
	)
	m.as.Read(func(as *addressSpace) {
		phys, err = as.table.TryVirtToPhys(addr)
	})
	return phys, err
}

// PrintMappings logs the mapping record.
func (m *Manager) PrintMappings() {
	m.as.Read(func(as *addressSpace) {
		as.record.Print()
	})
}

// WriteMappingsJSON writes the mapping record to w as a JSON array.
func (m *Manager) WriteMappingsJSON(w io.Writer) error {
	return sync.ReadValue(m.as, func(as *addressSpace) error {
		return as.record.WriteJSON(w)
	})
}

// Snapshot returns a copy of the mapping record.
func (m *Manager) Snapshot() []mapping.Row {
	return sync.ReadValue(m.as, func(as *addressSpace) []mapping.Row {
		return as.record.Snapshot()
	})
}

// MMIORemapRemaining returns the number of unallocated pages in the MMIO
// remap window.
func (m *Manager) MMIORemapRemaining() int {
	return sync.ReadValue(m.as, func(as *addressSpace) int { return as.alloc.Remaining() })
}
