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

// Package rpi3 describes the Raspberry Pi 3 platform: the kernel's virtual
// memory layout, its devices and the kernel singletons.
package rpi3

import (
	"gvisor.dev/kernelvm/pkg/kernel"
	"gvisor.dev/kernelvm/pkg/kernel/driver"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/mmu"
	"gvisor.dev/kernelvm/pkg/ring0"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
)

// Kernel image layout. The boot core's stack grows down from the start of
// code.
const (
	BootCoreStackStart = 0x0
	CodeStart          = 0x8_0000
	DataStart          = 0x9_0000
	MMIORemapStart     = 0xF_0000
	MMIORemapSize      = 8 << 20
	MMIORemapEnd       = MMIORemapStart + MMIORemapSize
)

// Names of the kernel segments in the mapping record.
const (
	BootCoreStackName = "Kernel boot-core stack"
	CodeName          = "Kernel code and RO data"
	DataName          = "Kernel data and bss"
)

// Segments returns the kernel image segments. They are identity mapped.
func Segments() []pagetables.Segment {
	return []pagetables.Segment{
		pagetables.IdentitySegment(BootCoreStackName, memory.MustRegion[memory.Virtual](BootCoreStackStart, CodeStart), memory.DataAttributes),
		pagetables.IdentitySegment(CodeName, memory.MustRegion[memory.Virtual](CodeStart, DataStart), memory.CodeAttributes),
		pagetables.IdentitySegment(DataName, memory.MustRegion[memory.Virtual](DataStart, MMIORemapStart), memory.DataAttributes),
	}
}

// Layout returns the kernel address space reservation.
func Layout() mmu.Layout {
	return mmu.Layout{
		Segments:  Segments(),
		MMIORemap: memory.MustRegion[memory.Virtual](MMIORemapStart, MMIORemapEnd),
	}
}

// kernelTables are the kernel's translation tables. The precomputing tool
// overwrites their image in the kernel binary.
var kernelTables pagetables.Tables

// physTablesBase is the translation base patched in by the precomputing
// tool. It is zero in unpatched binaries.
var physTablesBase uint64

// Symbols patched by the precomputing tool.
const (
	KernelTablesSymbol   = "gvisor.dev/kernelvm/pkg/platform/rpi3.kernelTables"
	PhysTablesBaseSymbol = "gvisor.dev/kernelvm/pkg/platform/rpi3.physTablesBase"
)

// KernelTables returns the kernel's translation tables.
func KernelTables() *pagetables.Tables {
	return &kernelTables
}

// PhysTablesBase returns the patched translation base.
func PhysTablesBase() (memory.Address[memory.Physical], error) {
	return memory.NewAddress[memory.Physical](physTablesBase)
}

// NewKernel returns the kernel singletons for tables programmed through
// regs, with the platform's drivers registered.
func NewKernel(tables *pagetables.Tables, regs ring0.SystemRegisters) (*kernel.Kernel, error) {
	state := &kernel.StateManager{}
	log.SetPhaseSource(func() string { return state.Phase().String() })
	m, err := mmu.New(mmu.Config{
		Table:    tables,
		Hardware: regs,
		Layout:   Layout(),
		Guard:    state.Guard(regs),
	})
	if err != nil {
		return nil, err
	}
	drivers := &driver.Manager{}
	for _, d := range Descriptors(m) {
		drivers.Register(d)
	}
	return &kernel.Kernel{
		MMU:     m,
		Drivers: drivers,
		State:   state,
	}, nil
}
