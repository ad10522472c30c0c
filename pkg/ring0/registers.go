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

// Package ring0 programs the EL1 system registers that control address
// translation on arm64.
//
// Register access goes through SystemRegisters so that the enable sequence
// can be exercised against emulated registers.
package ring0

import (
	"fmt"
	mathbits "math/bits"

	"gvisor.dev/kernelvm/pkg/bits"
	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
)

// SystemRegisters provides access to the EL1 system registers.
//
// Setters take effect for later instructions only after an
// InstructionBarrier.
type SystemRegisters interface {
	// MAIR returns MAIR_EL1.
	MAIR() uint64

	// SetMAIR writes MAIR_EL1.
	SetMAIR(v uint64)

	// TCR returns TCR_EL1.
	TCR() uint64

	// SetTCR writes TCR_EL1.
	SetTCR(v uint64)

	// TTBR0 returns TTBR0_EL1.
	TTBR0() uint64

	// SetTTBR0 writes TTBR0_EL1.
	SetTTBR0(v uint64)

	// SCTLR returns SCTLR_EL1.
	SCTLR() uint64

	// SetSCTLR writes SCTLR_EL1.
	SetSCTLR(v uint64)

	// IDAA64MMFR0 returns ID_AA64MMFR0_EL1.
	IDAA64MMFR0() uint64

	// DAIF returns the PSTATE interrupt mask bits.
	DAIF() uint64

	// DataBarrier issues DSB SY.
	DataBarrier()

	// InstructionBarrier issues ISB SY.
	InstructionBarrier()
}

// MAIR_EL1 attributes.
const (
	// mairDeviceNGnRE is Device-nGnRE memory.
	mairDeviceNGnRE = 0x04

	// mairNormalWB is normal memory, outer and inner write-back
	// non-transient, read and write allocate.
	mairNormalWB = 0xFF

	// MAIRValue places each attribute at the index page descriptors
	// reference.
	MAIRValue = mairDeviceNGnRE<<(8*pagetables.MAIRIndexDevice) |
		mairNormalWB<<(8*pagetables.MAIRIndexNormal)
)

// TCR_EL1 fields.
const (
	tcrT0SZShift  = 0
	tcrT0SZWidth  = 6
	tcrIRGN0Shift = 8
	tcrORGN0Shift = 10
	tcrSH0Shift   = 12
	tcrTG0Shift   = 14
	tcrIPSShift   = 32
	tcrIPSWidth   = 3
	tcrEPD1       = 1 << 23
	tcrTBI0       = 1 << 37

	// Write-back, read and write allocate cacheable.
	tcrCacheWBWA = 0b01

	tcrSHInner = 0b11

	tcrTG0KiB64 = 0b01
)

// ID_AA64MMFR0_EL1 fields.
const (
	mmfr0PARangeShift = 0
	mmfr0PARangeWidth = 4
	mmfr0TGran64Shift = 24
	mmfr0TGran64Width = 4

	// mmfr0TGran64NotSupported is the TGran64 value of cores without the
	// 64 KiB granule.
	mmfr0TGran64NotSupported = 0b1111
)

// SCTLR_EL1 bits.
const (
	sctlrM = 1 << 0
	sctlrC = 1 << 2
	sctlrI = 1 << 12
)

// daifI is the IRQ mask bit of DAIF.
const daifI = 1 << 7

// T0SZ returns the TCR_EL1.T0SZ value for the kernel's virtual address
// space.
func T0SZ() uint64 {
	return 64 - uint64(mathbits.TrailingZeros64(memory.KernelVirtAddrSpaceSize))
}

// TCRValue returns TCR_EL1 for translation through TTBR0 only, with the
// 64 KiB granule, inner shareable write-back table walks and the given
// intermediate physical address size.
func TCRValue(ips uint64) uint64 {
	v := uint64(tcrTBI0 | tcrEPD1)
	v = bits.SetField(v, tcrIPSShift, tcrIPSWidth, ips)
	v = bits.SetField(v, tcrTG0Shift, 2, tcrTG0KiB64)
	v = bits.SetField(v, tcrSH0Shift, 2, tcrSHInner)
	v = bits.SetField(v, tcrORGN0Shift, 2, tcrCacheWBWA)
	v = bits.SetField(v, tcrIRGN0Shift, 2, tcrCacheWBWA)
	return bits.SetField(v, tcrT0SZShift, tcrT0SZWidth, T0SZ())
}

// MMUEnabled returns true iff SCTLR_EL1.M is set.
func MMUEnabled(regs SystemRegisters) bool {
	return bits.IsOn(regs.SCTLR(), sctlrM)
}

// LocalIRQsMasked returns true iff IRQs are masked on the executing core.
func LocalIRQsMasked(regs SystemRegisters) bool {
	return bits.IsOn(regs.DAIF(), daifI)
}

// EnableMMU turns on address translation through the tables at ttbr0, with
// data and instruction caching.
//
// Precondition: the tables at ttbr0 identity map the code executing this
// function, and IRQs are masked.
func EnableMMU(regs SystemRegisters, ttbr0 memory.Address[memory.Physical]) error {
	if MMUEnabled(regs) {
		return fmt.Errorf("MMU already enabled: %w", mmuerr.HardwareEnableFailed)
	}
	mmfr0 := regs.IDAA64MMFR0()
	if bits.Field(mmfr0, mmfr0TGran64Shift, mmfr0TGran64Width) == mmfr0TGran64NotSupported {
		return fmt.Errorf("64 KiB translation granule not supported: %w", mmuerr.HardwareEnableFailed)
	}
	ips := bits.Field(mmfr0, mmfr0PARangeShift, mmfr0PARangeWidth)

	regs.SetMAIR(MAIRValue)
	regs.SetTTBR0(ttbr0.Uint64())
	regs.SetTCR(TCRValue(ips))

	// Tables and register writes must be complete before translation
	// starts.
	regs.DataBarrier()
	regs.InstructionBarrier()

	regs.SetSCTLR(regs.SCTLR() | sctlrM | sctlrC | sctlrI)
	regs.InstructionBarrier()

	log.Debugf("MMU enabled: TTBR0_EL1=%#x TCR_EL1=%#x MAIR_EL1=%#x", ttbr0.Uint64(), regs.TCR(), regs.MAIR())
	return nil
}
