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

package ring0

import (
	"gvisor.dev/kernelvm/pkg/sync"
)

// Reset values of the emulated ID and PSTATE registers.
const (
	// EmulatedMMFR0 reports a 40-bit physical address range and the 64 KiB
	// granule, like a Cortex-A53.
	EmulatedMMFR0 = 0b0010

	// EmulatedDAIF has all exceptions masked, as on entry to the kernel.
	EmulatedDAIF = 0b1111 << 6
)

// EmulatedRegisters is an in-memory SystemRegisters. It backs hosted builds
// and tests, where the real registers are not accessible.
type EmulatedRegisters struct {
	mu sync.Mutex

	mair, tcr, ttbr0, sctlr uint64
	mmfr0, daif             uint64

	dataBarriers        int
	instructionBarriers int
}

// NewEmulatedRegisters returns registers in their reset state.
func NewEmulatedRegisters() *EmulatedRegisters {
	return &EmulatedRegisters{mmfr0: EmulatedMMFR0, daif: EmulatedDAIF}
}

// MAIR implements SystemRegisters.MAIR.
func (r *EmulatedRegisters) MAIR() uint64 { return r.get(&r.mair) }

// SetMAIR implements SystemRegisters.SetMAIR.
func (r *EmulatedRegisters) SetMAIR(v uint64) { r.set(&r.mair, v) }

// TCR implements SystemRegisters.TCR.
func (r *EmulatedRegisters) TCR() uint64 { return r.get(&r.tcr) }

// SetTCR implements SystemRegisters.SetTCR.
func (r *EmulatedRegisters) SetTCR(v uint64) { r.set(&r.tcr, v) }

// TTBR0 implements SystemRegisters.TTBR0.
func (r *EmulatedRegisters) TTBR0() uint64 { return r.get(&r.ttbr0) }

// SetTTBR0 implements SystemRegisters.SetTTBR0.
func (r *EmulatedRegisters) SetTTBR0(v uint64) { r.set(&r.ttbr0, v) }

// SCTLR implements SystemRegisters.SCTLR.
func (r *EmulatedRegisters) SCTLR() uint64 { return r.get(&r.sctlr) }

// SetSCTLR implements SystemRegisters.SetSCTLR.
func (r *EmulatedRegisters) SetSCTLR(v uint64) { r.set(&r.sctlr, v) }

// IDAA64MMFR0 implements SystemRegisters.IDAA64MMFR0.
func (r *EmulatedRegisters) IDAA64MMFR0() uint64 { return r.get(&r.mmfr0) }

// DAIF implements SystemRegisters.DAIF.
func (r *EmulatedRegisters) DAIF() uint64 { return r.get(&r.daif) }

// DataBarrier implements SystemRegisters.DataBarrier.
func (r *EmulatedRegisters) DataBarrier() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataBarriers++
}

// InstructionBarrier implements SystemRegisters.InstructionBarrier.
func (r *EmulatedRegisters) InstructionBarrier() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructionBarriers++
}

// SetIDAA64MMFR0 overrides the emulated ID_AA64MMFR0_EL1, to model other
// cores.
func (r *EmulatedRegisters) SetIDAA64MMFR0(v uint64) { r.set(&r.mmfr0, v) }

// MaskIRQs sets DAIF.I.
func (r *EmulatedRegisters) MaskIRQs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.daif |= daifI
}

// UnmaskIRQs clears DAIF.I.
func (r *EmulatedRegisters) UnmaskIRQs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.daif &^= daifI
}

// Barriers returns the number of data and instruction barriers issued.
func (r *EmulatedRegisters) Barriers() (data, instruction int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataBarriers, r.instructionBarriers
}

func (r *EmulatedRegisters) get(reg *uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *reg
}

func (r *EmulatedRegisters) set(reg *uint64, v uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*reg = v
}
