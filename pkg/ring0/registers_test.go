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
	"testing"

	"gvisor.dev/kernelvm/pkg/errors"
	"gvisor.dev/kernelvm/pkg/memory"
)

func TestConstants(t *testing.T) {
	if MAIRValue != 0xFF04 {
		t.Errorf("MAIRValue = %#x, want 0xff04", MAIRValue)
	}
	if got := T0SZ(); got != 34 {
		t.Errorf("T0SZ = %d, want 34", got)
	}
	// TBI0, IPS=40 bits, TG0=64KiB, SH0 inner, WBWA walks, EPD1, T0SZ=34.
	if got, want := TCRValue(0b010), uint64(0x22_0080_7522); got != want {
		t.Errorf("TCRValue = %#x, want %#x", got, want)
	}
}

func TestEnableMMU(t *testing.T) {
	regs := NewEmulatedRegisters()
	ttbr0 := memory.MustAddress[memory.Physical](0x12_0000)
	if err := EnableMMU(regs, ttbr0); err != nil {
		t.Fatalf("EnableMMU: %v", err)
	}
	if !MMUEnabled(regs) {
		t.Errorf("SCTLR_EL1.M not set")
	}
	if got := regs.SCTLR(); got != sctlrM|sctlrC|sctlrI {
		t.Errorf("SCTLR_EL1 = %#x, want %#x", got, sctlrM|sctlrC|sctlrI)
	}
	if regs.TTBR0() != 0x12_0000 {
		t.Errorf("TTBR0_EL1 = %#x, want 0x120000", regs.TTBR0())
	}
	if regs.MAIR() != MAIRValue {
		t.Errorf("MAIR_EL1 = %#x, want %#x", regs.MAIR(), MAIRValue)
	}
	if regs.TCR() != TCRValue(EmulatedMMFR0) {
		t.Errorf("TCR_EL1 = %#x, want %#x", regs.TCR(), TCRValue(EmulatedMMFR0))
	}
	if d, i := regs.Barriers(); d < 1 || i < 2 {
		t.Errorf("got %d DSB and %d ISB, want at least 1 and 2", d, i)
	}
}

func TestEnableMMUFailures(t *testing.T) {
	ttbr0 := memory.MustAddress[memory.Physical](0x12_0000)

	t.Run("already enabled", func(t *testing.T) {
		regs := NewEmulatedRegisters()
		regs.SetSCTLR(sctlrM)
		if err := EnableMMU(regs, ttbr0); !errors.IsKind(err, errors.HardwareEnableFailed) {
			t.Errorf("EnableMMU = %v, want HardwareEnableFailed", err)
		}
	})

	t.Run("no 64 KiB granule", func(t *testing.T) {
		regs := NewEmulatedRegisters()
		regs.SetIDAA64MMFR0(0b1111<<24 | 0b0010)
		if err := EnableMMU(regs, ttbr0); !errors.IsKind(err, errors.HardwareEnableFailed) {
			t.Errorf("EnableMMU = %v, want HardwareEnableFailed", err)
		}
		if MMUEnabled(regs) || regs.TTBR0() != 0 {
			t.Errorf("registers written despite failure")
		}
	})
}

func TestLocalIRQsMasked(t *testing.T) {
	regs := NewEmulatedRegisters()
	if !LocalIRQsMasked(regs) {
		t.Errorf("IRQs unmasked at reset")
	}
	regs.UnmaskIRQs()
	if LocalIRQsMasked(regs) {
		t.Errorf("IRQs masked after UnmaskIRQs")
	}
	regs.MaskIRQs()
	if !LocalIRQsMasked(regs) {
		t.Errorf("IRQs unmasked after MaskIRQs")
	}
}
