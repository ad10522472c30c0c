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

// Package kernel sequences kernel initialization: bringing up virtual
// memory, then drivers, then leaving the init phase.
package kernel

import (
	"fmt"
	"io"

	"gvisor.dev/kernelvm/pkg/kernel/driver"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/mmu"
)

// Halt stops the system. On hardware it parks the core; hosted builds
// panic. Tests may replace it.
var Halt = func(reason string) {
	panic("kernel halted: " + reason)
}

// Kernel is the set of kernel singletons touched during init.
type Kernel struct {
	MMU     *mmu.Manager
	Drivers *driver.Manager
	State   *StateManager

	// FailureDump, if set, receives the mapping record as JSON when init
	// halts.
	FailureDump io.Writer
}

// InitRuntime brings the kernel up with tables built at boot. Any failure
// halts.
func (k *Kernel) InitRuntime() {
	base, err := k.MMU.MapBinary()
	if err != nil {
		k.halt("mapping kernel binary", err)
		return
	}
	if err := k.MMU.EnableAndCaching(base); err != nil {
		k.halt("enabling MMU", err)
		return
	}
	k.finishInit(false)
}

// InitPrecomputed brings the kernel up with tables that were patched into
// the image before boot. physBase is the patched translation base.
func (k *Kernel) InitPrecomputed(physBase memory.Address[memory.Physical]) {
	if err := k.MMU.EnableAndCaching(physBase); err != nil {
		k.halt("enabling MMU", err)
		return
	}
	k.finishInit(true)
}

func (k *Kernel) finishInit(precomputed bool) {
	if err := k.MMU.PostEnableInit(); err != nil {
		k.halt("initializing MMIO remap", err)
		return
	}
	if precomputed {
		if err := k.MMU.RecordPrecomputed(); err != nil {
			k.halt("recording precomputed mappings", err)
			return
		}
	}

	n := k.Drivers.InitDrivers()
	log.Infof("Drivers loaded: %d", n)
	k.Drivers.Print()
	if err := k.Drivers.EnableIRQHandlers(); err != nil {
		log.Warningf("Enabling IRQ handlers: %v", err)
	}

	log.Infof("MMU online. Special regions:")
	k.MMU.PrintMappings()
	k.State.TransitionToSingleCoreMain()
}

// halt reports err with the mappings made so far and halts.
func (k *Kernel) halt(what string, err error) {
	log.Warningf("Kernel init failed: %s: %v", what, err)
	rows := k.MMU.Snapshot()
	log.Warningf("Mappings at failure (state %v):", k.MMU.State())
	for i := range rows {
		for _, l := range rows[i].Lines() {
			log.Warningf("      %s", l)
		}
	}
	if k.FailureDump != nil {
		if err := k.MMU.WriteMappingsJSON(k.FailureDump); err != nil {
			log.Warningf("Writing mappings: %v", err)
		}
	}
	Halt(fmt.Sprintf("%s: %v", what, err))
}
