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

package kernel

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/kernelvm/pkg/ring0"
	"gvisor.dev/kernelvm/pkg/sync"
)

// Phase is the execution phase of the kernel.
type Phase uint32

// Phases, in the only order they are entered.
const (
	// Init is single-core kernel initialization.
	Init Phase = iota

	// SingleCoreMain is the main loop on the boot core.
	SingleCoreMain

	// MultiCoreMain means secondary cores are running.
	MultiCoreMain
)

// String implements fmt.Stringer.String.
func (p Phase) String() string {
	switch p {
	case Init:
		return "Init"
	case SingleCoreMain:
		return "SingleCoreMain"
	case MultiCoreMain:
		return "MultiCoreMain"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// StateManager tracks the kernel phase.
//
// The zero value is in phase Init.
type StateManager struct {
	phase atomic.Uint32
}

// Phase returns the current phase.
func (s *StateManager) Phase() Phase {
	return Phase(s.phase.Load())
}

// IsInit returns true during kernel initialization.
func (s *StateManager) IsInit() bool {
	return s.Phase() == Init
}

func (s *StateManager) transition(from, to Phase) {
	if !s.phase.CompareAndSwap(uint32(from), uint32(to)) {
		panic(fmt.Sprintf("kernel: transition to %v from %v", to, s.Phase()))
	}
}

// TransitionToSingleCoreMain ends kernel initialization.
func (s *StateManager) TransitionToSingleCoreMain() {
	s.transition(Init, SingleCoreMain)
}

// TransitionToMultiCoreMain marks secondary cores as started.
func (s *StateManager) TransitionToMultiCoreMain() {
	s.transition(SingleCoreMain, MultiCoreMain)
}

// Guard returns a guard that permits writes during kernel initialization
// while IRQs are masked on regs' core.
func (s *StateManager) Guard(regs ring0.SystemRegisters) sync.Guard {
	return sync.GuardFuncs{
		InInit:     s.IsInit,
		IRQsMasked: func() bool { return ring0.LocalIRQsMasked(regs) },
	}
}
