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

// Package pgalloc hands out virtual pages from the window reserved for
// MMIO remapping.
package pgalloc

import (
	"fmt"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/memory"
)

// An Allocator allocates contiguous runs of virtual pages from a window. It
// only advances: pages are never returned.
//
// Allocator is not synchronized; the owner serializes access.
type Allocator struct {
	// window is the whole reserved region. It is valid iff initialized.
	window memory.Region[memory.Virtual]

	// free is the unallocated tail of window. free.NumPages() == 0 once
	// the window is exhausted.
	free memory.Region[memory.Virtual]

	initialized bool
}

// Init must be called on zero-value Allocators before first use. It may be
// called only once.
func (a *Allocator) Init(window memory.Region[memory.Virtual]) error {
	if a.initialized {
		return fmt.Errorf("MMIO virtual address allocator: %w", mmuerr.DoubleInit)
	}
	if window.NumPages() == 0 {
		return fmt.Errorf("empty MMIO remap window: %w", mmuerr.RegionSizeMismatch)
	}
	a.window = window
	a.free = window
	a.initialized = true
	return nil
}

// Alloc returns the next pages contiguous pages of the window.
//
// On failure the allocator is unchanged.
//
// Preconditions: pages > 0.
func (a *Allocator) Alloc(pages int) (memory.Region[memory.Virtual], error) {
	if !a.initialized {
		return memory.Region[memory.Virtual]{}, fmt.Errorf("MMIO virtual address allocator: %w", mmuerr.NotInitialized)
	}
	if pages <= 0 {
		return memory.Region[memory.Virtual]{}, fmt.Errorf("allocating %d pages: %w", pages, mmuerr.RegionSizeMismatch)
	}
	if uint64(pages) > a.free.NumPages() {
		return memory.Region[memory.Virtual]{}, fmt.Errorf("allocating %d pages with %d of %d left in %v: %w",
			pages, a.free.NumPages(), a.window.NumPages(), a.window, mmuerr.OutOfVirtualAddressSpace)
	}
	taken, rest, err := a.free.TakeFirstNPages(uint64(pages))
	if err != nil {
		return memory.Region[memory.Virtual]{}, err
	}
	a.free = rest
	return taken, nil
}

// Remaining returns the number of pages left in the window.
func (a *Allocator) Remaining() int {
	return int(a.free.NumPages())
}
