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

package memory

import (
	"fmt"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
)

// MMIODescriptor is a physical device register window awaiting a virtual
// placement. Neither start nor size need to be page aligned.
type MMIODescriptor struct {
	start Address[Physical]
	size  uint64
}

// NewMMIODescriptor returns the descriptor of size bytes at start.
func NewMMIODescriptor(start Address[Physical], size uint64) (MMIODescriptor, error) {
	if size == 0 {
		return MMIODescriptor{}, fmt.Errorf("MMIO window at %v: %w", start, mmuerr.RegionSizeMismatch)
	}
	if _, ok := start.Add(size - 1); !ok {
		return MMIODescriptor{}, fmt.Errorf("MMIO window at %v of %#x bytes: %w", start, size, mmuerr.CapacityExceeded)
	}
	return MMIODescriptor{start: start, size: size}, nil
}

// MustMMIODescriptor is like NewMMIODescriptor on raw values but panics on
// error. It is meant for platform constants.
func MustMMIODescriptor(start, size uint64) MMIODescriptor {
	d, err := NewMMIODescriptor(MustAddress[Physical](start), size)
	if err != nil {
		panic(err)
	}
	return d
}

// Start returns the first register address.
func (d MMIODescriptor) Start() Address[Physical] {
	return d.start
}

// Size returns the size of the window in bytes.
func (d MMIODescriptor) Size() uint64 {
	return d.size
}

// EndInclusive returns the last register address.
func (d MMIODescriptor) EndInclusive() Address[Physical] {
	return Address[Physical]{v: d.start.v + d.size - 1}
}

// PageRegion returns the smallest region of whole pages covering the
// window.
func (d MMIODescriptor) PageRegion() Region[Physical] {
	start := PageAddress[Physical]{addr: d.start.AlignDownPage()}
	end, _ := alignUp(d.start.v+d.size, PageSize)
	return Region[Physical]{start: start, pages: (end - start.addr.v) >> PageShift}
}

// String implements fmt.Stringer.String.
func (d MMIODescriptor) String() string {
	return fmt.Sprintf("%v..%v", d.start, d.EndInclusive())
}
