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
	"iter"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
)

// PageAddress is an address of kind T that is a multiple of PageSize.
type PageAddress[T AddressType] struct {
	addr Address[T]
}

// NewPageAddress returns a as a page address. It fails with MisalignedRegion
// if a is not page aligned.
func NewPageAddress[T AddressType](a Address[T]) (PageAddress[T], error) {
	if !a.IsPageAligned() {
		return PageAddress[T]{}, fmt.Errorf("%s address %v: %w", KindName[T](), a, mmuerr.MisalignedRegion)
	}
	return PageAddress[T]{addr: a}, nil
}

// Page returns the page containing a.
func (a Address[T]) Page() PageAddress[T] {
	return PageAddress[T]{addr: a.AlignDownPage()}
}

// PageAddressOf returns the raw value v as a page address of kind T. It
// fails like NewAddress and NewPageAddress.
func PageAddressOf[T AddressType](v uint64) (PageAddress[T], error) {
	a, err := NewAddress[T](v)
	if err != nil {
		return PageAddress[T]{}, err
	}
	return NewPageAddress(a)
}

// MustPageAddress is like NewPageAddress on a raw value but panics on error.
// It is meant for platform constants.
func MustPageAddress[T AddressType](v uint64) PageAddress[T] {
	p, err := NewPageAddress(MustAddress[T](v))
	if err != nil {
		panic(err)
	}
	return p
}

// Addr returns the page address as a plain address.
func (p PageAddress[T]) Addr() Address[T] {
	return p.addr
}

// Uint64 returns the raw value of the page address.
func (p PageAddress[T]) Uint64() uint64 {
	return p.addr.v
}

// Offset returns the page address n pages away. ok is false if the result
// leaves the address space.
func (p PageAddress[T]) Offset(n int64) (addr PageAddress[T], ok bool) {
	delta := uint64(n) << PageShift
	if n < 0 {
		delta = uint64(-n) << PageShift
		if delta > p.addr.v {
			return PageAddress[T]{}, false
		}
		return PageAddress[T]{addr: Address[T]{v: p.addr.v - delta}}, true
	}
	a, ok := p.addr.Add(delta)
	if !ok {
		return PageAddress[T]{}, false
	}
	return PageAddress[T]{addr: a}, true
}

// String implements fmt.Stringer.String.
func (p PageAddress[T]) String() string {
	return p.addr.String()
}

// Region is a non-empty range of whole pages of kind T.
type Region[T AddressType] struct {
	start PageAddress[T]
	pages uint64
}

// NewRegion returns the region [start, endExclusive).
//
// endExclusive may be equal to the size of the address space; it is passed
// as a raw value for that reason.
func NewRegion[T AddressType](start PageAddress[T], endExclusive uint64) (Region[T], error) {
	if endExclusive&(PageSize-1) != 0 {
		return Region[T]{}, fmt.Errorf("%s region end %#x: %w", KindName[T](), endExclusive, mmuerr.MisalignedRegion)
	}
	if endExclusive <= start.addr.v {
		return Region[T]{}, fmt.Errorf("empty %s region %v..%#x: %w", KindName[T](), start, endExclusive, mmuerr.RegionSizeMismatch)
	}
	return RegionFromPages(start, (endExclusive-start.addr.v)>>PageShift)
}

// RegionFromPages returns the region of n pages beginning at start.
//
// It fails with CapacityExceeded if the region does not fit into the
// address space.
func RegionFromPages[T AddressType](start PageAddress[T], n uint64) (Region[T], error) {
	if n == 0 {
		return Region[T]{}, fmt.Errorf("empty %s region at %v: %w", KindName[T](), start, mmuerr.RegionSizeMismatch)
	}
	limit := SpaceSize[T]()
	if n > limit>>PageShift || start.addr.v+n<<PageShift > limit {
		return Region[T]{}, fmt.Errorf("%s region at %v with %d pages: %w", KindName[T](), start, n, mmuerr.CapacityExceeded)
	}
	return Region[T]{start: start, pages: n}, nil
}

// MustRegion is like NewRegion on raw values but panics on error. It is
// meant for platform constants.
func MustRegion[T AddressType](start, endExclusive uint64) Region[T] {
	r, err := NewRegion(MustPageAddress[T](start), endExclusive)
	if err != nil {
		panic(err)
	}
	return r
}

// Start returns the first page of the region.
func (r Region[T]) Start() PageAddress[T] {
	return r.start
}

// EndExclusive returns the raw address one past the region. It may be equal
// to the size of the address space.
func (r Region[T]) EndExclusive() uint64 {
	return r.start.addr.v + r.Size()
}

// EndInclusive returns the last address inside the region.
func (r Region[T]) EndInclusive() Address[T] {
	return Address[T]{v: r.EndExclusive() - 1}
}

// NumPages returns the number of pages in the region.
func (r Region[T]) NumPages() uint64 {
	return r.pages
}

// Size returns the size of the region in bytes.
func (r Region[T]) Size() uint64 {
	return r.pages << PageShift
}

// Contains returns true iff a lies inside the region.
func (r Region[T]) Contains(a Address[T]) bool {
	return a.v >= r.start.addr.v && a.v < r.EndExclusive()
}

// Overlaps returns true iff the two regions share at least one page.
func (r Region[T]) Overlaps(o Region[T]) bool {
	return r.start.addr.v < o.EndExclusive() && o.start.addr.v < r.EndExclusive()
}

// Page returns the i-th page of the region.
//
// Precondition: i < r.NumPages().
func (r Region[T]) Page(i uint64) PageAddress[T] {
	if i >= r.pages {
		panic(fmt.Sprintf("page %d of %d-page region", i, r.pages))
	}
	return PageAddress[T]{addr: Address[T]{v: r.start.addr.v + i<<PageShift}}
}

// Pages iterates over every page of the region in ascending order.
func (r Region[T]) Pages() iter.Seq[PageAddress[T]] {
	return func(yield func(PageAddress[T]) bool) {
		for i := uint64(0); i < r.pages; i++ {
			if !yield(r.Page(i)) {
				return
			}
		}
	}
}

// String implements fmt.Stringer.String.
func (r Region[T]) String() string {
	return fmt.Sprintf("%v..%v", r.start, r.EndInclusive())
}

// Equal returns true iff both regions cover the same pages.
func (r Region[T]) Equal(o Region[T]) bool {
	return r == o
}

// TakeFirstNPages splits off the first n pages of the region.
//
// rest is the zero Region, with NumPages() == 0, when n consumes the whole
// region. It fails with OutOfVirtualAddressSpace if n exceeds the region and
// with RegionSizeMismatch if n is zero.
func (r Region[T]) TakeFirstNPages(n uint64) (taken, rest Region[T], err error) {
	if n == 0 {
		return Region[T]{}, r, fmt.Errorf("taking 0 pages of %v: %w", r, mmuerr.RegionSizeMismatch)
	}
	if n > r.pages {
		return Region[T]{}, r, fmt.Errorf("taking %d pages of %d-page region %v: %w", n, r.pages, r, mmuerr.OutOfVirtualAddressSpace)
	}
	taken = Region[T]{start: r.start, pages: n}
	if n < r.pages {
		rest = Region[T]{start: r.Page(n), pages: r.pages - n}
	}
	return taken, rest, nil
}

// IdentityPhys returns the physical region at the same addresses as the
// virtual region r. The kernel image is identity mapped, and the virtual
// address space is smaller than the physical one, so this cannot fail.
func IdentityPhys(r Region[Virtual]) Region[Physical] {
	return Region[Physical]{
		start: PageAddress[Physical]{addr: Address[Physical]{v: r.start.addr.v}},
		pages: r.pages,
	}
}
