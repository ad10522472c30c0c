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

package pagetables

import (
	"fmt"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
	"gvisor.dev/kernelvm/pkg/memory"
)

// Mapping is a single valid page found by Walk.
type Mapping struct {
	Virt memory.PageAddress[memory.Virtual]
	Phys memory.PageAddress[memory.Physical]
	Attr memory.AttributeFields
}

// Walk visits every valid page in ascending virtual order. It follows each
// level-2 descriptor to the level-3 table it points at, as the MMU does,
// rather than assuming the in-memory order of the level-3 tables. fn
// returns false to stop the walk.
func (t *Tables) Walk(fn func(Mapping) bool) error {
	base := t.physicalBase()
	for i, td := range t.lvl2 {
		if !td.Valid() {
			continue
		}
		if !td.IsTable() {
			return fmt.Errorf("level-2 entry %d holds block descriptor %#x: %w", i, uint64(td), mmuerr.UnsupportedAttributes)
		}
		next := td.Address()
		if next < base || next-base >= Lvl2Offset {
			return fmt.Errorf("level-2 entry %d points to %#x, outside of tables at %#x: %w", i, next, base, mmuerr.NotMapped)
		}
		table := &t.lvl3[(next-base)/lvl3TableSize]
		for j, d := range table {
			if !d.Valid() {
				continue
			}
			attr, err := d.Attributes()
			if err != nil {
				return err
			}
			virt, err := memory.PageAddressOf[memory.Virtual](uint64(i)<<lvl2Shift | uint64(j)<<memory.PageShift)
			if err != nil {
				return err
			}
			phys, err := memory.PageAddressOf[memory.Physical](d.Address())
			if err != nil {
				return err
			}
			if !fn(Mapping{Virt: virt, Phys: phys, Attr: attr}) {
				return nil
			}
		}
	}
	return nil
}

// Run is a maximal sequence of pages that are contiguous both virtually and
// physically and share attributes.
type Run struct {
	Virt memory.Region[memory.Virtual]
	Phys memory.Region[memory.Physical]
	Attr memory.AttributeFields
}

// Runs walks the tables and coalesces the result into runs.
func (t *Tables) Runs() ([]Run, error) {
	type pending struct {
		first Mapping
		pages uint64
	}
	var (
		runs []Run
		cur  *pending
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		virt, err := memory.RegionFromPages(cur.first.Virt, cur.pages)
		if err != nil {
			return err
		}
		phys, err := memory.RegionFromPages(cur.first.Phys, cur.pages)
		if err != nil {
			return err
		}
		runs = append(runs, Run{Virt: virt, Phys: phys, Attr: cur.first.Attr})
		cur = nil
		return nil
	}

	var flushErr error
	err := t.Walk(func(m Mapping) bool {
		if cur != nil && m.Attr == cur.first.Attr &&
			m.Virt.Uint64() == cur.first.Virt.Uint64()+cur.pages<<memory.PageShift &&
			m.Phys.Uint64() == cur.first.Phys.Uint64()+cur.pages<<memory.PageShift {
			cur.pages++
			return true
		}
		if flushErr = flush(); flushErr != nil {
			return false
		}
		cur = &pending{first: m, pages: 1}
		return true
	})
	if err != nil {
		return nil, err
	}
	if flushErr != nil {
		return nil, flushErr
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return runs, nil
}
