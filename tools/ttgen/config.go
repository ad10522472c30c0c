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

package main

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/mmu"
	"gvisor.dev/kernelvm/pkg/platform/rpi3"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
)

// config describes the kernel binary to patch. Omitted fields default to
// the rpi3 platform.
type config struct {
	// TablesSymbol is the symbol of the kernel's translation tables.
	TablesSymbol string `toml:"tables_symbol"`

	// BaseSymbol is the symbol of the 64-bit translation base.
	BaseSymbol string `toml:"base_symbol"`

	// Segments are the kernel image segments, in ascending virtual order.
	Segments []segmentConfig `toml:"segment"`

	// MMIORemap is the window reserved for MMIO remapping.
	MMIORemap *regionConfig `toml:"mmio_remap"`
}

type regionConfig struct {
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`
}

type segmentConfig struct {
	Name      string `toml:"name"`
	VirtStart uint64 `toml:"virt_start"`
	VirtEnd   uint64 `toml:"virt_end"`

	// PhysStart defaults to VirtStart.
	PhysStart *uint64 `toml:"phys_start"`

	// Kind is "code" or "data".
	Kind string `toml:"kind"`
}

// loadConfig reads the config at path. An empty path selects the defaults.
func loadConfig(path string) (*config, error) {
	var c config
	if path != "" {
		md, err := toml.DecodeFile(path, &c)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Newf("config %s: unknown keys %v", path, undecoded)
		}
	}
	if c.TablesSymbol == "" {
		c.TablesSymbol = rpi3.KernelTablesSymbol
	}
	if c.BaseSymbol == "" {
		c.BaseSymbol = rpi3.PhysTablesBaseSymbol
	}
	return &c, nil
}

func (s *segmentConfig) segment() (pagetables.Segment, error) {
	var attr memory.AttributeFields
	switch s.Kind {
	case "code":
		attr = memory.CodeAttributes
	case "data":
		attr = memory.DataAttributes
	default:
		return pagetables.Segment{}, errors.Newf("segment %q: unknown kind %q", s.Name, s.Kind)
	}
	start, err := memory.PageAddressOf[memory.Virtual](s.VirtStart)
	if err != nil {
		return pagetables.Segment{}, errors.Wrapf(err, "segment %q", s.Name)
	}
	virt, err := memory.NewRegion(start, s.VirtEnd)
	if err != nil {
		return pagetables.Segment{}, errors.Wrapf(err, "segment %q", s.Name)
	}
	if s.PhysStart == nil {
		return pagetables.IdentitySegment(s.Name, virt, attr), nil
	}
	pstart, err := memory.PageAddressOf[memory.Physical](*s.PhysStart)
	if err != nil {
		return pagetables.Segment{}, errors.Wrapf(err, "segment %q", s.Name)
	}
	phys, err := memory.RegionFromPages(pstart, virt.NumPages())
	if err != nil {
		return pagetables.Segment{}, errors.Wrapf(err, "segment %q", s.Name)
	}
	return pagetables.Segment{Name: s.Name, Virt: virt, Phys: phys, Attr: attr}, nil
}

// layout returns the validated address space reservation.
func (c *config) layout() (mmu.Layout, error) {
	l := rpi3.Layout()
	if len(c.Segments) > 0 {
		l.Segments = nil
		for i := range c.Segments {
			s, err := c.Segments[i].segment()
			if err != nil {
				return mmu.Layout{}, err
			}
			l.Segments = append(l.Segments, s)
		}
	}
	if c.MMIORemap != nil {
		start, err := memory.PageAddressOf[memory.Virtual](c.MMIORemap.Start)
		if err != nil {
			return mmu.Layout{}, errors.Wrap(err, "MMIO remap window")
		}
		if l.MMIORemap, err = memory.NewRegion(start, c.MMIORemap.End); err != nil {
			return mmu.Layout{}, errors.Wrap(err, "MMIO remap window")
		}
	}
	if err := l.Validate(); err != nil {
		return mmu.Layout{}, errors.Wrap(err, "invalid layout")
	}
	return l, nil
}
