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
	"debug/elf"

	"github.com/cockroachdb/errors"
)

// target is the location of a symbol in a kernel ELF.
type target struct {
	name string

	// vaddr and paddr are the addresses the symbol is linked and loaded at.
	vaddr uint64
	paddr uint64

	// off is the symbol's offset in the file.
	off uint64

	size uint64
}

// findSymbol locates the symbol name in f.
func findSymbol(f *elf.File, name string) (target, error) {
	syms, err := f.Symbols()
	if err != nil {
		return target{}, errors.Wrap(err, "reading symbol table")
	}
	for _, s := range syms {
		if s.Name == name {
			return locate(f.Progs, name, s.Value, s.Size)
		}
	}
	return target{}, errors.Newf("symbol %s not found", name)
}

// locate finds the loadable segment holding size bytes at vaddr. The bytes
// must be backed by the file; zero-filled memory cannot be patched.
func locate(progs []*elf.Prog, name string, vaddr, size uint64) (target, error) {
	for _, p := range progs {
		if p.Type != elf.PT_LOAD || vaddr < p.Vaddr || vaddr-p.Vaddr >= p.Memsz {
			continue
		}
		delta := vaddr - p.Vaddr
		if delta+size > p.Filesz {
			return target{}, errors.Newf("symbol %s at %#x is not backed by the file (in .bss?)", name, vaddr)
		}
		return target{
			name:  name,
			vaddr: vaddr,
			paddr: p.Paddr + delta,
			off:   p.Off + delta,
			size:  size,
		}, nil
	}
	return target{}, errors.Newf("symbol %s at %#x is not in a loadable segment", name, vaddr)
}
