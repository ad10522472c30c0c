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
	"context"
	"debug/elf"
	"flag"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"gvisor.dev/kernelvm/pkg/binary"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
)

// Patch implements subcommands.Command for the "patch" command.
type Patch struct {
	configPath string
	dryRun     bool
}

// Name implements subcommands.Command.Name.
func (*Patch) Name() string {
	return "patch"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Patch) Synopsis() string {
	return "precompute translation tables and patch them into a kernel ELF"
}

// Usage implements subcommands.Command.Usage.
func (*Patch) Usage() string {
	return `patch [flags] <kernel ELF> - writes the precomputed tables and their
translation base into the kernel binary in place.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Patch) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.configPath, "config", "", "TOML file describing the kernel layout; defaults to rpi3.")
	f.BoolVar(&p.dryRun, "dry-run", false, "compute and report without writing.")
}

// Execute implements subcommands.Command.Execute.
func (p *Patch) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := p.run(f.Arg(0)); err != nil {
		log.Warningf("patch: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (p *Patch) run(path string) error {
	c, err := loadConfig(p.configPath)
	if err != nil {
		return err
	}
	l, err := c.layout()
	if err != nil {
		return err
	}

	flags := os.O_RDWR
	if p.dryRun {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return errors.Wrap(err, "opening kernel")
	}
	defer file.Close()

	ef, err := elf.NewFile(file)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	tables, err := findSymbol(ef, c.TablesSymbol)
	if err != nil {
		return err
	}
	base, err := findSymbol(ef, c.BaseSymbol)
	if err != nil {
		return err
	}

	img, physBase, err := precompute(tables, l.Segments)
	if err != nil {
		return err
	}
	log.Infof("Tables at %#x (file offset %#x), translation base %#x", tables.paddr, tables.off, physBase)
	for _, s := range l.Segments {
		log.Debugf("  %-28s %v --> %v %v", s.Name, s.Virt, s.Phys, s.Attr)
	}
	if p.dryRun {
		return nil
	}
	return patchFile(file, tables, base, img, physBase)
}

// precompute builds the table image for tables loaded at t and returns it
// with the translation base.
func precompute(t target, segs []pagetables.Segment) ([]byte, uint64, error) {
	if t.size < pagetables.ImageSize {
		return nil, 0, errors.Newf("symbol %s has %d bytes, tables need %d", t.name, t.size, pagetables.ImageSize)
	}
	pre, err := pagetables.Precompute(t.paddr, segs)
	if err != nil {
		return nil, 0, errors.Wrap(err, "precomputing tables")
	}
	img, err := pre.MarshalBinary()
	if err != nil {
		return nil, 0, err
	}
	physBase, err := pre.PhysBaseAddress()
	if err != nil {
		return nil, 0, err
	}
	return img, physBase.Uint64(), nil
}

// patchFile maps file and patches it.
func patchFile(file *os.File, tables, base target, img []byte, physBase uint64) error {
	st, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat")
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "mapping kernel")
	}
	defer unix.Munmap(mem)

	if err := patchImage(mem, tables, base, img, physBase); err != nil {
		return err
	}
	return errors.Wrap(unix.Msync(mem, unix.MS_SYNC), "syncing kernel")
}

// patchImage writes img at tables and physBase at base in mem.
func patchImage(mem []byte, tables, base target, img []byte, physBase uint64) error {
	if tables.off > uint64(len(mem)) || uint64(len(mem))-tables.off < uint64(len(img)) {
		return errors.Newf("tables at file offset %#x overflow %d byte file", tables.off, len(mem))
	}
	if base.size < 8 {
		return errors.Newf("symbol %s has %d bytes, want 8", base.name, base.size)
	}
	copy(mem[tables.off:], img)
	return binary.PutUint64At(mem, base.off, binary.LittleEndian, physBase)
}
