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
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/subcommands"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	configPath string
	raw        bool
	base       uint64
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the mappings of a table image as JSON"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] <kernel ELF | -raw image> - walks the tables and prints
one JSON object per run of contiguous pages.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.configPath, "config", "", "TOML file naming the tables symbol; defaults to rpi3.")
	f.BoolVar(&d.raw, "raw", false, "input is a bare table image rather than a kernel ELF.")
	f.Uint64Var(&d.base, "base", 0, "physical load address of a -raw image.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := d.run(f.Arg(0), os.Stdout); err != nil {
		log.Warningf("dump: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (d *Dump) run(path string, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening input")
	}
	defer file.Close()

	img := make([]byte, pagetables.ImageSize)
	base := d.base
	if d.raw {
		if _, err := io.ReadFull(file, img); err != nil {
			return errors.Wrap(err, "reading image")
		}
	} else {
		c, err := loadConfig(d.configPath)
		if err != nil {
			return err
		}
		ef, err := elf.NewFile(file)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", path)
		}
		t, err := findSymbol(ef, c.TablesSymbol)
		if err != nil {
			return err
		}
		if _, err := file.ReadAt(img, int64(t.off)); err != nil {
			return errors.Wrap(err, "reading tables")
		}
		base = t.paddr
	}
	return writeRuns(w, img, base)
}

// writeRuns writes the runs mapped by the image loaded at base.
func writeRuns(w io.Writer, img []byte, base uint64) error {
	t := pagetables.New(pagetables.FixedTranslator(base))
	if err := t.UnmarshalBinary(img); err != nil {
		return err
	}
	runs, err := t.Runs()
	if err != nil {
		return errors.Wrap(err, "walking tables")
	}

	jw := jwriter.NewWriter()
	arr := jw.Array()
	for _, r := range runs {
		obj := arr.Object()
		obj.Name("virt_start").String(r.Virt.Start().String())
		obj.Name("virt_end").String(r.Virt.EndInclusive().String())
		obj.Name("phys_start").String(r.Phys.Start().String())
		obj.Name("phys_end").String(r.Phys.EndInclusive().String())
		obj.Name("pages").Int(int(r.Virt.NumPages()))
		obj.Name("attr").String(r.Attr.String())
		obj.End()
	}
	arr.End()
	if err := jw.Error(); err != nil {
		return err
	}
	buf := append(jw.Bytes(), '\n')
	_, err = w.Write(buf)
	return err
}
