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
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/ring0"
	"gvisor.dev/kernelvm/pkg/ring0/pagetables"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	configPath string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the table geometry and kernel layout"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return "layout [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.configPath, "config", "", "TOML file describing the kernel layout; defaults to rpi3.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := l.run(os.Stdout); err != nil {
		log.Warningf("layout: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (l *Layout) run(out io.Writer) error {
	c, err := loadConfig(l.configPath)
	if err != nil {
		return err
	}
	lay, err := c.layout()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "granule\t%d KiB\n", memory.PageSize>>10)
	fmt.Fprintf(w, "virtual address space\t%d MiB\n", memory.KernelVirtAddrSpaceSize>>20)
	fmt.Fprintf(w, "level-2 span\t%d MiB\n", pagetables.Lvl2Span>>20)
	fmt.Fprintf(w, "level-3 tables\t%d x %d entries\n", pagetables.NumTables, pagetables.EntriesPerTable)
	fmt.Fprintf(w, "level-2 offset\t%#x\n", pagetables.Lvl2Offset)
	fmt.Fprintf(w, "image size\t%d bytes\n", pagetables.ImageSize)
	fmt.Fprintf(w, "MAIR_EL1\t%#x\n", ring0.MAIRValue)
	fmt.Fprintf(w, "T0SZ\t%d\n", ring0.T0SZ())
	fmt.Fprintf(w, "tables symbol\t%s\n", c.TablesSymbol)
	fmt.Fprintf(w, "base symbol\t%s\n", c.BaseSymbol)
	for _, s := range lay.Segments {
		fmt.Fprintf(w, "segment\t%v --> %v | %v | %s\n", s.Virt, s.Phys, s.Attr, s.Name)
	}
	fmt.Fprintf(w, "MMIO remap\t%v\n", lay.MMIORemap)
	return w.Flush()
}
