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

// Binary ttgen precomputes the kernel's translation tables and patches them
// into a kernel ELF, so that the kernel can turn on its MMU without building
// tables at boot.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"gvisor.dev/kernelvm/pkg/log"
)

var (
	debug     = flag.Bool("debug", false, "enable debug logging.")
	logFormat = flag.String("log-format", "text", "log format: text (default) or json.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Patch), "")
	subcommands.Register(new(Dump), "")
	subcommands.Register(new(Layout), "")

	flag.Parse()

	setupLogging(*logFormat, *debug)
	os.Exit(int(subcommands.Execute(context.Background())))
}

// setupLogging sends logs to stderr.
func setupLogging(format string, debug bool) {
	w := &log.Writer{Next: os.Stderr}
	switch format {
	case "json":
		log.SetTarget(log.JSONEmitter{Writer: w})
	default:
		log.SetTarget(log.GoogleEmitter{Emitter: w})
	}
	if debug {
		log.SetLevel(log.Debug)
	}
}
