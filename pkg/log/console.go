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

package log

import (
	"sync/atomic"

	"gvisor.dev/kernelvm/pkg/sync"
)

// Console is the character device that kernel output ends up on.
type Console interface {
	// Write writes p in full to the device.
	Write(p []byte) (int, error)

	// Flush blocks until buffered output has left the device.
	Flush()
}

// nullConsole discards everything. It is the console until a driver
// registers a real one.
type nullConsole struct{}

func (nullConsole) Write(p []byte) (int, error) { return len(p), nil }
func (nullConsole) Flush()                      {}

var (
	consoleMu sync.Mutex
	console   atomic.Pointer[Console]

	// consoleBytes counts bytes handed to the registered consoles.
	consoleBytes atomic.Uint64
)

// RegisterConsole makes c the destination of ConsoleSink.
func RegisterConsole(c Console) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	console.Store(&c)
}

// CurrentConsole returns the registered console.
func CurrentConsole() Console {
	return *console.Load()
}

// ConsoleBytesWritten returns the number of bytes written through ConsoleSink.
func ConsoleBytesWritten() uint64 {
	return consoleBytes.Load()
}

// ConsoleSink is an io.Writer that forwards to whichever console is
// registered at the time of the write.
type ConsoleSink struct{}

// Write implements io.Writer.Write.
func (ConsoleSink) Write(p []byte) (int, error) {
	n, err := CurrentConsole().Write(p)
	consoleBytes.Add(uint64(n))
	return n, err
}

func init() {
	RegisterConsole(nullConsole{})
}
