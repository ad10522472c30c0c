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

package rpi3

import (
	"fmt"
	"io"

	"gvisor.dev/kernelvm/pkg/kernel/driver"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
	"gvisor.dev/kernelvm/pkg/sync"
)

// uartFIFODepth is the size of the PL011 transmit FIFO.
const uartFIFODepth = 16

// SerialLine receives what the UART transmits on hosted builds.
var SerialLine io.Writer = io.Discard

// UARTConsole is the kernel console on the PL011 UART. Bytes queue in the
// transmit FIFO and leave for the line when it fills or on Flush.
type UARTConsole struct {
	base memory.Address[memory.Virtual]

	mu   sync.Mutex
	line io.Writer
	fifo []byte
}

// NewUARTConsole returns a console for the UART whose registers are mapped
// at base, transmitting to line.
func NewUARTConsole(base memory.Address[memory.Virtual], line io.Writer) *UARTConsole {
	return &UARTConsole{base: base, line: line, fifo: make([]byte, 0, uartFIFODepth)}
}

// Base returns the virtual address of the UART registers.
func (c *UARTConsole) Base() memory.Address[memory.Virtual] {
	return c.base
}

// Write implements log.Console.Write.
func (c *UARTConsole) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(p) {
		k := copy(c.fifo[len(c.fifo):cap(c.fifo)], p[n:])
		c.fifo = c.fifo[:len(c.fifo)+k]
		n += k
		if len(c.fifo) == cap(c.fifo) {
			if err := c.drainLocked(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush implements log.Console.Flush.
func (c *UARTConsole) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
}

// Preconditions: c.mu is locked.
func (c *UARTConsole) drainLocked() error {
	_, err := c.line.Write(c.fifo)
	c.fifo = c.fifo[:0]
	return err
}

// useUARTAsConsole is the UART's driver.Descriptor.PostInit.
func useUARTAsConsole(d driver.Driver) error {
	uart, ok := d.(*IRQDevice)
	if !ok {
		return fmt.Errorf("%s is not the UART", d.Compatible())
	}
	base, ok := uart.Base()
	if !ok {
		return fmt.Errorf("%s: registers not mapped", d.Compatible())
	}
	log.CurrentConsole().Flush()
	log.RegisterConsole(NewUARTConsole(base, SerialLine))
	log.Infof("Console on %s at %v", d.Compatible(), base)
	return nil
}

// Descriptors returns the platform's drivers, as Devices orders them, ready
// for registration. The UART becomes the console once it is up.
func Descriptors(m Mapper) []driver.Descriptor {
	var ds []driver.Descriptor
	for _, d := range Devices(m) {
		desc := driver.Descriptor{Driver: d}
		if d.Compatible() == PL011UARTCompatible {
			desc.PostInit = useUARTAsConsole
		}
		ds = append(ds, desc)
	}
	return ds
}
