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

	"gvisor.dev/kernelvm/pkg/kernel/driver"
	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/memory"
)

// Register windows of the platform's devices.
var (
	GPIODescriptor         = memory.MustMMIODescriptor(0x3F20_0000, 0xA0)
	PL011UARTDescriptor    = memory.MustMMIODescriptor(0x3F20_1000, 0x48)
	PeripheralICDescriptor = memory.MustMMIODescriptor(0x3F00_B200, 0x24)
	LocalICDescriptor      = memory.MustMMIODescriptor(0x4000_0000, 0x100)
)

// Compatible names of the platform's devices.
const (
	GPIOCompatible         = "BCM GPIO"
	PL011UARTCompatible    = "BCM PL011 UART"
	PeripheralICCompatible = "BCM Peripheral Interrupt Controller"
	LocalICCompatible      = "BCM Local Interrupt Controller"
)

// PL011UARTIRQ is the UART's line on the peripheral interrupt controller.
const PL011UARTIRQ = 57

// Mapper maps device registers.
type Mapper interface {
	MapMMIO(name string, desc memory.MMIODescriptor) (memory.Address[memory.Virtual], error)
}

// MMIODevice is a device whose registers are reached through MapMMIO. It
// does not drive the device itself.
type MMIODevice struct {
	name   string
	desc   memory.MMIODescriptor
	mapper Mapper

	// base is the virtual address of the registers once Init succeeded.
	base memory.Address[memory.Virtual]
	up   bool
}

// NewMMIODevice returns a device named name with registers at desc.
func NewMMIODevice(name string, desc memory.MMIODescriptor, mapper Mapper) *MMIODevice {
	return &MMIODevice{name: name, desc: desc, mapper: mapper}
}

// Compatible implements driver.Driver.Compatible.
func (d *MMIODevice) Compatible() string {
	return d.name
}

// Init implements driver.Driver.Init.
func (d *MMIODevice) Init() error {
	if d.up {
		return fmt.Errorf("%s already initialized", d.name)
	}
	base, err := d.mapper.MapMMIO(d.name, d.desc)
	if err != nil {
		return err
	}
	d.base, d.up = base, true
	return nil
}

// Base returns the virtual address of the registers. It is valid only
// after Init.
func (d *MMIODevice) Base() (memory.Address[memory.Virtual], bool) {
	return d.base, d.up
}

// IRQDevice is an MMIODevice with an interrupt line.
type IRQDevice struct {
	*MMIODevice
	IRQ int

	enabled bool
}

// RegisterAndEnableIRQHandler implements
// driver.IRQHandlerRegistrar.RegisterAndEnableIRQHandler.
func (d *IRQDevice) RegisterAndEnableIRQHandler() error {
	if !d.up {
		return fmt.Errorf("%s: IRQ %d before init", d.name, d.IRQ)
	}
	log.Debugf("%s: IRQ %d enabled", d.name, d.IRQ)
	d.enabled = true
	return nil
}

// IRQEnabled returns true once the handler is registered.
func (d *IRQDevice) IRQEnabled() bool {
	return d.enabled
}

// Devices returns the platform's drivers in bring-up order. The UART comes
// first so that it can become the console.
func Devices(m Mapper) []driver.Driver {
	return []driver.Driver{
		&IRQDevice{MMIODevice: NewMMIODevice(PL011UARTCompatible, PL011UARTDescriptor, m), IRQ: PL011UARTIRQ},
		NewMMIODevice(GPIOCompatible, GPIODescriptor, m),
		NewMMIODevice(PeripheralICCompatible, PeripheralICDescriptor, m),
		NewMMIODevice(LocalICCompatible, LocalICDescriptor, m),
	}
}
