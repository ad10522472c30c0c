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

// Package driver sequences device driver bring-up during kernel init.
//
// A driver's Init maps its registers with mmu.Manager.MapMMIO and must use
// only the returned virtual address. A driver becomes visible to the rest of
// the kernel only after its Init succeeded.
package driver

import (
	"errors"
	"fmt"

	"gvisor.dev/kernelvm/pkg/log"
	"gvisor.dev/kernelvm/pkg/sync"
)

// ErrNoIRQHandler is returned for drivers without the IRQHandlerRegistrar
// capability.
var ErrNoIRQHandler = errors.New("driver has no IRQ handler")

// Driver is a device driver.
type Driver interface {
	// Compatible returns the name the driver is known by. It is also the
	// name its MMIO mapping is recorded under.
	Compatible() string

	// Init maps the device's registers and brings the device up.
	Init() error
}

// IRQHandlerRegistrar is implemented by drivers that handle interrupts.
type IRQHandlerRegistrar interface {
	// RegisterAndEnableIRQHandler installs the handler and unmasks the
	// device's interrupt line.
	RegisterAndEnableIRQHandler() error
}

// Descriptor is a registered driver.
type Descriptor struct {
	Driver Driver

	// PostInit, if set, runs after Driver.Init succeeded, e.g. to make a
	// UART the kernel console.
	PostInit func(Driver) error
}

// Manager owns the set of drivers.
type Manager struct {
	mu sync.Mutex

	// pending drivers have not been initialized yet.
	pending []Descriptor

	// ready drivers initialized successfully, in registration order.
	ready []Driver
}

// Register adds a driver to be initialized by the next InitDrivers.
func (m *Manager) Register(d Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, d)
}

// InitDrivers initializes all registered drivers in registration order and
// returns the number that came up. A driver whose Init or PostInit fails is
// logged and skipped.
func (m *Manager) InitDrivers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.pending {
		name := d.Driver.Compatible()
		if err := d.Driver.Init(); err != nil {
			log.Warningf("Driver %s: init failed: %v", name, err)
			continue
		}
		if d.PostInit != nil {
			if err := d.PostInit(d.Driver); err != nil {
				log.Warningf("Driver %s: post-init failed: %v", name, err)
				continue
			}
		}
		m.ready = append(m.ready, d.Driver)
		n++
	}
	m.pending = nil
	return n
}

// Drivers returns the initialized drivers in registration order.
func (m *Manager) Drivers() []Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Driver(nil), m.ready...)
}

// RegisterIRQHandler registers d's interrupt handler, or returns
// ErrNoIRQHandler if d has none.
func RegisterIRQHandler(d Driver) error {
	r, ok := d.(IRQHandlerRegistrar)
	if !ok {
		return fmt.Errorf("%s: %w", d.Compatible(), ErrNoIRQHandler)
	}
	return r.RegisterAndEnableIRQHandler()
}

// EnableIRQHandlers registers the handlers of all initialized drivers that
// have one. The first failure is returned.
func (m *Manager) EnableIRQHandlers() error {
	for _, d := range m.Drivers() {
		if err := RegisterIRQHandler(d); err != nil {
			if errors.Is(err, ErrNoIRQHandler) {
				log.Debugf("Driver %s: no IRQ handler", d.Compatible())
				continue
			}
			return err
		}
	}
	return nil
}

// Print logs the initialized drivers.
func (m *Manager) Print() {
	for i, d := range m.Drivers() {
		log.Infof("      %d. %s", i+1, d.Compatible())
	}
}
