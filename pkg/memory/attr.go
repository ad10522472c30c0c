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

package memory

import (
	"fmt"

	"gvisor.dev/kernelvm/pkg/errors/mmuerr"
)

// MemAttributes specifies CPU memory access behavior.
type MemAttributes uint8

const (
	// CacheableDRAM is normal, write-back cacheable memory.
	CacheableDRAM MemAttributes = iota

	// Device is device memory: uncacheable and without speculative
	// accesses.
	Device
)

// String implements fmt.Stringer.String.
func (m MemAttributes) String() string {
	switch m {
	case CacheableDRAM:
		return "CacheableDRAM"
	case Device:
		return "Device"
	default:
		return fmt.Sprintf("%d", m)
	}
}

// ShortString returns the boot-log abbreviation of the memory type.
func (m MemAttributes) ShortString() string {
	switch m {
	case CacheableDRAM:
		return "C"
	case Device:
		return "Dev"
	default:
		return "??"
	}
}

// AccessPermissions are the kernel's access rights to a mapping.
type AccessPermissions uint8

const (
	// ReadOnly mappings fault on writes.
	ReadOnly AccessPermissions = iota

	// ReadWrite mappings permit reads and writes.
	ReadWrite
)

// String implements fmt.Stringer.String.
func (a AccessPermissions) String() string {
	switch a {
	case ReadOnly:
		return "RO"
	case ReadWrite:
		return "RW"
	default:
		return fmt.Sprintf("%d", a)
	}
}

// AttributeFields describe the memory type and protection of a mapping,
// independent of any hardware encoding.
type AttributeFields struct {
	MemAttributes     MemAttributes
	AccessPermissions AccessPermissions
	ExecuteNever      bool
}

// Policy attributes. Callers never pick attributes for these classes of
// memory themselves.
var (
	// CodeAttributes are used for kernel code and read-only data.
	CodeAttributes = AttributeFields{
		MemAttributes:     CacheableDRAM,
		AccessPermissions: ReadOnly,
		ExecuteNever:      false,
	}

	// DataAttributes are used for kernel data, bss and stacks.
	DataAttributes = AttributeFields{
		MemAttributes:     CacheableDRAM,
		AccessPermissions: ReadWrite,
		ExecuteNever:      true,
	}

	// DeviceAttributes are used for all MMIO mappings.
	DeviceAttributes = AttributeFields{
		MemAttributes:     Device,
		AccessPermissions: ReadWrite,
		ExecuteNever:      true,
	}
)

// Validate rejects attribute combinations the hardware cannot express or
// that the kernel never permits.
func (a AttributeFields) Validate() error {
	switch {
	case a.MemAttributes > Device:
		return fmt.Errorf("memory attributes %v: %w", a.MemAttributes, mmuerr.UnsupportedAttributes)
	case a.AccessPermissions > ReadWrite:
		return fmt.Errorf("access permissions %v: %w", a.AccessPermissions, mmuerr.UnsupportedAttributes)
	case a.MemAttributes == Device && !a.ExecuteNever:
		return fmt.Errorf("executable device memory: %w", mmuerr.UnsupportedAttributes)
	}
	return nil
}

// String renders the attributes as in the boot log, e.g. "C   RO X ".
func (a AttributeFields) String() string {
	xn := "X "
	if a.ExecuteNever {
		xn = "XN"
	}
	return fmt.Sprintf("%-3s %s %s", a.MemAttributes.ShortString(), a.AccessPermissions, xn)
}
