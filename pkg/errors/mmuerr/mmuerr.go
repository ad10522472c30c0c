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

// Package mmuerr contains the memory management error values exported as
// error interface pointers. This allows for fast comparison with errors.Is
// while callers add context with fmt.Errorf("...: %w").
package mmuerr

import (
	"gvisor.dev/kernelvm/pkg/errors"
)

var (
	MisalignedRegion         = errors.New(errors.MisalignedRegion, "region is not granule aligned")
	RegionSizeMismatch       = errors.New(errors.RegionSizeMismatch, "virtual and physical regions differ in size")
	CapacityExceeded         = errors.New(errors.CapacityExceeded, "outside of fixed capacity")
	AlreadyMapped            = errors.New(errors.AlreadyMapped, "virtual page is already mapped")
	NotMapped                = errors.New(errors.NotMapped, "virtual page is not mapped")
	OutOfVirtualAddressSpace = errors.New(errors.OutOfVirtualAddressSpace, "not enough free virtual pages")
	ReservedWindowViolation  = errors.New(errors.ReservedWindowViolation, "region intersects the MMIO remap window")
	NotInitialized           = errors.New(errors.NotInitialized, "not initialized")
	DoubleInit               = errors.New(errors.DoubleInit, "already initialized")
	HardwareEnableFailed     = errors.New(errors.HardwareEnableFailed, "hardware refused to enable translation")
	UnsupportedAttributes    = errors.New(errors.UnsupportedAttributes, "attribute combination is not supported")
)
