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

// Package errors holds the standardized error definition for the kernel's
// memory management code.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an Error.
type Kind uint8

// Error kinds.
const (
	// MisalignedRegion is returned when an address or region is not aligned
	// to the translation granule.
	MisalignedRegion Kind = iota + 1

	// RegionSizeMismatch is returned when a virtual and a physical region of
	// different page counts are mapped onto each other.
	RegionSizeMismatch

	// CapacityExceeded is returned when a region or address lies outside of
	// what a fixed-size structure can describe.
	CapacityExceeded

	// AlreadyMapped is returned when a virtual page already translates to a
	// different physical page or with different attributes.
	AlreadyMapped

	// NotMapped is returned by lookups on a virtual page without a valid
	// translation.
	NotMapped

	// OutOfVirtualAddressSpace is returned by the MMIO virtual address
	// allocator when its window is exhausted.
	OutOfVirtualAddressSpace

	// ReservedWindowViolation is returned when a generic mapping request
	// touches the window reserved for MMIO remapping.
	ReservedWindowViolation

	// NotInitialized is returned when a structure is used before its one-shot
	// initialization step.
	NotInitialized

	// DoubleInit is returned when a one-shot initialization step runs twice.
	DoubleInit

	// HardwareEnableFailed is returned when the processor refuses or cannot
	// support the requested translation configuration.
	HardwareEnableFailed

	// UnsupportedAttributes is returned for attribute combinations that the
	// hardware cannot express.
	UnsupportedAttributes
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case MisalignedRegion:
		return "MisalignedRegion"
	case RegionSizeMismatch:
		return "RegionSizeMismatch"
	case CapacityExceeded:
		return "CapacityExceeded"
	case AlreadyMapped:
		return "AlreadyMapped"
	case NotMapped:
		return "NotMapped"
	case OutOfVirtualAddressSpace:
		return "OutOfVirtualAddressSpace"
	case ReservedWindowViolation:
		return "ReservedWindowViolation"
	case NotInitialized:
		return "NotInitialized"
	case DoubleInit:
		return "DoubleInit"
	case HardwareEnableFailed:
		return "HardwareEnableFailed"
	case UnsupportedAttributes:
		return "UnsupportedAttributes"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error represents a memory management failure with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !stderrors.As(err, &e) {
		return 0, false
	}
	return e.kind, true
}

// IsKind returns true iff err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
