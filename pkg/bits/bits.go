// Copyright 2018 Google LLC
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

// Package bits provides bit and bit-field operations on unsigned integers,
// as used by hardware descriptors and system registers.
package bits

import "golang.org/x/exp/constraints"

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T constraints.Unsigned](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T constraints.Unsigned](i int) T {
	return T(1) << T(i)
}

// FieldMask returns the mask of the width-bit field starting at bit shift.
func FieldMask[T constraints.Unsigned](shift, width int) T {
	return (T(1)<<T(width) - 1) << T(shift)
}

// Field extracts the width-bit field starting at bit shift from v.
func Field[T constraints.Unsigned](v T, shift, width int) T {
	return (v & FieldMask[T](shift, width)) >> T(shift)
}

// SetField returns v with the width-bit field starting at bit shift replaced
// by f. Bits of f beyond width are dropped.
func SetField[T constraints.Unsigned](v T, shift, width int, f T) T {
	m := FieldMask[T](shift, width)
	return v&^m | (f<<T(shift))&m
}
