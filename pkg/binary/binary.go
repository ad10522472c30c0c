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

// Package binary translates between arrays of 64-bit hardware words and
// their byte representation in memory images.
package binary

import (
	"encoding/binary"
	"fmt"
)

// LittleEndian is the same as encoding/binary.LittleEndian.
//
// It is included here as a convenience.
var LittleEndian = binary.LittleEndian

// AppendUint64 appends the binary representation of a uint64 to buf.
func AppendUint64(buf []byte, order binary.AppendByteOrder, num uint64) []byte {
	return order.AppendUint64(buf, num)
}

// AppendUint64s appends the binary representation of every word in nums to
// buf.
func AppendUint64s(buf []byte, order binary.AppendByteOrder, nums []uint64) []byte {
	for _, n := range nums {
		buf = order.AppendUint64(buf, n)
	}
	return buf
}

// DecodeUint64s fills dst from buf. buf must hold exactly len(dst) words.
func DecodeUint64s(buf []byte, order binary.ByteOrder, dst []uint64) error {
	if len(buf) != 8*len(dst) {
		return fmt.Errorf("decoding %d words from %d bytes", len(dst), len(buf))
	}
	for i := range dst {
		dst[i] = order.Uint64(buf[8*i:])
	}
	return nil
}

// Uint64At reads the word at byte offset off of buf.
func Uint64At(buf []byte, off uint64, order binary.ByteOrder) (uint64, error) {
	if off > uint64(len(buf)) || uint64(len(buf))-off < 8 {
		return 0, fmt.Errorf("word at offset %#x outside of %d-byte buffer", off, len(buf))
	}
	return order.Uint64(buf[off:]), nil
}

// PutUint64At writes num at byte offset off of buf.
func PutUint64At(buf []byte, off uint64, order binary.ByteOrder, num uint64) error {
	if off > uint64(len(buf)) || uint64(len(buf))-off < 8 {
		return fmt.Errorf("word at offset %#x outside of %d-byte buffer", off, len(buf))
	}
	order.PutUint64(buf[off:], num)
	return nil
}
