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

package pagetables

import (
	"unsafe"
)

// identityTranslator places tables at the address of the Go value. This is
// correct only while the kernel runs identity mapped.
type identityTranslator struct{}

// PhysicalFor implements Translator.PhysicalFor.
func (identityTranslator) PhysicalFor(t *Tables) uint64 {
	return uint64(uintptr(unsafe.Pointer(t)))
}
