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

package sync

// Guard reports whether the system is in a state where init-only data may be
// written.
type Guard interface {
	// InInitPhase returns true while the kernel is still single-threaded
	// bring-up code.
	InInitPhase() bool

	// LocalIRQsMasked returns true if IRQs are masked on the executing core.
	LocalIRQsMasked() bool
}

// GuardFuncs adapts a pair of functions to Guard.
type GuardFuncs struct {
	InInit     func() bool
	IRQsMasked func() bool
}

// InInitPhase implements Guard.InInitPhase.
func (g GuardFuncs) InInitPhase() bool { return g.InInit() }

// LocalIRQsMasked implements Guard.LocalIRQsMasked.
func (g GuardFuncs) LocalIRQsMasked() bool { return g.IRQsMasked() }

// InitStateLock protects data that is mutated only during kernel init and is
// read-only afterwards.
//
// Writes are permitted only while the guard reports init phase with local
// IRQs masked; any other write is a kernel bug and panics. Reads are always
// permitted.
//
// The zero value is not usable; use NewInitStateLock.
type InitStateLock[T any] struct {
	guard Guard

	// mu serializes hosted callers. Under the init-phase rule there is
	// never contention on a single core.
	mu RWMutex

	data T
}

// NewInitStateLock returns a lock around data gated by guard.
func NewInitStateLock[T any](guard Guard, data T) *InitStateLock[T] {
	if guard == nil {
		panic("sync: NewInitStateLock with nil guard")
	}
	return &InitStateLock[T]{guard: guard, data: data}
}

// Write runs f with exclusive access to the protected data.
//
// Precondition: kernel init phase with local IRQs masked.
func (l *InitStateLock[T]) Write(f func(*T)) {
	if !l.guard.InInitPhase() {
		panic("sync: InitStateLock written after kernel init")
	}
	if !l.guard.LocalIRQsMasked() {
		panic("sync: InitStateLock written with IRQs unmasked")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f(&l.data)
}

// Read runs f with shared access to the protected data. f must not modify
// it.
func (l *InitStateLock[T]) Read(f func(*T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f(&l.data)
}

// WriteErr is Write for callbacks that can fail.
func WriteErr[T any](l *InitStateLock[T], f func(*T) error) error {
	var err error
	l.Write(func(t *T) { err = f(t) })
	return err
}

// ReadValue is Read for callbacks that produce a value.
func ReadValue[T, R any](l *InitStateLock[T], f func(*T) R) R {
	var r R
	l.Read(func(t *T) { r = f(t) })
	return r
}
