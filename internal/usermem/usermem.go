// Package usermem models caller-owned destination memory for the object
// namespace. Kernel code never writes caller memory directly; it stages
// results in kernel-private buffers and performs a single fault-safe bulk
// transfer through the Buffer interface, so a caller handing over an invalid
// or concurrently unmapped region produces a distinct fault instead of
// corrupting kernel state.
package usermem

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrFault is returned when a transfer touches memory the caller no longer
// (or never) owned. It corresponds to the access violation a probe or copy
// raises in the NT kernel.
var ErrFault = errors.New("user memory fault")

// ErrMisaligned is returned by Probe for a destination whose placement does
// not meet the required alignment. It corresponds to the datatype
// misalignment a ProbeForWrite raises for an unaligned user address.
var ErrMisaligned = errors.New("user memory misaligned")

// Buffer is a span of caller-owned memory used as a query destination.
//
// Len is the capacity the caller declared, which sizing decisions are based
// on. CopyOut transfers src into the buffer starting at offset zero and is
// all-or-nothing: on ErrFault the destination contents are unspecified but
// no partial kernel state is exposed.
type Buffer interface {
	Len() int
	CopyOut(src []byte) error
}

// Probe validates b as a write destination requiring align-byte placement.
// Buffers that do not report a placement are naturally aligned. Modeled
// caller memory has no real address, so placement is whatever the buffer
// declares through the Placement method.
func Probe(b Buffer, align int) error {
	type placed interface{ Placement() int }
	if p, ok := b.(placed); ok && p.Placement()%align != 0 {
		return ErrMisaligned
	}
	return nil
}

// Misaligned wraps a buffer and declares a placement offset from natural
// alignment, for exercising alignment probes.
type Misaligned struct {
	Buffer
	Offset int
}

func (m Misaligned) Placement() int {
	return m.Offset
}

type bytesBuffer struct {
	b []byte
}

// Bytes wraps an in-process byte slice as a well-behaved caller buffer whose
// declared capacity matches its real length.
func Bytes(b []byte) Buffer {
	return bytesBuffer{b: b}
}

func (v bytesBuffer) Len() int {
	return len(v.b)
}

func (v bytesBuffer) CopyOut(src []byte) error {
	if len(src) > len(v.b) {
		return ErrFault
	}
	copy(v.b, src)
	return nil
}

// Faulting is a Buffer whose declared capacity is independent of its live
// backing, so tests can model callers that overstate their buffers or unmap
// them between the sizing pass and the final transfer.
type Faulting struct {
	declared int

	mu      sync.Mutex
	backing []byte // nil once revoked
}

// NewFaulting returns a buffer that declares `declared` bytes of capacity
// over the given backing store.
func NewFaulting(backing []byte, declared int) *Faulting {
	return &Faulting{declared: declared, backing: backing}
}

func (f *Faulting) Len() int {
	return f.declared
}

// Revoke drops the backing store; subsequent transfers fault.
func (f *Faulting) Revoke() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backing = nil
}

func (f *Faulting) CopyOut(src []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backing == nil || len(src) > len(f.backing) {
		return ErrFault
	}
	copy(f.backing, src)
	return nil
}

// Bytes returns the live backing store for assertions; nil after Revoke.
func (f *Faulting) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backing
}
