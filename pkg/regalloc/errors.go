// Copyright Consensys Software Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0
package regalloc

import (
	"errors"
	"fmt"
)

// Kind identifies one of the recognised failure modes of the allocator.  Every
// fallible operation in this package returns an *Error wrapping one of these,
// and the first error encountered aborts the pass for the current function.
type Kind uint8

const (
	// ErrNoHeapMemory indicates the arena could not satisfy an allocation
	// request.
	ErrNoHeapMemory Kind = iota + 1
	// ErrOverlappedRegs indicates two references to the same WorkReg within
	// a single instruction demanded distinct fixed use registers or distinct
	// fixed output registers.
	ErrOverlappedRegs
	// ErrInvalidVirtId indicates a VirtReg index was out of range.
	ErrInvalidVirtId
	// ErrInvalidState indicates a CFG invariant was violated (dangling
	// block, missing entry, liveness bitset size mismatch).
	ErrInvalidState
	// ErrOutOfPhysRegs indicates the bin-pack or local allocator exhausted
	// its spill budget under the configured strategy.
	ErrOutOfPhysRegs
	// ErrArchConstraint indicates an architecture-specific constraint was
	// rejected by an emitter hook.
	ErrArchConstraint
)

// String gives a short, log-friendly name for the error kind.
func (k Kind) String() string {
	switch k {
	case ErrNoHeapMemory:
		return "NoHeapMemory"
	case ErrOverlappedRegs:
		return "OverlappedRegs"
	case ErrInvalidVirtId:
		return "InvalidVirtId"
	case ErrInvalidState:
		return "InvalidState"
	case ErrOutOfPhysRegs:
		return "OutOfPhysRegs"
	case ErrArchConstraint:
		return "ArchConstraint"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned by every fallible operation in this
// package.  It carries a recognised Kind plus an optional wrapped cause.
type Error struct {
	Kind Kind
	// Msg gives additional, human-readable context.
	Msg string
	// Cause is the underlying error, if any (e.g. an error surfaced by an
	// emitter hook).
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause)
	} else if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}

	return e.Kind.String()
}

// Unwrap allows errors.Is / errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &regalloc.Error{Kind: regalloc.ErrX}) style
// checks: it matches any *Error target with the same Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}

	return other.Kind == e.Kind
}

// errorf constructs a new *Error of the given kind with a formatted message.
func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapf constructs a new *Error of the given kind wrapping cause.
func wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given Kind, looking through any
// wrapping via errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Kind == kind
}
