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
	"testing"
)

func TestErrorfMessage(t *testing.T) {
	err := errorf(ErrInvalidState, "block %d is dangling", 3)

	want := "InvalidState: block 3 is dangling"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapfUnwraps(t *testing.T) {
	cause := errors.New("emitter rejected operand")
	err := wrapf(ErrArchConstraint, cause, "prologue")

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to see through to the wrapped cause")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := errorf(ErrOutOfPhysRegs, "no register available")

	if !Is(err, ErrOutOfPhysRegs) {
		t.Fatalf("expected Is to match ErrOutOfPhysRegs")
	}

	if Is(err, ErrInvalidState) {
		t.Fatalf("expected Is to reject a mismatched kind")
	}
}

func TestIsRejectsPlainError(t *testing.T) {
	if Is(errors.New("plain"), ErrInvalidState) {
		t.Fatalf("expected Is to reject a plain error")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		ErrNoHeapMemory:   "NoHeapMemory",
		ErrOverlappedRegs: "OverlappedRegs",
		ErrInvalidVirtId:  "InvalidVirtId",
		ErrInvalidState:   "InvalidState",
		ErrOutOfPhysRegs:  "OutOfPhysRegs",
		ErrArchConstraint: "ArchConstraint",
	}

	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
