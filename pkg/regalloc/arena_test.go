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

import "testing"

func TestArenaAllocUint32IsZeroed(t *testing.T) {
	a := NewArena()

	s := a.AllocUint32(8)
	if len(s) != 8 {
		t.Fatalf("len(s) = %d, want 8", len(s))
	}

	for i, v := range s {
		if v != 0 {
			t.Fatalf("s[%d] = %d, want 0", i, v)
		}
	}
}

func TestArenaAllocUint32Zero(t *testing.T) {
	a := NewArena()

	if s := a.AllocUint32(0); s != nil {
		t.Fatalf("AllocUint32(0) = %v, want nil", s)
	}
}

func TestArenaDupUint32DoesNotAlias(t *testing.T) {
	a := NewArena()

	src := a.AllocUint32(4)
	for i := range src {
		src[i] = uint32(i + 1)
	}

	dup := a.DupUint32(src)

	dup[0] = 99

	if src[0] == 99 {
		t.Fatalf("DupUint32 aliased the source slice")
	}

	for i := 1; i < len(src); i++ {
		if dup[i] != src[i] {
			t.Fatalf("dup[%d] = %d, want %d", i, dup[i], src[i])
		}
	}
}

func TestArenaGrowsAcrossSlabs(t *testing.T) {
	a := NewArena()

	first := a.AllocUint32(chunkSize - 1)
	second := a.AllocUint32(8)

	if len(a.slabs) != 2 {
		t.Fatalf("expected a second slab once the first is exhausted, got %d slabs", len(a.slabs))
	}

	first[0] = 1
	second[0] = 2

	if first[0] != 1 || second[0] != 2 {
		t.Fatalf("cross-slab allocations clobbered each other")
	}
}

func TestArenaResetDropsSlabs(t *testing.T) {
	a := NewArena()
	a.AllocUint32(16)

	a.Reset()

	if a.slabs != nil || a.cur != nil {
		t.Fatalf("Reset did not clear arena state")
	}
}
