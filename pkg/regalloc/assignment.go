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

// Unassigned marks "no binding" in a PhysToWorkMap/WorkToPhysMap slot.
const Unassigned = ^uint32(0)

// PhysToWorkMap is a dense phys -> workId array, sized physRegTotal.
type PhysToWorkMap struct {
	slots []uint32
}

// WorkToPhysMap is a dense workId -> physId array, sized W. physId is stored
// widened to uint32; Unassigned marks no binding, matching PhysToWorkMap.
type WorkToPhysMap struct {
	slots []uint32
}

// NewPhysToWorkMap constructs a PhysToWorkMap of the given size, all slots
// unassigned.
func NewPhysToWorkMap(arena *Arena, size int) *PhysToWorkMap {
	m := &PhysToWorkMap{slots: arena.AllocUint32(size)}
	for i := range m.slots {
		m.slots[i] = Unassigned
	}

	return m
}

// NewWorkToPhysMap constructs a WorkToPhysMap of the given size, all slots
// unassigned.
func NewWorkToPhysMap(arena *Arena, size int) *WorkToPhysMap {
	m := &WorkToPhysMap{slots: arena.AllocUint32(size)}
	for i := range m.slots {
		m.slots[i] = Unassigned
	}

	return m
}

// Get returns the workId bound to phys, or (Unassigned, false).
func (m *PhysToWorkMap) Get(phys int) (uint32, bool) {
	v := m.slots[phys]
	return v, v != Unassigned
}

// Set binds phys to workID. Passing Unassigned clears the slot.
func (m *PhysToWorkMap) Set(phys int, workID uint32) { m.slots[phys] = workID }

// Size returns the number of physical slots.
func (m *PhysToWorkMap) Size() int { return len(m.slots) }

// Clone duplicates this map in O(size), with no aliasing to the original.
func (m *PhysToWorkMap) Clone(arena *Arena) *PhysToWorkMap {
	return &PhysToWorkMap{slots: arena.DupUint32(m.slots)}
}

// Get returns the physical id bound to workID, or (uint8(Unassigned), false).
func (m *WorkToPhysMap) Get(workID uint32) (uint8, bool) {
	v := m.slots[workID]
	return uint8(v), v != Unassigned
}

// Set binds workID to phys. Passing Unassigned clears the slot.
func (m *WorkToPhysMap) Set(workID uint32, phys uint32) { m.slots[workID] = phys }

// Clone duplicates this map in O(size), with no aliasing to the original.
func (m *WorkToPhysMap) Clone(arena *Arena) *WorkToPhysMap {
	return &WorkToPhysMap{slots: arena.DupUint32(m.slots)}
}

// Equal reports whether two WorkToPhysMaps describe the same binding for
// every workId (used to detect an edge that needs no reconciliation).
func (m *WorkToPhysMap) Equal(o *WorkToPhysMap) bool {
	if len(m.slots) != len(o.slots) {
		return false
	}

	for i := range m.slots {
		if m.slots[i] != o.slots[i] {
			return false
		}
	}

	return true
}

// ReconciliationKind identifies the kind of one step needed to bring a tail
// assignment into agreement with a successor's entry assignment.
type ReconciliationKind uint8

const (
	// ReconcileMove moves WorkID from SrcPhys to DstPhys.
	ReconcileMove ReconciliationKind = iota
	// ReconcileSwap exchanges WorkID/OtherWorkID between DstPhys/SrcPhys.
	ReconcileSwap
	// ReconcileLoad loads WorkID from its stack slot into DstPhys.
	ReconcileLoad
	// ReconcileSave stores WorkID from SrcPhys to its stack slot.
	ReconcileSave
)

// Reconciliation is one emitted step of edge reconciliation.
type Reconciliation struct {
	Kind                ReconciliationKind
	Group               Group
	WorkID, OtherWorkID uint32
	SrcPhys, DstPhys    uint8
}

// diffAssignments computes the sequence of moves/swaps/loads needed to bring
// `from` into agreement with `to`, restricted to one register group's
// physical slots [physBase, physBase+physCount). It assumes every workId
// named by `to` that isn't already correctly placed in `from` is either
// present elsewhere in `from` (emit a move, or a swap if the target slot is
// itself occupied) or must be loaded from its stack slot. It produces no
// save steps.
func diffAssignments(group Group, physBase, physCount int, from *PhysToWorkMap, to *PhysToWorkMap, w2p *WorkToPhysMap) []Reconciliation {
	var out []Reconciliation

	// Work on a scratch copy of `from` so that moves already planned are
	// reflected when deciding subsequent ones.
	cur := make([]uint32, physCount)
	copy(cur, from.slots[physBase:physBase+physCount])

	findCur := func(workID uint32) (int, bool) {
		for i, w := range cur {
			if w == workID {
				return i, true
			}
		}

		return 0, false
	}

	for dst := 0; dst < physCount; dst++ {
		want := to.slots[physBase+dst]
		if want == Unassigned {
			continue
		}

		if cur[dst] == want {
			continue
		}

		if src, ok := findCur(want); ok {
			if occupant := cur[dst]; occupant != Unassigned {
				// Destination is itself occupied: swap the two WorkRegs so
				// the wanted one lands correctly without an intermediate
				// spill.
				out = append(out, Reconciliation{
					Kind: ReconcileSwap, Group: group,
					WorkID: want, OtherWorkID: occupant,
					SrcPhys: uint8(src), DstPhys: uint8(dst),
				})
				cur[dst], cur[src] = cur[src], cur[dst]
			} else {
				out = append(out, Reconciliation{
					Kind: ReconcileMove, Group: group,
					WorkID: want, SrcPhys: uint8(src), DstPhys: uint8(dst),
				})
				cur[dst] = want
				cur[src] = Unassigned
			}
		} else {
			// Not currently held in any register of this group: reload
			// from its stack slot.
			out = append(out, Reconciliation{
				Kind: ReconcileLoad, Group: group,
				WorkID: want, DstPhys: uint8(dst),
			})
			cur[dst] = want
		}
	}

	return out
}
