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

// VirtReg is the host's stable identity for a source-level virtual
// register: produced and owned externally, referenced by this package only.
type VirtReg struct {
	ID      uint32
	Size    uint8
	Align   uint8
	Group   Group
	workReg *WorkReg
}

// Interval is a non-overlapping, half-open range of instruction positions
// [Start, End) across which a WorkReg is live.
type Interval struct {
	Start, End uint32
}

// Overlaps reports whether the two intervals share any position.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// WorkReg is the pass's internal view of a used virtual register.
// Created on first use during CFG construction and immortal within the
// pass.
type WorkReg struct {
	workID  uint32
	virt    *VirtReg
	group   Group
	spans   []Interval
	stack   *StackSlot
	// tied is the transient scratch link to an in-progress TiedReg held by
	// the InstBuilder while a single instruction is being analyzed. Must be
	// nil before and after each instruction.
	tied *TiedReg
}

// WorkID returns the dense identifier of this WorkReg, in [0, W).
func (w *WorkReg) WorkID() uint32 { return w.workID }

// Virt returns the originating VirtReg.
func (w *WorkReg) Virt() *VirtReg { return w.virt }

// Group returns the register group this WorkReg belongs to.
func (w *WorkReg) Group() Group { return w.group }

// Spans returns the ordered, non-overlapping live intervals computed by
// liveness analysis. Empty until buildLiveness has run.
func (w *WorkReg) Spans() []Interval { return w.spans }

// StackSlot returns the lazily created stack slot backing this WorkReg, or
// nil if it has never needed one.
func (w *WorkReg) StackSlot() *StackSlot { return w.stack }

func (w *WorkReg) tiedReg() *TiedReg { return w.tied }

func (w *WorkReg) setTiedReg(t *TiedReg) { w.tied = t }

func (w *WorkReg) resetTiedReg() { w.tied = nil }

// workRegTable owns every WorkReg created during CFG construction, indexed
// densely by workID and also partitioned per group.
type workRegTable struct {
	all     []*WorkReg
	byGroup map[Group][]*WorkReg
}

func newWorkRegTable() *workRegTable {
	return &workRegTable{byGroup: make(map[Group][]*WorkReg)}
}

// asWorkReg returns vr's existing WorkReg, or constructs and registers a new
// one. A WorkReg is reachable only via VirtReg -> WorkReg, never the other
// direction, enforced here at creation.
func (t *workRegTable) asWorkReg(vr *VirtReg) *WorkReg {
	if w := vr.workReg; w != nil && int(w.workID) < len(t.all) && t.all[w.workID] == w {
		return w
	}

	w := &WorkReg{
		workID: uint32(len(t.all)),
		virt:   vr,
		group:  vr.Group,
	}

	vr.workReg = w
	t.all = append(t.all, w)
	t.byGroup[vr.Group] = append(t.byGroup[vr.Group], w)

	return w
}

// byID returns the WorkReg for a dense workID.
func (t *workRegTable) byID(id uint32) *WorkReg { return t.all[id] }

// count returns the total number of WorkRegs created.
func (t *workRegTable) count() int { return len(t.all) }

// group returns every WorkReg belonging to the given group.
func (t *workRegTable) group(g Group) []*WorkReg { return t.byGroup[g] }
