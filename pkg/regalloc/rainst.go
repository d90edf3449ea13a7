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

// InstFlags describes properties of an instruction relevant to allocation.
type InstFlags uint8

const (
	// InstIsTerminator marks a block-ending instruction.
	InstIsTerminator InstFlags = 1 << iota
)

// RAInst is the per-instruction record attached to a node. It
// is a fixed header plus a contiguous tied-reg slice grouped by register
// group, per the DESIGN NOTES replacement for a variable-length inline
// array: the length lives in the header (len(Tied)), not a sentinel.
type RAInst struct {
	Block *RABlock
	Flags InstFlags
	// Position is this instruction's even global position.
	Position uint32
	// groupIndex/groupCount give, per group, the offset and length of that
	// group's slice within Tied.
	groupIndex map[Group]int
	groupCount map[Group]int
	// LiveCount is the number of live WorkRegs of each group at this
	// position, set by buildLiveness.
	LiveCount map[Group]int
	// UsedRegs are fixed physical ids pinned at this instruction.
	UsedRegs map[Group]RegMask
	// ClobberedRegs are registers destroyed by this instruction (e.g.
	// caller-saves across a call).
	ClobberedRegs map[Group]RegMask
	// Tied holds every TiedReg of this instruction, grouped by register
	// group in index order.
	Tied []TiedReg
	// HasFuncCall mirrors InstNode.IsFuncCall for the local allocator and
	// stack-frame aggregation.
	HasFuncCall bool
}

// IsTerminator reports whether this instruction ends its block.
func (r *RAInst) IsTerminator() bool { return r.Flags&InstIsTerminator != 0 }

// TiedOf returns the tied-reg slice for the given group.
func (r *RAInst) TiedOf(group Group) []TiedReg {
	idx, ok := r.groupIndex[group]
	if !ok {
		return nil
	}

	return r.Tied[idx : idx+r.groupCount[group]]
}

// TiedCount returns the number of tied regs in the given group.
func (r *RAInst) TiedCount(group Group) int { return r.groupCount[group] }

// assignRAInst publishes an instBuilder into a newly constructed RAInst,
// Builds per-group index prefix sums, copies tied regs
// grouped by register group in order, and clears WorkReg scratch pointers.
func assignRAInst(block *RABlock, flags InstFlags, b *instBuilder, wregs *workRegTable) *RAInst {
	total := b.tiedRegCount()

	inst := &RAInst{
		Block:         block,
		Flags:         flags,
		groupIndex:    make(map[Group]int),
		groupCount:    make(map[Group]int),
		LiveCount:     make(map[Group]int),
		UsedRegs:      make(map[Group]RegMask),
		ClobberedRegs: make(map[Group]RegMask),
		Tied:          make([]TiedReg, total),
	}

	// Build prefix-sum index over groups in a stable order.
	groups := make([]Group, 0, len(b.perGroup))
	for g := range b.perGroup {
		groups = append(groups, g)
	}

	orderGroups(groups)

	offset := 0
	cursor := make(map[Group]int)

	for _, g := range groups {
		inst.groupIndex[g] = offset
		inst.groupCount[g] = b.perGroup[g]
		cursor[g] = offset
		offset += b.perGroup[g]
	}

	for i := 0; i < total; i++ {
		tied := b.tiedRegs[i]
		w := wregs.byID(tied.WorkID)
		w.resetTiedReg()

		group := w.Group()

		if tied.HasUseID() {
			block.addFlags(BlockHasFixedRegs)
			inst.UsedRegs[group] |= Mask(tied.UseID)
		}

		if tied.HasOutID() {
			block.addFlags(BlockHasFixedRegs)
		}

		pos := cursor[group]
		cursor[group]++
		tied.AllocableRegs &^= b.used[group]
		inst.Tied[pos] = tied
	}

	for g, mask := range b.clobbered {
		inst.ClobberedRegs[g] = mask
	}

	return inst
}

// orderGroups sorts groups ascending for deterministic iteration; the set of
// groups per instruction is tiny so a simple insertion sort suffices.
func orderGroups(groups []Group) {
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j-1] > groups[j]; j-- {
			groups[j-1], groups[j] = groups[j], groups[j-1]
		}
	}
}
