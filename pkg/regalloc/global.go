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

import "sort"

// globalAssignment records the physical register, if any, the global
// allocator settled on for a WorkReg. Work regs with no entry here are left
// for the local allocator to home (possibly with spilling).
type globalAssignment struct {
	homes map[uint32]uint8
}

// runGlobalAllocator runs the interference-free bin-pack allocator
// independently for each register group.
func (p *Pass) runGlobalAllocator() error {
	p.global = &globalAssignment{homes: make(map[uint32]uint8)}

	for g := Group(0); int(g) < p.target.GroupCount(); g++ {
		if err := p.binPack(g); err != nil {
			return err
		}
	}

	return nil
}

// binPack assigns WorkRegs of one group to physical registers using live
// interval interference, without building an explicit interference graph.
func (p *Pass) binPack(group Group) error {
	regs := p.workRegs.group(group)
	if len(regs) == 0 {
		return nil
	}

	// Order by descending priority: fixed-register work regs first, then
	// by weight-adjusted total live-interval length.
	order := make([]*WorkReg, len(regs))
	copy(order, regs)

	priority := func(w *WorkReg) (bool, uint64) {
		return p.hasFixedConstraint(w), p.weightedLength(w)
	}

	sort.SliceStable(order, func(i, j int) bool {
		fi, li := priority(order[i])
		fj, lj := priority(order[j])

		if fi != fj {
			return fi
		}

		return li > lj
	})

	physCount := p.target.PhysRegCount(group)
	occupied := make([][]Interval, physCount)
	allocable := p.allocableMask(group)

	for _, w := range order {
		candidate := allocable & p.allocableRegsFor(w)

		for phys := uint8(0); phys < physCount; phys++ {
			if !candidate.Has(phys) {
				continue
			}

			if !intervalsOverlapAny(occupied[phys], w.spans) {
				occupied[phys] = mergeIntervals(occupied[phys], w.spans)
				p.global.homes[w.WorkID()] = phys

				break
			}
		}
		// Unassigned WorkRegs simply have no entry in p.global.homes; the
		// local allocator is responsible for homing them, spilling where
		// necessary.
	}

	return nil
}

// allocableRegsFor intersects the AllocableRegs masks of every TiedReg
// referencing w across the whole function — a conservative global view used
// only to decide bin-pack candidates. An unconstrained WorkReg (no tied refs
// observed) defaults to "all".
func (p *Pass) allocableRegsFor(w *WorkReg) RegMask {
	mask := ^RegMask(0)
	seen := false

	for _, b := range p.blocks {
		for node := b.first; node != nil; node = nextInstAfter(node, b) {
			inst := node.RAInst()
			if inst != nil {
				for i := range inst.Tied {
					t := &inst.Tied[i]
					if t.WorkID == w.WorkID() {
						mask &= t.AllocableRegs
						seen = true
					}
				}
			}

			if b.last == nil || node == b.last {
				break
			}
		}
	}

	if !seen {
		return ^RegMask(0)
	}

	return mask
}

// hasFixedConstraint reports whether any tied reference to w carries a
// fixed use/out id, giving it allocation priority.
func (p *Pass) hasFixedConstraint(w *WorkReg) bool {
	for _, b := range p.blocks {
		for node := b.first; node != nil; node = nextInstAfter(node, b) {
			inst := node.RAInst()
			if inst != nil {
				for i := range inst.Tied {
					t := &inst.Tied[i]
					if t.WorkID == w.WorkID() && (t.HasUseID() || t.HasOutID()) {
						return true
					}
				}
			}

			if b.last == nil || node == b.last {
				break
			}
		}
	}

	return false
}

// weightedLength returns w's total live-interval length, each position
// weighted by (1 + the loop nesting depth of the block it falls in), so a
// WorkReg live across a loop body outranks one live the same number of
// positions entirely outside one, per binPack's descending-priority order.
func (p *Pass) weightedLength(w *WorkReg) uint64 {
	var length uint64

	for _, iv := range w.spans {
		for _, b := range p.blocks {
			start, end := iv.Start, iv.End

			if b.firstPosition > start {
				start = b.firstPosition
			}

			if b.endPosition < end {
				end = b.endPosition
			}

			if start >= end {
				continue
			}

			length += uint64(end-start) * uint64(b.weight+1)
		}
	}

	return length
}

// allocableMask returns the mask of physical registers the target makes
// available for general allocation in a group (i.e. excluding sp/fp).
func (p *Pass) allocableMask(group Group) RegMask {
	mask := RegMask(0)

	for id := uint8(0); id < p.target.PhysRegCount(group); id++ {
		mask |= Mask(id)
	}

	if spg, spID := p.target.StackPointer(); spg == group {
		mask &^= Mask(spID)
	}

	if fpg, fpID := p.target.FramePointer(); fpg == group {
		mask &^= Mask(fpID)
	}

	return mask
}

func intervalsOverlapAny(existing []Interval, spans []Interval) bool {
	for _, a := range existing {
		for _, b := range spans {
			if a.Overlaps(b) {
				return true
			}
		}
	}

	return false
}

// mergeIntervals inserts spans into existing, keeping the result sorted by
// start — used to maintain each physical register's assigned-interval set.
func mergeIntervals(existing []Interval, spans []Interval) []Interval {
	out := append(existing, spans...)

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	return out
}

// globalHome returns the physical register the global allocator assigned to
// workID, if any.
func (p *Pass) globalHome(workID uint32) (uint8, bool) {
	if p.global == nil {
		return 0, false
	}

	id, ok := p.global.homes[workID]

	return id, ok
}
