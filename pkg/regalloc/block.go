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

import "github.com/bits-and-blooms/bitset"

// UnassignedBlockID marks a block created but not yet added to the CFG's
// block table.
const UnassignedBlockID = ^uint32(0)

// BlockFlags tracks the lifecycle and shape of an RABlock.
type BlockFlags uint16

const (
	BlockIsConstructed BlockFlags = 1 << iota
	BlockIsReachable
	BlockIsAllocated
	BlockIsFuncExit
	BlockHasTerminator
	BlockHasConsecutive
	BlockHasFixedRegs
	BlockHasFuncCalls
	// BlockHasElidedJump marks a block whose unconditional jump terminator
	// targets the immediately following block: the jump is redundant and
	// was treated as a fallthrough by buildCFG (--elide-redundant-jumps).
	BlockHasElidedJump
)

// RABlock is a basic block.
type RABlock struct {
	blockID uint32
	flags   BlockFlags

	first, last Node
	// firstPosition/endPosition bound this block's instructions:
	// inclusive/exclusive, in global position units.
	firstPosition, endPosition uint32

	// weight is the loop nesting depth, incremented once per enclosing
	// back-edge.
	weight uint32

	povOrder uint32

	maxLiveCount map[Group]int

	idom *RABlock

	predecessors []*RABlock
	successors   []*RABlock

	in, out, gen, kill *bitset.BitSet

	entryPhysToWork *PhysToWorkMap
	entryWorkToPhys *WorkToPhysMap

	timestamp uint64
}

// BlockID returns the dense id assigned when the block was added to the
// CFG, or UnassignedBlockID before that.
func (b *RABlock) BlockID() uint32 { return b.blockID }

// Flags returns the block's current flag word.
func (b *RABlock) Flags() BlockFlags { return b.flags }

func (b *RABlock) hasFlag(f BlockFlags) bool { return b.flags&f != 0 }
func (b *RABlock) addFlags(f BlockFlags)     { b.flags |= f }

// IsConstructed reports whether this block has been populated from nodes.
func (b *RABlock) IsConstructed() bool { return b.hasFlag(BlockIsConstructed) }

// IsReachable reports whether this block survived the reachability sweep.
func (b *RABlock) IsReachable() bool { return b.hasFlag(BlockIsReachable) }

// IsFuncExit reports whether this block ends the function (a return).
func (b *RABlock) IsFuncExit() bool { return b.hasFlag(BlockIsFuncExit) }

// HasConsecutive reports whether this block naturally flows into the next.
func (b *RABlock) HasConsecutive() bool { return b.hasFlag(BlockHasConsecutive) }

// HasFuncCalls reports whether this block contains a function call.
func (b *RABlock) HasFuncCalls() bool { return b.hasFlag(BlockHasFuncCalls) }

// HasElidedJump reports whether this block's terminator is an unconditional
// jump to the block immediately following it in the node stream, recorded
// instead of acted on since this package never deletes host nodes.
func (b *RABlock) HasElidedJump() bool { return b.hasFlag(BlockHasElidedJump) }

// First/Last return the inclusive bounds of this block's node range.
func (b *RABlock) First() Node { return b.first }
func (b *RABlock) Last() Node  { return b.last }

// FirstPosition/EndPosition return this block's instruction-position bounds
// (inclusive/exclusive).
func (b *RABlock) FirstPosition() uint32 { return b.firstPosition }
func (b *RABlock) EndPosition() uint32   { return b.endPosition }

// Weight returns the loop nesting depth of this block.
func (b *RABlock) Weight() uint32 { return b.weight }

// POVOrder returns this block's order in the post-order view.
func (b *RABlock) POVOrder() uint32 { return b.povOrder }

// IDom returns the block's immediate dominator, or nil for the entry block.
func (b *RABlock) IDom() *RABlock { return b.idom }

// Predecessors/Successors return this block's CFG edges. successors[0] is
// the fall-through target iff HasConsecutive is set.
func (b *RABlock) Predecessors() []*RABlock { return b.predecessors }
func (b *RABlock) Successors() []*RABlock   { return b.successors }

// Consecutive returns the fall-through successor, or nil.
func (b *RABlock) Consecutive() *RABlock {
	if b.HasConsecutive() && len(b.successors) > 0 {
		return b.successors[0]
	}

	return nil
}

// In/Out/Gen/Kill return this block's liveness bitsets, each of width W.
func (b *RABlock) In() *bitset.BitSet   { return b.in }
func (b *RABlock) Out() *bitset.BitSet  { return b.out }
func (b *RABlock) Gen() *bitset.BitSet  { return b.gen }
func (b *RABlock) Kill() *bitset.BitSet { return b.kill }

// MaxLiveCount returns the maximum number of simultaneously live WorkRegs of
// the given group across all positions in this block.
func (b *RABlock) MaxLiveCount(group Group) int { return b.maxLiveCount[group] }

// HasEntryAssignment reports whether this block's entry assignment has been
// set by the local allocator (or propagated from a predecessor).
func (b *RABlock) HasEntryAssignment() bool { return b.entryPhysToWork != nil }

// EntryAssignment returns this block's entry (PhysToWork, WorkToPhys) pair.
func (b *RABlock) EntryAssignment() (*PhysToWorkMap, *WorkToPhysMap) {
	return b.entryPhysToWork, b.entryWorkToPhys
}

// SetEntryAssignment installs this block's entry assignment.
func (b *RABlock) SetEntryAssignment(p2w *PhysToWorkMap, w2p *WorkToPhysMap) {
	b.entryPhysToWork = p2w
	b.entryWorkToPhys = w2p
}

func (b *RABlock) resizeLiveBits(w uint) {
	b.in = bitset.New(w)
	b.out = bitset.New(w)
	b.gen = bitset.New(w)
	b.kill = bitset.New(w)
}

// link connects p -> s on both sides, keeping the invariant
// p ∈ s.predecessors ⇔ s ∈ p.successors for the edge it adds. It is not the
// only code that edits these lists: linkFirst and removeUnreachableBlocks
// do so as well.
func link(p, s *RABlock) {
	p.successors = append(p.successors, s)
	s.predecessors = append(s.predecessors, p)
}

// linkFirst connects p -> s as p's first (fall-through) successor.
func linkFirst(p, s *RABlock) {
	p.successors = append([]*RABlock{s}, p.successors...)
	s.predecessors = append(s.predecessors, p)
}

func newBlock() *RABlock {
	return &RABlock{
		blockID:      UnassignedBlockID,
		povOrder:     UnassignedBlockID,
		maxLiveCount: make(map[Group]int),
	}
}
