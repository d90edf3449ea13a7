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

// blockMeta records a block's terminator, resolved once every label has
// been seen (forward jump targets may not exist yet when the terminator
// instruction itself is visited).
type blockMeta struct {
	kind   TerminatorKind
	target Label
}

// buildCFG walks the node stream once: splits it into
// blocks, links predecessors/successors, and attaches an RAInst to every
// instruction node. Unreachable blocks are then swept away.
func (p *Pass) buildCFG(first Node) error {
	if first == nil {
		return errorf(ErrInvalidState, "empty node stream")
	}

	var (
		metas         []blockMeta
		labelToBlock  = make(map[Label]*RABlock)
		ib            = newInstBuilder()
		prevNode      Node
		position      uint32
	)

	newB := func(startNode Node) *RABlock {
		b := newBlock()
		p.createdBlockCount++

		if err := p.addBlock(b); err != nil {
			// addBlock only fails on arena exhaustion, which this
			// in-memory implementation never triggers; kept for parity
			// with the ErrNoHeapMemory surface an arena-backed host could hit.
			panic(err)
		}

		b.first = startNode
		b.firstPosition = position
		b.endPosition = position
		metas = append(metas, blockMeta{})

		return b
	}

	cur := newB(first)

	closeBlock := func(b *RABlock, lastNode Node) {
		b.last = lastNode
	}

	forceNewBlock := func(afterNode Node) *RABlock {
		closeBlock(cur, afterNode)
		next := newB(afterNode.Next())

		return next
	}

	for node := first; node != nil; node = node.Next() {
		switch node.Kind() {
		case KindLabel:
			lbl := node.(LabelNode)

			if node != cur.first {
				next := forceNewBlock(prevNode)

				if !cur.hasFlag(BlockHasTerminator) {
					cur.addFlags(BlockHasConsecutive)
					link(cur, next)
				}

				cur = next
			}

			labelToBlock[lbl.Label()] = cur

		case KindInst:
			inst := node.(InstNode)

			if cur.first == nil {
				cur.first = node
			}

			if _, err := p.buildInst(node, inst, cur, ib, position); err != nil {
				return err
			}

			position += 2
			cur.endPosition = position

			term := inst.Terminator()
			if term.Kind != NotTerminator {
				cur.addFlags(BlockHasTerminator)
				curMeta := len(metas) - 1
				metas[curMeta] = blockMeta{kind: term.Kind, target: term.Target}

				if term.Kind == Return {
					cur.addFlags(BlockIsFuncExit)
					p.exits = append(p.exits, cur)
				}

				if node.Next() != nil {
					next := forceNewBlock(node)

					if term.Kind == CondJump {
						cur.addFlags(BlockHasConsecutive)
						link(cur, next)
					} else if term.Kind == Jump && p.opts.ElideRedundantJumps && isNextTo(node, term.Target) {
						cur.addFlags(BlockHasConsecutive)
						cur.addFlags(BlockHasElidedJump)
						link(cur, next)
						metas[curMeta] = blockMeta{}
					}

					cur = next
				}
			}

		default:
			// Directives, alignment and comments are decorative: they
			// never start or end a block.
		}

		prevNode = node
	}

	closeBlock(cur, prevNode)
	p.instructionCount = position / 2

	// Second pass: resolve jump targets now every label has been seen.
	for i, b := range p.blocks {
		meta := metas[i]

		switch meta.kind {
		case Jump:
			target, ok := labelToBlock[meta.target]
			if !ok {
				return errorf(ErrInvalidState, "unresolved jump target %d", meta.target)
			}

			link(b, target)
		case CondJump:
			target, ok := labelToBlock[meta.target]
			if !ok {
				return errorf(ErrInvalidState, "unresolved jump target %d", meta.target)
			}

			link(b, target)
		}
	}

	if p.hasDanglingBlocks() {
		return errorf(ErrInvalidState, "dangling blocks: created %d, added %d", p.createdBlockCount, len(p.blocks))
	}

	return p.removeUnreachableBlocks()
}

// buildInst folds one instruction's operands into the InstBuilder and
// publishes the resulting RAInst onto the node.
func (p *Pass) buildInst(node Node, inst InstNode, block *RABlock, ib *instBuilder, position uint32) (InstFlags, error) {
	ib.reset()

	for _, op := range inst.Operands() {
		w := p.workRegs.asWorkReg(op.Virt)
		if err := ib.add(w, op.Flags, op.Allocable, op.UseID, op.UseRewriteMask, op.OutID, op.OutRewriteMask); err != nil {
			return 0, err
		}
	}

	var flags InstFlags
	if inst.Terminator().Kind != NotTerminator {
		flags |= InstIsTerminator
	}

	raInst := assignRAInst(block, flags, ib, p.workRegs)
	raInst.Position = position
	raInst.HasFuncCall = inst.IsFuncCall()

	if raInst.HasFuncCall {
		block.addFlags(BlockHasFuncCalls)
	}

	for g := Group(0); int(g) < p.target.GroupCount(); g++ {
		if mask := inst.ClobberedRegs(g); mask != 0 {
			raInst.ClobberedRegs[g] |= mask
		}
	}

	node.SetRAInst(raInst)

	return flags, nil
}

// addBlock assigns a dense blockID to block and appends it to the CFG's
// block table.
func (p *Pass) addBlock(block *RABlock) error {
	block.blockID = uint32(len(p.blocks))
	p.blocks = append(p.blocks, block)

	return nil
}

// hasDanglingBlocks reports whether some block was constructed via newBlock
// but never added to the CFG via addBlock.
func (p *Pass) hasDanglingBlocks() bool {
	return p.createdBlockCount != len(p.blocks)
}

// removeUnreachableBlocks performs a forward reachability sweep from the
// entry block, detaching every block not reached from all
// successor/predecessor lists and clearing its node range.
func (p *Pass) removeUnreachableBlocks() error {
	if len(p.blocks) == 0 {
		return errorf(ErrInvalidState, "no entry block")
	}

	entry := p.blocks[0]
	reachable := make(map[*RABlock]bool)

	var stack []*RABlock

	stack = append(stack, entry)
	reachable[entry] = true

	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, s := range b.successors {
			if !reachable[s] {
				reachable[s] = true

				stack = append(stack, s)
			}
		}
	}

	for _, b := range p.blocks {
		if reachable[b] {
			b.addFlags(BlockIsReachable)
			b.addFlags(BlockIsConstructed)

			continue
		}

		b.addFlags(BlockIsConstructed)
		// Detach from every neighbor's adjacency list on both sides.
		for _, s := range b.successors {
			s.predecessors = removeBlock(s.predecessors, b)
		}

		for _, pr := range b.predecessors {
			pr.successors = removeBlock(pr.successors, b)
		}

		b.successors = nil
		b.predecessors = nil
		b.first = nil
		b.last = nil
	}

	var keptExits []*RABlock

	for _, e := range p.exits {
		if reachable[e] {
			keptExits = append(keptExits, e)
		}
	}

	p.exits = keptExits

	return nil
}

// findSuccessorStartingAt skips decorative nodes (comments, directives,
// alignment padding) to find the next node that actually starts or
// continues a block, per rapass_p.h's function of the same name.
func findSuccessorStartingAt(node Node) Node {
	for node != nil {
		switch node.Kind() {
		case KindComment, KindDirective, KindAlign:
			node = node.Next()
		default:
			return node
		}
	}

	return nil
}

// isNextTo reports whether target is the label immediately following
// jumpNode in the node stream (modulo decorative nodes), making an
// unconditional jump to it redundant.
func isNextTo(jumpNode Node, target Label) bool {
	next := findSuccessorStartingAt(jumpNode.Next())
	if next == nil || next.Kind() != KindLabel {
		return false
	}

	return next.(LabelNode).Label() == target
}

func removeBlock(list []*RABlock, target *RABlock) []*RABlock {
	out := list[:0]

	for _, b := range list {
		if b != target {
			out = append(out, b)
		}
	}

	return out
}
