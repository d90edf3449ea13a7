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

// runLocalAllocator walks every reachable block in reverse post-order,
// assigning physical registers instruction by instruction and reconciling
// each edge against its successor's entry assignment.
func (p *Pass) runLocalAllocator() error {
	rpo := p.ReversePostOrder()
	if len(rpo) == 0 {
		return errorf(ErrInvalidState, "no reachable blocks")
	}

	entry := p.blocks[0]
	if !entry.HasEntryAssignment() {
		p2w, w2p := p.seedEntryAssignment(entry)
		p.applyArgAssignment(p2w, w2p)
		entry.SetEntryAssignment(p2w, w2p)
	}

	for _, b := range rpo {
		if !b.HasEntryAssignment() {
			p2w, w2p := p.seedEntryAssignment(b)
			b.SetEntryAssignment(p2w, w2p)
		}

		tailP2W, tailW2P, err := p.allocateBlock(b)
		if err != nil {
			return err
		}

		for _, s := range b.successors {
			if !s.HasEntryAssignment() {
				sp2w, sw2p := p.seedEntryAssignment(s)
				s.SetEntryAssignment(sp2w, sw2p)
			}

			if err := p.reconcileEdge(b, s, tailP2W, tailW2P); err != nil {
				return err
			}
		}

		b.addFlags(BlockIsAllocated)
	}

	return nil
}

// seedEntryAssignment derives a block's canonical entry assignment purely
// from the global allocator's homes and the block's live-in set: any
// globally-homed WorkReg that is live at block entry is placed in its home
// register; everything else starts unassigned (reloaded from its stack slot
// on first use within the block, or via edge reconciliation). Being a pure
// function of global homes and liveness, it is deterministic across every
// predecessor, so every edge — not only the second and later ones — is
// reconciled uniformly against it.
func (p *Pass) seedEntryAssignment(b *RABlock) (*PhysToWorkMap, *WorkToPhysMap) {
	p2w := NewPhysToWorkMap(p.arena, p.physTotal)
	w2p := NewWorkToPhysMap(p.arena, p.workRegs.count())

	it, has := b.in.NextSet(0)
	for has {
		workID := uint32(it)

		if phys, ok := p.globalHome(workID); ok {
			w := p.workRegs.byID(workID)
			base := p.physBase(w.Group())
			p2w.Set(base+int(phys), workID)
			w2p.Set(workID, uint32(phys))
		}

		it, has = b.in.NextSet(it + 1)
	}

	return p2w, w2p
}

// applyArgAssignment overlays the host's calling-convention mapping onto
// the entry block's seeded assignment: an argument homed to a physical
// register wins over whatever seedEntryAssignment derived, since it
// reflects the function's actual incoming state.
func (p *Pass) applyArgAssignment(p2w *PhysToWorkMap, w2p *WorkToPhysMap) {
	for _, arg := range p.argAssignment {
		if arg.Kind != ArgInPhys {
			continue
		}

		w := p.workRegs.asWorkReg(arg.Virt)
		base := p.physBase(arg.Group)

		if prev, ok := p2w.Get(base + int(arg.Phys)); ok && prev != w.WorkID() {
			w2p.Set(prev, Unassigned)
		}

		p2w.Set(base+int(arg.Phys), w.WorkID())
		w2p.Set(w.WorkID(), uint32(arg.Phys))
		p.markClobbered(arg.Group, arg.Phys)
	}
}

// allocateBlock walks one block's instructions in order, cloning its entry
// assignment and mutating it instruction by instruction, returning the
// tail assignment handed to edge reconciliation.
func (p *Pass) allocateBlock(b *RABlock) (*PhysToWorkMap, *WorkToPhysMap, error) {
	entryP2W, entryW2P := b.EntryAssignment()
	p2w := entryP2W.Clone(p.arena)
	w2p := entryW2P.Clone(p.arena)

	for node := b.first; node != nil; node = nextInstAfter(node, b) {
		if inst := node.RAInst(); inst != nil {
			if err := p.allocateInst(node, inst, p2w, w2p); err != nil {
				return nil, nil, err
			}
		}

		if node == b.last {
			break
		}
	}

	return p2w, w2p, nil
}

// allocateInst assigns physical registers for one instruction's tied regs,
// in six passes: fixed inputs, non-fixed inputs,
// clobbers, fixed outputs, non-fixed outputs, then freeing last uses.
func (p *Pass) allocateInst(node Node, inst *RAInst, p2w *PhysToWorkMap, w2p *WorkToPhysMap) error {
	p.emitter.SetCursor(node)

	for i := range inst.Tied {
		t := &inst.Tied[i]
		if !t.Flags.Has(TiedUseFixed) {
			continue
		}

		group := p.workRegs.byID(t.WorkID).Group()
		base := p.physBase(group)
		need := base + int(t.UseID)

		if occ, ok := p2w.Get(need); ok {
			if occ == t.WorkID {
				continue
			}

			if err := p.evict(group, uint8(t.UseID), occ, p2w, w2p); err != nil {
				return err
			}
		}

		if err := p.materialize(group, t.WorkID, uint8(t.UseID), p2w, w2p); err != nil {
			return err
		}

		p.markClobbered(group, uint8(t.UseID))
	}

	for i := range inst.Tied {
		t := &inst.Tied[i]
		if !t.Flags.Has(TiedRead) || t.Flags.Has(TiedUseFixed) {
			continue
		}

		group := p.workRegs.byID(t.WorkID).Group()

		if phys, ok := w2p.Get(t.WorkID); ok && t.AllocableRegs.Has(phys) {
			t.UseID = phys

			continue
		}

		phys, err := p.pickFreeOrSpill(group, t.AllocableRegs, p2w, w2p, inst)
		if err != nil {
			return err
		}

		if err := p.materialize(group, t.WorkID, phys, p2w, w2p); err != nil {
			return err
		}

		t.UseID = phys
		p.markClobbered(group, phys)
	}

	for group, mask := range inst.ClobberedRegs {
		base := p.physBase(group)

		for id := uint8(0); id < p.target.PhysRegCount(group); id++ {
			if !mask.Has(id) {
				continue
			}

			if occ, ok := p2w.Get(base + int(id)); ok {
				if instHoldsPhysAsOperand(inst, group, id) {
					continue
				}

				if err := p.evict(group, id, occ, p2w, w2p); err != nil {
					return err
				}
			}

			p.markClobbered(group, id)
		}
	}

	for i := range inst.Tied {
		t := &inst.Tied[i]
		if !t.Flags.Has(TiedOutFixed) {
			continue
		}

		group := p.workRegs.byID(t.WorkID).Group()
		base := p.physBase(group)
		need := base + int(t.OutID)

		if occ, ok := p2w.Get(need); ok && occ != t.WorkID {
			if err := p.evict(group, uint8(t.OutID), occ, p2w, w2p); err != nil {
				return err
			}
		}

		p2w.Set(need, t.WorkID)
		w2p.Set(t.WorkID, uint32(t.OutID))
		p.markClobbered(group, uint8(t.OutID))
	}

	for i := range inst.Tied {
		t := &inst.Tied[i]
		if !t.Flags.Has(TiedWrite) || t.Flags.Has(TiedOutFixed) {
			continue
		}

		group := p.workRegs.byID(t.WorkID).Group()

		if phys, ok := w2p.Get(t.WorkID); ok && t.Flags.Has(TiedRead) && t.AllocableRegs.Has(phys) {
			t.OutID = phys

			continue
		}

		phys, err := p.pickFreeOrSpill(group, t.AllocableRegs, p2w, w2p, inst)
		if err != nil {
			return err
		}

		base := p.physBase(group)
		p2w.Set(base+int(phys), t.WorkID)
		w2p.Set(t.WorkID, uint32(phys))
		t.OutID = phys
		p.markClobbered(group, phys)
	}

	for i := range inst.Tied {
		t := &inst.Tied[i]
		if !t.Flags.Has(TiedLastUse) {
			continue
		}

		if phys, ok := w2p.Get(t.WorkID); ok {
			group := p.workRegs.byID(t.WorkID).Group()
			base := p.physBase(group)
			p2w.Set(base+int(phys), Unassigned)
			w2p.Set(t.WorkID, Unassigned)
		}
	}

	return nil
}

// instHoldsPhysAsOperand reports whether this instruction itself references
// physical register id of group as one of its tied regs' use/out id — such
// a register must not be evicted as part of clobber handling since the
// instruction is about to (re)write it anyway.
func instHoldsPhysAsOperand(inst *RAInst, group Group, id uint8) bool {
	tied := inst.TiedOf(group)
	for i := range tied {
		t := &tied[i]

		if t.HasUseID() && t.UseID == id {
			return true
		}

		if t.HasOutID() && t.OutID == id {
			return true
		}
	}

	return false
}

// materialize ensures workID is held in phys, emitting a move if it is
// currently held elsewhere in the group or a load if it has no register at
// all.
func (p *Pass) materialize(group Group, workID uint32, phys uint8, p2w *PhysToWorkMap, w2p *WorkToPhysMap) error {
	base := p.physBase(group)

	if cur, ok := w2p.Get(workID); ok {
		if cur == phys {
			return nil
		}

		if err := p.emitMove(workID, phys, cur, group); err != nil {
			return err
		}

		p2w.Set(base+int(cur), Unassigned)
	} else {
		if err := p.emitLoad(workID, phys, group); err != nil {
			return err
		}
	}

	p2w.Set(base+int(phys), workID)
	w2p.Set(workID, uint32(phys))

	return nil
}

// evict frees phys, currently held by occupant, either by moving it to
// another free register in the group or, under pressure, spilling it to its
// stack slot.
func (p *Pass) evict(group Group, phys uint8, occupant uint32, p2w *PhysToWorkMap, w2p *WorkToPhysMap) error {
	base := p.physBase(group)

	if free, ok := p.findFreeReg(group, p2w, p.allocableMask(group)); ok {
		if err := p.emitMove(occupant, free, phys, group); err != nil {
			return err
		}

		p2w.Set(base+int(phys), Unassigned)
		p2w.Set(base+int(free), occupant)
		w2p.Set(occupant, uint32(free))

		return nil
	}

	w := p.workRegs.byID(occupant)
	p.getOrCreateStackSlot(w)

	if err := p.emitSave(occupant, phys, group); err != nil {
		return err
	}

	p2w.Set(base+int(phys), Unassigned)
	w2p.Set(occupant, Unassigned)

	return nil
}

// findFreeReg returns the lowest free physical register in group within
// allocable, or (0, false).
func (p *Pass) findFreeReg(group Group, p2w *PhysToWorkMap, allocable RegMask) (uint8, bool) {
	base := p.physBase(group)

	for id := uint8(0); id < p.target.PhysRegCount(group); id++ {
		if !allocable.Has(id) {
			continue
		}

		if _, ok := p2w.Get(base + int(id)); !ok {
			return id, true
		}
	}

	return 0, false
}

// pickFreeOrSpill returns a register in group within allocable, spilling a
// victim chosen per the configured strategy if none is free.
func (p *Pass) pickFreeOrSpill(group Group, allocable RegMask, p2w *PhysToWorkMap, w2p *WorkToPhysMap, inst *RAInst) (uint8, error) {
	if free, ok := p.findFreeReg(group, p2w, allocable); ok {
		return free, nil
	}

	victim, victimPhys, ok := p.chooseSpillVictim(group, allocable, p2w, inst)
	if !ok {
		return 0, errorf(ErrOutOfPhysRegs, "no allocable register available in group %d", group)
	}

	if err := p.evict(group, victimPhys, victim, p2w, w2p); err != nil {
		return 0, err
	}

	return victimPhys, nil
}

// chooseSpillVictim picks which WorkReg currently occupying an allocable
// register of group to evict. StrategySimple groups always take the
// cheapest lowest-physical-id victim regardless of Options.Spill, matching
// asmjit's single-pass "simple" allocator that does no live-range
// bookkeeping; StrategyComplex groups honor the configured Options.Spill
// policy (exposed on the CLI as --spill): SpillFirstFit evicts the lowest
// physical id, SpillFurthestUse evicts whichever WorkReg's next use within
// this block is farthest away (or not used again at all).
func (p *Pass) chooseSpillVictim(group Group, allocable RegMask, p2w *PhysToWorkMap, inst *RAInst) (uint32, uint8, bool) {
	base := p.physBase(group)
	firstFit := p.strategyFor(group) == StrategySimple || p.opts.Spill == SpillFirstFit

	var (
		found        bool
		bestWorkID   uint32
		bestPhys     uint8
		bestDistance uint32
	)

	for id := uint8(0); id < p.target.PhysRegCount(group); id++ {
		if !allocable.Has(id) {
			continue
		}

		occ, ok := p2w.Get(base + int(id))
		if !ok {
			continue
		}

		if instHoldsPhysAsOperand(inst, group, id) {
			continue
		}

		if firstFit {
			return occ, id, true
		}

		distance := p.nextUseDistance(occ, inst)

		if !found || distance > bestDistance {
			found = true
			bestWorkID = occ
			bestPhys = id
			bestDistance = distance
		}
	}

	return bestWorkID, bestPhys, found
}

// nextUseDistance returns the position offset from inst to the next
// instruction later in inst's block that reads workID, or ^uint32(0) if
// nothing later in the block reads it — making a WorkReg with no further
// use in this block the best possible spill victim.
func (p *Pass) nextUseDistance(workID uint32, inst *RAInst) uint32 {
	b := inst.Block

	for node := b.first; node != nil; node = nextInstAfter(node, b) {
		next := node.RAInst()
		if next == nil || next.Position <= inst.Position {
			continue
		}

		for i := range next.Tied {
			if t := &next.Tied[i]; t.WorkID == workID && t.Flags.Has(TiedRead) {
				return next.Position - inst.Position
			}
		}
	}

	return ^uint32(0)
}

// reconcileEdge emits the moves/swaps/loads needed to bring tail's
// assignment into agreement with s's entry assignment, one register group
// at a time, inserted at the appropriate edge point.
func (p *Pass) reconcileEdge(b, s *RABlock, tailP2W *PhysToWorkMap, tailW2P *WorkToPhysMap) error {
	entryP2W, entryW2P := s.EntryAssignment()
	if tailW2P.Equal(entryW2P) {
		return nil
	}

	before := p.edgeInsertPoint(b, s)

	for g := Group(0); int(g) < p.target.GroupCount(); g++ {
		base := p.physBase(g)
		count := int(p.target.PhysRegCount(g))

		steps := diffAssignments(g, base, count, tailP2W, entryP2W, tailW2P)
		if len(steps) == 0 {
			continue
		}

		p.emitter.SetCursor(before)

		for _, step := range steps {
			if err := p.emitReconciliation(step); err != nil {
				return err
			}
		}
	}

	return nil
}

// edgeInsertPoint decides where to splice reconciliation code for the b->s
// edge: at the end of b when b has a single successor (the edge is
// exclusively b's) — before its terminator if it has one, otherwise after
// its last node — and otherwise at the top of s's body (safe whenever s
// has a single predecessor; a best-effort fallback for true critical edges
// — both multi-successor and multi-predecessor — since this package does
// not synthesize new edge blocks in the host's node stream).
func (p *Pass) edgeInsertPoint(b, s *RABlock) Node {
	if len(b.successors) == 1 {
		if b.hasFlag(BlockHasTerminator) {
			return b.last
		}

		return b.last.Next()
	}

	n := s.first
	for n != nil && n.Kind() == KindLabel {
		n = n.Next()
	}

	return n
}

func (p *Pass) emitMove(workID uint32, dst, src uint8, group Group) error {
	p.markClobbered(group, dst)

	if err := p.emitter.EmitMove(workID, dst, src, group); err != nil {
		return wrapf(ErrArchConstraint, err, "move workId %d", workID)
	}

	return nil
}

func (p *Pass) emitLoad(workID uint32, dst uint8, group Group) error {
	p.markClobbered(group, dst)

	if err := p.emitter.EmitLoad(workID, dst, group); err != nil {
		return wrapf(ErrArchConstraint, err, "load workId %d", workID)
	}

	return nil
}

func (p *Pass) emitSave(workID uint32, src uint8, group Group) error {
	if err := p.emitter.EmitSave(workID, src, group); err != nil {
		return wrapf(ErrArchConstraint, err, "save workId %d", workID)
	}

	return nil
}

func (p *Pass) emitReconciliation(step Reconciliation) error {
	switch step.Kind {
	case ReconcileMove:
		return p.emitMove(step.WorkID, step.DstPhys, step.SrcPhys, step.Group)
	case ReconcileSwap:
		p.markClobbered(step.Group, step.DstPhys)
		p.markClobbered(step.Group, step.SrcPhys)

		if err := p.emitter.EmitSwap(step.WorkID, step.DstPhys, step.OtherWorkID, step.SrcPhys, step.Group); err != nil {
			return wrapf(ErrArchConstraint, err, "swap workId %d/%d", step.WorkID, step.OtherWorkID)
		}

		return nil
	case ReconcileLoad:
		return p.emitLoad(step.WorkID, step.DstPhys, step.Group)
	case ReconcileSave:
		return p.emitSave(step.WorkID, step.SrcPhys, step.Group)
	default:
		return errorf(ErrInvalidState, "unknown reconciliation kind %d", step.Kind)
	}
}
