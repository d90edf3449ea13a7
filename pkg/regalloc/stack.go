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

// StackSlot is a WorkReg's home in the stack frame, created lazily the
// first time a spill needs one. Slot ids are independent of
// physical register ids.
type StackSlot struct {
	id        uint32
	size      uint8
	alignment uint8
	offset    uint32
}

// ID returns this slot's dense identifier.
func (s *StackSlot) ID() uint32 { return s.id }

// Offset returns this slot's byte offset from the frame base, valid only
// after updateStackFrame has run.
func (s *StackSlot) Offset() uint32 { return s.offset }

// stackAllocator lays out stack slots for WorkRegs that need a home outside
// physical registers.
type stackAllocator struct {
	slots []*StackSlot
}

func newStackAllocator() *stackAllocator {
	return &stackAllocator{}
}

func (a *stackAllocator) newSlot(size, alignment uint8) *StackSlot {
	s := &StackSlot{id: uint32(len(a.slots)), size: size, alignment: alignment}
	a.slots = append(a.slots, s)

	return s
}

// getOrCreateStackSlot returns w's stack slot, creating one sized/aligned
// to its originating VirtReg on first use.
func (p *Pass) getOrCreateStackSlot(w *WorkReg) *StackSlot {
	if w.stack != nil {
		return w.stack
	}

	slot := p.stack.newSlot(w.virt.Size, w.virt.Align)
	w.stack = slot

	return slot
}

// Frame describes the finalized stack frame of a function, computed by
// updateStackFrame.
type Frame struct {
	// Size is the total size in bytes of the frame's stack slots, rounded
	// up to the largest slot alignment. It does not include space for
	// saving callee-saved registers.
	Size uint32
	// CalleeSaved is, per group, the mask of callee-saved registers this
	// function must preserve: the intersection of the architecture's
	// callee-saves and the registers actually clobbered.
	CalleeSaved map[Group]RegMask
	// Alignment is the frame's required alignment in bytes.
	Alignment uint8
	// ArgStackSlots enumerates incoming arguments that were homed directly
	// to a stack slot rather than a physical register, because the calling
	// convention ran out of physical registers in some group.
	ArgStackSlots []*StackSlot
}

// ArgLocationKind distinguishes where an incoming argument lives on entry.
type ArgLocationKind uint8

const (
	// ArgInPhys means the argument arrives in a physical register.
	ArgInPhys ArgLocationKind = iota
	// ArgOnStack means the argument arrives already homed to a stack slot
	// (more arguments than available physical registers in the group).
	ArgOnStack
)

// ArgLocation describes one incoming function argument's location,
// supplied by the host's calling-convention mapper and used to seed the
// entry block's assignment.
type ArgLocation struct {
	Virt  *VirtReg
	Kind  ArgLocationKind
	Group Group
	Phys  uint8 // valid when Kind == ArgInPhys
}

// updateStackFrame computes the total frame size, the callee-saved
// registers to preserve, and alignment, and assigns byte offsets to every
// stack slot created during allocation.
func (p *Pass) updateStackFrame() error {
	var maxAlign uint8 = 1

	offset := uint32(0)

	var argSlots []*StackSlot

	for _, arg := range p.argAssignment {
		if arg.Kind == ArgOnStack {
			w := p.workRegs.asWorkReg(arg.Virt)
			argSlots = append(argSlots, p.getOrCreateStackSlot(w))
		}
	}

	for _, s := range p.stack.slots {
		if s.alignment > maxAlign {
			maxAlign = s.alignment
		}

		if rem := offset % uint32(s.alignment); rem != 0 {
			offset += uint32(s.alignment) - rem
		}

		s.offset = offset
		offset += uint32(s.size)
	}

	calleeSaved := make(map[Group]RegMask)

	for g := Group(0); int(g) < p.target.GroupCount(); g++ {
		calleeSaved[g] = p.target.CalleeSaved(g) & p.clobberedRegs[g]
	}

	if rem := offset % uint32(maxAlign); rem != 0 {
		offset += uint32(maxAlign) - rem
	}

	p.frame = Frame{
		Size:          offset,
		CalleeSaved:   calleeSaved,
		Alignment:     maxAlign,
		ArgStackSlots: argSlots,
	}

	return nil
}

// insertPrologEpilog synthesizes the prologue at function entry and the
// epilogue at each function-exit block, using the target's emit hooks.
func (p *Pass) insertPrologEpilog() error {
	entry := p.blocks[0]

	p.emitter.SetCursor(entry.First())

	if err := p.emitter.EmitPrologue(p.frame); err != nil {
		return wrapf(ErrArchConstraint, err, "prologue")
	}

	for _, exit := range p.exits {
		p.emitter.SetCursor(exit.Last())

		if err := p.emitter.EmitEpilogue(p.frame); err != nil {
			return wrapf(ErrArchConstraint, err, "epilogue")
		}
	}

	return nil
}
