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
package asmir

import "github.com/consensys/go-regalloc/pkg/regalloc"

// Operand is one reference to a virtual register made by an Instruction.
// Phys holds the final, concrete physical register once the allocator's
// rewrite phase has run; before that it is meaningless.
type Operand struct {
	Virt      *regalloc.VirtReg
	Flags     regalloc.TiedFlags
	Allocable regalloc.RegMask
	UseID     uint8
	OutID     uint8
	Phys      uint8
}

// Instruction is a concrete regalloc.InstNode: a mnemonic plus an ordered
// list of register operands. Each operand's index doubles as its rewrite
// mask bit, so the allocator's rewriter can patch Operand.Phys directly
// without any host-specific operand encoding.
type Instruction struct {
	links

	Mnemonic string
	ops      []*Operand
	clobbers map[regalloc.Group]regalloc.RegMask
	funcCall bool
	term     regalloc.Terminator
}

// RawOperands returns the instruction's operands in order, letting tests
// and encoders inspect each Operand.Phys after allocation.
func (i *Instruction) RawOperands() []*Operand { return i.ops }

// NewInstruction constructs an instruction with no operands, falling
// through to the next node by default.
func NewInstruction(mnemonic string) *Instruction {
	return &Instruction{Mnemonic: mnemonic, clobbers: make(map[regalloc.Group]regalloc.RegMask)}
}

// Kind implements regalloc.Node.
func (i *Instruction) Kind() regalloc.NodeKind { return regalloc.KindInst }

// Use appends a read-only operand referencing virt, optionally pinned to a
// fixed physical register (regalloc.BadID for unconstrained).
func (i *Instruction) Use(virt *regalloc.VirtReg, allocable regalloc.RegMask, fixed uint8) *Operand {
	flags := regalloc.TiedRead
	if fixed != regalloc.BadID {
		flags |= regalloc.TiedUseFixed
	}

	op := &Operand{Virt: virt, Flags: flags, Allocable: allocable, UseID: fixed, OutID: regalloc.BadID}
	i.ops = append(i.ops, op)

	return op
}

// Def appends a write-only operand referencing virt, optionally pinned to a
// fixed physical register.
func (i *Instruction) Def(virt *regalloc.VirtReg, allocable regalloc.RegMask, fixed uint8) *Operand {
	flags := regalloc.TiedWrite
	if fixed != regalloc.BadID {
		flags |= regalloc.TiedOutFixed
	}

	op := &Operand{Virt: virt, Flags: flags, Allocable: allocable, UseID: regalloc.BadID, OutID: fixed}
	i.ops = append(i.ops, op)

	return op
}

// UseDef appends a read-modify-write operand referencing virt.
func (i *Instruction) UseDef(virt *regalloc.VirtReg, allocable regalloc.RegMask) *Operand {
	op := &Operand{Virt: virt, Flags: regalloc.TiedReadWrite, Allocable: allocable, UseID: regalloc.BadID, OutID: regalloc.BadID}
	i.ops = append(i.ops, op)

	return op
}

// MarkLastUse flags op as this instruction's last reference to its WorkReg
// along the current path, letting the local allocator free its register
// immediately afterward.
func (op *Operand) MarkLastUse() { op.Flags |= regalloc.TiedLastUse }

// Clobber records that this instruction destroys every register in mask
// within group (e.g. caller-saves across a call).
func (i *Instruction) Clobber(group regalloc.Group, mask regalloc.RegMask) {
	i.clobbers[group] |= mask
}

// SetFuncCall marks this instruction as a function call.
func (i *Instruction) SetFuncCall() { i.funcCall = true }

// SetJump marks this instruction as an unconditional jump to target.
func (i *Instruction) SetJump(target regalloc.Label) {
	i.term = regalloc.Terminator{Kind: regalloc.Jump, Target: target}
}

// SetCondJump marks this instruction as a conditional jump to target,
// falling through to the next block otherwise.
func (i *Instruction) SetCondJump(target regalloc.Label) {
	i.term = regalloc.Terminator{Kind: regalloc.CondJump, Target: target}
}

// SetReturn marks this instruction as ending the function.
func (i *Instruction) SetReturn() {
	i.term = regalloc.Terminator{Kind: regalloc.Return}
}

// Terminator implements regalloc.InstNode.
func (i *Instruction) Terminator() regalloc.Terminator { return i.term }

// IsFuncCall implements regalloc.InstNode.
func (i *Instruction) IsFuncCall() bool { return i.funcCall }

// ClobberedRegs implements regalloc.InstNode.
func (i *Instruction) ClobberedRegs(group regalloc.Group) regalloc.RegMask { return i.clobbers[group] }

// Operands implements regalloc.InstNode, exposing each operand's rewrite
// mask as the single bit matching its index.
func (i *Instruction) Operands() []regalloc.OperandRef {
	refs := make([]regalloc.OperandRef, len(i.ops))

	for idx, op := range i.ops {
		bit := uint32(1) << uint(idx)

		ref := regalloc.OperandRef{
			Virt:      op.Virt,
			Flags:     op.Flags,
			Allocable: op.Allocable,
			UseID:     op.UseID,
			OutID:     op.OutID,
		}

		if ref.Flags.Has(regalloc.TiedRead) {
			ref.UseRewriteMask = bit
		}

		if ref.Flags.Has(regalloc.TiedWrite) {
			ref.OutRewriteMask = bit
		}

		refs[idx] = ref
	}

	return refs
}

// RewriteOperand implements regalloc.InstNode, patching physID into every
// operand whose index bit is set in rewriteMask.
func (i *Instruction) RewriteOperand(rewriteMask uint32, physID uint8) {
	for idx, op := range i.ops {
		if rewriteMask&(uint32(1)<<uint(idx)) != 0 {
			op.Phys = physID
		}
	}
}
