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

// NodeKind distinguishes the handful of node shapes the pass cares about.
// Everything else in the host's stream is opaque and simply skipped.
type NodeKind uint8

const (
	// KindLabel marks a potential branch target.
	KindLabel NodeKind = iota
	// KindInst is an executable instruction.
	KindInst
	// KindDirective is a non-executable assembler directive.
	KindDirective
	// KindAlign is an alignment pad.
	KindAlign
	// KindComment is purely decorative.
	KindComment
)

// Node is the minimal capability the pass requires of the host's doubly
// linked instruction stream. The stream itself is owned by the host; the
// pass holds a mutable borrow for the duration of runOnFunction and mutates
// it in place only via the rewriter and prologue/epilogue insertion.
type Node interface {
	Next() Node
	Prev() Node
	SetNext(Node)
	SetPrev(Node)
	Kind() NodeKind
	// RAInst is the pass-data slot in which this package stores its
	// per-instruction record. Nil until CFG construction visits the node.
	RAInst() *RAInst
	SetRAInst(*RAInst)
}

// LabelNode is a Node of KindLabel, identifying a potential branch target.
type LabelNode interface {
	Node
	Label() Label
}

// TerminatorKind classifies how an instruction ends a basic block, if it
// does at all.
type TerminatorKind uint8

const (
	// NotTerminator means the instruction falls through to the next node.
	NotTerminator TerminatorKind = iota
	// Jump is an unconditional branch to Target.
	Jump
	// CondJump is a conditional branch to Target, falling through to the
	// next block otherwise.
	CondJump
	// Return ends the function; the enclosing block is a function exit.
	Return
)

// Terminator describes how, if at all, an InstNode ends its block.
type Terminator struct {
	Kind   TerminatorKind
	Target Label
}

// OperandRef describes one reference, within a single instruction, to a
// virtual register: whether it is read, written, or both, any fixed
// physical-register constraint, and the rewrite mask the Rewriter uses to
// patch the physical id back into the encoded operand.
type OperandRef struct {
	Virt *VirtReg
	// Flags describes the read/write/rw/last-use nature of this reference.
	Flags TiedFlags
	// Allocable is the mask of physical registers this operand may
	// legally occupy.
	Allocable RegMask
	// UseID is the fixed physical register this operand must occupy as an
	// input, or BadID if unconstrained.
	UseID uint8
	// UseRewriteMask enumerates the 32-bit word offsets within the
	// instruction's operand encoding that carry the use-side physical id.
	UseRewriteMask uint32
	// OutID is the fixed physical register this operand must occupy as an
	// output, or BadID if unconstrained.
	OutID uint8
	// OutRewriteMask is the output-side analogue of UseRewriteMask.
	OutRewriteMask uint32
}

// InstNode is a Node of KindInst: something the CFG builder turns into an
// RAInst and the rewriter later patches in place.
type InstNode interface {
	Node
	// Terminator reports how this instruction ends its block, if at all.
	Terminator() Terminator
	// Operands enumerates every virtual-register reference made by this
	// instruction, used by the InstBuilder to build TiedRegs.
	Operands() []OperandRef
	// ClobberedRegs returns the mask of physical registers in group
	// destroyed by this instruction (e.g. caller-saves across a call).
	ClobberedRegs(group Group) RegMask
	// IsFuncCall reports whether this instruction is a function call,
	// for RABlock.HasFuncCalls aggregation.
	IsFuncCall() bool
	// RewriteOperand patches physID into every encoded operand word
	// identified by rewriteMask (an OperandRef.UseRewriteMask or
	// OutRewriteMask value), called once per nonzero mask by the rewriter.
	RewriteOperand(rewriteMask uint32, physID uint8)
}
