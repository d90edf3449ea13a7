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

// Package regalloc implements a target-independent register allocation pass
// for a JIT code generator: CFG construction, dominator and liveness
// analysis, a two-level (global bin-pack + local per-block) allocator, and
// the stack-frame and operand-rewriting passes that turn its decisions back
// into the host's instruction stream.
package regalloc

import "github.com/sirupsen/logrus"

// SpillPolicy selects how the local allocator picks a spill victim when a
// register group is under pressure.
type SpillPolicy uint8

const (
	// SpillFurthestUse evicts the WorkReg whose next use is farthest away
	// (or never reused again in the block), minimizing reload traffic.
	SpillFurthestUse SpillPolicy = iota
	// SpillFirstFit evicts the lowest-numbered occupied physical register,
	// a cheap deterministic choice suited to StrategySimple groups.
	SpillFirstFit
)

// Options configures one Pass: the per-group strategy override, the
// spill-victim policy, and whether to elide redundant jumps, each exposed
// as a CLI flag (--strategy, --spill, --elide-redundant-jumps).
type Options struct {
	// StrategyOverride, if non-nil, overrides Target.StrategyFor for every
	// group.
	StrategyOverride *Strategy
	// Spill selects the local allocator's spill-victim policy.
	Spill SpillPolicy
	// ElideRedundantJumps treats an unconditional jump whose target is the
	// immediately following block as a fall-through edge; the jump node
	// itself stays in the stream.
	ElideRedundantJumps bool
}

// Pass holds all state for one run of the allocator over a single function.
// Not safe for concurrent use: a Pass is scoped to one function on
// one goroutine, with state reset between runs via a fresh Arena.
type Pass struct {
	opts Options

	target  Target
	emitter Emitter
	logger  *logrus.Logger

	arena *Arena

	workRegs *workRegTable

	blocks []*RABlock
	exits  []*RABlock
	pov    []*RABlock

	createdBlockCount int
	instructionCount  uint32

	global              *globalAssignment
	globalMaxLiveCount  map[Group]int

	stack         *stackAllocator
	frame         Frame
	argAssignment []ArgLocation
	clobberedRegs map[Group]RegMask

	physBaseOf map[Group]int
	physTotal  int
}

// NewPass constructs a Pass bound to a target and emitter, ready to run over
// any number of functions via successive RunOnFunction calls. logger may be
// nil, disabling diagnostic annotations.
func NewPass(target Target, emitter Emitter, logger *logrus.Logger, opts Options) *Pass {
	return &Pass{target: target, emitter: emitter, logger: logger, opts: opts}
}

// Result summarizes one completed RunOnFunction.
type Result struct {
	BlockCount          int
	ReachableBlockCount int
	InstructionCount    uint32
	Frame               Frame
}

// RunOnFunction executes the full pipeline over one function's node stream,
// CFG -> views/dominators -> liveness -> global allocation
// -> local allocation -> stack frame -> prologue/epilogue -> rewrite.
//
// args describes the incoming calling convention, used to seed the entry
// block's assignment; it may be nil for functions with no arguments (or
// when the host has already materialized them as ordinary instructions).
func (p *Pass) RunOnFunction(first Node, args []ArgLocation) (*Result, error) {
	p.reset(args)
	defer p.arena.Reset()

	if err := p.onInit(); err != nil {
		return nil, err
	}

	if err := p.buildCFG(first); err != nil {
		return nil, err
	}

	if err := p.buildViews(); err != nil {
		return nil, err
	}

	if err := p.buildDominators(); err != nil {
		return nil, err
	}

	if err := p.buildLiveness(); err != nil {
		return nil, err
	}

	if err := p.runGlobalAllocator(); err != nil {
		return nil, err
	}

	if err := p.runLocalAllocator(); err != nil {
		return nil, err
	}

	if err := p.updateStackFrame(); err != nil {
		return nil, err
	}

	if err := p.insertPrologEpilog(); err != nil {
		return nil, err
	}

	if err := p.rewrite(); err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{
			"blocks":       len(p.blocks),
			"reachable":    len(p.pov),
			"instructions": p.instructionCount,
			"frameSize":    p.frame.Size,
		}).Debug("regalloc: function allocated")
	}

	result := &Result{
		BlockCount:          len(p.blocks),
		ReachableBlockCount: len(p.pov),
		InstructionCount:    p.instructionCount,
		Frame:               p.frame,
	}

	return result, nil
}

// reset discards any state left over from a previous RunOnFunction and
// starts a fresh arena, since a Pass is scoped to one function.
func (p *Pass) reset(args []ArgLocation) {
	p.arena = NewArena()
	p.workRegs = newWorkRegTable()
	p.blocks = nil
	p.exits = nil
	p.pov = nil
	p.createdBlockCount = 0
	p.instructionCount = 0
	p.global = nil
	p.globalMaxLiveCount = nil
	p.stack = newStackAllocator()
	p.frame = Frame{}
	p.argAssignment = args
	p.clobberedRegs = make(map[Group]RegMask)
}

// onInit queries the target's per-group physical register counts once,
// deriving the PhysToWorkMap's base offset for each group. It does not
// read the per-group strategy; strategyFor does that at each spill-victim
// choice.
func (p *Pass) onInit() error {
	p.physBaseOf = make(map[Group]int)
	offset := 0

	for g := Group(0); int(g) < p.target.GroupCount(); g++ {
		p.physBaseOf[g] = offset
		offset += int(p.target.PhysRegCount(g))
	}

	p.physTotal = offset

	if p.physTotal == 0 {
		return errorf(ErrInvalidState, "target declares no physical registers")
	}

	return nil
}

// physBase returns the PhysToWorkMap base offset for group.
func (p *Pass) physBase(group Group) int { return p.physBaseOf[group] }

// strategyFor returns the local allocator's strategy for a group, honoring
// an Options override before falling back to the target's own choice.
func (p *Pass) strategyFor(group Group) Strategy {
	if p.opts.StrategyOverride != nil {
		return *p.opts.StrategyOverride
	}

	return p.target.StrategyFor(group)
}

// Blocks returns every constructed block, including unreachable ones swept
// from the CFG's edges but still present in the table (the invariant
// is scoped to reachable blocks only).
func (p *Pass) Blocks() []*RABlock { return p.blocks }

// EntryBlock returns the function's unique entry block.
func (p *Pass) EntryBlock() *RABlock {
	if len(p.blocks) == 0 {
		return nil
	}

	return p.blocks[0]
}

// Dominates reports whether a dominates b (non-strict).
func (p *Pass) Dominates(a, b *RABlock) bool { return p.dominates(a, b) }

// StrictlyDominates reports whether a strictly dominates b.
func (p *Pass) StrictlyDominates(a, b *RABlock) bool { return p.strictlyDominates(a, b) }

// NearestCommonDominator returns the closest block dominating both a and b.
func (p *Pass) NearestCommonDominator(a, b *RABlock) *RABlock {
	return p.nearestCommonDominator(a, b)
}

// GlobalMaxLiveCount returns the function-wide maximum number of
// simultaneously live WorkRegs of a group, computed by buildLiveness.
func (p *Pass) GlobalMaxLiveCount(group Group) int { return p.globalMaxLiveCount[group] }

// LastFrame returns the finalized stack frame, valid after RunOnFunction
// returns successfully.
func (p *Pass) LastFrame() Frame { return p.frame }

func (p *Pass) markClobbered(group Group, phys uint8) {
	p.clobberedRegs[group] |= Mask(phys)
}
