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

// Register groups for the toy architecture this package targets: a
// general-purpose integer file and a vector/float file, patterned after a
// typical RISC calling convention (e.g. register 0 reserved as the stack
// pointer, the last callee-saved block preserved across calls).
const (
	GroupGP regalloc.Group = iota
	GroupVec
)

// AllocableGP is every general-purpose register the allocator may hand out:
// everything except the reserved stack pointer (r0) and frame pointer (r1).
const AllocableGP regalloc.RegMask = 0xfffc

// CallerSavedGP is every general-purpose register a call destroys: every
// allocable register outside the callee-saved block and the reserved
// stack/frame pointers.
const CallerSavedGP regalloc.RegMask = 0x0ffc

// Target is a small, fixed register file used by the CLI demo and tests: 16
// general-purpose registers (r0 reserved as the stack pointer, r1 as the
// frame pointer, r12-r15 callee-saved) and 8 vector registers (v0-v1
// callee-saved).
type Target struct {
	strategies map[regalloc.Group]regalloc.Strategy
}

// NewTarget constructs the toy target, defaulting every group to
// regalloc.StrategyComplex.
func NewTarget() *Target {
	return &Target{strategies: map[regalloc.Group]regalloc.Strategy{
		GroupGP:  regalloc.StrategyComplex,
		GroupVec: regalloc.StrategyComplex,
	}}
}

// SetStrategy overrides the local allocator's strategy for group.
func (t *Target) SetStrategy(group regalloc.Group, strategy regalloc.Strategy) {
	t.strategies[group] = strategy
}

// GroupCount implements regalloc.Target.
func (t *Target) GroupCount() int { return 2 }

// PhysRegCount implements regalloc.Target.
func (t *Target) PhysRegCount(group regalloc.Group) uint8 {
	switch group {
	case GroupGP:
		return 16
	case GroupVec:
		return 8
	default:
		return 0
	}
}

// CalleeSaved implements regalloc.Target.
func (t *Target) CalleeSaved(group regalloc.Group) regalloc.RegMask {
	switch group {
	case GroupGP:
		return regalloc.Mask(12) | regalloc.Mask(13) | regalloc.Mask(14) | regalloc.Mask(15)
	case GroupVec:
		return regalloc.Mask(0) | regalloc.Mask(1)
	default:
		return 0
	}
}

// StackPointer implements regalloc.Target: r0 of the GP group.
func (t *Target) StackPointer() (regalloc.Group, uint8) { return GroupGP, 0 }

// FramePointer implements regalloc.Target: r1 of the GP group.
func (t *Target) FramePointer() (regalloc.Group, uint8) { return GroupGP, 1 }

// GPRWidth implements regalloc.Target: 8-byte general-purpose registers.
func (t *Target) GPRWidth() uint { return 8 }

// StrategyFor implements regalloc.Target.
func (t *Target) StrategyFor(group regalloc.Group) regalloc.Strategy { return t.strategies[group] }
