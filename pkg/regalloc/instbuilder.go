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

// maxTiedRegsPerInst is a hard upper bound on the number of distinct
// WorkRegs a single instruction may reference; exceeding it is a
// precondition violation, not a recoverable error.
const maxTiedRegsPerInst = 128

// regStats tracks, per group, whether any WorkReg in that group was used or
// had a fixed physical requirement within the instruction currently being
// built.
type regStats struct {
	used  [256]bool
	fixed [256]bool
}

func (s *regStats) makeUsed(g Group)  { s.used[g] = true }
func (s *regStats) makeFixed(g Group) { s.fixed[g] = true }

// instBuilder accumulates TiedReg records for one instruction before they
// are published into an RAInst. Reset between instructions.
type instBuilder struct {
	flags      TiedFlags
	tiedRegs   [maxTiedRegsPerInst]TiedReg
	count      int
	perGroup   map[Group]int
	stats      regStats
	used       map[Group]RegMask
	clobbered  map[Group]RegMask
}

func newInstBuilder() *instBuilder {
	b := &instBuilder{}
	b.reset()

	return b
}

func (b *instBuilder) reset() {
	b.flags = 0
	b.count = 0
	b.perGroup = make(map[Group]int)
	b.stats = regStats{}
	b.used = make(map[Group]RegMask)
	b.clobbered = make(map[Group]RegMask)
}

// add folds one operand reference into the builder.
func (b *instBuilder) add(w *WorkReg, flags TiedFlags, allocable RegMask, useID uint8, useMask uint32, outID uint8, outMask uint32) error {
	group := w.Group()

	if useID != BadID {
		b.stats.makeFixed(group)
		b.used[group] |= Mask(useID)
		flags |= TiedUseFixed
	}

	if outID != BadID {
		b.clobbered[group] |= Mask(outID)
		flags |= TiedOutFixed
	}

	b.flags |= flags
	b.stats.makeUsed(group)

	if tied := w.tiedReg(); tied != nil {
		if err := tied.merge(flags, allocable, useID, useMask, outID, outMask); err != nil {
			return err
		}

		return nil
	}

	if b.count >= maxTiedRegsPerInst {
		panic("regalloc: instruction exceeds maximum tied register count")
	}

	tied := &b.tiedRegs[b.count]
	tied.init(w.WorkID(), flags, allocable, useID, useMask, outID, outMask)
	w.setTiedReg(tied)
	b.perGroup[group]++
	b.count++

	return nil
}

// tiedRegCount returns the number of distinct WorkRegs added so far.
func (b *instBuilder) tiedRegCount() int { return b.count }
