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

// buildLiveness computes gen/kill/in/out for each block and the derived
// per-WorkReg live spans and per-block/global max-live-count statistics.
func (p *Pass) buildLiveness() error {
	w := uint(p.workRegs.count())

	for _, b := range p.pov {
		b.resizeLiveBits(w)
	}

	p.computeGenKill()

	if err := p.computeInOut(); err != nil {
		return err
	}

	p.computeLiveSpans()
	p.computeMaxLiveCounts()

	return nil
}

// computeGenKill derives gen/kill for each reachable block from its RAInsts
// in a single backward pass: a use adds its workId to gen only if not
// already in kill; a def adds to kill.
func (p *Pass) computeGenKill() {
	for _, b := range p.pov {
		for node := b.last; node != nil; node = prevInstBefore(node, b) {
			inst := node.RAInst()
			if inst == nil {
				continue
			}

			for i := range inst.Tied {
				t := &inst.Tied[i]

				if t.Flags.Has(TiedWrite) {
					b.kill.Set(uint(t.WorkID))
				}

				if t.Flags.Has(TiedRead) && !b.kill.Test(uint(t.WorkID)) {
					b.gen.Set(uint(t.WorkID))
				}
			}

			if node == b.first {
				break
			}
		}
	}
}

// prevInstBefore walks to the previous node within block b, or nil once
// first has been processed.
func prevInstBefore(node Node, b *RABlock) Node {
	if node == b.first {
		return nil
	}

	return node.Prev()
}

// computeInOut runs the backward dataflow fixed point:
//
//	out[b] = ⋃ in[s] for s ∈ successors(b)
//	in[b]  = gen[b] ∪ (out[b] \ kill[b])
//
// in reverse post-order until no bit changes.
func (p *Pass) computeInOut() error {
	changed := true
	for changed {
		changed = false

		for _, b := range p.ReversePostOrder() {
			newOut := bitset.New(b.out.Len())

			for _, s := range b.successors {
				newOut.InPlaceUnion(s.in)
			}

			if !newOut.Equal(b.out) {
				b.out = newOut
				changed = true
			}

			newIn := b.out.Clone()
			newIn.InPlaceDifference(b.kill)
			newIn.InPlaceUnion(b.gen)

			if !newIn.Equal(b.in) {
				b.in = newIn
				changed = true
			}
		}
	}

	return nil
}

// computeLiveSpans derives, for each WorkReg, an ordered list of
// non-overlapping [start,end) intervals in global position units. Per
// block, starting from out[b] and walking backward, the position at which
// each workId transitions off is closed into an interval; adjacent
// intervals across fall-through edges are fused afterwards.
func (p *Pass) computeLiveSpans() {
	spans := make(map[uint32][]Interval)

	for _, b := range p.ReversePostOrder() {
		live := b.out.Clone()
		openAt := make(map[uint32]uint32)

		it, hasNext := live.NextSet(0)
		for hasNext {
			openAt[uint32(it)] = b.endPosition
			it, hasNext = live.NextSet(it + 1)
		}

		for node := b.last; node != nil; node = prevInstBefore(node, b) {
			inst := node.RAInst()

			if inst != nil {
				pos := inst.Position

				for i := range inst.Tied {
					t := &inst.Tied[i]

					if t.Flags.Has(TiedWrite) {
						if start, ok := openAt[t.WorkID]; ok {
							spans[t.WorkID] = append(spans[t.WorkID], Interval{Start: pos, End: start})
							delete(openAt, t.WorkID)
						}
					}

					if t.Flags.Has(TiedRead) {
						if _, ok := openAt[t.WorkID]; !ok {
							openAt[t.WorkID] = pos
						}
					}
				}
			}

			if node == b.first {
				break
			}
		}

		for workID, end := range openAt {
			spans[workID] = append(spans[workID], Interval{Start: b.firstPosition, End: end})
		}
	}

	for id := 0; id < p.workRegs.count(); id++ {
		w := p.workRegs.byID(uint32(id))
		w.spans = fuseAndSort(spans[uint32(id)])
	}
}

// fuseAndSort sorts intervals ascending by start and merges adjacent or
// overlapping ones (produced, e.g., by intervals that cross a fall-through
// edge and were recorded once per block).
func fuseAndSort(spans []Interval) []Interval {
	if len(spans) == 0 {
		return nil
	}

	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].Start > spans[j].Start; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
		}
	}

	out := spans[:1]

	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}

			continue
		}

		out = append(out, s)
	}

	return out
}

// computeMaxLiveCounts derives per-block max-live-count per group (the
// maximum number of simultaneously live workIds of that group across all
// instruction positions in the block) and the elementwise global max.
func (p *Pass) computeMaxLiveCounts() {
	groupOf := make(map[uint32]Group)

	for id := 0; id < p.workRegs.count(); id++ {
		w := p.workRegs.byID(uint32(id))
		groupOf[w.WorkID()] = w.Group()
	}

	globalMax := make(map[Group]int)

	for _, b := range p.pov {
		live := b.in.Clone()
		counts := make(map[Group]int)

		it, hasNext := live.NextSet(0)
		for hasNext {
			counts[groupOf[uint32(it)]]++
			it, hasNext = live.NextSet(it + 1)
		}

		record := func() {
			for g, c := range counts {
				if c > b.maxLiveCount[g] {
					b.maxLiveCount[g] = c
				}
			}
		}

		record()

		for node := b.first; node != nil; node = nextInstAfter(node, b) {
			inst := node.RAInst()
			if inst != nil {
				for i := range inst.Tied {
					t := &inst.Tied[i]
					if t.Flags.Has(TiedWrite) {
						counts[groupOf[t.WorkID]]++
					}
				}

				inst.LiveCount = cloneGroupCounts(counts)

				record()

				for i := range inst.Tied {
					t := &inst.Tied[i]
					if t.Flags.Has(TiedLastUse) {
						counts[groupOf[t.WorkID]]--
					}
				}
			}

			if node == b.last {
				break
			}
		}

		for g, c := range b.maxLiveCount {
			if c > globalMax[g] {
				globalMax[g] = c
			}
		}
	}

	p.globalMaxLiveCount = globalMax
}

func cloneGroupCounts(m map[Group]int) map[Group]int {
	out := make(map[Group]int, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// nextInstAfter walks to the next node within block b, or nil once last has
// been processed.
func nextInstAfter(node Node, b *RABlock) Node {
	if node == b.last {
		return nil
	}

	return node.Next()
}
