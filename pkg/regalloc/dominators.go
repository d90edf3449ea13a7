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

// buildDominators computes immediate dominators via the standard
// Lengauer-Tarjan-style iterative data-flow fixed point over reverse
// post-order:
//
//	idom(b) = intersect{idom(p) | p ∈ preds(b), idom(p) set}
//
// where intersect(u, v) walks the two idom chains toward the root,
// comparing povOrder. The entry block is its own dominator.
func (p *Pass) buildDominators() error {
	if len(p.pov) == 0 {
		return errorf(ErrInvalidState, "no reachable blocks")
	}

	entry := p.blocks[0]
	entry.idom = entry

	rpo := p.ReversePostOrder()

	changed := true
	for changed {
		changed = false

		for _, b := range rpo {
			if b == entry {
				continue
			}

			var newIdom *RABlock

			for _, pred := range b.predecessors {
				if pred.idom == nil {
					continue
				}

				if newIdom == nil {
					newIdom = pred

					continue
				}

				newIdom = intersect(newIdom, pred)
			}

			if newIdom == nil {
				return errorf(ErrInvalidState, "block %d has no dominated predecessor", b.BlockID())
			}

			if b.idom != newIdom {
				b.idom = newIdom
				changed = true
			}
		}
	}

	// The entry's self-loop is an internal convenience for the fixed-point
	// walk above; expose it as "no dominator" to callers, matching
	// idom(b) is defined only for b != entry.
	entry.idom = nil

	return nil
}

// intersect walks the two idom chains toward the root, comparing povOrder,
// until they meet: the standard Cooper/Harvey/Kennedy "intersect" routine.
func intersect(a, b *RABlock) *RABlock {
	for a != b {
		for a.povOrder < b.povOrder {
			a = a.idom
		}

		for b.povOrder < a.povOrder {
			b = b.idom
		}
	}

	return a
}

// dominates reports whether a dominates b (non-strict: true when a == b).
func (p *Pass) dominates(a, b *RABlock) bool {
	if a == b {
		return true
	}

	return p.strictlyDominates(a, b)
}

// strictlyDominates reports whether a strictly dominates b, walking b's
// idom chain until a is found or the entry is reached. O(depth), no
// preallocated matrix.
func (p *Pass) strictlyDominates(a, b *RABlock) bool {
	if a == b {
		return false
	}

	entry := p.blocks[0]

	for cur := b.idom; cur != nil; cur = cur.idom {
		if cur == a {
			return true
		}

		if cur == entry {
			break
		}
	}

	return a == entry && b != entry
}

// nearestCommonDominator returns the nearest block dominating both a and b,
// using the same intersect routine as buildDominators. O(depth).
func (p *Pass) nearestCommonDominator(a, b *RABlock) *RABlock {
	entry := p.blocks[0]

	if a == entry || b == entry {
		return entry
	}

	// intersect() requires both chains to terminate in a common ancestor
	// reachable by povOrder comparisons; a nil idom on a or b is patched to
	// entry locally so the walk terminates instead of hitting nil.
	restoreA, restoreB := a.idom, b.idom
	if a.idom == nil {
		a.idom = entry
	}

	if b.idom == nil {
		b.idom = entry
	}

	result := intersect(a, b)

	a.idom, b.idom = restoreA, restoreB

	return result
}
