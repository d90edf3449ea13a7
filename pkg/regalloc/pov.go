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

// buildViews constructs the post-order view (POV) of the CFG: an iterative
// DFS from the entry block, assigning povOrder on exit
// so that iterating `_pov` from the back yields reverse-post-order. Back
// edges (a successor already on the DFS stack) increment the weight of
// every block in the enclosing region, approximating loop nesting depth.
func (p *Pass) buildViews() error {
	if len(p.blocks) == 0 {
		return errorf(ErrInvalidState, "no entry block")
	}

	entry := p.blocks[0]

	const (
		white = 0 // unvisited
		grey  = 1 // on the DFS stack
		black = 2 // finished
	)

	color := make(map[*RABlock]uint8)
	p.pov = p.pov[:0]

	type frame struct {
		block *RABlock
		next  int
	}

	var stack []frame

	color[entry] = grey
	stack = append(stack, frame{entry, 0})

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		b := top.block

		if top.next < len(b.successors) {
			s := b.successors[top.next]
			top.next++

			switch color[s] {
			case white:
				color[s] = grey
				stack = append(stack, frame{s, 0})
			case grey:
				// Back edge: s is an ancestor on the current DFS path.
				// Every block from s to b (inclusive) on the stack
				// belongs to the loop s heads; bump their weight.
				for i := len(stack) - 1; i >= 0; i-- {
					stack[i].block.weight++

					if stack[i].block == s {
						break
					}
				}
			case black:
				// Forward/cross edge: nothing to do for weighting.
			}

			continue
		}

		// All successors visited: finish b.
		color[b] = black
		b.povOrder = uint32(len(p.pov))
		p.pov = append(p.pov, b)
		stack = stack[:len(stack)-1]
	}

	return nil
}

// ReversePostOrder returns blocks in reverse post-order: the canonical
// forward schedule for liveness and local allocation.
func (p *Pass) ReversePostOrder() []*RABlock {
	rpo := make([]*RABlock, len(p.pov))
	n := len(p.pov)

	for i, b := range p.pov {
		rpo[n-1-i] = b
	}

	return rpo
}

// ReachableBlockCount returns the number of reachable blocks, i.e. the size
// of the POV.
func (p *Pass) ReachableBlockCount() int { return len(p.pov) }
