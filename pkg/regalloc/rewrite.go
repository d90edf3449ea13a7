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

// rewrite walks the node stream once more, patching each TiedReg's final
// physical register id back into its originating operand via
// InstNode.RewriteOperand. It is the pass's last phase: by
// the time it runs, every WorkReg referenced by a live TiedReg has a
// definite physical register, assigned either by the global allocator
// (unspilled for its whole lifetime) or materialized on demand by the local
// allocator.
func (p *Pass) rewrite() error {
	for _, b := range p.pov {
		for node := b.first; node != nil; node = nextInstAfter(node, b) {
			inst := node.RAInst()

			if inst != nil {
				instNode, ok := node.(InstNode)
				if !ok {
					return errorf(ErrInvalidState, "node with RAInst is not an InstNode")
				}

				if err := p.rewriteInst(instNode, inst); err != nil {
					return err
				}
			}

			if node == b.last {
				break
			}
		}
	}

	return nil
}

// rewriteInst patches every tied reg's use-side and out-side rewrite masks
// for one instruction. By the time this runs, the local allocator has
// overwritten each TiedReg's UseID/OutID with the concrete physical
// register it settled on for that read/write, so rewriting
// is a direct copy with no further lookup.
func (p *Pass) rewriteInst(node InstNode, inst *RAInst) error {
	for i := range inst.Tied {
		t := &inst.Tied[i]

		if t.Flags.Has(TiedRead) && t.UseRewriteMask != 0 {
			if !t.HasUseID() {
				return errorf(ErrInvalidState, "workId %d has no resolved use register", t.WorkID)
			}

			node.RewriteOperand(t.UseRewriteMask, t.UseID)
		}

		if t.Flags.Has(TiedWrite) && t.OutRewriteMask != 0 {
			if !t.HasOutID() {
				return errorf(ErrInvalidState, "workId %d has no resolved out register", t.WorkID)
			}

			node.RewriteOperand(t.OutRewriteMask, t.OutID)
		}
	}

	return nil
}
