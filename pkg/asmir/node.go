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

// Package asmir provides a minimal, concrete doubly linked instruction
// stream implementing the node/instruction contracts pkg/regalloc borrows
// from the host (regalloc.Node, regalloc.LabelNode, regalloc.InstNode).  It
// plays the role the host compiler's own IR would in production: it is
// deliberately small, built only to exercise and test the allocator.
package asmir

import "github.com/consensys/go-regalloc/pkg/regalloc"

// links implements the doubly linked list plumbing shared by every node
// kind in this package, plus the pass-data slot regalloc.Node requires.
type links struct {
	next, prev regalloc.Node
	raInst     *regalloc.RAInst
}

func (l *links) Next() regalloc.Node               { return l.next }
func (l *links) Prev() regalloc.Node               { return l.prev }
func (l *links) SetNext(n regalloc.Node)           { l.next = n }
func (l *links) SetPrev(n regalloc.Node)           { l.prev = n }
func (l *links) RAInst() *regalloc.RAInst          { return l.raInst }
func (l *links) SetRAInst(inst *regalloc.RAInst)   { l.raInst = inst }

// Label marks a potential branch target.
type Label struct {
	links
	id regalloc.Label
}

// NewLabel constructs a Label node identified by id.
func NewLabel(id regalloc.Label) *Label { return &Label{id: id} }

// Kind implements regalloc.Node.
func (l *Label) Kind() regalloc.NodeKind { return regalloc.KindLabel }

// Label implements regalloc.LabelNode.
func (l *Label) Label() regalloc.Label { return l.id }

// Comment is a purely decorative annotation, never inspected by the
// allocator beyond its Kind.
type Comment struct {
	links
	Text string
}

// NewComment constructs a Comment node.
func NewComment(text string) *Comment { return &Comment{Text: text} }

// Kind implements regalloc.Node.
func (c *Comment) Kind() regalloc.NodeKind { return regalloc.KindComment }

// Stream is a doubly linked list of nodes, built by successive Append
// calls, ready to hand to regalloc.Pass.RunOnFunction via its First node.
type Stream struct {
	first, last regalloc.Node
}

// NewStream constructs an empty instruction stream.
func NewStream() *Stream { return &Stream{} }

// Append adds n to the end of the stream and returns it, for chaining.
func (s *Stream) Append(n regalloc.Node) regalloc.Node {
	if s.first == nil {
		s.first = n
		s.last = n

		return n
	}

	s.last.SetNext(n)
	n.SetPrev(s.last)
	s.last = n

	return n
}

// First returns the stream's first node, the entry point RunOnFunction
// expects.
func (s *Stream) First() regalloc.Node { return s.first }

// InsertBefore splices n immediately before at, fixing up the stream's
// first/last pointers if at was either end. Used by Emitter implementations
// that need to materialize a move/load/save/prologue/epilogue node at a
// cursor position set via Emitter.SetCursor.
func (s *Stream) InsertBefore(at, n regalloc.Node) {
	if at == nil {
		s.Append(n)

		return
	}

	prev := at.Prev()

	n.SetPrev(prev)
	n.SetNext(at)
	at.SetPrev(n)

	if prev != nil {
		prev.SetNext(n)
	} else {
		s.first = n
	}
}
