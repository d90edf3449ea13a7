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

import (
	"fmt"

	"github.com/consensys/go-regalloc/pkg/regalloc"
	"github.com/sirupsen/logrus"
)

// Emitter is a concrete regalloc.Emitter that materializes the allocator's
// decisions as ordinary Instruction nodes spliced into a Stream at the
// cursor set by SetCursor. A nil logger disables annotation.
type Emitter struct {
	stream *Stream
	cursor regalloc.Node
	logger *logrus.Logger
}

// NewEmitter constructs an Emitter writing into stream.
func NewEmitter(stream *Stream, logger *logrus.Logger) *Emitter {
	return &Emitter{stream: stream, logger: logger}
}

// SetCursor implements regalloc.Emitter.
func (e *Emitter) SetCursor(before regalloc.Node) { e.cursor = before }

func (e *Emitter) insert(inst *Instruction) {
	e.stream.InsertBefore(e.cursor, inst)

	if e.logger != nil {
		e.logger.WithField("mnemonic", inst.Mnemonic).Trace("regalloc: emitted")
	}
}

// EmitMove implements regalloc.Emitter.
func (e *Emitter) EmitMove(workID uint32, dst, src uint8, group regalloc.Group) error {
	inst := NewInstruction(fmt.Sprintf("mov.%s", groupName(group)))
	inst.Clobber(group, regalloc.Mask(dst))
	e.insert(inst)

	return nil
}

// EmitSwap implements regalloc.Emitter.
func (e *Emitter) EmitSwap(aWorkID uint32, aPhys uint8, bWorkID uint32, bPhys uint8, group regalloc.Group) error {
	inst := NewInstruction(fmt.Sprintf("xchg.%s", groupName(group)))
	inst.Clobber(group, regalloc.Mask(aPhys)|regalloc.Mask(bPhys))
	e.insert(inst)

	return nil
}

// EmitLoad implements regalloc.Emitter.
func (e *Emitter) EmitLoad(workID uint32, dst uint8, group regalloc.Group) error {
	inst := NewInstruction(fmt.Sprintf("ld.%s", groupName(group)))
	inst.Clobber(group, regalloc.Mask(dst))
	e.insert(inst)

	return nil
}

// EmitSave implements regalloc.Emitter.
func (e *Emitter) EmitSave(workID uint32, src uint8, group regalloc.Group) error {
	inst := NewInstruction(fmt.Sprintf("st.%s", groupName(group)))
	e.insert(inst)

	return nil
}

// EmitJump implements regalloc.Emitter.
func (e *Emitter) EmitJump(label regalloc.Label) error {
	inst := NewInstruction("jmp")
	inst.SetJump(label)
	e.insert(inst)

	return nil
}

// EmitPrologue implements regalloc.Emitter.
func (e *Emitter) EmitPrologue(frame regalloc.Frame) error {
	inst := NewInstruction("prologue")

	for g := regalloc.Group(0); int(g) < 2; g++ {
		if mask, ok := frame.CalleeSaved[g]; ok && mask != 0 {
			inst.Clobber(g, mask)
		}
	}

	e.insert(inst)

	return nil
}

// EmitEpilogue implements regalloc.Emitter.
func (e *Emitter) EmitEpilogue(frame regalloc.Frame) error {
	e.insert(NewInstruction("epilogue"))

	return nil
}

func groupName(group regalloc.Group) string {
	switch group {
	case GroupGP:
		return "gp"
	case GroupVec:
		return "vec"
	default:
		return "g?"
	}
}
