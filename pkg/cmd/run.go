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
package cmd

import (
	"fmt"
	"os"

	"github.com/consensys/go-regalloc/pkg/asmir"
	"github.com/consensys/go-regalloc/pkg/regalloc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the allocator over a small demonstration function.",
	Long: `Builds a diamond-shaped demonstration function (straight-line entry, a
conditional branch that either jumps to the merge block or falls into an
arm that calls out, and a merge block that returns), runs the full
allocation pipeline over it, and reports the resulting block count,
instruction count, and frame size.`,
	Run: func(cmd *cobra.Command, args []string) {
		if GetFlag(cmd, "verbose") {
			log.SetLevel(log.DebugLevel)
		}

		strategy, err := parseStrategy(GetString(cmd, "strategy"))
		if err != nil {
			fmt.Println(err)
			os.Exit(2)
		}

		spill, err := parseSpillPolicy(GetString(cmd, "spill"))
		if err != nil {
			fmt.Println(err)
			os.Exit(2)
		}

		opts := regalloc.Options{
			StrategyOverride:    &strategy,
			Spill:               spill,
			ElideRedundantJumps: GetFlag(cmd, "elide-redundant-jumps"),
		}

		result, err := runDemo(opts)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		fmt.Printf("blocks:       %d (%d reachable)\n", result.BlockCount, result.ReachableBlockCount)
		fmt.Printf("instructions: %d\n", result.InstructionCount)
		fmt.Printf("frame size:   %d bytes (align %d)\n", result.Frame.Size, result.Frame.Alignment)
	},
}

// parseStrategy maps the --strategy flag's vocabulary onto regalloc.Strategy.
func parseStrategy(value string) (regalloc.Strategy, error) {
	switch value {
	case "simple":
		return regalloc.StrategySimple, nil
	case "complex":
		return regalloc.StrategyComplex, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (expected simple or complex)", value)
	}
}

// parseSpillPolicy maps the --spill flag's vocabulary onto
// regalloc.SpillPolicy: "lru" names the cheap first-fit victim choice (the
// lowest-numbered occupied register; recency of use is not tracked), while
// "furthest-use" names the pressure-aware furthest-next-use choice.
func parseSpillPolicy(value string) (regalloc.SpillPolicy, error) {
	switch value {
	case "lru":
		return regalloc.SpillFirstFit, nil
	case "furthest-use":
		return regalloc.SpillFurthestUse, nil
	default:
		return 0, fmt.Errorf("unknown spill policy %q (expected lru or furthest-use)", value)
	}
}

// runDemo builds a small diamond CFG using pkg/asmir and runs the allocator
// over it, exercising every stage of the pipeline end to end.
func runDemo(opts regalloc.Options) (*regalloc.Result, error) {
	target := asmir.NewTarget()
	stream := asmir.NewStream()
	logger := log.StandardLogger()
	emitter := asmir.NewEmitter(stream, logger)

	first := buildDiamondFunction(stream)

	pass := regalloc.NewPass(target, emitter, logger, opts)

	return pass.RunOnFunction(first, nil)
}

// buildDiamondFunction appends a straight-line entry, a conditional branch
// to the merge block, one arm that calls out (clobbering caller-saves) and
// falls through, and a merge block that returns, to stream. Returns the
// function's entry node.
func buildDiamondFunction(stream *asmir.Stream) regalloc.Node {
	a := &regalloc.VirtReg{ID: 0, Size: 8, Align: 8, Group: asmir.GroupGP}
	b := &regalloc.VirtReg{ID: 1, Size: 8, Align: 8, Group: asmir.GroupGP}
	c := &regalloc.VirtReg{ID: 2, Size: 8, Align: 8, Group: asmir.GroupGP}

	thenLabel := asmir.NewLabel(1)
	mergeLabel := asmir.NewLabel(2)

	loadA := asmir.NewInstruction("mov.imm")
	loadA.Def(a, asmir.AllocableGP, regalloc.BadID)
	stream.Append(loadA)

	loadB := asmir.NewInstruction("mov.imm")
	loadB.Def(b, asmir.AllocableGP, regalloc.BadID)
	stream.Append(loadB)

	branch := asmir.NewInstruction("cmp.jz")
	branch.Use(a, asmir.AllocableGP, regalloc.BadID)
	branch.SetCondJump(mergeLabel.Label())
	stream.Append(branch)

	stream.Append(thenLabel)

	addC := asmir.NewInstruction("add")
	addC.Use(a, asmir.AllocableGP, regalloc.BadID)
	addC.Use(b, asmir.AllocableGP, regalloc.BadID)
	addC.Def(c, asmir.AllocableGP, regalloc.BadID)
	stream.Append(addC)

	call := asmir.NewInstruction("call")
	call.Use(c, asmir.AllocableGP, regalloc.BadID)
	call.SetFuncCall()
	call.Clobber(asmir.GroupGP, asmir.CallerSavedGP)
	stream.Append(call)

	stream.Append(mergeLabel)

	ret := asmir.NewInstruction("ret")
	ret.Use(c, asmir.AllocableGP, regalloc.BadID)
	ret.SetReturn()
	stream.Append(ret)

	return stream.First()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
