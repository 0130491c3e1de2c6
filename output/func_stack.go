//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
)

// WriteFuncDelayStack writes the flame-graph-style stack file: per PID a
// summary row, then one row per stack signature with the local sum in the
// flame-graph position.
func WriteFuncDelayStack(w io.Writer, cfg *config.Config, fs *analysis.FunctionStack) {
	for _, pid := range fs.StackPIDs() {
		if cfg.FilteredOut(pid) {
			continue
		}
		pd := fs.ProcDelay[pid]
		if pd == nil || pd.DelaySum[analysis.DelayGlobal] <= 0 {
			continue
		}
		fmt.Fprintf(w, "pid_%d", pid)
		fmt.Fprintf(w, "; %d", pd.DelaySum[analysis.DelayLocal])
		fmt.Fprintf(w, ",localDelaySum,%d", pd.DelaySum[analysis.DelayLocal])
		fmt.Fprintf(w, ",localPercentage,%.3f%%", pd.Percentage[analysis.DelayLocal]*100)
		fmt.Fprintf(w, ",globalDelaySum,%d", pd.DelaySum[analysis.DelayGlobal])
		fmt.Fprintf(w, ",globalPercentage,%.3f%%", pd.Percentage[analysis.DelayGlobal]*100)
		fmt.Fprintln(w)

		stacks := fs.Stacks[pid]
		sigs := make([]string, 0, len(stacks))
		for sig := range stacks {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)
		for _, sig := range sigs {
			si := stacks[sig]
			fmt.Fprintf(w, "pid_%d", pid)
			for _, token := range strings.Split(sig, ".") {
				if token == "" {
					continue
				}
				if functionIndex, err := strconv.Atoi(token); err == nil {
					fmt.Fprintf(w, ";%s", cfg.IndexToFunc[functionIndex])
				}
			}
			fmt.Fprintf(w, " %d", si.DelaySum[analysis.DelayLocal])
			fmt.Fprintf(w, ",localDelaySum,%d", si.DelaySum[analysis.DelayLocal])
			fmt.Fprintf(w, ",localAvedelay,%.6f", si.AveDelay[analysis.DelayLocal])
			fmt.Fprintf(w, ",localPercentage,%.3f%%", si.Percentage[analysis.DelayLocal]*100)
			fmt.Fprintf(w, ",globalDelaySum,%d", si.DelaySum[analysis.DelayGlobal])
			fmt.Fprintf(w, ",globalAvedelay,%.6f", si.AveDelay[analysis.DelayGlobal])
			fmt.Fprintf(w, ",globalPercentage,%.3f%%", si.Percentage[analysis.DelayGlobal]*100)
			fmt.Fprintf(w, ",times ,%5d", si.Num)
			fmt.Fprintf(w, ",(int)ret>=0 times,%d", int64(si.Num)-si.RetValLessZeroTimes)
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
}

// splitSpaceLen is the per-depth indent width of the rendered tree.
const splitSpaceLen = 6

// RenderTree writes the per-PID call-stack tree.  Children print in
// insertion order; the last child of a parent gets the closing branch.
func RenderTree(w io.Writer, cfg *config.Config, fs *analysis.FunctionStack) {
	fmt.Fprintln(w, "Display the function delay of each pid ")
	for _, pid := range fs.StackPIDs() {
		if cfg.FilteredOut(pid) {
			continue
		}
		fmt.Fprintln(w, "│")
		renderNode(w, cfg, fs, pid, false, analysis.RootStack, "")
	}
	fmt.Fprintln(w)
}

func renderNode(w io.Writer, cfg *config.Config, fs *analysis.FunctionStack, pid int, endFlag bool, stack, headStr string) {
	headStrTmp := headStr
	if stack == analysis.RootStack {
		fmt.Fprintf(w, "├──pid: %d", pid)
		pd := fs.ProcDelay[pid]
		if pd != nil && pd.DelaySum[analysis.DelayGlobal] > 0 {
			fmt.Fprint(w, "{")
			fmt.Fprintf(w, "local:(%d, %.3f%%)", pd.DelaySum[analysis.DelayLocal], pd.Percentage[analysis.DelayLocal]*100)
			fmt.Fprintf(w, ", global:(%d, %.3f%%)", pd.DelaySum[analysis.DelayGlobal], pd.Percentage[analysis.DelayGlobal]*100)
			fmt.Fprint(w, "}")
		} else {
			fmt.Fprint(w, "  data invalid!!!")
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprint(w, "│")
		if !endFlag {
			headStrTmp += "│"
		}
		for i := 1; i < splitSpaceLen; i++ {
			fmt.Fprint(w, " ")
			headStrTmp += " "
		}
		fmt.Fprint(w, headStr)
		if !endFlag {
			fmt.Fprint(w, "├─────")
		} else {
			fmt.Fprint(w, "└─────")
		}

		node := fs.Nodes[pid][stack]
		si := fs.Stacks[pid][strings.TrimPrefix(stack, analysis.RootStack)]
		if si == nil {
			// An intermediate signature whose own pair never closed validly;
			// it renders with zero sums.
			si = &analysis.StackInfo{}
		}
		fmt.Fprint(w, cfg.IndexToFunc[node.FunctionIndex])
		fmt.Fprint(w, "{")
		fmt.Fprintf(w, "local:(%d, %.3f%%, %.3f)", si.DelaySum[analysis.DelayLocal], si.Percentage[analysis.DelayLocal]*100, si.AveDelay[analysis.DelayLocal])
		fmt.Fprintf(w, ", global:(%d, %.3f%%, %.3f)", si.DelaySum[analysis.DelayGlobal], si.Percentage[analysis.DelayGlobal]*100, si.AveDelay[analysis.DelayGlobal])
		fmt.Fprintf(w, ", times:%d", si.Num)
		fmt.Fprintf(w, ", (int)ret>=0 times:%d", int64(si.Num)-si.RetValLessZeroTimes)
		fmt.Fprintln(w, "}")
	}

	node := fs.Nodes[pid][stack]
	if node == nil {
		return
	}
	for i, next := range node.Next {
		renderNode(w, cfg, fs, pid, i == len(node.Next)-1, next, headStrTmp)
	}
}
