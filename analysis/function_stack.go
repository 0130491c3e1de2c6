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
package analysis

import (
	"sort"
	"strconv"
	"strings"

	log "github.com/golang/glog"

	"github.com/google/da-tool/config"
)

// DelayType distinguishes the two delay attributions of a call stack.
type DelayType int

const (
	// DelayGlobal is the whole delay of the stack, including scheduling and
	// child-function time.
	DelayGlobal DelayType = iota
	// DelayLocal is the stack's own delay, excluding scheduling and child
	// time.
	DelayLocal
	// DelayTypeCount is the number of delay attributions.
	DelayTypeCount
)

// RootStack is the synthetic stack signature every PID's stacks hang off.
const RootStack = ".0"

// StackInfo aggregates every sample of one stack signature within one PID.
type StackInfo struct {
	DelaySum   [DelayTypeCount]int
	Num        int
	AveDelay   [DelayTypeCount]float64
	Percentage [DelayTypeCount]float64

	RetValLessZeroTimes int64
}

// StackNode is one node of a PID's display tree, keyed by rooted stack
// signature.
type StackNode struct {
	// FunctionIndex is the terminal function of the signature.
	FunctionIndex int
	// Next lists the children's rooted signatures in insertion order.
	Next []string
}

// ProcessDelay is the per-PID rollup: global is the valid window, local the
// remainder not attributed to any top-level stack.
type ProcessDelay struct {
	DelaySum   [DelayTypeCount]int
	Percentage [DelayTypeCount]float64
}

// fsDelayInfo carries the aggregator's working copy of one (pid, function)
// record.
type fsDelayInfo struct {
	delay          [DelayTypeCount][]int
	retVal         []uint64
	isStackFinish  []bool
	childFuncTimes []int
}

// FunctionStack reduces time pairs to per-stack-signature delay statistics
// and builds the display tree.
type FunctionStack struct {
	cfg *config.Config
	tp  *TimePair

	// Stacks is keyed by PID, then by stack signature (unrooted).
	Stacks map[int]map[string]*StackInfo
	// Nodes is keyed by PID, then by rooted signature (RootStack prefix).
	Nodes map[int]map[string]*StackNode
	// ProcDelay is keyed by PID.
	ProcDelay map[int]*ProcessDelay

	delayMap map[int]map[int]*fsDelayInfo
}

// NewFunctionStack returns an empty aggregator over tp's output.
func NewFunctionStack(cfg *config.Config, tp *TimePair) *FunctionStack {
	return &FunctionStack{
		cfg:       cfg,
		tp:        tp,
		Stacks:    map[int]map[string]*StackInfo{},
		Nodes:     map[int]map[string]*StackNode{},
		ProcDelay: map[int]*ProcessDelay{},
		delayMap:  map[int]map[int]*fsDelayInfo{},
	}
}

// Analyze runs the whole aggregation stage.
func (fs *FunctionStack) Analyze() {
	fs.delayMapInit()
	fs.stackMapInit()
	fs.stackMapAnalysis()
	fs.stackNodeMapInit()
	fs.processDelayAnalysis()
}

// delayMapInit seeds the working copies: both attributions start equal to the
// raw delays, and each slot still owes its recorded child count.
func (fs *FunctionStack) delayMapInit() {
	for pid, funcs := range fs.tp.Pairs {
		if fs.delayMap[pid] == nil {
			fs.delayMap[pid] = map[int]*fsDelayInfo{}
		}
		for functionIndex, ti := range funcs {
			di := &fsDelayInfo{
				retVal:         ti.RetVal,
				isStackFinish:  make([]bool, len(ti.Delay)),
				childFuncTimes: append([]int(nil), ti.ChildCount...),
			}
			for t := DelayType(0); t < DelayTypeCount; t++ {
				di.delay[t] = make([]int, len(ti.Delay))
				for i, d := range ti.Delay {
					di.delay[t][i] = int(d)
				}
			}
			fs.delayMap[pid][functionIndex] = di
		}
	}
}

// stackMapInit repeatedly collapses leaves: a slot with no outstanding
// children credits its signature and hands its global delay up to its
// father's local column.  In theory the loop runs until no slot owes
// children; to survive malformed traces it exits when the outstanding-parent
// count is equal twice in a row.
func (fs *FunctionStack) stackMapInit() {
	for pid, funcs := range fs.tp.Pairs {
		if pid == 0 {
			continue
		}
		if fs.Stacks[pid] == nil {
			fs.Stacks[pid] = map[string]*StackInfo{}
		}

		fatherFuncTimes := 0
		lastFatherFuncTimes := -1
		for lastFatherFuncTimes != fatherFuncTimes {
			lastFatherFuncTimes = fatherFuncTimes
			fatherFuncTimes = 0
			for functionIndex, ti := range funcs {
				di := fs.delayMap[pid][functionIndex]
				for i := range ti.Start {
					if ti.Invalid[i] || di.isStackFinish[i] {
						continue
					}
					if di.childFuncTimes[i] > 0 {
						fatherFuncTimes++
						continue
					}

					di.isStackFinish[i] = true

					globalDelay := di.delay[DelayGlobal][i]
					localDelay := di.delay[DelayLocal][i]
					// The probe cannot tell 32-bit returns from 64-bit ones;
					// take the low 32 bits so 0xfffffff5 counts as negative.
					retVal := int32(di.retVal[i])

					if father := ti.ParentFunc[i]; father != 0 {
						fatherPos := ti.ParentSlot[i]
						fatherInfo := fs.delayMap[pid][father]
						fatherInfo.childFuncTimes[fatherPos]--
						fatherInfo.delay[DelayLocal][fatherPos] -= globalDelay
					}

					si, ok := fs.Stacks[pid][ti.StackStr[i]]
					if !ok {
						si = &StackInfo{}
						fs.Stacks[pid][ti.StackStr[i]] = si
					}
					si.DelaySum[DelayGlobal] += globalDelay
					si.DelaySum[DelayLocal] += localDelay
					if retVal < 0 {
						si.RetValLessZeroTimes++
					}
					si.Num++
				}
			}
		}
		if fatherFuncTimes > 0 {
			log.V(1).Infof("pid %d: %d slots still owe children after collapse", pid, fatherFuncTimes)
		}
	}
}

// stackMapAnalysis finalizes means and window percentages per signature.
func (fs *FunctionStack) stackMapAnalysis() {
	for pid, stacks := range fs.Stacks {
		pidDelay := fs.tp.GetProcessValidTime(pid)
		for _, si := range stacks {
			si.AveDelay[DelayGlobal] = float64(si.DelaySum[DelayGlobal]) / float64(si.Num)
			si.AveDelay[DelayLocal] = float64(si.DelaySum[DelayLocal]) / float64(si.Num)
			if pidDelay > 0 {
				si.Percentage[DelayLocal] = float64(si.DelaySum[DelayLocal]) / float64(pidDelay)
				si.Percentage[DelayGlobal] = float64(si.DelaySum[DelayGlobal]) / float64(pidDelay)
			}
		}
	}
}

// FatherStack returns the parent prefix of a stack signature, dropping its
// trailing ".fi"; the empty string is the root.
func FatherStack(stack string) string {
	if i := strings.LastIndex(stack, "."); i >= 0 {
		return stack[:i]
	}
	return ""
}

// removeRootStack drops the leading RootStack prefix.
func removeRootStack(stack string) string {
	return stack[len(RootStack):]
}

// stackNodeMapInit inserts every signature under the virtual root, creating
// its node and its father's node, and linking them in insertion order.  For
// deterministic traversal the signatures are inserted in sorted order.
func (fs *FunctionStack) stackNodeMapInit() {
	for pid, stacks := range fs.Stacks {
		if fs.Nodes[pid] == nil {
			fs.Nodes[pid] = map[string]*StackNode{}
		}
		sigs := make([]string, 0, len(stacks))
		for sig := range stacks {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)
		for _, sig := range sigs {
			rooted := RootStack + sig
			terminal := 0
			for _, token := range strings.Split(rooted, ".") {
				if token == "" {
					continue
				}
				if fi, err := strconv.Atoi(token); err == nil {
					terminal = fi
				}
			}
			father := FatherStack(rooted)
			if fs.Nodes[pid][rooted] == nil {
				fs.Nodes[pid][rooted] = &StackNode{}
			}
			if fs.Nodes[pid][father] == nil {
				fs.Nodes[pid][father] = &StackNode{}
			}
			fs.Nodes[pid][rooted].FunctionIndex = terminal
			fs.Nodes[pid][father].Next = append(fs.Nodes[pid][father].Next, rooted)
		}
	}
}

// processDelayAnalysis computes each PID's rollup: the global sum is the
// valid window, and the local sum is what remains after the top-level
// stacks' global delays are taken out.
func (fs *FunctionStack) processDelayAnalysis() {
	for pid, nodes := range fs.Nodes {
		pd, ok := fs.ProcDelay[pid]
		if !ok {
			pd = &ProcessDelay{}
			fs.ProcDelay[pid] = pd
		}
		validTime := fs.tp.GetProcessValidTime(pid)
		pd.DelaySum[DelayLocal] = validTime
		pd.DelaySum[DelayGlobal] = validTime
		root := nodes[RootStack]
		if root != nil {
			for _, firstStack := range root.Next {
				sig := removeRootStack(firstStack)
				pd.DelaySum[DelayLocal] -= fs.Stacks[pid][sig].DelaySum[DelayGlobal]
			}
		}
		if pd.DelaySum[DelayGlobal] > 0 {
			pd.Percentage[DelayLocal] = float64(pd.DelaySum[DelayLocal]) / float64(pd.DelaySum[DelayGlobal])
		}
		pd.Percentage[DelayGlobal] = 1.0
	}
}

// StackPIDs returns the PIDs with stack data, in increasing order.
func (fs *FunctionStack) StackPIDs() []int {
	var pids = []int{}
	for pid := range fs.Nodes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}
