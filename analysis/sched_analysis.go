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

	"github.com/Workiva/go-datastructures/augmentedtree"
	log "github.com/golang/glog"

	"github.com/google/da-tool/config"
	trace "github.com/google/da-tool/tracedata"
)

// CoreTraceType classifies one inter-sched_switch interval of a PID.
type CoreTraceType int

const (
	// CoreTraceInvalid covers core-change anomalies and trace gaps.
	CoreTraceInvalid CoreTraceType = iota
	// CoreTraceScheduling is an off-CPU interval between a leave and a resume.
	CoreTraceScheduling
	// CoreTraceOnCore is a single-core run interval between a resume and the
	// next leave.
	CoreTraceOnCore
)

func (t CoreTraceType) String() string {
	switch t {
	case CoreTraceScheduling:
		return "scheduling"
	case CoreTraceOnCore:
		return "running"
	default:
		return "invalid"
	}
}

// SchedSummaryKind selects the valid-only or the all-intervals rollup.
type SchedSummaryKind int

const (
	// SchedSummaryValid aggregates only classified intervals.
	SchedSummaryValid SchedSummaryKind = iota
	// SchedSummaryAll aggregates every interval, for diagnostics.
	SchedSummaryAll
	// SchedSummaryCount is the number of rollups.
	SchedSummaryCount
)

// CoreInterval is the span of one PID between two adjacent sched_switch
// anchors.  startIsRet=true means the PID was switched in at the start.
type CoreInterval struct {
	Start      trace.Timestamp `json:"startTimestamp"`
	End        trace.Timestamp `json:"endTimestamp"`
	StartCore  int             `json:"startCore"`
	EndCore    int             `json:"endCore"`
	StartIsRet bool            `json:"startIsRet"`
	EndIsRet   bool            `json:"endIsRet"`
	Type       CoreTraceType   `json:"type"`
}

// Duration returns the interval width in microseconds.
func (ci *CoreInterval) Duration() int {
	return int(ci.End - ci.Start)
}

// ProcessSchedInfo aggregates one PID's scheduling behavior.
type ProcessSchedInfo struct {
	// CoreTrace is the PID's classified interval sequence, in time order.
	CoreTrace []CoreInterval
	// RunTimeOfCore sums ON_CORE durations per core.
	RunTimeOfCore map[int]int

	ValidSchedSwitchDelay   int
	ValidPercentSchedSwitch float64
	SchedSwitchTimes        [SchedSummaryCount]int
	CPUSwitchTimes          [SchedSummaryCount]int
	DelaySum                [SchedSummaryCount]int
}

// schedIntervalNode adapts one CoreInterval to augmentedtree.Interval so a
// PID's intervals can be queried by time range.
type schedIntervalNode struct {
	interval CoreInterval
	id       uint64
}

// LowAtDimension returns the interval's start.  Required to support
// augmentedtree.Interval.
func (n *schedIntervalNode) LowAtDimension(d uint64) int64 {
	return int64(n.interval.Start)
}

// HighAtDimension returns the interval's end.  Required to support
// augmentedtree.Interval.
func (n *schedIntervalNode) HighAtDimension(d uint64) int64 {
	return int64(n.interval.End)
}

// OverlapsAtDimension returns true if an interval overlaps this interval at
// the specified dimension.  Required to support augmentedtree.Interval.
func (n *schedIntervalNode) OverlapsAtDimension(j augmentedtree.Interval, d uint64) bool {
	return n.HighAtDimension(d) >= j.LowAtDimension(d) &&
		j.HighAtDimension(d) >= n.LowAtDimension(d)
}

// ID returns the unique identifier for this interval.  Required to support
// augmentedtree.Interval.
func (n *schedIntervalNode) ID() uint64 {
	return n.id
}

// The ID for query intervals; reserved so it cannot collide with stored
// interval IDs, which start at 1.
const queryID uint64 = 0

type queryInterval struct {
	low, high int64
}

func (q *queryInterval) LowAtDimension(d uint64) int64  { return q.low }
func (q *queryInterval) HighAtDimension(d uint64) int64 { return q.high }
func (q *queryInterval) OverlapsAtDimension(j augmentedtree.Interval, d uint64) bool {
	return q.high >= j.LowAtDimension(d) && j.HighAtDimension(d) >= q.low
}
func (q *queryInterval) ID() uint64 { return queryID }

// SchedAnalysis attributes runtime across CPUs and scheduling boundaries
// from the sched_switch events alone.
type SchedAnalysis struct {
	cfg *config.Config

	// Procs is keyed by PID.
	Procs map[int]*ProcessSchedInfo

	intervalTrees map[int]augmentedtree.Tree
	nextNodeID    uint64
}

// NewSchedAnalysis returns an empty SchedAnalysis bound to cfg.
func NewSchedAnalysis(cfg *config.Config) *SchedAnalysis {
	return &SchedAnalysis{
		cfg:           cfg,
		Procs:         map[int]*ProcessSchedInfo{},
		intervalTrees: map[int]augmentedtree.Tree{},
	}
}

// Analyze builds, classifies, and aggregates per-PID core intervals.  With
// no scheduling probe configured the stage is skipped entirely.
func (sa *SchedAnalysis) Analyze(events []*trace.Event) {
	schedIdx, ok := sa.cfg.SchedSwitchIndex()
	if !ok {
		log.V(1).Info("no sched_switch probe configured; skipping scheduling analysis")
		return
	}
	sa.buildCoreTrace(events, schedIdx)
	sa.classify()
	sa.aggregate()
	sa.buildIntervalTrees()
}

// addAnchor closes the PID's previous interval at this anchor and opens a
// new one.  isRet is true for the incoming side of a switch.
func (sa *SchedAnalysis) addAnchor(pid int, ts trace.Timestamp, core int, isRet bool) {
	info, ok := sa.Procs[pid]
	if !ok {
		info = &ProcessSchedInfo{RunTimeOfCore: map[int]int{}}
		sa.Procs[pid] = info
	}
	if n := len(info.CoreTrace); n > 0 {
		info.CoreTrace[n-1].End = ts
		info.CoreTrace[n-1].EndCore = core
		info.CoreTrace[n-1].EndIsRet = isRet
	}
	info.CoreTrace = append(info.CoreTrace, CoreInterval{
		Start:      ts,
		End:        ts,
		StartCore:  core,
		EndCore:    core,
		StartIsRet: isRet,
		EndIsRet:   isRet,
		Type:       CoreTraceInvalid,
	})
}

func (sa *SchedAnalysis) buildCoreTrace(events []*trace.Event, schedIdx int) {
	for _, ev := range events {
		fc, ok := sa.cfg.Funcs[ev.Symbol]
		if !ok || fc.FunctionIndex != schedIdx || ev.SchedSwitch == nil {
			continue
		}
		sa.addAnchor(ev.PID, ev.Timestamp, ev.CPU, false)
		sa.addAnchor(ev.SchedSwitch.NextPID, ev.Timestamp, ev.CPU, true)
	}
	// The trailing anchor has no successor and is always dropped.
	for _, info := range sa.Procs {
		if n := len(info.CoreTrace); n > 0 {
			info.CoreTrace = info.CoreTrace[:n-1]
		}
	}
}

func (sa *SchedAnalysis) classify() {
	for _, info := range sa.Procs {
		for i := range info.CoreTrace {
			ct := &info.CoreTrace[i]
			if !ct.StartIsRet && ct.EndIsRet {
				ct.Type = CoreTraceScheduling
			}
			if ct.StartIsRet && !ct.EndIsRet && ct.StartCore == ct.EndCore {
				ct.Type = CoreTraceOnCore
			}
		}
	}
}

func (sa *SchedAnalysis) aggregate() {
	for _, info := range sa.Procs {
		var delaySum, schedSwitchTimes, cpuSwitchTimes [SchedSummaryCount]int
		validDelaySched := 0
		for i := range info.CoreTrace {
			ct := &info.CoreTrace[i]
			delay := ct.Duration()
			delaySum[SchedSummaryAll] += delay
			if !ct.StartIsRet {
				schedSwitchTimes[SchedSummaryAll]++
			}
			if ct.StartCore != ct.EndCore {
				cpuSwitchTimes[SchedSummaryAll]++
			}
			if ct.Type != CoreTraceInvalid {
				delaySum[SchedSummaryValid] += delay
			}
			if ct.Type == CoreTraceOnCore {
				info.RunTimeOfCore[ct.StartCore] += delay
			}
			if ct.Type == CoreTraceScheduling {
				validDelaySched += delay
				schedSwitchTimes[SchedSummaryValid]++
				if ct.StartCore != ct.EndCore {
					// CPU switching only occurs while scheduling.
					cpuSwitchTimes[SchedSummaryValid]++
				}
			}
		}
		info.ValidSchedSwitchDelay = validDelaySched
		if delaySum[SchedSummaryValid] == 0 {
			info.ValidPercentSchedSwitch = 0
		} else {
			info.ValidPercentSchedSwitch = float64(validDelaySched) / float64(delaySum[SchedSummaryValid])
		}
		info.SchedSwitchTimes = schedSwitchTimes
		info.CPUSwitchTimes = cpuSwitchTimes
		info.DelaySum = delaySum
	}
}

// buildIntervalTrees indexes every PID's intervals in a one-dimensional
// interval tree for range queries.
func (sa *SchedAnalysis) buildIntervalTrees() {
	for pid, info := range sa.Procs {
		tree := augmentedtree.New(1)
		for _, ct := range info.CoreTrace {
			sa.nextNodeID++
			tree.Add(&schedIntervalNode{interval: ct, id: sa.nextNodeID})
		}
		sa.intervalTrees[pid] = tree
	}
}

// IntervalsInRange returns pid's core intervals overlapping
// [startTS, endTS], in increasing start order.
func (sa *SchedAnalysis) IntervalsInRange(pid int, startTS, endTS trace.Timestamp) []CoreInterval {
	tree, ok := sa.intervalTrees[pid]
	if !ok {
		return nil
	}
	found := tree.Query(&queryInterval{low: int64(startTS), high: int64(endTS)})
	var ret = []CoreInterval{}
	for _, iv := range found {
		ret = append(ret, iv.(*schedIntervalNode).interval)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Start < ret[j].Start
	})
	return ret
}

// PIDs returns the PIDs with scheduling data, in increasing order.
func (sa *SchedAnalysis) PIDs() []int {
	var pids = []int{}
	for pid := range sa.Procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}
