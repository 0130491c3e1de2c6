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
	"fmt"
	"math"
	"sort"
	"strconv"

	log "github.com/golang/glog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/da-tool/config"
	trace "github.com/google/da-tool/tracedata"
)

// DelayBucket splits per-function delay samples by the sign of the call's
// return value.
type DelayBucket int

const (
	// BucketAll holds every valid sample.
	BucketAll DelayBucket = iota
	// BucketRetGEZero holds samples whose 32-bit signed return value is >= 0.
	BucketRetGEZero
	// BucketRetLTZero holds samples whose 32-bit signed return value is < 0.
	BucketRetLTZero
	// BucketCount is the number of buckets.
	BucketCount
)

// SummaryStat indexes one statistic of a delay bucket.
type SummaryStat int

// Per-bucket statistics, in output column order.
const (
	StatSum SummaryStat = iota
	StatMin
	StatMax
	StatP50
	StatP80
	StatP95
	StatP99
	StatCount
)

// Summary holds the per-bucket statistics of one (pid, function).
type Summary struct {
	AveDelay  [BucketCount]float64
	CallTimes [BucketCount]int
	Delay     [BucketCount][StatCount]int
}

// TimePairInfo is the columnar record of every observed invocation of one
// function within one PID.  All slices share indices after alignment.
type TimePairInfo struct {
	Start []trace.Timestamp
	End   []trace.Timestamp
	// Delay is End-Start per slot.
	Delay []trace.Timestamp
	// ParentFunc is the calling function's index, 0 when the call had no
	// observed parent.
	ParentFunc []int
	// ParentSlot is the slot of the parent invocation inside the parent
	// function's own TimePairInfo, -1 when ParentFunc is 0.  It ties children
	// to parents by position.
	ParentSlot []int
	// ChildCount is the number of direct child entries observed per slot.
	ChildCount []int
	RetVal     []uint64
	// StackStr is the call-stack signature ".fi1.fi2..." per slot.
	StackStr []string
	// Invalid marks slots without complete call-stack data.
	Invalid []bool

	// MaxStartInvalid is the latest orphan-return timestamp seen for this
	// function; MinEndInvalid the earliest padded end time.  Together they
	// bound the PID's valid window.
	MaxStartInvalid trace.Timestamp
	MinEndInvalid   trace.Timestamp

	Summary Summary
}

// ValidRange is the window within which a PID's call-stack reconstruction is
// demonstrably complete.
type ValidRange struct {
	Start trace.Timestamp
	End   trace.Timestamp
}

// TimePair rebuilds entry/return pairs and call-stack signatures from the
// event stream, then derives per-function delay statistics and per-PID valid
// windows.
type TimePair struct {
	cfg *config.Config

	// Pairs is keyed by PID, then by function index.
	Pairs map[int]map[int]*TimePairInfo

	validTime map[int]ValidRange
	funcStk   map[int][]int

	// AlignLog and MarkLog collect debug-dump lines for the alignment and
	// invalid-marking steps.
	AlignLog []string
	MarkLog  []string
}

// NewTimePair returns an empty TimePair bound to cfg.
func NewTimePair(cfg *config.Config) *TimePair {
	return &TimePair{
		cfg:       cfg,
		Pairs:     map[int]map[int]*TimePairInfo{},
		validTime: map[int]ValidRange{},
		funcStk:   map[int][]int{},
	}
}

// Analyze runs the full time-pair stage over the sealed event stream.
func (tp *TimePair) Analyze(events []*trace.Event) {
	tp.matching(events)
	tp.alignment()
	tp.markInvalidData()
	tp.delayUpdate()
	tp.statistics()
}

// info returns the TimePairInfo for (pid, functionIndex), creating it on
// first use.
func (tp *TimePair) info(pid, functionIndex int) *TimePairInfo {
	funcs, ok := tp.Pairs[pid]
	if !ok {
		funcs = map[int]*TimePairInfo{}
		tp.Pairs[pid] = funcs
	}
	ti, ok := funcs[functionIndex]
	if !ok {
		// MaxStartInvalid starts below any real timestamp so a trace with no
		// orphan returns keeps its earliest pairs, even at timestamp zero.
		ti = &TimePairInfo{MaxStartInvalid: -1, MinEndInvalid: trace.MaxTimestamp}
		funcs[functionIndex] = ti
	}
	return ti
}

// fatherFunctionID maintains the PID's open-call stack and returns the index
// of the function the current event is nested under, or 0 when there is
// none.  An event whose function is on top of the stack pops it, entry and
// return alike, so recursive calls of one function are not nested.  A
// return on an empty stack leaves the stack untouched.  Anything else
// pushes, repairing a mismatched stack by best effort.
func (tp *TimePair) fatherFunctionID(pid, functionIndex int, isRet bool) int {
	stk := tp.funcStk[pid]
	if len(stk) == 0 {
		if isRet {
			return 0
		}
		tp.funcStk[pid] = append(stk, functionIndex)
		return 0
	}
	if stk[len(stk)-1] == functionIndex {
		stk = stk[:len(stk)-1]
		tp.funcStk[pid] = stk
		if len(stk) > 0 {
			return stk[len(stk)-1]
		}
		return 0
	}
	if isRet {
		log.V(2).Infof("pid %d: return of %d under mismatched top %d; repairing stack", pid, functionIndex, stk[len(stk)-1])
	}
	under := stk[len(stk)-1]
	tp.funcStk[pid] = append(stk, functionIndex)
	return under
}

// update appends one event to its (pid, function) record.  A return that
// arrives before any entry of its function becomes a synthetic zero-length
// invalid pair, and sets the function's orphan-return bound.  Later surplus
// returns are appended as ends and left for alignment to report.
func (tp *TimePair) update(pid, functionIndex int, isRet bool, ts trace.Timestamp, father int, ev *trace.Event) {
	ti := tp.info(pid, functionIndex)
	if isRet {
		if len(ti.Start) == 0 {
			// First event is an end time; fabricate start=end and mark it.
			ti.Start = append(ti.Start, ts)
			ti.ChildCount = append(ti.ChildCount, 0)
			ti.StackStr = append(ti.StackStr, "."+strconv.Itoa(functionIndex))
			ti.ParentFunc = append(ti.ParentFunc, 0)
			ti.ParentSlot = append(ti.ParentSlot, -1)
			ti.Invalid = append(ti.Invalid, true)
			ti.MaxStartInvalid = ts
		}
		ti.End = append(ti.End, ts)
		if ev.HasArg1 {
			ti.RetVal = append(ti.RetVal, ev.Arg1)
		} else {
			ti.RetVal = append(ti.RetVal, 0)
		}
		return
	}

	ti.Start = append(ti.Start, ts)
	ti.ChildCount = append(ti.ChildCount, 0)
	fatherStk := ""
	if father != 0 {
		fi := tp.info(pid, father)
		fatherStk = fi.StackStr[len(fi.StackStr)-1]
	}
	ti.StackStr = append(ti.StackStr, fatherStk+"."+strconv.Itoa(functionIndex))
	ti.ParentFunc = append(ti.ParentFunc, father)
	parentSlot := -1
	if father != 0 {
		fi := tp.info(pid, father)
		parentSlot = len(fi.Start) - 1
		fi.ChildCount[parentSlot]++
	}
	ti.ParentSlot = append(ti.ParentSlot, parentSlot)
	ti.Invalid = append(ti.Invalid, false)
}

// matching converts the event stream into per-(pid, function) time pairs.  A
// sched_switch contributes an entry for the outgoing PID and a synthetic
// return for the incoming PID at the same timestamp.
func (tp *TimePair) matching(events []*trace.Event) {
	schedIdx, hasSched := tp.cfg.SchedSwitchIndex()
	for _, ev := range events {
		fc, ok := tp.cfg.Funcs[ev.Symbol]
		if !ok {
			continue
		}
		father := tp.fatherFunctionID(ev.PID, fc.FunctionIndex, fc.IsRet)
		tp.update(ev.PID, fc.FunctionIndex, fc.IsRet, ev.Timestamp, father, ev)

		if hasSched && fc.FunctionIndex == schedIdx && ev.SchedSwitch != nil {
			nextPID := ev.SchedSwitch.NextPID
			father = tp.fatherFunctionID(nextPID, fc.FunctionIndex, true)
			tp.update(nextPID, fc.FunctionIndex, true, ev.Timestamp, father, ev)
		}
	}
}

// alignment pads end times for functions that were entered but never
// returned, so that every record's start and end columns are equally long.
// The earliest padded end bounds the PID's valid window from above.  More
// returns than entries cannot be repaired and is only reported.
func (tp *TimePair) alignment() {
	for pid, funcs := range tp.Pairs {
		for functionIndex, ti := range funcs {
			diff := len(ti.Start) - len(ti.End)
			if diff == 0 {
				tp.AlignLog = append(tp.AlignLog, fmt.Sprintf("%d,%d ,%d ,%d ,%d", diff, pid, functionIndex, len(ti.Start), len(ti.End)))
				continue
			}
			if diff < 0 {
				err := status.Errorf(codes.Internal, "pid %d function %d has %d starts but %d ends", pid, functionIndex, len(ti.Start), len(ti.End))
				log.Error(err)
				tp.AlignLog = append(tp.AlignLog, fmt.Sprintf("run error(diffLen<0)!!!,%d,%d ,%d ,%d ,%d", diff, pid, functionIndex, len(ti.Start), len(ti.End)))
				continue
			}
			if diff > 1 {
				// More than one unreturned entry means functions were pushed
				// back after a stack repair.
				tp.AlignLog = append(tp.AlignLog, fmt.Sprintf("run error(diffLen>1)!!!,%d,%d ,%d ,%d ,%d", diff, pid, functionIndex, len(ti.Start), len(ti.End)))
			} else {
				tp.AlignLog = append(tp.AlignLog, fmt.Sprintf("%d,%d ,%d ,%d ,%d", diff, pid, functionIndex, len(ti.Start), len(ti.End)))
			}
			updatedEndInvalid := false
			for i := 0; i < diff; i++ {
				end := ti.Start[len(ti.Start)-diff+i]
				ti.End = append(ti.End, end)
				ti.RetVal = append(ti.RetVal, 0)
				if !updatedEndInvalid {
					ti.MinEndInvalid = end
					updatedEndInvalid = true
				}
			}
		}
	}
}

// markInvalidData derives each PID's valid window.  Everything at or before
// the latest orphan return, and everything at or after the earliest padded
// end, is invalid; the window spans the remaining valid pairs.
func (tp *TimePair) markInvalidData() {
	pids := make([]int, 0, len(tp.Pairs))
	for pid := range tp.Pairs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	for _, pid := range pids {
		funcs := tp.Pairs[pid]
		maxInvalidStart := trace.Timestamp(-1)
		minInvalidEnd := trace.MaxTimestamp
		for _, ti := range funcs {
			if ti.MaxStartInvalid > maxInvalidStart {
				maxInvalidStart = ti.MaxStartInvalid
			}
			if ti.MinEndInvalid < minInvalidEnd {
				minInvalidEnd = ti.MinEndInvalid
			}
		}
		for _, ti := range funcs {
			for i := range ti.Start {
				if ti.Start[i] <= maxInvalidStart {
					ti.Invalid[i] = true
				}
				if ti.End[i] >= minInvalidEnd {
					ti.Invalid[i] = true
				}
			}
		}

		validStart := trace.MaxTimestamp
		validEnd := trace.Timestamp(0)
		for _, ti := range funcs {
			for i := range ti.Start {
				if ti.Invalid[i] {
					continue
				}
				if ti.Start[i] <= validStart {
					validStart = ti.Start[i]
				}
				if ti.End[i] >= validEnd {
					validEnd = ti.End[i]
				}
			}
		}
		if validStart == trace.MaxTimestamp {
			// No pair survived; the window is empty.
			log.V(1).Info(status.Errorf(codes.Internal, "pid %d has no valid pairs", pid))
			validStart, validEnd = 0, 0
		}
		tp.validTime[pid] = ValidRange{Start: validStart, End: validEnd}
		tp.MarkLog = append(tp.MarkLog, fmt.Sprintf("pid,%d,validStartTime ,%d, validEndTime ,%d", pid, validStart, validEnd))
	}
}

// delayUpdate fills the Delay column.
func (tp *TimePair) delayUpdate() {
	for _, funcs := range tp.Pairs {
		for _, ti := range funcs {
			for i := range ti.Start {
				ti.Delay = append(ti.Delay, ti.End[i]-ti.Start[i])
			}
		}
	}
}

// percentile returns the ceil(p*n)-th order statistic (1-indexed) of the
// sorted sample slice.
func percentile(sorted []int, p float64) int {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// statistics computes the per-bucket delay summaries over valid pairs.  The
// return value is truncated to its low 32 bits for the sign test; the probe
// cannot tell a 32-bit return from a 64-bit one, and 0xfffffff5 must count
// as negative.
func (tp *TimePair) statistics() {
	for _, funcs := range tp.Pairs {
		for _, ti := range funcs {
			var samples [BucketCount][]int
			var sums [BucketCount]int
			for i := range ti.Start {
				if ti.Invalid[i] {
					continue
				}
				delay := int(ti.Delay[i])
				samples[BucketAll] = append(samples[BucketAll], delay)
				sums[BucketAll] += delay
				if int32(ti.RetVal[i]) < 0 {
					samples[BucketRetLTZero] = append(samples[BucketRetLTZero], delay)
					sums[BucketRetLTZero] += delay
				} else {
					samples[BucketRetGEZero] = append(samples[BucketRetGEZero], delay)
					sums[BucketRetGEZero] += delay
				}
			}
			for b := DelayBucket(0); b < BucketCount; b++ {
				sorted := samples[b]
				sort.Ints(sorted)
				if len(sorted) == 0 {
					ti.Summary.CallTimes[b] = 0
					ti.Summary.AveDelay[b] = 0
					continue
				}
				ti.Summary.Delay[b][StatSum] = sums[b]
				ti.Summary.Delay[b][StatMin] = sorted[0]
				ti.Summary.Delay[b][StatMax] = sorted[len(sorted)-1]
				ti.Summary.Delay[b][StatP50] = percentile(sorted, 0.50)
				ti.Summary.Delay[b][StatP80] = percentile(sorted, 0.80)
				ti.Summary.Delay[b][StatP95] = percentile(sorted, 0.95)
				ti.Summary.Delay[b][StatP99] = percentile(sorted, 0.99)
				ti.Summary.CallTimes[b] = len(sorted)
				ti.Summary.AveDelay[b] = float64(sums[b]) / float64(len(sorted))
			}
		}
	}
}

// ValidWindow returns the valid window recorded for pid.
func (tp *TimePair) ValidWindow(pid int) (ValidRange, bool) {
	vr, ok := tp.validTime[pid]
	return vr, ok
}

// GetProcessValidTime returns the width of pid's valid window in
// microseconds, or 0 when the PID has no valid pairs.
func (tp *TimePair) GetProcessValidTime(pid int) int {
	vr, ok := tp.validTime[pid]
	if !ok {
		return 0
	}
	return int(vr.End - vr.Start)
}
