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
// Package analysis reconstructs per-process call stacks from an interleaved
// trace-event stream and derives latency and scheduling statistics from them.
// The stages run strictly in order over a sealed event slice: validity
// marking, time-pair construction, scheduling analysis, stack aggregation.
package analysis

import (
	log "github.com/golang/glog"

	"github.com/google/da-tool/config"
	trace "github.com/google/da-tool/tracedata"
)

// funcPairSlot records one side of one event in a per-(pid, function) entry
// and return sequence.
type funcPairSlot struct {
	eventIndex int
	isRet      bool
	kind       trace.ValidKind
	valid      bool
}

// eventSide addresses one validity flag of one event.
type eventSide struct {
	eventIndex int
	kind       trace.ValidKind
}

// stackSweepState is the per-PID state of the stack-consistency sweep.
type stackSweepState struct {
	stack  []int
	buffer []eventSide
	dirty  bool
}

// ValidityStats summarizes the outcome of validity marking.
type ValidityStats struct {
	// Sides is the number of event sides examined.
	Sides int
	// ValidSides is how many of them survived both passes.
	ValidSides int
}

// MarkValidity pairs unmatched entries with returns per (pid, function),
// marks every event side valid or invalid, and then invalidates every event
// in any empty-to-empty call-stack episode that contains an invalid event.
// An event side survives as valid iff it had a complementary partner in its
// (pid, function) stream and its whole enclosing stack episode was clean.
func MarkValidity(cfg *config.Config, events []*trace.Event) ValidityStats {
	pairs := buildFuncPairs(cfg, events)
	matchFuncPairs(pairs, events)
	sweepStacks(cfg, events)

	var stats ValidityStats
	for _, ev := range events {
		sides := eventSides(cfg, ev)
		for _, side := range sides {
			stats.Sides++
			if ev.Valid[side] {
				stats.ValidSides++
			}
		}
	}
	log.V(1).Infof("validity marking: %d/%d event sides valid", stats.ValidSides, stats.Sides)
	return stats
}

// eventSides lists the validity sides an event carries: one for a plain
// function event, two for a sched_switch.
func eventSides(cfg *config.Config, ev *trace.Event) []trace.ValidKind {
	if _, ok := cfg.Funcs[ev.Symbol]; !ok {
		return nil
	}
	if ev.SchedSwitch != nil {
		return []trace.ValidKind{trace.ValidSchedPrev, trace.ValidSchedNext}
	}
	return []trace.ValidKind{trace.ValidFunc}
}

// buildFuncPairs appends every configured event, in trace order, to its
// (pid, function) slot list.  A sched_switch also contributes the incoming
// PID's resume side as a return.
func buildFuncPairs(cfg *config.Config, events []*trace.Event) map[int]map[int][]funcPairSlot {
	pairs := map[int]map[int][]funcPairSlot{}
	add := func(pid, functionIndex int, slot funcPairSlot) {
		if pairs[pid] == nil {
			pairs[pid] = map[int][]funcPairSlot{}
		}
		pairs[pid][functionIndex] = append(pairs[pid][functionIndex], slot)
	}
	for i, ev := range events {
		fc, ok := cfg.Funcs[ev.Symbol]
		if !ok {
			continue
		}
		if ev.SchedSwitch != nil {
			add(ev.PID, fc.FunctionIndex, funcPairSlot{eventIndex: i, isRet: false, kind: trace.ValidSchedPrev})
			add(ev.SchedSwitch.NextPID, fc.FunctionIndex, funcPairSlot{eventIndex: i, isRet: true, kind: trace.ValidSchedNext})
			continue
		}
		add(ev.PID, fc.FunctionIndex, funcPairSlot{eventIndex: i, isRet: fc.IsRet, kind: trace.ValidFunc})
	}
	return pairs
}

// matchFuncPairs marks adjacent entry/return slots as valid and writes every
// slot's verdict back onto its event side.  Two entries in a row, or an
// orphan return, stay invalid.
func matchFuncPairs(pairs map[int]map[int][]funcPairSlot, events []*trace.Event) {
	for _, funcs := range pairs {
		for _, slots := range funcs {
			for i := 0; i < len(slots); {
				if !slots[i].isRet && i+1 < len(slots) && slots[i+1].isRet {
					slots[i].valid = true
					slots[i+1].valid = true
					i += 2
					continue
				}
				i++
			}
			for _, slot := range slots {
				events[slot.eventIndex].Valid[slot.kind] = slot.valid
			}
		}
	}
}

// sweepStacks walks the event stream per PID, tracking the open-call stack.
// Whenever the stack drains back to empty, the whole episode's events are
// flipped invalid if any event inside it was invalid.
func sweepStacks(cfg *config.Config, events []*trace.Event) {
	states := map[int]*stackSweepState{}
	state := func(pid int) *stackSweepState {
		st, ok := states[pid]
		if !ok {
			st = &stackSweepState{}
			states[pid] = st
		}
		return st
	}

	for i, ev := range events {
		fc, ok := cfg.Funcs[ev.Symbol]
		if !ok {
			continue
		}
		type side struct {
			pid  int
			kind trace.ValidKind
		}
		sides := []side{{ev.PID, trace.ValidFunc}}
		if ev.SchedSwitch != nil {
			sides = []side{
				{ev.PID, trace.ValidSchedPrev},
				{ev.SchedSwitch.NextPID, trace.ValidSchedNext},
			}
		}
		for _, s := range sides {
			st := state(s.pid)
			if !ev.Valid[s.kind] {
				st.dirty = true
				continue
			}
			if n := len(st.stack); n > 0 && st.stack[n-1] == fc.FunctionIndex {
				st.stack = st.stack[:n-1]
			} else {
				st.stack = append(st.stack, fc.FunctionIndex)
			}
			st.buffer = append(st.buffer, eventSide{eventIndex: i, kind: s.kind})
			if len(st.stack) == 0 {
				if st.dirty {
					for _, ref := range st.buffer {
						events[ref.eventIndex].Valid[ref.kind] = false
					}
				}
				st.buffer = st.buffer[:0]
				st.dirty = false
			}
		}
	}
}
