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
// Package trace provides the event model for function-tracing collections.
// Events are produced once by the trace parser and are immutable thereafter,
// except for the per-side validity flags set during validity marking.
package trace

import (
	"fmt"
	"strings"
)

// SchedSwitchSymbol is the symbol name of the scheduling probe.
const SchedSwitchSymbol = "sched_switch"

// Timestamp is a count of microseconds since the integer-second boundary of
// the first matched trace line.  The trace collections this tool targets run
// for minutes, not days, so 32 bits of microseconds are sufficient.
type Timestamp int32

// MaxTimestamp is the largest representable Timestamp.  It is the initial
// value for minimum-seeking scans over end times.
const MaxTimestamp Timestamp = 1<<31 - 1

// Seconds converts a Timestamp back to absolute seconds using the
// integer-second base recorded when the trace was parsed.
func (ts Timestamp) Seconds(baseSeconds int64) float64 {
	return float64(baseSeconds) + float64(ts)/1e6
}

// ProcessState describes the state the outgoing thread of a sched_switch was
// left in.  Only R and S are distinguished; everything else is StateMax.
type ProcessState int8

const (
	// TaskRunning corresponds to prev_state=R.
	TaskRunning ProcessState = iota
	// TaskInterruptible corresponds to prev_state=S.
	TaskInterruptible
	// StateMax is any other prev_state.
	StateMax
)

// ProcessStateFromString maps a prev_state field to its ProcessState.
func ProcessStateFromString(state string) ProcessState {
	switch state {
	case "R":
		return TaskRunning
	case "S":
		return TaskInterruptible
	default:
		return StateMax
	}
}

func (ps ProcessState) String() string {
	switch ps {
	case TaskRunning:
		return "R"
	case TaskInterruptible:
		return "S"
	default:
		return "?"
	}
}

// ValidKind identifies which side of an event a validity flag describes.  A
// plain function event has only the function side; a sched_switch event has a
// side for the outgoing PID and a side for the incoming PID.
type ValidKind int

const (
	// ValidFunc is the validity of a function entry or return event.
	ValidFunc ValidKind = iota
	// ValidSchedPrev is the validity of the outgoing-PID side of a
	// sched_switch event.
	ValidSchedPrev
	// ValidSchedNext is the validity of the incoming-PID side of a
	// sched_switch event.
	ValidSchedNext
	// ValidKindCount is the number of validity sides.
	ValidKindCount
)

// SchedSwitch holds the fields specific to a sched_switch event.
type SchedSwitch struct {
	PrevPID   int          `json:"prevPid"`
	PrevPrio  int          `json:"prevPrio"`
	PrevState ProcessState `json:"prevState"`
	NextPID   int          `json:"nextPid"`
	NextPrio  int          `json:"nextPrio"`
}

// Event describes a single matched trace line.
type Event struct {
	// LineNo is the 1-based line number of the event in its input file.
	LineNo int `json:"lineNo"`
	// PID is the PID that logged the event.
	PID int `json:"pid"`
	// CPU is the CPU that logged the event.
	CPU int `json:"cpu"`
	// Timestamp is the event time in microseconds past the trace base second.
	Timestamp Timestamp `json:"timestamp"`
	// Symbol is the probed symbol name, e.g. "do_sys_open" or
	// "do_sys_open__return" or "sched_switch".
	Symbol string `json:"symbol"`
	// Arg1 is the probe's first argument, conventionally the return value,
	// when the line carried an arg1= field.
	Arg1 uint64 `json:"arg1"`
	// HasArg1 reports whether Arg1 was present on the line.
	HasArg1 bool `json:"hasArg1"`
	// SchedSwitch is non-nil iff Symbol is "sched_switch".
	SchedSwitch *SchedSwitch `json:"schedSwitch,omitempty"`
	// Valid holds the per-side validity verdicts from validity marking.
	Valid [ValidKindCount]bool `json:"valid"`
}

// String returns the event formatted for diagnostics.
func (ev *Event) String() string {
	var out = []string{}
	out = append(out, fmt.Sprintf("%7d %8d (CPU %d) %s", ev.LineNo, ev.Timestamp, ev.CPU, ev.Symbol))
	if ev.SchedSwitch != nil {
		ss := ev.SchedSwitch
		out = append(out, fmt.Sprintf("prev_pid=%d prev_prio=%d prev_state=%s ==> next_pid=%d next_prio=%d",
			ss.PrevPID, ss.PrevPrio, ss.PrevState, ss.NextPID, ss.NextPrio))
	} else if ev.HasArg1 {
		out = append(out, fmt.Sprintf("arg1=0x%x", ev.Arg1))
	}
	return strings.Join(out, " ")
}
