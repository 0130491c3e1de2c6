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
	"testing"

	"github.com/google/go-cmp/cmp"

	trace "github.com/google/da-tool/tracedata"
)

func TestMarkValidityPairsEntriesWithReturns(t *testing.T) {
	tests := []struct {
		description string
		events      []*trace.Event
		// wantFuncValid holds the expected ValidFunc flag per event.
		wantFuncValid []bool
	}{{
		description: "matched entry and return are valid",
		events: []*trace.Event{
			funcEvent(0, 7, "funcA"),
			funcEvent(5, 7, "funcA__return"),
		},
		wantFuncValid: []bool{true, true},
	}, {
		description: "orphan return is invalid",
		events: []*trace.Event{
			funcEvent(0, 7, "funcA__return"),
		},
		wantFuncValid: []bool{false},
	}, {
		description: "two entries in a row taint the whole episode",
		events: []*trace.Event{
			funcEvent(0, 7, "funcA"),
			funcEvent(1, 7, "funcA"),
			funcEvent(2, 7, "funcA__return"),
		},
		wantFuncValid: []bool{false, false, false},
	}, {
		description: "nested calls pair per function",
		events: []*trace.Event{
			funcEvent(0, 7, "funcA"),
			funcEvent(1, 7, "funcB"),
			funcEvent(4, 7, "funcB__return"),
			funcEvent(5, 7, "funcA__return"),
		},
		wantFuncValid: []bool{true, true, true, true},
	}, {
		description: "separate PIDs pair independently",
		events: []*trace.Event{
			funcEvent(0, 7, "funcA"),
			funcEvent(1, 9, "funcA__return"),
			funcEvent(2, 7, "funcA__return"),
		},
		wantFuncValid: []bool{true, false, true},
	}}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			cfg := testConfig()
			MarkValidity(cfg, test.events)
			var got = []bool{}
			for _, ev := range test.events {
				got = append(got, ev.Valid[trace.ValidFunc])
			}
			if diff := cmp.Diff(test.wantFuncValid, got); diff != "" {
				t.Errorf("func validity: Diff -want +got:\n%s", diff)
			}
		})
	}
}

func TestMarkValiditySchedSwitchSides(t *testing.T) {
	// PID 7 leaves at t=10 and resumes at t=20; PID 9 does the reverse.
	// Each PID's sched stream holds one clean entry/return pair; PID 9's
	// leading resume and PID 7's trailing leave have no partner.
	events := []*trace.Event{
		schedEvent(10, 7, 0, 9),
		schedEvent(20, 9, 0, 7),
		schedEvent(30, 7, 0, 9),
	}
	cfg := testConfig()
	MarkValidity(cfg, events)

	// PID 7: entry(10), return(20), entry(30) -> the first two pair up.
	if !events[0].Valid[trace.ValidSchedPrev] {
		t.Errorf("event 0 prev side invalid; want valid")
	}
	if !events[1].Valid[trace.ValidSchedNext] {
		t.Errorf("event 1 next side invalid; want valid")
	}
	if events[2].Valid[trace.ValidSchedPrev] {
		t.Errorf("event 2 prev side valid; want invalid (no matching resume)")
	}
	// PID 9: return(10), entry(20), return(30) -> the leading resume has no
	// matching leave, and its dirtiness drags down the episode the later
	// pair forms.
	if events[0].Valid[trace.ValidSchedNext] {
		t.Errorf("event 0 next side valid; want invalid (orphan resume)")
	}
	if events[1].Valid[trace.ValidSchedPrev] {
		t.Errorf("event 1 prev side valid; want invalid (tainted episode)")
	}
	if events[2].Valid[trace.ValidSchedNext] {
		t.Errorf("event 2 next side valid; want invalid (tainted episode)")
	}
}

func TestSweepInvalidatesWholeEpisode(t *testing.T) {
	// PID 7 opens funcA, then an unmatched funcB return lands inside the
	// episode, then funcA closes.  The dirty episode drags funcA down too.
	events := []*trace.Event{
		funcEvent(0, 7, "funcA"),
		funcEvent(1, 7, "funcB__return"),
		funcEvent(5, 7, "funcA__return"),
	}
	cfg := testConfig()
	MarkValidity(cfg, events)

	want := []bool{false, false, false}
	var got = []bool{}
	for _, ev := range events {
		got = append(got, ev.Valid[trace.ValidFunc])
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("episode validity: Diff -want +got:\n%s", diff)
	}
}

func TestSweepLeavesCleanEpisodesAlone(t *testing.T) {
	// A dirty episode on PID 7 must not taint PID 9's clean episode.
	events := []*trace.Event{
		funcEvent(0, 7, "funcA"),
		funcEvent(1, 7, "funcB__return"),
		funcEvent(2, 9, "funcA"),
		funcEvent(3, 9, "funcA__return"),
		funcEvent(5, 7, "funcA__return"),
	}
	cfg := testConfig()
	MarkValidity(cfg, events)

	if !events[2].Valid[trace.ValidFunc] || !events[3].Valid[trace.ValidFunc] {
		t.Errorf("pid 9 episode invalid; want valid")
	}
	if events[0].Valid[trace.ValidFunc] || events[4].Valid[trace.ValidFunc] {
		t.Errorf("pid 7 episode valid; want invalid")
	}
}

func TestMarkValidityStats(t *testing.T) {
	events := []*trace.Event{
		funcEvent(0, 7, "funcA"),
		funcEvent(5, 7, "funcA__return"),
		funcEvent(9, 7, "funcB__return"),
	}
	stats := MarkValidity(testConfig(), events)
	if want := (ValidityStats{Sides: 3, ValidSides: 2}); stats != want {
		t.Errorf("MarkValidity stats = %+v; want %+v", stats, want)
	}
}
