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
	"github.com/google/da-tool/config"
	trace "github.com/google/da-tool/tracedata"
)

// testConfig maps funcA to index 1, funcB to index 2, and sched_switch to
// index 3, mirroring an analysis_config of
//
//	k,funcA
//	k,funcB
//	s,sched_switch
func testConfig() *config.Config {
	cfg := config.New()
	cfg.Funcs["funcA"] = config.FuncConfig{Type: config.Kernel, FunctionIndex: 1}
	cfg.Funcs["funcA__return"] = config.FuncConfig{Type: config.Kernel, IsRet: true, FunctionIndex: 1}
	cfg.Funcs["funcB"] = config.FuncConfig{Type: config.Kernel, FunctionIndex: 2}
	cfg.Funcs["funcB__return"] = config.FuncConfig{Type: config.Kernel, IsRet: true, FunctionIndex: 2}
	cfg.Funcs["sched_switch"] = config.FuncConfig{Type: config.Sched, FunctionIndex: 3}
	cfg.IndexToFunc[1] = "funcA"
	cfg.IndexToFunc[2] = "funcB"
	cfg.IndexToFunc[3] = "sched_switch"
	return cfg
}

// funcEvent returns a function entry or return event.
func funcEvent(ts trace.Timestamp, pid int, symbol string) *trace.Event {
	return &trace.Event{PID: pid, CPU: 0, Timestamp: ts, Symbol: symbol}
}

// funcEventRet returns a function return event carrying a return value.
func funcEventRet(ts trace.Timestamp, pid int, symbol string, retVal uint64) *trace.Event {
	ev := funcEvent(ts, pid, symbol)
	ev.Arg1 = retVal
	ev.HasArg1 = true
	return ev
}

// schedEvent returns a sched_switch event from pid to nextPID on cpu.
func schedEvent(ts trace.Timestamp, pid, cpu, nextPID int) *trace.Event {
	return &trace.Event{
		PID:       pid,
		CPU:       cpu,
		Timestamp: ts,
		Symbol:    trace.SchedSwitchSymbol,
		SchedSwitch: &trace.SchedSwitch{
			PrevPID:   pid,
			PrevPrio:  120,
			PrevState: trace.TaskInterruptible,
			NextPID:   nextPID,
			NextPrio:  120,
		},
	}
}

// runTimePair marks validity and runs the time-pair stage over events.
func runTimePair(cfg *config.Config, events []*trace.Event) *TimePair {
	MarkValidity(cfg, events)
	tp := NewTimePair(cfg)
	tp.Analyze(events)
	return tp
}
