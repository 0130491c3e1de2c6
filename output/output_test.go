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
	"bytes"
	"strings"
	"testing"

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
	trace "github.com/google/da-tool/tracedata"
)

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

func funcEvent(ts trace.Timestamp, pid int, symbol string) *trace.Event {
	return &trace.Event{PID: pid, Timestamp: ts, Symbol: symbol}
}

func schedEvent(ts trace.Timestamp, pid, cpu, nextPID int) *trace.Event {
	return &trace.Event{
		PID: pid, CPU: cpu, Timestamp: ts, Symbol: trace.SchedSwitchSymbol,
		SchedSwitch: &trace.SchedSwitch{PrevPID: pid, PrevPrio: 120, NextPID: nextPID, NextPrio: 120},
	}
}

// twoPIDEvents is a trace with nested calls on PID 7 and a single call on
// PID 9.
func twoPIDEvents() []*trace.Event {
	return []*trace.Event{
		funcEvent(0, 7, "funcA"),
		funcEvent(1, 7, "funcB"),
		funcEvent(4, 7, "funcB__return"),
		funcEvent(5, 7, "funcA__return"),
		funcEvent(6, 9, "funcA"),
		funcEvent(8, 9, "funcA__return"),
	}
}

func runPipeline(cfg *config.Config, events []*trace.Event) (*analysis.TimePair, *analysis.SchedAnalysis, *analysis.FunctionStack) {
	analysis.MarkValidity(cfg, events)
	tp := analysis.NewTimePair(cfg)
	tp.Analyze(events)
	sa := analysis.NewSchedAnalysis(cfg)
	sa.Analyze(events)
	fs := analysis.NewFunctionStack(cfg, tp)
	fs.Analyze()
	return tp, sa, fs
}

func TestWriteSummaryDelay(t *testing.T) {
	cfg := testConfig()
	tp, _, _ := runPipeline(cfg, twoPIDEvents())

	var buf bytes.Buffer
	WriteSummaryDelay(&buf, cfg, tp)
	got := buf.String()
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")

	if !strings.HasPrefix(lines[0], "note : (r>=0) => (int)return value >=0; ave => average delay,pid,function,call_times,ave,sum,min,max,p50,p80,p95,p99,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[0], "p99(r>=0),") || !strings.Contains(lines[0], "p99(r<0),") {
		t.Errorf("header lacks bucket suffixes: %q", lines[0])
	}
	// One row per (pid, function) with samples: (7,funcA), (7,funcB), (9,funcA).
	if rows := len(lines) - 1; rows != 3 {
		t.Fatalf("row count = %d; want 3\n%s", rows, got)
	}
	if !strings.HasPrefix(lines[1], ",7,funcA,1,5.000,5,5,5,5,5,5,5,") {
		t.Errorf("funcA row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], ",7,funcB,1,3.000,3,3,3,3,3,3,3,") {
		t.Errorf("funcB row = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], ",9,funcA,1,2.000,2,2,2,2,2,2,2,") {
		t.Errorf("pid 9 row = %q", lines[3])
	}
}

func TestSummaryDelayRespectsFilter(t *testing.T) {
	cfg := testConfig()
	cfg.FilterPIDs[7] = true
	tp, _, fs := runPipeline(cfg, twoPIDEvents())

	var buf bytes.Buffer
	WriteSummaryDelay(&buf, cfg, tp)
	if strings.Contains(buf.String(), ",9,") {
		t.Errorf("summary_delay contains filtered pid 9:\n%s", buf.String())
	}

	buf.Reset()
	WriteFuncDelayStack(&buf, cfg, fs)
	if strings.Contains(buf.String(), "pid_9") {
		t.Errorf("func_delay_stack contains filtered pid 9:\n%s", buf.String())
	}

	buf.Reset()
	RenderTree(&buf, cfg, fs)
	if strings.Contains(buf.String(), "pid: 9") {
		t.Errorf("tree contains filtered pid 9:\n%s", buf.String())
	}
}

func TestSchedInfoIgnoresFilter(t *testing.T) {
	cfg := testConfig()
	cfg.FilterPIDs[7] = true
	events := []*trace.Event{
		schedEvent(10, 7, 0, 9),
		schedEvent(20, 9, 0, 7),
		schedEvent(30, 7, 0, 9),
	}
	_, sa, _ := runPipeline(cfg, events)

	var buf bytes.Buffer
	WriteProcessSchedInfo(&buf, sa, func(ts trace.Timestamp) float64 { return ts.Seconds(100) })
	got := buf.String()
	if !strings.Contains(got, "pid,7,") || !strings.Contains(got, "pid,9,") {
		t.Errorf("process_sched_info misses a pid:\n%s", got)
	}
	if !strings.Contains(got, "coreTraceType,scheduling") {
		t.Errorf("process_sched_info misses a scheduling interval:\n%s", got)
	}
	if !strings.Contains(got, "coreTraceType,running") {
		t.Errorf("process_sched_info misses a running interval:\n%s", got)
	}
	if !strings.Contains(got, " core  0, run time 10") {
		t.Errorf("process_sched_info misses core runtime:\n%s", got)
	}
	if !strings.Contains(got, "startTime,100.000010,") {
		t.Errorf("process_sched_info does not convert to seconds:\n%s", got)
	}
}

func TestWriteSchedSummary(t *testing.T) {
	cfg := testConfig()
	events := []*trace.Event{
		schedEvent(10, 7, 0, 9),
		schedEvent(20, 9, 0, 7),
	}
	_, sa, _ := runPipeline(cfg, events)

	var buf bytes.Buffer
	WriteSchedSummary(&buf, sa)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[0] != "pid,validDelaySum,vaildSchedSwitchDelay,validSchedSwitchPercentage,validSchedSwitchTimes,validCpuSwitchTimes" {
		t.Errorf("header = %q", lines[0])
	}
	if got, want := lines[1], "7,10,10,100.000%,1,0,"; got != want {
		t.Errorf("pid 7 row = %q; want %q", got, want)
	}
	if got, want := lines[2], "9,10,0,0.000%,0,0,"; got != want {
		t.Errorf("pid 9 row = %q; want %q", got, want)
	}
}

func TestWriteFuncDelayStack(t *testing.T) {
	cfg := testConfig()
	_, _, fs := runPipeline(cfg, twoPIDEvents())

	var buf bytes.Buffer
	WriteFuncDelayStack(&buf, cfg, fs)
	got := buf.String()

	if !strings.Contains(got, "pid_7; 0,localDelaySum,0,") {
		t.Errorf("missing pid 7 summary row:\n%s", got)
	}
	if !strings.Contains(got, "pid_7;funcA 2,localDelaySum,2,") {
		t.Errorf("missing pid 7 funcA stack row:\n%s", got)
	}
	if !strings.Contains(got, "pid_7;funcA;funcB 3,localDelaySum,3,") {
		t.Errorf("missing pid 7 nested stack row:\n%s", got)
	}
	if !strings.Contains(got, ",times ,    1,(int)ret>=0 times,1") {
		t.Errorf("missing times columns:\n%s", got)
	}
}

func TestRenderTree(t *testing.T) {
	cfg := testConfig()
	_, _, fs := runPipeline(cfg, twoPIDEvents())

	var buf bytes.Buffer
	RenderTree(&buf, cfg, fs)
	got := buf.String()

	if !strings.HasPrefix(got, "Display the function delay of each pid \n") {
		t.Errorf("missing banner:\n%s", got)
	}
	if !strings.Contains(got, "├──pid: 7{") {
		t.Errorf("missing pid 7 root line:\n%s", got)
	}
	if !strings.Contains(got, "└─────funcB{") {
		t.Errorf("missing closing branch for funcB:\n%s", got)
	}
	if !strings.Contains(got, "├──pid: 9{") {
		t.Errorf("missing pid 9 root line:\n%s", got)
	}
}

func TestRenderTreeEmptyWindow(t *testing.T) {
	cfg := testConfig()
	// Only an orphan return: pid 7 has no valid window.
	events := []*trace.Event{funcEvent(0, 7, "funcA__return")}
	_, _, fs := runPipeline(cfg, events)

	var buf bytes.Buffer
	RenderTree(&buf, cfg, fs)
	if !strings.Contains(buf.String(), "data invalid!!!") {
		t.Errorf("empty window not flagged:\n%s", buf.String())
	}
}
