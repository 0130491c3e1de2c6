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

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
	"github.com/google/da-tool/traceparser"
)

// WriteConfigDebug dumps the resolved symbol and filter tables.
func WriteConfigDebug(w io.Writer, cfg *config.Config) {
	symbols := make([]string, 0, len(cfg.Funcs))
	for symbol := range cfg.Funcs {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		fc := cfg.Funcs[symbol]
		isRet := 0
		if fc.IsRet {
			isRet = 1
		}
		fmt.Fprintf(w, "%s,%d,%d,%d\n", symbol, fc.Type, fc.FunctionIndex, isRet)
	}
	pids := make([]int, 0, len(cfg.FilterPIDs))
	for pid := range cfg.FilterPIDs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	for _, pid := range pids {
		fmt.Fprintf(w, "filter,%d,%d,%d\n", pid, config.FilterPID, pid)
	}
}

// WriteTraceDebug dumps the matched event table with absolute-second
// timestamps.
func WriteTraceDebug(w io.Writer, res *traceparser.Result) {
	fmt.Fprintln(w, "traceLineNum,pid,core,timestamp,functionName")
	for _, ev := range res.Events {
		fmt.Fprintf(w, "%d,", ev.LineNo)
		fmt.Fprintf(w, "%d,%d,%.6f,%s", ev.PID, ev.CPU, res.Seconds(ev.Timestamp), ev.Symbol)
		if ev.SchedSwitch != nil {
			ss := ev.SchedSwitch
			fmt.Fprintf(w, ",%d,%d,%d,%d,%d", ss.PrevPID, ss.PrevPrio, ss.PrevState, ss.NextPID, ss.NextPrio)
		}
		fmt.Fprintln(w)
	}
}

// WriteTimePairAlign dumps the alignment step's per-function log.
func WriteTimePairAlign(w io.Writer, tp *analysis.TimePair) {
	for _, line := range tp.AlignLog {
		fmt.Fprintln(w, line)
	}
}

// WriteTimePairMark dumps the derived per-PID valid windows.
func WriteTimePairMark(w io.Writer, tp *analysis.TimePair) {
	for _, line := range tp.MarkLog {
		fmt.Fprintln(w, line)
	}
}

// WriteTimePair dumps the full columnar time-pair store.
func WriteTimePair(w io.Writer, cfg *config.Config, tp *analysis.TimePair) {
	for _, pid := range sortedPairPIDs(tp) {
		funcs := tp.Pairs[pid]
		for _, functionIndex := range sortedFunctionIndices(funcs) {
			ti := funcs[functionIndex]
			vr, _ := tp.ValidWindow(pid)
			fmt.Fprintf(w, "pid:%d,\n", pid)
			fmt.Fprintf(w, "functionIndex:%d,%s\n", functionIndex, cfg.IndexToFunc[functionIndex])
			fmt.Fprintf(w, "info num,%d,valid info num,%d,", len(ti.Start), ti.Summary.CallTimes[analysis.BucketAll])
			fmt.Fprintf(w, "validStartTime,%d,validEndTime,%d\n", vr.Start, vr.End)
			fmt.Fprint(w, "startTime,")
			for _, start := range ti.Start {
				fmt.Fprintf(w, "%d,", start)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "endTime,")
			for _, end := range ti.End {
				fmt.Fprintf(w, "%d,", end)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "delay,")
			for _, delay := range ti.Delay {
				fmt.Fprintf(w, "%d,", delay)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "fatherFunction,")
			for _, father := range ti.ParentFunc {
				fmt.Fprintf(w, "%d,", father)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "fatherFuncPos,")
			for _, pos := range ti.ParentSlot {
				fmt.Fprintf(w, "%d,", pos)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "childFuncTimes,")
			for _, count := range ti.ChildCount {
				fmt.Fprintf(w, "%d,", count)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "strFunctionStk,")
			for _, stack := range ti.StackStr {
				fmt.Fprintf(w, "%s,", stack)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, "isInvalid,")
			for _, invalid := range ti.Invalid {
				v := 0
				if invalid {
					v = 1
				}
				fmt.Fprintf(w, "%d,", v)
			}
			fmt.Fprintln(w)
		}
	}
}
