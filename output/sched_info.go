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
	trace "github.com/google/da-tool/tracedata"
)

// WriteProcessSchedInfo writes the per-PID scheduling report: rollup
// counters, per-core runtimes, and one line per classified interval.
// Interval times convert back to absolute seconds.  The PID filter is not
// consulted here; scheduling context for unfiltered PIDs is often what
// explains a filtered PID's latency.
func WriteProcessSchedInfo(w io.Writer, sa *analysis.SchedAnalysis, toSeconds func(trace.Timestamp) float64) {
	for _, pid := range sa.PIDs() {
		if pid == 0 {
			continue
		}
		info := sa.Procs[pid]
		fmt.Fprintf(w, "pid,%d,\n", pid)
		fmt.Fprintf(w, "cpuSwitchTimes,%d,", info.CPUSwitchTimes[analysis.SchedSummaryAll])
		fmt.Fprintf(w, "schedSwitchTimes,%d,", info.SchedSwitchTimes[analysis.SchedSummaryAll])
		fmt.Fprintf(w, "delaySum,%d,\n", info.DelaySum[analysis.SchedSummaryAll])
		fmt.Fprintf(w, "vaildCpuSwitchTimes,%d,", info.CPUSwitchTimes[analysis.SchedSummaryValid])
		fmt.Fprintf(w, "vaildSchedSwitchTimes,%d,", info.SchedSwitchTimes[analysis.SchedSummaryValid])
		fmt.Fprintf(w, "validDelaySum,%d,", info.DelaySum[analysis.SchedSummaryValid])
		fmt.Fprintf(w, "vaildSchedSwitchDelay,%d,", info.ValidSchedSwitchDelay)
		fmt.Fprintf(w, "validRuntime,%d,\n", info.DelaySum[analysis.SchedSummaryValid]-info.ValidSchedSwitchDelay)

		cores := make([]int, 0, len(info.RunTimeOfCore))
		for core := range info.RunTimeOfCore {
			cores = append(cores, core)
		}
		sort.Ints(cores)
		for _, core := range cores {
			if runTime := info.RunTimeOfCore[core]; runTime != 0 {
				fmt.Fprintf(w, " core  %d, run time %d\n", core, runTime)
			}
		}

		for i := range info.CoreTrace {
			ct := &info.CoreTrace[i]
			fmt.Fprintf(w, "startTime,%.6f,", toSeconds(ct.Start))
			fmt.Fprintf(w, "endTime,%.6f,", toSeconds(ct.End))
			fmt.Fprintf(w, "startCoreId,%d,", ct.StartCore)
			fmt.Fprintf(w, "endCoreId,%d,", ct.EndCore)
			fmt.Fprintf(w, "coreTraceType,%s\n", ct.Type)
		}
		fmt.Fprintln(w)
	}
}

// WriteSchedSummary writes summary_sched.csv, the valid-scope scheduling
// rollup per PID.
func WriteSchedSummary(w io.Writer, sa *analysis.SchedAnalysis) {
	fmt.Fprintln(w, "pid,validDelaySum,vaildSchedSwitchDelay,validSchedSwitchPercentage,validSchedSwitchTimes,validCpuSwitchTimes")
	for _, pid := range sa.PIDs() {
		if pid == 0 {
			continue
		}
		info := sa.Procs[pid]
		fmt.Fprintf(w, "%d,", pid)
		fmt.Fprintf(w, "%d,", info.DelaySum[analysis.SchedSummaryValid])
		fmt.Fprintf(w, "%d,", info.ValidSchedSwitchDelay)
		fmt.Fprintf(w, "%.3f%%,", info.ValidPercentSchedSwitch*100)
		fmt.Fprintf(w, "%d,", info.SchedSwitchTimes[analysis.SchedSummaryValid])
		fmt.Fprintf(w, "%d,\n", info.CPUSwitchTimes[analysis.SchedSummaryValid])
	}
}
