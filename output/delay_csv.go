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
// Package output renders the analysis results: the delay and scheduling
// CSVs, the flame-graph stack file, the per-PID call-stack tree, and the
// debug dumps.  The column layouts are positional and hand-ordered; they are
// the interchange contract with the downstream visualization scripts, so
// they are written byte for byte rather than through a CSV encoder.
package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
)

// delayBucketSuffixes annotate the three repeated column groups.
var delayBucketSuffixes = []string{"", "(r>=0)", "(r<0)"}

// WriteSummaryDelay writes summary_delay.csv: one row per (pid, function)
// with at least one valid sample, three column groups keyed by return-value
// sign.
func WriteSummaryDelay(w io.Writer, cfg *config.Config, tp *analysis.TimePair) {
	fmt.Fprint(w, "note : (r>=0) => (int)return value >=0; ave => average delay,")
	fmt.Fprint(w, "pid,function,")
	for _, suffix := range delayBucketSuffixes {
		fmt.Fprintf(w, "call_times%[1]s,ave%[1]s,sum%[1]s,min%[1]s,max%[1]s,p50%[1]s,p80%[1]s,p95%[1]s,p99%[1]s,", suffix)
	}
	fmt.Fprintln(w)

	for _, pid := range sortedPairPIDs(tp) {
		if cfg.FilteredOut(pid) {
			continue
		}
		funcs := tp.Pairs[pid]
		for _, functionIndex := range sortedFunctionIndices(funcs) {
			ti := funcs[functionIndex]
			if ti.Summary.CallTimes[analysis.BucketAll] <= 0 {
				continue
			}
			fmt.Fprintf(w, ",%d,", pid)
			fmt.Fprintf(w, "%s,", cfg.IndexToFunc[functionIndex])
			for b := analysis.DelayBucket(0); b < analysis.BucketCount; b++ {
				fmt.Fprintf(w, "%d,", ti.Summary.CallTimes[b])
				fmt.Fprintf(w, "%.3f,", ti.Summary.AveDelay[b])
				for s := analysis.SummaryStat(0); s < analysis.StatCount; s++ {
					fmt.Fprintf(w, "%d,", ti.Summary.Delay[b][s])
				}
			}
			fmt.Fprintln(w)
		}
	}
}

func sortedPairPIDs(tp *analysis.TimePair) []int {
	pids := make([]int, 0, len(tp.Pairs))
	for pid := range tp.Pairs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

func sortedFunctionIndices(funcs map[int]*analysis.TimePairInfo) []int {
	indices := make([]int, 0, len(funcs))
	for functionIndex := range funcs {
		indices = append(indices, functionIndex)
	}
	sort.Ints(indices)
	return indices
}
