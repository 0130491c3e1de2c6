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
// Package traceparser extracts structured events from ftrace-style text
// traces.  Each input line is matched against a sched_switch pattern first
// and a generic function-probe pattern second; lines matching neither are
// skipped without comment.  Timestamps are rebased to microseconds past the
// integer second of the first matched line.
package traceparser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/golang/glog"

	trace "github.com/google/da-tool/tracedata"
	"github.com/google/da-tool/util"
)

const microPerSec = 1000000

// progressInterval is the line cadence of stdout progress reports.
const progressInterval = 10000

var (
	patternSchedSwitch = regexp.MustCompile(`\s+(.+)-(\d+)\s+\[(\d+)\]\s+(.)(.)(.)(.)\s+(\d+)\.(\d+):\s+(sched_switch):\s+prev_comm=.+prev_pid=(\d+)\s+prev_prio=(\d+)\s+prev_state=(\S+)\s+==>\s+next_comm=.+next_pid=(\d+)\s+next_prio=(\d+)`)
	pattern            = regexp.MustCompile(`\s*(.+)-(\d+)\s+\[(\d+)\]\s+(.)(.)(.)(.)\s+(\d+)\.(\d+):\s+(\w+):(.+)`)
	subpattern         = regexp.MustCompile(`.+arg1=(0x[a-fA-F0-9]+)`)
)

// Submatch indices shared by both patterns, except matchTail, which applies
// to the generic pattern only.
const (
	matchPID           = 2
	matchCPU           = 3
	matchTimestampInt  = 8
	matchTimestampFrac = 9
	matchFuncName      = 10
	matchTail          = 11
)

// Submatch indices specific to the sched_switch pattern.
const (
	matchPrevPID = 11 + iota
	matchPrevPrio
	matchPrevState
	matchNextPID
	matchNextPrio
)

// Parser reads a line window of a text trace.  The zero value reads the whole
// input.
type Parser struct {
	// BeginLine is the first 1-based line to consider; lines before it are
	// skipped.
	BeginLine int
	// LineLimit is how many lines are read, counting from BeginLine (from
	// line 1 when BeginLine is below 1).  0 means no limit.
	LineLimit int
	// DebugW, when non-nil, receives per-line submatch dumps.
	DebugW io.Writer
}

// Result is the sealed output of a parse run.
type Result struct {
	// Events holds every matched line, in input order.
	Events []*trace.Event
	// BaseSeconds is the integer-second part of the first matched line's
	// timestamp; all event timestamps are relative to it.
	BaseSeconds int64
	// LinesRead and LinesMatched count the read window.
	LinesRead    int
	LinesMatched int
}

// Seconds converts a rebased timestamp back to absolute seconds.
func (r *Result) Seconds(ts trace.Timestamp) float64 {
	return ts.Seconds(r.BaseSeconds)
}

// ParseFile parses the trace at path.  A missing file is reported on stdout
// and yields an empty Result; the pipeline proceeds with whatever parsed.
func (p *Parser) ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("file open failed:" + path)
		return &Result{}, err
	}
	defer f.Close()
	return p.Parse(f), nil
}

// Parse reads lines from r and returns the matched events.  Parse failures
// on individual lines are silently skipped; running it twice over the same
// input yields identical results.
func (p *Parser) Parse(r io.Reader) *Result {
	res := &Result{}
	isFirstMatch := true
	firstLine := p.BeginLine
	if firstLine < 1 {
		firstLine = 1
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		if lineNum%progressInterval == 0 {
			fmt.Printf("%d/%d (matched/lines)\n", res.LinesMatched, lineNum)
		}
		if lineNum < p.BeginLine {
			continue
		}
		if p.LineLimit != 0 && lineNum >= firstLine+p.LineLimit {
			break
		}

		var ev *trace.Event
		var match []string
		if match = patternSchedSwitch.FindStringSubmatch(line); match != nil {
			ev = p.parseSchedSwitch(match)
		} else if match = pattern.FindStringSubmatch(line); match != nil {
			ev = p.parseGeneric(match)
		}
		if ev == nil {
			continue
		}

		sec, usec, ok := timestampParts(match)
		if !ok {
			continue
		}
		if isFirstMatch {
			res.BaseSeconds = sec
			isFirstMatch = false
		}
		ev.Timestamp = trace.Timestamp((sec-res.BaseSeconds)*microPerSec + usec)
		ev.LineNo = lineNum
		res.Events = append(res.Events, ev)
		res.LinesMatched++
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("trace read stopped at line %d: %v", lineNum, err)
	}
	res.LinesRead = lineNum

	if len(res.Events) > 0 {
		fmt.Printf("trace delay :%d\n", res.Events[len(res.Events)-1].Timestamp-res.Events[0].Timestamp)
	}
	return res
}

func (p *Parser) parseSchedSwitch(match []string) *trace.Event {
	pid, err1 := strconv.Atoi(match[matchPID])
	cpu, err2 := strconv.Atoi(match[matchCPU])
	prevPID, err3 := strconv.Atoi(match[matchPrevPID])
	prevPrio, err4 := strconv.Atoi(match[matchPrevPrio])
	nextPID, err5 := strconv.Atoi(match[matchNextPID])
	nextPrio, err6 := strconv.Atoi(match[matchNextPrio])
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			util.LogErrEveryNTime(100*time.Microsecond, err)
			return nil
		}
	}
	p.dumpSubmatches(match)
	return &trace.Event{
		PID:    pid,
		CPU:    cpu,
		Symbol: trace.SchedSwitchSymbol,
		SchedSwitch: &trace.SchedSwitch{
			PrevPID:   prevPID,
			PrevPrio:  prevPrio,
			PrevState: trace.ProcessStateFromString(match[matchPrevState]),
			NextPID:   nextPID,
			NextPrio:  nextPrio,
		},
	}
}

func (p *Parser) parseGeneric(match []string) *trace.Event {
	pid, err1 := strconv.Atoi(match[matchPID])
	cpu, err2 := strconv.Atoi(match[matchCPU])
	if err1 != nil || err2 != nil {
		return nil
	}
	p.dumpSubmatches(match)
	ev := &trace.Event{
		PID:    pid,
		CPU:    cpu,
		Symbol: match[matchFuncName],
	}
	if sub := subpattern.FindStringSubmatch(match[matchTail]); sub != nil {
		arg, err := strconv.ParseUint(strings.TrimPrefix(sub[1], "0x"), 16, 64)
		if err == nil {
			ev.Arg1 = arg
			ev.HasArg1 = true
		}
	}
	return ev
}

func (p *Parser) dumpSubmatches(match []string) {
	if p.DebugW == nil {
		return
	}
	fmt.Fprintf(p.DebugW, "0:%s\n", match[0])
	for i := 1; i < len(match); i++ {
		fmt.Fprintf(p.DebugW, "%d:%s ", i, match[i])
	}
	fmt.Fprintln(p.DebugW)
}

func timestampParts(match []string) (sec int64, usec int64, ok bool) {
	sec, err1 := strconv.ParseInt(match[matchTimestampInt], 10, 64)
	usec, err2 := strconv.ParseInt(match[matchTimestampFrac], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return sec, usec, true
}
