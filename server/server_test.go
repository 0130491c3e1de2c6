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
package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
	trace "github.com/google/da-tool/tracedata"
	"github.com/google/da-tool/traceparser"
)

const serverTestTrace = `            bash-7  [000] d... 100.000000: funcA: (funcA+0x0) arg1=0x0
            bash-7  [000] d... 100.000005: funcA__return: (funcA+0x0 <- caller) arg1=0x3
            bash-7  [000] d... 100.000010: sched_switch: prev_comm=bash prev_pid=7 prev_prio=120 prev_state=S ==> next_comm=other next_pid=9 next_prio=120
           other-9  [000] d... 100.000020: sched_switch: prev_comm=other prev_pid=9 prev_prio=120 prev_state=R ==> next_comm=bash next_pid=7 next_prio=120
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.New()
	cfg.Funcs["funcA"] = config.FuncConfig{Type: config.Kernel, FunctionIndex: 1}
	cfg.Funcs["funcA__return"] = config.FuncConfig{Type: config.Kernel, IsRet: true, FunctionIndex: 1}
	cfg.Funcs["sched_switch"] = config.FuncConfig{Type: config.Sched, FunctionIndex: 2}
	cfg.IndexToFunc[1] = "funcA"
	cfg.IndexToFunc[2] = "sched_switch"

	p := &traceparser.Parser{}
	res := p.Parse(strings.NewReader(serverTestTrace))
	analysis.MarkValidity(cfg, res.Events)
	tp := analysis.NewTimePair(cfg)
	tp.Analyze(res.Events)
	sa := analysis.NewSchedAnalysis(cfg)
	sa.Analyze(res.Events)
	fs := analysis.NewFunctionStack(cfg, tp)
	fs.Analyze()

	s, err := New(cfg, res, tp, sa, fs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestServeArtifacts(t *testing.T) {
	s := newTestServer(t)
	if err := s.Prerender(); err != nil {
		t.Fatalf("Prerender: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/summary_delay.csv", "pid,function,call_times"},
		{"/func_delay_stack", "pid_7"},
		{"/process_sched_info", "coreTraceType"},
		{"/summary_sched.csv", "validSchedSwitchPercentage"},
		{"/tree", "pid: 7"},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, test.path, nil)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("GET %s = %d; want 200", test.path, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), test.want) {
				t.Errorf("GET %s body lacks %q:\n%s", test.path, test.want, rec.Body.String())
			}
			if rec.Header().Get("X-Da-Tool-Run") == "" {
				t.Errorf("GET %s has no run header", test.path)
			}
		})
	}
}

func TestSchedIntervalsQuery(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sched_intervals?pid=7&start_ts=0&end_ts=1000", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sched_intervals = %d; want 200", rec.Code)
	}
	var resp struct {
		PID       int                     `json:"pid"`
		Intervals []analysis.CoreInterval `json:"intervals"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.PID != 7 {
		t.Errorf("response pid = %d; want 7", resp.PID)
	}
	if len(resp.Intervals) != 1 {
		t.Fatalf("got %d intervals; want 1", len(resp.Intervals))
	}
	if resp.Intervals[0].Type != analysis.CoreTraceScheduling {
		t.Errorf("interval type = %v; want scheduling", resp.Intervals[0].Type)
	}
}

func TestSchedIntervalsBadRequest(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/sched_intervals",
		"/sched_intervals?pid=x&start_ts=0&end_ts=10",
		"/sched_intervals?pid=7&start_ts=0",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d; want 400", path, rec.Code)
		}
	}
}
