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
// Package server serves a completed analysis run over HTTP.  It exposes the
// same artifacts the batch pipeline writes to disk, plus a time-range query
// over the classified scheduling intervals.  The pipeline itself stays
// single-threaded; only report rendering fans out.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/simplelru"
	"golang.org/x/sync/errgroup"

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
	"github.com/google/da-tool/output"
	trace "github.com/google/da-tool/tracedata"
	"github.com/google/da-tool/traceparser"
)

// renderCacheSize bounds the number of rendered artifacts kept in memory.
const renderCacheSize = 16

// artifactNames are the servable render targets, mirroring the on-disk
// output files plus the stdout tree.
var artifactNames = []string{
	"summary_delay.csv",
	"func_delay_stack",
	"process_sched_info",
	"summary_sched.csv",
	"tree",
}

// Server renders and serves the artifacts of one analysis run.
type Server struct {
	cfg *config.Config
	res *traceparser.Result
	tp  *analysis.TimePair
	sa  *analysis.SchedAnalysis
	fs  *analysis.FunctionStack

	// runID names this run in response headers so a collector scraping
	// several da-tool hosts can tell snapshots apart.
	runID  uuid.UUID
	router *mux.Router

	mu    sync.Mutex
	cache *simplelru.LRU
}

// New builds a Server over the completed pipeline stages.
func New(cfg *config.Config, res *traceparser.Result, tp *analysis.TimePair, sa *analysis.SchedAnalysis, fs *analysis.FunctionStack) (*Server, error) {
	cache, err := simplelru.NewLRU(renderCacheSize, nil)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:   cfg,
		res:   res,
		tp:    tp,
		sa:    sa,
		fs:    fs,
		runID: uuid.New(),
		cache: cache,
	}
	r := mux.NewRouter()
	for _, name := range artifactNames {
		r.HandleFunc("/"+name, s.newArtifactHandler(name))
	}
	r.HandleFunc("/sched_intervals", s.handleSchedIntervals)
	s.router = r
	return s, nil
}

// Prerender renders every artifact concurrently so the first requests are
// served from cache.
func (s *Server) Prerender() error {
	var g errgroup.Group
	for _, name := range artifactNames {
		name := name
		g.Go(func() error {
			_, err := s.artifact(name)
			return err
		})
	}
	return g.Wait()
}

// ListenAndServe serves until the listener fails.
func (s *Server) ListenAndServe(port int) error {
	log.Infof("results server listening on port %d, run %s", port, s.runID)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), s.router)
}

// artifact returns the rendered artifact, from cache when possible.
func (s *Server) artifact(name string) (string, error) {
	s.mu.Lock()
	cached, ok := s.cache.Get(name)
	s.mu.Unlock()
	if ok {
		return cached.(string), nil
	}
	// Rendering only reads the finished pipeline state, so it runs outside
	// the cache lock.
	var buf bytes.Buffer
	switch name {
	case "summary_delay.csv":
		output.WriteSummaryDelay(&buf, s.cfg, s.tp)
	case "func_delay_stack":
		output.WriteFuncDelayStack(&buf, s.cfg, s.fs)
	case "process_sched_info":
		output.WriteProcessSchedInfo(&buf, s.sa, s.res.Seconds)
	case "summary_sched.csv":
		output.WriteSchedSummary(&buf, s.sa)
	case "tree":
		output.RenderTree(&buf, s.cfg, s.fs)
	default:
		return "", fmt.Errorf("unknown artifact %q", name)
	}
	rendered := buf.String()
	s.mu.Lock()
	s.cache.Add(name, rendered)
	s.mu.Unlock()
	return rendered, nil
}

func (s *Server) newArtifactHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rendered, err := s.artifact(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Da-Tool-Run", s.runID.String())
		fmt.Fprint(w, rendered)
	}
}

// schedIntervalsResponse is the JSON shape of a sched_intervals query.
type schedIntervalsResponse struct {
	PID       int                     `json:"pid"`
	Intervals []analysis.CoreInterval `json:"intervals"`
}

// handleSchedIntervals serves the core intervals of one PID overlapping
// [start_ts, end_ts] (microseconds past the trace base second).
func (s *Server) handleSchedIntervals(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	pid, err := strconv.Atoi(q.Get("pid"))
	if err != nil {
		http.Error(w, "bad or missing pid", http.StatusBadRequest)
		return
	}
	startTS, err := strconv.ParseInt(q.Get("start_ts"), 10, 32)
	if err != nil {
		http.Error(w, "bad or missing start_ts", http.StatusBadRequest)
		return
	}
	endTS, err := strconv.ParseInt(q.Get("end_ts"), 10, 32)
	if err != nil {
		http.Error(w, "bad or missing end_ts", http.StatusBadRequest)
		return
	}
	resp := &schedIntervalsResponse{
		PID:       pid,
		Intervals: s.sa.IntervalsInRange(pid, trace.Timestamp(startTS), trace.Timestamp(endTS)),
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Da-Tool-Run", s.runID.String())
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Errorf("encoding sched_intervals response: %v", err)
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
