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
// Package main runs the offline trace analysis pipeline: parse the trace,
// mark validity, rebuild time pairs, analyze scheduling, aggregate stacks,
// and write the report files.  Every failure is reported and skipped; the
// run always produces whatever output is derivable.
package main

import (
	"fmt"
	"io"
	"os"

	"flag"
	log "github.com/golang/glog"

	"github.com/google/da-tool/analysis"
	"github.com/google/da-tool/config"
	"github.com/google/da-tool/output"
	"github.com/google/da-tool/server"
	"github.com/google/da-tool/traceparser"
)

var (
	beginLine  = flag.Int("b", 0, "The first 1-based trace line to read.")
	lineLimit  = flag.Int("l", 0, "How many trace lines to read; 0 reads all.")
	debugLevel = flag.Int("g", 0, "Debug verbosity, 0 to 4.")
	serve      = flag.Bool("serve", false, "Serve the results over HTTP after the analysis completes.")
	port       = flag.Int("port", 7411, "The results server HTTP port.")
)

// withOutputFile opens path for writing and hands it to write.  A path that
// cannot be opened is reported on stdout and skipped.
func withOutputFile(path string, write func(w io.Writer)) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Println("file open failed:" + path)
		return
	}
	defer f.Close()
	write(f)
}

func main() {
	flag.Parse()
	for _, arg := range flag.Args() {
		fmt.Println("Non option parameters: " + arg)
	}

	fmt.Println("analysis start...")
	cfg := config.New()
	cfg.ReadTraceBegin = *beginLine
	cfg.ReadTraceLen = *lineLimit
	if *debugLevel != 0 {
		cfg.SetDebugLevel(*debugLevel)
	}
	if err := cfg.LoadFunctions(cfg.Paths.FuncConfig); err != nil {
		log.Errorf("loading analysis config: %v", err)
	}
	if cfg.Debug >= config.DebugLevel1 {
		withOutputFile(cfg.Paths.DebugConfig, func(w io.Writer) {
			output.WriteConfigDebug(w, cfg)
		})
	}

	fmt.Println("analysis resolve...")
	parser := &traceparser.Parser{BeginLine: cfg.ReadTraceBegin, LineLimit: cfg.ReadTraceLen}
	var regexDebug *os.File
	if cfg.Debug >= config.DebugLevel3 {
		f, err := os.Create(cfg.Paths.DebugRegex)
		if err != nil {
			fmt.Println("file open failed:" + cfg.Paths.DebugRegex)
		} else {
			regexDebug = f
			parser.DebugW = f
		}
	}
	res, err := parser.ParseFile(cfg.Paths.Trace)
	if err != nil {
		log.Errorf("trace parse: %v", err)
	}
	if regexDebug != nil {
		regexDebug.Close()
	}

	analysis.MarkValidity(cfg, res.Events)

	tp := analysis.NewTimePair(cfg)
	tp.Analyze(res.Events)
	withOutputFile(cfg.Paths.OutputDelay, func(w io.Writer) {
		output.WriteSummaryDelay(w, cfg, tp)
	})
	if cfg.Debug >= config.DebugLevel1 {
		withOutputFile(cfg.Paths.DebugTimePairMark, func(w io.Writer) {
			output.WriteTimePairMark(w, tp)
		})
	}
	if cfg.Debug >= config.DebugLevel3 {
		withOutputFile(cfg.Paths.DebugTrace, func(w io.Writer) {
			output.WriteTraceDebug(w, res)
		})
		withOutputFile(cfg.Paths.DebugTimePairAlign, func(w io.Writer) {
			output.WriteTimePairAlign(w, tp)
		})
		withOutputFile(cfg.Paths.DebugTimePair, func(w io.Writer) {
			output.WriteTimePair(w, cfg, tp)
		})
	}

	sa := analysis.NewSchedAnalysis(cfg)
	sa.Analyze(res.Events)
	withOutputFile(cfg.Paths.OutputSched, func(w io.Writer) {
		output.WriteProcessSchedInfo(w, sa, res.Seconds)
	})
	withOutputFile(cfg.Paths.OutputSchedSummary, func(w io.Writer) {
		output.WriteSchedSummary(w, sa)
	})

	fs := analysis.NewFunctionStack(cfg, tp)
	fs.Analyze()
	output.RenderTree(os.Stdout, cfg, fs)
	withOutputFile(cfg.Paths.OutputStack, func(w io.Writer) {
		output.WriteFuncDelayStack(w, cfg, fs)
	})

	fmt.Println("analysis finish")

	if *serve {
		srv, err := server.New(cfg, res, tp, sa, fs)
		if err != nil {
			log.Exitf("building results server: %v", err)
		}
		if err := srv.Prerender(); err != nil {
			log.Errorf("prerendering results: %v", err)
		}
		if err := srv.ListenAndServe(*port); err != nil {
			log.Exitf("results server: %v", err)
		}
	}
}
