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
// Package config reads the analysis configuration that drives the pipeline:
// which symbols are probed kernel/user functions, which symbol is the
// scheduling probe, and which PIDs the stack outputs are restricted to.
// Configuration problems are reported and skipped; they never abort the run.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/golang/glog"

	trace "github.com/google/da-tool/tracedata"
)

// RecordType tags one line of the analysis configuration file.
type RecordType int

const (
	// Kernel marks a probed kernel function ("k,<symbol>").
	Kernel RecordType = iota
	// User marks a probed user function ("u,<symbol>").
	User
	// Sched marks the scheduling probe ("s,<symbol>").
	Sched
	// FilterPID marks a PID filter entry ("p,<pid>").
	FilterPID
)

// DebugLevel gates the debug dump files under the output debug directory.
type DebugLevel int

// Debug verbosity steps.  Each level includes everything below it.
const (
	DebugLevel0 DebugLevel = iota
	DebugLevel1
	DebugLevel2
	DebugLevel3
	DebugLevel4
	debugLevelCount
)

// SchedSwitchSymbol is the conventional scheduling probe symbol.
const SchedSwitchSymbol = trace.SchedSwitchSymbol

// ReturnSuffix is appended to a probed symbol to form its exit twin.
const ReturnSuffix = "__return"

// FuncConfig describes one mapped symbol.  A probed function symbol S
// produces two entries sharing a FunctionIndex: S itself (IsRet=false) and
// S+ReturnSuffix (IsRet=true).  The scheduling probe has only the entry form.
type FuncConfig struct {
	Type RecordType
	// IsRet is true for the return twin of a probed function.
	IsRet bool
	// FunctionIndex is the symbol's positive identifier; 0 is reserved for
	// the notional root function.
	FunctionIndex int
}

// Paths collects the fixed input, output, and debug file locations.
type Paths struct {
	Trace              string
	FuncConfig         string
	OutputDelay        string
	OutputStack        string
	OutputSched        string
	OutputSchedSummary string

	DebugConfig        string
	DebugTimePairMark  string
	DebugTrace         string
	DebugRegex         string
	DebugTimePairAlign string
	DebugTimePair      string
}

// DefaultPaths returns the conventional /var/da-tool layout.
func DefaultPaths() Paths {
	const (
		pathInput       = "/var/da-tool/tmp/analysis_input"
		pathOutput      = "/var/da-tool/analysis_output/output"
		pathOutputDebug = "/var/da-tool/analysis_output/debug"
	)
	return Paths{
		Trace:              pathInput + "/trace",
		FuncConfig:         pathInput + "/analysis_config",
		OutputDelay:        pathOutput + "/summary_delay.csv",
		OutputStack:        pathOutput + "/func_delay_stack",
		OutputSched:        pathOutput + "/process_sched_info",
		OutputSchedSummary: pathOutput + "/summary_sched.csv",
		DebugConfig:        pathOutputDebug + "/debug_config_resolve",
		DebugTimePairMark:  pathOutputDebug + "/debug_time_pair_mark",
		DebugTrace:         pathOutputDebug + "/debug_trace",
		DebugRegex:         pathOutputDebug + "/debug_resolve_function_trace",
		DebugTimePairAlign: pathOutputDebug + "/debug_time_pair_align",
		DebugTimePair:      pathOutputDebug + "/debug_time_pair",
	}
}

// Config is the external contract the analysis core consumes.  It is built
// once before the pipeline runs and is read-only afterwards.
type Config struct {
	// Funcs maps every recognized symbol, including __return twins, to its
	// FuncConfig.
	Funcs map[string]FuncConfig
	// IndexToFunc maps a FunctionIndex back to the probed symbol name.
	IndexToFunc map[int]string
	// FilterPIDs restricts the stack outputs and the rendered tree when
	// non-empty.  Scheduling outputs ignore it.
	FilterPIDs map[int]bool

	// ReadTraceBegin is the first 1-based input line to consider.
	ReadTraceBegin int
	// ReadTraceLen caps the number of lines read; 0 reads everything.
	ReadTraceLen int

	Debug DebugLevel
	Paths Paths
}

// New returns an empty Config with the default path layout.
func New() *Config {
	return &Config{
		Funcs:       map[string]FuncConfig{},
		IndexToFunc: map[int]string{},
		FilterPIDs:  map[int]bool{},
		Paths:       DefaultPaths(),
	}
}

// SetDebugLevel applies a -g flag value, rejecting out-of-range levels.
func (c *Config) SetDebugLevel(level int) {
	if level < 0 || level >= int(debugLevelCount) {
		fmt.Println("debugLevel error")
		return
	}
	c.Debug = DebugLevel(level)
	fmt.Println("debugLevel :", level)
}

// LoadFunctions reads the analysis configuration file.  Unknown tags and
// duplicate filter PIDs are reported on stdout and skipped.
func (c *Config) LoadFunctions(path string) error {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("file open failed:" + path)
		return err
	}
	defer f.Close()

	functionIndex := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		tag := fields[0]
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		switch tag {
		case "k", "u", "s":
			recordType := Kernel
			switch tag {
			case "u":
				recordType = User
			case "s":
				recordType = Sched
			}
			// FunctionIndex starts at 1; 0 means the root function.
			functionIndex++
			c.Funcs[arg] = FuncConfig{Type: recordType, FunctionIndex: functionIndex}
			if recordType != Sched {
				c.Funcs[arg+ReturnSuffix] = FuncConfig{Type: recordType, IsRet: true, FunctionIndex: functionIndex}
			}
			c.IndexToFunc[functionIndex] = arg
		case "p":
			pid, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("function cfg error :pid=" + arg)
				continue
			}
			if c.FilterPIDs[pid] {
				fmt.Printf("pid %d Config duplicate\n", pid)
				continue
			}
			c.FilterPIDs[pid] = true
		default:
			fmt.Println("function cfg error :cfgType=" + tag)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("reading %s: %v", path, err)
		return err
	}
	return nil
}

// FilteredOut reports whether the stack outputs should omit pid.
func (c *Config) FilteredOut(pid int) bool {
	return len(c.FilterPIDs) != 0 && !c.FilterPIDs[pid]
}

// SchedSwitchIndex returns the FunctionIndex of the scheduling probe, or
// false when no scheduling probe is configured.  A missing probe is not an
// error; scheduling analysis is simply skipped.
func (c *Config) SchedSwitchIndex() (int, bool) {
	fc, ok := c.Funcs[SchedSwitchSymbol]
	if !ok {
		return 0, false
	}
	return fc.FunctionIndex, true
}
