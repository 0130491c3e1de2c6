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
// Package util provides small shared helpers.
package util

import (
	"sync"
	"time"

	log "github.com/golang/glog"
)

var (
	logMu        sync.Mutex
	lastLogTimes = map[string]time.Time{}
)

// logEveryNTime invokes emit at most once per period for each distinct
// message, suppressing repeats in between.  Malformed trace lines tend to
// arrive in bursts; this keeps the log readable.
func logEveryNTime(period time.Duration, message string, emit func(args ...interface{})) {
	logMu.Lock()
	defer logMu.Unlock()
	now := time.Now()
	if last, ok := lastLogTimes[message]; ok && now.Sub(last) < period {
		return
	}
	lastLogTimes[message] = now
	emit(message)
}

// LogErrEveryNTime logs err at error level at most once per period.
func LogErrEveryNTime(period time.Duration, err error) {
	logEveryNTime(period, err.Error(), log.Error)
}

// LogWarnEveryNTime logs message at warning level at most once per period.
func LogWarnEveryNTime(period time.Duration, message string) {
	logEveryNTime(period, message, log.Warning)
}
