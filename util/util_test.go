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
package util

import (
	"testing"
	"time"
)

func TestLogEveryNTimeSuppressesRepeats(t *testing.T) {
	var count int
	emit := func(args ...interface{}) { count++ }

	logEveryNTime(time.Hour, "same message", emit)
	logEveryNTime(time.Hour, "same message", emit)
	logEveryNTime(time.Hour, "same message", emit)
	if count != 1 {
		t.Errorf("emitted %d times within the period; want 1", count)
	}

	logEveryNTime(time.Hour, "different message", emit)
	if count != 2 {
		t.Errorf("distinct message suppressed; emitted %d times, want 2", count)
	}
}
