// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package planner

import "github.com/uber-go/tally"

// metrics tracks planner decision counters.
type metrics struct {
	scaleOutDecisions    tally.Counter
	scaleInDecisions     tally.Counter
	holdDecisions        tally.Counter
	cooldownSuppressed   tally.Counter
	conflictingDecisions tally.Counter
	emptyWindow          tally.Counter
}

func newMetrics(scope tally.Scope) *metrics {
	return &metrics{
		scaleOutDecisions:    scope.Counter("scale_out_decisions"),
		scaleInDecisions:     scope.Counter("scale_in_decisions"),
		holdDecisions:        scope.Counter("hold_decisions"),
		cooldownSuppressed:   scope.Counter("cooldown_suppressed"),
		conflictingDecisions: scope.Counter("conflicting_decisions"),
		emptyWindow:          scope.Counter("empty_window"),
	}
}
