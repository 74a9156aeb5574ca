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

package reconciler

import "github.com/uber-go/tally"

type metrics struct {
	reconcileRuns     tally.Counter
	samplesConsumed   tally.Counter
	scaleOuts         tally.Counter
	scaleIns          tally.Counter
	decisionsDeferred tally.Counter
	decisionsReleased tally.Counter
	emptyEvaluations  tally.Counter
	allocationErrors  tally.Counter
	providerErrors    tally.Counter
	poolUpdates       tally.Counter

	reconcileDuration tally.Timer
}

func newMetrics(scope tally.Scope) *metrics {
	return &metrics{
		reconcileRuns:     scope.Counter("runs"),
		samplesConsumed:   scope.Counter("samples_consumed"),
		scaleOuts:         scope.Counter("scale_outs"),
		scaleIns:          scope.Counter("scale_ins"),
		decisionsDeferred: scope.Counter("decisions_deferred"),
		decisionsReleased: scope.Counter("decisions_released"),
		emptyEvaluations:  scope.Counter("empty_evaluations"),
		allocationErrors:  scope.Counter("allocation_errors"),
		providerErrors:    scope.Counter("provider_errors"),
		poolUpdates:       scope.Counter("pool_updates"),

		reconcileDuration: scope.Timer("run_duration"),
	}
}
