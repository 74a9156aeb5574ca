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

package orchestrator

import "github.com/uber-go/tally"

// Metrics is the set of counters tracking deployment outcomes.
type metrics struct {
	deploymentsStarted   tally.Counter
	deploymentsSucceeded tally.Counter
	deploymentsCancelled tally.Counter
	plansRejected        tally.Counter
	startConflicts       tally.Counter
	batchTimeouts        tally.Counter
	instancesReplaced    tally.Counter
	instancesReverted    tally.Counter
	rollbacksStarted     tally.Counter
	rollbacksSucceeded   tally.Counter
	rollbacksFailed      tally.Counter

	deploymentDuration tally.Timer
}

func newMetrics(scope tally.Scope) *metrics {
	successScope := scope.Tagged(map[string]string{"result": "success"})
	failScope := scope.Tagged(map[string]string{"result": "fail"})

	return &metrics{
		deploymentsStarted:   scope.Counter("deployments_started"),
		deploymentsSucceeded: successScope.Counter("deployments_finished"),
		deploymentsCancelled: scope.Counter("deployments_cancelled"),
		plansRejected:        scope.Counter("plans_rejected"),
		startConflicts:       scope.Counter("start_conflicts"),
		batchTimeouts:        scope.Counter("batch_timeouts"),
		instancesReplaced:    scope.Counter("instances_replaced"),
		instancesReverted:    scope.Counter("instances_reverted"),
		rollbacksStarted:     scope.Counter("rollbacks_started"),
		rollbacksSucceeded:   successScope.Counter("rollbacks_finished"),
		rollbacksFailed:      failScope.Counter("rollbacks_finished"),

		deploymentDuration: scope.Timer("deployment_duration"),
	}
}
