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

import (
	"fmt"
	"time"
)

// InvalidPlanError rejects a deployment plan before any mutation.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid deployment plan: %s", e.Reason)
}

// DeploymentInProgressError is returned when a deployment is requested
// while another one is active. There is no queueing; the caller retries
// later.
type DeploymentInProgressError struct {
	ActiveID string
}

func (e *DeploymentInProgressError) Error() string {
	return fmt.Sprintf("deployment %s already in progress", e.ActiveID)
}

// BatchHealthTimeoutError is recorded when a batch does not become
// healthy within its grace period.
type BatchHealthTimeoutError struct {
	Batch   int
	Elapsed time.Duration
}

func (e *BatchHealthTimeoutError) Error() string {
	return fmt.Sprintf(
		"batch %d did not become healthy within %s", e.Batch, e.Elapsed)
}

// RollbackFailedError is the one fatal outcome: rollback exhausted its
// retry budget and the fleet needs manual intervention.
type RollbackFailedError struct {
	Attempts int
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback failed after %d attempts", e.Attempts)
}
