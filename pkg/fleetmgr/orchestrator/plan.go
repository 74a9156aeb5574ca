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
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"
)

const (
	// DefaultHealthCheckGracePeriod bounds how long a batch may take to
	// become healthy.
	DefaultHealthCheckGracePeriod = 5 * time.Minute
)

// Plan describes one requested rolling deployment. It exists from
// request until the deployment completes or rolls back.
type Plan struct {
	// TargetVersion is the version the fleet is rolled to.
	TargetVersion string `json:"target_version"`
	// BatchSize is the number of instances replaced together. A batch
	// size equal to the fleet size degenerates to an all-at-once
	// replacement.
	BatchSize int `json:"batch_size"`
	// HealthCheckGracePeriod is the per-batch health deadline.
	HealthCheckGracePeriod time.Duration `json:"health_check_grace_period"`
	// RollbackOnFailure controls whether a failed batch or an unhealthy
	// observation window triggers an automatic rollback.
	RollbackOnFailure bool `json:"rollback_on_failure"`
	// Secrets are passed through to the compute platform for the new
	// units. The controller never resolves them.
	Secrets []provider.SecretRef `json:"secrets,omitempty"`
}

// Validate rejects malformed plans before any mutation happens.
func (p *Plan) Validate() error {
	if p.TargetVersion == "" {
		return &InvalidPlanError{Reason: "target version is empty"}
	}
	if p.BatchSize < 1 {
		return &InvalidPlanError{Reason: "batch size must be at least 1"}
	}
	if p.HealthCheckGracePeriod < 0 {
		return &InvalidPlanError{Reason: "health check grace period is negative"}
	}
	return nil
}

// normalize fills plan defaults.
func (p *Plan) normalize() {
	if p.HealthCheckGracePeriod == 0 {
		p.HealthCheckGracePeriod = DefaultHealthCheckGracePeriod
	}
}

// makeBatches splits the instances into batches of the plan's size. The
// last batch may be short.
func (p *Plan) makeBatches(
	instances []provider.InstanceID) [][]provider.InstanceID {
	var batches [][]provider.InstanceID
	for start := 0; start < len(instances); start += p.BatchSize {
		end := start + p.BatchSize
		if end > len(instances) {
			end = len(instances)
		}
		batches = append(batches, instances[start:end])
	}
	return batches
}
