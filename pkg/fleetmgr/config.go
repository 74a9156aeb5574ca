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

// Package fleetmgr wires the fleet capacity controller: sampler,
// planner, allocator, health gate, deployment orchestrator and the
// reconciliation loop, plus the HTTP ops surface.
package fleetmgr

import (
	"sort"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
	"github.com/fleetop/fleetop/pkg/fleetmgr/orchestrator"
	"github.com/fleetop/fleetop/pkg/fleetmgr/planner"
	"github.com/fleetop/fleetop/pkg/fleetmgr/reconciler"

	"github.com/pkg/errors"
)

const (
	_defaultCPUScaleTarget   = 60.0
	_defaultMemScaleTarget   = 70.0
	_defaultScaleStep        = 1
	_defaultScaleOutCooldown = 60 * time.Second
	_defaultScaleInCooldown  = 300 * time.Second
	_defaultEvaluationWindow = 3 * time.Minute
	_defaultScaleInWindow    = 15 * time.Minute
	_defaultSamplePeriod     = 60 * time.Second
	_defaultSampleQueueSize  = 128
	_defaultBatchSize        = 1
)

// PoolConfig is the static placement configuration of one pool.
type PoolConfig struct {
	// Weight is the pool's share of the weighted split.
	Weight int `yaml:"weight"`
	// Base is the minimum count reserved for the pool.
	Base int `yaml:"base"`
}

// ScalingConfig configures the capacity planner.
type ScalingConfig struct {
	CPUScaleTarget   float64       `yaml:"cpu_scale_target"`
	MemScaleTarget   float64       `yaml:"mem_scale_target"`
	Statistic        string        `yaml:"statistic"`
	Step             int           `yaml:"step"`
	EvaluationWindow time.Duration `yaml:"evaluation_window"`
	ScaleInWindow    time.Duration `yaml:"scale_in_window"`
	ScaleOutCooldown time.Duration `yaml:"scale_out_cooldown"`
	ScaleInCooldown  time.Duration `yaml:"scale_in_cooldown"`
}

// SamplerConfig configures utilization collection.
type SamplerConfig struct {
	Period    time.Duration `yaml:"period"`
	QueueSize uint32        `yaml:"queue_size"`
}

// DeploymentConfig holds the per-deployment defaults applied when a
// plan leaves them unset.
type DeploymentConfig struct {
	BatchSize              int           `yaml:"batch_size"`
	HealthCheckGracePeriod time.Duration `yaml:"health_check_grace_period"`
	RollbackOnFailure      bool          `yaml:"rollback_on_failure"`
}

// Config is the top-level fleet manager configuration.
type Config struct {
	// MinCount and MaxCount bound the desired count.
	MinCount int `yaml:"min_count" validate:"min=0"`
	MaxCount int `yaml:"max_count"`
	// DesiredCount is the initial desired count at startup.
	DesiredCount int `yaml:"desired_count"`
	// Version is the fleet version assumed current at startup.
	Version string `yaml:"version"`

	// Pools maps pool names to their placement config. The on-demand
	// pool must be present.
	Pools map[fleet.PoolID]PoolConfig `yaml:"pools"`

	Scaling    ScalingConfig       `yaml:"scaling"`
	Sampler    SamplerConfig       `yaml:"sampler"`
	Deployment DeploymentConfig    `yaml:"deployment"`
	Orchestra  orchestrator.Config `yaml:"orchestrator"`
	Reconciler reconciler.Config   `yaml:"reconciler"`
}

// Normalize fills defaults for everything the config files left unset.
func (c *Config) Normalize() {
	if c.MaxCount == 0 {
		c.MaxCount = c.MinCount
	}
	if c.Scaling.CPUScaleTarget == 0 {
		c.Scaling.CPUScaleTarget = _defaultCPUScaleTarget
	}
	if c.Scaling.MemScaleTarget == 0 {
		c.Scaling.MemScaleTarget = _defaultMemScaleTarget
	}
	if c.Scaling.Statistic == "" {
		c.Scaling.Statistic = "average"
	}
	if c.Scaling.Step == 0 {
		c.Scaling.Step = _defaultScaleStep
	}
	if c.Scaling.EvaluationWindow == 0 {
		c.Scaling.EvaluationWindow = _defaultEvaluationWindow
	}
	if c.Scaling.ScaleInWindow == 0 {
		c.Scaling.ScaleInWindow = _defaultScaleInWindow
	}
	if c.Scaling.ScaleOutCooldown == 0 {
		c.Scaling.ScaleOutCooldown = _defaultScaleOutCooldown
	}
	if c.Scaling.ScaleInCooldown == 0 {
		c.Scaling.ScaleInCooldown = _defaultScaleInCooldown
	}
	if c.Sampler.Period == 0 {
		c.Sampler.Period = _defaultSamplePeriod
	}
	if c.Sampler.QueueSize == 0 {
		c.Sampler.QueueSize = _defaultSampleQueueSize
	}
	if c.Deployment.BatchSize == 0 {
		c.Deployment.BatchSize = _defaultBatchSize
	}
	if c.Deployment.HealthCheckGracePeriod == 0 {
		c.Deployment.HealthCheckGracePeriod = orchestrator.DefaultHealthCheckGracePeriod
	}
}

// Validate checks the cross-field constraints that yaml tags cannot
// express.
func (c *Config) Validate() error {
	if c.MinCount < 0 {
		return errors.Errorf("min_count %d must not be negative", c.MinCount)
	}
	if c.MaxCount < c.MinCount {
		return errors.Errorf(
			"max_count %d below min_count %d", c.MaxCount, c.MinCount)
	}
	if c.DesiredCount < c.MinCount || c.DesiredCount > c.MaxCount {
		return errors.Errorf(
			"desired_count %d outside [%d, %d]",
			c.DesiredCount, c.MinCount, c.MaxCount)
	}
	if _, ok := c.Pools[fleet.OnDemand]; !ok {
		return errors.Errorf("pool %q must be configured", fleet.OnDemand)
	}
	for id, p := range c.Pools {
		if p.Weight < 0 || p.Base < 0 {
			return errors.Errorf(
				"pool %s has negative weight or base", id)
		}
	}
	stat := planner.Statistic(c.Scaling.Statistic)
	if err := stat.Validate(); err != nil {
		return err
	}
	return nil
}

// PoolTable materializes the configured pools into initial pool states,
// guaranteed pool first.
func (c *Config) PoolTable() []*fleet.PoolState {
	pools := make([]*fleet.PoolState, 0, len(c.Pools))
	for id, p := range c.Pools {
		pools = append(pools, &fleet.PoolState{
			ID:     id,
			Weight: p.Weight,
			Base:   p.Base,
		})
	}
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].ID == fleet.OnDemand {
			return true
		}
		if pools[j].ID == fleet.OnDemand {
			return false
		}
		return pools[i].ID < pools[j].ID
	})
	return pools
}
