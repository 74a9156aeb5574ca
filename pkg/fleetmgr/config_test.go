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

package fleetmgr

import (
	"testing"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		MinCount:     2,
		MaxCount:     10,
		DesiredCount: 5,
		Version:      "v1",
		Pools: map[fleet.PoolID]PoolConfig{
			fleet.OnDemand: {Weight: 1, Base: 1},
			fleet.Spot:     {Weight: 4},
		},
	}
}

func TestNormalizeFillsEveryDefault(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize()

	assert.Equal(t, 60.0, cfg.Scaling.CPUScaleTarget)
	assert.Equal(t, 70.0, cfg.Scaling.MemScaleTarget)
	assert.Equal(t, "average", cfg.Scaling.Statistic)
	assert.Equal(t, 1, cfg.Scaling.Step)
	assert.Equal(t, 3*time.Minute, cfg.Scaling.EvaluationWindow)
	assert.Equal(t, 15*time.Minute, cfg.Scaling.ScaleInWindow)
	assert.Equal(t, 60*time.Second, cfg.Scaling.ScaleOutCooldown)
	assert.Equal(t, 300*time.Second, cfg.Scaling.ScaleInCooldown)
	assert.Equal(t, 60*time.Second, cfg.Sampler.Period)
	assert.Equal(t, uint32(128), cfg.Sampler.QueueSize)
	assert.Equal(t, 1, cfg.Deployment.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Deployment.HealthCheckGracePeriod)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.Scaling.CPUScaleTarget = 50
	cfg.Sampler.Period = 30 * time.Second
	cfg.Normalize()

	assert.Equal(t, 50.0, cfg.Scaling.CPUScaleTarget)
	assert.Equal(t, 30*time.Second, cfg.Sampler.Period)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize()
	assert.NoError(t, cfg.Validate())

	bad := validConfig()
	bad.MaxCount = 1
	bad.Normalize()
	assert.Error(t, bad.Validate())

	bad = validConfig()
	bad.DesiredCount = 11
	bad.Normalize()
	assert.Error(t, bad.Validate())
}

func TestValidateRequiresGuaranteedPool(t *testing.T) {
	cfg := validConfig()
	delete(cfg.Pools, fleet.OnDemand)
	cfg.Normalize()
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadStatistic(t *testing.T) {
	cfg := validConfig()
	cfg.Scaling.Statistic = "median"
	cfg.Normalize()
	assert.Error(t, cfg.Validate())

	cfg.Scaling.Statistic = "p99"
	assert.NoError(t, cfg.Validate())
}

func TestPoolTableGuaranteedFirst(t *testing.T) {
	cfg := validConfig()
	table := cfg.PoolTable()

	assert.Len(t, table, 2)
	assert.Equal(t, fleet.OnDemand, table[0].ID)
	assert.Equal(t, 1, table[0].Base)
	assert.Equal(t, fleet.Spot, table[1].ID)
	assert.Equal(t, 4, table[1].Weight)
}
