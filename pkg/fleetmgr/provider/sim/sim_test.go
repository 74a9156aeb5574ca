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

package sim

import (
	"context"
	"testing"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"

	"github.com/stretchr/testify/assert"
)

func TestSetPoolCountConverges(t *testing.T) {
	f := New("v1")
	ctx := context.Background()

	assert.NoError(t, f.SetPoolCount(ctx, fleet.Spot, 4))

	status, err := f.PoolStatus(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 4, status[fleet.Spot].Running)
	assert.Equal(t, 0, status[fleet.Spot].Pending)

	// Scale in removes from the tail.
	assert.NoError(t, f.SetPoolCount(ctx, fleet.Spot, 1))
	status, err = f.PoolStatus(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, status[fleet.Spot].Running)

	assert.Error(t, f.SetPoolCount(ctx, fleet.Spot, -1))
}

func TestListInstancesCarryVersion(t *testing.T) {
	f := New("v1")
	ctx := context.Background()

	assert.NoError(t, f.SetPoolCount(ctx, fleet.OnDemand, 2))

	instances, err := f.ListInstances(ctx)
	assert.NoError(t, err)
	assert.Len(t, instances, 2)
	for _, inst := range instances {
		assert.Equal(t, fleet.OnDemand, inst.Pool)
		assert.Equal(t, "v1", inst.Version)
		assert.NotEmpty(t, inst.ID)
	}
}

func TestReplaceInstanceKeepsPoolSize(t *testing.T) {
	f := New("v1")
	ctx := context.Background()

	assert.NoError(t, f.SetPoolCount(ctx, fleet.Spot, 3))
	instances, _ := f.ListInstances(ctx)
	old := instances[0]

	newID, err := f.ReplaceInstance(ctx, old.ID, "v2", nil)
	assert.NoError(t, err)
	assert.NotEqual(t, old.ID, newID)

	instances, _ = f.ListInstances(ctx)
	assert.Len(t, instances, 3)

	versions := map[string]int{}
	for _, inst := range instances {
		versions[inst.Version]++
		assert.NotEqual(t, old.ID, inst.ID)
	}
	assert.Equal(t, 1, versions["v2"])
	assert.Equal(t, 2, versions["v1"])

	_, err = f.ReplaceInstance(ctx, provider.InstanceID("missing"), "v2", nil)
	assert.Error(t, err)
}

func TestRoutingRegistration(t *testing.T) {
	f := New("v1")
	ctx := context.Background()

	assert.NoError(t, f.SetPoolCount(ctx, fleet.OnDemand, 1))
	instances, _ := f.ListInstances(ctx)
	id := instances[0].ID

	// Unregistered units are unknown to the router.
	h, err := f.Health(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, provider.TargetHealthUnknown, h)

	assert.NoError(t, f.Register(ctx, id))
	h, err = f.Health(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, provider.TargetHealthPassing, h)

	assert.NoError(t, f.Deregister(ctx, id))
	h, err = f.Health(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, provider.TargetHealthUnknown, h)

	_, err = f.Health(ctx, provider.InstanceID("missing"))
	assert.Error(t, err)
	assert.Error(t, f.Register(ctx, provider.InstanceID("missing")))
}

func TestCollectSpreadsLoad(t *testing.T) {
	f := New("v1")
	ctx := context.Background()

	s, err := f.Collect(ctx)
	assert.NoError(t, err)
	assert.True(t, s.NoData)

	assert.NoError(t, f.SetPoolCount(ctx, fleet.Spot, 2))
	f.SetTotalLoad(120)

	s, err = f.Collect(ctx)
	assert.NoError(t, err)
	assert.False(t, s.NoData)
	assert.Equal(t, 60.0, s.CPUPct)
	assert.Equal(t, 48.0, s.MemPct)

	// Utilization saturates at 100.
	f.SetTotalLoad(1000)
	s, err = f.Collect(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, s.CPUPct)
}
