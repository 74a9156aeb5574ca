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

// Package sim is an in-process compute provider and routing layer used
// for local runs and integration-style tests. Pools converge instantly
// and every target reports healthy.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"
	"github.com/fleetop/fleetop/pkg/fleetmgr/sampler"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Fleet simulates the compute provider, routing layer and utilization
// source of one fleet.
type Fleet struct {
	sync.Mutex

	version    string
	instances  map[provider.InstanceID]*provider.Instance
	registered map[provider.InstanceID]bool
	byPool     map[fleet.PoolID][]provider.InstanceID

	// loadPerInstance drives the synthetic utilization: total load
	// spread over the running instances.
	loadPerInstance float64
	totalLoad       float64
}

// New creates an empty simulated fleet at the given version.
func New(version string) *Fleet {
	return &Fleet{
		version:    version,
		instances:  make(map[provider.InstanceID]*provider.Instance),
		registered: make(map[provider.InstanceID]bool),
		byPool:     make(map[fleet.PoolID][]provider.InstanceID),
		totalLoad:  100,
	}
}

// SetTotalLoad adjusts the synthetic load driving the utilization
// samples.
func (f *Fleet) SetTotalLoad(load float64) {
	f.Lock()
	defer f.Unlock()
	f.totalLoad = load
}

// SetPoolCount converges the pool to the given count immediately.
func (f *Fleet) SetPoolCount(
	ctx context.Context,
	pool fleet.PoolID,
	count int) error {
	if count < 0 {
		return errors.Errorf("negative count %d for pool %s", count, pool)
	}
	f.Lock()
	defer f.Unlock()

	ids := f.byPool[pool]
	for len(ids) < count {
		id := f.launch(pool, f.version)
		ids = append(ids, id)
	}
	for len(ids) > count {
		last := ids[len(ids)-1]
		ids = ids[:len(ids)-1]
		delete(f.instances, last)
		delete(f.registered, last)
	}
	f.byPool[pool] = ids

	log.WithFields(log.Fields{
		"pool":  pool,
		"count": count,
	}).Debug("Simulated pool converged")
	return nil
}

// PoolStatus reports the per-pool counts. Simulated instances are
// always running, never pending.
func (f *Fleet) PoolStatus(
	ctx context.Context) (map[fleet.PoolID]provider.PoolStatus, error) {
	f.Lock()
	defer f.Unlock()

	status := make(map[fleet.PoolID]provider.PoolStatus, len(f.byPool))
	for pool, ids := range f.byPool {
		status[pool] = provider.PoolStatus{Running: len(ids)}
	}
	return status, nil
}

// ListInstances returns the simulated units in launch order per pool.
func (f *Fleet) ListInstances(
	ctx context.Context) ([]*provider.Instance, error) {
	f.Lock()
	defer f.Unlock()

	var out []*provider.Instance
	for _, ids := range f.byPool {
		for _, id := range ids {
			inst := *f.instances[id]
			out = append(out, &inst)
		}
	}
	return out, nil
}

// ReplaceInstance swaps the unit for one at the given version in the
// same pool.
func (f *Fleet) ReplaceInstance(
	ctx context.Context,
	id provider.InstanceID,
	version string,
	secrets []provider.SecretRef) (provider.InstanceID, error) {
	f.Lock()
	defer f.Unlock()

	old, ok := f.instances[id]
	if !ok {
		return "", errors.Errorf("instance %s not found", id)
	}
	pool := old.Pool

	newID := f.launch(pool, version)
	ids := f.byPool[pool]
	for i, cur := range ids {
		if cur == id {
			ids[i] = newID
			break
		}
	}
	// Drop the extra slot the launch appended.
	f.byPool[pool] = ids[:len(ids)-1]
	delete(f.instances, id)
	delete(f.registered, id)
	return newID, nil
}

// launch creates one instance; caller holds the lock.
func (f *Fleet) launch(pool fleet.PoolID, version string) provider.InstanceID {
	id := provider.InstanceID(uuid.New())
	f.instances[id] = &provider.Instance{
		ID:        id,
		Pool:      pool,
		Version:   version,
		StartedAt: time.Now(),
	}
	f.byPool[pool] = append(f.byPool[pool], id)
	return id
}

// Register marks the unit as routed.
func (f *Fleet) Register(ctx context.Context, id provider.InstanceID) error {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.instances[id]; !ok {
		return errors.Errorf("instance %s not found", id)
	}
	f.registered[id] = true
	return nil
}

// Deregister removes the unit from routing.
func (f *Fleet) Deregister(ctx context.Context, id provider.InstanceID) error {
	f.Lock()
	defer f.Unlock()
	delete(f.registered, id)
	return nil
}

// Health reports passing for every registered unit.
func (f *Fleet) Health(
	ctx context.Context,
	id provider.InstanceID) (provider.TargetHealth, error) {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.instances[id]; !ok {
		return provider.TargetHealthUnknown,
			errors.Errorf("instance %s not found", id)
	}
	if f.registered[id] {
		return provider.TargetHealthPassing, nil
	}
	return provider.TargetHealthUnknown, nil
}

// Collect derives a utilization sample from the synthetic load.
func (f *Fleet) Collect(ctx context.Context) (*sampler.Sample, error) {
	f.Lock()
	defer f.Unlock()

	count := len(f.instances)
	if count == 0 {
		return &sampler.Sample{Timestamp: time.Now(), NoData: true}, nil
	}
	util := math.Min(100, f.totalLoad/float64(count))
	return &sampler.Sample{
		Timestamp:   time.Now(),
		CPUPct:      util,
		MemPct:      util * 0.8,
		RequestRate: f.totalLoad * 10,
	}, nil
}
