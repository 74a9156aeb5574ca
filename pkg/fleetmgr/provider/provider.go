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

// Package provider defines the boundary interfaces to the external
// systems the controller drives. All of them are opaque control planes:
// the controller only issues desired state and reads back observed state.
package provider

import (
	"context"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
)

// InstanceID identifies a single compute unit.
type InstanceID string

// SecretRef names a secret to be resolved by the compute platform at
// unit startup. The controller passes references through and never
// reads secret values.
type SecretRef struct {
	// Name is the environment name the value is exposed under.
	Name string `yaml:"name" json:"name"`
	// ID is the identifier of the secret in the secret store.
	ID string `yaml:"id" json:"id"`
}

// Instance is a compute unit as reported by the compute provider.
type Instance struct {
	ID        InstanceID
	Pool      fleet.PoolID
	Version   string
	StartedAt time.Time
}

// PoolStatus is the asynchronous count report for one pool.
type PoolStatus struct {
	Running int
	Pending int
}

// Compute is the compute provisioning API. It accepts a desired count
// per pool and converges asynchronously.
type Compute interface {
	// SetPoolCount sets the desired number of units in the named pool.
	SetPoolCount(ctx context.Context, pool fleet.PoolID, count int) error

	// PoolStatus returns the current running and pending counts per pool.
	PoolStatus(ctx context.Context) (map[fleet.PoolID]PoolStatus, error)

	// ListInstances returns the units currently part of the fleet.
	ListInstances(ctx context.Context) ([]*Instance, error)

	// ReplaceInstance terminates the unit and brings up a replacement
	// with the given version and secret references, returning the new
	// unit's identifier.
	ReplaceInstance(
		ctx context.Context,
		id InstanceID,
		version string,
		secrets []SecretRef) (InstanceID, error)
}

// TargetHealth is the per-target health as reported by the routing layer.
type TargetHealth int

const (
	// TargetHealthUnknown means the target has not been probed yet.
	TargetHealthUnknown TargetHealth = iota
	// TargetHealthPassing means the last probe passed.
	TargetHealthPassing
	// TargetHealthFailing means the last probe failed.
	TargetHealthFailing
)

// TargetGroup is the load-balancing layer the compute units are
// registered against.
type TargetGroup interface {
	// Register adds a unit to the routing target.
	Register(ctx context.Context, id InstanceID) error

	// Deregister removes a unit from the routing target.
	Deregister(ctx context.Context, id InstanceID) error

	// Health returns the routing layer's view of one target.
	Health(ctx context.Context, id InstanceID) (TargetHealth, error)
}
