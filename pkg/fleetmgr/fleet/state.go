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

package fleet

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// PoolID identifies a capacity pool of the fleet.
type PoolID string

const (
	// Spot is the preemptible capacity pool.
	Spot PoolID = "spot"
	// OnDemand is the guaranteed capacity pool.
	OnDemand PoolID = "on-demand"
)

// PoolState holds the placement configuration and current count of one
// capacity pool.
type PoolState struct {
	// ID of the pool.
	ID PoolID `json:"id"`
	// Weight used for proportional distribution of capacity above the
	// bases.
	Weight int `json:"weight"`
	// Base is the guaranteed minimum count for this pool, satisfied
	// before any proportional distribution.
	Base int `json:"base"`
	// CurrentCount is the count currently assigned to this pool.
	CurrentCount int `json:"current_count"`
}

// State is the fleet state. It is exclusively owned by the reconciler
// loop of the fleet; everybody else reads it through Snapshot.
type State struct {
	// DesiredCount is the target number of compute units.
	DesiredCount int
	// RunningCount is the number of units currently running.
	RunningCount int
	// PendingCount is the number of units currently being brought up.
	PendingCount int
	// Version is the version the fleet currently converges to.
	Version string
	// Pools holds the per-pool placement state.
	Pools map[PoolID]*PoolState

	// MinCount and MaxCount bound DesiredCount.
	MinCount int
	MaxCount int

	// UpdatedAt is the time of the last mutation.
	UpdatedAt time.Time
}

// Snapshot is an immutable copy of the fleet state handed to readers
// outside the reconciler loop.
type Snapshot struct {
	DesiredCount int                   `json:"desired_count"`
	RunningCount int                   `json:"running_count"`
	PendingCount int                   `json:"pending_count"`
	Version      string                `json:"version"`
	Pools        map[PoolID]*PoolState `json:"pools"`
	MinCount     int                   `json:"min_count"`
	MaxCount     int                   `json:"max_count"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewState creates the fleet state with the given bounds and pool table.
func NewState(
	minCount int,
	maxCount int,
	desiredCount int,
	version string,
	pools []*PoolState) (*State, error) {
	if minCount < 0 || maxCount < minCount {
		return nil, errors.Errorf(
			"invalid count bounds [%d, %d]", minCount, maxCount)
	}
	if desiredCount < minCount || desiredCount > maxCount {
		return nil, errors.Errorf(
			"desired count %d outside bounds [%d, %d]",
			desiredCount, minCount, maxCount)
	}

	s := &State{
		DesiredCount: desiredCount,
		Version:      version,
		Pools:        make(map[PoolID]*PoolState),
		MinCount:     minCount,
		MaxCount:     maxCount,
		UpdatedAt:    time.Now(),
	}
	for _, p := range pools {
		if _, ok := s.Pools[p.ID]; ok {
			return nil, errors.Errorf("duplicate pool %s", p.ID)
		}
		pool := *p
		s.Pools[p.ID] = &pool
	}
	if _, ok := s.Pools[OnDemand]; !ok {
		return nil, errors.New("fleet must have a guaranteed pool")
	}
	return s, nil
}

// SetDesiredCount updates the desired count, clamped to the fleet bounds.
func (s *State) SetDesiredCount(count int) {
	if count < s.MinCount {
		count = s.MinCount
	}
	if count > s.MaxCount {
		count = s.MaxCount
	}
	s.DesiredCount = count
	s.UpdatedAt = time.Now()
}

// SetObservedCounts records the running and pending counts reported by
// the compute provider.
func (s *State) SetObservedCounts(running, pending int) {
	s.RunningCount = running
	s.PendingCount = pending
	s.UpdatedAt = time.Now()
}

// SetVersion records the version the fleet converged to after a
// finished deployment.
func (s *State) SetVersion(version string) {
	s.Version = version
	s.UpdatedAt = time.Now()
}

// ApplyPlacement assigns per-pool counts produced by the allocator.
func (s *State) ApplyPlacement(counts map[PoolID]int) error {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != s.DesiredCount {
		return errors.Errorf(
			"placement total %d does not match desired count %d",
			total, s.DesiredCount)
	}
	for id, c := range counts {
		pool, ok := s.Pools[id]
		if !ok {
			return errors.Errorf("placement for unknown pool %s", id)
		}
		pool.CurrentCount = c
	}
	s.UpdatedAt = time.Now()
	return nil
}

// Snapshot returns a deep copy of the state.
func (s *State) Snapshot() *Snapshot {
	pools := make(map[PoolID]*PoolState, len(s.Pools))
	for id, p := range s.Pools {
		pool := *p
		pools[id] = &pool
	}
	return &Snapshot{
		DesiredCount: s.DesiredCount,
		RunningCount: s.RunningCount,
		PendingCount: s.PendingCount,
		Version:      s.Version,
		Pools:        pools,
		MinCount:     s.MinCount,
		MaxCount:     s.MaxCount,
		UpdatedAt:    s.UpdatedAt,
	}
}

// PoolTable returns the pools ordered with the guaranteed pool first,
// which is the order bases are satisfied in.
func (s *State) PoolTable() []*PoolState {
	ordered := make([]*PoolState, 0, len(s.Pools))
	if p, ok := s.Pools[OnDemand]; ok {
		ordered = append(ordered, p)
	}
	rest := make([]*PoolState, 0, len(s.Pools))
	for id, p := range s.Pools {
		if id == OnDemand {
			continue
		}
		rest = append(rest, p)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })
	return append(ordered, rest...)
}
