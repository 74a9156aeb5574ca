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

// Package allocator splits a desired fleet count across capacity pools.
// Guaranteed bases act as per-pool floors; capacity is otherwise
// distributed proportionally to the pool weights.
package allocator

import (
	"sort"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Event is emitted for every pool whose assigned count changed.
type Event struct {
	Pool     fleet.PoolID
	Previous int
	Current  int
}

// Allocate computes the per-pool counts for the desired count over the
// given pool table. The table must be ordered with guaranteed pools
// first.
//
// When the desired count does not cover the bases, pools earlier in the
// table absorb the count first and the rest get zero. Otherwise the
// whole count is split proportionally to the weights with the bases as
// per-pool floors, using the largest-remainder method so the counts
// always add up exactly and rounding carries no systematic bias.
func Allocate(
	desiredCount int,
	table []*fleet.PoolState) (map[fleet.PoolID]int, error) {
	if desiredCount < 0 {
		return nil, errors.Errorf("negative desired count %d", desiredCount)
	}
	if len(table) == 0 {
		return nil, errors.New("empty pool table")
	}

	counts := make(map[fleet.PoolID]int, len(table))

	// Not enough capacity for the bases: fill them in priority order.
	totalBase := 0
	for _, p := range table {
		totalBase += p.Base
	}
	if desiredCount <= totalBase {
		remaining := desiredCount
		for _, p := range table {
			base := p.Base
			if base > remaining {
				base = remaining
			}
			counts[p.ID] = base
			remaining -= base
		}
		return counts, nil
	}

	// Split the whole count by weight, then pin any pool that fell
	// below its base and re-split the rest. Terminates because every
	// iteration pins at least one pool.
	eligible := make([]*fleet.PoolState, len(table))
	copy(eligible, table)
	target := desiredCount
	for len(eligible) > 0 {
		split := weightedSplit(target, eligible)
		pinned := false
		next := eligible[:0]
		for _, p := range eligible {
			if split[p.ID] < p.Base {
				counts[p.ID] = p.Base
				target -= p.Base
				pinned = true
				continue
			}
			next = append(next, p)
		}
		if !pinned {
			for _, p := range next {
				counts[p.ID] = split[p.ID]
			}
			break
		}
		eligible = next
	}

	return counts, nil
}

// weightedSplit distributes count across the pools proportionally to
// weight with largest-remainder rounding. Ties go to the earlier pool
// in the table.
func weightedSplit(
	count int,
	pools []*fleet.PoolState) map[fleet.PoolID]int {
	split := make(map[fleet.PoolID]int, len(pools))

	totalWeight := 0
	for _, p := range pools {
		totalWeight += p.Weight
	}
	if totalWeight == 0 {
		// Degenerate table: everything goes to the highest priority pool.
		for _, p := range pools {
			split[p.ID] = 0
		}
		split[pools[0].ID] = count
		return split
	}

	type share struct {
		pool      fleet.PoolID
		remainder float64
		order     int
	}
	assigned := 0
	shares := make([]share, 0, len(pools))
	for i, p := range pools {
		exact := float64(count) * float64(p.Weight) / float64(totalWeight)
		whole := int(exact)
		split[p.ID] = whole
		assigned += whole
		shares = append(shares, share{
			pool:      p.ID,
			remainder: exact - float64(whole),
			order:     i,
		})
	}

	sort.Slice(shares, func(i, j int) bool {
		if shares[i].remainder != shares[j].remainder {
			return shares[i].remainder > shares[j].remainder
		}
		return shares[i].order < shares[j].order
	})
	for i := 0; i < count-assigned; i++ {
		split[shares[i%len(shares)].pool]++
	}

	return split
}

// Diff compares the previous pool counts against the new allocation and
// returns one event per changed pool.
func Diff(
	table []*fleet.PoolState,
	counts map[fleet.PoolID]int) []Event {
	var events []Event
	for _, p := range table {
		next := counts[p.ID]
		if next == p.CurrentCount {
			continue
		}
		events = append(events, Event{
			Pool:     p.ID,
			Previous: p.CurrentCount,
			Current:  next,
		})
		log.WithFields(log.Fields{
			"pool":     p.ID,
			"previous": p.CurrentCount,
			"current":  next,
		}).Info("Pool placement changed")
	}
	return events
}
