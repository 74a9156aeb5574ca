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

// Package healthgate aggregates per-instance health-check results into
// go/no-go decisions for scaling and deployment batches.
package healthgate

import (
	"context"
	"sync"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHealthyThreshold is the number of consecutive passing
	// checks before an instance is considered healthy.
	DefaultHealthyThreshold = 2
	// DefaultUnhealthyThreshold is the number of consecutive failing
	// checks before an instance is considered unhealthy.
	DefaultUnhealthyThreshold = 3

	_probeTimeout = 5 * time.Second
)

// Status is the aggregated health of one instance.
type Status int

const (
	// Pending means neither threshold has been crossed yet.
	Pending Status = iota
	// Healthy means the instance crossed the healthy threshold.
	Healthy
	// Unhealthy means the instance crossed the unhealthy threshold.
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Unhealthy:
		return "UNHEALTHY"
	default:
		return "PENDING"
	}
}

// instanceCounter tracks consecutive pass/fail streaks for one instance.
type instanceCounter struct {
	consecutivePasses   int
	consecutiveFailures int
	status              Status
}

// Gate tracks consecutive health-check results per instance against the
// routing layer and reports aggregated statuses.
type Gate struct {
	sync.Mutex

	targets            provider.TargetGroup
	healthyThreshold   int
	unhealthyThreshold int

	counters map[provider.InstanceID]*instanceCounter

	mtx *gateMetrics
}

// New creates a health gate over the routing layer.
func New(
	targets provider.TargetGroup,
	healthyThreshold int,
	unhealthyThreshold int,
	parent tally.Scope) *Gate {
	if healthyThreshold <= 0 {
		healthyThreshold = DefaultHealthyThreshold
	}
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = DefaultUnhealthyThreshold
	}
	return &Gate{
		targets:            targets,
		healthyThreshold:   healthyThreshold,
		unhealthyThreshold: unhealthyThreshold,
		counters:           make(map[provider.InstanceID]*instanceCounter),
		mtx:                newGateMetrics(parent.SubScope("healthgate")),
	}
}

// Track starts tracking an instance with fresh counters.
func (g *Gate) Track(id provider.InstanceID) {
	g.Lock()
	defer g.Unlock()
	g.counters[id] = &instanceCounter{}
}

// Forget drops the counters of an instance that left the fleet.
func (g *Gate) Forget(id provider.InstanceID) {
	g.Lock()
	defer g.Unlock()
	delete(g.counters, id)
}

// Status returns the aggregated health of one instance.
func (g *Gate) Status(id provider.InstanceID) Status {
	g.Lock()
	defer g.Unlock()
	c, ok := g.counters[id]
	if !ok {
		return Pending
	}
	return c.status
}

// Record feeds one health-check result into the instance's counters and
// returns the resulting status.
func (g *Gate) Record(id provider.InstanceID, passing bool) Status {
	g.Lock()
	defer g.Unlock()

	c, ok := g.counters[id]
	if !ok {
		c = &instanceCounter{}
		g.counters[id] = c
	}

	if passing {
		c.consecutivePasses++
		c.consecutiveFailures = 0
		if c.consecutivePasses >= g.healthyThreshold {
			if c.status != Healthy {
				g.mtx.becameHealthy.Inc(1)
			}
			c.status = Healthy
		}
	} else {
		c.consecutiveFailures++
		c.consecutivePasses = 0
		if c.consecutiveFailures >= g.unhealthyThreshold {
			if c.status != Unhealthy {
				log.WithFields(log.Fields{
					"instance_id":          id,
					"consecutive_failures": c.consecutiveFailures,
				}).Warn("Instance crossed unhealthy threshold")
				g.mtx.becameUnhealthy.Inc(1)
			}
			c.status = Unhealthy
		}
	}
	return c.status
}

// Probe polls the routing layer once for every given instance and feeds
// the results into the counters. Probes are fanned out concurrently; a
// probe error counts as a failing check.
func (g *Gate) Probe(ctx context.Context, ids []provider.InstanceID) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		grp.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, _probeTimeout)
			defer cancel()

			health, err := g.targets.Health(pctx, id)
			if err != nil {
				log.WithError(err).
					WithField("instance_id", id).
					Warn("Health probe failed")
				g.mtx.probeErrors.Inc(1)
				g.Record(id, false)
				return nil
			}
			g.Record(id, health == provider.TargetHealthPassing)
			return nil
		})
	}
	return grp.Wait()
}

// BatchHealthy reports whether every instance in the batch is Healthy.
func (g *Gate) BatchHealthy(ids []provider.InstanceID) bool {
	g.Lock()
	defer g.Unlock()
	for _, id := range ids {
		c, ok := g.counters[id]
		if !ok || c.status != Healthy {
			return false
		}
	}
	return true
}

// BatchUnhealthy reports whether any instance in the batch is Unhealthy.
func (g *Gate) BatchUnhealthy(ids []provider.InstanceID) bool {
	g.Lock()
	defer g.Unlock()
	for _, id := range ids {
		if c, ok := g.counters[id]; ok && c.status == Unhealthy {
			return true
		}
	}
	return false
}

// AwaitBatch polls the routing layer until every instance in the batch
// is healthy, any instance crosses the unhealthy threshold, or the
// grace period expires. It returns the final batch verdict: true only
// if all instances became healthy in time.
func (g *Gate) AwaitBatch(
	ctx context.Context,
	ids []provider.InstanceID,
	checkInterval time.Duration,
	gracePeriod time.Duration) (bool, error) {
	deadline := time.Now().Add(gracePeriod)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		if err := g.Probe(ctx, ids); err != nil {
			return false, err
		}
		if g.BatchHealthy(ids) {
			return true, nil
		}
		if g.BatchUnhealthy(ids) {
			return false, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
