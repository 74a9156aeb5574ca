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

// Package reconciler runs the control loop that owns the fleet state.
// All mutations of the state happen on this loop; readers get immutable
// snapshots.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/fleetop/fleetop/pkg/common/lifecycle"
	"github.com/fleetop/fleetop/pkg/common/queue"
	"github.com/fleetop/fleetop/pkg/fleetmgr/allocator"
	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
	"github.com/fleetop/fleetop/pkg/fleetmgr/orchestrator"
	"github.com/fleetop/fleetop/pkg/fleetmgr/planner"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"
	"github.com/fleetop/fleetop/pkg/fleetmgr/sampler"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"golang.org/x/time/rate"
)

const (
	_defaultReconcileInterval = 10 * time.Second
	_defaultProviderQPS       = 5
	_dequeueTimeout           = 10 * time.Millisecond
	_providerCallTimeout      = 30 * time.Second
)

// Config for the reconciliation loop.
type Config struct {
	// ReconcileInterval is the loop tick period.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// ProviderQPS rate-limits the mutating calls to the compute
	// provider.
	ProviderQPS int `yaml:"provider_qps"`
}

func (c *Config) normalize() {
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = _defaultReconcileInterval
	}
	if c.ProviderQPS == 0 {
		c.ProviderQPS = _defaultProviderQPS
	}
}

// Reconciler consumes utilization samples, evaluates the scaling
// policies and converges the compute provider to the planned placement.
// It is the only writer of the fleet state.
type Reconciler struct {
	state   *fleet.State
	plnr    *planner.Planner
	compute provider.Compute
	orch    *orchestrator.Orchestrator
	samples queue.Queue

	cfg     Config
	limiter *rate.Limiter

	// pending is a scaling decision deferred because a deployment batch
	// was in flight when it was made. It is applied at the next batch
	// boundary or when the deployment finishes.
	pending          *planner.Decision
	observedBatches  int
	lastDeploymentID string

	snapMu       sync.Mutex
	lastSnapshot *fleet.Snapshot

	lf  lifecycle.LifeCycle
	mtx *metrics
}

// New creates the reconciler. The sample queue is typically the
// sampler's output queue.
func New(
	state *fleet.State,
	plnr *planner.Planner,
	compute provider.Compute,
	orch *orchestrator.Orchestrator,
	samples queue.Queue,
	cfg Config,
	parent tally.Scope) *Reconciler {
	cfg.normalize()
	return &Reconciler{
		state:        state,
		plnr:         plnr,
		compute:      compute,
		orch:         orch,
		samples:      samples,
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Limit(cfg.ProviderQPS), cfg.ProviderQPS),
		lastSnapshot: state.Snapshot(),
		lf:           lifecycle.NewLifeCycle(),
		mtx:          newMetrics(parent.SubScope("reconciler")),
	}
}

// Start launches the reconciliation loop.
func (r *Reconciler) Start() {
	if !r.lf.Start() {
		return
	}
	log.WithField("interval", r.cfg.ReconcileInterval).
		Info("Starting fleet reconciler")

	started := make(chan int, 1)
	go func() {
		defer r.lf.StopComplete()

		ticker := time.NewTicker(r.cfg.ReconcileInterval)
		defer ticker.Stop()

		started <- 0
		for {
			select {
			case <-r.lf.StopCh():
				return
			case <-ticker.C:
				r.runOnce()
			}
		}
	}()
	<-started
}

// Stop stops the loop and blocks until the in-flight iteration is done.
func (r *Reconciler) Stop() {
	if !r.lf.Stop() {
		return
	}
	r.lf.Wait()
	log.Info("Fleet reconciler stopped")
}

// Snapshot returns the fleet snapshot published at the end of the last
// reconciliation pass.
func (r *Reconciler) Snapshot() *fleet.Snapshot {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	return r.lastSnapshot
}

// publishSnapshot copies the state for out-of-loop readers.
func (r *Reconciler) publishSnapshot() {
	snap := r.state.Snapshot()
	r.snapMu.Lock()
	r.lastSnapshot = snap
	r.snapMu.Unlock()
}

// runOnce is a single reconciliation pass.
func (r *Reconciler) runOnce() {
	sw := r.mtx.reconcileDuration.Start()
	defer sw.Stop()

	now := time.Now()
	r.drainSamples()
	r.refreshObservedCounts()
	r.syncDeployment()
	r.evaluate(now)
	r.converge()
	r.publishSnapshot()
	r.mtx.reconcileRuns.Inc(1)
}

// drainSamples moves every queued sample into the planner window.
func (r *Reconciler) drainSamples() {
	for {
		item, err := r.samples.Dequeue(_dequeueTimeout)
		if err != nil {
			return
		}
		s, ok := item.(*sampler.Sample)
		if !ok {
			continue
		}
		r.plnr.Observe(s)
		r.mtx.samplesConsumed.Inc(1)
	}
}

// refreshObservedCounts reads the running and pending counts from the
// provider.
func (r *Reconciler) refreshObservedCounts() {
	ctx, cancel := context.WithTimeout(
		context.Background(), _providerCallTimeout)
	defer cancel()

	status, err := r.compute.PoolStatus(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read pool status from provider")
		r.mtx.providerErrors.Inc(1)
		return
	}
	running, pending := 0, 0
	for _, s := range status {
		running += s.Running
		pending += s.Pending
	}
	r.state.SetObservedCounts(running, pending)
}

// syncDeployment folds the orchestrator's progress into the fleet
// state. When a deployment succeeds the fleet version advances; either
// way, batch boundaries and terminal states release deferred scaling
// decisions.
func (r *Reconciler) syncDeployment() {
	d := r.orch.Active()
	if d == nil {
		return
	}

	if d.ID() != r.lastDeploymentID {
		r.lastDeploymentID = d.ID()
		r.observedBatches = 0
	}

	if d.Terminal() {
		if d.State() == orchestrator.StateSucceeded {
			st := d.Status()
			if r.state.Version != st.TargetVersion {
				r.state.SetVersion(st.TargetVersion)
				log.WithField("version", st.TargetVersion).
					Info("Fleet converged to new version")
			}
		}
		r.releasePending("deployment finished")
		return
	}

	if batches := d.CompletedBatches(); batches > r.observedBatches {
		r.observedBatches = batches
		r.releasePending("batch boundary passed")
	}
}

// evaluate runs the planner and either applies or defers the decision.
// A decision made while a deployment batch is in flight is deferred to
// the next batch boundary so scaling never disturbs a batch under
// health observation.
func (r *Reconciler) evaluate(now time.Time) {
	bounds := planner.Bounds{
		Min:     r.state.MinCount,
		Max:     r.state.MaxCount,
		Current: r.state.DesiredCount,
	}
	decision, err := r.plnr.Evaluate(now, bounds)
	if err != nil {
		if err == planner.ErrNoSamples {
			r.mtx.emptyEvaluations.Inc(1)
			return
		}
		log.WithError(err).Warn("Planner evaluation failed")
		return
	}
	if decision.Direction == planner.Hold {
		return
	}

	if r.orch.InProgress() {
		r.pending = decision
		r.mtx.decisionsDeferred.Inc(1)
		log.WithFields(log.Fields{
			"direction": decision.Direction.String(),
			"count":     decision.NewDesiredCount,
		}).Info("Deferring scaling decision during active deployment")
		return
	}
	r.apply(decision)
}

// releasePending applies a deferred decision, if any.
func (r *Reconciler) releasePending(reason string) {
	if r.pending == nil {
		return
	}
	decision := r.pending
	r.pending = nil
	log.WithFields(log.Fields{
		"direction": decision.Direction.String(),
		"count":     decision.NewDesiredCount,
		"reason":    reason,
	}).Info("Applying deferred scaling decision")
	r.mtx.decisionsReleased.Inc(1)
	r.apply(decision)
}

// apply commits a scaling decision to the fleet state.
func (r *Reconciler) apply(decision *planner.Decision) {
	previous := r.state.DesiredCount
	r.state.SetDesiredCount(decision.NewDesiredCount)
	log.WithFields(log.Fields{
		"direction": decision.Direction.String(),
		"previous":  previous,
		"desired":   r.state.DesiredCount,
		"reason":    decision.Reason,
	}).Info("Fleet desired count updated")
	switch decision.Direction {
	case planner.ScaleOut:
		r.mtx.scaleOuts.Inc(1)
	case planner.ScaleIn:
		r.mtx.scaleIns.Inc(1)
	}
}

// converge recomputes the placement and pushes changed pool counts to
// the provider.
func (r *Reconciler) converge() {
	table := r.state.PoolTable()
	counts, err := allocator.Allocate(r.state.DesiredCount, table)
	if err != nil {
		log.WithError(err).Error("Placement allocation failed")
		r.mtx.allocationErrors.Inc(1)
		return
	}

	events := allocator.Diff(table, counts)
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), _providerCallTimeout)
	defer cancel()

	for _, ev := range events {
		if err := r.limiter.Wait(ctx); err != nil {
			log.WithError(err).Warn("Rate limiter wait aborted")
			return
		}
		if err := r.compute.SetPoolCount(ctx, ev.Pool, ev.Current); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"pool":  ev.Pool,
				"count": ev.Current,
			}).Error("Could not set pool count, will retry next pass")
			r.mtx.providerErrors.Inc(1)
			// Leave the state untouched so the diff fires again.
			return
		}
		r.mtx.poolUpdates.Inc(1)
	}

	if err := r.state.ApplyPlacement(counts); err != nil {
		log.WithError(err).Error("Could not record placement")
	}
}
