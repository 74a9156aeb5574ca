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

// Package orchestrator drives rolling deployments of the fleet with
// health-gated batch progression and automatic rollback.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/fleetop/fleetop/pkg/common/backoff"
	"github.com/fleetop/fleetop/pkg/common/statemachine"
	"github.com/fleetop/fleetop/pkg/fleetmgr/healthgate"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

const (
	_defaultDeploymentTimeout     = 30 * time.Minute
	_defaultBatchCheckInterval    = 10 * time.Second
	_defaultRollbackAttempts      = 3
	_defaultRollbackRetryInterval = 30 * time.Second
	_defaultObservationWindow     = 2 * time.Minute
	_rollbackActionTimeout        = 10 * time.Minute
)

// Config for the deployment orchestrator.
type Config struct {
	// DeploymentTimeout bounds the whole rollout. Exceeding it forces a
	// rollback regardless of per-batch state.
	DeploymentTimeout time.Duration `yaml:"deployment_timeout"`
	// BatchCheckInterval is the health polling interval while waiting
	// on a batch.
	BatchCheckInterval time.Duration `yaml:"batch_check_interval"`
	// RollbackAttempts is the retry budget for the rollback itself.
	RollbackAttempts int `yaml:"rollback_attempts"`
	// RollbackRetryInterval is the delay between rollback attempts.
	RollbackRetryInterval time.Duration `yaml:"rollback_retry_interval"`
	// ObservationWindow is the stabilization hold after the last batch.
	ObservationWindow time.Duration `yaml:"observation_window"`
}

func (c *Config) normalize() {
	if c.DeploymentTimeout == 0 {
		c.DeploymentTimeout = _defaultDeploymentTimeout
	}
	if c.BatchCheckInterval == 0 {
		c.BatchCheckInterval = _defaultBatchCheckInterval
	}
	if c.RollbackAttempts == 0 {
		c.RollbackAttempts = _defaultRollbackAttempts
	}
	if c.RollbackRetryInterval == 0 {
		c.RollbackRetryInterval = _defaultRollbackRetryInterval
	}
	if c.ObservationWindow == 0 {
		c.ObservationWindow = _defaultObservationWindow
	}
}

// Orchestrator owns the deployment lock of one fleet: at most one
// non-terminal deployment exists at a time.
type Orchestrator struct {
	sync.Mutex

	compute provider.Compute
	targets provider.TargetGroup
	gate    *healthgate.Gate
	cfg     Config

	active *Deployment

	mtx *metrics
}

// New creates the orchestrator for one fleet.
func New(
	compute provider.Compute,
	targets provider.TargetGroup,
	gate *healthgate.Gate,
	cfg Config,
	parent tally.Scope) *Orchestrator {
	cfg.normalize()
	return &Orchestrator{
		compute: compute,
		targets: targets,
		gate:    gate,
		cfg:     cfg,
		mtx:     newMetrics(parent.SubScope("orchestrator")),
	}
}

// Start validates the plan and begins the rollout asynchronously. It
// fails with DeploymentInProgressError while another deployment is
// active, and with InvalidPlanError for malformed plans; neither
// mutates anything.
func (o *Orchestrator) Start(plan *Plan, currentVersion string) (*Deployment, error) {
	if err := plan.Validate(); err != nil {
		o.mtx.plansRejected.Inc(1)
		return nil, err
	}
	plan.normalize()

	o.Lock()
	defer o.Unlock()

	if o.active != nil && !o.active.Terminal() {
		o.mtx.startConflicts.Inc(1)
		return nil, &DeploymentInProgressError{ActiveID: o.active.id}
	}

	d, err := newDeployment(plan, currentVersion, o.cfg.DeploymentTimeout)
	if err != nil {
		return nil, err
	}
	o.active = d
	o.mtx.deploymentsStarted.Inc(1)

	log.WithFields(log.Fields{
		"deployment_id":  d.id,
		"target_version": plan.TargetVersion,
		"batch_size":     plan.BatchSize,
	}).Info("Deployment accepted")

	go o.run(d)
	return d, nil
}

// Active returns the most recent deployment, terminal or not.
func (o *Orchestrator) Active() *Deployment {
	o.Lock()
	defer o.Unlock()
	return o.active
}

// InProgress reports whether a deployment is currently active.
func (o *Orchestrator) InProgress() bool {
	o.Lock()
	defer o.Unlock()
	return o.active != nil && !o.active.Terminal()
}

// Cancel requests cancellation of the active deployment. Cancellation
// is handled identically to a health failure: the deployment rolls
// back.
func (o *Orchestrator) Cancel(id string) error {
	o.Lock()
	d := o.active
	o.Unlock()

	if d == nil || d.id != id {
		return errors.Errorf("deployment %s not found", id)
	}
	if d.Terminal() {
		return errors.Errorf(
			"deployment %s already finished in state %s", id, d.State())
	}
	o.mtx.deploymentsCancelled.Inc(1)
	d.interrupt("cancel requested")
	return nil
}

// run drives one deployment from rollout to a terminal state.
func (o *Orchestrator) run(d *Deployment) {
	sw := o.mtx.deploymentDuration.Start()
	defer sw.Stop()

	ctx, cancel := context.WithTimeout(
		context.Background(), o.cfg.DeploymentTimeout)
	defer cancel()

	// An interrupt (cancel request or deployment timeout) aborts any
	// in-flight batch wait.
	go func() {
		select {
		case <-d.interruptCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	instances, err := o.listOutdated(ctx, d)
	if err != nil {
		log.WithError(err).
			WithField("deployment_id", d.id).
			Error("Failed to list fleet instances, failing deployment")
		d.setErr(err)
		o.finish(d, StateFailed, "could not list fleet instances")
		return
	}

	batches := d.plan.makeBatches(instances)
	d.mu.Lock()
	d.totalBatches = len(batches)
	d.mu.Unlock()

	if err := d.sm.TransitTo(StateRollingOut, "starting rollout"); err != nil {
		d.setErr(err)
		o.finish(d, StateFailed, "could not start rollout")
		return
	}

	for i, batch := range batches {
		if d.interrupted() || d.State() != StateRollingOut {
			o.rollback(d)
			return
		}

		pairs, err := o.replaceBatch(ctx, d, batch)
		if err != nil {
			d.recordPartialBatch(pairs)
			log.WithError(err).WithFields(log.Fields{
				"deployment_id": d.id,
				"batch":         i,
			}).Error("Batch replacement failed")
			d.setErr(err)
			o.failBatch(ctx, d)
			return
		}

		newIDs := make([]provider.InstanceID, 0, len(pairs))
		for _, p := range pairs {
			newIDs = append(newIDs, p.new)
		}

		start := time.Now()
		healthy, err := o.gate.AwaitBatch(
			ctx, newIDs,
			o.cfg.BatchCheckInterval,
			d.plan.HealthCheckGracePeriod)
		if err != nil || !healthy {
			d.recordPartialBatch(pairs)
			if err == nil {
				err = &BatchHealthTimeoutError{
					Batch:   i,
					Elapsed: time.Since(start),
				}
			}
			log.WithError(err).WithFields(log.Fields{
				"deployment_id": d.id,
				"batch":         i,
			}).Warn("Batch did not become healthy")
			o.mtx.batchTimeouts.Inc(1)
			d.setErr(err)
			o.failBatch(ctx, d)
			return
		}

		d.recordBatch(pairs)
		log.WithFields(log.Fields{
			"deployment_id": d.id,
			"batch":         i,
			"batch_size":    len(batch),
		}).Info("Batch healthy, proceeding")
	}

	if d.State() != StateRollingOut {
		// The deployment timer fired between the last batch and here.
		o.rollback(d)
		return
	}
	if err := d.sm.TransitTo(StateObserving, "all batches replaced"); err != nil {
		o.rollback(d)
		return
	}

	o.observe(ctx, d)
}

// listOutdated returns the fleet instances not yet at the target
// version, in provider order.
func (o *Orchestrator) listOutdated(
	ctx context.Context,
	d *Deployment) ([]provider.InstanceID, error) {
	instances, err := o.compute.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	var ids []provider.InstanceID
	for _, inst := range instances {
		if inst.Version == d.plan.TargetVersion {
			continue
		}
		ids = append(ids, inst.ID)
	}
	return ids, nil
}

// replaceBatch replaces every instance of the batch with a unit running
// the target version, re-registering each replacement with the routing
// layer. Partial progress is returned to the caller for rollback
// bookkeeping.
func (o *Orchestrator) replaceBatch(
	ctx context.Context,
	d *Deployment,
	batch []provider.InstanceID) ([]replacedInstance, error) {
	var pairs []replacedInstance
	for _, old := range batch {
		if err := o.targets.Deregister(ctx, old); err != nil {
			return pairs, errors.Wrapf(err, "deregister %s", old)
		}
		newID, err := o.compute.ReplaceInstance(
			ctx, old, d.plan.TargetVersion, d.plan.Secrets)
		if err != nil {
			return pairs, errors.Wrapf(err, "replace %s", old)
		}
		if err := o.targets.Register(ctx, newID); err != nil {
			return pairs, errors.Wrapf(err, "register %s", newID)
		}
		o.gate.Forget(old)
		o.gate.Track(newID)
		pairs = append(pairs, replacedInstance{old: old, new: newID})
		o.mtx.instancesReplaced.Inc(1)
	}
	return pairs, nil
}

// observe holds the fleet in the stabilization window after the last
// batch and reverts if anything turns unhealthy.
func (o *Orchestrator) observe(ctx context.Context, d *Deployment) {
	var all []provider.InstanceID
	d.mu.Lock()
	for _, batch := range d.replaced {
		for _, p := range batch {
			all = append(all, p.new)
		}
	}
	d.mu.Unlock()

	deadline := time.Now().Add(o.cfg.ObservationWindow)
	ticker := time.NewTicker(o.cfg.BatchCheckInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			o.rollback(d)
			return
		case <-ticker.C:
		}

		if err := o.gate.Probe(ctx, all); err != nil {
			o.rollback(d)
			return
		}
		if o.gate.BatchUnhealthy(all) {
			log.WithField("deployment_id", d.id).
				Warn("Instance turned unhealthy during observation")
			d.setErr(errors.New("instance unhealthy during observation window"))
			o.failBatch(ctx, d)
			return
		}
	}

	o.finish(d, StateSucceeded, "observation window passed")
	o.mtx.deploymentsSucceeded.Inc(1)
}

// failBatch applies the failure policy of the plan: automatic rollback
// when enabled, otherwise the deployment fails and waits for an
// operator. Cancellation and the deployment timeout always roll back;
// RollbackOnFailure gates health failures only.
func (o *Orchestrator) failBatch(ctx context.Context, d *Deployment) {
	if ctx.Err() != nil || d.interrupted() || d.State() == StateRollingBack {
		o.rollback(d)
		return
	}
	if d.plan.RollbackOnFailure {
		o.rollback(d)
		return
	}
	o.finish(d, StateFailed, "failure with automatic rollback disabled")
}

// rollback reverts the recorded replacements in reverse order, with a
// bounded retry budget. Exhausting the budget is the single fatal
// outcome of the controller.
func (o *Orchestrator) rollback(d *Deployment) {
	if d.State() != StateRollingBack {
		reason := "reverting failed rollout"
		if d.interrupted() && d.interruptReason != "" {
			reason = d.interruptReason
		}
		if err := d.sm.TransitTo(StateRollingBack, reason); err != nil {
			log.WithError(err).
				WithField("deployment_id", d.id).
				Error("Could not enter rollback state")
		}
	}
	o.mtx.rollbacksStarted.Inc(1)

	retrier := backoff.NewRetrier(backoff.NewRetryPolicy(
		o.cfg.RollbackAttempts, o.cfg.RollbackRetryInterval))

	attempt := 0
	for {
		attempt++
		// Rollback runs on its own context: the deployment timeout must
		// not stop the revert.
		ctx, cancel := context.WithTimeout(
			context.Background(), _rollbackActionTimeout)
		err := o.revertAll(ctx, d)
		cancel()
		if err == nil {
			o.finish(d, StateRolledBack, "reverted to previous version")
			o.mtx.rollbacksSucceeded.Inc(1)
			return
		}

		log.WithError(err).WithFields(log.Fields{
			"deployment_id": d.id,
			"attempt":       attempt,
		}).Error("Rollback attempt failed")

		delay := retrier.NextBackOff()
		if delay == backoff.Done {
			d.setErr(&RollbackFailedError{Attempts: attempt})
			o.finish(d, StateFailed, "rollback retry budget exhausted")
			o.mtx.rollbacksFailed.Inc(1)
			return
		}
		time.Sleep(delay)
	}
}

// revertAll undoes recorded replacements batch by batch, most recent
// first. Batches already undone are not repeated on retry.
func (o *Orchestrator) revertAll(ctx context.Context, d *Deployment) error {
	for {
		pairs := d.takeReplacedReverse()
		if pairs == nil {
			return nil
		}
		for i := len(pairs) - 1; i >= 0; i-- {
			p := pairs[i]
			if err := o.revertOne(ctx, d, p); err != nil {
				// Keep the not-yet-reverted part for the next attempt.
				d.restoreReplaced(pairs[:i+1])
				return err
			}
		}
	}
}

func (o *Orchestrator) revertOne(
	ctx context.Context,
	d *Deployment,
	p replacedInstance) error {
	if err := o.targets.Deregister(ctx, p.new); err != nil {
		return errors.Wrapf(err, "deregister %s", p.new)
	}
	restored, err := o.compute.ReplaceInstance(
		ctx, p.new, d.previousVersion, d.plan.Secrets)
	if err != nil {
		return errors.Wrapf(err, "revert %s", p.new)
	}
	if err := o.targets.Register(ctx, restored); err != nil {
		return errors.Wrapf(err, "register %s", restored)
	}
	o.gate.Forget(p.new)
	o.gate.Track(restored)
	o.mtx.instancesReverted.Inc(1)
	return nil
}

// finish moves the deployment to a terminal state if it is not in one
// already.
func (o *Orchestrator) finish(
	d *Deployment,
	state statemachine.State,
	reason string) {
	if d.State() == state {
		return
	}
	if err := d.sm.TransitTo(state, reason); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"deployment_id": d.id,
			"to_state":      state,
		}).Error("Terminal transition failed")
	}
}
