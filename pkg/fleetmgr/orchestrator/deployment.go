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

package orchestrator

import (
	"sync"
	"time"

	"github.com/fleetop/fleetop/pkg/common/statemachine"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
)

// Deployment states.
const (
	// StatePending is the initial state, plan validated but rollout
	// not started.
	StatePending statemachine.State = "PENDING"
	// StateRollingOut means batches are being replaced.
	StateRollingOut statemachine.State = "ROLLING_OUT"
	// StateObserving is the stabilization hold after the last batch.
	StateObserving statemachine.State = "OBSERVING"
	// StateSucceeded is the successful terminal state.
	StateSucceeded statemachine.State = "SUCCEEDED"
	// StateRollingBack means batches are being reverted in reverse order.
	StateRollingBack statemachine.State = "ROLLING_BACK"
	// StateRolledBack is the terminal state of a completed rollback.
	StateRolledBack statemachine.State = "ROLLED_BACK"
	// StateFailed is the fatal terminal state requiring manual action.
	StateFailed statemachine.State = "FAILED"
)

// replacedInstance remembers one instance replacement so it can be
// reverted during rollback.
type replacedInstance struct {
	old provider.InstanceID
	new provider.InstanceID
}

// Deployment is one rolling deployment of the fleet. Only the
// orchestrator mutates it; there is at most one non-terminal deployment
// per fleet.
type Deployment struct {
	id              string
	plan            *Plan
	previousVersion string
	createdAt       time.Time

	sm statemachine.StateMachine

	mu               sync.Mutex
	totalBatches     int
	completedBatches int
	// replaced holds, per completed or partially completed batch, the
	// instance replacements to revert on rollback.
	replaced [][]replacedInstance
	err      error

	interruptOnce   sync.Once
	interruptCh     chan struct{}
	interruptReason string
}

// newDeployment builds a deployment and its state machine. The
// deployment timeout is armed as a timeout rule on the rolling-out
// state: when it fires, the state moves to rolling-back and the run
// loop is interrupted regardless of per-batch progress.
func newDeployment(
	plan *Plan,
	previousVersion string,
	deploymentTimeout time.Duration) (*Deployment, error) {
	d := &Deployment{
		id:              uuid.New(),
		plan:            plan,
		previousVersion: previousVersion,
		createdAt:       time.Now(),
		interruptCh:     make(chan struct{}),
	}

	sm, err := statemachine.NewBuilder().
		WithName(d.id).
		WithCurrentState(StatePending).
		WithTransitionCallback(d.auditTransition).
		AddRule(&statemachine.Rule{
			From: StatePending,
			To: []statemachine.State{
				StateRollingOut,
				StateFailed,
			},
		}).
		AddRule(&statemachine.Rule{
			From: StateRollingOut,
			To: []statemachine.State{
				StateObserving,
				StateRollingBack,
				StateFailed,
			},
		}).
		AddRule(&statemachine.Rule{
			From: StateObserving,
			To: []statemachine.State{
				StateSucceeded,
				StateRollingBack,
				StateFailed,
			},
		}).
		AddRule(&statemachine.Rule{
			From: StateRollingBack,
			To: []statemachine.State{
				StateRolledBack,
				StateFailed,
			},
		}).
		AddTimeoutRule(&statemachine.TimeoutRule{
			From:    StateRollingOut,
			To:      StateRollingBack,
			Timeout: deploymentTimeout,
			Callback: func(*statemachine.Transition) error {
				d.interrupt("deployment timeout exceeded")
				return nil
			},
		}).
		Build()
	if err != nil {
		return nil, err
	}
	d.sm = sm
	return d, nil
}

// auditTransition logs every state transition with before and after
// state. This is the deployment audit trail.
func (d *Deployment) auditTransition(t *statemachine.Transition) error {
	log.WithFields(log.Fields{
		"deployment_id": d.id,
		"from_state":    t.From,
		"to_state":      t.To,
		"timestamp":     time.Now().Format(time.RFC3339Nano),
	}).Info("Deployment state transition")
	return nil
}

// interrupt requests the run loop to stop rolling out and revert. It is
// safe to call from the state timer and from cancellation.
func (d *Deployment) interrupt(reason string) {
	d.interruptOnce.Do(func() {
		d.interruptReason = reason
		close(d.interruptCh)
	})
}

func (d *Deployment) interrupted() bool {
	select {
	case <-d.interruptCh:
		return true
	default:
		return false
	}
}

// ID returns the deployment identifier.
func (d *Deployment) ID() string {
	return d.id
}

// State returns the current deployment state.
func (d *Deployment) State() statemachine.State {
	return d.sm.GetCurrentState()
}

// Terminal reports whether the deployment reached a terminal state.
func (d *Deployment) Terminal() bool {
	switch d.State() {
	case StateSucceeded, StateRolledBack, StateFailed:
		return true
	}
	return false
}

// Err returns the recorded deployment error, if any.
func (d *Deployment) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Deployment) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// CompletedBatches returns the number of fully replaced batches.
func (d *Deployment) CompletedBatches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completedBatches
}

// Status is the externally visible deployment snapshot.
type Status struct {
	ID               string    `json:"id"`
	State            string    `json:"state"`
	Reason           string    `json:"reason"`
	TargetVersion    string    `json:"target_version"`
	PreviousVersion  string    `json:"previous_version"`
	CompletedBatches int       `json:"completed_batches"`
	TotalBatches     int       `json:"total_batches"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastTransition   time.Time `json:"last_transition"`
}

// Status returns an immutable snapshot of the deployment.
func (d *Deployment) Status() *Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &Status{
		ID:               d.id,
		State:            string(d.sm.GetCurrentState()),
		Reason:           d.sm.GetReason(),
		TargetVersion:    d.plan.TargetVersion,
		PreviousVersion:  d.previousVersion,
		CompletedBatches: d.completedBatches,
		TotalBatches:     d.totalBatches,
		CreatedAt:        d.createdAt,
		LastTransition:   d.sm.GetLastUpdateTime(),
	}
	if d.err != nil {
		s.Error = d.err.Error()
	}
	return s
}

// recordBatch remembers the replacements of one batch for rollback and
// bumps the completed counter.
func (d *Deployment) recordBatch(pairs []replacedInstance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replaced = append(d.replaced, pairs)
	d.completedBatches++
}

// recordPartialBatch remembers replacements of a batch that did not
// complete, so rollback can still revert them.
func (d *Deployment) recordPartialBatch(pairs []replacedInstance) {
	if len(pairs) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replaced = append(d.replaced, pairs)
}

// takeReplacedReverse pops the most recent batch of replacements, used
// to revert batches in reverse order.
func (d *Deployment) takeReplacedReverse() []replacedInstance {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.replaced) == 0 {
		return nil
	}
	last := d.replaced[len(d.replaced)-1]
	d.replaced = d.replaced[:len(d.replaced)-1]
	return last
}

// restoreReplaced pushes back a batch whose rollback failed midway.
func (d *Deployment) restoreReplaced(pairs []replacedInstance) {
	if len(pairs) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replaced = append(d.replaced, pairs)
}
