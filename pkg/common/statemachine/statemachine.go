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

package statemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	createStateReasonString = "state machine created"
)

// Rule is the transition rule from one source state to multiple
// destination states, with an optional callback invoked on every
// transition out of the source state.
type Rule struct {
	// From is the source state
	From State
	// To is the set of allowed destination states
	To []State
	// Callback is the transition function invoked after a valid
	// transition out of From
	Callback func(*Transition) error
}

// TimeoutRule is a transition which is triggered by elapsed time. The
// state automatically moves to the "to" state after the timeout expires
// with no other transition in between.
type TimeoutRule struct {
	// From is the source state
	From State
	// To is the destination state
	To State
	// Timeout for the transition to the "to" state
	Timeout time.Duration
	// Callback is the transition function invoked on the timeout
	// transition
	Callback func(*Transition) error
}

// Callback is the type for callback function
type Callback func(*Transition) error

// StateMachine is the interface wrapping around the state machine object
// so the implementation is not exposed.
type StateMachine interface {
	// TransitTo transits to the desired state and records the reason
	TransitTo(to State, reason string, args ...interface{}) error

	// GetCurrentState returns the current state of the state machine
	GetCurrentState() State

	// GetReason returns the reason for the last state transition
	GetReason() string

	// GetName returns the name of the state machine object
	GetName() string

	// GetStateTimer returns the state timer object
	GetStateTimer() StateTimer

	// GetLastUpdateTime returns the time of the last state transition
	GetLastUpdateTime() time.Time
}

// statemachine is responsible for moving from a source state to a
// destination state and invoking the configured callbacks.
type statemachine struct {
	// To synchronize state machine operations
	sync.RWMutex

	// name of the object with which state machine is associated with.
	name string

	// current is the current state of the object
	current State

	// rules defines the state machine transitions as srcState -> []destStates
	rules map[State]*Rule

	// transitionCallback applies to all state transitions, used for
	// example to audit every transition
	transitionCallback func(*Transition) error

	// lastUpdatedTime records the time when the last state transition happened
	lastUpdatedTime time.Time

	// timeoutRules are the rules for transitioning out of states which
	// can time out
	timeoutRules map[State]*TimeoutRule

	// timer drives the timeout rules
	timer StateTimer

	// reason records the reason for the last state transition
	reason string
}

// NewStateMachine creates a new state machine which clients can use to
// run transitions on the object.
func NewStateMachine(
	name string,
	current State,
	rules map[State]*Rule,
	timeoutRules map[State]*TimeoutRule,
	transitionCallback Callback,
) (StateMachine, error) {

	sm := &statemachine{
		name:               name,
		current:            current,
		rules:              make(map[State]*Rule),
		timeoutRules:       timeoutRules,
		transitionCallback: transitionCallback,
		lastUpdatedTime:    time.Now(),
		reason:             createStateReasonString,
	}

	sm.timer = NewTimer(sm)

	if err := sm.addRules(rules); err != nil {
		return nil, err
	}
	return sm, nil
}

func (sm *statemachine) GetStateTimer() StateTimer {
	return sm.timer
}

// addRules add the rules which defines the transitions
func (sm *statemachine) addRules(rules map[State]*Rule) error {
	for _, r := range rules {
		if err := sm.validateRule(r); err != nil {
			return err
		}
	}
	sm.rules = rules
	return nil
}

// validateRule validates that a rule has no duplicate destinations
func (sm *statemachine) validateRule(rule *Rule) error {
	dests := make(map[State]bool)
	for _, s := range rule.To {
		if dests[s] {
			return errors.Errorf(
				"invalid rule for state %s, duplicate destination %s",
				rule.From, s)
		}
		dests[s] = true
	}
	return nil
}

// TransitTo is the function which clients call to transition from one
// state to another. It invokes the callbacks after the transition is done.
func (sm *statemachine) TransitTo(to State, reason string, args ...interface{}) error {
	// Locking the statemachine to synchronize state changes
	sm.Lock()
	defer sm.Unlock()

	// checking if transition is allowed
	if err := sm.isValidTransition(to); err != nil {
		return err
	}

	// Creating Transition to pass to callbacks
	t := &Transition{
		StateMachine: sm,
		From:         sm.current,
		To:           to,
		Params:       args,
	}

	curState := sm.current

	// Stop the state timer if we are transitioning out of a state
	// with a timeout rule.
	if _, ok := sm.timeoutRules[curState]; ok {
		log.WithFields(log.Fields{
			"name": sm.name,
			"from": curState,
			"to":   to,
		}).Debug("Stopping state timeout timer")
		if err := sm.timer.Stop(); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"name": sm.name,
				"from": curState,
				"to":   to,
			}).Error("failed to stop state timeout timer")
			return err
		}
	}

	// Doing actual transition
	sm.current = to
	sm.lastUpdatedTime = time.Now()
	sm.reason = reason

	// invoking callback function
	if sm.rules[curState] != nil && sm.rules[curState].Callback != nil {
		if err := sm.rules[curState].Callback(t); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"name":          sm.GetName(),
				"current_state": curState,
				"to_state":      to,
			}).Error("callback failed for state machine")
			return err
		}
	}

	// Run the transition callback
	if sm.transitionCallback != nil {
		if err := sm.transitionCallback(t); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"name":          sm.GetName(),
				"current_state": curState,
				"to_state":      to,
			}).Error("transition callback failed for state machine")
			return err
		}
	}

	// Start the timer if the destination state can time out.
	if rule, ok := sm.timeoutRules[to]; ok {
		log.WithFields(log.Fields{
			"name": sm.name,
			"from": curState,
			"to":   to,
		}).Debug("Transitioned to state with timeout")
		if rule.Timeout != 0 {
			if err := sm.timer.Start(rule.Timeout); err != nil {
				// Timer may still be draining from the previous state,
				// stop it and start again.
				if err := sm.timer.Stop(); err != nil {
					log.WithError(err).WithFields(log.Fields{
						"name":  sm.name,
						"state": to,
					}).Error("timer could not be stopped")
				}
				if err := sm.timer.Start(rule.Timeout); err != nil {
					log.WithError(err).WithFields(log.Fields{
						"name":  sm.name,
						"state": to,
					}).Error("timer could not be started, returning")
					return err
				}
			}
		}
	}
	return nil
}

// isValidTransition checks if the transition is allowed
// from source state to destination state
func (sm *statemachine) isValidTransition(to State) error {
	if sm.current == to {
		return errors.Errorf("already reached state %s, no need to "+
			"transition", to)
	}
	if val, ok := sm.rules[sm.current]; ok {
		for _, dest := range val.To {
			if dest == to {
				return nil
			}
		}
	}
	return errors.Errorf("invalid transition for %s [from %s to %s]",
		sm.name, sm.current, to)
}

// GetCurrentState returns the current state of the state machine
func (sm *statemachine) GetCurrentState() State {
	sm.RLock()
	defer sm.RUnlock()
	return sm.current
}

func (sm *statemachine) GetReason() string {
	sm.RLock()
	defer sm.RUnlock()
	return sm.reason
}

func (sm *statemachine) GetLastUpdateTime() time.Time {
	sm.RLock()
	defer sm.RUnlock()
	return sm.lastUpdatedTime
}

// GetName returns the name of the state machine object
func (sm *statemachine) GetName() string {
	return sm.name
}

// timeoutTransition moves the machine to the destination of the timeout
// rule for the current state, if the timeout has actually elapsed.
func (sm *statemachine) timeoutTransition() error {
	sm.Lock()
	defer sm.Unlock()

	if sm.timeoutRules == nil {
		return nil
	}

	rule, ok := sm.timeoutRules[sm.current]
	if !ok {
		return nil
	}

	if time.Since(sm.lastUpdatedTime) <= rule.Timeout {
		return nil
	}

	// Creating Transition to pass to callbacks
	t := &Transition{
		StateMachine: sm,
		From:         sm.current,
		To:           rule.To,
		Params:       nil,
	}

	log.WithFields(log.Fields{
		"name":          t.StateMachine.GetName(),
		"rule_from":     rule.From,
		"rule_to":       rule.To,
		"current_state": sm.current,
	}).Debug("Transitioning from timeout")

	// Doing actual transition
	from := sm.current
	sm.current = rule.To
	sm.lastUpdatedTime = time.Now()
	sm.reason = fmt.Sprintf("timed out in state %s after %s", from, rule.Timeout)

	// invoking callback function
	if rule.Callback != nil {
		if err := rule.Callback(t); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"name":          sm.name,
				"rule_from":     rule.From,
				"rule_to":       rule.To,
				"current_state": sm.current,
			}).Error("error in timeout callback")
			return err
		}
	}

	// Run the transition callback
	if sm.transitionCallback != nil {
		if err := sm.transitionCallback(t); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"name":          t.StateMachine.GetName(),
				"rule_from":     rule.From,
				"rule_to":       rule.To,
				"current_state": sm.current,
			}).Error("error in transition callback")
			return err
		}
	}
	return nil
}
