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
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// timer goroutine is not running
	runningStateNotStarted = iota
	// timer goroutine is running
	runningStateRunning
)

// StateTimer is the interface for the timer driving timeout rules
type StateTimer interface {
	// Start starts the timeout countdown
	Start(timeout time.Duration) error
	// Stop stops the timeout countdown
	Stop() error
}

// statetimer implements the state timer on top of a single goroutine
// per armed timeout.
type statetimer struct {
	// To synchronize timer operations
	sync.RWMutex

	// runningState is the current state of the timer goroutine
	runningState int32

	// stopChan for stopping the timer goroutine
	stopChan chan struct{}

	// state machine reference
	statemachine *statemachine
}

// NewTimer returns the object for the state timer
func NewTimer(sm *statemachine) StateTimer {
	return &statetimer{
		stopChan:     make(chan struct{}, 1),
		statemachine: sm,
	}
}

// Stop stops the armed timeout
func (st *statetimer) Stop() error {
	st.Lock()
	defer st.Unlock()

	if st.runningState == runningStateNotStarted {
		return errors.New("state timer is not running")
	}

	st.stopChan <- struct{}{}

	// Wait for the timer goroutine to exit
	for {
		runningState := atomic.LoadInt32(&st.runningState)
		if runningState == runningStateRunning {
			time.Sleep(10 * time.Millisecond)
		} else {
			break
		}
	}
	log.WithField("name", st.statemachine.name).
		Debug("State timer stopped")
	return nil
}

// Start arms the timeout. When the timeout expires the state machine
// transitions per its timeout rule for the current state.
func (st *statetimer) Start(timeout time.Duration) error {
	st.Lock()
	defer st.Unlock()

	if st.runningState == runningStateRunning {
		log.WithField("name", st.statemachine.name).
			Warn("State timer is already running, no-op")
		return nil
	}

	started := make(chan int, 1)
	go func() {
		atomic.StoreInt32(&st.runningState, runningStateRunning)
		defer atomic.StoreInt32(&st.runningState, runningStateNotStarted)
		started <- 0

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-st.stopChan:
			log.WithField("name", st.statemachine.name).
				Debug("Exiting state timer")
		case <-timer.C:
			if err := st.statemachine.timeoutTransition(); err != nil {
				log.WithError(err).
					WithField("name", st.statemachine.name).
					Error("timeout transition failed")
			}
		}
	}()
	// Wait until go routine is started
	<-started
	return nil
}
