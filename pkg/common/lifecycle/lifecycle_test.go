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

package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartStopIdempotent(t *testing.T) {
	l := NewLifeCycle()

	assert.True(t, l.Start())
	assert.False(t, l.Start())

	assert.True(t, l.Stop())
	assert.False(t, l.Stop())

	// Restart after a full stop.
	assert.True(t, l.Start())
	assert.True(t, l.Stop())
}

func TestStopWithoutStart(t *testing.T) {
	l := NewLifeCycle()
	assert.False(t, l.Stop())
}

func TestStopChBroadcastsStop(t *testing.T) {
	l := NewLifeCycle()
	l.Start()

	done := make(chan struct{})
	go func() {
		<-l.StopCh()
		l.StopComplete()
		close(done)
	}()

	l.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not observe stop")
	}
	l.Wait()
}

func TestStopChAfterStopIsClosed(t *testing.T) {
	l := NewLifeCycle()
	l.Start()
	l.Stop()

	select {
	case <-l.StopCh():
	case <-time.After(time.Second):
		t.Fatal("StopCh not closed after Stop")
	}
}

func TestWaitUnblocksOnStopComplete(t *testing.T) {
	l := NewLifeCycle()
	l.Start()

	// Multiple StopComplete calls do not panic or double-signal.
	l.StopComplete()
	l.StopComplete()

	waited := make(chan struct{})
	go func() {
		l.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock")
	}
}
