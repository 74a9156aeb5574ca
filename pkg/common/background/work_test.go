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

package background

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uber-go/atomic"
)

func TestRegisterWorksValidation(t *testing.T) {
	m := NewManager()

	assert.Equal(t, errEmptyName, m.RegisterWorks(Work{
		Func:   func(_ *atomic.Bool) {},
		Period: time.Second,
	}))

	w := Work{
		Name:   "collector",
		Func:   func(_ *atomic.Bool) {},
		Period: time.Second,
	}
	assert.NoError(t, m.RegisterWorks(w))
	assert.Equal(t, errDuplicateName, m.RegisterWorks(w))
}

func TestStartRunsWorkPeriodically(t *testing.T) {
	runs := atomic.NewInt64(0)
	m := NewManager()
	assert.NoError(t, m.RegisterWorks(Work{
		Name: "collector",
		Func: func(_ *atomic.Bool) {
			runs.Inc()
		},
		Period: 5 * time.Millisecond,
	}))

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, runs.Load() >= 3)
}

func TestInitialDelayPostponesFirstRun(t *testing.T) {
	runs := atomic.NewInt64(0)
	m := NewManager()
	assert.NoError(t, m.RegisterWorks(Work{
		Name: "collector",
		Func: func(_ *atomic.Bool) {
			runs.Inc()
		},
		Period:       time.Second,
		InitialDelay: 50 * time.Millisecond,
	}))

	m.Start()
	defer m.Stop()

	assert.Equal(t, int64(0), runs.Load())

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int64(1), runs.Load())
}

func TestStopHaltsWork(t *testing.T) {
	runs := atomic.NewInt64(0)
	m := NewManager()
	assert.NoError(t, m.RegisterWorks(Work{
		Name: "collector",
		Func: func(_ *atomic.Bool) {
			runs.Inc()
		},
		Period: 5 * time.Millisecond,
	}))

	m.Start()
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	// Stopping a stopped manager is a no-op.
	m.Stop()
}

func TestStartTwiceIsNoop(t *testing.T) {
	runs := atomic.NewInt64(0)
	m := NewManager()
	assert.NoError(t, m.RegisterWorks(Work{
		Name: "collector",
		Func: func(_ *atomic.Bool) {
			runs.Inc()
		},
		Period: time.Hour,
	}))

	m.Start()
	m.Start()
	defer m.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())
}
