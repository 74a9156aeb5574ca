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
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
	"github.com/fleetop/fleetop/pkg/fleetmgr/healthgate"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider/mocks"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider/sim"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"
)

func testConfig() Config {
	return Config{
		DeploymentTimeout:     5 * time.Second,
		BatchCheckInterval:    2 * time.Millisecond,
		RollbackAttempts:      2,
		RollbackRetryInterval: time.Millisecond,
		ObservationWindow:     30 * time.Millisecond,
	}
}

// waitTerminal polls until the deployment reaches a terminal state.
func waitTerminal(d *Deployment, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.Terminal() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return d.Terminal()
}

type OrchestratorTestSuite struct {
	suite.Suite

	ctrl    *gomock.Controller
	compute *mocks.MockCompute
	targets *mocks.MockTargetGroup
	gate    *healthgate.Gate
	orch    *Orchestrator
}

func (suite *OrchestratorTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.compute = mocks.NewMockCompute(suite.ctrl)
	suite.targets = mocks.NewMockTargetGroup(suite.ctrl)
	suite.gate = healthgate.New(suite.targets, 1, 3, tally.NoopScope)
	suite.orch = New(
		suite.compute, suite.targets, suite.gate, testConfig(), tally.NoopScope)
}

func (suite *OrchestratorTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func instances(version string, n int) []*provider.Instance {
	out := make([]*provider.Instance, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &provider.Instance{
			ID:      provider.InstanceID(fmt.Sprintf("i-%d", i)),
			Pool:    fleet.Spot,
			Version: version,
		})
	}
	return out
}

func (suite *OrchestratorTestSuite) TestInvalidPlanRejected() {
	_, err := suite.orch.Start(&Plan{TargetVersion: "", BatchSize: 1}, "v1")
	suite.Error(err)
	suite.IsType(&InvalidPlanError{}, err)

	_, err = suite.orch.Start(&Plan{TargetVersion: "v2", BatchSize: 0}, "v1")
	suite.Error(err)
	suite.IsType(&InvalidPlanError{}, err)
	suite.Nil(suite.orch.Active())
}

func (suite *OrchestratorTestSuite) TestOnlyOneActiveDeployment() {
	// Hold the first deployment inside the instance listing so it stays
	// active while the second request arrives.
	release := make(chan struct{})
	suite.compute.EXPECT().ListInstances(gomock.Any()).
		DoAndReturn(func(
			_ context.Context) ([]*provider.Instance, error) {
			<-release
			return nil, nil
		})

	first, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      true,
	}, "v1")
	suite.NoError(err)

	_, err = suite.orch.Start(&Plan{
		TargetVersion: "v3",
		BatchSize:     1,
	}, "v1")
	suite.Error(err)
	inProgress, ok := err.(*DeploymentInProgressError)
	suite.True(ok)
	suite.Equal(first.ID(), inProgress.ActiveID)

	suite.NoError(suite.orch.Cancel(first.ID()))
	close(release)
	suite.True(waitTerminal(first, 5*time.Second))
	suite.Equal(StateRolledBack, first.State())
}

func (suite *OrchestratorTestSuite) TestHappyPathRollsAllBatches() {
	backend := sim.New("v1")
	suite.NoError(backend.SetPoolCount(context.Background(), fleet.Spot, 4))

	gate := healthgate.New(backend, 1, 3, tally.NoopScope)
	orch := New(backend, backend, gate, testConfig(), tally.NoopScope)

	d, err := orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              2,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      true,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateSucceeded, d.State())
	suite.Equal(2, d.CompletedBatches())
	suite.NoError(d.Err())

	listed, err := backend.ListInstances(context.Background())
	suite.NoError(err)
	suite.Len(listed, 4)
	for _, inst := range listed {
		suite.Equal("v2", inst.Version)
	}
}

func (suite *OrchestratorTestSuite) TestBatchSizeEqualToFleetIsAllAtOnce() {
	backend := sim.New("v1")
	suite.NoError(backend.SetPoolCount(context.Background(), fleet.Spot, 3))

	gate := healthgate.New(backend, 1, 3, tally.NoopScope)
	orch := New(backend, backend, gate, testConfig(), tally.NoopScope)

	d, err := orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              3,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      true,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateSucceeded, d.State())
	suite.Equal(1, d.CompletedBatches())
	suite.Equal(1, d.Status().TotalBatches)
}

func (suite *OrchestratorTestSuite) TestInstancesAtTargetVersionSkipped() {
	backend := sim.New("v2")
	suite.NoError(backend.SetPoolCount(context.Background(), fleet.Spot, 3))

	gate := healthgate.New(backend, 1, 3, tally.NoopScope)
	orch := New(backend, backend, gate, testConfig(), tally.NoopScope)

	d, err := orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
	}, "v2")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateSucceeded, d.State())
	suite.Equal(0, d.Status().TotalBatches)
}

func (suite *OrchestratorTestSuite) TestUnhealthyBatchRollsBack() {
	suite.compute.EXPECT().ListInstances(gomock.Any()).
		Return(instances("v1", 2), nil)
	suite.targets.EXPECT().Deregister(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.targets.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(
			_ context.Context,
			id provider.InstanceID,
			_ string,
			_ []provider.SecretRef) (provider.InstanceID, error) {
			return id + "-x", nil
		}).AnyTimes()
	suite.targets.EXPECT().Health(gomock.Any(), gomock.Any()).
		Return(provider.TargetHealthFailing, nil).AnyTimes()

	d, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              2,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      true,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateRolledBack, d.State())
	suite.Error(d.Err())
}

func (suite *OrchestratorTestSuite) TestFailedBatchWithoutRollbackFails() {
	suite.compute.EXPECT().ListInstances(gomock.Any()).
		Return(instances("v1", 1), nil)
	suite.targets.EXPECT().Deregister(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.targets.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(provider.InstanceID("i-0-x"), nil).AnyTimes()
	suite.targets.EXPECT().Health(gomock.Any(), gomock.Any()).
		Return(provider.TargetHealthFailing, nil).AnyTimes()

	d, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      false,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateFailed, d.State())
}

func (suite *OrchestratorTestSuite) TestRollbackBudgetExhaustedFails() {
	suite.compute.EXPECT().ListInstances(gomock.Any()).
		Return(instances("v1", 1), nil)
	suite.targets.EXPECT().Deregister(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.targets.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	// The forward replacement succeeds, every revert to v1 fails.
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), gomock.Any(), "v2", gomock.Any()).
		Return(provider.InstanceID("i-0-x"), nil)
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), gomock.Any(), "v1", gomock.Any()).
		Return(provider.InstanceID(""), errors.New("capacity unavailable")).
		AnyTimes()
	suite.targets.EXPECT().Health(gomock.Any(), gomock.Any()).
		Return(provider.TargetHealthFailing, nil).AnyTimes()

	d, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      true,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateFailed, d.State())
	var rollbackErr *RollbackFailedError
	suite.True(errors.As(d.Err(), &rollbackErr))
}

func (suite *OrchestratorTestSuite) TestListFailureEndsDeployment() {
	suite.compute.EXPECT().ListInstances(gomock.Any()).
		Return(nil, errors.New("provider unavailable"))

	d, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
		RollbackOnFailure:      true,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateFailed, d.State())
	suite.Error(d.Err())
	suite.False(suite.orch.InProgress())

	// The orchestrator accepts a new deployment once the failed one is
	// terminal.
	suite.compute.EXPECT().ListInstances(gomock.Any()).Return(nil, nil)
	next, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(next, 5*time.Second))
	suite.Equal(StateSucceeded, next.State())
}

func (suite *OrchestratorTestSuite) TestDeploymentTimeoutRollsBackDespitePolicy() {
	cfg := testConfig()
	cfg.DeploymentTimeout = 60 * time.Millisecond

	// Health alternates pass and fail so neither streak threshold is
	// ever crossed and the batch wait runs into the deployment timeout.
	gate := healthgate.New(suite.targets, 2, 3, tally.NoopScope)
	orch := New(suite.compute, suite.targets, gate, cfg, tally.NoopScope)

	suite.compute.EXPECT().ListInstances(gomock.Any()).
		Return(instances("v1", 1), nil)
	suite.targets.EXPECT().Deregister(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.targets.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), gomock.Any(), "v2", gomock.Any()).
		Return(provider.InstanceID("i-0-x"), nil)

	flip := false
	suite.targets.EXPECT().Health(gomock.Any(), gomock.Any()).
		DoAndReturn(func(
			_ context.Context,
			_ provider.InstanceID) (provider.TargetHealth, error) {
			flip = !flip
			if flip {
				return provider.TargetHealthPassing, nil
			}
			return provider.TargetHealthFailing, nil
		}).AnyTimes()

	// The timed-out batch must be reverted even with automatic rollback
	// disabled.
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), provider.InstanceID("i-0-x"), "v1", gomock.Any()).
		Return(provider.InstanceID("i-0"), nil)

	d, err := orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: 5 * time.Second,
		RollbackOnFailure:      false,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateRolledBack, d.State())
}

func (suite *OrchestratorTestSuite) TestCancelRollsBackDespitePolicy() {
	suite.compute.EXPECT().ListInstances(gomock.Any()).
		Return(instances("v1", 2), nil)
	suite.targets.EXPECT().Deregister(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.targets.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), gomock.Any(), "v2", gomock.Any()).
		Return(provider.InstanceID("i-0-x"), nil)

	// Hold the first batch unresolved until the cancel arrives: the
	// probe signals once the replacement is done, then blocks.
	probeStarted := make(chan struct{})
	cancelled := make(chan struct{})
	var startOnce sync.Once
	suite.targets.EXPECT().Health(gomock.Any(), gomock.Any()).
		DoAndReturn(func(
			_ context.Context,
			_ provider.InstanceID) (provider.TargetHealth, error) {
			startOnce.Do(func() { close(probeStarted) })
			<-cancelled
			return provider.TargetHealthFailing, nil
		}).AnyTimes()

	suite.compute.EXPECT().
		ReplaceInstance(gomock.Any(), provider.InstanceID("i-0-x"), "v1", gomock.Any()).
		Return(provider.InstanceID("i-0"), nil)

	d, err := suite.orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: 5 * time.Second,
		RollbackOnFailure:      false,
	}, "v1")
	suite.NoError(err)

	<-probeStarted
	suite.NoError(suite.orch.Cancel(d.ID()))
	close(cancelled)
	suite.True(waitTerminal(d, 5*time.Second))

	suite.Equal(StateRolledBack, d.State())
}

func (suite *OrchestratorTestSuite) TestCancelUnknownDeployment() {
	suite.Error(suite.orch.Cancel("no-such-id"))
}

func (suite *OrchestratorTestSuite) TestAuditTrailStates() {
	backend := sim.New("v1")
	suite.NoError(backend.SetPoolCount(context.Background(), fleet.Spot, 1))

	gate := healthgate.New(backend, 1, 3, tally.NoopScope)
	orch := New(backend, backend, gate, testConfig(), tally.NoopScope)

	d, err := orch.Start(&Plan{
		TargetVersion:          "v2",
		BatchSize:              1,
		HealthCheckGracePeriod: time.Second,
	}, "v1")
	suite.NoError(err)
	suite.True(waitTerminal(d, 5*time.Second))

	st := d.Status()
	suite.Equal(string(StateSucceeded), st.State)
	suite.Equal("v2", st.TargetVersion)
	suite.Equal("v1", st.PreviousVersion)
	suite.False(st.LastTransition.IsZero())
}
