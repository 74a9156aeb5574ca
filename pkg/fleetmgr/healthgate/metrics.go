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

package healthgate

import "github.com/uber-go/tally"

type gateMetrics struct {
	becameHealthy   tally.Counter
	becameUnhealthy tally.Counter
	probeErrors     tally.Counter
}

func newGateMetrics(scope tally.Scope) *gateMetrics {
	return &gateMetrics{
		becameHealthy:   scope.Counter("became_healthy"),
		becameUnhealthy: scope.Counter("became_unhealthy"),
		probeErrors:     scope.Counter("probe_errors"),
	}
}
