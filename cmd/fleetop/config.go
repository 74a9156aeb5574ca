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

package main

import (
	"github.com/fleetop/fleetop/pkg/common/metrics"
	"github.com/fleetop/fleetop/pkg/fleetmgr"
)

// Config holds the full configuration of the fleet controller binary.
type Config struct {
	Metrics      metrics.Config  `yaml:"metrics"`
	FleetManager fleetmgr.Config `yaml:"fleet_manager"`

	// HTTPPort is the port of the ops mux (status, deployments,
	// metrics, health, loglevel, version).
	HTTPPort int `yaml:"http_port"`
}
