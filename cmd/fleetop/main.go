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
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetop/fleetop/pkg/common"
	"github.com/fleetop/fleetop/pkg/common/background"
	"github.com/fleetop/fleetop/pkg/common/buildversion"
	"github.com/fleetop/fleetop/pkg/common/config"
	"github.com/fleetop/fleetop/pkg/common/logging"
	"github.com/fleetop/fleetop/pkg/common/metrics"
	"github.com/fleetop/fleetop/pkg/fleetmgr"
	"github.com/fleetop/fleetop/pkg/fleetmgr/fleet"
	"github.com/fleetop/fleetop/pkg/fleetmgr/healthgate"
	"github.com/fleetop/fleetop/pkg/fleetmgr/orchestrator"
	"github.com/fleetop/fleetop/pkg/fleetmgr/planner"
	"github.com/fleetop/fleetop/pkg/fleetmgr/provider/sim"
	"github.com/fleetop/fleetop/pkg/fleetmgr/reconciler"
	"github.com/fleetop/fleetop/pkg/fleetmgr/sampler"

	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	version string
	app     = kingpin.New("fleetop", "Fleet capacity controller")

	debug = app.Flag(
		"debug", "enable debug mode (print full json responses)").
		Short('d').
		Default("false").
		Envar("ENABLE_DEBUG_LOGGING").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"YAML config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	httpPort = app.Flag(
		"http-port", "Fleet controller HTTP port (http_port override) "+
			"(set $HTTP_PORT to override)").
		Envar("HTTP_PORT").
		Int()

	minCount = app.Flag(
		"min-count", "Minimum fleet count (fleet_manager.min_count override) "+
			"(set $MIN_COUNT to override)").
		Envar("MIN_COUNT").
		Int()

	maxCount = app.Flag(
		"max-count", "Maximum fleet count (fleet_manager.max_count override) "+
			"(set $MAX_COUNT to override)").
		Envar("MAX_COUNT").
		Int()

	fleetVersion = app.Flag(
		"fleet-version",
		"Fleet version assumed current at startup "+
			"(fleet_manager.version override) (set $FLEET_VERSION to override)").
		Envar("FLEET_VERSION").
		String()
)

func getConfig(cfgFiles ...string) Config {
	log.WithField("files", cfgFiles).
		Info("Loading fleet controller config")

	var cfg Config
	if err := config.Parse(&cfg, cfgFiles...); err != nil {
		log.WithError(err).Fatal("Cannot parse yaml config")
	}

	// now, override any CLI flags in the loaded config
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *minCount != 0 {
		cfg.FleetManager.MinCount = *minCount
	}
	if *maxCount != 0 {
		cfg.FleetManager.MaxCount = *maxCount
	}
	if *fleetVersion != "" {
		cfg.FleetManager.Version = *fleetVersion
	}

	cfg.FleetManager.Normalize()
	if err := cfg.FleetManager.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid fleet manager config")
	}

	log.WithField("config", cfg).
		Info("Loaded fleet controller config")
	return cfg
}

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(
		&logging.LogFieldFormatter{
			Formatter: &log.JSONFormatter{},
			Fields: log.Fields{
				common.AppLogField: app.Name,
			},
		},
	)

	initialLevel := log.InfoLevel
	if *debug {
		initialLevel = log.DebugLevel
	}
	log.SetLevel(initialLevel)

	cfg := getConfig(*cfgFiles...)
	mgrCfg := cfg.FleetManager

	rootScope, scopeCloser, mux := metrics.InitMetricScope(
		&cfg.Metrics,
		common.FleetManager,
		metrics.TallyFlushInterval,
	)
	defer scopeCloser.Close()
	rootScope.Counter("boot").Inc(1)

	mux.HandleFunc(logging.LevelOverwrite, logging.LevelOverwriteHandler(initialLevel))
	mux.HandleFunc(buildversion.Get, buildversion.Handler(version))

	state, err := fleet.NewState(
		mgrCfg.MinCount,
		mgrCfg.MaxCount,
		mgrCfg.DesiredCount,
		mgrCfg.Version,
		mgrCfg.PoolTable(),
	)
	if err != nil {
		log.WithError(err).Fatal("Could not build initial fleet state")
	}

	// The simulated provider stands in for the compute, routing and
	// utilization backends until real integrations are configured.
	backend := sim.New(mgrCfg.Version)

	smplr := sampler.New(
		backend,
		mgrCfg.Sampler.Period,
		mgrCfg.Sampler.QueueSize,
		rootScope,
	)

	plnr := planner.New(
		[]*planner.MetricPolicy{
			planner.CPUPolicy(
				mgrCfg.Scaling.CPUScaleTarget,
				planner.Statistic(mgrCfg.Scaling.Statistic)),
			planner.MemoryPolicy(
				mgrCfg.Scaling.MemScaleTarget,
				planner.Statistic(mgrCfg.Scaling.Statistic)),
		},
		planner.Options{
			Step:             mgrCfg.Scaling.Step,
			EvaluationWindow: mgrCfg.Scaling.EvaluationWindow,
			ScaleInWindow:    mgrCfg.Scaling.ScaleInWindow,
			ScaleOutCooldown: mgrCfg.Scaling.ScaleOutCooldown,
			ScaleInCooldown:  mgrCfg.Scaling.ScaleInCooldown,
		},
		nil,
		rootScope,
	)

	gate := healthgate.New(backend, 0, 0, rootScope)
	orch := orchestrator.New(backend, backend, gate, mgrCfg.Orchestra, rootScope)

	rec := reconciler.New(
		state,
		plnr,
		backend,
		orch,
		smplr.Queue(),
		mgrCfg.Reconciler,
		rootScope,
	)

	backgroundManager := background.NewManager()
	if err := smplr.RegisterOn(backgroundManager); err != nil {
		log.WithError(err).Fatal("Could not register sampler work")
	}

	handler := fleetmgr.NewHandler(rec, orch, mgrCfg.Deployment)
	handler.RegisterOn(mux)

	backgroundManager.Start()
	rec.Start()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("Serving ops endpoints")
		if err := server.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.WithField("signal", sig.String()).Info("Shutting down")

	server.Close()
	rec.Stop()
	backgroundManager.Stop()
}
