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

// Package sampler produces the time-ordered stream of fleet utilization
// samples consumed by the capacity planner.
package sampler

import (
	"context"
	"reflect"
	"time"

	"github.com/fleetop/fleetop/pkg/common/background"
	"github.com/fleetop/fleetop/pkg/common/queue"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"
	"github.com/uber-go/tally"
)

const (
	// DefaultPeriod is the default sampling period.
	DefaultPeriod = 60 * time.Second

	_samplerWorkName = "utilization-sampler"
	_collectTimeout  = 10 * time.Second
)

// Sample is one fleet utilization observation over a sampling period.
// CPUPct and MemPct are the mean and max over the period respectively.
type Sample struct {
	Timestamp   time.Time
	CPUPct      float64
	MemPct      float64
	RequestRate float64

	// NoData marks a period for which the metrics backend had no data.
	// Missing data is reported explicitly instead of being dropped, so
	// the planner can treat it as non-breaching.
	NoData bool
}

// Source produces one sample per call, aggregated over the sampling
// period, from the metrics/observability backend.
type Source interface {
	Collect(ctx context.Context) (*Sample, error)
}

// Sampler periodically collects samples from a source and enqueues them
// for the reconciler loop. The output queue is bounded; when the
// consumer falls behind, new samples are dropped and counted.
type Sampler struct {
	source Source
	period time.Duration
	out    queue.Queue
	mtx    *metrics
}

// New creates a sampler with a bounded output queue of the given size.
func New(
	source Source,
	period time.Duration,
	queueSize uint32,
	parent tally.Scope) *Sampler {
	if period == 0 {
		period = DefaultPeriod
	}
	return &Sampler{
		source: source,
		period: period,
		out: queue.NewQueue(
			"utilization-samples",
			reflect.TypeOf(Sample{}),
			queueSize),
		mtx: newMetrics(parent.SubScope("sampler")),
	}
}

// Queue returns the sampler's output queue.
func (s *Sampler) Queue() queue.Queue {
	return s.out
}

// RegisterOn registers the periodic sampling work on the manager.
func (s *Sampler) RegisterOn(mgr background.Manager) error {
	return mgr.RegisterWorks(background.Work{
		Name:   _samplerWorkName,
		Period: s.period,
		Func: func(_ *atomic.Bool) {
			s.sampleOnce()
		},
	})
}

func (s *Sampler) sampleOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), _collectTimeout)
	defer cancel()

	sample, err := s.source.Collect(ctx)
	if err != nil {
		log.WithError(err).Warn("Utilization collection failed, emitting no-data sample")
		s.mtx.collectFailed.Inc(1)
		sample = &Sample{NoData: true}
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	if err := s.out.Enqueue(sample); err != nil {
		log.WithError(err).Warn("Sample queue full, dropping sample")
		s.mtx.samplesDropped.Inc(1)
		return
	}
	s.mtx.samplesEmitted.Inc(1)
}
