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

package planner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fleetop/fleetop/pkg/fleetmgr/sampler"

	"github.com/pkg/errors"
)

// Statistic selects how samples in the evaluation window are reduced to
// a single value, either "average" or a percentile such as "p90".
type Statistic string

// StatisticAverage reduces the window to its arithmetic mean.
const StatisticAverage Statistic = "average"

// Validate checks that the statistic is the average or a percentile.
func (s Statistic) Validate() error {
	if s == StatisticAverage {
		return nil
	}
	if _, err := s.percentile(); err != nil {
		return err
	}
	return nil
}

func (s Statistic) percentile() (float64, error) {
	str := string(s)
	if !strings.HasPrefix(str, "p") {
		return 0, errors.Errorf("unknown statistic %q", str)
	}
	p, err := strconv.ParseFloat(str[1:], 64)
	if err != nil || p <= 0 || p > 100 {
		return 0, errors.Errorf("invalid percentile statistic %q", str)
	}
	return p, nil
}

// Reduce applies the statistic to the values. The caller guarantees the
// slice is non-empty.
func (s Statistic) Reduce(values []float64) float64 {
	if s == StatisticAverage || s == "" {
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}

	p, err := s.percentile()
	if err != nil {
		// Validated at config load time, fall back to the mean.
		return StatisticAverage.Reduce(values)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p/100*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// MetricPolicy is the scaling policy for one utilization metric.
type MetricPolicy struct {
	// Name of the metric, used in decision reasons.
	Name string
	// Target utilization percentage above which the policy proposes
	// scaling out.
	Target float64
	// Statistic used over the evaluation window.
	Statistic Statistic
	// Value extracts the metric from a sample. No-data samples are
	// never passed to Value.
	Value func(*sampler.Sample) float64
}

func (p *MetricPolicy) String() string {
	return fmt.Sprintf("%s>%v", p.Name, p.Target)
}

// CPUPolicy returns the scaling policy for CPU utilization.
func CPUPolicy(target float64, stat Statistic) *MetricPolicy {
	return &MetricPolicy{
		Name:      "cpu",
		Target:    target,
		Statistic: stat,
		Value:     func(s *sampler.Sample) float64 { return s.CPUPct },
	}
}

// MemoryPolicy returns the scaling policy for memory utilization.
func MemoryPolicy(target float64, stat Statistic) *MetricPolicy {
	return &MetricPolicy{
		Name:      "memory",
		Target:    target,
		Statistic: stat,
		Value:     func(s *sampler.Sample) float64 { return s.MemPct },
	}
}
