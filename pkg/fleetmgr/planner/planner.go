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

// Package planner converts recent utilization samples into scaling
// decisions with hysteresis and cooldown rules.
package planner

import (
	"fmt"
	"time"

	"github.com/fleetop/fleetop/pkg/fleetmgr/sampler"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

// ErrNoSamples is returned when the evaluation window holds no samples.
// The caller treats it as a Hold.
var ErrNoSamples = errors.New("no utilization samples in evaluation window")

// Direction of a scaling decision.
type Direction int

const (
	// Hold keeps the current desired count.
	Hold Direction = iota
	// ScaleOut increases the desired count.
	ScaleOut
	// ScaleIn decreases the desired count.
	ScaleIn
)

func (d Direction) String() string {
	switch d {
	case ScaleOut:
		return "SCALE_OUT"
	case ScaleIn:
		return "SCALE_IN"
	default:
		return "HOLD"
	}
}

// Decision is the outcome of one planner evaluation. A decision is
// terminal: the planner never mutates it after returning it.
type Decision struct {
	Direction       Direction
	NewDesiredCount int
	Reason          string
	CooldownUntil   time.Time
}

// Bounds are the scaling bounds in effect for an evaluation.
type Bounds struct {
	Min     int
	Max     int
	Current int
}

// Options configure the planner.
type Options struct {
	// Step is the count added or removed per decision.
	Step int
	// EvaluationWindow is the look-back window for scale-out.
	EvaluationWindow time.Duration
	// ScaleInWindow is the sustained look-back window required before
	// scaling in.
	ScaleInWindow time.Duration
	// ScaleOutCooldown is the minimum gap between two scale-out
	// decisions. Kept short to favor responsiveness.
	ScaleOutCooldown time.Duration
	// ScaleInCooldown is the minimum gap between two scale-in
	// decisions. Kept long to prevent thrashing.
	ScaleInCooldown time.Duration
}

// MergeFn merges two scaling proposals for the same evaluation into one.
type MergeFn func(a, b *Decision) *Decision

// PreferMoreCapacity picks the proposal with the higher desired count.
// This is the default merge policy: when independent metrics disagree,
// the planner biases toward more capacity.
func PreferMoreCapacity(a, b *Decision) *Decision {
	if b.NewDesiredCount > a.NewDesiredCount {
		return b
	}
	return a
}

// Planner holds the sliding sample window and cooldown state for one
// fleet. It is driven from the reconciler loop only and needs no
// internal locking.
type Planner struct {
	policies []*MetricPolicy
	opts     Options
	merge    MergeFn

	window []*sampler.Sample

	scaleOutCooldownUntil time.Time
	scaleInCooldownUntil  time.Time

	mtx *metrics
}

// New creates a planner from the given metric policies.
func New(
	policies []*MetricPolicy,
	opts Options,
	merge MergeFn,
	parent tally.Scope) *Planner {
	if merge == nil {
		merge = PreferMoreCapacity
	}
	return &Planner{
		policies: policies,
		opts:     opts,
		merge:    merge,
		mtx:      newMetrics(parent.SubScope("planner")),
	}
}

// Observe appends a sample to the window and evicts samples older than
// the retention horizon.
func (p *Planner) Observe(s *sampler.Sample) {
	p.window = append(p.window, s)
	p.trim(s.Timestamp)
}

func (p *Planner) retention() time.Duration {
	if p.opts.ScaleInWindow > p.opts.EvaluationWindow {
		return p.opts.ScaleInWindow
	}
	return p.opts.EvaluationWindow
}

func (p *Planner) trim(now time.Time) {
	horizon := now.Add(-p.retention())
	i := 0
	for ; i < len(p.window); i++ {
		if !p.window[i].Timestamp.Before(horizon) {
			break
		}
	}
	p.window = p.window[i:]
}

// Evaluate runs one planning cycle and returns the scaling decision.
// An empty window yields a Hold decision together with ErrNoSamples;
// the planner never escalates the condition beyond that.
func (p *Planner) Evaluate(now time.Time, b Bounds) (*Decision, error) {
	p.trim(now)

	if len(p.window) == 0 {
		p.mtx.emptyWindow.Inc(1)
		log.WithField("retention", p.retention()).
			Warn("No samples in evaluation window, holding")
		return p.hold(b, "no samples in window"), ErrNoSamples
	}

	var out, in *Decision
	allSustainedLow := true
	for _, policy := range p.policies {
		proposal := p.evaluatePolicy(now, policy, b)
		switch proposal.Direction {
		case ScaleOut:
			allSustainedLow = false
			if out == nil {
				out = proposal
			} else {
				out = p.merge(out, proposal)
			}
		case ScaleIn:
			if in == nil {
				in = proposal
			} else {
				in = p.merge(in, proposal)
			}
		default:
			allSustainedLow = false
		}
	}

	// Scaling in is safe only when every metric has been below target
	// for the sustained window.
	if !allSustainedLow {
		in = nil
	}

	switch {
	case out != nil && in != nil:
		// Disjoint thresholds should make this impossible, but the
		// tie-break is explicit: hold.
		p.mtx.conflictingDecisions.Inc(1)
		return p.hold(b, "conflicting scale-out and scale-in proposals"), nil
	case out != nil:
		return p.applyCooldown(now, out, b)
	case in != nil:
		return p.applyCooldown(now, in, b)
	default:
		return p.hold(b, "utilization within targets"), nil
	}
}

// evaluatePolicy produces a proposal for a single metric.
func (p *Planner) evaluatePolicy(
	now time.Time,
	policy *MetricPolicy,
	b Bounds) *Decision {
	evalHorizon := now.Add(-p.opts.EvaluationWindow)
	inHorizon := now.Add(-p.opts.ScaleInWindow)

	var evalValues []float64
	sustainedLow := true
	coverageStart := now
	for _, s := range p.window {
		if s.NoData {
			// No-data is non-breaching and does not break a sustained
			// low streak.
			continue
		}
		v := policy.Value(s)
		if !s.Timestamp.Before(evalHorizon) {
			evalValues = append(evalValues, v)
		}
		if !s.Timestamp.Before(inHorizon) {
			if v >= policy.Target {
				sustainedLow = false
			}
			if s.Timestamp.Before(coverageStart) {
				coverageStart = s.Timestamp
			}
		}
	}

	if len(evalValues) > 0 {
		stat := policy.Statistic.Reduce(evalValues)
		if stat > policy.Target {
			return &Decision{
				Direction:       ScaleOut,
				NewDesiredCount: clamp(b.Current+p.opts.Step, b.Min, b.Max),
				Reason: fmt.Sprintf(
					"%s %s=%.1f above target %.1f",
					policy.Name, policy.Statistic, stat, policy.Target),
			}
		}
	}

	// Scale-in requires the low streak to span the full sustained
	// window, not just whatever samples happen to be retained.
	if sustainedLow &&
		!coverageStart.After(inHorizon.Add(p.opts.EvaluationWindow)) &&
		coverageStart.Before(now) {
		return &Decision{
			Direction:       ScaleIn,
			NewDesiredCount: clamp(b.Current-p.opts.Step, b.Min, b.Max),
			Reason: fmt.Sprintf(
				"%s below target %.1f for %s",
				policy.Name, policy.Target, p.opts.ScaleInWindow),
		}
	}

	return &Decision{
		Direction:       Hold,
		NewDesiredCount: b.Current,
		Reason:          fmt.Sprintf("%s within target", policy.Name),
	}
}

// applyCooldown suppresses a decision whose direction is still cooling
// down, and arms the cooldown of the direction it emits.
func (p *Planner) applyCooldown(
	now time.Time,
	d *Decision,
	b Bounds) (*Decision, error) {
	switch d.Direction {
	case ScaleOut:
		if now.Before(p.scaleOutCooldownUntil) {
			p.mtx.cooldownSuppressed.Inc(1)
			return p.hold(b, fmt.Sprintf(
				"scale-out cooldown active until %s",
				p.scaleOutCooldownUntil.Format(time.RFC3339))), nil
		}
		if d.NewDesiredCount == b.Current {
			return p.hold(b, "already at max count"), nil
		}
		p.scaleOutCooldownUntil = now.Add(p.opts.ScaleOutCooldown)
		d.CooldownUntil = p.scaleOutCooldownUntil
		p.mtx.scaleOutDecisions.Inc(1)
	case ScaleIn:
		if now.Before(p.scaleInCooldownUntil) {
			p.mtx.cooldownSuppressed.Inc(1)
			return p.hold(b, fmt.Sprintf(
				"scale-in cooldown active until %s",
				p.scaleInCooldownUntil.Format(time.RFC3339))), nil
		}
		if d.NewDesiredCount == b.Current {
			return p.hold(b, "already at min count"), nil
		}
		p.scaleInCooldownUntil = now.Add(p.opts.ScaleInCooldown)
		d.CooldownUntil = p.scaleInCooldownUntil
		p.mtx.scaleInDecisions.Inc(1)
	}

	log.WithFields(log.Fields{
		"direction":   d.Direction.String(),
		"new_desired": d.NewDesiredCount,
		"reason":      d.Reason,
	}).Info("Scaling decision emitted")
	return d, nil
}

func (p *Planner) hold(b Bounds, reason string) *Decision {
	p.mtx.holdDecisions.Inc(1)
	return &Decision{
		Direction:       Hold,
		NewDesiredCount: b.Current,
		Reason:          reason,
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
