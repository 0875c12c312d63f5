/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const subsystem = "scheduler"

// Results of one scheduling attempt.
const (
	ResultScheduled     = "scheduled"
	ResultUnschedulable = "unschedulable"
	ResultConflict      = "conflict"
	ResultError         = "error"
)

// Registry holds every scheduler metric; it is what /metrics serves.
var Registry = prometheus.NewRegistry()

var (
	// ScheduleAttempts counts scheduling attempts by result.
	ScheduleAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "schedule_attempts_total",
			Help:      "Number of attempts to schedule pods, by the result.",
		},
		[]string{"result"},
	)

	// AttemptDuration observes the latency of a whole attempt by result.
	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "attempt_duration_seconds",
			Help:      "Scheduling attempt latency in seconds, by the result.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"result"},
	)

	// RuleFailures counts Nodes rejected by each filter rule.
	RuleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "filter_rejections_total",
			Help:      "Number of nodes rejected, by the filter rule that rejected them.",
		},
		[]string{"rule"},
	)

	// BindConflicts counts binds that lost a race.
	BindConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "bind_conflicts_total",
			Help:      "Number of binds that failed with a conflict.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ScheduleAttempts,
		AttemptDuration,
		RuleFailures,
		BindConflicts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveAttempt records one finished attempt.
func ObserveAttempt(result string, elapsed time.Duration) {
	ScheduleAttempts.WithLabelValues(result).Inc()
	AttemptDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
