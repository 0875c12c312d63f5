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

// Package scheduler runs the filter, score and bind stages for one Pod
// at a time. Distinct Pods may be scheduled concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/fma-scheduler/pkg/config"
	"github.com/llm-d-incubation/fma-scheduler/pkg/provider"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/binder"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/metrics"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/predicates"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/scoring"
)

// Phase is how far a scheduling decision got.
type Phase string

const (
	PhasePending       Phase = "Pending"
	PhaseFiltering     Phase = "Filtering"
	PhaseScoring       Phase = "Scoring"
	PhaseSelected      Phase = "Selected"
	PhaseBinding       Phase = "Binding"
	PhaseBound         Phase = "Bound"
	PhaseUnschedulable Phase = "Unschedulable"
)

// Result describes one scheduling decision.
type Result struct {
	DecisionID string
	Phase      Phase

	// Node is the selected Node, empty if none.
	Node string

	// Scores holds the total score of every feasible Node, sorted by name.
	Scores []framework.NodeScore

	// Diagnosis holds the status of every Node that was filtered out.
	Diagnosis framework.Diagnosis
}

type Scheduler struct {
	provider    provider.Interface
	binder      *binder.Binder
	filters     []framework.FilterRule
	scorers     []framework.ScoreRule
	scoring     config.ScoringConfig
	parallelism int
	clock       clock.PassiveClock
}

type Option func(*Scheduler)

func WithFilterRules(rules ...framework.FilterRule) Option {
	return func(s *Scheduler) { s.filters = rules }
}

func WithScoreRules(rules ...framework.ScoreRule) Option {
	return func(s *Scheduler) { s.scorers = rules }
}

// WithScoring sets the score aggregation numbers and rebuilds the default
// score rules with its PreferNoSchedule penalty. Apply WithScoreRules
// after it to override the rules.
func WithScoring(sc config.ScoringConfig) Option {
	return func(s *Scheduler) {
		s.scoring = sc
		s.scorers = scoring.DefaultScoreRules(sc.PreferNoSchedulePenalty)
	}
}

// WithClock sets the clock that times attempts for the metrics.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// New makes a Scheduler with every built-in rule and the default
// scoring numbers.
func New(prov provider.Interface, opts ...Option) *Scheduler {
	defaults := config.Default()
	s := &Scheduler{
		provider:    prov,
		filters:     predicates.DefaultFilterRules(),
		scorers:     scoring.DefaultScoreRules(defaults.Scoring.PreferNoSchedulePenalty),
		scoring:     defaults.Scoring,
		parallelism: defaults.Parallelism,
		clock:       clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.binder = binder.New(prov, s.filters...)
	return s
}

// Binder returns the Binder, e.g. to Forget deleted Pods.
func (s *Scheduler) Binder() *binder.Binder {
	return s.binder
}

// Snapshot reads a point-in-time view of the cluster from the provider.
func (s *Scheduler) Snapshot(ctx context.Context) (*framework.Snapshot, error) {
	nodes, err := s.provider.ListNodes(ctx)
	if err != nil {
		return nil, asUnavailable(fmt.Errorf("failed to list nodes: %w", err))
	}
	pods, err := s.provider.ListBoundPods(ctx)
	if err != nil {
		return nil, asUnavailable(fmt.Errorf("failed to list bound pods: %w", err))
	}
	return framework.NewSnapshot(nodes, pods), nil
}

// asUnavailable makes sure a failure to read cluster state is reported
// as ErrProviderUnavailable.
func asUnavailable(err error) error {
	if errors.Is(err, framework.ErrProviderUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", framework.ErrProviderUnavailable, err)
}

// Schedule takes one Pod through filtering, scoring and binding against a
// fresh snapshot. It does not retry. The returned error, if any, wraps
// framework.ErrUnschedulable (as a *framework.FitError),
// framework.ErrBindConflict, framework.ErrProviderUnavailable or the
// context's error. The Result is non-nil whenever a decision was started.
func (s *Scheduler) Schedule(ctx context.Context, pod *corev1.Pod) (*Result, error) {
	started := s.clock.Now()
	observe := func(outcome string) { metrics.ObserveAttempt(outcome, s.clock.Since(started)) }
	decisionID := uuid.NewString()
	logger := klog.FromContext(ctx).WithValues("decisionID", decisionID, "pod", klog.KObj(pod))
	ctx = klog.NewContext(ctx, logger)
	result := &Result{DecisionID: decisionID, Phase: PhasePending}

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		observe(metrics.ResultError)
		return result, err
	}
	err = s.evaluate(ctx, pod, snapshot, result)
	if err != nil {
		if errors.Is(err, framework.ErrUnschedulable) {
			logger.V(2).Info("Pod is unschedulable", "reasons", err.Error())
			observe(metrics.ResultUnschedulable)
		} else {
			observe(metrics.ResultError)
		}
		return result, err
	}

	// A decision abandoned before the bind leaves nothing behind.
	if err := ctx.Err(); err != nil {
		logger.V(3).Info("Discarding decision", "node", result.Node, "err", err)
		observe(metrics.ResultError)
		return result, err
	}

	result.Phase = PhaseBinding
	err = s.binder.Bind(ctx, pod, result.Node)
	switch {
	case err == nil:
		result.Phase = PhaseBound
		logger.V(2).Info("Scheduled pod", "node", result.Node, "feasibleNodes", len(result.Scores), "allNodes", snapshot.NumNodes())
		observe(metrics.ResultScheduled)
		return result, nil
	case errors.Is(err, framework.ErrBindConflict):
		logger.V(3).Info("Bind conflict", "node", result.Node, "err", err)
		metrics.BindConflicts.Inc()
		observe(metrics.ResultConflict)
	default:
		observe(metrics.ResultError)
	}
	return result, err
}

// Evaluate filters and scores the Pod against the given snapshot and
// selects a Node, without binding. The result is a pure function of the
// Pod, the snapshot and the Scheduler's rules.
func (s *Scheduler) Evaluate(ctx context.Context, pod *corev1.Pod, snapshot *framework.Snapshot) (*Result, error) {
	result := &Result{DecisionID: uuid.NewString(), Phase: PhasePending}
	ctx = klog.NewContext(ctx, klog.FromContext(ctx).WithValues("decisionID", result.DecisionID, "pod", klog.KObj(pod)))
	return result, s.evaluate(ctx, pod, snapshot, result)
}

func (s *Scheduler) evaluate(ctx context.Context, pod *corev1.Pod, snapshot *framework.Snapshot, result *Result) error {
	logger := klog.FromContext(ctx)

	result.Phase = PhaseFiltering
	feasible, diagnosis, err := s.filter(ctx, pod, snapshot)
	result.Diagnosis = diagnosis
	if err != nil {
		return err
	}
	if len(feasible) == 0 {
		result.Phase = PhaseUnschedulable
		return &framework.FitError{Pod: pod, NumAllNodes: snapshot.NumNodes(), Diagnosis: diagnosis}
	}
	logger.V(4).Info("Filtered nodes", "feasible", len(feasible), "all", snapshot.NumNodes())

	result.Phase = PhaseScoring
	scores, err := s.score(ctx, pod, feasible, snapshot)
	if err != nil {
		return err
	}
	result.Scores = scores
	result.Node = selectHost(scores)
	result.Phase = PhaseSelected
	logger.V(4).Info("Selected node", "node", result.Node, "scores", scores)
	return nil
}

// filter runs every filter rule on every Node. A Node passes iff all rules
// pass; evaluation of a Node stops at its first failing rule.
func (s *Scheduler) filter(ctx context.Context, pod *corev1.Pod, snapshot *framework.Snapshot) ([]*framework.NodeInfo, framework.Diagnosis, error) {
	nodeInfos := snapshot.NodeInfos()
	statuses := make([]*framework.Status, len(nodeInfos))
	workqueue.ParallelizeUntil(ctx, s.parallelism, len(nodeInfos), func(i int) {
		for _, rule := range s.filters {
			status := rule.Filter(ctx, pod, nodeInfos[i], snapshot)
			if !status.IsSuccess() {
				statuses[i] = status.WithRule(rule.Kind())
				return
			}
		}
	})
	diagnosis := framework.Diagnosis{NodeToStatus: map[string]*framework.Status{}}
	if err := ctx.Err(); err != nil {
		// Some Nodes may not have been evaluated.
		return nil, diagnosis, err
	}
	feasible := make([]*framework.NodeInfo, 0, len(nodeInfos))
	for i, nodeInfo := range nodeInfos {
		if statuses[i].IsSuccess() {
			feasible = append(feasible, nodeInfo)
			continue
		}
		diagnosis.NodeToStatus[nodeInfo.Name()] = statuses[i]
		metrics.RuleFailures.WithLabelValues(string(statuses[i].Rule())).Inc()
	}
	return feasible, diagnosis, nil
}

// score totals the clamped and weighted contributions of every score
// rule for each feasible Node.
func (s *Scheduler) score(ctx context.Context, pod *corev1.Pod, feasible []*framework.NodeInfo, snapshot *framework.Snapshot) ([]framework.NodeScore, error) {
	logger := klog.FromContext(ctx)
	scores := make([]framework.NodeScore, len(feasible))
	workqueue.ParallelizeUntil(ctx, s.parallelism, len(feasible), func(i int) {
		var total int64
		for _, rule := range s.scorers {
			raw, status := rule.Score(ctx, pod, feasible[i], snapshot)
			if !status.IsSuccess() {
				logger.V(4).Info("Score rule failed; contributes nothing", "rule", rule.Kind(), "node", feasible[i].Name(), "status", status.Message())
				continue
			}
			total += clamp(raw, s.scoring.RuleScoreLimit) * s.scoring.Weight(rule.Kind())
		}
		scores[i] = framework.NodeScore{Name: feasible[i].Name(), Score: clamp(total, s.scoring.MaxTotalScore)}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

func clamp(value, limit int64) int64 {
	if value > limit {
		return limit
	}
	if value < -limit {
		return -limit
	}
	return value
}

// selectHost returns the Node with the highest score; among equals, the
// one with the lexically smallest name.
func selectHost(scores []framework.NodeScore) string {
	best := scores[0]
	for _, ns := range scores[1:] {
		if ns.Score > best.Score || (ns.Score == best.Score && ns.Name < best.Name) {
			best = ns
		}
	}
	return best.Name
}
