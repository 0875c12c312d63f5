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

// Package sim schedules the pending Pods of a cluster fixture without a
// real cluster.
package sim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/llm-d-incubation/fma-scheduler/pkg/provider/memory"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

// Fixture is a cluster described in YAML: Nodes plus Pods, where Pods
// with a spec.nodeName are already bound.
type Fixture struct {
	Nodes []corev1.Node `json:"nodes"`
	Pods  []corev1.Pod  `json:"pods"`
}

func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

func ParseFixture(data []byte) (*Fixture, error) {
	fixture := &Fixture{}
	if err := yaml.UnmarshalStrict(data, fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	for i := range fixture.Pods {
		defaultNamespace(&fixture.Pods[i])
	}
	return fixture, nil
}

// LoadPod reads one Pod from a YAML file.
func LoadPod(path string) (*corev1.Pod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pod: %w", err)
	}
	return ParsePod(data)
}

// ParsePod decodes one Pod and puts it in the default namespace when it
// names none, as the API server would.
func ParsePod(data []byte) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if err := yaml.UnmarshalStrict(data, pod); err != nil {
		return nil, fmt.Errorf("failed to parse pod: %w", err)
	}
	defaultNamespace(pod)
	return pod, nil
}

func defaultNamespace(pod *corev1.Pod) {
	if pod.Namespace == "" {
		pod.Namespace = corev1.NamespaceDefault
	}
}

// Store is where a fixture is loaded into.
type Store interface {
	AddNode(ctx context.Context, node *corev1.Node) error
	AddPod(ctx context.Context, pod *corev1.Pod) error
	ListPendingPods(ctx context.Context) ([]*corev1.Pod, error)
}

// Seed writes every Node and Pod of the fixture into the store.
func Seed(ctx context.Context, store Store, fixture *Fixture) error {
	for i := range fixture.Nodes {
		if err := store.AddNode(ctx, &fixture.Nodes[i]); err != nil {
			return fmt.Errorf("failed to add node %q: %w", fixture.Nodes[i].Name, err)
		}
	}
	for i := range fixture.Pods {
		if err := store.AddPod(ctx, &fixture.Pods[i]); err != nil {
			return fmt.Errorf("failed to add pod %s: %w", klog.KObj(&fixture.Pods[i]), err)
		}
	}
	return nil
}

// Outcome is what happened to one Pod.
type Outcome struct {
	Namespace string          `json:"namespace"`
	Name      string          `json:"name"`
	Phase     scheduler.Phase `json:"phase"`
	Node      string          `json:"node,omitempty"`
	Score     int64           `json:"score"`
	Attempts  int             `json:"attempts"`
	Reasons   []string        `json:"reasons,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Options tune Run.
type Options struct {
	Workers        int
	MaxBindRetries int
}

// Run schedules the given Pods with up to opts.Workers in flight,
// restarting a Pod from a fresh snapshot after a bind conflict at most
// opts.MaxBindRetries times. It stops early only if the provider becomes
// unavailable or ctx is done. Outcomes are in namespace/name order.
func Run(ctx context.Context, sched *scheduler.Scheduler, pods []*corev1.Pod, opts Options) ([]Outcome, error) {
	var mutex sync.Mutex
	outcomes := make([]Outcome, 0, len(pods))

	group, groupCtx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		group.SetLimit(opts.Workers)
	}
	for _, pod := range pods {
		group.Go(func() error {
			outcome, err := schedulePod(groupCtx, sched, pod, opts.MaxBindRetries)
			mutex.Lock()
			outcomes = append(outcomes, outcome)
			mutex.Unlock()
			return err
		})
	}
	err := group.Wait()
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Namespace != outcomes[j].Namespace {
			return outcomes[i].Namespace < outcomes[j].Namespace
		}
		return outcomes[i].Name < outcomes[j].Name
	})
	return outcomes, err
}

// schedulePod returns an error only when the whole run should stop.
func schedulePod(ctx context.Context, sched *scheduler.Scheduler, pod *corev1.Pod, maxBindRetries int) (Outcome, error) {
	outcome := Outcome{Namespace: pod.Namespace, Name: pod.Name, Phase: scheduler.PhasePending}
	for {
		outcome.Attempts++
		result, err := sched.Schedule(ctx, pod)
		if result != nil {
			outcome.Phase = result.Phase
			outcome.Node = result.Node
			outcome.Score = scoreOf(result)
			outcome.Reasons = result.Diagnosis.Reasons()
		}
		switch {
		case err == nil:
			return outcome, nil
		case errors.Is(err, framework.ErrUnschedulable):
			outcome.Node = ""
			return outcome, nil
		case errors.Is(err, framework.ErrBindConflict) && outcome.Attempts <= maxBindRetries:
			continue
		case errors.Is(err, framework.ErrBindConflict):
			outcome.Error = err.Error()
			return outcome, nil
		default:
			outcome.Error = err.Error()
			return outcome, err
		}
	}
}

func scoreOf(result *scheduler.Result) int64 {
	for _, ns := range result.Scores {
		if ns.Name == result.Node {
			return ns.Score
		}
	}
	return 0
}

// MemoryStore adapts the in-memory provider to Store.
func MemoryStore(p *memory.Provider) Store {
	return memoryStore{p}
}

type memoryStore struct {
	*memory.Provider
}

func (ms memoryStore) AddNode(_ context.Context, node *corev1.Node) error {
	ms.Provider.AddNode(node)
	return nil
}

func (ms memoryStore) AddPod(_ context.Context, pod *corev1.Pod) error {
	ms.Provider.AddPod(pod)
	return nil
}
