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

package binder

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/provider"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/predicates"
)

// Binder is the only part of the scheduler that changes cluster state.
// Binds to the same Node are serialized; binds to different Nodes proceed
// in parallel, except that a Pod with required inter-pod terms is bound
// while no other bind is in progress, since those terms span a topology
// domain rather than one Node.
type Binder struct {
	provider provider.Interface
	filters  []framework.FilterRule

	// topologyLock is held exclusively by binds of Pods with required
	// inter-pod terms and shared by all other binds.
	topologyLock sync.RWMutex

	mutex sync.Mutex

	// nodeLocks holds one lock per Node name ever bound to.
	// Access only while holding mutex.
	nodeLocks map[string]*sync.Mutex

	// assumed holds Pods committed by this Binder that the provider
	// has not yet listed as bound. Access only while holding mutex.
	assumed map[types.UID]*corev1.Pod
}

// New makes a Binder that re-runs the given filter rules, besides the
// capacity check, against the provider's current state before every commit.
func New(prov provider.Interface, filters ...framework.FilterRule) *Binder {
	return &Binder{
		provider:  prov,
		filters:   filters,
		nodeLocks: map[string]*sync.Mutex{},
		assumed:   map[types.UID]*corev1.Pod{},
	}
}

func (b *Binder) nodeLock(nodeName string) *sync.Mutex {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	lock, ok := b.nodeLocks[nodeName]
	if !ok {
		lock = &sync.Mutex{}
		b.nodeLocks[nodeName] = lock
	}
	return lock
}

// Bind re-validates that the Pod still fits on the Node against the
// provider's current state and then commits the binding.
// A returned error wraps framework.ErrBindConflict when the caller should
// retry from a fresh snapshot, or framework.ErrProviderUnavailable.
func (b *Binder) Bind(ctx context.Context, pod *corev1.Pod, nodeName string) error {
	logger := klog.FromContext(ctx).WithValues("node", nodeName)
	if predicates.HasRequiredInterPodTerms(pod) {
		b.topologyLock.Lock()
		defer b.topologyLock.Unlock()
	} else {
		b.topologyLock.RLock()
		defer b.topologyLock.RUnlock()
	}
	lock := b.nodeLock(nodeName)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	nodes, err := b.provider.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	bound, err := b.provider.ListBoundPods(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bound pods: %w", err)
	}

	listed := make(map[types.UID]struct{}, len(bound))
	for _, other := range bound {
		if other.UID != "" {
			listed[other.UID] = struct{}{}
		}
		if (pod.UID != "" && other.UID == pod.UID) || (other.Namespace == pod.Namespace && other.Name == pod.Name) {
			return fmt.Errorf("pod %s is already bound to %q: %w", klog.KObj(pod), other.Spec.NodeName, framework.ErrBindConflict)
		}
	}
	assumed := b.reconcileAssumed(listed)
	for _, other := range assumed {
		if other.UID == pod.UID {
			return fmt.Errorf("pod %s was already bound to %q: %w", klog.KObj(pod), other.Spec.NodeName, framework.ErrBindConflict)
		}
	}

	snapshot := framework.NewSnapshot(nodes, append(bound, assumed...))
	nodeInfo := snapshot.Get(nodeName)
	if nodeInfo == nil {
		return fmt.Errorf("node %q no longer exists: %w", nodeName, framework.ErrBindConflict)
	}
	short := framework.InsufficientResources(nodeInfo.Node().Status.Allocatable, nodeInfo.Requested, framework.PodRequests(pod))
	if len(short) > 0 {
		logger.V(3).Info("Pod no longer fits", "pod", klog.KObj(pod), "insufficient", short)
		return fmt.Errorf("node %q has insufficient %v: %w", nodeName, short, framework.ErrBindConflict)
	}
	for _, rule := range b.filters {
		if status := rule.Filter(ctx, pod, nodeInfo, snapshot); !status.IsSuccess() {
			logger.V(3).Info("Pod no longer passes a filter", "pod", klog.KObj(pod), "rule", rule.Kind(), "reasons", status.Reasons())
			return fmt.Errorf("node %q no longer passes %s (%s): %w", nodeName, rule.Kind(), status.Message(), framework.ErrBindConflict)
		}
	}

	if err := b.provider.CommitBinding(ctx, pod, nodeName); err != nil {
		return err
	}
	b.assume(pod, nodeName)
	logger.V(2).Info("Bound pod", "pod", klog.KObj(pod))
	return nil
}

// reconcileAssumed drops the assumed Pods that the provider now lists
// and returns the remaining ones.
func (b *Binder) reconcileAssumed(listed map[types.UID]struct{}) []*corev1.Pod {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	ans := make([]*corev1.Pod, 0, len(b.assumed))
	for uid, pod := range b.assumed {
		if _, ok := listed[uid]; ok {
			delete(b.assumed, uid)
			continue
		}
		ans = append(ans, pod)
	}
	return ans
}

func (b *Binder) assume(pod *corev1.Pod, nodeName string) {
	if pod.UID == "" {
		return
	}
	assumed := pod.DeepCopy()
	assumed.Spec.NodeName = nodeName
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.assumed[pod.UID] = assumed
}

// Forget removes a Pod from the assumed set, e.g. when it was deleted
// before the provider reported it bound.
func (b *Binder) Forget(uid types.UID) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.assumed, uid)
}

// IsAssumed tells whether the Pod was bound by this Binder but is not yet
// listed as bound by the provider.
func (b *Binder) IsAssumed(uid types.UID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	_, ok := b.assumed[uid]
	return ok
}

// Observe is told of a change to a Pod. A Pod that has finished is dropped
// from the assumed set, since providers do not list finished Pods as bound.
func (b *Binder) Observe(pod *corev1.Pod) {
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		b.Forget(pod.UID)
	}
}

// NumAssumed reports how many committed Pods are not yet listed as bound.
func (b *Binder) NumAssumed() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.assumed)
}
