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

// Package memory is an in-process cluster state provider,
// used by the simulator and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/uuid"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/provider"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/predicates"
)

// Provider keeps Nodes and Pods in maps guarded by one mutex.
// Every method is safe for concurrent use.
type Provider struct {
	mutex sync.Mutex
	nodes map[string]*corev1.Node
	pods  map[types.NamespacedName]*corev1.Pod

	// unavailable, when set, makes every call fail with ErrProviderUnavailable.
	unavailable bool
}

var _ provider.Interface = &Provider{}

func New() *Provider {
	return &Provider{
		nodes: map[string]*corev1.Node{},
		pods:  map[types.NamespacedName]*corev1.Pod{},
	}
}

// AddNode adds or replaces a Node.
func (p *Provider) AddNode(node *corev1.Node) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.nodes[node.Name] = node.DeepCopy()
}

func (p *Provider) DeleteNode(name string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.nodes, name)
}

// AddPod adds or replaces a Pod, bound or not. A Pod without a UID is
// given one.
func (p *Provider) AddPod(pod *corev1.Pod) {
	pod = pod.DeepCopy()
	if pod.UID == "" {
		pod.UID = uuid.NewUUID()
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pods[types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}] = pod
}

func (p *Provider) DeletePod(namespace, name string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.pods, types.NamespacedName{Namespace: namespace, Name: name})
}

// Evict clears the binding of a Pod, returning it to Pending.
func (p *Provider) Evict(namespace, name string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	pod, ok := p.pods[types.NamespacedName{Namespace: namespace, Name: name}]
	if !ok {
		return fmt.Errorf("pod %s/%s not found", namespace, name)
	}
	pod.Spec.NodeName = ""
	return nil
}

// SetUnavailable simulates losing the connection to the cluster.
func (p *Provider) SetUnavailable(unavailable bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.unavailable = unavailable
}

// GetPod returns a copy of the named Pod, or nil.
func (p *Provider) GetPod(namespace, name string) *corev1.Pod {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	pod, ok := p.pods[types.NamespacedName{Namespace: namespace, Name: name}]
	if !ok {
		return nil
	}
	return pod.DeepCopy()
}

func (p *Provider) ListNodes(ctx context.Context) ([]*corev1.Node, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.unavailable {
		return nil, framework.ErrProviderUnavailable
	}
	return p.listNodes(), nil
}

func (p *Provider) listNodes() []*corev1.Node {
	ans := make([]*corev1.Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		ans = append(ans, node.DeepCopy())
	}
	sort.Slice(ans, func(i, j int) bool { return ans[i].Name < ans[j].Name })
	return ans
}

func (p *Provider) ListBoundPods(ctx context.Context) ([]*corev1.Pod, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.unavailable {
		return nil, framework.ErrProviderUnavailable
	}
	return p.listPods(func(pod *corev1.Pod) bool { return pod.Spec.NodeName != "" }), nil
}

// ListPendingPods returns the Pods without a Node, in namespace/name order.
func (p *Provider) ListPendingPods(ctx context.Context) ([]*corev1.Pod, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.unavailable {
		return nil, framework.ErrProviderUnavailable
	}
	return p.listPods(func(pod *corev1.Pod) bool { return pod.Spec.NodeName == "" }), nil
}

func (p *Provider) listPods(keep func(*corev1.Pod) bool) []*corev1.Pod {
	ans := make([]*corev1.Pod, 0, len(p.pods))
	for _, pod := range p.pods {
		if keep(pod) {
			ans = append(ans, pod.DeepCopy())
		}
	}
	sort.Slice(ans, func(i, j int) bool {
		if ans[i].Namespace != ans[j].Namespace {
			return ans[i].Namespace < ans[j].Namespace
		}
		return ans[i].Name < ans[j].Name
	})
	return ans
}

// CommitBinding sets spec.nodeName of the stored Pod. It re-checks,
// atomically with the write, that the Pod is still pending, still fits
// and still satisfies the required inter-pod terms.
func (p *Provider) CommitBinding(ctx context.Context, pod *corev1.Pod, nodeName string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.unavailable {
		return framework.ErrProviderUnavailable
	}
	key := types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}
	stored, ok := p.pods[key]
	if !ok {
		return fmt.Errorf("pod %s not found: %w", key, framework.ErrBindConflict)
	}
	if pod.UID != "" && stored.UID != pod.UID {
		return fmt.Errorf("pod %s was replaced: %w", key, framework.ErrBindConflict)
	}
	if stored.Spec.NodeName != "" {
		return fmt.Errorf("pod %s is already bound to %q: %w", key, stored.Spec.NodeName, framework.ErrBindConflict)
	}
	node, ok := p.nodes[nodeName]
	if !ok {
		return fmt.Errorf("node %q not found: %w", nodeName, framework.ErrBindConflict)
	}
	snapshot := framework.NewSnapshot(p.listNodes(), p.listPods(func(other *corev1.Pod) bool { return other.Spec.NodeName != "" }))
	nodeInfo := snapshot.Get(nodeName)
	if short := framework.InsufficientResources(node.Status.Allocatable, nodeInfo.Requested, framework.PodRequests(stored)); len(short) > 0 {
		return fmt.Errorf("node %q has insufficient %v: %w", nodeName, short, framework.ErrBindConflict)
	}
	if status := (predicates.InterPodAffinity{}).Filter(ctx, stored, nodeInfo, snapshot); !status.IsSuccess() {
		return fmt.Errorf("node %q: %s: %w", nodeName, status.Message(), framework.ErrBindConflict)
	}
	stored.Spec.NodeName = nodeName
	klog.FromContext(ctx).V(4).Info("Committed binding", "pod", key, "node", nodeName)
	return nil
}
