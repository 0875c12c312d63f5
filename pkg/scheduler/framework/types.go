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

package framework

import (
	"sort"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// NodeInfo is a Node together with the Pods bound to it.
type NodeInfo struct {
	node      *corev1.Node
	Pods      []*corev1.Pod
	Requested corev1.ResourceList
}

// NewNodeInfo makes a NodeInfo. The given objects are not copied.
func NewNodeInfo(node *corev1.Node, pods ...*corev1.Pod) *NodeInfo {
	ni := &NodeInfo{node: node, Requested: corev1.ResourceList{}}
	for _, pod := range pods {
		ni.AddPod(pod)
	}
	return ni
}

func (ni *NodeInfo) Node() *corev1.Node {
	if ni == nil {
		return nil
	}
	return ni.node
}

func (ni *NodeInfo) Name() string {
	if ni == nil || ni.node == nil {
		return ""
	}
	return ni.node.Name
}

// AddPod accounts a Pod as bound to this Node.
func (ni *NodeInfo) AddPod(pod *corev1.Pod) {
	ni.Pods = append(ni.Pods, pod)
	AddResources(ni.Requested, PodRequests(pod))
}

// PodRequests returns the effective resource request of a Pod:
// the sum over containers, raised to any larger init container request,
// plus one "pods" slot.
func PodRequests(pod *corev1.Pod) corev1.ResourceList {
	reqs := corev1.ResourceList{}
	for _, ctr := range pod.Spec.Containers {
		AddResources(reqs, ctr.Resources.Requests)
	}
	for _, ctr := range pod.Spec.InitContainers {
		for name, qty := range ctr.Resources.Requests {
			if cur, ok := reqs[name]; !ok || qty.Cmp(cur) > 0 {
				reqs[name] = qty.DeepCopy()
			}
		}
	}
	reqs[corev1.ResourcePods] = *resource.NewQuantity(1, resource.DecimalSI)
	return reqs
}

// AddResources adds delta into sum, in place.
func AddResources(sum, delta corev1.ResourceList) {
	for name, qty := range delta {
		cur := sum[name]
		cur.Add(qty)
		sum[name] = cur
	}
}

// InsufficientResources returns the names of the resources for which
// requested+already exceeds allocatable, sorted.
// A resource missing from allocatable counts as zero,
// except "pods" which is then unlimited.
func InsufficientResources(allocatable, already, requested corev1.ResourceList) []corev1.ResourceName {
	var short []corev1.ResourceName
	for name, want := range requested {
		if want.IsZero() {
			continue
		}
		capQty, ok := allocatable[name]
		if !ok {
			if name == corev1.ResourcePods {
				continue
			}
			capQty = resource.Quantity{}
		}
		total := already[name].DeepCopy()
		total.Add(want)
		if total.Cmp(capQty) > 0 {
			short = append(short, name)
		}
	}
	sort.Slice(short, func(i, j int) bool { return short[i] < short[j] })
	return short
}
