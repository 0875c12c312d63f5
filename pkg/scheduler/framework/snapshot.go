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
)

// Snapshot is a point-in-time, read-only view of the cluster used by one
// scheduling decision. It owns deep copies of everything it holds, so later
// changes by the provider can not tear it.
type Snapshot struct {
	nodeInfos []*NodeInfo
	byName    map[string]*NodeInfo
	boundPods []*corev1.Pod
}

// NewSnapshot builds a Snapshot from Nodes and the Pods bound to them.
// Pods with an empty spec.nodeName are ignored.
func NewSnapshot(nodes []*corev1.Node, pods []*corev1.Pod) *Snapshot {
	snap := &Snapshot{byName: make(map[string]*NodeInfo, len(nodes))}
	for _, node := range nodes {
		if node == nil {
			continue
		}
		ni := NewNodeInfo(node.DeepCopy())
		snap.byName[node.Name] = ni
		snap.nodeInfos = append(snap.nodeInfos, ni)
	}
	sort.Slice(snap.nodeInfos, func(i, j int) bool {
		return snap.nodeInfos[i].Name() < snap.nodeInfos[j].Name()
	})
	for _, pod := range pods {
		if pod == nil || pod.Spec.NodeName == "" {
			continue
		}
		pod = pod.DeepCopy()
		snap.boundPods = append(snap.boundPods, pod)
		if ni, ok := snap.byName[pod.Spec.NodeName]; ok {
			ni.AddPod(pod)
		}
	}
	return snap
}

// NodeInfos returns all nodes sorted by name.
func (s *Snapshot) NodeInfos() []*NodeInfo {
	return s.nodeInfos
}

// Get returns the NodeInfo of the named Node, or nil.
func (s *Snapshot) Get(nodeName string) *NodeInfo {
	return s.byName[nodeName]
}

func (s *Snapshot) NumNodes() int {
	return len(s.nodeInfos)
}

// BoundPods returns every bound Pod, including those on Nodes
// that are not in the snapshot.
func (s *Snapshot) BoundPods() []*corev1.Pod {
	return s.boundPods
}

// PodsInDomain returns the Pods bound to Nodes whose label topologyKey
// has the given value.
func (s *Snapshot) PodsInDomain(topologyKey, value string) []*corev1.Pod {
	var ans []*corev1.Pod
	for _, ni := range s.nodeInfos {
		if v, ok := ni.Node().Labels[topologyKey]; ok && v == value {
			ans = append(ans, ni.Pods...)
		}
	}
	return ans
}

// SameDomain tells whether two Nodes share a value for the topology key.
// A Node without the key is in no domain.
func SameDomain(a, b *corev1.Node, topologyKey string) bool {
	if a == nil || b == nil {
		return false
	}
	va, oka := a.Labels[topologyKey]
	vb, okb := b.Labels[topologyKey]
	return oka && okb && va == vb
}
