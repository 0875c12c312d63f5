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

// Package testutil builds Nodes and Pods for tests.
package testutil

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// NodeWrapper wraps a Node under construction.
type NodeWrapper struct{ corev1.Node }

// MakeNode starts a Node that allows 110 Pods.
func MakeNode(name string) *NodeWrapper {
	return &NodeWrapper{corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{}},
		Status: corev1.NodeStatus{Allocatable: corev1.ResourceList{
			corev1.ResourcePods: resource.MustParse("110"),
		}},
	}}
}

func (w *NodeWrapper) Obj() *corev1.Node {
	return &w.Node
}

func (w *NodeWrapper) Label(key, value string) *NodeWrapper {
	w.Labels[key] = value
	return w
}

// Capacity sets allocatable quantities, e.g. "cpu": "4".
func (w *NodeWrapper) Capacity(quantities map[corev1.ResourceName]string) *NodeWrapper {
	for name, qty := range quantities {
		w.Status.Allocatable[name] = resource.MustParse(qty)
	}
	return w
}

func (w *NodeWrapper) Taint(key, value string, effect corev1.TaintEffect) *NodeWrapper {
	w.Spec.Taints = append(w.Spec.Taints, corev1.Taint{Key: key, Value: value, Effect: effect})
	return w
}

func (w *NodeWrapper) Unschedulable() *NodeWrapper {
	w.Spec.Unschedulable = true
	return w
}

// PodWrapper wraps a Pod under construction.
type PodWrapper struct{ corev1.Pod }

// MakePod starts a Pod in namespace "default" whose UID is its name.
func MakePod(name string) *PodWrapper {
	return &PodWrapper{corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "default",
			Name:      name,
			UID:       types.UID(name),
			Labels:    map[string]string{},
		},
		Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "main", Image: "registry.example/main"}}},
	}}
}

func (w *PodWrapper) Obj() *corev1.Pod {
	return &w.Pod
}

func (w *PodWrapper) Namespace(ns string) *PodWrapper {
	w.Pod.Namespace = ns
	return w
}

func (w *PodWrapper) Label(key, value string) *PodWrapper {
	w.Labels[key] = value
	return w
}

func (w *PodWrapper) SchedulerName(name string) *PodWrapper {
	w.Spec.SchedulerName = name
	return w
}

// Node binds the Pod.
func (w *PodWrapper) Node(nodeName string) *PodWrapper {
	w.Spec.NodeName = nodeName
	return w
}

// Req sets the requests of the main container.
func (w *PodWrapper) Req(quantities map[corev1.ResourceName]string) *PodWrapper {
	reqs := corev1.ResourceList{}
	for name, qty := range quantities {
		reqs[name] = resource.MustParse(qty)
	}
	w.Spec.Containers[0].Resources.Requests = reqs
	return w
}

func (w *PodWrapper) NodeSelector(sel map[string]string) *PodWrapper {
	w.Spec.NodeSelector = sel
	return w
}

func (w *PodWrapper) Toleration(key string, op corev1.TolerationOperator, value string, effect corev1.TaintEffect) *PodWrapper {
	w.Spec.Tolerations = append(w.Spec.Tolerations, corev1.Toleration{Key: key, Operator: op, Value: value, Effect: effect})
	return w
}

func (w *PodWrapper) affinity() *corev1.Affinity {
	if w.Spec.Affinity == nil {
		w.Spec.Affinity = &corev1.Affinity{}
	}
	return w.Spec.Affinity
}

func (w *PodWrapper) nodeAffinity() *corev1.NodeAffinity {
	aff := w.affinity()
	if aff.NodeAffinity == nil {
		aff.NodeAffinity = &corev1.NodeAffinity{}
	}
	return aff.NodeAffinity
}

// NodeAffinityIn adds a required node affinity term with one In requirement.
func (w *PodWrapper) NodeAffinityIn(key string, values ...string) *PodWrapper {
	return w.RequiredNodeAffinity(corev1.NodeSelectorTerm{MatchExpressions: []corev1.NodeSelectorRequirement{
		{Key: key, Operator: corev1.NodeSelectorOpIn, Values: values},
	}})
}

// RequiredNodeAffinity adds an ORed required node affinity term.
func (w *PodWrapper) RequiredNodeAffinity(term corev1.NodeSelectorTerm) *PodWrapper {
	na := w.nodeAffinity()
	if na.RequiredDuringSchedulingIgnoredDuringExecution == nil {
		na.RequiredDuringSchedulingIgnoredDuringExecution = &corev1.NodeSelector{}
	}
	req := na.RequiredDuringSchedulingIgnoredDuringExecution
	req.NodeSelectorTerms = append(req.NodeSelectorTerms, term)
	return w
}

// PreferredNodeAffinityIn adds a preferred node affinity term with one In requirement.
func (w *PodWrapper) PreferredNodeAffinityIn(weight int32, key string, values ...string) *PodWrapper {
	na := w.nodeAffinity()
	na.PreferredDuringSchedulingIgnoredDuringExecution = append(na.PreferredDuringSchedulingIgnoredDuringExecution,
		corev1.PreferredSchedulingTerm{Weight: weight, Preference: corev1.NodeSelectorTerm{
			MatchExpressions: []corev1.NodeSelectorRequirement{{Key: key, Operator: corev1.NodeSelectorOpIn, Values: values}},
		}})
	return w
}

// PodAffinityTerm selects Pods with the label key=value.
func PodAffinityTerm(topologyKey, key, value string) corev1.PodAffinityTerm {
	return corev1.PodAffinityTerm{
		LabelSelector: &metav1.LabelSelector{MatchLabels: map[string]string{key: value}},
		TopologyKey:   topologyKey,
	}
}

func (w *PodWrapper) PodAffinity(term corev1.PodAffinityTerm) *PodWrapper {
	aff := w.affinity()
	if aff.PodAffinity == nil {
		aff.PodAffinity = &corev1.PodAffinity{}
	}
	aff.PodAffinity.RequiredDuringSchedulingIgnoredDuringExecution = append(aff.PodAffinity.RequiredDuringSchedulingIgnoredDuringExecution, term)
	return w
}

func (w *PodWrapper) PodAntiAffinity(term corev1.PodAffinityTerm) *PodWrapper {
	aff := w.affinity()
	if aff.PodAntiAffinity == nil {
		aff.PodAntiAffinity = &corev1.PodAntiAffinity{}
	}
	aff.PodAntiAffinity.RequiredDuringSchedulingIgnoredDuringExecution = append(aff.PodAntiAffinity.RequiredDuringSchedulingIgnoredDuringExecution, term)
	return w
}

func (w *PodWrapper) PreferredPodAffinity(weight int32, term corev1.PodAffinityTerm) *PodWrapper {
	aff := w.affinity()
	if aff.PodAffinity == nil {
		aff.PodAffinity = &corev1.PodAffinity{}
	}
	aff.PodAffinity.PreferredDuringSchedulingIgnoredDuringExecution = append(aff.PodAffinity.PreferredDuringSchedulingIgnoredDuringExecution,
		corev1.WeightedPodAffinityTerm{Weight: weight, PodAffinityTerm: term})
	return w
}

func (w *PodWrapper) PreferredPodAntiAffinity(weight int32, term corev1.PodAffinityTerm) *PodWrapper {
	aff := w.affinity()
	if aff.PodAntiAffinity == nil {
		aff.PodAntiAffinity = &corev1.PodAntiAffinity{}
	}
	aff.PodAntiAffinity.PreferredDuringSchedulingIgnoredDuringExecution = append(aff.PodAntiAffinity.PreferredDuringSchedulingIgnoredDuringExecution,
		corev1.WeightedPodAffinityTerm{Weight: weight, PodAffinityTerm: term})
	return w
}
