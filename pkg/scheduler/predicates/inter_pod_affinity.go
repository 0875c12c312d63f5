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

package predicates

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

const (
	ErrReasonAffinityRulesNotMatch             = "node(s) didn't match pod affinity rules"
	ErrReasonAntiAffinityRulesNotMatch         = "node(s) didn't match pod anti-affinity rules"
	ErrReasonExistingAntiAffinityRulesNotMatch = "node(s) didn't satisfy existing pods anti-affinity rules"
)

// AffinityTerm is a PodAffinityTerm resolved against the namespace of the
// Pod that declares it.
type AffinityTerm struct {
	Selector      labels.Selector
	Namespaces    sets.Set[string]
	AllNamespaces bool
	TopologyKey   string
}

// NewAffinityTerm compiles a term. An error means the term is malformed.
// Namespaces default to the declaring Pod's namespace; an empty
// namespaceSelector means all namespaces. A namespaceSelector with
// requirements can not be evaluated without Namespace objects and is
// reported as an error.
func NewAffinityTerm(term *corev1.PodAffinityTerm, ownerNamespace string) (*AffinityTerm, error) {
	if term.TopologyKey == "" {
		return nil, fmt.Errorf("empty topologyKey")
	}
	selector, err := metav1.LabelSelectorAsSelector(term.LabelSelector)
	if err != nil {
		return nil, fmt.Errorf("invalid label selector: %w", err)
	}
	at := &AffinityTerm{
		Selector:    selector,
		Namespaces:  sets.New(term.Namespaces...),
		TopologyKey: term.TopologyKey,
	}
	if nsSel := term.NamespaceSelector; nsSel != nil {
		if len(nsSel.MatchLabels) > 0 || len(nsSel.MatchExpressions) > 0 {
			return nil, fmt.Errorf("namespaceSelector with requirements is not supported")
		}
		at.AllNamespaces = true
	} else if at.Namespaces.Len() == 0 {
		at.Namespaces.Insert(ownerNamespace)
	}
	return at, nil
}

// Matches tells whether the given Pod is selected by the term.
func (at *AffinityTerm) Matches(pod *corev1.Pod) bool {
	if !at.AllNamespaces && !at.Namespaces.Has(pod.Namespace) {
		return false
	}
	return at.Selector.Matches(labels.Set(pod.Labels))
}

// ExistsInDomain tells whether some bound Pod other than `self` matches the
// term within the topology domain of the node. A Node without the topology
// key belongs to no domain.
func (at *AffinityTerm) ExistsInDomain(snapshot *framework.Snapshot, node *corev1.Node, self *corev1.Pod) bool {
	value, ok := node.Labels[at.TopologyKey]
	if !ok {
		return false
	}
	for _, other := range snapshot.PodsInDomain(at.TopologyKey, value) {
		if self != nil && other.UID == self.UID && other.UID != "" {
			continue
		}
		if at.Matches(other) {
			return true
		}
	}
	return false
}

// HasRequiredInterPodTerms tells whether the Pod has a required pod
// affinity or anti-affinity term.
func HasRequiredInterPodTerms(pod *corev1.Pod) bool {
	affinity := pod.Spec.Affinity
	if affinity == nil {
		return false
	}
	return (affinity.PodAffinity != nil && len(affinity.PodAffinity.RequiredDuringSchedulingIgnoredDuringExecution) > 0) ||
		(affinity.PodAntiAffinity != nil && len(affinity.PodAntiAffinity.RequiredDuringSchedulingIgnoredDuringExecution) > 0)
}

// InterPodAffinity is the required pod affinity and anti-affinity filter,
// including the anti-affinity of Pods already bound.
type InterPodAffinity struct{}

var _ framework.FilterRule = InterPodAffinity{}

func (InterPodAffinity) Kind() framework.RuleKind { return framework.RuleInterPodAffinity }

func (InterPodAffinity) Filter(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, snapshot *framework.Snapshot) *framework.Status {
	logger := klog.FromContext(ctx)
	node := nodeInfo.Node()
	if affinity := pod.Spec.Affinity; affinity != nil {
		if pa := affinity.PodAffinity; pa != nil {
			for i := range pa.RequiredDuringSchedulingIgnoredDuringExecution {
				term, err := NewAffinityTerm(&pa.RequiredDuringSchedulingIgnoredDuringExecution[i], pod.Namespace)
				if err != nil {
					logger.V(4).Info("Malformed required pod affinity term fails", "index", i, "err", err)
					return framework.NewStatus(framework.Unschedulable, ErrReasonAffinityRulesNotMatch)
				}
				if !term.ExistsInDomain(snapshot, node, pod) {
					return framework.NewStatus(framework.Unschedulable, ErrReasonAffinityRulesNotMatch)
				}
			}
		}
		if paa := affinity.PodAntiAffinity; paa != nil {
			for i := range paa.RequiredDuringSchedulingIgnoredDuringExecution {
				term, err := NewAffinityTerm(&paa.RequiredDuringSchedulingIgnoredDuringExecution[i], pod.Namespace)
				if err != nil {
					logger.V(4).Info("Malformed required pod anti-affinity term fails", "index", i, "err", err)
					return framework.NewStatus(framework.Unschedulable, ErrReasonAntiAffinityRulesNotMatch)
				}
				if term.ExistsInDomain(snapshot, node, pod) {
					return framework.NewStatus(framework.Unschedulable, ErrReasonAntiAffinityRulesNotMatch)
				}
			}
		}
	}
	if violatesExistingAntiAffinity(ctx, pod, node, snapshot) {
		return framework.NewStatus(framework.Unschedulable, ErrReasonExistingAntiAffinityRulesNotMatch)
	}
	return nil
}

// violatesExistingAntiAffinity checks whether some bound Pod has a required
// anti-affinity term that selects the incoming Pod within the Node's domain.
// Malformed terms of bound Pods are skipped.
func violatesExistingAntiAffinity(ctx context.Context, pod *corev1.Pod, node *corev1.Node, snapshot *framework.Snapshot) bool {
	logger := klog.FromContext(ctx)
	for _, existing := range snapshot.BoundPods() {
		if existing.Spec.Affinity == nil || existing.Spec.Affinity.PodAntiAffinity == nil {
			continue
		}
		terms := existing.Spec.Affinity.PodAntiAffinity.RequiredDuringSchedulingIgnoredDuringExecution
		if len(terms) == 0 {
			continue
		}
		existingNode := snapshot.Get(existing.Spec.NodeName).Node()
		for i := range terms {
			term, err := NewAffinityTerm(&terms[i], existing.Namespace)
			if err != nil {
				logger.V(4).Info("Skipping malformed anti-affinity term of bound Pod", "pod", klog.KObj(existing), "index", i, "err", err)
				continue
			}
			if term.Matches(pod) && framework.SameDomain(node, existingNode, term.TopologyKey) {
				return true
			}
		}
	}
	return false
}
