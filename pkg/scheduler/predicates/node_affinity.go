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
	"slices"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

const (
	ErrReasonNodeAffinity = "node(s) didn't match Pod's node affinity/selector"

	// nodeFieldName is the only field supported in matchFields.
	nodeFieldName = "metadata.name"
)

// MatchNodeSelectorRequirement evaluates one requirement against a label set.
// An error means the requirement itself is malformed.
// A Gt/Lt requirement against a non-numeric label value is false, not an error.
func MatchNodeSelectorRequirement(req corev1.NodeSelectorRequirement, lbls map[string]string) (bool, error) {
	value, present := lbls[req.Key]
	switch req.Operator {
	case corev1.NodeSelectorOpIn:
		return present && slices.Contains(req.Values, value), nil
	case corev1.NodeSelectorOpNotIn:
		return !present || !slices.Contains(req.Values, value), nil
	case corev1.NodeSelectorOpExists, corev1.NodeSelectorOpDoesNotExist:
		if len(req.Values) != 0 {
			return false, fmt.Errorf("operator %q takes no values, got %v", req.Operator, req.Values)
		}
		return present == (req.Operator == corev1.NodeSelectorOpExists), nil
	case corev1.NodeSelectorOpGt, corev1.NodeSelectorOpLt:
		if len(req.Values) != 1 {
			return false, fmt.Errorf("operator %q takes exactly one value, got %v", req.Operator, req.Values)
		}
		bound, err := strconv.ParseInt(req.Values[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("operator %q needs an integer value: %w", req.Operator, err)
		}
		if !present {
			return false, nil
		}
		actual, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false, nil
		}
		if req.Operator == corev1.NodeSelectorOpGt {
			return actual > bound, nil
		}
		return actual < bound, nil
	default:
		return false, fmt.Errorf("unknown node selector operator %q", req.Operator)
	}
}

// MatchNodeSelectorTerm evaluates the AND of a term's expressions and fields.
// A term with neither matches nothing.
func MatchNodeSelectorTerm(term corev1.NodeSelectorTerm, node *corev1.Node) (bool, error) {
	if len(term.MatchExpressions) == 0 && len(term.MatchFields) == 0 {
		return false, nil
	}
	for _, req := range term.MatchExpressions {
		ok, err := MatchNodeSelectorRequirement(req, node.Labels)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, req := range term.MatchFields {
		if req.Key != nodeFieldName {
			return false, fmt.Errorf("unsupported field %q in matchFields", req.Key)
		}
		if req.Operator != corev1.NodeSelectorOpIn && req.Operator != corev1.NodeSelectorOpNotIn {
			return false, fmt.Errorf("unsupported operator %q in matchFields", req.Operator)
		}
		ok, err := MatchNodeSelectorRequirement(req, map[string]string{nodeFieldName: node.Name})
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// MatchNodeSelectorTerms is the OR over terms. Malformed terms are logged
// and count as not matching; the others are still evaluated.
func MatchNodeSelectorTerms(ctx context.Context, terms []corev1.NodeSelectorTerm, node *corev1.Node) bool {
	logger := klog.FromContext(ctx)
	for i, term := range terms {
		ok, err := MatchNodeSelectorTerm(term, node)
		if err != nil {
			logger.V(4).Info("Ignoring malformed node selector term", "index", i, "node", node.Name, "err", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// PodMatchesNodeSelectorAndAffinityTerms checks spec.nodeSelector and the
// required node affinity of the Pod against the Node.
func PodMatchesNodeSelectorAndAffinityTerms(ctx context.Context, pod *corev1.Pod, node *corev1.Node) bool {
	if len(pod.Spec.NodeSelector) > 0 {
		if !labels.SelectorFromSet(pod.Spec.NodeSelector).Matches(labels.Set(node.Labels)) {
			return false
		}
	}
	affinity := pod.Spec.Affinity
	if affinity == nil || affinity.NodeAffinity == nil {
		return true
	}
	required := affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution
	if required == nil || len(required.NodeSelectorTerms) == 0 {
		return true
	}
	return MatchNodeSelectorTerms(ctx, required.NodeSelectorTerms, node)
}

// NodeAffinity is the node selector and required node affinity filter.
type NodeAffinity struct{}

var _ framework.FilterRule = NodeAffinity{}

func (NodeAffinity) Kind() framework.RuleKind { return framework.RuleNodeAffinity }

func (NodeAffinity) Filter(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, _ *framework.Snapshot) *framework.Status {
	if PodMatchesNodeSelectorAndAffinityTerms(ctx, pod, nodeInfo.Node()) {
		return nil
	}
	return framework.NewStatus(framework.Unschedulable, ErrReasonNodeAffinity)
}
