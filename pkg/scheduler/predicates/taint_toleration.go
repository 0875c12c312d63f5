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
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

const (
	// ErrReasonUntoleratedTaint is formatted with the taint key and value.
	ErrReasonUntoleratedTaint = "node(s) had untolerated taint {%s: %s}"
	ErrReasonUnschedulable    = "node(s) were unschedulable"
)

// ToleratesTaint tells whether one toleration matches one taint.
// An empty toleration key matches every key and an empty effect matches
// every effect. An unknown operator is reported as an error and the
// toleration then matches nothing.
func ToleratesTaint(tol *corev1.Toleration, taint *corev1.Taint) (bool, error) {
	if tol.Effect != "" && tol.Effect != taint.Effect {
		return false, nil
	}
	if tol.Key != "" && tol.Key != taint.Key {
		return false, nil
	}
	switch tol.Operator {
	case corev1.TolerationOpExists:
		return true, nil
	case corev1.TolerationOpEqual, "":
		return tol.Value == taint.Value, nil
	default:
		return false, fmt.Errorf("unknown toleration operator %q", tol.Operator)
	}
}

// TolerationsTolerateTaint tells whether any of the tolerations matches the taint.
func TolerationsTolerateTaint(ctx context.Context, tolerations []corev1.Toleration, taint *corev1.Taint) bool {
	for i := range tolerations {
		ok, err := ToleratesTaint(&tolerations[i], taint)
		if err != nil {
			klog.FromContext(ctx).V(4).Info("Ignoring malformed toleration", "toleration", tolerations[i], "err", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// UntoleratedTaints returns, in node order, the taints with one of the
// given effects that no toleration matches.
func UntoleratedTaints(ctx context.Context, taints []corev1.Taint, tolerations []corev1.Toleration, effects ...corev1.TaintEffect) []corev1.Taint {
	var ans []corev1.Taint
	for i := range taints {
		taint := &taints[i]
		if !hasEffect(taint.Effect, effects) {
			continue
		}
		if !TolerationsTolerateTaint(ctx, tolerations, taint) {
			ans = append(ans, *taint)
		}
	}
	return ans
}

func hasEffect(effect corev1.TaintEffect, effects []corev1.TaintEffect) bool {
	for _, e := range effects {
		if e == effect {
			return true
		}
	}
	return false
}

// TaintToleration rejects Nodes with an untolerated NoSchedule or NoExecute taint.
// PreferNoSchedule taints are left to scoring.
type TaintToleration struct{}

var _ framework.FilterRule = TaintToleration{}

func (TaintToleration) Kind() framework.RuleKind { return framework.RuleTaintToleration }

func (TaintToleration) Filter(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, _ *framework.Snapshot) *framework.Status {
	node := nodeInfo.Node()
	untolerated := UntoleratedTaints(ctx, node.Spec.Taints, pod.Spec.Tolerations, corev1.TaintEffectNoSchedule, corev1.TaintEffectNoExecute)
	if len(untolerated) == 0 {
		return nil
	}
	taint := untolerated[0]
	return framework.NewStatus(framework.Unschedulable, fmt.Sprintf(ErrReasonUntoleratedTaint, taint.Key, taint.Value))
}

// NodeUnschedulable rejects cordoned Nodes unless the Pod tolerates
// the unschedulable taint.
type NodeUnschedulable struct{}

var _ framework.FilterRule = NodeUnschedulable{}

func (NodeUnschedulable) Kind() framework.RuleKind { return framework.RuleNodeUnschedulable }

func (NodeUnschedulable) Filter(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, _ *framework.Snapshot) *framework.Status {
	if !nodeInfo.Node().Spec.Unschedulable {
		return nil
	}
	if TolerationsTolerateTaint(ctx, pod.Spec.Tolerations, &corev1.Taint{
		Key:    corev1.TaintNodeUnschedulable,
		Effect: corev1.TaintEffectNoSchedule,
	}) {
		return nil
	}
	return framework.NewStatus(framework.Unschedulable, ErrReasonUnschedulable)
}
