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

package scoring

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/predicates"
)

// DefaultPreferNoSchedulePenalty is subtracted per untolerated PreferNoSchedule taint.
const DefaultPreferNoSchedulePenalty = 10

// NodeAffinity adds the weight of every preferred node affinity term
// that the Node satisfies.
type NodeAffinity struct{}

var _ framework.ScoreRule = NodeAffinity{}

func (NodeAffinity) Kind() framework.RuleKind { return framework.RuleNodeAffinity }

func (NodeAffinity) Score(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, _ *framework.Snapshot) (int64, *framework.Status) {
	affinity := pod.Spec.Affinity
	if affinity == nil || affinity.NodeAffinity == nil {
		return 0, nil
	}
	logger := klog.FromContext(ctx)
	var score int64
	for i, pref := range affinity.NodeAffinity.PreferredDuringSchedulingIgnoredDuringExecution {
		if pref.Weight == 0 {
			continue
		}
		ok, err := predicates.MatchNodeSelectorTerm(pref.Preference, nodeInfo.Node())
		if err != nil {
			logger.V(4).Info("Malformed preferred node affinity term contributes nothing", "index", i, "err", err)
			continue
		}
		if ok {
			score += int64(pref.Weight)
		}
	}
	return score, nil
}

// InterPodAffinity adds the weight of each preferred pod affinity term
// satisfied in the Node's domain and subtracts the weight of each preferred
// pod anti-affinity term likewise satisfied.
type InterPodAffinity struct{}

var _ framework.ScoreRule = InterPodAffinity{}

func (InterPodAffinity) Kind() framework.RuleKind { return framework.RuleInterPodAffinity }

func (InterPodAffinity) Score(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, snapshot *framework.Snapshot) (int64, *framework.Status) {
	affinity := pod.Spec.Affinity
	if affinity == nil {
		return 0, nil
	}
	var score int64
	if pa := affinity.PodAffinity; pa != nil {
		score += weighTerms(ctx, pod, nodeInfo.Node(), snapshot, pa.PreferredDuringSchedulingIgnoredDuringExecution)
	}
	if paa := affinity.PodAntiAffinity; paa != nil {
		score -= weighTerms(ctx, pod, nodeInfo.Node(), snapshot, paa.PreferredDuringSchedulingIgnoredDuringExecution)
	}
	return score, nil
}

func weighTerms(ctx context.Context, pod *corev1.Pod, node *corev1.Node, snapshot *framework.Snapshot, terms []corev1.WeightedPodAffinityTerm) int64 {
	logger := klog.FromContext(ctx)
	var sum int64
	for i := range terms {
		term, err := predicates.NewAffinityTerm(&terms[i].PodAffinityTerm, pod.Namespace)
		if err != nil {
			logger.V(4).Info("Malformed preferred pod affinity term contributes nothing", "index", i, "err", err)
			continue
		}
		if term.ExistsInDomain(snapshot, node, pod) {
			sum += int64(terms[i].Weight)
		}
	}
	return sum
}

// TaintToleration subtracts a fixed penalty per untolerated
// PreferNoSchedule taint.
type TaintToleration struct {
	Penalty int64
}

var _ framework.ScoreRule = TaintToleration{}

func (TaintToleration) Kind() framework.RuleKind { return framework.RuleTaintToleration }

func (tt TaintToleration) Score(ctx context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, _ *framework.Snapshot) (int64, *framework.Status) {
	untolerated := predicates.UntoleratedTaints(ctx, nodeInfo.Node().Spec.Taints, pod.Spec.Tolerations, corev1.TaintEffectPreferNoSchedule)
	return -tt.Penalty * int64(len(untolerated)), nil
}

// DefaultScoreRules returns every score rule, with the given penalty for
// PreferNoSchedule taints.
func DefaultScoreRules(preferNoSchedulePenalty int64) []framework.ScoreRule {
	return []framework.ScoreRule{
		NodeAffinity{},
		InterPodAffinity{},
		TaintToleration{Penalty: preferNoSchedulePenalty},
	}
}
