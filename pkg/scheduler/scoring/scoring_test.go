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
	"testing"

	"github.com/google/go-cmp/cmp"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	st "github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/testutil"
)

// scoreAll runs the rule on every node of the snapshot.
func scoreAll(t *testing.T, rule framework.ScoreRule, pod *corev1.Pod, snap *framework.Snapshot) map[string]int64 {
	t.Helper()
	ctx := klog.NewContext(context.Background(), klog.Background())
	ans := map[string]int64{}
	for _, ni := range snap.NodeInfos() {
		score, status := rule.Score(ctx, pod, ni, snap)
		if !status.IsSuccess() {
			t.Fatalf("Score(%s) status = %v", ni.Name(), status)
		}
		ans[ni.Name()] = score
	}
	return ans
}

func TestNodeAffinityScore(t *testing.T) {
	snap := framework.NewSnapshot([]*corev1.Node{
		st.MakeNode("first").Label("zone", "beijing").Obj(),
		st.MakeNode("second").Label("disktype", "shanghai").Obj(),
		st.MakeNode("both").Label("zone", "beijing").Label("disktype", "shanghai").Obj(),
		st.MakeNode("neither").Obj(),
	}, nil)
	pod := st.MakePod("p").
		PreferredNodeAffinityIn(100, "zone", "beijing").
		PreferredNodeAffinityIn(50, "disktype", "shanghai").Obj()

	got := scoreAll(t, NodeAffinity{}, pod, snap)
	expected := map[string]int64{"first": 100, "second": 50, "both": 150, "neither": 0}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	if got["first"] <= got["second"] {
		t.Errorf("node matching the heavier preference should score higher")
	}
}

func TestNodeAffinityScoreSkipsMalformedTerm(t *testing.T) {
	snap := framework.NewSnapshot([]*corev1.Node{st.MakeNode("n").Label("zone", "beijing").Obj()}, nil)
	pod := st.MakePod("p").PreferredNodeAffinityIn(30, "zone", "beijing").Obj()
	na := pod.Spec.Affinity.NodeAffinity
	na.PreferredDuringSchedulingIgnoredDuringExecution = append(na.PreferredDuringSchedulingIgnoredDuringExecution,
		corev1.PreferredSchedulingTerm{Weight: 70, Preference: corev1.NodeSelectorTerm{
			MatchExpressions: []corev1.NodeSelectorRequirement{{Key: "zone", Operator: "Near", Values: []string{"beijing"}}},
		}})

	got := scoreAll(t, NodeAffinity{}, pod, snap)
	if got["n"] != 30 {
		t.Errorf("score = %d, expected 30", got["n"])
	}
}

func TestInterPodAffinityScore(t *testing.T) {
	snap := framework.NewSnapshot([]*corev1.Node{
		st.MakeNode("a1").Label("zone", "a").Obj(),
		st.MakeNode("b1").Label("zone", "b").Obj(),
		st.MakeNode("c1").Label("zone", "c").Obj(),
	}, []*corev1.Pod{
		st.MakePod("cache").Label("app", "cache").Node("a1").Obj(),
		st.MakePod("noisy").Label("app", "batch").Node("b1").Obj(),
		st.MakePod("batch-2").Label("app", "batch").Node("a1").Obj(),
	})
	pod := st.MakePod("web").
		PreferredPodAffinity(80, st.PodAffinityTerm("zone", "app", "cache")).
		PreferredPodAntiAffinity(30, st.PodAffinityTerm("zone", "app", "batch")).Obj()

	got := scoreAll(t, InterPodAffinity{}, pod, snap)
	expected := map[string]int64{"a1": 50, "b1": -30, "c1": 0}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
}

func TestTaintTolerationScore(t *testing.T) {
	snap := framework.NewSnapshot([]*corev1.Node{
		st.MakeNode("clean").Obj(),
		st.MakeNode("spot").Taint("spot", "true", corev1.TaintEffectPreferNoSchedule).Obj(),
		st.MakeNode("two").
			Taint("spot", "true", corev1.TaintEffectPreferNoSchedule).
			Taint("old", "", corev1.TaintEffectPreferNoSchedule).
			Taint("gpu", "true", corev1.TaintEffectNoSchedule).Obj(),
	}, nil)

	tests := []struct {
		name     string
		pod      *corev1.Pod
		expected map[string]int64
	}{
		{
			name:     "untolerated",
			pod:      st.MakePod("p").Obj(),
			expected: map[string]int64{"clean": 0, "spot": -10, "two": -20},
		},
		{
			name:     "one tolerated",
			pod:      st.MakePod("p").Toleration("spot", corev1.TolerationOpExists, "", corev1.TaintEffectPreferNoSchedule).Obj(),
			expected: map[string]int64{"clean": 0, "spot": 0, "two": -10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreAll(t, TaintToleration{Penalty: DefaultPreferNoSchedulePenalty}, tt.pod, snap)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("scores mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultScoreRules(t *testing.T) {
	var kinds []framework.RuleKind
	for _, rule := range DefaultScoreRules(7) {
		kinds = append(kinds, rule.Kind())
		if tt, ok := rule.(TaintToleration); ok && tt.Penalty != 7 {
			t.Errorf("penalty = %d, expected 7", tt.Penalty)
		}
	}
	expected := []framework.RuleKind{framework.RuleNodeAffinity, framework.RuleInterPodAffinity, framework.RuleTaintToleration}
	if diff := cmp.Diff(expected, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}
