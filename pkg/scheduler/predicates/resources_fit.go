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

	corev1 "k8s.io/api/core/v1"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

// NodeResourcesFit checks the Pod's requests against the Node's allocatable
// resources minus what the bound Pods already request.
type NodeResourcesFit struct{}

var _ framework.FilterRule = NodeResourcesFit{}

func (NodeResourcesFit) Kind() framework.RuleKind { return framework.RuleNodeResourcesFit }

func (NodeResourcesFit) Filter(_ context.Context, pod *corev1.Pod, nodeInfo *framework.NodeInfo, _ *framework.Snapshot) *framework.Status {
	short := framework.InsufficientResources(nodeInfo.Node().Status.Allocatable, nodeInfo.Requested, framework.PodRequests(pod))
	if len(short) == 0 {
		return nil
	}
	reasons := make([]string, 0, len(short))
	for _, name := range short {
		reasons = append(reasons, "Insufficient "+string(name))
	}
	return framework.NewStatus(framework.Unschedulable, reasons...)
}

// DefaultFilterRules returns every filter rule in evaluation order.
func DefaultFilterRules() []framework.FilterRule {
	return []framework.FilterRule{
		NodeUnschedulable{},
		TaintToleration{},
		NodeAffinity{},
		NodeResourcesFit{},
		InterPodAffinity{},
	}
}
