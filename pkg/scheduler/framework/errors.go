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
	"errors"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

var (
	// ErrBindConflict is returned when a binding would over-commit a Node
	// or the Pod was bound concurrently. The caller should retry from a
	// fresh snapshot.
	ErrBindConflict = errors.New("bind conflict")

	// ErrProviderUnavailable is returned when the cluster state provider
	// can not be reached. No binding has been made.
	ErrProviderUnavailable = errors.New("cluster state provider unavailable")

	// ErrUnschedulable is matched (via errors.Is) by every *FitError.
	ErrUnschedulable = errors.New("pod is unschedulable")
)

// Diagnosis records why each Node was filtered out.
type Diagnosis struct {
	NodeToStatus map[string]*Status
}

// Reasons returns "count reason" summaries sorted for stable output.
func (d Diagnosis) Reasons() []string {
	counts := map[string]int{}
	for _, status := range d.NodeToStatus {
		for _, reason := range status.Reasons() {
			counts[reason]++
		}
	}
	ans := make([]string, 0, len(counts))
	for reason, count := range counts {
		ans = append(ans, fmt.Sprintf("%d %s", count, reason))
	}
	sort.Strings(ans)
	return ans
}

// FitError describes a Pod that no Node could take.
type FitError struct {
	Pod         *corev1.Pod
	NumAllNodes int
	Diagnosis   Diagnosis
}

func (fe *FitError) Error() string {
	return fmt.Sprintf("0/%d nodes are available: %s", fe.NumAllNodes, strings.Join(fe.Diagnosis.Reasons(), ", "))
}

func (fe *FitError) Is(target error) bool {
	return target == ErrUnschedulable
}
