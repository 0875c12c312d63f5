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

package scheduling

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var metav1UpdateOptions = metav1.UpdateOptions{FieldManager: ControllerName}

// setPodCondition sets or replaces the condition of the same type.
// It returns false when an equal condition is already present.
// LastTransitionTime changes only when the status does.
func setPodCondition(status *corev1.PodStatus, cond corev1.PodCondition) bool {
	now := metav1.Now()
	for i := range status.Conditions {
		existing := &status.Conditions[i]
		if existing.Type != cond.Type {
			continue
		}
		if existing.Status == cond.Status && existing.Reason == cond.Reason && existing.Message == cond.Message {
			return false
		}
		if existing.Status == cond.Status {
			cond.LastTransitionTime = existing.LastTransitionTime
		} else {
			cond.LastTransitionTime = now
		}
		cond.LastProbeTime = now
		*existing = cond
		return true
	}
	cond.LastTransitionTime = now
	cond.LastProbeTime = now
	status.Conditions = append(status.Conditions, cond)
	return true
}
