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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// ValidateSchedulingRules reports the scheduling rules of a Pod that the
// scheduler would treat as malformed. The scheduler itself never rejects a
// Pod for these; this is for admission-time feedback.
func ValidateSchedulingRules(pod *corev1.Pod) field.ErrorList {
	var errs field.ErrorList
	specPath := field.NewPath("spec")

	for i := range pod.Spec.Tolerations {
		tol := &pod.Spec.Tolerations[i]
		_, err := ToleratesTaint(tol, &corev1.Taint{Key: tol.Key, Effect: tol.Effect})
		if err != nil {
			errs = append(errs, field.NotSupported(specPath.Child("tolerations").Index(i).Child("operator"), tol.Operator,
				[]string{string(corev1.TolerationOpExists), string(corev1.TolerationOpEqual)}))
		}
	}

	affinity := pod.Spec.Affinity
	if affinity == nil {
		return errs
	}
	affPath := specPath.Child("affinity")

	if na := affinity.NodeAffinity; na != nil {
		naPath := affPath.Child("nodeAffinity")
		if req := na.RequiredDuringSchedulingIgnoredDuringExecution; req != nil {
			termsPath := naPath.Child("requiredDuringSchedulingIgnoredDuringExecution", "nodeSelectorTerms")
			for i, term := range req.NodeSelectorTerms {
				errs = append(errs, validateNodeSelectorTerm(term, termsPath.Index(i))...)
			}
		}
		prefPath := naPath.Child("preferredDuringSchedulingIgnoredDuringExecution")
		for i, pref := range na.PreferredDuringSchedulingIgnoredDuringExecution {
			errs = append(errs, validateWeight(pref.Weight, prefPath.Index(i).Child("weight"))...)
			errs = append(errs, validateNodeSelectorTerm(pref.Preference, prefPath.Index(i).Child("preference"))...)
		}
	}

	if pa := affinity.PodAffinity; pa != nil {
		errs = append(errs, validatePodAffinityTerms(pod.Namespace, pa.RequiredDuringSchedulingIgnoredDuringExecution,
			pa.PreferredDuringSchedulingIgnoredDuringExecution, affPath.Child("podAffinity"))...)
	}
	if paa := affinity.PodAntiAffinity; paa != nil {
		errs = append(errs, validatePodAffinityTerms(pod.Namespace, paa.RequiredDuringSchedulingIgnoredDuringExecution,
			paa.PreferredDuringSchedulingIgnoredDuringExecution, affPath.Child("podAntiAffinity"))...)
	}
	return errs
}

func validateNodeSelectorTerm(term corev1.NodeSelectorTerm, fldPath *field.Path) field.ErrorList {
	var errs field.ErrorList
	for j, req := range term.MatchExpressions {
		if _, err := MatchNodeSelectorRequirement(req, nil); err != nil {
			errs = append(errs, field.Invalid(fldPath.Child("matchExpressions").Index(j), req.Operator, err.Error()))
		}
	}
	for j, req := range term.MatchFields {
		probe := corev1.NodeSelectorTerm{MatchFields: []corev1.NodeSelectorRequirement{req}}
		if _, err := MatchNodeSelectorTerm(probe, &corev1.Node{}); err != nil {
			errs = append(errs, field.Invalid(fldPath.Child("matchFields").Index(j), req.Key, err.Error()))
		}
	}
	return errs
}

func validatePodAffinityTerms(namespace string, required []corev1.PodAffinityTerm, preferred []corev1.WeightedPodAffinityTerm, fldPath *field.Path) field.ErrorList {
	var errs field.ErrorList
	reqPath := fldPath.Child("requiredDuringSchedulingIgnoredDuringExecution")
	for i := range required {
		if _, err := NewAffinityTerm(&required[i], namespace); err != nil {
			errs = append(errs, field.Invalid(reqPath.Index(i), required[i].TopologyKey, err.Error()))
		}
	}
	prefPath := fldPath.Child("preferredDuringSchedulingIgnoredDuringExecution")
	for i := range preferred {
		errs = append(errs, validateWeight(preferred[i].Weight, prefPath.Index(i).Child("weight"))...)
		if _, err := NewAffinityTerm(&preferred[i].PodAffinityTerm, namespace); err != nil {
			errs = append(errs, field.Invalid(prefPath.Index(i).Child("podAffinityTerm"), preferred[i].PodAffinityTerm.TopologyKey, err.Error()))
		}
	}
	return errs
}

func validateWeight(weight int32, fldPath *field.Path) field.ErrorList {
	if weight < 1 || weight > 100 {
		return field.ErrorList{field.Invalid(fldPath, weight, "must be in the range 1-100")}
	}
	return nil
}
