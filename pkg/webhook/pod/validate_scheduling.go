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

package pod

import (
	"context"
	"fmt"
	"net/http"

	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/predicates"
)

// Path is where the validator is served.
const Path = "/validate-pods"

// PodSchedulingValidator rejects Pods whose tolerations or affinity rules
// the scheduler would have to ignore as malformed.
// If SchedulerName is set, Pods for other schedulers are allowed unchecked.
type PodSchedulingValidator struct {
	SchedulerName string

	decoder admission.Decoder
}

var _ admission.Handler = &PodSchedulingValidator{}

func NewPodSchedulingValidator(schedulerName string, decoder admission.Decoder) *PodSchedulingValidator {
	return &PodSchedulingValidator{SchedulerName: schedulerName, decoder: decoder}
}

func (v *PodSchedulingValidator) Handle(ctx context.Context, req admission.Request) admission.Response {
	logger := klog.FromContext(ctx).WithName("pod-scheduling-validator")
	if v.decoder == nil {
		return admission.Errored(http.StatusInternalServerError, fmt.Errorf("decoder not initialized"))
	}
	if req.Operation != admissionv1.Create && req.Operation != admissionv1.Update {
		return admission.Allowed("only validating creates and updates")
	}

	var pod corev1.Pod
	if err := v.decoder.DecodeRaw(req.Object, &pod); err != nil {
		logger.Error(err, "failed to decode pod")
		return admission.Errored(http.StatusBadRequest, err)
	}
	if v.SchedulerName != "" && pod.Spec.SchedulerName != v.SchedulerName {
		return admission.Allowed("not scheduled by " + v.SchedulerName)
	}
	if req.Operation == admissionv1.Update && pod.Spec.NodeName != "" {
		return admission.Allowed("already bound")
	}

	if errs := predicates.ValidateSchedulingRules(&pod); len(errs) > 0 {
		logger.V(3).Info("Denying pod with malformed scheduling rules", "pod", klog.KRef(req.Namespace, req.Name), "errors", errs.ToAggregate().Error())
		return admission.Denied(errs.ToAggregate().Error())
	}
	return admission.Allowed("ok")
}

func (v *PodSchedulingValidator) InjectDecoder(d admission.Decoder) error {
	v.decoder = d
	return nil
}
