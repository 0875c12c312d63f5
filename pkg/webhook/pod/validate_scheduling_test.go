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
	"encoding/json"
	"os"
	"testing"

	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	st "github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/testutil"
)

var testDecoder admission.Decoder

func TestMain(m *testing.M) {
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		panic(err)
	}
	testDecoder = admission.NewDecoder(scheme)
	os.Exit(m.Run())
}

func request(t *testing.T, op admissionv1.Operation, pod *corev1.Pod) admission.Request {
	t.Helper()
	raw, err := json.Marshal(pod)
	if err != nil {
		t.Fatalf("marshal pod: %v", err)
	}
	return admission.Request{AdmissionRequest: admissionv1.AdmissionRequest{
		Operation: op,
		Namespace: pod.Namespace,
		Name:      pod.Name,
		Object:    runtime.RawExtension{Raw: raw},
	}}
}

func TestPodSchedulingValidator(t *testing.T) {
	badWeight := st.MakePod("p").SchedulerName("fma-scheduler").PreferredNodeAffinityIn(0, "zone", "beijing").Obj()
	tests := []struct {
		name    string
		op      admissionv1.Operation
		pod     *corev1.Pod
		allowed bool
	}{
		{
			name:    "valid rules",
			op:      admissionv1.Create,
			pod:     st.MakePod("p").SchedulerName("fma-scheduler").NodeAffinityIn("zone", "beijing", "shanghai").Obj(),
			allowed: true,
		},
		{
			name:    "invalid preferred weight",
			op:      admissionv1.Create,
			pod:     badWeight,
			allowed: false,
		},
		{
			name:    "bad toleration operator",
			op:      admissionv1.Update,
			pod:     st.MakePod("p").SchedulerName("fma-scheduler").Toleration("gpu", "Sometimes", "", "").Obj(),
			allowed: false,
		},
		{
			name:    "other scheduler",
			op:      admissionv1.Create,
			pod:     st.MakePod("p").SchedulerName("default-scheduler").PreferredNodeAffinityIn(0, "zone", "beijing").Obj(),
			allowed: true,
		},
		{
			name:    "update of bound pod",
			op:      admissionv1.Update,
			pod:     st.MakePod("p").SchedulerName("fma-scheduler").Node("n").PreferredNodeAffinityIn(0, "zone", "beijing").Obj(),
			allowed: true,
		},
		{
			name:    "delete",
			op:      admissionv1.Delete,
			pod:     badWeight,
			allowed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewPodSchedulingValidator("fma-scheduler", testDecoder)
			ctx := klog.NewContext(context.Background(), klog.Background())
			resp := v.Handle(ctx, request(t, tt.op, tt.pod))
			if resp.Allowed != tt.allowed {
				t.Errorf("Handle() allowed = %v, expected %v (%v)", resp.Allowed, tt.allowed, resp.Result)
			}
		})
	}
}

func TestPodSchedulingValidator_NoDecoder(t *testing.T) {
	v := &PodSchedulingValidator{}
	ctx := klog.NewContext(context.Background(), klog.Background())
	resp := v.Handle(ctx, request(t, admissionv1.Create, st.MakePod("p").Obj()))
	if resp.Allowed {
		t.Fatalf("expected an error response without a decoder")
	}
	if err := v.InjectDecoder(testDecoder); err != nil {
		t.Fatalf("inject decoder: %v", err)
	}
	resp = v.Handle(ctx, request(t, admissionv1.Create, st.MakePod("p").Obj()))
	if !resp.Allowed {
		t.Errorf("expected a plain pod to be allowed, got %v", resp.Result)
	}
}
