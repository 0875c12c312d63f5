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

package kube

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	st "github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/testutil"
)

func newSyncedProvider(t *testing.T, objects ...runtime.Object) (*Provider, *fake.Clientset) {
	t.Helper()
	clientset := fake.NewClientset(objects...)
	factory := informers.NewSharedInformerFactory(clientset, 0)
	prov := New(clientset.CoreV1(), factory.Core().V1())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	factory.Start(ctx.Done())
	for typ, synced := range factory.WaitForCacheSync(ctx.Done()) {
		if !synced {
			t.Fatalf("informer for %v did not sync", typ)
		}
	}
	return prov, clientset
}

func TestNotSynced(t *testing.T) {
	clientset := fake.NewClientset()
	factory := informers.NewSharedInformerFactory(clientset, 0)
	prov := New(clientset.CoreV1(), factory.Core().V1())

	if _, err := prov.ListNodes(context.Background()); !errors.Is(err, framework.ErrProviderUnavailable) {
		t.Errorf("ListNodes() error = %v, expected provider unavailable", err)
	}
	if _, err := prov.ListBoundPods(context.Background()); !errors.Is(err, framework.ErrProviderUnavailable) {
		t.Errorf("ListBoundPods() error = %v, expected provider unavailable", err)
	}
}

func TestListBoundPods(t *testing.T) {
	running := st.MakePod("running").Node("n").Obj()
	done := st.MakePod("done").Node("n").Obj()
	done.Status.Phase = corev1.PodSucceeded
	pending := st.MakePod("pending").Obj()
	prov, _ := newSyncedProvider(t, st.MakeNode("n").Obj(), running, done, pending)

	nodes, err := prov.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("ListNodes() error = %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("ListNodes() returned %d nodes, expected 1", len(nodes))
	}
	pods, err := prov.ListBoundPods(context.Background())
	if err != nil {
		t.Fatalf("ListBoundPods() error = %v", err)
	}
	var names []string
	for _, pod := range pods {
		names = append(names, pod.Name)
	}
	if diff := cmp.Diff([]string{"running"}, names); diff != "" {
		t.Errorf("ListBoundPods() mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitBinding(t *testing.T) {
	pod := st.MakePod("web").Obj()
	prov, clientset := newSyncedProvider(t, st.MakeNode("n").Obj(), pod)

	var binding *corev1.Binding
	clientset.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		create := action.(k8stesting.CreateAction)
		if create.GetSubresource() != "binding" {
			return false, nil, nil
		}
		binding = create.GetObject().(*corev1.Binding)
		return true, nil, nil
	})

	if err := prov.CommitBinding(context.Background(), pod, "n"); err != nil {
		t.Fatalf("CommitBinding() error = %v", err)
	}
	if binding == nil {
		t.Fatalf("no binding was created")
	}
	if binding.Name != "web" || binding.Namespace != "default" || binding.UID != pod.UID {
		t.Errorf("binding is for %s/%s uid %s", binding.Namespace, binding.Name, binding.UID)
	}
	if binding.Target.Kind != "Node" || binding.Target.Name != "n" {
		t.Errorf("binding targets %s %q, expected Node n", binding.Target.Kind, binding.Target.Name)
	}
}

func TestCommitBindingErrors(t *testing.T) {
	podsResource := schema.GroupResource{Resource: "pods"}
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "conflict", err: apierrors.NewConflict(podsResource, "web", fmt.Errorf("already bound")), expected: framework.ErrBindConflict},
		{name: "not found", err: apierrors.NewNotFound(podsResource, "web"), expected: framework.ErrBindConflict},
		{name: "unavailable", err: apierrors.NewServiceUnavailable("etcd is down"), expected: framework.ErrProviderUnavailable},
		{name: "throttled", err: apierrors.NewTooManyRequests("slow down", 1), expected: framework.ErrProviderUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, expected: framework.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pod := st.MakePod("web").Obj()
			prov, clientset := newSyncedProvider(t, st.MakeNode("n").Obj(), pod)
			clientset.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, tt.err
			})
			err := prov.CommitBinding(context.Background(), pod, "n")
			if !errors.Is(err, tt.expected) {
				t.Errorf("CommitBinding() error = %v, expected %v", err, tt.expected)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("CommitBinding() error = %v lost the cause", err)
			}
		})
	}
}

func TestClassifyErrorPassesUnknown(t *testing.T) {
	err := apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "web", fmt.Errorf("rbac"))
	got := ClassifyError(err)
	if errors.Is(got, framework.ErrBindConflict) || errors.Is(got, framework.ErrProviderUnavailable) {
		t.Errorf("ClassifyError() = %v, expected no classification", got)
	}
	if ClassifyError(nil) != nil {
		t.Errorf("ClassifyError(nil) should be nil")
	}
}
