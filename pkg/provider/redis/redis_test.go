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

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"

	corev1 "k8s.io/api/core/v1"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	st "github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/testutil"
)

func newTestProvider(t *testing.T) (*Provider, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test"), server
}

func names(pods []*corev1.Pod) []string {
	var ans []string
	for _, pod := range pods {
		ans = append(ans, pod.Namespace+"/"+pod.Name)
	}
	return ans
}

func TestStoreAndList(t *testing.T) {
	ctx := context.Background()
	prov, server := newTestProvider(t)

	if err := prov.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	for _, node := range []*corev1.Node{st.MakeNode("b").Label("zone", "z1").Obj(), st.MakeNode("a").Obj()} {
		if err := prov.AddNode(ctx, node); err != nil {
			t.Fatalf("AddNode() error = %v", err)
		}
	}
	for _, pod := range []*corev1.Pod{
		st.MakePod("x").Node("a").Obj(),
		st.MakePod("y").Namespace("other").Obj(),
		st.MakePod("z").Obj(),
	} {
		if err := prov.AddPod(ctx, pod); err != nil {
			t.Fatalf("AddPod() error = %v", err)
		}
	}

	nodes, err := prov.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes() error = %v", err)
	}
	if len(nodes) != 2 || nodes[0].Name != "a" || nodes[1].Labels["zone"] != "z1" {
		t.Errorf("ListNodes() did not round-trip the nodes: %v", nodes)
	}
	bound, err := prov.ListBoundPods(ctx)
	if err != nil {
		t.Fatalf("ListBoundPods() error = %v", err)
	}
	if diff := cmp.Diff([]string{"default/x"}, names(bound)); diff != "" {
		t.Errorf("ListBoundPods() mismatch (-want +got):\n%s", diff)
	}
	pending, err := prov.ListPendingPods(ctx)
	if err != nil {
		t.Fatalf("ListPendingPods() error = %v", err)
	}
	if diff := cmp.Diff([]string{"default/z", "other/y"}, names(pending)); diff != "" {
		t.Errorf("ListPendingPods() mismatch (-want +got):\n%s", diff)
	}
	if got, err := server.Get("test:rev:a"); err != nil || got != "1" {
		t.Errorf("revision of node a = %q (%v), expected 1", got, err)
	}

	if err := prov.DeletePod(ctx, "default", "x"); err != nil {
		t.Fatalf("DeletePod() error = %v", err)
	}
	if pod, err := prov.GetPod(ctx, "default", "x"); err != nil || pod != nil {
		t.Errorf("GetPod() after delete = %v, %v", pod, err)
	}
	if got, err := server.Get("test:rev:a"); err != nil || got != "2" {
		t.Errorf("revision of node a = %q (%v), expected 2", got, err)
	}
}

func TestCommitBinding(t *testing.T) {
	ctx := context.Background()
	prov, _ := newTestProvider(t)
	if err := prov.AddNode(ctx, st.MakeNode("n").Capacity(map[corev1.ResourceName]string{corev1.ResourceCPU: "2"}).Obj()); err != nil {
		t.Fatal(err)
	}
	first := st.MakePod("first").Req(map[corev1.ResourceName]string{corev1.ResourceCPU: "1500m"}).Obj()
	second := st.MakePod("second").Req(map[corev1.ResourceName]string{corev1.ResourceCPU: "1"}).Obj()
	for _, pod := range []*corev1.Pod{first, second} {
		if err := prov.AddPod(ctx, pod); err != nil {
			t.Fatal(err)
		}
	}

	if err := prov.CommitBinding(ctx, first, "n"); err != nil {
		t.Fatalf("CommitBinding(first) error = %v", err)
	}
	stored, err := prov.GetPod(ctx, "default", "first")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Spec.NodeName != "n" {
		t.Errorf("stored pod is on %q, expected n", stored.Spec.NodeName)
	}

	replaced := second.DeepCopy()
	replaced.UID = "another"
	tests := []struct {
		name string
		pod  *corev1.Pod
		node string
	}{
		{name: "already bound", pod: first, node: "n"},
		{name: "does not fit", pod: second, node: "n"},
		{name: "missing node", pod: second, node: "m"},
		{name: "missing pod", pod: st.MakePod("ghost").Obj(), node: "n"},
		{name: "replaced pod", pod: replaced, node: "n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := prov.CommitBinding(ctx, tt.pod, tt.node); !errors.Is(err, framework.ErrBindConflict) {
				t.Errorf("CommitBinding() error = %v, expected a bind conflict", err)
			}
		})
	}
}

func TestConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	prov, _ := newTestProvider(t)
	if err := prov.AddNode(ctx, st.MakeNode("n").Capacity(map[corev1.ResourceName]string{corev1.ResourceCPU: "1"}).Obj()); err != nil {
		t.Fatal(err)
	}
	const n = 10
	pods := make([]*corev1.Pod, n)
	for i := range pods {
		pods[i] = st.MakePod(fmt.Sprintf("p%d", i)).Req(map[corev1.ResourceName]string{corev1.ResourceCPU: "1"}).Obj()
		if err := prov.AddPod(ctx, pods[i]); err != nil {
			t.Fatal(err)
		}
	}

	var mutex sync.Mutex
	var wg sync.WaitGroup
	var successes, conflicts int
	for _, pod := range pods {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := prov.CommitBinding(ctx, pod, "n")
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, framework.ErrBindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != n-1 {
		t.Errorf("got %d successes and %d conflicts, expected 1 and %d", successes, conflicts, n-1)
	}
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	prov, server := newTestProvider(t)
	pod := st.MakePod("p").Obj()
	if err := prov.AddPod(ctx, pod); err != nil {
		t.Fatal(err)
	}
	server.Close()

	if _, err := prov.ListNodes(ctx); !errors.Is(err, framework.ErrProviderUnavailable) {
		t.Errorf("ListNodes() error = %v, expected provider unavailable", err)
	}
	if _, err := prov.ListBoundPods(ctx); !errors.Is(err, framework.ErrProviderUnavailable) {
		t.Errorf("ListBoundPods() error = %v, expected provider unavailable", err)
	}
	if err := prov.CommitBinding(ctx, pod, "n"); !errors.Is(err, framework.ErrProviderUnavailable) {
		t.Errorf("CommitBinding() error = %v, expected provider unavailable", err)
	}
}
