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

// Package redis keeps cluster state in Redis so that several scheduler
// processes can share it.
//
// Layout, for a key prefix P:
//
//	P:nodes            hash of node name to Node JSON
//	P:pods             set of "namespace/name"
//	P:pod:<ns>/<name>  Pod JSON
//	P:rev:<node>       counter bumped by every change to the Pods on that Node
//
// A binding is a WATCH/MULTI transaction over the Pod, the node hash and
// the Node's counter, so two commits conflict only when they race on the
// same Node or Pod.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/uuid"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/provider"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

const DefaultKeyPrefix = "sched"

type Provider struct {
	client redis.UniversalClient
	prefix string
}

var _ provider.Interface = &Provider{}

func New(client redis.UniversalClient, keyPrefix string) *Provider {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Provider{client: client, prefix: keyPrefix}
}

func (p *Provider) nodesKey() string { return p.prefix + ":nodes" }
func (p *Provider) podsKey() string { return p.prefix + ":pods" }
func (p *Provider) podKey(ref string) string { return p.prefix + ":pod:" + ref }
func (p *Provider) revKey(nodeName string) string { return p.prefix + ":rev:" + nodeName }

func podRef(namespace, name string) string { return namespace + "/" + name }

// unavailable wraps errors from talking to Redis.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", framework.ErrProviderUnavailable, err)
}

// Ping checks that Redis is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *Provider) AddNode(ctx context.Context, node *corev1.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if err := p.client.HSet(ctx, p.nodesKey(), node.Name, data).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// AddPod stores a Pod, bound or not. A Pod without a UID is given one.
func (p *Provider) AddPod(ctx context.Context, pod *corev1.Pod) error {
	if pod.UID == "" {
		pod = pod.DeepCopy()
		pod.UID = uuid.NewUUID()
	}
	data, err := json.Marshal(pod)
	if err != nil {
		return err
	}
	ref := podRef(pod.Namespace, pod.Name)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.podKey(ref), data, 0)
		pipe.SAdd(ctx, p.podsKey(), ref)
		if pod.Spec.NodeName != "" {
			pipe.Incr(ctx, p.revKey(pod.Spec.NodeName))
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *Provider) DeletePod(ctx context.Context, namespace, name string) error {
	ref := podRef(namespace, name)
	pod, err := p.getPod(ctx, p.client, ref)
	if err != nil {
		return err
	}
	if pod == nil {
		return nil
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.podKey(ref))
		pipe.SRem(ctx, p.podsKey(), ref)
		if pod.Spec.NodeName != "" {
			pipe.Incr(ctx, p.revKey(pod.Spec.NodeName))
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetPod returns the stored Pod, or nil if there is none.
func (p *Provider) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	return p.getPod(ctx, p.client, podRef(namespace, name))
}

func (p *Provider) getPod(ctx context.Context, client redis.Cmdable, ref string) (*corev1.Pod, error) {
	data, err := client.Get(ctx, p.podKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	pod := &corev1.Pod{}
	if err := json.Unmarshal(data, pod); err != nil {
		return nil, fmt.Errorf("failed to decode pod %s: %w", ref, err)
	}
	return pod, nil
}

func (p *Provider) ListNodes(ctx context.Context) ([]*corev1.Node, error) {
	return p.listNodes(ctx, p.client)
}

func (p *Provider) listNodes(ctx context.Context, client redis.Cmdable) ([]*corev1.Node, error) {
	all, err := client.HGetAll(ctx, p.nodesKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	ans := make([]*corev1.Node, 0, len(all))
	for name, data := range all {
		node := &corev1.Node{}
		if err := json.Unmarshal([]byte(data), node); err != nil {
			return nil, fmt.Errorf("failed to decode node %q: %w", name, err)
		}
		ans = append(ans, node)
	}
	sort.Slice(ans, func(i, j int) bool { return ans[i].Name < ans[j].Name })
	return ans, nil
}

func (p *Provider) ListBoundPods(ctx context.Context) ([]*corev1.Pod, error) {
	return p.listPods(ctx, p.client, func(pod *corev1.Pod) bool { return pod.Spec.NodeName != "" })
}

// ListPendingPods returns the Pods without a Node, in namespace/name order.
func (p *Provider) ListPendingPods(ctx context.Context) ([]*corev1.Pod, error) {
	return p.listPods(ctx, p.client, func(pod *corev1.Pod) bool { return pod.Spec.NodeName == "" })
}

func (p *Provider) listPods(ctx context.Context, client redis.Cmdable, keep func(*corev1.Pod) bool) ([]*corev1.Pod, error) {
	refs, err := client.SMembers(ctx, p.podsKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	sort.Strings(refs)
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = p.podKey(ref)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	ans := make([]*corev1.Pod, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		pod := &corev1.Pod{}
		if err := json.Unmarshal([]byte(data), pod); err != nil {
			return nil, fmt.Errorf("failed to decode pod %s: %w", refs[i], err)
		}
		if keep(pod) {
			ans = append(ans, pod)
		}
	}
	return ans, nil
}

// CommitBinding re-checks inside a transaction that the Pod is pending and
// fits on the Node, then writes spec.nodeName. A concurrent change to the
// Pod, the Node or the Pods on that Node makes it fail with ErrBindConflict.
func (p *Provider) CommitBinding(ctx context.Context, pod *corev1.Pod, nodeName string) error {
	logger := klog.FromContext(ctx)
	ref := podRef(pod.Namespace, pod.Name)
	txf := func(tx *redis.Tx) error {
		stored, err := p.getPod(ctx, tx, ref)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("pod %s not found: %w", ref, framework.ErrBindConflict)
		}
		if pod.UID != "" && stored.UID != pod.UID {
			return fmt.Errorf("pod %s was replaced: %w", ref, framework.ErrBindConflict)
		}
		if stored.Spec.NodeName != "" {
			return fmt.Errorf("pod %s is already bound to %q: %w", ref, stored.Spec.NodeName, framework.ErrBindConflict)
		}
		nodeData, err := tx.HGet(ctx, p.nodesKey(), nodeName).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("node %q not found: %w", nodeName, framework.ErrBindConflict)
		}
		if err != nil {
			return unavailable(err)
		}
		node := &corev1.Node{}
		if err := json.Unmarshal(nodeData, node); err != nil {
			return fmt.Errorf("failed to decode node %q: %w", nodeName, err)
		}
		onNode, err := p.listPods(ctx, tx, func(other *corev1.Pod) bool { return other.Spec.NodeName == nodeName })
		if err != nil {
			return err
		}
		nodeInfo := framework.NewNodeInfo(node, onNode...)
		if short := framework.InsufficientResources(node.Status.Allocatable, nodeInfo.Requested, framework.PodRequests(stored)); len(short) > 0 {
			return fmt.Errorf("node %q has insufficient %v: %w", nodeName, short, framework.ErrBindConflict)
		}
		stored.Spec.NodeName = nodeName
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, p.podKey(ref), data, 0)
			pipe.Incr(ctx, p.revKey(nodeName))
			return nil
		})
		return err
	}
	err := p.client.Watch(ctx, txf, p.podKey(ref), p.nodesKey(), p.revKey(nodeName))
	switch {
	case err == nil:
		logger.V(4).Info("Committed binding", "pod", ref, "node", nodeName)
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("concurrent change while binding %s to %q: %w", ref, nodeName, framework.ErrBindConflict)
	case errors.Is(err, framework.ErrBindConflict), errors.Is(err, framework.ErrProviderUnavailable):
		return err
	default:
		return unavailable(err)
	}
}
