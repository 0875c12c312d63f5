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

// Package kube reads cluster state from informer caches and commits
// bindings through the Pod binding subresource.
package kube

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	corev1preinformers "k8s.io/client-go/informers/core/v1"
	coreclient "k8s.io/client-go/kubernetes/typed/core/v1"
	corev1listers "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/tools/cache"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/provider"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

type Provider struct {
	coreClient coreclient.CoreV1Interface
	nodeLister corev1listers.NodeLister
	podLister  corev1listers.PodLister
	hasSynced  []cache.InformerSynced
}

var _ provider.Interface = &Provider{}

// New makes a Provider. The informers behind corev1PreInformers must be
// started by the caller.
func New(coreClient coreclient.CoreV1Interface, corev1PreInformers corev1preinformers.Interface) *Provider {
	return &Provider{
		coreClient: coreClient,
		nodeLister: corev1PreInformers.Nodes().Lister(),
		podLister:  corev1PreInformers.Pods().Lister(),
		hasSynced: []cache.InformerSynced{
			corev1PreInformers.Nodes().Informer().HasSynced,
			corev1PreInformers.Pods().Informer().HasSynced,
		},
	}
}

// HasSynced reports whether the informer caches hold a full listing.
func (p *Provider) HasSynced() bool {
	for _, synced := range p.hasSynced {
		if !synced() {
			return false
		}
	}
	return true
}

func (p *Provider) ListNodes(ctx context.Context) ([]*corev1.Node, error) {
	if !p.HasSynced() {
		return nil, fmt.Errorf("node cache not synced: %w", framework.ErrProviderUnavailable)
	}
	return p.nodeLister.List(labels.Everything())
}

// ListBoundPods omits Pods in a terminal phase because they hold no
// resources.
func (p *Provider) ListBoundPods(ctx context.Context) ([]*corev1.Pod, error) {
	if !p.HasSynced() {
		return nil, fmt.Errorf("pod cache not synced: %w", framework.ErrProviderUnavailable)
	}
	all, err := p.podLister.List(labels.Everything())
	if err != nil {
		return nil, err
	}
	ans := make([]*corev1.Pod, 0, len(all))
	for _, pod := range all {
		if pod.Spec.NodeName == "" || pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		ans = append(ans, pod)
	}
	return ans, nil
}

func (p *Provider) CommitBinding(ctx context.Context, pod *corev1.Pod, nodeName string) error {
	binding := &corev1.Binding{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: pod.Namespace,
			Name:      pod.Name,
			UID:       pod.UID,
		},
		Target: corev1.ObjectReference{Kind: "Node", Name: nodeName},
	}
	err := p.coreClient.Pods(pod.Namespace).Bind(ctx, binding, metav1.CreateOptions{})
	if err != nil {
		klog.FromContext(ctx).V(3).Info("Binding failed", "pod", klog.KObj(pod), "node", nodeName, "err", err)
		return ClassifyError(err)
	}
	return nil
}

// ClassifyError wraps an API error with the matching scheduler error kind.
// Errors of no known kind are returned unchanged.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsConflict(err), apierrors.IsAlreadyExists(err), apierrors.IsNotFound(err):
		return fmt.Errorf("%w: %w", framework.ErrBindConflict, err)
	case apierrors.IsServerTimeout(err), apierrors.IsTimeout(err), apierrors.IsServiceUnavailable(err),
		apierrors.IsTooManyRequests(err), apierrors.IsInternalError(err),
		utilnet.IsConnectionRefused(err), utilnet.IsConnectionReset(err), utilnet.IsProbableEOF(err),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", framework.ErrProviderUnavailable, err)
	default:
		return err
	}
}
