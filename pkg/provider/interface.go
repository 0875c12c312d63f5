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

// Package provider defines the cluster state that the scheduler reads
// and the single write it makes.
package provider

import (
	"context"

	corev1 "k8s.io/api/core/v1"
)

// Interface is a Cluster State Provider.
// The returned objects may be shared with the provider's caches and
// must not be modified by callers.
type Interface interface {
	ListNodes(ctx context.Context) ([]*corev1.Node, error)

	// ListBoundPods returns the Pods that have a non-empty spec.nodeName.
	ListBoundPods(ctx context.Context) ([]*corev1.Pod, error)

	// CommitBinding assigns the Pod to the Node.
	// It returns nil, an error wrapping framework.ErrBindConflict, or one
	// wrapping framework.ErrProviderUnavailable.
	CommitBinding(ctx context.Context, pod *corev1.Pod, nodeName string) error
}
