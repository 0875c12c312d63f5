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

package generic

import (
	"context"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// KnowsProcessedSync is a QueueAndWorkers that can tell when the items
// enqueued before the informers synced have all been processed.
// StartWorkers puts one sentinel per worker behind those items; a worker
// that pops a sentinel waits until every worker has popped one.
type KnowsProcessedSync[Item comparable] struct {
	QueueAndWorkers[Item]

	onceProcessedSync func(context.Context)
	makeSentinel      func(int) Item
	isSentinel        func(Item) bool

	barrier       *sync.WaitGroup
	processedSync *atomic.Bool
}

func NewKnowsProcessedSync[Item comparable](
	controllerName string,
	numWorkers int,
	process func(ctx context.Context, item Item) (err error, retry bool),
	makeSentinel func(distinguisher int) Item,
	isSentinel func(Item) bool,
	onceProcessedSync func(context.Context),
) *KnowsProcessedSync[Item] {
	kps := &KnowsProcessedSync[Item]{
		onceProcessedSync: onceProcessedSync,
		makeSentinel:      makeSentinel,
		isSentinel:        isSentinel,
		barrier:           &sync.WaitGroup{},
		processedSync:     &atomic.Bool{},
	}
	kps.QueueAndWorkers = newQueueAndWorkers(controllerName, numWorkers, process, kps.atSentinel)
	return kps
}

func (ctl *KnowsProcessedSync[Item]) atSentinel(ctx context.Context, item Item) *bool {
	if !ctl.isSentinel(item) {
		return nil
	}
	logger := klog.FromContext(ctx)
	logger.V(3).Info("Reached end of initial items; waiting for the other workers", "sentinel", item)
	ctl.barrier.Done()
	ctl.barrier.Wait()
	ans := true
	return &ans
}

// StartWorkers enqueues the sentinels and launches the workers.
// Call it after the informers have synced.
func (ctl *KnowsProcessedSync[Item]) StartWorkers(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	ctl.barrier.Add(ctl.NumWorkers)
	go func() {
		ctl.barrier.Wait()
		logger.V(1).Info("Initial items processed")
		ctl.processedSync.Store(true)
		if ctl.onceProcessedSync != nil {
			ctl.onceProcessedSync(ctx)
		}
	}()
	for worker := range ctl.NumWorkers {
		ctl.Queue.Add(ctl.makeSentinel(worker))
	}
	return ctl.QueueAndWorkers.StartWorkers(ctx)
}

func (ctl *KnowsProcessedSync[Item]) HasProcessedSync() bool {
	return ctl.processedSync.Load()
}
