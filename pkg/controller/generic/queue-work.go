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
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
)

// QueueAndWorkers is a rate-limited workqueue plus the worker goroutines
// that drain it.
type QueueAndWorkers[Item comparable] struct {
	ControllerName string
	Queue          workqueue.TypedRateLimitingInterface[Item]
	NumWorkers     int

	// MaxRetries, when positive, bounds how many times in a row one item
	// is requeued before it is dropped.
	MaxRetries int

	// Process handles one item. Iff it returns retry==true the item is
	// requeued with rate limiting.
	Process func(ctx context.Context, item Item) (err error, retry bool)

	earlySync func(context.Context, Item) *bool
}

func NewQueueAndWorkers[Item comparable](
	controllerName string,
	numWorkers int,
	process func(ctx context.Context, item Item) (err error, retry bool),
) QueueAndWorkers[Item] {
	return newQueueAndWorkers(controllerName, numWorkers, process, func(context.Context, Item) *bool { return nil })
}

func newQueueAndWorkers[Item comparable](
	controllerName string,
	numWorkers int,
	process func(ctx context.Context, item Item) (err error, retry bool),
	earlySync func(context.Context, Item) *bool,
) QueueAndWorkers[Item] {
	return QueueAndWorkers[Item]{
		ControllerName: controllerName,
		Queue: workqueue.NewTypedRateLimitingQueueWithConfig(
			workqueue.DefaultTypedControllerRateLimiter[Item](),
			workqueue.TypedRateLimitingQueueConfig[Item]{Name: controllerName}),
		NumWorkers: numWorkers,
		Process:    process,
		earlySync:  earlySync,
	}
}

// StartWorkers launches the workers, which run until ctx is done.
func (ctl *QueueAndWorkers[Item]) StartWorkers(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	go func() {
		<-ctx.Done()
		ctl.Queue.ShutDown()
	}()
	for workerIdx := range ctl.NumWorkers {
		workLogger := logger.WithValues("worker", workerIdx)
		workCtx := klog.NewContext(ctx, workLogger)
		workLogger.V(3).Info("Launching worker")
		go func() {
			wait.UntilWithContext(workCtx, ctl.runWorker, time.Second)
			workLogger.V(3).Info("Finished worker")
		}()
	}
	logger.V(1).Info("Started workers", "numWorkers", ctl.NumWorkers)
	return nil
}

func (ctl *QueueAndWorkers[Item]) runWorker(ctx context.Context) {
	for ctl.processNextWorkItem(ctx) {
	}
}

func (ctl *QueueAndWorkers[Item]) processNextWorkItem(ctx context.Context) bool {
	logger := klog.FromContext(ctx)
	item, shutdown := ctl.Queue.Get()
	if shutdown {
		return false
	}
	defer ctl.Queue.Done(item)
	logger.V(4).Info("Popped workqueue item", "item", item, "itemType", fmt.Sprintf("%T", item))
	if ans := ctl.earlySync(ctx, item); ans != nil {
		return *ans
	}
	err, retry := ctl.Process(ctx, item)
	ctl.settle(ctx, item, err, retry)
	return true
}

// settle requeues or forgets an item according to the outcome of Process.
func (ctl *QueueAndWorkers[Item]) settle(ctx context.Context, item Item, err error, retry bool) {
	logger := klog.FromContext(ctx)
	if retry && ctl.MaxRetries > 0 && ctl.Queue.NumRequeues(item) >= ctl.MaxRetries {
		ctl.Queue.Forget(item)
		logger.Error(err, "Giving up on workqueue item after too many retries", "item", item, "retries", ctl.MaxRetries)
		return
	}
	switch {
	case err == nil && retry:
		ctl.Queue.AddRateLimited(item)
		logger.V(4).Info("Processed workqueue item successfully, requeued for follow-up", "item", item)
	case err == nil:
		ctl.Queue.Forget(item)
		logger.V(4).Info("Processed workqueue item successfully", "item", item)
	case retry:
		ctl.Queue.AddRateLimited(item)
		logger.V(4).Info("Transient error processing workqueue item; will retry", "item", item, "err", err)
	default:
		ctl.Queue.Forget(item)
		logger.Error(err, "Failed to process workqueue item", "item", item)
	}
}
