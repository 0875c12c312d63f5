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

package scheduling

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	corev1preinformers "k8s.io/client-go/informers/core/v1"
	coreclient "k8s.io/client-go/kubernetes/typed/core/v1"
	corev1listers "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/tools/cache"
	"k8s.io/klog/v2"

	genctlr "github.com/llm-d-incubation/fma-scheduler/pkg/controller/generic"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

const ControllerName = "scheduling-controller"

type Controller interface {
	Start(context.Context) error
	HasProcessedSync() bool
}

type Config struct {
	SchedulerName string
	NumWorkers    int

	// MaxBindRetries is how many times a Pod is rescheduled from a fresh
	// snapshot, within one pass, after losing a bind race.
	MaxBindRetries int

	// MaxRequeues, when positive, bounds the consecutive requeues of a Pod
	// that could not be scheduled. Zero means no bound.
	MaxRequeues int
}

// NewController makes a controller that schedules the pending Pods whose
// spec.schedulerName is cfg.SchedulerName. onceProcessedSync, if not nil,
// is called once every Pod pending at startup has been tried.
func NewController(
	logger klog.Logger,
	coreClient coreclient.CoreV1Interface,
	corev1PreInformers corev1preinformers.Interface,
	sched *scheduler.Scheduler,
	cfg Config,
	onceProcessedSync func(context.Context),
) (*controller, error) {
	ctl := &controller{
		enqueueLogger: logger.WithName(ControllerName),
		coreclient:    coreClient,
		podInformer:   corev1PreInformers.Pods().Informer(),
		podLister:     corev1PreInformers.Pods().Lister(),
		nodeInformer:  corev1PreInformers.Nodes().Informer(),
		sched:         sched,
		cfg:           cfg,
	}
	ctl.KnowsProcessedSync = genctlr.NewKnowsProcessedSync(ControllerName, cfg.NumWorkers, ctl.process,
		func(worker int) typedRef { return typedRef{Kind: sentinelKind, ObjectName: cache.ObjectName{Name: fmt.Sprint(worker)}} },
		func(ref typedRef) bool { return ref.Kind == sentinelKind },
		onceProcessedSync)
	ctl.MaxRetries = cfg.MaxRequeues
	podRegistration, err := ctl.podInformer.AddEventHandler(ctl)
	if err != nil {
		return nil, fmt.Errorf("failed to add pod event handler: %w", err)
	}
	nodeRegistration, err := ctl.nodeInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj any) { ctl.enqueuePending("node add") },
		UpdateFunc: ctl.onNodeUpdate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add node event handler: %w", err)
	}
	ctl.handlersSynced = []cache.InformerSynced{podRegistration.HasSynced, nodeRegistration.HasSynced}
	return ctl, nil
}

type controller struct {
	enqueueLogger  klog.Logger
	coreclient     coreclient.CoreV1Interface
	podInformer    cache.SharedIndexInformer
	podLister      corev1listers.PodLister
	nodeInformer   cache.SharedIndexInformer
	handlersSynced []cache.InformerSynced
	sched          *scheduler.Scheduler
	cfg            Config
	*genctlr.KnowsProcessedSync[typedRef]
}

var _ Controller = &controller{}

type typedRef struct {
	Kind string
	cache.ObjectName
}

func (ref typedRef) String() string {
	return ref.Kind + ":" + ref.ObjectName.String()
}

const (
	podKind      = "Pod"
	sentinelKind = "sentinel"
)

// careAbout tells whether the Pod is pending and ours.
func (ctl *controller) careAbout(pod *corev1.Pod) bool {
	return pod.Spec.SchedulerName == ctl.cfg.SchedulerName && pod.Spec.NodeName == "" &&
		pod.DeletionTimestamp == nil &&
		pod.Status.Phase != corev1.PodSucceeded && pod.Status.Phase != corev1.PodFailed
}

func (ctl *controller) OnAdd(obj any, isInInitialList bool) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		ctl.enqueueLogger.Error(nil, "Notified of add of unexpected type of object", "type", fmt.Sprintf("%T", obj))
		return
	}
	if !ctl.careAbout(pod) {
		return
	}
	ref := typedRef{podKind, cache.MetaObjectToName(pod)}
	ctl.enqueueLogger.V(5).Info("Enqueuing reference due to notification of add", "ref", ref, "isInInitialList", isInInitialList)
	ctl.Queue.Add(ref)
}

// OnUpdate ignores status-only changes, which include the condition this
// controller writes.
func (ctl *controller) OnUpdate(prev, obj any) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		ctl.enqueueLogger.Error(nil, "Notified of update of unexpected type of object", "type", fmt.Sprintf("%T", obj))
		return
	}
	ctl.sched.Binder().Observe(pod)
	if !ctl.careAbout(pod) {
		return
	}
	if prevPod, ok := prev.(*corev1.Pod); ok && apiequality.Semantic.DeepEqual(prevPod.Spec, pod.Spec) &&
		apiequality.Semantic.DeepEqual(prevPod.Labels, pod.Labels) {
		return
	}
	ref := typedRef{podKind, cache.MetaObjectToName(pod)}
	ctl.enqueueLogger.V(5).Info("Enqueuing reference due to notification of update", "ref", ref)
	ctl.Queue.Add(ref)
}

// OnDelete drops the Pod from the Binder's assumed set.
func (ctl *controller) OnDelete(obj any) {
	if dfsu, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = dfsu.Obj
	}
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		ctl.enqueueLogger.Error(nil, "Notified of delete of unexpected type of object", "type", fmt.Sprintf("%T", obj))
		return
	}
	ctl.sched.Binder().Forget(pod.UID)
	ctl.enqueueLogger.V(5).Info("Forgot deleted pod", "pod", klog.KObj(pod))
}

func (ctl *controller) onNodeUpdate(prev, obj any) {
	prevNode, ok1 := prev.(*corev1.Node)
	node, ok2 := obj.(*corev1.Node)
	if ok1 && ok2 && apiequality.Semantic.DeepEqual(prevNode.Spec, node.Spec) &&
		apiequality.Semantic.DeepEqual(prevNode.Labels, node.Labels) &&
		apiequality.Semantic.DeepEqual(prevNode.Status.Allocatable, node.Status.Allocatable) {
		return
	}
	ctl.enqueuePending("node update")
}

// enqueuePending gives every pending Pod another try, since a Node change
// may make some of them schedulable.
func (ctl *controller) enqueuePending(cause string) {
	pods, err := ctl.podLister.List(labels.Everything())
	if err != nil {
		ctl.enqueueLogger.Error(err, "Failed to list pods")
		return
	}
	count := 0
	for _, pod := range pods {
		if ctl.careAbout(pod) {
			ctl.Queue.Add(typedRef{podKind, cache.MetaObjectToName(pod)})
			count++
		}
	}
	ctl.enqueueLogger.V(5).Info("Enqueued pending pods", "cause", cause, "count", count)
}

func (ctl *controller) Start(ctx context.Context) error {
	if !cache.WaitForNamedCacheSync(ControllerName, ctx.Done(), ctl.handlersSynced...) {
		return fmt.Errorf("caches not synced before end of Start context")
	}
	err := ctl.StartWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

func (ctl *controller) process(ctx context.Context, ref typedRef) (error, bool) {
	logger := klog.FromContext(ctx)
	switch ref.Kind {
	case podKind:
		return ctl.processPod(ctx, ref.ObjectName)
	default:
		logger.Error(nil, "Asked to process unexpected Kind of object", "kind", ref.Kind)
		return nil, false
	}
}

// processPod schedules one Pod, retrying from a fresh snapshot after bind
// conflicts up to MaxBindRetries times.
func (ctl *controller) processPod(ctx context.Context, podRef cache.ObjectName) (error, bool) {
	logger := klog.FromContext(ctx).WithValues("pod", podRef)
	ctx = klog.NewContext(ctx, logger)

	for attempt := 0; ; attempt++ {
		pod, err := ctl.podLister.Pods(podRef.Namespace).Get(podRef.Name)
		if err != nil {
			if apierrors.IsNotFound(err) {
				logger.V(5).Info("Pod not found, skipping processing")
				return nil, false
			}
			return err, true
		}
		if !ctl.careAbout(pod) || ctl.sched.Binder().IsAssumed(pod.UID) {
			logger.V(5).Info("Pod is no longer pending, skipping processing")
			return nil, false
		}

		result, err := ctl.sched.Schedule(ctx, pod)
		var fitErr *framework.FitError
		switch {
		case err == nil:
			logger.V(2).Info("Pod scheduled", "node", result.Node, "decisionID", result.DecisionID)
			return nil, false
		case errors.As(err, &fitErr):
			if err := ctl.markUnschedulable(ctx, pod, fitErr); err != nil {
				return err, true
			}
			return nil, true
		case errors.Is(err, framework.ErrBindConflict):
			if attempt >= ctl.cfg.MaxBindRetries {
				return fmt.Errorf("giving up after %d bind conflicts: %w", attempt+1, err), false
			}
			logger.V(3).Info("Retrying after bind conflict", "attempt", attempt+1, "err", err)
		case ctx.Err() != nil:
			return nil, false
		default:
			return err, true
		}
	}
}

// markUnschedulable records in the Pod's status why it could not be
// scheduled. An unchanged condition is not rewritten.
func (ctl *controller) markUnschedulable(ctx context.Context, pod *corev1.Pod, fitErr *framework.FitError) error {
	message := fitErr.Error()
	cond := corev1.PodCondition{
		Type:    corev1.PodScheduled,
		Status:  corev1.ConditionFalse,
		Reason:  corev1.PodReasonUnschedulable,
		Message: message,
	}
	podCopy := pod.DeepCopy()
	if !setPodCondition(&podCopy.Status, cond) {
		return nil
	}
	_, err := ctl.coreclient.Pods(pod.Namespace).UpdateStatus(ctx, podCopy, metav1UpdateOptions)
	if err != nil {
		return fmt.Errorf("failed to update status of pod %s: %w", klog.KObj(pod), err)
	}
	klog.FromContext(ctx).V(2).Info("Marked pod unschedulable", "message", message)
	return nil
}
