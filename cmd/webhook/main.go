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

package main

import (
	"flag"
	"os"

	"github.com/spf13/pflag"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	klog "k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/llm-d-incubation/fma-scheduler/pkg/config"
	"github.com/llm-d-incubation/fma-scheduler/pkg/webhook/pod"
)

func main() {
	schedulerName := config.DefaultSchedulerName
	port := 9443
	certDir := ""
	probeAddr := ":8081"

	klog.InitFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&schedulerName, "scheduler-name", schedulerName, "only Pods with this spec.schedulerName are checked; empty checks all")
	pflag.CommandLine.IntVar(&port, "port", port, "webhook server port")
	pflag.CommandLine.StringVar(&certDir, "cert-dir", certDir, "directory holding tls.crt and tls.key")
	pflag.CommandLine.StringVar(&probeAddr, "health-probe-bind-address", probeAddr, "address serving /healthz and /readyz")
	pflag.Parse()
	ctrl.SetLogger(klog.Background())

	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		HealthProbeBindAddress: probeAddr,
		WebhookServer: webhook.NewServer(webhook.Options{
			Port:    port,
			CertDir: certDir,
		}),
	})
	if err != nil {
		klog.Fatal(err)
	}

	validator := pod.NewPodSchedulingValidator(schedulerName, admission.NewDecoder(scheme))
	mgr.GetWebhookServer().Register(pod.Path, &webhook.Admission{Handler: validator})
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		klog.Fatal(err)
	}
	if err := mgr.AddReadyzCheck("readyz", mgr.GetWebhookServer().StartedChecker()); err != nil {
		klog.Fatal(err)
	}

	klog.InfoS("Starting webhook server", "path", pod.Path)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		klog.ErrorS(err, "manager exited non-zero")
		os.Exit(1)
	}
}
