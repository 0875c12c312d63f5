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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	kubeinformers "k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/common"
	"github.com/llm-d-incubation/fma-scheduler/pkg/config"
	"github.com/llm-d-incubation/fma-scheduler/pkg/controller/scheduling"
	kubeprovider "github.com/llm-d-incubation/fma-scheduler/pkg/provider/kube"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler"
	"github.com/llm-d-incubation/fma-scheduler/pkg/server/probes"
)

func main() {
	cfg := config.Default()
	configPath := ""
	probesPort := "8081"
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}

	klog.InitFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&configPath, "config", configPath, "path of a YAML configuration file; flags override it")
	pflag.CommandLine.StringVar(&probesPort, "probes-port", probesPort, "port serving /readyz, /healthz and /metrics")
	cfg.AddToFlagSet(pflag.CommandLine)
	common.AddKubernetesClientFlags(pflag.CommandLine, loadingRules, overrides)
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	logger := klog.FromContext(ctx)

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.V(1).Info("Flag", "name", f.Name, "value", f.Value.String())
	})

	cfg, err := config.Resolve(config.Default(), configPath, pflag.CommandLine)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Provider.Type != config.ProviderKube {
		fmt.Fprintf(os.Stderr, "The scheduler only supports the %q provider, got %q\n", config.ProviderKube, cfg.Provider.Type)
		os.Exit(1)
	}

	restConfig, err := common.RestConfig(loadingRules, overrides, scheduling.ControllerName)
	if err != nil {
		klog.Fatal(err)
	}
	kubeClient := kubernetes.NewForConfigOrDie(restConfig)
	kubePreInformers := kubeinformers.NewSharedInformerFactory(kubeClient, 0)

	prov := kubeprovider.New(kubeClient.CoreV1(), kubePreInformers.Core().V1())
	sched := scheduler.New(prov,
		scheduler.WithScoring(cfg.Scoring),
		scheduler.WithParallelism(cfg.Parallelism))

	ctlr, err := scheduling.NewController(
		logger,
		kubeClient.CoreV1(),
		kubePreInformers.Core().V1(),
		sched,
		scheduling.Config{
			SchedulerName:  cfg.SchedulerName,
			NumWorkers:     cfg.NumWorkers,
			MaxBindRetries: cfg.MaxBindRetries,
			MaxRequeues:    cfg.MaxRequeues,
		},
		func(ctx context.Context) { probes.SetReady(true) },
	)
	if err != nil {
		klog.Fatal(err)
	}

	go func() {
		if err := probes.Start(ctx, probesPort); err != nil {
			logger.Error(err, "Probes server failed")
			cancel()
		}
	}()

	kubePreInformers.Start(ctx.Done())
	err = ctlr.Start(ctx)
	if err != nil {
		klog.Fatal(err)
	}
	<-ctx.Done()
	kubePreInformers.Shutdown()
}
