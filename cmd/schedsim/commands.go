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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler"
	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
	"github.com/llm-d-incubation/fma-scheduler/pkg/sim"
)

func (opts *options) newScheduler(prov simProvider) *scheduler.Scheduler {
	return scheduler.New(prov,
		scheduler.WithScoring(opts.cfg.Scoring),
		scheduler.WithParallelism(opts.cfg.Parallelism))
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Schedule and bind every pending Pod",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			prov, release, err := opts.openProvider(ctx)
			if err != nil {
				return err
			}
			defer release()
			pending, err := prov.ListPendingPods(ctx)
			if err != nil {
				return err
			}
			outcomes, err := sim.Run(ctx, opts.newScheduler(prov), pending, sim.Options{
				Workers:        opts.cfg.NumWorkers,
				MaxBindRetries: opts.cfg.MaxBindRetries,
			})
			if printErr := printOutcomes(cmd.OutOrStdout(), opts.output, outcomes); printErr != nil {
				return errors.Join(err, printErr)
			}
			return err
		},
	}
}

func newEvaluateCommand(opts *options) *cobra.Command {
	var podPath string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Show how one Pod would be scheduled, without binding it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pod, err := sim.LoadPod(podPath)
			if err != nil {
				return err
			}
			prov, release, err := opts.openProvider(ctx)
			if err != nil {
				return err
			}
			defer release()
			sched := opts.newScheduler(prov)
			snapshot, err := sched.Snapshot(ctx)
			if err != nil {
				return err
			}
			result, err := sched.Evaluate(ctx, pod, snapshot)
			if err != nil && !errors.Is(err, framework.ErrUnschedulable) {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, result)
		},
	}
	cmd.Flags().StringVar(&podPath, "pod", "", "path of a YAML Pod")
	_ = cmd.MarkFlagRequired("pod")
	return cmd
}

func newSeedCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the cluster fixture into the provider",
		Long:  "Load the cluster fixture into the provider. Useful with the redis provider, whose state outlives the process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.clusterPath == "" {
				return fmt.Errorf("--cluster is required")
			}
			_, release, err := opts.openProvider(cmd.Context())
			if err != nil {
				return err
			}
			release()
			return nil
		},
	}
}
