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

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/fma-scheduler/pkg/config"
	"github.com/llm-d-incubation/fma-scheduler/pkg/provider"
	"github.com/llm-d-incubation/fma-scheduler/pkg/provider/memory"
	redisprovider "github.com/llm-d-incubation/fma-scheduler/pkg/provider/redis"
	"github.com/llm-d-incubation/fma-scheduler/pkg/sim"
)

type options struct {
	configPath  string
	clusterPath string
	output      string
	cfg         config.Config
}

func newRootCommand() *cobra.Command {
	base := config.Default()
	base.Provider.Type = config.ProviderMemory
	opts := &options{cfg: base}

	goFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(goFlags)

	root := &cobra.Command{
		Use:          "schedsim",
		Short:        "schedsim schedules the pending Pods of a cluster fixture",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(base, opts.configPath, cmd.Flags())
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if cfg.Provider.Type == config.ProviderKube {
				return fmt.Errorf("schedsim supports the %q and %q providers", config.ProviderMemory, config.ProviderRedis)
			}
			opts.cfg = cfg
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.AddGoFlagSet(goFlags)
	flags.StringVar(&opts.configPath, "config", opts.configPath, "path of a YAML configuration file; flags override it")
	flags.StringVarP(&opts.clusterPath, "cluster", "f", opts.clusterPath, "path of a YAML cluster fixture with nodes and pods")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format: table or yaml")
	opts.cfg.AddToFlagSet(flags)

	root.AddCommand(newRunCommand(opts), newEvaluateCommand(opts), newSeedCommand(opts))
	return root
}

// simProvider is a provider that a fixture can be loaded into.
type simProvider interface {
	provider.Interface
	sim.Store
}

// openProvider returns the configured provider, seeded with the cluster
// fixture if one was given. The returned func releases it.
func (opts *options) openProvider(ctx context.Context) (simProvider, func(), error) {
	var prov simProvider
	release := func() {}
	switch opts.cfg.Provider.Type {
	case config.ProviderRedis:
		rc := opts.cfg.Provider.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		release = func() { _ = client.Close() }
		rp := redisprovider.New(client, rc.KeyPrefix)
		if err := rp.Ping(ctx); err != nil {
			release()
			return nil, nil, err
		}
		prov = rp
	default:
		mp := memory.New()
		prov = struct {
			provider.Interface
			sim.Store
		}{mp, sim.MemoryStore(mp)}
	}
	if opts.clusterPath != "" {
		fixture, err := sim.LoadFixture(opts.clusterPath)
		if err == nil {
			err = sim.Seed(ctx, prov, fixture)
		}
		if err != nil {
			release()
			return nil, nil, err
		}
	}
	return prov, release, nil
}
