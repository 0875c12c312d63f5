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

package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

const DefaultSchedulerName = "fma-scheduler"

const (
	ProviderMemory = "memory"
	ProviderKube   = "kube"
	ProviderRedis  = "redis"
)

// Config is the configuration of a scheduler process.
// It is read from a YAML file and then overridden by flags.
type Config struct {
	// SchedulerName selects the Pods this scheduler is responsible for.
	SchedulerName string `json:"schedulerName"`

	// Parallelism is the number of goroutines evaluating Nodes within
	// one decision.
	Parallelism int `json:"parallelism"`

	// NumWorkers is the number of Pods scheduled concurrently.
	NumWorkers int `json:"numWorkers"`

	// MaxBindRetries bounds how many times a Pod is rescheduled from a
	// fresh snapshot after a bind conflict.
	MaxBindRetries int `json:"maxBindRetries"`

	// MaxRequeues, when positive, bounds the consecutive requeues of a Pod
	// that could not be scheduled. Zero means no bound.
	MaxRequeues int `json:"maxRequeues"`

	Scoring  ScoringConfig  `json:"scoring"`
	Provider ProviderConfig `json:"provider"`
}

// ScoringConfig holds the numbers of score aggregation.
type ScoringConfig struct {
	// RuleScoreLimit clamps each rule's raw contribution to
	// [-RuleScoreLimit, RuleScoreLimit].
	RuleScoreLimit int64 `json:"ruleScoreLimit"`

	// MaxTotalScore clamps the weighted sum.
	MaxTotalScore int64 `json:"maxTotalScore"`

	// PreferNoSchedulePenalty is charged per untolerated PreferNoSchedule taint.
	PreferNoSchedulePenalty int64 `json:"preferNoSchedulePenalty"`

	// Weights multiplies the clamped contribution of each rule.
	// Rules not listed have weight 1.
	Weights map[framework.RuleKind]int64 `json:"weights,omitempty"`
}

type ProviderConfig struct {
	// Type is one of memory, kube, redis.
	Type  string      `json:"type"`
	Redis RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

func Default() Config {
	return Config{
		SchedulerName:  DefaultSchedulerName,
		Parallelism:    16,
		NumWorkers:     2,
		MaxBindRetries: 3,
		Scoring: ScoringConfig{
			RuleScoreLimit:          100,
			MaxTotalScore:           1000,
			PreferNoSchedulePenalty: 10,
		},
		Provider: ProviderConfig{
			Type: ProviderKube,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "sched",
			},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	return load(Default(), path)
}

func load(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func Resolve(base Config, path string, flags *pflag.FlagSet) (Config, error) {
	cfg, err := load(base, path)
	if err != nil {
		return cfg, err
	}
	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	cfg.AddToFlagSet(overlay)
	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		target := overlay.Lookup(f.Name)
		if target == nil {
			return
		}
		if err := target.Value.Set(f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("flag --%s: %w", f.Name, err))
		}
	})
	return cfg, utilerrors.NewAggregate(errs)
}

func (cfg *Config) AddToFlagSet(flags *pflag.FlagSet) {
	flags.StringVar(&cfg.SchedulerName, "scheduler-name", cfg.SchedulerName, "spec.schedulerName of the Pods to schedule")
	flags.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "number of goroutines evaluating Nodes for one Pod")
	flags.IntVar(&cfg.NumWorkers, "num-workers", cfg.NumWorkers, "number of Pods scheduled concurrently")
	flags.IntVar(&cfg.MaxBindRetries, "max-bind-retries", cfg.MaxBindRetries, "number of rescheduling attempts after a bind conflict")
	flags.IntVar(&cfg.MaxRequeues, "max-requeues", cfg.MaxRequeues, "consecutive requeues of an unschedulable Pod before giving up until it changes; 0 for no limit")
	cfg.Scoring.AddToFlagSet("score", flags)
	cfg.Provider.AddToFlagSet("provider", flags)
}

func (sc *ScoringConfig) AddToFlagSet(prefix string, flags *pflag.FlagSet) {
	flags.Int64Var(&sc.RuleScoreLimit, prefix+"-rule-limit", sc.RuleScoreLimit, "bound on the magnitude of each rule's score")
	flags.Int64Var(&sc.MaxTotalScore, prefix+"-max-total", sc.MaxTotalScore, "bound on the magnitude of a Node's total score")
	flags.Int64Var(&sc.PreferNoSchedulePenalty, prefix+"-prefer-no-schedule-penalty", sc.PreferNoSchedulePenalty, "score penalty per untolerated PreferNoSchedule taint")
}

func (pc *ProviderConfig) AddToFlagSet(prefix string, flags *pflag.FlagSet) {
	flags.StringVar(&pc.Type, prefix, pc.Type, "cluster state provider: memory, kube or redis")
	flags.StringVar(&pc.Redis.Addr, prefix+"-redis-addr", pc.Redis.Addr, "address of the Redis server")
	flags.IntVar(&pc.Redis.DB, prefix+"-redis-db", pc.Redis.DB, "Redis database number")
	flags.StringVar(&pc.Redis.KeyPrefix, prefix+"-redis-key-prefix", pc.Redis.KeyPrefix, "prefix of the Redis keys")
}

// Weight returns the weight of the given rule.
func (sc ScoringConfig) Weight(kind framework.RuleKind) int64 {
	if w, ok := sc.Weights[kind]; ok {
		return w
	}
	return 1
}

// Validate returns every problem found, aggregated, or nil.
func (cfg Config) Validate() error {
	var errs field.ErrorList
	if cfg.SchedulerName == "" {
		errs = append(errs, field.Required(field.NewPath("schedulerName"), ""))
	}
	if cfg.Parallelism < 1 {
		errs = append(errs, field.Invalid(field.NewPath("parallelism"), cfg.Parallelism, "must be positive"))
	}
	if cfg.NumWorkers < 1 {
		errs = append(errs, field.Invalid(field.NewPath("numWorkers"), cfg.NumWorkers, "must be positive"))
	}
	if cfg.MaxBindRetries < 0 {
		errs = append(errs, field.Invalid(field.NewPath("maxBindRetries"), cfg.MaxBindRetries, "must not be negative"))
	}
	if cfg.MaxRequeues < 0 {
		errs = append(errs, field.Invalid(field.NewPath("maxRequeues"), cfg.MaxRequeues, "must not be negative"))
	}
	scorePath := field.NewPath("scoring")
	if cfg.Scoring.RuleScoreLimit < 0 {
		errs = append(errs, field.Invalid(scorePath.Child("ruleScoreLimit"), cfg.Scoring.RuleScoreLimit, "must not be negative"))
	}
	if cfg.Scoring.MaxTotalScore < 0 {
		errs = append(errs, field.Invalid(scorePath.Child("maxTotalScore"), cfg.Scoring.MaxTotalScore, "must not be negative"))
	}
	if cfg.Scoring.PreferNoSchedulePenalty < 0 {
		errs = append(errs, field.Invalid(scorePath.Child("preferNoSchedulePenalty"), cfg.Scoring.PreferNoSchedulePenalty, "must not be negative"))
	}
	for kind, w := range cfg.Scoring.Weights {
		switch kind {
		case framework.RuleNodeAffinity, framework.RuleInterPodAffinity, framework.RuleTaintToleration:
		default:
			errs = append(errs, field.NotSupported(scorePath.Child("weights").Key(string(kind)), kind,
				[]string{string(framework.RuleNodeAffinity), string(framework.RuleInterPodAffinity), string(framework.RuleTaintToleration)}))
		}
		if w < 0 {
			errs = append(errs, field.Invalid(scorePath.Child("weights").Key(string(kind)), w, "must not be negative"))
		}
	}
	provPath := field.NewPath("provider")
	switch cfg.Provider.Type {
	case ProviderMemory, ProviderKube:
	case ProviderRedis:
		if cfg.Provider.Redis.Addr == "" {
			errs = append(errs, field.Required(provPath.Child("redis", "addr"), "needed by the redis provider"))
		}
	default:
		errs = append(errs, field.NotSupported(provPath.Child("type"), cfg.Provider.Type, []string{ProviderMemory, ProviderKube, ProviderRedis}))
	}
	return errs.ToAggregate()
}
