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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler/framework"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
schedulerName: gpu-scheduler
numWorkers: 4
scoring:
  preferNoSchedulePenalty: 25
  weights:
    NodeAffinity: 2
provider:
  type: redis
  redis:
    addr: redis:6379
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	expected := Default()
	expected.SchedulerName = "gpu-scheduler"
	expected.NumWorkers = 4
	expected.Scoring.PreferNoSchedulePenalty = 25
	expected.Scoring.Weights = map[framework.RuleKind]int64{framework.RuleNodeAffinity: 2}
	expected.Provider.Type = ProviderRedis
	expected.Provider.Redis.Addr = "redis:6379"
	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.Scoring.Weight(framework.RuleTaintToleration); got != 1 {
		t.Errorf("Weight(TaintToleration) = %d, expected 1", got)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "schedulerNmae: typo\n")
	if _, err := Load(path); err == nil {
		t.Errorf("Load() should reject an unknown field")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load() should fail on a missing file")
	}
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "schedulerName: from-file\nnumWorkers: 4\nparallelism: 3\n")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	seed := Default()
	seed.AddToFlagSet(flags)
	if err := flags.Parse([]string{"--num-workers=7", "--score-prefer-no-schedule-penalty=5", "--provider=memory"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Resolve(Default(), path, flags)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.SchedulerName != "from-file" {
		t.Errorf("SchedulerName = %q, expected the file's value", cfg.SchedulerName)
	}
	if cfg.Parallelism != 3 {
		t.Errorf("Parallelism = %d, expected the file's 3", cfg.Parallelism)
	}
	if cfg.NumWorkers != 7 {
		t.Errorf("NumWorkers = %d, expected the flag's 7", cfg.NumWorkers)
	}
	if cfg.Scoring.PreferNoSchedulePenalty != 5 {
		t.Errorf("PreferNoSchedulePenalty = %d, expected 5", cfg.Scoring.PreferNoSchedulePenalty)
	}
	if cfg.Provider.Type != ProviderMemory {
		t.Errorf("Provider.Type = %q, expected memory", cfg.Provider.Type)
	}
}

func TestResolveKeepsBase(t *testing.T) {
	base := Default()
	base.Provider.Type = ProviderMemory
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	seed := base
	seed.AddToFlagSet(flags)
	if err := flags.Parse([]string{"--num-workers=3"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Resolve(base, "", flags)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Provider.Type != ProviderMemory {
		t.Errorf("Provider.Type = %q, expected the base's memory", cfg.Provider.Type)
	}
	if cfg.NumWorkers != 3 {
		t.Errorf("NumWorkers = %d, expected the flag's 3", cfg.NumWorkers)
	}

	path := writeFile(t, "provider:\n  type: redis\n")
	cfg, err = Resolve(base, path, flags)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Provider.Type != ProviderRedis {
		t.Errorf("Provider.Type = %q, expected the file's redis", cfg.Provider.Type)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.SchedulerName = ""
	cfg.Parallelism = 0
	cfg.MaxBindRetries = -1
	cfg.Scoring.Weights = map[framework.RuleKind]int64{"Bogus": 1, framework.RuleNodeAffinity: -2}
	cfg.Provider.Type = "etcd"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate() should fail")
	}
	for _, field := range []string{"schedulerName", "parallelism", "maxBindRetries", "scoring.weights[Bogus]", "scoring.weights[NodeAffinity]", "provider.type"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() error %q does not mention %s", err.Error(), field)
		}
	}

	cfg = Default()
	cfg.Provider.Type = ProviderRedis
	cfg.Provider.Redis.Addr = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "provider.redis.addr") {
		t.Errorf("Validate() = %v, expected a complaint about provider.redis.addr", err)
	}
}
