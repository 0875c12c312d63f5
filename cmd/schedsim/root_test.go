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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const zoneFixture = `
nodes:
- metadata:
    name: n1
    labels: {zone: z1}
  status:
    allocatable: {cpu: "2", pods: "110"}
pods:
- metadata:
    name: web-0
    labels: {app: nginx}
  spec:
    nodeName: n1
    containers:
    - name: main
- metadata:
    name: a
  spec:
    containers:
    - name: main
      resources: {requests: {cpu: "1"}}
`

// The Pod names no namespace, so its anti-affinity term must select web-0
// in "default".
const spreadPod = `
metadata:
  name: web-1
  labels: {app: nginx}
spec:
  affinity:
    podAntiAffinity:
      requiredDuringSchedulingIgnoredDuringExecution:
      - topologyKey: zone
        labelSelector:
          matchLabels: {app: nginx}
  containers:
  - name: main
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunDefaultsToMemoryProvider(t *testing.T) {
	cluster := writeTemp(t, "cluster.yaml", zoneFixture)
	out, err := execute(t, "run", "-f", cluster)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("run printed %d lines, expected a header and one row:\n%s", len(lines), out)
	}
	if fields := strings.Fields(lines[1]); fields[1] != "a" || fields[2] != "Bound" || fields[3] != "n1" {
		t.Errorf("row = %q, expected a bound to n1", lines[1])
	}
}

func TestRunRejectsKubeProvider(t *testing.T) {
	cluster := writeTemp(t, "cluster.yaml", zoneFixture)
	if _, err := execute(t, "run", "-f", cluster, "--provider=kube"); err == nil {
		t.Errorf("run should reject the kube provider")
	}
}

func TestEvaluateDefaultsPodNamespace(t *testing.T) {
	cluster := writeTemp(t, "cluster.yaml", zoneFixture)
	pod := writeTemp(t, "pod.yaml", spreadPod)
	out, err := execute(t, "evaluate", "-f", cluster, "--pod", pod, "-o", "yaml")
	if err != nil {
		t.Fatalf("evaluate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "phase: Unschedulable") {
		t.Errorf("evaluate output lacks the Unschedulable phase:\n%s", out)
	}
	if strings.Contains(out, "node: n1") {
		t.Errorf("evaluate selected n1 despite web-0 in the same zone:\n%s", out)
	}
}
