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
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"sigs.k8s.io/yaml"

	"github.com/llm-d-incubation/fma-scheduler/pkg/scheduler"
	"github.com/llm-d-incubation/fma-scheduler/pkg/sim"
)

func printOutcomes(out io.Writer, format string, outcomes []sim.Outcome) error {
	if format == "yaml" {
		return printYAML(out, outcomes)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tNAME\tPHASE\tNODE\tSCORE\tATTEMPTS\tDETAIL") //nolint:errcheck
	for _, o := range outcomes {
		detail := o.Error
		if detail == "" {
			detail = strings.Join(o.Reasons, "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", o.Namespace, o.Name, o.Phase, o.Node, o.Score, o.Attempts, detail) //nolint:errcheck
	}
	return tw.Flush()
}

type evaluation struct {
	Phase       scheduler.Phase   `json:"phase"`
	Node        string            `json:"node,omitempty"`
	Scores      map[string]int64  `json:"scores,omitempty"`
	Reasons     []string          `json:"reasons,omitempty"`
	FilteredOut map[string]string `json:"filteredOut,omitempty"`
}

func printResult(out io.Writer, format string, result *scheduler.Result) error {
	ev := evaluation{Phase: result.Phase, Node: result.Node, Reasons: result.Diagnosis.Reasons()}
	if len(result.Scores) > 0 {
		ev.Scores = map[string]int64{}
		for _, ns := range result.Scores {
			ev.Scores[ns.Name] = ns.Score
		}
	}
	if len(result.Diagnosis.NodeToStatus) > 0 {
		ev.FilteredOut = map[string]string{}
		for name, status := range result.Diagnosis.NodeToStatus {
			ev.FilteredOut[name] = status.String()
		}
	}
	if format == "yaml" {
		return printYAML(out, ev)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PHASE\t%s\nSELECTED\t%s\n", ev.Phase, ev.Node) //nolint:errcheck
	for _, ns := range result.Scores {
		fmt.Fprintf(tw, "score\t%s\t%d\n", ns.Name, ns.Score) //nolint:errcheck
	}
	for _, reason := range ev.Reasons {
		fmt.Fprintf(tw, "filtered\t%s\n", reason) //nolint:errcheck
	}
	return tw.Flush()
}

func printYAML(out io.Writer, obj any) error {
	data, err := yaml.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
