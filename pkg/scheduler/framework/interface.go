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

package framework

import (
	"context"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// RuleKind tags the variant of a scheduling rule.
type RuleKind string

const (
	RuleTaintToleration   RuleKind = "TaintToleration"
	RuleNodeUnschedulable RuleKind = "NodeUnschedulable"
	RuleNodeAffinity      RuleKind = "NodeAffinity"
	RuleInterPodAffinity  RuleKind = "InterPodAffinity"
	RuleNodeResourcesFit  RuleKind = "NodeResourcesFit"
)

// FilterRule tests one hard constraint of a Pod against a Node.
// Implementations must be pure: they only read the given NodeInfo and Snapshot.
type FilterRule interface {
	Kind() RuleKind
	// Filter returns nil (or a Success Status) iff the Pod may go to the Node.
	Filter(ctx context.Context, pod *corev1.Pod, nodeInfo *NodeInfo, snapshot *Snapshot) *Status
}

// ScoreRule produces a preference contribution of a Node for a Pod.
type ScoreRule interface {
	Kind() RuleKind
	// Score returns the raw contribution of this rule; the pipeline
	// clamps and weighs it.
	Score(ctx context.Context, pod *corev1.Pod, nodeInfo *NodeInfo, snapshot *Snapshot) (int64, *Status)
}

// Code is the outcome class of a Status.
type Code int

const (
	// Success means the rule passed. A nil Status is also a success.
	Success Code = iota
	// Error means the rule could not be evaluated.
	Error
	// Unschedulable means the rule rejects the Node.
	Unschedulable
)

var codes = []string{"Success", "Error", "Unschedulable"}

func (c Code) String() string {
	if int(c) < len(codes) {
		return codes[c]
	}
	return "Unknown"
}

// Status is the result of evaluating one rule.
type Status struct {
	code    Code
	reasons []string
	rule    RuleKind
}

// NewStatus makes a Status out of the given arguments.
func NewStatus(code Code, reasons ...string) *Status {
	return &Status{code: code, reasons: reasons}
}

// Code returns the code of the Status.
func (s *Status) Code() Code {
	if s == nil {
		return Success
	}
	return s.code
}

// IsSuccess returns true iff the Status is nil or has code Success.
func (s *Status) IsSuccess() bool {
	return s.Code() == Success
}

func (s *Status) Reasons() []string {
	if s == nil {
		return nil
	}
	return s.reasons
}

// Message joins the reasons.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.reasons, ", ")
}

// WithRule records the rule that produced this Status and returns it.
func (s *Status) WithRule(rule RuleKind) *Status {
	if s != nil {
		s.rule = rule
	}
	return s
}

func (s *Status) Rule() RuleKind {
	if s == nil {
		return ""
	}
	return s.rule
}

func (s *Status) String() string {
	if s == nil {
		return Success.String()
	}
	return string(s.rule) + ": " + s.code.String() + ": " + s.Message()
}

// Equal is for cmp.Diff in tests.
func (s *Status) Equal(x *Status) bool {
	if s == nil || x == nil {
		return s.IsSuccess() && x.IsSuccess()
	}
	if s.code != x.code || s.rule != x.rule || len(s.reasons) != len(x.reasons) {
		return false
	}
	for i := range s.reasons {
		if s.reasons[i] != x.reasons[i] {
			return false
		}
	}
	return true
}

// NodeScore is the total score of one Node.
type NodeScore struct {
	Name  string
	Score int64
}
