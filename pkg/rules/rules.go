// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules defines business rules and their ordering semantics.
//
// A BusinessRule is authored upstream (by a planner or a human) and drives
// template synthesis. Rules are immutable once created; within a batch they
// are ordered by descending priority, with insertion order preserved for
// ties.
package rules

import (
	"fmt"
	"sort"
)

// RuleType classifies a business rule and determines the synthesis section
// it lands in.
type RuleType string

const (
	RuleTypeValidation   RuleType = "VALIDATION"
	RuleTypeCalculation  RuleType = "CALCULATION"
	RuleTypeWorkflow     RuleType = "WORKFLOW"
	RuleTypeNotification RuleType = "NOTIFICATION"
)

// OrderedRuleTypes is the fixed emission order for synthesized sections:
// validate first, compute next, transition state, notify last.
var OrderedRuleTypes = []RuleType{
	RuleTypeValidation,
	RuleTypeCalculation,
	RuleTypeWorkflow,
	RuleTypeNotification,
}

// ParseRuleType converts a string to a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	switch RuleType(s) {
	case RuleTypeValidation, RuleTypeCalculation, RuleTypeWorkflow, RuleTypeNotification:
		return RuleType(s), nil
	default:
		return "", fmt.Errorf("unknown rule type %q", s)
	}
}

// Valid reports whether the rule type is one of the four known types.
func (t RuleType) Valid() bool {
	_, err := ParseRuleType(string(t))
	return err == nil
}

// BusinessRule is one unit of business logic to synthesize.
type BusinessRule struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Type        RuleType `json:"type" yaml:"type"`
	Entity      string   `json:"entity" yaml:"entity"`
	Method      string   `json:"method" yaml:"method"`
	Logic       string   `json:"logic" yaml:"logic"`
	Priority    int      `json:"priority" yaml:"priority"`
}

// FilterByMethod returns the rules bound to the given method, in input order.
func FilterByMethod(in []BusinessRule, method string) []BusinessRule {
	out := make([]BusinessRule, 0, len(in))
	for _, r := range in {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// SortByPriority returns a copy sorted by descending priority. The sort is
// stable: rules with equal priority keep their insertion order.
func SortByPriority(in []BusinessRule) []BusinessRule {
	out := make([]BusinessRule, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// GroupByType buckets rules by their type, preserving slice order within
// each bucket.
func GroupByType(in []BusinessRule) map[RuleType][]BusinessRule {
	out := make(map[RuleType][]BusinessRule, len(OrderedRuleTypes))
	for _, r := range in {
		out[r.Type] = append(out[r.Type], r)
	}
	return out
}
