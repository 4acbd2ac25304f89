// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import "testing"

func TestParseRuleType(t *testing.T) {
	for _, rt := range OrderedRuleTypes {
		got, err := ParseRuleType(string(rt))
		if err != nil || got != rt {
			t.Errorf("ParseRuleType(%q) = (%q, %v)", rt, got, err)
		}
	}
	if _, err := ParseRuleType("BOGUS"); err == nil {
		t.Error("ParseRuleType accepted an unknown type")
	}
	if RuleType("").Valid() {
		t.Error("empty rule type reported valid")
	}
}

func TestFilterByMethod(t *testing.T) {
	in := []BusinessRule{
		{Name: "a", Method: "createOrder"},
		{Name: "b", Method: "cancelOrder"},
		{Name: "c", Method: "createOrder"},
	}
	out := FilterByMethod(in, "createOrder")
	if len(out) != 2 || out[0].Name != "a" || out[1].Name != "c" {
		t.Errorf("FilterByMethod = %+v, want [a c] in input order", out)
	}
}

func TestSortByPriorityIsStableAndNonMutating(t *testing.T) {
	in := []BusinessRule{
		{Name: "low", Priority: 1},
		{Name: "high", Priority: 9},
		{Name: "mid-first", Priority: 5},
		{Name: "mid-second", Priority: 5},
	}
	out := SortByPriority(in)

	want := []string{"high", "mid-first", "mid-second", "low"}
	for i, name := range want {
		if out[i].Name != name {
			t.Errorf("out[%d] = %q, want %q", i, out[i].Name, name)
		}
	}
	if in[0].Name != "low" {
		t.Error("SortByPriority mutated its input")
	}
}

func TestGroupByType(t *testing.T) {
	in := []BusinessRule{
		{Name: "v1", Type: RuleTypeValidation},
		{Name: "w1", Type: RuleTypeWorkflow},
		{Name: "v2", Type: RuleTypeValidation},
	}
	groups := GroupByType(in)
	if len(groups[RuleTypeValidation]) != 2 || groups[RuleTypeValidation][1].Name != "v2" {
		t.Errorf("validation bucket = %+v, want [v1 v2]", groups[RuleTypeValidation])
	}
	if len(groups[RuleTypeNotification]) != 0 {
		t.Errorf("notification bucket = %+v, want empty", groups[RuleTypeNotification])
	}
}
