// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import "testing"

func TestFieldTypePredicates(t *testing.T) {
	if !FieldTypeTextArray.IsArray() || !FieldTypeIntegerArray.IsArray() {
		t.Error("array types not reported as arrays")
	}
	if FieldTypeJSONB.IsArray() {
		t.Error("JSONB reported as array")
	}
	if !FieldTypeJSON.IsStructured() || !FieldTypeJSONB.IsStructured() {
		t.Error("JSON types not reported as structured")
	}
	if FieldTypeVarchar.IsStructured() {
		t.Error("VARCHAR reported as structured")
	}
}

func TestIsForeignKeyName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"userId", true},
		{"ORDER_ID", true},
		{"id", false},
		{"ID", false},
		{"amount", false},
	}
	for _, tc := range cases {
		if got := (Field{Name: tc.name}).IsForeignKeyName(); got != tc.want {
			t.Errorf("IsForeignKeyName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestVarName(t *testing.T) {
	if got := (Entity{Name: "OrderItem"}).VarName(); got != "orderItem" {
		t.Errorf("VarName = %q, want orderItem", got)
	}
	if got := (Entity{}).VarName(); got != "" {
		t.Errorf("VarName on empty entity = %q, want empty", got)
	}
}
