// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema defines the entity/field schema consumed by the grading
// pipeline. The schema is supplied by an upstream design stage; GradeGate
// never derives it from the code under grading.
package schema

import "strings"

// FieldType identifies the storage type of an entity field.
type FieldType string

const (
	FieldTypeInteger      FieldType = "INTEGER"
	FieldTypeBigInt       FieldType = "BIGINT"
	FieldTypeNumeric      FieldType = "NUMERIC"
	FieldTypeReal         FieldType = "REAL"
	FieldTypeVarchar      FieldType = "VARCHAR"
	FieldTypeText         FieldType = "TEXT"
	FieldTypeDate         FieldType = "DATE"
	FieldTypeTime         FieldType = "TIME"
	FieldTypeTimestamp    FieldType = "TIMESTAMPTZ"
	FieldTypeBoolean      FieldType = "BOOLEAN"
	FieldTypeUUID         FieldType = "UUID"
	FieldTypeJSON         FieldType = "JSON"
	FieldTypeJSONB        FieldType = "JSONB"
	FieldTypeTextArray    FieldType = "TEXT_ARRAY"
	FieldTypeIntegerArray FieldType = "INTEGER_ARRAY"
)

// IsArray reports whether the type is a repeated (one-to-many) type.
func (t FieldType) IsArray() bool {
	return t == FieldTypeTextArray || t == FieldTypeIntegerArray
}

// IsStructured reports whether the type holds a structured object or map,
// typically used to embed many-to-many style associations.
func (t FieldType) IsStructured() bool {
	return t == FieldTypeJSON || t == FieldTypeJSONB
}

// Field describes one column of an entity.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Length      int       `json:"length,omitempty" yaml:"length,omitempty"`
	Precision   int       `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale       int       `json:"scale,omitempty" yaml:"scale,omitempty"`
	PrimaryKey  bool      `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Unique      bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	Nullable    bool      `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Default     string    `json:"default,omitempty" yaml:"default,omitempty"`
	ForeignKey  string    `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Indexed     bool      `json:"indexed,omitempty" yaml:"indexed,omitempty"`
}

// IsForeignKeyName reports whether the field name follows the "...Id"
// foreign-key convention. The primary key "id" itself does not count.
func (f Field) IsForeignKeyName() bool {
	name := strings.ToLower(f.Name)
	return strings.HasSuffix(name, "id") && name != "id"
}

// Entity describes one persistent entity in the generated application.
type Entity struct {
	Name        string  `json:"name" yaml:"name"`
	Table       string  `json:"table,omitempty" yaml:"table,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// VarName returns the entity name with a lower-cased first letter, the
// conventional variable name for the entity in generated code.
func (e Entity) VarName() string {
	if e.Name == "" {
		return ""
	}
	return strings.ToLower(e.Name[:1]) + e.Name[1:]
}
