// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"fmt"
	"strings"

	"github.com/gradegate/gradegate/pkg/schema"
)

// BestPracticeApplier decorates generated code with project conventions.
// Implementations must be idempotent: re-applying to already-enhanced code
// must not duplicate decorations.
type BestPracticeApplier interface {
	Apply(code string, entity *schema.Entity, methodName string) (enhanced string, applied bool)
}

// appliedMarker signals that a code block has already been enhanced.
// Idempotence hinges on this marker surviving intermediate edits.
const appliedMarker = "// best-practices: applied"

// HeaderApplier is the default BestPracticeApplier: it prefixes the code
// with a conventions header naming the entity and method. Idempotent via a
// marker comment.
type HeaderApplier struct{}

// Apply prepends the conventions header unless the marker is present.
func (HeaderApplier) Apply(code string, entity *schema.Entity, methodName string) (string, bool) {
	if strings.Contains(code, appliedMarker) {
		return code, false
	}

	entityName := "unknown"
	if entity != nil {
		entityName = entity.Name
	}

	var b strings.Builder
	b.WriteString(appliedMarker + "\n")
	fmt.Fprintf(&b, "// conventions: validate inputs, log state changes, wrap errors with context\n")
	fmt.Fprintf(&b, "// entity: %s, method: %s\n", entityName, methodName)
	b.WriteString(code)
	return b.String(), true
}

// NopApplier passes code through untouched. Used when enhancement is
// disabled by configuration.
type NopApplier struct{}

func (NopApplier) Apply(code string, _ *schema.Entity, _ string) (string, bool) {
	return code, false
}
