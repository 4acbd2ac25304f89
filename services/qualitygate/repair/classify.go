// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"strings"

	"github.com/gradegate/gradegate/services/qualitygate/record"
)

// ClassifyFailure derives a failure type from the validator's issue list.
// Checked most-specific first: a dependency problem is a dependency problem
// even when it also breaks compilation.
func ClassifyFailure(issues []string) record.FailureType {
	joined := strings.ToLower(strings.Join(issues, "\n"))

	switch {
	case strings.Contains(joined, "dependency") || strings.Contains(joined, "import"):
		return record.FailureDependency
	case strings.Contains(joined, "test"):
		return record.FailureTest
	case strings.Contains(joined, "type definition") || strings.Contains(joined, "type mismatch"):
		return record.FailureTypeError
	case strings.Contains(joined, "logic"):
		return record.FailureBusinessLogic
	default:
		// Syntax and structure problems surface at compile time.
		return record.FailureCompile
	}
}
