// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gradegate runs the code-quality grading and auto-repair pipeline,
// either as an HTTP service or as one-shot CLI operations.
//
// Usage:
//
//	# Start the API server
//	gradegate serve --config config.yaml
//
//	# Grade a source file against the quality gate
//	gradegate grade path/to/UserService.java --method createUser
//
//	# Score implementation complexity for a planned method
//	gradegate analyze entity.yaml --method createOrder --requirement "..."
//
// Example requests against a running server:
//
//	curl http://localhost:8089/healthz
//
//	curl -X POST http://localhost:8089/api/v1/grade \
//	  -H "Content-Type: application/json" \
//	  -d '{"target_id": "svc-1", "code": "...", "method_name": "createUser"}'
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gradegate",
	Short: "Code-quality grading and auto-repair pipeline",
	Long: `GradeGate grades generated code through a three-tier quality gate
(syntax, structure, business logic), synthesizes rule-driven templates, and
repairs failing code through a bounded fix-and-revalidate loop with
escalation.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gradeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
