// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gradegate/gradegate/services/qualitygate/analysis"
)

var (
	analyzeMethod      string
	analyzeRequirement string
	analyzeJSON        bool

	analyzeCmd = &cobra.Command{
		Use:   "analyze [entity file]",
		Short: "Score implementation complexity for a planned method",
		Long: `Estimates how hard a method will be to implement from the method name,
the entity definition (YAML), and the free-text requirement. The score is
0-100; higher means more complex.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyzeCommand,
	}
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeMethod, "method", "m", "", "Method name to analyze")
	analyzeCmd.Flags().StringVarP(&analyzeRequirement, "requirement", "r", "", "Free-text requirement description")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full breakdown as JSON")
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	entityPath := ""
	if len(args) == 1 {
		entityPath = args[0]
	}
	entity, err := loadEntity(entityPath)
	if err != nil {
		return err
	}

	res := analysis.New(analysis.Config{}).Analyze(analyzeMethod, entity, analyzeRequirement)

	if analyzeJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Complexity: %d/100\n", res.Score)
	fmt.Printf("  method:        %d\n", res.Breakdown.MethodScore)
	fmt.Printf("  entity:        %d\n", res.Breakdown.EntityScore)
	fmt.Printf("  requirement:   %d\n", res.Breakdown.RequirementScore)
	fmt.Printf("  relationships: %d\n", res.Breakdown.RelationshipScore)
	return nil
}
