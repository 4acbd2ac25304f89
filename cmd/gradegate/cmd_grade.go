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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gradegate/gradegate/pkg/schema"
	"github.com/gradegate/gradegate/services/qualitygate/validator"
)

var (
	gradeMethod     string
	gradeEntityPath string
	gradeThreshold  int
	gradeJSON       bool

	gradeCmd = &cobra.Command{
		Use:   "grade [source file]",
		Short: "Grade a source file against the quality gate",
		Long: `Runs the three-tier quality gate (syntax, structure, business logic)
on a source file and prints the score and issues. Exits 1 when the score is
below the pass threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: runGradeCommand,
	}
)

func init() {
	gradeCmd.Flags().StringVarP(&gradeMethod, "method", "m", "", "Method name the code is expected to implement")
	gradeCmd.Flags().StringVarP(&gradeEntityPath, "entity", "e", "", "Path to an entity definition (YAML)")
	gradeCmd.Flags().IntVarP(&gradeThreshold, "threshold", "t", validator.DefaultPassThreshold, "Minimum passing score")
	gradeCmd.Flags().BoolVar(&gradeJSON, "json", false, "Print the full report as JSON")
}

func runGradeCommand(cmd *cobra.Command, args []string) error {
	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	entity, err := loadEntity(gradeEntityPath)
	if err != nil {
		return err
	}

	v := validator.New(validator.Config{PassThreshold: gradeThreshold})
	report := v.Grade(string(code), entity, gradeMethod)

	if gradeJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("Score: %d/100 (threshold %d)\n", report.QualityScore, gradeThreshold)
		for _, issue := range report.Issues {
			fmt.Printf("  - %s\n", issue)
		}
	}

	if !report.Success {
		os.Exit(1)
	}
	return nil
}

// loadEntity reads an entity definition from a YAML file. An empty path
// returns nil: grading works without entity context, it just skips the
// entity-aware checks.
func loadEntity(path string) (*schema.Entity, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entity: %w", err)
	}
	var entity schema.Entity
	if err := yaml.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("parsing entity: %w", err)
	}
	return &entity, nil
}
