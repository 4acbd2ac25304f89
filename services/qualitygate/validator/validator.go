// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validator implements the three-tier code quality grader.
//
// Grading is heuristic and text-level: the code under grading is opaque
// machine-generated text, never parsed with a real language grammar. Three
// independent tiers deduct from a starting score of 100:
//
//	Syntax (budget 30): bracket balance, misspelled keywords
//	Structure (budget 30): type definition, method body, package declaration
//	Logic (budget 40): persistence reference, non-trivial statements,
//	  error handling
//
// The final score is max(0, 100 - deductions); the quality gate passes at
// the configured threshold (default 70). Grading is deterministic: the same
// (code, entity, method) triple always yields the same score and issues.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gradegate/gradegate/pkg/schema"
)

// DefaultPassThreshold is the quality gate bar. Scores at or above it pass.
const DefaultPassThreshold = 70

// Tier deduction budgets. Deductions within a tier never exceed its budget.
const (
	syntaxBudget    = 30
	structureBudget = 30
	logicBudget     = 40
)

// Config carries the pass threshold and per-deduction weights. All values
// are observed configuration, not tuned domain law; override as needed.
type Config struct {
	PassThreshold int

	BracketMismatch  int // syntax
	MisspeltKeyword  int // syntax, per distinct misspelling
	MissingType      int // structure
	MissingBody      int // structure
	MissingPackage   int // structure, advisory
	MissingStore     int // logic
	TrivialBody      int // logic
	MissingErrorPath int // logic, advisory
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		PassThreshold:    DefaultPassThreshold,
		BracketMismatch:  10,
		MisspeltKeyword:  10,
		MissingType:      10,
		MissingBody:      10,
		MissingPackage:   10,
		MissingStore:     15,
		TrivialBody:      15,
		MissingErrorPath: 10,
	}
}

// Report is the outcome of one grading pass.
type Report struct {
	QualityScore int           `json:"quality_score"`
	Success      bool          `json:"success"`
	Issues       []string      `json:"issues"`
	Duration     time.Duration `json:"duration_ms"`
}

// Validator grades generated code. Safe for concurrent use.
type Validator struct {
	cfg Config
}

// New creates a Validator. A zero PassThreshold falls back to the default;
// zero weights fall back to their defaults.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.PassThreshold == 0 {
		cfg.PassThreshold = def.PassThreshold
	}
	if cfg.BracketMismatch == 0 {
		cfg.BracketMismatch = def.BracketMismatch
	}
	if cfg.MisspeltKeyword == 0 {
		cfg.MisspeltKeyword = def.MisspeltKeyword
	}
	if cfg.MissingType == 0 {
		cfg.MissingType = def.MissingType
	}
	if cfg.MissingBody == 0 {
		cfg.MissingBody = def.MissingBody
	}
	if cfg.MissingPackage == 0 {
		cfg.MissingPackage = def.MissingPackage
	}
	if cfg.MissingStore == 0 {
		cfg.MissingStore = def.MissingStore
	}
	if cfg.TrivialBody == 0 {
		cfg.TrivialBody = def.TrivialBody
	}
	if cfg.MissingErrorPath == 0 {
		cfg.MissingErrorPath = def.MissingErrorPath
	}
	return &Validator{cfg: cfg}
}

// PassThreshold returns the configured quality gate bar.
func (v *Validator) PassThreshold() int {
	return v.cfg.PassThreshold
}

// Grade runs the three deduction tiers against the code.
//
// Inputs:
//
//	code - The generated code as opaque text. Blank short-circuits to 0.
//	entity - Optional entity schema; reserved for entity-aware probes.
//	methodName - Target method; used by the method-body probe.
//
// Outputs:
//
//	Report - Complete report. Grade never returns an error: malformed
//	input is a graded outcome, not a failure.
//
// Thread Safety: Safe for concurrent use.
func (v *Validator) Grade(code string, entity *schema.Entity, methodName string) Report {
	start := time.Now()

	if strings.TrimSpace(code) == "" {
		return Report{
			QualityScore: 0,
			Success:      false,
			Issues:       []string{"code is empty"},
			Duration:     time.Since(start),
		}
	}

	var issues []string
	deducted := v.gradeSyntax(code, &issues)
	deducted += v.gradeStructure(code, methodName, &issues)
	deducted += v.gradeLogic(code, &issues)

	score := 100 - deducted
	if score < 0 {
		score = 0
	}

	return Report{
		QualityScore: score,
		Success:      score >= v.cfg.PassThreshold,
		Issues:       issues,
		Duration:     time.Since(start),
	}
}

// misspellings maps common generated-code typos to the intended keyword.
// Word-boundary matching keeps "clas" from matching inside "class".
var misspellings = []struct {
	typo    string
	pattern *regexp.Regexp
	correct string
}{
	{"pubilc", regexp.MustCompile(`\bpubilc\b`), "public"},
	{"priavte", regexp.MustCompile(`\bpriavte\b`), "private"},
	{"protecetd", regexp.MustCompile(`\bprotecetd\b`), "protected"},
	{"staitc", regexp.MustCompile(`\bstaitc\b`), "static"},
	{"fianl", regexp.MustCompile(`\bfianl\b`), "final"},
	{"retrun", regexp.MustCompile(`\bretrun\b`), "return"},
	{"throew", regexp.MustCompile(`\bthroew\b`), "throw"},
	{"clas", regexp.MustCompile(`\bclas\b`), "class"},
	{"intrface", regexp.MustCompile(`\bintrface\b`), "interface"},
	{"impelments", regexp.MustCompile(`\bimpelments\b`), "implements"},
	{"fucntion", regexp.MustCompile(`\bfucntion\b`), "function"},
	{"funciton", regexp.MustCompile(`\bfunciton\b`), "func"},
	{"improt", regexp.MustCompile(`\bimprot\b`), "import"},
}

func (v *Validator) gradeSyntax(code string, issues *[]string) int {
	var deducted int

	if !bracketsBalanced(code) {
		deducted += v.cfg.BracketMismatch
		*issues = append(*issues, "syntax error: unbalanced brackets")
	}

	for _, m := range misspellings {
		if m.pattern.MatchString(code) {
			deducted += v.cfg.MisspeltKeyword
			*issues = append(*issues, fmt.Sprintf("syntax error: misspelled keyword %q (did you mean %q?)", m.typo, m.correct))
		}
	}

	if deducted > syntaxBudget {
		deducted = syntaxBudget
	}
	return deducted
}

var (
	typeDefPattern = regexp.MustCompile(
		`(?m)((public|private|protected)\s+)?(abstract\s+)?(class|interface|enum)\s+\w+|^\s*type\s+\w+\s+(struct|interface)\b`)
	genericBodyPattern = regexp.MustCompile(`\w+\s*\([^)]*\)\s*(\w[\w\s\].,*()<>]*)?\{`)
	packagePattern     = regexp.MustCompile(`(?m)^\s*package\s+[\w.]+`)
)

func (v *Validator) gradeStructure(code, methodName string, issues *[]string) int {
	var deducted int

	if !typeDefPattern.MatchString(code) {
		deducted += v.cfg.MissingType
		*issues = append(*issues, "structure error: missing type definition")
	}

	if !hasMethodBody(code, methodName) {
		deducted += v.cfg.MissingBody
		if methodName != "" {
			*issues = append(*issues, fmt.Sprintf("structure warning: no method body found for %q", methodName))
		} else {
			*issues = append(*issues, "structure warning: no method body found")
		}
	}

	if !packagePattern.MatchString(code) {
		// Advisory: alone this never fails the gate.
		deducted += v.cfg.MissingPackage
		*issues = append(*issues, "structure warning: missing package declaration")
	}

	if deducted > structureBudget {
		deducted = structureBudget
	}
	return deducted
}

// hasMethodBody looks for a body belonging to the target method, falling
// back to any method-like body when no target is named.
func hasMethodBody(code, methodName string) bool {
	if methodName != "" {
		named := regexp.MustCompile(regexp.QuoteMeta(methodName) + `\s*\(`)
		if named.MatchString(code) {
			return true
		}
	}
	return genericBodyPattern.MatchString(code)
}

var (
	storeRefPattern   = regexp.MustCompile(`[Rr]epositor(y|ies)|\b[Dd]ao\b|[Ss]tore\.|[Mm]apper\b`)
	statementPattern  = regexp.MustCompile(`\b(if|for|while|switch|case|return|throw)\b`)
	errorPathPattern  = regexp.MustCompile(`\btry\b|\bcatch\b|\bthrow\b|Exception\b|\bpanic\(|\brecover\(|err\s*!=\s*nil|\berrors\.`)
	lineCommentStrip  = regexp.MustCompile(`(?m)//.*$`)
	blockCommentStrip = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func (v *Validator) gradeLogic(code string, issues *[]string) int {
	var deducted int

	if !storeRefPattern.MatchString(code) {
		deducted += v.cfg.MissingStore
		*issues = append(*issues, "logic warning: no repository or persistence reference found")
	}

	// Statements inside comments or TODO blocks do not count as logic.
	stripped := blockCommentStrip.ReplaceAllString(code, "")
	stripped = lineCommentStrip.ReplaceAllString(stripped, "")
	if !statementPattern.MatchString(stripped) {
		deducted += v.cfg.TrivialBody
		*issues = append(*issues, "logic error: no non-trivial statements beyond comments and TODOs")
	}

	if !errorPathPattern.MatchString(code) {
		// Advisory: alone this never fails the gate.
		deducted += v.cfg.MissingErrorPath
		*issues = append(*issues, "logic advice: no error handling construct found")
	}

	if deducted > logicBudget {
		deducted = logicBudget
	}
	return deducted
}

// bracketsBalanced scans braces, brackets and parentheses in one pass. A
// closing token without a matching opener fails immediately.
func bracketsBalanced(code string) bool {
	var braces, brackets, parens int
	for _, c := range code {
		switch c {
		case '{':
			braces++
		case '}':
			braces--
		case '[':
			brackets++
		case ']':
			brackets--
		case '(':
			parens++
		case ')':
			parens--
		}
		if braces < 0 || brackets < 0 || parens < 0 {
			return false
		}
	}
	return braces == 0 && brackets == 0 && parens == 0
}
