// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package templates synthesizes commented code blocks from ordered business
// rules. Rules are filtered to the target method, sorted by descending
// priority, grouped by rule type, and emitted one delimited section per type
// in the fixed order VALIDATION, CALCULATION, WORKFLOW, NOTIFICATION.
//
// The generator never returns a nil code string and never panics outward: a
// failing synthesis delegate is caught and surfaced as a failure result
// whose code field still carries a TODO placeholder.
package templates

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/gradegate/gradegate/pkg/rules"
	"github.com/gradegate/gradegate/pkg/schema"
)

// Result is the outcome of one synthesis pass. Code is never empty.
type Result struct {
	Code     string        `json:"code"`
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// Synthesizer renders one business rule into a code snippet. Implementations
// may fail; the generator contains the failure.
type Synthesizer func(rule rules.BusinessRule, entity *schema.Entity) (string, error)

// Config allows replacing the per-type synthesis delegates. Nil entries fall
// back to the built-in template renderers.
type Config struct {
	Synthesizers map[rules.RuleType]Synthesizer
}

// Generator synthesizes rule-driven code blocks. Safe for concurrent use;
// all state is read-only after construction.
type Generator struct {
	synthesizers map[rules.RuleType]Synthesizer
}

// New creates a Generator with the built-in renderers, overridden by any
// delegates in cfg.
func New(cfg Config) *Generator {
	g := &Generator{synthesizers: map[rules.RuleType]Synthesizer{
		rules.RuleTypeValidation:   templateSynthesizer(validationTmpl),
		rules.RuleTypeCalculation:  templateSynthesizer(calculationTmpl),
		rules.RuleTypeWorkflow:     templateSynthesizer(workflowTmpl),
		rules.RuleTypeNotification: templateSynthesizer(notificationTmpl),
	}}
	for rt, s := range cfg.Synthesizers {
		if s != nil {
			g.synthesizers[rt] = s
		}
	}
	return g
}

// Generate synthesizes a commented code block for the method.
//
// Inputs:
//
//	ruleSet - Business rules; only rules bound to methodName are
//	synthesized. Empty, or nothing bound to the method, yields a success
//	placeholder.
//	entity - Target entity; nil is an input error, not a panic.
//	methodName - Target method; blank is an input error.
//
// Outputs:
//
//	Result - Success flag, message, and a code string that is never empty:
//	input and synthesis failures still carry a TODO placeholder.
//
// Thread Safety: Safe for concurrent use.
func (g *Generator) Generate(ruleSet []rules.BusinessRule, entity *schema.Entity, methodName string) Result {
	start := time.Now()

	if entity == nil {
		return Result{
			Code:     placeholder(methodName, "entity is missing"),
			Success:  false,
			Message:  `missing required field "entity"`,
			Duration: time.Since(start),
		}
	}
	if strings.TrimSpace(methodName) == "" {
		return Result{
			Code:     placeholder(methodName, "method name is missing"),
			Success:  false,
			Message:  `missing required field "methodName"`,
			Duration: time.Since(start),
		}
	}

	matched := rules.FilterByMethod(ruleSet, methodName)
	if len(matched) == 0 {
		return Result{
			Code:     placeholder(methodName, "no business rules defined"),
			Success:  true,
			Duration: time.Since(start),
		}
	}

	ordered := rules.SortByPriority(matched)
	grouped := rules.GroupByType(ordered)

	var b strings.Builder
	fmt.Fprintf(&b, "// === %s: generated business logic for %s ===\n", entity.Name, methodName)

	for _, rt := range rules.OrderedRuleTypes {
		group := grouped[rt]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n// ---- %s rules (%d) ----\n", rt, len(group))
		for _, rule := range group {
			snippet, err := g.synthesize(rt, rule, entity)
			if err != nil {
				return Result{
					Code:     placeholder(methodName, "synthesis failed"),
					Success:  false,
					Message:  fmt.Sprintf("synthesizing rule %q: %v", rule.Name, err),
					Duration: time.Since(start),
				}
			}
			b.WriteString(snippet)
		}
	}

	return Result{
		Code:     b.String(),
		Success:  true,
		Duration: time.Since(start),
	}
}

// synthesize runs the delegate for one rule, converting a panic into an
// error so a broken delegate cannot take down the caller.
func (g *Generator) synthesize(rt rules.RuleType, rule rules.BusinessRule, entity *schema.Entity) (snippet string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panicked: %v", r)
		}
	}()

	s, ok := g.synthesizers[rt]
	if !ok {
		return "", fmt.Errorf("no synthesizer registered for rule type %q", rt)
	}
	return s(rule, entity)
}

func placeholder(methodName, reason string) string {
	name := strings.TrimSpace(methodName)
	if name == "" {
		name = "(unnamed method)"
	}
	return fmt.Sprintf("// TODO: implement %s (%s)\n", name, reason)
}

// =============================================================================
// Built-in template renderers
// =============================================================================

type ruleContext struct {
	Rule      rules.BusinessRule
	Entity    *schema.Entity
	EntityVar string
}

func templateSynthesizer(tmpl *template.Template) Synthesizer {
	return func(rule rules.BusinessRule, entity *schema.Entity) (string, error) {
		var b strings.Builder
		ctx := ruleContext{Rule: rule, Entity: entity, EntityVar: entity.VarName()}
		if err := tmpl.Execute(&b, ctx); err != nil {
			return "", err
		}
		return b.String(), nil
	}
}

var validationTmpl = template.Must(template.New("validation").Parse(
	`// rule: {{.Rule.Name}} (priority {{.Rule.Priority}})
// {{.Rule.Description}}
if !isValid({{.EntityVar}}) { // {{.Rule.Logic}}
    return fmt.Errorf("validation failed: {{.Rule.Name}}")
}
`))

var calculationTmpl = template.Must(template.New("calculation").Parse(
	`// rule: {{.Rule.Name}} (priority {{.Rule.Priority}})
// {{.Rule.Description}}
// TODO: apply calculation to {{.EntityVar}}: {{.Rule.Logic}}
`))

var workflowTmpl = template.Must(template.New("workflow").Parse(
	`// rule: {{.Rule.Name}} (priority {{.Rule.Priority}})
// {{.Rule.Description}}
// TODO: advance {{.EntityVar}} workflow: {{.Rule.Logic}}
`))

var notificationTmpl = template.Must(template.New("notification").Parse(
	`// rule: {{.Rule.Name}} (priority {{.Rule.Priority}})
// {{.Rule.Description}}
// TODO: emit notification for {{.EntityVar}}: {{.Rule.Logic}}
`))
