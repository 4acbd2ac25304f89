// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gradegate/gradegate/pkg/schema"
	"github.com/gradegate/gradegate/services/qualitygate/record"
	"github.com/gradegate/gradegate/services/qualitygate/storage"
	"github.com/gradegate/gradegate/services/qualitygate/validator"
)

// Grader is the validation dependency. *validator.Validator satisfies it.
type Grader interface {
	Grade(code string, entity *schema.Entity, methodName string) validator.Report
	PassThreshold() int
}

// StageFunc is one independent sub-validation. It must be a pure function
// of the submitted code snapshot: no shared mutable state across stages.
type StageFunc func(ctx context.Context, code string, entity *schema.Entity, methodName string) validator.Report

// ParallelConfig wires a ParallelValidator.
type ParallelConfig struct {
	Grader  Grader
	Store   storage.Store // optional; persists every sub-result and the aggregate
	Pool    *Pool         // optional; nil runs each stage on its own goroutine
	Metrics *Metrics
	Logger  *slog.Logger

	// Stages maps each sub-validation to its implementation. Empty uses
	// the grader for compile, test and business_flow.
	Stages map[record.ValidationType]StageFunc

	// FailFast cancels remaining stages on the first failure. The default
	// (false) runs everything to completion to maximize diagnostic yield.
	FailFast bool
}

// ParallelValidator fans independent sub-validations out and merges them
// into one "full" aggregate whose pass flag is the AND of all sub-results.
//
// Thread Safety: Safe for concurrent use.
type ParallelValidator struct {
	cfg    ParallelConfig
	stages map[record.ValidationType]StageFunc
	order  []record.ValidationType
}

// NewParallelValidator creates a runner. Grader is required.
func NewParallelValidator(cfg ParallelConfig) (*ParallelValidator, error) {
	if cfg.Grader == nil {
		return nil, fmt.Errorf("%w: grader is required", record.ErrInvalidInput)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	stages := cfg.Stages
	if len(stages) == 0 {
		gradeStage := func(_ context.Context, code string, entity *schema.Entity, methodName string) validator.Report {
			return cfg.Grader.Grade(code, entity, methodName)
		}
		stages = map[record.ValidationType]StageFunc{
			record.ValidationCompile:      gradeStage,
			record.ValidationTest:         gradeStage,
			record.ValidationBusinessFlow: gradeStage,
		}
	}

	// Deterministic fan-out order for reproducible logs and results.
	order := make([]record.ValidationType, 0, len(stages))
	for _, vt := range []record.ValidationType{
		record.ValidationCompile, record.ValidationTest, record.ValidationCoverage,
		record.ValidationQualityGate, record.ValidationContract, record.ValidationSchema,
		record.ValidationBusinessFlow,
	} {
		if _, ok := stages[vt]; ok {
			order = append(order, vt)
		}
	}
	for vt := range stages {
		if !contains(order, vt) {
			order = append(order, vt)
		}
	}

	return &ParallelValidator{cfg: cfg, stages: stages, order: order}, nil
}

// Run grades one code snapshot through every stage concurrently.
//
// Inputs:
//
//	ctx - Bounds the whole run. Cancellation marks unstarted stages
//	SKIPPED rather than losing them.
//	targetID - Owner of the produced validation rows.
//
// Outputs:
//
//	*record.ValidationResult - The "full" aggregate. IsPassed is the AND
//	of all sub-results; the score is the minimum sub-score.
//	[]*record.ValidationResult - Per-stage results in fan-out order, all
//	completed (or skipped) before the aggregate is emitted.
//	error - Persistence failures only; stage failures are results.
func (pv *ParallelValidator) Run(ctx context.Context, targetID, code string, entity *schema.Entity, methodName string) (*record.ValidationResult, []*record.ValidationResult, error) {
	subs := make([]*record.ValidationResult, len(pv.order))

	if pv.cfg.FailFast {
		pv.runFailFast(ctx, targetID, code, entity, methodName, subs)
	} else {
		pv.runToCompletion(ctx, targetID, code, entity, methodName, subs)
	}

	aggregate := record.NewValidationResult(targetID, record.ValidationFull)
	allPassed := true
	minScore := 100
	var issues []string
	for _, sub := range subs {
		if !sub.IsPassed {
			allPassed = false
		}
		if sub.QualityScore < minScore {
			minScore = sub.QualityScore
		}
		for _, msg := range sub.ErrorMessages {
			issues = append(issues, fmt.Sprintf("%s: %s", sub.ValidationType, msg))
		}
	}
	if err := aggregate.Complete(minScore, allPassed, issues); err != nil {
		return nil, nil, err
	}
	pv.cfg.Metrics.observeValidation(string(record.ValidationFull), string(aggregate.Status), minScore, true)

	if pv.cfg.Store != nil {
		for _, sub := range subs {
			if err := pv.cfg.Store.SaveValidation(ctx, sub); err != nil {
				return nil, nil, err
			}
		}
		if err := pv.cfg.Store.SaveValidation(ctx, aggregate); err != nil {
			return nil, nil, err
		}
	}
	return aggregate, subs, nil
}

// runToCompletion executes every stage regardless of individual failures.
func (pv *ParallelValidator) runToCompletion(ctx context.Context, targetID, code string, entity *schema.Entity, methodName string, subs []*record.ValidationResult) {
	var wg sync.WaitGroup
	for i, vt := range pv.order {
		i, vt := i, vt
		wg.Add(1)
		run := func() {
			defer wg.Done()
			subs[i] = pv.runStage(ctx, vt, targetID, code, entity, methodName)
		}
		if pv.cfg.Pool != nil {
			if err := pv.cfg.Pool.Submit(run); err != nil {
				// Pool shut down mid-run: execute inline so the slot is
				// never left nil.
				run()
			}
		} else {
			go run()
		}
	}
	wg.Wait()
}

// runFailFast cancels the remaining stages after the first failure.
// Already-running stages finish; unstarted ones record SKIPPED.
func (pv *ParallelValidator) runFailFast(ctx context.Context, targetID, code string, entity *schema.Entity, methodName string, subs []*record.ValidationResult) {
	g, gctx := errgroup.WithContext(ctx)
	for i, vt := range pv.order {
		i, vt := i, vt
		g.Go(func() error {
			if gctx.Err() != nil {
				vr := record.NewValidationResult(targetID, vt)
				_ = vr.Skip("cancelled by fail-fast policy")
				subs[i] = vr
				return nil
			}
			sub := pv.runStage(gctx, vt, targetID, code, entity, methodName)
			subs[i] = sub
			if !sub.IsPassed {
				return fmt.Errorf("stage %s failed with score %d", vt, sub.QualityScore)
			}
			return nil
		})
	}
	// The first error only steers cancellation; failures are in subs.
	_ = g.Wait()

	for i, vt := range pv.order {
		if subs[i] == nil {
			vr := record.NewValidationResult(targetID, vt)
			_ = vr.Skip("cancelled by fail-fast policy")
			subs[i] = vr
		}
	}
}

// runStage executes one sub-validation with panic containment.
func (pv *ParallelValidator) runStage(ctx context.Context, vt record.ValidationType, targetID, code string, entity *schema.Entity, methodName string) *record.ValidationResult {
	vr := record.NewValidationResult(targetID, vt)

	report := pv.safeStage(ctx, vt, code, entity, methodName)
	if err := vr.Complete(report.QualityScore, report.Success, report.Issues); err != nil {
		pv.cfg.Logger.Error("sealing validation result failed",
			"target_id", targetID, "stage", vt, "error", err.Error())
	}
	pv.cfg.Metrics.observeValidation(string(vt), string(vr.Status), vr.QualityScore, false)
	return vr
}

func (pv *ParallelValidator) safeStage(ctx context.Context, vt record.ValidationType, code string, entity *schema.Entity, methodName string) (report validator.Report) {
	defer func() {
		if r := recover(); r != nil {
			pv.cfg.Logger.Error("validation stage panicked", "stage", vt, "panic", fmt.Sprint(r))
			report = validator.Report{
				QualityScore: 0,
				Success:      false,
				Issues:       []string{fmt.Sprintf("stage %s panicked: %v", vt, r)},
			}
		}
	}()
	return pv.stages[vt](ctx, code, entity, methodName)
}

func contains(list []record.ValidationType, vt record.ValidationType) bool {
	for _, v := range list {
		if v == vt {
			return true
		}
	}
	return false
}
