// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gradegate/gradegate/pkg/schema"
	"github.com/gradegate/gradegate/services/qualitygate/record"
	"github.com/gradegate/gradegate/services/qualitygate/storage"
	"github.com/gradegate/gradegate/services/qualitygate/validator"
)

type fixedGrader struct {
	score  int
	issues []string
}

func (g fixedGrader) Grade(string, *schema.Entity, string) validator.Report {
	return validator.Report{
		QualityScore: g.score,
		Success:      g.score >= validator.DefaultPassThreshold,
		Issues:       g.issues,
	}
}

func (g fixedGrader) PassThreshold() int { return validator.DefaultPassThreshold }

func TestAggregatePasses(t *testing.T) {
	pv, err := NewParallelValidator(ParallelConfig{Grader: fixedGrader{score: 90}})
	if err != nil {
		t.Fatalf("NewParallelValidator: %v", err)
	}

	agg, subs, err := pv.Run(context.Background(), "t-1", "good code", nil, "createUser")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.ValidationType != record.ValidationFull {
		t.Errorf("aggregate type = %q, want full", agg.ValidationType)
	}
	if !agg.IsPassed || agg.QualityScore != 90 {
		t.Errorf("aggregate = (passed=%v, score=%d), want (true, 90)", agg.IsPassed, agg.QualityScore)
	}
	if len(subs) != 3 {
		t.Fatalf("sub-results = %d, want 3 (compile, test, business_flow)", len(subs))
	}
	for _, sub := range subs {
		if !sub.IsPassed || !sub.Done() {
			t.Errorf("sub %s = (passed=%v, done=%v)", sub.ValidationType, sub.IsPassed, sub.Done())
		}
	}
}

// One failing stage fails the AND aggregate, and the aggregate score is the
// minimum across stages.
func TestAggregateIsLogicalAND(t *testing.T) {
	pass := func(context.Context, string, *schema.Entity, string) validator.Report {
		return validator.Report{QualityScore: 90, Success: true}
	}
	fail := func(context.Context, string, *schema.Entity, string) validator.Report {
		return validator.Report{QualityScore: 55, Success: false, Issues: []string{"assertion failed"}}
	}

	pv, err := NewParallelValidator(ParallelConfig{
		Grader: fixedGrader{score: 90},
		Stages: map[record.ValidationType]StageFunc{
			record.ValidationCompile:      pass,
			record.ValidationTest:         fail,
			record.ValidationBusinessFlow: pass,
		},
	})
	if err != nil {
		t.Fatalf("NewParallelValidator: %v", err)
	}

	agg, subs, err := pv.Run(context.Background(), "t-1", "code", nil, "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.IsPassed {
		t.Error("aggregate passed despite a failing stage")
	}
	if agg.QualityScore != 55 {
		t.Errorf("aggregate score = %d, want 55 (minimum)", agg.QualityScore)
	}
	if len(agg.ErrorMessages) != 1 || !strings.Contains(agg.ErrorMessages[0], "test:") {
		t.Errorf("aggregate issues = %v, want stage-prefixed message", agg.ErrorMessages)
	}
	if len(subs) != 3 {
		t.Errorf("sub-results = %d, want all 3 despite the failure", len(subs))
	}
}

func TestStagePanicContained(t *testing.T) {
	pv, err := NewParallelValidator(ParallelConfig{
		Grader: fixedGrader{score: 90},
		Stages: map[record.ValidationType]StageFunc{
			record.ValidationCompile: func(context.Context, string, *schema.Entity, string) validator.Report {
				panic("stage exploded")
			},
		},
	})
	if err != nil {
		t.Fatalf("NewParallelValidator: %v", err)
	}

	agg, subs, err := pv.Run(context.Background(), "t-1", "code", nil, "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.IsPassed || agg.QualityScore != 0 {
		t.Errorf("aggregate = (passed=%v, score=%d), want (false, 0)", agg.IsPassed, agg.QualityScore)
	}
	if len(subs) != 1 || !strings.Contains(strings.Join(subs[0].ErrorMessages, "\n"), "panicked") {
		t.Errorf("sub-results = %+v, want contained panic", subs[0])
	}
}

func TestFailFastVariant(t *testing.T) {
	fail := func(context.Context, string, *schema.Entity, string) validator.Report {
		return validator.Report{QualityScore: 10, Success: false, Issues: []string{"broken"}}
	}

	pv, err := NewParallelValidator(ParallelConfig{
		Grader:   fixedGrader{score: 90},
		FailFast: true,
		Stages: map[record.ValidationType]StageFunc{
			record.ValidationCompile:      fail,
			record.ValidationTest:         fail,
			record.ValidationBusinessFlow: fail,
		},
	})
	if err != nil {
		t.Fatalf("NewParallelValidator: %v", err)
	}

	agg, subs, err := pv.Run(context.Background(), "t-1", "code", nil, "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.IsPassed {
		t.Error("aggregate passed, want failure")
	}
	// Every slot is filled: failed, or skipped by cancellation.
	for _, sub := range subs {
		if sub == nil || !sub.Done() {
			t.Fatalf("incomplete sub-result: %+v", sub)
		}
		if sub.Status != record.StatusFailed && sub.Status != record.StatusSkipped {
			t.Errorf("sub %s status = %q, want FAILED or SKIPPED", sub.ValidationType, sub.Status)
		}
	}
}

// Full wiring: pool execution, persistence, and metrics.
func TestRunWithPoolStoreAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pool := NewPool(ValidationPoolConfig(), metrics)
	defer pool.Shutdown()
	store := storage.NewMemoryStore()

	pv, err := NewParallelValidator(ParallelConfig{
		Grader:  validator.New(validator.Config{}),
		Store:   store,
		Pool:    pool,
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("NewParallelValidator: %v", err)
	}

	agg, subs, err := pv.Run(context.Background(), "t-1", "public class X { }", nil, "createUser")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.IsPassed {
		t.Error("bare class shell passed the full aggregate")
	}

	// Everything persisted, aggregate included.
	for _, vr := range append(subs, agg) {
		got, err := store.GetValidation(context.Background(), vr.ID)
		if err != nil {
			t.Errorf("GetValidation(%s %s): %v", vr.ValidationType, vr.ID, err)
			continue
		}
		if got.QualityScore != vr.QualityScore {
			t.Errorf("persisted score = %d, want %d", got.QualityScore, vr.QualityScore)
		}
	}

	if got := testutil.ToFloat64(metrics.TasksSubmittedTotal.WithLabelValues("validation")); got != 3 {
		t.Errorf("submitted tasks metric = %v, want 3", got)
	}
}
