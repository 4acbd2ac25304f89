// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repair drives the bounded auto-repair state machine. A failed
// grading pass opens a RepairRecord, which cycles through
// ANALYZING -> REPAIRING -> VALIDATING at most MaxIterations times before
// ending in SUCCESS or ESCALATED. The persisted record is the logical lock:
// creation atomically claims the (targetID, validationResultID) pair, every
// transition goes through the store's compare-and-set, and abandoned runs
// seal their record FAILED, so two orchestrator runs can never double-process
// one pair and a dead run never wedges it.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gradegate/gradegate/pkg/schema"
	"github.com/gradegate/gradegate/services/qualitygate/notify"
	"github.com/gradegate/gradegate/services/qualitygate/record"
	"github.com/gradegate/gradegate/services/qualitygate/storage"
	"github.com/gradegate/gradegate/services/qualitygate/validator"
)

// ErrRepairInProgress marks a repair request for a pair another run
// currently owns.
var ErrRepairInProgress = errors.New("repair already in progress")

// Grader is the validation dependency. *validator.Validator satisfies it.
type Grader interface {
	Grade(code string, entity *schema.Entity, methodName string) validator.Report
	PassThreshold() int
}

// Result is the aggregate outcome of one repair run.
type Result struct {
	RepairRecordID    string              `json:"repair_record_id"`
	FinalCode         string              `json:"final_code"`
	FinalQualityScore int                 `json:"final_quality_score"`
	Iterations        int                 `json:"iterations"`
	FixHistory        []record.FixAttempt `json:"fix_history"`
	Success           bool                `json:"success"`
	FailureReason     string              `json:"failure_reason,omitempty"`
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Grader   Grader
	Store    storage.Store
	Notifier notify.Notifier
	Logger   *slog.Logger

	// Providers maps each repair strategy to its suggestion source. Nil
	// entries (and an entirely nil map) fall back to the heuristic
	// provider; wire an AIProvider under StrategyAISuggestion to enable
	// model-backed repair.
	Providers map[record.RepairStrategy]SuggestionProvider

	// MaxIterations bounds the repair budget. Default 3.
	MaxIterations int

	// SuggestionTimeout bounds each provider call. Default 30s. A timeout
	// counts as a failed, consumed iteration.
	SuggestionTimeout time.Duration
}

// Orchestrator runs bounded repair loops. Safe for concurrent use across
// distinct (targetID, validationResultID) pairs; the store's compare-and-set
// serializes runs on the same pair.
type Orchestrator struct {
	grader            Grader
	store             storage.Store
	notifier          notify.Notifier
	logger            *slog.Logger
	providers         map[record.RepairStrategy]SuggestionProvider
	maxIterations     int
	suggestionTimeout time.Duration
}

// New creates an Orchestrator. Grader and Store are required; Notifier
// defaults to log delivery.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Grader == nil {
		return nil, fmt.Errorf("%w: grader is required", record.ErrInvalidInput)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", record.ErrInvalidInput)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{Logger: cfg.Logger}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = record.DefaultMaxIterations
	}
	if cfg.SuggestionTimeout <= 0 {
		cfg.SuggestionTimeout = 30 * time.Second
	}

	providers := make(map[record.RepairStrategy]SuggestionProvider)
	for s, p := range cfg.Providers {
		if p != nil {
			providers[s] = p
		}
	}

	return &Orchestrator{
		grader:            cfg.Grader,
		store:             cfg.Store,
		notifier:          cfg.Notifier,
		logger:            cfg.Logger,
		providers:         providers,
		maxIterations:     cfg.MaxIterations,
		suggestionTimeout: cfg.SuggestionTimeout,
	}, nil
}

// Repair runs the bounded repair loop for a failed grading pass.
//
// Inputs:
//
//	ctx - Bounds the whole run, including provider calls.
//	targetID, validationResultID - The failed pass being repaired. Both
//	required; missing either aborts with an input error before any state
//	is created.
//	code - The failing code artifact.
//	entity, methodName - Grading context, passed through to the grader
//	and providers.
//
// Outputs:
//
//	Result - Complete aggregate with per-iteration history. Returned for
//	terminal outcomes (SUCCESS and ESCALATED alike); retrying a terminal
//	record returns the stored outcome without running anything.
//	error - Input errors, ownership conflicts, and storage failures.
//	Repair-step failures are not errors: they consume iterations.
//
// Thread Safety: Safe for concurrent use. The pair claim is the store's
// atomic insert, so two runs can never both open a record for one pair; a
// run abandoned mid-loop (cancelled request, storage failure) seals its
// record FAILED so the pair never stays claimed forever.
func (o *Orchestrator) Repair(ctx context.Context, targetID, validationResultID, code string, entity *schema.Entity, methodName string) (res Result, retErr error) {
	if targetID == "" {
		return Result{}, fmt.Errorf("%w: missing targetId", record.ErrInvalidInput)
	}
	if validationResultID == "" {
		return Result{}, fmt.Errorf("%w: missing validationResultId", record.ErrInvalidInput)
	}

	// Fast path: a record for the pair already exists. Terminal records
	// replay their stored outcome; live ones reject the retry.
	if res, err := o.existingOutcome(ctx, targetID, validationResultID); !errors.Is(err, storage.ErrNotFound) {
		return res, err
	}

	rr, err := record.NewRepairRecord(targetID, validationResultID, o.maxIterations)
	if err != nil {
		return Result{}, err
	}
	if err := o.store.CreateRepair(ctx, rr); err != nil {
		if errors.Is(err, storage.ErrPairClaimed) {
			// Lost the claim race; surface the winner's state instead.
			return o.existingOutcome(ctx, targetID, validationResultID)
		}
		return Result{}, err
	}

	log := o.logger.With("target_id", targetID, "repair_record_id", rr.ID)

	// The claim is held until the record is terminal. A run that aborts
	// here (cancelled context, storage failure) would otherwise leave the
	// pair locked against every future retry.
	defer func() {
		if rr.Status.Terminal() {
			return
		}
		reason := "repair run aborted"
		if retErr != nil {
			reason = fmt.Sprintf("repair run aborted: %v", retErr)
		}
		o.sealFailed(rr, reason, log)
	}()

	// Idempotence: code that already passes costs no budget.
	report := o.grader.Grade(code, entity, methodName)
	if report.Success {
		vrID, err := o.persistValidation(ctx, targetID, report)
		if err != nil {
			return Result{}, err
		}
		rr.CodeChanges = code
		if err := o.sealSuccess(ctx, rr, record.RepairPending, vrID); err != nil {
			return Result{}, err
		}
		log.Info("repair short-circuited, code already passes", "quality_score", report.QualityScore)
		return Result{
			RepairRecordID:    rr.ID,
			FinalCode:         code,
			FinalQualityScore: report.QualityScore,
			Iterations:        0,
			Success:           true,
		}, nil
	}

	claimFrom := record.RepairPending
	currentCode := code

	for !rr.BudgetExhausted() {
		if err := o.transition(ctx, rr, claimFrom, record.RepairAnalyzing); err != nil {
			return Result{}, err
		}
		claimFrom = record.RepairValidating

		rr.FailureType = ClassifyFailure(report.Issues)
		rr.RepairStrategy = record.StrategyForFailure(rr.FailureType)

		if err := o.transition(ctx, rr, record.RepairAnalyzing, record.RepairRepairing); err != nil {
			return Result{}, err
		}
		if err := rr.ConsumeIteration(); err != nil {
			return Result{}, err
		}

		patched, stepErr := o.repairStep(ctx, Request{
			Code:       currentCode,
			Issues:     report.Issues,
			MethodName: methodName,
			Entity:     entity,
			Strategy:   rr.RepairStrategy,
		}, rr)
		if stepErr != nil {
			// Failed but consumed: log with context and re-validate the
			// unchanged code so the loop stays on the state machine.
			log.Warn("repair step failed",
				"iteration", rr.CurrentIteration,
				"strategy", rr.RepairStrategy,
				"error", stepErr.Error(),
			)
		} else {
			currentCode = patched
		}

		if err := o.transition(ctx, rr, record.RepairRepairing, record.RepairValidating); err != nil {
			return Result{}, err
		}

		report = o.grader.Grade(currentCode, entity, methodName)
		vrID, err := o.persistValidation(ctx, targetID, report)
		if err != nil {
			return Result{}, err
		}

		attempt := record.FixAttempt{
			Iteration:       rr.CurrentIteration,
			AppliedStrategy: rr.RepairStrategy,
			ScoreAfterFix:   report.QualityScore,
		}
		if stepErr != nil {
			attempt.Error = stepErr.Error()
		}
		rr.FixHistory = append(rr.FixHistory, attempt)
		rr.CodeChanges = currentCode
		if err := o.store.SaveRepair(ctx, rr); err != nil {
			return Result{}, err
		}

		if report.Success {
			if err := o.sealSuccess(ctx, rr, record.RepairValidating, vrID); err != nil {
				return Result{}, err
			}
			log.Info("repair succeeded",
				"iterations", rr.CurrentIteration,
				"quality_score", report.QualityScore,
			)
			return Result{
				RepairRecordID:    rr.ID,
				FinalCode:         currentCode,
				FinalQualityScore: report.QualityScore,
				Iterations:        rr.CurrentIteration,
				FixHistory:        rr.FixHistory,
				Success:           true,
			}, nil
		}
	}

	return o.escalate(ctx, rr, currentCode, report, log)
}

// repairStep runs one provider call under a bounded context, converting a
// panic into an error so a broken provider consumes an iteration instead of
// killing the run.
func (o *Orchestrator) repairStep(ctx context.Context, req Request, rr *record.RepairRecord) (patched string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("suggestion provider panicked: %v", r)
		}
	}()

	stepCtx, cancel := context.WithTimeout(ctx, o.suggestionTimeout)
	defer cancel()

	suggestions, err := o.provider(req.Strategy).Suggest(stepCtx, req)
	if err != nil {
		return "", err
	}
	if len(suggestions) == 0 {
		return "", errors.New("provider returned no suggestions")
	}

	rr.RepairSuggestions = suggestions
	rr.SelectedSuggestionIndex = 0
	return suggestions[0].PatchedCode, nil
}

func (o *Orchestrator) provider(strategy record.RepairStrategy) SuggestionProvider {
	if p, ok := o.providers[strategy]; ok {
		return p
	}
	return HeuristicProvider{}
}

func (o *Orchestrator) escalate(ctx context.Context, rr *record.RepairRecord, finalCode string, report validator.Report, log *slog.Logger) (Result, error) {
	reason := fmt.Sprintf("quality score %d below threshold %d after %d iterations",
		report.QualityScore, o.grader.PassThreshold(), rr.CurrentIteration)
	if len(report.Issues) > 0 {
		reason += ": " + strings.Join(report.Issues, "; ")
	}

	if err := o.store.CompareAndSetRepairStatus(ctx, rr.ID, record.RepairValidating, record.RepairEscalated); err != nil {
		return Result{}, err
	}
	if err := rr.MarkEscalated(reason); err != nil {
		return Result{}, err
	}

	// Exactly once: the terminal transition above is single-winner, and
	// NotificationSent is persisted with the terminal row.
	if err := o.notifier.Notify(ctx, notify.Escalation{
		TargetID:       rr.TargetID,
		RepairRecordID: rr.ID,
		Iterations:     rr.CurrentIteration,
		FailureReason:  reason,
		EscalatedAt:    *rr.EscalatedAt,
	}); err != nil {
		log.Error("escalation notification failed", "error", err.Error())
	} else {
		rr.NotificationSent = true
	}

	if err := o.store.SaveRepair(ctx, rr); err != nil {
		return Result{}, err
	}
	log.Warn("repair escalated", "iterations", rr.CurrentIteration, "failure_reason", reason)

	return Result{
		RepairRecordID:    rr.ID,
		FinalCode:         finalCode,
		FinalQualityScore: report.QualityScore,
		Iterations:        rr.CurrentIteration,
		FixHistory:        rr.FixHistory,
		Success:           false,
		FailureReason:     reason,
	}, nil
}

// existingOutcome resolves a repair request against the record already
// owning the pair: terminal records replay their stored result, live ones
// reject with ErrRepairInProgress. Passes storage.ErrNotFound through when
// no record exists.
func (o *Orchestrator) existingOutcome(ctx context.Context, targetID, validationResultID string) (Result, error) {
	existing, err := o.store.FindRepairByPair(ctx, targetID, validationResultID)
	if err != nil {
		return Result{}, err
	}
	if !existing.Status.Terminal() {
		return Result{}, fmt.Errorf("%w: record %s is %s", ErrRepairInProgress, existing.ID, existing.Status)
	}
	res := storedResult(existing)
	if existing.RepairValidationResultID != "" {
		if vr, vrErr := o.store.GetValidation(ctx, existing.RepairValidationResultID); vrErr == nil {
			res.FinalQualityScore = vr.QualityScore
		}
	}
	return res, nil
}

// sealSuccess claims the terminal edge in the store, seals the local record,
// and persists the full row.
func (o *Orchestrator) sealSuccess(ctx context.Context, rr *record.RepairRecord, from record.RepairStatus, vrID string) error {
	if err := o.store.CompareAndSetRepairStatus(ctx, rr.ID, from, record.RepairSuccess); err != nil {
		return err
	}
	if err := rr.MarkSuccess(vrID); err != nil {
		return err
	}
	return o.store.SaveRepair(ctx, rr)
}

// sealFailed closes an abandoned record so its pair does not stay claimed
// forever. Runs on a fresh context: the request context is usually the
// reason the run is being abandoned.
func (o *Orchestrator) sealFailed(rr *record.RepairRecord, reason string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.store.CompareAndSetRepairStatus(ctx, rr.ID, rr.Status, record.RepairFailed); err != nil {
		log.Error("sealing aborted repair", "error", err.Error())
		return
	}
	if err := rr.MarkFailed(reason); err != nil {
		log.Error("sealing aborted repair", "error", err.Error())
		return
	}
	if err := o.store.SaveRepair(ctx, rr); err != nil {
		log.Error("persisting aborted repair", "error", err.Error())
		return
	}
	log.Warn("repair run aborted, record sealed FAILED", "failure_reason", reason)
}

// transition advances the persisted status via compare-and-set and mirrors
// it on the in-memory record.
func (o *Orchestrator) transition(ctx context.Context, rr *record.RepairRecord, from, to record.RepairStatus) error {
	if err := o.store.CompareAndSetRepairStatus(ctx, rr.ID, from, to); err != nil {
		return err
	}
	return rr.Transition(to)
}

func (o *Orchestrator) persistValidation(ctx context.Context, targetID string, report validator.Report) (string, error) {
	vr := record.NewValidationResult(targetID, record.ValidationQualityGate)
	if err := vr.Complete(report.QualityScore, report.Success, report.Issues); err != nil {
		return "", err
	}
	if err := o.store.SaveValidation(ctx, vr); err != nil {
		return "", err
	}
	return vr.ID, nil
}

func storedResult(rr *record.RepairRecord) Result {
	res := Result{
		RepairRecordID: rr.ID,
		FinalCode:      rr.CodeChanges,
		Iterations:     rr.CurrentIteration,
		FixHistory:     rr.FixHistory,
		Success:        rr.IsSuccess,
		FailureReason:  rr.FailureReason,
	}
	if n := len(rr.FixHistory); n > 0 {
		res.FinalQualityScore = rr.FixHistory[n-1].ScoreAfterFix
	}
	return res
}
