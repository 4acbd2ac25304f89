// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package record defines the persisted grading and repair state model:
// ValidationResult rows produced by grading passes and RepairRecord rows
// driven through the repair state machine. The types here are pure data
// plus transition guards; persistence lives in the storage package and the
// state machine itself in the repair package.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidInput marks a structurally invalid record, such as a
	// missing target or validation result reference.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition marks a status change the state machine does
	// not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Validation results
// =============================================================================

// ValidationType identifies what a grading pass checked.
type ValidationType string

const (
	ValidationCompile      ValidationType = "compile"
	ValidationTest         ValidationType = "test"
	ValidationCoverage     ValidationType = "coverage"
	ValidationQualityGate  ValidationType = "quality_gate"
	ValidationContract     ValidationType = "contract"
	ValidationSchema       ValidationType = "schema"
	ValidationBusinessFlow ValidationType = "business_flow"

	// ValidationFull is the aggregate emitted by the parallel runner: its
	// pass flag is the logical AND of all sub-results.
	ValidationFull ValidationType = "full"
)

// ValidationStatus is the lifecycle state of one grading pass.
type ValidationStatus string

const (
	StatusRunning ValidationStatus = "RUNNING"
	StatusPassed  ValidationStatus = "PASSED"
	StatusFailed  ValidationStatus = "FAILED"
	StatusSkipped ValidationStatus = "SKIPPED"
)

// ValidationResult is one grading pass over one target. Created RUNNING,
// immutable once CompletedAt is set.
type ValidationResult struct {
	ID              string           `json:"id"`
	TargetID        string           `json:"target_id"`
	ValidationType  ValidationType   `json:"validation_type"`
	Status          ValidationStatus `json:"status"`
	IsPassed        bool             `json:"is_passed"`
	QualityScore    int              `json:"quality_score"`
	ErrorMessages   []string         `json:"error_messages"`
	WarningMessages []string         `json:"warning_messages"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	DurationMs      int64            `json:"duration_ms"`
}

// NewValidationResult opens a RUNNING result for the target.
func NewValidationResult(targetID string, vt ValidationType) *ValidationResult {
	return &ValidationResult{
		ID:             uuid.NewString(),
		TargetID:       targetID,
		ValidationType: vt,
		Status:         StatusRunning,
		StartedAt:      time.Now(),
	}
}

// Complete seals the result with a final score. A completed result must not
// be completed again.
//
// Inputs:
//
//	score - Final quality score in [0, 100].
//	passed - Whether the score met the quality gate.
//	issues - Deduction messages; stored as errors when failed, warnings
//	when passed.
func (r *ValidationResult) Complete(score int, passed bool, issues []string) error {
	if !r.CompletedAt.IsZero() {
		return fmt.Errorf("%w: validation result %s already completed", ErrInvalidTransition, r.ID)
	}
	r.QualityScore = score
	r.IsPassed = passed
	if passed {
		r.Status = StatusPassed
		r.WarningMessages = issues
	} else {
		r.Status = StatusFailed
		r.ErrorMessages = issues
	}
	r.CompletedAt = time.Now()
	r.DurationMs = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	return nil
}

// Skip seals the result as SKIPPED with a reason.
func (r *ValidationResult) Skip(reason string) error {
	if !r.CompletedAt.IsZero() {
		return fmt.Errorf("%w: validation result %s already completed", ErrInvalidTransition, r.ID)
	}
	r.Status = StatusSkipped
	r.WarningMessages = append(r.WarningMessages, reason)
	r.CompletedAt = time.Now()
	r.DurationMs = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	return nil
}

// Done reports whether the result has been sealed.
func (r *ValidationResult) Done() bool {
	return !r.CompletedAt.IsZero()
}

// =============================================================================
// Repair state machine model
// =============================================================================

// FailureType classifies why a grading pass failed, driving strategy choice.
type FailureType string

const (
	FailureCompile       FailureType = "compile"
	FailureTest          FailureType = "test"
	FailureTypeError     FailureType = "type_error"
	FailureDependency    FailureType = "dependency"
	FailureBusinessLogic FailureType = "business_logic"
)

// RepairStrategy is the chosen approach for one repair iteration.
type RepairStrategy string

const (
	StrategyTypeInference     RepairStrategy = "TYPE_INFERENCE"
	StrategyDependencyInstall RepairStrategy = "DEPENDENCY_INSTALL"
	StrategyCodeRefactor      RepairStrategy = "CODE_REFACTOR"
	StrategyBusinessLogicFix  RepairStrategy = "BUSINESS_LOGIC_FIX"
	StrategyAISuggestion      RepairStrategy = "AI_SUGGESTION"
)

// StrategyForFailure maps a failure classification to its repair strategy.
// Unknown classifications fall through to the AI suggestion path rather
// than erroring: an unclassifiable failure is exactly what the AI path is
// for.
func StrategyForFailure(ft FailureType) RepairStrategy {
	switch ft {
	case FailureTypeError:
		return StrategyTypeInference
	case FailureDependency:
		return StrategyDependencyInstall
	case FailureBusinessLogic:
		return StrategyBusinessLogicFix
	case FailureCompile, FailureTest:
		return StrategyCodeRefactor
	default:
		return StrategyAISuggestion
	}
}

// RepairStatus is the repair state machine position.
type RepairStatus string

const (
	RepairPending    RepairStatus = "PENDING"
	RepairAnalyzing  RepairStatus = "ANALYZING"
	RepairRepairing  RepairStatus = "REPAIRING"
	RepairValidating RepairStatus = "VALIDATING"
	RepairSuccess    RepairStatus = "SUCCESS"
	RepairFailed     RepairStatus = "FAILED"
	RepairEscalated  RepairStatus = "ESCALATED"
)

// Terminal reports whether the status admits no further transitions.
func (s RepairStatus) Terminal() bool {
	switch s {
	case RepairSuccess, RepairFailed, RepairEscalated:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the machine: monotonic except the
// ANALYZING→REPAIRING→VALIDATING cycle, which VALIDATING may restart.
// FAILED is reachable from any non-terminal state (infrastructure failure).
var allowedTransitions = map[RepairStatus][]RepairStatus{
	RepairPending:    {RepairAnalyzing, RepairSuccess, RepairFailed},
	RepairAnalyzing:  {RepairRepairing, RepairFailed},
	RepairRepairing:  {RepairValidating, RepairFailed},
	RepairValidating: {RepairSuccess, RepairAnalyzing, RepairEscalated, RepairFailed},
}

// CanTransitionTo reports whether the machine allows moving to next.
func (s RepairStatus) CanTransitionTo(next RepairStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DefaultMaxIterations bounds the repair budget per record.
const DefaultMaxIterations = 3

// Suggestion is one candidate fix produced during a repair iteration.
type Suggestion struct {
	Description string  `json:"description"`
	PatchedCode string  `json:"patched_code"`
	Confidence  float64 `json:"confidence"`
}

// FixAttempt is one audit entry in a repair run's history.
type FixAttempt struct {
	Iteration       int            `json:"iteration"`
	AppliedStrategy RepairStrategy `json:"applied_strategy"`
	ScoreAfterFix   int            `json:"score_after_fix"`
	Error           string         `json:"error,omitempty"`
}

// RepairRecord tracks one bounded repair run for a failed grading pass.
// Exactly one orchestrator run owns a (TargetID, ValidationResultID) pair at
// a time; ownership is enforced by compare-and-set on Status at the
// persistence layer.
type RepairRecord struct {
	ID                 string       `json:"id"`
	TargetID           string       `json:"target_id"`
	ValidationResultID string       `json:"validation_result_id"`
	FailureType        FailureType  `json:"failure_type"`
	Status             RepairStatus `json:"status"`
	CurrentIteration   int          `json:"current_iteration"`
	MaxIterations      int          `json:"max_iterations"`

	RepairStrategy           RepairStrategy `json:"repair_strategy"`
	RepairSuggestions        []Suggestion   `json:"repair_suggestions"`
	SelectedSuggestionIndex  int            `json:"selected_suggestion_index"`
	CodeChanges              string         `json:"code_changes"`
	AffectedFiles            []string       `json:"affected_files"`
	RepairValidationResultID string         `json:"repair_validation_result_id"`

	IsSuccess        bool       `json:"is_success"`
	FailureReason    string     `json:"failure_reason"`
	IsEscalated      bool       `json:"is_escalated"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	NotificationSent bool       `json:"notification_sent"`

	FixHistory []FixAttempt `json:"fix_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRepairRecord opens a PENDING record for a failed validation.
//
// Outputs:
//
//	error - Wraps ErrInvalidInput when targetID or validationResultID is
//	blank; the repair machine refuses to start without both.
func NewRepairRecord(targetID, validationResultID string, maxIterations int) (*RepairRecord, error) {
	if targetID == "" {
		return nil, fmt.Errorf("%w: missing targetId", ErrInvalidInput)
	}
	if validationResultID == "" {
		return nil, fmt.Errorf("%w: missing validationResultId", ErrInvalidInput)
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	now := time.Now()
	return &RepairRecord{
		ID:                 uuid.NewString(),
		TargetID:           targetID,
		ValidationResultID: validationResultID,
		Status:             RepairPending,
		MaxIterations:      maxIterations,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Transition moves the record to next, enforcing the machine's edges.
func (r *RepairRecord) Transition(next RepairStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (record %s)", ErrInvalidTransition, r.Status, next, r.ID)
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	return nil
}

// MarkSuccess seals the record after a passing re-validation.
func (r *RepairRecord) MarkSuccess(repairValidationResultID string) error {
	if err := r.Transition(RepairSuccess); err != nil {
		return err
	}
	r.IsSuccess = true
	r.RepairValidationResultID = repairValidationResultID
	return nil
}

// MarkEscalated seals the record after the iteration budget is exhausted.
// The invariant holds by construction: escalation requires the full budget
// consumed and no success.
func (r *RepairRecord) MarkEscalated(reason string) error {
	if r.CurrentIteration != r.MaxIterations {
		return fmt.Errorf("%w: escalation at iteration %d of %d (record %s)",
			ErrInvalidTransition, r.CurrentIteration, r.MaxIterations, r.ID)
	}
	if err := r.Transition(RepairEscalated); err != nil {
		return err
	}
	now := time.Now()
	r.IsSuccess = false
	r.IsEscalated = true
	r.EscalatedAt = &now
	r.FailureReason = reason
	return nil
}

// MarkFailed seals the record after an unrecoverable infrastructure error.
func (r *RepairRecord) MarkFailed(reason string) error {
	if err := r.Transition(RepairFailed); err != nil {
		return err
	}
	r.IsSuccess = false
	r.FailureReason = reason
	return nil
}

// ConsumeIteration advances the iteration counter, enforcing the budget.
func (r *RepairRecord) ConsumeIteration() error {
	if r.CurrentIteration >= r.MaxIterations {
		return fmt.Errorf("%w: iteration budget %d exhausted (record %s)",
			ErrInvalidTransition, r.MaxIterations, r.ID)
	}
	r.CurrentIteration++
	r.UpdatedAt = time.Now()
	return nil
}

// BudgetExhausted reports whether no iterations remain.
func (r *RepairRecord) BudgetExhausted() bool {
	return r.CurrentIteration >= r.MaxIterations
}
