// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gradegate/gradegate/pkg/schema"
	"github.com/gradegate/gradegate/services/qualitygate/notify"
	"github.com/gradegate/gradegate/services/qualitygate/record"
	"github.com/gradegate/gradegate/services/qualitygate/storage"
	"github.com/gradegate/gradegate/services/qualitygate/validator"
)

// stuckGrader always returns the same score, simulating code the repair
// loop can never fix.
type stuckGrader struct {
	score  int
	issues []string
}

func (g stuckGrader) Grade(string, *schema.Entity, string) validator.Report {
	return validator.Report{
		QualityScore: g.score,
		Success:      g.score >= validator.DefaultPassThreshold,
		Issues:       g.issues,
	}
}

func (g stuckGrader) PassThreshold() int { return validator.DefaultPassThreshold }

// scriptedGrader returns a fixed sequence of scores, one per Grade call.
type scriptedGrader struct {
	scores []int
	calls  int
}

func (g *scriptedGrader) Grade(string, *schema.Entity, string) validator.Report {
	score := g.scores[len(g.scores)-1]
	if g.calls < len(g.scores) {
		score = g.scores[g.calls]
	}
	g.calls++
	return validator.Report{
		QualityScore: score,
		Success:      score >= validator.DefaultPassThreshold,
		Issues:       []string{"logic warning: no repository or persistence reference found"},
	}
}

func (g *scriptedGrader) PassThreshold() int { return validator.DefaultPassThreshold }

// gatedGrader blocks its first Grade call until released, holding the run
// (and its pair claim) open for as long as the test needs.
type gatedGrader struct {
	inner   Grader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedGrader(inner Grader) *gatedGrader {
	return &gatedGrader{
		inner:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedGrader) Grade(code string, entity *schema.Entity, methodName string) validator.Report {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.inner.Grade(code, entity, methodName)
}

func (g *gatedGrader) PassThreshold() int { return g.inner.PassThreshold() }

// abortingGrader cancels the run's context from inside Grade, so the next
// store call fails and the run is abandoned mid-loop.
type abortingGrader struct {
	cancel context.CancelFunc
}

func (g abortingGrader) Grade(string, *schema.Entity, string) validator.Report {
	g.cancel()
	return validator.Report{
		QualityScore: 40,
		Issues:       []string{"logic warning: no repository or persistence reference found"},
	}
}

func (g abortingGrader) PassThreshold() int { return validator.DefaultPassThreshold }

type countingNotifier struct {
	calls atomic.Int32
	last  notify.Escalation
}

func (n *countingNotifier) Notify(_ context.Context, e notify.Escalation) error {
	n.calls.Add(1)
	n.last = e
	return nil
}

type failingProvider struct{ panics bool }

func (p failingProvider) Suggest(context.Context, Request) ([]record.Suggestion, error) {
	if p.panics {
		panic("provider exploded")
	}
	return nil, errors.New("upstream unavailable")
}

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, storage.Store) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, cfg.Store
}

func TestInputErrors(t *testing.T) {
	o, _ := newOrchestrator(t, Config{Grader: stuckGrader{score: 50}})
	ctx := context.Background()

	if _, err := o.Repair(ctx, "", "vr-1", "code", nil, "m"); !errors.Is(err, record.ErrInvalidInput) {
		t.Errorf("missing targetId err = %v, want ErrInvalidInput", err)
	}
	if _, err := o.Repair(ctx, "t-1", "", "code", nil, "m"); !errors.Is(err, record.ErrInvalidInput) {
		t.Errorf("missing validationResultId err = %v, want ErrInvalidInput", err)
	}
}

// Code that already passes costs no budget: success at iteration 0.
func TestIdempotentShortCircuit(t *testing.T) {
	notifier := &countingNotifier{}
	o, store := newOrchestrator(t, Config{
		Grader:   stuckGrader{score: 85},
		Notifier: notifier,
	})

	res, err := o.Repair(context.Background(), "t-1", "vr-1", "already fine", nil, "createUser")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !res.Success || res.Iterations != 0 {
		t.Errorf("result = (success=%v, iterations=%d), want (true, 0)", res.Success, res.Iterations)
	}
	if res.FinalQualityScore != 85 {
		t.Errorf("FinalQualityScore = %d, want 85", res.FinalQualityScore)
	}
	if notifier.calls.Load() != 0 {
		t.Errorf("notifier calls = %d, want 0", notifier.calls.Load())
	}

	rr, err := store.GetRepair(context.Background(), res.RepairRecordID)
	if err != nil {
		t.Fatalf("GetRepair: %v", err)
	}
	if rr.Status != record.RepairSuccess || rr.CurrentIteration != 0 {
		t.Errorf("stored = (%q, %d), want (SUCCESS, 0)", rr.Status, rr.CurrentIteration)
	}
}

// A grader stuck at 50 exhausts the budget: ESCALATED at iteration 3 with
// exactly one notification.
func TestEscalationAfterExhaustedBudget(t *testing.T) {
	notifier := &countingNotifier{}
	o, store := newOrchestrator(t, Config{
		Grader:   stuckGrader{score: 50, issues: []string{"logic warning: no repository or persistence reference found"}},
		Notifier: notifier,
	})

	res, err := o.Repair(context.Background(), "t-1", "vr-1", "bad code", nil, "createUser")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if res.Success {
		t.Error("success = true, want false")
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if len(res.FixHistory) != 3 {
		t.Errorf("fix history = %d entries, want 3", len(res.FixHistory))
	}
	if res.FailureReason == "" {
		t.Error("FailureReason is empty")
	}

	if got := notifier.calls.Load(); got != 1 {
		t.Errorf("notifier calls = %d, want exactly 1", got)
	}
	if notifier.last.Iterations != 3 || notifier.last.RepairRecordID != res.RepairRecordID {
		t.Errorf("escalation = %+v", notifier.last)
	}

	rr, err := store.GetRepair(context.Background(), res.RepairRecordID)
	if err != nil {
		t.Fatalf("GetRepair: %v", err)
	}
	if rr.Status != record.RepairEscalated || !rr.IsEscalated || rr.IsSuccess {
		t.Errorf("stored = (%q, escalated=%v, success=%v), want (ESCALATED, true, false)",
			rr.Status, rr.IsEscalated, rr.IsSuccess)
	}
	if rr.CurrentIteration != rr.MaxIterations {
		t.Errorf("CurrentIteration = %d, want %d", rr.CurrentIteration, rr.MaxIterations)
	}
	if rr.EscalatedAt == nil || !rr.NotificationSent {
		t.Error("EscalatedAt/NotificationSent not persisted")
	}
}

// Retrying a terminal repair returns the stored outcome without running the
// loop or notifying again.
func TestTerminalRetryIsNoOp(t *testing.T) {
	notifier := &countingNotifier{}
	o, _ := newOrchestrator(t, Config{
		Grader:   stuckGrader{score: 50, issues: []string{"logic warning: no repository or persistence reference found"}},
		Notifier: notifier,
	})
	ctx := context.Background()

	first, err := o.Repair(ctx, "t-1", "vr-1", "bad code", nil, "createUser")
	if err != nil {
		t.Fatalf("first Repair: %v", err)
	}

	second, err := o.Repair(ctx, "t-1", "vr-1", "bad code", nil, "createUser")
	if err != nil {
		t.Fatalf("retry Repair: %v", err)
	}
	if second.RepairRecordID != first.RepairRecordID {
		t.Errorf("retry record = %q, want stored %q", second.RepairRecordID, first.RepairRecordID)
	}
	if second.Iterations != 3 || second.Success {
		t.Errorf("retry = (iterations=%d, success=%v), want (3, false)", second.Iterations, second.Success)
	}
	if got := notifier.calls.Load(); got != 1 {
		t.Errorf("notifier calls after retry = %d, want 1", got)
	}
}

func TestInProgressPairRejected(t *testing.T) {
	store := storage.NewMemoryStore()
	rr, _ := record.NewRepairRecord("t-1", "vr-1", 3)
	if err := store.SaveRepair(context.Background(), rr); err != nil {
		t.Fatalf("SaveRepair: %v", err)
	}

	o, _ := newOrchestrator(t, Config{Grader: stuckGrader{score: 50}, Store: store})
	if _, err := o.Repair(context.Background(), "t-1", "vr-1", "code", nil, "m"); !errors.Is(err, ErrRepairInProgress) {
		t.Errorf("err = %v, want ErrRepairInProgress", err)
	}
}

// While one run holds the pair claim, a second run for the same pair is
// rejected instead of opening a second record, and after the first run
// finishes only its record exists and only one notification went out.
func TestConcurrentPairSingleOwner(t *testing.T) {
	notifier := &countingNotifier{}
	grader := newGatedGrader(stuckGrader{
		score:  50,
		issues: []string{"logic warning: no repository or persistence reference found"},
	})
	o, store := newOrchestrator(t, Config{Grader: grader, Notifier: notifier})
	ctx := context.Background()

	type outcome struct {
		res Result
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := o.Repair(ctx, "t-1", "vr-1", "bad code", nil, "createUser")
		firstDone <- outcome{res, err}
	}()
	<-grader.entered

	// The first run holds the claim; a concurrent request must not start a
	// second run.
	if _, err := o.Repair(ctx, "t-1", "vr-1", "bad code", nil, "createUser"); !errors.Is(err, ErrRepairInProgress) {
		t.Errorf("concurrent Repair err = %v, want ErrRepairInProgress", err)
	}
	if got := notifier.calls.Load(); got != 0 {
		t.Errorf("notifier calls while run held = %d, want 0", got)
	}

	close(grader.release)
	first := <-firstDone
	if first.err != nil {
		t.Fatalf("first Repair: %v", first.err)
	}
	if got := notifier.calls.Load(); got != 1 {
		t.Errorf("notifier calls = %d, want exactly 1", got)
	}

	// The pair is owned by the first run's record, and a retry replays it.
	rr, err := store.FindRepairByPair(ctx, "t-1", "vr-1")
	if err != nil {
		t.Fatalf("FindRepairByPair: %v", err)
	}
	if rr.ID != first.res.RepairRecordID {
		t.Errorf("pair owner = %q, want %q", rr.ID, first.res.RepairRecordID)
	}
	retry, err := o.Repair(ctx, "t-1", "vr-1", "bad code", nil, "createUser")
	if err != nil {
		t.Fatalf("retry Repair: %v", err)
	}
	if retry.RepairRecordID != first.res.RepairRecordID {
		t.Errorf("retry record = %q, want %q", retry.RepairRecordID, first.res.RepairRecordID)
	}
	if got := notifier.calls.Load(); got != 1 {
		t.Errorf("notifier calls after retry = %d, want still 1", got)
	}
}

// Many simultaneous requests for one pair: exactly one run executes and
// notifies; the rest are rejected or replay the stored outcome.
func TestConcurrentPairSingleRun(t *testing.T) {
	notifier := &countingNotifier{}
	o, store := newOrchestrator(t, Config{
		Grader:   stuckGrader{score: 50, issues: []string{"logic warning: stub"}},
		Notifier: notifier,
	})
	ctx := context.Background()

	const requests = 8
	errs := make(chan error, requests)
	var wg sync.WaitGroup
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func() {
			defer wg.Done()
			_, err := o.Repair(ctx, "t-race", "vr-race", "bad code", nil, "createUser")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrRepairInProgress) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := notifier.calls.Load(); got != 1 {
		t.Errorf("notifier calls = %d, want exactly 1", got)
	}

	rr, err := store.FindRepairByPair(ctx, "t-race", "vr-race")
	if err != nil {
		t.Fatalf("FindRepairByPair: %v", err)
	}
	if rr.Status != record.RepairEscalated {
		t.Errorf("pair owner status = %q, want ESCALATED", rr.Status)
	}
}

// A run abandoned mid-loop seals its record FAILED instead of leaving the
// pair claimed forever; a later retry replays the stored failure.
func TestAbandonedRunSealedFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := &countingNotifier{}
	o, store := newOrchestrator(t, Config{Grader: abortingGrader{cancel: cancel}, Notifier: notifier})

	_, err := o.Repair(ctx, "t-1", "vr-1", "bad code", nil, "createUser")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Repair err = %v, want context.Canceled", err)
	}

	rr, err := store.FindRepairByPair(context.Background(), "t-1", "vr-1")
	if err != nil {
		t.Fatalf("FindRepairByPair: %v", err)
	}
	if rr.Status != record.RepairFailed {
		t.Errorf("status = %q, want FAILED", rr.Status)
	}
	if !strings.Contains(rr.FailureReason, "aborted") {
		t.Errorf("FailureReason = %q, want abort reason", rr.FailureReason)
	}
	if notifier.calls.Load() != 0 {
		t.Errorf("notifier calls = %d, want 0", notifier.calls.Load())
	}

	// The pair is no longer wedged: a retry resolves to the stored terminal
	// outcome instead of ErrRepairInProgress.
	retry, err := o.Repair(context.Background(), "t-1", "vr-1", "bad code", nil, "createUser")
	if err != nil {
		t.Fatalf("retry Repair: %v", err)
	}
	if retry.Success || retry.RepairRecordID != rr.ID {
		t.Errorf("retry = (success=%v, id=%q), want (false, %q)", retry.Success, retry.RepairRecordID, rr.ID)
	}
}

// A provider error or panic consumes the iteration, never crashes the run.
func TestProviderFailureIsolation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		panics bool
	}{
		{"error", false},
		{"panic", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			notifier := &countingNotifier{}
			providers := map[record.RepairStrategy]SuggestionProvider{}
			for _, s := range []record.RepairStrategy{
				record.StrategyTypeInference, record.StrategyDependencyInstall,
				record.StrategyCodeRefactor, record.StrategyBusinessLogicFix,
				record.StrategyAISuggestion,
			} {
				providers[s] = failingProvider{panics: tc.panics}
			}

			o, _ := newOrchestrator(t, Config{
				Grader:    stuckGrader{score: 50, issues: []string{"logic warning: stub"}},
				Notifier:  notifier,
				Providers: providers,
			})

			res, err := o.Repair(context.Background(), "t-1", "vr-1", "bad", nil, "m")
			if err != nil {
				t.Fatalf("Repair: %v", err)
			}
			if res.Success || res.Iterations != 3 {
				t.Errorf("result = (success=%v, iterations=%d), want (false, 3)", res.Success, res.Iterations)
			}
			for _, attempt := range res.FixHistory {
				if attempt.Error == "" {
					t.Errorf("attempt %d has no recorded error", attempt.Iteration)
				}
			}
			if notifier.calls.Load() != 1 {
				t.Errorf("notifier calls = %d, want 1", notifier.calls.Load())
			}
		})
	}
}

// End to end with the real grader and the heuristic provider: a bare class
// shell converges to a passing score in one iteration.
func TestHeuristicConvergence(t *testing.T) {
	v := validator.New(validator.Config{})
	o, store := newOrchestrator(t, Config{Grader: v})

	entity := &schema.Entity{Name: "User", Fields: []schema.Field{
		{Name: "id", Type: schema.FieldTypeUUID, PrimaryKey: true},
	}}
	res, err := o.Repair(context.Background(), "t-1", "vr-1", "public class X { }", entity, "createUser")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !res.Success {
		t.Fatalf("success = false, history = %+v, final code:\n%s", res.FixHistory, res.FinalCode)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if res.FinalQualityScore < v.PassThreshold() {
		t.Errorf("FinalQualityScore = %d, want >= %d", res.FinalQualityScore, v.PassThreshold())
	}

	rr, err := store.FindRepairByPair(context.Background(), "t-1", "vr-1")
	if err != nil {
		t.Fatalf("FindRepairByPair: %v", err)
	}
	if rr.Status != record.RepairSuccess || rr.RepairValidationResultID == "" {
		t.Errorf("stored = (%q, vr=%q), want SUCCESS with a passing validation reference", rr.Status, rr.RepairValidationResultID)
	}

	// The success invariant: the referenced validation passed.
	vr, err := store.GetValidation(context.Background(), rr.RepairValidationResultID)
	if err != nil {
		t.Fatalf("GetValidation: %v", err)
	}
	if !vr.IsPassed {
		t.Error("repair validation result not passed")
	}
}

// Success on the second attempt stops the loop early.
func TestPartialConvergence(t *testing.T) {
	grader := &scriptedGrader{scores: []int{40, 55, 80}}
	notifier := &countingNotifier{}
	o, _ := newOrchestrator(t, Config{Grader: grader, Notifier: notifier})

	res, err := o.Repair(context.Background(), "t-1", "vr-1", "bad", nil, "m")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !res.Success || res.Iterations != 2 {
		t.Errorf("result = (success=%v, iterations=%d), want (true, 2)", res.Success, res.Iterations)
	}
	if len(res.FixHistory) != 2 {
		t.Errorf("fix history = %d entries, want 2", len(res.FixHistory))
	}
	if notifier.calls.Load() != 0 {
		t.Errorf("notifier calls = %d, want 0", notifier.calls.Load())
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name   string
		issues []string
		want   record.FailureType
	}{
		{"dependency", []string{"cannot resolve import org.example"}, record.FailureDependency},
		{"test", []string{"test assertion failed"}, record.FailureTest},
		{"type", []string{"structure error: missing type definition"}, record.FailureTypeError},
		{"logic", []string{"logic warning: no repository or persistence reference found"}, record.FailureBusinessLogic},
		{"syntax", []string{"syntax error: unbalanced brackets"}, record.FailureCompile},
		{"empty", nil, record.FailureCompile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFailure(tc.issues); got != tc.want {
				t.Errorf("ClassifyFailure(%v) = %q, want %q", tc.issues, got, tc.want)
			}
		})
	}
}
