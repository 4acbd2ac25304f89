// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gradegate/gradegate/services/qualitygate/record"
)

// storeUnderTest builds each Store implementation fresh per subtest, so the
// same behavioral suite runs against both backends.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "memory":
		return NewMemoryStore()
	case "badger":
		s, err := OpenBadger(InMemoryBadgerConfig())
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		t.Cleanup(func() {
			if err := s.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
		return s
	default:
		t.Fatalf("unknown store %q", name)
		return nil
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, name := range []string{"memory", "badger"} {
		t.Run(name, func(t *testing.T) {
			fn(t, storeUnderTest(t, name))
		})
	}
}

func TestValidationRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		vr := record.NewValidationResult("target-1", record.ValidationQualityGate)
		if err := vr.Complete(85, true, []string{"minor note"}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if err := s.SaveValidation(ctx, vr); err != nil {
			t.Fatalf("SaveValidation: %v", err)
		}

		got, err := s.GetValidation(ctx, vr.ID)
		if err != nil {
			t.Fatalf("GetValidation: %v", err)
		}
		if got.QualityScore != 85 || !got.IsPassed || got.Status != record.StatusPassed {
			t.Errorf("got = (%d, %v, %q), want (85, true, PASSED)", got.QualityScore, got.IsPassed, got.Status)
		}
		if got.TargetID != "target-1" {
			t.Errorf("TargetID = %q", got.TargetID)
		}

		if _, err := s.GetValidation(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id err = %v, want ErrNotFound", err)
		}
	})
}

func TestRepairRoundTripAndPairIndex(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rr, err := record.NewRepairRecord("target-1", "vr-1", 3)
		if err != nil {
			t.Fatalf("NewRepairRecord: %v", err)
		}
		if err := s.SaveRepair(ctx, rr); err != nil {
			t.Fatalf("SaveRepair: %v", err)
		}

		got, err := s.GetRepair(ctx, rr.ID)
		if err != nil {
			t.Fatalf("GetRepair: %v", err)
		}
		if got.Status != record.RepairPending || got.MaxIterations != 3 {
			t.Errorf("got = (%q, %d), want (PENDING, 3)", got.Status, got.MaxIterations)
		}

		byPair, err := s.FindRepairByPair(ctx, "target-1", "vr-1")
		if err != nil {
			t.Fatalf("FindRepairByPair: %v", err)
		}
		if byPair.ID != rr.ID {
			t.Errorf("pair lookup ID = %q, want %q", byPair.ID, rr.ID)
		}

		if _, err := s.FindRepairByPair(ctx, "target-1", "vr-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing pair err = %v, want ErrNotFound", err)
		}
	})
}

// The pair claim is part of the insert itself: a second record for the same
// (targetID, validationResultID) pair is rejected atomically, so two runs
// can never both open a record for one pair.
func TestCreateRepairClaimsPair(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		winner, _ := record.NewRepairRecord("target-1", "vr-1", 3)
		if err := s.CreateRepair(ctx, winner); err != nil {
			t.Fatalf("CreateRepair: %v", err)
		}

		loser, _ := record.NewRepairRecord("target-1", "vr-1", 3)
		if err := s.CreateRepair(ctx, loser); !errors.Is(err, ErrPairClaimed) {
			t.Fatalf("duplicate pair err = %v, want ErrPairClaimed", err)
		}

		// The pair index still points at the winner, and the loser's row
		// was never written.
		byPair, err := s.FindRepairByPair(ctx, "target-1", "vr-1")
		if err != nil {
			t.Fatalf("FindRepairByPair: %v", err)
		}
		if byPair.ID != winner.ID {
			t.Errorf("pair owner = %q, want %q", byPair.ID, winner.ID)
		}
		if _, err := s.GetRepair(ctx, loser.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("loser row err = %v, want ErrNotFound", err)
		}

		// A different pair is unaffected.
		other, _ := record.NewRepairRecord("target-1", "vr-2", 3)
		if err := s.CreateRepair(ctx, other); err != nil {
			t.Errorf("CreateRepair other pair: %v", err)
		}
	})
}

// Many concurrent creators for one pair, exactly one insert wins.
func TestCreateRepairSingleWinner(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		const creators = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(creators)
		for i := 0; i < creators; i++ {
			go func() {
				defer wg.Done()
				rr, _ := record.NewRepairRecord("target-race", "vr-race", 3)
				if err := s.CreateRepair(ctx, rr); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Errorf("winners = %d, want exactly 1", got)
		}
	})
}

// Stored rows must not alias caller memory: mutating the record after a
// save must not change the persisted row.
func TestNoAliasing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rr, _ := record.NewRepairRecord("target-1", "vr-1", 3)
		if err := s.SaveRepair(ctx, rr); err != nil {
			t.Fatalf("SaveRepair: %v", err)
		}
		rr.FailureReason = "mutated after save"

		got, err := s.GetRepair(ctx, rr.ID)
		if err != nil {
			t.Fatalf("GetRepair: %v", err)
		}
		if got.FailureReason != "" {
			t.Errorf("persisted FailureReason = %q, want empty", got.FailureReason)
		}
	})
}

func TestCompareAndSet(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rr, _ := record.NewRepairRecord("target-1", "vr-1", 3)
		if err := s.SaveRepair(ctx, rr); err != nil {
			t.Fatalf("SaveRepair: %v", err)
		}

		if err := s.CompareAndSetRepairStatus(ctx, rr.ID, record.RepairPending, record.RepairAnalyzing); err != nil {
			t.Fatalf("CAS PENDING -> ANALYZING: %v", err)
		}
		got, _ := s.GetRepair(ctx, rr.ID)
		if got.Status != record.RepairAnalyzing {
			t.Errorf("status = %q, want ANALYZING", got.Status)
		}

		// The same claim again must lose: the stored status moved on.
		err := s.CompareAndSetRepairStatus(ctx, rr.ID, record.RepairPending, record.RepairAnalyzing)
		if !errors.Is(err, ErrStatusConflict) {
			t.Errorf("stale CAS err = %v, want ErrStatusConflict", err)
		}

		// Illegal machine edges are rejected even when expected matches.
		err = s.CompareAndSetRepairStatus(ctx, rr.ID, record.RepairAnalyzing, record.RepairEscalated)
		if !errors.Is(err, record.ErrInvalidTransition) {
			t.Errorf("illegal edge err = %v, want ErrInvalidTransition", err)
		}

		err = s.CompareAndSetRepairStatus(ctx, "no-such-id", record.RepairPending, record.RepairAnalyzing)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id err = %v, want ErrNotFound", err)
		}
	})
}

// Many concurrent claimants, exactly one winner.
func TestCompareAndSetSingleWinner(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rr, _ := record.NewRepairRecord("target-1", "vr-1", 3)
		if err := s.SaveRepair(ctx, rr); err != nil {
			t.Fatalf("SaveRepair: %v", err)
		}

		const claimants = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(claimants)
		for i := 0; i < claimants; i++ {
			go func() {
				defer wg.Done()
				if err := s.CompareAndSetRepairStatus(ctx, rr.ID, record.RepairPending, record.RepairAnalyzing); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Errorf("winners = %d, want exactly 1", got)
		}
	})
}

func TestContextCancelled(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		vr := record.NewValidationResult("target-1", record.ValidationCompile)
		if err := s.SaveValidation(ctx, vr); !errors.Is(err, context.Canceled) {
			t.Errorf("SaveValidation err = %v, want context.Canceled", err)
		}
		if _, err := s.GetRepair(ctx, "any"); !errors.Is(err, context.Canceled) {
			t.Errorf("GetRepair err = %v, want context.Canceled", err)
		}
	})
}

func TestBadgerPersistentPath(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(DefaultBadgerConfig(dir))
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}

	rr, _ := record.NewRepairRecord("target-1", "vr-1", 3)
	if err := s.SaveRepair(context.Background(), rr); err != nil {
		t.Fatalf("SaveRepair: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Rows survive a reopen.
	s, err = OpenBadger(DefaultBadgerConfig(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.GetRepair(context.Background(), rr.ID)
	if err != nil {
		t.Fatalf("GetRepair after reopen: %v", err)
	}
	if got.TargetID != "target-1" {
		t.Errorf("TargetID = %q, want target-1", got.TargetID)
	}

	t.Run("missing path rejected", func(t *testing.T) {
		if _, err := OpenBadger(BadgerConfig{}); err == nil {
			t.Error("OpenBadger with no path succeeded, want error")
		}
	})
}
