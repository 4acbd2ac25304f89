// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists ValidationResult and RepairRecord rows. The
// persisted rows are the single source of truth for the repair state
// machine; the RepairRecord status field doubles as a logical lock through
// CompareAndSetRepairStatus.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gradegate/gradegate/services/qualitygate/record"
)

var (
	// ErrNotFound marks a lookup for a row that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict marks a compare-and-set whose expected status did
	// not match the stored one. The caller lost the race for the record.
	ErrStatusConflict = errors.New("status conflict")

	// ErrPairClaimed marks an insert for a (targetID, validationResultID)
	// pair that already has a repair record. The caller lost the claim
	// race; the existing record is the owner.
	ErrPairClaimed = errors.New("repair pair already claimed")
)

// Store persists grading and repair rows.
//
// Two primitives carry the ownership invariant. CreateRepair atomically
// inserts a record and claims its pair, failing with ErrPairClaimed when
// the pair already has one, so two runs can never both open a record for
// the same pair. CompareAndSetRepairStatus atomically moves a repair record
// from expected to next, failing with ErrStatusConflict when another run
// got there first. All other writes assume the caller already owns the
// record.
type Store interface {
	SaveValidation(ctx context.Context, vr *record.ValidationResult) error
	GetValidation(ctx context.Context, id string) (*record.ValidationResult, error)

	// CreateRepair inserts a new repair record and its pair-index entry
	// in one atomic step. The insert fails with ErrPairClaimed if any
	// record already owns the pair.
	CreateRepair(ctx context.Context, rr *record.RepairRecord) error

	SaveRepair(ctx context.Context, rr *record.RepairRecord) error
	GetRepair(ctx context.Context, id string) (*record.RepairRecord, error)

	// FindRepairByPair looks up the repair record owning a
	// (targetID, validationResultID) pair, if any.
	FindRepairByPair(ctx context.Context, targetID, validationResultID string) (*record.RepairRecord, error)

	CompareAndSetRepairStatus(ctx context.Context, id string, expected, next record.RepairStatus) error

	Close() error
}

// =============================================================================
// In-memory store
// =============================================================================

// MemoryStore is a map-backed Store for tests and single-process runs.
// Rows are stored as JSON so callers never share memory with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	validations map[string][]byte
	repairs     map[string][]byte
	pairIndex   map[string]string // "targetID\x00vrID" -> repair ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		validations: make(map[string][]byte),
		repairs:     make(map[string][]byte),
		pairIndex:   make(map[string]string),
	}
}

func pairKey(targetID, validationResultID string) string {
	return targetID + "\x00" + validationResultID
}

func (s *MemoryStore) SaveValidation(ctx context.Context, vr *record.ValidationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if vr == nil || vr.ID == "" {
		return fmt.Errorf("%w: validation result missing id", record.ErrInvalidInput)
	}
	data, err := json.Marshal(vr)
	if err != nil {
		return fmt.Errorf("marshal validation result: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[vr.ID] = data
	return nil
}

func (s *MemoryStore) GetValidation(ctx context.Context, id string) (*record.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.validations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: validation result %s", ErrNotFound, id)
	}
	var vr record.ValidationResult
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("unmarshal validation result: %w", err)
	}
	return &vr, nil
}

func (s *MemoryStore) CreateRepair(ctx context.Context, rr *record.RepairRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rr == nil || rr.ID == "" {
		return fmt.Errorf("%w: repair record missing id", record.ErrInvalidInput)
	}
	data, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("marshal repair record: %w", err)
	}
	key := pairKey(rr.TargetID, rr.ValidationResultID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.pairIndex[key]; ok {
		return fmt.Errorf("%w: pair (%s, %s) owned by record %s",
			ErrPairClaimed, rr.TargetID, rr.ValidationResultID, owner)
	}
	s.repairs[rr.ID] = data
	s.pairIndex[key] = rr.ID
	return nil
}

func (s *MemoryStore) SaveRepair(ctx context.Context, rr *record.RepairRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rr == nil || rr.ID == "" {
		return fmt.Errorf("%w: repair record missing id", record.ErrInvalidInput)
	}
	data, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("marshal repair record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs[rr.ID] = data
	s.pairIndex[pairKey(rr.TargetID, rr.ValidationResultID)] = rr.ID
	return nil
}

func (s *MemoryStore) GetRepair(ctx context.Context, id string) (*record.RepairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.repairs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: repair record %s", ErrNotFound, id)
	}
	return unmarshalRepair(data)
}

func (s *MemoryStore) FindRepairByPair(ctx context.Context, targetID, validationResultID string) (*record.RepairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.pairIndex[pairKey(targetID, validationResultID)]
	var data []byte
	if ok {
		data, ok = s.repairs[id]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: repair for (%s, %s)", ErrNotFound, targetID, validationResultID)
	}
	return unmarshalRepair(data)
}

func (s *MemoryStore) CompareAndSetRepairStatus(ctx context.Context, id string, expected, next record.RepairStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.repairs[id]
	if !ok {
		return fmt.Errorf("%w: repair record %s", ErrNotFound, id)
	}
	rr, err := unmarshalRepair(data)
	if err != nil {
		return err
	}
	if rr.Status != expected {
		return fmt.Errorf("%w: repair %s is %s, expected %s", ErrStatusConflict, id, rr.Status, expected)
	}
	if err := rr.Transition(next); err != nil {
		return err
	}
	updated, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("marshal repair record: %w", err)
	}
	s.repairs[id] = updated
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func unmarshalRepair(data []byte) (*record.RepairRecord, error) {
	var rr record.RepairRecord
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("unmarshal repair record: %w", err)
	}
	return &rr, nil
}
