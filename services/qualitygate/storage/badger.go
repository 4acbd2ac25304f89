// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/gradegate/gradegate/services/qualitygate/record"
)

// Key prefixes. Repair rows carry a secondary index keyed by the
// (targetID, validationResultID) ownership pair.
const (
	validationPrefix = "validation:"
	repairPrefix     = "repair:"
	repairPairPrefix = "repairpair:"
)

// BadgerConfig holds configuration for the embedded BadgerDB store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable production configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests: in-memory, no
// sync, no disk I/O.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a Store backed by an embedded BadgerDB instance. Rows are
// stored as JSON; the compare-and-set runs inside one serializable
// transaction, so two orchestrator runs can never both claim a record.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a BadgerDB-backed store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
//
// Thread Safety: The returned store is safe for concurrent use.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) SaveValidation(ctx context.Context, vr *record.ValidationResult) error {
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
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(validationPrefix+vr.ID), data)
	})
}

func (s *BadgerStore) GetValidation(ctx context.Context, id string) (*record.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var vr record.ValidationResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(validationPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &vr)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: validation result %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get validation result: %w", err)
	}
	return &vr, nil
}

// CreateRepair inserts a record and claims its pair inside one transaction.
// The pair-index read puts the key in the transaction's read set, so two
// concurrent creates cannot both commit: the loser fails the in-transaction
// existence check or the commit-time conflict check.
func (s *BadgerStore) CreateRepair(ctx context.Context, rr *record.RepairRecord) error {
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
	pair := []byte(repairPairPrefix + pairKey(rr.TargetID, rr.ValidationResultID))
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(pair)
		if err == nil {
			return fmt.Errorf("%w: pair (%s, %s)", ErrPairClaimed, rr.TargetID, rr.ValidationResultID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get repair pair index: %w", err)
		}
		if err := txn.Set([]byte(repairPrefix+rr.ID), data); err != nil {
			return err
		}
		return txn.Set(pair, []byte(rr.ID))
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: pair (%s, %s) lost transaction race",
			ErrPairClaimed, rr.TargetID, rr.ValidationResultID)
	}
	return err
}

func (s *BadgerStore) SaveRepair(ctx context.Context, rr *record.RepairRecord) error {
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
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(repairPrefix+rr.ID), data); err != nil {
			return err
		}
		pair := repairPairPrefix + pairKey(rr.TargetID, rr.ValidationResultID)
		return txn.Set([]byte(pair), []byte(rr.ID))
	})
}

func (s *BadgerStore) GetRepair(ctx context.Context, id string) (*record.RepairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rr *record.RepairRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rr, err = getRepairTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rr, nil
}

func (s *BadgerStore) FindRepairByPair(ctx context.Context, targetID, validationResultID string) (*record.RepairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rr *record.RepairRecord
	err := s.db.View(func(txn *badger.Txn) error {
		pair := repairPairPrefix + pairKey(targetID, validationResultID)
		item, err := txn.Get([]byte(pair))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: repair for (%s, %s)", ErrNotFound, targetID, validationResultID)
		}
		if err != nil {
			return fmt.Errorf("get repair pair index: %w", err)
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		rr, err = getRepairTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rr, nil
}

// CompareAndSetRepairStatus claims or advances a repair record. The read,
// the status check and the write share one transaction; a concurrent
// writer surfaces as ErrStatusConflict, never as a silent double-claim.
func (s *BadgerStore) CompareAndSetRepairStatus(ctx context.Context, id string, expected, next record.RepairStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		rr, err := getRepairTxn(txn, id)
		if err != nil {
			return err
		}
		if rr.Status != expected {
			return fmt.Errorf("%w: repair %s is %s, expected %s", ErrStatusConflict, id, rr.Status, expected)
		}
		if err := rr.Transition(next); err != nil {
			return err
		}
		data, err := json.Marshal(rr)
		if err != nil {
			return fmt.Errorf("marshal repair record: %w", err)
		}
		return txn.Set([]byte(repairPrefix+id), data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: repair %s lost transaction race", ErrStatusConflict, id)
	}
	return err
}

// Close closes the underlying database. Pending writes are flushed first.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getRepairTxn(txn *badger.Txn, id string) (*record.RepairRecord, error) {
	item, err := txn.Get([]byte(repairPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: repair record %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repair record: %w", err)
	}
	var rr record.RepairRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rr)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal repair record: %w", err)
	}
	return &rr, nil
}
