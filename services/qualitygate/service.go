// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package qualitygate is the HTTP service wrapping the grading and repair
// pipeline: complexity analysis, template synthesis, three-tier validation,
// parallel multi-stage grading, and bounded auto-repair with escalation.
package qualitygate

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/gradegate/gradegate/services/qualitygate/analysis"
	"github.com/gradegate/gradegate/services/qualitygate/notify"
	"github.com/gradegate/gradegate/services/qualitygate/record"
	"github.com/gradegate/gradegate/services/qualitygate/repair"
	"github.com/gradegate/gradegate/services/qualitygate/runner"
	"github.com/gradegate/gradegate/services/qualitygate/storage"
	"github.com/gradegate/gradegate/services/qualitygate/templates"
	"github.com/gradegate/gradegate/services/qualitygate/validator"
)

// Service owns the pipeline components and their shared resources.
//
// Thread Safety: Safe for concurrent use; all mutable state lives in the
// store and the worker pools.
type Service struct {
	cfg    Config
	logger *slog.Logger

	Analyzer     *analysis.Analyzer
	Generator    *templates.Generator
	Applier      templates.BestPracticeApplier
	Validator    *validator.Validator
	Runner       *runner.ParallelValidator
	Orchestrator *repair.Orchestrator
	Store        storage.Store

	validationPool *runner.Pool
	repairPool     *runner.Pool
	metrics        *runner.Metrics
}

// NewService wires the pipeline from configuration.
//
// Inputs:
//
//	cfg - Validated configuration (see LoadConfig).
//	logger - Structured logger. Nil falls back to slog.Default.
//	reg - Prometheus registry. Nil uses the default registerer.
//
// Outputs:
//
//	*Service - Running service. Call Close for graceful shutdown.
//	error - Non-nil if storage cannot open or wiring is invalid.
func NewService(cfg Config, logger *slog.Logger, reg prometheus.Registerer) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var store storage.Store
	var err error
	if cfg.Storage.InMemory {
		store = storage.NewMemoryStore()
	} else {
		store, err = storage.OpenBadger(storage.BadgerConfig{
			Path:       cfg.Storage.Path,
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	metrics := runner.NewMetrics(reg)
	validationPool := runner.NewPool(runner.ValidationPoolConfig(), metrics)
	repairPool := runner.NewPool(runner.RepairPoolConfig(), metrics)

	v := validator.New(validator.Config{PassThreshold: cfg.Validator.PassThreshold})

	parallel, err := runner.NewParallelValidator(runner.ParallelConfig{
		Grader:  v,
		Store:   store,
		Pool:    validationPool,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}

	providers := map[record.RepairStrategy]repair.SuggestionProvider{}
	if cfg.Repair.AI.Enabled {
		providers[record.StrategyAISuggestion] = repair.NewAIProvider(
			cfg.Repair.AI.APIKey, cfg.Repair.AI.Model, rate.Limit(cfg.Repair.AI.RPS))
	}

	orchestrator, err := repair.New(repair.Config{
		Grader:            v,
		Store:             store,
		Notifier:          notifier,
		Logger:            logger,
		Providers:         providers,
		MaxIterations:     cfg.Repair.MaxIterations,
		SuggestionTimeout: cfg.Repair.SuggestionTimeout,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Service{
		cfg:            cfg,
		logger:         logger,
		Analyzer:       analysis.New(analysis.Config{}),
		Generator:      templates.New(templates.Config{}),
		Applier:        templates.HeaderApplier{},
		Validator:      v,
		Runner:         parallel,
		Orchestrator:   orchestrator,
		Store:          store,
		validationPool: validationPool,
		repairPool:     repairPool,
		metrics:        metrics,
	}, nil
}

// ValidationPool returns the pool for grading work.
func (s *Service) ValidationPool() *runner.Pool { return s.validationPool }

// RepairPool returns the pool for repair work.
func (s *Service) RepairPool() *runner.Pool { return s.repairPool }

// Close drains both pools within their configured timeouts, then closes
// storage. Pool timeout errors are logged, not returned: storage must close
// regardless.
func (s *Service) Close() error {
	if err := s.validationPool.Shutdown(); err != nil {
		s.logger.Warn("validation pool shutdown", "error", err.Error())
	}
	if err := s.repairPool.Shutdown(); err != nil {
		s.logger.Warn("repair pool shutdown", "error", err.Error())
	}
	return s.Store.Close()
}
