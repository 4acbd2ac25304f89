// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner executes grading work on bounded worker pools and runs
// independent sub-validations concurrently.
//
// Two pools exist in a deployment: a validation pool for fast CPU-bound
// grading and a repair pool for long-running AI-assisted iterations. They
// are separate so repair work can never starve grading requests. Both use
// caller-executes backpressure: when the queue is saturated and the pool is
// at maximum size, Submit runs the task on the submitting goroutine instead
// of dropping it or growing the queue without bound.
package runner

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrPoolClosed marks a submission after shutdown began.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrShutdownTimeout marks a graceful shutdown that ran out of time
	// with tasks still in flight.
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	// Name labels the pool in logs and metrics.
	Name string

	// CoreSize is the number of always-on workers.
	CoreSize int

	// MaxSize caps workers during bursts. Extra workers beyond CoreSize
	// are transient: they exit once the queue drains.
	MaxSize int

	// QueueDepth bounds the pending-task queue.
	QueueDepth int

	// ShutdownTimeout bounds how long Shutdown waits for in-flight tasks.
	ShutdownTimeout time.Duration
}

// ValidationPoolConfig sizes the pool for fast grading work.
func ValidationPoolConfig() PoolConfig {
	return PoolConfig{
		Name:            "validation",
		CoreSize:        3,
		MaxSize:         10,
		QueueDepth:      100,
		ShutdownTimeout: 60 * time.Second,
	}
}

// RepairPoolConfig sizes the pool for long-running repair iterations.
func RepairPoolConfig() PoolConfig {
	return PoolConfig{
		Name:            "repair",
		CoreSize:        2,
		MaxSize:         5,
		QueueDepth:      50,
		ShutdownTimeout: 300 * time.Second,
	}
}

// Pool is a bounded worker pool with caller-executes backpressure.
//
// Thread Safety: Safe for concurrent use.
type Pool struct {
	cfg     PoolConfig
	queue   chan func()
	metrics *Metrics

	mu     sync.RWMutex
	closed bool

	extraMu sync.Mutex
	extra   int

	workers sync.WaitGroup
	tasks   sync.WaitGroup
}

// NewPool starts a pool with cfg.CoreSize resident workers.
//
// Inputs:
//
//	cfg - Pool sizing. Non-positive values fall back to minimal sane
//	defaults (1 core worker, queue depth 1).
//	metrics - Optional instrumentation. Nil disables it.
//
// Outputs:
//
//	*Pool - Running pool. Call Shutdown when done.
func NewPool(cfg PoolConfig, metrics *Metrics) *Pool {
	if cfg.CoreSize <= 0 {
		cfg.CoreSize = 1
	}
	if cfg.MaxSize < cfg.CoreSize {
		cfg.MaxSize = cfg.CoreSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 60 * time.Second
	}

	p := &Pool{
		cfg:     cfg,
		queue:   make(chan func(), cfg.QueueDepth),
		metrics: metrics,
	}
	for i := 0; i < cfg.CoreSize; i++ {
		p.workers.Add(1)
		go p.coreWorker()
	}
	return p
}

// Submit schedules a task. Never drops work: when the queue is full the
// pool grows up to MaxSize, and past that the task runs on the caller's
// goroutine before Submit returns.
//
// Outputs:
//
//	error - ErrPoolClosed after Shutdown has begun; nil otherwise.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}

	p.tasks.Add(1)
	wrapped := func() {
		defer p.tasks.Done()
		start := time.Now()
		task()
		p.metrics.observeTask(p.cfg.Name, time.Since(start))
	}
	p.metrics.incSubmitted(p.cfg.Name)

	select {
	case p.queue <- wrapped:
		p.mu.RUnlock()
		return nil
	default:
	}

	// Queue saturated: grow, or execute on the caller.
	if p.trySpawnExtra(wrapped) {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	p.metrics.incCallerRuns(p.cfg.Name)
	wrapped()
	return nil
}

// trySpawnExtra starts a transient worker seeded with the task. The caller
// still holds the read lock, so shutdown cannot race the workers.Add.
func (p *Pool) trySpawnExtra(task func()) bool {
	p.extraMu.Lock()
	if p.extra+p.cfg.CoreSize >= p.cfg.MaxSize {
		p.extraMu.Unlock()
		return false
	}
	p.extra++
	p.extraMu.Unlock()

	p.workers.Add(1)
	go p.extraWorker(task)
	return true
}

func (p *Pool) coreWorker() {
	defer p.workers.Done()
	for task := range p.queue {
		task()
	}
}

// extraWorker runs its seed task, drains whatever is queued, then exits.
func (p *Pool) extraWorker(seed func()) {
	defer p.workers.Done()
	defer func() {
		p.extraMu.Lock()
		p.extra--
		p.extraMu.Unlock()
	}()

	seed()
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			task()
		default:
			return
		}
	}
}

// Shutdown stops accepting work and waits for in-flight tasks up to the
// configured timeout.
//
// Outputs:
//
//	error - ErrShutdownTimeout if tasks were still running at the
//	deadline; those tasks are abandoned, not interrupted. Nil on a clean
//	drain. Repeated calls return ErrPoolClosed.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.tasks.Wait()
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		return fmt.Errorf("%w after %s (pool %s)", ErrShutdownTimeout, p.cfg.ShutdownTimeout, p.cfg.Name)
	}
}
