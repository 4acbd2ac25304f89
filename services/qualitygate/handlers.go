// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package qualitygate

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gradegate/gradegate/pkg/rules"
	"github.com/gradegate/gradegate/pkg/schema"
	"github.com/gradegate/gradegate/services/qualitygate/record"
	"github.com/gradegate/gradegate/services/qualitygate/repair"
	"github.com/gradegate/gradegate/services/qualitygate/runner"
	"github.com/gradegate/gradegate/services/qualitygate/storage"
)

// Handlers exposes the pipeline over HTTP.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set for a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// =============================================================================
// Request/response DTOs
// =============================================================================

type analyzeRequest struct {
	MethodName  string         `json:"method_name"`
	Entity      *schema.Entity `json:"entity"`
	Requirement string         `json:"requirement"`
}

type ruleDTO struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type" binding:"required,ruletype"`
	Entity      string `json:"entity"`
	Method      string `json:"method"`
	Logic       string `json:"logic"`
	Priority    int    `json:"priority"`
}

type generateRequest struct {
	Rules              []ruleDTO      `json:"rules" binding:"omitempty,dive"`
	Entity             *schema.Entity `json:"entity"`
	MethodName         string         `json:"method_name"`
	ApplyBestPractices bool           `json:"apply_best_practices"`
}

type gradeRequest struct {
	TargetID   string         `json:"target_id" binding:"required"`
	Code       string         `json:"code"`
	Entity     *schema.Entity `json:"entity"`
	MethodName string         `json:"method_name"`
}

type repairRequest struct {
	TargetID           string         `json:"target_id" binding:"required"`
	ValidationResultID string         `json:"validation_result_id" binding:"required"`
	Code               string         `json:"code"`
	Entity             *schema.Entity `json:"entity"`
	MethodName         string         `json:"method_name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Handlers
// =============================================================================

// HandleAnalyzeComplexity scores implementation complexity.
//
// POST /api/v1/analyze/complexity
func (h *Handlers) HandleAnalyzeComplexity(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.svc.Analyzer.Analyze(req.MethodName, req.Entity, req.Requirement))
}

// HandleGenerateTemplate synthesizes a rule-driven code block. Input errors
// surface in the result body (success=false with a message naming the
// missing field), not as HTTP errors: a null entity is a domain outcome.
//
// POST /api/v1/templates/generate
func (h *Handlers) HandleGenerateTemplate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ruleSet := make([]rules.BusinessRule, 0, len(req.Rules))
	for _, r := range req.Rules {
		ruleSet = append(ruleSet, rules.BusinessRule{
			Name:        r.Name,
			Description: r.Description,
			Type:        rules.RuleType(r.Type),
			Entity:      r.Entity,
			Method:      r.Method,
			Logic:       r.Logic,
			Priority:    r.Priority,
		})
	}

	res := h.svc.Generator.Generate(ruleSet, req.Entity, req.MethodName)
	if res.Success && req.ApplyBestPractices {
		res.Code, _ = h.svc.Applier.Apply(res.Code, req.Entity, req.MethodName)
	}
	c.JSON(http.StatusOK, res)
}

// HandleGrade runs one quality-gate grading pass on the validation pool and
// persists the result.
//
// POST /api/v1/grade
func (h *Handlers) HandleGrade(c *gin.Context) {
	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	vr := record.NewValidationResult(req.TargetID, record.ValidationQualityGate)
	runOnPool(h.svc.ValidationPool(), func() {
		report := h.svc.Validator.Grade(req.Code, req.Entity, req.MethodName)
		if err := vr.Complete(report.QualityScore, report.Success, report.Issues); err != nil {
			h.svc.logger.Error("sealing grade result", "target_id", req.TargetID, "error", err.Error())
		}
	})

	if err := h.svc.Store.SaveValidation(c.Request.Context(), vr); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, vr)
}

// HandleGradeFull fans all sub-validations out concurrently and returns the
// AND aggregate with the per-stage results.
//
// POST /api/v1/grade/full
func (h *Handlers) HandleGradeFull(c *gin.Context) {
	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	aggregate, subs, err := h.svc.Runner.Run(c.Request.Context(), req.TargetID, req.Code, req.Entity, req.MethodName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregate":   aggregate,
		"sub_results": subs,
	})
}

// HandleRepair runs the bounded repair loop on the repair pool. Retrying a
// finished repair returns the stored terminal outcome.
//
// POST /api/v1/repair
func (h *Handlers) HandleRepair(c *gin.Context) {
	var req repairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var res repair.Result
	var repairErr error
	runOnPool(h.svc.RepairPool(), func() {
		res, repairErr = h.svc.Orchestrator.Repair(c.Request.Context(),
			req.TargetID, req.ValidationResultID, req.Code, req.Entity, req.MethodName)
	})
	if repairErr != nil {
		respondError(c, repairErr)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleGetValidation fetches a stored validation result.
//
// GET /api/v1/validations/:id
func (h *Handlers) HandleGetValidation(c *gin.Context) {
	vr, err := h.svc.Store.GetValidation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, vr)
}

// HandleGetRepair fetches a stored repair record.
//
// GET /api/v1/repairs/:id
func (h *Handlers) HandleGetRepair(c *gin.Context) {
	rr, err := h.svc.Store.GetRepair(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rr)
}

// HandleHealth reports liveness.
//
// GET /healthz
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Helpers
// =============================================================================

// runOnPool executes fn on the pool and waits for it. A closed pool (mid
// shutdown) falls back to inline execution so in-flight requests still get
// answers.
func runOnPool(pool *runner.Pool, fn func()) {
	done := make(chan struct{})
	if err := pool.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		fn()
		return
	}
	<-done
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, record.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, repair.ErrRepairInProgress):
		status = http.StatusConflict
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
