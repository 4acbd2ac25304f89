// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package qualitygate

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	govalidator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gradegate/gradegate/pkg/rules"
)

// RegisterValidations installs the custom request-binding rules on Gin's
// shared validator engine. Call once before serving.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("ruletype", func(fl govalidator.FieldLevel) bool {
		_, err := rules.ParseRuleType(fl.Field().String())
		return err == nil
	})
}

// RegisterRoutes registers all quality-gate routes with the router.
//
// Description:
//
//	Registers all /api/v1/* endpoints with the given Gin router group. The
//	router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /api/v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /api/v1/analyze/complexity - Score implementation complexity
//	POST /api/v1/templates/generate - Synthesize rule-driven code
//	POST /api/v1/grade - Run one quality-gate grading pass
//	POST /api/v1/grade/full - Run all sub-validations concurrently
//	POST /api/v1/repair - Run the bounded repair loop
//	GET  /api/v1/validations/:id - Fetch a stored validation result
//	GET  /api/v1/repairs/:id - Fetch a stored repair record
//
// Example:
//
//	svc, _ := qualitygate.NewService(cfg, logger, nil)
//	handlers := qualitygate.NewHandlers(svc)
//
//	v1 := router.Group("/api/v1")
//	qualitygate.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	// Analysis and synthesis
	rg.POST("/analyze/complexity", handlers.HandleAnalyzeComplexity)
	rg.POST("/templates/generate", handlers.HandleGenerateTemplate)

	// Grading
	rg.POST("/grade", handlers.HandleGrade)
	rg.POST("/grade/full", handlers.HandleGradeFull)

	// Repair
	rg.POST("/repair", handlers.HandleRepair)

	// Stored results
	rg.GET("/validations/:id", handlers.HandleGetValidation)
	rg.GET("/repairs/:id", handlers.HandleGetRepair)
}

// RegisterOpsRoutes registers health and metrics endpoints at the router
// root, outside the versioned API group.
//
// Endpoints:
//
//	GET /healthz - Liveness check
//	GET /metrics - Prometheus metrics
func RegisterOpsRoutes(router *gin.Engine, handlers *Handlers, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
