// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gradegate/gradegate/pkg/logging"
	"github.com/gradegate/gradegate/services/qualitygate"
)

var (
	serveConfigPath string
	serveDebug      bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the GradeGate API server",
		Long: `Starts the HTTP API serving grading, template synthesis, complexity
analysis, and auto-repair endpoints. Shuts down gracefully on SIGINT/SIGTERM,
draining the worker pools before closing storage.`,
		RunE: runServeCommand,
	}
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML config file (defaults apply when omitted)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging and Gin debug mode")
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := qualitygate.LoadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:   parseLogLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "qualitygate",
		JSON:    cfg.Log.JSON,
	}
	if serveDebug {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	if !serveDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := qualitygate.RegisterValidations(); err != nil {
		return fmt.Errorf("registering request validations: %w", err)
	}

	svc, err := qualitygate.NewService(cfg, logger.Logger, nil)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	handlers := qualitygate.NewHandlers(svc)
	router := gin.New()
	router.Use(gin.Recovery())
	qualitygate.RegisterRoutes(router.Group("/api/v1"), handlers)
	qualitygate.RegisterOpsRoutes(router, handlers, nil)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		svc.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	if err := svc.Close(); err != nil {
		logger.Warn("service close", "error", err.Error())
	}
	return nil
}

func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
