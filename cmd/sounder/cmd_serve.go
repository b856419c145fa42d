// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/Sounder/pkg/logging"
	"github.com/AleutianAI/Sounder/pkg/ux"
	"github.com/AleutianAI/Sounder/services/engine/agent"
	"github.com/AleutianAI/Sounder/services/engine/config"
	"github.com/AleutianAI/Sounder/services/engine/server"
	"github.com/AleutianAI/Sounder/services/engine/telemetry"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServeCommand starts the knowledge API and blocks until shutdown.
func runServeCommand(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if err := serveEngine(cfg); err != nil {
		ux.Error(fmt.Sprintf("Server failed: %v", err))
		os.Exit(1)
	}
}

// serveEngine wires telemetry, the collaborator set, and the HTTP
// server, then serves until the context is cancelled. Returning
// instead of exiting keeps the deferred cleanup (journal close,
// telemetry flush) on every path.
func serveEngine(cfg *config.Config) error {
	gin.SetMode(gin.ReleaseMode)

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  engineLogDir(cfg),
		Service: "engine",
		JSON:    true,
	})
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "sounder-engine"
	telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tel, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slogger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("sounder.engine"))
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	deps, err := agent.BuildDependencies(ctx, cfg, "serve-"+uuid.NewString()[:8], slogger)
	if err != nil {
		return err
	}
	defer deps.Close()
	deps.Metrics = metrics

	hub := server.NewHub()
	srv, err := server.New(deps.Model, deps.Patterns, deps.Spec,
		server.WithLogger(slogger),
		server.WithHub(hub),
		server.WithLauncher(newRunLauncher(ctx, cfg, deps, hub, slogger)),
		server.WithMetrics(metrics),
		server.WithScrapeHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slogger.Info("starting knowledge API",
		slog.String("address", addr),
		slog.Int("constraints", deps.Model.Len()),
		slog.Int("patterns", deps.Patterns.Len()),
	)
	return srv.Run(ctx, addr)
}

// newRunLauncher starts learning runs on demand, one at a time. The
// run uses the server's root context, not the launching request's, so
// it survives the request and stops with the server.
func newRunLauncher(ctx context.Context, cfg *config.Config, deps *agent.Dependencies, hub *server.Hub, logger *slog.Logger) server.Launcher {
	var active atomic.Bool
	return func(_ context.Context, goal string) (string, error) {
		if !active.CompareAndSwap(false, true) {
			return "", fmt.Errorf("a learning run is already active")
		}

		// The handle is assigned before the loop goroutine starts, and
		// the callback only fires from inside ctrl.Run.
		runID := uuid.NewString()
		var handle *server.RunHandle
		ctrl, err := agent.NewController(*deps, agent.Config{
			RunID:             runID,
			Goal:              goal,
			AttemptBudget:     cfg.Learning.AttemptBudget,
			ConvergenceWindow: cfg.Learning.ConvergenceWindow,
		}, agent.WithOnAttempt(func(rec agent.AttemptRecord) {
			handle.Emit(rec)
		}))
		if err != nil {
			active.Store(false)
			return "", err
		}
		handle = hub.Register(runID, goal)

		go func() {
			defer active.Store(false)
			res, runErr := ctrl.Run(ctx)
			if runErr != nil {
				logger.Error("learning run failed",
					slog.String("run_id", runID),
					slog.String("error", runErr.Error()),
				)
			}
			if res == nil {
				res = &agent.RunResult{RunID: runID, Goal: goal}
			}
			handle.Finish(res)
		}()
		return runID, nil
	}
}
