// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the learned constraint model over HTTP.
//
// The API serves the current model, discovered patterns, the enhanced
// spec, and pattern-based predictions, and streams live attempt
// events over websockets. It reads the same model and pattern engine
// the learning loop writes, so responses always reflect the latest
// completed attempt.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Sounder/services/engine/agent"
	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/patterns"
	"github.com/AleutianAI/Sounder/services/engine/telemetry"
)

const shutdownGrace = 10 * time.Second

// Launcher starts a learning run in the background and returns its
// run ID. The serve command provides one wired to the agent loop;
// without it POST /api/v1/runs is disabled.
type Launcher func(ctx context.Context, goal string) (string, error)

// Server is the engine's HTTP API.
//
// Description:
//
//	Wraps a gin engine with the model, pattern, spec, prediction,
//	and run-stream endpoints plus health and metrics. Construction
//	wires the routes; Run starts the listener and drains it when the
//	context is cancelled.
//
// Thread Safety: Server is safe for concurrent use once constructed.
type Server struct {
	model    *constraints.Model
	patterns *patterns.Engine
	spec     agent.SpecProvider
	hub      *Hub
	launcher Launcher
	metrics  *telemetry.Metrics
	scrape   http.Handler
	logger   *slog.Logger
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHub attaches a run hub for the stream endpoints.
func WithHub(hub *Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithLauncher enables POST /api/v1/runs.
func WithLauncher(launcher Launcher) Option {
	return func(s *Server) {
		s.launcher = launcher
	}
}

// WithMetrics attaches request instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithScrapeHandler mounts a Prometheus handler at /metrics.
func WithScrapeHandler(h http.Handler) Option {
	return func(s *Server) {
		s.scrape = h
	}
}

// New builds the API server and wires its routes.
//
// Inputs:
//
//	model - The constraint model to serve. Must not be nil.
//	engine - The pattern engine for patterns and predictions. Must
//	not be nil.
//	spec - Provider of the base spec for enhanced rendering. Must
//	not be nil.
func New(model *constraints.Model, engine *patterns.Engine, spec agent.SpecProvider, opts ...Option) (*Server, error) {
	switch {
	case model == nil:
		return nil, fmt.Errorf("server: constraint model is required")
	case engine == nil:
		return nil, fmt.Errorf("server: pattern engine is required")
	case spec == nil:
		return nil, fmt.Errorf("server: spec provider is required")
	}

	s := &Server{
		model:    model,
		patterns: engine,
		spec:     spec,
		hub:      NewHub(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("sounder-engine"))
	s.router.Use(requestIDMiddleware())
	s.router.Use(metricsMiddleware(s.metrics))
	s.routes()
	return s, nil
}

// Router returns the underlying gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the run hub so the serve command can register runs.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	if s.scrape != nil {
		s.router.GET("/metrics", gin.WrapH(s.scrape))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/model", s.handleModel)
		v1.GET("/patterns", s.handlePatterns)
		v1.GET("/spec/enhanced", s.handleEnhancedSpec)
		v1.POST("/predict", s.handlePredict)

		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.POST("", s.handleStartRun)
			runs.GET("/:id", s.handleGetRun)
			runs.GET("/:id/stream", s.handleRunStream)
		}
	}
}

// Run serves the API until the context is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("engine API listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("engine API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("engine API draining")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}
