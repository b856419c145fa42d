// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reef is the practice API the learning engine probes.
//
// Description:
//
//	A small user/order/product/profile API whose validation rules go
//	beyond what its spec admits: conditional requirements, mutually
//	exclusive fields, format dependencies, value floors, and rate
//	limits all hide behind plain 4xx responses. Error bodies name
//	only the violated rule, exactly the evidence the engine's
//	interpreter works from. The tunable half of the rules loads from
//	a YAML fixture with hot reload, so scenarios can shift while a
//	learner is mid-run.
package reef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 5 * time.Second

// Server is the practice API.
//
// Thread Safety: Server is safe for concurrent use once constructed.
type Server struct {
	rules    *Rules
	limiters *limiterSet
	metrics  *metrics
	logger   *slog.Logger
	router   *gin.Engine
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger replaces the default logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer builds the practice API around a rule store.
//
// Inputs:
//
//	rules - The live rule store. Nil gets a store with the default
//	scenario.
func NewServer(rules *Rules, opts ...ServerOption) *Server {
	s := &Server{
		rules:   rules,
		metrics: newMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		s.rules = NewRules(WithRulesLogger(s.logger))
	}
	s.limiters = newLimiterSet(s.rules.Snapshot())

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestID())
	s.routes()
	return s
}

// ApplyRules rebuilds the rate limiters from a rule set. Wire it to
// the rule store's reload hook.
func (s *Server) ApplyRules(set RuleSet) {
	s.limiters.apply(set)
	s.logger.Info("rate limiters rebuilt",
		slog.Int("users_max", set.Users.RateLimit.MaxRequests),
		slog.Int("orders_max", set.Orders.RateLimit.MaxRequests),
	)
}

// Router returns the underlying gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "reef"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.handler()))

	api := s.router.Group("/api")
	{
		api.POST("/users", s.createUser)
		api.POST("/orders", s.createOrder)
		api.POST("/products", s.createProduct)
		api.POST("/profiles", s.createProfile)
	}
}

// requestID propagates or mints an X-Request-ID per request.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// Run serves the API until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("reef listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("reef server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}
