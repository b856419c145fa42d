// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/Sounder/services/engine/agent"
	"github.com/AleutianAI/Sounder/services/engine/patterns"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// PredictRequest asks which learned patterns likely apply to an
// endpoint the model has not probed.
type PredictRequest struct {
	Endpoint   string   `json:"endpoint"`
	Parameters []string `json:"parameters,omitempty"`
}

// PredictResponse carries the ranked predictions.
type PredictResponse struct {
	Endpoint    string                `json:"endpoint"`
	Predictions []patterns.Prediction `json:"predictions"`
	Count       int                   `json:"count"`
}

// StartRunRequest launches a background learning run.
type StartRunRequest struct {
	Goal string `json:"goal,omitempty"`
}

// RunDetailResponse pairs a run's info with its final result once
// the run has finished.
type RunDetailResponse struct {
	RunInfo
	Result *agent.RunResult `json:"result,omitempty"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "sounder-engine"})
}

// handleModel handles GET /api/v1/model.
//
// Response:
//
//	200 OK: The full model snapshot with its summary.
func (s *Server) handleModel(c *gin.Context) {
	c.JSON(http.StatusOK, s.model.Snapshot())
}

// handlePatterns handles GET /api/v1/patterns.
//
// Response:
//
//	200 OK: The pattern export document with its summary.
func (s *Server) handlePatterns(c *gin.Context) {
	c.JSON(http.StatusOK, s.patterns.Export())
}

// handleEnhancedSpec handles GET /api/v1/spec/enhanced.
//
// Response:
//
//	200 OK: The base spec annotated with publishable learned rules.
func (s *Server) handleEnhancedSpec(c *gin.Context) {
	c.JSON(http.StatusOK, s.model.EnhancedView(s.spec.Spec()))
}

// handlePredict handles POST /api/v1/predict.
//
// Description:
//
//	Scores every discovered pattern against an endpoint the model may
//	never have probed, so clients can anticipate constraints before
//	the first request.
//
// Response:
//
//	200 OK: PredictResponse, possibly with zero predictions.
//	400 Bad Request: Missing or malformed body.
func (s *Server) handlePredict(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID))

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid predict request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Endpoint == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Endpoint is required",
			Code:  "EMPTY_ENDPOINT",
		})
		return
	}

	preds := s.patterns.Predict(req.Endpoint, req.Parameters)
	if preds == nil {
		preds = []patterns.Prediction{}
	}
	if s.metrics != nil {
		s.metrics.PredictionsServed.Add(c.Request.Context(), int64(len(preds)),
			metric.WithAttributes(attribute.String("endpoint", req.Endpoint)))
	}
	logger.Info("predictions served",
		slog.String("endpoint", req.Endpoint),
		slog.Int("count", len(preds)),
	)

	c.JSON(http.StatusOK, PredictResponse{
		Endpoint:    req.Endpoint,
		Predictions: preds,
		Count:       len(preds),
	})
}

// handleListRuns handles GET /api/v1/runs.
func (s *Server) handleListRuns(c *gin.Context) {
	runs := s.hub.List()
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// handleGetRun handles GET /api/v1/runs/:id.
//
// Response:
//
//	200 OK: RunDetailResponse; Result is set once the run finished.
//	404 Not Found: Unknown run ID.
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")
	info, ok := s.hub.Get(runID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, RunDetailResponse{
		RunInfo: info,
		Result:  s.hub.Result(runID),
	})
}

// handleStartRun handles POST /api/v1/runs.
//
// Response:
//
//	202 Accepted: {"run_id": ...}; the run proceeds in the background.
//	400 Bad Request: Malformed body.
//	500 Internal Server Error: The launcher could not start the run.
//	503 Service Unavailable: No launcher is configured.
func (s *Server) handleStartRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID))

	if s.launcher == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Learning runs are not enabled on this server",
			Code:  "RUNS_DISABLED",
		})
		return
	}

	var req StartRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("invalid run request", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	runID, err := s.launcher(c.Request.Context(), req.Goal)
	if err != nil {
		logger.Error("run launch failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to start the learning run",
			Code:  "RUN_LAUNCH_FAILED",
		})
		return
	}

	logger.Info("learning run launched", slog.String("run_id", runID))
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}
