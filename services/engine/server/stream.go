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
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Sounder/services/engine/agent"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamEvent is one websocket frame on the run stream.
//
// Type "attempt" carries an attempt record; "complete" closes the
// stream with the run's final info.
type StreamEvent struct {
	Type    string               `json:"type"`
	Attempt *agent.AttemptRecord `json:"attempt,omitempty"`
	Run     *RunInfo             `json:"run,omitempty"`
}

// handleRunStream handles GET /api/v1/runs/:id/stream.
//
// Description:
//
//	Upgrades to a websocket, replays the attempts recorded so far,
//	then pushes live events until the run finishes or the client
//	disconnects. The final frame has type "complete".
//
// Response:
//
//	101 Switching Protocols on success.
//	404 Not Found: Unknown run ID.
func (s *Server) handleRunStream(c *gin.Context) {
	runID := c.Param("id")
	history, events, cancel, ok := s.hub.Subscribe(runID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	defer cancel()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer ws.Close()
	s.logger.Info("run stream attached", slog.String("run_id", runID))

	// Detect client disconnects; the stream never expects inbound
	// frames.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for _, rec := range history {
		if err := s.sendEvent(ws, StreamEvent{Type: "attempt", Attempt: &rec}); err != nil {
			return
		}
	}
	for rec := range events {
		if err := s.sendEvent(ws, StreamEvent{Type: "attempt", Attempt: &rec}); err != nil {
			return
		}
	}

	// The channel closed: either the run finished or the client
	// cancelled. Sending the final frame fails harmlessly on the
	// latter.
	if info, found := s.hub.Get(runID); found && info.Status == RunFinished {
		_ = s.sendEvent(ws, StreamEvent{Type: "complete", Run: &info})
	}
	s.logger.Info("run stream closed", slog.String("run_id", runID))
}

func (s *Server) sendEvent(ws *websocket.Conn, ev StreamEvent) error {
	if err := ws.WriteJSON(ev); err != nil {
		s.logger.Warn("failed to write stream event", slog.String("error", err.Error()))
		return err
	}
	return nil
}
