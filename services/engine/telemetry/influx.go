// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// attemptMeasurement is the time-series name for learning attempts.
const attemptMeasurement = "learning_attempts"

// AttemptPoint is one learning attempt flattened for time-series
// storage.
type AttemptPoint struct {
	RunID          string
	Attempt        int
	Goal           string
	PlanName       string
	Passed         bool
	NewKnowledge   bool
	ConstraintKind string
	Fault          string
	Duration       time.Duration
	At             time.Time
}

// InfluxReporter writes one point per learning attempt to InfluxDB.
//
// Thread Safety: Safe for concurrent use.
type InfluxReporter struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger
}

// InfluxOption configures an InfluxReporter.
type InfluxOption func(*InfluxReporter)

// WithInfluxLogger sets the logger for reporter events.
func WithInfluxLogger(logger *slog.Logger) InfluxOption {
	return func(r *InfluxReporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewInfluxReporter connects to InfluxDB.
func NewInfluxReporter(url, token, org, bucket string, opts ...InfluxOption) (*InfluxReporter, error) {
	if url == "" || token == "" {
		return nil, errors.New("influx url and token are required")
	}
	client := influxdb2.NewClient(url, token)
	r := &InfluxReporter{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Ping checks the server health once.
func (r *InfluxReporter) Ping(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		msg := "unknown"
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx unhealthy: %s", msg)
	}
	return nil
}

// Report writes one attempt point.
func (r *InfluxReporter) Report(ctx context.Context, p AttemptPoint) error {
	outcome := "failed"
	if p.Passed {
		outcome = "passed"
	}
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	point := influxdb2.NewPoint(
		attemptMeasurement,
		map[string]string{
			"run_id":  p.RunID,
			"outcome": outcome,
		},
		map[string]interface{}{
			"attempt":         p.Attempt,
			"goal":            p.Goal,
			"plan":            p.PlanName,
			"new_knowledge":   p.NewKnowledge,
			"constraint_kind": p.ConstraintKind,
			"fault":           p.Fault,
			"duration_ms":     p.Duration.Milliseconds(),
		},
		at,
	)
	if err := r.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write attempt point: %w", err)
	}
	r.logger.Debug("attempt point written",
		slog.String("run_id", p.RunID),
		slog.Int("attempt", p.Attempt),
		slog.String("outcome", outcome),
	)
	return nil
}

// Close flushes and releases the client.
func (r *InfluxReporter) Close() {
	r.client.Close()
}
