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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the engine's pre-defined instruments.
//
// All metrics carry the "sounder_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Learning Loop ---

	// AttemptsTotal counts learning attempts by outcome.
	AttemptsTotal metric.Int64Counter

	// AttemptDuration records learning attempt duration in seconds.
	AttemptDuration metric.Float64Histogram

	// ConstraintsLearned counts newly learned constraints by kind.
	ConstraintsLearned metric.Int64Counter

	// --- Oracle ---

	// OracleCallsTotal counts oracle generations by role and status.
	OracleCallsTotal metric.Int64Counter

	// OracleCallDuration records oracle generation duration in seconds.
	OracleCallDuration metric.Float64Histogram

	// --- Analysis ---

	// PatternsDiscovered counts discovered cross-cutting patterns by type.
	PatternsDiscovered metric.Int64Counter

	// PredictionsServed counts served predictions.
	PredictionsServed metric.Int64Counter

	// --- HTTP ---

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Faults ---

	// FaultsTotal counts engine faults by kind.
	FaultsTotal metric.Int64Counter
}

// NewMetrics registers all engine instruments with the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AttemptsTotal, err = meter.Int64Counter(
		"sounder_attempts_total",
		metric.WithDescription("Total learning attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts_total: %w", err)
	}

	m.AttemptDuration, err = meter.Float64Histogram(
		"sounder_attempt_duration_seconds",
		metric.WithDescription("Learning attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempt_duration: %w", err)
	}

	m.ConstraintsLearned, err = meter.Int64Counter(
		"sounder_constraints_learned_total",
		metric.WithDescription("Newly learned constraints"),
		metric.WithUnit("{constraint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create constraints_learned_total: %w", err)
	}

	m.OracleCallsTotal, err = meter.Int64Counter(
		"sounder_oracle_calls_total",
		metric.WithDescription("Total oracle generations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oracle_calls_total: %w", err)
	}

	m.OracleCallDuration, err = meter.Float64Histogram(
		"sounder_oracle_call_duration_seconds",
		metric.WithDescription("Oracle generation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create oracle_call_duration: %w", err)
	}

	m.PatternsDiscovered, err = meter.Int64Counter(
		"sounder_patterns_discovered_total",
		metric.WithDescription("Discovered cross-cutting patterns"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create patterns_discovered_total: %w", err)
	}

	m.PredictionsServed, err = meter.Int64Counter(
		"sounder_predictions_served_total",
		metric.WithDescription("Predictions served for unexplored endpoints"),
		metric.WithUnit("{prediction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create predictions_served_total: %w", err)
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"sounder_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"sounder_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"sounder_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.FaultsTotal, err = meter.Int64Counter(
		"sounder_faults_total",
		metric.WithDescription("Engine faults by kind"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create faults_total: %w", err)
	}

	return m, nil
}
