// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the error taxonomy for the constraint engine.
//
// Every failure that crosses a component boundary is classified by Kind
// so the learning loop can apply a uniform recovery policy:
//
//   - oracle_failure: skip the attempt, keep looping
//   - execution_failure: the attempt counts as failed, keep looping
//   - malformed_candidate: discard the candidate, log, keep looping
//   - spec_defect: repair the spec or fall back to the minimal default
//   - storage_failure: log, keep looping (snapshots retried next attempt)
//   - configuration: refuse to start
//   - critical: halt the loop; summary and snapshots are still written
//
// A Collector aggregates classified errors for the final run summary.
package faults

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// Severity
// =============================================================================

// Severity ranks how badly a fault affects the run.
type Severity string

const (
	// SeverityLow faults are routine and expected during probing.
	SeverityLow Severity = "low"

	// SeverityMedium faults degrade a single attempt.
	SeverityMedium Severity = "medium"

	// SeverityHigh faults degrade the whole run but allow it to finish.
	SeverityHigh Severity = "high"

	// SeverityCritical faults halt the run.
	SeverityCritical Severity = "critical"
)

// =============================================================================
// Kind
// =============================================================================

// Kind classifies a fault by its origin and recovery policy.
type Kind string

const (
	// KindOracleFailure covers oracle timeouts, connection errors, and
	// empty generations from either the scribe or interpreter role.
	KindOracleFailure Kind = "oracle_failure"

	// KindExecutionFailure covers probe transport errors and execution
	// timeouts. The attempt is recorded as failed.
	KindExecutionFailure Kind = "execution_failure"

	// KindMalformedCandidate covers candidate constraints that fail
	// shape validation after interpretation.
	KindMalformedCandidate Kind = "malformed_candidate"

	// KindSpecDefect covers structural problems in the loaded API
	// description (missing endpoint list, malformed parameter entries).
	KindSpecDefect Kind = "spec_defect"

	// KindStorageFailure covers journal and snapshot write errors.
	KindStorageFailure Kind = "storage_failure"

	// KindConfiguration covers invalid engine configuration.
	KindConfiguration Kind = "configuration"

	// KindCritical covers unrecoverable internal errors.
	KindCritical Kind = "critical"
)

// DefaultSeverity returns the severity a bare Kind maps to.
func (k Kind) DefaultSeverity() Severity {
	switch k {
	case KindOracleFailure, KindExecutionFailure:
		return SeverityMedium
	case KindMalformedCandidate:
		return SeverityLow
	case KindSpecDefect, KindStorageFailure:
		return SeverityHigh
	case KindConfiguration, KindCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Recoverable reports whether the loop continues after a fault of this
// kind.
func (k Kind) Recoverable() bool {
	switch k {
	case KindConfiguration, KindCritical:
		return false
	default:
		return true
	}
}

// =============================================================================
// EngineError
// =============================================================================

// EngineError is a classified fault. It wraps the underlying cause so
// errors.Is and errors.As keep working through the taxonomy.
type EngineError struct {
	// Kind classifies the fault.
	Kind Kind `json:"kind"`

	// Severity ranks the fault. Defaults to Kind.DefaultSeverity().
	Severity Severity `json:"severity"`

	// Op names the operation that failed, e.g. "scribe.synthesize".
	Op string `json:"op"`

	// Err is the underlying cause. May be nil for policy-only faults.
	Err error `json:"-"`

	// At is when the fault was recorded.
	At time.Time `json:"at"`
}

// New creates an EngineError with the kind's default severity.
func New(kind Kind, op string, err error) *EngineError {
	return &EngineError{
		Kind:     kind,
		Severity: kind.DefaultSeverity(),
		Op:       op,
		Err:      err,
		At:       time.Now(),
	}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the loop continues after this fault.
func (e *EngineError) Recoverable() bool {
	if e.Severity == SeverityCritical {
		return false
	}
	return e.Kind.Recoverable()
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// report KindCritical with ok=false.
func KindOf(err error) (Kind, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return KindCritical, false
}

// =============================================================================
// Collector
// =============================================================================

// recordedFault is one classified entry kept for the summary.
type recordedFault struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Op       string   `json:"op"`
	Message  string   `json:"message"`
	At       string   `json:"at"`
}

// Stats summarizes the faults seen during a run.
type Stats struct {
	Total      int              `json:"total"`
	ByKind     map[Kind]int     `json:"by_kind"`
	BySeverity map[Severity]int `json:"by_severity"`
	Recent     []recordedFault  `json:"recent"`
}

// Collector aggregates faults for the final run summary.
//
// Thread Safety: safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	byKind     map[Kind]int
	bySeverity map[Severity]int
	recent     []recordedFault
	total      int
}

// recentLimit bounds the rolling window in Stats.Recent.
const recentLimit = 10

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		byKind:     make(map[Kind]int),
		bySeverity: make(map[Severity]int),
	}
}

// Record classifies and counts an error. Non-EngineError values are
// counted as critical so they cannot vanish from the summary.
func (c *Collector) Record(err error) {
	if err == nil {
		return
	}

	kind := KindCritical
	severity := SeverityCritical
	op := ""
	var ee *EngineError
	if errors.As(err, &ee) {
		kind = ee.Kind
		severity = ee.Severity
		op = ee.Op
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.byKind[kind]++
	c.bySeverity[severity]++
	c.recent = append(c.recent, recordedFault{
		Kind:     kind,
		Severity: severity,
		Op:       op,
		Message:  err.Error(),
		At:       time.Now().Format(time.RFC3339),
	})
	if len(c.recent) > recentLimit {
		c.recent = c.recent[len(c.recent)-recentLimit:]
	}
}

// Stats returns a copy of the aggregated fault counts.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Total:      c.total,
		ByKind:     make(map[Kind]int, len(c.byKind)),
		BySeverity: make(map[Severity]int, len(c.bySeverity)),
		Recent:     make([]recordedFault, len(c.recent)),
	}
	for k, v := range c.byKind {
		stats.ByKind[k] = v
	}
	for s, v := range c.bySeverity {
		stats.BySeverity[s] = v
	}
	copy(stats.Recent, c.recent)
	return stats
}
