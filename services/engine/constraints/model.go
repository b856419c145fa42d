// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constraints

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Sounder/services/engine/confidence"
)

// Evaluator scores a validation outcome into an evolved confidence.
// The default is the confidence evolution tracker; tests may substitute
// a fixed-score fake.
type Evaluator interface {
	// Record appends an outcome to the constraint's history and
	// returns the evolved confidence for the given base.
	Record(constraintID string, base float64, success bool) float64
}

// ErrNotFound is returned by lookups for unknown constraint IDs.
var ErrNotFound = errors.New("constraint not found")

// Model is the identity-keyed constraint store.
//
// Description:
//
//	Holds every learned constraint, keyed by (endpoint, parameter,
//	kind, payload signature). Adding a constraint whose key already
//	exists merges it into the existing record as a validation success
//	instead of creating a duplicate. Validation outcomes route through
//	the Evaluator so confidence evolves with history.
//
// Thread Safety: safe for concurrent use.
type Model struct {
	mu        sync.RWMutex
	byKey     map[string]*Constraint
	byID      map[string]*Constraint
	order     []string // insertion-ordered keys for deterministic listing
	evaluator Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithEvaluator replaces the default confidence evolution tracker.
func WithEvaluator(ev Evaluator) ModelOption {
	return func(m *Model) {
		if ev != nil {
			m.evaluator = ev
		}
	}
}

// WithLogger sets the logger for model events.
func WithLogger(logger *slog.Logger) ModelOption {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// withClock pins time for tests.
func withClock(now func() time.Time) ModelOption {
	return func(m *Model) {
		m.now = now
	}
}

// NewModel creates an empty Model backed by a fresh confidence tracker.
func NewModel(opts ...ModelOption) *Model {
	m := &Model{
		byKey:     make(map[string]*Constraint),
		byID:      make(map[string]*Constraint),
		evaluator: confidence.NewTracker(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// Mutation
// =============================================================================

// Add inserts a candidate constraint or merges it into an existing one.
//
// Description:
//
//	New identity keys insert a fresh record (ID assigned if empty,
//	confidence clamped, created timestamp stamped). A duplicate key is
//	treated as independent confirmation of the existing rule: the
//	existing record takes a validation success and the candidate is
//	discarded. Adding is therefore idempotent with respect to identity.
//
// Inputs:
//
//	cand - The candidate. Must pass Validate().
//
// Outputs:
//
//	*Constraint - Clone of the stored record after the operation.
//	bool - True when the candidate created a new record.
//	error - Non-nil when the candidate is structurally invalid.
func (m *Model) Add(cand *Constraint) (*Constraint, bool, error) {
	if cand == nil {
		return nil, false, fmt.Errorf("%w: nil candidate", ErrInvalidConstraint)
	}
	if err := cand.Validate(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := cand.Key()
	if existing, ok := m.byKey[key]; ok {
		m.recordOutcomeLocked(existing, true)
		m.logger.Debug("constraint merged",
			slog.String("endpoint", existing.Endpoint),
			slog.String("parameter", existing.Parameter),
			slog.String("kind", existing.Kind.String()),
			slog.Float64("confidence", existing.Confidence),
		)
		return existing.Clone(), false, nil
	}

	stored := cand.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Source == "" {
		stored.Source = SourceLearned
	}
	stored.Confidence = clamp01(stored.Confidence)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	if stored.Exclusivity != nil {
		stored.Exclusivity.Fields = NormalizeExclusivityFields(stored.Exclusivity.Fields)
	}

	m.byKey[key] = stored
	m.byID[stored.ID] = stored
	m.order = append(m.order, key)

	m.logger.Info("constraint added",
		slog.String("endpoint", stored.Endpoint),
		slog.String("parameter", stored.Parameter),
		slog.String("kind", stored.Kind.String()),
		slog.Float64("confidence", stored.Confidence),
	)
	return stored.Clone(), true, nil
}

// RecordOutcome applies a validation outcome to a constraint by ID.
//
// The outcome is appended to the constraint's history, confidence is
// re-evaluated through the Evaluator, counters grow, and the
// last-validated timestamp is stamped.
func (m *Model) RecordOutcome(id string, success bool) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.recordOutcomeLocked(c, success)
	return c.Confidence, nil
}

// recordOutcomeLocked mutates the stored record. Caller holds m.mu.
func (m *Model) recordOutcomeLocked(c *Constraint, success bool) {
	c.ValidationAttempts++
	if success {
		c.ValidationSuccesses++
	}
	c.Confidence = clamp01(m.evaluator.Record(c.ID, c.Confidence, success))
	c.LastValidated = m.now()
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a clone of the constraint with the given ID.
func (m *Model) Get(id string) (*Constraint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// All returns clones of every constraint in insertion order.
func (m *Model) All() []*Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Constraint, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byKey[key].Clone())
	}
	return out
}

// Len returns the number of stored constraints.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// ByEndpoint returns clones of constraints on the given endpoint.
func (m *Model) ByEndpoint(endpoint string) []*Constraint {
	return m.filter(func(c *Constraint) bool { return c.Endpoint == endpoint })
}

// ByParameter returns clones of constraints governing the parameter.
func (m *Model) ByParameter(parameter string) []*Constraint {
	return m.filter(func(c *Constraint) bool { return c.Parameter == parameter })
}

// ByKind returns clones of constraints of the given kind.
func (m *Model) ByKind(kind Kind) []*Constraint {
	return m.filter(func(c *Constraint) bool { return c.Kind == kind })
}

// AboveConfidence returns clones of constraints with confidence >= min.
func (m *Model) AboveConfidence(min float64) []*Constraint {
	return m.filter(func(c *Constraint) bool { return c.Confidence >= min })
}

func (m *Model) filter(keep func(*Constraint) bool) []*Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Constraint
	for _, key := range m.order {
		if c := m.byKey[key]; keep(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// =============================================================================
// Snapshot
// =============================================================================

// SnapshotVersion identifies the learned-model document schema.
const SnapshotVersion = "1"

// SnapshotSummary aggregates a snapshot for quick inspection.
type SnapshotSummary struct {
	Total      int          `json:"total_constraints"`
	ByKind     map[Kind]int `json:"by_kind"`
	Endpoints  []string     `json:"endpoints"`
	Parameters []string     `json:"parameters"`
}

// Snapshot is the serializable learned-model document.
type Snapshot struct {
	Version     string          `json:"version"`
	SavedAt     time.Time       `json:"saved_at"`
	Constraints []*Constraint   `json:"constraints"`
	Summary     SnapshotSummary `json:"summary"`
}

// Snapshot captures the current model state as a document.
func (m *Model) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		Version: SnapshotVersion,
		SavedAt: m.now(),
		Summary: SnapshotSummary{
			ByKind: make(map[Kind]int),
		},
	}

	endpoints := make(map[string]bool)
	parameters := make(map[string]bool)
	for _, key := range m.order {
		c := m.byKey[key]
		snap.Constraints = append(snap.Constraints, c.Clone())
		snap.Summary.ByKind[c.Kind]++
		endpoints[c.Endpoint] = true
		parameters[c.Parameter] = true
	}
	snap.Summary.Total = len(snap.Constraints)
	snap.Summary.Endpoints = sortedKeys(endpoints)
	snap.Summary.Parameters = sortedKeys(parameters)
	return snap
}

// Restore replaces the model contents with a snapshot.
//
// Invalid entries are skipped with a warning rather than aborting the
// restore; a snapshot written by a newer schema is rejected.
func (m *Model) Restore(snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %q (want %q)", snap.Version, SnapshotVersion)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byKey = make(map[string]*Constraint, len(snap.Constraints))
	m.byID = make(map[string]*Constraint, len(snap.Constraints))
	m.order = m.order[:0]

	for _, c := range snap.Constraints {
		if c == nil {
			continue
		}
		if err := c.Validate(); err != nil {
			m.logger.Warn("skipping invalid constraint in snapshot",
				slog.String("endpoint", c.Endpoint),
				slog.String("parameter", c.Parameter),
				slog.String("error", err.Error()),
			)
			continue
		}
		stored := c.Clone()
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.Confidence = clamp01(stored.Confidence)
		key := stored.Key()
		if _, dup := m.byKey[key]; dup {
			m.logger.Warn("skipping duplicate constraint in snapshot",
				slog.String("key", key))
			continue
		}
		m.byKey[key] = stored
		m.byID[stored.ID] = stored
		m.order = append(m.order, key)
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
