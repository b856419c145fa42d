// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns mines the constraint model for rules that recur
// across endpoints and generalizes them into cross-endpoint patterns:
// reusable, scored descriptions of API behavior that predict likely
// constraints on endpoints the engine has not probed yet.
package patterns

import (
	"time"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
)

// =============================================================================
// Scopes and Bands
// =============================================================================

// Scope describes how widely a pattern is expected to apply.
type Scope string

const (
	// ScopeEndpointSpecific applies to a single endpoint.
	ScopeEndpointSpecific Scope = "endpoint_specific"

	// ScopeDomainWide applies across the endpoints of one API domain.
	ScopeDomainWide Scope = "domain_wide"

	// ScopeParameterBased follows a parameter wherever it appears.
	ScopeParameterBased Scope = "parameter_based"

	// ScopeOperationBased follows an HTTP operation type.
	ScopeOperationBased Scope = "operation_based"

	// ScopeGlobal applies system-wide.
	ScopeGlobal Scope = "global"
)

// Band buckets constraints by confidence for grouping.
type Band string

const (
	BandHigh   Band = "high"   // confidence >= 0.9
	BandMedium Band = "medium" // confidence >= 0.7
	BandLow    Band = "low"    // everything else
)

// BandFor returns the confidence band a score falls in.
func BandFor(confidence float64) Band {
	switch {
	case confidence >= 0.9:
		return BandHigh
	case confidence >= 0.7:
		return BandMedium
	default:
		return BandLow
	}
}

// =============================================================================
// Pattern Types
// =============================================================================

// Type names the discovery pass a pattern came from.
type Type string

const (
	// TypeParameterValidation marks a parameter that carries the same
	// constraint kind on multiple endpoints.
	TypeParameterValidation Type = "parameter_validation"

	// TypeMutualExclusivity marks an exclusivity signature recurring
	// across constraints.
	TypeMutualExclusivity Type = "mutual_exclusivity"

	// TypeBusinessRule marks a business rule value recurring across
	// endpoints.
	TypeBusinessRule Type = "business_rule"

	// TypeRateLimiting marks a rate limit shape recurring across
	// endpoints.
	TypeRateLimiting Type = "rate_limiting"
)

// =============================================================================
// Typed Payloads
// =============================================================================

// ParameterPayload is the payload of a parameter-validation pattern.
type ParameterPayload struct {
	// ParameterName is the recurring parameter.
	ParameterName string `json:"parameter_name"`

	// ConstraintKind is the kind every supporting constraint shares.
	ConstraintKind constraints.Kind `json:"constraint_kind"`

	// ConsistencyScore is 1.0 when every occurrence agrees on the kind.
	ConsistencyScore float64 `json:"consistency_score"`
}

// ExclusivityPayload is the payload of a mutual-exclusivity pattern.
type ExclusivityPayload struct {
	// Signature is the canonical fields-plus-cardinality key.
	Signature string `json:"signature"`

	// Fields is the sorted exclusive field set.
	Fields []string `json:"fields"`

	// Occurrences counts the supporting constraints.
	Occurrences int `json:"occurrences"`
}

// BusinessPayload is the payload of a business-rule pattern.
type BusinessPayload struct {
	// RuleType is the shared rule sub-type, e.g. "min_value".
	RuleType string `json:"rule_type"`

	// ValueKey is the shared value-range key, e.g. "min_18".
	ValueKey string `json:"value_key"`

	// Occurrences counts the supporting constraints.
	Occurrences int `json:"occurrences"`
}

// RateLimitPayload is the payload of a rate-limiting pattern.
type RateLimitPayload struct {
	// MaxRequests is the shared request budget.
	MaxRequests int `json:"max_requests"`

	// WindowSeconds is the shared window length.
	WindowSeconds int `json:"window_seconds"`

	// Scope is the shared enforcement scope of the limit itself.
	Scope string `json:"scope"`

	// Occurrences counts the supporting constraints.
	Occurrences int `json:"occurrences"`
}

// =============================================================================
// CrossEndpointPattern
// =============================================================================

// CrossEndpointPattern is one generalization over two or more
// structurally similar constraints.
//
// Description:
//
//	Created only by a discovery pass and never mutated afterwards; a
//	later pass that re-derives the same pattern ID supersedes the
//	stored object wholesale. Exactly one payload pointer is set,
//	matching Type.
type CrossEndpointPattern struct {
	// ID is the deterministic pattern identity derived from its
	// signature.
	ID string `json:"id"`

	// Type names the discovery pass.
	Type Type `json:"type"`

	// Description states the pattern in prose.
	Description string `json:"description"`

	// Scope is the predicted applicability scope.
	Scope Scope `json:"scope"`

	// Confidence scores the pattern. Parameter patterns take the
	// minimum supporting confidence, the other passes take the mean.
	Confidence float64 `json:"confidence"`

	// SupportingConstraints lists the IDs of the contributing
	// constraints.
	SupportingConstraints []string `json:"supporting_constraints"`

	// AffectedEndpoints is the sorted set of endpoints the supporting
	// constraints cover.
	AffectedEndpoints []string `json:"affected_endpoints"`

	// AffectedParameters is the sorted set of parameters the
	// supporting constraints govern.
	AffectedParameters []string `json:"affected_parameters"`

	// Payloads. Exactly one is set, matching Type.
	Parameter   *ParameterPayload   `json:"parameter_payload,omitempty"`
	Exclusivity *ExclusivityPayload `json:"exclusivity_payload,omitempty"`
	Business    *BusinessPayload    `json:"business_payload,omitempty"`
	RateLimit   *RateLimitPayload   `json:"rate_limit_payload,omitempty"`

	// ValidationAttempts counts prediction validations attempted.
	ValidationAttempts int `json:"validation_attempts"`

	// ValidationSuccesses counts prediction validations that held.
	ValidationSuccesses int `json:"validation_successes"`

	// DiscoveredAt is when the pattern was (last) derived.
	DiscoveredAt time.Time `json:"discovered_at"`
}

// SuccessRate returns the validation success rate, 0 with no attempts.
func (p *CrossEndpointPattern) SuccessRate() float64 {
	if p.ValidationAttempts == 0 {
		return 0
	}
	return float64(p.ValidationSuccesses) / float64(p.ValidationAttempts)
}

// Clone returns a deep copy of the pattern.
func (p *CrossEndpointPattern) Clone() *CrossEndpointPattern {
	out := *p
	out.SupportingConstraints = append([]string(nil), p.SupportingConstraints...)
	out.AffectedEndpoints = append([]string(nil), p.AffectedEndpoints...)
	out.AffectedParameters = append([]string(nil), p.AffectedParameters...)
	if p.Parameter != nil {
		v := *p.Parameter
		out.Parameter = &v
	}
	if p.Exclusivity != nil {
		v := *p.Exclusivity
		v.Fields = append([]string(nil), p.Exclusivity.Fields...)
		out.Exclusivity = &v
	}
	if p.Business != nil {
		v := *p.Business
		out.Business = &v
	}
	if p.RateLimit != nil {
		v := *p.RateLimit
		out.RateLimit = &v
	}
	return &out
}
