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
	"time"
)

// Source labels where a constraint came from.
type Source string

const (
	// SourceLearned marks constraints inferred from probe failures.
	SourceLearned Source = "learned"

	// SourceSeed marks constraints seeded from operator-provided
	// prior knowledge.
	SourceSeed Source = "seed"

	// SourcePredicted marks constraints suggested by pattern
	// extrapolation and not yet validated directly.
	SourcePredicted Source = "predicted"
)

// Constraint is one learned behavior rule for (endpoint, parameter).
//
// Exactly one payload pointer is non-nil and it must match Kind.
// Confidence is always inside [0,1]; validation counters only grow.
type Constraint struct {
	// ID is a stable unique identifier (uuid).
	ID string `json:"id"`

	// Endpoint is the path the rule applies to, e.g. "/api/users".
	Endpoint string `json:"endpoint"`

	// Parameter is the parameter or field the rule governs. Rules that
	// span fields (exclusivity) use a representative name.
	Parameter string `json:"parameter"`

	// Kind selects the payload.
	Kind Kind `json:"kind"`

	// Payloads. Exactly one is set, matching Kind.
	Format           *FormatRule           `json:"format_rule,omitempty"`
	Conditional      *ConditionalRule      `json:"conditional_rule,omitempty"`
	Exclusivity      *ExclusivityRule      `json:"exclusivity_rule,omitempty"`
	FormatDependency *FormatDependencyRule `json:"format_dependency_rule,omitempty"`
	Business         *BusinessRule         `json:"business_rule,omitempty"`
	RateLimit        *RateLimitRule        `json:"rate_limit_rule,omitempty"`
	Value            *ValueRule            `json:"value_rule,omitempty"`

	// Description is a human-readable statement of the rule.
	Description string `json:"description"`

	// Confidence is the current belief in the rule, in [0,1].
	Confidence float64 `json:"confidence"`

	// Source labels the origin of the rule.
	Source Source `json:"source"`

	// CreatedAt is when the rule first entered the model.
	CreatedAt time.Time `json:"created_at"`

	// LastValidated is when the rule last had a validation outcome.
	LastValidated time.Time `json:"last_validated,omitempty"`

	// ValidationAttempts counts recorded outcomes, successes included.
	ValidationAttempts int `json:"validation_attempts"`

	// ValidationSuccesses counts successful outcomes.
	ValidationSuccesses int `json:"validation_successes"`
}

// ErrInvalidConstraint is wrapped by all Validate failures.
var ErrInvalidConstraint = errors.New("invalid constraint")

// Key returns the identity key: endpoint, parameter, kind, and the
// canonical payload signature. Two constraints with the same key are
// the same rule and merge instead of duplicating.
func (c *Constraint) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", c.Endpoint, c.Parameter, c.Kind, signature(c.Kind, c))
}

// Validate checks structural coherence: a known kind, the matching
// payload present, no stray payloads, and payload-specific bounds.
func (c *Constraint) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrInvalidConstraint)
	}
	if c.Parameter == "" {
		return fmt.Errorf("%w: parameter is empty", ErrInvalidConstraint)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConstraint, c.Kind)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidConstraint, c.Confidence)
	}

	if n := c.payloadCount(); n != c.expectedPayloads() {
		return fmt.Errorf("%w: kind %s carries %d payloads, want %d",
			ErrInvalidConstraint, c.Kind, n, c.expectedPayloads())
	}

	switch c.Kind {
	case KindFormatValidation:
		if c.Format == nil || c.Format.Format == "" {
			return fmt.Errorf("%w: format_validation needs a format", ErrInvalidConstraint)
		}
	case KindConditionalRequirement:
		r := c.Conditional
		if r == nil || r.ConditionField == "" || r.RequiredField == "" {
			return fmt.Errorf("%w: conditional_requirement needs condition and required fields", ErrInvalidConstraint)
		}
	case KindMutualExclusivity:
		r := c.Exclusivity
		if r == nil || len(NormalizeExclusivityFields(r.Fields)) < 2 {
			return fmt.Errorf("%w: mutual_exclusivity needs at least two fields", ErrInvalidConstraint)
		}
		if r.MinRequired < 0 || r.MaxAllowed < r.MinRequired {
			return fmt.Errorf("%w: exclusivity cardinality %d..%d is inverted",
				ErrInvalidConstraint, r.MinRequired, r.MaxAllowed)
		}
	case KindFormatDependency:
		r := c.FormatDependency
		if r == nil || r.ConditionField == "" || r.TargetField == "" || r.Format == "" {
			return fmt.Errorf("%w: format_dependency needs condition, target, and format", ErrInvalidConstraint)
		}
	case KindBusinessRule:
		if c.Business == nil || c.Business.RuleType == "" {
			return fmt.Errorf("%w: business_rule needs a rule_type", ErrInvalidConstraint)
		}
	case KindRateLimiting:
		r := c.RateLimit
		if r == nil || r.MaxRequests <= 0 || r.WindowSeconds <= 0 {
			return fmt.Errorf("%w: rate_limiting needs positive max_requests and window_seconds", ErrInvalidConstraint)
		}
	case KindValueConstraint:
		if c.Value == nil || c.Value.Operator == "" {
			return fmt.Errorf("%w: value_constraint needs an operator", ErrInvalidConstraint)
		}
	}

	return nil
}

// payloadCount counts the non-nil payload pointers.
func (c *Constraint) payloadCount() int {
	n := 0
	if c.Format != nil {
		n++
	}
	if c.Conditional != nil {
		n++
	}
	if c.Exclusivity != nil {
		n++
	}
	if c.FormatDependency != nil {
		n++
	}
	if c.Business != nil {
		n++
	}
	if c.RateLimit != nil {
		n++
	}
	if c.Value != nil {
		n++
	}
	return n
}

// expectedPayloads is 0 for required_field and 1 for every other kind.
func (c *Constraint) expectedPayloads() int {
	if c.Kind == KindRequiredField {
		return 0
	}
	return 1
}

// Accuracy returns the historical success rate, or 0 with no attempts.
func (c *Constraint) Accuracy() float64 {
	if c.ValidationAttempts == 0 {
		return 0
	}
	return float64(c.ValidationSuccesses) / float64(c.ValidationAttempts)
}

// Clone returns a deep copy so callers can hand out constraints without
// exposing model internals.
func (c *Constraint) Clone() *Constraint {
	out := *c
	if c.Format != nil {
		f := *c.Format
		out.Format = &f
	}
	if c.Conditional != nil {
		r := *c.Conditional
		out.Conditional = &r
	}
	if c.Exclusivity != nil {
		r := *c.Exclusivity
		r.Fields = append([]string(nil), c.Exclusivity.Fields...)
		out.Exclusivity = &r
	}
	if c.FormatDependency != nil {
		r := *c.FormatDependency
		out.FormatDependency = &r
	}
	if c.Business != nil {
		r := *c.Business
		out.Business = &r
	}
	if c.RateLimit != nil {
		r := *c.RateLimit
		out.RateLimit = &r
	}
	if c.Value != nil {
		r := *c.Value
		out.Value = &r
	}
	return &out
}

// clamp01 pins v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
