// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package constraints implements the learned constraint model: a closed
// eight-kind taxonomy of API behavior rules, an identity-keyed store
// with merge-on-duplicate semantics, and the enhanced spec view that
// publishes high-confidence rules as x-learned-rules annotations.
package constraints

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Kind Taxonomy
// =============================================================================

// Kind identifies which behavior rule a constraint expresses. The set
// is closed: every constraint carries exactly one kind and exactly one
// matching payload.
type Kind string

const (
	// KindRequiredField marks a parameter the endpoint rejects requests
	// without. No payload beyond the parameter identity.
	KindRequiredField Kind = "required_field"

	// KindFormatValidation requires a parameter value to match a named
	// format (email, uuid, date-time) or a regular expression.
	KindFormatValidation Kind = "format_validation"

	// KindConditionalRequirement requires a field only when a condition
	// on another field holds (email required when account_type=premium).
	KindConditionalRequirement Kind = "conditional_requirement"

	// KindMutualExclusivity bounds how many of a field set may appear
	// together (exactly one of email/phone).
	KindMutualExclusivity Kind = "mutual_exclusivity"

	// KindFormatDependency requires a format on a target field when a
	// condition field has a given value (email format when
	// contact_type=email).
	KindFormatDependency Kind = "format_dependency"

	// KindBusinessRule captures domain logic such as minimum values or
	// allowed value sets (age >= 18).
	KindBusinessRule Kind = "business_rule"

	// KindRateLimiting captures request-count limits over a time window
	// and their scope.
	KindRateLimiting Kind = "rate_limiting"

	// KindValueConstraint restricts the value of a single parameter by
	// a comparison operator.
	KindValueConstraint Kind = "value_constraint"
)

// AllKinds returns every kind in the taxonomy in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindRequiredField,
		KindFormatValidation,
		KindConditionalRequirement,
		KindMutualExclusivity,
		KindFormatDependency,
		KindBusinessRule,
		KindRateLimiting,
		KindValueConstraint,
	}
}

// Valid reports whether k is a member of the taxonomy.
func (k Kind) Valid() bool {
	switch k {
	case KindRequiredField, KindFormatValidation, KindConditionalRequirement,
		KindMutualExclusivity, KindFormatDependency, KindBusinessRule,
		KindRateLimiting, KindValueConstraint:
		return true
	default:
		return false
	}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// =============================================================================
// Kind Payloads
// =============================================================================

// FormatRule is the payload for KindFormatValidation.
type FormatRule struct {
	// Format names a registered format ("email", "uuid", "date-time")
	// or holds a regular expression prefixed with "regex:".
	Format string `json:"format"`
}

// ConditionalRule is the payload for KindConditionalRequirement.
type ConditionalRule struct {
	// ConditionField is the field the condition inspects.
	ConditionField string `json:"condition_field"`

	// ConditionOperator compares the condition field to ConditionValue.
	// One of "equals", "not_equals", "in".
	ConditionOperator string `json:"condition_operator"`

	// ConditionValue is the value the condition compares against.
	ConditionValue any `json:"condition_value"`

	// RequiredField is the field that becomes required when the
	// condition holds.
	RequiredField string `json:"required_field"`

	// RequiredValue optionally pins the required field to a value.
	RequiredValue any `json:"required_value,omitempty"`
}

// ExclusivityRule is the payload for KindMutualExclusivity.
type ExclusivityRule struct {
	// Fields is the exclusive field set, always stored sorted.
	Fields []string `json:"fields"`

	// MinRequired is the minimum number of fields that must appear.
	MinRequired int `json:"min_required"`

	// MaxAllowed is the maximum number of fields that may appear.
	MaxAllowed int `json:"max_allowed"`
}

// FormatDependencyRule is the payload for KindFormatDependency.
type FormatDependencyRule struct {
	// ConditionField is the field that triggers the dependency.
	ConditionField string `json:"condition_field"`

	// ConditionValue is the trigger value.
	ConditionValue any `json:"condition_value"`

	// TargetField is the field whose format becomes constrained.
	TargetField string `json:"target_field"`

	// Format is the required format of the target field.
	Format string `json:"format"`
}

// BusinessRule is the payload for KindBusinessRule.
type BusinessRule struct {
	// RuleType names the rule sub-type: "min_value", "max_value",
	// "allowed_values", or a free-form domain label.
	RuleType string `json:"rule_type"`

	// Value is the constraint value for the sub-type.
	Value any `json:"value"`
}

// RateLimitRule is the payload for KindRateLimiting.
type RateLimitRule struct {
	// MaxRequests is the request budget inside the window.
	MaxRequests int `json:"max_requests"`

	// WindowSeconds is the window length in seconds.
	WindowSeconds int `json:"window_seconds"`

	// Scope is "global", "per_endpoint", or "per_client".
	Scope string `json:"scope"`
}

// ValueRule is the payload for KindValueConstraint.
type ValueRule struct {
	// Operator is one of "gte", "gt", "lte", "lt", "eq", "neq".
	Operator string `json:"operator"`

	// Value is the comparison operand.
	Value any `json:"value"`
}

// NormalizeExclusivityFields sorts and de-duplicates an exclusivity
// field set so structurally equal rules share a signature.
func NormalizeExclusivityFields(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Structural Signatures
// =============================================================================

// signature canonicalizes a payload so structurally identical rules
// collide on the identity key. The empty string is the signature of a
// payload-free kind.
func signature(kind Kind, c *Constraint) string {
	switch kind {
	case KindRequiredField:
		return ""
	case KindFormatValidation:
		if c.Format == nil {
			return ""
		}
		return c.Format.Format
	case KindConditionalRequirement:
		if c.Conditional == nil {
			return ""
		}
		r := c.Conditional
		return strings.Join([]string{
			r.ConditionField, r.ConditionOperator, scalar(r.ConditionValue),
			r.RequiredField, scalar(r.RequiredValue),
		}, "|")
	case KindMutualExclusivity:
		if c.Exclusivity == nil {
			return ""
		}
		r := c.Exclusivity
		return fmt.Sprintf("%s|%d|%d",
			strings.Join(NormalizeExclusivityFields(r.Fields), ","),
			r.MinRequired, r.MaxAllowed)
	case KindFormatDependency:
		if c.FormatDependency == nil {
			return ""
		}
		r := c.FormatDependency
		return strings.Join([]string{
			r.ConditionField, scalar(r.ConditionValue), r.TargetField, r.Format,
		}, "|")
	case KindBusinessRule:
		if c.Business == nil {
			return ""
		}
		return c.Business.RuleType + "|" + scalar(c.Business.Value)
	case KindRateLimiting:
		if c.RateLimit == nil {
			return ""
		}
		r := c.RateLimit
		return fmt.Sprintf("%d|%d|%s", r.MaxRequests, r.WindowSeconds, r.Scope)
	case KindValueConstraint:
		if c.Value == nil {
			return ""
		}
		return c.Value.Operator + "|" + scalar(c.Value.Value)
	default:
		return ""
	}
}

// scalar renders a payload value deterministically. JSON numbers decode
// as float64; integral floats print without the fraction so 18 and
// 18.0 share a signature.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = scalar(e)
		}
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	case []string:
		parts := append([]string(nil), t...)
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
