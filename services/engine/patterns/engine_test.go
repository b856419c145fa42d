// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"testing"
	"time"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
)

func formatConstraint(id, endpoint, parameter, format string, confidence float64) *constraints.Constraint {
	return &constraints.Constraint{
		ID:         id,
		Endpoint:   endpoint,
		Parameter:  parameter,
		Kind:       constraints.KindFormatValidation,
		Format:     &constraints.FormatRule{Format: format},
		Confidence: confidence,
	}
}

func exclusivityConstraint(id, endpoint string, fields []string, confidence float64) *constraints.Constraint {
	return &constraints.Constraint{
		ID:          id,
		Endpoint:    endpoint,
		Parameter:   fields[0],
		Kind:        constraints.KindMutualExclusivity,
		Exclusivity: &constraints.ExclusivityRule{Fields: fields, MinRequired: 1, MaxAllowed: 1},
		Confidence:  confidence,
	}
}

func businessConstraint(id, endpoint, parameter, ruleType string, value any, confidence float64) *constraints.Constraint {
	return &constraints.Constraint{
		ID:         id,
		Endpoint:   endpoint,
		Parameter:  parameter,
		Kind:       constraints.KindBusinessRule,
		Business:   &constraints.BusinessRule{RuleType: ruleType, Value: value},
		Confidence: confidence,
	}
}

func rateConstraint(id, endpoint string, max, window int, scope string, confidence float64) *constraints.Constraint {
	return &constraints.Constraint{
		ID:         id,
		Endpoint:   endpoint,
		Parameter:  "requests",
		Kind:       constraints.KindRateLimiting,
		RateLimit:  &constraints.RateLimitRule{MaxRequests: max, WindowSeconds: window, Scope: scope},
		Confidence: confidence,
	}
}

func ofType(found []*CrossEndpointPattern, t Type) []*CrossEndpointPattern {
	var out []*CrossEndpointPattern
	for _, p := range found {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func TestDiscover_ParameterPatternUsesMinimumConfidence(t *testing.T) {
	e := NewEngine()
	found := e.Discover([]*constraints.Constraint{
		formatConstraint("c1", "/api/users", "email", "email", 0.9),
		formatConstraint("c2", "/api/profiles", "email", "email", 0.75),
	})

	if len(found) != 1 {
		t.Fatalf("got %d patterns, want 1", len(found))
	}
	p := found[0]
	if p.Type != TypeParameterValidation {
		t.Errorf("Type = %s", p.Type)
	}
	if p.Scope != ScopeParameterBased {
		t.Errorf("Scope = %s, want parameter_based", p.Scope)
	}
	if p.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want the minimum 0.75", p.Confidence)
	}
	if len(p.AffectedEndpoints) != 2 {
		t.Fatalf("AffectedEndpoints = %v", p.AffectedEndpoints)
	}
	if p.AffectedEndpoints[0] != "/api/profiles" || p.AffectedEndpoints[1] != "/api/users" {
		t.Errorf("AffectedEndpoints = %v, want sorted pair", p.AffectedEndpoints)
	}
	if p.Parameter == nil || p.Parameter.ParameterName != "email" {
		t.Errorf("Parameter payload = %+v", p.Parameter)
	}
	if len(p.SupportingConstraints) != 2 || p.SupportingConstraints[0] != "c1" {
		t.Errorf("SupportingConstraints = %v, want real constraint IDs", p.SupportingConstraints)
	}
}

func TestDiscover_MinimumSupport(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name string
		list []*constraints.Constraint
	}{
		{
			name: "single constraint",
			list: []*constraints.Constraint{
				formatConstraint("c1", "/api/users", "email", "email", 0.9),
			},
		},
		{
			name: "same parameter on one endpoint only",
			list: []*constraints.Constraint{
				formatConstraint("c1", "/api/users", "email", "email", 0.9),
				formatConstraint("c2", "/api/users", "email", "uuid", 0.8),
			},
		},
		{
			name: "single exclusivity signature",
			list: []*constraints.Constraint{
				exclusivityConstraint("c1", "/api/users", []string{"email", "phone"}, 0.8),
			},
		},
		{
			name: "single rate limit",
			list: []*constraints.Constraint{
				rateConstraint("c1", "/api/users", 10, 30, "per_endpoint", 0.8),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if found := e.Discover(tt.list); len(found) != 0 {
				t.Errorf("got %d patterns from under-supported evidence: %+v", len(found), found)
			}
		})
	}
}

func TestDiscover_MixedKindsSplitPerKind(t *testing.T) {
	e := NewEngine()
	found := e.Discover([]*constraints.Constraint{
		formatConstraint("c1", "/api/users", "email", "email", 0.9),
		formatConstraint("c2", "/api/profiles", "email", "email", 0.8),
		{
			ID: "c3", Endpoint: "/api/orders", Parameter: "email",
			Kind: constraints.KindRequiredField, Confidence: 0.85,
		},
		{
			ID: "c4", Endpoint: "/api/products", Parameter: "email",
			Kind: constraints.KindRequiredField, Confidence: 0.7,
		},
	})

	if len(found) != 2 {
		t.Fatalf("got %d patterns, want one per kind", len(found))
	}
	// Sorted by kind within the parameter group.
	if found[0].Parameter.ConstraintKind != constraints.KindFormatValidation {
		t.Errorf("found[0] kind = %s", found[0].Parameter.ConstraintKind)
	}
	if found[1].Parameter.ConstraintKind != constraints.KindRequiredField {
		t.Errorf("found[1] kind = %s", found[1].Parameter.ConstraintKind)
	}
	if found[1].Confidence != 0.7 {
		t.Errorf("required_field pattern confidence = %v, want min 0.7", found[1].Confidence)
	}
}

func TestDiscover_ExclusivityScope(t *testing.T) {
	e := NewEngine()

	// Two endpoints: parameter_based. Field order differs per
	// constraint; the signature normalizes it.
	found := e.Discover([]*constraints.Constraint{
		exclusivityConstraint("c1", "/api/users", []string{"phone", "email"}, 0.8),
		exclusivityConstraint("c2", "/api/profiles", []string{"email", "phone"}, 0.6),
	})
	if len(found) != 1 {
		t.Fatalf("got %d patterns, want 1", len(found))
	}
	if found[0].Scope != ScopeParameterBased {
		t.Errorf("Scope = %s, want parameter_based for two endpoints", found[0].Scope)
	}
	if found[0].Confidence != 0.7 {
		t.Errorf("Confidence = %v, want mean 0.7", found[0].Confidence)
	}
	if found[0].Exclusivity == nil || found[0].Exclusivity.Signature != "email_phone_1_1" {
		t.Errorf("Exclusivity payload = %+v", found[0].Exclusivity)
	}

	// Three endpoints: domain_wide, superseding the stored pattern.
	found = e.Discover([]*constraints.Constraint{
		exclusivityConstraint("c1", "/api/users", []string{"phone", "email"}, 0.8),
		exclusivityConstraint("c2", "/api/profiles", []string{"email", "phone"}, 0.6),
		exclusivityConstraint("c3", "/api/orders", []string{"email", "phone"}, 0.7),
	})
	exclusive := ofType(found, TypeMutualExclusivity)
	if len(exclusive) != 1 {
		t.Fatalf("got %d exclusivity patterns, want 1", len(exclusive))
	}
	if exclusive[0].Scope != ScopeDomainWide {
		t.Errorf("Scope = %s, want domain_wide for three endpoints", exclusive[0].Scope)
	}

	if got := e.Get("exclusivity_email_phone_1_1"); got == nil || got.Scope != ScopeDomainWide {
		t.Errorf("stored pattern = %+v, want superseded domain_wide version", got)
	}
}

func TestDiscover_BusinessRulePatterns(t *testing.T) {
	e := NewEngine()
	found := e.Discover([]*constraints.Constraint{
		businessConstraint("c1", "/api/users", "age", "min_value", 18, 0.8),
		businessConstraint("c2", "/api/profiles", "age", "min_value", float64(18), 0.6),
		// Different value, no second occurrence.
		businessConstraint("c3", "/api/orders", "quantity", "min_value", 1, 0.9),
		// Non-numeric values form no range key.
		businessConstraint("c4", "/api/users", "plan", "allowed_values", "premium", 0.9),
		businessConstraint("c5", "/api/orders", "plan", "allowed_values", "premium", 0.9),
	})

	// c1+c2 pattern; c4+c5 share a parameter and kind so the parameter
	// pass picks them up, but no business value key forms.
	var business []*CrossEndpointPattern
	for _, p := range found {
		if p.Type == TypeBusinessRule {
			business = append(business, p)
		}
	}
	if len(business) != 1 {
		t.Fatalf("got %d business patterns, want 1: %+v", len(business), business)
	}
	p := business[0]
	if p.ID != "business_rule_min_value_min_18" {
		t.Errorf("ID = %q, want int and integral float to share a key", p.ID)
	}
	if p.Scope != ScopeDomainWide {
		t.Errorf("Scope = %s", p.Scope)
	}
	if p.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want mean 0.7", p.Confidence)
	}
}

func TestDiscover_RateLimitScope(t *testing.T) {
	e := NewEngine()
	found := ofType(e.Discover([]*constraints.Constraint{
		rateConstraint("c1", "/api/users", 10, 30, "per_endpoint", 0.8),
		rateConstraint("c2", "/api/orders", 10, 30, "per_endpoint", 0.9),
		rateConstraint("c3", "/api/users", 100, 60, "global", 0.8),
		rateConstraint("c4", "/api/orders", 100, 60, "global", 0.8),
	}), TypeRateLimiting)

	if len(found) != 2 {
		t.Fatalf("got %d rate patterns, want 2", len(found))
	}
	byID := map[string]*CrossEndpointPattern{}
	for _, p := range found {
		byID[p.ID] = p
	}

	perEndpoint := byID["rate_limit_10_30_per_endpoint"]
	if perEndpoint == nil || perEndpoint.Scope != ScopeDomainWide {
		t.Errorf("per_endpoint pattern = %+v, want domain_wide scope", perEndpoint)
	}
	global := byID["rate_limit_100_60_global"]
	if global == nil || global.Scope != ScopeGlobal {
		t.Errorf("global pattern = %+v, want global scope", global)
	}
	if perEndpoint != nil && perEndpoint.RateLimit.MaxRequests != 10 {
		t.Errorf("payload = %+v", perEndpoint.RateLimit)
	}
}

func TestGroup_Bands(t *testing.T) {
	g := Group([]*constraints.Constraint{
		formatConstraint("c1", "/api/users", "email", "email", 0.95),
		formatConstraint("c2", "/api/users", "name", "email", 0.9),
		formatConstraint("c3", "/api/users", "phone", "email", 0.7),
		formatConstraint("c4", "/api/users", "age", "email", 0.3),
	})

	if got := len(g.ByBand[BandHigh]); got != 2 {
		t.Errorf("high band = %d, want 2", got)
	}
	if got := len(g.ByBand[BandMedium]); got != 1 {
		t.Errorf("medium band = %d, want 1", got)
	}
	if got := len(g.ByBand[BandLow]); got != 1 {
		t.Errorf("low band = %d, want 1", got)
	}
	if got := len(g.ByEndpoint["/api/users"]); got != 4 {
		t.Errorf("endpoint group = %d, want 4", got)
	}
	if got := len(g.ByKind[constraints.KindFormatValidation]); got != 4 {
		t.Errorf("kind group = %d, want 4", got)
	}
}

func TestExport_SummaryMatchesPatterns(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(withClock(func() time.Time { return fixed }))
	e.Discover([]*constraints.Constraint{
		formatConstraint("c1", "/api/users", "email", "email", 0.9),
		formatConstraint("c2", "/api/profiles", "email", "email", 0.75),
		rateConstraint("c3", "/api/users", 10, 30, "per_endpoint", 0.8),
		rateConstraint("c4", "/api/orders", 10, 30, "per_endpoint", 0.9),
	})

	doc := e.Export()
	if doc.Version != ExportVersion {
		t.Errorf("Version = %q", doc.Version)
	}
	if doc.ExportedAt != fixed {
		t.Errorf("ExportedAt = %v", doc.ExportedAt)
	}
	// The email and requests parameter groups each pattern, plus the
	// shared rate limit shape.
	if doc.Summary.TotalPatterns != 3 {
		t.Errorf("TotalPatterns = %d, want 3", doc.Summary.TotalPatterns)
	}
	if len(doc.Summary.PatternTypes) != 2 {
		t.Errorf("PatternTypes = %v, want 2 distinct", doc.Summary.PatternTypes)
	}

	// Round trip: the summary coverage must equal the union re-derived
	// from the exported patterns themselves.
	endpoints := map[string]bool{}
	parameters := map[string]bool{}
	for _, p := range doc.Patterns {
		for _, ep := range p.AffectedEndpoints {
			endpoints[ep] = true
		}
		for _, param := range p.AffectedParameters {
			parameters[param] = true
		}
	}
	if len(doc.Summary.EndpointCoverage) != len(endpoints) {
		t.Errorf("EndpointCoverage = %v, union has %d", doc.Summary.EndpointCoverage, len(endpoints))
	}
	for _, ep := range doc.Summary.EndpointCoverage {
		if !endpoints[ep] {
			t.Errorf("EndpointCoverage lists %q not present in any pattern", ep)
		}
	}
	if len(doc.Summary.ParameterCoverage) != len(parameters) {
		t.Errorf("ParameterCoverage = %v, union has %d", doc.Summary.ParameterCoverage, len(parameters))
	}
}

func TestImport_RestoresPatterns(t *testing.T) {
	e := NewEngine()
	e.Discover([]*constraints.Constraint{
		formatConstraint("c1", "/api/users", "email", "email", 0.9),
		formatConstraint("c2", "/api/profiles", "email", "email", 0.75),
	})
	doc := e.Export()

	restored := NewEngine()
	restored.Import(doc)
	if restored.Len() != 1 {
		t.Fatalf("restored %d patterns, want 1", restored.Len())
	}
	if p := restored.Get("param_email_format_validation"); p == nil || p.Confidence != 0.75 {
		t.Errorf("restored pattern = %+v", p)
	}
}

func TestPatterns_ReturnsClones(t *testing.T) {
	e := NewEngine()
	e.Discover([]*constraints.Constraint{
		formatConstraint("c1", "/api/users", "email", "email", 0.9),
		formatConstraint("c2", "/api/profiles", "email", "email", 0.75),
	})

	got := e.Patterns()
	if len(got) != 1 {
		t.Fatal("want 1 pattern")
	}
	got[0].Confidence = 0.01
	got[0].AffectedEndpoints[0] = "mutated"

	again := e.Patterns()
	if again[0].Confidence != 0.75 || again[0].AffectedEndpoints[0] == "mutated" {
		t.Error("Patterns() exposed internal state to mutation")
	}
}
