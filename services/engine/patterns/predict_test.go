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
	"math"
	"testing"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
)

func seededEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	e.Discover([]*constraints.Constraint{
		// param_email_format_validation: confidence min(0.9, 0.75) = 0.75.
		formatConstraint("c1", "/api/users", "email", "email", 0.9),
		formatConstraint("c2", "/api/profiles", "email", "email", 0.75),
		// rate_limit_10_30_per_endpoint: domain_wide, mean 0.85.
		rateConstraint("c3", "/api/users", 10, 30, "per_endpoint", 0.8),
		rateConstraint("c4", "/api/orders", 10, 30, "per_endpoint", 0.9),
		// rate_limit_100_60_global: global, mean 0.8.
		rateConstraint("c5", "/api/users", 100, 60, "global", 0.8),
		rateConstraint("c6", "/api/orders", 100, 60, "global", 0.8),
	})
	return e
}

func predictionByPattern(preds []Prediction, id string) *Prediction {
	for i := range preds {
		if preds[i].PatternID == id {
			return &preds[i]
		}
	}
	return nil
}

func TestPredict_ScoresAndSortsByEffectiveConfidence(t *testing.T) {
	e := seededEngine(t)
	preds := e.Predict("/api/reviews", []string{"email", "rating"})

	if len(preds) != 3 {
		t.Fatalf("got %d predictions, want 3: %+v", len(preds), preds)
	}

	// email param present: 0.75 * 0.9 = 0.675
	// global rate:          0.80 * 0.8 = 0.64
	// same-domain rate:     0.85 * 0.7 = 0.595
	wantOrder := []struct {
		id            string
		applicability float64
		confidence    float64
	}{
		{"param_email_format_validation", 0.9, 0.675},
		{"rate_limit_100_60_global", 0.8, 0.64},
		{"rate_limit_10_30_per_endpoint", 0.7, 0.595},
	}
	for i, want := range wantOrder {
		got := preds[i]
		if got.PatternID != want.id {
			t.Fatalf("preds[%d] = %s, want %s", i, got.PatternID, want.id)
		}
		if got.Applicability != want.applicability {
			t.Errorf("%s applicability = %v, want %v", want.id, got.Applicability, want.applicability)
		}
		if math.Abs(got.Confidence-want.confidence) > 1e-9 {
			t.Errorf("%s confidence = %v, want %v", want.id, got.Confidence, want.confidence)
		}
	}
}

func TestPredict_ParameterPatternNeedsTheParameter(t *testing.T) {
	e := seededEngine(t)
	preds := e.Predict("/api/reviews", []string{"rating", "comment"})

	if p := predictionByPattern(preds, "param_email_format_validation"); p != nil {
		t.Errorf("parameter pattern predicted without its parameter (score 0.2): %+v", p)
	}
	// The rate patterns still apply.
	if len(preds) != 2 {
		t.Errorf("got %d predictions, want 2 rate predictions", len(preds))
	}
}

func TestPredict_ForeignDomainKeepsOnlyGlobal(t *testing.T) {
	e := seededEngine(t)
	preds := e.Predict("/v2/reviews", []string{"rating"})

	// Domain-wide scores 0.3 against a foreign first segment, which is
	// not above the threshold. Global still applies at 0.8.
	if len(preds) != 1 {
		t.Fatalf("got %d predictions, want only the global pattern: %+v", len(preds), preds)
	}
	if preds[0].PatternID != "rate_limit_100_60_global" {
		t.Errorf("survivor = %s", preds[0].PatternID)
	}
	if preds[0].Applicability != 0.8 {
		t.Errorf("global applicability = %v", preds[0].Applicability)
	}
}

func TestPredict_SuggestionShapes(t *testing.T) {
	e := seededEngine(t)
	preds := e.Predict("/api/reviews", []string{"email", "rating"})

	param := predictionByPattern(preds, "param_email_format_validation")
	if param == nil || len(param.Suggestions) != 1 {
		t.Fatalf("parameter prediction = %+v", param)
	}
	s := param.Suggestions[0]
	if s.Kind != constraints.KindFormatValidation || s.Parameter != "email" || s.Reasoning == "" {
		t.Errorf("parameter suggestion = %+v", s)
	}

	rate := predictionByPattern(preds, "rate_limit_10_30_per_endpoint")
	if rate == nil || len(rate.Suggestions) != 1 {
		t.Fatalf("rate prediction = %+v", rate)
	}
	rl := rate.Suggestions[0].RateLimit
	if rl == nil || rl.MaxRequests != 10 || rl.WindowSeconds != 30 {
		t.Errorf("rate suggestion carries %+v, want the literal limit numbers", rl)
	}
}

func TestPredict_ExclusivityParameterScopeFiltered(t *testing.T) {
	e := NewEngine()
	// Two endpoints: parameter_based scope, which carries no parameter
	// name to match on, so applicability stays zero.
	e.Discover([]*constraints.Constraint{
		exclusivityConstraint("c1", "/api/users", []string{"email", "phone"}, 0.8),
		exclusivityConstraint("c2", "/api/profiles", []string{"phone", "email"}, 0.8),
	})

	if preds := e.Predict("/api/reviews", []string{"email", "phone"}); len(preds) != 0 {
		t.Errorf("got %d predictions from a parameter-scoped exclusivity pattern: %+v", len(preds), preds)
	}
}

func TestPredict_ExclusivitySuggestsMatchingSubset(t *testing.T) {
	e := NewEngine()
	// Three endpoints: domain_wide, so predictions flow. Rotated field
	// orders keep the subject parameters distinct per constraint.
	e.Discover([]*constraints.Constraint{
		exclusivityConstraint("c1", "/api/users", []string{"email", "phone", "fax"}, 0.8),
		exclusivityConstraint("c2", "/api/profiles", []string{"phone", "fax", "email"}, 0.8),
		exclusivityConstraint("c3", "/api/orders", []string{"fax", "email", "phone"}, 0.8),
	})

	preds := e.Predict("/api/reviews", []string{"email", "phone", "rating"})
	if len(preds) != 1 {
		t.Fatalf("got %d predictions, want 1: %+v", len(preds), preds)
	}
	s := preds[0].Suggestions
	if len(s) != 1 || s[0].Kind != constraints.KindMutualExclusivity {
		t.Fatalf("suggestions = %+v", s)
	}
	if len(s[0].Parameters) != 2 || s[0].Parameters[0] != "email" || s[0].Parameters[1] != "phone" {
		t.Errorf("matching subset = %v", s[0].Parameters)
	}

	// Only one of the exclusive fields present: prediction without a
	// concrete suggestion.
	preds = e.Predict("/api/reviews", []string{"email", "rating"})
	if len(preds) != 1 {
		t.Fatalf("got %d predictions, want 1", len(preds))
	}
	if len(preds[0].Suggestions) != 0 {
		t.Errorf("suggestions = %+v, want none with a single matching field", preds[0].Suggestions)
	}
}

func TestPredict_BusinessPatternHasNoSuggestions(t *testing.T) {
	e := NewEngine()
	e.Discover([]*constraints.Constraint{
		businessConstraint("c1", "/api/users", "age", "min_value", 18, 0.8),
		businessConstraint("c2", "/api/profiles", "age", "min_value", 18, 0.8),
	})

	preds := e.Predict("/api/reviews", []string{"rating"})
	p := predictionByPattern(preds, "business_rule_min_value_min_18")
	if p == nil {
		t.Fatalf("no business prediction in %+v", preds)
	}
	if len(p.Suggestions) != 0 {
		t.Errorf("business suggestions = %+v, want none", p.Suggestions)
	}
}

func TestPredict_EmptyEngine(t *testing.T) {
	e := NewEngine()
	if preds := e.Predict("/api/reviews", []string{"email"}); len(preds) != 0 {
		t.Errorf("got %d predictions from an empty engine", len(preds))
	}
}
