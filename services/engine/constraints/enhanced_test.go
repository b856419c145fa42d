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
	"testing"

	"github.com/AleutianAI/Sounder/services/engine/specdoc"
)

func enhancedFixture() *specdoc.Document {
	return &specdoc.Document{
		OpenAPI: "3.0.0",
		Title:   "Practice API",
		Version: "1.0.0",
		Endpoints: []*specdoc.Endpoint{
			{
				Path:   "/api/users",
				Method: "post",
				Parameters: []*specdoc.Parameter{
					{Name: "name", In: "body", Type: "string"},
					{Name: "email", In: "body", Type: "string"},
				},
			},
		},
	}
}

func TestEnhancedView_ThresholdGovernsPublication(t *testing.T) {
	m := NewModel()

	above := requiredField("/api/users", "name")
	above.Confidence = 0.9
	if _, _, err := m.Add(above); err != nil {
		t.Fatal(err)
	}

	below := requiredField("/api/users", "email")
	below.Confidence = 0.69
	if _, _, err := m.Add(below); err != nil {
		t.Fatal(err)
	}

	view := m.EnhancedView(enhancedFixture())
	users := view.FindEndpoint("/api/users")

	name := users.FindParameter("name")
	if len(name.LearnedRules) != 1 {
		t.Fatalf("name has %d rules, want 1", len(name.LearnedRules))
	}
	if name.LearnedRules[0].Kind != "required_field" {
		t.Errorf("rule kind = %q", name.LearnedRules[0].Kind)
	}
	if name.LearnedRules[0].Confidence != 0.9 {
		t.Errorf("rule confidence = %v, want 0.9", name.LearnedRules[0].Confidence)
	}

	if email := users.FindParameter("email"); len(email.LearnedRules) != 0 {
		t.Errorf("sub-threshold rule published: %+v", email.LearnedRules)
	}

	if got := m.CountPublishable(); got != 1 {
		t.Errorf("CountPublishable() = %d, want 1", got)
	}
}

func TestEnhancedView_ThresholdIsInclusive(t *testing.T) {
	m := NewModel()
	c := requiredField("/api/users", "name")
	c.Confidence = PublicationThreshold
	if _, _, err := m.Add(c); err != nil {
		t.Fatal(err)
	}

	view := m.EnhancedView(enhancedFixture())
	name := view.FindEndpoint("/api/users").FindParameter("name")
	if len(name.LearnedRules) != 1 {
		t.Errorf("rule at exactly the threshold not published")
	}
}

func TestEnhancedView_EndpointSpanningRules(t *testing.T) {
	m := NewModel()
	if _, _, err := m.Add(&Constraint{
		Endpoint: "/api/users", Parameter: "email", Kind: KindMutualExclusivity,
		Exclusivity: &ExclusivityRule{Fields: []string{"phone", "email"}, MinRequired: 1, MaxAllowed: 1},
		Confidence:  0.9,
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Add(&Constraint{
		Endpoint: "/api/users", Parameter: "requests", Kind: KindRateLimiting,
		RateLimit:  &RateLimitRule{MaxRequests: 10, WindowSeconds: 30, Scope: "per_endpoint"},
		Confidence: 0.8,
	}); err != nil {
		t.Fatal(err)
	}

	view := m.EnhancedView(enhancedFixture())
	users := view.FindEndpoint("/api/users")
	if len(users.LearnedRules) != 2 {
		t.Fatalf("endpoint has %d rules, want exclusivity and rate limit", len(users.LearnedRules))
	}

	// Exclusivity detail carries the canonical field order.
	for _, rule := range users.LearnedRules {
		if rule.Kind != "mutual_exclusivity" {
			continue
		}
		fields, ok := rule.Detail["fields"].([]string)
		if !ok || len(fields) != 2 || fields[0] != "email" || fields[1] != "phone" {
			t.Errorf("exclusivity detail fields = %v, want sorted [email phone]", rule.Detail["fields"])
		}
	}

	// The representative parameter entry stays clean.
	if email := users.FindParameter("email"); len(email.LearnedRules) != 0 {
		t.Errorf("spanning rule leaked onto a parameter: %+v", email.LearnedRules)
	}
}

func TestEnhancedView_UnknownPlacesFallBack(t *testing.T) {
	m := NewModel()

	// Parameter the spec does not declare attaches at endpoint level.
	orphanParam := requiredField("/api/users", "nickname")
	orphanParam.Confidence = 0.9
	if _, _, err := m.Add(orphanParam); err != nil {
		t.Fatal(err)
	}

	// Endpoint the spec does not declare is skipped entirely.
	orphanEndpoint := requiredField("/api/ghosts", "name")
	orphanEndpoint.Confidence = 0.9
	if _, _, err := m.Add(orphanEndpoint); err != nil {
		t.Fatal(err)
	}

	view := m.EnhancedView(enhancedFixture())
	users := view.FindEndpoint("/api/users")
	if len(users.LearnedRules) != 1 {
		t.Errorf("endpoint rules = %d, want orphan parameter to land here", len(users.LearnedRules))
	}
	if ghost := view.FindEndpoint("/api/ghosts"); ghost != nil {
		t.Error("unknown endpoint materialized in the view")
	}
}

func TestEnhancedView_DoesNotMutateInput(t *testing.T) {
	m := NewModel()
	c := requiredField("/api/users", "name")
	c.Confidence = 0.9
	if _, _, err := m.Add(c); err != nil {
		t.Fatal(err)
	}

	doc := enhancedFixture()
	_ = m.EnhancedView(doc)

	if len(doc.FindEndpoint("/api/users").FindParameter("name").LearnedRules) != 0 {
		t.Error("EnhancedView mutated the input document")
	}
}
