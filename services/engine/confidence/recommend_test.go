// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confidence

import (
	"strings"
	"testing"
)

func seed(tr *Tracker, id, pattern string) {
	for _, ch := range pattern {
		tr.Record(id, 0.5, ch == 's')
	}
}

func TestRecommendations_Buckets(t *testing.T) {
	tr := NewTracker()
	seed(tr, "declining", "sssfff")
	seed(tr, "improving", "ffss")
	seed(tr, "weak", "ff")
	seed(tr, "healthy", "ssssss")

	views := []ConstraintView{
		{ID: "improving", Endpoint: "/api/users", Parameter: "email", Confidence: 0.45},
		{ID: "declining", Endpoint: "/api/users", Parameter: "username", Confidence: 0.85},
		{ID: "weak", Endpoint: "/api/orders", Parameter: "coupon", Confidence: 0.25},
		{ID: "healthy", Endpoint: "/api/users", Parameter: "name", Confidence: 0.75},
	}

	recs := tr.Recommendations(views)
	if len(recs) != 3 {
		t.Fatalf("got %d recommendations, want 3: %+v", len(recs), recs)
	}

	// High priority sorts first; mediums keep their input order.
	if recs[0].Type != RecommendMonitorClosely || recs[0].ConstraintID != "declining" {
		t.Errorf("recs[0] = %s/%s, want monitor_closely/declining", recs[0].Type, recs[0].ConstraintID)
	}
	if recs[1].Type != RecommendPromoteConfidence || recs[1].ConstraintID != "improving" {
		t.Errorf("recs[1] = %s/%s, want promote_confidence/improving", recs[1].Type, recs[1].ConstraintID)
	}
	if recs[2].Type != RecommendConsiderRemoval || recs[2].ConstraintID != "weak" {
		t.Errorf("recs[2] = %s/%s, want consider_removal/weak", recs[2].Type, recs[2].ConstraintID)
	}

	for _, rec := range recs {
		if rec.Reason == "" {
			t.Errorf("%s has empty reason", rec.ConstraintID)
		}
		if rec.Endpoint == "" || rec.Parameter == "" {
			t.Errorf("%s missing endpoint/parameter context", rec.ConstraintID)
		}
	}
}

func TestRecommendations_HealthyConstraintSkipped(t *testing.T) {
	tr := NewTracker()
	seed(tr, "healthy", "ssssss")

	recs := tr.Recommendations([]ConstraintView{
		{ID: "healthy", Endpoint: "/api/users", Parameter: "name", Confidence: 0.75},
	})
	if len(recs) != 0 {
		t.Errorf("got %d recommendations for a healthy constraint, want 0", len(recs))
	}
}

func TestClassify_Instability(t *testing.T) {
	rec, ok := classify(
		ConstraintView{ID: "c1", Endpoint: "/api/users", Parameter: "email", Confidence: 0.6},
		Analysis{Trend: TrendStable, Stability: 0.4},
	)
	if !ok {
		t.Fatal("expected a recommendation")
	}
	if rec.Type != RecommendInvestigateInstability {
		t.Errorf("Type = %s, want investigate_instability", rec.Type)
	}
	if rec.Priority != PriorityHigh {
		t.Errorf("Priority = %s, want high", rec.Priority)
	}
	if !strings.Contains(rec.Reason, "0.40") {
		t.Errorf("Reason = %q, want the stability value in it", rec.Reason)
	}
}

func TestClassify_BucketsAreExclusive(t *testing.T) {
	// A declining trusted constraint with erratic outcomes is monitored,
	// not double-reported for instability.
	rec, ok := classify(
		ConstraintView{ID: "c1", Confidence: 0.85},
		Analysis{Trend: TrendDeclining, Stability: 0.4},
	)
	if !ok {
		t.Fatal("expected a recommendation")
	}
	if rec.Type != RecommendMonitorClosely {
		t.Errorf("Type = %s, want monitor_closely", rec.Type)
	}
}

func TestClassify_BoundaryValues(t *testing.T) {
	tests := []struct {
		name     string
		view     ConstraintView
		analysis Analysis
		wantType RecommendationType
		wantNone bool
	}{
		{
			name:     "confidence exactly 0.8 declining is not monitored",
			view:     ConstraintView{Confidence: 0.8},
			analysis: Analysis{Trend: TrendDeclining, Stability: 1.0},
			wantNone: true,
		},
		{
			name:     "confidence exactly 0.5 improving is not promoted",
			view:     ConstraintView{Confidence: 0.5},
			analysis: Analysis{Trend: TrendImproving, Stability: 1.0},
			wantNone: true,
		},
		{
			name:     "stability exactly 0.5 passes",
			view:     ConstraintView{Confidence: 0.6},
			analysis: Analysis{Trend: TrendStable, Stability: 0.5},
			wantNone: true,
		},
		{
			name:     "confidence exactly 0.3 stays",
			view:     ConstraintView{Confidence: 0.3},
			analysis: Analysis{Trend: TrendStable, Stability: 1.0},
			wantNone: true,
		},
		{
			name:     "just under 0.3 is removal candidate",
			view:     ConstraintView{Confidence: 0.29},
			analysis: Analysis{Trend: TrendStable, Stability: 1.0},
			wantType: RecommendConsiderRemoval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := classify(tt.view, tt.analysis)
			if tt.wantNone {
				if ok {
					t.Fatalf("got %s, want no recommendation", rec.Type)
				}
				return
			}
			if !ok {
				t.Fatal("expected a recommendation")
			}
			if rec.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", rec.Type, tt.wantType)
			}
		})
	}
}
