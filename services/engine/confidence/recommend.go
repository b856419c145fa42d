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
	"fmt"
	"sort"
)

// Priority ranks how urgently a recommendation should be acted on.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank orders priorities for sorting, high first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// RecommendationType names the suggested action for a constraint.
type RecommendationType string

const (
	// RecommendMonitorClosely flags trusted constraints whose outcomes
	// have started declining.
	RecommendMonitorClosely RecommendationType = "monitor_closely"

	// RecommendPromoteConfidence flags low-confidence constraints on an
	// improving streak.
	RecommendPromoteConfidence RecommendationType = "promote_confidence"

	// RecommendInvestigateInstability flags constraints with erratic
	// validation outcomes.
	RecommendInvestigateInstability RecommendationType = "investigate_instability"

	// RecommendConsiderRemoval flags constraints the evidence no longer
	// supports.
	RecommendConsiderRemoval RecommendationType = "consider_removal"
)

// ConstraintView is the slice of constraint state the recommender
// needs. It keeps this package free of model dependencies.
type ConstraintView struct {
	ID         string  `json:"id"`
	Endpoint   string  `json:"endpoint"`
	Parameter  string  `json:"parameter"`
	Confidence float64 `json:"confidence"`
}

// Recommendation is one suggested maintenance action.
type Recommendation struct {
	Type         RecommendationType `json:"type"`
	Priority     Priority           `json:"priority"`
	ConstraintID string             `json:"constraint_id"`
	Endpoint     string             `json:"endpoint"`
	Parameter    string             `json:"parameter"`
	Reason       string             `json:"reason"`
}

// Recommendations classifies each constraint into at most one bucket.
//
// The buckets are checked in priority order and are mutually
// exclusive: a high-confidence declining constraint is monitored, not
// also flagged for instability. The result is sorted high before
// medium before low, stable within a priority.
func (t *Tracker) Recommendations(views []ConstraintView) []Recommendation {
	var out []Recommendation
	for _, v := range views {
		a := t.Analyze(v.ID, v.Confidence)
		rec, ok := classify(v, a)
		if ok {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.rank() < out[j].Priority.rank()
	})
	return out
}

// classify applies the bucket rules to one constraint.
func classify(v ConstraintView, a Analysis) (Recommendation, bool) {
	rec := Recommendation{
		ConstraintID: v.ID,
		Endpoint:     v.Endpoint,
		Parameter:    v.Parameter,
	}

	switch {
	case v.Confidence > 0.8 && a.Trend == TrendDeclining:
		rec.Type = RecommendMonitorClosely
		rec.Priority = PriorityHigh
		rec.Reason = fmt.Sprintf("confidence %.2f with declining outcomes", v.Confidence)
	case v.Confidence < 0.5 && a.Trend == TrendImproving:
		rec.Type = RecommendPromoteConfidence
		rec.Priority = PriorityMedium
		rec.Reason = fmt.Sprintf("confidence %.2f but outcomes improving", v.Confidence)
	case a.Stability < 0.5:
		rec.Type = RecommendInvestigateInstability
		rec.Priority = PriorityHigh
		rec.Reason = fmt.Sprintf("stability %.2f indicates erratic validation", a.Stability)
	case v.Confidence < 0.3:
		rec.Type = RecommendConsiderRemoval
		rec.Priority = PriorityMedium
		rec.Reason = fmt.Sprintf("confidence %.2f no longer supported by evidence", v.Confidence)
	default:
		return Recommendation{}, false
	}
	return rec, true
}
