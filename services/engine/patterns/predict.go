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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
)

// applicabilityThreshold is the minimum score a pattern needs before
// it produces a prediction.
const applicabilityThreshold = 0.3

// Prediction is one pattern projected onto a target endpoint.
type Prediction struct {
	// PatternID identifies the source pattern.
	PatternID string `json:"pattern_id"`

	// Type is the source pattern's type.
	Type Type `json:"type"`

	// Description restates the source pattern.
	Description string `json:"description"`

	// Applicability scores how well the pattern fits the target,
	// in [0,1].
	Applicability float64 `json:"applicability"`

	// Confidence is the effective belief: pattern confidence times
	// applicability.
	Confidence float64 `json:"confidence"`

	// Suggestions are the concrete constraints to try on the target.
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Suggestion is one concrete constraint proposal for the target.
type Suggestion struct {
	// Kind is the proposed constraint kind.
	Kind constraints.Kind `json:"kind"`

	// Reasoning states the evidence in prose.
	Reasoning string `json:"reasoning"`

	// Parameter is the proposed subject for parameter patterns.
	Parameter string `json:"parameter,omitempty"`

	// Parameters is the matching exclusive subset for exclusivity
	// patterns.
	Parameters []string `json:"parameters,omitempty"`

	// RateLimit carries the literal limit numbers for rate patterns.
	RateLimit *constraints.RateLimitRule `json:"rate_limit,omitempty"`
}

// Predict projects every stored pattern onto a target endpoint.
//
// Description:
//
//	Each pattern gets an applicability score from its scope: global
//	patterns apply broadly, domain-wide patterns apply when the target
//	shares a first path segment with an affected endpoint, parameter
//	patterns apply when their parameter is among the target's. Scores
//	above the threshold become predictions with effective confidence
//	pattern confidence times applicability, sorted strongest first.
//
// Inputs:
//
//	targetEndpoint - The endpoint to predict for, e.g. "/api/reviews".
//	targetParameters - The parameter names the target declares.
func (e *Engine) Predict(targetEndpoint string, targetParameters []string) []Prediction {
	e.mu.RLock()
	stored := make([]*CrossEndpointPattern, 0, len(e.order))
	for _, id := range e.order {
		stored = append(stored, e.patterns[id])
	}
	e.mu.RUnlock()

	var out []Prediction
	for _, p := range stored {
		score := applicability(p, targetEndpoint, targetParameters)
		if score <= applicabilityThreshold {
			continue
		}
		out = append(out, Prediction{
			PatternID:     p.ID,
			Type:          p.Type,
			Description:   p.Description,
			Applicability: score,
			Confidence:    p.Confidence * score,
			Suggestions:   suggestions(p, targetParameters),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// applicability scores how well a pattern fits the target, in [0,1].
func applicability(p *CrossEndpointPattern, targetEndpoint string, targetParameters []string) float64 {
	score := 0.0
	switch p.Scope {
	case ScopeGlobal:
		score = 0.8
	case ScopeDomainWide:
		if sharesDomain(p.AffectedEndpoints, targetEndpoint) {
			score = 0.7
		} else {
			score = 0.3
		}
	case ScopeParameterBased:
		// Only parameter patterns carry a parameter name to match on;
		// a parameter-scoped exclusivity pattern scores zero.
		if p.Parameter != nil {
			if containsString(targetParameters, p.Parameter.ParameterName) {
				score = 0.9
			} else {
				score = 0.2
			}
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// sharesDomain reports whether the target's first path segment matches
// any affected endpoint's first segment.
func sharesDomain(endpoints []string, target string) bool {
	targetDomain := firstSegment(target)
	for _, ep := range endpoints {
		if firstSegment(ep) == targetDomain {
			return true
		}
	}
	return false
}

// firstSegment returns the first path segment, "/api/users" -> "api".
func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// suggestions builds the concrete proposals a prediction carries.
func suggestions(p *CrossEndpointPattern, targetParameters []string) []Suggestion {
	switch p.Type {
	case TypeParameterValidation:
		if p.Parameter == nil || !containsString(targetParameters, p.Parameter.ParameterName) {
			return nil
		}
		return []Suggestion{{
			Kind:      p.Parameter.ConstraintKind,
			Parameter: p.Parameter.ParameterName,
			Reasoning: fmt.Sprintf(
				"Parameter %q consistently requires %s validation across similar endpoints",
				p.Parameter.ParameterName, p.Parameter.ConstraintKind),
		}}

	case TypeMutualExclusivity:
		if p.Exclusivity == nil {
			return nil
		}
		var matching []string
		for _, param := range targetParameters {
			if containsString(p.Exclusivity.Fields, param) {
				matching = append(matching, param)
			}
		}
		if len(matching) < 2 {
			return nil
		}
		return []Suggestion{{
			Kind:       constraints.KindMutualExclusivity,
			Parameters: matching,
			Reasoning: fmt.Sprintf(
				"Similar endpoints show mutual exclusivity between %s",
				strings.Join(matching, ", ")),
		}}

	case TypeRateLimiting:
		if p.RateLimit == nil {
			return nil
		}
		return []Suggestion{{
			Kind: constraints.KindRateLimiting,
			RateLimit: &constraints.RateLimitRule{
				MaxRequests:   p.RateLimit.MaxRequests,
				WindowSeconds: p.RateLimit.WindowSeconds,
				Scope:         p.RateLimit.Scope,
			},
			Reasoning: fmt.Sprintf(
				"Similar endpoints have rate limiting: %d requests per %ds",
				p.RateLimit.MaxRequests, p.RateLimit.WindowSeconds),
		}}

	default:
		// Business-rule patterns describe shared values, not a concrete
		// parameter to attach them to.
		return nil
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
