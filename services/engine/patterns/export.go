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
	"sort"
	"time"
)

// ExportVersion identifies the pattern-knowledge document schema.
const ExportVersion = "1"

// Export is the serializable pattern-knowledge document.
type Export struct {
	Version    string                  `json:"version"`
	ExportedAt time.Time               `json:"exported_at"`
	Patterns   []*CrossEndpointPattern `json:"patterns"`
	Summary    ExportSummary           `json:"summary"`
}

// ExportSummary aggregates the document for quick inspection.
type ExportSummary struct {
	// TotalPatterns counts the exported patterns.
	TotalPatterns int `json:"total_patterns"`

	// PatternTypes is the sorted set of distinct types present.
	PatternTypes []Type `json:"pattern_types"`

	// EndpointCoverage is the sorted union of affected endpoints.
	EndpointCoverage []string `json:"endpoint_coverage"`

	// ParameterCoverage is the sorted union of affected parameters.
	ParameterCoverage []string `json:"parameter_coverage"`
}

// Export captures the stored patterns as a document.
func (e *Engine) Export() *Export {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &Export{
		Version:    ExportVersion,
		ExportedAt: e.now(),
		Patterns:   make([]*CrossEndpointPattern, 0, len(e.order)),
	}

	types := make(map[Type]bool)
	endpoints := make(map[string]bool)
	parameters := make(map[string]bool)

	for _, id := range e.order {
		p := e.patterns[id]
		out.Patterns = append(out.Patterns, p.Clone())
		types[p.Type] = true
		for _, ep := range p.AffectedEndpoints {
			endpoints[ep] = true
		}
		for _, param := range p.AffectedParameters {
			parameters[param] = true
		}
	}

	out.Summary = ExportSummary{
		TotalPatterns:     len(out.Patterns),
		PatternTypes:      sortedTypes(types),
		EndpointCoverage:  sortedStrings(endpoints),
		ParameterCoverage: sortedStrings(parameters),
	}
	return out
}

// Import replaces the stored patterns with an exported document.
func (e *Engine) Import(doc *Export) {
	if doc == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.patterns = make(map[string]*CrossEndpointPattern, len(doc.Patterns))
	e.order = e.order[:0]
	for _, p := range doc.Patterns {
		if p == nil || p.ID == "" {
			continue
		}
		if _, dup := e.patterns[p.ID]; dup {
			continue
		}
		e.patterns[p.ID] = p.Clone()
		e.order = append(e.order, p.ID)
	}
}

func sortedTypes(set map[Type]bool) []Type {
	out := make([]Type, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedStrings(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
