// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package specdoc models the API description the engine learns
// against: a typed document parsed from OpenAPI-shaped YAML, with
// structural checking, best-effort repair, a minimal fallback
// document, and rendering of learned rules back into the spec as
// x-learned-rules annotations.
package specdoc

import "sort"

// =============================================================================
// Document Model
// =============================================================================

// Document is the typed API description.
//
// Description:
//
//	One Endpoint per (path, method) operation. Learned rules attach to
//	endpoints and parameters when an enhanced view is rendered; a
//	freshly loaded document carries none.
type Document struct {
	// OpenAPI is the declared spec dialect, e.g. "3.0.0".
	OpenAPI string `json:"openapi"`

	// Title names the API.
	Title string `json:"title"`

	// Version is the API document version.
	Version string `json:"version"`

	// Description optionally describes the API.
	Description string `json:"description,omitempty"`

	// BaseURL is the first declared server URL, if any.
	BaseURL string `json:"base_url,omitempty"`

	// Endpoints lists all operations in declaration order.
	Endpoints []*Endpoint `json:"endpoints"`
}

// Endpoint is one operation on one path.
type Endpoint struct {
	// Path is the route, e.g. "/api/users".
	Path string `json:"path"`

	// Method is the lowercase HTTP method, e.g. "post".
	Method string `json:"method"`

	// Summary optionally describes the operation.
	Summary string `json:"summary,omitempty"`

	// OperationID optionally names the operation.
	OperationID string `json:"operation_id,omitempty"`

	// Parameters lists declared inputs, body fields included.
	Parameters []*Parameter `json:"parameters,omitempty"`

	// Responses maps status code to description.
	Responses map[string]string `json:"responses,omitempty"`

	// LearnedRules holds endpoint-spanning learned annotations.
	LearnedRules []LearnedRule `json:"x_learned_rules,omitempty"`
}

// Parameter is one declared input of an endpoint.
type Parameter struct {
	// Name is the parameter or body field name.
	Name string `json:"name"`

	// In is where the parameter travels: "body", "query", "path",
	// or "header".
	In string `json:"in"`

	// Type is the declared schema type, e.g. "string".
	Type string `json:"type,omitempty"`

	// Format is the declared schema format, e.g. "email".
	Format string `json:"format,omitempty"`

	// Required reports whether the spec declares the parameter
	// mandatory.
	Required bool `json:"required"`

	// Description optionally describes the parameter.
	Description string `json:"description,omitempty"`

	// LearnedRules holds parameter-scoped learned annotations.
	LearnedRules []LearnedRule `json:"x_learned_rules,omitempty"`
}

// LearnedRule is one published constraint annotation.
type LearnedRule struct {
	// Kind is the constraint kind name, e.g. "format_validation".
	Kind string `json:"kind"`

	// Description states the rule in prose.
	Description string `json:"description,omitempty"`

	// Confidence is the belief in the rule at publication time.
	Confidence float64 `json:"confidence"`

	// Detail carries the kind-specific payload fields.
	Detail map[string]any `json:"detail,omitempty"`
}

// =============================================================================
// Lookups
// =============================================================================

// FindEndpoint returns the first endpoint declared on the path, or nil.
func (d *Document) FindEndpoint(path string) *Endpoint {
	for _, ep := range d.Endpoints {
		if ep.Path == path {
			return ep
		}
	}
	return nil
}

// Paths returns the sorted set of distinct endpoint paths.
func (d *Document) Paths() []string {
	seen := make(map[string]bool, len(d.Endpoints))
	out := make([]string, 0, len(d.Endpoints))
	for _, ep := range d.Endpoints {
		if !seen[ep.Path] {
			seen[ep.Path] = true
			out = append(out, ep.Path)
		}
	}
	sort.Strings(out)
	return out
}

// FindParameter returns the endpoint's parameter by name, or nil.
func (e *Endpoint) FindParameter(name string) *Parameter {
	for _, p := range e.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ParameterNames returns the endpoint's parameter names in
// declaration order.
func (e *Endpoint) ParameterNames() []string {
	out := make([]string, 0, len(e.Parameters))
	for _, p := range e.Parameters {
		out = append(out, p.Name)
	}
	return out
}

// RequiredParameters returns the names the spec itself declares
// mandatory, in declaration order.
func (e *Endpoint) RequiredParameters() []string {
	var out []string
	for _, p := range e.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// =============================================================================
// Cloning
// =============================================================================

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d
	out.Endpoints = make([]*Endpoint, len(d.Endpoints))
	for i, ep := range d.Endpoints {
		out.Endpoints[i] = ep.clone()
	}
	return &out
}

func (e *Endpoint) clone() *Endpoint {
	out := *e
	out.Parameters = make([]*Parameter, len(e.Parameters))
	for i, p := range e.Parameters {
		out.Parameters[i] = p.clone()
	}
	if e.Responses != nil {
		out.Responses = make(map[string]string, len(e.Responses))
		for k, v := range e.Responses {
			out.Responses[k] = v
		}
	}
	out.LearnedRules = cloneRules(e.LearnedRules)
	return &out
}

func (p *Parameter) clone() *Parameter {
	out := *p
	out.LearnedRules = cloneRules(p.LearnedRules)
	return &out
}

func cloneRules(rules []LearnedRule) []LearnedRule {
	if rules == nil {
		return nil
	}
	out := make([]LearnedRule, len(rules))
	for i, r := range rules {
		out[i] = r
		if r.Detail != nil {
			d := make(map[string]any, len(r.Detail))
			for k, v := range r.Detail {
				d[k] = v
			}
			out[i].Detail = d
		}
	}
	return out
}
