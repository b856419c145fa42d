// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package specdoc

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Render serializes the document back into an OpenAPI-shaped tree.
//
// Description:
//
//	Learned rules surface twice: as x-learned-rules extension arrays on
//	operations and body properties, and folded into the schema itself
//	where the rule kind maps onto native spec vocabulary (required
//	lists, format fields). Consumers that ignore vendor extensions
//	still see the learned required fields and formats.
func (d *Document) Render() map[string]any {
	root := map[string]any{
		"openapi": d.OpenAPI,
		"info": map[string]any{
			"title":   d.Title,
			"version": d.Version,
		},
	}
	if d.Description != "" {
		root["info"].(map[string]any)["description"] = d.Description
	}
	if d.BaseURL != "" {
		root["servers"] = []any{map[string]any{"url": d.BaseURL}}
	}

	paths := make(map[string]any)
	for _, ep := range d.Endpoints {
		item, ok := paths[ep.Path].(map[string]any)
		if !ok {
			item = make(map[string]any)
			paths[ep.Path] = item
		}
		item[ep.Method] = renderOperation(ep)
	}
	root["paths"] = paths
	return root
}

// RenderYAML marshals the rendered tree to YAML.
func (d *Document) RenderYAML() ([]byte, error) {
	out, err := yaml.Marshal(d.Render())
	if err != nil {
		return nil, fmt.Errorf("rendering spec document: %w", err)
	}
	return out, nil
}

func renderOperation(ep *Endpoint) map[string]any {
	op := make(map[string]any)
	if ep.Summary != "" {
		op["summary"] = ep.Summary
	}
	if ep.OperationID != "" {
		op["operationId"] = ep.OperationID
	}

	var declared []any
	var bodyProps map[string]any
	var bodyRequired []string

	for _, p := range ep.Parameters {
		if p.In == "body" {
			if bodyProps == nil {
				bodyProps = make(map[string]any)
			}
			bodyProps[p.Name] = renderProperty(p)
			if required := p.Required || hasRequiredRule(p.LearnedRules); required {
				bodyRequired = append(bodyRequired, p.Name)
			}
			continue
		}
		declared = append(declared, renderDeclaredParameter(p))
	}

	if len(declared) > 0 {
		op["parameters"] = declared
	}
	if bodyProps != nil {
		schema := map[string]any{
			"type":       "object",
			"properties": bodyProps,
		}
		if len(bodyRequired) > 0 {
			schema["required"] = bodyRequired
		}
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{"schema": schema},
			},
		}
	}
	if len(ep.Responses) > 0 {
		responses := make(map[string]any, len(ep.Responses))
		for code, desc := range ep.Responses {
			responses[code] = map[string]any{"description": desc}
		}
		op["responses"] = responses
	}
	if len(ep.LearnedRules) > 0 {
		op["x-learned-rules"] = renderRules(ep.LearnedRules)
	}
	return op
}

func renderDeclaredParameter(p *Parameter) map[string]any {
	out := map[string]any{
		"name": p.Name,
		"in":   p.In,
	}
	if p.Required {
		out["required"] = true
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Type != "" || p.Format != "" {
		schema := make(map[string]any)
		if p.Type != "" {
			schema["type"] = p.Type
		}
		if format := effectiveFormat(p); format != "" {
			schema["format"] = format
		}
		out["schema"] = schema
	}
	if len(p.LearnedRules) > 0 {
		out["x-learned-rules"] = renderRules(p.LearnedRules)
	}
	return out
}

func renderProperty(p *Parameter) map[string]any {
	out := make(map[string]any)
	if p.Type != "" {
		out["type"] = p.Type
	}
	if format := effectiveFormat(p); format != "" {
		out["format"] = format
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.LearnedRules) > 0 {
		out["x-learned-rules"] = renderRules(p.LearnedRules)
	}
	return out
}

// effectiveFormat prefers a learned format rule over the declared one.
func effectiveFormat(p *Parameter) string {
	for _, r := range p.LearnedRules {
		if r.Kind != "format_validation" {
			continue
		}
		if format, ok := r.Detail["format"].(string); ok && format != "" {
			return format
		}
	}
	return p.Format
}

// hasRequiredRule reports whether a learned rule marks the parameter
// required.
func hasRequiredRule(rules []LearnedRule) bool {
	for _, r := range rules {
		if r.Kind == "required_field" {
			return true
		}
	}
	return false
}

func renderRules(rules []LearnedRule) []any {
	out := make([]any, 0, len(rules))
	for _, r := range rules {
		entry := map[string]any{
			"kind":       r.Kind,
			"confidence": r.Confidence,
		}
		if r.Description != "" {
			entry["description"] = r.Description
		}
		if len(r.Detail) > 0 {
			entry["detail"] = r.Detail
		}
		out = append(out, entry)
	}
	return out
}
