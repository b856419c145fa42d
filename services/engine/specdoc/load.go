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
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxSpecFileSize bounds spec files to 1MB. Larger files are treated
// as defective.
const MaxSpecFileSize = 1024 * 1024

// =============================================================================
// YAML Shape
// =============================================================================

// documentYAML is the on-disk OpenAPI-shaped root. Concrete nested
// types, converted to the Document model after decoding.
type documentYAML struct {
	OpenAPI string                  `yaml:"openapi"`
	Info    infoYAML                `yaml:"info"`
	Servers []serverYAML            `yaml:"servers"`
	Paths   map[string]pathItemYAML `yaml:"paths"`
}

type infoYAML struct {
	Title       string `yaml:"title"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

type serverYAML struct {
	URL string `yaml:"url"`
}

// pathItemYAML enumerates the HTTP methods an operation may hang off.
type pathItemYAML struct {
	Get    *operationYAML `yaml:"get"`
	Post   *operationYAML `yaml:"post"`
	Put    *operationYAML `yaml:"put"`
	Patch  *operationYAML `yaml:"patch"`
	Delete *operationYAML `yaml:"delete"`
}

type operationYAML struct {
	Summary     string                  `yaml:"summary"`
	OperationID string                  `yaml:"operationId"`
	Parameters  []parameterYAML         `yaml:"parameters"`
	RequestBody *requestBodyYAML        `yaml:"requestBody"`
	Responses   map[string]responseYAML `yaml:"responses"`
}

type parameterYAML struct {
	Name        string      `yaml:"name"`
	In          string      `yaml:"in"`
	Required    bool        `yaml:"required"`
	Description string      `yaml:"description"`
	Schema      *schemaYAML `yaml:"schema"`
}

type requestBodyYAML struct {
	Required bool                     `yaml:"required"`
	Content  map[string]mediaTypeYAML `yaml:"content"`
}

type mediaTypeYAML struct {
	Schema *schemaYAML `yaml:"schema"`
}

type schemaYAML struct {
	Type        string                 `yaml:"type"`
	Format      string                 `yaml:"format"`
	Description string                 `yaml:"description"`
	Properties  map[string]*schemaYAML `yaml:"properties"`
	Required    []string               `yaml:"required"`
}

type responseYAML struct {
	Description string `yaml:"description"`
}

// =============================================================================
// Parsing
// =============================================================================

// Parse decodes OpenAPI-shaped YAML (or JSON, which is a YAML subset)
// into a Document. No structural checking happens here; see Check and
// Repair.
func Parse(data []byte) (*Document, error) {
	var raw documentYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing spec document: %w", err)
	}

	doc := &Document{
		OpenAPI:     raw.OpenAPI,
		Title:       raw.Info.Title,
		Version:     raw.Info.Version,
		Description: raw.Info.Description,
	}
	if len(raw.Servers) > 0 {
		doc.BaseURL = raw.Servers[0].URL
	}

	// Deterministic endpoint order regardless of map iteration.
	paths := make([]string, 0, len(raw.Paths))
	for p := range raw.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := raw.Paths[path]
		for _, m := range []struct {
			name string
			op   *operationYAML
		}{
			{"get", item.Get},
			{"post", item.Post},
			{"put", item.Put},
			{"patch", item.Patch},
			{"delete", item.Delete},
		} {
			if m.op == nil {
				continue
			}
			doc.Endpoints = append(doc.Endpoints, convertOperation(path, m.name, m.op))
		}
	}
	return doc, nil
}

// convertOperation flattens one operation into an Endpoint. Body
// fields and declared parameters land in the same Parameters list, the
// In field tells them apart.
func convertOperation(path, method string, op *operationYAML) *Endpoint {
	ep := &Endpoint{
		Path:        path,
		Method:      method,
		Summary:     op.Summary,
		OperationID: op.OperationID,
	}

	for _, p := range op.Parameters {
		param := &Parameter{
			Name:        p.Name,
			In:          p.In,
			Required:    p.Required,
			Description: p.Description,
		}
		if p.Schema != nil {
			param.Type = p.Schema.Type
			param.Format = p.Schema.Format
		}
		ep.Parameters = append(ep.Parameters, param)
	}

	if op.RequestBody != nil {
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			required := make(map[string]bool, len(media.Schema.Required))
			for _, name := range media.Schema.Required {
				required[name] = true
			}
			names := make([]string, 0, len(media.Schema.Properties))
			for name := range media.Schema.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				prop := media.Schema.Properties[name]
				ep.Parameters = append(ep.Parameters, &Parameter{
					Name:        name,
					In:          "body",
					Type:        prop.Type,
					Format:      prop.Format,
					Required:    required[name],
					Description: prop.Description,
				})
			}
		}
	}

	if len(op.Responses) > 0 {
		ep.Responses = make(map[string]string, len(op.Responses))
		for code, r := range op.Responses {
			ep.Responses[code] = r.Description
		}
	}
	return ep
}

// =============================================================================
// Checking and Repair
// =============================================================================

// Check returns the document's structural issues, empty when sound.
func (d *Document) Check() []string {
	var issues []string
	if d.OpenAPI == "" {
		issues = append(issues, "missing openapi version")
	}
	if d.Title == "" {
		issues = append(issues, "missing info title")
	}
	if d.Version == "" {
		issues = append(issues, "missing info version")
	}
	if len(d.Endpoints) == 0 {
		issues = append(issues, "no endpoints declared")
	}
	for _, ep := range d.Endpoints {
		if ep.Path == "" || !strings.HasPrefix(ep.Path, "/") {
			issues = append(issues, fmt.Sprintf("endpoint %s %q has a malformed path", ep.Method, ep.Path))
		}
		for _, p := range ep.Parameters {
			if p.Name == "" {
				issues = append(issues, fmt.Sprintf("endpoint %s %s declares a nameless parameter", ep.Method, ep.Path))
			}
		}
	}
	return issues
}

// Repair fixes recoverable defects in place and returns what it fixed.
//
// Missing metadata is filled with placeholder values, an empty
// endpoint list gets the default user-creation operation, malformed
// endpoints and nameless parameters are dropped. After Repair, Check
// returns no issues.
func (d *Document) Repair() []string {
	var fixed []string
	if d.OpenAPI == "" {
		d.OpenAPI = "3.0.0"
		fixed = append(fixed, "filled openapi version")
	}
	if d.Title == "" {
		d.Title = "Repaired API"
		fixed = append(fixed, "filled info title")
	}
	if d.Version == "" {
		d.Version = "1.0.0"
		fixed = append(fixed, "filled info version")
	}

	kept := d.Endpoints[:0]
	for _, ep := range d.Endpoints {
		if ep.Path == "" || !strings.HasPrefix(ep.Path, "/") {
			fixed = append(fixed, fmt.Sprintf("dropped endpoint %s %q with malformed path", ep.Method, ep.Path))
			continue
		}
		params := ep.Parameters[:0]
		for _, p := range ep.Parameters {
			if p.Name == "" {
				fixed = append(fixed, fmt.Sprintf("dropped nameless parameter on %s %s", ep.Method, ep.Path))
				continue
			}
			params = append(params, p)
		}
		ep.Parameters = params
		kept = append(kept, ep)
	}
	d.Endpoints = kept

	if len(d.Endpoints) == 0 {
		d.Endpoints = MinimalDefault().Endpoints
		fixed = append(fixed, "restored default endpoints")
	}
	return fixed
}

// MinimalDefault returns the fallback document used when no usable
// spec can be loaded: the user-creation operation plus a health check.
func MinimalDefault() *Document {
	return &Document{
		OpenAPI:     "3.0.0",
		Title:       "Minimal Default API",
		Version:     "1.0.0",
		Description: "Fallback specification for error recovery",
		Endpoints: []*Endpoint{
			{
				Path:        "/api/users",
				Method:      "post",
				Summary:     "Create a user",
				OperationID: "createUser",
				Parameters: []*Parameter{
					{Name: "name", In: "body", Type: "string", Required: true, Description: "User's name"},
					{Name: "username", In: "body", Type: "string", Required: true, Description: "User's username"},
				},
				Responses: map[string]string{
					"201": "User created successfully",
					"400": "Bad request",
				},
			},
			{
				Path:    "/health",
				Method:  "get",
				Summary: "Health check",
				Responses: map[string]string{
					"200": "Service is healthy",
				},
			},
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads, parses, and repairs a spec file.
//
// Description:
//
//	The returned document is always usable: structural defects are
//	repaired in place, and an unreadable, oversized, or undecodable
//	file yields the minimal default document. The error reports what
//	was wrong so the caller can record a specification defect, it
//	never means the document is missing.
//
// Outputs:
//
//	*Document - Never nil.
//	error - Non-nil when the file needed repair or fallback.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("spec file unreadable, using minimal default",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return MinimalDefault(), fmt.Errorf("reading spec %s: %w", path, err)
	}
	if len(data) > MaxSpecFileSize {
		slog.Warn("spec file too large, using minimal default",
			slog.String("path", path),
			slog.Int("size", len(data)))
		return MinimalDefault(), fmt.Errorf("spec %s exceeds %d bytes", path, MaxSpecFileSize)
	}

	doc, err := Parse(data)
	if err != nil {
		slog.Warn("spec file undecodable, using minimal default",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return MinimalDefault(), err
	}

	if issues := doc.Check(); len(issues) > 0 {
		fixed := doc.Repair()
		slog.Warn("spec file repaired",
			slog.String("path", path),
			slog.Int("issues", len(issues)),
			slog.Int("fixes", len(fixed)))
		return doc, fmt.Errorf("spec %s repaired: %s", path, strings.Join(issues, "; "))
	}

	slog.Debug("spec file loaded",
		slog.String("path", path),
		slog.Int("endpoints", len(doc.Endpoints)))
	return doc, nil
}
