// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probe defines the declarative probe plans the engine runs
// against a target API and the HTTP executor that runs them.
//
// A plan is data, not code: an ordered list of request steps with
// expected statuses. The synthesizer emits plans, the executor runs
// them, and a failed expectation produces a failure artifact for the
// interpreter. Only transport-level problems surface as errors; a
// probe that gets the wrong status is an outcome, not an error.
package probe

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/Sounder/services/engine/specdoc"
)

// Plan is one declarative probe.
type Plan struct {
	// Name labels the plan in transcripts and journals.
	Name string `json:"name"`

	// Goal restates what the plan tries to demonstrate.
	Goal string `json:"goal"`

	// Steps run in order; the first failed expectation stops the plan.
	Steps []Step `json:"steps"`
}

// Step is one HTTP request with an expectation.
type Step struct {
	// Name labels the step in transcripts.
	Name string `json:"name"`

	// Method is the HTTP method, e.g. "POST".
	Method string `json:"method"`

	// Path is the endpoint path, e.g. "/api/users".
	Path string `json:"path"`

	// Query holds query parameters, if any.
	Query map[string]string `json:"query,omitempty"`

	// Headers holds extra request headers, if any.
	Headers map[string]string `json:"headers,omitempty"`

	// Body is JSON-encoded into the request body when non-nil.
	Body map[string]any `json:"body,omitempty"`

	// ExpectStatus is the status code that counts as a pass.
	ExpectStatus int `json:"expect_status"`
}

// Validate checks the plan is runnable.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.Name)
	}
	for i, s := range p.Steps {
		if s.Method == "" {
			return fmt.Errorf("plan %q step %d has no method", p.Name, i)
		}
		if !strings.HasPrefix(s.Path, "/") {
			return fmt.Errorf("plan %q step %d path %q does not start with /", p.Name, i, s.Path)
		}
		if s.ExpectStatus < 100 || s.ExpectStatus > 599 {
			return fmt.Errorf("plan %q step %d expects impossible status %d", p.Name, i, s.ExpectStatus)
		}
	}
	return nil
}

// Outcome is the result of executing a plan.
type Outcome struct {
	// Passed reports whether every step met its expectation.
	Passed bool `json:"passed"`

	// RawOutput is the step-by-step transcript.
	RawOutput string `json:"raw_output"`

	// FailureArtifact describes the first failed step, empty on pass.
	FailureArtifact string `json:"failure_artifact,omitempty"`

	// LastRequest summarizes the last request sent, for
	// interpretation.
	LastRequest RequestDetails `json:"last_request"`
}

// RequestDetails summarizes one sent request.
type RequestDetails struct {
	Method      string `json:"method"`
	Endpoint    string `json:"endpoint"`
	RequestBody string `json:"request_body,omitempty"`
}

// Fallback builds the minimal deterministic plan used when synthesis
// fails: create a plausible record on the first POST endpoint the
// document declares, or check health when it declares none.
func Fallback(doc *specdoc.Document) Plan {
	for _, ep := range doc.Endpoints {
		if !strings.EqualFold(ep.Method, "post") {
			continue
		}
		body := map[string]any{}
		for _, param := range ep.Parameters {
			if param.Required {
				body[param.Name] = sampleValue(param)
			}
		}
		if len(body) == 0 {
			body["name"] = "John Doe"
			body["username"] = "johndoe"
		}
		return Plan{
			Name: "fallback-create",
			Goal: fmt.Sprintf("create a record via %s", ep.Path),
			Steps: []Step{{
				Name:         "create record",
				Method:       "POST",
				Path:         ep.Path,
				Body:         body,
				ExpectStatus: 201,
			}},
		}
	}

	return Plan{
		Name: "fallback-health",
		Goal: "confirm the target is reachable",
		Steps: []Step{{
			Name:         "health check",
			Method:       "GET",
			Path:         "/health",
			ExpectStatus: 200,
		}},
	}
}

// sampleValue picks a plausible value for a declared parameter.
func sampleValue(p specdoc.Parameter) any {
	switch p.Name {
	case "name":
		return "John Doe"
	case "username":
		return "johndoe"
	case "email", "contact_email":
		return "john.doe@example.com"
	case "phone":
		return "+15550100"
	}
	switch p.Type {
	case "integer", "number":
		return 42
	case "boolean":
		return true
	default:
		if p.Format == "email" {
			return "john.doe@example.com"
		}
		return "sample"
	}
}
