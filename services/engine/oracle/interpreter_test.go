// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/faults"
	"github.com/AleutianAI/Sounder/services/engine/probe"
)

func userCreationPlan() probe.Plan {
	return probe.Plan{
		Name: "create-user",
		Goal: "demonstrate user creation",
		Steps: []probe.Step{{
			Name:         "create",
			Method:       "POST",
			Path:         "/api/users",
			Body:         map[string]any{"name": "John Doe"},
			ExpectStatus: 201,
		}},
	}
}

func userCreationRequest() probe.RequestDetails {
	return probe.RequestDetails{
		Method:      "POST",
		Endpoint:    "/api/users",
		RequestBody: `{"name":"John Doe"}`,
	}
}

func userCreationArtifact(status int, responseBody string) string {
	return fmt.Sprintf("PROBE FAILURE: create-user\n"+
		"goal: demonstrate user creation\n"+
		"step \"create\": POST /api/users\n"+
		"request body: {\"name\":\"John Doe\"}\n"+
		"expected 201, got %d\n"+
		"response body: %s", status, responseBody)
}

func TestInterpret_ProducesLearnedConstraint(t *testing.T) {
	fake := &fakeOracle{response: "```json\n" + `{
		"rule_description": "email field is required for POST /api/users",
		"constraint_kind": "required_field",
		"affected_parameter": "email",
		"endpoint_path": "/api/users",
		"payload": {},
		"confidence": 0.9,
		"is_learnable": true
	}` + "\n```"}
	interp := NewInterpreter(fake)

	artifact := userCreationArtifact(400, `{"error":"Missing required fields"}`)
	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if c == nil {
		t.Fatal("expected a candidate constraint")
	}
	if c.ID == "" {
		t.Error("candidate has no ID")
	}
	if c.Endpoint != "/api/users" || c.Parameter != "email" {
		t.Errorf("candidate target = %s %s", c.Endpoint, c.Parameter)
	}
	if c.Kind != constraints.KindRequiredField {
		t.Errorf("candidate kind = %v", c.Kind)
	}
	if c.Confidence != 0.9 {
		t.Errorf("candidate confidence = %v, want 0.9", c.Confidence)
	}
	if c.Source != constraints.SourceLearned {
		t.Errorf("candidate source = %v, want %v", c.Source, constraints.SourceLearned)
	}

	prompt := fake.lastPrompt
	if !strings.Contains(prompt, "HTTP status: 400") {
		t.Error("prompt is missing the extracted status")
	}
	if !strings.Contains(prompt, "Missing required fields") {
		t.Error("prompt is missing the extracted error message")
	}
	if !strings.Contains(prompt, `Request body: {"name":"John Doe"}`) {
		t.Error("prompt is missing the request body")
	}
	if fake.lastParams.Temperature == nil || *fake.lastParams.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", fake.lastParams.Temperature)
	}
}

func TestInterpret_DefaultConfidenceWhenOmitted(t *testing.T) {
	fake := &fakeOracle{response: `{
		"rule_description": "username is required",
		"constraint_kind": "required_field",
		"affected_parameter": "username",
		"endpoint_path": "/api/users",
		"is_learnable": true
	}`}
	interp := NewInterpreter(fake)

	artifact := userCreationArtifact(400, `{"error":"Missing required fields"}`)
	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if c == nil {
		t.Fatal("expected a candidate constraint")
	}
	if c.Confidence != defaultCandidateConfidence {
		t.Errorf("confidence = %v, want %v", c.Confidence, defaultCandidateConfidence)
	}
}

func TestInterpret_BuildsKindPayloads(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		payload string
		verify  func(t *testing.T, c *constraints.Constraint)
	}{
		{
			name:    "format validation",
			kind:    "format_validation",
			payload: `{"format": "email"}`,
			verify: func(t *testing.T, c *constraints.Constraint) {
				if c.Format == nil || c.Format.Format != "email" {
					t.Errorf("format payload = %+v", c.Format)
				}
			},
		},
		{
			name:    "mutual exclusivity normalizes fields",
			kind:    "mutual_exclusivity",
			payload: `{"fields": ["phone", "email"], "min_required": 1, "max_allowed": 1}`,
			verify: func(t *testing.T, c *constraints.Constraint) {
				if c.Exclusivity == nil {
					t.Fatal("no exclusivity payload")
				}
				if got := strings.Join(c.Exclusivity.Fields, ","); got != "email,phone" {
					t.Errorf("fields = %s, want email,phone", got)
				}
				if c.Exclusivity.MinRequired != 1 || c.Exclusivity.MaxAllowed != 1 {
					t.Errorf("bounds = %d..%d", c.Exclusivity.MinRequired, c.Exclusivity.MaxAllowed)
				}
			},
		},
		{
			name:    "rate limiting converts numbers and defaults scope",
			kind:    "rate_limiting",
			payload: `{"max_requests": 10, "window_seconds": 30}`,
			verify: func(t *testing.T, c *constraints.Constraint) {
				if c.RateLimit == nil {
					t.Fatal("no rate limit payload")
				}
				if c.RateLimit.MaxRequests != 10 || c.RateLimit.WindowSeconds != 30 {
					t.Errorf("rate limit = %+v", c.RateLimit)
				}
				if c.RateLimit.Scope != "per_endpoint" {
					t.Errorf("scope = %q, want per_endpoint", c.RateLimit.Scope)
				}
			},
		},
		{
			name:    "business rule",
			kind:    "business_rule",
			payload: `{"rule_type": "min_value", "value": 18}`,
			verify: func(t *testing.T, c *constraints.Constraint) {
				if c.Business == nil || c.Business.RuleType != "min_value" {
					t.Fatalf("business payload = %+v", c.Business)
				}
				if v, ok := c.Business.Value.(float64); !ok || v != 18 {
					t.Errorf("value = %v", c.Business.Value)
				}
			},
		},
		{
			name:    "value constraint",
			kind:    "value_constraint",
			payload: `{"operator": "gte", "value": 18}`,
			verify: func(t *testing.T, c *constraints.Constraint) {
				if c.Value == nil || c.Value.Operator != "gte" {
					t.Errorf("value payload = %+v", c.Value)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeOracle{response: fmt.Sprintf(`{
				"rule_description": "probe revealed a %s rule",
				"constraint_kind": %q,
				"affected_parameter": "age",
				"endpoint_path": "/api/users",
				"payload": %s,
				"confidence": 0.85,
				"is_learnable": true
			}`, tt.kind, tt.kind, tt.payload)}
			interp := NewInterpreter(fake)

			artifact := userCreationArtifact(422, `{"error":"validation failed"}`)
			c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
			if err != nil {
				t.Fatalf("Interpret: %v", err)
			}
			if c == nil {
				t.Fatal("expected a candidate constraint")
			}
			tt.verify(t, c)
		})
	}
}

func TestInterpret_EmptyArtifactYieldsNothing(t *testing.T) {
	fake := &fakeOracle{}
	interp := NewInterpreter(fake)

	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), "   ")
	if err != nil || c != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", c, err)
	}
	if fake.calls != 0 {
		t.Errorf("oracle was called %d times for an empty artifact", fake.calls)
	}
}

func TestInterpret_ServerErrorsAreNotAnalyzed(t *testing.T) {
	fake := &fakeOracle{}
	interp := NewInterpreter(fake)

	artifact := userCreationArtifact(500, `{"error":"internal server error"}`)
	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err != nil || c != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", c, err)
	}
	if fake.calls != 0 {
		t.Errorf("oracle was called %d times for a server error", fake.calls)
	}
}

func TestInterpret_NoMessageYieldsNothing(t *testing.T) {
	fake := &fakeOracle{}
	interp := NewInterpreter(fake)

	artifact := "step \"create\": POST /api/users\nexpected 201, got 400\nresponse body: <html>teapot</html>"
	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err != nil || c != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", c, err)
	}
	if fake.calls != 0 {
		t.Errorf("oracle was called %d times without an error message", fake.calls)
	}
}

func TestInterpret_NotLearnableYieldsNothing(t *testing.T) {
	fake := &fakeOracle{response: `{"is_learnable": false}`}
	interp := NewInterpreter(fake)

	artifact := userCreationArtifact(400, `{"error":"Missing required fields"}`)
	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err != nil || c != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", c, err)
	}
	if fake.calls != 1 {
		t.Errorf("oracle calls = %d, want 1", fake.calls)
	}
}

func TestInterpret_MalformedGenerations(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no json", "the failure is interesting but I have no rule"},
		{"unknown kind", `{"rule_description":"d","constraint_kind":"psychic_validation","affected_parameter":"email","endpoint_path":"/api/users","is_learnable":true}`},
		{"relative endpoint", `{"rule_description":"d","constraint_kind":"required_field","affected_parameter":"email","endpoint_path":"api/users","is_learnable":true}`},
		{"missing parameter", `{"rule_description":"d","constraint_kind":"required_field","endpoint_path":"/api/users","is_learnable":true}`},
		{"confidence out of range", `{"rule_description":"d","constraint_kind":"required_field","affected_parameter":"email","endpoint_path":"/api/users","confidence":1.4,"is_learnable":true}`},
		{"format without payload", `{"rule_description":"d","constraint_kind":"format_validation","affected_parameter":"email","endpoint_path":"/api/users","is_learnable":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp := NewInterpreter(&fakeOracle{response: tt.response})
			artifact := userCreationArtifact(400, `{"error":"Missing required fields"}`)
			c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
			if err == nil {
				t.Fatal("expected an error")
			}
			if c != nil {
				t.Errorf("got a constraint alongside the error: %+v", c)
			}
			if kind, ok := faults.KindOf(err); !ok || kind != faults.KindMalformedCandidate {
				t.Errorf("fault kind = %v (%v), want %v", kind, ok, faults.KindMalformedCandidate)
			}
		})
	}
}

func TestInterpret_OracleErrorIsOracleFault(t *testing.T) {
	interp := NewInterpreter(&fakeOracle{err: errors.New("model overloaded")})

	artifact := userCreationArtifact(400, `{"error":"Missing required fields"}`)
	_, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind, ok := faults.KindOf(err); !ok || kind != faults.KindOracleFailure {
		t.Errorf("fault kind = %v (%v), want %v", kind, ok, faults.KindOracleFailure)
	}
}

func TestInterpret_TruncatesOversizedArtifacts(t *testing.T) {
	fake := &fakeOracle{response: `{
		"rule_description": "email field is required",
		"constraint_kind": "required_field",
		"affected_parameter": "email",
		"endpoint_path": "/api/users",
		"is_learnable": true
	}`}
	interp := NewInterpreter(fake)

	artifact := userCreationArtifact(400, `{"error":"Missing required fields"}`) +
		"\n" + strings.Repeat("x", 3*artifactBudget) + " TAIL-SENTINEL"
	c, err := interp.Interpret(context.Background(), "create a user", userCreationPlan(), userCreationRequest(), artifact)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if c == nil {
		t.Fatal("expected a candidate constraint")
	}
	if strings.Contains(fake.lastPrompt, "TAIL-SENTINEL") {
		t.Error("oversized artifact tail leaked into the prompt")
	}
	if !strings.Contains(fake.lastPrompt, "Missing required fields") {
		t.Error("truncation lost the failure details at the head")
	}
}
