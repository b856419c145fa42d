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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/Sounder/services/engine/faults"
	"github.com/AleutianAI/Sounder/services/engine/probe"
	"github.com/AleutianAI/Sounder/services/engine/specdoc"
)

// DefaultOracleTimeout bounds one oracle call from either role.
const DefaultOracleTimeout = 75 * time.Second

// highConfidenceThreshold selects which learned rules the scribe
// repeats verbatim in its prompt.
const highConfidenceThreshold = 0.7

// Scribe synthesizes probe plans from an enhanced spec and a goal.
//
// Description:
//
//	The scribe renders the enhanced spec (learned rules included) into
//	a prompt, asks the oracle for a declarative probe plan in JSON,
//	and re-parses the answer. Anything that does not decode into a
//	valid plan is an oracle failure; the loop falls back to the
//	deterministic minimal probe on its own.
type Scribe struct {
	client  Client
	logger  *slog.Logger
	timeout time.Duration
}

// ScribeOption configures a Scribe.
type ScribeOption func(*Scribe)

// WithScribeLogger sets the logger for synthesis events.
func WithScribeLogger(logger *slog.Logger) ScribeOption {
	return func(s *Scribe) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScribeTimeout overrides the oracle call deadline.
func WithScribeTimeout(d time.Duration) ScribeOption {
	return func(s *Scribe) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScribe creates a Scribe speaking to the given backend.
func NewScribe(client Client, opts ...ScribeOption) *Scribe {
	s := &Scribe{
		client:  client,
		logger:  slog.Default(),
		timeout: DefaultOracleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize asks the oracle for a probe plan serving the goal.
//
// Inputs:
//
//	enhanced - The API description with published learned rules.
//	goal - What the probe should demonstrate, in prose.
//
// Outputs:
//
//	probe.Plan - A validated declarative plan.
//	error - An oracle_failure fault when the backend errs, times out,
//	or produces something that is not a valid plan.
func (s *Scribe) Synthesize(ctx context.Context, enhanced *specdoc.Document, goal string) (probe.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt, err := s.buildPrompt(enhanced, goal)
	if err != nil {
		return probe.Plan{}, faults.New(faults.KindOracleFailure, "scribe.synthesize", err)
	}

	temp := float32(0.1)
	maxTokens := 2000
	raw, err := s.client.Generate(ctx, prompt, GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return probe.Plan{}, faults.New(faults.KindOracleFailure, "scribe.synthesize", err)
	}

	encoded, ok := extractJSON(raw)
	if !ok {
		return probe.Plan{}, faults.New(faults.KindOracleFailure, "scribe.synthesize",
			fmt.Errorf("no JSON plan in generation (%d chars)", len(raw)))
	}

	var plan probe.Plan
	if err := json.Unmarshal([]byte(encoded), &plan); err != nil {
		return probe.Plan{}, faults.New(faults.KindOracleFailure, "scribe.synthesize",
			fmt.Errorf("decoding plan: %w", err))
	}
	if plan.Name == "" {
		plan.Name = "synthesized"
	}
	if plan.Goal == "" {
		plan.Goal = goal
	}
	if err := plan.Validate(); err != nil {
		return probe.Plan{}, faults.New(faults.KindOracleFailure, "scribe.synthesize", err)
	}

	s.logger.Debug("synthesized probe plan",
		slog.String("plan", plan.Name), slog.Int("steps", len(plan.Steps)))
	return plan, nil
}

// buildPrompt renders the synthesis prompt.
func (s *Scribe) buildPrompt(enhanced *specdoc.Document, goal string) (string, error) {
	spec, err := json.MarshalIndent(enhanced.Render(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering spec: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an API probe planner. Design one probe plan that exercises the target API.\n\n")
	b.WriteString("API SPECIFICATION:\n")
	b.Write(spec)
	b.WriteString("\n\nGOAL: ")
	b.WriteString(goal)
	b.WriteString("\n\n")
	b.WriteString(learnedRulesContext(enhanced))
	b.WriteString(`Respond with ONE JSON object in exactly this shape:
{"name":"plan-name","goal":"what it demonstrates","steps":[{"name":"step name","method":"POST","path":"/api/users","body":{"field":"value"},"expect_status":201}]}

Rules:
- Use only paths and methods from the specification.
- Include every field the specification or the learned constraints require.
- expect_status is the status a correct request should get (201 for creates, 200 for reads).
- Return ONLY the JSON object. No explanations, no markdown.`)
	return b.String(), nil
}

// learnedRulesContext lists the high-confidence rules the plan must
// honor. Empty when nothing crosses the threshold.
func learnedRulesContext(doc *specdoc.Document) string {
	var lines []string
	appendRule := func(rule specdoc.LearnedRule, path, param string) {
		if rule.Confidence <= highConfidenceThreshold {
			return
		}
		desc := rule.Description
		if desc == "" {
			desc = fmt.Sprintf("%s on %s", rule.Kind, path)
		}
		lines = append(lines, fmt.Sprintf("- %s (confidence: %.2f)", desc, rule.Confidence))
		switch rule.Kind {
		case "required_field":
			if param != "" {
				lines = append(lines, fmt.Sprintf("  -> requests to %s MUST include %q", path, param))
			}
		case "format_validation":
			if format, ok := rule.Detail["format"].(string); ok && param != "" {
				lines = append(lines, fmt.Sprintf("  -> %q must follow %s format", param, format))
			}
		}
	}

	for _, ep := range doc.Endpoints {
		for _, rule := range ep.LearnedRules {
			appendRule(rule, ep.Path, "")
		}
		for _, param := range ep.Parameters {
			for _, rule := range param.LearnedRules {
				appendRule(rule, ep.Path, param.Name)
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "LEARNED CONSTRAINTS (MUST FOLLOW):\n" + strings.Join(lines, "\n") +
		"\nViolating these rules will cause probe failures.\n\n"
}
