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

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/faults"
	"github.com/AleutianAI/Sounder/services/engine/probe"
)

// artifactBudget caps how much failure artifact goes into a prompt.
const artifactBudget = 4000

// messageBudget caps the extracted error message in a prompt.
const messageBudget = 2000

// defaultCandidateConfidence is assigned when the oracle omits a
// confidence score.
const defaultCandidateConfidence = 0.8

// Interpreter converts probe failures into candidate constraints.
//
// Description:
//
//	All artifact parsing lives here: the loop hands over the raw
//	failure artifact and never inspects it. Only 4xx failures are
//	analyzable; server errors and artifacts with no extractable status
//	or message yield no candidate. Decoded candidates pass a shape
//	validation gate before they leave the interpreter.
type Interpreter struct {
	client   Client
	validate *validator.Validate
	logger   *slog.Logger
	timeout  time.Duration
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithInterpreterLogger sets the logger for interpretation events.
func WithInterpreterLogger(logger *slog.Logger) InterpreterOption {
	return func(i *Interpreter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithInterpreterTimeout overrides the oracle call deadline.
func WithInterpreterTimeout(d time.Duration) InterpreterOption {
	return func(i *Interpreter) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// NewInterpreter creates an Interpreter speaking to the given backend.
func NewInterpreter(client Client, opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{
		client:   client,
		validate: validator.New(),
		logger:   slog.Default(),
		timeout:  DefaultOracleTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// inferredRule is the shape the oracle must answer with.
type inferredRule struct {
	RuleDescription   string         `json:"rule_description" validate:"required"`
	ConstraintKind    string         `json:"constraint_kind" validate:"required"`
	AffectedParameter string         `json:"affected_parameter" validate:"required"`
	EndpointPath      string         `json:"endpoint_path" validate:"required,startswith=/"`
	Payload           map[string]any `json:"payload"`
	Confidence        float64        `json:"confidence" validate:"gte=0,lte=1"`
	IsLearnable       bool           `json:"is_learnable"`
}

// Interpret analyzes a probe failure.
//
// Outputs:
//
//	*constraints.Constraint - The candidate rule, nil when the failure
//	is not analyzable (non-4xx, no extractable message) or the oracle
//	says it is not learnable.
//	error - oracle_failure for backend problems, malformed_candidate
//	for generations that do not validate into a constraint.
func (i *Interpreter) Interpret(ctx context.Context, goal string, plan probe.Plan, request probe.RequestDetails, artifact string) (*constraints.Constraint, error) {
	if strings.TrimSpace(artifact) == "" {
		i.logger.Debug("no failure artifact to interpret", slog.String("plan", plan.Name))
		return nil, nil
	}

	details := ExtractFailureDetails(artifact, request)
	if details.Message == "" {
		i.logger.Debug("no analyzable error message in artifact", slog.String("plan", plan.Name))
		return nil, nil
	}
	if details.Status < 400 || details.Status > 499 {
		i.logger.Debug("skipping non-client-error failure",
			slog.String("plan", plan.Name), slog.Int("status", details.Status))
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	prompt := i.buildPrompt(goal, plan, request, details, artifact)
	temp := float32(0.1)
	maxTokens := 2000
	raw, err := i.client.Generate(ctx, prompt, GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, faults.New(faults.KindOracleFailure, "interpreter.interpret", err)
	}

	encoded, ok := extractJSON(raw)
	if !ok {
		return nil, faults.New(faults.KindMalformedCandidate, "interpreter.interpret",
			fmt.Errorf("no JSON rule in generation (%d chars)", len(raw)))
	}

	var rule inferredRule
	if err := json.Unmarshal([]byte(encoded), &rule); err != nil {
		return nil, faults.New(faults.KindMalformedCandidate, "interpreter.interpret",
			fmt.Errorf("decoding rule: %w", err))
	}
	if !rule.IsLearnable {
		i.logger.Debug("oracle marked failure as not learnable", slog.String("plan", plan.Name))
		return nil, nil
	}
	if err := i.validate.Struct(rule); err != nil {
		return nil, faults.New(faults.KindMalformedCandidate, "interpreter.interpret",
			fmt.Errorf("rule shape: %w", err))
	}

	kind := constraints.Kind(rule.ConstraintKind)
	if !kind.Valid() {
		return nil, faults.New(faults.KindMalformedCandidate, "interpreter.interpret",
			fmt.Errorf("unknown constraint kind %q", rule.ConstraintKind))
	}

	confidence := rule.Confidence
	if confidence == 0 {
		confidence = defaultCandidateConfidence
	}
	candidate := &constraints.Constraint{
		ID:          uuid.NewString(),
		Endpoint:    rule.EndpointPath,
		Parameter:   rule.AffectedParameter,
		Kind:        kind,
		Description: rule.RuleDescription,
		Confidence:  confidence,
		Source:      constraints.SourceLearned,
	}
	applyPayload(candidate, rule.Payload)
	if err := candidate.Validate(); err != nil {
		return nil, faults.New(faults.KindMalformedCandidate, "interpreter.interpret", err)
	}

	i.logger.Info("interpreted failure into candidate constraint",
		slog.String("kind", kind.String()),
		slog.String("endpoint", candidate.Endpoint),
		slog.String("parameter", candidate.Parameter),
	)
	return candidate, nil
}

// buildPrompt renders the interpretation prompt with the artifact and
// message cut to their budgets.
func (i *Interpreter) buildPrompt(goal string, plan probe.Plan, request probe.RequestDetails, details FailureDetails, artifact string) string {
	body := request.RequestBody
	if body == "" {
		body = "N/A"
	}

	var b strings.Builder
	b.WriteString("You are an expert API testing analyst. Analyze this probe failure and extract one specific, actionable rule.\n\n")
	fmt.Fprintf(&b, "CONTEXT:\nGoal: %s\nProbe: %s\n\n", goal, plan.Name)
	fmt.Fprintf(&b, "REQUEST DETAILS:\nHTTP method: %s\nEndpoint: %s\nRequest body: %s\n\n",
		details.Method, details.Endpoint, body)
	fmt.Fprintf(&b, "FAILURE DETAILS:\nHTTP status: %d\nError message: %s\n\n",
		details.Status, truncateToBudget(details.Message, messageBudget))
	fmt.Fprintf(&b, "FAILURE ARTIFACT:\n%s\n\n", truncateToBudget(artifact, artifactBudget))
	b.WriteString(`ANALYSIS TASK:
Determine which API constraint the failure reveals. Common patterns:
- "missing required fields" or "field is required" -> required_field
- "invalid format" -> format_validation
- "must be X when Y" -> conditional_requirement
- "exactly one of" -> mutual_exclusivity
- "value must be at least" or "must be between" -> business_rule or value_constraint
- "rate limit exceeded" -> rate_limiting

OUTPUT FORMAT, one JSON object:
`)
	fmt.Fprintf(&b, `{"rule_description":"email field is required for POST %s","constraint_kind":"required_field","affected_parameter":"email","endpoint_path":"%s","payload":{},"confidence":0.9,"is_learnable":true}`,
		details.Endpoint, details.Endpoint)
	b.WriteString(`

IMPORTANT:
- constraint_kind must be one of: required_field, format_validation, conditional_requirement, mutual_exclusivity, format_dependency, business_rule, rate_limiting, value_constraint.
- payload carries the kind-specific fields: {"format":...} for format_validation, {"fields":[...],"min_required":1,"max_allowed":1} for mutual_exclusivity, {"rule_type":...,"value":...} for business_rule, {"max_requests":...,"window_seconds":...,"scope":...} for rate_limiting, {"operator":...,"value":...} for value_constraint.
- Only analyze client errors (4xx). Return {"is_learnable": false} for connection errors, server errors, or unclear failures.
- Be specific about the parameter name. If multiple fields are missing, pick one absent from the original request.
- Return ONLY the JSON object.`)
	return b.String()
}

// truncateToBudget cuts text at a chunk boundary near the budget.
func truncateToBudget(text string, budget int) string {
	if len(text) <= budget {
		return text
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(budget),
		textsplitter.WithChunkOverlap(0),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return text[:budget]
	}
	return chunks[0]
}

// applyPayload fills the kind-matching payload from the oracle's
// loosely typed payload map. Structural gaps are caught by the
// constraint's own validation afterwards.
func applyPayload(c *constraints.Constraint, payload map[string]any) {
	switch c.Kind {
	case constraints.KindFormatValidation:
		c.Format = &constraints.FormatRule{Format: stringField(payload, "format")}
	case constraints.KindConditionalRequirement:
		op := stringField(payload, "condition_operator")
		if op == "" {
			op = "equals"
		}
		c.Conditional = &constraints.ConditionalRule{
			ConditionField:    stringField(payload, "condition_field"),
			ConditionOperator: op,
			ConditionValue:    payload["condition_value"],
			RequiredField:     stringField(payload, "required_field"),
			RequiredValue:     payload["required_value"],
		}
	case constraints.KindMutualExclusivity:
		c.Exclusivity = &constraints.ExclusivityRule{
			Fields:      constraints.NormalizeExclusivityFields(stringSlice(payload["fields"])),
			MinRequired: intField(payload, "min_required", 1),
			MaxAllowed:  intField(payload, "max_allowed", 1),
		}
	case constraints.KindFormatDependency:
		c.FormatDependency = &constraints.FormatDependencyRule{
			ConditionField: stringField(payload, "condition_field"),
			ConditionValue: payload["condition_value"],
			TargetField:    stringField(payload, "target_field"),
			Format:         stringField(payload, "format"),
		}
	case constraints.KindBusinessRule:
		c.Business = &constraints.BusinessRule{
			RuleType: stringField(payload, "rule_type"),
			Value:    payload["value"],
		}
	case constraints.KindRateLimiting:
		scope := stringField(payload, "scope")
		if scope == "" {
			scope = "per_endpoint"
		}
		c.RateLimit = &constraints.RateLimitRule{
			MaxRequests:   intField(payload, "max_requests", 0),
			WindowSeconds: intField(payload, "window_seconds", 0),
			Scope:         scope,
		}
	case constraints.KindValueConstraint:
		c.Value = &constraints.ValueRule{
			Operator: stringField(payload, "operator"),
			Value:    payload["value"],
		}
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func intField(payload map[string]any, key string, fallback int) int {
	if payload == nil {
		return fallback
	}
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
