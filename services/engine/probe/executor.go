// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds one plan execution end to end.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body the executor
// reads into transcripts and artifacts.
const maxResponseBytes = 256 * 1024

// HTTPClient issues one HTTP request. Satisfied by *http.Client;
// tests inject fakes.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor runs probe plans against one target API over HTTP.
//
// Description:
//
//	Steps run strictly in order inside a single deadline. A step whose
//	response status misses its expectation fails the plan and produces
//	a failure artifact; transport failures (refused connections,
//	deadline hits) return an error instead, because they say nothing
//	about the API's rules.
//
// Thread Safety: safe for concurrent use; the executor is stateless
// between calls.
type Executor struct {
	baseURL string
	client  HTTPClient
	timeout time.Duration
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient injects the HTTP client, for tests.
func WithHTTPClient(c HTTPClient) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithTimeout overrides the per-plan deadline.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the logger for execution events.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor for the API at baseURL.
func NewExecutor(baseURL string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a plan step by step.
//
// Outputs:
//
//	Outcome - Pass/fail with transcript, failure artifact, and the
//	last request's details. Valid whenever error is nil.
//	error - Non-nil only for environment problems: invalid plans,
//	unreachable targets, deadline hits.
func (e *Executor) Execute(ctx context.Context, plan Plan) (Outcome, error) {
	if err := plan.Validate(); err != nil {
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var transcript strings.Builder
	var last RequestDetails

	for i, step := range plan.Steps {
		details, status, body, err := e.runStep(ctx, step)
		last = details
		if err != nil {
			return Outcome{}, fmt.Errorf("plan %q step %d (%s): %w", plan.Name, i, step.Name, err)
		}

		fmt.Fprintf(&transcript, "step %q: %s %s -> %d (expected %d)\n",
			step.Name, details.Method, details.Endpoint, status, step.ExpectStatus)

		if status != step.ExpectStatus {
			artifact := failureArtifact(plan, step, details, status, body)
			e.logger.Debug("probe step failed expectation",
				slog.String("plan", plan.Name),
				slog.String("step", step.Name),
				slog.Int("status", status),
				slog.Int("expected", step.ExpectStatus),
			)
			return Outcome{
				Passed:          false,
				RawOutput:       transcript.String(),
				FailureArtifact: artifact,
				LastRequest:     details,
			}, nil
		}
	}

	e.logger.Debug("probe plan passed", slog.String("plan", plan.Name), slog.Int("steps", len(plan.Steps)))
	return Outcome{Passed: true, RawOutput: transcript.String(), LastRequest: last}, nil
}

// runStep sends one step's request and reads the capped response body.
func (e *Executor) runStep(ctx context.Context, step Step) (RequestDetails, int, string, error) {
	method := strings.ToUpper(step.Method)
	target := e.baseURL + step.Path
	if len(step.Query) > 0 {
		q := url.Values{}
		for k, v := range step.Query {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	details := RequestDetails{Method: method, Endpoint: step.Path}

	var reqBody io.Reader
	if step.Body != nil {
		encoded, err := json.Marshal(step.Body)
		if err != nil {
			return details, 0, "", fmt.Errorf("encoding body: %w", err)
		}
		details.RequestBody = string(encoded)
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return details, 0, "", fmt.Errorf("building request: %w", err)
	}
	if step.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range step.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return details, 0, "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return details, 0, "", fmt.Errorf("reading response: %w", err)
	}
	return details, resp.StatusCode, string(body), nil
}

// failureArtifact renders the failed step for interpretation. The
// line shapes here are what the interpreter's extraction strategies
// look for.
func failureArtifact(plan Plan, step Step, details RequestDetails, status int, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PROBE FAILURE: %s\n", plan.Name)
	fmt.Fprintf(&b, "goal: %s\n", plan.Goal)
	fmt.Fprintf(&b, "step %q: %s %s\n", step.Name, details.Method, details.Endpoint)
	if details.RequestBody != "" {
		fmt.Fprintf(&b, "request body: %s\n", details.RequestBody)
	}
	fmt.Fprintf(&b, "expected %d, got %d\n", step.ExpectStatus, status)
	if body != "" {
		fmt.Fprintf(&b, "response body: %s\n", body)
	}
	return b.String()
}
