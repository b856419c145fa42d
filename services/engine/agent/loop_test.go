// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/faults"
	"github.com/AleutianAI/Sounder/services/engine/journal"
	"github.com/AleutianAI/Sounder/services/engine/patterns"
	"github.com/AleutianAI/Sounder/services/engine/probe"
	"github.com/AleutianAI/Sounder/services/engine/snapshot"
	"github.com/AleutianAI/Sounder/services/engine/specdoc"
)

// =============================================================================
// Scripted collaborators
// =============================================================================

type synthStep struct {
	plan probe.Plan
	err  error
}

type scriptedSynthesizer struct {
	mu     sync.Mutex
	script []synthStep
	calls  int
}

func (s *scriptedSynthesizer) Synthesize(_ context.Context, _ *specdoc.Document, _ string) (probe.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.script[min(s.calls, len(s.script)-1)]
	s.calls++
	return step.plan, step.err
}

type execStep struct {
	outcome probe.Outcome
	err     error
}

type scriptedExecutor struct {
	mu       sync.Mutex
	script   []execStep
	executed []string
}

func (e *scriptedExecutor) Execute(_ context.Context, plan probe.Plan) (probe.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := e.script[min(len(e.executed), len(e.script)-1)]
	e.executed = append(e.executed, plan.Name)
	return step.outcome, step.err
}

type interpretStep struct {
	cand *constraints.Constraint
	err  error
}

type scriptedInterpreter struct {
	mu     sync.Mutex
	script []interpretStep
	calls  int
}

func (i *scriptedInterpreter) Interpret(_ context.Context, _ string, _ probe.Plan, _ probe.RequestDetails, _ string) (*constraints.Constraint, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.script) == 0 {
		i.calls++
		return nil, nil
	}
	step := i.script[min(i.calls, len(i.script)-1)]
	i.calls++
	return step.cand, step.err
}

type recordingJournal struct {
	mu   sync.Mutex
	recs []journal.Record
}

func (j *recordingJournal) Append(_ context.Context, rec journal.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlan() probe.Plan {
	return probe.Plan{
		Name: "create-user",
		Goal: "create a user record",
		Steps: []probe.Step{{
			Name:         "create",
			Method:       "POST",
			Path:         "/api/users",
			Body:         map[string]any{"username": "johndoe"},
			ExpectStatus: 201,
		}},
	}
}

func passOutcome() probe.Outcome {
	return probe.Outcome{
		Passed:      true,
		RawOutput:   `step "create": POST /api/users -> 201 (expected 201)`,
		LastRequest: probe.RequestDetails{Method: "POST", Endpoint: "/api/users"},
	}
}

func failOutcome() probe.Outcome {
	return probe.Outcome{
		Passed:          false,
		RawOutput:       `step "create": POST /api/users -> 400 (expected 201)`,
		FailureArtifact: "PROBE FAILURE: create-user\nexpected 201, got 400\nresponse body: {\"error\": \"name is required\"}",
		LastRequest: probe.RequestDetails{
			Method:      "POST",
			Endpoint:    "/api/users",
			RequestBody: `{"username":"johndoe"}`,
		},
	}
}

func requiredField(parameter string, conf float64) *constraints.Constraint {
	return &constraints.Constraint{
		Endpoint:    "/api/users",
		Parameter:   parameter,
		Kind:        constraints.KindRequiredField,
		Description: parameter + " is required",
		Confidence:  conf,
		Source:      constraints.SourceLearned,
	}
}

// testDeps assembles a minimal wiring over scripted collaborators.
func testDeps(synth *scriptedSynthesizer, exec *scriptedExecutor, interp *scriptedInterpreter) Dependencies {
	logger := quietLogger()
	return Dependencies{
		Spec:        NewStaticSpec(specdoc.MinimalDefault()),
		Synthesizer: synth,
		Executor:    exec,
		Interpreter: interp,
		Model:       constraints.NewModel(constraints.WithLogger(logger)),
		Patterns:    patterns.NewEngine(patterns.WithLogger(logger)),
		Logger:      logger,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestNewController_RequiresWiring(t *testing.T) {
	deps := testDeps(
		&scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}},
		&scriptedExecutor{script: []execStep{{outcome: passOutcome()}}},
		&scriptedInterpreter{},
	)
	deps.Executor = nil

	_, err := NewController(deps, Config{})
	if err == nil {
		t.Fatal("NewController should reject missing executor")
	}
	if kind, ok := faults.KindOf(err); !ok || kind != faults.KindConfiguration {
		t.Errorf("fault kind = %v, want configuration", kind)
	}
}

func TestRun_LearnsConstraintFromFailure(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: failOutcome()}}}
	interp := &scriptedInterpreter{script: []interpretStep{
		{cand: requiredField("name", 0.85)},
		{cand: nil},
	}}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{RunID: "run-learn", AttemptBudget: 5, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Attempt 1 learns; 2-4 add nothing, so the run converges at 4.
	if res.State != StateConverged {
		t.Errorf("State = %s, want CONVERGED", res.State)
	}
	if len(res.History) != 4 {
		t.Fatalf("len(History) = %d, want 4", len(res.History))
	}

	first := res.History[0]
	if !first.NewKnowledge {
		t.Error("first attempt should record new knowledge")
	}
	if first.Passed {
		t.Error("first attempt should be a failure")
	}
	if first.State != StateFailed {
		t.Errorf("first attempt state = %s, want FAILED", first.State)
	}
	if first.ConstraintKind != "required_field" {
		t.Errorf("ConstraintKind = %q, want required_field", first.ConstraintKind)
	}
	if first.PlanName != "create-user" {
		t.Errorf("PlanName = %q, want create-user", first.PlanName)
	}

	if deps.Model.Len() != 1 {
		t.Errorf("model holds %d constraints, want 1", deps.Model.Len())
	}
	if res.Summary.NewConstraints != 1 {
		t.Errorf("Summary.NewConstraints = %d, want 1", res.Summary.NewConstraints)
	}
	if res.Summary.Failed != 4 {
		t.Errorf("Summary.Failed = %d, want 4", res.Summary.Failed)
	}
	if res.Summary.PublishableConstraints != 1 {
		t.Errorf("Summary.PublishableConstraints = %d, want 1", res.Summary.PublishableConstraints)
	}
}

func TestRun_ConvergesAfterWindowWithoutKnowledge(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: passOutcome()}}}
	interp := &scriptedInterpreter{}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{AttemptBudget: 10, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != StateConverged {
		t.Errorf("State = %s, want CONVERGED", res.State)
	}
	if len(res.History) != 3 {
		t.Errorf("len(History) = %d, want 3 (window)", len(res.History))
	}
	if res.Summary.Passed != 3 {
		t.Errorf("Summary.Passed = %d, want 3", res.Summary.Passed)
	}
	if interp.calls != 0 {
		t.Errorf("interpreter called %d times on passing probes, want 0", interp.calls)
	}
}

func TestRun_ExhaustsBudgetWhileLearning(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: failOutcome()}}}
	interp := &scriptedInterpreter{script: []interpretStep{
		{cand: requiredField("name", 0.8)},
		{cand: requiredField("email", 0.8)},
		{cand: requiredField("phone", 0.8)},
		{cand: requiredField("age", 0.8)},
	}}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{AttemptBudget: 4, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != StateExhausted {
		t.Errorf("State = %s, want EXHAUSTED", res.State)
	}
	if len(res.History) != 4 {
		t.Errorf("len(History) = %d, want 4", len(res.History))
	}
	if deps.Model.Len() != 4 {
		t.Errorf("model holds %d constraints, want 4", deps.Model.Len())
	}
	if res.Summary.NewConstraints != 4 {
		t.Errorf("Summary.NewConstraints = %d, want 4", res.Summary.NewConstraints)
	}
}

func TestRun_FallbackProbeOnSynthesisFailure(t *testing.T) {
	synthErr := faults.New(faults.KindOracleFailure, "oracle.scribe", errors.New("oracle unreachable"))
	synth := &scriptedSynthesizer{script: []synthStep{{err: synthErr}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: passOutcome()}}}
	interp := &scriptedInterpreter{}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{AttemptBudget: 5, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(res.History))
	}
	for _, rec := range res.History {
		if !rec.Fallback {
			t.Errorf("attempt %d did not run the fallback probe", rec.Attempt)
		}
	}

	// The minimal default spec has a POST endpoint, so the fallback
	// creates a record there.
	if exec.executed[0] != "fallback-create" {
		t.Errorf("executed plan = %q, want fallback-create", exec.executed[0])
	}

	if got := res.Summary.Faults.ByKind[faults.KindOracleFailure]; got != 3 {
		t.Errorf("oracle faults = %d, want 3", got)
	}
}

func TestRun_DuplicateCandidateMergesAsSuccess(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: failOutcome()}}}
	interp := &scriptedInterpreter{script: []interpretStep{
		{cand: requiredField("name", 0.8)},
		{cand: requiredField("name", 0.8)},
		{cand: nil},
	}}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{AttemptBudget: 6, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if deps.Model.Len() != 1 {
		t.Fatalf("model holds %d constraints, want 1", deps.Model.Len())
	}

	first, second := res.History[0], res.History[1]
	if !first.NewKnowledge || second.NewKnowledge {
		t.Errorf("NewKnowledge = (%v, %v), want (true, false)", first.NewKnowledge, second.NewKnowledge)
	}
	if first.ConstraintID != second.ConstraintID {
		t.Errorf("merge produced a different constraint ID")
	}

	merged, err := deps.Model.Get(first.ConstraintID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if merged.ValidationAttempts != 1 || merged.ValidationSuccesses != 1 {
		t.Errorf("merge counters = (%d, %d), want (1, 1)",
			merged.ValidationAttempts, merged.ValidationSuccesses)
	}
}

func TestRun_ReinforcesTrustedConstraintsOnPass(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: passOutcome()}}}
	interp := &scriptedInterpreter{}
	deps := testDeps(synth, exec, interp)

	trusted, _, err := deps.Model.Add(requiredField("name", 0.9))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	doubtful, _, err := deps.Model.Add(requiredField("phone", 0.5))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctl, err := NewController(deps, Config{AttemptBudget: 1, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateExhausted {
		t.Errorf("State = %s, want EXHAUSTED", res.State)
	}

	got, err := deps.Model.Get(trusted.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ValidationAttempts != 1 || got.ValidationSuccesses != 1 {
		t.Errorf("trusted counters = (%d, %d), want (1, 1)",
			got.ValidationAttempts, got.ValidationSuccesses)
	}

	got, err = deps.Model.Get(doubtful.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ValidationAttempts != 0 {
		t.Errorf("doubtful constraint was reinforced %d times, want 0", got.ValidationAttempts)
	}
}

func TestRun_PersistsSnapshotsEveryAttempt(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewStore(dir, snapshot.WithStoreLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: failOutcome()}}}
	interp := &scriptedInterpreter{script: []interpretStep{{cand: requiredField("name", 0.8)}}}
	deps := testDeps(synth, exec, interp)
	deps.Snapshots = store

	ctl, err := NewController(deps, Config{AttemptBudget: 1, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, snapshot.ModelFile)); err != nil {
		t.Errorf("model snapshot missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, snapshot.PatternsFile)); err != nil {
		t.Errorf("patterns snapshot missing: %v", err)
	}

	snap, err := store.LoadModel(context.Background())
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if snap == nil || snap.Summary.Total != 1 {
		t.Errorf("persisted snapshot should hold 1 constraint")
	}
}

func TestRun_JournalsEveryAttempt(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: passOutcome()}}}
	interp := &scriptedInterpreter{}
	jnl := &recordingJournal{}
	deps := testDeps(synth, exec, interp)
	deps.Journal = jnl

	ctl, err := NewController(deps, Config{RunID: "run-journal", AttemptBudget: 2, ConvergenceWindow: 5})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(jnl.recs) != 2 {
		t.Fatalf("journal holds %d records, want 2", len(jnl.recs))
	}
	for i, rec := range jnl.recs {
		if rec.RunID != "run-journal" {
			t.Errorf("record %d RunID = %q", i, rec.RunID)
		}
		if rec.Attempt != i+1 {
			t.Errorf("record %d Attempt = %d, want %d", i, rec.Attempt, i+1)
		}
		if !rec.Passed {
			t.Errorf("record %d should be a pass", i)
		}
	}
}

func TestRun_ExecutionErrorIsFaultNotCandidate(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{err: errors.New("connection refused")}}}
	interp := &scriptedInterpreter{}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{AttemptBudget: 5, ConvergenceWindow: 3})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	res, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != StateConverged {
		t.Errorf("State = %s, want CONVERGED", res.State)
	}
	if interp.calls != 0 {
		t.Errorf("interpreter called %d times without an artifact, want 0", interp.calls)
	}
	if got := res.Summary.Faults.ByKind[faults.KindExecutionFailure]; got != 3 {
		t.Errorf("execution faults = %d, want 3", got)
	}
	if res.History[0].State != StateFailed {
		t.Errorf("attempt state = %s, want FAILED", res.History[0].State)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: passOutcome()}}}
	interp := &scriptedInterpreter{}
	deps := testDeps(synth, exec, interp)

	ctl, err := NewController(deps, Config{})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ctl.Run(ctx)
	if err == nil {
		t.Fatal("Run should surface cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if res == nil || len(res.History) != 0 {
		t.Error("cancelled run should return an empty history")
	}
}

func TestRun_EmitsAttemptEvents(t *testing.T) {
	synth := &scriptedSynthesizer{script: []synthStep{{plan: testPlan()}}}
	exec := &scriptedExecutor{script: []execStep{{outcome: passOutcome()}}}
	interp := &scriptedInterpreter{}
	deps := testDeps(synth, exec, interp)

	var events []AttemptRecord
	ctl, err := NewController(deps, Config{AttemptBudget: 2, ConvergenceWindow: 5},
		WithOnAttempt(func(rec AttemptRecord) {
			events = append(events, rec)
		}),
	)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("observed %d attempt events, want 2", len(events))
	}
	if events[0].Attempt != 1 || events[1].Attempt != 2 {
		t.Errorf("event attempts = (%d, %d), want (1, 2)", events[0].Attempt, events[1].Attempt)
	}
}
