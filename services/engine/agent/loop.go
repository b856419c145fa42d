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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/Sounder/services/engine/confidence"
	"github.com/AleutianAI/Sounder/services/engine/faults"
	"github.com/AleutianAI/Sounder/services/engine/journal"
	"github.com/AleutianAI/Sounder/services/engine/probe"
	"github.com/AleutianAI/Sounder/services/engine/telemetry"
)

// tracerName identifies loop spans.
const tracerName = "sounder.agent"

// reinforceThreshold gates the optimistic reinforcement pass. Probes
// are shaped by constraints above this confidence, so a passing probe
// counts as weak positive evidence for each of them. The bias is
// deliberate: it rewards rules that keep probes passing even when a
// given probe never touched them.
const reinforceThreshold = 0.7

// defaultGoal seeds runs that do not name one.
const defaultGoal = "discover undocumented request constraints"

// Config bounds one learning run.
type Config struct {
	// RunID identifies the run. Empty means a fresh UUID.
	RunID string

	// Goal steers probe synthesis.
	Goal string

	// AttemptBudget caps attempts. Zero means 5.
	AttemptBudget int

	// ConvergenceWindow is how many consecutive attempts without new
	// knowledge end the run early. Zero means 3.
	ConvergenceWindow int
}

// setDefaults fills unset fields.
func (c *Config) setDefaults() {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Goal == "" {
		c.Goal = defaultGoal
	}
	if c.AttemptBudget <= 0 {
		c.AttemptBudget = 5
	}
	if c.ConvergenceWindow <= 0 {
		c.ConvergenceWindow = 3
	}
}

// AttemptRecord is the history entry for one attempt.
type AttemptRecord struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`

	// State is the loop state the attempt ended in.
	State State `json:"state"`

	// PlanName names the executed probe plan.
	PlanName string `json:"plan_name"`

	// Fallback marks attempts that ran the deterministic fallback
	// probe after synthesis failed.
	Fallback bool `json:"fallback,omitempty"`

	// Passed reports whether the probe met every expectation.
	Passed bool `json:"passed"`

	// NewKnowledge reports whether this attempt grew the model.
	NewKnowledge bool `json:"new_knowledge"`

	// ConstraintID is the learned or reconfirmed constraint, if any.
	ConstraintID string `json:"constraint_id,omitempty"`

	// ConstraintKind is its kind.
	ConstraintKind string `json:"constraint_kind,omitempty"`

	// Fault carries the last fault message of the attempt.
	Fault string `json:"fault,omitempty"`

	// DurationMS is how long the attempt took.
	DurationMS int64 `json:"duration_ms"`
}

// Summary aggregates a finished run.
type Summary struct {
	Attempts               int                         `json:"attempts"`
	Passed                 int                         `json:"passed"`
	Failed                 int                         `json:"failed"`
	NewConstraints         int                         `json:"new_constraints"`
	TotalConstraints       int                         `json:"total_constraints"`
	PublishableConstraints int                         `json:"publishable_constraints"`
	PatternsDiscovered     int                         `json:"patterns_discovered"`
	Faults                 faults.Stats                `json:"faults"`
	Recommendations        []confidence.Recommendation `json:"recommendations,omitempty"`
}

// RunResult is the outcome of one learning run.
type RunResult struct {
	RunID     string          `json:"run_id"`
	Goal      string          `json:"goal"`
	State     State           `json:"state"`
	History   []AttemptRecord `json:"history"`
	Summary   Summary         `json:"summary"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithOnAttempt registers an observer called after every attempt,
// from the loop goroutine. The server uses this to stream run events.
func WithOnAttempt(fn func(AttemptRecord)) ControllerOption {
	return func(c *Controller) {
		c.onAttempt = fn
	}
}

// Controller runs the learning loop.
//
// Description:
//
//	Each attempt renders the enhanced spec, synthesizes a probe (or
//	falls back to the deterministic one), executes it, and routes the
//	result: passes reinforce trusted constraints, failures go to the
//	interpreter and surviving candidates into the model. Progress is
//	snapshotted and journaled after every attempt, so a killed run
//	loses at most one attempt of knowledge.
//
// Thread Safety:
//
//	Run must not be called concurrently on one Controller.
type Controller struct {
	deps      Dependencies
	cfg       Config
	sm        *StateMachine
	logger    *slog.Logger
	collector *faults.Collector
	onAttempt func(AttemptRecord)

	// knownPatterns tracks pattern IDs already counted in metrics.
	knownPatterns map[string]bool
}

// NewController validates the wiring and builds a Controller.
func NewController(deps Dependencies, cfg Config, opts ...ControllerOption) (*Controller, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		deps:          deps,
		cfg:           cfg,
		sm:            NewStateMachine(),
		logger:        logger.With(slog.String("run_id", cfg.RunID)),
		collector:     faults.NewCollector(),
		knownPatterns: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunID returns the run identifier.
func (c *Controller) RunID() string {
	return c.cfg.RunID
}

// Run executes the learning loop until convergence, exhaustion, or
// cancellation.
//
// Outputs:
//
//	*RunResult - Always populated, including on cancellation: the
//	final snapshots and summary are written before returning.
//	error - Non-nil for cancellation or a broken state machine.
func (c *Controller) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{
		RunID:     c.cfg.RunID,
		Goal:      c.cfg.Goal,
		State:     StateInit,
		StartedAt: start.UTC(),
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", c.cfg.RunID),
		attribute.String("goal", c.cfg.Goal),
	)

	c.logger.Info("learning run starting",
		slog.String("goal", c.cfg.Goal),
		slog.Int("attempt_budget", c.cfg.AttemptBudget),
		slog.Int("convergence_window", c.cfg.ConvergenceWindow),
		slog.Int("known_constraints", c.deps.Model.Len()),
	)

	if err := c.shift(res, StateProbing, "run started"); err != nil {
		return res, err
	}

	zeroNew := 0
	for attempt := 1; attempt <= c.cfg.AttemptBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("run cancelled", slog.Int("attempts_completed", attempt-1))
			c.finish(ctx, res, start)
			return res, fmt.Errorf("run %s cancelled: %w", c.cfg.RunID, err)
		}

		rec := c.attempt(ctx, attempt, res)
		res.History = append(res.History, rec)
		if c.onAttempt != nil {
			c.onAttempt(rec)
		}

		if rec.NewKnowledge {
			zeroNew = 0
		} else {
			zeroNew++
		}

		var err error
		switch {
		case zeroNew >= c.cfg.ConvergenceWindow:
			err = c.shift(res, StateConverged,
				fmt.Sprintf("%d attempts without new knowledge", zeroNew))
		case attempt == c.cfg.AttemptBudget:
			err = c.shift(res, StateExhausted, "attempt budget spent")
		default:
			err = c.shift(res, StateProbing, "next attempt")
		}
		if err != nil {
			c.finish(ctx, res, start)
			return res, err
		}
		if res.State.IsTerminal() {
			break
		}
	}

	c.finish(ctx, res, start)
	span.SetAttributes(
		attribute.String("final_state", res.State.String()),
		attribute.Int("attempts", res.Summary.Attempts),
		attribute.Int("new_constraints", res.Summary.NewConstraints),
	)
	return res, nil
}

// attempt runs one synthesize-execute-interpret cycle.
func (c *Controller) attempt(ctx context.Context, attempt int, res *RunResult) AttemptRecord {
	started := time.Now()
	logger := c.logger.With(slog.Int("attempt", attempt))
	rec := AttemptRecord{Attempt: attempt}

	enhanced := c.deps.Model.EnhancedView(c.deps.Spec.Spec())

	plan, err := c.deps.Synthesizer.Synthesize(ctx, enhanced, c.cfg.Goal)
	if err != nil {
		c.observe(ctx, err)
		rec.Fault = err.Error()
		plan = probe.Fallback(enhanced)
		rec.Fallback = true
		logger.Warn("synthesis failed, running fallback probe",
			slog.String("error", err.Error()),
			slog.String("plan", plan.Name),
		)
	}
	rec.PlanName = plan.Name

	outcome, execErr := c.deps.Executor.Execute(ctx, plan)
	if execErr != nil {
		fault := faults.New(faults.KindExecutionFailure, "agent.execute", execErr)
		c.observe(ctx, fault)
		rec.Fault = fault.Error()
		logger.Warn("probe execution failed",
			slog.String("plan", plan.Name),
			slog.String("error", execErr.Error()),
		)
	}

	if execErr == nil && outcome.Passed {
		c.shiftLogged(res, StatePassed, "probe met expectations", logger)
		rec.Passed = true
		c.reinforce(logger)
	} else {
		c.shiftLogged(res, StateFailed, "probe failed", logger)
		if execErr == nil {
			c.interpretFailure(ctx, plan, outcome, &rec, logger)
		}
	}
	rec.State = res.State

	c.discoverPatterns(ctx, logger)
	c.persist(ctx)

	rec.DurationMS = time.Since(started).Milliseconds()
	c.record(ctx, rec)
	return rec
}

// interpretFailure routes a failed probe through the interpreter and
// the surviving candidate into the model.
func (c *Controller) interpretFailure(ctx context.Context, plan probe.Plan, outcome probe.Outcome, rec *AttemptRecord, logger *slog.Logger) {
	cand, err := c.deps.Interpreter.Interpret(ctx, c.cfg.Goal, plan, outcome.LastRequest, outcome.FailureArtifact)
	if err != nil {
		c.observe(ctx, err)
		rec.Fault = err.Error()
		return
	}
	if cand == nil {
		logger.Debug("failure yielded no candidate", slog.String("plan", plan.Name))
		return
	}

	stored, created, err := c.deps.Model.Add(cand)
	if err != nil {
		fault := faults.New(faults.KindMalformedCandidate, "agent.add", err)
		c.observe(ctx, fault)
		rec.Fault = fault.Error()
		return
	}

	rec.ConstraintID = stored.ID
	rec.ConstraintKind = stored.Kind.String()
	rec.NewKnowledge = created
	if created {
		logger.Info("new constraint learned",
			slog.String("endpoint", stored.Endpoint),
			slog.String("parameter", stored.Parameter),
			slog.String("kind", stored.Kind.String()),
			slog.Float64("confidence", stored.Confidence),
		)
		if c.deps.Metrics != nil {
			c.deps.Metrics.ConstraintsLearned.Add(ctx, 1,
				metric.WithAttributes(attribute.String("kind", stored.Kind.String())))
		}
	} else {
		logger.Info("constraint reconfirmed",
			slog.String("endpoint", stored.Endpoint),
			slog.String("parameter", stored.Parameter),
			slog.String("kind", stored.Kind.String()),
			slog.Float64("confidence", stored.Confidence),
		)
	}
}

// reinforce records a success for every trusted constraint.
func (c *Controller) reinforce(logger *slog.Logger) {
	count := 0
	for _, cn := range c.deps.Model.All() {
		if cn.Confidence <= reinforceThreshold {
			continue
		}
		if _, err := c.deps.Model.RecordOutcome(cn.ID, true); err == nil {
			count++
		}
	}
	if count > 0 {
		logger.Debug("reinforced trusted constraints", slog.Int("count", count))
	}
}

// discoverPatterns refreshes cross-endpoint patterns from the model.
func (c *Controller) discoverPatterns(ctx context.Context, logger *slog.Logger) {
	if c.deps.Patterns == nil {
		return
	}
	found := c.deps.Patterns.Discover(c.deps.Model.All())
	for _, p := range found {
		if c.knownPatterns[p.ID] {
			continue
		}
		c.knownPatterns[p.ID] = true
		logger.Info("pattern discovered",
			slog.String("pattern", p.ID),
			slog.String("type", string(p.Type)),
			slog.Float64("confidence", p.Confidence),
		)
		if c.deps.Metrics != nil {
			c.deps.Metrics.PatternsDiscovered.Add(ctx, 1,
				metric.WithAttributes(attribute.String("type", string(p.Type))))
		}
	}
}

// persist writes both snapshot documents. Write errors are recorded
// and retried on the next attempt.
func (c *Controller) persist(ctx context.Context) {
	if c.deps.Snapshots == nil {
		return
	}
	if err := c.deps.Snapshots.SaveModel(ctx, c.deps.Model.Snapshot()); err != nil {
		c.observe(ctx, faults.New(faults.KindStorageFailure, "agent.snapshot", err))
	}
	if c.deps.Patterns != nil {
		if err := c.deps.Snapshots.SavePatterns(ctx, c.deps.Patterns.Export()); err != nil {
			c.observe(ctx, faults.New(faults.KindStorageFailure, "agent.snapshot", err))
		}
	}
}

// record journals the attempt, ships the analytics point, and bumps
// the loop instruments.
func (c *Controller) record(ctx context.Context, rec AttemptRecord) {
	now := time.Now().UTC()

	if c.deps.Journal != nil {
		err := c.deps.Journal.Append(ctx, journal.Record{
			RunID:          c.cfg.RunID,
			Attempt:        rec.Attempt,
			At:             now,
			Goal:           c.cfg.Goal,
			PlanName:       rec.PlanName,
			Passed:         rec.Passed,
			ConstraintID:   rec.ConstraintID,
			ConstraintKind: rec.ConstraintKind,
			NewKnowledge:   rec.NewKnowledge,
			Fault:          rec.Fault,
			DurationMS:     rec.DurationMS,
		})
		if err != nil {
			c.observe(ctx, faults.New(faults.KindStorageFailure, "agent.journal", err))
		}
	}

	if c.deps.Reporter != nil {
		err := c.deps.Reporter.Report(ctx, telemetry.AttemptPoint{
			RunID:          c.cfg.RunID,
			Attempt:        rec.Attempt,
			Goal:           c.cfg.Goal,
			PlanName:       rec.PlanName,
			Passed:         rec.Passed,
			NewKnowledge:   rec.NewKnowledge,
			ConstraintKind: rec.ConstraintKind,
			Fault:          rec.Fault,
			Duration:       time.Duration(rec.DurationMS) * time.Millisecond,
			At:             now,
		})
		if err != nil {
			c.logger.Warn("attempt analytics report failed", slog.String("error", err.Error()))
		}
	}

	if c.deps.Metrics != nil {
		outcome := "failed"
		if rec.Passed {
			outcome = "passed"
		}
		c.deps.Metrics.AttemptsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("outcome", outcome)))
		c.deps.Metrics.AttemptDuration.Record(ctx, float64(rec.DurationMS)/1000.0)
	}
}

// observe counts a fault for the summary and the fault instrument.
func (c *Controller) observe(ctx context.Context, err error) {
	c.collector.Record(err)
	if c.deps.Metrics != nil {
		kind := string(faults.KindCritical)
		if k, ok := faults.KindOf(err); ok {
			kind = string(k)
		}
		c.deps.Metrics.FaultsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// shift transitions the run state, failing loudly on a table miss.
func (c *Controller) shift(res *RunResult, to State, reason string) error {
	next, err := c.sm.Transition(res.State, to)
	if err != nil {
		c.collector.Record(faults.New(faults.KindCritical, "agent.transition", err))
		c.logger.Error("state transition rejected",
			slog.String("from", res.State.String()),
			slog.String("to", to.String()),
		)
		return err
	}
	c.logger.Info("state transition",
		slog.String("from", res.State.String()),
		slog.String("to", next.String()),
		slog.String("reason", reason),
	)
	res.State = next
	return nil
}

// shiftLogged is shift with a per-attempt logger. Transitions from
// PROBING to PASSED or FAILED are always in the table, so the error
// only records.
func (c *Controller) shiftLogged(res *RunResult, to State, reason string, logger *slog.Logger) {
	next, err := c.sm.Transition(res.State, to)
	if err != nil {
		c.collector.Record(faults.New(faults.KindCritical, "agent.transition", err))
		logger.Error("state transition rejected",
			slog.String("from", res.State.String()),
			slog.String("to", to.String()),
		)
		return
	}
	logger.Info("state transition",
		slog.String("from", res.State.String()),
		slog.String("to", next.String()),
		slog.String("reason", reason),
	)
	res.State = next
}

// finish writes the terminal snapshots and assembles the summary.
func (c *Controller) finish(ctx context.Context, res *RunResult, start time.Time) {
	// Cancellation must not lose the run's knowledge.
	c.persist(context.WithoutCancel(ctx))

	res.Duration = time.Since(start)
	res.Summary = c.summarize(res.History)

	c.logger.Info("learning run finished",
		slog.String("state", res.State.String()),
		slog.Int("attempts", res.Summary.Attempts),
		slog.Int("passed", res.Summary.Passed),
		slog.Int("failed", res.Summary.Failed),
		slog.Int("new_constraints", res.Summary.NewConstraints),
		slog.Int("total_constraints", res.Summary.TotalConstraints),
		slog.Int("patterns", res.Summary.PatternsDiscovered),
		slog.Int("faults", res.Summary.Faults.Total),
		slog.Duration("duration", res.Duration),
	)
}

// summarize aggregates the run for the final report.
func (c *Controller) summarize(history []AttemptRecord) Summary {
	s := Summary{Attempts: len(history)}
	for _, rec := range history {
		if rec.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		if rec.NewKnowledge {
			s.NewConstraints++
		}
	}

	s.TotalConstraints = c.deps.Model.Len()
	s.PublishableConstraints = c.deps.Model.CountPublishable()
	if c.deps.Patterns != nil {
		s.PatternsDiscovered = c.deps.Patterns.Len()
	}
	s.Faults = c.collector.Stats()

	if c.deps.Tracker != nil {
		all := c.deps.Model.All()
		views := make([]confidence.ConstraintView, 0, len(all))
		for _, cn := range all {
			views = append(views, confidence.ConstraintView{
				ID:         cn.ID,
				Endpoint:   cn.Endpoint,
				Parameter:  cn.Parameter,
				Confidence: cn.Confidence,
			})
		}
		s.Recommendations = c.deps.Tracker.Recommendations(views)
	}
	return s
}
