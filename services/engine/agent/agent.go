// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent drives the learning loop against a target API.
//
// The loop is a small state machine: INIT, PROBING, PASSED, FAILED,
// and the terminal states CONVERGED and EXHAUSTED. Each attempt
// synthesizes a probe from the enhanced spec, executes it, and hands
// failures to the interpreter; surviving candidates land in the
// constraint model. Collaborators are injected through Dependencies,
// so the loop itself never touches the network, the oracle, or disk.
//
// Thread Safety:
//
//	A Controller runs one loop at a time. Collaborators must be safe
//	for concurrent use when shared across controllers.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/Sounder/services/engine/config"
	"github.com/AleutianAI/Sounder/services/engine/confidence"
	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/faults"
	"github.com/AleutianAI/Sounder/services/engine/journal"
	"github.com/AleutianAI/Sounder/services/engine/oracle"
	"github.com/AleutianAI/Sounder/services/engine/patterns"
	"github.com/AleutianAI/Sounder/services/engine/probe"
	"github.com/AleutianAI/Sounder/services/engine/snapshot"
	"github.com/AleutianAI/Sounder/services/engine/specdoc"
	"github.com/AleutianAI/Sounder/services/engine/telemetry"
)

// SpecProvider hands out the structured API description.
//
// Implementations return the base document; the loop layers learned
// rules on top per attempt.
type SpecProvider interface {
	// Spec returns the base API description. Callers must not
	// modify the returned document.
	Spec() *specdoc.Document
}

// StaticSpec is a SpecProvider over a fixed document.
type StaticSpec struct {
	doc *specdoc.Document
}

// NewStaticSpec wraps a document. A nil document becomes the minimal
// default.
func NewStaticSpec(doc *specdoc.Document) *StaticSpec {
	if doc == nil {
		doc = specdoc.MinimalDefault()
	}
	return &StaticSpec{doc: doc}
}

// Spec implements SpecProvider.
func (s *StaticSpec) Spec() *specdoc.Document {
	return s.doc
}

// Synthesizer turns a goal and an enhanced spec into a probe plan.
//
// oracle.Scribe is the production implementation.
type Synthesizer interface {
	Synthesize(ctx context.Context, enhanced *specdoc.Document, goal string) (probe.Plan, error)
}

// Executor runs a probe plan against the target.
//
// An ordinary failed probe is an Outcome, not an error; errors are
// reserved for transport and environment problems. probe.Executor is
// the production implementation.
type Executor interface {
	Execute(ctx context.Context, plan probe.Plan) (probe.Outcome, error)
}

// Interpreter extracts a candidate constraint from a failure
// artifact. All artifact parsing lives behind this boundary; the loop
// never inspects raw probe output. oracle.Interpreter is the
// production implementation.
type Interpreter interface {
	Interpret(ctx context.Context, goal string, plan probe.Plan, request probe.RequestDetails, artifact string) (*constraints.Constraint, error)
}

// Reporter ships per-attempt analytics points. telemetry's Influx
// reporter is the production implementation.
type Reporter interface {
	Report(ctx context.Context, point telemetry.AttemptPoint) error
}

// Journaler appends attempt records to the durable journal.
type Journaler interface {
	Append(ctx context.Context, rec journal.Record) error
}

// Dependencies carries the loop's collaborators.
//
// Spec, Synthesizer, Executor, Interpreter, and Model are required.
// Patterns, Snapshots, Journal, Reporter, Tracker, and Metrics are
// optional; a nil value disables that concern.
type Dependencies struct {
	// Spec provides the base API description.
	Spec SpecProvider

	// Synthesizer builds probe plans.
	Synthesizer Synthesizer

	// Executor runs probe plans.
	Executor Executor

	// Interpreter turns failure artifacts into candidates.
	Interpreter Interpreter

	// Model stores learned constraints.
	Model *constraints.Model

	// Tracker computes confidence analyses and recommendations for
	// the final summary.
	Tracker *confidence.Tracker

	// Patterns discovers cross-endpoint structure.
	Patterns *patterns.Engine

	// Snapshots persists the model and pattern knowledge.
	Snapshots *snapshot.Store

	// Journal records every attempt durably.
	Journal Journaler

	// Reporter ships analytics points.
	Reporter Reporter

	// Metrics records loop instruments.
	Metrics *telemetry.Metrics

	// Logger receives loop events. Nil means slog.Default.
	Logger *slog.Logger

	closers []func() error
}

// Validate checks the required collaborators are wired.
func (d *Dependencies) Validate() error {
	switch {
	case d.Spec == nil:
		return faults.New(faults.KindConfiguration, "agent.deps", fmt.Errorf("spec provider is required"))
	case d.Synthesizer == nil:
		return faults.New(faults.KindConfiguration, "agent.deps", fmt.Errorf("synthesizer is required"))
	case d.Executor == nil:
		return faults.New(faults.KindConfiguration, "agent.deps", fmt.Errorf("executor is required"))
	case d.Interpreter == nil:
		return faults.New(faults.KindConfiguration, "agent.deps", fmt.Errorf("interpreter is required"))
	case d.Model == nil:
		return faults.New(faults.KindConfiguration, "agent.deps", fmt.Errorf("constraint model is required"))
	}
	return nil
}

// Close releases collaborators the factory opened. Safe on
// hand-assembled Dependencies.
func (d *Dependencies) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BuildDependencies wires production collaborators from configuration.
//
// Description:
//
//	Loads the spec (repairing recoverable defects), selects the oracle
//	backend, builds the scribe, interpreter, and executor, opens
//	snapshot storage and the attempt journal, and restores any
//	previously learned model and pattern knowledge. Optional concerns
//	(GCS archive, Influx reporting) are wired only when configured.
//	Metrics are attached by the caller after telemetry init.
//
// Inputs:
//
//	ctx - Governs restore reads during construction.
//	cfg - Validated engine configuration.
//	runID - The run the journal will record under.
//	logger - Destination for loop events. Nil means slog.Default.
//
// Outputs:
//
//	*Dependencies - Ready for NewController. Callers own Close.
//	error - Non-nil when a required collaborator cannot be built.
func BuildDependencies(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger) (*Dependencies, error) {
	if cfg == nil {
		return nil, faults.New(faults.KindConfiguration, "agent.deps", fmt.Errorf("config is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	doc := specdoc.MinimalDefault()
	if cfg.Target.SpecPath != "" {
		loaded, err := specdoc.Load(cfg.Target.SpecPath)
		if err != nil {
			logger.Warn("spec loaded with defects",
				slog.String("path", cfg.Target.SpecPath),
				slog.String("error", err.Error()),
			)
		}
		doc = loaded
	}

	client, err := buildOracleClient(cfg.Oracle)
	if err != nil {
		return nil, err
	}

	tracker := confidence.NewTracker()
	model := constraints.NewModel(
		constraints.WithEvaluator(tracker),
		constraints.WithLogger(logger),
	)
	engine := patterns.NewEngine(patterns.WithLogger(logger))

	deps := &Dependencies{
		Spec: NewStaticSpec(doc),
		Synthesizer: oracle.NewScribe(client,
			oracle.WithScribeLogger(logger),
			oracle.WithScribeTimeout(cfg.Oracle.Timeout()),
		),
		Interpreter: oracle.NewInterpreter(client,
			oracle.WithInterpreterLogger(logger),
			oracle.WithInterpreterTimeout(cfg.Oracle.Timeout()),
		),
		Executor: probe.NewExecutor(cfg.Target.BaseURL,
			probe.WithTimeout(cfg.Learning.ProbeTimeout()),
			probe.WithExecutorLogger(logger),
		),
		Model:    model,
		Tracker:  tracker,
		Patterns: engine,
		Logger:   logger,
	}

	storeOpts := []snapshot.StoreOption{snapshot.WithStoreLogger(logger)}
	if cfg.Archive.Bucket != "" {
		archiver, err := snapshot.NewGCSArchiver(ctx, cfg.Archive.Bucket, cfg.Archive.CredentialsPath)
		if err != nil {
			return nil, faults.New(faults.KindConfiguration, "agent.deps", err)
		}
		deps.closers = append(deps.closers, archiver.Close)
		storeOpts = append(storeOpts, snapshot.WithArchiver(archiver, cfg.Archive.Prefix))
	}
	store, err := snapshot.NewStore(cfg.Storage.SnapshotDir(), storeOpts...)
	if err != nil {
		return nil, faults.New(faults.KindStorageFailure, "agent.deps", err)
	}
	deps.Snapshots = store

	if err := restoreKnowledge(ctx, deps); err != nil {
		return nil, err
	}

	jcfg := journal.DefaultConfig(cfg.Storage.JournalDir(), runID)
	jcfg.Logger = logger
	jnl, err := journal.Open(jcfg)
	if err != nil {
		return nil, faults.New(faults.KindStorageFailure, "agent.deps", err)
	}
	deps.Journal = jnl
	deps.closers = append(deps.closers, jnl.Close)

	if cfg.Influx.Enabled {
		reporter, err := telemetry.NewInfluxReporter(
			cfg.Influx.URL,
			os.Getenv("SOUNDER_INFLUX_TOKEN"),
			cfg.Influx.Org,
			cfg.Influx.Bucket,
			telemetry.WithInfluxLogger(logger),
		)
		if err != nil {
			return nil, faults.New(faults.KindConfiguration, "agent.deps", err)
		}
		deps.Reporter = reporter
		deps.closers = append(deps.closers, func() error {
			reporter.Close()
			return nil
		})
	}

	return deps, nil
}

// buildOracleClient selects the generation backend.
func buildOracleClient(cfg config.OracleConfig) (oracle.Client, error) {
	switch cfg.Backend {
	case "ollama":
		client, err := oracle.NewOllamaClient(cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, faults.New(faults.KindConfiguration, "agent.deps", err)
		}
		return client, nil
	case "openai":
		key, err := oracle.SealedOpenAIKey()
		if err != nil {
			return nil, faults.New(faults.KindConfiguration, "agent.deps", err)
		}
		client, err := oracle.NewOpenAIClient(cfg.Model, key)
		if err != nil {
			return nil, faults.New(faults.KindConfiguration, "agent.deps", err)
		}
		return client, nil
	default:
		return nil, faults.New(faults.KindConfiguration, "agent.deps",
			fmt.Errorf("unknown oracle backend %q", cfg.Backend))
	}
}

// restoreKnowledge resumes from the last snapshot set, if present.
func restoreKnowledge(ctx context.Context, deps *Dependencies) error {
	snap, err := deps.Snapshots.LoadModel(ctx)
	if err != nil {
		return faults.New(faults.KindStorageFailure, "agent.restore", err)
	}
	if snap != nil {
		if err := deps.Model.Restore(snap); err != nil {
			return faults.New(faults.KindStorageFailure, "agent.restore", err)
		}
		deps.Logger.Info("restored learned model",
			slog.Int("constraints", deps.Model.Len()),
		)
	}

	export, err := deps.Snapshots.LoadPatterns(ctx)
	if err != nil {
		return faults.New(faults.KindStorageFailure, "agent.restore", err)
	}
	if export != nil {
		deps.Patterns.Import(export)
		deps.Logger.Info("restored pattern knowledge",
			slog.Int("patterns", deps.Patterns.Len()),
		)
	}
	return nil
}
