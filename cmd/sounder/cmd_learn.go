// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Sounder/pkg/logging"
	"github.com/AleutianAI/Sounder/pkg/ux"
	"github.com/AleutianAI/Sounder/services/engine/agent"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runLearnCommand executes one learning session and reports the result.
//
// # Description
//
// Builds the full collaborator set from configuration, runs the
// learning loop against the target API, and prints per-attempt
// progress plus the final summary. On a terminal the progress renders
// as a live view; otherwise attempts print as plain lines.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Outputs
//
// Prints the run result to stdout. Exits non-zero when the run fails
// or is interrupted.
func runLearnCommand(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	if learnAttempts > 0 {
		cfg.Learning.AttemptBudget = learnAttempts
	}
	if learnWindow > 0 {
		cfg.Learning.ConvergenceWindow = learnWindow
	}

	interactive := !learnPlain && !learnJSON && ux.ShouldShowProgress() &&
		(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

	// The live view owns the terminal, so engine logs go to file only.
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  engineLogDir(cfg),
		Service: "engine",
		Quiet:   interactive || learnJSON,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := learnRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	deps, err := agent.BuildDependencies(ctx, cfg, runID, logger.Slog())
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot assemble the learning loop: %v", err))
		os.Exit(1)
	}
	defer deps.Close()

	runCfg := agent.Config{
		RunID:             runID,
		Goal:              learnGoal,
		AttemptBudget:     cfg.Learning.AttemptBudget,
		ConvergenceWindow: cfg.Learning.ConvergenceWindow,
	}

	var res *agent.RunResult
	if interactive {
		res, err = runLearnInteractive(ctx, *deps, runCfg)
	} else {
		res, err = runLearnPlain(ctx, *deps, runCfg)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		ux.Warning("Run interrupted")
	default:
		ux.Error(fmt.Sprintf("Learning run failed: %v", err))
	}

	if res != nil {
		if learnJSON {
			outputJSON(res)
		} else {
			printRunResult(res)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

// runLearnPlain runs the loop with line-oriented progress output.
func runLearnPlain(ctx context.Context, deps agent.Dependencies, runCfg agent.Config) (*agent.RunResult, error) {
	opts := []agent.ControllerOption{}
	if !learnJSON {
		opts = append(opts, agent.WithOnAttempt(printAttempt))
	}
	ctrl, err := agent.NewController(deps, runCfg, opts...)
	if err != nil {
		return nil, err
	}
	if !learnJSON {
		ux.Title("Sounder learning run")
		ux.Muted("run " + ctrl.RunID())
	}
	return ctrl.Run(ctx)
}

// printAttempt renders one finished attempt as a line.
func printAttempt(rec agent.AttemptRecord) {
	switch {
	case rec.NewKnowledge:
		ux.Success(fmt.Sprintf("attempt %d: %s uncovered a %s constraint",
			rec.Attempt, rec.PlanName, rec.ConstraintKind))
	case rec.ConstraintID != "":
		ux.Info(fmt.Sprintf("attempt %d: %s reconfirmed %s",
			rec.Attempt, rec.PlanName, rec.ConstraintKind))
	case rec.Passed:
		ux.Info(fmt.Sprintf("attempt %d: %s passed", rec.Attempt, rec.PlanName))
	case rec.Fault != "":
		ux.Warning(fmt.Sprintf("attempt %d: %s", rec.Attempt, rec.Fault))
	default:
		ux.Info(fmt.Sprintf("attempt %d: %s failed without new knowledge",
			rec.Attempt, rec.PlanName))
	}
}

// printRunResult renders the final summary.
func printRunResult(res *agent.RunResult) {
	merged := 0
	for _, rec := range res.History {
		if rec.ConstraintID != "" && !rec.NewKnowledge {
			merged++
		}
	}

	ux.Title(fmt.Sprintf("Run %s finished: %s in %s",
		res.RunID, res.State, res.Duration.Round(time.Millisecond)))
	ux.RunSummary(res.Summary.NewConstraints, merged, res.Summary.Attempts)
	ux.Muted(fmt.Sprintf("%d constraints total, %d publishable, %d patterns discovered",
		res.Summary.TotalConstraints,
		res.Summary.PublishableConstraints,
		res.Summary.PatternsDiscovered,
	))
	if res.Summary.Faults.Total > 0 {
		ux.Warning(fmt.Sprintf("%d faults during the run", res.Summary.Faults.Total))
	}
	for _, rec := range res.Summary.Recommendations {
		ux.Info(fmt.Sprintf("%s: %s.%s (%s)",
			rec.Type, rec.Endpoint, rec.Parameter, rec.Reason))
	}
}
