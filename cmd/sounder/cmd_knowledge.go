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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Sounder/pkg/ux"
	"github.com/AleutianAI/Sounder/services/engine/config"
	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/patterns"
	"github.com/AleutianAI/Sounder/services/engine/specdoc"
)

// =============================================================================
// PATTERNS
// =============================================================================

// runPatternsCommand prints the persisted cross-endpoint patterns.
func runPatternsCommand(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	store := mustOpenStore(cfg)

	export, err := store.LoadPatterns(context.Background())
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read pattern knowledge: %v", err))
		os.Exit(1)
	}
	if export == nil || len(export.Patterns) == 0 {
		ux.Muted("No patterns discovered yet. Run `sounder learn` first.")
		return
	}

	if patternsJSON {
		outputJSON(export)
		return
	}

	ux.Title(fmt.Sprintf("%d cross-endpoint patterns", export.Summary.TotalPatterns))
	for _, p := range export.Patterns {
		ux.Info(fmt.Sprintf("%s  [%s] confidence %.2f, %d supporting constraints",
			p.ID, p.Type, p.Confidence, len(p.SupportingConstraints)))
		ux.Muted("    " + p.Description)
	}
	ux.Muted(fmt.Sprintf("covers %d endpoints, %d parameters",
		len(export.Summary.EndpointCoverage),
		len(export.Summary.ParameterCoverage),
	))
}

// =============================================================================
// PREDICT
// =============================================================================

// runPredictCommand projects the stored patterns onto a target endpoint.
func runPredictCommand(cmd *cobra.Command, args []string) {
	endpoint := args[0]
	cfg := mustLoadConfig()
	store := mustOpenStore(cfg)

	export, err := store.LoadPatterns(context.Background())
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read pattern knowledge: %v", err))
		os.Exit(1)
	}

	engine := patterns.NewEngine(patterns.WithLogger(quietSlog()))
	if export != nil {
		engine.Import(export)
	}
	preds := engine.Predict(endpoint, predictParams)

	if predictJSON {
		outputJSON(preds)
		return
	}
	if len(preds) == 0 {
		ux.Muted(fmt.Sprintf("No stored pattern applies to %s.", endpoint))
		return
	}

	ux.Title(fmt.Sprintf("%d predictions for %s", len(preds), endpoint))
	for _, p := range preds {
		ux.Info(fmt.Sprintf("[%s] confidence %.2f (applicability %.2f)",
			p.Type, p.Confidence, p.Applicability))
		ux.Muted("    " + p.Description)
		for _, s := range p.Suggestions {
			switch {
			case s.Parameter != "":
				ux.Muted(fmt.Sprintf("    %s try %s on %q: %s",
					ux.IconArrow, s.Kind, s.Parameter, s.Reasoning))
			case len(s.Parameters) > 0:
				ux.Muted(fmt.Sprintf("    %s try %s across %v: %s",
					ux.IconArrow, s.Kind, s.Parameters, s.Reasoning))
			default:
				ux.Muted(fmt.Sprintf("    %s try %s: %s",
					ux.IconArrow, s.Kind, s.Reasoning))
			}
		}
	}
}

// =============================================================================
// EXPORT
// =============================================================================

// runExportCommand renders the spec enhanced with learned rules.
func runExportCommand(cmd *cobra.Command, args []string) {
	if exportFormat != "yaml" && exportFormat != "json" {
		ux.Error(fmt.Sprintf("Unknown format %q: want yaml or json", exportFormat))
		os.Exit(1)
	}

	cfg := mustLoadConfig()
	store := mustOpenStore(cfg)

	model := constraints.NewModel(constraints.WithLogger(quietSlog()))
	snap, err := store.LoadModel(context.Background())
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read the learned model: %v", err))
		os.Exit(1)
	}
	if snap != nil {
		if err := model.Restore(snap); err != nil {
			ux.Error(fmt.Sprintf("Learned model snapshot is unusable: %v", err))
			os.Exit(1)
		}
	}

	enhanced := model.EnhancedView(baseSpec(cfg))

	var data []byte
	switch exportFormat {
	case "yaml":
		data, err = enhanced.RenderYAML()
	case "json":
		data, err = json.MarshalIndent(enhanced.Render(), "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot render the enhanced spec: %v", err))
		os.Exit(1)
	}

	if exportOutput == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(exportOutput, data, 0644); err != nil {
		ux.Error(fmt.Sprintf("Cannot write %s: %v", exportOutput, err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Wrote %s with %d published rules",
		exportOutput, model.CountPublishable()))
}

// baseSpec loads the configured spec document, falling back to the
// built-in minimal one the same way the learning loop does.
func baseSpec(cfg *config.Config) *specdoc.Document {
	if cfg.Target.SpecPath == "" {
		return specdoc.MinimalDefault()
	}
	doc, err := specdoc.Load(cfg.Target.SpecPath)
	if err != nil {
		ux.Warning(fmt.Sprintf("Spec loaded with defects: %v", err))
	}
	return doc
}
