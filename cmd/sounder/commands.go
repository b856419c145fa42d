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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Sounder/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	// learn
	learnGoal     string
	learnAttempts int
	learnWindow   int
	learnRunID    string
	learnPlain    bool
	learnJSON     bool

	// patterns / predict / export
	patternsJSON  bool
	predictParams []string
	predictJSON   bool
	exportOutput  string
	exportFormat  string

	// serve
	servePort int

	// doctor
	doctorJSON bool

	// reset
	resetForce bool

	rootCmd = &cobra.Command{
		Use:   "sounder",
		Short: "A cli to probe APIs and learn their hidden request constraints",
		Long: `Sounder runs a learning loop against a target API: it synthesizes
				probes, interprets the failures, and grows a constraint model it
				can inspect, export, predict from, and serve.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Learning ---
	learnCmd = &cobra.Command{
		Use:   "learn",
		Short: "Run a learning session against the target API",
		Run:   runLearnCommand, // Defined in cmd_learn.go
	}

	// --- Knowledge inspection ---
	patternsCmd = &cobra.Command{
		Use:   "patterns",
		Short: "Show the cross-endpoint patterns discovered so far",
		Run:   runPatternsCommand, // Defined in cmd_knowledge.go
	}
	predictCmd = &cobra.Command{
		Use:   "predict [endpoint]",
		Short: "Predict which constraints an endpoint likely carries",
		Args:  cobra.ExactArgs(1),
		Run:   runPredictCommand, // Defined in cmd_knowledge.go
	}
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the API spec enhanced with learned rules",
		Run:   runExportCommand, // Defined in cmd_knowledge.go
	}

	// --- Serving ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the learned knowledge over HTTP",
		Long: `Starts the knowledge API: model and pattern reads, predictions,
				the enhanced spec, run launching, and a websocket stream of
				attempt events for runs in flight.`,
		Run: runServeCommand, // Defined in cmd_serve.go
	}

	// --- Utilities ---
	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to the target API, oracle, and telemetry",
		Run:   runDoctorCommand, // Defined in cmd_doctor.go
	}
	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "DANGER: Deletes all learned knowledge and the attempt journal",
		Run:   runResetCommand, // Defined in cmd_reset.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default: ~/.sounder/sounder.yaml)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich nautical), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(learnCmd)
	learnCmd.Flags().StringVarP(&learnGoal, "goal", "g", "",
		"Learning goal steering probe synthesis")
	learnCmd.Flags().IntVarP(&learnAttempts, "attempts", "a", 0,
		"Attempt budget for this run (default: from config)")
	learnCmd.Flags().IntVar(&learnWindow, "window", 0,
		"Consecutive attempts without new knowledge that end the run early (default: from config)")
	learnCmd.Flags().StringVar(&learnRunID, "run-id", "",
		"Run identifier (default: fresh UUID)")
	learnCmd.Flags().BoolVar(&learnPlain, "plain", false,
		"Disable the live progress view even on a terminal")
	learnCmd.Flags().BoolVar(&learnJSON, "json", false,
		"Print the run result as JSON for scripting")

	rootCmd.AddCommand(patternsCmd)
	patternsCmd.Flags().BoolVar(&patternsJSON, "json", false,
		"Output as JSON for scripting")

	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().StringSliceVarP(&predictParams, "params", "p", nil,
		"Parameters the target endpoint accepts (comma separated)")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false,
		"Output as JSON for scripting")

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"Write to a file instead of stdout")
	exportCmd.Flags().StringVar(&exportFormat, "format", "yaml",
		"Output format: yaml or json")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"Listen port (default: from config)")

	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false,
		"Output as JSON for scripting")

	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false,
		"Skip the confirmation prompt")
}
