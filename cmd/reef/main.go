// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command reef starts the practice API the engine learns against.
//
// The server enforces hidden request constraints (required fields,
// conditional requirements, mutual exclusivity, formats, rate limits)
// and reports violations one at a time, which is exactly the surface
// a learning run probes.
//
// # Usage
//
//	# Build
//	go build -o reef ./cmd/reef
//
//	# Run with defaults (port 5001, built-in rules)
//	./reef
//
//	# Run with a rule fixture that hot-reloads on edit
//	./reef -rules scenarios/strict.yaml
//
// # Flags
//
//   - -port: HTTP listen port (default: 5001)
//   - -rules: YAML rule fixture to load and watch (optional)
//   - -log-dir: directory for JSON log files (optional)
//   - -debug: enable gin debug mode
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Sounder/pkg/logging"
	"github.com/AleutianAI/Sounder/services/reef"
)

func main() {
	port := flag.Int("port", 5001, "Port to listen on")
	rulesPath := flag.String("rules", "", "YAML rule fixture to load and watch")
	logDir := flag.String("log-dir", "", "Directory for JSON log files")
	debug := flag.Bool("debug", false, "Enable gin debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  *logDir,
		Service: "reef",
		JSON:    true,
	})
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The reload hook needs the server, and the server needs the rules.
	// The hook only fires from Watch, which starts after srv is set.
	var srv *reef.Server
	rules := reef.NewRules(
		reef.WithRulesLogger(slogger),
		reef.WithOnReload(func(set reef.RuleSet) {
			if srv != nil {
				srv.ApplyRules(set)
			}
		}),
	)
	srv = reef.NewServer(rules, reef.WithServerLogger(slogger))

	if *rulesPath != "" {
		if err := rules.Watch(ctx, *rulesPath); err != nil {
			slogger.Error("rule watcher failed to start", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	addr := fmt.Sprintf(":%d", *port)
	slogger.Info("starting reef practice API",
		slog.String("address", addr),
		slog.String("rules", *rulesPath),
	)
	if err := srv.Run(ctx, addr); err != nil {
		slogger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
