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
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Sounder/pkg/ux"
	"github.com/AleutianAI/Sounder/services/engine/config"
	"github.com/AleutianAI/Sounder/services/engine/oracle"
	"github.com/AleutianAI/Sounder/services/engine/telemetry"
)

// doctorCheck is one connectivity or readiness probe result.
type doctorCheck struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runDoctorCommand probes everything a learning run depends on and
// reports what is reachable. Exits non-zero when any check fails.
func runDoctorCommand(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checks := []doctorCheck{
		checkTarget(ctx, cfg),
		checkOracle(ctx, cfg),
		checkStorage(cfg),
	}
	if cfg.Telemetry.TraceExporter == "otlp" {
		checks = append(checks, checkOTLP(cfg))
	}
	if cfg.Influx.Enabled {
		checks = append(checks, checkInflux(ctx, cfg))
	}

	healthy := true
	for _, c := range checks {
		if !c.OK {
			healthy = false
		}
	}

	if doctorJSON {
		outputJSON(struct {
			Healthy bool          `json:"healthy"`
			Checks  []doctorCheck `json:"checks"`
		}{Healthy: healthy, Checks: checks})
	} else {
		ux.Title("Sounder doctor")
		for _, c := range checks {
			if c.OK {
				ux.Success(fmt.Sprintf("%-8s %s", c.Name, c.Target))
			} else {
				ux.Error(fmt.Sprintf("%-8s %s: %s", c.Name, c.Target, c.Detail))
			}
		}
	}

	if !healthy {
		os.Exit(1)
	}
}

// =============================================================================
// CHECKS
// =============================================================================

// checkTarget verifies the API under investigation answers /health.
func checkTarget(ctx context.Context, cfg *config.Config) doctorCheck {
	url := strings.TrimRight(cfg.Target.BaseURL, "/") + "/health"
	check := doctorCheck{Name: "target", Target: url}

	if err := getOK(ctx, url); err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	return check
}

// checkOracle verifies the generation backend is usable.
func checkOracle(ctx context.Context, cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "oracle", Target: cfg.Oracle.Backend}

	switch cfg.Oracle.Backend {
	case "ollama":
		url := strings.TrimRight(cfg.Oracle.BaseURL, "/") + "/api/tags"
		check.Target = url
		if err := getOK(ctx, url); err != nil {
			check.Detail = err.Error()
			return check
		}
	case "openai":
		if _, err := oracle.SealedOpenAIKey(); err != nil {
			check.Detail = err.Error()
			return check
		}
	default:
		check.Detail = fmt.Sprintf("unknown backend %q", cfg.Oracle.Backend)
		return check
	}
	check.OK = true
	return check
}

// checkStorage verifies the data directory is writable.
func checkStorage(cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "storage", Target: cfg.Storage.DataDir}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		check.Detail = err.Error()
		return check
	}
	probe, err := os.CreateTemp(cfg.Storage.DataDir, ".doctor-*")
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	probe.Close()
	os.Remove(probe.Name())

	check.OK = true
	return check
}

// checkOTLP verifies the trace receiver accepts connections.
func checkOTLP(cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "otlp", Target: cfg.Telemetry.OTLPEndpoint}

	conn, err := net.DialTimeout("tcp", cfg.Telemetry.OTLPEndpoint, 3*time.Second)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	conn.Close()

	check.OK = true
	return check
}

// checkInflux verifies the analytics sink responds to a ping.
func checkInflux(ctx context.Context, cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "influx", Target: cfg.Influx.URL}

	token := os.Getenv("SOUNDER_INFLUX_TOKEN")
	if token == "" {
		check.Detail = "SOUNDER_INFLUX_TOKEN is not set"
		return check
	}
	reporter, err := telemetry.NewInfluxReporter(cfg.Influx.URL, token,
		cfg.Influx.Org, cfg.Influx.Bucket,
		telemetry.WithInfluxLogger(quietSlog()))
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	defer reporter.Close()
	if err := reporter.Ping(ctx); err != nil {
		check.Detail = err.Error()
		return check
	}

	check.OK = true
	return check
}

// getOK issues a GET and insists on a 200.
func getOK(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
