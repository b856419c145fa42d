// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// TestDefaultConfig verifies the built-in values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Oracle.Backend != "ollama" {
		t.Errorf("Oracle.Backend = %q, want %q", cfg.Oracle.Backend, "ollama")
	}
	if cfg.Learning.AttemptBudget != 5 {
		t.Errorf("Learning.AttemptBudget = %d, want 5", cfg.Learning.AttemptBudget)
	}
	if cfg.Learning.ConvergenceWindow != 3 {
		t.Errorf("Learning.ConvergenceWindow = %d, want 3", cfg.Learning.ConvergenceWindow)
	}
	if cfg.Telemetry.MetricExporter != "prometheus" {
		t.Errorf("Telemetry.MetricExporter = %q, want %q", cfg.Telemetry.MetricExporter, "prometheus")
	}
	if cfg.Influx.Enabled {
		t.Error("Influx.Enabled should default to false")
	}
}

// TestLoad_MissingFileUsesDefaults verifies a missing file is not an error.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	want := DefaultConfig()
	if cfg.Target.BaseURL != want.Target.BaseURL {
		t.Errorf("Target.BaseURL = %q, want %q", cfg.Target.BaseURL, want.Target.BaseURL)
	}
	if cfg.Server.Port != want.Server.Port {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, want.Server.Port)
	}
}

// TestLoad_FileOverridesDefaults verifies YAML values win over defaults
// and absent keys keep theirs.
func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sounder.yaml")
	content := `
target:
  base_url: http://api.internal:9000
learning:
  attempt_budget: 12
oracle:
  backend: openai
  model: gpt-4o-mini
influx:
  url: http://tsdb.internal:8086
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Target.BaseURL != "http://api.internal:9000" {
		t.Errorf("Target.BaseURL = %q, want override", cfg.Target.BaseURL)
	}
	if cfg.Learning.AttemptBudget != 12 {
		t.Errorf("Learning.AttemptBudget = %d, want 12", cfg.Learning.AttemptBudget)
	}
	if cfg.Oracle.Backend != "openai" {
		t.Errorf("Oracle.Backend = %q, want %q", cfg.Oracle.Backend, "openai")
	}
	if cfg.Influx.URL != "http://tsdb.internal:8086" {
		t.Errorf("Influx.URL = %q, want override", cfg.Influx.URL)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Learning.ConvergenceWindow != 3 {
		t.Errorf("Learning.ConvergenceWindow = %d, want default 3", cfg.Learning.ConvergenceWindow)
	}
	if cfg.Influx.Org != "aleutian" {
		t.Errorf("Influx.Org = %q, want default", cfg.Influx.Org)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
}

// TestLoad_EnvOverridesFile verifies SOUNDER_* variables win over YAML.
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sounder.yaml")
	content := `
target:
  base_url: http://from-file:9000
learning:
  attempt_budget: 12
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SOUNDER_TARGET_URL", "http://from-env:9001")
	t.Setenv("SOUNDER_ATTEMPT_BUDGET", "25")
	t.Setenv("SOUNDER_INFLUX_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Target.BaseURL != "http://from-env:9001" {
		t.Errorf("Target.BaseURL = %q, want env override", cfg.Target.BaseURL)
	}
	if cfg.Learning.AttemptBudget != 25 {
		t.Errorf("Learning.AttemptBudget = %d, want 25", cfg.Learning.AttemptBudget)
	}
	if !cfg.Influx.Enabled {
		t.Error("Influx.Enabled should be set from environment")
	}
}

// TestLoad_BadEnvValueIgnored verifies unparsable overrides are skipped.
func TestLoad_BadEnvValueIgnored(t *testing.T) {
	t.Setenv("SOUNDER_ATTEMPT_BUDGET", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Learning.AttemptBudget != 5 {
		t.Errorf("Learning.AttemptBudget = %d, want default 5", cfg.Learning.AttemptBudget)
	}
}

// TestLoad_MalformedYAML verifies parse errors surface.
func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sounder.yaml")
	if err := os.WriteFile(path, []byte("target: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on malformed YAML")
	}
}

// TestLoad_ValidationFailures verifies bad values are rejected.
func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown oracle backend",
			content: `
oracle:
  backend: psychic
`,
		},
		{
			name: "zero server port",
			content: `
server:
  port: 0
`,
		},
		{
			name: "target url without scheme",
			content: `
target:
  base_url: "not a url"
`,
		},
		{
			name: "zero attempt budget",
			content: `
learning:
  attempt_budget: 0
`,
		},
		{
			name: "unknown trace exporter",
			content: `
telemetry:
  trace_exporter: carrier-pigeon
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sounder.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should reject invalid config")
			}
			if !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("error = %v, want validation failure", err)
			}
		})
	}
}

// TestWriteDefault verifies starter file creation, including nested
// directories.
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "sounder.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.Oracle.Backend != "ollama" {
		t.Errorf("Oracle.Backend = %q, want %q", cfg.Oracle.Backend, "ollama")
	}
	if cfg.Learning.AttemptBudget != 5 {
		t.Errorf("Learning.AttemptBudget = %d, want 5", cfg.Learning.AttemptBudget)
	}
}

// TestStoragePaths verifies derived locations.
func TestStoragePaths(t *testing.T) {
	s := StorageConfig{DataDir: filepath.Join("var", "sounder")}

	if got, want := s.SnapshotDir(), filepath.Join("var", "sounder", "snapshots"); got != want {
		t.Errorf("SnapshotDir() = %q, want %q", got, want)
	}
	if got, want := s.JournalDir(), filepath.Join("var", "sounder", "journal"); got != want {
		t.Errorf("JournalDir() = %q, want %q", got, want)
	}
}

// TestDurations verifies second counts convert to durations.
func TestDurations(t *testing.T) {
	l := LearningConfig{ProbeTimeoutSeconds: 45}
	if l.ProbeTimeout() != 45*time.Second {
		t.Errorf("ProbeTimeout() = %v, want 45s", l.ProbeTimeout())
	}

	o := OracleConfig{TimeoutSeconds: 90}
	if o.Timeout() != 90*time.Second {
		t.Errorf("Timeout() = %v, want 90s", o.Timeout())
	}
}
