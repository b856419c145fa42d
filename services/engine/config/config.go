// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine's runtime configuration.
//
// Values flow defaults -> YAML file -> SOUNDER_* environment
// overrides. Load returns a validated Config value; nothing is kept
// in package state, callers hand the struct to the components that
// need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate holds the struct validator. Created once, never mutated.
var validate = validator.New()

// Config is the engine's full runtime configuration.
type Config struct {
	// Target describes the API under investigation.
	Target TargetConfig `yaml:"target"`

	// Learning bounds the learning loop.
	Learning LearningConfig `yaml:"learning"`

	// Oracle selects and tunes the generation backend.
	Oracle OracleConfig `yaml:"oracle"`

	// Storage places snapshots and the attempt journal.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the knowledge API.
	Server ServerConfig `yaml:"server"`

	// Telemetry selects trace and metric exporters.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Influx enables per-attempt time-series reporting.
	Influx InfluxConfig `yaml:"influx"`

	// Archive mirrors snapshots to a GCS bucket.
	Archive ArchiveConfig `yaml:"archive"`
}

// TargetConfig describes the API under investigation.
type TargetConfig struct {
	// BaseURL is where probes are sent.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// SpecPath is the OpenAPI document path. Empty means the built-in
	// minimal spec.
	SpecPath string `yaml:"spec_path"`
}

// LearningConfig bounds the learning loop.
type LearningConfig struct {
	// AttemptBudget caps attempts per run.
	AttemptBudget int `yaml:"attempt_budget" validate:"gte=1,lte=1000"`

	// ConvergenceWindow is how many consecutive attempts without new
	// knowledge end a run early.
	ConvergenceWindow int `yaml:"convergence_window" validate:"gte=1,lte=100"`

	// ProbeTimeoutSeconds bounds one probe plan execution.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" validate:"gte=1,lte=600"`
}

// ProbeTimeout returns the probe execution deadline.
func (c LearningConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// OracleConfig selects and tunes the generation backend.
type OracleConfig struct {
	// Backend is "ollama" or "openai".
	Backend string `yaml:"backend" validate:"oneof=ollama openai"`

	// Model names the model to generate with. Empty picks the
	// backend's default.
	Model string `yaml:"model"`

	// BaseURL is the Ollama server address. Ignored for OpenAI.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// TimeoutSeconds bounds one oracle call.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=1,lte=900"`
}

// Timeout returns the oracle call deadline.
func (c OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig places snapshots and the attempt journal.
type StorageConfig struct {
	// DataDir is the root for all engine state.
	DataDir string `yaml:"data_dir" validate:"required"`
}

// SnapshotDir returns where snapshot documents live.
func (c StorageConfig) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// JournalDir returns where the attempt journal lives.
func (c StorageConfig) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

// ServerConfig configures the knowledge API.
type ServerConfig struct {
	// Port is the listen port.
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	// TraceExporter is "otlp", "stdout", or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout", or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	// OTLPEndpoint is the OTLP trace receiver.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// InfluxConfig enables per-attempt time-series reporting. The token
// is never stored in the file; it comes from SOUNDER_INFLUX_TOKEN.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// ArchiveConfig mirrors snapshots to a GCS bucket.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	Prefix          string `yaml:"prefix"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	dataDir := "data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".sounder")
	}
	return Config{
		Target: TargetConfig{
			BaseURL: "http://localhost:5001",
		},
		Learning: LearningConfig{
			AttemptBudget:       5,
			ConvergenceWindow:   3,
			ProbeTimeoutSeconds: 30,
		},
		Oracle: OracleConfig{
			Backend:        "ollama",
			BaseURL:        "http://localhost:11434",
			TimeoutSeconds: 75,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "aleutian",
			Bucket: "sounder",
		},
		Archive: ArchiveConfig{
			Prefix: "sounder/snapshots",
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".sounder", "sounder.yaml"), nil
}

// Load builds the configuration from defaults, the YAML file at
// path, and SOUNDER_* environment overrides, in that order.
//
// Inputs:
//
//	path - YAML file location. Empty or missing file means defaults
//	plus environment only.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil for unreadable files, malformed YAML, or values
//	that fail validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults carry the run.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault creates a commented starter file at path.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv layers SOUNDER_* overrides onto the configuration.
func applyEnv(cfg *Config) {
	envString("SOUNDER_TARGET_URL", &cfg.Target.BaseURL)
	envString("SOUNDER_SPEC_PATH", &cfg.Target.SpecPath)
	envInt("SOUNDER_ATTEMPT_BUDGET", &cfg.Learning.AttemptBudget)
	envInt("SOUNDER_CONVERGENCE_WINDOW", &cfg.Learning.ConvergenceWindow)
	envString("SOUNDER_ORACLE_BACKEND", &cfg.Oracle.Backend)
	envString("SOUNDER_ORACLE_MODEL", &cfg.Oracle.Model)
	envString("SOUNDER_ORACLE_URL", &cfg.Oracle.BaseURL)
	envString("SOUNDER_DATA_DIR", &cfg.Storage.DataDir)
	envInt("SOUNDER_PORT", &cfg.Server.Port)
	envString("SOUNDER_INFLUX_URL", &cfg.Influx.URL)
	envString("SOUNDER_INFLUX_ORG", &cfg.Influx.Org)
	envString("SOUNDER_INFLUX_BUCKET", &cfg.Influx.Bucket)
	envBool("SOUNDER_INFLUX_ENABLED", &cfg.Influx.Enabled)
	envString("SOUNDER_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	envString("SOUNDER_ARCHIVE_CREDENTIALS", &cfg.Archive.CredentialsPath)
}

func envString(key string, into *string) {
	if v := os.Getenv(key); v != "" {
		*into = v
	}
}

func envInt(key string, into *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*into = n
		}
	}
}

func envBool(key string, into *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*into = b
		}
	}
}
