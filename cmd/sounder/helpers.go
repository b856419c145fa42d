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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/Sounder/pkg/ux"
	"github.com/AleutianAI/Sounder/services/engine/config"
	"github.com/AleutianAI/Sounder/services/engine/snapshot"
)

// mustLoadConfig loads the engine configuration or exits. The --config
// flag wins; otherwise the per-user default path is tried, and a
// missing file there just means defaults plus environment.
func mustLoadConfig() *config.Config {
	path := configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		ux.Error(fmt.Sprintf("Configuration invalid: %v", err))
		os.Exit(1)
	}
	return cfg
}

// mustOpenStore opens the snapshot store under the configured data
// directory or exits.
func mustOpenStore(cfg *config.Config) *snapshot.Store {
	store, err := snapshot.NewStore(cfg.Storage.SnapshotDir(),
		snapshot.WithStoreLogger(quietSlog()))
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot open snapshot store: %v", err))
		os.Exit(1)
	}
	return store
}

// quietSlog returns a logger that discards everything. The read-only
// commands use it so library chatter never lands in command output.
func quietSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// engineLogDir is where the CLI-driven engine writes its log files.
func engineLogDir(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "logs")
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}
