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
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Sounder/pkg/ux"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runResetCommand wipes the constraint snapshots and the attempt journal.
// Requires interactive confirmation unless --force is given.
func runResetCommand(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()

	if !resetForce {
		if !ux.IsInteractive() {
			ux.Error("Refusing to reset without --force in a non-interactive session")
			os.Exit(1)
		}
		var confirmed bool
		err := huh.NewConfirm().
			Title("Delete all learned knowledge?").
			Description(fmt.Sprintf("This removes snapshots and the attempt journal under %s.", cfg.Storage.DataDir)).
			Affirmative("Delete").
			Negative("Keep").
			Value(&confirmed).
			Run()
		if err != nil {
			ux.Error(fmt.Sprintf("Confirmation failed: %v", err))
			os.Exit(1)
		}
		if !confirmed {
			ux.Muted("Nothing deleted.")
			return
		}
	}

	store := mustOpenStore(cfg)
	if err := store.Reset(); err != nil {
		ux.Error(fmt.Sprintf("Failed to clear snapshots: %v", err))
		os.Exit(1)
	}
	if err := os.RemoveAll(cfg.Storage.JournalDir()); err != nil {
		ux.Error(fmt.Sprintf("Failed to remove journal: %v", err))
		os.Exit(1)
	}

	ux.Success("Learned knowledge cleared")
}
