// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists the learned model and the pattern
// analysis as JSON documents on disk.
//
// Writes go through a temp file and an atomic rename so a crash
// mid-save never leaves a truncated document behind. An optional
// archiver mirrors each saved document to remote storage.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
	"github.com/AleutianAI/Sounder/services/engine/patterns"
)

const (
	// ModelFile is the learned-model document name.
	ModelFile = "learned_model.json"

	// PatternsFile is the pattern-analysis document name.
	PatternsFile = "pattern_analysis.json"
)

// Archiver mirrors saved documents to remote storage.
type Archiver interface {
	// Upload copies a local file to the remote path.
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Store reads and writes snapshot documents under one directory.
//
// Thread Safety: Saves to distinct files are independent; concurrent
// saves of the same file serialize on the final rename, last writer
// wins.
type Store struct {
	dir      string
	logger   *slog.Logger
	archiver Archiver
	prefix   string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger for save and load events.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchiver mirrors every saved document below the remote prefix.
// Archive failures are logged, not returned: the local save is the
// durability guarantee, the mirror is best effort.
func WithArchiver(archiver Archiver, remotePrefix string) StoreOption {
	return func(s *Store) {
		s.archiver = archiver
		s.prefix = remotePrefix
	}
}

// NewStore creates the snapshot directory when missing.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create snapshot directory %s: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveModel writes the learned-model document.
func (s *Store) SaveModel(ctx context.Context, snap *constraints.Snapshot) error {
	if snap == nil {
		return errors.New("nil model snapshot")
	}
	if err := s.saveJSON(ctx, ModelFile, snap); err != nil {
		return err
	}
	s.logger.Debug("learned model saved",
		slog.Int("constraints", snap.Summary.Total),
		slog.String("path", filepath.Join(s.dir, ModelFile)),
	)
	return nil
}

// LoadModel reads the learned-model document.
//
// Outputs:
//
//	*constraints.Snapshot - nil without error when no document exists
//	(a cold start).
func (s *Store) LoadModel(ctx context.Context) (*constraints.Snapshot, error) {
	var snap constraints.Snapshot
	found, err := s.loadJSON(ctx, ModelFile, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// SavePatterns writes the pattern-analysis document.
func (s *Store) SavePatterns(ctx context.Context, doc *patterns.Export) error {
	if doc == nil {
		return errors.New("nil pattern export")
	}
	if err := s.saveJSON(ctx, PatternsFile, doc); err != nil {
		return err
	}
	s.logger.Debug("pattern analysis saved",
		slog.Int("patterns", doc.Summary.TotalPatterns),
		slog.String("path", filepath.Join(s.dir, PatternsFile)),
	)
	return nil
}

// LoadPatterns reads the pattern-analysis document, nil when absent.
func (s *Store) LoadPatterns(ctx context.Context) (*patterns.Export, error) {
	var doc patterns.Export
	found, err := s.loadJSON(ctx, PatternsFile, &doc)
	if err != nil || !found {
		return nil, err
	}
	return &doc, nil
}

// Reset removes both snapshot documents. Missing files are fine.
func (s *Store) Reset() error {
	for _, name := range []string{ModelFile, PatternsFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	s.logger.Info("snapshot documents removed", slog.String("dir", s.dir))
	return nil
}

// saveJSON writes one document atomically, then mirrors it.
func (s *Store) saveJSON(ctx context.Context, name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, data); err != nil {
		return err
	}

	if s.archiver != nil {
		remote := name
		if s.prefix != "" {
			remote = s.prefix + "/" + name
		}
		if err := s.archiver.Upload(ctx, path, remote); err != nil {
			s.logger.Warn("snapshot archive upload failed",
				slog.String("file", name),
				slog.String("remote", remote),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// loadJSON reads one document; found is false when the file is absent.
func (s *Store) loadJSON(ctx context.Context, name string, into any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// writeAtomic lands data at path via temp file + rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	success = true
	return nil
}
