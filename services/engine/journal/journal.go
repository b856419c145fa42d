// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists one record per learning attempt.
//
// Records land in an embedded BadgerDB keyed by run and sequence
// number, each framed with a CRC32 checksum. After a crash the run
// history is rebuilt by replaying the records in order. Snapshot
// files carry the learned state itself; the journal carries how the
// run got there.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal is closed")

	// ErrCorrupted is returned when a record fails its CRC check.
	ErrCorrupted = errors.New("journal record corrupted (CRC mismatch)")
)

// Record is one journaled learning attempt.
type Record struct {
	// RunID identifies the learning run the attempt belongs to.
	RunID string `json:"run_id"`

	// Attempt is the 1-based attempt number within the run.
	Attempt int `json:"attempt"`

	// At is when the attempt finished.
	At time.Time `json:"at"`

	// Goal is the probe goal the attempt pursued.
	Goal string `json:"goal"`

	// PlanName names the executed probe plan.
	PlanName string `json:"plan_name"`

	// Passed reports whether the probe met its expectations.
	Passed bool `json:"passed"`

	// ConstraintID is the learned constraint, empty when the attempt
	// produced none.
	ConstraintID string `json:"constraint_id,omitempty"`

	// ConstraintKind is the learned constraint's kind name.
	ConstraintKind string `json:"constraint_kind,omitempty"`

	// NewKnowledge reports whether the constraint was new rather than
	// a reinforcement of something already known.
	NewKnowledge bool `json:"new_knowledge"`

	// Fault is the fault kind the attempt hit, empty when clean.
	Fault string `json:"fault,omitempty"`

	// DurationMS is the attempt wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Config configures a journal.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// RunID scopes the journal keys to one learning run.
	// Required.
	RunID string

	// InMemory keeps everything in RAM. For testing.
	InMemory bool

	// SyncWrites forces every append to disk before returning.
	// Required for the replay guarantee; disable only in tests.
	SyncWrites bool

	// SkipCorrupted makes Replay log and skip records that fail
	// their CRC check instead of aborting.
	SkipCorrupted bool

	// Logger receives journal events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration for a run.
func DefaultConfig(path, runID string) Config {
	return Config{
		Path:       path,
		RunID:      runID,
		SyncWrites: true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RunID == "" {
		return errors.New("run_id must not be empty")
	}
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for a persistent journal")
	}
	return nil
}

// Stats summarizes journal contents.
type Stats struct {
	// TotalRecords is the number of appended records.
	TotalRecords int64

	// TotalBytes is the approximate encoded size of all records.
	TotalBytes int64

	// LastSeqNum is the most recent sequence number.
	LastSeqNum uint64

	// CorruptedCount is how many records failed their CRC on replay.
	CorruptedCount int64
}

// Journal is an append-only attempt log backed by BadgerDB.
//
// Description:
//
//	Keys are "attempt:{run_id}:{seq:016d}" so one database can hold
//	many runs. Values are [4-byte CRC32][JSON record]. Appends assign
//	sequence numbers atomically.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	seqNum     atomic.Uint64
	totalBytes atomic.Int64
	records    atomic.Int64
	corrupted  atomic.Int64
	closed     atomic.Bool
}

// slogAdapter routes BadgerDB's printf logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the journal for a run, creating the directory when
// missing. The sequence counter resumes after the highest existing
// key so a reopened run keeps appending where it stopped.
func Open(cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journal config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&slogAdapter{logger: cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j := &Journal{
		db:  db,
		cfg: cfg,
		logger: cfg.Logger.With(
			slog.String("component", "journal"),
			slog.String("run_id", cfg.RunID),
		),
	}
	if err := j.initSeqNum(); err != nil {
		db.Close()
		return nil, fmt.Errorf("scan journal sequence: %w", err)
	}

	j.logger.Debug("attempt journal opened",
		slog.String("path", cfg.Path),
		slog.Bool("sync_writes", cfg.SyncWrites),
		slog.Uint64("last_seq_num", j.seqNum.Load()),
	)
	return j, nil
}

// initSeqNum resumes the sequence counter from the highest stored key.
func (j *Journal) initSeqNum() error {
	prefix := []byte(j.keyPrefix())
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			var seq uint64
			tail := string(it.Item().Key()[len(prefix):])
			if _, err := fmt.Sscanf(tail, "%016d", &seq); err == nil {
				j.seqNum.Store(seq)
			}
		}
		return nil
	})
}

func (j *Journal) keyPrefix() string {
	return fmt.Sprintf("attempt:%s:", j.cfg.RunID)
}

func (j *Journal) recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", j.keyPrefix(), seq))
}

// encodeRecord frames a record as [4-byte CRC32][JSON].
func encodeRecord(rec Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(payload))
	copy(out[4:], payload)
	return out, nil
}

// decodeRecord verifies the CRC frame and decodes the record.
func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if len(data) < 5 {
		return rec, fmt.Errorf("%w: frame too short", ErrCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	payload := data[4:]
	if computed := crc32.ChecksumIEEE(payload); computed != stored {
		return rec, fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorrupted, stored, computed)
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Append journals one attempt.
//
// Outputs:
//
//	error - Non-nil when the journal is closed, the context is done,
//	or the write fails.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, span := otel.Tracer("sounder.journal").Start(ctx, "journal.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", j.cfg.RunID),
		attribute.Int("attempt", rec.Attempt),
	)

	data, err := encodeRecord(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}

	seq := j.seqNum.Add(1)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(j.recordKey(seq), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write record %d: %w", seq, err)
	}

	j.records.Add(1)
	j.totalBytes.Add(int64(len(data)))
	j.logger.Debug("attempt journaled",
		slog.Uint64("seq_num", seq),
		slog.Int("attempt", rec.Attempt),
		slog.Bool("passed", rec.Passed),
	)
	return nil
}

// Replay returns the run's records in append order.
//
// Description:
//
//	Corrupted frames abort the replay unless SkipCorrupted is set, in
//	which case they are counted and skipped.
func (j *Journal) Replay(ctx context.Context) ([]Record, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	prefix := []byte(j.keyPrefix())
	var records []Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					if j.cfg.SkipCorrupted && errors.Is(err, ErrCorrupted) {
						j.corrupted.Add(1)
						j.logger.Warn("skipping corrupted journal record",
							slog.String("key", string(item.Key())),
							slog.String("error", err.Error()),
						)
						return nil
					}
					return fmt.Errorf("record %s: %w", item.Key(), err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Stats reports journal counters for this process.
func (j *Journal) Stats() Stats {
	return Stats{
		TotalRecords:   j.records.Load(),
		TotalBytes:     j.totalBytes.Load(),
		LastSeqNum:     j.seqNum.Load(),
		CorruptedCount: j.corrupted.Load(),
	}
}

// Sync flushes pending writes. A no-op for in-memory journals.
func (j *Journal) Sync() error {
	if j.closed.Load() {
		return ErrClosed
	}
	if j.cfg.InMemory {
		return nil
	}
	return j.db.Sync()
}

// Close releases the database. Further operations return ErrClosed.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	return j.db.Close()
}
