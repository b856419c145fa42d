// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/Sounder/services/engine/agent"
)

// RunStatus is the externally visible lifecycle of a tracked run.
type RunStatus string

const (
	// RunRunning means the learning loop is still making attempts.
	RunRunning RunStatus = "running"

	// RunFinished means the loop returned and the result is final.
	RunFinished RunStatus = "finished"
)

// RunInfo summarizes a tracked run for list and status endpoints.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Goal      string    `json:"goal"`
	Status    RunStatus `json:"status"`
	State     string    `json:"state,omitempty"`
	Attempts  int       `json:"attempts"`
	StartedAt time.Time `json:"started_at"`
}

// =============================================================================
// Hub
// =============================================================================

// Hub tracks learning runs and fans their attempt events out to
// stream subscribers.
//
// Description:
//
//	The serve command registers a run before starting the loop and
//	feeds every attempt record through the handle's Emit. Websocket
//	subscribers attaching mid-run first receive the recorded history,
//	then live events in order. Finished runs stay listed so late
//	clients can still replay them.
//
// Thread Safety: Hub is safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

type runEntry struct {
	mu        sync.Mutex
	info      RunInfo
	history   []agent.AttemptRecord
	result    *agent.RunResult
	subs      map[chan agent.AttemptRecord]struct{}
	finalized bool
}

// NewHub creates an empty run hub.
func NewHub() *Hub {
	return &Hub{runs: make(map[string]*runEntry)}
}

// Register starts tracking a run and returns the handle the loop
// feeds. Re-registering an ID replaces the previous entry.
func (h *Hub) Register(runID, goal string) *RunHandle {
	entry := &runEntry{
		info: RunInfo{
			RunID:     runID,
			Goal:      goal,
			Status:    RunRunning,
			StartedAt: time.Now().UTC(),
		},
		subs: make(map[chan agent.AttemptRecord]struct{}),
	}
	h.mu.Lock()
	h.runs[runID] = entry
	h.mu.Unlock()
	return &RunHandle{entry: entry}
}

// Get returns a snapshot of one run's info.
func (h *Hub) Get(runID string) (RunInfo, bool) {
	h.mu.RLock()
	entry, ok := h.runs[runID]
	h.mu.RUnlock()
	if !ok {
		return RunInfo{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.info, true
}

// Result returns the final result of a finished run, or nil while the
// run is still going.
func (h *Hub) Result(runID string) *agent.RunResult {
	h.mu.RLock()
	entry, ok := h.runs[runID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.result
}

// List returns all tracked runs, newest first.
func (h *Hub) List() []RunInfo {
	h.mu.RLock()
	entries := make([]*runEntry, 0, len(h.runs))
	for _, e := range h.runs {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	out := make([]RunInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.info)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Subscribe attaches to a run's event stream.
//
// Outputs:
//
//	history - Attempts recorded before the subscription.
//	events - Channel of live events; closed when the run finishes.
//	cancel - Detaches the subscriber. Safe to call more than once.
//	ok - False when the run is unknown.
func (h *Hub) Subscribe(runID string) (history []agent.AttemptRecord, events <-chan agent.AttemptRecord, cancel func(), ok bool) {
	h.mu.RLock()
	entry, found := h.runs[runID]
	h.mu.RUnlock()
	if !found {
		return nil, nil, nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	history = make([]agent.AttemptRecord, len(entry.history))
	copy(history, entry.history)

	ch := make(chan agent.AttemptRecord, 16)
	if entry.finalized {
		close(ch)
		return history, ch, func() {}, true
	}
	entry.subs[ch] = struct{}{}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			entry.mu.Lock()
			if _, live := entry.subs[ch]; live {
				delete(entry.subs, ch)
				close(ch)
			}
			entry.mu.Unlock()
		})
	}
	return history, ch, cancel, true
}

// =============================================================================
// RunHandle
// =============================================================================

// RunHandle is the producer side of one tracked run. The serve
// command wires Emit to the loop's attempt callback and calls Finish
// with the run result.
type RunHandle struct {
	entry *runEntry
}

// Emit records an attempt and delivers it to every subscriber. Slow
// subscribers are dropped rather than blocking the loop.
func (r *RunHandle) Emit(rec agent.AttemptRecord) {
	e := r.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	e.history = append(e.history, rec)
	e.info.Attempts = len(e.history)
	e.info.State = rec.State.String()
	for ch := range e.subs {
		select {
		case ch <- rec:
		default:
			delete(e.subs, ch)
			close(ch)
		}
	}
}

// Finish marks the run complete and closes every subscriber channel.
func (r *RunHandle) Finish(res *agent.RunResult) {
	e := r.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	e.finalized = true
	e.result = res
	e.info.Status = RunFinished
	if res != nil {
		e.info.State = res.State.String()
	}
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
}
