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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Sounder/services/engine/agent"
)

func attemptRec(n int) agent.AttemptRecord {
	return agent.AttemptRecord{Attempt: n, State: agent.StateFailed, PlanName: "create-user"}
}

func TestHub_SubscribeReplaysHistory(t *testing.T) {
	hub := NewHub()
	handle := hub.Register("run-1", "discover constraints")
	handle.Emit(attemptRec(1))
	handle.Emit(attemptRec(2))

	history, events, cancel, ok := hub.Subscribe("run-1")
	require.True(t, ok)
	defer cancel()

	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Attempt)
	assert.Equal(t, 2, history[1].Attempt)

	handle.Emit(attemptRec(3))
	select {
	case rec := <-events:
		assert.Equal(t, 3, rec.Attempt)
	case <-time.After(time.Second):
		t.Fatal("live event never arrived")
	}
}

func TestHub_SubscribeUnknownRun(t *testing.T) {
	hub := NewHub()
	_, _, _, ok := hub.Subscribe("nope")
	assert.False(t, ok)
}

func TestHub_FinishClosesSubscribers(t *testing.T) {
	hub := NewHub()
	handle := hub.Register("run-1", "goal")

	_, events, cancel, ok := hub.Subscribe("run-1")
	require.True(t, ok)
	defer cancel()

	res := &agent.RunResult{RunID: "run-1", State: agent.StateConverged}
	handle.Finish(res)

	select {
	case _, open := <-events:
		assert.False(t, open, "channel should close on finish")
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}

	info, found := hub.Get("run-1")
	require.True(t, found)
	assert.Equal(t, RunFinished, info.Status)
	assert.Equal(t, "CONVERGED", info.State)
	require.NotNil(t, hub.Result("run-1"))
	assert.Equal(t, agent.StateConverged, hub.Result("run-1").State)
}

func TestHub_SubscribeAfterFinish(t *testing.T) {
	hub := NewHub()
	handle := hub.Register("run-1", "goal")
	handle.Emit(attemptRec(1))
	handle.Finish(&agent.RunResult{RunID: "run-1", State: agent.StateExhausted})

	history, events, cancel, ok := hub.Subscribe("run-1")
	require.True(t, ok)
	defer cancel()

	require.Len(t, history, 1)
	_, open := <-events
	assert.False(t, open, "channel should arrive already closed")
}

func TestHub_EmitAfterFinishIgnored(t *testing.T) {
	hub := NewHub()
	handle := hub.Register("run-1", "goal")
	handle.Finish(&agent.RunResult{RunID: "run-1", State: agent.StateConverged})
	handle.Emit(attemptRec(1))

	info, _ := hub.Get("run-1")
	assert.Equal(t, 0, info.Attempts)
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub()
	handle := hub.Register("run-1", "goal")

	_, events, cancel, ok := hub.Subscribe("run-1")
	require.True(t, ok)
	defer cancel()

	// Overflow the subscriber buffer without reading.
	for i := 1; i <= 32; i++ {
		handle.Emit(attemptRec(i))
	}

	received := 0
	for range events {
		received++
	}
	assert.Less(t, received, 32, "overflowing subscriber should be dropped")

	// The run itself keeps every attempt.
	info, _ := hub.Get("run-1")
	assert.Equal(t, 32, info.Attempts)
}

func TestHub_ListTracksAllRuns(t *testing.T) {
	hub := NewHub()
	hub.Register("run-a", "goal a")
	hub.Register("run-b", "goal b")

	runs := hub.List()
	require.Len(t, runs, 2)
	ids := []string{runs[0].RunID, runs[1].RunID}
	assert.Contains(t, ids, "run-a")
	assert.Contains(t, ids, "run-b")
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	handle := hub.Register("run-1", "goal")

	_, _, cancel, ok := hub.Subscribe("run-1")
	require.True(t, ok)
	cancel()
	cancel()

	// A dropped subscriber must not block or panic later emits.
	handle.Emit(attemptRec(1))
	info, _ := hub.Get("run-1")
	assert.Equal(t, 1, info.Attempts)
}
