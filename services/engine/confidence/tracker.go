// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package confidence evolves constraint confidence from validation
// history.
//
// Each constraint carries a bounded FIFO window of validation events.
// Evolved confidence blends the base value with historical accuracy and
// recent performance, adjusts for the trend direction, and dampens by a
// stability factor derived from the variance of sliding success rates:
//
//	evolved = base*0.2 + historical*0.4 + recent*0.4
//	evolved += 0.05 (improving, cap 1.0) | -= 0.05 (declining, floor 0.0)
//	evolved *= stability
//
// The stability formula itself is not clamped; consumers clamp the
// final confidence into [0,1].
package confidence

import (
	"math"
	"sync"
	"time"
)

// Tuning constants for the evolution algorithm.
const (
	// historyWindow bounds the per-constraint event history (FIFO).
	historyWindow = 10

	// recentWindow is how many trailing events feed recent performance.
	recentWindow = 5

	// trendMinEvents is the minimum history needed to call a trend.
	trendMinEvents = 4

	// stabilityMinEvents is the minimum history needed to measure
	// stability; below it stability is a full 1.0.
	stabilityMinEvents = 3

	// stabilityWindow is the sliding window for success-rate samples.
	stabilityWindow = 3

	// trendThreshold is the half-split accuracy delta that separates
	// improving/declining from stable.
	trendThreshold = 0.1

	// trendAdjustment is the confidence nudge a trend applies.
	trendAdjustment = 0.05

	// Weights of the confidence blend. They sum to 1.
	baseWeight       = 0.2
	historicalWeight = 0.4
	recentWeight     = 0.4
)

// Trend labels the direction of recent validation outcomes.
type Trend string

const (
	// TrendImproving means the later half of the history outperforms
	// the earlier half by more than the threshold.
	TrendImproving Trend = "improving"

	// TrendStable means no significant difference between halves, or
	// not enough history to tell.
	TrendStable Trend = "stable"

	// TrendDeclining means the later half underperforms the earlier
	// half by more than the threshold.
	TrendDeclining Trend = "declining"
)

// ValidationEvent is one recorded probe outcome for a constraint.
type ValidationEvent struct {
	// Success is whether the constraint held.
	Success bool `json:"success"`

	// At is when the outcome was recorded.
	At time.Time `json:"at"`
}

// Analysis reports the evolved state of one constraint's history.
type Analysis struct {
	// Confidence is the evolved confidence before the consumer clamp.
	Confidence float64 `json:"confidence"`

	// Trend is the current direction of outcomes.
	Trend Trend `json:"trend"`

	// Stability is 1 minus the sample stddev of sliding success rates.
	Stability float64 `json:"stability"`

	// HistoricalAccuracy is successes/total over the whole window.
	HistoricalAccuracy float64 `json:"historical_accuracy"`

	// RecentPerformance is the accuracy over the trailing events.
	RecentPerformance float64 `json:"recent_performance"`

	// EventCount is how many events the window holds.
	EventCount int `json:"event_count"`
}

// Tracker keeps per-constraint validation history and evolves
// confidence from it.
//
// Thread Safety: safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	histories map[string][]ValidationEvent
	now       func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		histories: make(map[string][]ValidationEvent),
		now:       time.Now,
	}
}

// Record appends an outcome to the constraint's bounded history and
// returns the evolved confidence for the given base value.
//
// The oldest event is evicted once the window is full. The return
// value is not clamped; callers clamp into [0,1].
func (t *Tracker) Record(constraintID string, base float64, success bool) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := append(t.histories[constraintID], ValidationEvent{
		Success: success,
		At:      t.now(),
	})
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	t.histories[constraintID] = history

	return Evolve(base, history).Confidence
}

// Analyze reports the evolved state for a constraint without recording
// anything.
func (t *Tracker) Analyze(constraintID string, base float64) Analysis {
	t.mu.Lock()
	history := append([]ValidationEvent(nil), t.histories[constraintID]...)
	t.mu.Unlock()
	return Evolve(base, history)
}

// History returns a copy of the constraint's event window.
func (t *Tracker) History(constraintID string) []ValidationEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ValidationEvent(nil), t.histories[constraintID]...)
}

// Forget drops a constraint's history, e.g. after removal.
func (t *Tracker) Forget(constraintID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.histories, constraintID)
}

// Evolve computes the evolved confidence for a base value and history.
//
// An empty history keeps the as-created confidence with a stable trend,
// full stability, and zero counters.
func Evolve(base float64, history []ValidationEvent) Analysis {
	if len(history) == 0 {
		return Analysis{
			Confidence: base,
			Trend:      TrendStable,
			Stability:  1.0,
		}
	}

	historical := accuracy(history)
	recent := accuracy(tail(history, recentWindow))
	trend := classifyTrend(history)
	stability := measureStability(history)

	evolved := base*baseWeight + historical*historicalWeight + recent*recentWeight
	switch trend {
	case TrendImproving:
		evolved = math.Min(1.0, evolved+trendAdjustment)
	case TrendDeclining:
		evolved = math.Max(0.0, evolved-trendAdjustment)
	}
	evolved *= stability

	return Analysis{
		Confidence:         evolved,
		Trend:              trend,
		Stability:          stability,
		HistoricalAccuracy: historical,
		RecentPerformance:  recent,
		EventCount:         len(history),
	}
}

// classifyTrend splits the history into halves at the floor midpoint
// and compares their accuracies.
func classifyTrend(history []ValidationEvent) Trend {
	if len(history) < trendMinEvents {
		return TrendStable
	}
	mid := len(history) / 2
	first := accuracy(history[:mid])
	second := accuracy(history[mid:])
	diff := second - first
	switch {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// measureStability is 1 minus the sample stddev of success rates over a
// sliding window. Short histories, and histories yielding fewer than
// two rate samples, count as fully stable.
func measureStability(history []ValidationEvent) float64 {
	if len(history) < stabilityMinEvents {
		return 1.0
	}
	var rates []float64
	for i := 0; i+stabilityWindow <= len(history); i++ {
		rates = append(rates, accuracy(history[i:i+stabilityWindow]))
	}
	if len(rates) < 2 {
		return 1.0
	}
	return 1.0 - sampleStddev(rates)
}

// accuracy is the success fraction of the events.
func accuracy(events []ValidationEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	successes := 0
	for _, e := range events {
		if e.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(events))
}

// tail returns the last n events, or all of them when fewer exist.
func tail(events []ValidationEvent, n int) []ValidationEvent {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// sampleStddev is the n-1 denominator standard deviation.
func sampleStddev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
