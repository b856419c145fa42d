// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"testing"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	validTransitions := []struct {
		from State
		to   State
	}{
		{StateInit, StateProbing},

		{StateProbing, StatePassed},
		{StateProbing, StateFailed},

		{StatePassed, StateProbing},
		{StatePassed, StateConverged},
		{StatePassed, StateExhausted},

		{StateFailed, StateProbing},
		{StateFailed, StateConverged},
		{StateFailed, StateExhausted},
	}

	for _, tt := range validTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if !sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be valid", tt.from, tt.to)
			}
			next, err := sm.Transition(tt.from, tt.to)
			if err != nil {
				t.Fatalf("Transition failed: %v", err)
			}
			if next != tt.to {
				t.Errorf("Transition returned %s, want %s", next, tt.to)
			}
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalidTransitions := []struct {
		from State
		to   State
	}{
		// Terminal states lead nowhere.
		{StateConverged, StateProbing},
		{StateConverged, StateInit},
		{StateExhausted, StateProbing},
		{StateExhausted, StateConverged},

		// The loop cannot skip probing.
		{StateInit, StatePassed},
		{StateInit, StateFailed},
		{StateInit, StateConverged},
		{StateInit, StateExhausted},

		// Probing must resolve before ending the run.
		{StateProbing, StateConverged},
		{StateProbing, StateExhausted},
		{StateProbing, StateInit},

		// Attempt results cannot flip.
		{StatePassed, StateFailed},
		{StateFailed, StatePassed},
	}

	for _, tt := range invalidTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be invalid", tt.from, tt.to)
			}
			next, err := sm.Transition(tt.from, tt.to)
			if err == nil {
				t.Fatal("Transition should fail")
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if next != tt.from {
				t.Errorf("failed Transition moved state to %s", next)
			}
		})
	}
}

func TestStateMachine_ValidTransitionsFrom(t *testing.T) {
	sm := NewStateMachine()

	targets := sm.ValidTransitionsFrom(StateProbing)
	if len(targets) != 2 {
		t.Fatalf("ValidTransitionsFrom(PROBING) = %v, want 2 targets", targets)
	}

	if got := sm.ValidTransitionsFrom(StateConverged); len(got) != 0 {
		t.Errorf("ValidTransitionsFrom(CONVERGED) = %v, want none", got)
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range AllStates() {
		want := s == StateConverged || s == StateExhausted
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, s.IsTerminal(), want)
		}
	}
}
