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
	"fmt"
)

// State represents a state in the learning loop state machine.
//
// Valid state transitions are enforced by the state machine. Invalid
// transitions return ErrInvalidTransition.
type State string

const (
	// StateInit is the initial state before the first probe.
	StateInit State = "INIT"

	// StateProbing covers synthesis and execution of one probe.
	StateProbing State = "PROBING"

	// StatePassed means the probe met every expectation.
	StatePassed State = "PASSED"

	// StateFailed means the probe tripped over something, possibly a
	// hidden constraint.
	StateFailed State = "FAILED"

	// StateConverged ends a run after a window of attempts produced
	// no new knowledge.
	StateConverged State = "CONVERGED"

	// StateExhausted ends a run at the attempt budget.
	StateExhausted State = "EXHAUSTED"
)

// ErrInvalidTransition is returned for transitions the table does not
// allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// String returns the state as a string.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true for the two run-ending states.
func (s State) IsTerminal() bool {
	return s == StateConverged || s == StateExhausted
}

// AllStates returns all valid loop states.
func AllStates() []State {
	return []State{
		StateInit,
		StateProbing,
		StatePassed,
		StateFailed,
		StateConverged,
		StateExhausted,
	}
}

// StateMachine enforces valid learning loop transitions.
//
// The machine enforces the following transition graph:
//
//	INIT → PROBING          : Run started
//	PROBING → PASSED        : Probe met every expectation
//	PROBING → FAILED        : Probe failed a step or its transport
//	PASSED → PROBING        : Next attempt scheduled
//	PASSED → CONVERGED      : Window of attempts without new knowledge
//	PASSED → EXHAUSTED      : Attempt budget spent
//	FAILED → PROBING        : Next attempt scheduled
//	FAILED → CONVERGED      : Window of attempts without new knowledge
//	FAILED → EXHAUSTED      : Attempt budget spent
//
// Thread Safety:
//
//	The transition table is fixed at construction, so the machine is
//	safe for concurrent use.
type StateMachine struct {
	// transitions maps (from, to) pairs that are valid.
	transitions map[State]map[State]bool
}

// NewStateMachine creates a state machine with all valid transitions.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[State]map[State]bool),
	}

	for _, state := range AllStates() {
		sm.transitions[state] = make(map[State]bool)
	}

	sm.addTransition(StateInit, StateProbing)

	sm.addTransition(StateProbing, StatePassed)
	sm.addTransition(StateProbing, StateFailed)

	sm.addTransition(StatePassed, StateProbing)
	sm.addTransition(StatePassed, StateConverged)
	sm.addTransition(StatePassed, StateExhausted)

	sm.addTransition(StateFailed, StateProbing)
	sm.addTransition(StateFailed, StateConverged)
	sm.addTransition(StateFailed, StateExhausted)

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to State) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one state to another is
// valid.
func (sm *StateMachine) CanTransition(from, to State) bool {
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition validates a transition and returns the new state.
//
// Outputs:
//
//	State - The target state, when the transition is allowed.
//	error - Wraps ErrInvalidTransition otherwise.
func (sm *StateMachine) Transition(from, to State) (State, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// ValidTransitionsFrom returns all valid target states for a state.
func (sm *StateMachine) ValidTransitionsFrom(from State) []State {
	var result []State
	for _, state := range AllStates() {
		if sm.CanTransition(from, state) {
			result = append(result, state)
		}
	}
	return result
}
