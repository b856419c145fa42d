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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/Sounder/pkg/ux"
	"github.com/AleutianAI/Sounder/services/engine/agent"
)

// =============================================================================
// LIVE LEARN VIEW
// =============================================================================

// attemptMsg delivers one finished attempt to the view.
type attemptMsg struct {
	rec agent.AttemptRecord
}

// runDoneMsg delivers the final result and ends the view.
type runDoneMsg struct {
	res *agent.RunResult
	err error
}

// learnModel renders a learning run as it progresses: one line per
// finished attempt plus a spinner and progress bar while probing.
type learnModel struct {
	spinner spinner.Model
	goal    string
	budget  int
	records []agent.AttemptRecord
	res     *agent.RunResult
	err     error
	cancel  context.CancelFunc

	interrupted bool
}

func newLearnModel(goal string, budget int, cancel context.CancelFunc) learnModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ux.ColorTealBright)
	return learnModel{
		spinner: s,
		goal:    goal,
		budget:  budget,
		cancel:  cancel,
	}
}

// Init starts the spinner.
func (m learnModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles attempt events, completion, and interruption.
func (m learnModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// Cancel the run; the loop goroutine delivers runDoneMsg
			// once it unwinds, which quits the program.
			m.interrupted = true
			m.cancel()
			return m, nil
		}

	case attemptMsg:
		m.records = append(m.records, msg.rec)
		return m, nil

	case runDoneMsg:
		m.res = msg.res
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the run so far.
func (m learnModel) View() string {
	var b strings.Builder
	b.WriteString(ux.Styles.Title.Render("Sounder learning run") + "\n")
	if m.goal != "" {
		b.WriteString(ux.Styles.Muted.Render("goal: " + m.goal))
	}
	b.WriteString("\n\n")

	for _, rec := range m.records {
		b.WriteString(attemptLine(rec) + "\n")
	}

	switch {
	case m.res != nil:
		// The final summary prints after the program exits.
	case m.interrupted:
		b.WriteString("\n" + ux.Styles.Warning.Render("stopping after the current attempt...") + "\n")
	default:
		b.WriteString(fmt.Sprintf("\n%s probing  %s\n",
			m.spinner.View(), ux.ProgressBar(len(m.records), m.budget, 24)))
	}
	return b.String()
}

// attemptLine renders one attempt entry.
func attemptLine(rec agent.AttemptRecord) string {
	switch {
	case rec.NewKnowledge:
		return fmt.Sprintf("%s attempt %d  %s uncovered a %s constraint",
			ux.IconSuccess.Render(), rec.Attempt, rec.PlanName, rec.ConstraintKind)
	case rec.ConstraintID != "":
		return fmt.Sprintf("%s attempt %d  %s reconfirmed %s",
			ux.IconBullet.Render(), rec.Attempt, rec.PlanName, rec.ConstraintKind)
	case rec.Passed:
		return fmt.Sprintf("%s attempt %d  %s passed",
			ux.IconBullet.Render(), rec.Attempt, rec.PlanName)
	case rec.Fault != "":
		return fmt.Sprintf("%s attempt %d  %s",
			ux.IconWarning.Render(), rec.Attempt, rec.Fault)
	default:
		return fmt.Sprintf("%s attempt %d  %s failed without new knowledge",
			ux.IconBullet.Render(), rec.Attempt, rec.PlanName)
	}
}

// runLearnInteractive runs the loop behind a live terminal view.
//
// The controller runs on its own goroutine and feeds the view through
// the program's message queue; Ctrl+C cancels the run context and the
// loop unwinds through its normal path, so snapshots and the journal
// stay consistent.
func runLearnInteractive(ctx context.Context, deps agent.Dependencies, runCfg agent.Config) (*agent.RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		newLearnModel(runCfg.Goal, runCfg.AttemptBudget, cancel),
		tea.WithOutput(os.Stderr),
	)

	ctrl, err := agent.NewController(deps, runCfg,
		agent.WithOnAttempt(func(rec agent.AttemptRecord) {
			p.Send(attemptMsg{rec: rec})
		}),
	)
	if err != nil {
		return nil, err
	}

	go func() {
		res, runErr := ctrl.Run(runCtx)
		p.Send(runDoneMsg{res: res, err: runErr})
	}()

	finalModel, err := p.Run()
	if err != nil {
		cancel()
		return nil, err
	}
	m, ok := finalModel.(learnModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}
	return m.res, m.err
}
