// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui is the terminal game browser.
//
// # Description
//
// The model renders the board at the display node, the node's comment
// and analysis, and a status line. Navigation goes through a
// navigation.Navigator, so the depth tracker sees every step and the
// position survives an analysis replacing the tree.
//
// # Thread Safety
//
// The model is driven by the bubbletea event loop. Analyses run in a
// tea.Cmd goroutine and report back with AnalysisDoneMsg.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/KataReview/services/review/cache"
	"github.com/AleutianAI/KataReview/services/review/events"
	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/navigation"
	"github.com/AleutianAI/KataReview/services/review/orchestrator"
)

// ErrNotTerminal is returned by Run when output is not a terminal.
var ErrNotTerminal = errors.New("the browser needs an interactive terminal")

// Analyzer runs an analysis of the loaded record. *orchestrator.Orchestrator
// implements it.
type Analyzer interface {
	AnalyzeCurrent(ctx context.Context, steps int, rng *cache.Range) (orchestrator.Result, error)
}

// AnalysisDoneMsg carries a finished analysis back into the event loop.
type AnalysisDoneMsg struct {
	Result orchestrator.Result
	Err    error
}

// Config configures the browser.
type Config struct {
	// Title is shown in the header, usually the file name.
	Title string

	// Steps is the visit budget sent with "a".
	Steps int

	// Timeout bounds one analysis. Default: 3 minutes
	Timeout time.Duration
}

// Model is the bubbletea model for the browser.
type Model struct {
	cfg      Config
	nav      *navigation.Navigator
	analyzer Analyzer

	keys     keyMap
	help     help.Model
	styles   styles
	viewport viewport.Model

	width, height int
	ready         bool
	busy          bool
	quitting      bool

	status         string
	statusSeverity events.Severity
}

// New builds a model over nav. A nil analyzer disables the analyze key.
func New(nav *navigation.Navigator, analyzer Analyzer, cfg Config) Model {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	m := Model{
		cfg:      cfg,
		nav:      nav,
		analyzer: analyzer,
		keys:     defaultKeys(),
		help:     help.New(),
		styles:   defaultStyles(),
		viewport: viewport.New(40, 12),
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Busy reports whether an analysis is running.
func (m Model) Busy() bool { return m.busy }

// Status returns the status line text.
func (m Model) Status() string { return m.status }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.resize()
		m.refresh()
		return m, nil

	case AnalysisDoneMsg:
		m.busy = false
		m.finish(msg)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Forward):
		_, err = m.nav.Forward()
	case key.Matches(msg, m.keys.Back):
		_, err = m.nav.Back()
	case key.Matches(msg, m.keys.NextVar):
		_, err = m.nav.NextVariation()
	case key.Matches(msg, m.keys.PrevVar):
		_, err = m.nav.PrevVariation()
	case key.Matches(msg, m.keys.Start):
		_, err = m.nav.ToStart()
	case key.Matches(msg, m.keys.End):
		_, err = m.nav.ToEnd()
	case key.Matches(msg, m.keys.ScrollDn):
		m.viewport.HalfViewDown()
		return m, nil
	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.Analyze):
		return m.startAnalysis()
	default:
		return m, nil
	}

	switch {
	case errors.Is(err, navigation.ErrAtBoundary):
	case err != nil:
		m.setStatus(events.SeverityWarning, err.Error())
	}
	m.refresh()
	return m, nil
}

func (m Model) startAnalysis() (tea.Model, tea.Cmd) {
	if m.analyzer == nil {
		m.setStatus(events.SeverityWarning, "No analysis backend configured")
		return m, nil
	}
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.setStatus(events.SeverityInfo, "Analyzing...")

	analyzer, steps, timeout := m.analyzer, m.cfg.Steps, m.cfg.Timeout
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := analyzer.AnalyzeCurrent(ctx, steps, nil)
		return AnalysisDoneMsg{Result: res, Err: err}
	}
}

func (m *Model) finish(msg AnalysisDoneMsg) {
	switch {
	case msg.Result.Notice != nil:
		m.setStatus(msg.Result.Notice.Severity, msg.Result.Notice.Message)
	case msg.Err != nil:
		n := orchestrator.Classify(msg.Err)
		m.setStatus(n.Severity, n.Message)
	case msg.Result.FromCache:
		m.setStatus(events.SeverityInfo, "Loaded analysis from cache")
	default:
		m.setStatus(events.SeverityInfo, "Analysis complete")
	}
}

func (m *Model) setStatus(sev events.Severity, text string) {
	m.status, m.statusSeverity = text, sev
}

func (m *Model) resize() {
	boardWidth := 2*m.boardSize() + 8
	w := m.width - boardWidth - 4
	if w < 20 {
		w = 20
	}
	h := m.boardSize() + 2
	m.viewport.Width, m.viewport.Height = w, h
	m.help.Width = m.width
}

func (m Model) boardSize() int {
	if root := m.nav.Tree().Root(); root != nil {
		return root.BoardSize()
	}
	return gametree.DefaultBoardSize
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.details())
	m.viewport.GotoTop()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	cur := m.nav.Current()
	if cur == nil {
		return "No record loaded.\n"
	}

	var b strings.Builder
	b.WriteString(m.header(cur))
	b.WriteString("\n\n")
	board := Position(cur).Render(m.styles)
	panel := m.styles.panel.Render(m.viewport.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, board, "  ", panel))
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.styles.severity(m.statusSeverity).Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) header(cur gametree.Node) string {
	title := m.cfg.Title
	if title == "" {
		title = "KataReview"
	}
	idx, count := m.nav.SiblingIndex()
	info := fmt.Sprintf("Move %d", gametree.Depth(cur))
	if count > 1 {
		info += fmt.Sprintf("  variation %d/%d", idx+1, count)
	}
	if m.busy {
		info += "  [analyzing]"
	}
	return m.styles.title.Render(title) + "  " + m.styles.subtle.Render(info)
}

// details renders the side panel for the display node.
func (m Model) details() string {
	cur := m.nav.Current()
	if cur == nil {
		return ""
	}
	var b strings.Builder
	size := m.boardSize()

	switch n := cur.(type) {
	case *gametree.RootNode:
		b.WriteString("Game start\n")
		for _, id := range []string{"PB", "PW", "KM", "RE"} {
			if v, ok := n.Property(id); ok {
				fmt.Fprintf(&b, "%s: %s\n", id, v)
			}
		}
		m.writeAnnotation(&b, n.Annotation, size)
	case *gametree.MoveNode:
		if n.Move != nil {
			fmt.Fprintf(&b, "%s %s\n", n.Move.Color, n.Move.GTP(size))
		}
		m.writeAnnotation(&b, n.Annotation, size)
		if n.Comment != "" {
			b.WriteString("\n")
			b.WriteString(n.Comment)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) writeAnnotation(b *strings.Builder, a *gametree.Annotation, size int) {
	if a == nil {
		return
	}
	style := m.styles.good
	if a.WinRate < 50 {
		style = m.styles.bad
	}
	b.WriteString(style.Render(fmt.Sprintf("Win rate %.1f%%  Score %+.1f", a.WinRate, a.ScoreLead)))
	b.WriteString("\n")
	for i, c := range a.Candidates {
		fmt.Fprintf(b, "  %d. %-4s %.1f%%  %+.1f\n", i+1, c.Move.GTP(size), c.WinRate, c.ScoreLead)
	}
}

// Run starts the browser on the terminal attached to in and out.
func Run(m Model, in io.Reader, out io.Writer) error {
	f, ok := out.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ErrNotTerminal
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(in), tea.WithOutput(out)).Run()
	return err
}
