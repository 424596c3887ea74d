// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/KataReview/services/review/events"
)

type styles struct {
	title    lipgloss.Style
	subtle   lipgloss.Style
	black    lipgloss.Style
	white    lipgloss.Style
	empty    lipgloss.Style
	lastMove lipgloss.Style
	panel    lipgloss.Style
	good     lipgloss.Style
	bad      lipgloss.Style
	info     lipgloss.Style
	warning  lipgloss.Style
	errorS   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		subtle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		black:    lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("179")),
		white:    lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("179")),
		empty:    lipgloss.NewStyle().Foreground(lipgloss.Color("94")).Background(lipgloss.Color("179")),
		lastMove: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")).Background(lipgloss.Color("179")),
		panel:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1),
		good:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		bad:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		info:     lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorS:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

func (s styles) severity(sev events.Severity) lipgloss.Style {
	switch sev {
	case events.SeverityError:
		return s.errorS
	case events.SeverityWarning:
		return s.warning
	default:
		return s.info
	}
}

// keyMap holds the browser's bindings.
type keyMap struct {
	Forward  key.Binding
	Back     key.Binding
	PrevVar  key.Binding
	NextVar  key.Binding
	Start    key.Binding
	End      key.Binding
	Analyze  key.Binding
	Quit     key.Binding
	ScrollDn key.Binding
	ScrollUp key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Forward:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next")),
		Back:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev")),
		PrevVar:  key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑", "variation")),
		NextVar:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓", "variation")),
		Start:    key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g/G", "start/end")),
		End:      key.NewBinding(key.WithKeys("G", "end")),
		Analyze:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "analyze")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		ScrollDn: key.NewBinding(key.WithKeys("ctrl+d")),
		ScrollUp: key.NewBinding(key.WithKeys("ctrl+u")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.Back, k.NextVar, k.Start, k.Analyze, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
