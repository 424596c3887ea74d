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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

// commandResult wraps --json output with metadata.
type commandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func writeJSON(w io.Writer, command string, data any, err error) error {
	res := commandResult{
		APIVersion: "1.0",
		Command:    command,
		Timestamp:  time.Now().UTC(),
		Success:    err == nil,
		Data:       data,
	}
	if err != nil {
		res.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// moveLine is one printed main-line entry.
type moveLine struct {
	Number     int      `json:"number"`
	Color      string   `json:"color,omitempty"`
	Move       string   `json:"move,omitempty"`
	WinRate    *float64 `json:"winrate,omitempty"`
	ScoreLead  *float64 `json:"score_lead,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// mainLine lists the played moves. An analysed starting position adds a
// leading entry numbered 0.
func mainLine(root *gametree.RootNode) []moveLine {
	size := root.BoardSize()
	var out []moveLine
	if root.Annotation != nil {
		ml := moveLine{Number: 0}
		ml.annotate(root.Annotation, size)
		out = append(out, ml)
	}
	for i, n := range gametree.MainLine(root) {
		ml := moveLine{Number: i + 1}
		if n.Move != nil {
			ml.Color = n.Move.Color.String()
			ml.Move = n.Move.GTP(size)
		}
		ml.annotate(n.Annotation, size)
		out = append(out, ml)
	}
	return out
}

func (ml *moveLine) annotate(a *gametree.Annotation, size int) {
	if a == nil {
		return
	}
	win, score := a.WinRate, a.ScoreLead
	ml.WinRate, ml.ScoreLead = &win, &score
	for _, c := range a.Candidates {
		ml.Candidates = append(ml.Candidates, c.Move.GTP(size))
	}
}

func printMainLine(w io.Writer, lines []moveLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "%4d  %-1s %-4s", l.Number, l.Color, l.Move)
		if l.WinRate != nil {
			fmt.Fprintf(w, "  %5.1f%%  %+6.1f", *l.WinRate, *l.ScoreLead)
		}
		if len(l.Candidates) > 0 {
			fmt.Fprintf(w, "  [%s]", strings.Join(l.Candidates, " "))
		}
		fmt.Fprintln(w)
	}
}
