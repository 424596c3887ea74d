// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sgf

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

// MaxCandidates is the number of alternative moves the analysis server
// attaches to an analysed position.
const MaxCandidates = 3

var (
	winrateRE   = regexp.MustCompile(`Winrate:\s*(-?\d+(?:\.\d+)?)%,\s*Score:\s*(-?\d+(?:\.\d+)?)`)
	variationRE = regexp.MustCompile(`^Var - Win:\s*(-?\d+(?:\.\d+)?)%,\s*Score:\s*(-?\d+(?:\.\d+)?)`)
)

// FormatWinrate renders the main-line annotation comment.
func FormatWinrate(winRate, scoreLead float64) string {
	return fmt.Sprintf("Winrate: %.1f%%, Score: %.1f", winRate, scoreLead)
}

// FormatVariation renders the comment placed on a candidate variation.
func FormatVariation(winRate, scoreLead float64) string {
	return fmt.Sprintf("Var - Win: %.1f%%, Score: %.1f", winRate, scoreLead)
}

// Annotate appends the analysis comment to n and sets its Annotation, so
// the node serialises to the same text the server would write. n is a
// *gametree.RootNode for the starting position or a *gametree.MoveNode.
func Annotate(n gametree.Node, winRate, scoreLead float64) {
	line := FormatWinrate(winRate, scoreLead)
	switch n := n.(type) {
	case *gametree.RootNode:
		if c := propText(n.Properties, "C"); c != "" {
			line = c + "\n" + line
		}
		n.SetProperty("C", line)
		n.Annotation = withScore(n.Annotation, winRate, scoreLead)
	case *gametree.MoveNode:
		if n.Comment != "" {
			line = n.Comment + "\n" + line
		}
		n.Comment = line
		n.Annotation = withScore(n.Annotation, winRate, scoreLead)
	}
}

func withScore(a *gametree.Annotation, winRate, scoreLead float64) *gametree.Annotation {
	if a == nil {
		a = &gametree.Annotation{}
	}
	a.WinRate = winRate
	a.ScoreLead = scoreLead
	return a
}

// AddCandidate attaches a candidate variation under n and records it in
// n's annotation. It returns the new variation node so callers can
// extend it with the principal variation.
func AddCandidate(n gametree.Node, c gametree.Candidate) (*gametree.MoveNode, error) {
	v := gametree.NewMove(c.Move)
	v.Comment = FormatVariation(c.WinRate, c.ScoreLead)
	var ann **gametree.Annotation
	switch n := n.(type) {
	case *gametree.RootNode:
		if err := n.AddChild(v); err != nil {
			return nil, err
		}
		ann = &n.Annotation
	case *gametree.MoveNode:
		if err := n.AddChild(v); err != nil {
			return nil, err
		}
		ann = &n.Annotation
	default:
		return nil, fmt.Errorf("cannot add a candidate under %T", n)
	}
	if *ann == nil {
		*ann = &gametree.Annotation{}
	}
	(*ann).Candidates = append((*ann).Candidates, c)
	return v, nil
}

func parseWinrate(comment string) *gametree.Annotation {
	if comment == "" {
		return nil
	}
	m := winrateRE.FindStringSubmatch(comment)
	if m == nil {
		return nil
	}
	win, err1 := strconv.ParseFloat(m[1], 64)
	score, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &gametree.Annotation{WinRate: win, ScoreLead: score}
}

func parseVariation(comment string) (float64, float64, bool) {
	m := variationRE.FindStringSubmatch(comment)
	if m == nil {
		return 0, 0, false
	}
	win, err1 := strconv.ParseFloat(m[1], 64)
	score, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return win, score, true
}

// collectCandidates records the variation children of an analysed node.
func collectCandidates(a *gametree.Annotation, children []*gametree.MoveNode) {
	if a == nil {
		return
	}
	for _, c := range children {
		if c.Move == nil {
			continue
		}
		win, score, ok := parseVariation(c.Comment)
		if !ok {
			continue
		}
		a.Candidates = append(a.Candidates, gametree.Candidate{
			Move:      *c.Move,
			WinRate:   win,
			ScoreLead: score,
		})
	}
}
