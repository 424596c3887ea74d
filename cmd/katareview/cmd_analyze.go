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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/cache"
	"github.com/AleutianAI/KataReview/services/review/importer"
	"github.com/AleutianAI/KataReview/services/review/orchestrator"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

type analyzeFlags struct {
	steps  int
	start  int
	end    int
	out    string
	stream bool
}

// request builds the orchestrator request for record, reading the turn
// range only from flags the user set.
func (f analyzeFlags) request(cmd *cobra.Command, record string, defaultSteps int) orchestrator.Request {
	steps := f.steps
	if steps <= 0 {
		steps = defaultSteps
	}
	var start, end *int
	if cmd.Flags().Changed("start") {
		v := f.start
		start = &v
	}
	if cmd.Flags().Changed("end") {
		v := f.end
		end = &v
	}
	return orchestrator.Request{Record: record, Steps: steps, Range: cache.NewRange(start, end)}
}

func addAnalyzeFlags(cmd *cobra.Command, f *analyzeFlags) {
	cmd.Flags().IntVar(&f.steps, "steps", 0, "visit budget per position (default from config)")
	cmd.Flags().IntVar(&f.start, "start", 0, "first turn to analyse")
	cmd.Flags().IntVar(&f.end, "end", 0, "last turn to analyse")
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file.sgf>",
		Short: "Analyse a record and write the annotated copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd, args[0], f)
		},
	}
	addAnalyzeFlags(cmd, &f)
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output path (default <name>.analysed.sgf)")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print per-turn progress instead of writing a file")
	return cmd
}

type analyzeOutput struct {
	Input     string     `json:"input"`
	Output    string     `json:"output,omitempty"`
	Key       string     `json:"key"`
	FromCache bool       `json:"from_cache"`
	MainLine  []moveLine `json:"main_line"`
}

func (a *app) runAnalyze(cmd *cobra.Command, path string, f analyzeFlags) error {
	text, err := importer.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := a.newSession()
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.orch.Import(text); err != nil {
		return err
	}
	req := f.request(cmd, text, a.cfg.Analysis.Steps)

	if f.stream {
		return a.runStream(cmd.Context(), s, req)
	}

	res, err := s.orch.Analyze(cmd.Context(), req)
	if err != nil {
		return analysisError(res, err)
	}

	out := f.out
	if out == "" {
		out = importer.AnalysedPath(path)
	}
	root := s.tree.Root()
	if err := importer.WriteFile(out, sgf.Serialize(root)); err != nil {
		return err
	}

	result := analyzeOutput{
		Input:     path,
		Output:    out,
		Key:       string(res.Key),
		FromCache: res.FromCache,
		MainLine:  mainLine(root),
	}
	if a.jsonOut {
		return writeJSON(cmd.OutOrStdout(), "analyze", result, nil)
	}
	source := "computed"
	if res.FromCache {
		source = "cached"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", path, out, source)
	printMainLine(cmd.OutOrStdout(), result.MainLine)
	return nil
}

func (a *app) runStream(ctx context.Context, s *session, req orchestrator.Request) error {
	w := a.stdout
	err := s.orch.AnalyzeStream(ctx, req, func(p backend.Progress) error {
		if a.jsonOut {
			return writeJSON(w, "analyze", p, nil)
		}
		best := ""
		if len(p.TopMoves) > 0 {
			best = p.TopMoves[0].Move
		}
		fmt.Fprintf(w, "turn %d/%d  %5.1f%%  %+6.1f  best %s\n", p.Turn, p.TotalTurns, p.WinRate, p.ScoreLead, best)
		return nil
	})
	if err != nil {
		n := orchestrator.Classify(err)
		return fmt.Errorf("%s: %w", n.Message, err)
	}
	return nil
}

// analysisError prefers the user-facing notice over the raw error.
func analysisError(res orchestrator.Result, err error) error {
	if res.Notice != nil && res.Notice.Message != "" {
		return fmt.Errorf("%s: %w", res.Notice.Message, err)
	}
	return err
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <file.sgf>",
		Short: "Print the main line with any analysis it carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := importer.LoadFile(args[0])
			if err != nil {
				return err
			}
			lines := mainLine(root)
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), "show", lines, nil)
			}
			printMainLine(cmd.OutOrStdout(), lines)
			return nil
		},
	}
}
