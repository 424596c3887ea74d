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
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KataReview/services/review/importer"
	"github.com/AleutianAI/KataReview/services/review/orchestrator"
	"github.com/AleutianAI/KataReview/services/review/sgf"
	"github.com/AleutianAI/KataReview/services/review/tui"
)

func newBrowseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse <file.sgf>",
		Short: "Step through a record in the terminal and analyse it with 'a'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := importer.ReadFile(args[0])
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
			m := tui.New(s.nav, s.orch, tui.Config{
				Title: filepath.Base(args[0]),
				Steps: a.cfg.Analysis.Steps,
			})
			return tui.Run(m, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Analyse every record written into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), args[0], debounce)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a batch is processed")
	return cmd
}

// runWatch analyses each batch of new records sequentially until ctx
// ends. Failures are logged per file and never stop the watch.
func (a *app) runWatch(ctx context.Context, dir string, debounce time.Duration) error {
	s, err := a.newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	batches := make(chan []string, 16)
	w, err := importer.NewWatcher(dir, func(paths []string) {
		select {
		case batches <- paths:
		default:
			a.logger.Warn("watch backlog full, skipping batch", slog.Int("files", len(paths)))
		}
	}, &importer.WatcherOptions{Debounce: debounce, Logger: a.logger})
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.Stop()

	fmt.Fprintf(a.stdout, "watching %s\n", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case paths := <-batches:
			for _, p := range paths {
				a.watchOne(ctx, s, p)
			}
		}
	}
}

func (a *app) watchOne(ctx context.Context, s *session, path string) {
	logger := a.logger.With(slog.String("file", path))
	text, err := importer.ReadFile(path)
	if err != nil {
		logger.Warn("skipping unreadable record", slog.String("error", err.Error()))
		return
	}
	if _, err := s.orch.Import(text); err != nil {
		logger.Warn("skipping unparsable record", slog.String("error", err.Error()))
		return
	}
	res, err := s.orch.Analyze(ctx, orchestrator.Request{Record: text, Steps: a.cfg.Analysis.Steps})
	if err != nil {
		logger.Warn("analysis failed", slog.String("error", analysisError(res, err).Error()))
		return
	}
	out := importer.AnalysedPath(path)
	if err := importer.WriteFile(out, sgf.Serialize(s.tree.Root())); err != nil {
		logger.Warn("write failed", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(a.stdout, "%s -> %s\n", path, out)
}
