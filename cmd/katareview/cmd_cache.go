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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KataReview/services/review/cache"
	"github.com/AleutianAI/KataReview/services/review/importer"
	"github.com/AleutianAI/KataReview/services/review/orchestrator"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the analysis cache",
	}
	cmd.AddCommand(newCacheKeyCmd(a), newCacheGetCmd(a), newCacheDropCmd(a))
	return cmd
}

// cacheKey fingerprints the record at path the way an analyze run would.
func (a *app) cacheKey(cmd *cobra.Command, path string, f analyzeFlags) (cache.Key, error) {
	text, err := importer.ReadFile(path)
	if err != nil {
		return "", err
	}
	canonical, err := orchestrator.Canonicalize(text)
	if err != nil {
		return "", err
	}
	req := f.request(cmd, canonical, a.cfg.Analysis.Steps)
	return cache.Fingerprint(canonical, req.Steps, req.Range), nil
}

func newCacheKeyCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "key <file.sgf>",
		Short: "Print the cache key for a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.cacheKey(cmd, args[0], f)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), "cache key", map[string]string{"key": string(key)}, nil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	addAnalyzeFlags(cmd, &f)
	return cmd
}

func newCacheGetCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "get <file.sgf>",
		Short: "Print the cached analysis of a record, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.cacheKey(cmd, args[0], f)
			if err != nil {
				return err
			}
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			text, ok, err := c.Lookup(cmd.Context(), key)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), "cache get", map[string]any{
					"key": string(key), "hit": ok, "sgf": text,
				}, nil)
			}
			if !ok {
				return fmt.Errorf("no cached analysis for %s", key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	addAnalyzeFlags(cmd, &f)
	return cmd
}

func newCacheDropCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "drop <file.sgf>",
		Short: "Remove the cached analysis of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.cacheKey(cmd, args[0], f)
			if err != nil {
				return err
			}
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Invalidate(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", key)
			return nil
		},
	}
	addAnalyzeFlags(cmd, &f)
	return cmd
}
