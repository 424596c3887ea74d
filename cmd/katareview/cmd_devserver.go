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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KataReview/services/review/devserver"
)

func newDevServerCmd(a *app) *cobra.Command {
	var (
		addr  string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve a local stand-in for the analysis service",
		Long: `Serves the analysis API on addr with a deterministic engine, so the
client can be exercised without a real backend. Point backend.domain.base_url
at it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := a.cfg.DevServer
			if addr == "" {
				addr = dc.Addr
			}
			cfg := devserver.DefaultConfig()
			cfg.APIKey = dc.APIKey
			cfg.WorkerKey = dc.WorkerKey
			cfg.BearerToken = dc.BearerToken
			cfg.RateLimit = dc.RateLimit
			cfg.RateWindow = time.Duration(dc.RateWindowSeconds) * time.Second

			logger := a.logger.With(slog.String("component", "devserver"))
			srv := devserver.New(cfg, devserver.StubEngine{Delay: delay}, logger)

			ready := make(chan string, 1)
			go func() {
				if bound, ok := <-ready; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "devserver listening on http://%s\n", bound)
				}
			}()
			return srv.ListenAndServe(cmd.Context(), addr, ready)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "simulated engine time per turn")
	return cmd
}
