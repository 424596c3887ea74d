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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KataReview/cmd/katareview/config"
	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/cache"
	"github.com/AleutianAI/KataReview/services/review/events"
	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/navigation"
	"github.com/AleutianAI/KataReview/services/review/orchestrator"
	"github.com/AleutianAI/KataReview/services/review/storage/badger"
	"github.com/AleutianAI/KataReview/services/review/telemetry"
)

// app is the state shared by every subcommand.
type app struct {
	cfgPath string
	jsonOut bool

	cfg      config.KataReviewConfig
	logger   *slog.Logger
	shutdown func(context.Context) error

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
}

// setup loads config and starts logging and telemetry. It runs before
// every subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, created, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := telemetry.NewLogger(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)
	if created {
		logger.Info("created default config", slog.String("path", a.cfgPath))
	}

	shutdown, err := telemetry.Init(cmd.Context(), cfg.TelemetrySettings())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.shutdown == nil {
		return
	}
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
}

// openCache builds the configured store and wraps it in a Cache.
func (a *app) openCache() (*cache.Cache, error) {
	cc := a.cfg.Cache
	var store cache.Store
	switch cc.Backend {
	case "memory":
		store = cache.NewMemoryStore()
	case "badger":
		bcfg := badger.DefaultConfig(cc.Path)
		bcfg.Logger = a.logger.With(slog.String("component", "badger"))
		db, err := badger.Open(bcfg)
		if err != nil {
			return nil, &cache.CacheError{Op: "open", Err: err}
		}
		store = cache.NewBadgerStore(db)
	case "sqlite":
		s, err := cache.OpenSQLiteStore(cc.Path)
		if err != nil {
			return nil, &cache.CacheError{Op: "open", Err: err}
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
	}

	opts := []cache.Option{cache.WithCompression(cc.Compress), cache.WithLogger(a.logger)}
	if cc.MaxEntries > 0 {
		opts = append(opts, cache.WithEvictionPolicy(cache.NewLRUPolicy(cc.MaxEntries)))
	}
	c, err := cache.New(store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

// session is one loaded record and the machinery around it.
type session struct {
	tree    *gametree.Tree
	nav     *navigation.Navigator
	orch    *orchestrator.Orchestrator
	emitter *events.Emitter
	cache   *cache.Cache
}

func (s *session) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// newSession wires a tree, the cache, and a backend factory into an
// orchestrator. The backend is built lazily so a missing endpoint is
// reported as a notice when an analysis starts.
func (a *app) newSession() (*session, error) {
	policy, err := gametree.ParseStartPolicy(a.cfg.Analysis.StartPolicy)
	if err != nil {
		return nil, err
	}
	tree := gametree.NewTree(
		gametree.WithDepthPolicy(navigation.NewDepthTracker()),
		gametree.WithStartPolicy(policy),
	)

	c, err := a.openCache()
	if err != nil {
		return nil, err
	}

	emitter := events.NewEmitter(events.WithLogger(a.logger))
	emitter.Subscribe(func(ev *events.Event) {
		if n, ok := ev.Data.(*events.NoticeData); ok {
			a.logger.Debug("notice", slog.String("severity", string(n.Severity)), slog.String("message", n.Message))
		}
	}, events.TypeNotice)

	bcfg := a.cfg.BackendSettings()
	logger := a.logger
	factory := func() (backend.Client, error) {
		return backend.NewClient(bcfg, backend.WithLogger(logger))
	}

	orch, err := orchestrator.New(tree, c, factory, emitter, orchestrator.WithLogger(a.logger))
	if err != nil {
		c.Close()
		return nil, err
	}
	return &session{
		tree:    tree,
		nav:     navigation.NewNavigator(tree),
		orch:    orch,
		emitter: emitter,
		cache:   c,
	}, nil
}
