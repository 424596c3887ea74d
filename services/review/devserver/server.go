// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package devserver is a local implementation of the v1 analysis API.
//
// It speaks the same wire contract as the hosted service so the client
// can be exercised end to end without a GPU:
//
//	GET  /v1/ping
//	GET  /v1/health
//	POST /v1/analyses          {"sgf", "visits", "startTurn", "endTurn"}
//	POST /v1/analyses/stream   text/event-stream of "data: {...}" frames
//	GET  /metrics
//
// Requests pass through correlation-ID, body-limit, auth, and per-client
// rate-limit middleware in that order.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/KataReview/services/review/telemetry"
)

// Config holds server limits and credentials.
type Config struct {
	// APIKey, WorkerKey and BearerToken are required of clients when set.
	APIKey      string
	WorkerKey   string
	BearerToken string

	// RateLimit is requests per RateWindow per client. Zero disables it.
	RateLimit  int
	RateWindow time.Duration

	MaxBodyBytes int64

	MinVisits     int
	MaxVisits     int
	DefaultVisits int

	// Timeout bounds one blocking analysis.
	Timeout time.Duration
}

// DefaultConfig matches the hosted service's defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit:     30,
		RateWindow:    60 * time.Second,
		MaxBodyBytes:  10 << 20,
		MinVisits:     100,
		MaxVisits:     100_000,
		DefaultVisits: 1000,
		Timeout:       120 * time.Second,
	}
}

// Server is the gin application.
type Server struct {
	cfg    Config
	engine Engine
	logger *slog.Logger
	router *gin.Engine
}

// New builds the router. A nil logger uses slog.Default.
func New(cfg Config, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MinVisits <= 0 {
		cfg.MinVisits = def.MinVisits
	}
	if cfg.MaxVisits <= 0 {
		cfg.MaxVisits = def.MaxVisits
	}
	if cfg.DefaultVisits <= 0 {
		cfg.DefaultVisits = def.DefaultVisits
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, engine: engine, logger: logger, router: gin.New()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("katareview-devserver"))
	r.Use(correlationID(s.logger))
	r.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "Not found")
	})

	r.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := r.Group("/v1")
	v1.GET("/ping", s.handlePing)
	v1.GET("/health", s.handleHealth)

	analyses := v1.Group("/analyses")
	analyses.Use(
		bodyLimit(s.cfg.MaxBodyBytes),
		auth(credentials{
			apiKey:      s.cfg.APIKey,
			workerKey:   s.cfg.WorkerKey,
			bearerToken: s.cfg.BearerToken,
		}),
	)
	if s.cfg.RateLimit > 0 {
		analyses.Use(rateLimit(newClientLimiter(s.cfg.RateLimit, s.cfg.RateWindow)))
	}
	analyses.POST("", s.handleAnalyze)
	analyses.POST("/stream", s.handleStream)
}

func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}

// Handler exposes the router, for httptest and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. The bound address is sent on ready when it is non-nil.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("dev server listening", slog.String("addr", ln.Addr().String()))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
