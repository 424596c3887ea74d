// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend builds clients for the remote analysis service.
//
// Two wire-compatible variants exist, selected by Config.Mode:
//
//	domain  POST <base_url>/v1/analyses   X-API-Key
//	runpod  POST <endpoint>/v1/analyses   X-Worker-Key, Authorization: Bearer
//
// NewClient reads only the sub-config of the active mode. Failures are
// reported as *ConfigError, *TransportError or *BackendError.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps an analysed record read from the wire.
const maxResponseBytes = 16 << 20

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Request is one analysis request.
type Request struct {
	// Record is the canonical record text.
	Record string

	// Steps is the engine visit count per position.
	Steps int

	// StartTurn and EndTurn bound the analysed turns, inclusive.
	StartTurn *int
	EndTurn   *int
}

// TopMove is a candidate reported in a streaming progress frame.
type TopMove struct {
	Move      string   `json:"move"`
	WinRate   float64  `json:"winrate"`
	ScoreLead float64  `json:"scoreLead"`
	Visits    int      `json:"visits"`
	PV        []string `json:"pv"`
}

// Progress is one streaming frame.
type Progress struct {
	Turn          int
	TotalTurns    int
	WinRate       float64
	ScoreLead     float64
	CurrentPlayer string
	TopMoves      []TopMove
	Done          bool
}

// Client is implemented by DomainClient and RunPodClient.
type Client interface {
	// Mode reports which variant this is.
	Mode() Mode

	// Analyze submits req and returns the analysed record text.
	Analyze(ctx context.Context, req Request) (string, error)

	// AnalyzeStream submits req to the streaming endpoint and calls fn
	// for each progress frame until the stream ends, fn returns an
	// error, or ctx is done.
	AnalyzeStream(ctx context.Context, req Request, fn func(Progress) error) error
}

// Doer is the HTTP collaborator. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a client.
type Option func(*settings)

type settings struct {
	doer   Doer
	logger *slog.Logger
}

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(d Doer) Option {
	return func(s *settings) {
		if d != nil {
			s.doer = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// -----------------------------------------------------------------------------
// Shared transport
// -----------------------------------------------------------------------------

// transport carries the request mechanics shared by both variants. The
// variant supplies only its base URL and its authentication headers.
type transport struct {
	mode    Mode
	base    string
	doer    Doer
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	auth    func(h http.Header) error
}

func newTransport(mode Mode, base string, timeout time.Duration, rpm int, auth func(http.Header) error, opts []Option) *transport {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if s.doer == nil {
		// The per-request context carries the deadline; the client
		// timeout is only a backstop for a stuck body read.
		s.doer = &http.Client{Timeout: timeout + 10*time.Second}
	}
	t := &transport{
		mode:    mode,
		base:    base,
		doer:    s.doer,
		timeout: timeout,
		logger:  s.logger.With(slog.String("backend", string(mode))),
		auth:    auth,
	}
	if rpm > 0 {
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return t
}

type analysisRequest struct {
	SGF       string `json:"sgf"`
	Visits    int    `json:"visits"`
	StartTurn *int   `json:"startTurn,omitempty"`
	EndTurn   *int   `json:"endTurn,omitempty"`
}

// newRequest builds a POST with all headers set.
func (t *transport) newRequest(ctx context.Context, path string, req Request, accept string) (*http.Request, error) {
	body, err := json.Marshal(analysisRequest{
		SGF:       req.Record,
		Visits:    req.Steps,
		StartTurn: req.StartTurn,
		EndTurn:   req.EndTurn,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("X-Correlation-ID", uuid.NewString())
	if err := t.auth(httpReq.Header); err != nil {
		return nil, fmt.Errorf("build auth headers: %w", err)
	}
	return httpReq, nil
}

func (t *transport) wait(ctx context.Context, op, url string) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return newTransportError(ctx, op, url, err)
	}
	return nil
}

func (t *transport) analyze(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ctx, span := startSpan(ctx, "Analyze", t.mode)
	defer span.End()

	url := t.base + "/v1/analyses"
	if err := t.wait(ctx, "analyze", url); err != nil {
		return "", finishSpan(span, err)
	}
	httpReq, err := t.newRequest(ctx, "/v1/analyses", req, "application/json")
	if err != nil {
		return "", finishSpan(span, err)
	}

	start := time.Now()
	resp, err := t.doer.Do(httpReq)
	if err != nil {
		recordRequest(ctx, t.mode, start, 0)
		return "", finishSpan(span, newTransportError(ctx, "analyze", url, err))
	}
	defer resp.Body.Close()
	recordRequest(ctx, t.mode, start, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", finishSpan(span, newTransportError(ctx, "analyze", url, err))
	}

	t.logger.Debug("analysis response",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.String("correlation_id", httpReq.Header.Get("X-Correlation-ID")),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", finishSpan(span, statusError(resp.StatusCode, body))
	}
	text, err := decodeAnalysis(body)
	return text, finishSpan(span, err)
}
