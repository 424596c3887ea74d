// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const analysed = "(;SZ[19];B[pd]C[Winrate: 50.0%, Score: 0.5])"

// recorder captures the last request a test server saw.
type recorder struct {
	mu     sync.Mutex
	header http.Header
	body   analysisRequest
	path   string
}

func (r *recorder) capture(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = req.Header.Clone()
	r.path = req.URL.Path
	_ = json.NewDecoder(req.Body).Decode(&r.body)
}

func newServer(t *testing.T, rec *recorder, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec != nil {
			rec.capture(r)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"meta":{"version":"v1","status":"ok"},"data":{"sgf":%q,"visits_used":100}}`, analysed)
}

func intPtr(v int) *int { return &v }

func TestNewClient_SelectsVariant(t *testing.T) {
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: "https://a.example"}})
	require.NoError(t, err)
	assert.Equal(t, ModeDomain, c.Mode())
	assert.IsType(t, &DomainClient{}, c)

	c, err = NewClient(Config{Mode: ModeRunPod, RunPod: RunPodConfig{Endpoint: "https://r.example/"}})
	require.NoError(t, err)
	assert.Equal(t, ModeRunPod, c.Mode())
	assert.IsType(t, &RunPodClient{}, c)
}

func TestNewClient_ConfigErrors(t *testing.T) {
	cases := map[string]Config{
		"empty mode":      {},
		"unknown mode":    {Mode: "carrier-pigeon"},
		"missing base":    {Mode: ModeDomain},
		"bad scheme":      {Mode: ModeDomain, Domain: DomainConfig{BaseURL: "ftp://x"}},
		"missing host":    {Mode: ModeDomain, Domain: DomainConfig{BaseURL: "https://"}},
		"missing runpod":  {Mode: ModeRunPod},
		"malformed url":   {Mode: ModeRunPod, RunPod: RunPodConfig{Endpoint: "http://[::1"}},
		"domain elsewise": {Mode: ModeRunPod, Domain: DomainConfig{BaseURL: "https://a.example"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(cfg)
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "want *ConfigError, got %v", err)
		})
	}
}

func TestDomainClient_HeadersAndBody(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, okHandler)

	c, err := NewClient(Config{
		Mode:   ModeDomain,
		Domain: DomainConfig{BaseURL: srv.URL + "/", APIKey: "domain-key"},
		// Inactive mode fields must never leak into the request.
		RunPod: RunPodConfig{Endpoint: "not a url", BearerToken: "tok", WorkerKey: "wk"},
	})
	require.NoError(t, err)

	text, err := c.Analyze(context.Background(), Request{Record: "(;SZ[19];B[pd])", Steps: 500, StartTurn: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, analysed, text)

	assert.Equal(t, "/v1/analyses", rec.path)
	assert.Equal(t, "application/json", rec.header.Get("Content-Type"))
	assert.Equal(t, "domain-key", rec.header.Get("X-API-Key"))
	assert.Empty(t, rec.header.Get("Authorization"))
	assert.Empty(t, rec.header.Get("X-Worker-Key"))
	assert.NotEmpty(t, rec.header.Get("X-Correlation-ID"))
	assert.Equal(t, "(;SZ[19];B[pd])", rec.body.SGF)
	assert.Equal(t, 500, rec.body.Visits)
	require.NotNil(t, rec.body.StartTurn)
	assert.Equal(t, 2, *rec.body.StartTurn)
	assert.Nil(t, rec.body.EndTurn)
}

func TestDomainClient_NoKeyNoHeader(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, okHandler)
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 100})
	require.NoError(t, err)
	_, present := rec.header["X-Api-Key"]
	assert.False(t, present)
}

func TestRunPodClient_Headers(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"output":{"analyzed_sgf":%q}}`, analysed)
	})

	c, err := NewClient(Config{
		Mode:   ModeRunPod,
		RunPod: RunPodConfig{Endpoint: srv.URL, BearerToken: "tok", WorkerKey: "wk"},
		Domain: DomainConfig{BaseURL: "::::", APIKey: "should-not-appear"},
	})
	require.NoError(t, err)

	text, err := c.Analyze(context.Background(), Request{Record: "(;)", Steps: 100})
	require.NoError(t, err)
	assert.Equal(t, analysed, text)
	assert.Equal(t, "Bearer tok", rec.header.Get("Authorization"))
	assert.Equal(t, "wk", rec.header.Get("X-Worker-Key"))
	assert.Empty(t, rec.header.Get("X-API-Key"))
}

func TestRunPodClient_OptionalHeaders(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, okHandler)
	c, err := NewClient(Config{Mode: ModeRunPod, RunPod: RunPodConfig{Endpoint: srv.URL, WorkerKey: "wk"}})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 100})
	require.NoError(t, err)
	assert.Equal(t, "wk", rec.header.Get("X-Worker-Key"))
	assert.Empty(t, rec.header.Get("Authorization"))
}

func TestAnalyze_ResponseShapes(t *testing.T) {
	bodies := map[string]string{
		"envelope":     fmt.Sprintf(`{"data":{"sgf":%q}}`, analysed),
		"legacy":       fmt.Sprintf(`{"analyzed_sgf":%q}`, analysed),
		"runpod":       fmt.Sprintf(`{"output":{"analyzed_sgf":%q}}`, analysed),
		"bare sgf key": fmt.Sprintf(`{"sgf":%q}`, analysed),
		"raw text":     analysed + "\n",
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, body)
			})
			c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
			require.NoError(t, err)
			text, err := c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
			require.NoError(t, err)
			assert.Equal(t, analysed, text)
		})
	}
}

func TestAnalyze_StatusErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		msg    string
	}{
		{401, `{"detail":"Invalid API key"}`, "Invalid API key"},
		{400, `{"error":{"code":400,"message":"Invalid SGF: bad"}}`, "Invalid SGF: bad"},
		{429, `{"error":{"code":429,"message":"Too many requests. Please retry later.","retry_after":12}}`, "Too many requests. Please retry later."},
		{504, `{"error":{"code":504,"message":"Analysis timed out"}}`, "Analysis timed out"},
		{500, ``, "Internal Server Error"},
		{502, `upstream down`, "upstream down"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := newServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
			require.NoError(t, err)

			_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
			var be *BackendError
			require.True(t, errors.As(err, &be), "want *BackendError, got %v", err)
			assert.Equal(t, tc.status, be.Code)
			assert.Equal(t, tc.msg, be.Message)
		})
	}
}

func TestAnalyze_InBodyError(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error":{"code":400,"message":"Invalid SGF: no moves"}}`)
	})
	c, err := NewClient(Config{Mode: ModeRunPod, RunPod: RunPodConfig{Endpoint: srv.URL}})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 400, be.Code)
}

func TestAnalyze_JSONWithoutRecord(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"meta":{"status":"ok"}}`)
	})
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusBadGateway, be.Code)
}

func TestAnalyze_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
	var te *TransportError
	require.True(t, errors.As(err, &te), "want *TransportError, got %v", err)
	assert.True(t, te.Timeout)
}

func TestAnalyze_Abort(t *testing.T) {
	started := make(chan struct{})
	srv := newServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err = c.Analyze(ctx, Request{Record: "(;)", Steps: 1})
	var te *TransportError
	require.True(t, errors.As(err, &te), "want *TransportError, got %v", err)
	assert.True(t, te.Canceled)
	assert.False(t, te.Timeout)
}

func TestAnalyze_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(okHandler))
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: url}})
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Timeout)
	assert.False(t, te.Canceled)
}

func TestAnalyze_RateLimited(t *testing.T) {
	srv := newServer(t, nil, okHandler)
	// One request per minute: the second call must wait and so hits the
	// caller's deadline.
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}, RequestsPerMinute: 1})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Record: "(;)", Steps: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Analyze(ctx, Request{Record: "(;)", Steps: 1})
	var te *TransportError
	require.True(t, errors.As(err, &te), "want *TransportError, got %v", err)
}

func TestAnalyzeStream(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, `data: {"turn":1,"total":2,"winrate":51.2,"score":0.4,"currentPlayer":"W","topMoves":[{"move":"D4","winrate":49.0,"scoreLead":-0.2,"visits":40,"pv":["D4","Q16"]}]}`+"\n\n")
		fmt.Fprint(w, `data: {"turn":2,"totalTurns":2,"winrate":47.0,"score":-1.0,"topMoves":[]}`+"\n\n")
		fmt.Fprint(w, `data: {"done":true}`+"\n\n")
	})
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
	require.NoError(t, err)

	var frames []Progress
	err = c.AnalyzeStream(context.Background(), Request{Record: "(;)", Steps: 10}, func(p Progress) error {
		frames = append(frames, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/v1/analyses/stream", rec.path)
	assert.Equal(t, "text/event-stream", rec.header.Get("Accept"))
	require.Len(t, frames, 2)
	assert.Equal(t, 1, frames[0].Turn)
	assert.Equal(t, 2, frames[0].TotalTurns)
	assert.InDelta(t, 51.2, frames[0].WinRate, 1e-9)
	require.Len(t, frames[0].TopMoves, 1)
	assert.Equal(t, "D4", frames[0].TopMoves[0].Move)
	assert.Equal(t, 2, frames[1].TotalTurns)
}

func TestAnalyzeStream_ErrorFrame(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `data: {"error":"engine crashed"}`+"\n\n")
	})
	c, err := NewClient(Config{Mode: ModeRunPod, RunPod: RunPodConfig{Endpoint: srv.URL}})
	require.NoError(t, err)

	err = c.AnalyzeStream(context.Background(), Request{Record: "(;)", Steps: 10}, func(Progress) error { return nil })
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "engine crashed", be.Message)
}

func TestAnalyzeStream_CallbackStops(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"turn\":1,\"total\":3}\n\ndata: {\"turn\":2,\"total\":3}\n\n")
	})
	c, err := NewClient(Config{Mode: ModeDomain, Domain: DomainConfig{BaseURL: srv.URL}})
	require.NoError(t, err)

	stop := errors.New("enough")
	calls := 0
	err = c.AnalyzeStream(context.Background(), Request{Record: "(;)", Steps: 10}, func(Progress) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestErrorStrings(t *testing.T) {
	assert.Contains(t, (&ConfigError{Mode: ModeDomain, Field: "domain.base_url", Reason: "not set"}).Error(), "domain.base_url")
	assert.Contains(t, (&BackendError{Code: 429}).Error(), "429")
	te := &TransportError{Op: "analyze", URL: "http://x", Timeout: true, Err: context.DeadlineExceeded}
	assert.Contains(t, te.Error(), "timed out")
	assert.ErrorIs(t, te, context.DeadlineExceeded)
}
