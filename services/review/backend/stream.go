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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// streamFrame is one "data:" payload. The server has sent both "total"
// and "totalTurns" for the turn count.
type streamFrame struct {
	Turn          int       `json:"turn"`
	Total         int       `json:"total"`
	TotalTurns    int       `json:"totalTurns"`
	WinRate       float64   `json:"winrate"`
	Score         float64   `json:"score"`
	CurrentPlayer string    `json:"currentPlayer"`
	TopMoves      []TopMove `json:"topMoves"`
	IsDone        bool      `json:"isDone"`
	Done          bool      `json:"done"`
	Error         string    `json:"error"`
}

// errStopStream ends the read loop after the terminal frame.
var errStopStream = errors.New("stream finished")

func (t *transport) stream(ctx context.Context, req Request, fn func(Progress) error) error {
	ctx, span := startSpan(ctx, "AnalyzeStream", t.mode)
	defer span.End()

	url := t.base + "/v1/analyses/stream"
	if err := t.wait(ctx, "stream", url); err != nil {
		return finishSpan(span, err)
	}
	httpReq, err := t.newRequest(ctx, "/v1/analyses/stream", req, "text/event-stream")
	if err != nil {
		return finishSpan(span, err)
	}

	start := time.Now()
	resp, err := t.doer.Do(httpReq)
	if err != nil {
		recordRequest(ctx, t.mode, start, 0)
		return finishSpan(span, newTransportError(ctx, "stream", url, err))
	}
	defer resp.Body.Close()
	recordRequest(ctx, t.mode, start, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return finishSpan(span, statusError(resp.StatusCode, body))
	}

	err = readEvents(resp.Body, func(data string) error {
		var f streamFrame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return &BackendError{Code: http.StatusBadGateway, Message: fmt.Sprintf("malformed stream frame: %v", err)}
		}
		if f.Error != "" {
			return &BackendError{Code: http.StatusInternalServerError, Message: f.Error}
		}
		total := f.TotalTurns
		if total == 0 {
			total = f.Total
		}
		p := Progress{
			Turn:          f.Turn,
			TotalTurns:    total,
			WinRate:       f.WinRate,
			ScoreLead:     f.Score,
			CurrentPlayer: f.CurrentPlayer,
			TopMoves:      f.TopMoves,
			Done:          f.Done || f.IsDone,
		}
		// A bare {"done": true} terminates without a progress payload.
		if f.Done && f.Turn == 0 && total == 0 {
			return errStopStream
		}
		if err := fn(p); err != nil {
			return err
		}
		if p.Done {
			return errStopStream
		}
		return nil
	})
	if errors.Is(err, errStopStream) {
		return finishSpan(span, nil)
	}
	if err != nil {
		var be *BackendError
		if !errors.As(err, &be) && ctx.Err() != nil {
			err = newTransportError(ctx, "stream", url, err)
		}
		return finishSpan(span, err)
	}
	if ctx.Err() != nil {
		return finishSpan(span, newTransportError(ctx, "stream", url, ctx.Err()))
	}
	return finishSpan(span, nil)
}

// readEvents splits a text/event-stream body into data payloads.
// Multi-line data fields are joined with newlines; comments and other
// fields are ignored.
func readEvents(r io.Reader, fn func(data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxResponseBytes)
	var data []string
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return fn(payload)
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return flush()
}
