// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/KataReview/services/review/sgf"
)

// APIVersion is reported by ping, health and every analysis envelope.
const APIVersion = "v1"

type analysisBody struct {
	SGF       string `json:"sgf"`
	Visits    int    `json:"visits"`
	StartTurn *int   `json:"startTurn" binding:"omitempty,gte=0"`
	EndTurn   *int   `json:"endTurn" binding:"omitempty,gte=0"`
}

type meta struct {
	Version string `json:"version"`
	Status  string `json:"status"`
}

type analysisData struct {
	SGF        string `json:"sgf"`
	VisitsUsed int    `json:"visits_used"`
}

type analysisResponse struct {
	Meta meta         `json:"meta"`
	Data analysisData `json:"data"`
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong", "version": APIVersion})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "up"
	if s.engine == nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"version": APIVersion,
		"config": gin.H{
			"max_body_bytes":        s.cfg.MaxBodyBytes,
			"rate_limit_requests":   s.cfg.RateLimit,
			"rate_limit_window_sec": int(s.cfg.RateWindow.Seconds()),
			"analysis_steps_range":  []int{s.cfg.MinVisits, s.cfg.MaxVisits},
		},
	})
}

// bindJob decodes and validates the request body. On failure the error
// response has already been written.
func (s *Server) bindJob(c *gin.Context) (Job, bool) {
	var body analysisBody
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body too large. Maximum size: %d bytes", s.cfg.MaxBodyBytes))
			return Job{}, false
		}
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return Job{}, false
	}
	if body.SGF == "" {
		abortWithError(c, http.StatusBadRequest, "Missing sgf")
		return Job{}, false
	}
	record, err := sgf.Validate(body.SGF)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return Job{}, false
	}
	visits := body.Visits
	if visits == 0 {
		visits = s.cfg.DefaultVisits
	}
	if visits < s.cfg.MinVisits || visits > s.cfg.MaxVisits {
		abortWithError(c, http.StatusBadRequest,
			fmt.Sprintf("visits must be between %d and %d", s.cfg.MinVisits, s.cfg.MaxVisits))
		return Job{}, false
	}
	return Job{Record: record, Visits: visits, StartTurn: body.StartTurn, EndTurn: body.EndTurn}, true
}

func (s *Server) handleAnalyze(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if s.engine == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Analysis engine unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Timeout)
	defer cancel()

	out, err := s.engine.Analyze(ctx, job)
	if err != nil {
		status, msg := engineStatus(err)
		s.logger.Warn("analysis failed",
			slog.String("correlation_id", c.GetString(correlationKey)),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		abortWithError(c, status, msg)
		return
	}
	c.JSON(http.StatusOK, analysisResponse{
		Meta: meta{Version: APIVersion, Status: "ok"},
		Data: analysisData{SGF: out, VisitsUsed: job.Visits},
	})
}

// handleStream writes one "data:" event per frame and a terminal
// {"done": true}. Once the stream has started, failures are reported
// in-band as {"error": "..."}.
func (s *Server) handleStream(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if s.engine == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Analysis engine unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Timeout)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	write := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := s.engine.Stream(ctx, job, func(f Frame) error { return write(f) })
	if err != nil {
		_, msg := engineStatus(err)
		s.logger.Warn("stream failed",
			slog.String("correlation_id", c.GetString(correlationKey)),
			slog.String("error", err.Error()))
		_ = write(gin.H{"error": msg})
		return
	}
	_ = write(gin.H{"done": true})
}

// engineStatus maps an engine failure to a status and client message.
func engineStatus(err error) (int, string) {
	var pe *sgf.ParseError
	switch {
	case errors.As(err, &pe):
		return http.StatusBadRequest, pe.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Analysis timed out"
	case errors.Is(err, context.Canceled):
		return 499, "Request canceled"
	default:
		return http.StatusInternalServerError, "Analysis failed: " + err.Error()
	}
}
