// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/events"
	"github.com/AleutianAI/KataReview/services/review/telemetry"
)

// AnalyzeStream forwards per-turn progress from the streaming endpoint
// as TypeProgress events, and to fn when it is non-nil. Streaming results
// are partial: nothing is cached and the tree is not touched.
//
// The run counts as Computing for Busy. Failures are classified and
// reported like Analyze failures.
func (o *Orchestrator) AnalyzeStream(ctx context.Context, req Request, fn func(backend.Progress) error) error {
	id := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Orchestrator.AnalyzeStream",
		trace.WithAttributes(attribute.String("request_id", id)))
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, o.logger).With(slog.String("request_id", id))

	err := o.stream(ctx, id, req, fn)
	if err != nil {
		telemetry.RecordError(span, err)
		n := Classify(err)
		o.notify(n)
		logger.Warn("streaming analysis failed",
			slog.String("message", n.Message),
			slog.String("error", err.Error()))
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}

func (o *Orchestrator) stream(ctx context.Context, id string, req Request, fn func(backend.Progress) error) error {
	canonical, err := Canonicalize(req.Record)
	if err != nil {
		return err
	}

	o.enterBusy(ctx)
	defer o.leaveBusy(ctx)

	client, err := o.factory()
	if err != nil {
		return err
	}
	return client.AnalyzeStream(ctx, backend.Request{
		Record:    canonical,
		Steps:     req.Steps,
		StartTurn: rangeStart(req.Range),
		EndTurn:   rangeEnd(req.Range),
	}, func(p backend.Progress) error {
		o.publisher.Emit(events.TypeProgress, &events.ProgressData{
			RequestID:  id,
			Turn:       p.Turn,
			TotalTurns: p.TotalTurns,
			WinRate:    p.WinRate,
			ScoreLead:  p.ScoreLead,
			Done:       p.Done,
		})
		if fn != nil {
			return fn(p)
		}
		return nil
	})
}
