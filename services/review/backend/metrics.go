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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("katareview.backend")
	meter  = otel.Meter("katareview.backend")
)

var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		requestLatency, err = meter.Float64Histogram("katareview_backend_request_duration_seconds",
			metric.WithDescription("Duration of analysis requests"),
			metric.WithUnit("s"))
		if err != nil {
			metricsErr = err
			return
		}
		requestTotal, metricsErr = meter.Int64Counter("katareview_backend_requests_total",
			metric.WithDescription("Analysis requests by mode and status"))
	})
	return metricsErr
}

// recordRequest records one round trip. status is 0 for transport failures.
func recordRequest(ctx context.Context, mode Mode, start time.Time, status int) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("status", status),
	)
	requestLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

func startSpan(ctx context.Context, op string, mode Mode) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("backend.mode", string(mode))),
	)
}

// finishSpan records err on span and returns it unchanged.
func finishSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
