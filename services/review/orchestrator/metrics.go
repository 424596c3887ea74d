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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const tracerName = "katareview.orchestrator"

var meter = otel.Meter(tracerName)

var (
	analysesTotal    metric.Int64Counter
	analysisDuration metric.Float64Histogram
	inFlightGauge    metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		analysesTotal, err = meter.Int64Counter("katareview_analyses_total",
			metric.WithDescription("Analyze runs by outcome"))
		if err != nil {
			metricsErr = err
			return
		}
		analysisDuration, err = meter.Float64Histogram("katareview_analysis_duration_seconds",
			metric.WithDescription("Wall time of analyze runs"),
			metric.WithUnit("s"))
		if err != nil {
			metricsErr = err
			return
		}
		inFlightGauge, metricsErr = meter.Int64UpDownCounter("katareview_analyses_in_flight",
			metric.WithDescription("Analyses currently computing"))
	})
	return metricsErr
}

// outcome is one of "cache_hit", "computed", "failed".
func recordRun(ctx context.Context, start time.Time, outcome string) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	analysesTotal.Add(ctx, 1, attrs)
	analysisDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func recordInFlight(ctx context.Context, delta int64) {
	if initMetrics() != nil {
		return
	}
	inFlightGauge.Add(ctx, delta)
}
