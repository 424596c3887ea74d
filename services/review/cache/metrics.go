// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("katareview.cache")
	meter  = otel.Meter("katareview.cache")
)

var (
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheFailures  metric.Int64Counter
	cacheEvictions metric.Int64Counter
	lookupLatency  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if cacheHits, err = meter.Int64Counter("katareview_cache_hits_total",
			metric.WithDescription("Analysis cache hits")); err != nil {
			metricsErr = err
			return
		}
		if cacheMisses, err = meter.Int64Counter("katareview_cache_misses_total",
			metric.WithDescription("Analysis cache misses")); err != nil {
			metricsErr = err
			return
		}
		if cacheFailures, err = meter.Int64Counter("katareview_cache_failures_total",
			metric.WithDescription("Analysis cache storage or decode failures")); err != nil {
			metricsErr = err
			return
		}
		if cacheEvictions, err = meter.Int64Counter("katareview_cache_evictions_total",
			metric.WithDescription("Entries removed by the eviction policy")); err != nil {
			metricsErr = err
			return
		}
		lookupLatency, metricsErr = meter.Float64Histogram("katareview_cache_lookup_duration_seconds",
			metric.WithDescription("Duration of analysis cache lookups"),
			metric.WithUnit("s"))
	})
	return metricsErr
}

func recordLookup(ctx context.Context, start time.Time, hit bool) {
	if initMetrics() != nil {
		return
	}
	if hit {
		cacheHits.Add(ctx, 1)
	} else {
		cacheMisses.Add(ctx, 1)
	}
	lookupLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.Bool("hit", hit)))
}

func recordFailure(ctx context.Context, op string) {
	if initMetrics() != nil {
		return
	}
	cacheFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func recordEviction(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}

func startSpan(ctx context.Context, op string, key Key) (context.Context, trace.Span) {
	return tracer.Start(ctx, "AnalysisCache."+op,
		trace.WithAttributes(attribute.String("cache.key", string(key))),
	)
}
