// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reach

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
	tracer = otel.Tracer("vulngraph.reach")
	meter  = otel.Meter("vulngraph.reach")
)

var (
	queryLatency metric.Float64Histogram
	queryResults metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"vulngraph_query_duration_seconds",
			metric.WithDescription("Duration of reachability queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryResults, err = meter.Int64Histogram(
			"vulngraph_query_results",
			metric.WithDescription("Number of results returned per query"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordQueryMetrics(ctx context.Context, queryType string, duration time.Duration, resultCount int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("query_type", queryType))
	queryLatency.Record(ctx, duration.Seconds(), attrs)
	queryResults.Record(ctx, int64(resultCount), attrs)
}

func startQuerySpan(ctx context.Context, queryType, nodeID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Querier."+queryType,
		trace.WithAttributes(attribute.String("vulngraph.node_id", nodeID)),
	)
}

func resultCountAttr(n int) attribute.KeyValue {
	return attribute.Int("vulngraph.result_count", n)
}
