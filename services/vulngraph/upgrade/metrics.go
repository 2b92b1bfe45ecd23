// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upgrade

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
	tracer = otel.Tracer("vulngraph.upgrade")
	meter  = otel.Meter("vulngraph.upgrade")
)

var (
	resolveLatency metric.Float64Histogram
	resolveTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		resolveLatency, err = meter.Float64Histogram(
			"vulngraph_upgrade_check_duration_seconds",
			metric.WithDescription("Duration of upgrade feasibility checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolveTotal, err = meter.Int64Counter(
			"vulngraph_upgrade_check_total",
			metric.WithDescription("Upgrade feasibility checks by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordResolveMetrics(ctx context.Context, duration time.Duration, result Feasibility) {
	if err := initMetrics(); err != nil {
		return
	}

	reason := result.Reason
	if result.Feasible {
		reason = "feasible"
	}
	attrs := metric.WithAttributes(
		attribute.Bool("feasible", result.Feasible),
		attribute.String("reason", reason),
	)
	resolveLatency.Record(ctx, duration.Seconds(), attrs)
	resolveTotal.Add(ctx, 1, attrs)
}

func startResolveSpan(ctx context.Context, component string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(attribute.String("vulngraph.component", component)),
	)
}
