// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph store operations.
var (
	tracer = otel.Tracer("vulngraph.graph")
	meter  = otel.Meter("vulngraph.graph")
)

var (
	ingestLatency   metric.Float64Histogram
	ingestTotal     metric.Int64Counter
	nodesCreated    metric.Int64Counter
	recordsSkipped  metric.Int64Counter
	snapshotLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		ingestLatency, err = meter.Float64Histogram(
			"vulngraph_ingest_duration_seconds",
			metric.WithDescription("Duration of ingestion batches"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ingestTotal, err = meter.Int64Counter(
			"vulngraph_ingest_total",
			metric.WithDescription("Total number of ingestion batches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Counter(
			"vulngraph_nodes_created_total",
			metric.WithDescription("Nodes created by ingestion"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recordsSkipped, err = meter.Int64Counter(
			"vulngraph_records_skipped_total",
			metric.WithDescription("Malformed component records skipped by ingestion"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotLatency, err = meter.Float64Histogram(
			"vulngraph_snapshot_duration_seconds",
			metric.WithDescription("Duration of snapshot save and load"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordIngestMetrics records metrics for one ingestion batch.
func recordIngestMetrics(ctx context.Context, duration time.Duration, report *IngestReport, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	ingestLatency.Record(ctx, duration.Seconds(), attrs)
	ingestTotal.Add(ctx, 1, attrs)

	if success && report != nil {
		nodesCreated.Add(ctx, int64(report.NodesCreated))
		recordsSkipped.Add(ctx, int64(report.Skipped))
	}
}

// recordSnapshotMetrics records the duration of a save or load.
func recordSnapshotMetrics(ctx context.Context, op string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	snapshotLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.Bool("success", success),
		),
	)
}

// startIngestSpan creates a span for an ingestion batch.
func startIngestSpan(ctx context.Context, projectID string, recordCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store.IngestProjectComponents",
		trace.WithAttributes(
			attribute.String("vulngraph.project_id", projectID),
			attribute.Int("vulngraph.record_count", recordCount),
		),
	)
}

// setIngestSpanResult sets the result attributes on an ingestion span.
func setIngestSpanResult(span trace.Span, report *IngestReport) {
	span.SetAttributes(
		attribute.String("vulngraph.batch_id", report.BatchID),
		attribute.Int("vulngraph.nodes_created", report.NodesCreated),
		attribute.Int("vulngraph.nodes_reused", report.NodesReused),
		attribute.Int("vulngraph.edges_created", report.EdgesCreated),
		attribute.Int("vulngraph.records_skipped", report.Skipped),
	)
}

// startSnapshotSpan creates a span for a snapshot save or load.
func startSnapshotSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store."+op)
}
