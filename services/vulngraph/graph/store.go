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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
)

// Store owns the graph and is the only component that mutates it.
//
// Thread Safety:
//
//	Writers (IngestProjectComponents, Load) serialize on an internal
//	mutex. Readers call View() and get an immutable *Graph; a batch is
//	published as a whole once it has been persisted, so readers never see
//	part of one.
type Store struct {
	current atomic.Pointer[Graph]
	writeMu sync.Mutex

	snapshotter Snapshotter
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotter persists the graph after every batch and enables Load.
func WithSnapshotter(s Snapshotter) Option {
	return func(st *Store) {
		st.snapshotter = s
	}
}

// WithLogger sets the logger for batch summaries and persistence events.
func WithLogger(logger *slog.Logger) Option {
	return func(st *Store) {
		if logger != nil {
			st.logger = logger
		}
	}
}

// WithClock overrides the clock used for project ingestedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// NewStore creates a store holding an empty graph. It does not load any
// snapshot; use Open for that.
func NewStore(opts ...Option) *Store {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(New())
	return s
}

// Open creates a store and loads its snapshot.
//
// # Description
//
// A missing snapshot yields an empty graph (first run). A snapshot that
// exists but is corrupt is returned as an error wrapping
// ErrSnapshotCorrupt, and no store is returned: the caller must not start
// from an empty graph and overwrite the damaged file.
//
// # Inputs
//
//   - ctx: Bounds waiting for the snapshot lock.
//   - snapshotter: Persistence backend. Nil gives an in-memory store.
//   - opts: Additional options.
func Open(ctx context.Context, snapshotter Snapshotter, opts ...Option) (*Store, error) {
	s := NewStore(append(opts, WithSnapshotter(snapshotter))...)
	if snapshotter == nil {
		return s, nil
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// View returns the current published graph. The result never changes.
func (s *Store) View() *Graph {
	return s.current.Load()
}

// HasNode reports whether the current graph holds id.
func (s *Store) HasNode(id string) bool {
	return s.View().HasNode(id)
}

// NodeAttributes returns the node for id from the current graph.
func (s *Store) NodeAttributes(id string) (Node, error) {
	return s.View().NodeAttributes(id)
}

// IngestProjectComponents upserts a project and its components.
//
// # Description
//
// Content-addressed IDs make ingestion idempotent: re-submitting a batch
// creates no nodes or edges and only refreshes the project's ingestedAt.
// Malformed component records are skipped and listed in the report.
//
// The batch is applied to a private copy of the graph, persisted through
// the snapshotter, and only then published. If persisting fails the
// published graph is left unchanged and the error is returned.
//
// # Inputs
//
//   - ctx: Checked before applying and before publishing.
//   - projectID: Required. An empty ID rejects the whole batch.
//   - sourceURL: Recorded on first ingestion of the project.
//   - components: Component records.
//
// # Outputs
//
//   - *IngestReport: Counts and per-record errors.
//   - error: ErrMalformedRecord (empty projectID), a context error, or a
//     persistence error.
func (s *Store) IngestProjectComponents(ctx context.Context, projectID, sourceURL string, components []ComponentInput) (report *IngestReport, err error) {
	ctx, span := startIngestSpan(ctx, projectID, len(components))
	defer span.End()
	start := time.Now()
	defer func() {
		recordIngestMetrics(ctx, time.Since(start), report, err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrMalformedRecord)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report = &IngestReport{
		BatchID:   uuid.NewString(),
		ProjectID: projectID,
	}
	next := s.View().clone()
	if err := applyBatch(next, projectID, sourceURL, s.now().UTC(), components, report); err != nil {
		return nil, fmt.Errorf("apply batch %s: %w", report.BatchID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, next); err != nil {
		s.logger.Error("ingestion not published",
			slog.String("batch_id", report.BatchID),
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.current.Store(next)

	setIngestSpanResult(span, report)
	s.logger.Info("ingestion batch applied",
		slog.String("batch_id", report.BatchID),
		slog.String("project_id", projectID),
		slog.Int("nodes_created", report.NodesCreated),
		slog.Int("nodes_reused", report.NodesReused),
		slog.Int("edges_created", report.EdgesCreated),
		slog.Int("records_skipped", report.Skipped),
	)
	for _, re := range report.RecordErrors {
		s.logger.Warn("component record skipped",
			slog.String("batch_id", report.BatchID),
			slog.Int("index", re.Index),
			slog.String("name", re.Name),
			slog.String("version", re.Version),
			slog.String("reason", re.Reason),
		)
	}
	return report, nil
}

// Save persists the current graph. A store without a snapshotter
// returns nil.
func (s *Store) Save(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.persist(ctx, s.View())
}

// Load replaces the current graph with the stored snapshot.
//
// ErrNoSnapshot resets the store to an empty graph. Any other error
// leaves the current graph in place and is returned.
func (s *Store) Load(ctx context.Context) (err error) {
	if s.snapshotter == nil {
		return nil
	}

	ctx, span := startSnapshotSpan(ctx, "Load")
	defer span.End()
	start := time.Now()
	defer func() {
		recordSnapshotMetrics(ctx, "load", time.Since(start), err == nil)
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g, err := s.snapshotter.LoadSnapshot(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.logger.Info("no snapshot found, starting with an empty graph")
		s.current.Store(New())
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load snapshot: %w", err)
	}

	s.current.Store(g)
	s.logger.Info("snapshot loaded",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// persist saves g. Callers hold writeMu.
func (s *Store) persist(ctx context.Context, g *Graph) (err error) {
	if s.snapshotter == nil {
		return nil
	}

	ctx, span := startSnapshotSpan(ctx, "Save")
	defer span.End()
	start := time.Now()
	defer func() {
		recordSnapshotMetrics(ctx, "save", time.Since(start), err == nil)
	}()

	if err := s.snapshotter.SaveSnapshot(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
