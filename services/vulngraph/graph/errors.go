// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the dependency/vulnerability graph store.
//
// The graph holds three node kinds (projects, components, vulnerabilities)
// and two edge kinds:
//
//	project ──DEPENDS_ON──▶ component ──AFFECTED_BY──▶ vulnerability
//
// Components may also DEPENDS_ON other components, which is how transitive
// dependencies enter the graph. Node identity is content addressed, so the
// same name@version or advisory ID always maps to one node.
//
// # Ownership Model
//
// Store is the only writer. It publishes immutable *Graph values; a *Graph
// obtained from Store.View() never changes after it is returned.
//
// # Thread Safety
//
// Ingestion is serialized by Store. Any number of goroutines may read a
// *Graph concurrently, and may call Store.View() while an ingestion runs:
// they see the graph either before or after the batch, never in between.
//
// # Persistence
//
// A Snapshotter writes the whole graph after every ingestion batch. The
// file implementation writes to a temporary file and renames it over the
// previous snapshot; the badger implementation writes a single key in one
// transaction. A snapshot that exists but cannot be decoded is reported as
// ErrSnapshotCorrupt and is never replaced by an empty graph.
package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
var (
	// ErrNotFound is returned when a node ID is not present in the graph.
	ErrNotFound = errors.New("node not found")

	// ErrMalformedRecord is returned for ingestion input that is missing
	// required fields. Per-record failures are collected in IngestReport
	// and do not abort the batch.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrSnapshotCorrupt is returned when a snapshot exists but cannot be
	// decoded or fails its checksum. Callers must treat this as fatal.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")

	// ErrInvalidEdge is returned when an edge kind does not fit the kinds
	// of its endpoints (for example AFFECTED_BY from a project).
	ErrInvalidEdge = errors.New("invalid edge for node kinds")

	// ErrSnapshotLocked is returned when another process holds the
	// snapshot lock.
	ErrSnapshotLocked = errors.New("snapshot is locked by another process")

	// ErrIdentityConflict is returned when a node ID is already taken by a
	// node with a different identity (another name and version pair).
	ErrIdentityConflict = errors.New("node identity conflict")

	// ErrNoSnapshot is returned by a Snapshotter when nothing has been
	// saved yet. Store.Load treats it as an empty graph.
	ErrNoSnapshot = errors.New("no snapshot")
)

// NotFoundError names the node ID that could not be resolved.
type NotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RecordError describes one component record that was skipped during
// ingestion.
type RecordError struct {
	// Index is the position of the record in the submitted batch.
	Index int `json:"index"`

	// Name and Version echo the record's identity fields, possibly empty.
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (%s@%s): %s", e.Index, e.Name, e.Version, e.Reason)
}

// Unwrap returns ErrMalformedRecord.
func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}
