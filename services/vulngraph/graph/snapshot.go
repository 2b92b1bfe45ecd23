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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotFormat is the envelope version written by this package.
const SnapshotFormat = 1

// Snapshotter persists whole graphs.
//
// Implementations must make SaveSnapshot atomic: after a crash the stored
// snapshot is either the previous one or the new one, never a mix.
type Snapshotter interface {
	// SaveSnapshot replaces the stored snapshot with g.
	SaveSnapshot(ctx context.Context, g *Graph) error

	// LoadSnapshot returns the stored graph, ErrNoSnapshot if nothing was
	// saved yet, or an error wrapping ErrSnapshotCorrupt.
	LoadSnapshot(ctx context.Context) (*Graph, error)
}

// envelope is the on-disk snapshot document.
type envelope struct {
	Format    int             `json:"format"`
	SavedAt   time.Time       `json:"saved_at"`
	NodeCount int             `json:"node_count"`
	EdgeCount int             `json:"edge_count"`
	Checksum  string          `json:"checksum"`
	Payload   json.RawMessage `json:"payload"`
}

type snapshotPayload struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EncodeSnapshot serializes g into a checksummed envelope.
func EncodeSnapshot(g *Graph, savedAt time.Time) ([]byte, error) {
	payload, err := json.Marshal(snapshotPayload{
		Nodes: g.Nodes(),
		Edges: g.Edges(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot payload: %w", err)
	}

	data, err := json.Marshal(envelope{
		Format:    SnapshotFormat,
		SavedAt:   savedAt.UTC(),
		NodeCount: g.NodeCount(),
		EdgeCount: g.EdgeCount(),
		Checksum:  checksum(payload),
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot envelope: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses and verifies an envelope produced by
// EncodeSnapshot. Every failure wraps ErrSnapshotCorrupt.
func DecodeSnapshot(data []byte) (*Graph, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if env.Format != SnapshotFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrSnapshotCorrupt, env.Format)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrSnapshotCorrupt)
	}

	// Hash the compact form so re-indented files still verify.
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if got := checksum(compact.Bytes()); got != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %s, computed %s)", ErrSnapshotCorrupt, env.Checksum, got)
	}

	var payload snapshotPayload
	if err := json.Unmarshal(compact.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	g, err := buildGraph(payload.Nodes, payload.Edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if g.NodeCount() != env.NodeCount || g.EdgeCount() != env.EdgeCount {
		return nil, fmt.Errorf("%w: count mismatch", ErrSnapshotCorrupt)
	}
	return g, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
