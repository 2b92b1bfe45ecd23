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
	"time"

	storebadger "github.com/AleutianAI/vulngraph/services/vulngraph/storage/badger"
)

// DefaultSnapshotKey is the badger key holding the snapshot envelope.
const DefaultSnapshotKey = "vulngraph/snapshot"

// BadgerSnapshotter stores the snapshot envelope under one key of a
// BadgerDB database. Each save is a single transaction.
type BadgerSnapshotter struct {
	db  *storebadger.DB
	key []byte
	now func() time.Time
}

// NewBadgerSnapshotter creates a snapshotter over db. An empty key selects
// DefaultSnapshotKey. The caller owns db and closes it.
func NewBadgerSnapshotter(db *storebadger.DB, key string) *BadgerSnapshotter {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &BadgerSnapshotter{db: db, key: []byte(key), now: time.Now}
}

// SaveSnapshot writes g under the snapshot key.
func (s *BadgerSnapshotter) SaveSnapshot(ctx context.Context, g *Graph) error {
	data, err := EncodeSnapshot(g, s.now())
	if err != nil {
		return err
	}
	if err := s.db.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("write snapshot key: %w", err)
	}
	return nil
}

// LoadSnapshot reads and verifies the snapshot key.
func (s *BadgerSnapshotter) LoadSnapshot(ctx context.Context) (*Graph, error) {
	data, err := s.db.Get(ctx, s.key)
	if errors.Is(err, storebadger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot key: %w", err)
	}
	return DecodeSnapshot(data)
}
