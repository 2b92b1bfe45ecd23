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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var errWouldBlock = errors.New("lock held")

// lockPollInterval is how often a blocked lock acquisition retries.
const lockPollInterval = 25 * time.Millisecond

// FileSnapshotter stores the snapshot as a single JSON file.
//
// Saves write a temporary file in the target directory, fsync it and
// rename it over the target, so readers and crashes only ever see a whole
// snapshot. Both save and load hold an advisory lock on "<path>.lock",
// which keeps two processes from interleaving a load with a save.
type FileSnapshotter struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// FileOption configures a FileSnapshotter.
type FileOption func(*FileSnapshotter)

// WithFileLogger sets the logger for save/load records.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(s *FileSnapshotter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFileClock overrides the clock used for the envelope's saved_at.
func WithFileClock(now func() time.Time) FileOption {
	return func(s *FileSnapshotter) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFileSnapshotter creates a snapshotter for the file at path. The file
// and its directory are created on the first save.
func NewFileSnapshotter(path string, opts ...FileOption) *FileSnapshotter {
	s := &FileSnapshotter{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file path.
func (s *FileSnapshotter) Path() string {
	return s.path
}

// SaveSnapshot atomically replaces the snapshot file with g.
func (s *FileSnapshotter) SaveSnapshot(ctx context.Context, g *Graph) (err error) {
	data, err := EncodeSnapshot(g, s.now())
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	committed = true

	if err := syncDir(dir); err != nil {
		s.logger.Warn("snapshot directory sync failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Debug("snapshot written",
		slog.String("path", s.path),
		slog.Int("bytes", len(data)),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
	)
	return nil
}

// LoadSnapshot reads and verifies the snapshot file.
//
// # Outputs
//
//   - *Graph: The decoded graph.
//   - error: ErrNoSnapshot if the file does not exist, an error wrapping
//     ErrSnapshotCorrupt if it cannot be decoded, ErrSnapshotLocked if the
//     lock could not be taken before ctx ended.
func (s *FileSnapshotter) LoadSnapshot(ctx context.Context) (*Graph, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	g, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return g, nil
}

// acquire takes the lock file, polling until it is free or ctx ends.
func (s *FileSnapshotter) acquire(ctx context.Context) (func(), error) {
	lockPath := s.path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := tryLock(f)
		if err == nil {
			break
		}
		if !errors.Is(err, errWouldBlock) {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", lockPath, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrSnapshotLocked, lockPath)
		case <-time.After(lockPollInterval):
		}
	}

	return func() {
		if err := unlock(f); err != nil {
			s.logger.Warn("snapshot unlock failed", slog.String("error", err.Error()))
		}
		f.Close()
	}, nil
}
