// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded BadgerDB key-value store that can back
// graph snapshots.
//
// The graph layer stores one key per snapshot, so this package only needs
// to open the database, run value-log GC in the background and offer
// context-aware get/put helpers.
//
// # Thread Safety
//
// DB is safe for concurrent use; BadgerDB serializes conflicting
// transactions itself.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Config configures the database.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit. Snapshots are rewritten after every
	// ingestion batch, so this defaults to true.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger

	// GCInterval is the period of value-log GC. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultConfig returns a persistent configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a badger.DB with its GC loop.
type DB struct {
	*badger.DB

	dir      string
	inMemory bool
	logger   *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
}

// Open opens (or creates) the database described by cfg.
//
// # Outputs
//
//   - *DB: Open database. Call Close when done; Close stops the GC loop.
//   - error: Non-nil if Dir is missing for a persistent database or the
//     database cannot be opened (for example, locked by another process).
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: dir is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{
		DB:       bdb,
		dir:      cfg.Dir,
		inMemory: cfg.InMemory,
		logger:   cfg.Logger,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		db.stopGC = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.runGC(cfg.GCInterval, ratio)
	}
	return db, nil
}

// Close stops the GC loop and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.gcDone
		d.stopGC = nil
	}
	return d.DB.Close()
}

// Dir returns the database directory, empty for in-memory databases.
func (d *DB) Dir() string {
	return d.dir
}

// Put stores value under key in one read-write transaction.
func (d *DB) Put(ctx context.Context, key, value []byte) error {
	return d.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Get returns a copy of the value stored under key, or ErrKeyNotFound.
func (d *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := d.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// WithTxn runs fn in a read-write transaction and commits it if fn
// returns nil. Nothing is written if fn fails.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			err := d.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && d.logger != nil {
				d.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
