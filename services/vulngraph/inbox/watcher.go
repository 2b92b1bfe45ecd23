// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
)

// Result describes one ingested (or rejected) batch file.
type Result struct {
	Path   string
	Report *graph.IngestReport
	Err    error
}

// ResultHandler is called once per processed file, from a single goroutine.
type ResultHandler func(Result)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long a file must stay quiet before it is read.
	// Default: 250ms
	Debounce time.Duration

	// InitialScan ingests batch files already in the directory on start.
	InitialScan bool

	// BufferSize is the size of the pending change channel.
	// Default: 256
	BufferSize int
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:    250 * time.Millisecond,
		InitialScan: true,
		BufferSize:  256,
	}
}

// Watcher ingests batch files dropped into a directory.
//
// # Description
//
// Create and write events for *.yaml, *.yml and *.json files are collected
// and debounced, so an editor or copy that writes a file in several steps
// triggers one ingestion. Dot files and editor temporaries are ignored.
// Subdirectories are not watched.
//
// A file that fails to decode or ingest is logged and reported to the
// result handler. The watcher keeps running.
//
// # Thread Safety
//
// Run may be called once. Stop is safe to call from any goroutine, more
// than once.
type Watcher struct {
	dir      string
	ingester Ingester
	opts     WatcherOptions
	logger   *slog.Logger
	onResult ResultHandler

	watcher  *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over dir that feeds ing.
//
// # Inputs
//
//   - dir: Directory to watch. Must exist.
//   - ing: Receives decoded batches. *graph.Store satisfies it.
//   - opts: Optional configuration (nil uses defaults).
//   - logger: Optional logger (nil uses slog.Default()).
//
// # Outputs
//
//   - *Watcher: Ready to Run.
//   - error: Non-nil if dir is not a directory or fsnotify fails.
func NewWatcher(dir string, ing Ingester, opts *WatcherOptions, logger *slog.Logger) (*Watcher, error) {
	if ing == nil {
		return nil, errors.New("inbox: ingester is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox: %s is not a directory", dir)
	}

	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}

	return &Watcher{
		dir:      dir,
		ingester: ing,
		opts:     *opts,
		logger:   logger.With("component", "inbox", "dir", dir),
		watcher:  fw,
		changes:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// OnResult registers h to be called after every processed file.
// Must be called before Run.
func (w *Watcher) OnResult(h ResultHandler) {
	w.onResult = h
}

// Run watches until ctx is cancelled or Stop is called. Pending changes
// are flushed before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Stop()

	if err := w.watcher.Add(w.dir); err != nil {
		select {
		case <-w.done:
			return nil
		default:
		}
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching inbox", "debounce", w.opts.Debounce)

	go w.processEvents(ctx)

	if w.opts.InitialScan {
		if err := w.scan(ctx); err != nil {
			return err
		}
	}

	w.debounceLoop(ctx)
	return nil
}

// Stop ends Run.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

// scan ingests the batch files already present, in name order.
func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("inbox: scan %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && isBatchFile(path) {
			paths = append(paths, path)
		}
	}
	w.handle(ctx, paths)
	return nil
}

// isBatchFile reports whether path names a file the inbox should read.
func isBatchFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	_, ok := FormatForPath(base)
	return ok
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isBatchFile(event.Name) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.logger.Warn("Inbox change buffer full, dropping event", "path", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Inbox watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func(ctx context.Context) {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		slices.Sort(paths)
		w.handle(ctx, paths)
	}

	for {
		select {
		case <-ctx.Done():
			// Settled files are still ingested on shutdown.
			flush(context.WithoutCancel(ctx))
			return
		case <-w.done:
			flush(ctx)
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush(ctx)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, paths []string) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			// Removed or renamed away before the window closed.
			continue
		}

		report, err := IngestFile(ctx, w.ingester, path)
		if err != nil {
			w.logger.Error("Inbox file rejected", "path", path, "error", err)
		} else {
			w.logger.Info("Inbox file ingested",
				"path", path,
				"project_id", report.ProjectID,
				"accepted", report.Accepted,
				"skipped", report.Skipped,
			)
		}
		if w.onResult != nil {
			w.onResult(Result{Path: path, Report: report, Err: err})
		}
	}
}
