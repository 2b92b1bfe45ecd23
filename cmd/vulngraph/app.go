// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/vulngraph/cmd/vulngraph/config"
	"github.com/AleutianAI/vulngraph/pkg/logging"
	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
	storebadger "github.com/AleutianAI/vulngraph/services/vulngraph/storage/badger"
	"github.com/AleutianAI/vulngraph/services/vulngraph/telemetry"
	"github.com/AleutianAI/vulngraph/services/vulngraph/upgrade"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath   string
	logLevel     string
	snapshotPath string
}

// app carries state that lives for one CLI invocation.
type app struct {
	flags  rootFlags
	out    io.Writer
	errOut io.Writer

	cfg    config.Config
	logger *logging.Logger
	slog   *slog.Logger
	store  *graph.Store
	span   trace.Span

	closers []func() error
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

// setup loads configuration and opens the store. A corrupt snapshot
// aborts every command.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.snapshotPath != "" {
		cfg.Graph.Backend = config.BackendFile
		cfg.Graph.SnapshotPath = a.flags.snapshotPath
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "vulngraph",
		JSON:    cfg.Logging.JSON,
		Output:  a.errOut,
	})
	a.closers = append(a.closers, a.logger.Close)

	ctx := cmd.Context()
	tcfg := cfg.Telemetry.Config
	tcfg.Writer = a.errOut
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return shutdown(context.WithoutCancel(ctx))
	})

	ctx, a.span = telemetry.StartSpan(ctx, "vulngraph.cli", "vulngraph "+cmd.Name(),
		trace.WithAttributes(attribute.String("vulngraph.command", cmd.CommandPath())),
	)
	cmd.SetContext(ctx)
	a.slog = telemetry.LoggerWithTrace(ctx, a.logger.Slog())

	snapshotter, err := a.openSnapshotter()
	if err != nil {
		return err
	}
	store, err := graph.Open(ctx, snapshotter, graph.WithLogger(a.slog))
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	a.store = store
	return nil
}

func (a *app) openSnapshotter() (graph.Snapshotter, error) {
	switch a.cfg.Graph.Backend {
	case config.BackendBadger:
		bcfg := storebadger.DefaultConfig(a.cfg.Graph.BadgerDir)
		bcfg.SyncWrites = a.cfg.Graph.SyncWrites
		bcfg.Logger = a.slog
		db, err := storebadger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return graph.NewBadgerSnapshotter(db, graph.DefaultSnapshotKey), nil
	default:
		return graph.NewFileSnapshotter(a.cfg.Graph.SnapshotPath, graph.WithFileLogger(a.slog)), nil
	}
}

// versionSource builds the registry lookup chain for upgrade checks.
func (a *app) versionSource() (upgrade.VersionSource, error) {
	rc := a.cfg.Resolver
	sources := make([]upgrade.VersionSource, 0, len(rc.Registries))
	for _, name := range rc.Registries {
		src, err := upgrade.NewRegistrySource(upgrade.Registry(name),
			upgrade.WithRateLimit(rc.RequestsPerSecond, rc.Burst),
		)
		if err != nil {
			return nil, err
		}
		sources = append(sources, upgrade.NewCachingSource(src, rc.CacheSize, rc.CacheTTL))
	}
	if len(sources) == 0 {
		return nil, nil
	}
	return upgrade.NewChainSource(sources...), nil
}

func (a *app) resolver(source upgrade.VersionSource) *upgrade.Resolver {
	return upgrade.NewResolver(source,
		upgrade.WithTimeout(a.cfg.Resolver.Timeout),
		upgrade.WithConcurrency(a.cfg.Resolver.Concurrency),
		upgrade.WithLogger(a.slog),
	)
}

// close releases resources in reverse order of acquisition. cmdErr is
// recorded on the command span.
func (a *app) close(cmdErr error) error {
	if a.span != nil {
		telemetry.RecordError(a.span, cmdErr)
		a.span.End()
		a.span = nil
	}
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
