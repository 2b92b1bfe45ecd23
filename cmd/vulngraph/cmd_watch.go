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
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/vulngraph/services/vulngraph/inbox"
	"github.com/AleutianAI/vulngraph/services/vulngraph/telemetry"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		dir         string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest batch files dropped into a directory",
		Long: `Watch a directory and ingest every *.yaml, *.yml or *.json batch file
written to it. Runs until interrupted.

With --metrics-addr, /healthz is served on that address. /metrics is
added when the prometheus metric exporter is configured.

Example:
  OTEL_METRICS_EXPORTER=prometheus vulngraph watch --dir ./inbox --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dir == "" {
				dir = a.cfg.Inbox.Dir
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Telemetry.MetricsAddr
			}
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("create inbox: %w", err)
			}

			if metricsAddr != "" {
				stop, err := a.serveMetrics(ctx, metricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}

			w, err := inbox.NewWatcher(dir, a.store, &inbox.WatcherOptions{
				Debounce:    a.cfg.Inbox.Debounce,
				InitialScan: a.cfg.Inbox.InitialScan,
			}, a.slog)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			w.OnResult(func(r inbox.Result) {
				if r.Err == nil {
					p.IngestReport(r.Path, r.Report)
				}
			})

			err = w.Run(ctx)
			a.slog.Info("Inbox watcher stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to watch (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /healthz and /metrics, e.g. :9464")
	return cmd
}

// newOpsRouter builds the operational endpoints served next to the
// watcher: /healthz always, /metrics when the prometheus exporter is on.
func (a *app) newOpsRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	service := a.cfg.Telemetry.ServiceName
	if service == "" {
		service = "vulngraph"
	}
	router.Use(otelgin.Middleware(service))

	router.GET("/healthz", func(c *gin.Context) {
		g := a.store.View()
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"nodes":  g.NodeCount(),
			"edges":  g.EdgeCount(),
		})
	})

	if handler := telemetry.MetricsHandler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	} else {
		a.slog.Warn("Prometheus exporter is not enabled; /metrics is not served")
	}
	return router
}

// serveMetrics starts the ops listener and returns a func that shuts it
// down.
func (a *app) serveMetrics(ctx context.Context, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: a.newOpsRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.slog.Error("Metrics server failed", "error", err)
		}
	}()
	a.slog.Info("Serving metrics", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
