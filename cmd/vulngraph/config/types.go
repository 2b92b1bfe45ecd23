// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the vulngraph CLI configuration.
//
// The file is YAML. Every field has a default, so an absent file is a
// valid configuration:
//
//	graph:
//	  backend: file               # file | badger
//	  snapshot_path: ~/.vulngraph/graph.json
//	  badger_dir: ~/.vulngraph/badger
//	  sync_writes: true
//	logging:
//	  level: info
//	  json: false
//	  log_dir: ""
//	resolver:
//	  registries: [pypi, npm]
//	  timeout: 10s
//	  requests_per_second: 5
//	  burst: 5
//	  cache_size: 1024
//	  cache_ttl: 15m
//	  concurrency: 4
//	telemetry:
//	  trace_exporter: none        # none | stdout | otlp
//	  metric_exporter: none       # none | stdout | prometheus
//	  metrics_addr: ""            # e.g. :9464, serves /metrics in watch mode
//	inbox:
//	  dir: ~/.vulngraph/inbox
//	  debounce: 250ms
//	  initial_scan: true
package config

import (
	"time"

	"github.com/AleutianAI/vulngraph/services/vulngraph/telemetry"
)

// Snapshot backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config is the top-level CLI configuration.
type Config struct {
	Graph     GraphConfig     `yaml:"graph"`
	Logging   LoggingConfig   `yaml:"logging"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// GraphConfig selects where the graph snapshot lives.
type GraphConfig struct {
	Backend      string `yaml:"backend" validate:"oneof=file badger"`
	SnapshotPath string `yaml:"snapshot_path" validate:"required_if=Backend file"`
	BadgerDir    string `yaml:"badger_dir" validate:"required_if=Backend badger"`
	SyncWrites   bool   `yaml:"sync_writes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
}

// ResolverConfig tunes registry lookups for upgrade checks.
type ResolverConfig struct {
	Registries        []string      `yaml:"registries" validate:"dive,oneof=pypi npm"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	CacheSize         int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gte=1"`
}

// TelemetryConfig carries the exporter settings plus the listen address
// of the metrics endpoint.
type TelemetryConfig struct {
	telemetry.Config `yaml:",inline"`

	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

type InboxConfig struct {
	Dir         string        `yaml:"dir"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
	InitialScan bool          `yaml:"initial_scan"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Graph: GraphConfig{
			Backend:      BackendFile,
			SnapshotPath: "~/.vulngraph/graph.json",
			BadgerDir:    "~/.vulngraph/badger",
			SyncWrites:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Resolver: ResolverConfig{
			Registries:        []string{"pypi", "npm"},
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			CacheSize:         1024,
			CacheTTL:          15 * time.Minute,
			Concurrency:       4,
		},
		Telemetry: TelemetryConfig{
			Config: telemetry.DefaultConfig(),
		},
		Inbox: InboxConfig{
			Dir:         "~/.vulngraph/inbox",
			Debounce:    250 * time.Millisecond,
			InitialScan: true,
		},
	}
}
