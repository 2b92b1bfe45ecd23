// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(-3).toSlogLevel())
}

// =============================================================================
// Logger Tests
// =============================================================================

// TestNew_FiltersBelowLevel verifies records under the configured level are dropped.
func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "key=value")
}

// TestNew_JSONConsoleWithService verifies JSON output carries the service attribute.
func TestNew_JSONConsoleWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, JSON: true, Service: "ingest"})

	logger.Debug("batch", "nodes_created", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "batch", rec["msg"])
	assert.Equal(t, "ingest", rec["service"])
	assert.EqualValues(t, 3, rec["nodes_created"])
}

// TestNew_FileLogging verifies records are written to the dated JSON file.
func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "svc", Quiet: true})

	logger.Info("written to file", "project_id", "p1")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second close is a no-op")

	matches, err := filepath.Glob(filepath.Join(dir, "svc_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"project_id":"p1"`)
}

// TestNew_BothDestinations verifies the multi-handler writes to console and file.
func TestNew_BothDestinations(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Output: &buf})
	defer logger.Close()

	logger.With("batch_id", "b-1").Error("save failed")

	assert.Contains(t, buf.String(), "batch_id=b-1")

	matches, err := filepath.Glob(filepath.Join(dir, "vulngraph_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"batch_id":"b-1"`))
}

func TestLogger_SlogSharesHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	logger.Slog().Info("via slog")
	assert.Contains(t, buf.String(), "via slog")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".vulngraph"), expandPath("~/.vulngraph"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "~user/x", expandPath("~user/x"))
}
