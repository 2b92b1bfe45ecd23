// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upgrade

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Version parsing
// =============================================================================

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"1.2.3", true},
		{"2.0.0-rc1", true},
		{"1.0.0-alpha.1+build.7", true},
		{"0.0.0", true},
		{"", false},
		{"1.2", false},
		{"1", false},
		{"v1.2.3", false},
		{"1.02.3", false},
		{"latest", false},
		{" 1.2.3", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnparsableVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, v.String())
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.10.0", "1.9.0", 1},
		{"2.0.0-rc1", "2.0.0", -1},
		{"2.0.0-rc1", "1.2.1", 1},
		{"1.0.0-alpha", "1.0.0-beta", -1},
		{"1.0.0-alpha.2", "1.0.0-alpha.10", -1},
		{"1.0.0+b", "1.0.0+a", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			got, err := CompareVersions(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := CompareVersions("1.0.0", "nope")
	assert.ErrorIs(t, err, ErrUnparsableVersion)
}

// =============================================================================
// CheckFeasibility
// =============================================================================

func TestCheckFeasibility_FixedVersion(t *testing.T) {
	got := CheckFeasibility(VulnerabilityRecord{Component: "lodash", CurrentVersion: "1.5.0", FixedVersion: "2.0.0"}, nil)
	assert.Equal(t, Feasibility{
		Feasible:    true,
		Component:   "lodash",
		FromVersion: "1.5.0",
		ToVersion:   "2.0.0",
		Confidence:  0.9,
	}, got)

	got = CheckFeasibility(VulnerabilityRecord{Component: "lodash", CurrentVersion: "1.5.0", FixedVersion: "1.0.0"}, nil)
	assert.False(t, got.Feasible)
	assert.Equal(t, ReasonFixedNotNewer, got.Reason)

	got = CheckFeasibility(VulnerabilityRecord{Component: "lodash", CurrentVersion: "1.5.0", FixedVersion: "1.5.0"}, nil)
	assert.False(t, got.Feasible, "equal is not newer")
	assert.Equal(t, ReasonFixedNotNewer, got.Reason)

	got = CheckFeasibility(VulnerabilityRecord{Component: "lodash", CurrentVersion: "1.5.0", FixedVersion: "1.5.0+patched"}, nil)
	assert.False(t, got.Feasible, "build metadata does not raise precedence")

	got = CheckFeasibility(VulnerabilityRecord{Component: "lodash", CurrentVersion: "1.5.0", FixedVersion: "soon"}, nil)
	assert.False(t, got.Feasible)
	assert.Equal(t, ReasonUnparsableFixed, got.Reason)
}

// TestCheckFeasibility_MaxSelection pins SemVer 2.0.0 precedence:
// 2.0.0-rc1 outranks 1.2.1 and is selected.
func TestCheckFeasibility_MaxSelection(t *testing.T) {
	got := CheckFeasibility(
		VulnerabilityRecord{Component: "requests", CurrentVersion: "1.0.0"},
		[]string{"0.9.0", "1.0.0", "1.2.0", "1.2.1", "2.0.0-rc1"},
	)
	assert.True(t, got.Feasible)
	assert.Equal(t, "2.0.0-rc1", got.ToVersion)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestCheckFeasibility_Candidates(t *testing.T) {
	tests := []struct {
		name       string
		current    string
		available  []string
		wantTo     string
		wantReason string
	}{
		{"empty set", "1.0.0", nil, "", ReasonNoUpgradePath},
		{"all older or equal", "1.0.0", []string{"0.1.0", "1.0.0", "1.0.0+rebuild"}, "", ReasonNoUpgradePath},
		{"unparsable skipped", "1.0.0", []string{"garbage", "1.1", "1.0.1", "v9.9.9"}, "1.0.1", ""},
		{"order irrelevant", "1.0.0", []string{"3.0.0", "1.5.0", "2.9.9"}, "3.0.0", ""},
		{"release beats its prerelease", "1.0.0", []string{"2.0.0-rc1", "2.0.0"}, "2.0.0", ""},
		{"build tie broken by string", "1.0.0", []string{"1.1.0+a", "1.1.0+b"}, "1.1.0+b", ""},
		{"unparsable current", "one", []string{"2.0.0"}, "", ReasonUnparsableCurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckFeasibility(VulnerabilityRecord{Component: "c", CurrentVersion: tt.current}, tt.available)
			assert.Equal(t, tt.wantTo, got.ToVersion)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantReason == "", got.Feasible)
			assert.Equal(t, tt.current, got.FromVersion)
		})
	}
}

// =============================================================================
// Resolver
// =============================================================================

type countingSource struct {
	calls    atomic.Int64
	versions []string
	err      error
	delay    time.Duration
}

func (s *countingSource) FetchAvailableVersions(ctx context.Context, _ string) ([]string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.versions, s.err
}

func TestResolver_FixedVersionSkipsSource(t *testing.T) {
	src := &countingSource{versions: []string{"9.0.0"}}
	r := NewResolver(src)

	got := r.Resolve(context.Background(), VulnerabilityRecord{Component: "c", CurrentVersion: "1.0.0", FixedVersion: "1.0.1"})
	assert.Equal(t, "1.0.1", got.ToVersion)
	assert.Zero(t, src.calls.Load())

	got = r.Resolve(context.Background(), VulnerabilityRecord{Component: "c", CurrentVersion: "bad"})
	assert.Equal(t, ReasonUnparsableCurrent, got.Reason)
	assert.Zero(t, src.calls.Load())
}

func TestResolver_UsesSource(t *testing.T) {
	r := NewResolver(StaticSource{"c": {"1.0.0", "1.4.0"}})

	got := r.Resolve(context.Background(), VulnerabilityRecord{Component: "c", CurrentVersion: "1.0.0"})
	assert.True(t, got.Feasible)
	assert.Equal(t, "1.4.0", got.ToVersion)
}

// TestResolver_SourceFailureIsEmptyPool verifies failures are logged and
// reported as no upgrade path.
func TestResolver_SourceFailureIsEmptyPool(t *testing.T) {
	var logs bytes.Buffer
	src := &countingSource{err: ErrVersionSourceUnavailable}
	r := NewResolver(src, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	got := r.Resolve(context.Background(), VulnerabilityRecord{Component: "c", CurrentVersion: "1.0.0"})
	assert.False(t, got.Feasible)
	assert.Equal(t, ReasonNoUpgradePath, got.Reason)
	assert.Contains(t, logs.String(), "version source failed")
}

func TestResolver_Timeout(t *testing.T) {
	src := &countingSource{versions: []string{"2.0.0"}, delay: time.Second}
	r := NewResolver(src, WithTimeout(20*time.Millisecond))

	start := time.Now()
	got := r.Resolve(context.Background(), VulnerabilityRecord{Component: "c", CurrentVersion: "1.0.0"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, ReasonNoUpgradePath, got.Reason)
}

func TestResolver_NilSource(t *testing.T) {
	got := NewResolver(nil).Resolve(context.Background(), VulnerabilityRecord{Component: "c", CurrentVersion: "1.0.0"})
	assert.Equal(t, ReasonNoUpgradePath, got.Reason)
}

// TestResolver_ChainFallsThroughWithoutNewer verifies a registry that knows
// the component but has nothing newer hands over to the next registry.
func TestResolver_ChainFallsThroughWithoutNewer(t *testing.T) {
	record := VulnerabilityRecord{Component: "shared-name", CurrentVersion: "1.0.0"}

	tests := []struct {
		name       string
		sources    []VersionSource
		wantTo     string
		wantReason string
	}{
		{
			name:    "first has only older",
			sources: []VersionSource{StaticSource{"shared-name": {"0.9.0", "1.0.0"}}, StaticSource{"shared-name": {"2.0.0"}}},
			wantTo:  "2.0.0",
		},
		{
			name:    "first wins when feasible",
			sources: []VersionSource{StaticSource{"shared-name": {"1.1.0"}}, StaticSource{"shared-name": {"9.0.0"}}},
			wantTo:  "1.1.0",
		},
		{
			name:    "failing source skipped",
			sources: []VersionSource{&countingSource{err: ErrVersionSourceUnavailable}, StaticSource{"shared-name": {"1.0.1"}}},
			wantTo:  "1.0.1",
		},
		{
			name:       "none newer anywhere",
			sources:    []VersionSource{StaticSource{"shared-name": {"0.1.0"}}, StaticSource{}},
			wantReason: ReasonNoUpgradePath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(NewChainSource(tt.sources...), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			got := r.Resolve(context.Background(), record)
			assert.Equal(t, tt.wantTo, got.ToVersion)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantReason == "", got.Feasible)
		})
	}
}

func TestResolver_CheckAllPreservesOrder(t *testing.T) {
	r := NewResolver(StaticSource{
		"a": {"1.1.0"},
		"b": {"3.0.0"},
	}, WithConcurrency(2))

	records := []VulnerabilityRecord{
		{Component: "a", CurrentVersion: "1.0.0"},
		{Component: "b", CurrentVersion: "2.0.0"},
		{Component: "c", CurrentVersion: "1.0.0", FixedVersion: "0.9.0"},
		{Component: "d", CurrentVersion: "?"},
	}
	got, err := r.CheckAll(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "1.1.0", got[0].ToVersion)
	assert.Equal(t, "3.0.0", got[1].ToVersion)
	assert.Equal(t, ReasonFixedNotNewer, got[2].Reason)
	assert.Equal(t, ReasonUnparsableCurrent, got[3].Reason)
	for i, rec := range records {
		assert.Equal(t, rec.Component, got[i].Component)
	}
}

func TestResolver_CheckAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(StaticSource{}).CheckAll(ctx, []VulnerabilityRecord{{Component: "a", CurrentVersion: "1.0.0"}})
	assert.True(t, errors.Is(err, context.Canceled))
}
