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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RegistrySource
// =============================================================================

func registryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/requests/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"info":{"name":"requests"},"releases":{"2.31.0":[],"2.25.0":[],"3.0.0b1":[]}}`))
	})
	mux.HandleFunc("/left-pad", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"left-pad","versions":{"1.3.0":{},"1.1.0":{}}}`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	mux.HandleFunc("/garbled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegistrySource_PyPI(t *testing.T) {
	srv := registryServer(t)
	src, err := NewRegistrySource(RegistryPyPI, WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	versions, err := src.FetchAvailableVersions(context.Background(), "requests")
	require.NoError(t, err)
	assert.Equal(t, []string{"2.25.0", "2.31.0", "3.0.0b1"}, versions)
	assert.Equal(t, RegistryPyPI, src.Registry())
}

func TestRegistrySource_NPM(t *testing.T) {
	srv := registryServer(t)
	src, err := NewRegistrySource(RegistryNPM, WithBaseURL(srv.URL))
	require.NoError(t, err)

	versions, err := src.FetchAvailableVersions(context.Background(), "left-pad")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.3.0"}, versions)

	versions, err = src.FetchAvailableVersions(context.Background(), "does-not-exist")
	require.NoError(t, err, "404 is an empty set")
	assert.Empty(t, versions)
}

func TestRegistrySource_Failures(t *testing.T) {
	srv := registryServer(t)
	src, err := NewRegistrySource(RegistryNPM, WithBaseURL(srv.URL), WithRateLimit(0, 0))
	require.NoError(t, err)

	for _, name := range []string{"broken", "garbled"} {
		t.Run(name, func(t *testing.T) {
			_, err := src.FetchAvailableVersions(context.Background(), name)
			assert.ErrorIs(t, err, ErrVersionSourceUnavailable)
		})
	}

	srv.Close()
	_, err = src.FetchAvailableVersions(context.Background(), "left-pad")
	assert.ErrorIs(t, err, ErrVersionSourceUnavailable)
}

func TestRegistrySource_RateLimitHonoursContext(t *testing.T) {
	srv := registryServer(t)
	src, err := NewRegistrySource(RegistryNPM, WithBaseURL(srv.URL), WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = src.FetchAvailableVersions(context.Background(), "left-pad")
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.FetchAvailableVersions(ctx, "left-pad")
	assert.Error(t, err)
}

func TestNewRegistrySource_Unknown(t *testing.T) {
	_, err := NewRegistrySource("maven")
	assert.Error(t, err)
}

// =============================================================================
// ChainSource
// =============================================================================

func TestChainSource(t *testing.T) {
	failing := &countingSource{err: errors.New("down")}
	empty := StaticSource{}
	full := StaticSource{"c": {"1.0.0"}}
	ctx := context.Background()

	versions, err := NewChainSource(failing, empty, full).FetchAvailableVersions(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, versions)

	versions, err = NewChainSource(failing, empty).FetchAvailableVersions(ctx, "c")
	require.NoError(t, err, "an answering source means no failure")
	assert.Empty(t, versions)

	_, err = NewChainSource(failing, failing).FetchAvailableVersions(ctx, "c")
	assert.ErrorIs(t, err, ErrVersionSourceUnavailable)
	assert.Contains(t, err.Error(), "down")
}

// =============================================================================
// CachingSource
// =============================================================================

func TestCachingSource_DedupesConcurrentMisses(t *testing.T) {
	inner := &countingSource{versions: []string{"1.0.0", "2.0.0"}, delay: 50 * time.Millisecond}
	c := NewCachingSource(inner, 8, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			versions, err := c.FetchAvailableVersions(context.Background(), "c")
			assert.NoError(t, err)
			assert.Equal(t, []string{"1.0.0", "2.0.0"}, versions)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load())

	_, err := c.FetchAvailableVersions(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.GreaterOrEqual(t, c.Stats().Hits, int64(1))
}

// TestCachingSource_WaiterSurvivesLeaderCancel verifies a caller that
// joins an in-flight fetch still gets the result after the caller that
// started it gives up.
func TestCachingSource_WaiterSurvivesLeaderCancel(t *testing.T) {
	inner := &countingSource{versions: []string{"1.0.0", "2.0.0"}, delay: 100 * time.Millisecond}
	c := NewCachingSource(inner, 8, 0)

	leaderCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.FetchAvailableVersions(leaderCtx, "c")
		leaderErr <- err
	}()
	time.Sleep(5 * time.Millisecond)

	versions, err := c.FetchAvailableVersions(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, versions)

	assert.ErrorIs(t, <-leaderErr, context.DeadlineExceeded)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, 1, c.Stats().Entries, "the shared result is cached")
}

func TestCachingSource_ErrorsNotCached(t *testing.T) {
	inner := &countingSource{err: ErrVersionSourceUnavailable}
	c := NewCachingSource(inner, 8, 0)

	for i := 0; i < 2; i++ {
		_, err := c.FetchAvailableVersions(context.Background(), "c")
		assert.ErrorIs(t, err, ErrVersionSourceUnavailable)
	}
	assert.Equal(t, int64(2), inner.calls.Load())
	assert.Zero(t, c.Stats().Entries)
}

func TestCachingSource_TTLAndEviction(t *testing.T) {
	inner := &countingSource{versions: []string{"1.0.0"}}
	c := NewCachingSource(inner, 1, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = c.FetchAvailableVersions(ctx, "a")
	_, _ = c.FetchAvailableVersions(ctx, "a")
	assert.Equal(t, int64(1), inner.calls.Load())

	now = now.Add(2 * time.Minute)
	_, _ = c.FetchAvailableVersions(ctx, "a")
	assert.Equal(t, int64(2), inner.calls.Load(), "expired entry is refetched")

	_, _ = c.FetchAvailableVersions(ctx, "b")
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 1, stats.Entries)
}
