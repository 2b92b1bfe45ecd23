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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Registry identifies a package registry API.
type Registry string

const (
	// RegistryPyPI is the PyPI JSON API (GET /pypi/{name}/json).
	RegistryPyPI Registry = "pypi"

	// RegistryNPM is the npm registry (GET /{name}).
	RegistryNPM Registry = "npm"
)

// Default registry endpoints.
const (
	DefaultPyPIURL = "https://pypi.org"
	DefaultNPMURL  = "https://registry.npmjs.org"
)

// maxRegistryBody caps how much of a registry response is read. npm
// documents for popular packages run to tens of megabytes.
const maxRegistryBody = 64 << 20

// RegistrySource fetches versions from a public package registry.
//
// Requests are throttled by a token-bucket limiter shared by all callers
// of the same source.
type RegistrySource struct {
	registry Registry
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
}

// RegistryOption configures a RegistrySource.
type RegistryOption func(*RegistrySource)

// WithBaseURL overrides the registry endpoint. Used by tests.
func WithBaseURL(u string) RegistryOption {
	return func(s *RegistrySource) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(s *RegistrySource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRateLimit allows rps requests per second with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) RegistryOption {
	return func(s *RegistrySource) {
		if rps <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewRegistrySource creates a source for registry.
func NewRegistrySource(registry Registry, opts ...RegistryOption) (*RegistrySource, error) {
	s := &RegistrySource{
		registry: registry,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}
	switch registry {
	case RegistryPyPI:
		s.baseURL = DefaultPyPIURL
	case RegistryNPM:
		s.baseURL = DefaultNPMURL
	default:
		return nil, fmt.Errorf("unknown registry %q", registry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry returns the registry this source queries.
func (s *RegistrySource) Registry() Registry {
	return s.registry
}

// FetchAvailableVersions lists every published version, sorted.
//
// # Outputs
//
//   - []string: Version keys as published. 404 yields an empty set.
//   - error: ErrVersionSourceUnavailable for transport failures, non-2xx
//     statuses and undecodable bodies; ctx errors while throttled.
func (s *RegistrySource) FetchAvailableVersions(ctx context.Context, component string) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(component), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrVersionSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrVersionSourceUnavailable, s.registry, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrVersionSourceUnavailable, s.registry, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrVersionSourceUnavailable, s.registry, err)
	}

	// PyPI keys releases by version; npm keys versions by version.
	var doc struct {
		Releases map[string]json.RawMessage `json:"releases"`
		Versions map[string]json.RawMessage `json:"versions"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrVersionSourceUnavailable, s.registry, err)
	}

	keys := doc.Releases
	if s.registry == RegistryNPM {
		keys = doc.Versions
	}
	versions := make([]string, 0, len(keys))
	for v := range keys {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions, nil
}

func (s *RegistrySource) endpoint(component string) string {
	name := url.PathEscape(component)
	if s.registry == RegistryPyPI {
		return s.baseURL + "/pypi/" + name + "/json"
	}
	return s.baseURL + "/" + name
}
