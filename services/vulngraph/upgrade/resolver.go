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
	"log/slog"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
)

// Confidence levels reported for feasible upgrades.
const (
	// ConfidenceFixedVersion applies when the advisory names a fixed version.
	ConfidenceFixedVersion = 0.9

	// ConfidenceLatestVersion applies when the target is the newest
	// available version, not known to fix the advisory.
	ConfidenceLatestVersion = 0.7
)

// Reasons reported for infeasible upgrades.
const (
	ReasonFixedNotNewer     = "fixed version not newer"
	ReasonNoUpgradePath     = "no safe upgrade path found"
	ReasonUnparsableCurrent = "unparsable current version"
	ReasonUnparsableFixed   = "unparsable fixed version"
)

const (
	defaultResolveTimeout     = 10 * time.Second
	defaultResolveConcurrency = 4
)

// VulnerabilityRecord is one advisory against one installed component.
type VulnerabilityRecord struct {
	ID             string `json:"id,omitempty" yaml:"id,omitempty"`
	Component      string `json:"component" yaml:"component" validate:"required"`
	CurrentVersion string `json:"current_version" yaml:"current_version" validate:"required"`

	// FixedVersion is empty when the advisory names no fix.
	FixedVersion string `json:"fixed_version,omitempty" yaml:"fixed_version,omitempty"`
}

// Feasibility is the outcome of a feasibility check.
type Feasibility struct {
	Feasible    bool    `json:"feasible"`
	Component   string  `json:"component"`
	FromVersion string  `json:"from_version"`
	ToVersion   string  `json:"to_version,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// CheckFeasibility decides whether record can be upgraded.
//
// # Description
//
// With a fixed version the upgrade is feasible iff the fixed version has
// strictly higher precedence than the current one (confidence 0.9).
// Without one, the highest available version strictly newer than the
// current one is chosen (confidence 0.7). Unparsable candidates are
// ignored; an unparsable current version makes the check infeasible.
//
// # Inputs
//
//   - record: The advisory and installed version.
//   - availableVersions: Candidate versions in any order. Only consulted
//     when record has no fixed version.
//
// # Outputs
//
//   - Feasibility: Never an error; failures carry a Reason.
func CheckFeasibility(record VulnerabilityRecord, availableVersions []string) Feasibility {
	result := Feasibility{
		Component:   record.Component,
		FromVersion: record.CurrentVersion,
	}

	current, err := ParseVersion(record.CurrentVersion)
	if err != nil {
		result.Reason = ReasonUnparsableCurrent
		return result
	}

	if record.FixedVersion != "" {
		fixed, err := ParseVersion(record.FixedVersion)
		if err != nil {
			result.Reason = ReasonUnparsableFixed
			return result
		}
		if semver.Compare(fixed.sv, current.sv) <= 0 {
			result.Reason = ReasonFixedNotNewer
			return result
		}
		result.Feasible = true
		result.ToVersion = fixed.String()
		result.Confidence = ConfidenceFixedVersion
		return result
	}

	target, ok := MaxNewer(current, availableVersions)
	if !ok {
		result.Reason = ReasonNoUpgradePath
		return result
	}
	result.Feasible = true
	result.ToVersion = target.String()
	result.Confidence = ConfidenceLatestVersion
	return result
}

// Resolver runs feasibility checks, fetching candidates when needed.
//
// Thread Safety: safe for concurrent use if its VersionSource is.
type Resolver struct {
	source      VersionSource
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each version-source fetch.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithConcurrency bounds parallel checks in CheckAll.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger for version-source failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver. A nil source behaves as an empty one.
func NewResolver(source VersionSource, opts ...Option) *Resolver {
	r := &Resolver{
		source:      source,
		timeout:     defaultResolveTimeout,
		concurrency: defaultResolveConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks one record.
//
// Records with a fixed version, or with an unparsable current version,
// are decided without consulting the source. Otherwise candidates are
// fetched under the resolver timeout and ctx; a failed fetch is logged and
// treated as no candidates.
func (r *Resolver) Resolve(ctx context.Context, record VulnerabilityRecord) Feasibility {
	start := time.Now()
	ctx, span := startResolveSpan(ctx, record.Component)
	defer span.End()

	var result Feasibility
	if record.FixedVersion != "" || r.source == nil {
		result = CheckFeasibility(record, nil)
	} else if _, err := ParseVersion(record.CurrentVersion); err != nil {
		result = CheckFeasibility(record, nil)
	} else {
		result = r.resolveFromSources(ctx, record)
	}

	recordResolveMetrics(ctx, time.Since(start), result)
	return result
}

// resolveFromSources checks record against each member of a chained
// source in order and returns the first feasible upgrade, so a registry
// with no newer version falls through to the next one. Other sources are
// consulted once.
func (r *Resolver) resolveFromSources(ctx context.Context, record VulnerabilityRecord) Feasibility {
	multi, ok := r.source.(MultiSource)
	if !ok {
		return CheckFeasibility(record, r.fetch(ctx, r.source, record.Component))
	}

	result := CheckFeasibility(record, nil)
	for _, src := range multi.Sources() {
		if ctx.Err() != nil {
			break
		}
		result = CheckFeasibility(record, r.fetch(ctx, src, record.Component))
		if result.Feasible {
			return result
		}
	}
	return result
}

func (r *Resolver) fetch(ctx context.Context, source VersionSource, component string) []string {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	versions, err := source.FetchAvailableVersions(fetchCtx, component)
	if err != nil {
		r.logger.Warn("version source failed, treating as no candidates",
			slog.String("component", component),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return versions
}

// CheckAll resolves records concurrently and returns results in input
// order.
//
// # Outputs
//
//   - []Feasibility: One per record.
//   - error: ctx.Err() if ctx ended before every record was resolved.
func (r *Resolver) CheckAll(ctx context.Context, records []VulnerabilityRecord) ([]Feasibility, error) {
	results := make([]Feasibility, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, record := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.Resolve(gctx, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
