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
	"fmt"
	"slices"
)

// VersionSource lists the published versions of a component.
//
// Implementations must honour ctx cancellation; the call usually crosses
// a process boundary. An unknown component is an empty set, not an error.
type VersionSource interface {
	FetchAvailableVersions(ctx context.Context, component string) ([]string, error)
}

// StaticSource serves versions from a fixed map. Used by the CLI when
// versions are given on the command line, and by tests.
type StaticSource map[string][]string

// FetchAvailableVersions returns a copy of the configured versions.
func (s StaticSource) FetchAvailableVersions(ctx context.Context, component string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s[component]), nil
}

// MultiSource is a VersionSource made of ordered member sources. The
// Resolver checks members one by one instead of merging their answers.
type MultiSource interface {
	VersionSource
	Sources() []VersionSource
}

// ChainSource asks each source in turn and returns the first non-empty
// answer, the way a component is looked up on PyPI first and npm second.
//
// A Resolver over a ChainSource goes further and moves on to the next
// source whenever the current one offers nothing newer than the installed
// version.
type ChainSource struct {
	sources []VersionSource
}

// NewChainSource creates a ChainSource over sources, in order.
func NewChainSource(sources ...VersionSource) *ChainSource {
	return &ChainSource{sources: sources}
}

// Sources returns the member sources in lookup order.
func (c *ChainSource) Sources() []VersionSource {
	return slices.Clone(c.sources)
}

// FetchAvailableVersions returns the first non-empty result.
//
// # Outputs
//
//   - []string: Versions from the first source that had any.
//   - error: nil if at least one source answered (possibly with nothing);
//     otherwise ErrVersionSourceUnavailable joined with every source error.
func (c *ChainSource) FetchAvailableVersions(ctx context.Context, component string) ([]string, error) {
	var errs []error
	answered := false
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		versions, err := src.FetchAvailableVersions(ctx, component)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		answered = true
		if len(versions) > 0 {
			return versions, nil
		}
	}
	if answered || len(c.sources) == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrVersionSourceUnavailable, component, errors.Join(errs...))
}
