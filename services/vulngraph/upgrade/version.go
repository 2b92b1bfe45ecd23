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
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a parsed semantic version.
type Version struct {
	raw string

	// sv is raw with the "v" prefix x/mod/semver expects.
	sv string
}

// ParseVersion parses a SemVer 2.0.0 string such as "1.2.3",
// "2.0.0-rc1" or "1.0.0+build.5".
//
// Shorthand forms ("1", "1.2") and a leading "v" are rejected.
func ParseVersion(s string) (Version, error) {
	if s == "" || strings.HasPrefix(s, "v") {
		return Version{}, fmt.Errorf("%w: %q", ErrUnparsableVersion, s)
	}
	sv := "v" + s
	if !semver.IsValid(sv) {
		return Version{}, fmt.Errorf("%w: %q", ErrUnparsableVersion, s)
	}
	// Canonical expands "v1.2" to "v1.2.0" and drops build metadata, so a
	// complete version survives the round trip unchanged.
	if strings.TrimSuffix(sv, semver.Build(sv)) != semver.Canonical(sv) {
		return Version{}, fmt.Errorf("%w: %q is not MAJOR.MINOR.PATCH", ErrUnparsableVersion, s)
	}
	return Version{raw: s, sv: sv}, nil
}

// String returns the version as it was parsed.
func (v Version) String() string {
	return v.raw
}

// Prerelease reports whether v carries a pre-release tag.
func (v Version) Prerelease() bool {
	return semver.Prerelease(v.sv) != ""
}

// Compare orders versions by SemVer precedence. Versions that differ only
// in build metadata have equal precedence and are ordered by their string
// form, so Compare returns 0 only for identical versions.
func (v Version) Compare(o Version) int {
	if c := semver.Compare(v.sv, o.sv); c != 0 {
		return c
	}
	return strings.Compare(v.raw, o.raw)
}

// CompareVersions parses and compares two version strings.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// MaxNewer returns the highest parsable candidate strictly newer than
// current. Unparsable candidates are skipped.
func MaxNewer(current Version, candidates []string) (Version, bool) {
	var best Version
	found := false
	for _, c := range candidates {
		v, err := ParseVersion(c)
		if err != nil {
			continue
		}
		if semver.Compare(v.sv, current.sv) <= 0 {
			continue
		}
		if !found || v.Compare(best) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}
