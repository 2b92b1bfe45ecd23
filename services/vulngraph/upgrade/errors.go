// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package upgrade decides whether a vulnerable component can be upgraded
// automatically, and to which version.
//
// CheckFeasibility is a pure function over a vulnerability record and a
// set of candidate versions. Resolver adds the I/O around it: it fetches
// candidates from a VersionSource under a timeout and treats source
// failures as an empty candidate pool.
//
// Versions follow SemVer 2.0.0 precedence. A pre-release ranks below its
// own release but above every lower release, so 2.0.0-rc1 is newer than
// 1.2.1.
package upgrade

import "errors"

var (
	// ErrUnparsableVersion is returned for strings that are not complete
	// MAJOR.MINOR.PATCH semantic versions.
	ErrUnparsableVersion = errors.New("unparsable version")

	// ErrVersionSourceUnavailable is returned by version sources that could
	// not produce a candidate set. Resolver logs it and continues with no
	// candidates.
	ErrVersionSourceUnavailable = errors.New("version source unavailable")
)
