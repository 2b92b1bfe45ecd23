// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reach

import "errors"

var (
	// ErrNoPath is returned by ShortestPath when the target is not
	// reachable from the source.
	ErrNoPath = errors.New("no path between nodes")

	// ErrInvalidFilter is returned when a filter expression does not
	// compile or does not evaluate to a boolean.
	ErrInvalidFilter = errors.New("invalid filter expression")
)
