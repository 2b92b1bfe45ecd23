// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reach answers read-only questions about the vulnerability graph.
//
// # Overview
//
// Querier takes one immutable view of the graph per call and never
// mutates it. It provides:
//
//   - ReachableVulnerabilities: vulnerabilities affecting any component in
//     a project's (possibly transitive) DEPENDS_ON closure, each with a
//     shortest explanation path
//   - SubgraphFor: the forward closure of a project, optionally bounded by
//     depth, for visualization
//   - ShortestPath: the shortest path between two arbitrary nodes
//
// # Determinism
//
// Traversal is breadth first and visits neighbours in ascending ID order.
// Among several shortest paths the first one discovered is therefore the
// lexicographically smallest sequence of node IDs, and every result is
// sorted, so repeated calls over the same graph return identical output.
//
// # Cycles
//
// Component-to-component DEPENDS_ON edges may form cycles. All traversals
// keep a visited set and terminate regardless.
//
// # Thread Safety
//
// Querier is safe for concurrent use.
package reach
