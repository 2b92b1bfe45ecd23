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

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
)

// ViewSource supplies immutable graph views. *graph.Store implements it.
type ViewSource interface {
	View() *graph.Graph
}

// Component identifies the affected component of a Finding.
type Component struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Finding is one reachable vulnerability reached through one component.
type Finding struct {
	VulnerabilityID string         `json:"vulnerability_id"`
	Severity        graph.Severity `json:"severity"`
	Component       Component      `json:"component"`

	// Path lists node IDs from the project node to the vulnerability
	// node. All hops but the last are DEPENDS_ON; the last is AFFECTED_BY.
	Path []string `json:"path"`
}

// Querier runs read-only queries against a ViewSource.
//
// # Description
//
// Each query takes a single view at call time, so it sees the graph as
// it was before or after any concurrent ingestion, never in between.
//
// # Thread Safety
//
// Querier is safe for concurrent use.
type Querier struct {
	source ViewSource
	logger *slog.Logger
}

// Option configures a Querier.
type Option func(*Querier)

// WithLogger sets the logger for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Querier) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQuerier creates a Querier over source.
//
// # Inputs
//
//   - source: Graph view provider. Must not be nil.
func NewQuerier(source ViewSource, opts ...Option) *Querier {
	q := &Querier{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ReachableVulnerabilities lists vulnerabilities reachable from a project.
//
// # Description
//
// Runs one breadth-first traversal over DEPENDS_ON edges from the project
// node, then sweeps every vulnerability node and each component it
// affects. A Finding is produced for every (vulnerability, component) pair
// whose component lies in the project's dependency closure. The path to
// the component is the shortest one, ties broken by lexicographic order
// of node IDs; the vulnerability node is appended as the final hop.
//
// # Inputs
//
//   - ctx: Checked between traversal steps.
//   - projectID: External project identifier (not the node ID).
//
// # Outputs
//
//   - []Finding: Sorted by vulnerability ID, then component node ID. Empty
//     (not nil) when nothing is reachable.
//   - error: *graph.NotFoundError if the project does not exist.
func (q *Querier) ReachableVulnerabilities(ctx context.Context, projectID string) ([]Finding, error) {
	start := time.Now()
	rootID := graph.ProjectNodeID(projectID)
	ctx, span := startQuerySpan(ctx, "ReachableVulnerabilities", rootID)
	defer span.End()

	g := q.source.View()
	if !g.HasNode(rootID) {
		return nil, &graph.NotFoundError{ID: rootID}
	}

	tree, err := traverse(ctx, g, rootID, dependsOnly, -1)
	if err != nil {
		return nil, err
	}

	findings := make([]Finding, 0)
	for _, vuln := range g.NodesOfKind(graph.NodeKindVulnerability) {
		for _, compID := range g.Predecessors(vuln.ID, graph.EdgeKindAffectedBy) {
			if !tree.contains(compID) {
				continue
			}
			comp, err := g.NodeAttributes(compID)
			if err != nil {
				return nil, fmt.Errorf("affected component: %w", err)
			}
			findings = append(findings, Finding{
				VulnerabilityID: vuln.Vulnerability.ID,
				Severity:        vuln.Vulnerability.Severity,
				Component: Component{
					Name:    comp.Component.Name,
					Version: comp.Component.Version,
				},
				Path: append(tree.pathTo(compID), vuln.ID),
			})
		}
	}

	span.SetAttributes(resultCountAttr(len(findings)))
	recordQueryMetrics(ctx, "reachable_vulnerabilities", time.Since(start), len(findings))
	q.logger.Debug("reachable vulnerabilities computed",
		slog.String("project_id", projectID),
		slog.Int("closure_size", tree.size()),
		slog.Int("findings", len(findings)),
	)
	return findings, nil
}

// ShortestPath returns the shortest path of node IDs from fromID to toID
// following edges of any kind, ties broken lexicographically.
//
// # Outputs
//
//   - []string: Node IDs, starting with fromID and ending with toID.
//   - error: *graph.NotFoundError if either node is missing, ErrNoPath if
//     toID is not reachable.
func (q *Querier) ShortestPath(ctx context.Context, fromID, toID string) ([]string, error) {
	start := time.Now()
	ctx, span := startQuerySpan(ctx, "ShortestPath", fromID)
	defer span.End()

	g := q.source.View()
	for _, id := range []string{fromID, toID} {
		if !g.HasNode(id) {
			return nil, &graph.NotFoundError{ID: id}
		}
	}

	tree, err := traverse(ctx, g, fromID, anyEdge, -1)
	if err != nil {
		return nil, err
	}
	recordQueryMetrics(ctx, "shortest_path", time.Since(start), tree.size())
	if !tree.contains(toID) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, fromID, toID)
	}
	return tree.pathTo(toID), nil
}

// =============================================================================
// Traversal
// =============================================================================

func dependsOnly(e graph.Edge) bool { return e.Kind == graph.EdgeKindDependsOn }

func anyEdge(graph.Edge) bool { return true }

// bfsTree is the breadth-first spanning tree of a traversal.
type bfsTree struct {
	root   string
	parent map[string]string
	depth  map[string]int

	// order lists visited nodes in discovery order.
	order []string
}

func (t *bfsTree) contains(id string) bool {
	_, ok := t.depth[id]
	return ok
}

func (t *bfsTree) size() int {
	return len(t.order)
}

// pathTo returns root..id. id must be in the tree.
func (t *bfsTree) pathTo(id string) []string {
	path := make([]string, t.depth[id]+1)
	for i := len(path) - 1; i >= 0; i-- {
		path[i] = id
		id = t.parent[id]
	}
	return path
}

// traverse runs a breadth-first search from root over edges accepted by
// follow, visiting at most maxDepth hops (negative means unbounded).
//
// Out-edges are stored sorted by target ID, and the queue is FIFO, so each
// level is dequeued in lexicographic order of its tree paths and the first
// parent to discover a node gives it the smallest shortest path.
func traverse(ctx context.Context, g *graph.Graph, root string, follow func(graph.Edge) bool, maxDepth int) (*bfsTree, error) {
	t := &bfsTree{
		root:   root,
		parent: map[string]string{},
		depth:  map[string]int{root: 0},
		order:  []string{root},
	}

	queue := []string{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := queue[0]
		queue = queue[1:]

		d := t.depth[id]
		if maxDepth >= 0 && d >= maxDepth {
			continue
		}

		for _, e := range g.OutEdges(id) {
			if !follow(e) || t.contains(e.To) {
				continue
			}
			t.parent[e.To] = id
			t.depth[e.To] = d + 1
			t.order = append(t.order, e.To)
			queue = append(queue, e.To)
		}
	}
	return t, nil
}

// visited returns the visited node IDs sorted.
func (t *bfsTree) visited() []string {
	ids := slices.Clone(t.order)
	slices.Sort(ids)
	return ids
}
