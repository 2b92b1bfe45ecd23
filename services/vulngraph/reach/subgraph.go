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
	"time"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
)

// Subgraph is the forward closure of a project.
type Subgraph struct {
	ProjectID string `json:"project_id"`

	// Nodes is sorted by ID and always contains the project node.
	Nodes []graph.Node `json:"nodes"`

	// Edges holds every edge whose endpoints are both in Nodes, sorted by
	// (From, To, Kind).
	Edges []graph.Edge `json:"edges"`
}

// SubgraphFor returns every node reachable forward from the project plus
// the project node, and every edge among them.
//
// # Inputs
//
//   - ctx: Checked between traversal steps.
//   - projectID: External project identifier.
//   - maxDepth: Hop bound. Nil or negative means unbounded; zero returns
//     only the project node.
//
// # Outputs
//
//   - *Subgraph: Sorted, so identical graphs give identical output.
//   - error: *graph.NotFoundError if the project does not exist.
func (q *Querier) SubgraphFor(ctx context.Context, projectID string, maxDepth *int) (*Subgraph, error) {
	start := time.Now()
	rootID := graph.ProjectNodeID(projectID)
	ctx, span := startQuerySpan(ctx, "SubgraphFor", rootID)
	defer span.End()

	g := q.source.View()
	if !g.HasNode(rootID) {
		return nil, &graph.NotFoundError{ID: rootID}
	}

	limit := -1
	if maxDepth != nil && *maxDepth >= 0 {
		limit = *maxDepth
	}
	tree, err := traverse(ctx, g, rootID, anyEdge, limit)
	if err != nil {
		return nil, err
	}

	ids := tree.visited()
	sub := &Subgraph{
		ProjectID: projectID,
		Nodes:     make([]graph.Node, 0, len(ids)),
		Edges:     make([]graph.Edge, 0),
	}
	for _, id := range ids {
		n, err := g.NodeAttributes(id)
		if err != nil {
			return nil, err
		}
		sub.Nodes = append(sub.Nodes, n)

		// OutEdges is sorted by target, and ids is sorted, so Edges comes
		// out ordered by (From, To, Kind).
		for _, e := range g.OutEdges(id) {
			if tree.contains(e.To) {
				sub.Edges = append(sub.Edges, e)
			}
		}
	}

	span.SetAttributes(resultCountAttr(len(sub.Nodes)))
	recordQueryMetrics(ctx, "subgraph", time.Since(start), len(sub.Nodes))
	return sub, nil
}

// D3Node is a node in the D3.js force-graph payload.
type D3Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	// Vulns lists the advisory IDs directly affecting a component node.
	Vulns []string `json:"vulns"`
}

// D3Link is an edge in the D3.js force-graph payload.
type D3Link struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Relationship string `json:"relationship"`
}

// D3Graph is the {nodes, links} document consumed by the visualization.
type D3Graph struct {
	Nodes []D3Node `json:"nodes"`
	Links []D3Link `json:"links"`
}

// D3 converts the subgraph to the visualization payload. Vulns only lists
// vulnerabilities inside the subgraph, so a depth-bounded subgraph shows
// no advisories beyond its horizon.
func (s *Subgraph) D3() D3Graph {
	byID := make(map[string]graph.Node, len(s.Nodes))
	for _, n := range s.Nodes {
		byID[n.ID] = n
	}
	vulns := make(map[string][]string)
	for _, e := range s.Edges {
		if e.Kind == graph.EdgeKindAffectedBy {
			vulns[e.From] = append(vulns[e.From], byID[e.To].Label())
		}
	}

	out := D3Graph{
		Nodes: make([]D3Node, 0, len(s.Nodes)),
		Links: make([]D3Link, 0, len(s.Edges)),
	}
	for _, n := range s.Nodes {
		v := vulns[n.ID]
		if v == nil {
			v = []string{}
		}
		out.Nodes = append(out.Nodes, D3Node{
			ID:    n.ID,
			Name:  n.Label(),
			Type:  n.Kind.String(),
			Vulns: v,
		})
	}
	for _, e := range s.Edges {
		out.Links = append(out.Links, D3Link{
			Source:       e.From,
			Target:       e.To,
			Relationship: e.Kind.String(),
		})
	}
	return out
}
