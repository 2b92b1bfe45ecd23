// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Graph is an arena of nodes keyed by ID plus sorted adjacency lists.
//
// Thread Safety:
//
//	A Graph returned by Store.View() is immutable and safe for concurrent
//	reads. Only Store mutates graphs, and only private clones that have
//	not been published yet.
//
// Determinism:
//
//	Adjacency lists are kept sorted by (neighbour ID, edge kind), and every
//	method that returns a collection returns it sorted by ID, so repeated
//	reads of the same Graph produce identical output.
type Graph struct {
	nodes map[string]Node

	// out and in hold edges sorted by the neighbour ID.
	out map[string][]Edge
	in  map[string][]Edge

	edges map[edgeKey]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
		edges: make(map[edgeKey]struct{}),
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// NodeAttributes returns the node with the given ID.
//
// # Outputs
//
//   - Node: The node. Its attribute pointers must not be mutated.
//   - error: *NotFoundError (wrapping ErrNotFound) if the ID is unknown.
func (g *Graph) NodeAttributes(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, &NotFoundError{ID: id}
	}
	return n, nil
}

// HasEdge reports whether the exact edge exists.
func (g *Graph) HasEdge(from, to string, kind EdgeKind) bool {
	_, ok := g.edges[edgeKey{from: from, to: to, kind: kind}]
	return ok
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []Node {
	return g.NodesOfKind(NodeKindUnknown)
}

// NodesOfKind returns nodes of one kind sorted by ID. NodeKindUnknown
// selects every node.
func (g *Graph) NodesOfKind(kind NodeKind) []Node {
	result := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if kind == NodeKindUnknown || n.Kind == kind {
			result = append(result, n)
		}
	}
	slices.SortFunc(result, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	return result
}

// Edges returns all edges sorted by (From, To, Kind).
func (g *Graph) Edges() []Edge {
	result := make([]Edge, 0, len(g.edges))
	for _, list := range g.out {
		result = append(result, list...)
	}
	slices.SortFunc(result, compareEdges)
	return result
}

// OutEdges returns the outgoing edges of id sorted by target ID.
func (g *Graph) OutEdges(id string) []Edge {
	return slices.Clone(g.out[id])
}

// InEdges returns the incoming edges of id sorted by source ID.
func (g *Graph) InEdges(id string) []Edge {
	return slices.Clone(g.in[id])
}

// Successors returns the targets of outgoing edges of the given kind,
// sorted by ID. EdgeKindUnknown matches every kind.
func (g *Graph) Successors(id string, kind EdgeKind) []string {
	return neighbours(g.out[id], kind, func(e Edge) string { return e.To })
}

// Predecessors returns the sources of incoming edges of the given kind,
// sorted by ID. EdgeKindUnknown matches every kind.
func (g *Graph) Predecessors(id string, kind EdgeKind) []string {
	return neighbours(g.in[id], kind, func(e Edge) string { return e.From })
}

func neighbours(edges []Edge, kind EdgeKind, pick func(Edge) string) []string {
	result := make([]string, 0, len(edges))
	for _, e := range edges {
		if kind != EdgeKindUnknown && e.Kind != kind {
			continue
		}
		id := pick(e)
		// Sorted input, so duplicates (same neighbour, two kinds) are adjacent.
		if n := len(result); n > 0 && result[n-1] == id {
			continue
		}
		result = append(result, id)
	}
	return result
}

// =============================================================================
// Mutation (Store only, on unpublished clones)
// =============================================================================

// addNode inserts n if no node with its ID exists.
//
// Returns true if the node was created, false if it already existed (in
// which case the stored node is left untouched). An existing node with the
// same ID but a different identity is ErrIdentityConflict.
func (g *Graph) addNode(n Node) (bool, error) {
	if err := n.validate(); err != nil {
		return false, err
	}
	if existing, ok := g.nodes[n.ID]; ok {
		if existing.Kind != n.Kind {
			return false, fmt.Errorf("node %q already exists as %s", n.ID, existing.Kind)
		}
		if n.Kind == NodeKindComponent &&
			(existing.Component.Name != n.Component.Name || existing.Component.Version != n.Component.Version) {
			return false, fmt.Errorf("%w: %q is %s@%s, not %s@%s", ErrIdentityConflict, n.ID,
				existing.Component.Name, existing.Component.Version, n.Component.Name, n.Component.Version)
		}
		return false, nil
	}
	g.nodes[n.ID] = n
	return true, nil
}

// replaceNode overwrites an existing node with new attributes of the same
// kind.
func (g *Graph) replaceNode(n Node) error {
	if err := n.validate(); err != nil {
		return err
	}
	existing, ok := g.nodes[n.ID]
	if !ok {
		return &NotFoundError{ID: n.ID}
	}
	if existing.Kind != n.Kind {
		return fmt.Errorf("node %q already exists as %s", n.ID, existing.Kind)
	}
	g.nodes[n.ID] = n
	return nil
}

// addEdge inserts e if it is not already present.
//
// Both endpoints must exist (ErrNotFound otherwise) and their kinds must
// fit the edge kind (ErrInvalidEdge otherwise).
func (g *Graph) addEdge(e Edge) (bool, error) {
	from, ok := g.nodes[e.From]
	if !ok {
		return false, &NotFoundError{ID: e.From}
	}
	to, ok := g.nodes[e.To]
	if !ok {
		return false, &NotFoundError{ID: e.To}
	}
	if !edgeAllowed(e.Kind, from.Kind, to.Kind) {
		return false, fmt.Errorf("%w: %s from %s to %s", ErrInvalidEdge, e.Kind, from.Kind, to.Kind)
	}
	if _, exists := g.edges[e.key()]; exists {
		return false, nil
	}

	g.edges[e.key()] = struct{}{}
	g.out[e.From] = insertSorted(g.out[e.From], e, func(a, b Edge) int {
		if c := strings.Compare(a.To, b.To); c != 0 {
			return c
		}
		return int(a.Kind) - int(b.Kind)
	})
	g.in[e.To] = insertSorted(g.in[e.To], e, func(a, b Edge) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return int(a.Kind) - int(b.Kind)
	})
	return true, nil
}

func insertSorted(list []Edge, e Edge, cmp func(a, b Edge) int) []Edge {
	i, _ := slices.BinarySearchFunc(list, e, cmp)
	return slices.Insert(list, i, e)
}

// clone returns a deep copy whose maps and adjacency slices share no
// backing storage with g. Attribute pointers are shared; they are never
// mutated in place.
func (g *Graph) clone() *Graph {
	c := &Graph{
		nodes: maps.Clone(g.nodes),
		out:   make(map[string][]Edge, len(g.out)),
		in:    make(map[string][]Edge, len(g.in)),
		edges: maps.Clone(g.edges),
	}
	for id, list := range g.out {
		c.out[id] = slices.Clone(list)
	}
	for id, list := range g.in {
		c.in[id] = slices.Clone(list)
	}
	return c
}

// buildGraph constructs a graph from node and edge tables, validating
// every entry. Used when decoding snapshots.
func buildGraph(nodes []Node, edges []Edge) (*Graph, error) {
	g := New()
	for i, n := range nodes {
		created, err := g.addNode(n)
		if err != nil {
			return nil, fmt.Errorf("node[%d]: %w", i, err)
		}
		if !created {
			return nil, fmt.Errorf("node[%d]: duplicate id %q", i, n.ID)
		}
	}
	for i, e := range edges {
		created, err := g.addEdge(e)
		if err != nil {
			return nil, fmt.Errorf("edge[%d]: %w", i, err)
		}
		if !created {
			return nil, fmt.Errorf("edge[%d]: duplicate %s %s -> %s", i, e.Kind, e.From, e.To)
		}
	}
	return g, nil
}
