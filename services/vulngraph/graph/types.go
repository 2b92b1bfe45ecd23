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
	"strings"
	"time"
)

// Node ID prefixes. IDs are "<prefix>:<identity>".
const (
	projectPrefix       = "project:"
	componentPrefix     = "component:"
	vulnerabilityPrefix = "vulnerability:"
)

// ProjectNodeID returns the node ID for an external project identifier.
func ProjectNodeID(projectID string) string {
	return projectPrefix + projectID
}

// ComponentNodeID returns the node ID for a name@version pair.
//
// Names may contain "@" (npm scopes such as "@babel/core"); versions may
// not, so the last "@" of the ID always separates the two.
func ComponentNodeID(name, version string) string {
	return componentPrefix + name + "@" + version
}

// VulnerabilityNodeID returns the node ID for an advisory identifier.
func VulnerabilityNodeID(vulnID string) string {
	return vulnerabilityPrefix + vulnID
}

// NodeKind is the variant tag of a Node.
type NodeKind int

const (
	// NodeKindUnknown is the zero value and never stored.
	NodeKindUnknown NodeKind = iota

	// NodeKindProject is a tracked project.
	NodeKindProject

	// NodeKindComponent is a name@version software component.
	NodeKindComponent

	// NodeKindVulnerability is a known advisory.
	NodeKindVulnerability
)

var nodeKindNames = map[NodeKind]string{
	NodeKindUnknown:       "unknown",
	NodeKindProject:       "project",
	NodeKindComponent:     "component",
	NodeKindVulnerability: "vulnerability",
}

// String returns the lower-case name of the kind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k NodeKind) MarshalText() ([]byte, error) {
	if k == NodeKindUnknown {
		return nil, fmt.Errorf("cannot marshal node kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *NodeKind) UnmarshalText(text []byte) error {
	for kind, name := range nodeKindNames {
		if kind != NodeKindUnknown && name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node kind %q", string(text))
}

// Severity ranks a vulnerability. The zero value is not a valid severity.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// String returns the upper-case name, or "UNKNOWN".
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether s is one of LOW, MEDIUM, HIGH, CRITICAL.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == upper {
			return sev, nil
		}
	}
	return SeverityUnknown, fmt.Errorf("unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// EdgeKind defines the relationship an edge expresses.
type EdgeKind int

const (
	// EdgeKindUnknown is the zero value and never stored.
	EdgeKindUnknown EdgeKind = iota

	// EdgeKindDependsOn links a project or component to a component it
	// depends on.
	EdgeKindDependsOn

	// EdgeKindAffectedBy links a component version to a vulnerability
	// that impacts it.
	EdgeKindAffectedBy
)

var edgeKindNames = map[EdgeKind]string{
	EdgeKindDependsOn:  "DEPENDS_ON",
	EdgeKindAffectedBy: "AFFECTED_BY",
}

// String returns "DEPENDS_ON", "AFFECTED_BY" or "UNKNOWN".
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (k EdgeKind) MarshalText() ([]byte, error) {
	if _, ok := edgeKindNames[k]; !ok {
		return nil, fmt.Errorf("cannot marshal edge kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EdgeKind) UnmarshalText(text []byte) error {
	for kind, name := range edgeKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown edge kind %q", string(text))
}

// ProjectAttrs holds the attributes of a project node.
type ProjectAttrs struct {
	ID         string    `json:"id"`
	SourceURL  string    `json:"source_url"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ComponentAttrs holds the attributes of a component node.
type ComponentAttrs struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Kind    string `json:"kind,omitempty"`
}

// VulnerabilityAttrs holds the attributes of a vulnerability node.
type VulnerabilityAttrs struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
}

// Node is a tagged union over the three node variants.
//
// Exactly one of Project, Component, Vulnerability is non-nil and it
// matches Kind. Nodes handed out by a Graph are values; the attribute
// pointers they carry must be treated as read-only.
type Node struct {
	ID            string              `json:"id"`
	Kind          NodeKind            `json:"kind"`
	Project       *ProjectAttrs       `json:"project,omitempty"`
	Component     *ComponentAttrs     `json:"component,omitempty"`
	Vulnerability *VulnerabilityAttrs `json:"vulnerability,omitempty"`
}

// NewProjectNode builds a project node.
func NewProjectNode(projectID, sourceURL string, ingestedAt time.Time) Node {
	return Node{
		ID:   ProjectNodeID(projectID),
		Kind: NodeKindProject,
		Project: &ProjectAttrs{
			ID:         projectID,
			SourceURL:  sourceURL,
			IngestedAt: ingestedAt,
		},
	}
}

// NewComponentNode builds a component node.
func NewComponentNode(name, version, kind string) Node {
	return Node{
		ID:        ComponentNodeID(name, version),
		Kind:      NodeKindComponent,
		Component: &ComponentAttrs{Name: name, Version: version, Kind: kind},
	}
}

// NewVulnerabilityNode builds a vulnerability node.
func NewVulnerabilityNode(vulnID string, severity Severity) Node {
	return Node{
		ID:            VulnerabilityNodeID(vulnID),
		Kind:          NodeKindVulnerability,
		Vulnerability: &VulnerabilityAttrs{ID: vulnID, Severity: severity},
	}
}

// Label returns a short human-readable name: the project ID, name@version
// or the advisory ID.
func (n Node) Label() string {
	switch n.Kind {
	case NodeKindProject:
		return n.Project.ID
	case NodeKindComponent:
		return n.Component.Name + "@" + n.Component.Version
	case NodeKindVulnerability:
		return n.Vulnerability.ID
	default:
		return n.ID
	}
}

// validate checks the union invariant and that the ID matches the
// attributes.
func (n Node) validate() error {
	switch n.Kind {
	case NodeKindProject:
		if n.Project == nil || n.Component != nil || n.Vulnerability != nil {
			return fmt.Errorf("node %q: project attributes missing or mixed", n.ID)
		}
		if n.ID != ProjectNodeID(n.Project.ID) {
			return fmt.Errorf("node %q: id does not match project %q", n.ID, n.Project.ID)
		}
	case NodeKindComponent:
		if n.Component == nil || n.Project != nil || n.Vulnerability != nil {
			return fmt.Errorf("node %q: component attributes missing or mixed", n.ID)
		}
		if strings.Contains(n.Component.Version, "@") {
			return fmt.Errorf("node %q: version must not contain \"@\"", n.ID)
		}
		if n.ID != ComponentNodeID(n.Component.Name, n.Component.Version) {
			return fmt.Errorf("node %q: id does not match component", n.ID)
		}
	case NodeKindVulnerability:
		if n.Vulnerability == nil || n.Project != nil || n.Component != nil {
			return fmt.Errorf("node %q: vulnerability attributes missing or mixed", n.ID)
		}
		if n.ID != VulnerabilityNodeID(n.Vulnerability.ID) {
			return fmt.Errorf("node %q: id does not match vulnerability", n.ID)
		}
		if !n.Vulnerability.Severity.Valid() {
			return fmt.Errorf("node %q: invalid severity", n.ID)
		}
	default:
		return fmt.Errorf("node %q: unknown kind", n.ID)
	}
	return nil
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// edgeKey identifies an edge for duplicate detection.
type edgeKey struct {
	from, to string
	kind     EdgeKind
}

func (e Edge) key() edgeKey {
	return edgeKey{from: e.From, to: e.To, kind: e.Kind}
}

// edgeAllowed reports whether kind may connect nodes of kinds from and to.
func edgeAllowed(kind EdgeKind, from, to NodeKind) bool {
	switch kind {
	case EdgeKindDependsOn:
		return (from == NodeKindProject || from == NodeKindComponent) && to == NodeKindComponent
	case EdgeKindAffectedBy:
		return from == NodeKindComponent && to == NodeKindVulnerability
	default:
		return false
	}
}

// compareEdges orders edges by (From, To, Kind).
func compareEdges(a, b Edge) int {
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := strings.Compare(a.To, b.To); c != 0 {
		return c
	}
	return int(a.Kind) - int(b.Kind)
}
