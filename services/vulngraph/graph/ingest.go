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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// VulnerabilityRef is an advisory attached to a component record.
type VulnerabilityRef struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Severity Severity `json:"severity" yaml:"severity" validate:"severity"`
}

// ComponentRef names another component by name and version.
type ComponentRef struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Version string `json:"version" yaml:"version" validate:"required,excludes=@"`
}

// ComponentInput is one component record of an ingestion batch.
//
// DependsOn lists components this component itself depends on. Each
// reference becomes a component-to-component DEPENDS_ON edge, creating the
// referenced component node if it does not exist yet. Such a node has no
// Kind until the component is ingested directly; the first non-empty Kind
// seen for a component is kept.
//
// Version must not contain "@".
type ComponentInput struct {
	Name            string             `json:"name" yaml:"name" validate:"required"`
	Version         string             `json:"version" yaml:"version" validate:"required,excludes=@"`
	Kind            string             `json:"kind,omitempty" yaml:"kind,omitempty"`
	Vulnerabilities []VulnerabilityRef `json:"vulnerabilities,omitempty" yaml:"vulnerabilities,omitempty" validate:"dive"`
	DependsOn       []ComponentRef     `json:"depends_on,omitempty" yaml:"depends_on,omitempty" validate:"dive"`
}

// IngestReport summarizes one ingestion batch.
type IngestReport struct {
	// BatchID uniquely identifies the batch in logs.
	BatchID   string `json:"batch_id"`
	ProjectID string `json:"project_id"`

	// NodesCreated counts nodes that did not exist before the batch.
	NodesCreated int `json:"nodes_created"`

	// NodesReused counts references to nodes that already existed,
	// including nodes created earlier in the same batch.
	NodesReused int `json:"nodes_reused"`

	EdgesCreated int `json:"edges_created"`

	// Accepted and Skipped partition the submitted component records.
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`

	RecordErrors []*RecordError `json:"record_errors,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// inputValidator returns the shared validator with the "severity" rule
// registered.
func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
			s, ok := fl.Field().Interface().(Severity)
			return ok && s.Valid()
		})
	})
	return validate
}

// ValidateComponent checks a component record without touching any graph.
//
// # Outputs
//
//   - error: nil, or an error wrapping ErrMalformedRecord naming the first
//     offending fields.
func ValidateComponent(c ComponentInput) error {
	err := inputValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrMalformedRecord, strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "ComponentInput.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "severity":
		return field + " must be one of LOW, MEDIUM, HIGH, CRITICAL"
	case "excludes":
		return fmt.Sprintf("%s must not contain %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}

// applyBatch upserts one project and its component records into g.
//
// # Description
//
// The project node is created, or its IngestedAt refreshed. Each valid
// record adds its component node, a project DEPENDS_ON edge, one
// AFFECTED_BY edge per vulnerability and one DEPENDS_ON edge per
// DependsOn reference. Invalid records are reported and skipped; the rest
// of the batch still applies.
//
// Existing vulnerability nodes keep the severity they were first
// ingested with.
//
// # Inputs
//
//   - g: An unpublished graph. Mutated in place.
//   - report: Receives counts and record errors.
func applyBatch(g *Graph, projectID, sourceURL string, now time.Time, components []ComponentInput, report *IngestReport) error {
	projectNode := NewProjectNode(projectID, sourceURL, now)
	if existing, err := g.NodeAttributes(projectNode.ID); err == nil {
		refreshed := NewProjectNode(projectID, existing.Project.SourceURL, now)
		if err := g.replaceNode(refreshed); err != nil {
			return err
		}
		report.NodesReused++
	} else {
		if _, err := g.addNode(projectNode); err != nil {
			return err
		}
		report.NodesCreated++
	}

	for i, c := range components {
		if err := ValidateComponent(c); err != nil {
			report.RecordErrors = append(report.RecordErrors, &RecordError{
				Index:   i,
				Name:    c.Name,
				Version: c.Version,
				Reason:  strings.TrimPrefix(err.Error(), ErrMalformedRecord.Error()+": "),
			})
			report.Skipped++
			continue
		}
		if err := applyComponent(g, projectNode.ID, c, report); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		report.Accepted++
	}
	return nil
}

func applyComponent(g *Graph, projectNodeID string, c ComponentInput, report *IngestReport) error {
	compNode := NewComponentNode(c.Name, c.Version, c.Kind)
	if err := upsert(g, compNode, report); err != nil {
		return err
	}
	if err := backfillKind(g, compNode); err != nil {
		return err
	}
	if err := link(g, Edge{From: projectNodeID, To: compNode.ID, Kind: EdgeKindDependsOn}, report); err != nil {
		return err
	}

	for _, v := range c.Vulnerabilities {
		vulnNode := NewVulnerabilityNode(v.ID, v.Severity)
		if err := upsert(g, vulnNode, report); err != nil {
			return err
		}
		if err := link(g, Edge{From: compNode.ID, To: vulnNode.ID, Kind: EdgeKindAffectedBy}, report); err != nil {
			return err
		}
	}

	for _, dep := range c.DependsOn {
		depNode := NewComponentNode(dep.Name, dep.Version, "")
		if err := upsert(g, depNode, report); err != nil {
			return err
		}
		if err := link(g, Edge{From: compNode.ID, To: depNode.ID, Kind: EdgeKindDependsOn}, report); err != nil {
			return err
		}
	}
	return nil
}

// backfillKind sets the kind of an existing component node that was
// created, without one, from a DependsOn reference.
func backfillKind(g *Graph, n Node) error {
	if n.Component.Kind == "" {
		return nil
	}
	existing, err := g.NodeAttributes(n.ID)
	if err != nil {
		return err
	}
	if existing.Component.Kind != "" {
		return nil
	}
	return g.replaceNode(n)
}

func upsert(g *Graph, n Node, report *IngestReport) error {
	created, err := g.addNode(n)
	if err != nil {
		return err
	}
	if created {
		report.NodesCreated++
	} else {
		report.NodesReused++
	}
	return nil
}

func link(g *Graph, e Edge, report *IngestReport) error {
	created, err := g.addEdge(e)
	if err != nil {
		return err
	}
	if created {
		report.EdgesCreated++
	}
	return nil
}
