// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inbox feeds ingestion batches from files into the graph store.
//
// A batch file names one project and lists its components, in YAML or
// JSON:
//
//	project_id: web-frontend
//	source_url: https://github.com/example/web-frontend
//	components:
//	  - name: requests
//	    version: 2.25.0
//	    kind: pypi
//	    vulnerabilities:
//	      - id: CVE-2023-32681
//	        severity: MEDIUM
//	    depends_on:
//	      - name: urllib3
//	        version: 1.26.0
//
// Watcher turns a directory into a drop folder: every batch file written
// there is ingested.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
)

// ErrInvalidBatch is returned for batch files that cannot be decoded or
// lack a project ID. Problems inside individual component records are not
// batch errors; the store reports them per record.
var ErrInvalidBatch = errors.New("invalid batch")

// Format is a batch file encoding.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return FormatYAML, false
	}
}

// Vulnerability is an advisory entry in a batch file. Severity stays a
// string here so an unknown value skips one record instead of failing the
// whole file.
type Vulnerability struct {
	ID       string `yaml:"id" json:"id"`
	Severity string `yaml:"severity" json:"severity"`
}

// Component is a component entry in a batch file.
type Component struct {
	Name            string               `yaml:"name" json:"name"`
	Version         string               `yaml:"version" json:"version"`
	Kind            string               `yaml:"kind,omitempty" json:"kind,omitempty"`
	Vulnerabilities []Vulnerability      `yaml:"vulnerabilities,omitempty" json:"vulnerabilities,omitempty"`
	DependsOn       []graph.ComponentRef `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Batch is one decoded batch file.
type Batch struct {
	ProjectID  string      `yaml:"project_id" json:"project_id" validate:"required"`
	SourceURL  string      `yaml:"source_url,omitempty" json:"source_url,omitempty" validate:"omitempty,url"`
	Components []Component `yaml:"components" json:"components"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func batchValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// DecodeBatch parses and validates a batch document.
func DecodeBatch(data []byte, format Format) (*Batch, error) {
	var b Batch
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
	}

	if err := batchValidator().Struct(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	return &b, nil
}

// ReadBatchFile reads and decodes the batch at path. The format follows
// the extension; unknown extensions are read as YAML.
func ReadBatchFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	format, _ := FormatForPath(path)
	b, err := DecodeBatch(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// ComponentInputs converts the batch to store input. Unknown severities
// become graph.SeverityUnknown, which the store rejects per record.
func (b *Batch) ComponentInputs() []graph.ComponentInput {
	inputs := make([]graph.ComponentInput, 0, len(b.Components))
	for _, c := range b.Components {
		in := graph.ComponentInput{
			Name:      c.Name,
			Version:   c.Version,
			Kind:      c.Kind,
			DependsOn: c.DependsOn,
		}
		for _, v := range c.Vulnerabilities {
			sev, _ := graph.ParseSeverity(v.Severity)
			in.Vulnerabilities = append(in.Vulnerabilities, graph.VulnerabilityRef{ID: v.ID, Severity: sev})
		}
		inputs = append(inputs, in)
	}
	return inputs
}

// Ingester accepts ingestion batches. *graph.Store implements it.
type Ingester interface {
	IngestProjectComponents(ctx context.Context, projectID, sourceURL string, components []graph.ComponentInput) (*graph.IngestReport, error)
}

// IngestFile reads the batch at path and hands it to ing.
func IngestFile(ctx context.Context, ing Ingester, path string) (*graph.IngestReport, error) {
	b, err := ReadBatchFile(path)
	if err != nil {
		return nil, err
	}
	return ing.IngestProjectComponents(ctx, b.ProjectID, b.SourceURL, b.ComponentInputs())
}
