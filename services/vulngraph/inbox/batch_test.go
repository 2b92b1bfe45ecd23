// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
)

const yamlBatch = `project_id: web
source_url: https://github.com/example/web
components:
  - name: requests
    version: 2.25.0
    kind: pypi
    vulnerabilities:
      - id: CVE-R
        severity: medium
    depends_on:
      - name: urllib3
        version: 1.26.0
  - name: urllib3
    version: 1.26.0
    vulnerabilities:
      - id: CVE-U
        severity: HIGH
`

const jsonBatch = `{
  "project_id": "web",
  "components": [
    {"name": "left-pad", "version": "1.1.0", "kind": "npm",
     "vulnerabilities": [{"id": "CVE-L", "severity": "LOW"}]}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"a.yaml", FormatYAML, true},
		{"a.YML", FormatYAML, true},
		{"dir/a.json", FormatJSON, true},
		{"a.txt", FormatYAML, false},
		{"yaml", FormatYAML, false},
	}
	for _, tt := range tests {
		got, ok := FormatForPath(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestDecodeBatch_YAML(t *testing.T) {
	b, err := DecodeBatch([]byte(yamlBatch), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "web", b.ProjectID)
	assert.Equal(t, "https://github.com/example/web", b.SourceURL)
	require.Len(t, b.Components, 2)

	inputs := b.ComponentInputs()
	assert.Equal(t, graph.ComponentInput{
		Name:            "requests",
		Version:         "2.25.0",
		Kind:            "pypi",
		Vulnerabilities: []graph.VulnerabilityRef{{ID: "CVE-R", Severity: graph.SeverityMedium}},
		DependsOn:       []graph.ComponentRef{{Name: "urllib3", Version: "1.26.0"}},
	}, inputs[0])
	assert.Equal(t, graph.SeverityHigh, inputs[1].Vulnerabilities[0].Severity)
}

func TestDecodeBatch_JSON(t *testing.T) {
	b, err := DecodeBatch([]byte(jsonBatch), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "web", b.ProjectID)
	assert.Empty(t, b.SourceURL)
	assert.Equal(t, graph.SeverityLow, b.ComponentInputs()[0].Vulnerabilities[0].Severity)
}

func TestDecodeBatch_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"missing project", "components: []\n", FormatYAML},
		{"unknown field", "project_id: p\nowner: me\n", FormatYAML},
		{"bad source url", "project_id: p\nsource_url: not a url\n", FormatYAML},
		{"not yaml", "project_id: [\n", FormatYAML},
		{"unknown json field", `{"project_id":"p","extra":1}`, FormatJSON},
		{"truncated json", `{"project_id":`, FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(tt.data), tt.format)
			assert.ErrorIs(t, err, ErrInvalidBatch)
		})
	}
}

// TestComponentInputs_UnknownSeverity verifies a bad severity only
// invalidates its own record.
func TestComponentInputs_UnknownSeverity(t *testing.T) {
	b, err := DecodeBatch([]byte(`project_id: p
components:
  - name: a
    version: "1.0"
    vulnerabilities:
      - id: CVE-1
        severity: URGENT
  - name: b
    version: "1.0"
`), FormatYAML)
	require.NoError(t, err)

	inputs := b.ComponentInputs()
	assert.Equal(t, graph.SeverityUnknown, inputs[0].Vulnerabilities[0].Severity)
	assert.Error(t, graph.ValidateComponent(inputs[0]))
	assert.NoError(t, graph.ValidateComponent(inputs[1]))
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "web.yaml", yamlBatch)
	store := graph.NewStore()

	report, err := IngestFile(context.Background(), store, path)
	require.NoError(t, err)
	assert.Equal(t, "web", report.ProjectID)
	assert.Equal(t, 2, report.Accepted)

	assert.True(t, store.HasNode(graph.ProjectNodeID("web")))
	assert.True(t, store.HasNode(graph.VulnerabilityNodeID("CVE-U")))
	node, err := store.NodeAttributes(graph.ProjectNodeID("web"))
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/example/web", node.Project.SourceURL)
}

func TestIngestFile_Errors(t *testing.T) {
	store := graph.NewStore()

	_, err := IngestFile(context.Background(), store, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := writeFile(t, t.TempDir(), "bad.json", `{"components":[]}`)
	_, err = IngestFile(context.Background(), store, path)
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.Contains(t, err.Error(), "bad.json")
}
