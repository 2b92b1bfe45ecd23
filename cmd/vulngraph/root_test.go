// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
	"github.com/AleutianAI/vulngraph/services/vulngraph/reach"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"plain", errors.New("boom"), exitError},
		{"not found", fmt.Errorf("lookup: %w", &graph.NotFoundError{ID: "project:x"}), exitFindings},
		{"explicit", withExitCode(exitFindings, errors.New("3 findings")), exitFindings},
		{"corrupt", fmt.Errorf("open graph: %w", graph.ErrSnapshotCorrupt), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestUpgradeRecords_OnePerComponent(t *testing.T) {
	urllib3 := reach.Component{Name: "urllib3", Version: "1.26.0"}
	findings := []reach.Finding{
		{VulnerabilityID: "CVE-1", Component: urllib3},
		{VulnerabilityID: "CVE-2", Component: reach.Component{Name: "requests", Version: "2.25.0"}},
		{VulnerabilityID: "CVE-3", Component: urllib3},
	}

	records := upgradeRecords(findings)
	assert.Len(t, records, 2)
	assert.Equal(t, "urllib3", records[0].Component)
	assert.Equal(t, "CVE-1", records[0].ID)
	assert.Equal(t, "requests", records[1].Component)
}

func TestPrinter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	assert.False(t, p.styled)

	p.Error(errors.New("boom"))
	assert.Equal(t, "error: boom\n", buf.String())
}
