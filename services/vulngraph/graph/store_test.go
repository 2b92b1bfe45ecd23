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
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test helpers
// =============================================================================

// fixedClock returns a clock that advances one second per call.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func sampleBatch() []ComponentInput {
	return []ComponentInput{
		{
			Name:    "requests",
			Version: "2.25.0",
			Kind:    "pypi",
			Vulnerabilities: []VulnerabilityRef{
				{ID: "CVE-2023-32681", Severity: SeverityMedium},
			},
			DependsOn: []ComponentRef{{Name: "urllib3", Version: "1.26.0"}},
		},
		{
			Name:    "urllib3",
			Version: "1.26.0",
			Vulnerabilities: []VulnerabilityRef{
				{ID: "CVE-2021-33503", Severity: SeverityHigh},
			},
		},
	}
}

// failingSnapshotter fails every save and never has a snapshot.
type failingSnapshotter struct{}

func (failingSnapshotter) SaveSnapshot(context.Context, *Graph) error {
	return errors.New("disk full")
}

func (failingSnapshotter) LoadSnapshot(context.Context) (*Graph, error) {
	return nil, ErrNoSnapshot
}

// =============================================================================
// Ingestion
// =============================================================================

func TestIngest_CreatesNodesAndEdges(t *testing.T) {
	s := NewStore(WithClock(fixedClock()))

	report, err := s.IngestProjectComponents(context.Background(), "p1", "https://example.com/p1", sampleBatch())
	require.NoError(t, err)

	// project, requests, CVE-2023-32681, urllib3, CVE-2021-33503
	assert.Equal(t, 5, report.NodesCreated)
	// urllib3 is referenced twice: via DependsOn and as its own record.
	assert.Equal(t, 1, report.NodesReused)
	// p1->requests, requests->CVE, requests->urllib3, p1->urllib3, urllib3->CVE
	assert.Equal(t, 5, report.EdgesCreated)
	assert.Equal(t, 2, report.Accepted)
	assert.Zero(t, report.Skipped)
	assert.NotEmpty(t, report.BatchID)

	g := s.View()
	assert.True(t, g.HasNode("project:p1"))
	assert.True(t, g.HasNode("component:requests@2.25.0"))
	assert.True(t, g.HasNode("vulnerability:CVE-2021-33503"))
	assert.True(t, g.HasEdge("project:p1", "component:requests@2.25.0", EdgeKindDependsOn))
	assert.True(t, g.HasEdge("component:requests@2.25.0", "component:urllib3@1.26.0", EdgeKindDependsOn))
	assert.True(t, g.HasEdge("component:urllib3@1.26.0", "vulnerability:CVE-2021-33503", EdgeKindAffectedBy))

	n, err := s.NodeAttributes("project:p1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/p1", n.Project.SourceURL)
}

// TestIngest_Idempotent verifies a repeated batch creates nothing new and
// only refreshes ingestedAt.
func TestIngest_Idempotent(t *testing.T) {
	s := NewStore(WithClock(fixedClock()))
	ctx := context.Background()

	_, err := s.IngestProjectComponents(ctx, "p1", "https://a", sampleBatch())
	require.NoError(t, err)
	before := s.View()
	first, _ := before.NodeAttributes("project:p1")

	report, err := s.IngestProjectComponents(ctx, "p1", "https://b", sampleBatch())
	require.NoError(t, err)
	after := s.View()

	assert.Zero(t, report.NodesCreated)
	assert.Zero(t, report.EdgesCreated)
	assert.Equal(t, before.NodeCount(), after.NodeCount())
	assert.Equal(t, before.EdgeCount(), after.EdgeCount())

	second, _ := after.NodeAttributes("project:p1")
	assert.True(t, second.Project.IngestedAt.After(first.Project.IngestedAt))
	assert.Equal(t, "https://a", second.Project.SourceURL, "source URL keeps its first value")
}

func TestIngest_SeverityKeepsFirstObservation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.IngestProjectComponents(ctx, "p1", "", []ComponentInput{{
		Name: "a", Version: "1.0.0",
		Vulnerabilities: []VulnerabilityRef{{ID: "V1", Severity: SeverityLow}},
	}})
	require.NoError(t, err)

	_, err = s.IngestProjectComponents(ctx, "p2", "", []ComponentInput{{
		Name: "b", Version: "1.0.0",
		Vulnerabilities: []VulnerabilityRef{{ID: "V1", Severity: SeverityCritical}},
	}})
	require.NoError(t, err)

	n, err := s.NodeAttributes("vulnerability:V1")
	require.NoError(t, err)
	assert.Equal(t, SeverityLow, n.Vulnerability.Severity)
	assert.True(t, s.View().HasEdge("component:b@1.0.0", "vulnerability:V1", EdgeKindAffectedBy))
}

func TestIngest_MalformedRecordsSkipped(t *testing.T) {
	s := NewStore()

	report, err := s.IngestProjectComponents(context.Background(), "p1", "", []ComponentInput{
		{Name: "", Version: "1.0.0"},
		{Name: "ok", Version: "1.0.0"},
		{Name: "nover"},
		{Name: "badsev", Version: "1.0.0", Vulnerabilities: []VulnerabilityRef{{ID: "V9"}}},
		{Name: "noid", Version: "1.0.0", Vulnerabilities: []VulnerabilityRef{{Severity: SeverityHigh}}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 4, report.Skipped)
	require.Len(t, report.RecordErrors, 4)

	indexes := make([]int, 0, len(report.RecordErrors))
	for _, re := range report.RecordErrors {
		indexes = append(indexes, re.Index)
		assert.ErrorIs(t, re, ErrMalformedRecord)
	}
	assert.Equal(t, []int{0, 2, 3, 4}, indexes)
	assert.Contains(t, report.RecordErrors[0].Reason, "Name is required")
	assert.Contains(t, report.RecordErrors[2].Reason, "Severity must be one of")

	g := s.View()
	assert.True(t, g.HasNode("component:ok@1.0.0"))
	assert.False(t, g.HasNode("component:badsev@1.0.0"))
	assert.False(t, g.HasNode("vulnerability:V9"))
}

// TestIngest_AtSignCannotMergeComponents verifies two distinct name and
// version pairs never share a component node.
func TestIngest_AtSignCannotMergeComponents(t *testing.T) {
	s := NewStore()

	report, err := s.IngestProjectComponents(context.Background(), "p1", "", []ComponentInput{
		{Name: "a@b", Version: "1.0.0"},
		{Name: "a", Version: "b@1.0.0"},
		{Name: "c", Version: "1.0.0", DependsOn: []ComponentRef{{Name: "d", Version: "x@2"}}},
		{Name: "@babel/core", Version: "7.24.0", Kind: "npm"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 2, report.Skipped)
	require.Len(t, report.RecordErrors, 2)
	assert.Equal(t, 1, report.RecordErrors[0].Index)
	assert.Contains(t, report.RecordErrors[0].Reason, `Version must not contain "@"`)
	assert.Equal(t, 2, report.RecordErrors[1].Index)
	assert.Contains(t, report.RecordErrors[1].Reason, `DependsOn[0].Version must not contain "@"`)

	n, err := s.NodeAttributes(ComponentNodeID("a@b", "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "a@b", n.Component.Name)
	assert.Equal(t, "1.0.0", n.Component.Version)

	n, err = s.NodeAttributes(ComponentNodeID("@babel/core", "7.24.0"))
	require.NoError(t, err)
	assert.Equal(t, "@babel/core", n.Component.Name)

	assert.Len(t, s.View().NodesOfKind(NodeKindComponent), 2)
}

// TestIngest_KindBackfilledFromDirectRecord verifies a component first
// seen as a DependsOn reference takes the kind of its own record.
func TestIngest_KindBackfilledFromDirectRecord(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.IngestProjectComponents(ctx, "p1", "", []ComponentInput{
		{Name: "requests", Version: "2.25.0", Kind: "pypi", DependsOn: []ComponentRef{{Name: "urllib3", Version: "1.26.0"}}},
	})
	require.NoError(t, err)
	n, err := s.NodeAttributes("component:urllib3@1.26.0")
	require.NoError(t, err)
	assert.Empty(t, n.Component.Kind)

	report, err := s.IngestProjectComponents(ctx, "p2", "", []ComponentInput{
		{Name: "urllib3", Version: "1.26.0", Kind: "pypi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NodesReused)

	n, err = s.NodeAttributes("component:urllib3@1.26.0")
	require.NoError(t, err)
	assert.Equal(t, "pypi", n.Component.Kind)

	_, err = s.IngestProjectComponents(ctx, "p3", "", []ComponentInput{
		{Name: "urllib3", Version: "1.26.0", Kind: "npm"},
	})
	require.NoError(t, err)
	n, _ = s.NodeAttributes("component:urllib3@1.26.0")
	assert.Equal(t, "pypi", n.Component.Kind, "a set kind is not overwritten")
}

func TestIngest_EmptyProjectRejected(t *testing.T) {
	s := NewStore()

	report, err := s.IngestProjectComponents(context.Background(), "", "", sampleBatch())
	require.ErrorIs(t, err, ErrMalformedRecord)
	assert.Nil(t, report)
	assert.Zero(t, s.View().NodeCount())
}

func TestIngest_EmptyBatchCreatesProject(t *testing.T) {
	s := NewStore()

	report, err := s.IngestProjectComponents(context.Background(), "lonely", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NodesCreated)
	assert.True(t, s.HasNode("project:lonely"))
}

func TestIngest_CancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.IngestProjectComponents(ctx, "p1", "", sampleBatch())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.View().NodeCount())
}

// TestIngest_SaveFailureNotPublished verifies a failed save leaves the
// published graph untouched.
func TestIngest_SaveFailureNotPublished(t *testing.T) {
	s, err := Open(context.Background(), failingSnapshotter{})
	require.NoError(t, err)

	_, err = s.IngestProjectComponents(context.Background(), "p1", "", sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, s.HasNode("project:p1"))
}

// TestIngest_ConcurrentReadersSeeWholeBatches runs readers against a
// stream of batches; every view must contain either all or none of a
// batch's nodes.
func TestIngest_ConcurrentReadersSeeWholeBatches(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	const batches = 20

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 4)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := s.View()
				for i := 0; i < batches; i++ {
					hasProject := g.HasNode(ProjectNodeID(fmt.Sprintf("p%d", i)))
					hasComp := g.HasNode(ComponentNodeID(fmt.Sprintf("lib%d", i), "1.0.0"))
					hasVuln := g.HasNode(VulnerabilityNodeID(fmt.Sprintf("V%d", i)))
					if hasProject != hasComp || hasComp != hasVuln {
						errs <- fmt.Errorf("torn batch %d", i)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < batches; i++ {
		_, err := s.IngestProjectComponents(ctx, fmt.Sprintf("p%d", i), "", []ComponentInput{{
			Name: fmt.Sprintf("lib%d", i), Version: "1.0.0",
			Vulnerabilities: []VulnerabilityRef{{ID: fmt.Sprintf("V%d", i), Severity: SeverityHigh}},
		}})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, batches*3, s.View().NodeCount())
}

func TestIngest_ConcurrentWriters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.IngestProjectComponents(ctx, fmt.Sprintf("p%d", i), "", []ComponentInput{
				{Name: "shared", Version: "1.0.0"},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	g := s.View()
	assert.Equal(t, 9, g.NodeCount())
	assert.Len(t, g.Predecessors("component:shared@1.0.0", EdgeKindDependsOn), 8)
}

func TestStore_NodeAttributesNotFound(t *testing.T) {
	s := NewStore()

	_, err := s.NodeAttributes("component:ghost@0.0.1")
	require.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "component:ghost@0.0.1", nf.ID)
}

func TestValidateComponent(t *testing.T) {
	assert.NoError(t, ValidateComponent(ComponentInput{Name: "a", Version: "1"}))

	err := ValidateComponent(ComponentInput{
		Name: "a", Version: "1",
		DependsOn: []ComponentRef{{Name: "b"}},
	})
	require.ErrorIs(t, err, ErrMalformedRecord)
	assert.Contains(t, err.Error(), "DependsOn[0].Version is required")
}
