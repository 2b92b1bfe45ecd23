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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
	"github.com/AleutianAI/vulngraph/services/vulngraph/reach"
	"github.com/AleutianAI/vulngraph/services/vulngraph/upgrade"
)

// Palette: deep ocean teals plus the usual semantic colors.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorOrange      = lipgloss.Color("#E67E22")
	colorError       = lipgloss.Color("#E74C3C")
)

// printer renders command output. On a terminal it styles headings and
// severities; otherwise it writes plain tab-separated lines for scripts.
type printer struct {
	w      io.Writer
	styled bool

	title    lipgloss.Style
	subtitle lipgloss.Style
	muted    lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	severity map[graph.Severity]lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:        w,
		styled:   isTerminal(w),
		title:    r.NewStyle().Bold(true).Foreground(colorTealBright),
		subtitle: r.NewStyle().Foreground(colorTealPrimary),
		muted:    r.NewStyle().Foreground(colorSlate),
		ok:       r.NewStyle().Foreground(colorTealBright),
		warn:     r.NewStyle().Foreground(colorWarning),
		bad:      r.NewStyle().Foreground(colorError),
		severity: map[graph.Severity]lipgloss.Style{
			graph.SeverityLow:      r.NewStyle().Foreground(colorTealPrimary),
			graph.SeverityMedium:   r.NewStyle().Foreground(colorWarning),
			graph.SeverityHigh:     r.NewStyle().Foreground(colorOrange),
			graph.SeverityCritical: r.NewStyle().Bold(true).Foreground(colorError),
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) Error(err error) {
	if p.styled {
		fmt.Fprintln(p.w, p.bad.Render("✗ "+err.Error()))
		return
	}
	fmt.Fprintf(p.w, "error: %v\n", err)
}

func (p *printer) Findings(projectID string, findings []reach.Finding) {
	if !p.styled {
		for _, f := range findings {
			fmt.Fprintf(p.w, "%s\t%s\t%s@%s\t%s\n",
				f.VulnerabilityID, f.Severity, f.Component.Name, f.Component.Version,
				strings.Join(f.Path, " -> "))
		}
		return
	}

	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf("%d reachable vulnerabilities in %s", len(findings), projectID)))
	for _, f := range findings {
		sev := p.severity[f.Severity].Render(fmt.Sprintf("%-8s", f.Severity))
		fmt.Fprintf(p.w, "  %s %s  %s\n", sev, f.VulnerabilityID,
			p.subtitle.Render(f.Component.Name+"@"+f.Component.Version))
		fmt.Fprintf(p.w, "           %s\n", p.muted.Render(strings.Join(f.Path, " → ")))
	}
}

func (p *printer) IngestReport(source string, r *graph.IngestReport) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s\t%s\taccepted=%d skipped=%d nodes_created=%d nodes_reused=%d edges_created=%d\n",
			source, r.ProjectID, r.Accepted, r.Skipped, r.NodesCreated, r.NodesReused, r.EdgesCreated)
		for _, re := range r.RecordErrors {
			fmt.Fprintf(p.w, "%s\tskipped\t%v\n", source, re)
		}
		return
	}

	fmt.Fprintf(p.w, "%s %s %s\n", p.ok.Render("✓"), p.title.Render(r.ProjectID), p.muted.Render(source))
	fmt.Fprintf(p.w, "  %d accepted, %d skipped, %d nodes created, %d reused, %d edges created\n",
		r.Accepted, r.Skipped, r.NodesCreated, r.NodesReused, r.EdgesCreated)
	for _, re := range r.RecordErrors {
		fmt.Fprintf(p.w, "  %s %v\n", p.warn.Render("⚠"), re)
	}
}

func (p *printer) Node(n graph.Node) {
	rows := [][2]string{{"id", n.ID}, {"kind", n.Kind.String()}}
	switch {
	case n.Project != nil:
		rows = append(rows,
			[2]string{"project_id", n.Project.ID},
			[2]string{"source_url", n.Project.SourceURL},
			[2]string{"ingested_at", n.Project.IngestedAt.Format("2006-01-02T15:04:05Z07:00")},
		)
	case n.Component != nil:
		rows = append(rows,
			[2]string{"name", n.Component.Name},
			[2]string{"version", n.Component.Version},
			[2]string{"kind", n.Component.Kind},
		)
	case n.Vulnerability != nil:
		rows = append(rows,
			[2]string{"vulnerability_id", n.Vulnerability.ID},
			[2]string{"severity", n.Vulnerability.Severity.String()},
		)
	}
	for _, row := range rows {
		if p.styled {
			fmt.Fprintf(p.w, "%s %s\n", p.muted.Render(fmt.Sprintf("%-17s", row[0]+":")), row[1])
		} else {
			fmt.Fprintf(p.w, "%s\t%s\n", row[0], row[1])
		}
	}
}

func (p *printer) Feasibility(f upgrade.Feasibility) {
	if !p.styled {
		if f.Feasible {
			fmt.Fprintf(p.w, "feasible\t%s\t%s\t%s\t%.2f\n", f.Component, f.FromVersion, f.ToVersion, f.Confidence)
		} else {
			fmt.Fprintf(p.w, "not-feasible\t%s\t%s\t%s\n", f.Component, f.FromVersion, f.Reason)
		}
		return
	}

	if f.Feasible {
		fmt.Fprintf(p.w, "%s %s %s → %s %s\n", p.ok.Render("✓"), p.title.Render(f.Component),
			f.FromVersion, p.ok.Render(f.ToVersion), p.muted.Render(fmt.Sprintf("(confidence %.2f)", f.Confidence)))
		return
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n", p.bad.Render("✗"), p.title.Render(f.Component),
		f.FromVersion, p.muted.Render(f.Reason))
}
