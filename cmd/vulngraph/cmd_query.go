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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vulngraph/services/vulngraph/reach"
	"github.com/AleutianAI/vulngraph/services/vulngraph/upgrade"
)

func newReachableCmd(a *app) *cobra.Command {
	var (
		filterExpr     string
		jsonOutput     bool
		failOnFindings bool
		withUpgrades   bool
	)

	cmd := &cobra.Command{
		Use:   "reachable PROJECT",
		Short: "List vulnerabilities reachable from a project",
		Long: `List every vulnerability reachable from PROJECT through its dependency
graph, with the shortest explaining path for each affected component.

--filter takes a CEL expression over vulnerability_id, severity,
severity_rank (1-4), component, version and path_length.

Examples:
  vulngraph reachable web
  vulngraph reachable web --filter 'severity_rank >= 3' --json
  vulngraph reachable web --upgrades`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID := args[0]

			var filter *reach.Filter
			if filterExpr != "" {
				f, err := reach.NewFilter(filterExpr)
				if err != nil {
					return err
				}
				filter = f
			}

			q := reach.NewQuerier(a.store, reach.WithLogger(a.slog))
			findings, err := q.ReachableVulnerabilities(ctx, projectID)
			if err != nil {
				return err
			}
			if filter != nil {
				if findings, err = filter.Apply(findings); err != nil {
					return err
				}
			}

			var upgrades []upgrade.Feasibility
			if withUpgrades {
				source, err := a.versionSource()
				if err != nil {
					return err
				}
				upgrades, err = a.resolver(source).CheckAll(ctx, upgradeRecords(findings))
				if err != nil {
					return err
				}
			}

			p := newPrinter(cmd.OutOrStdout())
			if jsonOutput {
				out := struct {
					ProjectID string                `json:"project_id"`
					Findings  []reach.Finding       `json:"findings"`
					Upgrades  []upgrade.Feasibility `json:"upgrades,omitempty"`
				}{projectID, findings, upgrades}
				if err := p.JSON(out); err != nil {
					return err
				}
			} else {
				p.Findings(projectID, findings)
				for _, u := range upgrades {
					p.Feasibility(u)
				}
			}

			if failOnFindings && len(findings) > 0 {
				return withExitCode(exitFindings, fmt.Errorf("%d reachable vulnerabilities", len(findings)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filterExpr, "filter", "", "CEL expression selecting findings")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&failOnFindings, "fail-on-findings", false, "Exit 1 when any finding remains")
	cmd.Flags().BoolVar(&withUpgrades, "upgrades", false, "Check registries for an upgrade of each affected component")
	return cmd
}

// upgradeRecords lists each affected component once, in finding order.
func upgradeRecords(findings []reach.Finding) []upgrade.VulnerabilityRecord {
	seen := make(map[reach.Component]bool)
	var records []upgrade.VulnerabilityRecord
	for _, f := range findings {
		if seen[f.Component] {
			continue
		}
		seen[f.Component] = true
		records = append(records, upgrade.VulnerabilityRecord{
			ID:             f.VulnerabilityID,
			Component:      f.Component.Name,
			CurrentVersion: f.Component.Version,
		})
	}
	return records
}

func newSubgraphCmd(a *app) *cobra.Command {
	var (
		depth int
		d3    bool
	)

	cmd := &cobra.Command{
		Use:   "subgraph PROJECT",
		Short: "Print the dependency subgraph of a project as JSON",
		Long: `Print the nodes reachable from PROJECT and the edges between them.
Without --depth the whole reachable subgraph is printed. --depth 0 prints
only the project node.

Examples:
  vulngraph subgraph web
  vulngraph subgraph web --depth 2 --d3 > web.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var maxDepth *int
			if cmd.Flags().Changed("depth") {
				maxDepth = &depth
			}

			q := reach.NewQuerier(a.store, reach.WithLogger(a.slog))
			sub, err := q.SubgraphFor(cmd.Context(), args[0], maxDepth)
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			if d3 {
				return p.JSON(sub.D3())
			}
			return p.JSON(sub)
		},
	}

	cmd.Flags().IntVar(&depth, "depth", -1, "Maximum hops from the project (negative = unbounded)")
	cmd.Flags().BoolVar(&d3, "d3", false, "Emit {nodes, links} for D3 force layouts")
	return cmd
}

func newNodeCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "node ID",
		Short: "Show the attributes of a node",
		Long: `Show the attributes of a node. IDs look like project:web,
component:requests@2.25.0 or vulnerability:CVE-2023-32681.

Exits 1 if the node does not exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := a.store.NodeAttributes(args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			if jsonOutput {
				return p.JSON(node)
			}
			p.Node(node)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newPathCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "path FROM TO",
		Short: "Show the shortest path between two nodes",
		Long: `Show the shortest directed path between two node IDs, following both
dependency and vulnerability edges. Exits 1 if there is no path.

Example:
  vulngraph path project:web vulnerability:CVE-2023-32681`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := reach.NewQuerier(a.store, reach.WithLogger(a.slog))
			path, err := q.ShortestPath(cmd.Context(), args[0], args[1])
			if errors.Is(err, reach.ErrNoPath) {
				return withExitCode(exitFindings, err)
			}
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			if jsonOutput {
				return p.JSON(path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(path, " -> "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
