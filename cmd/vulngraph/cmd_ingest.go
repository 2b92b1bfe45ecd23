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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
	"github.com/AleutianAI/vulngraph/services/vulngraph/inbox"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		format     string
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest batch files into the graph",
		Long: `Ingest one or more batch files. Each file names a project and lists its
components, their vulnerabilities and their dependencies. Use "-" to read a
batch from stdin.

Records that fail validation are skipped and reported; the rest of the
batch is applied. A file that cannot be decoded stops the command.

Examples:
  vulngraph ingest batches/web.yaml batches/api.json
  cat batch.json | vulngraph ingest - --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := newPrinter(cmd.OutOrStdout())

			var reports []*graph.IngestReport
			for _, path := range args {
				b, err := readBatch(cmd.InOrStdin(), path, format)
				if err != nil {
					return err
				}
				report, err := a.store.IngestProjectComponents(ctx, b.ProjectID, b.SourceURL, b.ComponentInputs())
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				if jsonOutput {
					reports = append(reports, report)
				} else {
					p.IngestReport(path, report)
				}
			}
			if jsonOutput {
				return p.JSON(reports)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output reports as JSON")
	cmd.Flags().StringVar(&format, "format", "yaml", "Format of stdin input: yaml or json")
	return cmd
}

func readBatch(stdin io.Reader, path, format string) (*inbox.Batch, error) {
	if path != "-" {
		return inbox.ReadBatchFile(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	f := inbox.FormatYAML
	switch format {
	case "json":
		f = inbox.FormatJSON
	case "yaml", "yml":
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return inbox.DecodeBatch(data, f)
}
