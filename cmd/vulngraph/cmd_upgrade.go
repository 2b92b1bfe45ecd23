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
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/vulngraph/services/vulngraph/upgrade"
)

func newUpgradeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Check whether upgrades can clear vulnerabilities",
	}
	cmd.AddCommand(newUpgradeCheckCmd(a), newUpgradeBatchCmd(a))
	return cmd
}

func newUpgradeCheckCmd(a *app) *cobra.Command {
	var (
		record     upgrade.VulnerabilityRecord
		versions   []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check one component for a feasible upgrade",
		Long: `Check whether COMPONENT can be upgraded from its current version.

With --fixed the advisory's fixed version decides. Otherwise the newest
published version wins, taken from --versions or, without it, from the
configured registries.

Examples:
  vulngraph upgrade check --component lodash --current 4.17.15 --fixed 4.17.21
  vulngraph upgrade check --component requests --current 2.25.0
  vulngraph upgrade check --component c --current 1.0.0 --versions 1.0.1,2.0.0-rc1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result upgrade.Feasibility
			if cmd.Flags().Changed("versions") {
				result = upgrade.CheckFeasibility(record, versions)
			} else {
				source, err := a.versionSource()
				if err != nil {
					return err
				}
				result = a.resolver(source).Resolve(cmd.Context(), record)
			}

			p := newPrinter(cmd.OutOrStdout())
			if jsonOutput {
				return p.JSON(result)
			}
			p.Feasibility(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&record.Component, "component", "", "Component name")
	cmd.Flags().StringVar(&record.CurrentVersion, "current", "", "Installed version")
	cmd.Flags().StringVar(&record.FixedVersion, "fixed", "", "Version the advisory says fixes the issue")
	cmd.Flags().StringSliceVar(&versions, "versions", nil, "Available versions; skips the registries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("component")
	_ = cmd.MarkFlagRequired("current")
	return cmd
}

func newUpgradeBatchCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Check a list of vulnerability records",
		Long: `Check every record in FILE, a YAML or JSON list of
{id, component, current_version, fixed_version}. Records are resolved
concurrently; results keep the file's order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readUpgradeRecords(args[0])
			if err != nil {
				return err
			}
			source, err := a.versionSource()
			if err != nil {
				return err
			}
			results, err := a.resolver(source).CheckAll(cmd.Context(), records)
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			if jsonOutput {
				return p.JSON(results)
			}
			for _, r := range results {
				p.Feasibility(r)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

var recordValidator = validator.New()

// readUpgradeRecords decodes and validates a record list. JSON is read by
// the YAML decoder.
func readUpgradeRecords(path string) ([]upgrade.VulnerabilityRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	var records []upgrade.VulnerabilityRecord
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var problems []string
	for i, r := range records {
		if err := recordValidator.Struct(r); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					problems = append(problems, fmt.Sprintf("record %d: %s is %s", i, fe.Field(), fe.Tag()))
				}
				continue
			}
			return nil, err
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s: %s", path, strings.Join(problems, "; "))
	}
	return records, nil
}
