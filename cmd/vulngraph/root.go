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
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vulngraph/services/vulngraph/graph"
)

// Exit codes.
const (
	exitSuccess  = 0 // Command completed
	exitFindings = 1 // Lookup found nothing, or --fail-on-findings matched
	exitError    = 2 // Command failed
)

// exitCodeError carries a specific exit code through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitCodeError{code: code, err: err}
}

// exitCode maps a command error to a process exit code. Unknown nodes and
// projects exit with exitFindings.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ce *exitCodeError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, graph.ErrNotFound) {
		return exitFindings
	}
	return exitError
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "vulngraph",
		Short: "Track which vulnerabilities reach your projects",
		Long: `vulngraph keeps a graph of projects, the components they depend on and
the vulnerabilities affecting those components. It answers which
vulnerabilities are reachable from a project, and why, and whether an
upgrade exists that clears them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configPath, "config", "",
		"Config file (default $VULNGRAPH_CONFIG or ~/.vulngraph/config.yaml)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.flags.snapshotPath, "snapshot", "",
		"Snapshot file; selects the file backend")

	root.AddCommand(
		newIngestCmd(a),
		newReachableCmd(a),
		newSubgraphCmd(a),
		newNodeCmd(a),
		newPathCmd(a),
		newUpgradeCmd(a),
		newWatchCmd(a),
	)
	return root
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := newApp(out, errOut)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(err); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		newPrinter(errOut).Error(err)
	}
	return exitCode(err)
}
