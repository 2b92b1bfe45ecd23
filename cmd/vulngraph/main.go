// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command vulngraph tracks which vulnerabilities reach which projects
// through their dependency graphs.
//
// Usage:
//
//	vulngraph ingest batches/web.yaml
//	vulngraph reachable web --filter 'severity_rank >= 3'
//	vulngraph subgraph web --depth 2 --d3
//	vulngraph node component:requests@2.25.0
//	vulngraph upgrade check --component requests --current 2.25.0
//	vulngraph watch --dir ~/.vulngraph/inbox --metrics-addr :9464
//
// Configuration is read from --config, $VULNGRAPH_CONFIG or
// ~/.vulngraph/config.yaml, in that order.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
