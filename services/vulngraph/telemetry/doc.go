// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry for vulngraph.
//
// Packages record spans and metrics through otel.Tracer and otel.Meter.
// Until Init runs those are no-ops, so libraries and tests work without
// any setup. The CLI calls Init once, at startup, with the exporters named
// in its configuration.
//
// # Exporters
//
// Traces: "stdout" (pretty JSON to the configured writer), "otlp" (gRPC to
// an OTLP receiver such as Jaeger), or "none".
//
// Metrics: "stdout", "prometheus" (served by MetricsHandler), or "none".
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: none)
//   - VULNGRAPH_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
