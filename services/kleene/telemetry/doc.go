// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry providers and slog loggers for
// the kleene evaluators.
//
// The evaluator packages only use the OTel API (otel.Tracer, otel.Meter)
// and promauto counters. Nothing is exported until Init installs real
// providers, so library users who never call Init pay for no-op spans only.
//
// # Exporters
//
// Traces go to OTLP over gRPC, to stdout, or nowhere. Metrics go through
// the Prometheus exporter into the default registry, so MetricsHandler
// serves both the OTel instruments and the promauto counters, or to
// stdout on a periodic reader.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	logger := telemetry.NewLogger("info", "json", os.Stderr)
//
// # Environment Variables
//
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - KLEENE_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
