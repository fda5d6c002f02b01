// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("kleene.eval")
	meter  = otel.Meter("kleene.eval")
)

// Work-stealing counters are process-wide and scraped directly.
var (
	stealsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kleene_eval_steals_total",
		Help: "Nodes taken from another worker's deque",
	})

	stealAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kleene_eval_steal_aborts_total",
		Help: "Steal attempts lost to a concurrent thief or owner",
	})

	dependencyWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kleene_eval_dependency_waits_total",
		Help: "Times a worker found a child result pending",
	})

	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kleene_eval_evaluations_total",
		Help: "Evaluations by mode and status",
	}, []string{"mode", "status"})
)

// instruments holds the OpenTelemetry instruments shared by both evaluators.
type instruments struct {
	once      sync.Once
	duration  metric.Float64Histogram
	nodes     metric.Int64Counter
	threshold metric.Float64Gauge
}

// init lazily creates the instruments. Failures are logged and the
// missing instruments are skipped.
func (m *instruments) init(logger *slog.Logger) {
	m.once.Do(func() {
		var initErrors []string
		var err error

		m.duration, err = meter.Float64Histogram("kleene_eval_duration_seconds",
			metric.WithDescription("Time spent evaluating one tree"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "duration: "+err.Error())
		}

		m.nodes, err = meter.Int64Counter("kleene_eval_nodes_total",
			metric.WithDescription("Tree nodes evaluated"),
		)
		if err != nil {
			initErrors = append(initErrors, "nodes: "+err.Error())
		}

		m.threshold, err = meter.Float64Gauge("kleene_eval_threshold",
			metric.WithDescription("Controller threshold after the last evaluation"),
		)
		if err != nil {
			initErrors = append(initErrors, "threshold: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some evaluator metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// record emits the per-evaluation metrics.
func (m *instruments) record(ctx context.Context, res Result, theta float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", res.Stats.Mode),
		attribute.String("status", res.Status.String()),
	)
	if m.duration != nil {
		m.duration.Record(ctx, res.Stats.Duration.Seconds(), attrs)
	}
	if m.nodes != nil {
		m.nodes.Add(ctx, int64(res.Stats.Evaluated), attrs)
	}
	if m.threshold != nil {
		m.threshold.Record(ctx, theta, metric.WithAttributes(attribute.String("mode", res.Stats.Mode)))
	}
	evaluationsTotal.WithLabelValues(res.Stats.Mode, res.Status.String()).Inc()
}
