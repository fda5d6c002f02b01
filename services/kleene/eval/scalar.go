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
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

// cancelCheckInterval is how many nodes the scalar evaluator visits
// between context checks.
const cancelCheckInterval = 1024

// Scalar evaluates a tree on the calling goroutine.
//
// Thread Safety:
//
//	A Scalar may be shared, but two evaluations must not run on the same
//	tree at once. The controller is shared state and is updated in place.
type Scalar struct {
	ctrl    threshold.Controller
	signal  threshold.Signal
	logger  *slog.Logger
	metrics instruments
}

// NewScalar creates a scalar evaluator.
//
// Inputs:
//   - ctrl: Threshold controller. Must not be nil.
//   - opts: WithLogger, WithSignal.
//
// Outputs:
//   - *Scalar: Ready evaluator.
//   - error: ErrNilController if ctrl is nil.
func NewScalar(ctrl threshold.Controller, opts ...Option) (*Scalar, error) {
	if ctrl == nil {
		return nil, ErrNilController
	}
	o := applyOptions(opts, "eval.scalar")
	return &Scalar{ctrl: ctrl, signal: o.signal, logger: o.logger}, nil
}

// Evaluate computes the root's truth in post-order.
//
// Description:
//
//	Every child is evaluated before its parent, including children whose
//	result an early exit makes irrelevant, so every reachable internal node
//	ends up holding a result. Each internal result is coerced and fed to
//	the controller, then written into the node.
//
// Inputs:
//   - ctx: Context for cancellation. Checked periodically.
//   - t: Tree with a root.
//
// Outputs:
//   - Result: Root truth, StatusOK on success. Always a usable truth.
//   - error: ErrNilTree, or the context error on cancellation.
func (s *Scalar) Evaluate(ctx context.Context, t *tree.Tree) (Result, error) {
	if t == nil || t.Root() == tree.NoNode {
		return invalidResult("scalar"), ErrNilTree
	}
	s.metrics.init(s.logger)

	sessionID := uuid.NewString()[:12]
	ctx, span := tracer.Start(ctx, "eval.Scalar",
		trace.WithAttributes(
			attribute.String("eval.session_id", sessionID),
			attribute.Int("eval.arena_nodes", t.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	w := scalarWalk{s: s, t: t, ctx: ctx}
	root, err := w.visit(t.Root())

	logger := telemetry.LoggerWithSession(ctx, s.logger, sessionID)
	res := Result{
		Truth:  root,
		Status: StatusOK,
		Stats: Stats{
			SessionID: sessionID,
			Mode:      "scalar",
			Nodes:     w.visited,
			Evaluated: w.visited,
			Updates:   w.updates,
			Duration:  time.Since(start),
		},
	}
	if err != nil {
		res.Truth = ternary.Unknowable
		res.Status = StatusCancelled
		span.RecordError(err)
		span.SetStatus(codes.Error, "context canceled")
		logger.Warn("scalar evaluation cancelled",
			slog.Int("visited", w.visited),
			slog.String("error", err.Error()),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Debug("scalar evaluation completed",
			slog.String("result", root.String()),
			slog.Int("nodes", w.visited),
			slog.Duration("duration", res.Stats.Duration),
		)
	}
	span.SetAttributes(
		attribute.String("eval.result", res.Value.String()),
		attribute.Float64("eval.confidence", res.Confidence),
		attribute.Int("eval.nodes", w.visited),
	)
	s.metrics.record(ctx, res, s.ctrl.Threshold())
	return res, err
}

type scalarWalk struct {
	s       *Scalar
	t       *tree.Tree
	ctx     context.Context
	visited int
	updates int
}

func (w *scalarWalk) visit(id tree.NodeID) (ternary.Truth, error) {
	w.visited++
	if w.visited%cancelCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			return ternary.Unknowable, err
		}
	}

	n := w.t.At(id)
	if n.IsLeaf() {
		return n.Truth(), nil
	}

	left, err := w.visit(n.Left)
	if err != nil {
		return ternary.Unknowable, err
	}
	right := ternary.Unknowable
	if n.Right != tree.NoNode {
		if right, err = w.visit(n.Right); err != nil {
			return ternary.Unknowable, err
		}
	}

	raw := combine(n.Op, left, right, w.s.ctrl.Threshold())
	res := settle(w.s.ctrl, w.s.signal, raw)
	w.updates++
	w.t.SetResult(id, res)
	return res, nil
}

// EvaluateScalar evaluates t on the calling goroutine with a fresh
// adaptive controller at the given threshold.
//
// It returns UNKNOWN when t is nil or rootless, or when theta is
// outside (0, 1).
func EvaluateScalar(t *tree.Tree, theta float64) ternary.Value {
	cfg := threshold.DefaultConfig()
	cfg.InitialThreshold = theta
	ctrl, err := threshold.NewAdaptive(cfg)
	if err != nil {
		return ternary.Unknown
	}
	s, err := NewScalar(ctrl)
	if err != nil {
		return ternary.Unknown
	}
	res, _ := s.Evaluate(context.Background(), t)
	return res.Value
}
