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
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/kleene/services/kleene/eval/backoff"
	"github.com/AleutianAI/kleene/services/kleene/eval/deque"
	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

// DefaultTimeout bounds the wait for the root result.
const DefaultTimeout = 5 * time.Second

// ParallelConfig configures the work-stealing evaluator.
type ParallelConfig struct {
	// Workers is the number of goroutines per evaluation.
	// Default: runtime.GOMAXPROCS(0)
	Workers int `json:"workers" yaml:"workers"`

	// DequeCapacity is the capacity of each worker's deque. The seeded
	// deque grows to the next power of two that holds the whole tree.
	// Default: 1024
	DequeCapacity int `json:"deque_capacity" yaml:"deque_capacity"`

	// Timeout bounds the wait for the root result.
	// Default: 5s
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Backoff governs dependency waits and contended steals.
	Backoff backoff.Policy `json:"backoff" yaml:"backoff"`
}

// DefaultParallelConfig returns one worker per processor and a 5s timeout.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Workers:       runtime.GOMAXPROCS(0),
		DequeCapacity: deque.DefaultCapacity,
		Timeout:       DefaultTimeout,
		Backoff:       backoff.DefaultPolicy(),
	}
}

// Validate checks that the configuration is usable.
func (c ParallelConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Workers)
	}
	if c.DequeCapacity < 1 {
		return fmt.Errorf("%w: deque_capacity must be >= 1", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Parallel evaluates a tree on a pool of work-stealing goroutines.
//
// Description:
//
//	Each Evaluate call starts cfg.Workers goroutines with one deque each,
//	seeds worker 0 with every reachable node, and joins all workers before
//	returning. Workers pop their own deque, steal from the others when it
//	runs dry, and wait with backoff on children that are still pending.
//
// Thread Safety:
//
//	A Parallel may be shared, but two evaluations must not run on the same
//	tree at once. The controller is shared by all workers.
type Parallel struct {
	cfg     ParallelConfig
	ctrl    threshold.Controller
	signal  threshold.Signal
	logger  *slog.Logger
	metrics instruments

	// waitLog throttles the dependency-wait debug line.
	waitLog rate.Sometimes
}

// NewParallel creates a parallel evaluator.
//
// Inputs:
//   - ctrl: Threshold controller. Must not be nil.
//   - cfg: Pool configuration. Must pass Validate.
//   - opts: WithLogger, WithSignal.
//
// Outputs:
//   - *Parallel: Ready evaluator.
//   - error: ErrNilController, ErrInvalidWorkers or ErrInvalidConfig.
func NewParallel(ctrl threshold.Controller, cfg ParallelConfig, opts ...Option) (*Parallel, error) {
	if ctrl == nil {
		return nil, ErrNilController
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts, "eval.parallel")
	return &Parallel{
		cfg:     cfg,
		ctrl:    ctrl,
		signal:  o.signal,
		logger:  o.logger,
		waitLog: rate.Sometimes{First: 1, Interval: time.Second},
	}, nil
}

// Config returns the evaluator's configuration.
func (p *Parallel) Config() ParallelConfig { return p.cfg }

// Evaluate computes the root's truth with the worker pool.
//
// Description:
//
//	Metadata is recomputed, then the post-order enumeration is pushed onto
//	worker 0's deque in reverse so that its bottom pops come out children
//	first. The caller waits for the root result, ctx cancellation, or the
//	timeout. On timeout or cancellation the termination flag is raised and
//	every worker is joined before returning. Slots are then copied into
//	the tree; nodes that never got a result become UNKNOWN with zero
//	confidence.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - t: Tree with a root.
//
// Outputs:
//   - Result: Root truth and statistics. Always a usable truth.
//   - error: ErrNilTree, ErrTimeout, ErrWorkerPanic, ErrIncomplete or
//     the context error.
func (p *Parallel) Evaluate(ctx context.Context, t *tree.Tree) (Result, error) {
	if t == nil || t.Root() == tree.NoNode {
		return invalidResult("parallel"), ErrNilTree
	}
	meta, err := t.ComputeMetadata()
	if err != nil {
		return invalidResult("parallel"), fmt.Errorf("%w: %w", ErrNilTree, err)
	}
	p.metrics.init(p.logger)

	sessionID := uuid.NewString()[:12]
	ctx, span := tracer.Start(ctx, "eval.Parallel",
		trace.WithAttributes(
			attribute.String("eval.session_id", sessionID),
			attribute.Int("eval.nodes", meta.Nodes),
			attribute.Int("eval.height", meta.Height),
			attribute.Int("eval.workers", p.cfg.Workers),
		),
	)
	defer span.End()

	start := time.Now()
	r := p.newRun(t, meta)

	var g errgroup.Group
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error { return r.work(i) })
	}

	joined := make(chan struct{})
	var workerErr error
	go func() {
		workerErr = g.Wait()
		close(joined)
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	status := StatusOK
	var evalErr error
	select {
	case <-r.rootDone:
	case <-joined:
	case <-ctx.Done():
		status, evalErr = StatusCancelled, ctx.Err()
	case <-timer.C:
		status, evalErr = StatusTimeout, ErrTimeout
	}
	if status != StatusOK {
		r.done.Store(true)
	}
	<-joined

	if workerErr != nil {
		status, evalErr = StatusFailed, workerErr
	}
	root := r.slots[t.Root()].Load()
	if status == StatusOK && root == nil {
		status, evalErr = StatusFailed, ErrIncomplete
	}

	res := Result{Truth: ternary.Unknowable, Status: status, Stats: r.stats(sessionID, time.Since(start))}
	if status == StatusOK {
		res.Truth = *root
	}
	r.writeBack()

	p.finish(ctx, span, res, evalErr)
	return res, evalErr
}

func (p *Parallel) finish(ctx context.Context, span trace.Span, res Result, err error) {
	stealsTotal.Add(float64(res.Stats.Steals))
	stealAbortsTotal.Add(float64(res.Stats.StealAborts))
	dependencyWaitsTotal.Add(float64(res.Stats.Waits))

	span.SetAttributes(
		attribute.String("eval.status", res.Status.String()),
		attribute.String("eval.result", res.Value.String()),
		attribute.Float64("eval.confidence", res.Confidence),
		attribute.Int("eval.steals", res.Stats.Steals),
		attribute.Int("eval.waits", res.Stats.Waits),
	)

	logger := telemetry.LoggerWithSession(ctx, p.logger, res.Stats.SessionID)
	attrs := []any{
		slog.String("status", res.Status.String()),
		slog.Int("workers", len(res.Stats.Workers)),
		slog.Int("evaluated", res.Stats.Evaluated),
		slog.Int("steals", res.Stats.Steals),
		slog.Duration("duration", res.Stats.Duration),
	}
	switch res.Status {
	case StatusOK:
		span.SetStatus(codes.Ok, "")
		logger.Info("parallel evaluation completed",
			append(attrs, slog.String("result", res.Truth.String()))...)
	case StatusFailed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("parallel evaluation failed",
			append(attrs, slog.String("error", err.Error()))...)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("parallel evaluation abandoned",
			append(attrs, slog.String("error", err.Error()))...)
	}

	p.metrics.record(ctx, res, p.ctrl.Threshold())
}

// EvaluateParallel evaluates t with threads workers and a fresh adaptive
// controller at the given threshold.
//
// It returns UNKNOWN when t is nil or rootless, threads < 1, theta is
// outside (0, 1), or the evaluation times out.
func EvaluateParallel(t *tree.Tree, theta float64, threads int) ternary.Value {
	cfg := threshold.DefaultConfig()
	cfg.InitialThreshold = theta
	ctrl, err := threshold.NewAdaptive(cfg)
	if err != nil {
		return ternary.Unknown
	}
	pc := DefaultParallelConfig()
	pc.Workers = threads
	p, err := NewParallel(ctrl, pc)
	if err != nil {
		return ternary.Unknown
	}
	res, _ := p.Evaluate(context.Background(), t)
	return res.Value
}

// ---- Run state ----

// run is the shared state of one Evaluate call.
type run struct {
	p    *Parallel
	t    *tree.Tree
	root tree.NodeID

	deques []*deque.Deque
	slots  []atomic.Pointer[ternary.Truth]
	counts []*WorkerStats

	// done is the termination flag every loop iteration polls.
	done atomic.Bool
	// active counts workers that have not yet found every deque empty.
	active atomic.Int32

	rootDone chan struct{}
}

func (p *Parallel) newRun(t *tree.Tree, meta tree.Metadata) *run {
	r := &run{
		p:        p,
		t:        t,
		root:     t.Root(),
		deques:   make([]*deque.Deque, p.cfg.Workers),
		slots:    make([]atomic.Pointer[ternary.Truth], t.Len()),
		counts:   make([]*WorkerStats, p.cfg.Workers),
		rootDone: make(chan struct{}),
	}
	for i := range r.deques {
		r.counts[i] = &WorkerStats{}
		capacity := p.cfg.DequeCapacity
		if i == 0 {
			capacity = max(capacity, deque.NextPowerOfTwo(meta.Nodes))
		}
		r.deques[i] = deque.New(capacity)
	}
	r.active.Store(int32(p.cfg.Workers))

	order := t.PostOrder()
	for i := len(order) - 1; i >= 0; i-- {
		// Capacity covers the whole tree, so Push cannot fail here.
		r.deques[0].Push(order[i])
	}
	return r
}

// work is one worker's loop.
func (r *run) work(id int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.done.Store(true)
			err = fmt.Errorf("%w: worker %d: %v", ErrWorkerPanic, id, rec)
		}
	}()

	ws := r.counts[id]
	contended := r.p.cfg.Backoff.Waiter()
	for !r.done.Load() {
		nid, ok := r.deques[id].Pop()
		if !ok {
			var aborted bool
			nid, ok, aborted = r.steal(id, ws)
			if !ok && aborted {
				contended.Wait()
				continue
			}
		}
		if !ok {
			break
		}
		contended.Reset()
		if !r.evaluate(nid, ws) {
			break
		}
	}

	if r.active.Add(-1) == 0 {
		r.done.Store(true)
	}
	return nil
}

// steal tries every other deque once, starting after the caller's own.
func (r *run) steal(self int, ws *WorkerStats) (tree.NodeID, bool, bool) {
	aborted := false
	n := len(r.deques)
	for k := 1; k < n; k++ {
		victim := (self + k) % n
		nid, res := r.deques[victim].Steal()
		switch res {
		case deque.Success:
			ws.Steals++
			return nid, true, false
		case deque.Abort:
			ws.StealAborts++
			aborted = true
		}
	}
	return tree.NoNode, false, aborted
}

// evaluate produces and publishes one node's result. It returns false if
// a dependency wait was aborted by termination.
func (r *run) evaluate(id tree.NodeID, ws *WorkerStats) bool {
	n := r.t.At(id)
	if n.IsLeaf() {
		r.publish(id, n.Truth(), ws)
		return true
	}

	left, ok := r.await(id, n.Left, ws)
	if !ok {
		return false
	}

	ctrl := r.p.ctrl
	raw, decided := earlyExit(n.Op, left, ctrl.Threshold())
	if !decided {
		right := ternary.Unknowable
		if n.Right != tree.NoNode {
			if right, ok = r.await(id, n.Right, ws); !ok {
				return false
			}
		}
		raw = ternary.Apply(n.Op, left, right)
	}

	r.publish(id, settle(ctrl, r.p.signal, raw), ws)
	ws.Updates++
	return true
}

func (r *run) publish(id tree.NodeID, res ternary.Truth, ws *WorkerStats) {
	r.slots[id].Store(&res)
	ws.Evaluated++
	if id == r.root {
		close(r.rootDone)
	}
}

// await returns the child's result, waiting with backoff while it is
// pending. It returns false if termination was raised first.
func (r *run) await(parent, child tree.NodeID, ws *WorkerStats) (ternary.Truth, bool) {
	slot := &r.slots[child]
	if v := slot.Load(); v != nil {
		return *v, true
	}

	ws.Waits++
	r.p.waitLog.Do(func() {
		r.p.logger.Debug("waiting on dependency",
			slog.Int("parent", int(parent)),
			slog.Int("child", int(child)),
		)
	})

	policy := r.p.cfg.Backoff
	w := policy.Waiter()
	if r.t.At(child).Hot {
		w = policy.WaiterSkipSpin()
	}
	var v *ternary.Truth
	ready := w.Until(func() bool {
		v = slot.Load()
		return v != nil
	}, r.done.Load)
	ws.WaitSteps += w.Attempts()
	if !ready {
		return ternary.Unknowable, false
	}
	return *v, true
}

func (r *run) stats(sessionID string, d time.Duration) Stats {
	s := Stats{
		SessionID: sessionID,
		Mode:      "parallel",
		Nodes:     r.t.Metadata().Nodes,
		Workers:   make([]WorkerStats, len(r.counts)),
		Duration:  d,
	}
	for i, ws := range r.counts {
		s.Workers[i] = *ws
		s.Evaluated += ws.Evaluated
		s.Steals += ws.Steals
		s.StealAborts += ws.StealAborts
		s.Waits += ws.Waits
		s.Updates += ws.Updates
	}
	return s
}

// writeBack copies published results into internal nodes. Must run after
// every worker has been joined.
func (r *run) writeBack() {
	for _, id := range r.t.PostOrder() {
		if r.t.At(id).IsLeaf() {
			continue
		}
		if v := r.slots[id].Load(); v != nil {
			r.t.SetResult(id, *v)
		} else {
			r.t.SetResult(id, ternary.Unknowable)
		}
	}
}
