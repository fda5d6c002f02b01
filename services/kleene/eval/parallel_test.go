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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

func newParallel(t *testing.T, ctrl threshold.Controller, workers int) *Parallel {
	t.Helper()
	cfg := DefaultParallelConfig()
	cfg.Workers = workers
	p, err := NewParallel(ctrl, cfg)
	require.NoError(t, err)
	return p
}

func TestDefaultParallelConfig(t *testing.T) {
	cfg := DefaultParallelConfig()
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, 1024, cfg.DequeCapacity)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestParallelConfig_Validate(t *testing.T) {
	cfg := DefaultParallelConfig()
	cfg.Workers = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidWorkers)

	cfg = DefaultParallelConfig()
	cfg.Timeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultParallelConfig()
	cfg.Backoff.SleepInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestParallel_Scenario(t *testing.T) {
	for _, workers := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := newParallel(t, staticController(t, 0.5), workers)
			res, err := p.Evaluate(context.Background(), scenarioTree(t))
			require.NoError(t, err)
			assert.Equal(t, StatusOK, res.Status)
			assert.Equal(t, ternary.Unknown, res.Value)
			assert.InDelta(t, 0.81, res.Confidence, 1e-9)
			assert.Equal(t, 5, res.Stats.Evaluated)
			assert.Equal(t, 2, res.Stats.Updates)
			assert.Len(t, res.Stats.Workers, workers)
		})
	}
}

func TestEvaluateParallel(t *testing.T) {
	assert.Equal(t, ternary.Unknown, EvaluateParallel(scenarioTree(t), 0.5, 4))
	assert.Equal(t, ternary.Unknown, EvaluateParallel(nil, 0.5, 4))
	assert.Equal(t, ternary.Unknown, EvaluateParallel(scenarioTree(t), 0.5, 0))

	tr := binaryTree(t, ternary.OpAnd, truth(ternary.True, 0.9), truth(ternary.True, 0.9))
	assert.Equal(t, ternary.True, EvaluateParallel(tr, 0.5, 2))
}

func TestParallel_MatchesScalar(t *testing.T) {
	for seed := uint64(1); seed <= 4; seed++ {
		base := randomTree(t, seed, 2000)

		scalarTree := base.Clone()
		s, err := NewScalar(staticController(t, 0.5))
		require.NoError(t, err)
		want, err := s.Evaluate(context.Background(), scalarTree)
		require.NoError(t, err)

		for _, workers := range []int{1, 2, 4, 8} {
			t.Run(fmt.Sprintf("seed=%d/workers=%d", seed, workers), func(t *testing.T) {
				parallelTree := base.Clone()
				p := newParallel(t, staticController(t, 0.5), workers)
				got, err := p.Evaluate(context.Background(), parallelTree)
				require.NoError(t, err)

				assert.Equal(t, want.Truth, got.Truth)
				if diff := cmp.Diff(snapshot(scalarTree), snapshot(parallelTree)); diff != "" {
					t.Errorf("node results differ (-scalar +parallel):\n%s", diff)
				}
				assert.Equal(t, 2000, got.Stats.Evaluated)
				assert.Equal(t, internalCount(base), got.Stats.Updates)
			})
		}
	}
}

func TestParallel_Liveness(t *testing.T) {
	workerCounts := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if testing.Short() {
		workerCounts = []int{1, 4, 16}
	}
	for _, workers := range workerCounts {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			tr := randomTree(t, uint64(100+workers), 10000)
			p := newParallel(t, adaptiveController(t, 0.5), workers)

			res, err := p.Evaluate(context.Background(), tr)
			require.NoError(t, err)
			assert.Equal(t, StatusOK, res.Status)
			assert.Equal(t, 10000, res.Stats.Evaluated)
			assert.Less(t, res.Stats.Duration, DefaultTimeout)

			sum := 0
			for _, ws := range res.Stats.Workers {
				sum += ws.Evaluated
			}
			assert.Equal(t, res.Stats.Evaluated, sum)
		})
	}
}

func TestParallel_LeafRoot(t *testing.T) {
	tr := tree.New(1)
	require.NoError(t, tr.SetRoot(tr.Leaf(ternary.False, 0.4)))

	p := newParallel(t, staticController(t, 0.5), 3)
	res, err := p.Evaluate(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, truth(ternary.False, 0.4), res.Truth)
}

func TestParallel_Invalid(t *testing.T) {
	_, err := NewParallel(nil, DefaultParallelConfig())
	assert.ErrorIs(t, err, ErrNilController)

	cfg := DefaultParallelConfig()
	cfg.Workers = 0
	_, err = NewParallel(staticController(t, 0.5), cfg)
	assert.ErrorIs(t, err, ErrInvalidWorkers)

	p := newParallel(t, staticController(t, 0.5), 2)
	res, err := p.Evaluate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilTree)
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, ternary.Unknowable, res.Truth)

	rootless := tree.New(2)
	rootless.Leaf(ternary.True, 1)
	_, err = p.Evaluate(context.Background(), rootless)
	assert.ErrorIs(t, err, ErrNilTree)
}

func TestParallel_Timeout(t *testing.T) {
	ctrl := slowController{Controller: staticController(t, 0.5), delay: 2 * time.Millisecond}
	cfg := DefaultParallelConfig()
	cfg.Workers = 2
	cfg.Timeout = 40 * time.Millisecond
	p, err := NewParallel(ctrl, cfg)
	require.NoError(t, err)

	tr := randomTree(t, 42, 400)
	res, err := p.Evaluate(context.Background(), tr)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, ternary.Unknowable, res.Truth)
	assert.Less(t, res.Stats.Evaluated, 400)

	root := tr.At(tr.Root())
	assert.Equal(t, ternary.Unknowable, root.Truth(), "unfinished nodes are written back as UNKNOWN")
}

func TestParallel_Cancelled(t *testing.T) {
	ctrl := slowController{Controller: staticController(t, 0.5), delay: 2 * time.Millisecond}
	p := newParallel(t, ctrl, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := p.Evaluate(ctx, randomTree(t, 43, 400))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, ternary.Unknown, res.Value)
}

func TestParallel_WorkerPanic(t *testing.T) {
	p := newParallel(t, panicController{Controller: staticController(t, 0.5)}, 4)

	res, err := p.Evaluate(context.Background(), scenarioTree(t))
	require.ErrorIs(t, err, ErrWorkerPanic)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ternary.Unknowable, res.Truth)
}

func TestParallel_ReEvaluateAfterReset(t *testing.T) {
	tr := randomTree(t, 77, 500)
	p := newParallel(t, staticController(t, 0.5), 4)

	first, err := p.Evaluate(context.Background(), tr)
	require.NoError(t, err)
	firstNodes := snapshot(tr)

	tr.Reset()
	second, err := p.Evaluate(context.Background(), tr)
	require.NoError(t, err)

	assert.Equal(t, first.Truth, second.Truth)
	assert.Equal(t, firstNodes, snapshot(tr))
}

func TestParallel_StealCounterMatchesStats(t *testing.T) {
	before := testutil.ToFloat64(stealsTotal)
	waitsBefore := testutil.ToFloat64(dependencyWaitsTotal)

	p := newParallel(t, staticController(t, 0.5), 8)
	res, err := p.Evaluate(context.Background(), randomTree(t, 5, 3000))
	require.NoError(t, err)

	assert.Equal(t, before+float64(res.Stats.Steals), testutil.ToFloat64(stealsTotal))
	assert.Equal(t, waitsBefore+float64(res.Stats.Waits), testutil.ToFloat64(dependencyWaitsTotal))

	okRuns := testutil.ToFloat64(evaluationsTotal.WithLabelValues("parallel", "ok"))
	assert.GreaterOrEqual(t, okRuns, 1.0)
}
