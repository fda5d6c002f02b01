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
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	goruntime "runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kleene/pkg/ux"
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/server"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

// confidenceTolerance bounds scalar/parallel confidence disagreement.
const confidenceTolerance = 1e-9

// ErrMismatch is returned when the two evaluators disagree.
var ErrMismatch = errors.New("scalar and parallel results differ")

var (
	benchSizes       string
	benchTrees       int
	benchSeed        uint64
	benchWorkers     int
	benchMetricsAddr string
	benchHold        time.Duration
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare scalar and parallel evaluation on random trees",
	Long: `Generate random trees, evaluate each with both evaluators and check
that they agree.

Both runs use a static controller so the threshold cannot drift between
them. Trees are generated concurrently from --seed, so a run is
reproducible.

With --metrics-addr the evaluator metrics are served on /metrics while the
benchmark runs, and for --hold afterwards.

Examples:
  kleene bench
  kleene bench --sizes 1000,100000 --trees 5 --workers 8
  kleene bench --metrics-addr :9090 --hold 30s`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchSizes, "sizes", "1000,10000,100000", "Comma-separated tree sizes")
	benchCmd.Flags().IntVar(&benchTrees, "trees", 3, "Trees per size")
	benchCmd.Flags().Uint64Var(&benchSeed, "seed", 1, "Random seed")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 0, "Parallel workers (0 uses the configured count)")
	benchCmd.Flags().StringVar(&benchMetricsAddr, "metrics-addr", "", "Serve /metrics on this address while running")
	benchCmd.Flags().DurationVar(&benchHold, "hold", 0, "Keep serving metrics this long after the run")
}

// benchRow is one size's aggregate.
type benchRow struct {
	Size     int
	Trees    int
	Scalar   time.Duration
	Parallel time.Duration
	Steals   int
	Waits    int
}

func (r benchRow) speedup() float64 {
	if r.Parallel <= 0 {
		return 0
	}
	return float64(r.Scalar) / float64(r.Parallel)
}

func parseSizes(s string) ([]int, error) {
	var sizes []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid size %q", field)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, errors.New("no sizes given")
	}
	return sizes, nil
}

// generateTrees builds count trees of n nodes concurrently. Tree i is
// seeded from (seed, i) so results do not depend on scheduling.
func generateTrees(ctx context.Context, seed uint64, n, count int) ([]*tree.Tree, error) {
	trees := make([]*tree.Tree, count)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.GOMAXPROCS(0))
	for i := range count {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seed^uint64(n), uint64(i)))
			t, err := tree.Random(rng, n, tree.DefaultRandomOptions())
			if err != nil {
				return err
			}
			trees[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trees, nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	sizes, err := parseSizes(benchSizes)
	if err != nil {
		return NewCommandError("bench", ExitBadInput, err)
	}
	if benchTrees < 1 {
		return NewCommandError("bench", ExitBadInput, fmt.Errorf("--trees must be >= 1, got %d", benchTrees))
	}

	ctrl, err := threshold.NewStatic(app.cfg.ToControllerConfig())
	if err != nil {
		return NewCommandError("bench", ExitBadInput, err)
	}
	pc := app.cfg.ToParallelConfig()
	if benchWorkers > 0 {
		pc.Workers = benchWorkers
	}
	scalar, err := eval.NewScalar(ctrl, eval.WithLogger(app.logger))
	if err != nil {
		return NewCommandError("bench", ExitBadInput, err)
	}
	parallel, err := eval.NewParallel(ctrl, pc, eval.WithLogger(app.logger))
	if err != nil {
		return NewCommandError("bench", ExitBadInput, err)
	}

	stopMetrics, err := startMetrics(ctx, benchMetricsAddr)
	if err != nil {
		return NewCommandError("bench", ExitFailure, err)
	}
	defer stopMetrics()

	progress := ux.NewProgressSpinner("evaluating trees", len(sizes)*benchTrees)
	progress.Start()
	defer progress.Stop()

	table := ux.NewTable("size", "trees", "scalar", "parallel", "speedup", "steals", "waits")
	for _, n := range sizes {
		row, err := benchSize(ctx, scalar, parallel, n, progress)
		if err != nil {
			return NewCommandError("bench", ExitEvaluation, err)
		}
		table.Row(
			strconv.Itoa(row.Size),
			strconv.Itoa(row.Trees),
			row.Scalar.Round(time.Microsecond).String(),
			row.Parallel.Round(time.Microsecond).String(),
			strconv.FormatFloat(row.speedup(), 'f', 2, 64)+"x",
			strconv.Itoa(row.Steals),
			strconv.Itoa(row.Waits),
		)
	}

	progress.Stop()

	ux.Title(fmt.Sprintf("Scalar vs parallel (%d workers)", pc.Workers))
	table.Print()
	ux.Success("all results match")

	if benchMetricsAddr != "" && benchHold > 0 {
		app.logger.Info("holding metrics endpoint", slog.Duration("hold", benchHold))
		select {
		case <-time.After(benchHold):
		case <-ctx.Done():
		}
	}
	return nil
}

func benchSize(ctx context.Context, scalar *eval.Scalar, parallel *eval.Parallel, n int, progress *ux.ProgressSpinner) (benchRow, error) {
	trees, err := generateTrees(ctx, benchSeed, n, benchTrees)
	if err != nil {
		return benchRow{}, fmt.Errorf("generate trees of size %d: %w", n, err)
	}

	row := benchRow{Size: n, Trees: len(trees)}
	for i, base := range trees {
		want, err := scalar.Evaluate(ctx, base.Clone())
		if err != nil {
			return row, fmt.Errorf("scalar, size %d tree %d: %w", n, i, err)
		}
		got, err := parallel.Evaluate(ctx, base.Clone())
		if err != nil {
			return row, fmt.Errorf("parallel, size %d tree %d: %w", n, i, err)
		}
		if want.Value != got.Value || math.Abs(want.Confidence-got.Confidence) > confidenceTolerance {
			return row, fmt.Errorf("%w: size %d tree %d: scalar %s@%g, parallel %s@%g",
				ErrMismatch, n, i, want.Value, want.Confidence, got.Value, got.Confidence)
		}
		row.Scalar += want.Stats.Duration
		row.Parallel += got.Stats.Duration
		row.Steals += got.Stats.Steals
		row.Waits += got.Stats.Waits
		progress.Increment()
	}
	return row, nil
}

// startMetrics serves /metrics on addr until the returned func is called.
// An empty addr is a no-op.
func startMetrics(ctx context.Context, addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	srv, err := server.Listen(addr, server.NewRouter(app.cfg.Telemetry.ServiceName, nil), app.logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			app.logger.Warn("metrics server", slog.String("error", err.Error()))
		}
	}()
	ux.Muted("metrics on http://" + srv.Addr() + "/metrics")
	return func() {
		cancel()
		<-done
	}, nil
}
