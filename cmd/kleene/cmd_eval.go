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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kleene/services/kleene/document"
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

var (
	evalParallel     bool
	evalWorkers      int
	evalTimeout      time.Duration
	evalCheckpoint   string
	evalJSONOutput   bool
	evalWriteResults string
)

var evalCmd = &cobra.Command{
	Use:   "eval TREE",
	Short: "Evaluate an expression tree document",
	Long: `Evaluate the expression tree in a YAML or JSON document.

The scalar evaluator walks the tree on one goroutine. --parallel uses the
work-stealing evaluator, which returns UNKNOWN with zero confidence if the
root is not ready within --timeout.

With --checkpoint, an adaptive controller is restored from the named
checkpoint before evaluation and saved back afterwards.

Examples:
  kleene eval policy.yaml
  kleene eval big.yaml --parallel --workers 8 --timeout 2s
  kleene eval policy.yaml --checkpoint prod --json
  kleene eval policy.yaml --write-results evaluated.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().BoolVar(&evalParallel, "parallel", false, "Use the work-stealing evaluator")
	evalCmd.Flags().IntVar(&evalWorkers, "workers", 0, "Parallel workers (0 uses the configured count)")
	evalCmd.Flags().DurationVar(&evalTimeout, "timeout", 0, "Parallel timeout (0 uses the configured timeout)")
	evalCmd.Flags().StringVar(&evalCheckpoint, "checkpoint", "", "Restore and save the controller under this checkpoint name")
	evalCmd.Flags().BoolVar(&evalJSONOutput, "json", false, "Print the result as JSON")
	evalCmd.Flags().StringVar(&evalWriteResults, "write-results", "", "Write the tree with every node's result to this file")
}

func runEval(cmd *cobra.Command, args []string) error {
	t, err := document.LoadTree(args[0])
	if err != nil {
		return NewCommandError("eval", ExitBadInput, err)
	}

	ctrl, err := app.controller()
	if err != nil {
		return NewCommandError("eval", ExitBadInput, err)
	}

	var evaluator treeEvaluator
	if evalParallel {
		pc := app.cfg.ToParallelConfig()
		if evalWorkers > 0 {
			pc.Workers = evalWorkers
		}
		if evalTimeout > 0 {
			pc.Timeout = evalTimeout
		}
		evaluator, err = eval.NewParallel(ctrl, pc, eval.WithLogger(app.logger))
	} else {
		evaluator, err = eval.NewScalar(ctrl, eval.WithLogger(app.logger))
	}
	if err != nil {
		return NewCommandError("eval", ExitBadInput, err)
	}

	var (
		res     eval.Result
		evalErr error
	)
	err = app.withPersistence(cmd.Context(), evalCheckpoint, ctrl, func() error {
		res, evalErr = evaluator.Evaluate(cmd.Context(), t)
		return nil
	})
	if err != nil {
		return NewCommandError("eval", ExitFailure, err)
	}

	if evalJSONOutput {
		if err := printJSON(newEvalOutput(res, ctrl.Threshold())); err != nil {
			return err
		}
	} else {
		printEvalResult(res, ctrl.Threshold())
	}

	if evalWriteResults != "" {
		if err := writeResults(evalWriteResults, t); err != nil {
			return NewCommandError("eval", ExitFailure, err)
		}
	}
	return NewCommandError("eval", ExitEvaluation, evalErr)
}

// treeEvaluator is satisfied by *eval.Scalar and *eval.Parallel.
type treeEvaluator interface {
	Evaluate(ctx context.Context, t *tree.Tree) (eval.Result, error)
}

func writeResults(path string, t *tree.Tree) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := document.EncodeTree(f, t, document.WithResults()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
