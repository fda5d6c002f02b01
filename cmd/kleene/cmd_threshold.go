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
	"errors"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kleene/pkg/ux"
	"github.com/AleutianAI/kleene/services/kleene/checkpoint"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

var (
	thresholdName string
	thresholdJSON bool
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Inspect and manage controller checkpoints",
	Long: `Inspect and manage saved adaptive controller state.

Checkpoints live in the badger database at checkpoint.path. Without
--name the configured checkpoint.name is used.

Examples:
  kleene threshold show
  kleene threshold show --name door-sensor --json
  kleene threshold list
  kleene threshold reset --name door-sensor
  kleene threshold delete door-sensor`,
}

var thresholdShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runThresholdShow,
}

var thresholdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints",
	Args:  cobra.NoArgs,
	RunE:  runThresholdList,
}

var thresholdResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Overwrite a checkpoint with the configured prior",
	Args:  cobra.NoArgs,
	RunE:  runThresholdReset,
}

var thresholdDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runThresholdDelete,
}

func init() {
	thresholdCmd.PersistentFlags().StringVar(&thresholdName, "name", "", "Checkpoint name (default from config)")
	thresholdShowCmd.Flags().BoolVar(&thresholdJSON, "json", false, "Print the checkpoint as JSON")
	thresholdListCmd.Flags().BoolVar(&thresholdJSON, "json", false, "Print checkpoints as JSON")

	thresholdCmd.AddCommand(thresholdShowCmd)
	thresholdCmd.AddCommand(thresholdListCmd)
	thresholdCmd.AddCommand(thresholdResetCmd)
	thresholdCmd.AddCommand(thresholdDeleteCmd)
}

func checkpointName() string {
	if thresholdName != "" {
		return thresholdName
	}
	return app.cfg.Checkpoint.Name
}

// withStore opens the checkpoint store for the duration of fn.
func withStore(fn func(*checkpoint.Store) error) error {
	store, closeStore, err := app.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			app.logger.Warn("close checkpoint store", slog.String("error", cerr.Error()))
		}
	}()
	return fn(store)
}

func checkpointExit(cmdName string, err error) error {
	switch {
	case errors.Is(err, checkpoint.ErrInvalidName), errors.Is(err, checkpoint.ErrNotFound):
		return NewCommandError(cmdName, ExitBadInput, err)
	default:
		return NewCommandError(cmdName, ExitFailure, err)
	}
}

func runThresholdShow(cmd *cobra.Command, _ []string) error {
	err := withStore(func(store *checkpoint.Store) error {
		cp, err := store.Load(cmd.Context(), checkpointName())
		if err != nil {
			return err
		}
		if thresholdJSON {
			return printJSON(cp)
		}
		printCheckpoint(cp)
		return nil
	})
	return checkpointExit("threshold show", err)
}

func runThresholdList(cmd *cobra.Command, _ []string) error {
	err := withStore(func(store *checkpoint.Store) error {
		cps, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if thresholdJSON {
			return printJSON(cps)
		}
		if len(cps) == 0 {
			ux.Muted("no checkpoints")
			return nil
		}
		table := ux.NewTable("name", "threshold", "variance", "updates", "created")
		for _, cp := range cps {
			table.Row(
				cp.Name,
				formatConfidence(cp.State.Threshold),
				formatConfidence(cp.State.VarianceThreshold),
				strconv.FormatUint(cp.State.Updates, 10),
				cp.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		table.Print()
		return nil
	})
	return checkpointExit("threshold list", err)
}

func runThresholdReset(cmd *cobra.Command, _ []string) error {
	ctrl, err := threshold.NewAdaptive(app.cfg.ToControllerConfig())
	if err != nil {
		return NewCommandError("threshold reset", ExitBadInput, err)
	}
	err = withStore(func(store *checkpoint.Store) error {
		cp, err := store.SaveController(cmd.Context(), checkpointName(), ctrl)
		if err != nil {
			return err
		}
		ux.Success("reset " + cp.Name + " to threshold " + formatConfidence(cp.State.Threshold))
		return nil
	})
	return checkpointExit("threshold reset", err)
}

func runThresholdDelete(cmd *cobra.Command, args []string) error {
	err := withStore(func(store *checkpoint.Store) error {
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		ux.Success("deleted " + args[0])
		return nil
	})
	return checkpointExit("threshold delete", err)
}
