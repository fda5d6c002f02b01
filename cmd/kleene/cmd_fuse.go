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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/kleene/services/kleene/document"
	"github.com/AleutianAI/kleene/services/kleene/fusion"
)

var (
	fuseCheckpoint string
	fuseJSONOutput bool
)

var fuseCmd = &cobra.Command{
	Use:   "fuse READINGS...",
	Short: "Fuse sensor readings into one truth",
	Long: `Fuse each readings document into a single value with confidence.

Each file is one batch. Readings are weighted by the controller's variance
curve; a TRUE reading at or above the threshold decides the batch on its
own. Batches run in order against the same controller, so in adaptive mode
later batches see the threshold earlier ones produced.

Examples:
  kleene fuse readings.yaml
  kleene fuse morning.yaml noon.yaml --checkpoint door-sensor
  kleene fuse readings.yaml --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFuse,
}

func init() {
	fuseCmd.Flags().StringVar(&fuseCheckpoint, "checkpoint", "", "Restore and save the controller under this checkpoint name")
	fuseCmd.Flags().BoolVar(&fuseJSONOutput, "json", false, "Print each result as JSON")
}

func runFuse(cmd *cobra.Command, args []string) error {
	batches := make([][]fusion.Reading, len(args))
	for i, path := range args {
		readings, err := document.LoadReadings(path)
		if err != nil {
			return NewCommandError("fuse", ExitBadInput, err)
		}
		batches[i] = readings
	}

	ctrl, err := app.controller()
	if err != nil {
		return NewCommandError("fuse", ExitBadInput, err)
	}
	fuser, err := fusion.NewFuser(ctrl,
		fusion.WithConfig(app.cfg.ToFusionConfig()),
		fusion.WithLogger(app.logger),
	)
	if err != nil {
		return NewCommandError("fuse", ExitBadInput, err)
	}

	return app.withPersistence(cmd.Context(), fuseCheckpoint, ctrl, func() error {
		for _, readings := range batches {
			res, err := fuser.Fuse(cmd.Context(), readings)
			if err != nil {
				return NewCommandError("fuse", ExitBadInput, err)
			}
			if fuseJSONOutput {
				if err := printJSON(fuseOutput{Result: res, Threshold: ctrl.Threshold()}); err != nil {
					return err
				}
				continue
			}
			printFuseResult(res, ctrl.Threshold())
		}
		return nil
	})
}
