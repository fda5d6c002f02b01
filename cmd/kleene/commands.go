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
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfigPath  string
	flagLogLevel    string
	flagLogFormat   string
	flagTrace       string
	flagPersonality string
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "kleene",
	Short: "Three-valued logic evaluation with adaptive confidence",
	Long: `kleene evaluates expression trees over Kleene's strong three-valued
logic (TRUE, FALSE, UNKNOWN), carrying a confidence with every value, and
fuses noisy sensor readings into a single truth.

A threshold controller decides when confidence is too low to commit to
TRUE or FALSE. In adaptive mode it learns from every decision and its
state can be checkpointed between runs.

Configuration priority: environment (KLEENE_*) > --config file > defaults.

Examples:
  kleene eval policy.yaml
  kleene eval big.yaml --parallel --workers 8
  kleene fuse readings.yaml --checkpoint door-sensor
  kleene bench --sizes 1000,100000 --metrics-addr :9090
  kleene threshold show
  kleene serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "Path to a YAML or JSON config file")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&flagTrace, "trace", "", "Trace exporter: none, otlp, stdout")
	pf.StringVar(&flagPersonality, "output", "", "Output style: standard, minimal, machine")

	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(fuseCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(serveCmd)
}
