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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/pkg/ux"
)

const scenarioTree = `
name: scenario
root:
  op: and
  children:
    - {value: T, confidence: 0.9}
    - op: or
      children:
        - {value: U, confidence: 0.5}
        - {value: F, confidence: 0.8}
`

const scenarioReadings = `
readings:
  - {value: T, confidence: 0.8, variance: 0.1}
  - {value: T, confidence: 0.7, variance: 0.2}
  - {value: F, confidence: 0.6, variance: 0.3}
`

// cliEnv points every run at a private checkpoint directory and keeps
// exporters off, since a process can install the prometheus exporter once.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KLEENE_PERSONALITY", "machine")
	t.Setenv("KLEENE_METRIC_EXPORTER", "none")
	t.Setenv("KLEENE_TRACE_EXPORTER", "none")
	t.Setenv("KLEENE_CHECKPOINT_PATH", filepath.Join(dir, "checkpoints"))
	t.Setenv("KLEENE_LOG_LEVEL", "warn")
	return dir
}

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// resetCommands restores every flag to its default and hands ctx to every
// command. Cobra keeps a subcommand's context from its first run.
func resetCommands(ctx context.Context, cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		resetCommands(ctx, sub)
	}
}

// executeCommand runs the CLI with args and returns stdout, stderr and the
// error RunE produced.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeCommandContext(context.Background(), t, args...)
}

func executeCommandContext(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetCommands(ctx, rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		ux.SetOutput(nil, nil)
	})

	err := rootCmd.ExecuteContext(ctx)
	_ = app.close(context.Background())
	return stdout.String(), stderr.String(), err
}
