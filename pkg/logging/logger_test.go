// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Console: &buf, Service: "kleene"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Slog().Info("hidden")
	logger.Slog().Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "service=kleene")
	assert.Empty(t, logger.Path())
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Console: &buf})
	require.NoError(t, err)

	logger.Slog().Info("evaluated", "nodes", 5)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "evaluated", rec["msg"])
	assert.Equal(t, float64(5), rec["nodes"])
}

func TestNew_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer

	logger, err := New(Config{
		Level:   "debug",
		Console: &buf,
		Dir:     filepath.Join(dir, "logs"),
		Service: "kleene",
		Now:     func() time.Time { return day },
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "kleene_2025-03-14.log"), logger.Path())

	logger.Slog().With("session_id", "abc").Debug("both destinations")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	assert.Contains(t, buf.String(), "both destinations")

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "both destinations", rec["msg"])
	assert.Equal(t, "abc", rec["session_id"])
	assert.Equal(t, "kleene", rec["service"])
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	logger, err := New(Config{Quiet: true})
	require.NoError(t, err)
	logger.Slog().Error("nowhere")
	assert.NoError(t, logger.Close())
}

func TestNew_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := New(Config{Dir: filepath.Join(file, "logs")})
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".kleene/logs"), expandPath("~/.kleene/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative", expandPath("relative"))
}
