// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// capture switches personality and output for one test.
func capture(t *testing.T, level PersonalityLevel) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	orig := GetPersonality()
	var out, errOut bytes.Buffer
	SetPersonalityLevel(level)
	SetOutput(&out, &errOut)
	t.Cleanup(func() {
		SetPersonality(orig)
		SetOutput(nil, nil)
	})
	return &out, &errOut
}

// =============================================================================
// Message Tests
// =============================================================================

func TestMessages_Machine(t *testing.T) {
	out, errOut := capture(t, PersonalityMachine)

	Title("ignored")
	Muted("ignored")
	Success("saved")
	Info("theta 0.5")
	Warning("slow")
	Error("broken")
	Box("Result", "TRUE")

	assert.Equal(t, "OK: saved\ntheta 0.5\nResult: TRUE\n", out.String())
	assert.Equal(t, "WARN: slow\nERROR: broken\n", errOut.String())
}

func TestMessages_Standard(t *testing.T) {
	out, errOut := capture(t, PersonalityStandard)

	Title("Evaluation")
	Success("saved")
	Warning("slow")
	Error("broken")

	s := out.String()
	for _, want := range []string{"Evaluation", "saved", "slow", "broken", string(IconSuccess), string(IconError)} {
		assert.Contains(t, s, want)
	}
	assert.Empty(t, errOut.String())
}

func TestTruth(t *testing.T) {
	capture(t, PersonalityMachine)
	assert.Equal(t, "TRUE", Truth(ternary.True))
	assert.Equal(t, "UNKNOWN", Truth(ternary.Unknown))

	capture(t, PersonalityStandard)
	assert.Contains(t, Truth(ternary.False), "FALSE")
}

// =============================================================================
// Table Tests
// =============================================================================

func TestTable_Machine(t *testing.T) {
	capture(t, PersonalityMachine)

	tbl := NewTable("nodes", "scalar", "parallel").
		Row("100", "1ms", "2ms").
		Row("1000", "9ms")

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "nodes\tscalar\tparallel\n100\t1ms\t2ms\n1000\t9ms\t\n", tbl.Render())
}

func TestTable_StandardAligns(t *testing.T) {
	capture(t, PersonalityStandard)

	tbl := NewTable("n", "result").
		Row("100000", Truth(ternary.True)).
		Row("7", "x")

	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "100000")
	assert.True(t, strings.HasPrefix(lines[3], "7     "), "short cells are padded: %q", lines[3])
}

func TestTable_Print(t *testing.T) {
	out, _ := capture(t, PersonalityMachine)
	NewTable("a").Row("1").Print()
	assert.Equal(t, "a\n1\n", out.String())
}

func TestKeyValue(t *testing.T) {
	out, _ := capture(t, PersonalityMachine)
	KeyValue("threshold", "0.5", "updates", "3", "dangling")
	assert.Equal(t, "threshold\t0.5\nupdates\t3\n", out.String())
}
