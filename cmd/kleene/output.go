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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/AleutianAI/kleene/pkg/ux"
	"github.com/AleutianAI/kleene/services/kleene/checkpoint"
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/fusion"
)

// evalOutput is the --json form of an evaluation.
type evalOutput struct {
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Status     string     `json:"status"`
	Threshold  float64    `json:"threshold"`
	Stats      eval.Stats `json:"stats"`
}

func newEvalOutput(res eval.Result, theta float64) evalOutput {
	return evalOutput{
		Value:      res.Value.String(),
		Confidence: res.Confidence,
		Status:     res.Status.String(),
		Threshold:  theta,
		Stats:      res.Stats,
	}
}

// fuseOutput is the --json form of a fusion.
type fuseOutput struct {
	fusion.Result
	Threshold float64 `json:"threshold"`
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	ux.Info(string(data))
	return nil
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 3, 64)
}

func printEvalResult(res eval.Result, theta float64) {
	ux.Box("Result", ux.Truth(res.Value)+"  confidence "+formatConfidence(res.Confidence))

	pairs := []string{
		"status", res.Status.String(),
		"mode", res.Stats.Mode,
		"nodes", strconv.Itoa(res.Stats.Nodes),
		"evaluated", strconv.Itoa(res.Stats.Evaluated),
		"threshold", formatConfidence(theta),
		"updates", strconv.Itoa(res.Stats.Updates),
	}
	if res.Stats.Mode == "parallel" {
		pairs = append(pairs,
			"workers", strconv.Itoa(len(res.Stats.Workers)),
			"steals", strconv.Itoa(res.Stats.Steals),
			"waits", strconv.Itoa(res.Stats.Waits),
		)
	}
	if ux.GetPersonality().ShowTimings {
		pairs = append(pairs, "duration", res.Stats.Duration.String())
	}
	ux.KeyValue(pairs...)
}

func printFuseResult(res fusion.Result, theta float64) {
	ux.Box("Fused", ux.Truth(res.Value)+"  confidence "+formatConfidence(res.Confidence))
	ux.KeyValue(
		"readings", strconv.Itoa(res.Readings),
		"short circuit", strconv.FormatBool(res.ShortCircuit),
		"weighted average", formatConfidence(res.WeightedAverage),
		"mean variance", formatConfidence(res.MeanVariance),
		"widened", strconv.FormatBool(res.Widened),
		"threshold", formatConfidence(theta),
	)
}

func printCheckpoint(cp checkpoint.Checkpoint) {
	ux.Title("Checkpoint " + cp.Name)
	st := cp.State
	ux.KeyValue(
		"id", cp.ID,
		"created", cp.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		"threshold", formatConfidence(st.Threshold),
		"alpha", strconv.FormatFloat(st.Alpha, 'g', 6, 64),
		"beta", strconv.FormatFloat(st.Beta, 'g', 6, 64),
		"steepness", strconv.FormatFloat(st.Steepness, 'g', 6, 64),
		"variance threshold", formatConfidence(st.VarianceThreshold),
		"enabled", strconv.FormatBool(st.Enabled),
		"updates", strconv.FormatUint(st.Updates, 10),
	)
}
