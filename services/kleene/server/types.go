// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

// EvalResponse is the response for POST /v1/eval.
type EvalResponse struct {
	// Value is TRUE, FALSE or UNKNOWN.
	Value string `json:"value"`

	// Confidence is the root confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Status is ok, invalid, timeout, cancelled or failed.
	Status string `json:"status"`

	// Threshold is θ after the evaluation.
	Threshold float64 `json:"threshold"`

	Stats eval.Stats `json:"stats"`
}

// FuseResponse is the response for POST /v1/fuse.
type FuseResponse struct {
	Value           string  `json:"value"`
	Confidence      float64 `json:"confidence"`
	ShortCircuit    bool    `json:"short_circuit"`
	WeightedAverage float64 `json:"weighted_average"`
	MeanVariance    float64 `json:"mean_variance"`
	Widened         bool    `json:"widened"`
	Readings        int     `json:"readings"`
	Threshold       float64 `json:"threshold"`
}

// ThresholdResponse is the response for GET /v1/threshold.
type ThresholdResponse struct {
	// Adaptive is false for a fixed controller; State is then omitted.
	Adaptive bool `json:"adaptive"`

	Threshold         float64          `json:"threshold"`
	VarianceThreshold float64          `json:"variance_threshold"`
	State             *threshold.State `json:"state,omitempty"`
}

// CheckpointRequest is the body for POST /v1/threshold/checkpoints and
// POST /v1/threshold/restore.
type CheckpointRequest struct {
	// Name is the checkpoint name. Empty uses the server default.
	Name string `json:"name" binding:"omitempty,max=128"`
}

// CheckpointResponse describes a saved or restored checkpoint.
type CheckpointResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt string          `json:"created_at"`
	State     threshold.State `json:"state"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	// Status is "healthy".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`
}
