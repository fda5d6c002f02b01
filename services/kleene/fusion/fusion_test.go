// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fusion

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

func static(t *testing.T, theta float64) *threshold.Static {
	t.Helper()
	cfg := threshold.DefaultConfig()
	cfg.InitialThreshold = theta
	s, err := threshold.NewStatic(cfg)
	require.NoError(t, err)
	return s
}

func adaptive(t *testing.T, theta float64) *threshold.Adaptive {
	t.Helper()
	cfg := threshold.DefaultConfig()
	cfg.InitialThreshold = theta
	a, err := threshold.NewAdaptive(cfg)
	require.NoError(t, err)
	return a
}

func fuse(t *testing.T, ctrl Controller, readings ...Reading) Result {
	t.Helper()
	f, err := NewFuser(ctrl)
	require.NoError(t, err)
	res, err := f.Fuse(context.Background(), readings)
	require.NoError(t, err)
	return res
}

var scenario = []Reading{
	{Value: ternary.True, Confidence: 0.9, Variance: 0.1},
	{Value: ternary.False, Confidence: 0.2, Variance: 0.3},
	{Value: ternary.Unknown, Confidence: 0.5, Variance: 0.5},
}

func TestFuse_ScenarioShortCircuits(t *testing.T) {
	ctrl := adaptive(t, 0.5)
	before := testutil.ToFloat64(shortCircuitsTotal)

	res := fuse(t, ctrl, scenario...)
	assert.Equal(t, ternary.True, res.Value)
	assert.InDelta(t, 0.96, res.Confidence, 1e-9)
	assert.True(t, res.ShortCircuit)
	assert.Equal(t, 3, res.Readings)

	assert.Zero(t, ctrl.Updates(), "short circuit skips adaptation")
	assert.Equal(t, 0.25, ctrl.VarianceThreshold())
	assert.Equal(t, before+1, testutil.ToFloat64(shortCircuitsTotal))
}

func TestFuseReadings(t *testing.T) {
	got := FuseReadings(scenario, 0.5)
	assert.Equal(t, ternary.True, got.Value)
	assert.InDelta(t, 0.96, got.Confidence, 1e-9)

	assert.Equal(t, ternary.Unknowable, FuseReadings(nil, 0.5))
	assert.Equal(t, ternary.Unknowable, FuseReadings(scenario, 0))
}

func TestFuse_Classification(t *testing.T) {
	tests := []struct {
		name     string
		theta    float64
		readings []Reading
		want     ternary.Truth
	}{
		{
			name:  "weighted true",
			theta: 0.5,
			readings: []Reading{
				{Value: ternary.True, Confidence: 0.4, Variance: 0.1},
				{Value: ternary.True, Confidence: 0.45, Variance: 0.1},
			},
			want: ternary.Truth{Value: ternary.True, Confidence: 0.425},
		},
		{
			name:  "weighted false",
			theta: 0.5,
			readings: []Reading{
				{Value: ternary.False, Confidence: 0.9, Variance: 0.1},
				{Value: ternary.False, Confidence: 0.8, Variance: 0.1},
			},
			want: ternary.Truth{Value: ternary.False, Confidence: 0.85},
		},
		{
			name:  "balanced unknown",
			theta: 0.95,
			readings: []Reading{
				{Value: ternary.True, Confidence: 0.9, Variance: 0.2},
				{Value: ternary.False, Confidence: 0.9, Variance: 0.2},
			},
			want: ternary.Truth{Value: ternary.Unknown, Confidence: 0.9},
		},
		{
			name:  "leaning unknown",
			theta: 0.95,
			readings: []Reading{
				{Value: ternary.True, Confidence: 0.8, Variance: 0.1},
				{Value: ternary.False, Confidence: 0.4, Variance: 0.1},
			},
			want: ternary.Truth{Value: ternary.Unknown, Confidence: math.Sqrt(0.32) * (1 - (1.0/3)/0.5)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fuse(t, static(t, tt.theta), tt.readings...)
			assert.False(t, res.ShortCircuit)
			assert.Equal(t, tt.want.Value, res.Value)
			assert.InDelta(t, tt.want.Confidence, res.Confidence, 1e-9)
		})
	}
}

func TestFuse_VarianceWeighting(t *testing.T) {
	res := fuse(t, static(t, 0.6),
		Reading{Value: ternary.True, Confidence: 0.55, Variance: 0},
		Reading{Value: ternary.False, Confidence: 0.55, Variance: 0.9},
	)
	assert.Equal(t, ternary.True, res.Value, "the noisy FALSE reading barely counts")
	assert.Greater(t, res.WeightedAverage, 0.99)
}

func TestFuse_CoercesLowConfidence(t *testing.T) {
	res := fuse(t, static(t, 0.5),
		Reading{Value: ternary.True, Confidence: 0.1, Variance: 0.1},
		Reading{Value: ternary.True, Confidence: 0.1, Variance: 0.1},
	)
	assert.Equal(t, ternary.Unknown, res.Value)
	assert.InDelta(t, 0.1, res.Confidence, 1e-9)
}

func TestFuse_UpdatesController(t *testing.T) {
	ctrl := adaptive(t, 0.5)
	fuse(t, ctrl,
		Reading{Value: ternary.False, Confidence: 0.9, Variance: 0.1},
		Reading{Value: ternary.False, Confidence: 0.8, Variance: 0.1},
	)
	assert.Equal(t, uint64(1), ctrl.Updates())
	assert.Greater(t, ctrl.Threshold(), 0.5)
}

func TestFuse_WidensVarianceThreshold(t *testing.T) {
	ctrl := adaptive(t, 0.95)
	res := fuse(t, ctrl,
		Reading{Value: ternary.True, Confidence: 0.6, Variance: 0.9},
		Reading{Value: ternary.False, Confidence: 0.6, Variance: 0.8},
	)
	assert.True(t, res.Widened)
	assert.InDelta(t, 0.85, res.MeanVariance, 1e-12)
	assert.InDelta(t, 0.275, ctrl.VarianceThreshold(), 1e-12)

	quiet := fuse(t, ctrl,
		Reading{Value: ternary.True, Confidence: 0.6, Variance: 0.1},
		Reading{Value: ternary.False, Confidence: 0.6, Variance: 0.1},
	)
	assert.False(t, quiet.Widened)
	assert.InDelta(t, 0.275, ctrl.VarianceThreshold(), 1e-12)
}

func TestFuse_Errors(t *testing.T) {
	f, err := NewFuser(static(t, 0.5))
	require.NoError(t, err)

	res, err := f.Fuse(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoReadings)
	assert.Equal(t, ternary.Unknowable, res.Truth)

	bad := []Reading{
		{Value: ternary.Value(3), Confidence: 0.5},
		{Value: ternary.True, Confidence: 1.5},
		{Value: ternary.True, Confidence: math.NaN()},
		{Value: ternary.True, Confidence: 0.5, Variance: -1},
		{Value: ternary.True, Confidence: 0.5, Variance: math.Inf(1)},
	}
	for _, r := range bad {
		_, err := f.Fuse(context.Background(), []Reading{scenario[1], r})
		assert.ErrorIs(t, err, ErrInvalidReading, "%+v", r)
	}
}

func TestNewFuser(t *testing.T) {
	_, err := NewFuser(nil)
	assert.ErrorIs(t, err, ErrNilController)

	cfg := DefaultConfig()
	cfg.WideningFactor = 1
	_, err = NewFuser(static(t, 0.5), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
