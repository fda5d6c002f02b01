// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fusion combines independent (value, confidence, variance)
// readings into one ternary result using the threshold controller.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

var tracer = otel.Tracer("kleene.fusion")

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kleene_fusion_batches_total",
		Help: "Fused reading batches by result value",
	}, []string{"result"})

	shortCircuitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kleene_fusion_short_circuits_total",
		Help: "Batches decided by a confident TRUE reading",
	})
)

// Sentinel errors for the fusion package.
var (
	// ErrNoReadings is returned for an empty batch.
	ErrNoReadings = errors.New("no readings to fuse")

	// ErrInvalidReading is returned when a reading is out of range.
	ErrInvalidReading = errors.New("invalid reading")

	// ErrNilController is returned when no controller is supplied.
	ErrNilController = errors.New("fusion controller must not be nil")

	// ErrInvalidConfig is returned when a Config is out of range.
	ErrInvalidConfig = errors.New("invalid fusion config")
)

// Controller is the threshold controller plus the variance weight table.
// Both *threshold.Adaptive and *threshold.Static satisfy it.
type Controller interface {
	threshold.Controller
	VarianceWeight(variance float64) float64
	VarianceThreshold() float64
	WidenVarianceThreshold(factor float64)
}

// Reading is one source's observation.
type Reading struct {
	Value      ternary.Value `json:"value" yaml:"value"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
	Variance   float64       `json:"variance" yaml:"variance"`
}

// Validate checks the reading's ranges.
func (r Reading) Validate() error {
	if !r.Value.Valid() {
		return fmt.Errorf("%w: value %d", ErrInvalidReading, r.Value)
	}
	if !(r.Confidence >= 0 && r.Confidence <= 1) {
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidReading, r.Confidence)
	}
	if !(r.Variance >= 0) || math.IsInf(r.Variance, 1) {
		return fmt.Errorf("%w: variance %v must be finite and >= 0", ErrInvalidReading, r.Variance)
	}
	return nil
}

// Config tunes classification and variance adaptation.
type Config struct {
	// DecisionBand is the |weighted average| above which the batch is
	// classified TRUE or FALSE.
	// Default: 0.5
	DecisionBand float64 `json:"decision_band" yaml:"decision_band"`

	// WideningRatio triggers widening when mean variance exceeds
	// WideningRatio × the controller's variance threshold.
	// Default: 2
	WideningRatio float64 `json:"widening_ratio" yaml:"widening_ratio"`

	// WideningFactor multiplies the variance threshold when widening.
	// Default: 1.1
	WideningFactor float64 `json:"widening_factor" yaml:"widening_factor"`
}

// DefaultConfig returns the ±0.5 band and 10% widening above 2× threshold.
func DefaultConfig() Config {
	return Config{
		DecisionBand:   0.5,
		WideningRatio:  2,
		WideningFactor: 1.1,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if !(c.DecisionBand > 0 && c.DecisionBand < 1) {
		return fmt.Errorf("%w: decision_band must be in (0, 1)", ErrInvalidConfig)
	}
	if !(c.WideningRatio > 0) {
		return fmt.Errorf("%w: widening_ratio must be > 0", ErrInvalidConfig)
	}
	if !(c.WideningFactor > 1) {
		return fmt.Errorf("%w: widening_factor must be > 1", ErrInvalidConfig)
	}
	return nil
}

// Result is the fused truth plus how it was reached.
type Result struct {
	ternary.Truth

	// ShortCircuit is set when a confident TRUE reading decided the batch.
	ShortCircuit bool `json:"short_circuit"`

	// WeightedAverage is Σ w·c·v / Σ w·c.
	WeightedAverage float64 `json:"weighted_average"`

	// MeanVariance is the batch's average variance.
	MeanVariance float64 `json:"mean_variance"`

	// Widened reports whether the batch asked the controller to widen its
	// variance threshold.
	Widened bool `json:"widened"`

	// Readings is the batch size.
	Readings int `json:"readings"`
}

// Fuser fuses reading batches.
//
// Thread Safety: Safe for concurrent use if the controller is.
type Fuser struct {
	ctrl   Controller
	cfg    Config
	signal threshold.Signal
	logger *slog.Logger
}

// Option configures a Fuser.
type Option func(*Fuser)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fuser) {
		if logger != nil {
			f.logger = logger.With(slog.String("component", "fusion"))
		}
	}
}

// WithSignal replaces the correctness signal fed to the controller.
func WithSignal(signal threshold.Signal) Option {
	return func(f *Fuser) {
		if signal != nil {
			f.signal = signal
		}
	}
}

// WithConfig replaces the default Config.
func WithConfig(cfg Config) Option {
	return func(f *Fuser) { f.cfg = cfg }
}

// NewFuser creates a fuser around ctrl.
func NewFuser(ctrl Controller, opts ...Option) (*Fuser, error) {
	if ctrl == nil {
		return nil, ErrNilController
	}
	f := &Fuser{
		ctrl:   ctrl,
		cfg:    DefaultConfig(),
		signal: threshold.NonUnknown,
		logger: slog.Default().With(slog.String("component", "fusion")),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Fuse combines readings into one truth.
//
// Description:
//
//	Each reading gets a weight from the controller's variance table. If
//	any reading is TRUE with confidence >= θ the batch short-circuits to
//	TRUE with the OR-confidence of every reading, and the controller is
//	left untouched. Otherwise the weighted average value is classified
//	against ±DecisionBand: TRUE and FALSE carry the weighted mean
//	confidence, UNKNOWN carries the geometric mean confidence scaled by
//	how close the average sits to zero. The result is coerced, fed to the
//	controller, and the variance threshold widens when the batch is
//	persistently noisier than WideningRatio × threshold.
//
// Inputs:
//   - ctx: Used for tracing.
//   - readings: At least one valid reading.
//
// Outputs:
//   - Result: Always a usable truth; UNKNOWN with zero confidence on error.
//   - error: ErrNoReadings or ErrInvalidReading.
func (f *Fuser) Fuse(ctx context.Context, readings []Reading) (Result, error) {
	ctx, span := tracer.Start(ctx, "fusion.Fuse",
		trace.WithAttributes(attribute.Int("fusion.readings", len(readings))),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, f.logger)

	res, err := f.fuse(readings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("fusion rejected batch",
			slog.Int("readings", len(readings)),
			slog.String("error", err.Error()),
		)
		return Result{Truth: ternary.Unknowable, Readings: len(readings)}, err
	}

	span.SetAttributes(
		attribute.String("fusion.result", res.Value.String()),
		attribute.Float64("fusion.confidence", res.Confidence),
		attribute.Bool("fusion.short_circuit", res.ShortCircuit),
		attribute.Bool("fusion.widened", res.Widened),
	)
	span.SetStatus(codes.Ok, "")
	batchesTotal.WithLabelValues(res.Value.String()).Inc()
	if res.ShortCircuit {
		shortCircuitsTotal.Inc()
	}
	logger.Debug("fused readings",
		slog.Int("readings", res.Readings),
		slog.String("result", res.Truth.String()),
		slog.Float64("weighted_average", res.WeightedAverage),
		slog.Bool("short_circuit", res.ShortCircuit),
	)
	return res, nil
}

func (f *Fuser) fuse(readings []Reading) (Result, error) {
	if len(readings) == 0 {
		return Result{}, ErrNoReadings
	}
	for i, r := range readings {
		if err := r.Validate(); err != nil {
			return Result{}, fmt.Errorf("reading %d: %w", i, err)
		}
	}

	theta := f.ctrl.Threshold()
	var (
		sumWCV, sumWC, sumW float64
		sumVariance, sumLog float64
		orConfidence        float64
		decisive            bool
	)
	for _, r := range readings {
		w := f.ctrl.VarianceWeight(r.Variance)
		sumWCV += w * r.Confidence * float64(r.Value)
		sumWC += w * r.Confidence
		sumW += w
		sumVariance += r.Variance
		sumLog += math.Log(r.Confidence)
		orConfidence = ternary.OrConfidence(orConfidence, r.Confidence)
		if r.Value == ternary.True && r.Confidence >= theta {
			decisive = true
		}
	}

	n := float64(len(readings))
	res := Result{Readings: len(readings), MeanVariance: sumVariance / n}
	if sumWC > 0 {
		res.WeightedAverage = sumWCV / sumWC
	}

	if decisive {
		res.Truth = ternary.Truth{Value: ternary.True, Confidence: orConfidence}
		res.ShortCircuit = true
		return res, nil
	}

	var raw ternary.Truth
	band := f.cfg.DecisionBand
	switch avg := res.WeightedAverage; {
	case avg > band:
		raw = ternary.Truth{Value: ternary.True, Confidence: safeRatio(sumWC, sumW)}
	case avg < -band:
		raw = ternary.Truth{Value: ternary.False, Confidence: safeRatio(sumWC, sumW)}
	default:
		// math.Exp(-Inf) is 0, so a zero-confidence reading zeroes the mean.
		geoMean := math.Exp(sumLog / n)
		raw = ternary.Truth{Value: ternary.Unknown, Confidence: geoMean * (1 - math.Abs(avg)/band)}
	}
	raw.Confidence = ternary.Clamp01(raw.Confidence)

	res.Truth = ternary.Truth{
		Value:      f.ctrl.Coerce(raw.Value, raw.Confidence),
		Confidence: raw.Confidence,
	}
	f.ctrl.Update(f.signal(res.Truth))

	if res.MeanVariance > f.cfg.WideningRatio*f.ctrl.VarianceThreshold() {
		f.ctrl.WidenVarianceThreshold(f.cfg.WideningFactor)
		res.Widened = true
	}
	return res, nil
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// FuseReadings fuses readings with a fresh adaptive controller at θ.
// It returns UNKNOWN with zero confidence on any error.
func FuseReadings(readings []Reading, theta float64) ternary.Truth {
	cfg := threshold.DefaultConfig()
	cfg.InitialThreshold = theta
	ctrl, err := threshold.NewAdaptive(cfg)
	if err != nil {
		return ternary.Unknowable
	}
	f, err := NewFuser(ctrl)
	if err != nil {
		return ternary.Unknowable
	}
	res, err := f.Fuse(context.Background(), readings)
	if err != nil {
		return ternary.Unknowable
	}
	return res.Truth
}
