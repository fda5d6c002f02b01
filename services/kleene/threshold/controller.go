// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package threshold

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// TableSize is the number of samples in each interpolation table.
const TableSize = 101

const (
	// smoothing is the weight kept by the old θ on every update.
	smoothing = 0.9

	// coercionCutoff is the coercion strength above which a value is forced to UNKNOWN.
	coercionCutoff = 0.8

	// maxVarianceThreshold bounds WidenVarianceThreshold.
	maxVarianceThreshold = 1.0
)

// Sentinel errors for the threshold package.
var (
	// ErrInvalidConfig is returned when a controller configuration is out of range.
	ErrInvalidConfig = errors.New("invalid threshold config")

	// ErrInvalidState is returned when a restored state is inconsistent.
	ErrInvalidState = errors.New("invalid threshold state")
)

// Controller decides coercion and absorbs the correctness signal.
//
// Implementations must be safe for concurrent use by many evaluator workers.
type Controller interface {
	// Threshold returns the current decision threshold θ.
	Threshold() float64

	// Coerce returns v, or UNKNOWN when confidence is judged too low.
	Coerce(v ternary.Value, confidence float64) ternary.Value

	// Update feeds one correctness observation into the controller.
	Update(decisionWasNonUnknown bool)
}

// Signal maps an evaluated result to the correctness bit given to Update.
type Signal func(result ternary.Truth) bool

// NonUnknown is the default Signal: a decision counts as correct when it
// is not UNKNOWN. There is no ground truth at the evaluator layer, so
// callers with real supervision should inject their own Signal.
func NonUnknown(result ternary.Truth) bool {
	return result.Value != ternary.Unknown
}

// Config configures an Adaptive controller.
type Config struct {
	// InitialThreshold is θ at construction. Must be in (0, 1).
	InitialThreshold float64 `json:"initial_threshold" yaml:"initial_threshold"`

	// PriorStrength is α+β at construction. Must be > 0.
	PriorStrength float64 `json:"prior_strength" yaml:"prior_strength"`

	// Steepness is the coercion sigmoid steepness k. Must be > 0.
	Steepness float64 `json:"steepness" yaml:"steepness"`

	// VarianceThreshold is the variance at which a fusion weight drops to 0.5.
	VarianceThreshold float64 `json:"variance_threshold" yaml:"variance_threshold"`

	// VarianceSteepness is the steepness of the variance weight curve.
	VarianceSteepness float64 `json:"variance_steepness" yaml:"variance_steepness"`

	// Enabled turns coercion and adaptation on.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns θ=0.5 with a weak prior and coercion enabled.
func DefaultConfig() Config {
	return Config{
		InitialThreshold:  0.5,
		PriorStrength:     2,
		Steepness:         10,
		VarianceThreshold: 0.25,
		VarianceSteepness: 10,
		Enabled:           true,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if !(c.InitialThreshold > 0 && c.InitialThreshold < 1) {
		return fmt.Errorf("%w: initial_threshold %v must be in (0, 1)", ErrInvalidConfig, c.InitialThreshold)
	}
	if !(c.PriorStrength > 0) {
		return fmt.Errorf("%w: prior_strength must be > 0", ErrInvalidConfig)
	}
	if !(c.Steepness > 0) {
		return fmt.Errorf("%w: steepness must be > 0", ErrInvalidConfig)
	}
	if !(c.VarianceThreshold > 0 && c.VarianceThreshold <= maxVarianceThreshold) {
		return fmt.Errorf("%w: variance_threshold %v must be in (0, 1]", ErrInvalidConfig, c.VarianceThreshold)
	}
	if !(c.VarianceSteepness > 0) {
		return fmt.Errorf("%w: variance_steepness must be > 0", ErrInvalidConfig)
	}
	return nil
}

// State is a point-in-time copy of an Adaptive controller, used for
// checkpoints and inspection.
type State struct {
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	Alpha             float64 `json:"alpha" yaml:"alpha"`
	Beta              float64 `json:"beta" yaml:"beta"`
	Steepness         float64 `json:"steepness" yaml:"steepness"`
	Midpoint          float64 `json:"midpoint" yaml:"midpoint"`
	VarianceThreshold float64 `json:"variance_threshold" yaml:"variance_threshold"`
	VarianceSteepness float64 `json:"variance_steepness" yaml:"variance_steepness"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	Updates           uint64  `json:"updates" yaml:"updates"`
}

// Validate checks that a state can be restored.
func (s State) Validate() error {
	if !(s.Threshold > 0 && s.Threshold < 1) {
		return fmt.Errorf("%w: threshold %v", ErrInvalidState, s.Threshold)
	}
	if !(s.Alpha > 0) || !(s.Beta > 0) {
		return fmt.Errorf("%w: alpha and beta must be > 0", ErrInvalidState)
	}
	if !(s.Steepness > 0) || !(s.VarianceSteepness > 0) {
		return fmt.Errorf("%w: steepness must be > 0", ErrInvalidState)
	}
	if !(s.VarianceThreshold > 0 && s.VarianceThreshold <= maxVarianceThreshold) {
		return fmt.Errorf("%w: variance_threshold %v", ErrInvalidState, s.VarianceThreshold)
	}
	return nil
}

// snapshot is immutable once published.
type snapshot struct {
	theta             float64
	varianceThreshold float64
	coercion          [TableSize]float64
	variance          [TableSize]float64
}

func newSnapshot(theta, steepness, varianceThreshold, varianceSteepness float64) *snapshot {
	s := &snapshot{theta: theta, varianceThreshold: varianceThreshold}
	for i := range s.coercion {
		x := float64(i) / float64(TableSize-1)
		s.coercion[i] = 1 / (1 + math.Exp(-steepness*(x-theta)))
		s.variance[i] = 1 / (1 + math.Exp(varianceSteepness*(x-varianceThreshold)))
	}
	return s
}

// interpolate samples table at x in [0, 1] by linear interpolation
// between the two adjacent entries.
func interpolate(table *[TableSize]float64, x float64) float64 {
	x = ternary.Clamp01(x)
	pos := x * float64(TableSize-1)
	i := int(pos)
	if i >= TableSize-1 {
		return table[TableSize-1]
	}
	frac := pos - float64(i)
	return table[i] + frac*(table[i+1]-table[i])
}

func coerce(s *snapshot, v ternary.Value, confidence float64) ternary.Value {
	if v == ternary.Unknown || confidence >= s.theta {
		return v
	}
	strength := 1 - interpolate(&s.coercion, confidence)
	if strength > coercionCutoff {
		coercionsTotal.Inc()
		return ternary.Unknown
	}
	return v
}

// Adaptive is the online-adapted controller.
//
// Thread Safety: Safe for concurrent use.
type Adaptive struct {
	mu                sync.Mutex
	alpha             float64
	beta              float64
	steepness         float64
	varianceSteepness float64

	updates atomic.Uint64
	enabled atomic.Bool
	snap    atomic.Pointer[snapshot]

	logger *slog.Logger
}

// NewAdaptive creates an adaptive controller.
//
// Inputs:
//   - cfg: Controller configuration. Must pass Validate.
//
// Outputs:
//   - *Adaptive: Ready to use controller.
//   - error: Non-nil if cfg is invalid.
func NewAdaptive(cfg Config) (*Adaptive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adaptive{
		alpha:             cfg.InitialThreshold * cfg.PriorStrength,
		beta:              (1 - cfg.InitialThreshold) * cfg.PriorStrength,
		steepness:         cfg.Steepness,
		varianceSteepness: cfg.VarianceSteepness,
		logger:            slog.Default().With(slog.String("component", "threshold")),
	}
	a.enabled.Store(cfg.Enabled)
	a.snap.Store(newSnapshot(cfg.InitialThreshold, cfg.Steepness, cfg.VarianceThreshold, cfg.VarianceSteepness))
	return a, nil
}

// NewDisabled returns an adaptive controller at θ with coercion and
// adaptation switched off. It panics only if theta is outside (0, 1).
func NewDisabled(theta float64) *Adaptive {
	cfg := DefaultConfig()
	cfg.InitialThreshold = theta
	cfg.Enabled = false
	a, err := NewAdaptive(cfg)
	if err != nil {
		panic(err)
	}
	return a
}

// WithLogger sets the logger.
func (a *Adaptive) WithLogger(logger *slog.Logger) *Adaptive {
	if logger != nil {
		a.logger = logger.With(slog.String("component", "threshold"))
	}
	return a
}

// Threshold returns the current θ.
func (a *Adaptive) Threshold() float64 {
	return a.snap.Load().theta
}

// Enabled reports whether coercion and adaptation are active.
func (a *Adaptive) Enabled() bool {
	return a.enabled.Load()
}

// SetEnabled switches coercion and adaptation on or off.
func (a *Adaptive) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// Updates returns the number of applied updates.
func (a *Adaptive) Updates() uint64 {
	return a.updates.Load()
}

// Coerce implements Controller.
func (a *Adaptive) Coerce(v ternary.Value, confidence float64) ternary.Value {
	if !a.enabled.Load() {
		return v
	}
	return coerce(a.snap.Load(), v, confidence)
}

// Update implements Controller. It is a no-op while disabled.
func (a *Adaptive) Update(decisionWasNonUnknown bool) {
	if !a.enabled.Load() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if decisionWasNonUnknown {
		a.alpha++
		updatesTotal.WithLabelValues("known").Inc()
	} else {
		a.beta++
		updatesTotal.WithLabelValues("unknown").Inc()
	}

	prev := a.snap.Load()
	target := a.alpha / (a.alpha + a.beta)
	theta := smoothing*prev.theta + (1-smoothing)*target
	a.snap.Store(newSnapshot(theta, a.steepness, prev.varianceThreshold, a.varianceSteepness))
	a.updates.Add(1)
}

// VarianceThreshold returns the current variance threshold.
func (a *Adaptive) VarianceThreshold() float64 {
	return a.snap.Load().varianceThreshold
}

// VarianceWeight maps a reading variance to a weight in (0, 1).
// Variances above 1 use the last table entry.
func (a *Adaptive) VarianceWeight(variance float64) float64 {
	return interpolate(&a.snap.Load().variance, variance)
}

// WidenVarianceThreshold multiplies the variance threshold by factor
// (capped at 1) and rebuilds the variance table. Factors <= 1 are ignored.
func (a *Adaptive) WidenVarianceThreshold(factor float64) {
	if !(factor > 1) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.snap.Load()
	widened := math.Min(prev.varianceThreshold*factor, maxVarianceThreshold)
	if widened == prev.varianceThreshold {
		return
	}
	a.snap.Store(newSnapshot(prev.theta, a.steepness, widened, a.varianceSteepness))
	varianceWideningsTotal.Inc()

	a.logger.Debug("variance threshold widened",
		slog.Float64("from", prev.varianceThreshold),
		slog.Float64("to", widened))
}

// State returns a consistent copy of the controller state.
func (a *Adaptive) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.snap.Load()
	return State{
		Threshold:         s.theta,
		Alpha:             a.alpha,
		Beta:              a.beta,
		Steepness:         a.steepness,
		Midpoint:          s.theta,
		VarianceThreshold: s.varianceThreshold,
		VarianceSteepness: a.varianceSteepness,
		Enabled:           a.enabled.Load(),
		Updates:           a.updates.Load(),
	}
}

// Restore replaces the controller state.
//
// Outputs:
//   - error: Non-nil if st fails validation; the controller is unchanged.
func (a *Adaptive) Restore(st State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.alpha = st.Alpha
	a.beta = st.Beta
	a.steepness = st.Steepness
	a.varianceSteepness = st.VarianceSteepness
	a.updates.Store(st.Updates)
	a.enabled.Store(st.Enabled)
	a.snap.Store(newSnapshot(st.Threshold, st.Steepness, st.VarianceThreshold, st.VarianceSteepness))

	a.logger.Info("threshold state restored",
		slog.Float64("threshold", st.Threshold),
		slog.Uint64("updates", st.Updates))
	return nil
}

// Static is a fixed controller: it coerces with the same rule as Adaptive
// but never adapts.
//
// Thread Safety: Safe for concurrent use (immutable).
type Static struct {
	snap *snapshot
}

// NewStatic creates a fixed controller from cfg. cfg.Enabled is ignored.
func NewStatic(cfg Config) (*Static, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Static{snap: newSnapshot(cfg.InitialThreshold, cfg.Steepness, cfg.VarianceThreshold, cfg.VarianceSteepness)}, nil
}

// Threshold implements Controller.
func (s *Static) Threshold() float64 { return s.snap.theta }

// Coerce implements Controller.
func (s *Static) Coerce(v ternary.Value, confidence float64) ternary.Value {
	return coerce(s.snap, v, confidence)
}

// Update implements Controller as a no-op.
func (s *Static) Update(bool) {}

// VarianceThreshold returns the fixed variance threshold.
func (s *Static) VarianceThreshold() float64 { return s.snap.varianceThreshold }

// VarianceWeight maps a reading variance to a weight in (0, 1).
func (s *Static) VarianceWeight(variance float64) float64 {
	return interpolate(&s.snap.variance, variance)
}

// WidenVarianceThreshold is a no-op.
func (s *Static) WidenVarianceThreshold(float64) {}
