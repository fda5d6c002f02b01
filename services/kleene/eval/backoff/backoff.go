// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backoff implements the spin, yield, sleep escalation used by
// evaluator workers while waiting on a dependency or on contended work.
package backoff

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrInvalidPolicy is returned when a Policy is out of range.
var ErrInvalidPolicy = errors.New("invalid backoff policy")

// Phase is the escalation stage a wait step used.
type Phase int

const (
	// PhaseSpin retries immediately.
	PhaseSpin Phase = iota

	// PhaseYield hands the processor to another goroutine.
	PhaseYield

	// PhaseSleep parks the goroutine for a bounded interval.
	PhaseSleep
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseSpin:
		return "spin"
	case PhaseYield:
		return "yield"
	case PhaseSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// Policy configures the escalation.
type Policy struct {
	// SpinIterations is the number of immediate retries before yielding.
	// Default: 64
	SpinIterations int `json:"spin_iterations" yaml:"spin_iterations"`

	// YieldIterations is the number of runtime.Gosched calls before sleeping.
	// Default: 16
	YieldIterations int `json:"yield_iterations" yaml:"yield_iterations"`

	// SleepInterval is the first sleep duration.
	// Default: 20µs
	SleepInterval time.Duration `json:"sleep_interval" yaml:"sleep_interval"`

	// MaxSleep caps the doubled sleep duration.
	// Default: 1ms
	MaxSleep time.Duration `json:"max_sleep" yaml:"max_sleep"`
}

// DefaultPolicy returns the defaults used by the parallel evaluator.
func DefaultPolicy() Policy {
	return Policy{
		SpinIterations:  64,
		YieldIterations: 16,
		SleepInterval:   20 * time.Microsecond,
		MaxSleep:        time.Millisecond,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.SpinIterations < 0 || p.YieldIterations < 0 {
		return fmt.Errorf("%w: iteration counts must be >= 0", ErrInvalidPolicy)
	}
	if p.SleepInterval <= 0 {
		return fmt.Errorf("%w: sleep_interval must be > 0", ErrInvalidPolicy)
	}
	if p.MaxSleep < p.SleepInterval {
		return fmt.Errorf("%w: max_sleep must be >= sleep_interval", ErrInvalidPolicy)
	}
	return nil
}

// Waiter tracks one wait sequence. The zero value is not usable; get one
// from Policy.Waiter.
//
// Thread Safety: Not safe for concurrent use. Each worker owns its waiters.
type Waiter struct {
	policy   Policy
	attempts int
	sleep    time.Duration
}

// Waiter returns a fresh wait sequence starting at the spin phase.
func (p Policy) Waiter() Waiter {
	return Waiter{policy: p, sleep: p.SleepInterval}
}

// WaiterSkipSpin returns a wait sequence that starts at the yield phase,
// for waits that are expected to be long.
func (p Policy) WaiterSkipSpin() Waiter {
	w := p.Waiter()
	w.attempts = p.SpinIterations
	return w
}

// Attempts returns the number of Wait calls so far, including skipped spins.
func (w *Waiter) Attempts() int { return w.attempts }

// Reset restarts the sequence at the spin phase.
func (w *Waiter) Reset() {
	w.attempts = 0
	w.sleep = w.policy.SleepInterval
}

// Phase returns the phase the next Wait call will use.
func (w *Waiter) Phase() Phase {
	switch {
	case w.attempts < w.policy.SpinIterations:
		return PhaseSpin
	case w.attempts < w.policy.SpinIterations+w.policy.YieldIterations:
		return PhaseYield
	default:
		return PhaseSleep
	}
}

// Wait performs one backoff step and returns the phase it used.
func (w *Waiter) Wait() Phase {
	phase := w.Phase()
	w.attempts++
	switch phase {
	case PhaseYield:
		runtime.Gosched()
	case PhaseSleep:
		time.Sleep(w.sleep)
		w.sleep = min(w.sleep*2, w.policy.MaxSleep)
	}
	return phase
}

// Until waits until ready returns true or abort returns true.
//
// Inputs:
//   - ready: Condition being waited on. Checked before every step.
//   - abort: Checked after ready; true ends the wait early.
//
// Outputs:
//   - bool: True if ready was observed, false if aborted.
func (w *Waiter) Until(ready, abort func() bool) bool {
	for {
		if ready() {
			return true
		}
		if abort() {
			return false
		}
		w.Wait()
	}
}
