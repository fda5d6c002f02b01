// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"time"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// Status separates operational outcomes from the logical UNKNOWN value.
type Status int

const (
	// StatusOK means the root was evaluated.
	StatusOK Status = iota

	// StatusInvalid means the inputs were rejected before evaluation.
	StatusInvalid

	// StatusTimeout means the root was not ready within the timeout.
	StatusTimeout

	// StatusCancelled means the caller's context ended first.
	StatusCancelled

	// StatusFailed means a worker panicked or exited without a root result.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkerStats counts one worker's activity.
type WorkerStats struct {
	Evaluated   int `json:"evaluated"`
	Steals      int `json:"steals"`
	StealAborts int `json:"steal_aborts"`
	Waits       int `json:"waits"`
	WaitSteps   int `json:"wait_steps"`
	Updates     int `json:"updates"`
}

// Stats describes one evaluation.
type Stats struct {
	// SessionID identifies the evaluation in logs and spans.
	SessionID string `json:"session_id"`

	// Mode is "scalar" or "parallel".
	Mode string `json:"mode"`

	// Nodes is the number of nodes reachable from the root.
	Nodes int `json:"nodes"`

	// Evaluated is the number of nodes whose result was produced.
	Evaluated int `json:"evaluated"`

	// Updates is the number of controller updates issued.
	Updates int `json:"updates"`

	Steals      int `json:"steals"`
	StealAborts int `json:"steal_aborts"`
	Waits       int `json:"waits"`

	// Workers holds per-worker counts; empty for scalar evaluation.
	Workers []WorkerStats `json:"workers,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Result is the root truth plus how it was obtained.
//
// Every failure still carries a usable Truth (UNKNOWN with zero
// confidence), so callers can treat "don't know" uniformly and consult
// Status when they need to tell an operational failure apart.
type Result struct {
	ternary.Truth
	Status Status `json:"status"`
	Stats  Stats  `json:"stats"`
}

func invalidResult(mode string) Result {
	return Result{Truth: ternary.Unknowable, Status: StatusInvalid, Stats: Stats{Mode: mode}}
}
