// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ternary

import "fmt"

// Truth is a ternary value paired with its confidence in [0, 1].
type Truth struct {
	Value      Value   `json:"value" yaml:"value"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Unknowable is the zero-confidence UNKNOWN used for unset or failed results.
var Unknowable = Truth{Value: Unknown, Confidence: 0}

// String formats the truth as "VALUE@0.810".
func (t Truth) String() string {
	return fmt.Sprintf("%s@%.3f", t.Value, t.Confidence)
}

// Clamp01 limits c to [0, 1]. NaN maps to 0.
func Clamp01(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// AndConfidence returns c1 * c2.
func AndConfidence(c1, c2 float64) float64 {
	return Clamp01(c1 * c2)
}

// OrConfidence returns 1 - (1-c1)(1-c2).
func OrConfidence(c1, c2 float64) float64 {
	return Clamp01(1 - (1-c1)*(1-c2))
}

// NotConfidence returns c unchanged.
func NotConfidence(c float64) float64 {
	return Clamp01(c)
}

// ImplyConfidence uses the OR rule, since imply is or(not(a), b).
func ImplyConfidence(c1, c2 float64) float64 {
	return OrConfidence(c1, c2)
}

// EquivConfidence returns c1 * c2.
//
// Some older evaluators averaged the operands instead; this package uses
// the product rule everywhere.
func EquivConfidence(c1, c2 float64) float64 {
	return Clamp01(c1 * c2)
}

// Apply combines operands a and b under op without any early exit.
//
// For OpNot only a is used. For OpValue, a is returned unchanged.
func Apply(op Op, a, b Truth) Truth {
	switch op {
	case OpAnd:
		return Truth{Value: And(a.Value, b.Value), Confidence: AndConfidence(a.Confidence, b.Confidence)}
	case OpOr:
		return Truth{Value: Or(a.Value, b.Value), Confidence: OrConfidence(a.Confidence, b.Confidence)}
	case OpNot:
		return Truth{Value: Not(a.Value), Confidence: NotConfidence(a.Confidence)}
	case OpImply:
		return Truth{Value: Imply(a.Value, b.Value), Confidence: ImplyConfidence(a.Confidence, b.Confidence)}
	case OpEquiv:
		return Truth{Value: Equiv(a.Value, b.Value), Confidence: EquivConfidence(a.Confidence, b.Confidence)}
	default:
		return a
	}
}
