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
	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

// earlyExit reports whether the left operand alone decides op.
//
//	AND:   left FALSE                    → FALSE, left confidence
//	OR:    left TRUE  and conf >= θ      → TRUE,  left confidence
//	IMPLY: not(left) TRUE and conf >= θ  → TRUE,  left confidence
func earlyExit(op ternary.Op, left ternary.Truth, theta float64) (ternary.Truth, bool) {
	switch op {
	case ternary.OpAnd:
		if left.Value == ternary.False {
			return ternary.Truth{Value: ternary.False, Confidence: left.Confidence}, true
		}
	case ternary.OpOr:
		if left.Value == ternary.True && left.Confidence >= theta {
			return left, true
		}
	case ternary.OpImply:
		if left.Value == ternary.False && left.Confidence >= theta {
			return ternary.Truth{Value: ternary.True, Confidence: left.Confidence}, true
		}
	}
	return ternary.Truth{}, false
}

// combine aggregates evaluated children, taking the early exit when it applies.
func combine(op ternary.Op, left, right ternary.Truth, theta float64) ternary.Truth {
	if res, ok := earlyExit(op, left, theta); ok {
		return res
	}
	return ternary.Apply(op, left, right)
}

// settle coerces an aggregated result and feeds the controller.
// Confidence is kept when the value is coerced to UNKNOWN.
func settle(ctrl threshold.Controller, signal threshold.Signal, raw ternary.Truth) ternary.Truth {
	res := ternary.Truth{
		Value:      ctrl.Coerce(raw.Value, raw.Confidence),
		Confidence: ternary.Clamp01(raw.Confidence),
	}
	ctrl.Update(signal(res))
	return res
}
