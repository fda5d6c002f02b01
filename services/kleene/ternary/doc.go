// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ternary implements Kleene three-valued logic with confidence
// propagation.
//
// Encoding:
//
//	FALSE = -1, UNKNOWN = 0, TRUE = 1
//
//	The arithmetic encoding is load-bearing: AND is min, OR is max and
//	NOT is negation. IMPLY is or(not(a), b).
//
// Confidence Rules:
//
//	┌────────┬──────────────────────────────┐
//	│ AND    │ c1 * c2                      │
//	│ OR     │ 1 - (1-c1)(1-c2)             │
//	│ NOT    │ c                            │
//	│ IMPLY  │ OR rule                      │
//	│ EQUIV  │ c1 * c2                      │
//	└────────┴──────────────────────────────┘
//
// Every function in this package is pure and safe for concurrent use.
package ternary
