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

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidValue is returned when a string cannot be parsed as a ternary value.
var ErrInvalidValue = errors.New("invalid ternary value")

// ErrInvalidOp is returned when a string cannot be parsed as an operator.
var ErrInvalidOp = errors.New("invalid operator")

// Value is a Kleene truth value.
type Value int8

const (
	False   Value = -1
	Unknown Value = 0
	True    Value = 1
)

// Valid reports whether v is one of False, Unknown, True.
func (v Value) Valid() bool {
	return v >= False && v <= True
}

// String returns "FALSE", "UNKNOWN" or "TRUE".
func (v Value) String() string {
	switch v {
	case False:
		return "FALSE"
	case Unknown:
		return "UNKNOWN"
	case True:
		return "TRUE"
	default:
		return fmt.Sprintf("Value(%d)", int8(v))
	}
}

// MarshalText implements encoding.TextMarshaler, so JSON and YAML carry
// the value's name.
func (v Value) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidValue, int8(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse.
func (v *Value) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse converts a textual value into a Value.
//
// Accepts T/U/F, true/unknown/false and 1/0/-1, case-insensitive.
func Parse(s string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1":
		return True, nil
	case "u", "unknown", "0", "?":
		return Unknown, nil
	case "f", "false", "-1":
		return False, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrInvalidValue, s)
}

// And returns min(a, b).
func And(a, b Value) Value {
	if a < b {
		return a
	}
	return b
}

// Or returns max(a, b).
func Or(a, b Value) Value {
	if a > b {
		return a
	}
	return b
}

// Not returns -a.
func Not(a Value) Value {
	return -a
}

// Imply returns or(not(a), b).
func Imply(a, b Value) Value {
	return Or(Not(a), b)
}

// Equiv returns TRUE when a and b are equal and known, UNKNOWN when
// either is UNKNOWN, FALSE otherwise.
func Equiv(a, b Value) Value {
	if a == Unknown || b == Unknown {
		return Unknown
	}
	if a == b {
		return True
	}
	return False
}

// Op identifies the operator of an expression node.
type Op uint8

const (
	// OpValue marks a leaf holding a literal value.
	OpValue Op = iota
	OpAnd
	OpOr
	OpNot
	OpImply
	OpEquiv
)

var opNames = [...]string{
	OpValue: "value",
	OpAnd:   "and",
	OpOr:    "or",
	OpNot:   "not",
	OpImply: "imply",
	OpEquiv: "equiv",
}

// String returns the lower-case operator name.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Arity returns the number of operands the operator consumes.
func (o Op) Arity() int {
	switch o {
	case OpValue:
		return 0
	case OpNot:
		return 1
	case OpAnd, OpOr, OpImply, OpEquiv:
		return 2
	default:
		return -1
	}
}

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	return o.Arity() >= 0
}

// ParseOp converts an operator name into an Op.
func ParseOp(s string) (Op, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "leaf", "":
		return OpValue, nil
	}
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return OpValue, fmt.Errorf("%w: %q", ErrInvalidOp, s)
}
