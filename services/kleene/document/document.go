// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document reads and writes expression trees and fusion readings
// as YAML (JSON is accepted as a YAML subset).
//
// A tree document nests nodes under root:
//
//	name: door-sensor
//	root:
//	  op: and
//	  children:
//	    - {value: T, confidence: 0.9}
//	    - op: or
//	      children:
//	        - {value: U, confidence: 0.5}
//	        - {value: F, confidence: 0.8}
//
// A leaf has no op (or op "leaf") and a value of T, F or U in any of the
// spellings ternary.Parse accepts. Leaf confidence defaults to 1.
//
// A readings document lists fusion inputs:
//
//	readings:
//	  - {value: T, confidence: 0.9, variance: 0.1}
//	  - {value: F, confidence: 0.2, variance: 0.3}
package document

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

const (
	// MaxDocumentSize bounds how much of a reader is consumed (8MB).
	MaxDocumentSize = 8 << 20

	// MaxDepth bounds tree nesting.
	MaxDepth = 2048
)

// Sentinel errors for the document package.
var (
	// ErrInvalidDocument is returned when a document fails to parse or validate.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrTooLarge is returned when input exceeds MaxDocumentSize.
	ErrTooLarge = errors.New("document too large")

	// ErrTooDeep is returned when a tree nests deeper than MaxDepth.
	ErrTooDeep = errors.New("document tree too deep")
)

// validate is shared by all document types.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("ternary", validateTernary)
	_ = validate.RegisterValidation("operator", validateOperator)
}

func validateTernary(fl validator.FieldLevel) bool {
	_, err := ternary.Parse(fl.Field().String())
	return err == nil
}

func validateOperator(fl validator.FieldLevel) bool {
	_, err := ternary.ParseOp(fl.Field().String())
	return err == nil
}

// Text is a scalar kept as its source text, so unquoted YAML booleans
// and numbers (true, 1, -1) reach ternary.Parse unchanged.
type Text string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Text) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar, got %s", node.Line, kindName(node.Kind))
	}
	*t = Text(node.Value)
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, MaxDocumentSize)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return enc.Close()
}
