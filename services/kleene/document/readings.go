// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"fmt"
	"io"

	"github.com/AleutianAI/kleene/services/kleene/fusion"
	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// ReadingsDocument is the YAML form of a fusion batch.
type ReadingsDocument struct {
	Name     string    `yaml:"name,omitempty"`
	Readings []Reading `yaml:"readings" validate:"required,min=1,dive"`
}

// Reading is one source observation.
type Reading struct {
	Value      Text    `yaml:"value" validate:"required,ternary"`
	Confidence float64 `yaml:"confidence" validate:"gte=0,lte=1"`
	Variance   float64 `yaml:"variance" validate:"gte=0"`
}

// DecodeReadings reads a readings document.
//
// Outputs:
//
//	[]fusion.Reading - At least one reading, each passing Reading.Validate.
//	error - ErrInvalidDocument or ErrTooLarge.
func DecodeReadings(r io.Reader) ([]fusion.Reading, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	var doc ReadingsDocument
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make([]fusion.Reading, len(doc.Readings))
	for i, rd := range doc.Readings {
		v, err := ternary.Parse(string(rd.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: readings[%d]: %w", ErrInvalidDocument, i, err)
		}
		out[i] = fusion.Reading{Value: v, Confidence: rd.Confidence, Variance: rd.Variance}
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: readings[%d]: %w", ErrInvalidDocument, i, err)
		}
	}
	return out, nil
}

// LoadReadings decodes the readings document at path.
func LoadReadings(path string) ([]fusion.Reading, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeReadings(f)
}

// EncodeReadings writes readings as a readings document.
func EncodeReadings(w io.Writer, name string, readings []fusion.Reading) error {
	doc := ReadingsDocument{Name: name, Readings: make([]Reading, len(readings))}
	for i, r := range readings {
		doc.Readings[i] = Reading{
			Value:      Text(r.Value.String()),
			Confidence: r.Confidence,
			Variance:   r.Variance,
		}
	}
	return encode(w, doc)
}
