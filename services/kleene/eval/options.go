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
	"log/slog"

	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

// Option configures an evaluator.
type Option func(*options)

type options struct {
	logger *slog.Logger
	signal threshold.Signal
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		signal: threshold.NonUnknown,
	}
}

func applyOptions(opts []Option, component string) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(slog.String("component", component))
	return o
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSignal replaces the correctness signal fed to the controller.
// Nil keeps threshold.NonUnknown.
func WithSignal(signal threshold.Signal) Option {
	return func(o *options) {
		if signal != nil {
			o.signal = signal
		}
	}
}
