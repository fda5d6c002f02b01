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

import "errors"

// Sentinel errors for the eval package.
var (
	// ErrNilTree is returned when the tree is nil or has no root.
	ErrNilTree = errors.New("tree is nil or has no root")

	// ErrNilController is returned when no threshold controller is supplied.
	ErrNilController = errors.New("threshold controller must not be nil")

	// ErrInvalidWorkers is returned when the worker count is below one.
	ErrInvalidWorkers = errors.New("worker count must be >= 1")

	// ErrInvalidConfig is returned when a parallel configuration is out of range.
	ErrInvalidConfig = errors.New("invalid evaluator config")

	// ErrTimeout is returned when the root is not ready within the timeout.
	ErrTimeout = errors.New("evaluation timed out")

	// ErrWorkerPanic is returned when a worker panicked during evaluation.
	ErrWorkerPanic = errors.New("evaluation worker panicked")

	// ErrIncomplete is returned when every worker exited without
	// publishing the root result.
	ErrIncomplete = errors.New("evaluation ended without a root result")
)
