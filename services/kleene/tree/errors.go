// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tree package.
var (
	// ErrNodeNotFound is returned when a referenced node id is not in the arena.
	ErrNodeNotFound = errors.New("node not found")

	// ErrChildOwned is returned when a node is attached to a second parent.
	ErrChildOwned = errors.New("node already has a parent")

	// ErrArity is returned when an operator gets the wrong number of children.
	ErrArity = errors.New("operator arity mismatch")

	// ErrNoRoot is returned when an operation needs a root and none is set.
	ErrNoRoot = errors.New("tree has no root")

	// ErrInvalidLeaf is returned when a leaf value is outside the ternary domain.
	ErrInvalidLeaf = errors.New("invalid leaf value")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	ID  NodeID
	Err error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %d: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(id NodeID, err error) *NodeError {
	return &NodeError{ID: id, Err: err}
}
