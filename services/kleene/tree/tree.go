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
	"fmt"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// NodeID is a dense index into a Tree's arena.
type NodeID int32

// NoNode marks an absent child, parent or root.
const NoNode NodeID = -1

// Valid reports whether id can refer to a node.
func (id NodeID) Valid() bool { return id >= 0 }

// Node is one arena entry.
//
// Op, Left and Right are fixed at construction. Value and Confidence hold
// the leaf input or, for internal nodes, the last evaluated result. The
// remaining fields are filled in by ComputeMetadata.
type Node struct {
	Op         ternary.Op
	Value      ternary.Value
	Confidence float64
	Left       NodeID
	Right      NodeID
	Parent     NodeID

	// Scheduling metadata.
	Depth   int32
	Size    int32
	Height  int32
	Balance int32 // right height minus left height; a missing child counts as -1
	Visited bool
	Hot     bool
}

// IsLeaf reports whether the node is a value leaf.
func (n *Node) IsLeaf() bool { return n.Op == ternary.OpValue }

// Truth returns the node's value and confidence.
func (n *Node) Truth() ternary.Truth {
	return ternary.Truth{Value: n.Value, Confidence: n.Confidence}
}

// Tree is an arena of expression nodes with a designated root.
type Tree struct {
	nodes []Node
	root  NodeID
	meta  Metadata
}

// New creates an empty tree. capacityHint pre-sizes the arena.
func New(capacityHint int) *Tree {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Tree{
		nodes: make([]Node, 0, capacityHint),
		root:  NoNode,
	}
}

// Len returns the number of nodes in the arena, reachable or not.
func (t *Tree) Len() int { return len(t.nodes) }

// Root returns the root id, or NoNode.
func (t *Tree) Root() NodeID { return t.root }

// Contains reports whether id is in the arena.
func (t *Tree) Contains(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

// Leaf appends a value leaf and returns its id.
//
// Confidence is clamped to [0, 1]. An invalid value yields NoNode; use
// LeafChecked to get the error.
func (t *Tree) Leaf(v ternary.Value, confidence float64) NodeID {
	id, err := t.LeafChecked(v, confidence)
	if err != nil {
		return NoNode
	}
	return id
}

// LeafChecked is Leaf with an explicit error for invalid values.
func (t *Tree) LeafChecked(v ternary.Value, confidence float64) (NodeID, error) {
	if !v.Valid() {
		return NoNode, fmt.Errorf("%w: %d", ErrInvalidLeaf, v)
	}
	return t.append(Node{
		Op:         ternary.OpValue,
		Value:      v,
		Confidence: ternary.Clamp01(confidence),
		Left:       NoNode,
		Right:      NoNode,
	}), nil
}

// Internal appends an operator node over existing children and returns its id.
//
// Description:
//
//	NOT takes exactly one child in left; right must be NoNode. Binary
//	operators take two distinct children. Children must exist and must not
//	already have a parent. A new internal node starts as UNKNOWN with zero
//	confidence.
//
// Inputs:
//   - op: Operator. OpValue is rejected.
//   - left, right: Child ids.
//
// Outputs:
//   - NodeID: Id of the new node, NoNode on error.
//   - error: ErrArity, ErrNodeNotFound or ErrChildOwned wrapped in NodeError.
func (t *Tree) Internal(op ternary.Op, left, right NodeID) (NodeID, error) {
	switch op.Arity() {
	case 1:
		if right != NoNode {
			return NoNode, fmt.Errorf("%s takes one child: %w", op, ErrArity)
		}
		if err := t.checkChild(left); err != nil {
			return NoNode, err
		}
	case 2:
		if err := t.checkChild(left); err != nil {
			return NoNode, err
		}
		if err := t.checkChild(right); err != nil {
			return NoNode, err
		}
		if left == right {
			return NoNode, NewNodeError(right, ErrChildOwned)
		}
	default:
		return NoNode, fmt.Errorf("%s is not an operator: %w", op, ErrArity)
	}

	id := t.append(Node{
		Op:    op,
		Value: ternary.Unknown,
		Left:  left,
		Right: right,
	})
	t.nodes[left].Parent = id
	if right != NoNode {
		t.nodes[right].Parent = id
	}
	if t.root == left || t.root == right {
		t.root = NoNode
	}
	return id, nil
}

func (t *Tree) checkChild(id NodeID) error {
	if !t.Contains(id) {
		return NewNodeError(id, ErrNodeNotFound)
	}
	if t.nodes[id].Parent != NoNode {
		return NewNodeError(id, ErrChildOwned)
	}
	return nil
}

func (t *Tree) append(n Node) NodeID {
	n.Parent = NoNode
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	return id
}

// SetRoot designates the root. The root must exist and have no parent.
func (t *Tree) SetRoot(id NodeID) error {
	if !t.Contains(id) {
		return NewNodeError(id, ErrNodeNotFound)
	}
	if t.nodes[id].Parent != NoNode {
		return NewNodeError(id, ErrChildOwned)
	}
	t.root = id
	return nil
}

// Node returns a copy of the node at id.
func (t *Tree) Node(id NodeID) (Node, error) {
	if !t.Contains(id) {
		return Node{}, NewNodeError(id, ErrNodeNotFound)
	}
	return t.nodes[id], nil
}

// At returns a pointer to the node at id. It panics if id is out of range.
//
// Evaluators use At on the hot path after validating the tree once.
func (t *Tree) At(id NodeID) *Node {
	return &t.nodes[id]
}

// SetResult stores an evaluated result into an internal node.
func (t *Tree) SetResult(id NodeID, result ternary.Truth) {
	n := &t.nodes[id]
	n.Value = result.Value
	n.Confidence = ternary.Clamp01(result.Confidence)
}

// Reset restores every internal node to UNKNOWN with zero confidence so
// the tree can be evaluated again. Leaves and metadata are untouched.
func (t *Tree) Reset() {
	for i := range t.nodes {
		if !t.nodes[i].IsLeaf() {
			t.nodes[i].Value = ternary.Unknown
			t.nodes[i].Confidence = 0
		}
	}
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes: make([]Node, len(t.nodes)),
		root:  t.root,
		meta:  t.meta,
	}
	copy(c.nodes, t.nodes)
	return c
}

// PostOrder returns the ids reachable from the root, children before
// parents and left before right. It returns nil when no root is set.
func (t *Tree) PostOrder() []NodeID {
	if t.root == NoNode {
		return nil
	}

	type frame struct {
		id       NodeID
		expanded bool
	}
	order := make([]NodeID, 0, len(t.nodes))
	stack := []frame{{id: t.root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.expanded {
			order = append(order, top.id)
			continue
		}
		n := &t.nodes[top.id]
		stack = append(stack, frame{id: top.id, expanded: true})
		if n.Right != NoNode {
			stack = append(stack, frame{id: n.Right})
		}
		if n.Left != NoNode {
			stack = append(stack, frame{id: n.Left})
		}
	}
	return order
}
