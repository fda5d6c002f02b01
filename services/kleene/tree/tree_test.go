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
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// scenarioTree builds AND(T@0.9, OR(U@0.5, F@0.8)).
func scenarioTree(t *testing.T) (*Tree, map[string]NodeID) {
	t.Helper()
	tr := New(5)
	ids := map[string]NodeID{
		"a": tr.Leaf(ternary.True, 0.9),
		"b": tr.Leaf(ternary.Unknown, 0.5),
		"c": tr.Leaf(ternary.False, 0.8),
	}
	or, err := tr.Internal(ternary.OpOr, ids["b"], ids["c"])
	require.NoError(t, err)
	ids["or"] = or
	and, err := tr.Internal(ternary.OpAnd, ids["a"], or)
	require.NoError(t, err)
	ids["and"] = and
	require.NoError(t, tr.SetRoot(and))
	return tr, ids
}

func TestLeaf(t *testing.T) {
	tr := New(0)
	id := tr.Leaf(ternary.True, 1.7)
	n, err := tr.Node(id)
	require.NoError(t, err)
	assert.True(t, n.IsLeaf())
	assert.Equal(t, 1.0, n.Confidence, "confidence is clamped")
	assert.Equal(t, NoNode, n.Parent)

	assert.Equal(t, NoNode, tr.Leaf(ternary.Value(5), 0.5))
	_, err = tr.LeafChecked(ternary.Value(-2), 0.5)
	assert.ErrorIs(t, err, ErrInvalidLeaf)
	assert.Equal(t, 1, tr.Len())
}

func TestInternal(t *testing.T) {
	tr, ids := scenarioTree(t)

	or, err := tr.Node(ids["or"])
	require.NoError(t, err)
	assert.Equal(t, ternary.Unknown, or.Value)
	assert.Equal(t, 0.0, or.Confidence)
	assert.Equal(t, ids["and"], or.Parent)
	assert.Equal(t, ids["b"], or.Left)
	assert.Equal(t, ids["c"], or.Right)
}

func TestInternal_Errors(t *testing.T) {
	t.Run("child already owned", func(t *testing.T) {
		tr, ids := scenarioTree(t)
		d := tr.Leaf(ternary.True, 1)
		_, err := tr.Internal(ternary.OpAnd, ids["b"], d)
		require.ErrorIs(t, err, ErrChildOwned)

		var nodeErr *NodeError
		require.True(t, errors.As(err, &nodeErr))
		assert.Equal(t, ids["b"], nodeErr.ID)
	})

	t.Run("same child twice", func(t *testing.T) {
		tr := New(0)
		a := tr.Leaf(ternary.True, 1)
		_, err := tr.Internal(ternary.OpOr, a, a)
		assert.ErrorIs(t, err, ErrChildOwned)
	})

	t.Run("unknown child", func(t *testing.T) {
		tr := New(0)
		a := tr.Leaf(ternary.True, 1)
		_, err := tr.Internal(ternary.OpOr, a, 42)
		assert.ErrorIs(t, err, ErrNodeNotFound)
		_, err = tr.Internal(ternary.OpNot, NoNode, NoNode)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("arity", func(t *testing.T) {
		tr := New(0)
		a := tr.Leaf(ternary.True, 1)
		b := tr.Leaf(ternary.False, 1)
		_, err := tr.Internal(ternary.OpNot, a, b)
		assert.ErrorIs(t, err, ErrArity)
		_, err = tr.Internal(ternary.OpValue, a, b)
		assert.ErrorIs(t, err, ErrArity)
		_, err = tr.Internal(ternary.OpAnd, a, NoNode)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("failed attach leaves children free", func(t *testing.T) {
		tr := New(0)
		a := tr.Leaf(ternary.True, 1)
		_, err := tr.Internal(ternary.OpAnd, a, 99)
		require.Error(t, err)
		n, _ := tr.Node(a)
		assert.Equal(t, NoNode, n.Parent)
		_, err = tr.Internal(ternary.OpNot, a, NoNode)
		assert.NoError(t, err)
	})
}

func TestSetRoot(t *testing.T) {
	tr, ids := scenarioTree(t)
	assert.ErrorIs(t, tr.SetRoot(ids["or"]), ErrChildOwned)
	assert.ErrorIs(t, tr.SetRoot(100), ErrNodeNotFound)
	assert.Equal(t, ids["and"], tr.Root())

	// Attaching the current root under a new parent clears the root.
	not, err := tr.Internal(ternary.OpNot, ids["and"], NoNode)
	require.NoError(t, err)
	assert.Equal(t, NoNode, tr.Root())
	require.NoError(t, tr.SetRoot(not))
}

func TestComputeMetadata(t *testing.T) {
	tr, ids := scenarioTree(t)
	stray := tr.Leaf(ternary.True, 1)

	m, err := tr.ComputeMetadata()
	require.NoError(t, err)

	want := Metadata{Nodes: 5, Height: 2, Leaves: 3, HotNodes: 2}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, m, tr.Metadata())

	type shape struct {
		Depth, Size, Height, Balance int32
		Visited, Hot                 bool
	}
	got := map[string]shape{}
	for name, id := range ids {
		n := tr.At(id)
		got[name] = shape{n.Depth, n.Size, n.Height, n.Balance, n.Visited, n.Hot}
	}
	wantShapes := map[string]shape{
		"and": {0, 5, 2, 1, true, true},
		"a":   {1, 1, 0, 0, true, false},
		"or":  {1, 3, 1, 0, true, true},
		"b":   {2, 1, 0, 0, true, false},
		"c":   {2, 1, 0, 0, true, false},
	}
	if diff := cmp.Diff(wantShapes, got); diff != "" {
		t.Errorf("node metadata mismatch (-want +got):\n%s", diff)
	}

	s := tr.At(stray)
	assert.False(t, s.Visited)
	assert.Zero(t, s.Size)
}

func TestComputeMetadata_NoRoot(t *testing.T) {
	tr := New(0)
	tr.Leaf(ternary.True, 1)
	_, err := tr.ComputeMetadata()
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestComputeMetadata_UnaryBalance(t *testing.T) {
	tr := New(0)
	a := tr.Leaf(ternary.True, 1)
	not, err := tr.Internal(ternary.OpNot, a, NoNode)
	require.NoError(t, err)
	require.NoError(t, tr.SetRoot(not))

	m, err := tr.ComputeMetadata()
	require.NoError(t, err)
	assert.Equal(t, 2, m.Nodes)
	assert.Equal(t, int32(-1), tr.At(not).Balance)
	assert.Equal(t, int32(1), tr.At(not).Height)
}

func TestComputeMetadata_HotFraction(t *testing.T) {
	tr, err := Random(rand.New(rand.NewPCG(7, 11)), 800, DefaultRandomOptions())
	require.NoError(t, err)
	m := tr.Metadata()
	require.Equal(t, 800, m.Nodes)

	hot := 0
	for _, id := range tr.PostOrder() {
		n := tr.At(id)
		want := n.Size > 1 && int(n.Size)*8 >= m.Nodes
		assert.Equal(t, want, n.Hot, "node %d size %d", id, n.Size)
		if n.Hot {
			hot++
		}
	}
	assert.Equal(t, m.HotNodes, hot)
	assert.True(t, tr.At(tr.Root()).Hot)
}

func TestPostOrder(t *testing.T) {
	tr, ids := scenarioTree(t)
	want := []NodeID{ids["a"], ids["b"], ids["c"], ids["or"], ids["and"]}
	if diff := cmp.Diff(want, tr.PostOrder()); diff != "" {
		t.Errorf("post-order mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, New(0).PostOrder())
}

func TestPostOrder_ChildrenBeforeParents(t *testing.T) {
	tr, err := Random(rand.New(rand.NewPCG(1, 2)), 500, DefaultRandomOptions())
	require.NoError(t, err)

	order := tr.PostOrder()
	require.Len(t, order, 500)
	pos := make(map[NodeID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		n := tr.At(id)
		if n.Left != NoNode {
			assert.Less(t, pos[n.Left], pos[id])
		}
		if n.Right != NoNode {
			assert.Less(t, pos[n.Right], pos[id])
		}
	}
}

func TestResetAndClone(t *testing.T) {
	tr, ids := scenarioTree(t)
	tr.SetResult(ids["and"], ternary.Truth{Value: ternary.True, Confidence: 0.7})

	c := tr.Clone()
	tr.Reset()

	assert.Equal(t, ternary.Unknown, tr.At(ids["and"]).Value)
	assert.Equal(t, 0.0, tr.At(ids["and"]).Confidence)
	assert.Equal(t, ternary.True, tr.At(ids["a"]).Value, "leaves survive reset")

	assert.Equal(t, ternary.True, c.At(ids["and"]).Value, "clone is independent")
	assert.Equal(t, tr.Root(), c.Root())
}

func TestRandom(t *testing.T) {
	for _, n := range []int{1, 2, 3, 10, 1000} {
		tr, err := Random(rand.New(rand.NewPCG(uint64(n), 3)), n, DefaultRandomOptions())
		require.NoError(t, err)
		assert.Equal(t, n, tr.Metadata().Nodes)
		assert.Len(t, tr.PostOrder(), n)
	}

	_, err := Random(nil, 10, DefaultRandomOptions())
	assert.Error(t, err)
	_, err = Random(rand.New(rand.NewPCG(1, 1)), 0, DefaultRandomOptions())
	assert.Error(t, err)

	opts := DefaultRandomOptions()
	opts.Ops = []ternary.Op{ternary.OpValue}
	_, err = Random(rand.New(rand.NewPCG(1, 1)), 5, opts)
	assert.ErrorIs(t, err, ErrArity)
}

func TestRandom_BinaryOnly(t *testing.T) {
	opts := DefaultRandomOptions()
	opts.Ops = []ternary.Op{ternary.OpAnd, ternary.OpOr}
	tr, err := Random(rand.New(rand.NewPCG(5, 5)), 101, opts)
	require.NoError(t, err)

	m := tr.Metadata()
	assert.LessOrEqual(t, m.Nodes, 101)
	assert.Equal(t, m.Leaves, m.Nodes-m.Leaves+1, "full binary tree")
}
