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
	"math/rand/v2"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
)

// RandomOptions shapes trees built by Random.
type RandomOptions struct {
	// Ops are the operators drawn for internal nodes. Empty means all five.
	Ops []ternary.Op

	// MinConfidence and MaxConfidence bound leaf confidences.
	MinConfidence float64
	MaxConfidence float64

	// UnknownRatio is the probability that a leaf is UNKNOWN.
	UnknownRatio float64
}

// DefaultRandomOptions draws every operator and leaf confidences in [0.3, 1].
func DefaultRandomOptions() RandomOptions {
	return RandomOptions{
		Ops:           []ternary.Op{ternary.OpAnd, ternary.OpOr, ternary.OpNot, ternary.OpImply, ternary.OpEquiv},
		MinConfidence: 0.3,
		MaxConfidence: 1.0,
		UnknownRatio:  0.2,
	}
}

// Random builds a tree with n reachable nodes and sets its root.
//
// Description:
//
//	Subtree sizes are split uniformly at random, which gives logarithmic
//	expected height. The count is exact when opts includes a unary
//	operator; with binary operators only, a two-node subtree request
//	becomes a single leaf, so the tree may come out smaller. Metadata is
//	computed before returning.
//
// Inputs:
//   - rng: Source of randomness. Must not be nil.
//   - n: Node count. Must be >= 1.
//   - opts: Shape options.
//
// Outputs:
//   - *Tree: The new tree.
//   - error: Non-nil if the arguments are invalid.
func Random(rng *rand.Rand, n int, opts RandomOptions) (*Tree, error) {
	if rng == nil {
		return nil, errors.New("random tree: rng must not be nil")
	}
	if n < 1 {
		return nil, fmt.Errorf("random tree: node count %d must be >= 1", n)
	}
	if len(opts.Ops) == 0 {
		opts.Ops = DefaultRandomOptions().Ops
	}
	if opts.MaxConfidence < opts.MinConfidence {
		opts.MinConfidence, opts.MaxConfidence = opts.MaxConfidence, opts.MinConfidence
	}

	b := &randomBuilder{t: New(n), rng: rng, opts: opts}
	for _, op := range opts.Ops {
		switch op.Arity() {
		case 1:
			b.unary = append(b.unary, op)
		case 2:
			b.binary = append(b.binary, op)
		default:
			return nil, fmt.Errorf("random tree: %w: %s", ErrArity, op)
		}
	}

	root, err := b.build(n)
	if err != nil {
		return nil, err
	}
	if err := b.t.SetRoot(root); err != nil {
		return nil, err
	}
	if _, err := b.t.ComputeMetadata(); err != nil {
		return nil, err
	}
	return b.t, nil
}

type randomBuilder struct {
	t      *Tree
	rng    *rand.Rand
	opts   RandomOptions
	unary  []ternary.Op
	binary []ternary.Op
}

func (b *randomBuilder) build(n int) (NodeID, error) {
	if n == 1 || (n == 2 && len(b.unary) == 0) {
		return b.leaf(), nil
	}

	useUnary := len(b.unary) > 0 && (n == 2 || len(b.binary) == 0 || b.rng.IntN(len(b.unary)+len(b.binary)) < len(b.unary))
	if useUnary {
		child, err := b.build(n - 1)
		if err != nil {
			return NoNode, err
		}
		return b.t.Internal(b.unary[b.rng.IntN(len(b.unary))], child, NoNode)
	}

	rest := n - 1
	leftSize := 1 + b.rng.IntN(rest-1)
	left, err := b.build(leftSize)
	if err != nil {
		return NoNode, err
	}
	right, err := b.build(rest - leftSize)
	if err != nil {
		return NoNode, err
	}
	return b.t.Internal(b.binary[b.rng.IntN(len(b.binary))], left, right)
}

func (b *randomBuilder) leaf() NodeID {
	v := ternary.Unknown
	if b.rng.Float64() >= b.opts.UnknownRatio {
		v = ternary.True
		if b.rng.IntN(2) == 0 {
			v = ternary.False
		}
	}
	c := b.opts.MinConfidence + b.rng.Float64()*(b.opts.MaxConfidence-b.opts.MinConfidence)
	return b.t.Leaf(v, c)
}
