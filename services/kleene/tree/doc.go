// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree holds ternary expression trees in a flat arena.
//
// Nodes are addressed by dense NodeIDs into one slice, so evaluators can
// keep per-node side tables (result slots, wait counters) as plain slices
// indexed by id. Every node has at most one parent; Internal refuses to
// attach a node that is already owned, which rules out sharing and cycles
// at construction time.
//
// Lifecycle:
//
//	t := tree.New(0)
//	a := t.Leaf(ternary.True, 0.9)
//	b := t.Leaf(ternary.Unknown, 0.5)
//	root, err := t.Internal(ternary.OpAnd, a, b)
//	t.SetRoot(root)
//	meta, err := t.ComputeMetadata()
//	// evaluate; internal nodes are overwritten in place
//	t.Reset() // before evaluating again
//
// Thread Safety:
//
//	A Tree is not safe for concurrent mutation. After ComputeMetadata the
//	structure (Op, Left, Right, metadata) may be read by many goroutines
//	as long as nobody calls a mutating method.
package tree
