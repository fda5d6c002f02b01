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

// hotFraction is the share of the reachable tree a subtree must hold to be hot.
const hotFraction = 8

// Metadata summarizes the reachable tree after ComputeMetadata.
type Metadata struct {
	// Nodes is the number of nodes reachable from the root.
	Nodes int `json:"nodes"`

	// Height is the root's height; a single leaf has height 0.
	Height int `json:"height"`

	// Leaves is the number of reachable leaves.
	Leaves int `json:"leaves"`

	// HotNodes is the number of nodes marked Hot.
	HotNodes int `json:"hot_nodes"`
}

// ComputeMetadata fills in Depth, Size, Height, Balance, Visited and Hot
// for every node reachable from the root.
//
// Description:
//
//	One recursive pass assigns depth on the way down and size, height and
//	balance on the way up. A second sweep over the visited nodes marks
//	subtrees holding at least 1/8 of the reachable nodes (and more than
//	one node) as Hot. Unreachable arena entries are cleared.
//
// Outputs:
//   - Metadata: Totals for the reachable tree.
//   - error: ErrNoRoot if no root is set.
func (t *Tree) ComputeMetadata() (Metadata, error) {
	if t.root == NoNode {
		return Metadata{}, ErrNoRoot
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		n.Depth, n.Size, n.Height, n.Balance = 0, 0, 0, 0
		n.Visited, n.Hot = false, false
	}

	var m Metadata
	t.annotate(t.root, 0, &m)

	total := int32(m.Nodes)
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Visited && n.Size > 1 && n.Size*hotFraction >= total {
			n.Hot = true
			m.HotNodes++
		}
	}
	m.Height = int(t.nodes[t.root].Height)

	t.meta = m
	return m, nil
}

// annotate returns the subtree's size and height.
func (t *Tree) annotate(id NodeID, depth int32, m *Metadata) (int32, int32) {
	n := &t.nodes[id]
	n.Depth = depth
	n.Visited = true
	m.Nodes++

	if n.IsLeaf() {
		n.Size, n.Height, n.Balance = 1, 0, 0
		m.Leaves++
		return 1, 0
	}

	left, right := n.Left, n.Right
	ls, lh := t.annotate(left, depth+1, m)
	var rs, rh int32 = 0, -1
	if right != NoNode {
		rs, rh = t.annotate(right, depth+1, m)
	}

	n.Size = 1 + ls + rs
	n.Height = 1 + max(lh, rh)
	n.Balance = rh - lh
	return n.Size, n.Height
}

// Metadata returns the totals from the last ComputeMetadata call.
func (t *Tree) Metadata() Metadata { return t.meta }
