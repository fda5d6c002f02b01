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
	"bytes"
	"fmt"
	"io"

	"github.com/AleutianAI/kleene/services/kleene/ternary"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

// TreeDocument is the YAML form of an expression tree.
type TreeDocument struct {
	Name string `yaml:"name,omitempty"`
	Root *Node  `yaml:"root" validate:"required"`
}

// Node is one expression node. For internal nodes Value and Confidence,
// when present, hold the last evaluated result and are ignored on decode.
type Node struct {
	Op         Text     `yaml:"op,omitempty" validate:"omitempty,operator"`
	Value      Text     `yaml:"value,omitempty" validate:"omitempty,ternary"`
	Confidence *float64 `yaml:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Children   []*Node  `yaml:"children,omitempty" validate:"max=2,dive,required"`
}

// DecodeTree reads a tree document and builds the tree it describes.
//
// Outputs:
//
//	*tree.Tree - Tree with its root set.
//	error - ErrInvalidDocument (wrapping the offending path), ErrTooLarge
//	or ErrTooDeep.
func DecodeTree(r io.Reader) (*tree.Tree, error) {
	doc, err := ReadTreeDocument(r)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// LoadTree decodes the tree document at path.
func LoadTree(path string) (*tree.Tree, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeTree(f)
}

// ReadTreeDocument parses and validates a tree document without building it.
func ReadTreeDocument(r io.Reader) (*TreeDocument, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	var doc TreeDocument
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Build converts the document into a tree.
func (d *TreeDocument) Build() (*tree.Tree, error) {
	if d.Root == nil {
		return nil, fmt.Errorf("%w: missing root", ErrInvalidDocument)
	}
	t := tree.New(64)
	root, err := build(t, d.Root, "root", 0)
	if err != nil {
		return nil, err
	}
	if err := t.SetRoot(root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return t, nil
}

func build(t *tree.Tree, n *Node, path string, depth int) (tree.NodeID, error) {
	if depth >= MaxDepth {
		return tree.NoNode, fmt.Errorf("%w: %s exceeds depth %d", ErrTooDeep, path, MaxDepth)
	}
	op, err := ternary.ParseOp(string(n.Op))
	if err != nil {
		return tree.NoNode, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, err)
	}
	if got, want := len(n.Children), op.Arity(); got != want {
		return tree.NoNode, fmt.Errorf("%w: %s: %s takes %d children, got %d", ErrInvalidDocument, path, op, want, got)
	}

	if op == ternary.OpValue {
		if n.Value == "" {
			return tree.NoNode, fmt.Errorf("%w: %s: leaf needs a value", ErrInvalidDocument, path)
		}
		v, err := ternary.Parse(string(n.Value))
		if err != nil {
			return tree.NoNode, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, err)
		}
		confidence := 1.0
		if n.Confidence != nil {
			confidence = *n.Confidence
		}
		return t.LeafChecked(v, confidence)
	}

	children := [2]tree.NodeID{tree.NoNode, tree.NoNode}
	for i, child := range n.Children {
		id, err := build(t, child, fmt.Sprintf("%s.children[%d]", path, i), depth+1)
		if err != nil {
			return tree.NoNode, err
		}
		children[i] = id
	}
	id, err := t.Internal(op, children[0], children[1])
	if err != nil {
		return tree.NoNode, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, err)
	}
	return id, nil
}

// EncodeOption configures EncodeTree.
type EncodeOption func(*encodeOptions)

type encodeOptions struct {
	name    string
	results bool
}

// WithName sets the document name.
func WithName(name string) EncodeOption {
	return func(o *encodeOptions) { o.name = name }
}

// WithResults includes each internal node's last evaluated result.
func WithResults() EncodeOption {
	return func(o *encodeOptions) { o.results = true }
}

// NewTreeDocument converts the reachable part of t into a document.
func NewTreeDocument(t *tree.Tree, opts ...EncodeOption) (*TreeDocument, error) {
	if t == nil || t.Root() == tree.NoNode {
		return nil, tree.ErrNoRoot
	}
	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Built from the post-order so deep trees do not recurse.
	order := t.PostOrder()
	docs := make(map[tree.NodeID]*Node, len(order))
	for _, id := range order {
		n := t.At(id)
		d := &Node{}
		if n.IsLeaf() || o.results {
			d.Value = Text(n.Value.String())
			c := n.Confidence
			d.Confidence = &c
		}
		if !n.IsLeaf() {
			d.Op = Text(n.Op.String())
			d.Children = append(d.Children, docs[n.Left])
			if n.Right != tree.NoNode {
				d.Children = append(d.Children, docs[n.Right])
			}
		}
		docs[id] = d
	}
	return &TreeDocument{Name: o.name, Root: docs[t.Root()]}, nil
}

// EncodeTree writes t as a tree document.
func EncodeTree(w io.Writer, t *tree.Tree, opts ...EncodeOption) error {
	doc, err := NewTreeDocument(t, opts...)
	if err != nil {
		return err
	}
	return encode(w, doc)
}

// MarshalTree returns t as YAML bytes.
func MarshalTree(t *tree.Tree, opts ...EncodeOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTree(&buf, t, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
