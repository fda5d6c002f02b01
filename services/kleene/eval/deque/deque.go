// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deque is a fixed-capacity Chase-Lev work-stealing deque of
// tree node ids.
//
// The owning worker pushes and pops at the bottom. Any other worker may
// steal from the top. Stealers race on a compare-and-swap of top; the
// owner only races when taking the last element.
//
// Thread Safety:
//
//	Push and Pop must only be called by the owner. Steal, Len and Cap are
//	safe from any goroutine.
package deque

import (
	"math/bits"
	"sync/atomic"

	"github.com/AleutianAI/kleene/services/kleene/tree"
)

// DefaultCapacity is the capacity used when none is given.
const DefaultCapacity = 1024

// StealResult is the outcome of a steal attempt.
type StealResult int

const (
	// Empty means the deque had nothing to steal.
	Empty StealResult = iota

	// Abort means another thief or the owner won the race; retry later.
	Abort

	// Success means an id was taken.
	Success
)

// String returns the result name.
func (r StealResult) String() string {
	switch r {
	case Empty:
		return "empty"
	case Abort:
		return "abort"
	case Success:
		return "success"
	default:
		return "unknown"
	}
}

// Deque is a bounded work-stealing deque. It never resizes.
type Deque struct {
	top atomic.Int64
	_   [56]byte // keep top and bottom on separate cache lines

	bottom atomic.Int64
	_      [56]byte

	mask int64
	buf  []atomic.Int32
}

// New creates a deque holding at least capacity ids. Capacity is rounded
// up to a power of two; values < 1 use DefaultCapacity.
func New(capacity int) *Deque {
	c := NextPowerOfTwo(capacity)
	if capacity < 1 {
		c = DefaultCapacity
	}
	return &Deque{
		mask: int64(c - 1),
		buf:  make([]atomic.Int32, c),
	}
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n < 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Cap returns the fixed capacity.
func (d *Deque) Cap() int { return len(d.buf) }

// Len returns an approximate element count.
func (d *Deque) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Push adds id at the bottom. It returns false if the deque is full.
func (d *Deque) Push(id tree.NodeID) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t >= int64(len(d.buf)) {
		return false
	}
	d.buf[b&d.mask].Store(int32(id))
	d.bottom.Store(b + 1)
	return true
}

// Pop removes the most recently pushed id.
func (d *Deque) Pop() (tree.NodeID, bool) {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	t := d.top.Load()

	if t > b {
		d.bottom.Store(t)
		return tree.NoNode, false
	}

	id := tree.NodeID(d.buf[b&d.mask].Load())
	if t < b {
		return id, true
	}

	// Last element: race any thief for it.
	won := d.top.CompareAndSwap(t, t+1)
	d.bottom.Store(t + 1)
	if !won {
		return tree.NoNode, false
	}
	return id, true
}

// Steal takes the oldest id from the top.
func (d *Deque) Steal() (tree.NodeID, StealResult) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return tree.NoNode, Empty
	}

	id := tree.NodeID(d.buf[t&d.mask].Load())
	if !d.top.CompareAndSwap(t, t+1) {
		return tree.NoNode, Abort
	}
	return id, Success
}
