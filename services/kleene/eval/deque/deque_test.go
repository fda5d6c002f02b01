// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deque

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/services/kleene/tree"
)

func TestNew_Capacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, 1, New(1).Cap())
	assert.Equal(t, 8, New(5).Cap())
	assert.Equal(t, 16384, New(10000).Cap())
	assert.Equal(t, 1024, New(1024).Cap())
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 1025: 2048}
	for in, want := range cases {
		assert.Equal(t, want, NextPowerOfTwo(in), "n=%d", in)
	}
}

func TestPushPop_LIFO(t *testing.T) {
	d := New(4)
	for i := 0; i < 4; i++ {
		require.True(t, d.Push(tree.NodeID(i)))
	}
	assert.False(t, d.Push(99), "push beyond capacity fails")
	assert.Equal(t, 4, d.Len())

	for i := 3; i >= 0; i-- {
		id, ok := d.Pop()
		require.True(t, ok)
		assert.Equal(t, tree.NodeID(i), id)
	}
	id, ok := d.Pop()
	assert.False(t, ok)
	assert.Equal(t, tree.NoNode, id)
	assert.Equal(t, 0, d.Len())
}

func TestSteal_FIFO(t *testing.T) {
	d := New(8)
	for i := 0; i < 3; i++ {
		d.Push(tree.NodeID(i))
	}
	for i := 0; i < 3; i++ {
		id, res := d.Steal()
		require.Equal(t, Success, res)
		assert.Equal(t, tree.NodeID(i), id)
	}
	_, res := d.Steal()
	assert.Equal(t, Empty, res)
}

func TestWrapAround(t *testing.T) {
	d := New(4)
	next := 0
	for round := 0; round < 10; round++ {
		for d.Push(tree.NodeID(next)) {
			next++
		}
		_, res := d.Steal()
		require.Equal(t, Success, res)
		_, ok := d.Pop()
		require.True(t, ok)
		for d.Len() > 0 {
			d.Pop()
		}
	}
	assert.Equal(t, 0, d.Len())
}

func TestStealResult_String(t *testing.T) {
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "success", Success.String())
}

// TestConcurrentOwnerAndThieves checks that every pushed id is taken
// exactly once while the owner pops and several thieves steal.
func TestConcurrentOwnerAndThieves(t *testing.T) {
	const (
		total   = 20000
		thieves = 4
	)
	d := New(total)
	seen := make([]atomic.Int32, total)
	var taken atomic.Int64
	var done atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < thieves; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				id, res := d.Steal()
				if res == Success {
					seen[id].Add(1)
					taken.Add(1)
					continue
				}
				runtime.Gosched()
			}
		}()
	}

	for i := 0; i < total; i++ {
		require.True(t, d.Push(tree.NodeID(i)))
		if i%3 == 0 {
			if id, ok := d.Pop(); ok {
				seen[id].Add(1)
				taken.Add(1)
			}
		}
	}
	for {
		id, ok := d.Pop()
		if !ok {
			break
		}
		seen[id].Add(1)
		taken.Add(1)
	}
	for taken.Load() < total {
		runtime.Gosched()
	}
	done.Store(true)
	wg.Wait()

	assert.Equal(t, int64(total), taken.Load())
	for i := range seen {
		if n := seen[i].Load(); n != 1 {
			t.Fatalf("id %d taken %d times", i, n)
		}
	}
}
