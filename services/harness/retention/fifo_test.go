// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO_Bounded(t *testing.T) {
	q := NewFIFO[int](3)

	for i := 1; i <= 3; i++ {
		_, evicted := q.Push(i)
		assert.False(t, evicted)
	}
	assert.Equal(t, 3, q.Len())

	old, evicted := q.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(1), q.Evicted())

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, head)
	assert.Equal(t, 4, q.At(2))
}

func TestFIFO_UnboundedGrows(t *testing.T) {
	q := NewFIFO[int](0)
	for i := 0; i < 1000; i++ {
		_, evicted := q.Push(i)
		require.False(t, evicted)
		require.Equal(t, i+1, q.Len())
	}
	assert.Equal(t, 0, q.Capacity())
	for i := 0; i < 1000; i++ {
		assert.Equal(t, i, q.At(i))
	}
}

func TestFIFO_GrowAfterWrap(t *testing.T) {
	q := NewFIFO[int](0)
	for i := 0; i < initialUnboundedSize; i++ {
		q.Push(i)
	}
	for i := 0; i < 10; i++ {
		q.Pop()
	}
	for i := 0; i < 20; i++ {
		q.Push(initialUnboundedSize + i)
	}
	require.Equal(t, initialUnboundedSize+10, q.Len())
	for i := 0; i < q.Len(); i++ {
		assert.Equal(t, 10+i, q.At(i))
	}
}

func TestFIFO_PopWhile(t *testing.T) {
	q := NewFIFO[int](10)
	for i := 0; i < 6; i++ {
		q.Push(i)
	}
	n := q.PopWhile(func(v int) bool { return v < 4 })
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, q.Len())

	q.Clear()
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestFIFO_AtPanicsOutOfRange(t *testing.T) {
	q := NewFIFO[int](2)
	assert.Panics(t, func() { q.At(0) })
}
