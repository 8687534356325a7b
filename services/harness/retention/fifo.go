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

// initialUnboundedSize is the starting allocation of an unbounded FIFO.
const initialUnboundedSize = 64

// =============================================================================
// FIFO
// =============================================================================

// FIFO is a circular queue that either evicts its oldest element when full
// or, when created with capacity zero, grows without limit.
//
// # Description
//
// The bounded form pre-allocates its full capacity and never reallocates.
// The unbounded form doubles its backing array when full; this is the
// shape a leaking collection takes. Vacated slots are zeroed so that popped
// and evicted elements become unreachable immediately.
//
// # Thread Safety
//
// Not safe for concurrent use. A FIFO belongs to the goroutine that drives
// the scenario or runner that owns it.
//
// # Example
//
//	sessions := NewFIFO[*session](500)
//	if old, evicted := sessions.Push(s); evicted {
//	    logger.Debug("evicted", "id", old.id)
//	}
type FIFO[T any] struct {
	buf      []T
	head     int
	size     int
	capacity int
	evicted  uint64
}

// NewFIFO creates a FIFO. A capacity of zero or less means unbounded.
func NewFIFO[T any](capacity int) *FIFO[T] {
	if capacity <= 0 {
		return &FIFO[T]{buf: make([]T, initialUnboundedSize)}
	}
	return &FIFO[T]{buf: make([]T, capacity), capacity: capacity}
}

// Push appends v. When a bounded FIFO is full the oldest element is removed
// first and returned with evicted set to true.
func (q *FIFO[T]) Push(v T) (old T, evicted bool) {
	if q.size == len(q.buf) {
		if q.capacity > 0 {
			old, _ = q.Pop()
			evicted = true
			q.evicted++
		} else {
			q.grow()
		}
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	return old, evicted
}

// Pop removes and returns the oldest element.
func (q *FIFO[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// Peek returns the oldest element without removing it.
func (q *FIFO[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// At returns the i-th oldest element. It panics if i is out of range.
func (q *FIFO[T]) At(i int) T {
	if i < 0 || i >= q.size {
		panic("retention: FIFO index out of range")
	}
	return q.buf[(q.head+i)%len(q.buf)]
}

// PopWhile pops from the head while pred holds and returns the number popped.
func (q *FIFO[T]) PopWhile(pred func(T) bool) int {
	n := 0
	for q.size > 0 && pred(q.buf[q.head]) {
		q.Pop()
		n++
	}
	return n
}

// Len returns the number of elements held.
func (q *FIFO[T]) Len() int { return q.size }

// Capacity returns the bound, or zero when unbounded.
func (q *FIFO[T]) Capacity() int { return q.capacity }

// Evicted returns the number of elements removed by Push to make room.
func (q *FIFO[T]) Evicted() uint64 { return q.evicted }

// Clear drops every element. The eviction count is kept.
func (q *FIFO[T]) Clear() {
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head = 0
	q.size = 0
}

func (q *FIFO[T]) grow() {
	next := make([]T, 2*len(q.buf))
	for i := 0; i < q.size; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
