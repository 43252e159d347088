// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

// LIFO represents a simple LIFO queue.
type LIFO[T any] struct {
	top  *queueNode[T]
	size int
}

type queueNode[T any] struct {
	v    T
	next *queueNode[T]
}

// NewLIFO returns a new LIFO queue containing elements ts starting with the
// left-most argument at the bottom.
func NewLIFO[T any](ts ...T) *LIFO[T] {
	s := &LIFO[T]{}
	for i := range ts {
		s.Push(ts[i])
	}
	return s
}

// Push adds a new element onto the LIFO.
func (s *LIFO[T]) Push(t T) {
	s.top = &queueNode[T]{v: t, next: s.top}
	s.size++
}

// Peek returns the top of the LIFO. If LIFO is empty, returns the zero value
// and false.
func (s *LIFO[T]) Peek() (T, bool) {
	if s.top == nil {
		var zero T
		return zero, false
	}
	return s.top.v, true
}

// Pop returns the top of the LIFO and removes it. If LIFO is empty returns
// the zero value and false.
func (s *LIFO[T]) Pop() (T, bool) {
	if s.top == nil {
		var zero T
		return zero, false
	}
	node := s.top
	s.top = node.next
	s.size--
	return node.v, true
}

// Size returns the size of the LIFO.
func (s *LIFO[T]) Size() int {
	return s.size
}

// FIFO represents a simple FIFO queue.
type FIFO[T any] struct {
	front *queueNode[T]
	back  *queueNode[T]
	size  int
}

// NewFIFO returns a new FIFO queue containing elements ts starting with the
// left-most argument at the front.
func NewFIFO[T any](ts ...T) *FIFO[T] {
	s := &FIFO[T]{}
	for i := range ts {
		s.Push(ts[i])
	}
	return s
}

// Push adds a new element onto the back of the FIFO.
func (s *FIFO[T]) Push(t T) {
	node := &queueNode[T]{v: t}
	if s.back == nil {
		s.front = node
	} else {
		s.back.next = node
	}
	s.back = node
	s.size++
}

// Peek returns the front of the FIFO. If FIFO is empty, returns the zero
// value and false.
func (s *FIFO[T]) Peek() (T, bool) {
	if s.front == nil {
		var zero T
		return zero, false
	}
	return s.front.v, true
}

// Pop returns the front of the FIFO and removes it. If FIFO is empty returns
// the zero value and false.
func (s *FIFO[T]) Pop() (T, bool) {
	if s.front == nil {
		var zero T
		return zero, false
	}
	node := s.front
	s.front = node.next
	if s.front == nil {
		s.back = nil
	}
	s.size--
	return node.v, true
}

// Size returns the size of the FIFO.
func (s *FIFO[T]) Size() int {
	return s.size
}
