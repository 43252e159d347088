// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import "testing"

func TestLIFO(t *testing.T) {
	s := NewLIFO(1, 2, 3)
	if top, ok := s.Peek(); !ok || top != 3 {
		t.Fatalf("Expected peek to return 3 but got %v", top)
	}
	var result []int
	for s.Size() > 0 {
		v, _ := s.Pop()
		result = append(result, v)
	}
	if len(result) != 3 || result[0] != 3 || result[2] != 1 {
		t.Fatalf("Unexpected pop order: %v", result)
	}
	if _, ok := s.Pop(); ok {
		t.Fatal("Expected empty LIFO")
	}
}

func TestFIFO(t *testing.T) {
	s := NewFIFO("a", "b")
	s.Push("c")
	var result []string
	for s.Size() > 0 {
		v, _ := s.Pop()
		result = append(result, v)
	}
	if len(result) != 3 || result[0] != "a" || result[2] != "c" {
		t.Fatalf("Unexpected pop order: %v", result)
	}
	s.Push("d")
	if front, ok := s.Peek(); !ok || front != "d" {
		t.Fatalf("Expected FIFO to be reusable after draining but got %v", front)
	}
}
