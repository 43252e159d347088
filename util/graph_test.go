// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGraphEdgeRefCounts(t *testing.T) {
	g := NewGraph()
	g.AddEdge("p", "q", "")
	g.AddEdge("p", "q", "")
	g.AddEdge("p", "q", "negation")

	e, ok := g.Edge("p", "q")
	if !ok || !e.HasLabel("negation") || !e.HasLabel("") {
		t.Fatalf("Expected labelled edge but got %v", e)
	}

	g.RemoveEdge("p", "q", "negation")
	if e.HasLabel("negation") {
		t.Fatal("Expected negation label to be removed")
	}
	g.RemoveEdge("p", "q", "")
	if _, ok := g.Edge("p", "q"); !ok {
		t.Fatal("Expected edge to survive while referenced")
	}
	g.RemoveEdge("p", "q", "")
	if _, ok := g.Edge("p", "q"); ok {
		t.Fatal("Expected edge to be removed")
	}
	if g.HasNode("p") || g.HasNode("q") {
		t.Fatalf("Expected unreferenced nodes to be removed: %v", g.Nodes())
	}
}

func TestGraphNodeRefCounts(t *testing.T) {
	g := NewGraph()
	g.AddNode("p")
	g.AddEdge("p", "q", "")
	g.RemoveEdge("p", "q", "")
	if !g.HasNode("p") {
		t.Fatal("Expected referenced node to remain")
	}
	if g.HasNode("q") {
		t.Fatal("Expected q to be removed")
	}
	g.RemoveNode("p")
	if g.HasNode("p") {
		t.Fatal("Expected p to be removed")
	}
}

func TestGraphCycles(t *testing.T) {
	tests := []struct {
		note     string
		edges    [][2]string
		expected [][]string
	}{
		{
			note:  "acyclic",
			edges: [][2]string{{"p", "q"}, {"q", "r"}, {"p", "r"}},
		},
		{
			note:     "self loop",
			edges:    [][2]string{{"p", "p"}, {"p", "q"}},
			expected: [][]string{{"p"}},
		},
		{
			note:     "mutual",
			edges:    [][2]string{{"p", "q"}, {"q", "r"}, {"r", "p"}, {"r", "s"}},
			expected: [][]string{{"p", "q", "r"}},
		},
		{
			note:     "two components",
			edges:    [][2]string{{"a", "b"}, {"b", "a"}, {"c", "d"}, {"d", "c"}},
			expected: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			note:     "overlapping",
			edges:    [][2]string{{"p", "q"}, {"q", "p"}, {"q", "r"}, {"q", "s"}, {"s", "q"}, {"r", "q"}},
			expected: [][]string{{"p", "q"}, {"q", "r"}, {"q", "s"}},
		},
		{
			note:     "shared chord",
			edges:    [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"b", "a"}},
			expected: [][]string{{"a", "b"}, {"a", "b", "c"}},
		},
	}

	for i, tc := range tests {
		g := NewGraph()
		for _, e := range tc.edges {
			g.AddEdge(e[0], e[1], "")
		}
		result := g.Cycles()
		if diff := cmp.Diff(tc.expected, result); diff != "" {
			t.Errorf("Test case (%d) %v: unexpected cycles (-want, +got):\n%v", i+1, tc.note, diff)
		}
		if len(g.CyclicComponents()) == 0 && len(tc.expected) > 0 {
			t.Errorf("Test case (%d) %v: expected cyclic components", i+1, tc.note)
		}
		if g.HasCycle() != (len(tc.expected) > 0) {
			t.Errorf("Test case (%d) %v: unexpected HasCycle", i+1, tc.note)
		}
	}
}

func TestGraphReachable(t *testing.T) {
	g := NewGraph()
	g.AddEdge("p", "q", "")
	g.AddEdge("q", "r", "")
	g.AddEdge("s", "r", "")

	if diff := cmp.Diff([]string{"p", "q", "r"}, g.Reachable("p")); diff != "" {
		t.Errorf("Unexpected reachable set (-want, +got):\n%v", diff)
	}
	if diff := cmp.Diff([]string{"p", "q", "r", "s"}, g.ReachableReverse("r")); diff != "" {
		t.Errorf("Unexpected reverse reachable set (-want, +got):\n%v", diff)
	}
	if diff := cmp.Diff([]string{"p", "q", "r"}, g.Path("p", "r")); diff != "" {
		t.Errorf("Unexpected path (-want, +got):\n%v", diff)
	}
	if path := g.Path("r", "p"); len(path) != 0 {
		t.Errorf("Expected no path but got %v", path)
	}
}
