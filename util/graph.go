// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import (
	"slices"
	"sort"
)

// Traversal defines a basic interface to perform traversals.
type Traversal[T comparable] interface {

	// Edges should return the neighbours of node "u".
	Edges(u T) []T

	// Visited should return true if node "u" has already been visited in this
	// traversal. If the same traversal is used multiple times, the state that
	// tracks visited nodes should be reset.
	Visited(u T) bool
}

// Iter should return true to indicate stop.
type Iter[T any] func(u T) bool

// DFS performs a depth first traversal calling f for each node starting from u.
// If f returns true, traversal stops and DFS returns true.
func DFS[T comparable](t Traversal[T], f Iter[T], u T) bool {
	lifo := NewLIFO(u)
	for lifo.Size() > 0 {
		next, _ := lifo.Pop()
		if t.Visited(next) {
			continue
		}
		if f(next) {
			return true
		}
		for _, v := range t.Edges(next) {
			lifo.Push(v)
		}
	}
	return false
}

// DFSPath returns a path from node a to node z found by performing
// a depth first traversal. If no path is found, an empty slice is returned.
func DFSPath[T comparable](t Traversal[T], a, z T) []T {
	p := dfsRecursive(t, a, z, []T{})
	for i := len(p)/2 - 1; i >= 0; i-- {
		o := len(p) - i - 1
		p[i], p[o] = p[o], p[i]
	}
	return p
}

func dfsRecursive[T comparable](t Traversal[T], u, z T, path []T) []T {
	if t.Visited(u) {
		return path
	}
	for _, v := range t.Edges(u) {
		if v == z {
			path = append(path, z)
			path = append(path, u)
			return path
		}
		if p := dfsRecursive(t, v, z, path); len(p) > 0 {
			path = append(p, u)
			return path
		}
	}
	return path
}

// Edge is a directed edge of a Graph. Every label carries a reference count
// so that the same edge can be contributed by several sources.
type Edge struct {
	Src    string
	Dst    string
	Labels map[string]int
}

// HasLabel returns true if the edge carries the label.
func (e *Edge) HasLabel(label string) bool {
	return e.Labels[label] > 0
}

// Graph is a directed graph over string nodes with reference-counted nodes
// and labelled, reference-counted edges. Removing a node or edge label only
// takes effect once every addition has been matched by a removal.
type Graph struct {
	nodes   map[string]int
	edges   map[string]map[string]*Edge
	reverse map[string]map[string]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   map[string]int{},
		edges:   map[string]map[string]*Edge{},
		reverse: map[string]map[string]struct{}{},
	}
}

// AddNode adds a reference to node n.
func (g *Graph) AddNode(n string) {
	g.nodes[n]++
}

// RemoveNode drops a reference to node n. The node disappears when it has no
// references and no edges.
func (g *Graph) RemoveNode(n string) {
	if g.nodes[n] > 0 {
		g.nodes[n]--
	}
	g.gc(n)
}

func (g *Graph) gc(n string) {
	if g.nodes[n] > 0 || len(g.edges[n]) > 0 || len(g.reverse[n]) > 0 {
		return
	}
	delete(g.nodes, n)
	delete(g.edges, n)
	delete(g.reverse, n)
}

// HasNode returns true if n is in the graph.
func (g *Graph) HasNode(n string) bool {
	_, ok := g.nodes[n]
	return ok
}

// Nodes returns the sorted nodes of the graph.
func (g *Graph) Nodes() []string {
	return SortedKeys(g.nodes)
}

// AddEdge adds a reference to the labelled edge from src to dst. Both nodes
// are added if missing.
func (g *Graph) AddEdge(src, dst, label string) {
	if _, ok := g.nodes[src]; !ok {
		g.nodes[src] = 0
	}
	if _, ok := g.nodes[dst]; !ok {
		g.nodes[dst] = 0
	}
	out, ok := g.edges[src]
	if !ok {
		out = map[string]*Edge{}
		g.edges[src] = out
	}
	e, ok := out[dst]
	if !ok {
		e = &Edge{Src: src, Dst: dst, Labels: map[string]int{}}
		out[dst] = e
		in, ok := g.reverse[dst]
		if !ok {
			in = map[string]struct{}{}
			g.reverse[dst] = in
		}
		in[src] = struct{}{}
	}
	e.Labels[label]++
}

// RemoveEdge drops a reference to the labelled edge from src to dst.
func (g *Graph) RemoveEdge(src, dst, label string) {
	e, ok := g.edges[src][dst]
	if !ok {
		return
	}
	if e.Labels[label] > 1 {
		e.Labels[label]--
		return
	}
	delete(e.Labels, label)
	if len(e.Labels) == 0 {
		delete(g.edges[src], dst)
		if len(g.edges[src]) == 0 {
			delete(g.edges, src)
		}
		delete(g.reverse[dst], src)
		if len(g.reverse[dst]) == 0 {
			delete(g.reverse, dst)
		}
	}
	g.gc(src)
	g.gc(dst)
}

// Edge returns the edge from src to dst.
func (g *Graph) Edge(src, dst string) (*Edge, bool) {
	e, ok := g.edges[src][dst]
	return e, ok
}

// Successors returns the sorted targets of the edges leaving n.
func (g *Graph) Successors(n string) []string {
	return SortedKeys(g.edges[n])
}

// Predecessors returns the sorted sources of the edges entering n.
func (g *Graph) Predecessors(n string) []string {
	return SortedKeys(g.reverse[n])
}

// Reachable returns every node reachable from the given nodes, including
// the nodes themselves if they are in the graph.
func (g *Graph) Reachable(from ...string) []string {
	return g.reach(from, g.Successors)
}

// ReachableReverse returns every node from which one of the given nodes can
// be reached, including the nodes themselves if they are in the graph.
func (g *Graph) ReachableReverse(from ...string) []string {
	return g.reach(from, g.Predecessors)
}

func (g *Graph) reach(from []string, next func(string) []string) []string {
	t := &graphTraversal{next: next, visited: map[string]struct{}{}}
	var result []string
	for _, n := range from {
		if !g.HasNode(n) {
			continue
		}
		DFS[string](t, func(u string) bool {
			result = append(result, u)
			return false
		}, n)
	}
	sort.Strings(result)
	return result
}

// Path returns a path of nodes from a to z, or nil if z is not reachable.
func (g *Graph) Path(a, z string) []string {
	t := &graphTraversal{next: g.Successors, visited: map[string]struct{}{}}
	return DFSPath[string](t, a, z)
}

type graphTraversal struct {
	next    func(string) []string
	visited map[string]struct{}
}

func (t *graphTraversal) Edges(u string) []string {
	return t.next(u)
}

func (t *graphTraversal) Visited(u string) bool {
	if _, ok := t.visited[u]; ok {
		return true
	}
	t.visited[u] = struct{}{}
	return false
}

// StronglyConnectedComponents returns the strongly connected components of
// the graph in reverse topological order: a component is listed before every
// component that has an edge into it. Nodes within a component are sorted.
func (g *Graph) StronglyConnectedComponents() [][]string {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var result [][]string

	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Successors(v) {
			if _, ok := indices[w]; !ok {
				connect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			result = append(result, scc)
		}
	}

	for _, n := range g.Nodes() {
		if _, ok := indices[n]; !ok {
			connect(n)
		}
	}
	return result
}

// CyclicComponents returns the components of the graph that contain a
// cycle: those with more than one node and single nodes with an edge to
// themselves.
func (g *Graph) CyclicComponents() [][]string {
	var result [][]string
	for _, scc := range g.StronglyConnectedComponents() {
		if len(scc) > 1 {
			result = append(result, scc)
			continue
		}
		if _, ok := g.edges[scc[0]][scc[0]]; ok {
			result = append(result, scc)
		}
	}
	return result
}

// Cycles returns every elementary cycle of the graph. A cycle is listed once,
// as the path of its nodes starting at its smallest node; the edge from the
// last node back to the first is implied. Cycles are sorted.
func (g *Graph) Cycles() [][]string {
	var cycles [][]string
	for _, scc := range g.CyclicComponents() {
		for i, start := range scc {
			allowed := make(map[string]struct{}, len(scc)-i)
			for _, n := range scc[i:] {
				allowed[n] = struct{}{}
			}
			path := []string{start}
			onPath := map[string]bool{start: true}

			var walk func(u string)
			walk = func(u string) {
				for _, w := range g.Successors(u) {
					if w == start {
						cycles = append(cycles, append([]string(nil), path...))
						continue
					}
					if _, ok := allowed[w]; !ok || onPath[w] {
						continue
					}
					onPath[w] = true
					path = append(path, w)
					walk(w)
					path = path[:len(path)-1]
					onPath[w] = false
				}
			}
			walk(start)
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return slices.Compare(cycles[i], cycles[j]) < 0
	})
	return cycles
}

// HasCycle returns true if the graph contains a cycle.
func (g *Graph) HasCycle() bool {
	return len(g.CyclicComponents()) > 0
}
