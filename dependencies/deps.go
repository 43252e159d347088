// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package dependencies maintains the table dependency graph of a set of
// rules: one node per table and an edge from the head table of a rule to
// every table in its body.
package dependencies

import (
	"fmt"
	"strings"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/util"
)

// Edge labels.
const (
	LabelPositive = "positive"
	LabelNegation = "negation"
)

// Options controls which literals contribute to the graph.
type Options struct {
	// ExcludeAtoms prevents facts from adding nodes.
	ExcludeAtoms bool

	// SelectHead returns true for head literals that are added to the graph.
	// All heads are selected if nil.
	SelectHead func(head *ast.Literal) bool

	// SelectBody returns true for body literals that are added to the graph.
	// All body literals are selected if nil.
	SelectBody func(lit *ast.Literal) bool

	// BodyToHead orients edges from body tables to head tables.
	BodyToHead bool
}

type changeKind int

const (
	changeNode changeKind = iota
	changeEdge
	changeModal
)

// Change records a single modification of the graph so that it can be
// undone.
type Change struct {
	kind   changeKind
	insert bool
	node   string
	src    string
	dst    string
	label  string
	modal  string
}

func (c Change) String() string {
	op := "-"
	if c.insert {
		op = "+"
	}
	switch c.kind {
	case changeNode:
		return fmt.Sprintf("%vnode(%v)", op, c.node)
	case changeEdge:
		return fmt.Sprintf("%vedge(%v, %v, %v)", op, c.src, c.dst, c.label)
	}
	return fmt.Sprintf("%vmodal(%v, %v)", op, c.modal, c.node)
}

// Graph is the dependency graph of a set of rules. Nodes are fully qualified
// table names. Edges are labelled with LabelNegation when the body literal is
// negated and LabelPositive otherwise. Graph is not safe for concurrent use.
type Graph struct {
	graph  *util.Graph
	modals map[string]map[string]int
	opts   Options
}

// New returns an empty dependency graph.
func New(opts Options) *Graph {
	return &Graph{
		graph:  util.NewGraph(),
		modals: map[string]map[string]int{},
		opts:   opts,
	}
}

// NewFromFormulas returns the dependency graph of the formulas, whose
// unqualified tables belong to theory.
func NewFromFormulas(fs []ast.Formula, theory string, opts Options) *Graph {
	g := New(opts)
	for _, f := range fs {
		g.Insert(f, theory)
	}
	return g
}

// Insert adds the nodes and edges of f to the graph.
func (g *Graph) Insert(f ast.Formula, theory string) []Change {
	return g.Update([]*ast.Event{ast.NewEvent(f, true, theory)})
}

// Delete removes the nodes and edges of f from the graph.
func (g *Graph) Delete(f ast.Formula, theory string) []Change {
	return g.Update([]*ast.Event{ast.NewEvent(f, false, theory)})
}

// Update applies the events to the graph. Unqualified tables of an event's
// formula belong to the event's target. The returned changes can be passed
// to Undo.
func (g *Graph) Update(events []*ast.Event) []Change {
	var changes []Change
	for _, e := range events {
		nodes, edges, modals := g.nodesEdges(e.Formula, e.Target)
		for _, n := range nodes {
			changes = append(changes, Change{kind: changeNode, insert: e.Insert, node: n})
		}
		for _, edge := range edges {
			changes = append(changes, Change{kind: changeEdge, insert: e.Insert, src: edge[0], dst: edge[1], label: edge[2]})
		}
		for _, m := range modals {
			changes = append(changes, Change{kind: changeModal, insert: e.Insert, modal: m[0], node: m[1]})
		}
	}
	for _, c := range changes {
		g.apply(c, c.insert)
	}
	return changes
}

// Undo reverts the changes returned by Update.
func (g *Graph) Undo(changes []Change) {
	for i := len(changes) - 1; i >= 0; i-- {
		g.apply(changes[i], !changes[i].insert)
	}
}

func (g *Graph) apply(c Change, insert bool) {
	switch c.kind {
	case changeNode:
		if insert {
			g.graph.AddNode(c.node)
		} else {
			g.graph.RemoveNode(c.node)
		}
	case changeEdge:
		if insert {
			g.graph.AddEdge(c.src, c.dst, c.label)
		} else {
			g.graph.RemoveEdge(c.src, c.dst, c.label)
		}
	case changeModal:
		tables, ok := g.modals[c.modal]
		if !ok {
			tables = map[string]int{}
			g.modals[c.modal] = tables
		}
		if insert {
			tables[c.node]++
		} else if tables[c.node] > 1 {
			tables[c.node]--
		} else {
			delete(tables, c.node)
		}
	}
}

func (g *Graph) nodesEdges(f ast.Formula, theory string) (nodes []string, edges [][3]string, modals [][2]string) {
	seenNodes := map[string]struct{}{}
	addNode := func(n string) {
		if _, ok := seenNodes[n]; !ok {
			seenNodes[n] = struct{}{}
			nodes = append(nodes, n)
		}
	}
	seenEdges := map[[3]string]struct{}{}

	switch f := f.(type) {
	case *ast.Literal:
		if g.opts.ExcludeAtoms {
			return
		}
		table := qualify(f, theory)
		addNode(table)
		if f.Modal != "" {
			modals = append(modals, [2]string{f.Modal, table})
		}
	case *ast.Rule:
		for _, head := range f.Heads {
			if g.opts.SelectHead != nil && !g.opts.SelectHead(head) {
				continue
			}
			htable := qualify(head, theory)
			if head.IsModal() {
				modals = append(modals, [2]string{head.Modal, htable})
			}
			addNode(htable)
			for _, lit := range f.Body {
				if lit.IsBuiltin() {
					continue
				}
				if g.opts.SelectBody != nil && !g.opts.SelectBody(lit) {
					continue
				}
				ltable := qualify(lit, theory)
				addNode(ltable)
				label := LabelPositive
				if lit.Negated {
					label = LabelNegation
				}
				edge := [3]string{htable, ltable, label}
				if g.opts.BodyToHead {
					edge = [3]string{ltable, htable, label}
				}
				if _, ok := seenEdges[edge]; !ok {
					seenEdges[edge] = struct{}{}
					edges = append(edges, edge)
				}
			}
		}
	}
	return nodes, edges, modals
}

func qualify(lit *ast.Literal, theory string) string {
	if lit.Theory != "" {
		return lit.Theory + ":" + lit.Table
	}
	if theory == "" {
		return lit.Table
	}
	return theory + ":" + lit.Table
}

// Qualify returns the node name of a table: the table qualified by its
// theory, or by theory if the table is unqualified.
func Qualify(table, theory string) string {
	return qualify(ast.NewLiteral(table), theory)
}

// HasNode returns true if the table is a node of the graph.
func (g *Graph) HasNode(table string) bool {
	return g.graph.HasNode(table)
}

// Nodes returns the sorted nodes of the graph.
func (g *Graph) Nodes() []string {
	return g.graph.Nodes()
}

// HasEdge returns true if there is an edge from src to dst. If label is not
// empty, the edge must carry the label.
func (g *Graph) HasEdge(src, dst, label string) bool {
	e, ok := g.graph.Edge(src, dst)
	if !ok {
		return false
	}
	return label == "" || e.HasLabel(label)
}

// HasCycle returns true if some table depends on itself.
func (g *Graph) HasCycle() bool {
	return g.graph.HasCycle()
}

// Cycles returns every elementary cycle of the graph as the path of its
// tables, starting at the smallest one.
func (g *Graph) Cycles() [][]string {
	return g.graph.Cycles()
}

// CycleString returns a readable description of the cycles in the graph.
func (g *Graph) CycleString() string {
	cycles := g.Cycles()
	strs := make([]string, len(cycles))
	for i, c := range cycles {
		strs[i] = strings.Join(append(c, c[0]), " -> ")
	}
	return strings.Join(strs, "; ")
}

// Dependencies returns the tables reachable from table, including table
// itself. It returns nil if table is not in the graph.
func (g *Graph) Dependencies(table string) []string {
	if !g.graph.HasNode(table) {
		return nil
	}
	return g.graph.Reachable(table)
}

// Dependents returns the tables from which table is reachable, including
// table itself. It returns nil if table is not in the graph.
func (g *Graph) Dependents(table string) []string {
	if !g.graph.HasNode(table) {
		return nil
	}
	return g.graph.ReachableReverse(table)
}

// TablesWithModal returns the sorted tables that appear in a head with the
// given modal operator.
func (g *Graph) TablesWithModal(modal string) []string {
	return util.SortedKeys(g.modals[modal])
}

// Stratification assigns each table a stratum such that a table is in a
// stratum at least as high as every table it depends on, and strictly higher
// than every table it depends on through negation. The boolean result is
// false if no such assignment exists.
func (g *Graph) Stratification() (map[string]int, bool) {
	nodes := g.graph.Nodes()
	stratum := make(map[string]int, len(nodes))
	for _, n := range nodes {
		stratum[n] = 1
	}
	for changed := true; changed; {
		changed = false
		for _, n := range nodes {
			for _, m := range g.graph.Successors(n) {
				e, _ := g.graph.Edge(n, m)
				want := stratum[m]
				if e.HasLabel(LabelNegation) {
					want++
				}
				if want > stratum[n] {
					stratum[n] = want
					changed = true
				}
				if stratum[n] > len(nodes) {
					return nil, false
				}
			}
		}
	}
	return stratum, true
}

// IsStratified returns true if no table depends on itself through negation.
func (g *Graph) IsStratified() bool {
	_, ok := g.Stratification()
	return ok
}

func (g *Graph) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, n := range g.graph.Nodes() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n)
		sb.WriteString(": [")
		for j, m := range g.graph.Successors(n) {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(m)
			if e, _ := g.graph.Edge(n, m); e.HasLabel(LabelNegation) {
				sb.WriteString(" (negated)")
			}
		}
		sb.WriteString("]")
	}
	sb.WriteString("}")
	return sb.String()
}
