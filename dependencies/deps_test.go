// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package dependencies

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/ast"
)

func TestGraphDependencies(t *testing.T) {
	g := NewFromFormulas(ast.MustParse(`
		p(x) :- q(x), not r(x)
		q(x) :- s(x), nova:servers(x)
		t(1)
	`), "alpha", Options{})

	expected := []string{"alpha:p", "alpha:q", "alpha:r", "alpha:s", "alpha:t", "nova:servers"}
	if diff := cmp.Diff(expected, g.Nodes()); diff != "" {
		t.Fatalf("Unexpected nodes (-want, +got):\n%v", diff)
	}

	deps := g.Dependencies("alpha:p")
	expected = []string{"alpha:p", "alpha:q", "alpha:r", "alpha:s", "nova:servers"}
	if diff := cmp.Diff(expected, deps); diff != "" {
		t.Errorf("Unexpected dependencies (-want, +got):\n%v", diff)
	}

	expected = []string{"alpha:p", "alpha:q", "nova:servers"}
	if diff := cmp.Diff(expected, g.Dependents("nova:servers")); diff != "" {
		t.Errorf("Unexpected dependents (-want, +got):\n%v", diff)
	}

	if g.Dependencies("alpha:missing") != nil {
		t.Error("Expected nil dependencies for unknown table")
	}

	if !g.HasEdge("alpha:p", "alpha:r", LabelNegation) || g.HasEdge("alpha:p", "alpha:q", LabelNegation) {
		t.Errorf("Unexpected edge labels: %v", g)
	}

	if g.HasCycle() {
		t.Errorf("Expected no cycle: %v", g)
	}
}

func TestGraphExcludeAtoms(t *testing.T) {
	g := NewFromFormulas(ast.MustParse(`p(1) q(x) :- r(x)`), "", Options{ExcludeAtoms: true})
	if diff := cmp.Diff([]string{"q", "r"}, g.Nodes()); diff != "" {
		t.Errorf("Unexpected nodes (-want, +got):\n%v", diff)
	}
}

func TestGraphUndo(t *testing.T) {
	g := NewFromFormulas(ast.MustParse(`p(x) :- q(x)`), "alpha", Options{})
	before := g.String()

	changes := g.Update([]*ast.Event{
		ast.NewEvent(ast.MustParseRule(`q(x) :- p(x)`), true, "alpha"),
		ast.NewEvent(ast.MustParseRule(`p(x) :- q(x)`), false, "alpha"),
		ast.NewEvent(ast.MustParseRule(`execute[nova:pause(x)] :- q(x)`), true, "alpha"),
	})

	if !g.HasEdge("alpha:q", "alpha:p", "") || g.HasEdge("alpha:p", "alpha:q", "") {
		t.Fatalf("Unexpected graph after update: %v", g)
	}
	if diff := cmp.Diff([]string{"nova:pause"}, g.TablesWithModal(ast.ModalExecute)); diff != "" {
		t.Fatalf("Unexpected modal tables (-want, +got):\n%v", diff)
	}

	g.Undo(changes)

	if g.String() != before {
		t.Fatalf("Expected %v after undo but got %v", before, g)
	}
	if len(g.TablesWithModal(ast.ModalExecute)) != 0 {
		t.Fatalf("Expected modal index to be restored")
	}
}

func TestGraphCycles(t *testing.T) {
	tests := []struct {
		note       string
		rules      string
		cycle      bool
		stratified bool
	}{
		{"no recursion", `p(x) :- q(x), not r(x)`, false, true},
		{"self recursion", `p(x) :- p(x)`, true, true},
		{"mutual recursion", `p(x) :- q(x) q(x) :- r(x) r(x) :- p(x)`, true, true},
		{"negated self", `p(x) :- q(x), not p(x)`, true, false},
		{"negated cycle", `p(x) :- q(x), not r(x) r(x) :- p(x)`, true, false},
		{"negation outside cycle", `p(x) :- q(x), not s(x) q(x) :- p(x)`, true, true},
	}

	for i, tc := range tests {
		g := NewFromFormulas(ast.MustParse(tc.rules), "", Options{})
		if g.HasCycle() != tc.cycle {
			t.Errorf("Test case (%d) %v: expected cycle %v: %v", i+1, tc.note, tc.cycle, g)
		}
		if g.IsStratified() != tc.stratified {
			t.Errorf("Test case (%d) %v: expected stratified %v: %v", i+1, tc.note, tc.stratified, g)
		}
	}
}

func TestGraphElementaryCycles(t *testing.T) {
	g := NewFromFormulas(ast.MustParse(`
		p(x) :- q(x)
		q(x) :- p(x)
		q(x) :- r(x), not s(x)
		s(x) :- q(x)
		r(x) :- q(x)
	`), "a", Options{})

	expected := [][]string{{"a:p", "a:q"}, {"a:q", "a:r"}, {"a:q", "a:s"}}
	if diff := cmp.Diff(expected, g.Cycles()); diff != "" {
		t.Fatalf("Unexpected cycles (-want, +got):\n%v", diff)
	}
	if got := g.CycleString(); got != "a:p -> a:q -> a:p; a:q -> a:r -> a:q; a:q -> a:s -> a:q" {
		t.Fatalf("Unexpected cycle string: %v", got)
	}
	if g.IsStratified() {
		t.Fatal("Expected cycle through negation to prevent stratification")
	}
}

func TestGraphStratification(t *testing.T) {
	g := NewFromFormulas(ast.MustParse(`
		p(x) :- q(x), not r(x)
		r(x) :- s(x), not t(x)
	`), "", Options{})

	strata, ok := g.Stratification()
	if !ok {
		t.Fatal("Expected stratified rules")
	}
	expected := map[string]int{"p": 3, "q": 1, "r": 2, "s": 1, "t": 1}
	if diff := cmp.Diff(expected, strata); diff != "" {
		t.Errorf("Unexpected strata (-want, +got):\n%v", diff)
	}
}

func TestGraphSelectBody(t *testing.T) {
	g := NewFromFormulas(ast.MustParse(`p(x) :- q(x), nova:r(x)`), "alpha", Options{
		SelectBody: func(lit *ast.Literal) bool { return lit.Theory == "" },
	})
	if g.HasNode("nova:r") {
		t.Errorf("Expected nova:r to be excluded: %v", g)
	}
}
