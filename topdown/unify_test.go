// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"testing"

	"github.com/open-policy-agent/congress/ast"
)

func TestBiUnify(t *testing.T) {

	tests := []struct {
		note     string
		a        string
		b        string
		ok       bool
		expected string // a plugged after unification
	}{
		{"constants", `p(1, 2)`, `p(1, 2)`, true, `p(1, 2)`},
		{"constant mismatch", `p(1, 2)`, `p(1, 3)`, false, ``},
		{"left vars", `p(x, y)`, `p(1, 2)`, true, `p(1, 2)`},
		{"right vars", `p(1, 2)`, `p(x, y)`, true, `p(1, 2)`},
		{"mixed", `p(x, 2)`, `p(1, y)`, true, `p(1, 2)`},
		{"repeated var", `p(x, x)`, `p(1, 2)`, false, ``},
		{"repeated var ok", `p(x, x)`, `p(1, 1)`, true, `p(1, 1)`},
		{"arity", `p(x)`, `p(1, 2)`, false, ``},
		{"var to var", `p(x, x)`, `p(y, 3)`, true, `p(3, 3)`},
	}

	for i, tc := range tests {
		a := ast.MustParseLiteral(tc.a)
		b := ast.MustParseLiteral(tc.b)
		b1, b2 := NewBindings(), NewBindings()
		undo, ok := BiUnify(a, b1, b, b2)
		if ok != tc.ok {
			t.Errorf("Test case (%d) %v: expected %v but got %v", i+1, tc.note, tc.ok, ok)
			continue
		}
		if !ok {
			if b1.Len() != 0 || b2.Len() != 0 {
				t.Errorf("Test case (%d) %v: expected failed unification to leave no bindings: %v %v", i+1, tc.note, b1, b2)
			}
			continue
		}
		if s := a.Plug(b1).String(); s != tc.expected {
			t.Errorf("Test case (%d) %v: expected %v but got %v", i+1, tc.note, tc.expected, s)
		}
		if s := b.Plug(b2).String(); s != tc.expected {
			t.Errorf("Test case (%d) %v: expected %v for right side but got %v", i+1, tc.note, tc.expected, s)
		}
		undo.Undo()
		if b1.Len() != 0 || b2.Len() != 0 {
			t.Errorf("Test case (%d) %v: expected undo to remove bindings: %v %v", i+1, tc.note, b1, b2)
		}
	}
}

func TestBindingsNamespaced(t *testing.T) {
	owner := NewBindings()
	other := NewBindings()
	a := ast.MustParseLiteral("p(x)")
	b := ast.MustParseLiteral("p(y)")
	if _, ok := BiUnify(a, owner, b, other); !ok {
		t.Fatal("Expected unification to succeed")
	}

	// x is bound to y of the other bindings, which is unbound.
	plugged := a.Plug(owner.Namespaced(owner))
	if plugged.Args[0].Equal(ast.Var("y")) || !plugged.Args[0].IsVar() {
		t.Fatalf("Expected renamed variable but got %v", plugged)
	}
	if s := a.Plug(other.Namespaced(other)).String(); s != "p(x)" {
		t.Fatalf("Expected owner variables to keep their names but got %v", s)
	}
}

func TestBindingsFrom(t *testing.T) {
	b := BindingsFrom(ast.Binding{"x": ast.IntTerm(1), "y": ast.Var("x")})
	if s := ast.MustParseLiteral("p(x, y, z)").Plug(b).String(); s != "p(1, 1, z)" {
		t.Fatalf("Unexpected result: %v", s)
	}
}

func TestMatch(t *testing.T) {
	b, ok := Match(ast.MustParseLiteral("p(x, 1, x)"), ast.MustParseLiteral("p(2, 1, 2)"))
	if !ok || !b.Equal(ast.Binding{"x": ast.IntTerm(2)}) {
		t.Fatalf("Unexpected result: %v %v", b, ok)
	}
	if _, ok := Match(ast.MustParseLiteral("p(x, 1, x)"), ast.MustParseLiteral("p(2, 1, 3)")); ok {
		t.Fatal("Expected match to fail")
	}
	negated := ast.MustParseLiteral("p(x)")
	negated.Negated = true
	b, ok = Match(negated, ast.MustParseLiteral("p(2)"))
	if !ok || !b.Equal(ast.Binding{"x": ast.IntTerm(2)}) {
		t.Fatalf("Expected negation to be ignored but got %v %v", b, ok)
	}
}

func TestSame(t *testing.T) {

	tests := []struct {
		a, b     string
		expected bool
	}{
		{`p(x)`, `p(y)`, true},
		{`p(x, y)`, `p(y, x)`, true},
		{`p(x, x)`, `p(x, y)`, false},
		{`p(x, y)`, `p(x, x)`, false},
		{`p(x, 1)`, `p(y, 1)`, true},
		{`p(x, 1)`, `p(y, 2)`, false},
		{`p(x) :- q(x, y)`, `p(a) :- q(a, b)`, true},
		{`p(x) :- q(x, y)`, `p(a) :- q(a, a)`, false},
		{`p(x) :- q(x)`, `p(x) :- not q(x)`, false},
		{`p(x) :- q(x)`, `p(x)`, false},
	}

	for i, tc := range tests {
		a := ast.MustParse(tc.a)[0]
		b := ast.MustParse(tc.b)[0]
		if result := Same(a, b); result != tc.expected {
			t.Errorf("Test case (%d): expected Same(%v, %v) = %v", i+1, a, b, tc.expected)
		}
	}
}

func TestInstance(t *testing.T) {

	tests := []struct {
		specific, general string
		expected          bool
	}{
		{`p(1, 1)`, `p(x, x)`, true},
		{`p(1, 2)`, `p(x, x)`, false},
		{`p(1, 2)`, `p(x, y)`, true},
		{`p(x, y)`, `p(1, 2)`, false},
		{`p(1) :- q(1, 2)`, `p(x) :- q(x, y)`, true},
		{`p(1) :- q(2, 2)`, `p(x) :- q(x, y)`, false},
	}

	for i, tc := range tests {
		s := ast.MustParse(tc.specific)[0]
		g := ast.MustParse(tc.general)[0]
		if result := Instance(s, g); result != tc.expected {
			t.Errorf("Test case (%d): expected Instance(%v, %v) = %v", i+1, s, g, tc.expected)
		}
	}
}

func TestSkolemize(t *testing.T) {
	fs := []ast.Formula{
		ast.MustParseLiteral("p(x, y)"),
		ast.MustParseRule("q(x) :- r(x, z)"),
	}
	result := Skolemize(fs)
	lit := result[0].(*ast.Literal)
	rule := result[1].(*ast.Rule)
	if !lit.IsGround() || len(rule.Vars()) != 0 {
		t.Fatalf("Expected ground formulas but got %v", result)
	}
	if !lit.Args[0].Equal(rule.Head().Args[0]) {
		t.Fatalf("Expected x to be replaced consistently: %v", result)
	}
	if lit.Args[0].Equal(lit.Args[1]) {
		t.Fatalf("Expected different variables to be replaced by different constants: %v", result)
	}
}
