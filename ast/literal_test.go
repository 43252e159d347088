// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPartitionTablename(t *testing.T) {
	tests := []struct {
		input  string
		theory string
		table  string
	}{
		{"p", "", "p"},
		{"nova:servers", "nova", "servers"},
		{"a:b:c", "a:b", "c"},
	}
	for i, tc := range tests {
		theory, table := PartitionTablename(tc.input)
		if theory != tc.theory || table != tc.table {
			t.Errorf("Test case (%d) %v: Expected (%q, %q) but got (%q, %q)", i+1, tc.input, tc.theory, tc.table, theory, table)
		}
	}

	if got := FullTablename("p", "alpha", "alpha"); got != "p" {
		t.Errorf("Expected unqualified table name but got %v", got)
	}
	if got := MustParseLiteral("nova:servers(1)").TablenameIn("classification"); got != "nova:servers" {
		t.Errorf("Expected qualified table name but got %v", got)
	}
}

func TestLiteralUpdates(t *testing.T) {
	tests := []struct {
		note     string
		input    string
		f        func(*Literal) *Literal
		expected string
	}{
		{"invert insert", "p+(1)", (*Literal).InvertUpdate, "p-(1)"},
		{"invert delete", "p-(1)", (*Literal).InvertUpdate, "p+(1)"},
		{"invert non-update", "p(1)", (*Literal).InvertUpdate, "p(1)"},
		{"drop update", "p+(1)", (*Literal).DropUpdate, "p(1)"},
		{"make insert", "p(1)", func(l *Literal) *Literal { return l.MakeUpdate(true) }, "p+(1)"},
		{"make delete from insert", "p+(1)", func(l *Literal) *Literal { return l.MakeUpdate(false) }, "p-(1)"},
		{"complement", "p(1)", (*Literal).Complement, "not p(1)"},
		{"drop theory", "nova:p(1)", (*Literal).DropTheory, "p(1)"},
	}
	for i, tc := range tests {
		lit := MustParseLiteral(tc.input)
		result := tc.f(lit)
		if result.String() != tc.expected {
			t.Errorf("Test case (%d) %v: Expected %v but got %v", i+1, tc.note, tc.expected, result)
		}
		if lit.String() != tc.input {
			t.Errorf("Test case (%d) %v: Expected input to be unchanged but got %v", i+1, tc.note, lit)
		}
	}
}

func TestLiteralEqualHash(t *testing.T) {
	a := MustParseLiteral(`p(1, "a", x)`)
	b := MustParseLiteral(`p(1, "a", x)`)
	c := MustParseLiteral(`p(1.5, "a", x)`)

	if !a.Equal(b) || a.Hash() != b.Hash() || a.Key() != b.Key() {
		t.Fatalf("Expected %v and %v to be equal", a, b)
	}
	if a.Equal(c) || a.Key() == c.Key() {
		t.Fatalf("Expected %v and %v to differ", a, c)
	}
	if a.Equal(a.Complement()) {
		t.Fatal("Expected negation to distinguish literals")
	}
	if MustParseLiteral(`p("1")`).Key() == MustParseLiteral(`p(1)`).Key() {
		t.Fatal("Expected keys to include the kind of constants")
	}
}

func TestLiteralPlug(t *testing.T) {
	lit := MustParseLiteral("p(x, y, 3)")
	result := lit.Plug(Binding{"x": IntTerm(1), "z": IntTerm(2)})
	if result.String() != "p(1, y, 3)" {
		t.Fatalf("Unexpected result: %v", result)
	}
	if lit.String() != "p(x, y, 3)" {
		t.Fatalf("Expected literal to be unchanged but got %v", lit)
	}
	if result.IsGround() || lit.IsGround() {
		t.Fatalf("Unexpected groundness")
	}
	if !MustParseLiteral("p(1, 2)").IsGround() {
		t.Fatal("Expected ground literal")
	}

	rule := MustParseRule("p(x) :- q(x, y)")
	plugged := rule.Plug(Binding{"y": StringTerm("a")})
	if plugged.String() != `p(x) :- q(x, "a")` {
		t.Fatalf("Unexpected rule: %v", plugged)
	}
}

func TestLiteralVars(t *testing.T) {
	rule := MustParseRule("p(x, y) :- q(y, z), not r(x, w=z)")
	if diff := cmp.Diff([]Var{"x", "y", "z"}, rule.Vars()); diff != "" {
		t.Fatalf("Unexpected vars (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Var{"x", "y"}, rule.HeadVars().Sorted()); diff != "" {
		t.Fatalf("Unexpected head vars (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"p", "q", "r"}, rule.Tablenames()); diff != "" {
		t.Fatalf("Unexpected tables (-want, +got):\n%s", diff)
	}
}

func TestLiteralCompare(t *testing.T) {
	lits := []*Literal{
		MustParseLiteral("q(1)"),
		MustParseLiteral("p(2)"),
		MustParseLiteral(`p("a")`),
		MustParseLiteral("p(1)"),
	}
	sort.Slice(lits, func(i, j int) bool { return lits[i].Compare(lits[j]) < 0 })
	strs := make([]string, len(lits))
	for i := range lits {
		strs[i] = lits[i].String()
	}
	if diff := cmp.Diff([]string{`p("a")`, "p(1)", "p(2)", "q(1)"}, strs); diff != "" {
		t.Fatalf("Unexpected order (-want, +got):\n%s", diff)
	}
}

func TestTermCompare(t *testing.T) {
	tests := []struct {
		a, b     Term
		expected int
	}{
		{Var("x"), Var("y"), -1},
		{Var("x"), IntTerm(1), -1},
		{IntTerm(1), Var("x"), 1},
		{IntTerm(1), FloatTerm(1.0), 0},
		{IntTerm(1), FloatTerm(1.5), -1},
		{StringTerm("a"), IntTerm(1), -1},
		{StringTerm("b"), StringTerm("a"), 1},
		{BoolTerm(false), BoolTerm(true), -1},
	}
	for i, tc := range tests {
		if got := Compare(tc.a, tc.b); got != tc.expected {
			t.Errorf("Test case (%d) Compare(%v, %v): Expected %v but got %v", i+1, tc.a, tc.b, tc.expected, got)
		}
	}

	if IntTerm(1).Equal(FloatTerm(1)) {
		t.Fatal("Expected constants of different kinds to differ")
	}
}

func TestInterfaceToTerm(t *testing.T) {
	tests := []struct {
		input    interface{}
		expected Term
	}{
		{"a", StringTerm("a")},
		{true, BoolTerm(true)},
		{7, IntTerm(7)},
		{float64(3), IntTerm(3)},
		{2.5, FloatTerm(2.5)},
		{json.Number("12"), IntTerm(12)},
		{json.Number("1.25"), FloatTerm(1.25)},
		{nil, StringTerm("None")},
	}
	for i, tc := range tests {
		result, err := InterfaceToTerm(tc.input)
		if err != nil {
			t.Errorf("Test case (%d) %v: Unexpected error: %v", i+1, tc.input, err)
			continue
		}
		if !result.Equal(tc.expected) {
			t.Errorf("Test case (%d) %v: Expected %v but got %v", i+1, tc.input, tc.expected, result)
		}
	}

	if _, err := InterfaceToTerm([]int{1}); err == nil {
		t.Fatal("Expected error for non-scalar value")
	}
}

func TestFormulaHelpers(t *testing.T) {
	fs := MustParse("q(2)\np(x) :- q(x)\np(1)")
	SortFormulas(fs)
	if diff := cmp.Diff([]string{"p(1)", "p(x) :- q(x)", "q(2)"}, formulaStrings(fs)); diff != "" {
		t.Fatalf("Unexpected order (-want, +got):\n%s", diff)
	}
	if !IsFact(fs[0]) || IsFact(fs[1]) || !IsRule(fs[1]) {
		t.Fatal("Unexpected classification of formulas")
	}
	if Tablename(fs[1]) != "p" {
		t.Fatalf("Unexpected table: %v", Tablename(fs[1]))
	}
	if !FormulaEqual(fs[1], MustParseRule("p(x) :- q(x)")) || FormulaEqual(fs[0], fs[1]) {
		t.Fatal("Unexpected formula equality")
	}
	if got := FormulasToString(fs); got != "p(1) p(x) :- q(x) q(2)" {
		t.Fatalf("Unexpected string: %v", got)
	}
}

func TestEventString(t *testing.T) {
	e := NewEvent(MustParseLiteral("p(1)"), true, "alpha")
	if e.String() != "insert[p(1)] for alpha" {
		t.Fatalf("Unexpected string: %v", e)
	}
	d := NewEvent(MustParseLiteral("p(1)"), false, "")
	if d.String() != "delete[p(1)]" {
		t.Fatalf("Unexpected string: %v", d)
	}
	if e.Key() == d.Key() {
		t.Fatal("Expected keys to differ")
	}
	if got := EventsToString([]*Event{e, d}); got != "insert[p(1)] for alpha\ndelete[p(1)]" {
		t.Fatalf("Unexpected string: %q", got)
	}

	bs, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(bs, &decoded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decoded.Key() != e.Key() {
		t.Fatalf("Expected %v but got %v", e, &decoded)
	}
}
