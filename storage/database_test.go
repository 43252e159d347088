// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"testing"

	"github.com/open-policy-agent/congress/ast"
)

func proof(rule string, binding ast.Binding) ast.Proof {
	return ast.Proof{Binding: binding, Rule: ast.MustParseRule(rule)}
}

func TestDatabaseBaseFacts(t *testing.T) {
	db := NewDatabase()
	p1 := ast.MustParseLiteral("p(1)")

	added, err := db.Insert(p1, nil)
	if err != nil || !added {
		t.Fatalf("Expected insert to add tuple: %v %v", added, err)
	}
	if added, _ := db.Insert(p1, nil); added {
		t.Fatal("Expected second insert not to change membership")
	}
	if !db.Contains(p1) || !db.IsBase(p1) {
		t.Fatal("Expected base fact to be present")
	}
	if !db.Delete(p1, nil) {
		t.Fatal("Expected delete to remove tuple")
	}
	if db.Contains(p1) || len(db.Tables()) != 0 {
		t.Fatalf("Expected empty database but got %v", db)
	}
	if db.Delete(p1, nil) {
		t.Fatal("Expected delete of missing tuple to be a no-op")
	}
}

func TestDatabaseSupportCounting(t *testing.T) {
	db := NewDatabase()
	q1 := ast.MustParseLiteral("q(1)")
	pr1 := proof("q(x) :- p(x, y)", ast.Binding{"x": ast.IntTerm(1), "y": ast.IntTerm(2)})
	pr2 := proof("q(x) :- p(x, y)", ast.Binding{"x": ast.IntTerm(1), "y": ast.IntTerm(3)})

	if added, _ := db.Insert(q1, []ast.Proof{pr1}); !added {
		t.Fatal("Expected first proof to add tuple")
	}
	if added, _ := db.Insert(q1, []ast.Proof{pr2}); added {
		t.Fatal("Expected second proof not to change membership")
	}
	if n := len(db.Explain(q1)); n != 2 {
		t.Fatalf("Expected 2 proofs but got %d", n)
	}
	if db.IsBase(q1) {
		t.Fatal("Expected derived tuple not to be base")
	}

	if db.Delete(q1, []ast.Proof{pr1}) {
		t.Fatal("Expected tuple to survive while a proof remains")
	}
	if !db.Contains(q1) {
		t.Fatal("Expected tuple to be present")
	}
	if !db.Delete(q1, []ast.Proof{pr2}) {
		t.Fatal("Expected removal of last proof to delete tuple")
	}
	if db.Explain(q1) != nil {
		t.Fatal("Expected no explanation for missing tuple")
	}
}

func TestDatabaseIsNoop(t *testing.T) {
	db := NewDatabase()
	p1 := ast.MustParseLiteral("p(1)")
	pr := proof("p(x) :- q(x)", ast.Binding{"x": ast.IntTerm(1)})
	db.Insert(p1, []ast.Proof{pr})

	tests := []struct {
		note     string
		event    *ast.Event
		expected bool
	}{
		{"insert known proof", &ast.Event{Formula: p1, Insert: true, Proofs: []ast.Proof{pr}}, true},
		{"insert base", &ast.Event{Formula: p1, Insert: true}, false},
		{"delete known proof", &ast.Event{Formula: p1, Insert: false, Proofs: []ast.Proof{pr}}, false},
		{"delete base", &ast.Event{Formula: p1, Insert: false}, true},
		{"delete missing", &ast.Event{Formula: ast.MustParseLiteral("p(2)"), Insert: false}, true},
		{"insert missing", &ast.Event{Formula: ast.MustParseLiteral("p(2)"), Insert: true}, false},
	}

	for i, tc := range tests {
		if result := db.IsNoop(tc.event); result != tc.expected {
			t.Errorf("Test case (%d) %v: expected %v but got %v", i, tc.note, tc.expected, result)
		}
	}
}

func TestDatabaseFindAndContent(t *testing.T) {
	db := NewDatabase()
	for _, f := range ast.MustParse(`p(1, 2) p(1, 3) p(2, 3) q("a")`) {
		if _, err := db.Insert(f.(*ast.Literal), nil); err != nil {
			t.Fatal(err)
		}
	}

	if n := len(db.Find("p", ast.MustParseLiteral("p(1, x)"))); n != 2 {
		t.Fatalf("Expected 2 matches but got %d", n)
	}
	if n := len(db.Find("p", nil)); n != 3 {
		t.Fatalf("Expected 3 tuples but got %d", n)
	}
	if arity, ok := db.Arity("p"); !ok || arity != 2 {
		t.Fatalf("Expected arity 2 but got %d", arity)
	}
	if _, ok := db.Arity("r"); ok {
		t.Fatal("Expected unknown arity for missing table")
	}

	expected := "p(1, 2) p(1, 3) p(2, 3) q(\"a\")"
	if result := ast.LiteralsToString(db.Content()); result != expected {
		t.Fatalf("Expected %v but got %v", expected, result)
	}
	if n := len(db.Content("q")); n != 1 {
		t.Fatalf("Expected 1 literal but got %d", n)
	}
}

func TestDatabaseChangesMembership(t *testing.T) {
	db := NewDatabase()
	q1 := ast.MustParseLiteral("q(1)")
	pa := proof("q(x) :- p(x)", ast.Binding{"x": ast.IntTerm(1)})
	pb := proof("q(x) :- r(x)", ast.Binding{"x": ast.IntTerm(1)})

	if !db.ChangesMembership(&ast.Event{Formula: q1, Insert: true, Proofs: []ast.Proof{pa}}) {
		t.Fatal("Expected insert of missing tuple to change membership")
	}
	if _, err := db.Insert(q1, []ast.Proof{pa, pb}); err != nil {
		t.Fatal(err)
	}
	if db.ChangesMembership(&ast.Event{Formula: q1, Insert: true, Proofs: []ast.Proof{pa}}) {
		t.Fatal("Expected insert of present tuple not to change membership")
	}
	if db.ChangesMembership(&ast.Event{Formula: q1, Proofs: []ast.Proof{pa}}) {
		t.Fatal("Expected delete of one of two proofs not to change membership")
	}
	if !db.ChangesMembership(&ast.Event{Formula: q1, Proofs: []ast.Proof{pa, pb}}) {
		t.Fatal("Expected delete of every proof to change membership")
	}
	if db.ChangesMembership(&ast.Event{Formula: q1}) {
		t.Fatal("Expected base delete of derived tuple not to change membership")
	}
	db.ClearTable("q")
	if db.Contains(q1) {
		t.Fatal("Expected table to be cleared")
	}
}
