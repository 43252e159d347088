// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFormulaErrors(t *testing.T) {
	schemas := testSchemas()
	tests := []struct {
		note     string
		input    string
		opts     CheckOptions
		expected []ErrCode
	}{
		{note: "valid rule", input: "p(x) :- q(x), not r(x)"},
		{note: "valid fact", input: `p(1, "a")`},
		{note: "non-ground fact", input: "p(x)", expected: []ErrCode{CompileErr}},
		{note: "qualified fact", input: "nova:servers(1, 2, 3)", expected: []ErrCode{CompileErr}},
		{note: "reserved fact", input: "gt(1, 2)", expected: []ErrCode{CompileErr}},
		{note: "unsafe head", input: "p(x) :- q(y)", expected: []ErrCode{UnsafeVarErr}},
		{note: "unsafe negation", input: "p(x) :- q(x), not r(y)", expected: []ErrCode{UnsafeVarErr}},
		{note: "qualified head", input: "nova:p(x) :- q(x)", expected: []ErrCode{CompileErr}},
		{note: "modal head permitted", input: "execute[nova:reboot(x)] :- q(x)", opts: CheckOptions{PermitHeadTheory: PermitModalHeads}},
		{note: "modal head not permitted", input: "execute[nova:reboot(x)] :- q(x)", expected: []ErrCode{CompileErr}},
		{note: "unknown modal", input: "launch[p(x)] :- q(x)", expected: []ErrCode{CompileErr}},
		{note: "modal body", input: "p(x) :- q(x), insert[r(x)]", expected: []ErrCode{CompileErr}},
		{note: "reserved head", input: "gt(x, y) :- q(x), r(y)", expected: []ErrCode{CompileErr}},
		{note: "builtin arity", input: "p(x) :- q(x), gt(x)", expected: []ErrCode{CompileErr}},
		{note: "unknown table", input: "p(x) :- nova:flavors(x)", opts: CheckOptions{Schemas: schemas}, expected: []ErrCode{CompileErr}},
		{note: "schema arity", input: "p(x) :- nova:servers(x)", opts: CheckOptions{Schemas: schemas}, expected: []ErrCode{CompileErr}},
		{note: "schema match", input: "p(x) :- nova:servers(x, y, z)", opts: CheckOptions{Schemas: schemas}},
		{note: "incomplete schema", input: "p(x) :- glance:images(x)", opts: CheckOptions{Schemas: schemas}},
		{note: "own schema", input: "r(1)", opts: CheckOptions{Schemas: schemas, Theory: "classification"}, expected: []ErrCode{CompileErr}},
	}

	for i, tc := range tests {
		fs := MustParse(tc.input)
		errs := FormulaErrors(fs[0], tc.opts)
		var codes []ErrCode
		for _, e := range errs {
			codes = append(codes, e.Code)
		}
		if diff := cmp.Diff(tc.expected, codes); diff != "" {
			t.Errorf("Test case (%d) %v: Unexpected errors (-want, +got):\n%s\n%v", i+1, tc.note, diff, errs)
		}
	}
}

func TestArityChecker(t *testing.T) {
	a := NewArityChecker()
	a.Add(MustParse("p(1)")[0])
	a.Add(MustParse("q(x) :- p(x), nova:servers(x, y)")[0])

	if n, ok := a.Arity("p"); !ok || n != 1 {
		t.Fatalf("Unexpected arity for p: %v, %v", n, ok)
	}
	if diff := cmp.Diff([]string{"p", "q"}, a.Tables()); diff != "" {
		t.Fatalf("Unexpected tables (-want, +got):\n%s", diff)
	}

	tests := []struct {
		note   string
		input  string
		errors int
	}{
		{"consistent", "r(x) :- p(x), q(x)", 0},
		{"conflict with policy", "p(1, 2)", 1},
		{"conflict with update table", "p+(1, 2)", 1},
		{"conflict within formula", "r(x) :- s(x), s(x, y)", 1},
		{"builtins and other policies ignored", "r(x) :- q(x), nova:servers(x), plus(x, 1, y)", 0},
	}
	for i, tc := range tests {
		if errs := a.Check(MustParse(tc.input)[0]); len(errs) != tc.errors {
			t.Errorf("Test case (%d) %v: Expected %d errors but got %v", i+1, tc.note, tc.errors, errs)
		}
	}

	a.Remove(MustParse("p(1)")[0])
	if _, ok := a.Arity("p"); !ok {
		t.Fatal("Expected p to be referenced by the rule")
	}
	a.Remove(MustParse("q(x) :- p(x), nova:servers(x, y)")[0])
	if len(a.Tables()) != 0 {
		t.Fatalf("Expected no tables but got %v", a.Tables())
	}
	if errs := a.Check(MustParse("p(1, 2)")[0]); len(errs) != 0 {
		t.Fatalf("Expected released arity but got %v", errs)
	}
}
