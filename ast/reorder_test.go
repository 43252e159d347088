// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"testing"
)

func TestReorderForSafety(t *testing.T) {
	tests := []struct {
		note     string
		input    string
		expected string
	}{
		{"negation moves after binder", "p(x) :- not q(x), r(x)", "p(x) :- r(x), not q(x)"},
		{"builtin moves after binders", "p(x) :- gt(x, y), q(x), r(y)", "p(x) :- q(x), r(y), gt(x, y)"},
		{"builtin outputs need not be bound", "p(z) :- plus(x, y, z), q(x), r(y)", "p(z) :- q(x), r(y), plus(x, y, z)"},
		{"already ordered", "p(x) :- q(x), not r(x), lt(x, 3)", "p(x) :- q(x), not r(x), lt(x, 3)"},
		{"chained builtins", "p(w) :- plus(z, 1, w), plus(x, 1, z), q(x)", "p(w) :- q(x), plus(x, 1, z), plus(z, 1, w)"},
	}

	for i, tc := range tests {
		result, err := ReorderForSafety(MustParseRule(tc.input))
		if err != nil {
			t.Errorf("Test case (%d) %v: Unexpected error: %v", i+1, tc.note, err)
			continue
		}
		if result.String() != tc.expected {
			t.Errorf("Test case (%d) %v: Expected %v but got %v", i+1, tc.note, tc.expected, result)
		}
	}
}

func TestReorderForSafetyEmptyBody(t *testing.T) {
	r := NewRule(MustParseLiteral("p(1)"))
	result, err := ReorderForSafety(r)
	if err != nil || result != r {
		t.Fatalf("Expected rule to be returned unchanged but got %v, %v", result, err)
	}
}

func TestReorderForSafetyErrors(t *testing.T) {
	tests := []struct {
		note  string
		input string
	}{
		{"unbound negation", "p(x) :- q(x), not r(y)"},
		{"unbound builtin input", "p(x) :- q(x), lt(x, y)"},
	}

	for i, tc := range tests {
		_, err := ReorderForSafety(MustParseRule(tc.input))
		if !IsError(UnsafeVarErr, err) {
			t.Errorf("Test case (%d) %v: Expected unsafe variable error but got %v", i+1, tc.note, err)
		}
	}
}
