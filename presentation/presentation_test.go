// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package presentation

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/runtime"
)

func TestPrintDatalog(t *testing.T) {
	out := NewOutput(ast.MustParse(`p(1) q("a", 2) r(x) :- p(x)`))
	var buf bytes.Buffer
	if err := Print(&buf, Datalog, out, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := "p(1)\nq(\"a\", 2)\nr(x) :- p(x)\n"
	if buf.String() != expected {
		t.Fatalf("Expected:\n%v\nGot:\n%v", expected, buf.String())
	}
}

func TestPrintJSON(t *testing.T) {
	out := NewOutput(ast.MustParse(`p(1)`))
	var buf bytes.Buffer
	if err := Print(&buf, JSON, out, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := "{\n  \"results\": [\n    \"p(1)\"\n  ]\n}\n"
	if buf.String() != expected {
		t.Fatalf("Expected:\n%v\nGot:\n%v", expected, buf.String())
	}
}

func TestPrintYAML(t *testing.T) {
	out := Output{Results: []string{"p(1)"}, Trace: "Call: p(x)\n"}
	var buf bytes.Buffer
	if err := Print(&buf, YAML, out, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, want := range []string{"results:", "- p(1)", "trace:"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in:\n%v", want, buf.String())
		}
	}
}

func TestPrintPretty(t *testing.T) {
	tests := []struct {
		note     string
		results  []string
		columns  map[string][]string
		expected []string
		absent   []string
	}{
		{
			note:     "undefined",
			expected: []string{"undefined"},
		},
		{
			note:     "named columns",
			results:  []string{`servers(1, "ACTIVE")`, `servers(2, "ERROR")`},
			columns:  map[string][]string{"servers": {"id", "status"}},
			expected: []string{"servers\n", "id", "status", `"ACTIVE"`, `"ERROR"`},
		},
		{
			note:     "positional columns",
			results:  []string{`p(1, 2)`},
			expected: []string{"p\n", "0", "1", "2"},
			absent:   []string{"undefined"},
		},
		{
			note:     "rules printed as they are",
			results:  []string{`p(x) :- q(x)`},
			expected: []string{"p(x) :- q(x)\n"},
		},
	}

	for i, tc := range tests {
		var buf bytes.Buffer
		columns := func(table string) []string { return tc.columns[table] }
		if err := Print(&buf, Pretty, Output{Results: tc.results}, columns); err != nil {
			t.Errorf("Test case (%d) %v: Unexpected error: %v", i+1, tc.note, err)
			continue
		}
		for _, want := range tc.expected {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("Test case (%d) %v: Expected %q in:\n%v", i+1, tc.note, want, buf.String())
			}
		}
		for _, nope := range tc.absent {
			if strings.Contains(buf.String(), nope) {
				t.Errorf("Test case (%d) %v: Unexpected %q in:\n%v", i+1, tc.note, nope, buf.String())
			}
		}
	}
}

func TestPrintPrettyErrors(t *testing.T) {
	out := Output{
		Results: []string{"p(1)"},
		Errors:  []OutputError{{Code: "parse_error", Message: "unexpected eof", Location: "1:4"}},
	}
	var buf bytes.Buffer
	if err := Print(&buf, Pretty, out, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if buf.String() != "1:4: parse_error: unexpected eof\n" {
		t.Fatalf("Unexpected output:\n%v", buf.String())
	}
}

func TestNewOutputErrors(t *testing.T) {
	tests := []struct {
		note     string
		err      error
		expected []OutputError
	}{
		{
			note: "ast errors",
			err: ast.Errors{
				ast.NewError(ast.ParseErr, &ast.Location{File: "x.dl", Row: 1, Col: 3}, "unexpected"),
				ast.NewError(ast.UnsafeVarErr, nil, "unsafe x"),
			},
			expected: []OutputError{
				{Code: "parse_error", Message: "unexpected", Location: "x.dl:1:3"},
				{Code: "unsafe_var_error", Message: "unsafe x"},
			},
		},
		{
			note:     "runtime error",
			err:      &runtime.Error{Name: runtime.PolicyNotExist, Message: "Policy p does not exist"},
			expected: []OutputError{{Code: "policy_not_exist", Message: "Policy p does not exist"}},
		},
		{
			note: "runtime error wrapping ast errors",
			err: &runtime.Error{Name: runtime.RuleSyntax, Errors: ast.Errors{
				ast.NewError(ast.ParseErr, &ast.Location{Row: 2, Col: 1}, "bad"),
			}},
			expected: []OutputError{{Code: "parse_error", Message: "bad", Location: "2:1"}},
		},
		{
			note: "nil",
		},
	}

	for i, tc := range tests {
		result := NewOutputErrors(tc.err)
		if diff := cmp.Diff(tc.expected, result); diff != "" {
			t.Errorf("Test case (%d) %v: Unexpected errors (-want, +got):\n%s", i+1, tc.note, diff)
		}
	}
}

func TestPrintDiff(t *testing.T) {
	before := ast.MustParse(`p(2) p(1)`)
	after := ast.MustParse(`p(3) p(2)`)
	var buf bytes.Buffer
	if err := PrintDiff(&buf, before, after); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := "- p(1)\n  p(2)\n+ p(3)\n"
	if buf.String() != expected {
		t.Fatalf("Expected:\n%v\nGot:\n%v", expected, buf.String())
	}
}

func TestPrintPolicies(t *testing.T) {
	var buf bytes.Buffer
	PrintPolicies(&buf, []runtime.PolicyInfo{
		{Name: "classification", Kind: "nonrecursive", Abbr: "clas", ID: "1"},
	})
	for _, want := range []string{"name", "classification", "nonrecursive", "clas"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in:\n%v", want, buf.String())
		}
	}
}

func TestPrintMetrics(t *testing.T) {
	m := metrics.New()
	m.Counter("runtime_triggers").Add(2)
	var buf bytes.Buffer
	PrintMetrics(&buf, m)
	for _, want := range []string{"metric", "counter_runtime_triggers", "2"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in:\n%v", want, buf.String())
		}
	}
}
