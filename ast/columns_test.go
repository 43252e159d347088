// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testSchemas() SchemaLookup {
	schemas := map[string]*Schema{
		"nova":           SchemaFromNames(map[string][]string{"servers": {"id", "status", "flavor"}}),
		"classification": SchemaFromNames(map[string][]string{"r": {"a", "b"}}),
		"glance":         NewSchema(nil, false),
	}
	return func(name string) *Schema {
		return schemas[name]
	}
}

func TestEliminateColumnReferences(t *testing.T) {
	tests := []struct {
		note     string
		input    string
		expected string
	}{
		{"positional and named", "nova:servers(x, flavor=f)", "nova:servers(x, _x_0_1, f)"},
		{"numbered", "nova:servers(2=f)", "nova:servers(_x_0_0, _x_0_1, f)"},
		{"rule body", `p(x) :- nova:servers(id=x, status="ERROR")`, `p(x) :- nova:servers(x, "ERROR", _x_0_2)`},
		{"second body literal", "p(x) :- q(x), nova:servers(id=x)", "p(x) :- q(x), nova:servers(x, _x_1_1, _x_1_2)"},
		{"default theory head", "r(b=y) :- q(y)", "r(_x_1_0, y) :- q(y)"},
		{"declared head padded", "r(x) :- q(x)", "r(x, _x_1_1) :- q(x)"},
		{"prefix avoids clashes", "p(_x) :- nova:servers(id=_x)", "p(_x) :- nova:servers(_x, __x_0_1, __x_0_2)"},
		{"no references", "p(x) :- neutron:ports(x)", "p(x) :- neutron:ports(x)"},
		{"update table", "nova:servers+(1, flavor=2)", "nova:servers+(1, _x_0_1, 2)"},
	}

	for i, tc := range tests {
		fs := MustParse(tc.input)
		result, errs := EliminateColumnReferences(fs[0], testSchemas(), "classification")
		if len(errs) > 0 {
			t.Errorf("Test case (%d) %v: Unexpected errors: %v", i+1, tc.note, errs)
			continue
		}
		if result.String() != tc.expected {
			t.Errorf("Test case (%d) %v: Expected %v but got %v", i+1, tc.note, tc.expected, result)
		}
	}
}

func TestEliminateColumnReferencesBodyOrder(t *testing.T) {
	schemas := map[string]*Schema{
		"nova": SchemaFromNames(map[string][]string{"q": {"id", "name", "status"}}),
	}
	lookup := func(name string) *Schema { return schemas[name] }

	tests := []struct {
		input    string
		expected string
		fresh    Var
	}{
		{"p(x) :- nova:q(id=x, status=y)", "p(x) :- nova:q(x, w, y)", "_x_0_1"},
		{"p(x) :- s(x), nova:q(id=x, status=y)", "p(x) :- s(x), nova:q(x, w, y)", "_x_1_1"},
		{"p(x) :- nova:q(id=x, status=y), s(x)", "p(x) :- nova:q(x, w, y), s(x)", "_x_0_1"},
	}
	for i, tc := range tests {
		result, errs := EliminateColumnReferences(MustParseRule(tc.input), lookup, "classification")
		if len(errs) > 0 {
			t.Errorf("Test case (%d) %v: Unexpected errors: %v", i+1, tc.input, errs)
			continue
		}
		expected := MustParseRule(tc.expected).Plug(Binding{"w": tc.fresh})
		if !FormulaEqual(expected, result) {
			t.Errorf("Test case (%d) %v: Expected %v but got %v", i+1, tc.input, expected, result)
		}
	}
}

func TestEliminateColumnReferencesErrors(t *testing.T) {
	tests := []struct {
		note  string
		input string
		code  ErrCode
	}{
		{"unknown column", "nova:servers(flavour=x)", CompileErr},
		{"duplicate name", "nova:servers(id=x, id=y)", CompileErr},
		{"name given positionally", "nova:servers(x, id=y)", CompileErr},
		{"duplicate number", "nova:servers(1=x, 1=y)", CompileErr},
		{"number given positionally", "nova:servers(x, 0=y)", CompileErr},
		{"number too large", "nova:servers(5=x)", CompileErr},
		{"name and number", "nova:servers(id=x, 0=y)", CompileErr},
		{"unknown table in complete schema", "nova:flavors(id=x)", CompileErr},
		{"unknown policy", "neutron:ports(id=x)", IncompleteSchemaErr},
		{"incomplete schema", "glance:images(id=x)", IncompleteSchemaErr},
	}

	for i, tc := range tests {
		fs := MustParse(tc.input)
		_, errs := EliminateColumnReferences(fs[0], testSchemas(), "classification")
		if len(errs) == 0 {
			t.Errorf("Test case (%d) %v: Expected errors", i+1, tc.note)
			continue
		}
		for _, e := range errs {
			if e.Code != tc.code {
				t.Errorf("Test case (%d) %v: Expected %v but got %v", i+1, tc.note, tc.code, e)
			}
		}
	}
}

func TestUnusedVariablePrefix(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"p(x) :- q(x)", "_"},
		{"p(_x) :- q(_x)", "__"},
		{"p(_x) :- q(_x, __y)", "___"},
	}
	for i, tc := range tests {
		if got := UnusedVariablePrefix(MustParseRule(tc.input)); got != tc.expected {
			t.Errorf("Test case (%d) %v: Expected %q but got %q", i+1, tc.input, tc.expected, got)
		}
	}
}

func TestSchema(t *testing.T) {
	var nilSchema *Schema
	if nilSchema.Contains("p") || nilSchema.Columns("p") != nil || nilSchema.Arity("p") != -1 || nilSchema.Tablenames() != nil || nilSchema.Copy() != nil {
		t.Fatal("Expected nil schema to be empty")
	}

	s := SchemaFromNames(map[string][]string{"servers": {"id", "status"}, "flavors": {"id"}})
	if !s.Complete || !s.Contains("servers") || s.Contains("images") {
		t.Fatalf("Unexpected schema: %+v", s)
	}
	if diff := cmp.Diff([]string{"id", "status"}, s.Columns("servers")); diff != "" {
		t.Fatalf("Unexpected columns (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"flavors", "servers"}, s.Tablenames()); diff != "" {
		t.Fatalf("Unexpected tables (-want, +got):\n%s", diff)
	}
	if i, ok := s.ColumnIndex("servers", "status"); !ok || i != 1 {
		t.Fatalf("Unexpected column index: %v, %v", i, ok)
	}
	if _, ok := s.ColumnIndex("servers", "flavor"); ok {
		t.Fatal("Expected unknown column")
	}
	if s.ColumnName("servers", 0) != "id" || s.ColumnName("servers", 2) != "" {
		t.Fatal("Unexpected column names")
	}

	cpy := s.Copy()
	cpy.Tables["servers"][0].Name = "uuid"
	cpy.Tables["images"] = nil
	if s.Columns("servers")[0] != "id" || s.Contains("images") {
		t.Fatal("Expected copy to be independent of the original")
	}
}
