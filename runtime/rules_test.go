// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/theory"
)

func TestInsertRules(t *testing.T) {
	tests := []struct {
		note   string
		inputs []RuleInput
		code   string
	}{
		{
			note:   "empty",
			inputs: []RuleInput{{Rule: "  "}},
			code:   RuleSyntax,
		},
		{
			note:   "syntax",
			inputs: []RuleInput{{Rule: "p(x) :- "}},
			code:   RuleSyntax,
		},
		{
			note:   "multiple",
			inputs: []RuleInput{{Rule: "p(1) p(2)"}},
			code:   MultipleRules,
		},
		{
			note:   "existing",
			inputs: []RuleInput{{Rule: "q(1)"}},
			code:   RuleAlreadyExists,
		},
		{
			note:   "duplicate in batch",
			inputs: []RuleInput{{Rule: "p(3)"}, {Rule: "p(3)"}},
			code:   RuleAlreadyExists,
		},
		{
			note:   "unsafe",
			inputs: []RuleInput{{Rule: "p(4)"}, {Rule: "p(x) :- not q(x)"}},
			code:   PolicyError,
		},
	}

	for i, tc := range tests {
		rt := newTestRuntime(t, testPolicy{"classification", theory.NonrecursiveKind})
		mustInsert(t, rt, `q(1)`, "classification")
		_, err := rt.InsertRules("classification", tc.inputs)
		if !IsError(tc.code, err) {
			t.Errorf("Test case (%d) %v: Expected %v error but got %v", i+1, tc.note, tc.code, err)
			continue
		}
		if tc.code == RuleAlreadyExists && !ast.IsError(ast.DuplicateErr, err) {
			t.Errorf("Test case (%d) %v: Expected duplicate error but got %v", i+1, tc.note, err)
		}
		if diff := cmp.Diff([]string{"q(1)"}, mustSelect(t, rt, "q(x)", "classification")); diff != "" {
			t.Errorf("Test case (%d) %v: Unexpected contents (-want, +got):\n%s", i+1, tc.note, diff)
		}
		if got := mustSelect(t, rt, "p(x)", "classification"); len(got) != 0 {
			t.Errorf("Test case (%d) %v: Expected nothing inserted but got %v", i+1, tc.note, got)
		}
	}
}

func TestRuleRecords(t *testing.T) {
	rt := newTestRuntime(t, testPolicy{"classification", theory.NonrecursiveKind})

	records, err := rt.InsertRules("classification", []RuleInput{
		{Rule: "p(x) :- q(x)", Name: "derive", Comment: "p from q"},
		{Rule: "q(1)"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(records) != 2 || records[0].ID == "" || records[0].ID == records[1].ID {
		t.Fatalf("Expected two records with distinct IDs but got %v", records)
	}
	more, err := rt.InsertRules("classification", []RuleInput{{Rule: "q(2)"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"p(1)", "p(2)"}, mustSelect(t, rt, "p(x)", "classification")); diff != "" {
		t.Fatalf("Unexpected results (-want, +got):\n%s", diff)
	}

	list, err := rt.Rules("classification")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var texts []string
	for _, rec := range list {
		texts = append(texts, rec.RuleText)
	}
	if diff := cmp.Diff([]string{"p(x) :- q(x)", "q(1)", "q(2)"}, texts); diff != "" {
		t.Fatalf("Unexpected rules (-want, +got):\n%s", diff)
	}

	rec, err := rt.Rule("classification", records[0].ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rec.Name != "derive" || rec.Comment != "p from q" || rec.PolicyName != "classification" {
		t.Fatalf("Unexpected record: %+v", rec)
	}

	if _, err := rt.DeleteRuleByID("classification", more[0].ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"p(1)"}, mustSelect(t, rt, "p(x)", "classification")); diff != "" {
		t.Fatalf("Unexpected results after delete (-want, +got):\n%s", diff)
	}
	if _, err := rt.Rule("classification", more[0].ID); !IsError(RuleNotExists, err) {
		t.Fatalf("Expected missing rule error but got %v", err)
	}
	if _, err := rt.DeleteRuleByID("classification", more[0].ID); !IsError(RuleNotExists, err) {
		t.Fatalf("Expected missing rule error but got %v", err)
	}
	if _, err := rt.Rule("other", records[0].ID); !IsError(RuleNotExists, err) {
		t.Fatalf("Expected missing rule error for other policy but got %v", err)
	}

	// Records are reused only through new inserts.
	if _, err := rt.InsertRules("classification", []RuleInput{{Rule: "q(2)"}}); err != nil {
		t.Fatalf("Unexpected error re-inserting deleted rule: %v", err)
	}

	if err := rt.DeletePolicy("classification", false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := rt.Rules("classification"); !IsError(PolicyNotExist, err) {
		t.Fatalf("Expected missing policy error but got %v", err)
	}
}

func TestRuleRecordsDisabled(t *testing.T) {
	rt := newTestRuntime(t,
		testPolicy{"classification", theory.NonrecursiveKind},
		testPolicy{"nova", theory.DatabaseKind})

	records, err := rt.InsertRules("classification", []RuleInput{{Rule: `p(x) :- nova:servers(id=x)`}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(rt.DisabledEvents()) != 1 {
		t.Fatalf("Expected rule to wait for a schema but got %v", rt.DisabledEvents())
	}
	if _, err := rt.DeleteRuleByID("classification", records[0].ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(rt.DisabledEvents()) != 0 {
		t.Fatalf("Expected disabled rule to be dropped but got %v", rt.DisabledEvents())
	}
}
