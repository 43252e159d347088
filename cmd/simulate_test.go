// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/open-policy-agent/congress/cmd/formats"
	"github.com/open-policy-agent/congress/runtime"
)

func testSimulate(t *testing.T, args []string, setup func(*simulateParams)) (int, string) {
	t.Helper()
	root := withTempFS(t, map[string]string{
		"classification.dl": "p(x) :- q(x)\nq(1)\n",
		"action.dl":         "action(\"a\")\nq+(x) :- a(x)\n",
	})
	params := newSimulateParams()
	params.dataPaths = []string{root}
	if err := params.format.Set(formats.Datalog); err != nil {
		t.Fatal(err)
	}
	if setup != nil {
		setup(&params)
	}
	var stdout, stderr bytes.Buffer
	errc := simulate(args, &params, &stdout, &stderr)
	return errc, stdout.String()
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		note     string
		sequence string
		setup    func(*simulateParams)
		expected string
	}{
		{"update", "q+(2)", nil, "p(1)\np(2)\n"},
		{"delete update", "q-(1)", nil, ""},
		{"action", "a(3)", nil, "p(1)\np(3)\n"},
		{"delta", "q+(2) q-(1)", func(p *simulateParams) { p.delta = true }, "p+(2)\np-(1)\n"},
		{"diff", "a(2)", func(p *simulateParams) { p.diff = true }, "  p(1)\n+ p(2)\n"},
	}

	for i, tc := range tests {
		errc, stdout := testSimulate(t, []string{"p(x)", tc.sequence}, tc.setup)
		if errc != 0 {
			t.Errorf("Test case (%d) %v: Expected exit code 0 but got %v:\n%v", i+1, tc.note, errc, stdout)
			continue
		}
		if stdout != tc.expected {
			t.Errorf("Test case (%d) %v: Expected output %q but got %q", i+1, tc.note, tc.expected, stdout)
		}
	}
}

func TestSimulateErrors(t *testing.T) {
	tests := []struct {
		note     string
		args     []string
		setup    func(*simulateParams)
		expected string
	}{
		{"sequence syntax", []string{"p(x)", "q+("}, nil, "parse_error"},
		{"non-action", []string{"p(x)", "b(1)"}, nil, "non-action"},
		{"missing action policy", []string{"p(x)", "q+(1)"}, func(p *simulateParams) { p.actionPolicy = "missing" }, "policy_not_exist"},
	}

	for i, tc := range tests {
		errc, stdout := testSimulate(t, tc.args, tc.setup)
		if errc != 1 {
			t.Errorf("Test case (%d) %v: Expected exit code 1 but got %v", i+1, tc.note, errc)
			continue
		}
		if !strings.Contains(stdout, tc.expected) {
			t.Errorf("Test case (%d) %v: Expected %q in output:\n%v", i+1, tc.note, tc.expected, stdout)
		}
	}
}

func TestSimulateLeavesPolicyUnchanged(t *testing.T) {
	root := withTempFS(t, map[string]string{"classification.dl": "p(x) :- q(x)\nq(1)\n"})
	params := newSimulateParams()
	params.dataPaths = []string{root}

	var stderr bytes.Buffer
	e, err := newEngine(&params.engineParams, &stderr, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := e.rt.Simulate("p(x)", "classification", "q+(2)", "action", runtime.SimulateOptions{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	content, err := e.rt.Content("classification")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.Contains(strings.Join(formulaStrings(content), " "), "q(2)") {
		t.Fatalf("Expected simulation to be rolled back but got %v", formulaStrings(content))
	}
}
