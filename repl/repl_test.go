// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/theory"
)

func newTestRepl(t *testing.T, buffer *bytes.Buffer) *REPL {
	t.Helper()
	rt, err := runtime.New(runtime.Params{})
	if err != nil {
		t.Fatal(err)
	}
	policies := []struct {
		name   string
		kind   theory.Kind
		schema *ast.Schema
		text   string
	}{
		{name: "classification", kind: theory.NonrecursiveKind},
		{name: "action", kind: theory.ActionKind, text: `action("a") q+(x) :- a(x)`},
		{name: "nova", kind: theory.DatabaseKind, schema: ast.SchemaFromNames(map[string][]string{"servers": {"id", "status"}})},
	}
	for _, p := range policies {
		if _, err := rt.CreatePolicy(p.name, runtime.PolicyOptions{Kind: p.kind, Schema: p.schema}); err != nil {
			t.Fatal(err)
		}
		if p.text != "" {
			if _, err := rt.Insert(p.text, p.name); err != nil {
				t.Fatal(err)
			}
		}
	}
	ctx := context.Background()
	actor := runtime.NewActor(rt, nil)
	actor.Start(ctx)
	t.Cleanup(func() { actor.Stop(ctx) })
	return New(actor, "", buffer, "datalog", "")
}

func mustOneShot(t *testing.T, repl *REPL, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if err := repl.OneShot(context.Background(), line); err != nil {
			t.Fatalf("Unexpected error for %q: %v", line, err)
		}
	}
}

func expectOutput(t *testing.T, output string, expected string) {
	t.Helper()
	if output != expected {
		t.Errorf("Repl output: expected %#v but got %#v", expected, output)
	}
}

func TestOneShotInsertAndQuery(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)

	mustOneShot(t, repl, "insert q(1) q(2)")
	expectOutput(t, buffer.String(), "+q(1)\n+q(2)\n")

	buffer.Reset()
	mustOneShot(t, repl, "p(x) :- q(x), not r(x)")
	expectOutput(t, buffer.String(), "+p(x) :- q(x), not r(x)\n")

	buffer.Reset()
	mustOneShot(t, repl, "p(x)")
	expectOutput(t, buffer.String(), "p(1)\np(2)\n")

	buffer.Reset()
	mustOneShot(t, repl, "insert r(2)", "select p(x)")
	expectOutput(t, buffer.String(), "+r(2)\np(1)\n")

	buffer.Reset()
	mustOneShot(t, repl, "delete r(2)")
	expectOutput(t, buffer.String(), "-r(2)\n")
}

func TestOneShotUndefined(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	mustOneShot(t, repl, "pretty", "p(x)")
	expectOutput(t, buffer.String(), "undefined\n")

	buffer.Reset()
	repl.DisableUndefinedOutput(true)
	mustOneShot(t, repl, "p(x)")
	expectOutput(t, buffer.String(), "")
}

func TestOneShotUpdate(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	mustOneShot(t, repl, "insert q(1)")
	buffer.Reset()
	mustOneShot(t, repl, "update insert[q(3)] delete[q(1)]")
	expectOutput(t, buffer.String(), "+q(3)\n-q(1)\n")

	buffer.Reset()
	mustOneShot(t, repl, "show")
	expectOutput(t, buffer.String(), "q(3)\n")
}

func TestOneShotMultiLine(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)

	mustOneShot(t, repl, "p(x) :-")
	if repl.getPrompt() != "| " {
		t.Fatalf("Expected buffer prompt but got %q", repl.getPrompt())
	}
	mustOneShot(t, repl, "  q(x)")
	expectOutput(t, buffer.String(), "")
	mustOneShot(t, repl, "")
	expectOutput(t, buffer.String(), "+p(x) :- q(x)\n")
	if repl.getPrompt() != "classification> " {
		t.Fatalf("Expected initial prompt but got %q", repl.getPrompt())
	}

	repl.DisableMultiLineBuffering(true)
	if err := repl.OneShot(context.Background(), "p(x) :-"); err == nil {
		t.Fatal("Expected parse error")
	}
	if len(repl.buffer) != 0 {
		t.Fatalf("Expected empty buffer but got %v", repl.buffer)
	}
}

func TestOneShotPolicies(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	ctx := context.Background()

	mustOneShot(t, repl, "create extra materialized", "json", "policies")
	for _, want := range []string{`"name": "extra"`, `"kind": "materialized"`, `"name": "nova"`} {
		if !strings.Contains(buffer.String(), want) {
			t.Errorf("Expected %v in output:\n%v", want, buffer.String())
		}
	}

	if err := repl.OneShot(ctx, "policy missing"); !runtime.IsError(runtime.PolicyNotExist, err) {
		t.Fatalf("Expected policy not exist error but got %v", err)
	}
	mustOneShot(t, repl, "policy extra")
	if repl.getPrompt() != "extra> " {
		t.Fatalf("Expected extra prompt but got %q", repl.getPrompt())
	}
	mustOneShot(t, repl, "drop extra")
	if err := repl.OneShot(ctx, "create extra bogus"); err == nil {
		t.Fatal("Expected bad kind error")
	}
	if err := repl.OneShot(ctx, "create extra nova"); err == nil {
		t.Fatal("Expected bad kind error")
	}
}

func TestOneShotBadArgs(t *testing.T) {
	tests := []struct {
		line string
	}{
		{"policy"},
		{"policy a b"},
		{"create"},
		{"drop"},
		{"insert"},
		{"update "},
		{"simulate p(x)"},
		{"diff p(x) | a | b | c"},
		{"schema a b"},
		{"schema widgets"},
	}
	for i, tc := range tests {
		var buffer bytes.Buffer
		repl := newTestRepl(t, &buffer)
		err := repl.OneShot(context.Background(), tc.line)
		rerr, ok := err.(*Error)
		if !ok || rerr.Code != BadArgsErr {
			t.Errorf("Test case (%d) %v: Expected bad args error but got %v", i+1, tc.line, err)
		}
	}
}

func TestOneShotSimulate(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	mustOneShot(t, repl, "insert p(x) :- q(x)", "insert q(1)")

	buffer.Reset()
	mustOneShot(t, repl, "simulate p(x) | a(2)")
	expectOutput(t, buffer.String(), "p(1)\np(2)\n")

	buffer.Reset()
	mustOneShot(t, repl, "delta", "simulate p(x) | a(2) | action")
	expectOutput(t, buffer.String(), "p+(2)\n")

	buffer.Reset()
	mustOneShot(t, repl, "diff p(x) | a(2)")
	expectOutput(t, buffer.String(), "  p(1)\n+ p(2)\n")

	buffer.Reset()
	mustOneShot(t, repl, "p(x)")
	expectOutput(t, buffer.String(), "p(1)\n")
}

func TestOneShotTrace(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	mustOneShot(t, repl, "insert p(x) :- q(x)", "insert q(1)")

	buffer.Reset()
	mustOneShot(t, repl, "trace", "p(x)")
	if !strings.Contains(buffer.String(), "p(1)") || buffer.String() == "p(1)\n" {
		t.Fatalf("Expected trace in output but got:\n%v", buffer.String())
	}
}

func TestOneShotExplain(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	ctx := context.Background()

	if err := repl.OneShot(ctx, "explain p(1)"); !runtime.IsError(runtime.PolicyError, err) {
		t.Fatalf("Expected policy error for nonrecursive policy but got %v", err)
	}

	mustOneShot(t, repl, "create m materialized", "policy m", "insert s(1)", "insert t(x) :- s(x)")
	buffer.Reset()
	mustOneShot(t, repl, "explain t(1)")
	if !strings.HasPrefix(buffer.String(), "t(1)\n") || !strings.Contains(buffer.String(), "s(1)") {
		t.Fatalf("Unexpected proof:\n%v", buffer.String())
	}
}

func TestOneShotSchemaAndTables(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)

	mustOneShot(t, repl, "policy nova", "schema")
	expectOutput(t, buffer.String(), "servers(id, status)\n")

	buffer.Reset()
	mustOneShot(t, repl, "insert servers(1, \"ACTIVE\")", "pretty", "servers(x, y)")
	for _, want := range []string{"servers\n", "id", "status", `"ACTIVE"`} {
		if !strings.Contains(buffer.String(), want) {
			t.Errorf("Expected %q in output:\n%v", want, buffer.String())
		}
	}

	buffer.Reset()
	mustOneShot(t, repl, "tables")
	expectOutput(t, buffer.String(), "servers\n")

	buffer.Reset()
	mustOneShot(t, repl, "policy classification", "schema")
	expectOutput(t, buffer.String(), "no schema\n")
}

func TestComplete(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	ctx := context.Background()
	mustOneShot(t, repl, "insert quux(1)")

	tests := []struct {
		line     string
		expected []string
	}{
		{"pol", []string{"policies", "policy"}},
		{"policy no", []string{"policy nova"}},
		{"drop no", []string{"drop nova"}},
		{"policy qu", nil},
		{"select no", []string{"select nova", "select now"}},
		{"select qu", []string{"select quux"}},
		{"zzz", nil},
	}
	for i, tc := range tests {
		result := repl.complete(ctx, tc.line)
		if diff := cmp.Diff(tc.expected, result); diff != "" {
			t.Errorf("Test case (%d) %v: Unexpected completions (-want, +got):\n%s", i+1, tc.line, diff)
		}
	}
}

func TestHelpVersionExit(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)
	ctx := context.Background()

	mustOneShot(t, repl, "help")
	for _, want := range []string{"Examples", "Commands", "simulate <query> | <sequence>"} {
		if !strings.Contains(buffer.String(), want) {
			t.Errorf("Expected %q in help:\n%v", want, buffer.String())
		}
	}

	buffer.Reset()
	mustOneShot(t, repl, "version")
	if !strings.HasPrefix(buffer.String(), "Version: ") {
		t.Errorf("Unexpected version output:\n%v", buffer.String())
	}

	if _, ok := repl.OneShot(ctx, "exit").(stop); !ok {
		t.Fatal("Expected stop from exit")
	}
}

func TestPrintError(t *testing.T) {
	var buffer bytes.Buffer
	repl := newTestRepl(t, &buffer)

	repl.printError(newBadArgsErr("bad"))
	expectOutput(t, buffer.String(), "error: bad\n")

	buffer.Reset()
	mustOneShot(t, repl, "json")
	repl.printError(&runtime.Error{Name: runtime.PolicyNotExist, Message: "gone"})
	if !strings.Contains(buffer.String(), `"code": "policy_not_exist"`) {
		t.Errorf("Unexpected error output:\n%v", buffer.String())
	}
}
