// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/loader"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/theory"
)

func withTempFS(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func formulaStrings(fs []ast.Formula) []string {
	result := make([]string, len(fs))
	for i := range fs {
		result[i] = fs[i].String()
	}
	return result
}

func TestNewEngine(t *testing.T) {
	root := withTempFS(t, map[string]string{
		"config.yaml": `
logging:
  level: debug
policies:
- name: nova
  kind: database
  abbr: nv
  schema:
    servers:
    - name: id
      type: Int
    - name: status
`,
		"rules/classification.dl": `error(x) :- nova:servers(id=x, status="ERROR")`,
		"rules/.hidden.dl":        `???`,
		"nova.data.json":          `{"servers": [[1, "ACTIVE"], [2, "ERROR"]]}`,
	})

	params := newEngineParams()
	params.configFile = filepath.Join(root, "config.yaml")
	params.dataPaths = []string{filepath.Join(root, "rules"), filepath.Join(root, "nova.data.json")}
	params.ignore = []string{".*"}

	var stderr bytes.Buffer
	e, err := newEngine(&params, &stderr, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"action", "classification", "nova"}
	if diff := cmp.Diff(expected, e.rt.PolicyNames()); diff != "" {
		t.Fatalf("Unexpected policies (-want, +got):\n%s", diff)
	}
	for name, kind := range map[string]theory.Kind{
		"action":         theory.ActionKind,
		"classification": theory.NonrecursiveKind,
		"nova":           theory.DatabaseKind,
	} {
		info, err := e.rt.PolicyInfo(name)
		if err != nil || info.Kind != string(kind) {
			t.Errorf("Expected %v policy %v but got %v, %v", kind, name, info, err)
		}
	}

	qr, err := e.rt.Select("error(x)", e.policy(&params), runtime.QueryOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"error(2)"}, formulaStrings(qr.Results)); diff != "" {
		t.Fatalf("Unexpected results (-want, +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"id", "status"}, e.columns("classification")("nova:servers")); diff != "" {
		t.Fatalf("Unexpected columns (-want, +got):\n%s", diff)
	}
	if cols := e.columns("classification")("error"); cols != nil {
		t.Fatalf("Expected no columns but got %v", cols)
	}

	if !strings.Contains(stderr.String(), "Loaded files.") {
		t.Fatalf("Expected debug log but got:\n%v", stderr.String())
	}
}

func TestNewEngineErrors(t *testing.T) {
	root := withTempFS(t, map[string]string{
		"bad-config.yaml": "default_theory: 1abc\n",
		"bad-kind.yaml":   "policies:\n- name: p\n  kind: bogus\n",
		"bad.dl":          `p(x) :- `,
	})

	tests := []struct {
		note   string
		config string
		data   []string
	}{
		{"missing config", filepath.Join(root, "missing.yaml"), nil},
		{"invalid config", filepath.Join(root, "bad-config.yaml"), nil},
		{"invalid kind", filepath.Join(root, "bad-kind.yaml"), nil},
		{"parse error", "", []string{filepath.Join(root, "bad.dl")}},
	}

	for i, tc := range tests {
		params := newEngineParams()
		params.configFile = tc.config
		params.dataPaths = tc.data
		if _, err := newEngine(&params, &bytes.Buffer{}, false); err == nil {
			t.Errorf("Test case (%d) %v: Expected error", i+1, tc.note)
		}
	}
}

func TestNewEngineMetrics(t *testing.T) {
	params := newEngineParams()

	e, err := newEngine(&params, &bytes.Buffer{}, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := e.rt.Select("p(x)", "classification", runtime.QueryOptions{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if all := e.metrics.All(); len(all) != 0 {
		t.Fatalf("Expected no metrics but got %v", all)
	}

	e, err = newEngine(&params, &bytes.Buffer{}, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := e.rt.Select("p(x)", "classification", runtime.QueryOptions{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if all := e.metrics.All(); len(all) == 0 {
		t.Fatal("Expected metrics")
	}
}

func TestReloadPolicies(t *testing.T) {
	root := withTempFS(t, map[string]string{
		"main.dl": "p(x) :- q(x)\nq(1)\n",
	})

	params := newEngineParams()
	params.dataPaths = []string{filepath.Join(root, "main.dl")}
	e, err := newEngine(&params, &bytes.Buffer{}, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := e.rt.CreatePolicy("other", runtime.PolicyOptions{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := e.rt.Insert("r(x) :- main:p(x)", "other"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	before, err := e.rt.PolicyInfo("main")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "main.dl"), []byte("p(x) :- q(x)\nq(2)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := loader.All(params.dataPaths)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := reloadPolicies(e.rt, loaded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	after, err := e.rt.PolicyInfo("main")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("Expected policy metadata to be kept (-want, +got):\n%s", diff)
	}
	qr, err := e.rt.Select("r(x)", "other", runtime.QueryOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"r(2)"}, formulaStrings(qr.Results)); diff != "" {
		t.Fatalf("Unexpected results (-want, +got):\n%s", diff)
	}
}

func TestIgnoreFilter(t *testing.T) {
	if ignoreFilter(nil) != nil {
		t.Fatal("Expected no filter")
	}
	root := withTempFS(t, map[string]string{
		"a.dl":         "p(1)",
		"skip/b.dl":    "p(2)",
		".hidden/c.dl": "p(3)",
	})
	result, err := loader.Filtered([]string{"main:" + root}, ignoreFilter([]string{".*", "skip"}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var texts []string
	for _, f := range result.Files("main") {
		texts = append(texts, formulaStrings(f.Parsed)...)
	}
	if diff := cmp.Diff([]string{"p(1)"}, texts); diff != "" {
		t.Fatalf("Unexpected formulas (-want, +got):\n%s", diff)
	}
}
