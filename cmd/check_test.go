// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/open-policy-agent/congress/cmd/formats"
	pr "github.com/open-policy-agent/congress/presentation"
)

func testCheck(t *testing.T, files map[string]string, format string) (int, string) {
	t.Helper()
	root := withTempFS(t, files)
	params := newCheckParams()
	if err := params.format.Set(format); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	errc := checkPolicies([]string{root}, &params, &stdout, &stderr)
	return errc, stdout.String()
}

func TestCheck(t *testing.T) {
	tests := []struct {
		note     string
		files    map[string]string
		exit     int
		expected []string
	}{
		{
			note: "valid",
			files: map[string]string{
				"classification.dl": `error(x) :- nova:servers(id=x, status="ERROR")`,
				"nova.schema.yaml":  "servers: [id, status]\n",
			},
		},
		{
			note:     "parse error",
			files:    map[string]string{"classification.dl": `p(x) :-`},
			exit:     1,
			expected: []string{"classification.dl:1:", "parse_error"},
		},
		{
			note:     "unsafe variable",
			files:    map[string]string{"classification.dl": `p(x) :- q(y)`},
			exit:     1,
			expected: []string{"unsafe_var_error"},
		},
		{
			note: "unknown column",
			files: map[string]string{
				"classification.dl": `p(x) :- nova:servers(flavor=x)`,
				"nova.schema.yaml":  "servers: [id, status]\n",
			},
			exit:     1,
			expected: []string{"flavor"},
		},
		{
			note: "incomplete schema",
			files: map[string]string{
				"classification.dl": `p(x) :- nova:servers(id=x)`,
				"nova.data.json":    `{"servers": [[1]]}`,
			},
			exit:     1,
			expected: []string{"incomplete_schema_error", "nova:servers"},
		},
	}

	for i, tc := range tests {
		errc, stdout := testCheck(t, tc.files, formats.Pretty)
		if errc != tc.exit {
			t.Errorf("Test case (%d) %v: Expected exit code %v but got %v:\n%v", i+1, tc.note, tc.exit, errc, stdout)
			continue
		}
		if tc.exit == 0 && stdout != "" {
			t.Errorf("Test case (%d) %v: Expected no output but got:\n%v", i+1, tc.note, stdout)
		}
		for _, want := range tc.expected {
			if !strings.Contains(stdout, want) {
				t.Errorf("Test case (%d) %v: Expected %q in output:\n%v", i+1, tc.note, want, stdout)
			}
		}
	}
}

func TestCheckJSON(t *testing.T) {
	errc, stdout := testCheck(t, map[string]string{"a.dl": "p(x) :- q(y)"}, formats.JSON)
	if errc != 1 {
		t.Fatalf("Expected exit code 1 but got %v", errc)
	}
	var out pr.Output
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("Unexpected error: %v\n%v", err, stdout)
	}
	if len(out.Errors) != 1 || out.Errors[0].Code != "unsafe_var_error" {
		t.Fatalf("Unexpected errors: %+v", out.Errors)
	}
}
