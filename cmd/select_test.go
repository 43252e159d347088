// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/cmd/formats"
	pr "github.com/open-policy-agent/congress/presentation"
)

var selectFiles = map[string]string{
	"classification.dl": `error(x) :- nova:servers(id=x, status="ERROR")`,
	"nova.schema.yaml":  "servers: [id, status]\n",
	"nova.data.json":    `{"servers": [[1, "ACTIVE"], [2, "ERROR"], [3, "ERROR"]]}`,
}

func testSelect(t *testing.T, query string, setup func(*selectParams)) (int, string, string) {
	t.Helper()
	root := withTempFS(t, selectFiles)
	params := newSelectParams()
	params.dataPaths = []string{root}
	if setup != nil {
		setup(&params)
	}
	var stdout, stderr bytes.Buffer
	errc := selectQuery([]string{query}, &params, &stdout, &stderr)
	return errc, stdout.String(), stderr.String()
}

func setFormat(t *testing.T, format string) func(*selectParams) {
	return func(p *selectParams) {
		if err := p.format.Set(format); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		note     string
		query    string
		setup    func(*selectParams)
		expected string
	}{
		{
			note:     "default policy",
			query:    "error(x)",
			setup:    setFormat(t, formats.Datalog),
			expected: "error(2)\nerror(3)\n",
		},
		{
			note:  "policy flag",
			query: `servers(x, "ACTIVE")`,
			setup: func(p *selectParams) {
				setFormat(t, formats.Datalog)(p)
				p.policy = "nova"
			},
			expected: "servers(1, \"ACTIVE\")\n",
		},
		{
			note:     "json",
			query:    "error(x)",
			setup:    setFormat(t, formats.JSON),
			expected: "{\n  \"results\": [\n    \"error(2)\",\n    \"error(3)\"\n  ]\n}\n",
		},
		{
			note:     "pretty undefined",
			query:    "error(1)",
			expected: "undefined\n",
		},
	}

	for i, tc := range tests {
		errc, stdout, _ := testSelect(t, tc.query, tc.setup)
		if errc != 0 {
			t.Errorf("Test case (%d) %v: Expected exit code 0 but got %v:\n%v", i+1, tc.note, errc, stdout)
			continue
		}
		if stdout != tc.expected {
			t.Errorf("Test case (%d) %v: Expected output %q but got %q", i+1, tc.note, tc.expected, stdout)
		}
	}
}

func TestSelectFirstOnly(t *testing.T) {
	errc, stdout, _ := testSelect(t, "error(x)", func(p *selectParams) {
		setFormat(t, formats.Datalog)(p)
		p.firstOnly = true
	})
	if errc != 0 {
		t.Fatalf("Expected exit code 0 but got %v", errc)
	}
	if stdout != "error(2)\n" && stdout != "error(3)\n" {
		t.Fatalf("Expected a single answer but got:\n%v", stdout)
	}
}

func TestSelectPrettyColumns(t *testing.T) {
	errc, stdout, _ := testSelect(t, "servers(x, y)", func(p *selectParams) {
		p.policy = "nova"
	})
	if errc != 0 {
		t.Fatalf("Expected exit code 0 but got %v:\n%v", errc, stdout)
	}
	for _, want := range []string{"servers\n", "id", "status", `"ERROR"`} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in output:\n%v", want, stdout)
		}
	}
}

func TestSelectErrors(t *testing.T) {
	tests := []struct {
		note  string
		query string
		setup func(*selectParams)
		code  string
	}{
		{"parse error", "error(", setFormat(t, formats.JSON), "parse_error"},
		{"missing policy", "p(x)", func(p *selectParams) {
			setFormat(t, formats.JSON)(p)
			p.policy = "missing"
		}, "policy_not_exist"},
		{"missing data", "p(x)", func(p *selectParams) {
			setFormat(t, formats.JSON)(p)
			p.dataPaths = append(p.dataPaths, filepath.Join(p.dataPaths[0], "missing.dl"))
		}, ""},
	}

	for i, tc := range tests {
		errc, stdout, _ := testSelect(t, tc.query, tc.setup)
		if errc != 1 {
			t.Errorf("Test case (%d) %v: Expected exit code 1 but got %v", i+1, tc.note, errc)
			continue
		}
		var out pr.Output
		if err := json.Unmarshal([]byte(stdout), &out); err != nil {
			t.Errorf("Test case (%d) %v: Unexpected error: %v\n%v", i+1, tc.note, err, stdout)
			continue
		}
		if len(out.Errors) == 0 {
			t.Errorf("Test case (%d) %v: Expected errors", i+1, tc.note)
			continue
		}
		if tc.code != "" && out.Errors[0].Code != tc.code {
			t.Errorf("Test case (%d) %v: Expected code %v but got %+v", i+1, tc.note, tc.code, out.Errors)
		}
	}
}

func TestSelectTrace(t *testing.T) {
	errc, stdout, _ := testSelect(t, "error(x)", func(p *selectParams) {
		setFormat(t, formats.Datalog)(p)
		p.trace = true
	})
	if errc != 0 {
		t.Fatalf("Expected exit code 0 but got %v", errc)
	}
	if !strings.HasPrefix(stdout, "error(2)\nerror(3)\n") || len(stdout) == len("error(2)\nerror(3)\n") {
		t.Fatalf("Expected results followed by trace but got:\n%v", stdout)
	}
}

func TestSelectMetrics(t *testing.T) {
	errc, stdout, _ := testSelect(t, "error(x)", func(p *selectParams) {
		setFormat(t, formats.JSON)(p)
		p.metrics = true
	})
	if errc != 0 {
		t.Fatalf("Expected exit code 0 but got %v", errc)
	}
	var out pr.Output
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("Unexpected error: %v\n%v", err, stdout)
	}
	if diff := cmp.Diff([]string{"error(2)", "error(3)"}, out.Results); diff != "" {
		t.Fatalf("Unexpected results (-want, +got):\n%s", diff)
	}
	if len(out.Metrics) == 0 {
		t.Fatal("Expected metrics in output")
	}

	errc, stdout, _ = testSelect(t, "error(x)", func(p *selectParams) {
		setFormat(t, formats.Datalog)(p)
		p.metrics = true
		if err := p.metricsFormat.Set(formats.Prometheus); err != nil {
			t.Fatal(err)
		}
	})
	if errc != 0 {
		t.Fatalf("Expected exit code 0 but got %v", errc)
	}
	if !strings.HasPrefix(stdout, "error(2)\nerror(3)\n") || !strings.Contains(stdout, "# TYPE") {
		t.Fatalf("Expected results followed by prometheus metrics but got:\n%v", stdout)
	}
}
