// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/ast"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		note    string
		format  string
		raw     string
		wantErr bool
	}{
		{"empty yaml", "yaml", ``, false},
		{"json", "json", `{"default_theory": "main", "query_cache_size": 10}`, false},
		{"bad level", "yaml", "logging:\n  level: loud\n", true},
		{"bad default theory", "yaml", "default_theory: \"not valid\"\n", true},
		{"negative cache", "yaml", "query_cache_size: -1\n", true},
		{"bad kind", "yaml", "policies:\n- name: p\n  kind: magic\n", true},
		{"duplicate policy", "yaml", "policies:\n- name: p\n- name: p\n", true},
		{"bad policy name", "yaml", "policies:\n- name: \"a b\"\n", true},
		{"unknown column type", "yaml", "policies:\n- name: nova\n  kind: database\n  schema:\n    servers:\n    - name: id\n      type: Widget\n", true},
		{"syntax", "json", `{"logging": `, true},
	}

	for i, tc := range tests {
		_, err := ParseConfig([]byte(tc.raw), tc.format)
		if tc.wantErr && err == nil {
			t.Errorf("Test case (%d) %v: Expected error", i+1, tc.note)
		} else if !tc.wantErr && err != nil {
			t.Errorf("Test case (%d) %v: Unexpected error: %v", i+1, tc.note, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	c, err := ParseConfig(nil, "yaml")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := &Config{
		Logging:        Logging{Level: "info", Format: "json"},
		DefaultTheory:  "classification",
		ActionTheory:   "action",
		QueryCacheSize: 128,
	}
	if diff := cmp.Diff(expected, c); diff != "" {
		t.Fatalf("Unexpected config (-want, +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "congress.yaml")
	raw := `
logging:
  level: debug
default_theory: main
bundles:
- policies/
trace_patterns:
- "nova:*"
metrics:
  enabled: true
policies:
- name: nova
  kind: database
  schema:
    servers:
    - name: id
      type: Int
    - name: name
      nullable: true
- name: main
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Logging.Level != "debug" || c.DefaultTheory != "main" || !c.Metrics.Enabled {
		t.Fatalf("Unexpected config: %+v", c)
	}
	if diff := cmp.Diff([]string{"policies/"}, c.Bundles); diff != "" {
		t.Fatalf("Unexpected bundles (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"nova:*"}, c.TracePatterns); diff != "" {
		t.Fatalf("Unexpected trace patterns (-want, +got):\n%s", diff)
	}
	if len(c.Policies) != 2 || c.Policies[0].Kind != "database" || c.Policies[1].SchemaOf() != nil {
		t.Fatalf("Unexpected policies: %+v", c.Policies)
	}
	expected := []ast.Column{{Name: "id", Type: "Int"}, {Name: "name", Nullable: true}}
	if diff := cmp.Diff(expected, c.Policies[0].SchemaOf().Tables["servers"]); diff != "" {
		t.Fatalf("Unexpected schema (-want, +got):\n%s", diff)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("CONGRESS_DEFAULT_THEORY", "fromenv")
	t.Setenv("CONGRESS_LOGGING_LEVEL", "error")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.DefaultTheory != "fromenv" || c.Logging.Level != "error" {
		t.Fatalf("Expected environment overrides but got %+v", c)
	}
}
