// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package loader

import (
	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/theory"
)

// Apply loads the result into the runtime. Missing policies are created,
// schemas are set, the tables of data files are initialized and the policy
// files are inserted, in that order. Policies that already exist keep their
// kind.
func (l *Result) Apply(rt *runtime.Runtime) error {
	names := l.PolicyNames()
	datasources := map[string]struct{}{}
	for _, name := range names {
		if _, ok := rt.Theory(name); ok {
			continue
		}
		if schema, ok := l.Schemas[name]; ok && l.Kind(name) == theory.DatabaseKind {
			if err := rt.InitializeDatasource(name, schema); err != nil {
				return err
			}
			datasources[name] = struct{}{}
			continue
		}
		if _, err := rt.CreatePolicy(name, runtime.PolicyOptions{Kind: l.Kind(name)}); err != nil {
			return err
		}
	}
	for _, name := range names {
		if _, ok := datasources[name]; ok {
			continue
		}
		if schema, ok := l.Schemas[name]; ok {
			if err := rt.SetSchema(name, schema); err != nil {
				return err
			}
		}
	}
	for _, name := range names {
		facts, ok := l.Data[name]
		if !ok {
			continue
		}
		if err := rt.InitializeTables(tablesOf(facts), facts, name); err != nil {
			return err
		}
	}
	for _, name := range names {
		for _, f := range l.Files(name) {
			events := make([]*ast.Event, len(f.Parsed))
			for i := range f.Parsed {
				events[i] = ast.NewEvent(f.Parsed[i], true, name)
			}
			if _, err := rt.Update(events, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func tablesOf(facts []*ast.Literal) []string {
	seen := map[string]struct{}{}
	var result []string
	for _, f := range facts {
		if _, ok := seen[f.Table]; !ok {
			seen[f.Table] = struct{}{}
			result = append(result, f.Table)
		}
	}
	return result
}
